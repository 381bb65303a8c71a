package generation

import "context"

// ContentRequest asks the model for a text or JSON completion.
type ContentRequest struct {
	SystemPrompt string
	Prompt       string
	JSONOutput   bool
}

// ImageRequest asks the model for one or more still images.
type ImageRequest struct {
	Prompt          string
	ReferenceImages []string
	Count           int
}

// VideoRequest starts a long-running video generation call. ImageURI, when
// set, anchors the clip to a previously generated keyframe.
type VideoRequest struct {
	Prompt          string
	ImageURI        string
	DurationSeconds float64
}

// VideoOperation is the observable state of a long-running video call.
// Callers poll GetVideosOperation until Done; ErrorMessage is set when the
// operation finished unsuccessfully.
type VideoOperation struct {
	Name         string
	Done         bool
	VideoURIs    []string
	ErrorMessage string
}

// Provider is the generation backend the pipeline nodes call. All methods may
// fail with provider-specific errors that the retry loop treats opaquely.
type Provider interface {
	GenerateContent(ctx context.Context, req ContentRequest) (string, error)
	GenerateImages(ctx context.Context, req ImageRequest) ([]string, error)
	GenerateVideos(ctx context.Context, req VideoRequest) (VideoOperation, error)
	GetVideosOperation(ctx context.Context, name string) (VideoOperation, error)
	CountTokens(ctx context.Context, prompt string) (int, error)
}
