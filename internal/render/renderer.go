package render

import "context"

// Renderer assembles accepted scene clips into the final deliverable.
type Renderer interface {
	// StitchScenes concatenates the scene videos in order, muxing the audio
	// track underneath when one is given, and returns the URI of the
	// uploaded final video.
	StitchScenes(ctx context.Context, projectID string, videoURIs []string, audioURI string) (string, error)
}
