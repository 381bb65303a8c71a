package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sceneflow/internal/assets"
	"sceneflow/internal/catalog"
	"sceneflow/internal/checkpoint"
	"sceneflow/internal/events"
	"sceneflow/internal/generation"
	"sceneflow/internal/jobs"
	"sceneflow/internal/logging"
	"sceneflow/internal/objectstore"
	"sceneflow/internal/quality"
	"sceneflow/internal/services"
	"sceneflow/internal/trend"
)

// Asset keys used across the pipeline.
const (
	assetKeyAudioAnalysis  = "audio_analysis"
	assetKeyStoryboard     = "storyboard"
	assetKeyCharacterImage = "character_image"
	assetKeyLocationImage  = "location_image"
	assetKeySceneFrame     = "scene_frame"
	assetKeySceneVideo     = "scene_video"
	assetKeyFinalVideo     = "final_video"
)

// audioAnalysis is the model's structured read of the audio track.
type audioAnalysis struct {
	Summary         string  `json:"summary"`
	Mood            string  `json:"mood"`
	Tempo           string  `json:"tempo"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// analyzeAudio uploads the source audio, resolves its public URI, and asks
// the model for a structured analysis that seeds story planning.
func (o *Operator) analyzeAudio(ctx context.Context, projectID string, state *checkpoint.State) error {
	if strings.TrimSpace(state.AudioPath) == "" {
		return services.Wrap(services.ErrValidation, nodeAnalyzeAudio, "analyze", "project has no audio track", nil)
	}

	audioURI := state.AudioPath
	if _, err := os.Stat(state.AudioPath); err == nil {
		uploaded, uploadErr := o.store.UploadFile(ctx, state.AudioPath, objectstore.Descriptor{
			ProjectID: projectID,
			Kind:      objectstore.KindAudio,
			Filename:  filepath.Base(state.AudioPath),
		})
		if uploadErr != nil {
			return services.Wrap(services.ErrTransient, nodeAnalyzeAudio, "upload", "failed to upload audio", uploadErr)
		}
		audioURI = uploaded
	}
	publicURL := o.store.PublicURL(audioURI)

	raw, err := o.provider.GenerateContent(ctx, generation.ContentRequest{
		SystemPrompt: "You analyze songs for video storyboarding. Respond with JSON: summary, mood, tempo, duration_seconds.",
		Prompt:       fmt.Sprintf("Analyze the audio track at %s.", publicURL),
		JSONOutput:   true,
	})
	if err != nil {
		return services.Wrap(services.ErrTransient, nodeAnalyzeAudio, "generate", "audio analysis failed", err)
	}
	var analysis audioAnalysis
	if err := generation.DecodeModelJSON(raw, &analysis); err != nil {
		return services.Wrap(services.ErrTransient, nodeAnalyzeAudio, "decode", "audio analysis unparseable", err)
	}

	if _, err := o.manager.CreateVersions(ctx, assets.Scope{ProjectID: projectID}, assetKeyAudioAnalysis, assets.TypeJSON, []assets.VersionInput{
		{Data: raw, SetBest: true, Metadata: assets.Metadata{JobID: jobIDFromContext(ctx)}},
	}); err != nil {
		return err
	}

	return o.transition(ctx, projectID, func(state *checkpoint.State) error {
		state.AudioPublicURL = publicURL
		state.Phase = checkpoint.PhaseAnalyzing
		return nil
	})
}

// storyPlan is the JSON shape the planning prompt asks the model for.
type storyPlan struct {
	Summary string `json:"summary"`
	Style   string `json:"style"`
	Scenes  []struct {
		ID              string   `json:"id"`
		Title           string   `json:"title"`
		Prompt          string   `json:"prompt"`
		DurationSeconds float64  `json:"duration_seconds"`
		CharacterIDs    []string `json:"character_ids"`
		LocationIDs     []string `json:"location_ids"`
	} `json:"scenes"`
	Characters []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"characters"`
	Locations []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"locations"`
}

// planStory turns the audio analysis into a storyboard: scenes, characters,
// and locations, persisted both as catalog entities and as the checkpoint's
// storyboard snapshot.
func (o *Operator) planStory(ctx context.Context, projectID string, state *checkpoint.State) error {
	analysisPrompt := "Plan a music video storyboard."
	registry, err := o.catalog.GetRegistry(ctx, assets.EntityRef{Kind: assets.KindProject, ID: projectID})
	if err != nil {
		return err
	}
	if best, ok := o.manager.Best(registry, assetKeyAudioAnalysis); ok {
		analysisPrompt = fmt.Sprintf("Plan a music video storyboard for this audio analysis: %s", best.Data)
	}

	raw, err := o.provider.GenerateContent(ctx, generation.ContentRequest{
		SystemPrompt: "You are a storyboard planner. Respond with JSON: summary, style, scenes (id, title, prompt, duration_seconds, character_ids, location_ids), characters (id, name, description), locations (id, name, description).",
		Prompt:       analysisPrompt,
		JSONOutput:   true,
	})
	if err != nil {
		return services.Wrap(services.ErrTransient, nodePlanStory, "generate", "story planning failed", err)
	}
	var plan storyPlan
	if err := generation.DecodeModelJSON(raw, &plan); err != nil {
		return services.Wrap(services.ErrTransient, nodePlanStory, "decode", "story plan unparseable", err)
	}
	if len(plan.Scenes) == 0 {
		return services.Wrap(services.ErrTransient, nodePlanStory, "validate", "story plan has no scenes", nil)
	}

	for _, c := range plan.Characters {
		if err := o.catalog.UpsertCharacter(ctx, &catalog.Character{
			ID: c.ID, ProjectID: projectID, Name: c.Name, Description: c.Description,
			Assets: assets.NewRegistry(),
		}); err != nil {
			return err
		}
	}
	for _, l := range plan.Locations {
		if err := o.catalog.UpsertLocation(ctx, &catalog.Location{
			ID: l.ID, ProjectID: projectID, Name: l.Name, Description: l.Description,
			Assets: assets.NewRegistry(),
		}); err != nil {
			return err
		}
	}

	board := &checkpoint.Storyboard{Summary: plan.Summary, Style: plan.Style}
	for i, s := range plan.Scenes {
		if err := o.catalog.UpsertScene(ctx, &catalog.Scene{
			ID: s.ID, ProjectID: projectID, Index: i,
			Title: s.Title, Prompt: s.Prompt, DurationSeconds: s.DurationSeconds,
			CharacterIDs: s.CharacterIDs, LocationIDs: s.LocationIDs,
			Assets: assets.NewRegistry(),
		}); err != nil {
			return err
		}
		board.Scenes = append(board.Scenes, checkpoint.SceneSnapshot{
			ID: s.ID, Index: i, Title: s.Title, Prompt: s.Prompt,
			DurationSeconds: s.DurationSeconds,
			CharacterIDs:    s.CharacterIDs, LocationIDs: s.LocationIDs,
			Status: scenePending,
		})
	}

	if _, err := o.manager.CreateVersions(ctx, assets.Scope{ProjectID: projectID}, assetKeyStoryboard, assets.TypeJSON, []assets.VersionInput{
		{Data: raw, SetBest: true, Metadata: assets.Metadata{JobID: jobIDFromContext(ctx)}},
	}); err != nil {
		return err
	}

	return o.transition(ctx, projectID, func(state *checkpoint.State) error {
		state.Storyboard = board
		state.Phase = checkpoint.PhaseGenerating
		return nil
	})
}

// generateCharacters produces a reference image per character. Each pending
// character dispatches as its own job through the fan-out, so siblings run
// concurrently under the ceiling and one character's failure never undoes
// another's image.
func (o *Operator) generateCharacters(ctx context.Context, projectID string, state *checkpoint.State) error {
	characters, err := o.catalog.ListCharacters(ctx, projectID)
	if err != nil {
		return err
	}
	run := state.RunOf(nodeGenerateCharacters)
	items := make([]fanoutItem, 0, len(characters))
	for _, character := range characters {
		if _, ok := o.manager.Best(character.Assets, assetKeyCharacterImage); ok {
			continue
		}
		items = append(items, fanoutItem{
			id:  character.ID,
			key: fanoutKey(character.ID, run),
			run: func(ctx context.Context) error {
				images, genErr := o.provider.GenerateImages(ctx, generation.ImageRequest{
					Prompt: fmt.Sprintf("Character reference: %s. %s", character.Name, character.Description),
					Count:  1,
				})
				if genErr != nil {
					return genErr
				}
				if len(images) == 0 {
					return errors.New("provider returned no image")
				}
				_, err := o.manager.CreateVersions(ctx, assets.Scope{CharacterIDs: []string{character.ID}}, assetKeyCharacterImage, assets.TypeImage, []assets.VersionInput{
					{Data: images[0], SetBest: true, Metadata: assets.Metadata{Prompt: character.Description, JobID: jobIDFromContext(ctx)}},
				})
				return err
			},
		})
	}
	failures := o.runFanout(ctx, projectID, nodeGenerateCharacters, jobs.TypeCharacterImage, items)
	if len(failures) > 0 {
		return &InterventionError{
			Node:   nodeGenerateCharacters,
			Params: map[string]any{"failed": failures},
			Err:    fmt.Errorf("%d of %d character images failed", len(failures), len(characters)),
		}
	}
	return nil
}

// generateLocations mirrors generateCharacters for locations.
func (o *Operator) generateLocations(ctx context.Context, projectID string, state *checkpoint.State) error {
	locations, err := o.catalog.ListLocations(ctx, projectID)
	if err != nil {
		return err
	}
	run := state.RunOf(nodeGenerateLocations)
	items := make([]fanoutItem, 0, len(locations))
	for _, location := range locations {
		if _, ok := o.manager.Best(location.Assets, assetKeyLocationImage); ok {
			continue
		}
		items = append(items, fanoutItem{
			id:  location.ID,
			key: fanoutKey(location.ID, run),
			run: func(ctx context.Context) error {
				images, genErr := o.provider.GenerateImages(ctx, generation.ImageRequest{
					Prompt: fmt.Sprintf("Location reference: %s. %s", location.Name, location.Description),
					Count:  1,
				})
				if genErr != nil {
					return genErr
				}
				if len(images) == 0 {
					return errors.New("provider returned no image")
				}
				_, err := o.manager.CreateVersions(ctx, assets.Scope{LocationIDs: []string{location.ID}}, assetKeyLocationImage, assets.TypeImage, []assets.VersionInput{
					{Data: images[0], SetBest: true, Metadata: assets.Metadata{Prompt: location.Description, JobID: jobIDFromContext(ctx)}},
				})
				return err
			},
		})
	}
	failures := o.runFanout(ctx, projectID, nodeGenerateLocations, jobs.TypeLocationImage, items)
	if len(failures) > 0 {
		return &InterventionError{
			Node:   nodeGenerateLocations,
			Params: map[string]any{"failed": failures},
			Err:    fmt.Errorf("%d of %d location images failed", len(failures), len(locations)),
		}
	}
	return nil
}

// sceneOutput is the artifact pair one quality attempt produces.
type sceneOutput struct {
	FrameURI string
	VideoURI string
}

// generateScenes runs each pending scene through the quality-gated loop:
// keyframe, video, model evaluation, and acceptance against the threshold,
// with prompt corrections feeding later attempts.
func (o *Operator) generateScenes(ctx context.Context, projectID string, state *checkpoint.State) error {
	if state.Storyboard == nil || len(state.Storyboard.Scenes) == 0 {
		return services.Wrap(services.ErrValidation, nodeGenerateScenes, "validate", "no storyboard to generate from", nil)
	}

	for _, snapshot := range state.Storyboard.Scenes {
		if snapshot.Status == sceneCompleted && snapshot.VideoURI != "" {
			continue
		}
		sceneID := snapshot.ID
		sceneCtx := services.WithSceneID(ctx, sceneID)

		if err := o.transition(sceneCtx, projectID, func(state *checkpoint.State) error {
			scene := state.Storyboard.Scene(sceneID)
			if scene == nil {
				return fmt.Errorf("scene %s: %w", sceneID, services.ErrNotFound)
			}
			scene.Status = sceneRunning
			return nil
		}); err != nil {
			return err
		}
		o.publisher.Publish(sceneCtx, events.Event{
			Type:      events.TypeSceneStarted,
			ProjectID: projectID,
			SceneID:   sceneID,
			Message:   fmt.Sprintf("generating scene %s", sceneID),
		})

		prompt := snapshot.Prompt
		if override, ok := state.PromptOverrides[sceneID]; ok && override != "" {
			prompt = prompt + "\n" + override
		}

		outcome, err := o.runSceneLoop(sceneCtx, projectID, sceneID, snapshot.DurationSeconds, prompt)
		if err != nil {
			var exhausted *quality.ExhaustedError
			if errors.As(err, &exhausted) {
				return &InterventionError{
					Node:   nodeGenerateScenes,
					Params: map[string]any{"scene_id": sceneID, "prompt": prompt},
					Err:    err,
				}
			}
			return err
		}

		if _, err := o.manager.CreateVersions(sceneCtx, assets.Scope{SceneID: sceneID}, assetKeySceneVideo, assets.TypeVideo, []assets.VersionInput{
			{
				Data:    outcome.Output.VideoURI,
				SetBest: true,
				Metadata: assets.Metadata{
					Prompt:     prompt,
					JobID:      jobIDFromContext(sceneCtx),
					Evaluation: &outcome.Evaluation,
				},
			},
		}); err != nil {
			return err
		}
		if outcome.Output.FrameURI != "" {
			if _, err := o.manager.CreateVersions(sceneCtx, assets.Scope{SceneID: sceneID}, assetKeySceneFrame, assets.TypeImage, []assets.VersionInput{
				{Data: outcome.Output.FrameURI, SetBest: true, Metadata: assets.Metadata{Prompt: prompt}},
			}); err != nil {
				return err
			}
		}

		if err := o.transition(sceneCtx, projectID, func(state *checkpoint.State) error {
			scene := state.Storyboard.Scene(sceneID)
			if scene == nil {
				return fmt.Errorf("scene %s: %w", sceneID, services.ErrNotFound)
			}
			scene.Status = sceneCompleted
			scene.VideoURI = outcome.Output.VideoURI
			scene.FrameURI = outcome.Output.FrameURI
			scene.Score = outcome.Score
			scene.Attempts = outcome.Attempt
			scene.Warning = outcome.Warning
			state.RecordSceneScore(sceneID, outcome.Score)
			return nil
		}); err != nil {
			return err
		}

		o.publisher.Publish(sceneCtx, events.Event{
			Type:      events.TypeSceneCompleted,
			ProjectID: projectID,
			SceneID:   sceneID,
			Message:   fmt.Sprintf("scene %s accepted at score %.2f (attempt %d)", sceneID, outcome.Score, outcome.Attempt),
			Payload: map[string]any{
				"score":   outcome.Score,
				"attempt": outcome.Attempt,
				"warning": outcome.Warning,
			},
		})
	}
	return nil
}

func (o *Operator) runSceneLoop(ctx context.Context, projectID, sceneID string, duration float64, prompt string) (quality.Outcome[sceneOutput], error) {
	handler := &quality.Handler[sceneOutput]{
		Generate: func(ctx context.Context, prompt string, attempt int) (sceneOutput, error) {
			return o.generateSceneAttempt(ctx, projectID, sceneID, duration, prompt, attempt)
		},
		Evaluate: func(ctx context.Context, output sceneOutput, attempt int) (quality.Evaluation, error) {
			eval, err := o.evaluateScene(ctx, sceneID, output)
			if err != nil {
				return eval, err
			}
			o.publisher.Publish(ctx, events.Event{
				Type:      events.TypeSceneUpdate,
				ProjectID: projectID,
				SceneID:   sceneID,
				Message:   fmt.Sprintf("scene %s attempt %d scored %.2f", sceneID, attempt, quality.Score(eval)),
				Payload:   map[string]any{"attempt": attempt, "score": quality.Score(eval)},
			})
			return eval, nil
		},
		ApplyCorrections: func(prompt string, eval quality.Evaluation, attempt int) string {
			return quality.ApplyCorrections(prompt, eval)
		},
		AcceptanceThreshold: o.acceptanceThreshold,
		MaxAttempts:         o.maxRetries,
		Backoff:             o.retryBackoff,
		Sleep:               o.sleep,
		Logger:              o.logger,
	}
	return handler.Run(ctx, sceneID, prompt)
}

func (o *Operator) generateSceneAttempt(ctx context.Context, projectID, sceneID string, duration float64, prompt string, attempt int) (sceneOutput, error) {
	var out sceneOutput
	images, err := o.provider.GenerateImages(ctx, generation.ImageRequest{Prompt: prompt, Count: 1})
	if err != nil {
		return out, fmt.Errorf("scene %s keyframe: %w", sceneID, err)
	}
	if len(images) == 0 {
		return out, fmt.Errorf("scene %s keyframe: provider returned no image", sceneID)
	}
	out.FrameURI = images[0]

	op, err := o.provider.GenerateVideos(ctx, generation.VideoRequest{
		Prompt:          prompt,
		ImageURI:        out.FrameURI,
		DurationSeconds: duration,
	})
	if err != nil {
		return out, fmt.Errorf("scene %s video: %w", sceneID, err)
	}
	for !op.Done {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		o.sleep(o.pollInterval)
		op, err = o.provider.GetVideosOperation(ctx, op.Name)
		if err != nil {
			return out, fmt.Errorf("scene %s video poll: %w", sceneID, err)
		}
	}
	if op.ErrorMessage != "" {
		return out, fmt.Errorf("scene %s video: %s", sceneID, op.ErrorMessage)
	}
	if len(op.VideoURIs) == 0 {
		return out, fmt.Errorf("scene %s video: operation finished with no output", sceneID)
	}
	out.VideoURI = op.VideoURIs[0]
	return out, nil
}

func (o *Operator) evaluateScene(ctx context.Context, sceneID string, output sceneOutput) (quality.Evaluation, error) {
	var eval quality.Evaluation
	raw, err := o.provider.GenerateContent(ctx, generation.ContentRequest{
		SystemPrompt: "You judge generated scene videos. Respond with JSON: overall, scores (dimension, rating pass|minor_issues|major_issues|fail, weight), issues (department, category, severity, description, suggested_fix), feedback, prompt_corrections (original_section, corrected_section, reasoning).",
		Prompt:       fmt.Sprintf("Evaluate the video at %s for scene %s.", output.VideoURI, sceneID),
		JSONOutput:   true,
	})
	if err != nil {
		return eval, fmt.Errorf("scene %s evaluation: %w", sceneID, err)
	}
	if err := generation.DecodeModelJSON(raw, &eval); err != nil {
		return eval, fmt.Errorf("scene %s evaluation decode: %w", sceneID, err)
	}
	return eval, nil
}

// evaluateProgress closes the generation phase: it records a completion
// estimate from the observed score trend and surfaces low-quality scenes.
func (o *Operator) evaluateProgress(ctx context.Context, projectID string, state *checkpoint.State) error {
	if state.Storyboard == nil {
		return services.Wrap(services.ErrValidation, nodeEvaluate, "validate", "no storyboard to evaluate", nil)
	}

	var (
		scores  []float64
		flagged []string
	)
	for _, scene := range state.Storyboard.Scenes {
		scores = append(scores, scene.Score)
		if scene.Warning {
			flagged = append(flagged, scene.ID)
		}
	}
	estimate := trend.PredictRemainingAttempts(scores, len(flagged))

	if err := o.transition(ctx, projectID, func(state *checkpoint.State) error {
		state.Phase = checkpoint.PhaseEvaluating
		return nil
	}); err != nil {
		return err
	}

	o.publisher.Publish(ctx, events.Event{
		Type:      events.TypeLog,
		ProjectID: projectID,
		Message:   fmt.Sprintf("evaluation complete: %d scenes, %d flagged, est. %d attempts to polish", len(scores), len(flagged), estimate),
		Payload: map[string]any{
			"flagged_scenes":     flagged,
			"estimated_attempts": estimate,
		},
	})
	return nil
}

// assemble stitches the best scene videos into the final deliverable.
func (o *Operator) assemble(ctx context.Context, projectID string, state *checkpoint.State) error {
	if state.Storyboard == nil {
		return services.Wrap(services.ErrValidation, nodeAssemble, "validate", "no storyboard to assemble", nil)
	}

	var videoURIs []string
	for _, scene := range state.Storyboard.Scenes {
		registry, err := o.catalog.GetRegistry(ctx, assets.EntityRef{Kind: assets.KindScene, ID: scene.ID})
		if err != nil {
			return err
		}
		best, ok := o.manager.Best(registry, assetKeySceneVideo)
		if !ok {
			if scene.Status == sceneCompleted || scene.VideoURI != "" {
				return fmt.Errorf("scene %s: best video missing from registry: %w", scene.ID, services.ErrNotFound)
			}
			// Skipped scene: it has no output by operator decision.
			o.logger.WarnContext(ctx, "assembling without scene",
				logging.String(logging.FieldSceneID, scene.ID),
			)
			continue
		}
		videoURIs = append(videoURIs, best.Data)
	}
	if len(videoURIs) == 0 {
		return services.Wrap(services.ErrValidation, nodeAssemble, "validate", "no scene videos to stitch", nil)
	}

	finalURI, err := o.renderer.StitchScenes(ctx, projectID, videoURIs, state.AudioPublicURL)
	if err != nil {
		return services.Wrap(services.ErrTransient, nodeAssemble, "stitch", "final assembly failed", err)
	}

	if _, err := o.manager.CreateVersions(ctx, assets.Scope{ProjectID: projectID}, assetKeyFinalVideo, assets.TypeVideo, []assets.VersionInput{
		{Data: finalURI, SetBest: true, Metadata: assets.Metadata{JobID: jobIDFromContext(ctx)}},
	}); err != nil {
		return err
	}

	if err := o.transition(ctx, projectID, func(state *checkpoint.State) error {
		state.FinalVideoURI = finalURI
		state.Phase = checkpoint.PhaseComplete
		return nil
	}); err != nil {
		return err
	}

	o.publisher.Publish(ctx, events.Event{
		Type:      events.TypeWorkflowCompleted,
		ProjectID: projectID,
		Message:   "final video assembled",
		Payload:   map[string]any{"final_video_uri": finalURI},
	})
	return nil
}

func jobIDFromContext(ctx context.Context) string {
	id, _ := services.JobIDFromContext(ctx)
	return id
}
