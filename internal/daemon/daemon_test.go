package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sceneflow/internal/generation"
	"sceneflow/internal/logging"
	"sceneflow/internal/services"
	"sceneflow/internal/testsupport"
	"sceneflow/internal/workflow"
)

type stubProvider struct{}

func (stubProvider) GenerateContent(ctx context.Context, req generation.ContentRequest) (string, error) {
	switch {
	case strings.Contains(req.SystemPrompt, "analyze songs"):
		return `{"summary": "quiet piano", "mood": "calm", "tempo": "slow", "duration_seconds": 8}`, nil
	case strings.Contains(req.SystemPrompt, "storyboard planner"):
		return `{
			"summary": "one quiet scene",
			"style": "watercolor",
			"scenes": [{"id": "scene-1", "title": "Dawn", "prompt": "fog over a lake", "duration_seconds": 8}],
			"characters": [],
			"locations": []
		}`, nil
	default:
		return `{"overall": "pass", "scores": [{"dimension": "visual", "rating": "pass", "weight": 1}]}`, nil
	}
}

func (stubProvider) GenerateImages(ctx context.Context, req generation.ImageRequest) ([]string, error) {
	return []string{"store://bucket/images/frame.png"}, nil
}

func (stubProvider) GenerateVideos(ctx context.Context, req generation.VideoRequest) (generation.VideoOperation, error) {
	return generation.VideoOperation{Name: "operations/op-1", Done: true, VideoURIs: []string{"store://bucket/videos/clip.mp4"}}, nil
}

func (stubProvider) GetVideosOperation(ctx context.Context, name string) (generation.VideoOperation, error) {
	return generation.VideoOperation{Name: name, Done: true, VideoURIs: []string{"store://bucket/videos/clip.mp4"}}, nil
}

func (stubProvider) CountTokens(ctx context.Context, prompt string) (int, error) { return 0, nil }

type stubRenderer struct{}

func (stubRenderer) StitchScenes(ctx context.Context, projectID string, videoURIs []string, audioURI string) (string, error) {
	if len(videoURIs) == 0 {
		return "", errors.New("no clips")
	}
	return "store://bucket/final/final.mp4", nil
}

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	d, err := New(cfg, logging.NewNop(), stubProvider{}, stubRenderer{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func writeAudio(t *testing.T, d *Daemon) string {
	t.Helper()
	path := filepath.Join(testsupport.BaseDir(d.cfg), "track.mp3")
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}

func TestStartProjectRunsInBackground(t *testing.T) {
	d := newTestDaemon(t)
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	err := d.StartProject(ctx, "proj-1", workflow.StartPayload{Title: "Dawn", AudioPath: writeAudio(t, d)})
	if err != nil {
		t.Fatalf("StartProject: %v", err)
	}
	d.Wait()

	status, err := d.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running {
		t.Error("daemon should report running")
	}
	if len(status.Projects) != 1 {
		t.Fatalf("projects = %d, want 1", len(status.Projects))
	}
	project := status.Projects[0]
	if project.Phase != "complete" {
		t.Errorf("phase = %q, want complete", project.Phase)
	}
	if project.Title != "Dawn" {
		t.Errorf("title = %q, want Dawn", project.Title)
	}
	if project.ScenesCompleted != 1 || project.ScenesTotal != 1 {
		t.Errorf("scene counts = %d/%d, want 1/1", project.ScenesCompleted, project.ScenesTotal)
	}
	if project.FinalVideoURI == "" {
		t.Error("final video URI missing from summary")
	}
}

func TestStartRequiresLock(t *testing.T) {
	d := newTestDaemon(t)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.Start(context.Background()); err == nil {
		t.Fatal("second Start must fail while running")
	}
	d.Stop()
	if d.Running() {
		t.Fatal("daemon still running after Stop")
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("restart after Stop: %v", err)
	}
}

func TestOperationsRejectedWhenStopped(t *testing.T) {
	d := newTestDaemon(t)
	err := d.StartProject(context.Background(), "proj-1", workflow.StartPayload{})
	if err == nil {
		t.Fatal("StartProject must fail before daemon start")
	}
}

func TestResumeUnknownProjectFailsSynchronously(t *testing.T) {
	d := newTestDaemon(t)
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := d.ResumeProject(ctx, "ghost")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestResolveWithoutInterventionRejected(t *testing.T) {
	d := newTestDaemon(t)
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.StartProject(ctx, "proj-1", workflow.StartPayload{AudioPath: writeAudio(t, d)}); err != nil {
		t.Fatalf("StartProject: %v", err)
	}
	d.Wait()

	err := d.ResolveIntervention(ctx, "proj-1", Resolution{Action: workflow.ActionRetry})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	err = d.ResolveIntervention(ctx, "proj-1", Resolution{Action: "reboot"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("unknown action err = %v, want validation error", err)
	}
}

func TestDescribeProjectAndJobs(t *testing.T) {
	d := newTestDaemon(t)
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.StartProject(ctx, "proj-1", workflow.StartPayload{AudioPath: writeAudio(t, d)}); err != nil {
		t.Fatalf("StartProject: %v", err)
	}
	d.Wait()

	detail, err := d.DescribeProject(ctx, "proj-1")
	if err != nil {
		t.Fatalf("DescribeProject: %v", err)
	}
	if detail.Version == 0 || detail.State == nil {
		t.Fatalf("detail = %+v, want checkpointed state", detail)
	}

	all, err := d.ListJobs(ctx, "proj-1", "")
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) == 0 {
		t.Fatal("no jobs recorded")
	}
	completed, err := d.ListJobs(ctx, "proj-1", "completed")
	if err != nil {
		t.Fatalf("ListJobs completed: %v", err)
	}
	if len(completed) != len(all) {
		t.Errorf("completed jobs = %d, want %d", len(completed), len(all))
	}
	if _, err := d.ListJobs(ctx, "proj-1", "sideways"); !errors.Is(err, services.ErrValidation) {
		t.Errorf("bad state filter err = %v, want validation error", err)
	}

	if _, err := d.DescribeProject(ctx, "ghost"); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("ghost describe err = %v, want not found", err)
	}
}

func TestEventsObservePipeline(t *testing.T) {
	d := newTestDaemon(t)
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.StartProject(ctx, "proj-1", workflow.StartPayload{AudioPath: writeAudio(t, d)}); err != nil {
		t.Fatalf("StartProject: %v", err)
	}
	d.Wait()

	batch, next, err := d.Events(ctx, 0, 0, false)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(batch) == 0 || next == 0 {
		t.Fatalf("events = %d next = %d, want a populated stream", len(batch), next)
	}
	var sawCompleted bool
	for _, evt := range batch {
		if string(evt.Type) == "WORKFLOW_COMPLETED" {
			sawCompleted = true
		}
	}
	if !sawCompleted {
		t.Error("WORKFLOW_COMPLETED missing from event stream")
	}
}
