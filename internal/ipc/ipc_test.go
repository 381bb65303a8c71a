package ipc_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sceneflow/internal/daemon"
	"sceneflow/internal/generation"
	"sceneflow/internal/ipc"
	"sceneflow/internal/logging"
	"sceneflow/internal/testsupport"
)

type stubProvider struct{}

func (stubProvider) GenerateContent(ctx context.Context, req generation.ContentRequest) (string, error) {
	switch {
	case strings.Contains(req.SystemPrompt, "analyze songs"):
		return `{"summary": "slow waltz", "mood": "wistful", "tempo": "slow", "duration_seconds": 6}`, nil
	case strings.Contains(req.SystemPrompt, "storyboard planner"):
		return `{
			"summary": "single scene",
			"style": "ink wash",
			"scenes": [{"id": "scene-1", "title": "Bridge", "prompt": "a stone bridge at night", "duration_seconds": 6}],
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

func TestIPCServerClient(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	logger := logging.NewNop()

	d, err := daemon.New(cfg, logger, stubProvider{}, stubRenderer{})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}

	socket := cfg.Paths.SocketPath
	srv, err := ipc.NewServer(ctx, socket, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() { srv.Close() })

	time.Sleep(50 * time.Millisecond)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	audioPath := filepath.Join(testsupport.BaseDir(cfg), "track.mp3")
	if err := os.WriteFile(audioPath, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	startResp, err := client.ProjectStart(ipc.ProjectStartRequest{
		ProjectID: "proj-1",
		Title:     "Bridge at Night",
		AudioPath: audioPath,
	})
	if err != nil {
		t.Fatalf("ProjectStart RPC failed: %v", err)
	}
	if !startResp.Accepted {
		t.Fatalf("expected Accepted=true, message=%s", startResp.Message)
	}
	d.Wait()

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Status.Running {
		t.Fatal("expected daemon to be running")
	}
	if len(status.Status.Projects) != 1 || status.Status.Projects[0].Phase != "complete" {
		t.Fatalf("unexpected project status: %+v", status.Status.Projects)
	}

	list, err := client.ProjectList()
	if err != nil {
		t.Fatalf("ProjectList RPC failed: %v", err)
	}
	if len(list.Projects) != 1 || list.Projects[0].Title != "Bridge at Night" {
		t.Fatalf("unexpected project list: %+v", list.Projects)
	}

	detail, err := client.ProjectDescribe("proj-1")
	if err != nil {
		t.Fatalf("ProjectDescribe RPC failed: %v", err)
	}
	if detail.Detail.State == nil || detail.Detail.State.FinalVideoURI == "" {
		t.Fatalf("unexpected project detail: %+v", detail.Detail)
	}

	jobList, err := client.JobList("proj-1", "completed")
	if err != nil {
		t.Fatalf("JobList RPC failed: %v", err)
	}
	if len(jobList.Jobs) == 0 {
		t.Fatal("expected completed jobs")
	}
	for _, job := range jobList.Jobs {
		if job.State != "completed" {
			t.Errorf("job %s state = %s, want completed", job.ID, job.State)
		}
	}

	intervention, err := client.Intervention("proj-1")
	if err != nil {
		t.Fatalf("Intervention RPC failed: %v", err)
	}
	if intervention.Pending {
		t.Fatalf("unexpected pending intervention: %+v", intervention)
	}

	if _, err := client.Resolve(ipc.ResolveRequest{ProjectID: "proj-1", Action: "retry"}); err == nil {
		t.Fatal("Resolve without pending intervention must fail")
	}

	evts, err := client.Events(ipc.EventsRequest{Since: 0})
	if err != nil {
		t.Fatalf("Events RPC failed: %v", err)
	}
	if len(evts.Events) == 0 || evts.Next == 0 {
		t.Fatalf("expected buffered events, got %d", len(evts.Events))
	}
	var sawCompleted bool
	for _, evt := range evts.Events {
		if string(evt.Type) == "WORKFLOW_COMPLETED" {
			sawCompleted = true
		}
	}
	if !sawCompleted {
		t.Error("WORKFLOW_COMPLETED missing from event stream")
	}

	if _, err := client.ProjectDescribe("ghost"); err == nil {
		t.Fatal("ProjectDescribe for unknown project must fail")
	}
}
