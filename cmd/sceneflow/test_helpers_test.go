package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sceneflow/internal/config"
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
		return `{"summary": "quiet piano", "mood": "calm", "tempo": "slow", "duration_seconds": 5}`, nil
	case strings.Contains(req.SystemPrompt, "storyboard planner"):
		return `{
			"summary": "single scene",
			"style": "watercolor",
			"scenes": [{"id": "scene-1", "title": "Harbor", "prompt": "boats at dawn", "duration_seconds": 5}],
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

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	socketPath string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)

	configPath := filepath.Join(filepath.Dir(cfg.Paths.DataDir), "config.toml")
	writeTestConfig(t, configPath, cfg)

	logger := logging.NewNop()
	d, err := daemon.New(cfg, logger, stubProvider{}, stubRenderer{})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}

	srv, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		_ = d.Close()
	})

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		socketPath: cfg.Paths.SocketPath,
		configPath: configPath,
	}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", env.socketPath, "--config", env.configPath}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
data_dir = %q
log_dir = %q
media_dir = %q
socket_path = %q

[provider]
api_key = %q

[object_store]
bucket = %q
`, cfg.Paths.DataDir, cfg.Paths.LogDir, cfg.Paths.MediaDir, cfg.Paths.SocketPath,
		cfg.Provider.APIKey, cfg.ObjectStore.Bucket)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write test config: %v", err)
	}
}

func writeAudio(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "track.mp3")
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}

func requireContains(t *testing.T, output, want string) {
	t.Helper()
	if !strings.Contains(output, want) {
		t.Fatalf("expected output to contain %q, got:\n%s", want, output)
	}
}
