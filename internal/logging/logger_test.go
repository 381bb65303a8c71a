package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"sceneflow/internal/logging"
	"sceneflow/internal/services"
)

func TestNewJSONWritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")
	logger, err := logging.New(logging.Options{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{path},
		ErrorOutputPaths: []string{path},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Info("pipeline event", logging.String("project_id", "p1"))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(strings.SplitN(string(data), "\n", 2)[0]), &record); err != nil {
		t.Fatalf("parse log line: %v", err)
	}
	if record["msg"] != "pipeline event" {
		t.Fatalf("unexpected message: %v", record["msg"])
	}
	if record["project_id"] != "p1" {
		t.Fatalf("missing project_id attr: %v", record)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "yaml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestWithContextCarriesCorrelation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")
	logger, err := logging.New(logging.Options{Format: "json", OutputPaths: []string{path}, ErrorOutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx := services.WithProjectID(context.Background(), "proj-7")
	ctx = services.WithNode(ctx, "scene_generation")
	ctx = services.WithJobID(ctx, "proj-7-scene_generation-s1")
	logging.WithContext(ctx, logger).Info("working")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	for _, want := range []string{"proj-7", "scene_generation", "proj-7-scene_generation-s1"} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line missing %q: %s", want, line)
		}
	}
}

func TestConcurrentContextLoggingKeepsIDsStraight(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")
	logger, err := logging.New(logging.Options{Format: "json", OutputPaths: []string{path}, ErrorOutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	projects := []string{"alpha", "beta", "gamma", "delta"}
	var wg sync.WaitGroup
	for _, id := range projects {
		wg.Add(1)
		go func(projectID string) {
			defer wg.Done()
			ctx := services.WithProjectID(context.Background(), projectID)
			for i := 0; i < 25; i++ {
				logging.WithContext(ctx, logger).Info("tick", logging.String("marker", projectID))
			}
		}(id)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("parse line %q: %v", line, err)
		}
		if record["project_id"] != record["marker"] {
			t.Fatalf("correlation mismatch: %v", record)
		}
	}
}
