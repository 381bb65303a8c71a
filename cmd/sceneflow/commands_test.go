package main

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestPipelineCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	audio := writeAudio(t, filepath.Dir(env.cfg.Paths.DataDir))

	out, err := runCLI(t, env, "start", "proj-1", "--title", "Harbor Dawn", "--audio", audio)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	requireContains(t, out, "Pipeline started for proj-1")

	env.daemon.Wait()

	out, err = runCLI(t, env, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "[OK] yes")
	requireContains(t, out, "proj-1")
	requireContains(t, out, "Complete")

	out, err = runCLI(t, env, "project", "list")
	if err != nil {
		t.Fatalf("project list: %v", err)
	}
	requireContains(t, out, "Harbor Dawn")
	requireContains(t, out, "1/1")

	out, err = runCLI(t, env, "project", "show", "proj-1")
	if err != nil {
		t.Fatalf("project show: %v", err)
	}
	requireContains(t, out, "Final video")
	requireContains(t, out, "1/1 completed")
	requireContains(t, out, "scene-1")

	out, err = runCLI(t, env, "jobs", "proj-1", "--state", "completed")
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	requireContains(t, out, "completed")
	if strings.Contains(out, "No jobs") {
		t.Fatalf("expected completed jobs, got:\n%s", out)
	}

	out, err = runCLI(t, env, "events")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	requireContains(t, out, "WORKFLOW_COMPLETED")
}

func TestResolveWithoutPendingInterventionFails(t *testing.T) {
	env := setupCLITestEnv(t)
	audio := writeAudio(t, filepath.Dir(env.cfg.Paths.DataDir))

	if _, err := runCLI(t, env, "start", "proj-1", "--audio", audio); err != nil {
		t.Fatalf("start: %v", err)
	}
	env.daemon.Wait()

	if _, err := runCLI(t, env, "resolve", "proj-1", "retry"); err == nil {
		t.Fatal("expected resolve to fail without a pending intervention")
	}
}

func TestShowUnknownProjectFails(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, err := runCLI(t, env, "project", "show", "ghost"); err == nil {
		t.Fatal("expected error for unknown project")
	}
}

func TestResolveRejectsMalformedParams(t *testing.T) {
	env := setupCLITestEnv(t)

	_, err := runCLI(t, env, "resolve", "proj-1", "retry-with-revised-params", "--param", "missing-equals")
	if err == nil || !strings.Contains(err.Error(), "expected key=value") {
		t.Fatalf("expected param parse error, got %v", err)
	}
}

func TestSetAssetRejectsBadVersion(t *testing.T) {
	env := setupCLITestEnv(t)

	_, err := runCLI(t, env, "set-asset", "proj-1", "scene-1", "scene_video", "two")
	if err == nil || !strings.Contains(err.Error(), "parse version") {
		t.Fatalf("expected version parse error, got %v", err)
	}
}
