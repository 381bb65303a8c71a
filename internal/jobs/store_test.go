package jobs_test

import (
	"context"
	"errors"
	"testing"

	"sceneflow/internal/jobs"
	"sceneflow/internal/services"
	"sceneflow/internal/testsupport"
)

func TestStoreInsertAndGet(t *testing.T) {
	store := testsupport.MustOpenJobStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	job := &jobs.Job{
		ID:          "proj-1-analyze_audio",
		Type:        jobs.TypeAudioAnalysis,
		ProjectID:   "proj-1",
		State:       jobs.StateCreated,
		PayloadJSON: `{"audio":"track.mp3"}`,
		MaxRetries:  3,
	}
	if err := store.Insert(ctx, job); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("expected job, got nil")
	}
	if got.Type != jobs.TypeAudioAnalysis || got.PayloadJSON != job.PayloadJSON {
		t.Fatalf("unexpected job round-trip: %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be set")
	}
}

func TestStoreGetMissingReturnsNil(t *testing.T) {
	store := testsupport.MustOpenJobStore(t, testsupport.NewConfig(t))

	got, err := store.Get(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil job, got %+v", got)
	}
}

func TestStoreUpdateMissingJob(t *testing.T) {
	store := testsupport.MustOpenJobStore(t, testsupport.NewConfig(t))

	err := store.Update(context.Background(), &jobs.Job{ID: "ghost", State: jobs.StateRunning})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreCountActive(t *testing.T) {
	store := testsupport.MustOpenJobStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	seed := []struct {
		id    string
		state jobs.State
	}{
		{"proj-1-a", jobs.StateCreated},
		{"proj-1-b", jobs.StateDispatched},
		{"proj-1-c", jobs.StateRunning},
		{"proj-1-d", jobs.StateCompleted},
		{"proj-2-a", jobs.StateRunning},
	}
	for _, row := range seed {
		projectID := row.id[:6]
		job := &jobs.Job{ID: row.id, Type: jobs.TypeSceneVideo, ProjectID: projectID, State: row.state}
		if err := store.Insert(ctx, job); err != nil {
			t.Fatalf("Insert %s: %v", row.id, err)
		}
	}

	count, err := store.CountActive(ctx, "proj-1")
	if err != nil {
		t.Fatalf("CountActive: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 active jobs, got %d", count)
	}
}

func TestJobIDComposition(t *testing.T) {
	cases := []struct {
		projectID string
		node      string
		uniqueKey string
		attempt   int
		want      string
	}{
		{"proj-1", "analyze_audio", "", 0, "proj-1-analyze_audio"},
		{"proj-1", "frame_generation", "scene-3", 0, "proj-1-frame_generation-scene-3"},
		{"proj-1", "analyze_audio", "", 2, "proj-1-analyze_audio-2"},
		{"proj-1", "frame_generation", "scene-3", 1, "proj-1-frame_generation-scene-3-1"},
	}
	for _, tc := range cases {
		got := jobs.JobID(tc.projectID, tc.node, tc.uniqueKey, tc.attempt)
		if got != tc.want {
			t.Errorf("JobID(%q, %q, %q, %d) = %q, want %q", tc.projectID, tc.node, tc.uniqueKey, tc.attempt, got, tc.want)
		}
	}
}

func TestParseState(t *testing.T) {
	if state, ok := jobs.ParseState(" Running "); !ok || state != jobs.StateRunning {
		t.Fatalf("ParseState normalization failed: %v %v", state, ok)
	}
	if _, ok := jobs.ParseState("paused"); ok {
		t.Fatal("expected unknown state to be rejected")
	}
}
