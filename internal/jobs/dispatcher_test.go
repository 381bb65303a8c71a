package jobs_test

import (
	"context"
	"testing"

	"sceneflow/internal/jobs"
	"sceneflow/internal/logging"
	"sceneflow/internal/testsupport"
)

func newTestDispatcher(t *testing.T, ceiling int) (*jobs.Dispatcher, *jobs.ControlPlane) {
	t.Helper()
	store := testsupport.MustOpenJobStore(t, testsupport.NewConfig(t))
	plane := jobs.NewControlPlane(store, nil, logging.NewNop())
	return jobs.NewDispatcher(plane, ceiling, logging.NewNop()), plane
}

func TestEnsureJobIdempotent(t *testing.T) {
	dispatcher, _ := newTestDispatcher(t, 4)
	ctx := context.Background()

	first, err := dispatcher.EnsureJob(ctx, "proj-1", "analyze_audio", jobs.TypeAudioAnalysis, map[string]string{"audio": "a.mp3"}, jobs.EnsureOptions{})
	if err != nil {
		t.Fatalf("EnsureJob: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := dispatcher.EnsureJob(ctx, "proj-1", "analyze_audio", jobs.TypeAudioAnalysis, map[string]string{"audio": "a.mp3"}, jobs.EnsureOptions{})
		if err != nil {
			t.Fatalf("EnsureJob replay %d: %v", i, err)
		}
		if again.ID != first.ID {
			t.Fatalf("replay produced a different job: %s vs %s", again.ID, first.ID)
		}
	}

}

func TestEnsureJobReturnsCompletedResult(t *testing.T) {
	dispatcher, plane := newTestDispatcher(t, 4)
	ctx := context.Background()

	job, err := dispatcher.EnsureJob(ctx, "proj-1", "plan_story", jobs.TypeStoryboard, nil, jobs.EnsureOptions{})
	if err != nil {
		t.Fatalf("EnsureJob: %v", err)
	}
	if _, err := plane.UpdateJobState(ctx, job.ID, jobs.StateCompleted, map[string]int{"scenes": 3}, ""); err != nil {
		t.Fatalf("UpdateJobState: %v", err)
	}

	replay, err := dispatcher.EnsureJob(ctx, "proj-1", "plan_story", jobs.TypeStoryboard, nil, jobs.EnsureOptions{})
	if err != nil {
		t.Fatalf("EnsureJob replay: %v", err)
	}
	if replay.State != jobs.StateCompleted || replay.ResultJSON == "" {
		t.Fatalf("expected completed job with result, got %+v", replay)
	}
}

func TestEnsureJobChainsRetryAfterFailure(t *testing.T) {
	dispatcher, plane := newTestDispatcher(t, 4)
	ctx := context.Background()

	job, err := dispatcher.EnsureJob(ctx, "proj-1", "generate_scenes", jobs.TypeSceneVideo, nil, jobs.EnsureOptions{UniqueKey: "scene-1", MaxRetries: 2})
	if err != nil {
		t.Fatalf("EnsureJob: %v", err)
	}
	if _, err := plane.UpdateJobState(ctx, job.ID, jobs.StateFailed, nil, "provider error"); err != nil {
		t.Fatalf("UpdateJobState: %v", err)
	}

	retry, err := dispatcher.EnsureJob(ctx, "proj-1", "generate_scenes", jobs.TypeSceneVideo, nil, jobs.EnsureOptions{UniqueKey: "scene-1", MaxRetries: 2})
	if err != nil {
		t.Fatalf("EnsureJob retry: %v", err)
	}
	if retry.ID != "proj-1-generate_scenes-scene-1-1" {
		t.Fatalf("expected chained attempt id, got %s", retry.ID)
	}
	if retry.Attempt != 1 {
		t.Fatalf("expected attempt 1, got %d", retry.Attempt)
	}
}

func TestEnsureJobSurfacesExhaustedFailure(t *testing.T) {
	dispatcher, plane := newTestDispatcher(t, 4)
	ctx := context.Background()

	job, err := dispatcher.EnsureJob(ctx, "proj-1", "evaluate", jobs.TypeQualityEvaluation, nil, jobs.EnsureOptions{})
	if err != nil {
		t.Fatalf("EnsureJob: %v", err)
	}
	if _, err := plane.UpdateJobState(ctx, job.ID, jobs.StateFailed, nil, "bad input"); err != nil {
		t.Fatalf("UpdateJobState: %v", err)
	}

	replay, err := dispatcher.EnsureJob(ctx, "proj-1", "evaluate", jobs.TypeQualityEvaluation, nil, jobs.EnsureOptions{})
	if err != nil {
		t.Fatalf("EnsureJob replay: %v", err)
	}
	if replay.ID != job.ID || replay.State != jobs.StateFailed {
		t.Fatalf("expected original failed job with no retries left, got %+v", replay)
	}
}

func TestDispatcherCeilingHoldsAndReleases(t *testing.T) {
	dispatcher, plane := newTestDispatcher(t, 2)
	ctx := context.Background()

	var ids []string
	for _, key := range []string{"scene-1", "scene-2", "scene-3", "scene-4"} {
		job, err := dispatcher.EnsureJob(ctx, "proj-1", "generate_scenes", jobs.TypeSceneVideo, nil, jobs.EnsureOptions{UniqueKey: key})
		if err != nil {
			t.Fatalf("EnsureJob %s: %v", key, err)
		}
		ids = append(ids, job.ID)
	}

	states := make(map[jobs.State]int)
	for _, id := range ids {
		job, err := plane.GetJob(ctx, id)
		if err != nil {
			t.Fatalf("GetJob %s: %v", id, err)
		}
		states[job.State]++
	}
	if states[jobs.StateDispatched] != 2 || states[jobs.StateCreated] != 2 {
		t.Fatalf("expected 2 dispatched and 2 held, got %v", states)
	}

	// Finishing one dispatched job releases exactly one held job, oldest
	// first.
	if _, err := plane.UpdateJobState(ctx, ids[0], jobs.StateCompleted, nil, ""); err != nil {
		t.Fatalf("UpdateJobState: %v", err)
	}
	third, err := plane.GetJob(ctx, ids[2])
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if third.State != jobs.StateDispatched {
		t.Fatalf("expected oldest held job released, got %s", third.State)
	}
	fourth, err := plane.GetJob(ctx, ids[3])
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if fourth.State != jobs.StateCreated {
		t.Fatalf("expected newest job still held, got %s", fourth.State)
	}
}

func TestEnsureBatchIsolatesFailures(t *testing.T) {
	dispatcher, _ := newTestDispatcher(t, 8)
	ctx := context.Background()

	items := []jobs.BatchItem{
		{Key: "scene-1", Payload: map[string]string{"prompt": "opening"}},
		{Key: "", Payload: nil},
		{Key: "scene-3", Payload: map[string]string{"prompt": "closing"}},
	}
	// Empty keys are legal: they collapse to the plain node id, so the batch
	// has no failing entry here. Verify every entry resolves independently.
	results := dispatcher.EnsureBatch(ctx, "proj-1", "frame_generation", jobs.TypeFrameGeneration, items, jobs.EnsureOptions{})
	if len(results) != len(items) {
		t.Fatalf("expected %d results, got %d", len(items), len(results))
	}
	seen := make(map[string]struct{})
	for _, res := range results {
		if res.Err != nil {
			t.Fatalf("entry %q failed: %v", res.Key, res.Err)
		}
		seen[res.Job.ID] = struct{}{}
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct jobs, got %d", len(seen))
	}
}
