package jobs_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"sceneflow/internal/events"
	"sceneflow/internal/jobs"
	"sceneflow/internal/logging"
	"sceneflow/internal/testsupport"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capturePublisher) Publish(_ context.Context, evt events.Event) {
	c.mu.Lock()
	c.events = append(c.events, evt)
	c.mu.Unlock()
}

func (c *capturePublisher) byType(eventType events.Type) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Event
	for _, evt := range c.events {
		if evt.Type == eventType {
			out = append(out, evt)
		}
	}
	return out
}

func newTestPlane(t *testing.T) (*jobs.ControlPlane, *capturePublisher) {
	t.Helper()
	store := testsupport.MustOpenJobStore(t, testsupport.NewConfig(t))
	pub := &capturePublisher{}
	return jobs.NewControlPlane(store, pub, logging.NewNop()), pub
}

func TestControlPlaneLifecycle(t *testing.T) {
	plane, pub := newTestPlane(t)
	ctx := context.Background()

	created, err := plane.CreateJob(ctx, jobs.CreateParams{
		ID:        "proj-1-plan_story",
		Type:      jobs.TypeStoryboard,
		ProjectID: "proj-1",
		Payload:   map[string]string{"audio": "track.mp3"},
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if created.State != jobs.StateCreated {
		t.Fatalf("expected created state, got %s", created.State)
	}
	if created.PayloadJSON == "" {
		t.Fatal("expected payload to be serialized")
	}

	running, err := plane.UpdateJobState(ctx, created.ID, jobs.StateRunning, nil, "")
	if err != nil {
		t.Fatalf("UpdateJobState running: %v", err)
	}
	if running.State != jobs.StateRunning {
		t.Fatalf("expected running, got %s", running.State)
	}

	done, err := plane.UpdateJobState(ctx, created.ID, jobs.StateCompleted, map[string]int{"scenes": 4}, "")
	if err != nil {
		t.Fatalf("UpdateJobState completed: %v", err)
	}
	if done.ResultJSON == "" {
		t.Fatal("expected result to be serialized")
	}

	if dispatched := pub.byType(events.TypeJobDispatched); len(dispatched) != 1 {
		t.Fatalf("expected 1 dispatch event, got %d", len(dispatched))
	}
}

func TestControlPlaneTerminalImmutable(t *testing.T) {
	plane, _ := newTestPlane(t)
	ctx := context.Background()

	job, err := plane.CreateJob(ctx, jobs.CreateParams{ID: "proj-1-evaluate", Type: jobs.TypeQualityEvaluation, ProjectID: "proj-1"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := plane.UpdateJobState(ctx, job.ID, jobs.StateFailed, nil, "provider timeout"); err != nil {
		t.Fatalf("UpdateJobState failed: %v", err)
	}

	_, err = plane.UpdateJobState(ctx, job.ID, jobs.StateRunning, nil, "")
	if !errors.Is(err, jobs.ErrTerminalState) {
		t.Fatalf("expected terminal state error, got %v", err)
	}
}

func TestControlPlaneCancelForcesTerminal(t *testing.T) {
	plane, pub := newTestPlane(t)
	ctx := context.Background()

	job, err := plane.CreateJob(ctx, jobs.CreateParams{ID: "proj-1-assemble", Type: jobs.TypeFinalAssembly, ProjectID: "proj-1"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := plane.UpdateJobState(ctx, job.ID, jobs.StateCompleted, nil, ""); err != nil {
		t.Fatalf("UpdateJobState: %v", err)
	}

	cancelled, err := plane.CancelJob(ctx, job.ID, "operator abort")
	if err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if cancelled.State != jobs.StateCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.State)
	}
	if evts := pub.byType(events.TypeJobCancelled); len(evts) != 1 {
		t.Fatalf("expected 1 cancel event, got %d", len(evts))
	}
}

func TestControlPlaneTerminalHooksFire(t *testing.T) {
	plane, _ := newTestPlane(t)
	ctx := context.Background()

	var seen []string
	plane.OnTerminal(func(_ context.Context, job *jobs.Job) {
		seen = append(seen, job.ID)
	})

	job, err := plane.CreateJob(ctx, jobs.CreateParams{ID: "proj-1-analyze_audio", Type: jobs.TypeAudioAnalysis, ProjectID: "proj-1"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := plane.UpdateJobState(ctx, job.ID, jobs.StateRunning, nil, ""); err != nil {
		t.Fatalf("UpdateJobState running: %v", err)
	}
	if len(seen) != 0 {
		t.Fatal("hooks must not fire on non-terminal transitions")
	}
	if _, err := plane.UpdateJobState(ctx, job.ID, jobs.StateCompleted, nil, ""); err != nil {
		t.Fatalf("UpdateJobState completed: %v", err)
	}
	if len(seen) != 1 || seen[0] != job.ID {
		t.Fatalf("expected hook for %s, got %v", job.ID, seen)
	}
}

func TestControlPlaneGetLatestJob(t *testing.T) {
	plane, _ := newTestPlane(t)
	ctx := context.Background()

	for _, id := range []string{"proj-1-plan_story", "proj-1-plan_story-1", "proj-1-plan_story-2"} {
		if _, err := plane.CreateJob(ctx, jobs.CreateParams{ID: id, Type: jobs.TypeStoryboard, ProjectID: "proj-1"}); err != nil {
			t.Fatalf("CreateJob %s: %v", id, err)
		}
	}

	latest, err := plane.GetLatestJob(ctx, "proj-1", jobs.TypeStoryboard)
	if err != nil {
		t.Fatalf("GetLatestJob: %v", err)
	}
	if latest == nil || latest.ID != "proj-1-plan_story-2" {
		t.Fatalf("expected newest storyboard job, got %+v", latest)
	}

	none, err := plane.GetLatestJob(ctx, "proj-1", jobs.TypeFinalAssembly)
	if err != nil {
		t.Fatalf("GetLatestJob empty: %v", err)
	}
	if none != nil {
		t.Fatalf("expected nil for absent type, got %+v", none)
	}
}
