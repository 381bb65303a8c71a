package checkpoint_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"sceneflow/internal/checkpoint"
	"sceneflow/internal/testsupport"
)

func mustOpenStore(t *testing.T) *checkpoint.Store {
	t.Helper()
	store, err := checkpoint.Open(testsupport.NewConfig(t))
	if err != nil {
		t.Fatalf("checkpoint.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestAppendAndLatest(t *testing.T) {
	store := mustOpenStore(t)
	ctx := context.Background()

	none, err := store.Latest(ctx, "proj-1")
	if err != nil {
		t.Fatalf("Latest empty: %v", err)
	}
	if none != nil {
		t.Fatalf("expected nil for never-checkpointed project, got %+v", none)
	}

	state := checkpoint.NewState("proj-1")
	state.AudioPath = "/media/track.mp3"
	first, err := store.Append(ctx, "proj-1", state, 0)
	if err != nil {
		t.Fatalf("Append first: %v", err)
	}
	if first.Version != 1 || first.ParentVersion != 0 {
		t.Fatalf("unexpected first checkpoint: %+v", first)
	}

	state.Phase = checkpoint.PhaseGenerating
	second, err := store.Append(ctx, "proj-1", state, first.Version)
	if err != nil {
		t.Fatalf("Append second: %v", err)
	}
	if second.Version != 2 {
		t.Fatalf("expected version 2, got %d", second.Version)
	}

	latest, err := store.Latest(ctx, "proj-1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Version != 2 || latest.State.Phase != checkpoint.PhaseGenerating {
		t.Fatalf("unexpected latest: %+v", latest)
	}
	if latest.State.AudioPath != "/media/track.mp3" {
		t.Fatalf("state did not round-trip: %+v", latest.State)
	}
}

func TestAppendStaleParentConflicts(t *testing.T) {
	store := mustOpenStore(t)
	ctx := context.Background()

	state := checkpoint.NewState("proj-1")
	first, err := store.Append(ctx, "proj-1", state, 0)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := store.Append(ctx, "proj-1", state, first.Version); err != nil {
		t.Fatalf("Append second: %v", err)
	}

	// A writer still anchored to version 1 must lose.
	_, err = store.Append(ctx, "proj-1", state, first.Version)
	if !errors.Is(err, checkpoint.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	// First write for a project conflicts when a checkpoint already exists.
	_, err = store.Append(ctx, "proj-1", state, 0)
	if !errors.Is(err, checkpoint.ErrConflict) {
		t.Fatalf("expected conflict for stale root, got %v", err)
	}
}

func TestBranchFromStaleParent(t *testing.T) {
	store := mustOpenStore(t)
	ctx := context.Background()

	state := checkpoint.NewState("proj-1")
	first, err := store.Append(ctx, "proj-1", state, 0)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	second, err := store.Append(ctx, "proj-1", state, first.Version)
	if err != nil {
		t.Fatalf("Append second: %v", err)
	}

	forked, err := store.Branch(ctx, "proj-1", state, first.Version)
	if err != nil {
		t.Fatalf("Branch: %v", err)
	}
	if !forked.Branched {
		t.Fatal("expected branch flag")
	}
	if forked.Version != second.Version+1 {
		t.Fatalf("branch version must advance past head: got %d", forked.Version)
	}
	if forked.ParentVersion != first.Version {
		t.Fatalf("branch must keep its anchor: got parent %d", forked.ParentVersion)
	}

	history, err := store.History(ctx, "proj-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 checkpoints, got %d", len(history))
	}
}

func TestConcurrentAppendExactlyOneWins(t *testing.T) {
	store := mustOpenStore(t)
	ctx := context.Background()

	state := checkpoint.NewState("proj-1")
	base, err := store.Append(ctx, "proj-1", state, 0)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Append(ctx, "proj-1", state.Clone(), base.Version)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, checkpoint.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || conflicts != writers-1 {
		t.Fatalf("expected exactly one winner, got %d wins and %d conflicts", wins, conflicts)
	}
}

func TestCloneIsolation(t *testing.T) {
	state := checkpoint.NewState("proj-1")
	state.Storyboard = &checkpoint.Storyboard{
		Scenes: []checkpoint.SceneSnapshot{{ID: "scene-1", Prompt: "opening"}},
	}
	state.RecordAttempt("plan_story")

	cp := state.Clone()
	cp.Storyboard.Scenes[0].Prompt = "changed"
	cp.RecordAttempt("plan_story")

	if state.Storyboard.Scenes[0].Prompt != "opening" {
		t.Fatal("clone mutated original storyboard")
	}
	if state.Metrics.NodeAttempts["plan_story"] != 1 {
		t.Fatal("clone mutated original metrics")
	}
}

func TestStoryboardSceneLookup(t *testing.T) {
	board := &checkpoint.Storyboard{
		Scenes: []checkpoint.SceneSnapshot{{ID: "scene-1"}, {ID: "scene-2"}},
	}
	if board.Scene("scene-2") == nil {
		t.Fatal("expected scene-2")
	}
	if board.Scene("scene-9") != nil {
		t.Fatal("expected nil for absent scene")
	}
	var nilBoard *checkpoint.Storyboard
	if nilBoard.Scene("scene-1") != nil {
		t.Fatal("nil storyboard must not panic")
	}
}
