package services_test

import (
	"errors"
	"testing"

	"sceneflow/internal/services"
)

func TestWrapTagsSentinel(t *testing.T) {
	base := errors.New("connection reset")
	err := services.Wrap(services.ErrTransient, "scene_generation", "generate_videos", "provider call failed", base)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker: %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped cause: %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want services.Disposition
	}{
		{"transient", services.Wrap(services.ErrTransient, "n", "op", "", nil), services.DispositionRetry},
		{"timeout", services.Wrap(services.ErrTimeout, "n", "op", "", nil), services.DispositionRetry},
		{"validation", services.Wrap(services.ErrValidation, "n", "op", "", nil), services.DispositionIntervene},
		{"not_found", services.Wrap(services.ErrNotFound, "n", "op", "", nil), services.DispositionIntervene},
		{"untyped", errors.New("boom"), services.DispositionRetry},
	}
	for _, tc := range cases {
		if got := services.Classify(tc.err); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestDetailsStripsMarker(t *testing.T) {
	err := services.Wrap(services.ErrValidation, "storyboard", "parse", "missing scenes", nil)
	details := services.Details(err)
	if details.Message != "storyboard: parse: missing scenes" {
		t.Fatalf("unexpected details: %q", details.Message)
	}
}
