package quality_test

import (
	"math"
	"testing"

	"sceneflow/internal/quality"
)

func TestScoreWeightedAndNormalized(t *testing.T) {
	eval := quality.Evaluation{
		Scores: []quality.DimensionScore{
			{Dimension: "composition", Rating: quality.RatingPass, Weight: 3},
			{Dimension: "continuity", Rating: quality.RatingMajorIssues, Weight: 1},
		},
	}
	// (1.0*3 + 0.5*1) / 4 = 0.875
	if got := quality.Score(eval); math.Abs(got-0.875) > 1e-9 {
		t.Fatalf("got %v want 0.875", got)
	}
}

func TestScoreEdgeCases(t *testing.T) {
	cases := []struct {
		name string
		eval quality.Evaluation
		want float64
	}{
		{"empty", quality.Evaluation{}, 0},
		{"zero_weights_skipped", quality.Evaluation{Scores: []quality.DimensionScore{
			{Rating: quality.RatingPass, Weight: 0},
		}}, 0},
		{"unknown_rating_counts_as_fail", quality.Evaluation{Scores: []quality.DimensionScore{
			{Rating: "unheard_of", Weight: 2},
		}}, 0.25},
		{"all_fail", quality.Evaluation{Scores: []quality.DimensionScore{
			{Rating: quality.RatingFail, Weight: 1},
			{Rating: quality.RatingFail, Weight: 5},
		}}, 0.25},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := quality.Score(tc.eval); math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestApplyCorrections(t *testing.T) {
	eval := quality.Evaluation{
		PromptCorrections: []quality.PromptCorrection{
			{OriginalSection: "a quiet street", CorrectedSection: "a rain-soaked street at night"},
			{OriginalSection: "not present", CorrectedSection: "ignored"},
		},
	}
	prompt := "Wide shot of a quiet street, handheld."
	got := quality.ApplyCorrections(prompt, eval)
	want := "Wide shot of a rain-soaked street at night, handheld."
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}

	if got := quality.ApplyCorrections(prompt, quality.Evaluation{}); got != prompt {
		t.Fatalf("no corrections should leave prompt unchanged, got %q", got)
	}
}
