package quality

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sceneflow/internal/logging"
)

const defaultBackoff = 3 * time.Second

// ExhaustedError reports that every attempt for an asset failed to produce
// any output at all.
type ExhaustedError struct {
	AssetKey string
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("quality retries exhausted for %s after %d attempts with no usable output", e.AssetKey, e.Attempts)
}

// Handler runs a generate→evaluate→correct loop under an acceptance threshold.
// The three callbacks supply the asset-specific behavior; the handler owns the
// retry budget, backoff, best-attempt tracking, and fallback policy.
type Handler[T any] struct {
	Generate         func(ctx context.Context, prompt string, attempt int) (T, error)
	Evaluate         func(ctx context.Context, output T, attempt int) (Evaluation, error)
	ApplyCorrections func(prompt string, eval Evaluation, attempt int) string

	// CalculateScore defaults to Score when nil.
	CalculateScore func(Evaluation) float64

	AcceptanceThreshold float64
	MaxAttempts         int

	// Backoff defaults to 3s. Sleep is injectable for tests.
	Backoff time.Duration
	Sleep   func(time.Duration)

	Logger *slog.Logger
}

// Outcome is the artifact selected by a retry run.
type Outcome[T any] struct {
	Output     T
	Evaluation Evaluation
	Score      float64
	Attempt    int
	// Warning is set when no attempt cleared the threshold and the best
	// attempt was returned instead.
	Warning bool
}

// Run executes the retry loop for one asset. The first attempt whose score
// clears the acceptance threshold wins immediately; an earlier attempt keeps
// the running best over a later attempt with an equal score. When the budget
// is spent, the best attempt that produced output is returned with Warning
// set; if nothing was ever produced the run fails with ExhaustedError.
func (h *Handler[T]) Run(ctx context.Context, assetKey, prompt string) (Outcome[T], error) {
	maxAttempts := h.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	score := h.CalculateScore
	if score == nil {
		score = Score
	}
	backoff := h.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	sleep := h.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	logger := h.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	var best Outcome[T]
	produced := false
	currentPrompt := prompt

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return best, err
		}

		outcome, attemptErr := h.runAttempt(ctx, score, currentPrompt, attempt)
		if attemptErr != nil {
			logger.Warn("generation attempt failed",
				logging.String("asset_key", assetKey),
				logging.Int(logging.FieldAttempt, attempt),
				logging.Error(attemptErr),
				logging.String(logging.FieldEventType, "quality_attempt_error"),
				logging.String(logging.FieldErrorHint, "provider call failed; retrying"),
			)
			if attempt < maxAttempts {
				sleep(backoff)
			}
			continue
		}

		logAttempt(logger, assetKey, attempt, outcome.Score, h.AcceptanceThreshold, outcome.Evaluation)

		if !produced || outcome.Score > best.Score {
			best = outcome
			produced = true
		}

		if outcome.Score >= h.AcceptanceThreshold {
			return outcome, nil
		}

		if attempt < maxAttempts {
			if h.ApplyCorrections != nil {
				currentPrompt = h.ApplyCorrections(currentPrompt, outcome.Evaluation, attempt)
			}
			sleep(backoff)
		}
	}

	if produced {
		best.Warning = true
		logger.Warn("returning best attempt below acceptance threshold",
			logging.String("asset_key", assetKey),
			logging.Int(logging.FieldAttempt, best.Attempt),
			logging.Float64("score", best.Score),
			logging.Float64("threshold", h.AcceptanceThreshold),
			logging.String(logging.FieldEventType, "quality_best_effort"),
			logging.String(logging.FieldErrorHint, "review or regenerate the asset"),
		)
		return best, nil
	}

	return best, &ExhaustedError{AssetKey: assetKey, Attempts: maxAttempts}
}

func (h *Handler[T]) runAttempt(ctx context.Context, score func(Evaluation) float64, prompt string, attempt int) (Outcome[T], error) {
	output, err := h.Generate(ctx, prompt, attempt)
	if err != nil {
		return Outcome[T]{}, fmt.Errorf("generate: %w", err)
	}
	eval, err := h.Evaluate(ctx, output, attempt)
	if err != nil {
		return Outcome[T]{}, fmt.Errorf("evaluate: %w", err)
	}
	return Outcome[T]{
		Output:     output,
		Evaluation: eval,
		Score:      score(eval),
		Attempt:    attempt,
	}, nil
}

func logAttempt(logger *slog.Logger, assetKey string, attempt int, got, threshold float64, eval Evaluation) {
	attrs := []logging.Attr{
		logging.String("asset_key", assetKey),
		logging.Int(logging.FieldAttempt, attempt),
		logging.Float64("score", got),
		logging.Float64("threshold", threshold),
		logging.Int("issues", len(eval.Issues)),
		logging.String(logging.FieldEventType, "quality_attempt_scored"),
	}
	if got >= threshold {
		logger.Info("attempt accepted", logging.Args(attrs...)...)
		return
	}
	attrs = append(attrs, logging.Int("prompt_corrections", len(eval.PromptCorrections)))
	logger.Info("attempt below threshold", logging.Args(attrs...)...)
}
