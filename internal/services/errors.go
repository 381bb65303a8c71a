package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTransient     = errors.New("transient failure")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
)

// Disposition describes what the workflow should do with a failed operation.
type Disposition int

const (
	// DispositionRetry means the error is retryable in place.
	DispositionRetry Disposition = iota
	// DispositionIntervene means the error pauses the workflow for a human decision.
	DispositionIntervene
	// DispositionFatal means the error terminates the workflow.
	DispositionFatal
)

// Wrap builds an error message that includes node context while tagging it with
// the provided marker for later classification. The marker should be one of
// the exported sentinel errors above.
func Wrap(marker error, node, operation, message string, err error) error {
	detail := buildDetail(node, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error to the workflow disposition it deserves. Transient
// and timeout failures are retried; validation, configuration, and missing-data
// failures need a human; everything else is treated as retryable by default
// since provider errors arrive untyped.
func Classify(err error) Disposition {
	switch {
	case err == nil:
		return DispositionRetry
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration), errors.Is(err, ErrNotFound):
		return DispositionIntervene
	default:
		return DispositionRetry
	}
}

// ErrorDetails carries the user-facing portion of a wrapped error.
type ErrorDetails struct {
	Message string
}

// Details extracts a human-readable message from a wrapped error, stripping
// the sentinel prefix when present.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	msg := err.Error()
	for _, marker := range []error{ErrTransient, ErrValidation, ErrConfiguration, ErrNotFound, ErrTimeout} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(msg, prefix) {
			msg = strings.TrimPrefix(msg, prefix)
			break
		}
	}
	return ErrorDetails{Message: strings.TrimSpace(msg)}
}

func buildDetail(node, operation, message string) string {
	parts := make([]string, 0, 3)
	if node = strings.TrimSpace(node); node != "" {
		parts = append(parts, node)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
