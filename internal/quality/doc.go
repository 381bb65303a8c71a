// Package quality implements the numeric quality model and the quality-gated
// retry loop used for every generated artifact. Artifacts are accepted on the
// first attempt that clears the acceptance threshold; runs that exhaust the
// retry budget fall back to the best attempt that produced output, flagged
// with a warning, so a human can later accept or regenerate it.
package quality
