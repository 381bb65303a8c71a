// Package workflow drives the generative video pipeline as a resumable state
// machine. The operator owns the public control operations (start, resume,
// regenerate, resolve, asset promotion); the executor advances the node graph
// one dispatched job at a time, writing a checkpoint after every step before
// any event about it is published. Failures either retry in place, chain to a
// fresh job attempt, or pause the project with an interrupt for a human
// decision.
package workflow
