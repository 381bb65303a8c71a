// Package assets maintains versioned, entity-scoped asset histories. Every
// generated artifact is appended to its owning entity's registry under an
// asset key; the history head only grows and versions are never rewritten.
// Promoting a different version to best is the only form of rollback.
package assets
