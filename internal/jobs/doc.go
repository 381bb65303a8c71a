// Package jobs provides the control plane for pipeline work: a SQLite-backed
// job table, a transition API with terminal immutability, and an idempotent
// dispatcher that enforces a per-project concurrency ceiling.
package jobs
