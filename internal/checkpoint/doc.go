// Package checkpoint persists immutable, versioned snapshots of workflow
// state. Writes are optimistic: each new checkpoint is anchored to the parent
// version the writer last saw, and a stale parent fails with ErrConflict so
// concurrent transitions on one project serialize on the write instead of
// clobbering each other.
package checkpoint
