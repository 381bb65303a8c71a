// Package daemon assembles and supervises the sceneflow runtime: it opens the
// job, checkpoint, and catalog stores, wires the workflow operator with the
// generation provider and renderer, enforces single-instance execution via a
// file lock, and runs pipeline work on background goroutines so control calls
// return immediately. The IPC layer and CLI observe progress through the
// daemon's status and event surfaces.
package daemon
