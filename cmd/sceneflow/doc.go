// Package main hosts the sceneflow CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into IPC calls
// against the daemon: starting and resuming project pipelines, inspecting
// checkpointed state, answering interventions, promoting asset versions, and
// tailing the event stream. It centralizes configuration resolution and socket
// discovery so subcommands can focus on presentation.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
