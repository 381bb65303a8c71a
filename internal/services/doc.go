// Package services holds cross-cutting helpers shared by pipeline components:
// the sentinel error taxonomy with wrap/classify/details helpers, and explicit
// context keys used to correlate logs and events with the project, node, job,
// and request that produced them. Correlation always travels through context
// arguments, never through ambient state.
package services
