// Package events defines the typed lifecycle events the pipeline emits and a
// bounded in-memory hub that fans them out to listeners. Publishing is always
// fire-and-forget; losing a listener never stalls the pipeline.
package events
