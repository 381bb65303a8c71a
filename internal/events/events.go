package events

import (
	"context"
	"time"
)

// Type enumerates the pipeline lifecycle events streamed to listeners.
type Type string

const (
	TypeWorkflowStarted    Type = "WORKFLOW_STARTED"
	TypeSceneStarted       Type = "SCENE_STARTED"
	TypeSceneUpdate        Type = "SCENE_UPDATE"
	TypeSceneCompleted     Type = "SCENE_COMPLETED"
	TypeFullState          Type = "FULL_STATE"
	TypeLog                Type = "LOG"
	TypeWorkflowCompleted  Type = "WORKFLOW_COMPLETED"
	TypeWorkflowFailed     Type = "WORKFLOW_FAILED"
	TypeInterventionNeeded Type = "LLM_INTERVENTION_NEEDED"
	TypeJobDispatched      Type = "JOB_DISPATCHED"
	TypeJobCancelled       Type = "JOB_CANCELLED"
)

// Event is one pipeline lifecycle notification.
type Event struct {
	Sequence  uint64         `json:"seq"`
	Timestamp time.Time      `json:"ts"`
	Type      Type           `json:"type"`
	ProjectID string         `json:"project_id,omitempty"`
	SceneID   string         `json:"scene_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Publisher delivers events to interested listeners. Publishing is
// fire-and-forget: implementations log delivery problems and never propagate
// them into the pipeline.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// Nop returns a publisher that discards everything.
func Nop() Publisher { return nopPublisher{} }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}
