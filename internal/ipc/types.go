package ipc

import (
	"sceneflow/internal/daemon"
	"sceneflow/internal/events"
)

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse carries the combined daemon and project status snapshot.
type StatusResponse struct {
	Status daemon.Status `json:"status"`
}

// ProjectStartRequest starts or resumes a project pipeline.
type ProjectStartRequest struct {
	ProjectID string `json:"project_id"`
	Title     string `json:"title,omitempty"`
	AudioPath string `json:"audio_path,omitempty"`
}

// ProjectStartResponse acknowledges a background pipeline run.
type ProjectStartResponse struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// ProjectResumeRequest continues a checkpointed project.
type ProjectResumeRequest struct {
	ProjectID string `json:"project_id"`
}

// ProjectResumeResponse acknowledges a background resume.
type ProjectResumeResponse struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// ProjectListRequest lists every known project.
type ProjectListRequest struct{}

// ProjectListResponse carries per-project summaries.
type ProjectListResponse struct {
	Projects []daemon.ProjectSummary `json:"projects"`
}

// ProjectDescribeRequest fetches one project's full state.
type ProjectDescribeRequest struct {
	ProjectID string `json:"project_id"`
}

// ProjectDescribeResponse carries the checkpointed project detail.
type ProjectDescribeResponse struct {
	Detail daemon.ProjectDetail `json:"detail"`
}

// RegenerateRequest targets one scene for re-generation.
type RegenerateRequest struct {
	ProjectID          string `json:"project_id"`
	SceneID            string `json:"scene_id"`
	ForceRegenerate    bool   `json:"force_regenerate,omitempty"`
	PromptModification string `json:"prompt_modification,omitempty"`
}

// RegenerateResponse acknowledges a queued regeneration.
type RegenerateResponse struct {
	Accepted bool `json:"accepted"`
}

// ResolveRequest answers a pending intervention.
type ResolveRequest struct {
	ProjectID     string         `json:"project_id"`
	Action        string         `json:"action"`
	RevisedParams map[string]any `json:"revised_params,omitempty"`
}

// ResolveResponse acknowledges the resolution.
type ResolveResponse struct {
	Accepted bool `json:"accepted"`
}

// InterventionRequest fetches a project's pending interrupt.
type InterventionRequest struct {
	ProjectID string `json:"project_id"`
}

// InterventionResponse carries the pending interrupt, if any.
type InterventionResponse struct {
	Pending  bool           `json:"pending"`
	NodeName string         `json:"node_name,omitempty"`
	Error    string         `json:"error,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
}

// SetAssetRequest promotes an existing asset version to best for a scene.
type SetAssetRequest struct {
	ProjectID string `json:"project_id"`
	SceneID   string `json:"scene_id"`
	AssetKey  string `json:"asset_key"`
	Version   int    `json:"version"`
}

// SetAssetResponse acknowledges the promotion.
type SetAssetResponse struct {
	Updated bool `json:"updated"`
}

// JobListRequest lists a project's jobs, optionally filtered by state.
type JobListRequest struct {
	ProjectID string `json:"project_id"`
	State     string `json:"state,omitempty"`
}

// JobItem is the wire view of one job.
type JobItem struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	State        string `json:"state"`
	Attempt      int    `json:"attempt"`
	MaxRetries   int    `json:"max_retries"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// JobListResponse carries job rows.
type JobListResponse struct {
	Jobs []JobItem `json:"jobs"`
}

// JobCancelRequest force-cancels one job.
type JobCancelRequest struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason,omitempty"`
}

// JobCancelResponse reports the cancelled job's final state.
type JobCancelResponse struct {
	Job JobItem `json:"job"`
}

// EventsRequest fetches buffered events after a sequence number. WaitMillis
// bounds how long the daemon blocks when Wait is set and no event is ready.
type EventsRequest struct {
	Since      uint64 `json:"since"`
	Limit      int    `json:"limit,omitempty"`
	Wait       bool   `json:"wait,omitempty"`
	WaitMillis int    `json:"wait_millis,omitempty"`
}

// EventsResponse carries a batch of events plus the resume cursor.
type EventsResponse struct {
	Events []events.Event `json:"events"`
	Next   uint64         `json:"next"`
}
