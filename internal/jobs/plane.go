package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"sceneflow/internal/events"
	"sceneflow/internal/logging"
	"sceneflow/internal/services"
)

// ErrTerminalState is returned when a transition targets a job that already
// finished. Terminal jobs are immutable except through CancelJob.
var ErrTerminalState = errors.New("job is in a terminal state")

// CreateParams carries everything needed to record a new job.
type CreateParams struct {
	ID         string
	Type       Type
	ProjectID  string
	Payload    any
	MaxRetries int
	Attempt    int
	State      State
}

// ControlPlane owns the job table: every state transition flows through it so
// terminal immutability and event publication happen in exactly one place.
type ControlPlane struct {
	store     *Store
	publisher events.Publisher
	logger    *slog.Logger

	mu    sync.Mutex
	hooks []func(ctx context.Context, job *Job)
}

// NewControlPlane wires a control plane over the given store.
func NewControlPlane(store *Store, publisher events.Publisher, logger *slog.Logger) *ControlPlane {
	if publisher == nil {
		publisher = events.Nop()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ControlPlane{
		store:     store,
		publisher: publisher,
		logger:    logging.NewComponentLogger(logger, "jobs"),
	}
}

// OnTerminal registers a hook invoked after any job reaches a terminal state.
// Hooks run synchronously in registration order.
func (p *ControlPlane) OnTerminal(hook func(ctx context.Context, job *Job)) {
	if hook == nil {
		return
	}
	p.mu.Lock()
	p.hooks = append(p.hooks, hook)
	p.mu.Unlock()
}

// CreateJob records a new job and announces it. The payload is serialized as
// JSON; a nil payload stores an empty document.
func (p *ControlPlane) CreateJob(ctx context.Context, params CreateParams) (*Job, error) {
	if params.ID == "" {
		return nil, services.Wrap(services.ErrValidation, "", "create_job", "job id is required", nil)
	}
	if params.ProjectID == "" {
		return nil, services.Wrap(services.ErrValidation, "", "create_job", "project id is required", nil)
	}
	state := params.State
	if state == "" {
		state = StateCreated
	}

	payloadJSON := ""
	if params.Payload != nil {
		encoded, err := json.Marshal(params.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload for %s: %w", params.ID, err)
		}
		payloadJSON = string(encoded)
	}

	job := &Job{
		ID:          params.ID,
		Type:        params.Type,
		ProjectID:   params.ProjectID,
		State:       state,
		PayloadJSON: payloadJSON,
		Attempt:     params.Attempt,
		MaxRetries:  params.MaxRetries,
	}
	if err := p.store.Insert(ctx, job); err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "job created",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldProjectID, job.ProjectID),
		logging.String("job_type", string(job.Type)),
		logging.String("state", string(job.State)),
		logging.Int(logging.FieldAttempt, job.Attempt),
	)
	p.publisher.Publish(ctx, events.Event{
		Type:      events.TypeJobDispatched,
		ProjectID: job.ProjectID,
		Message:   fmt.Sprintf("job %s created (%s)", job.ID, job.State),
		Payload: map[string]any{
			"job_id":   job.ID,
			"job_type": string(job.Type),
			"state":    string(job.State),
			"attempt":  job.Attempt,
		},
	})
	return job, nil
}

// GetJob returns the job with the given id. A missing job yields
// services.ErrNotFound.
func (p *ControlPlane) GetJob(ctx context.Context, id string) (*Job, error) {
	job, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", id, services.ErrNotFound)
	}
	return job, nil
}

// LookupJob is GetJob without the not-found error: callers that probe for
// prior dispatches get a nil job instead.
func (p *ControlPlane) LookupJob(ctx context.Context, id string) (*Job, error) {
	return p.store.Get(ctx, id)
}

// GetLatestJob returns the most recent job of a type in a project, or nil
// when no such job exists.
func (p *ControlPlane) GetLatestJob(ctx context.Context, projectID string, jobType Type) (*Job, error) {
	return p.store.LatestByType(ctx, projectID, jobType)
}

// ListJobs returns the project's jobs oldest first, optionally filtered by
// state.
func (p *ControlPlane) ListJobs(ctx context.Context, projectID string, state State) ([]*Job, error) {
	return p.store.ListByProject(ctx, projectID, state)
}

// UpdateJobState transitions a job. Transitions out of a terminal state are
// rejected with ErrTerminalState; result and error details replace any prior
// values on the row.
func (p *ControlPlane) UpdateJobState(ctx context.Context, id string, state State, result any, errorMessage string) (*Job, error) {
	job, err := p.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Terminal() {
		return nil, fmt.Errorf("job %s already %s: %w", id, job.State, ErrTerminalState)
	}
	if _, ok := stateSet[state]; !ok {
		return nil, services.Wrap(services.ErrValidation, "", "update_job", fmt.Sprintf("unknown state %q", state), nil)
	}

	job.State = state
	job.ErrorMessage = errorMessage
	if result != nil {
		encoded, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			return nil, fmt.Errorf("marshal result for %s: %w", id, marshalErr)
		}
		job.ResultJSON = string(encoded)
	}
	if err := p.store.Update(ctx, job); err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "job state changed",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldProjectID, job.ProjectID),
		logging.String("state", string(job.State)),
	)
	if job.Terminal() {
		p.runTerminalHooks(ctx, job)
	}
	return job, nil
}

// CancelJob forces a job to cancelled no matter its current state and
// announces the cancellation. Cancelling an already terminal job only
// rewrites the row when it was not yet cancelled.
func (p *ControlPlane) CancelJob(ctx context.Context, id, reason string) (*Job, error) {
	job, err := p.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State != StateCancelled {
		job.State = StateCancelled
		job.ErrorMessage = reason
		if err := p.store.Update(ctx, job); err != nil {
			return nil, err
		}
	}

	p.logger.WarnContext(ctx, "job cancelled",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldProjectID, job.ProjectID),
		logging.String("reason", reason),
	)
	p.publisher.Publish(ctx, events.Event{
		Type:      events.TypeJobCancelled,
		ProjectID: job.ProjectID,
		Message:   fmt.Sprintf("job %s cancelled", job.ID),
		Payload: map[string]any{
			"job_id": job.ID,
			"reason": reason,
		},
	})
	p.runTerminalHooks(ctx, job)
	return job, nil
}

// ActiveCount reports how many of the project's jobs occupy concurrency
// slots.
func (p *ControlPlane) ActiveCount(ctx context.Context, projectID string) (int, error) {
	return p.store.CountActive(ctx, projectID)
}

func (p *ControlPlane) runTerminalHooks(ctx context.Context, job *Job) {
	p.mu.Lock()
	hooks := make([]func(context.Context, *Job), len(p.hooks))
	copy(hooks, p.hooks)
	p.mu.Unlock()

	for _, hook := range hooks {
		hook(ctx, job)
	}
}
