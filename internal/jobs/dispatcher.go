package jobs

import (
	"context"
	"log/slog"
	"sync"

	"sceneflow/internal/logging"
)

// EnsureOptions refines how a dispatch request is keyed and retried.
type EnsureOptions struct {
	// UniqueKey distinguishes parallel dispatches of the same node, such as
	// per-scene frame jobs. Empty means the node dispatches at most once per
	// attempt.
	UniqueKey string
	// MaxRetries bounds how many follow-up attempts EnsureJob will chain
	// past a failed job before surfacing the failure.
	MaxRetries int
}

// BatchItem is one entry of an EnsureBatch request.
type BatchItem struct {
	Key     string
	Payload any
}

// BatchResult pairs a batch entry with its dispatch outcome. Err is set when
// that entry failed; other entries proceed regardless.
type BatchResult struct {
	Key string
	Job *Job
	Err error
}

// Dispatcher admits pipeline work idempotently. Job identity is derived from
// the dispatch coordinates, so replays after a crash converge on the rows the
// previous run already wrote instead of duplicating work. A per-project
// concurrency ceiling holds excess jobs in the created state until running
// work finishes.
type Dispatcher struct {
	plane   *ControlPlane
	ceiling int
	logger  *slog.Logger

	// mu serializes admission decisions so concurrent EnsureJob calls cannot
	// both read a stale active count and overshoot the ceiling.
	mu sync.Mutex
}

// NewDispatcher builds a dispatcher over the control plane with the given
// per-project concurrency ceiling. The dispatcher registers a terminal hook
// so finished jobs immediately release held backlog.
func NewDispatcher(plane *ControlPlane, maxConcurrent int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	d := &Dispatcher{
		plane:   plane,
		ceiling: maxConcurrent,
		logger:  logging.NewComponentLogger(logger, "dispatcher"),
	}
	plane.OnTerminal(func(ctx context.Context, job *Job) {
		d.ReleaseBacklog(ctx, job.ProjectID)
	})
	return d
}

// EnsureJob dispatches one unit of work exactly once per coordinate set.
//
// If a job with the same identity already exists its current row is returned
// untouched, whatever its state; completed results are reused and in-flight
// work is not duplicated. A failed prior attempt chains to the next attempt
// number as long as retries remain, so the caller always receives either a
// live job or the exhausted failure row.
func (d *Dispatcher) EnsureJob(ctx context.Context, projectID, node string, jobType Type, payload any, opts EnsureOptions) (*Job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ensureLocked(ctx, projectID, node, jobType, payload, opts, 0)
}

func (d *Dispatcher) ensureLocked(ctx context.Context, projectID, node string, jobType Type, payload any, opts EnsureOptions, attempt int) (*Job, error) {
	id := JobID(projectID, node, opts.UniqueKey, attempt)
	existing, err := d.plane.LookupJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.State == StateFailed && attempt < opts.MaxRetries {
			d.logger.InfoContext(ctx, "prior attempt failed, chaining retry",
				logging.String(logging.FieldJobID, existing.ID),
				logging.Int(logging.FieldAttempt, attempt+1),
			)
			return d.ensureLocked(ctx, projectID, node, jobType, payload, opts, attempt+1)
		}
		d.logger.DebugContext(ctx, "dispatch deduplicated",
			logging.String(logging.FieldJobID, existing.ID),
			logging.String("state", string(existing.State)),
		)
		return existing, nil
	}

	state := StateCreated
	active, err := d.plane.ActiveCount(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if active < d.ceiling {
		state = StateDispatched
	} else {
		d.logger.InfoContext(ctx, "concurrency ceiling reached, holding job",
			logging.String(logging.FieldProjectID, projectID),
			logging.String(logging.FieldJobID, id),
			logging.Int("active", active),
			logging.Int("ceiling", d.ceiling),
		)
	}

	return d.plane.CreateJob(ctx, CreateParams{
		ID:         id,
		Type:       jobType,
		ProjectID:  projectID,
		Payload:    payload,
		MaxRetries: opts.MaxRetries,
		Attempt:    attempt,
		State:      state,
	})
}

// EnsureBatch dispatches a set of sibling jobs under one node, keyed per
// item. Entries are independent: a failure in one neither blocks nor undoes
// the others, and the caller receives a result per entry in input order.
func (d *Dispatcher) EnsureBatch(ctx context.Context, projectID, node string, jobType Type, items []BatchItem, opts EnsureOptions) []BatchResult {
	results := make([]BatchResult, 0, len(items))
	for _, item := range items {
		itemOpts := opts
		itemOpts.UniqueKey = item.Key
		job, err := d.EnsureJob(ctx, projectID, node, jobType, item.Payload, itemOpts)
		results = append(results, BatchResult{Key: item.Key, Job: job, Err: err})
	}
	return results
}

// ReleaseBacklog promotes held jobs into dispatched, oldest first, until the
// project's ceiling is filled again. It runs automatically whenever a job
// finishes and may be called directly after ceiling changes.
func (d *Dispatcher) ReleaseBacklog(ctx context.Context, projectID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	active, err := d.plane.ActiveCount(ctx, projectID)
	if err != nil {
		d.logger.ErrorContext(ctx, "backlog sweep failed",
			logging.String(logging.FieldProjectID, projectID),
			logging.Error(err),
		)
		return
	}
	slots := d.ceiling - active
	if slots <= 0 {
		return
	}

	held, err := d.plane.store.OldestHeld(ctx, projectID, slots)
	if err != nil {
		d.logger.ErrorContext(ctx, "backlog sweep failed",
			logging.String(logging.FieldProjectID, projectID),
			logging.Error(err),
		)
		return
	}
	for _, job := range held {
		if _, err := d.plane.UpdateJobState(ctx, job.ID, StateDispatched, nil, ""); err != nil {
			d.logger.ErrorContext(ctx, "failed to release held job",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err),
			)
			continue
		}
		d.logger.InfoContext(ctx, "released held job",
			logging.String(logging.FieldProjectID, projectID),
			logging.String(logging.FieldJobID, job.ID),
		)
	}
}
