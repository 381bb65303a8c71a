package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"sceneflow/internal/assets"
	"sceneflow/internal/catalog"
	"sceneflow/internal/checkpoint"
	"sceneflow/internal/config"
	"sceneflow/internal/events"
	"sceneflow/internal/generation"
	"sceneflow/internal/jobs"
	"sceneflow/internal/logging"
	"sceneflow/internal/objectstore"
	"sceneflow/internal/render"
	"sceneflow/internal/services"
	"sceneflow/internal/workflow"
)

// Daemon assembles the pipeline runtime: stores, provider, operator, and the
// event hub. It enforces single-instance execution through a file lock and
// runs pipeline work on background goroutines so control calls return fast.
type Daemon struct {
	cfg         *config.Config
	logger      *slog.Logger
	jobStore    *jobs.Store
	checkpoints *checkpoint.Store
	catalog     *catalog.Store
	plane       *jobs.ControlPlane
	hub         *events.Hub
	operator    *workflow.Operator

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New opens every store and wires the operator. The provider client is built
// from configuration; pass a non-nil provider or renderer to substitute either,
// which tests use to avoid real model calls.
func New(cfg *config.Config, logger *slog.Logger, provider generation.Provider, renderer render.Renderer) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	jobStore, err := jobs.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	checkpoints, err := checkpoint.Open(cfg)
	if err != nil {
		_ = jobStore.Close()
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	catalogStore, err := catalog.Open(cfg)
	if err != nil {
		_ = jobStore.Close()
		_ = checkpoints.Close()
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	blob, err := objectstore.NewFS(cfg.ObjectStore)
	if err != nil {
		_ = jobStore.Close()
		_ = checkpoints.Close()
		_ = catalogStore.Close()
		return nil, fmt.Errorf("open object store: %w", err)
	}

	hub := events.NewHub(cfg.Events.BufferCapacity, logger)
	plane := jobs.NewControlPlane(jobStore, hub, logger)
	dispatcher := jobs.NewDispatcher(plane, cfg.Workflow.MaxConcurrentJobs, logger)
	manager := assets.NewManager(catalogStore, logger)
	if provider == nil {
		provider = generation.NewClient(cfg.Provider)
	}
	if renderer == nil {
		renderer = render.NewFFmpeg(blob, cfg.Paths.MediaDir, logger)
	}

	operator := workflow.NewOperator(cfg.Workflow, workflow.Deps{
		Checkpoints: checkpoints,
		Plane:       plane,
		Dispatcher:  dispatcher,
		Manager:     manager,
		Catalog:     catalogStore,
		Provider:    provider,
		Store:       blob,
		Renderer:    renderer,
		Publisher:   hub,
		Logger:      logger,
	})

	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:         cfg,
		logger:      logging.NewComponentLogger(logger, "daemon"),
		jobStore:    jobStore,
		checkpoints: checkpoints,
		catalog:     catalogStore,
		plane:       plane,
		hub:         hub,
		operator:    operator,
		lockPath:    lockPath,
		lock:        flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock and marks the daemon ready for work.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another sceneflow daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.running.Store(true)
	d.logger.Info("sceneflow daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop cancels in-flight pipeline runs, waits for them to unwind, and
// releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("sceneflow daemon stopped")
}

// Close stops the daemon and closes every store.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.jobStore != nil {
		errs = append(errs, d.jobStore.Close())
	}
	if d.checkpoints != nil {
		errs = append(errs, d.checkpoints.Close())
	}
	if d.catalog != nil {
		errs = append(errs, d.catalog.Close())
	}
	return errors.Join(errs...)
}

// Running reports whether the daemon holds the instance lock.
func (d *Daemon) Running() bool { return d.running.Load() }

// Wait blocks until every background pipeline run has finished.
func (d *Daemon) Wait() { d.wg.Wait() }

// Hub exposes the event hub, e.g. for extra sinks.
func (d *Daemon) Hub() *events.Hub { return d.hub }

func (d *Daemon) spawn(name, projectID string, run func(ctx context.Context) error) error {
	if !d.running.Load() {
		return errors.New("daemon is not running")
	}
	ctx := d.ctx
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.ErrorContext(ctx, "pipeline run failed",
				logging.String("operation", name),
				logging.String(logging.FieldProjectID, projectID),
				logging.Error(err),
			)
		}
	}()
	return nil
}

// StartProject seeds or resumes a project and advances its pipeline in the
// background. Progress is observable through events and project status.
func (d *Daemon) StartProject(ctx context.Context, projectID string, payload workflow.StartPayload) error {
	if projectID == "" {
		return services.Wrap(services.ErrValidation, "", "start_project", "project id is required", nil)
	}
	return d.spawn("start", projectID, func(ctx context.Context) error {
		return d.operator.StartPipeline(ctx, projectID, payload)
	})
}

// ResumeProject continues a checkpointed project in the background. A project
// without a checkpoint fails synchronously so the caller sees the refusal.
func (d *Daemon) ResumeProject(ctx context.Context, projectID string) error {
	if projectID == "" {
		return services.Wrap(services.ErrValidation, "", "resume_project", "project id is required", nil)
	}
	state, err := d.operator.ProjectState(ctx, projectID)
	if err != nil {
		return err
	}
	if state == nil {
		return d.operator.ResumePipeline(ctx, projectID)
	}
	return d.spawn("resume", projectID, func(ctx context.Context) error {
		return d.operator.ResumePipeline(ctx, projectID)
	})
}

// RegenerateScene queues a directed re-generation of one scene.
func (d *Daemon) RegenerateScene(ctx context.Context, projectID string, req workflow.RegenerateRequest) error {
	if projectID == "" || req.SceneID == "" {
		return services.Wrap(services.ErrValidation, "", "regenerate_scene", "project id and scene id are required", nil)
	}
	return d.spawn("regenerate", projectID, func(ctx context.Context) error {
		return d.operator.RegenerateScene(ctx, projectID, req)
	})
}

// ResolveIntervention answers a pending interrupt. Validation happens
// synchronously; the continued run happens in the background.
func (d *Daemon) ResolveIntervention(ctx context.Context, projectID string, res Resolution) error {
	if projectID == "" {
		return services.Wrap(services.ErrValidation, "", "resolve_intervention", "project id is required", nil)
	}
	switch res.Action {
	case workflow.ActionAbort, workflow.ActionRetry, workflow.ActionRetryWithRevision, workflow.ActionSkip:
	default:
		return services.Wrap(services.ErrValidation, "", "resolve_intervention", fmt.Sprintf("unknown action %q", res.Action), nil)
	}
	pending, err := d.operator.PendingIntervention(ctx, projectID)
	if err != nil {
		return err
	}
	if pending == nil {
		return services.Wrap(services.ErrValidation, "", "resolve_intervention", "no pending intervention", nil)
	}
	return d.spawn("resolve", projectID, func(ctx context.Context) error {
		return d.operator.ResolveIntervention(ctx, projectID, res)
	})
}

// Resolution aliases the workflow resolution payload for IPC callers.
type Resolution = workflow.Resolution

// UpdateSceneAsset promotes an existing asset version to best. The call is
// synchronous: it touches only the registry and one checkpoint write.
func (d *Daemon) UpdateSceneAsset(ctx context.Context, projectID string, req workflow.UpdateAssetRequest) error {
	return d.operator.UpdateSceneAsset(ctx, projectID, req)
}

// PendingIntervention exposes the operator's interrupt view.
func (d *Daemon) PendingIntervention(ctx context.Context, projectID string) (*workflow.InterventionState, error) {
	return d.operator.PendingIntervention(ctx, projectID)
}

// ProjectSummary is the per-project status row.
type ProjectSummary struct {
	ProjectID       string `json:"project_id"`
	Title           string `json:"title,omitempty"`
	Phase           string `json:"phase"`
	CurrentNode     string `json:"current_node,omitempty"`
	ScenesTotal     int    `json:"scenes_total"`
	ScenesCompleted int    `json:"scenes_completed"`
	Intervention    bool   `json:"intervention"`
	FinalVideoURI   string `json:"final_video_uri,omitempty"`
}

// Status is the daemon's runtime snapshot.
type Status struct {
	Running    bool             `json:"running"`
	PID        int              `json:"pid"`
	SocketPath string           `json:"socket_path"`
	LockPath   string           `json:"lock_path"`
	JobsDBPath string           `json:"jobs_db_path"`
	Projects   []ProjectSummary `json:"projects,omitempty"`
}

// Status summarizes the daemon and every known project.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	status := Status{
		Running:    d.running.Load(),
		PID:        os.Getpid(),
		SocketPath: d.cfg.Paths.SocketPath,
		LockPath:   d.lockPath,
		JobsDBPath: d.jobStore.Path(),
	}
	projects, err := d.ListProjects(ctx)
	if err != nil {
		return status, err
	}
	status.Projects = projects
	return status, nil
}

// ListProjects summarizes every project that ever checkpointed.
func (d *Daemon) ListProjects(ctx context.Context) ([]ProjectSummary, error) {
	ids, err := d.checkpoints.ProjectIDs(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]ProjectSummary, 0, len(ids))
	for _, id := range ids {
		summary, err := d.summarize(ctx, id)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (d *Daemon) summarize(ctx context.Context, projectID string) (ProjectSummary, error) {
	summary := ProjectSummary{ProjectID: projectID}
	latest, err := d.checkpoints.Latest(ctx, projectID)
	if err != nil {
		return summary, err
	}
	if latest == nil {
		return summary, nil
	}
	state := latest.State
	summary.Phase = string(state.Phase)
	summary.CurrentNode = state.CurrentNode
	summary.Intervention = state.Interrupt != nil
	summary.FinalVideoURI = state.FinalVideoURI
	if state.Storyboard != nil {
		summary.ScenesTotal = len(state.Storyboard.Scenes)
		for _, scene := range state.Storyboard.Scenes {
			if scene.Status == "completed" {
				summary.ScenesCompleted++
			}
		}
	}
	if project, err := d.catalog.GetProject(ctx, projectID); err == nil {
		summary.Title = project.Title
	} else if !errors.Is(err, services.ErrNotFound) {
		return summary, err
	}
	return summary, nil
}

// ProjectDetail pairs the summary with the full durable state.
type ProjectDetail struct {
	Summary ProjectSummary    `json:"summary"`
	Version int64             `json:"checkpoint_version"`
	State   *checkpoint.State `json:"state"`
}

// DescribeProject returns the project's latest checkpointed state, or an
// error when the project never started.
func (d *Daemon) DescribeProject(ctx context.Context, projectID string) (*ProjectDetail, error) {
	latest, err := d.checkpoints.Latest(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, fmt.Errorf("project %s: %w", projectID, services.ErrNotFound)
	}
	summary, err := d.summarize(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &ProjectDetail{Summary: summary, Version: latest.Version, State: latest.State}, nil
}

// ListJobs returns a project's jobs, optionally filtered by state.
func (d *Daemon) ListJobs(ctx context.Context, projectID string, state string) ([]*jobs.Job, error) {
	var filter jobs.State
	if state != "" {
		parsed, ok := jobs.ParseState(state)
		if !ok {
			return nil, services.Wrap(services.ErrValidation, "", "list_jobs", fmt.Sprintf("unknown job state %q", state), nil)
		}
		filter = parsed
	}
	return d.plane.ListJobs(ctx, projectID, filter)
}

// CancelJob force-cancels a job regardless of state.
func (d *Daemon) CancelJob(ctx context.Context, jobID, reason string) (*jobs.Job, error) {
	return d.plane.CancelJob(ctx, jobID, reason)
}

// Events returns buffered events after the given sequence number. With wait
// set the call blocks until an event arrives or the context ends.
func (d *Daemon) Events(ctx context.Context, since uint64, limit int, wait bool) ([]events.Event, uint64, error) {
	return d.hub.Fetch(ctx, since, limit, wait)
}
