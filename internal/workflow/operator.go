package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

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
)

// commitRetries bounds how often a conflicted checkpoint write is reloaded
// and reapplied before the transition is reported as failed.
const commitRetries = 5

// StartPayload seeds or augments a project's workflow state.
type StartPayload struct {
	Title     string `json:"title,omitempty"`
	AudioPath string `json:"audio_path,omitempty"`
}

// RegenerateRequest targets one storyboard scene for re-generation.
type RegenerateRequest struct {
	SceneID            string `json:"scene_id"`
	ForceRegenerate    bool   `json:"force_regenerate,omitempty"`
	PromptModification string `json:"prompt_modification,omitempty"`
}

// Action is an operator's answer to a pending intervention.
type Action string

const (
	ActionAbort             Action = "abort"
	ActionRetry             Action = "retry"
	ActionRetryWithRevision Action = "retry-with-revised-params"
	ActionSkip              Action = "skip"
)

// Resolution resolves a pending intervention.
type Resolution struct {
	Action        Action         `json:"action"`
	RevisedParams map[string]any `json:"revised_params,omitempty"`
}

// UpdateAssetRequest promotes an existing asset version to best for a scene.
type UpdateAssetRequest struct {
	SceneID  string `json:"scene_id"`
	AssetKey string `json:"asset_key"`
	Version  int    `json:"version"`
}

// Operator drives the pipeline state machine for every project: it owns the
// checkpoint discipline (load latest, compute, append, then publish) and the
// five public operations the control surface exposes.
type Operator struct {
	checkpoints *checkpoint.Store
	plane       *jobs.ControlPlane
	dispatcher  *jobs.Dispatcher
	manager     *assets.Manager
	catalog     *catalog.Store
	provider    generation.Provider
	store       objectstore.Store
	renderer    render.Renderer
	publisher   events.Publisher
	logger      *slog.Logger

	maxRetries          int
	acceptanceThreshold float64
	retryBackoff        time.Duration
	pollInterval        time.Duration
	sleep               func(time.Duration)

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Deps bundles the operator's collaborators.
type Deps struct {
	Checkpoints *checkpoint.Store
	Plane       *jobs.ControlPlane
	Dispatcher  *jobs.Dispatcher
	Manager     *assets.Manager
	Catalog     *catalog.Store
	Provider    generation.Provider
	Store       objectstore.Store
	Renderer    render.Renderer
	Publisher   events.Publisher
	Logger      *slog.Logger
}

// NewOperator wires an operator from its collaborators and workflow settings.
func NewOperator(cfg config.Workflow, deps Deps) *Operator {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.Nop()
	}
	op := &Operator{
		checkpoints:         deps.Checkpoints,
		plane:               deps.Plane,
		dispatcher:          deps.Dispatcher,
		manager:             deps.Manager,
		catalog:             deps.Catalog,
		provider:            deps.Provider,
		store:               deps.Store,
		renderer:            deps.Renderer,
		publisher:           publisher,
		logger:              logging.NewComponentLogger(logger, "workflow"),
		maxRetries:          cfg.MaxRetries,
		acceptanceThreshold: cfg.AcceptanceThreshold,
		retryBackoff:        time.Duration(cfg.RetryBackoffSeconds) * time.Second,
		pollInterval:        time.Duration(cfg.PollInterval) * time.Second,
		sleep:               time.Sleep,
		locks:               make(map[string]*sync.Mutex),
	}
	if op.maxRetries <= 0 {
		op.maxRetries = 3
	}
	if op.acceptanceThreshold <= 0 {
		op.acceptanceThreshold = 0.9
	}
	if op.pollInterval <= 0 {
		op.pollInterval = time.Second
	}
	return op
}

// SetSleep overrides the backoff sleeper, used by tests to avoid real delays.
func (o *Operator) SetSleep(sleep func(time.Duration)) {
	if sleep != nil {
		o.sleep = sleep
	}
}

// projectLock serializes workflow advancement per project. Different projects
// advance concurrently; one project's graph moves one step at a time.
func (o *Operator) projectLock(projectID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[projectID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[projectID] = lock
	}
	return lock
}

// StartPipeline starts or resumes a project. With no prior checkpoint the
// payload seeds fresh state and the graph runs from the entry node. With one,
// the call is a resume: new payload fields merge into the persisted state and
// execution continues from where the last run stopped, so repeated starts
// never redo completed work.
func (o *Operator) StartPipeline(ctx context.Context, projectID string, payload StartPayload) error {
	if projectID == "" {
		return services.Wrap(services.ErrValidation, "", "start_pipeline", "project id is required", nil)
	}
	lock := o.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	ctx = services.WithProjectID(ctx, projectID)
	latest, err := o.checkpoints.Latest(ctx, projectID)
	if err != nil {
		return err
	}

	if latest == nil {
		if err := o.seedProject(ctx, projectID, payload); err != nil {
			return err
		}
		state := checkpoint.NewState(projectID)
		state.AudioPath = payload.AudioPath
		if _, err := o.checkpoints.Append(ctx, projectID, state, 0); err != nil {
			return err
		}
		o.publisher.Publish(ctx, events.Event{
			Type:      events.TypeWorkflowStarted,
			ProjectID: projectID,
			Message:   "workflow started",
		})
	} else {
		if err := o.mergePayload(ctx, projectID, payload); err != nil {
			return err
		}
		o.logger.InfoContext(ctx, "start treated as resume",
			logging.String(logging.FieldProjectID, projectID),
			logging.Int64("checkpoint_version", latest.Version),
		)
	}

	return o.run(ctx, projectID)
}

// ResumePipeline continues a previously started project. A project with no
// checkpoint is a user error: the failure is published as WORKFLOW_FAILED and
// the graph is never entered.
func (o *Operator) ResumePipeline(ctx context.Context, projectID string) error {
	if projectID == "" {
		return services.Wrap(services.ErrValidation, "", "resume_pipeline", "project id is required", nil)
	}
	lock := o.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	ctx = services.WithProjectID(ctx, projectID)
	latest, err := o.checkpoints.Latest(ctx, projectID)
	if err != nil {
		return err
	}
	if latest == nil {
		message := fmt.Sprintf("cannot resume project %s: no checkpoint exists", projectID)
		o.logger.ErrorContext(ctx, "resume refused", logging.String(logging.FieldProjectID, projectID))
		o.publisher.Publish(ctx, events.Event{
			Type:      events.TypeWorkflowFailed,
			ProjectID: projectID,
			Message:   message,
		})
		return services.Wrap(services.ErrValidation, "", "resume_pipeline", message, nil)
	}

	return o.run(ctx, projectID)
}

// RegenerateScene re-enters the graph at scene generation for one scene,
// carrying a prompt override. A missing checkpoint or an unknown scene id is
// a warning no-op: no checkpoint is written and no event published.
func (o *Operator) RegenerateScene(ctx context.Context, projectID string, req RegenerateRequest) error {
	if projectID == "" || req.SceneID == "" {
		return services.Wrap(services.ErrValidation, "", "regenerate_scene", "project id and scene id are required", nil)
	}
	lock := o.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	ctx = services.WithProjectID(ctx, projectID)
	latest, err := o.checkpoints.Latest(ctx, projectID)
	if err != nil {
		return err
	}
	if latest == nil {
		o.logger.WarnContext(ctx, "regenerate ignored: project has no checkpoint",
			logging.String(logging.FieldProjectID, projectID),
			logging.String(logging.FieldSceneID, req.SceneID),
		)
		return nil
	}
	if latest.State.Storyboard.Scene(req.SceneID) == nil {
		o.logger.WarnContext(ctx, "regenerate ignored: scene not in storyboard",
			logging.String(logging.FieldProjectID, projectID),
			logging.String(logging.FieldSceneID, req.SceneID),
		)
		return nil
	}

	err = o.transition(ctx, projectID, func(state *checkpoint.State) error {
		scene := state.Storyboard.Scene(req.SceneID)
		if scene == nil {
			return fmt.Errorf("scene %s: %w", req.SceneID, services.ErrNotFound)
		}
		if state.PromptOverrides == nil {
			state.PromptOverrides = make(map[string]string)
		}
		if req.PromptModification != "" {
			state.PromptOverrides[req.SceneID] = req.PromptModification
		}
		scene.Status = scenePending
		scene.Score = 0
		scene.Attempts = 0
		scene.Warning = false
		if req.ForceRegenerate {
			scene.VideoURI = ""
			scene.FrameURI = ""
		}
		// Directed jump: everything from scene generation onward reruns.
		state.MarkRerun(nodeGenerateScenes)
		state.MarkRerun(nodeEvaluate)
		state.MarkRerun(nodeAssemble)
		state.Phase = checkpoint.PhaseGenerating
		state.CurrentNode = nodeGenerateScenes
		return nil
	})
	if err != nil {
		return err
	}
	o.publisher.Publish(ctx, events.Event{
		Type:      events.TypeSceneStarted,
		ProjectID: projectID,
		SceneID:   req.SceneID,
		Message:   "scene queued for regeneration",
	})

	return o.run(ctx, projectID)
}

// ResolveIntervention applies an operator decision to the pending interrupt.
func (o *Operator) ResolveIntervention(ctx context.Context, projectID string, res Resolution) error {
	if projectID == "" {
		return services.Wrap(services.ErrValidation, "", "resolve_intervention", "project id is required", nil)
	}
	lock := o.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	ctx = services.WithProjectID(ctx, projectID)
	latest, err := o.checkpoints.Latest(ctx, projectID)
	if err != nil {
		return err
	}
	if latest == nil || latest.State.Interrupt == nil {
		return services.Wrap(services.ErrValidation, "", "resolve_intervention", "no pending intervention", nil)
	}
	interrupt := latest.State.Interrupt

	switch res.Action {
	case ActionAbort:
		err := o.transition(ctx, projectID, func(state *checkpoint.State) error {
			state.Interrupt = nil
			state.Phase = checkpoint.PhaseError
			state.PushError("canceled")
			return nil
		})
		if err != nil {
			return err
		}
		o.publisher.Publish(ctx, events.Event{
			Type:      events.TypeWorkflowFailed,
			ProjectID: projectID,
			Message:   "workflow canceled by operator",
			Payload:   map[string]any{"node": interrupt.NodeName, "reason": "canceled"},
		})
		return nil

	case ActionSkip:
		err := o.transition(ctx, projectID, func(state *checkpoint.State) error {
			state.Interrupt = nil
			state.MarkCompleted(interrupt.NodeName)
			state.Phase = checkpoint.PhaseGenerating
			return nil
		})
		if err != nil {
			return err
		}
		o.logger.WarnContext(ctx, "node skipped by operator, output missing",
			logging.String(logging.FieldProjectID, projectID),
			logging.String(logging.FieldNode, interrupt.NodeName),
		)
		return o.run(ctx, projectID)

	case ActionRetry, ActionRetryWithRevision:
		err := o.transition(ctx, projectID, func(state *checkpoint.State) error {
			state.Interrupt = nil
			state.Phase = checkpoint.PhaseGenerating
			// The paused node may have exhausted its job chain; reopen it so
			// the retry dispatches fresh work instead of re-reading the
			// terminal failure.
			state.MarkRerun(interrupt.NodeName)
			if res.Action == ActionRetryWithRevision && len(res.RevisedParams) > 0 {
				applyRevisedParams(state, interrupt, res.RevisedParams)
			}
			return nil
		})
		if err != nil {
			return err
		}
		return o.run(ctx, projectID)

	default:
		return services.Wrap(services.ErrValidation, "", "resolve_intervention", fmt.Sprintf("unknown action %q", res.Action), nil)
	}
}

// UpdateSceneAsset promotes a pre-existing version to best for one scene
// asset, makes the change checkpoint-durable, and publishes the full state.
func (o *Operator) UpdateSceneAsset(ctx context.Context, projectID string, req UpdateAssetRequest) error {
	if projectID == "" || req.SceneID == "" || req.AssetKey == "" {
		return services.Wrap(services.ErrValidation, "", "update_scene_asset", "project id, scene id, and asset key are required", nil)
	}
	lock := o.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	ctx = services.WithProjectID(ctx, projectID)

	// Validate the target before touching the registry: a promotion for a
	// scene the checkpoint does not know must leave the registry untouched.
	latest, err := o.checkpoints.Latest(ctx, projectID)
	if err != nil {
		return err
	}
	if latest == nil {
		return fmt.Errorf("project %s: %w", projectID, services.ErrNotFound)
	}
	if latest.State.Storyboard.Scene(req.SceneID) == nil {
		return fmt.Errorf("scene %s: %w", req.SceneID, services.ErrNotFound)
	}

	scope := assets.Scope{SceneID: req.SceneID}
	if err := o.manager.SetBest(ctx, scope, req.AssetKey, []int{req.Version}); err != nil {
		return err
	}

	registry, err := o.catalog.GetRegistry(ctx, assets.EntityRef{Kind: assets.KindScene, ID: req.SceneID})
	if err != nil {
		return err
	}
	best, ok := o.manager.Best(registry, req.AssetKey)
	if !ok {
		return fmt.Errorf("scene %s asset %s: no best version after promotion", req.SceneID, req.AssetKey)
	}

	err = o.transition(ctx, projectID, func(state *checkpoint.State) error {
		scene := state.Storyboard.Scene(req.SceneID)
		if scene == nil {
			return fmt.Errorf("scene %s: %w", req.SceneID, services.ErrNotFound)
		}
		if req.AssetKey == assetKeySceneVideo {
			scene.VideoURI = best.Data
		}
		if req.AssetKey == assetKeySceneFrame {
			scene.FrameURI = best.Data
		}
		return nil
	})
	if err != nil {
		return err
	}

	o.publishFullState(ctx, projectID)
	return nil
}

// InterventionState is the derived view over the latest checkpoint's pending
// interrupt.
type InterventionState struct {
	NodeName      string         `json:"node_name"`
	Error         string         `json:"error"`
	CurrentParams map[string]any `json:"current_params,omitempty"`
}

// PendingIntervention returns the project's pending interrupt, or nil.
func (o *Operator) PendingIntervention(ctx context.Context, projectID string) (*InterventionState, error) {
	latest, err := o.checkpoints.Latest(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if latest == nil || latest.State.Interrupt == nil {
		return nil, nil
	}
	interrupt := latest.State.Interrupt
	return &InterventionState{
		NodeName:      interrupt.NodeName,
		Error:         interrupt.Error,
		CurrentParams: interrupt.Params,
	}, nil
}

// ProjectState returns the latest durable state for a project, or nil when
// the project never started.
func (o *Operator) ProjectState(ctx context.Context, projectID string) (*checkpoint.State, error) {
	latest, err := o.checkpoints.Latest(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, nil
	}
	return latest.State, nil
}

// transition implements the mutate-then-commit discipline: load the latest
// checkpoint, apply the mutation to a clone, and append anchored to the
// loaded version. A conflicted append reloads and reapplies, so the loser of
// a race is retried rather than silently lost.
func (o *Operator) transition(ctx context.Context, projectID string, apply func(*checkpoint.State) error) error {
	for attempt := 0; attempt < commitRetries; attempt++ {
		latest, err := o.checkpoints.Latest(ctx, projectID)
		if err != nil {
			return err
		}
		var (
			state  *checkpoint.State
			parent int64
		)
		if latest == nil {
			state = checkpoint.NewState(projectID)
		} else {
			state = latest.State.Clone()
			parent = latest.Version
		}
		if err := apply(state); err != nil {
			return err
		}
		_, err = o.checkpoints.Append(ctx, projectID, state, parent)
		if err == nil {
			return nil
		}
		if !errors.Is(err, checkpoint.ErrConflict) {
			return err
		}
		o.logger.DebugContext(ctx, "checkpoint conflict, retrying transition",
			logging.String(logging.FieldProjectID, projectID),
			logging.Int(logging.FieldAttempt, attempt+1),
		)
	}
	return fmt.Errorf("project %s: transition lost %d consecutive checkpoint races", projectID, commitRetries)
}

func (o *Operator) publishFullState(ctx context.Context, projectID string) {
	latest, err := o.checkpoints.Latest(ctx, projectID)
	if err != nil || latest == nil {
		return
	}
	o.publisher.Publish(ctx, events.Event{
		Type:      events.TypeFullState,
		ProjectID: projectID,
		Payload: map[string]any{
			"version": latest.Version,
			"state":   latest.State,
		},
	})
}

func (o *Operator) seedProject(ctx context.Context, projectID string, payload StartPayload) error {
	project := &catalog.Project{
		ID:        projectID,
		Title:     payload.Title,
		AudioPath: payload.AudioPath,
		Assets:    assets.NewRegistry(),
	}
	return o.catalog.UpsertProject(ctx, project)
}

func (o *Operator) mergePayload(ctx context.Context, projectID string, payload StartPayload) error {
	if payload.Title == "" && payload.AudioPath == "" {
		return nil
	}
	if err := o.transition(ctx, projectID, func(state *checkpoint.State) error {
		if payload.AudioPath != "" {
			state.AudioPath = payload.AudioPath
			// Newly supplied audio invalidates the previously resolved
			// public URI; the analysis node re-resolves it.
			state.AudioPublicURL = ""
			state.MarkRerun(nodeAnalyzeAudio)
		}
		return nil
	}); err != nil {
		return err
	}

	project, err := o.catalog.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if payload.Title != "" {
		project.Title = payload.Title
	}
	if payload.AudioPath != "" {
		project.AudioPath = payload.AudioPath
	}
	return o.catalog.UpsertProject(ctx, project)
}

func applyRevisedParams(state *checkpoint.State, interrupt *checkpoint.Interrupt, revised map[string]any) {
	if sceneID, ok := stringParam(revised, "scene_id"); ok {
		if modification, ok := stringParam(revised, "prompt_modification"); ok {
			if state.PromptOverrides == nil {
				state.PromptOverrides = make(map[string]string)
			}
			state.PromptOverrides[sceneID] = modification
			return
		}
	}
	if modification, ok := stringParam(revised, "prompt_modification"); ok {
		if sceneID, ok := stringParam(interrupt.Params, "scene_id"); ok {
			if state.PromptOverrides == nil {
				state.PromptOverrides = make(map[string]string)
			}
			state.PromptOverrides[sceneID] = modification
		}
	}
}

func stringParam(params map[string]any, key string) (string, bool) {
	if params == nil {
		return "", false
	}
	value, ok := params[key].(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}
