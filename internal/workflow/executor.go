package workflow

import (
	"context"
	"errors"
	"fmt"

	"sceneflow/internal/checkpoint"
	"sceneflow/internal/events"
	"sceneflow/internal/jobs"
	"sceneflow/internal/logging"
	"sceneflow/internal/services"
)

// Node names, in graph order.
const (
	nodeAnalyzeAudio       = "analyze_audio"
	nodePlanStory          = "plan_story"
	nodeGenerateCharacters = "generate_characters"
	nodeGenerateLocations  = "generate_locations"
	nodeGenerateScenes     = "generate_scenes"
	nodeEvaluate           = "evaluate"
	nodeAssemble           = "assemble"
)

var nodeOrder = []string{
	nodeAnalyzeAudio,
	nodePlanStory,
	nodeGenerateCharacters,
	nodeGenerateLocations,
	nodeGenerateScenes,
	nodeEvaluate,
	nodeAssemble,
}

var nodeJobTypes = map[string]jobs.Type{
	nodeAnalyzeAudio:       jobs.TypeAudioAnalysis,
	nodePlanStory:          jobs.TypeStoryboard,
	nodeGenerateCharacters: jobs.TypeCharacterImage,
	nodeGenerateLocations:  jobs.TypeLocationImage,
	nodeGenerateScenes:     jobs.TypeSceneVideo,
	nodeEvaluate:           jobs.TypeQualityEvaluation,
	nodeAssemble:           jobs.TypeFinalAssembly,
}

// Scene status values carried in checkpoint snapshots.
const (
	scenePending   = "pending"
	sceneRunning   = "running"
	sceneCompleted = "completed"
)

// errJobHeld stops the run loop while a node's job sits behind the
// concurrency ceiling; the backlog sweep re-dispatches it later.
var errJobHeld = errors.New("job held by concurrency ceiling")

// InterventionError pauses the workflow for a human decision. It is a
// control-flow signal, not a failure: the graph stops advancing but the
// project is not failed.
type InterventionError struct {
	Node   string
	Params map[string]any
	Err    error
}

func (e *InterventionError) Error() string {
	return fmt.Sprintf("node %s needs intervention: %v", e.Node, e.Err)
}

func (e *InterventionError) Unwrap() error { return e.Err }

// run advances the project's graph node by node until it completes, pauses,
// or fails. Every node execution ends in a checkpoint write before any event
// describing it is published.
func (o *Operator) run(ctx context.Context, projectID string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		latest, err := o.checkpoints.Latest(ctx, projectID)
		if err != nil {
			return err
		}
		if latest == nil {
			return fmt.Errorf("project %s: %w", projectID, services.ErrNotFound)
		}
		state := latest.State
		if state.Interrupt != nil {
			o.logger.InfoContext(ctx, "workflow paused on intervention",
				logging.String(logging.FieldProjectID, projectID),
				logging.String(logging.FieldNode, state.Interrupt.NodeName),
			)
			return nil
		}
		if state.Phase == checkpoint.PhaseError || state.Phase == checkpoint.PhaseComplete {
			return nil
		}

		node := nextNode(state)
		if node == "" {
			return nil
		}
		if err := o.executeNode(ctx, projectID, node, state); err != nil {
			if errors.Is(err, errJobHeld) {
				return nil
			}
			return err
		}
	}
}

func nextNode(state *checkpoint.State) string {
	for _, node := range nodeOrder {
		if !state.NodeCompleted(node) {
			return node
		}
	}
	return ""
}

// executeNode runs one node under a dispatched job, translating interrupts
// into paused state and other failures into retries or interventions.
func (o *Operator) executeNode(ctx context.Context, projectID, node string, state *checkpoint.State) error {
	ctx = services.WithNode(ctx, node)

	// A reopened node gets a distinct job chain; neither a finished nor an
	// exhausted predecessor may satisfy the new execution.
	opts := jobs.EnsureOptions{MaxRetries: o.maxRetries}
	if run := state.RunOf(node); run > 0 {
		opts.UniqueKey = fmt.Sprintf("run%d", run)
	}
	job, err := o.dispatcher.EnsureJob(ctx, projectID, node, nodeJobTypes[node], nil, opts)
	if err != nil {
		return err
	}
	ctx = services.WithJobID(ctx, job.ID)

	if job.Terminal() {
		if job.State == jobs.StateCompleted {
			// A finished prior attempt: record completion and move on.
			return o.transition(ctx, projectID, func(state *checkpoint.State) error {
				state.MarkCompleted(node)
				return nil
			})
		}
		return o.pauseForIntervention(ctx, projectID, node, map[string]any{"job_id": job.ID},
			fmt.Errorf("job %s exhausted retries: %s", job.ID, job.ErrorMessage))
	}
	if job.State == jobs.StateCreated {
		// Held by the concurrency ceiling; the job stays visible for a later
		// sweep, and the graph does not advance past it.
		o.logger.InfoContext(ctx, "node held by concurrency ceiling",
			logging.String(logging.FieldJobID, job.ID),
		)
		return errJobHeld
	}

	if _, err := o.plane.UpdateJobState(ctx, job.ID, jobs.StateRunning, nil, ""); err != nil {
		return err
	}
	if err := o.transition(ctx, projectID, func(state *checkpoint.State) error {
		state.CurrentNode = node
		state.RecordAttempt(node)
		return nil
	}); err != nil {
		return err
	}

	nodeErr := o.runNode(ctx, projectID, node)
	if nodeErr == nil {
		if _, err := o.plane.UpdateJobState(ctx, job.ID, jobs.StateCompleted, nil, ""); err != nil {
			return err
		}
		return o.transition(ctx, projectID, func(state *checkpoint.State) error {
			state.MarkCompleted(node)
			return nil
		})
	}

	if _, err := o.plane.UpdateJobState(ctx, job.ID, jobs.StateFailed, nil, nodeErr.Error()); err != nil {
		return err
	}

	var intervention *InterventionError
	if errors.As(nodeErr, &intervention) {
		return o.pauseForIntervention(ctx, projectID, node, intervention.Params, intervention.Err)
	}

	if services.Classify(nodeErr) == services.DispositionRetry && job.Attempt < o.maxRetries {
		o.logger.WarnContext(ctx, "node failed, will re-dispatch",
			logging.String(logging.FieldNode, node),
			logging.Int(logging.FieldAttempt, job.Attempt),
			logging.Error(nodeErr),
		)
		if o.retryBackoff > 0 {
			o.sleep(o.retryBackoff)
		}
		// The run loop re-enters this node; EnsureJob chains to the next
		// attempt because the current job is now failed.
		return nil
	}
	return o.pauseForIntervention(ctx, projectID, node, nil, nodeErr)
}

// pauseForIntervention captures the failure into the checkpoint and only then
// announces it.
func (o *Operator) pauseForIntervention(ctx context.Context, projectID, node string, params map[string]any, cause error) error {
	err := o.transition(ctx, projectID, func(state *checkpoint.State) error {
		state.Interrupt = &checkpoint.Interrupt{
			NodeName: node,
			Error:    cause.Error(),
			Params:   params,
		}
		state.Phase = checkpoint.PhasePaused
		state.PushError(cause.Error())
		return nil
	})
	if err != nil {
		return err
	}
	o.publisher.Publish(ctx, events.Event{
		Type:      events.TypeInterventionNeeded,
		ProjectID: projectID,
		Message:   fmt.Sprintf("node %s needs attention: %s", node, services.Details(cause).Message),
		Payload: map[string]any{
			"node":   node,
			"error":  cause.Error(),
			"params": params,
		},
	})
	return nil
}

func (o *Operator) runNode(ctx context.Context, projectID, node string) error {
	latest, err := o.checkpoints.Latest(ctx, projectID)
	if err != nil {
		return err
	}
	if latest == nil {
		return fmt.Errorf("project %s: %w", projectID, services.ErrNotFound)
	}
	state := latest.State

	switch node {
	case nodeAnalyzeAudio:
		return o.analyzeAudio(ctx, projectID, state)
	case nodePlanStory:
		return o.planStory(ctx, projectID, state)
	case nodeGenerateCharacters:
		return o.generateCharacters(ctx, projectID, state)
	case nodeGenerateLocations:
		return o.generateLocations(ctx, projectID, state)
	case nodeGenerateScenes:
		return o.generateScenes(ctx, projectID, state)
	case nodeEvaluate:
		return o.evaluateProgress(ctx, projectID, state)
	case nodeAssemble:
		return o.assemble(ctx, projectID, state)
	default:
		return fmt.Errorf("unknown node %q", node)
	}
}
