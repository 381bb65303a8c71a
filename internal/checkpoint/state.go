package checkpoint

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Phase is the coarse lifecycle position of a project's workflow.
type Phase string

const (
	PhaseAnalyzing  Phase = "analyzing"
	PhaseGenerating Phase = "generating"
	PhaseEvaluating Phase = "evaluating"
	PhaseComplete   Phase = "complete"
	PhaseError      Phase = "error"
	PhasePaused     Phase = "paused"
)

// Interrupt captures a generation failure that needs a human decision. It is
// persisted inside the checkpoint so the pending question survives restarts.
type Interrupt struct {
	NodeName string         `json:"node_name"`
	Error    string         `json:"error"`
	Params   map[string]any `json:"params,omitempty"`
}

// SceneSnapshot is the workflow's view of one storyboard scene.
type SceneSnapshot struct {
	ID              string   `json:"id"`
	Index           int      `json:"index"`
	Title           string   `json:"title,omitempty"`
	Prompt          string   `json:"prompt,omitempty"`
	Status          string   `json:"status,omitempty"`
	DurationSeconds float64  `json:"duration_seconds,omitempty"`
	CharacterIDs    []string `json:"character_ids,omitempty"`
	LocationIDs     []string `json:"location_ids,omitempty"`
	FrameURI        string   `json:"frame_uri,omitempty"`
	VideoURI        string   `json:"video_uri,omitempty"`
	Score           float64  `json:"score,omitempty"`
	Attempts        int      `json:"attempts,omitempty"`
	Warning         bool     `json:"warning,omitempty"`
}

// Storyboard is the planned scene list produced by the story node.
type Storyboard struct {
	Summary string          `json:"summary,omitempty"`
	Style   string          `json:"style,omitempty"`
	Scenes  []SceneSnapshot `json:"scenes"`
}

// Scene returns the snapshot with the given id, or nil when absent.
func (b *Storyboard) Scene(sceneID string) *SceneSnapshot {
	if b == nil {
		return nil
	}
	for i := range b.Scenes {
		if b.Scenes[i].ID == sceneID {
			return &b.Scenes[i]
		}
	}
	return nil
}

// Metrics accumulates per-node and per-scene progress counters used for
// completion estimates.
type Metrics struct {
	NodeAttempts map[string]int       `json:"node_attempts,omitempty"`
	SceneScores  map[string][]float64 `json:"scene_scores,omitempty"`
}

// State is the full durable workflow state for one project. Everything the
// operator needs to resume after a crash lives here.
type State struct {
	ProjectID       string            `json:"project_id"`
	Phase           Phase             `json:"phase"`
	CurrentNode     string            `json:"current_node,omitempty"`
	CompletedNodes  []string          `json:"completed_nodes,omitempty"`
	AudioPath       string            `json:"audio_path,omitempty"`
	AudioPublicURL  string            `json:"audio_public_url,omitempty"`
	Storyboard      *Storyboard       `json:"storyboard,omitempty"`
	PromptOverrides map[string]string `json:"prompt_overrides,omitempty"`
	Interrupt       *Interrupt        `json:"interrupt,omitempty"`
	NodeRuns        map[string]int    `json:"node_runs,omitempty"`
	Metrics         Metrics           `json:"metrics,omitempty"`
	ErrorStack      []string          `json:"error_stack,omitempty"`
	FinalVideoURI   string            `json:"final_video_uri,omitempty"`
}

// NewState seeds an initial state for a project that has never run.
func NewState(projectID string) *State {
	return &State{
		ProjectID: projectID,
		Phase:     PhaseAnalyzing,
	}
}

// Clone returns a deep copy. Transitions operate on a clone so a conflicted
// write can be retried from the reloaded checkpoint without dragging along
// half-applied mutations.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	encoded, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("checkpoint state not serializable: %v", err))
	}
	var cp State
	if err := json.Unmarshal(encoded, &cp); err != nil {
		panic(fmt.Sprintf("checkpoint state round-trip: %v", err))
	}
	return &cp
}

// NodeCompleted reports whether the named node already ran to completion.
func (s *State) NodeCompleted(name string) bool {
	return s != nil && slices.Contains(s.CompletedNodes, name)
}

// MarkCompleted records a node as finished exactly once.
func (s *State) MarkCompleted(name string) {
	if s.NodeCompleted(name) {
		return
	}
	s.CompletedNodes = append(s.CompletedNodes, name)
}

// MarkRerun reopens a node so its next execution dispatches a fresh job
// chain. For a completed node this is a directed jump; for a failed node it
// abandons the exhausted chain instead of re-reading its terminal row.
func (s *State) MarkRerun(name string) {
	s.CompletedNodes = slices.DeleteFunc(s.CompletedNodes, func(v string) bool { return v == name })
	if s.NodeRuns == nil {
		s.NodeRuns = make(map[string]int)
	}
	s.NodeRuns[name]++
}

// RunOf returns how many times the named node was reopened.
func (s *State) RunOf(name string) int {
	if s == nil {
		return 0
	}
	return s.NodeRuns[name]
}

// RecordAttempt bumps the attempt counter for a node.
func (s *State) RecordAttempt(node string) {
	if s.Metrics.NodeAttempts == nil {
		s.Metrics.NodeAttempts = make(map[string]int)
	}
	s.Metrics.NodeAttempts[node]++
}

// RecordSceneScore appends a quality score to a scene's history.
func (s *State) RecordSceneScore(sceneID string, score float64) {
	if s.Metrics.SceneScores == nil {
		s.Metrics.SceneScores = make(map[string][]float64)
	}
	s.Metrics.SceneScores[sceneID] = append(s.Metrics.SceneScores[sceneID], score)
}

// PushError appends to the state's error stack, newest last.
func (s *State) PushError(message string) {
	if message == "" {
		return
	}
	s.ErrorStack = append(s.ErrorStack, message)
}
