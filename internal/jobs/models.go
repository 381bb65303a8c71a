package jobs

import (
	"fmt"
	"strings"
	"time"
)

// Type enumerates the pipeline task kinds a job can carry.
type Type string

const (
	TypeAudioAnalysis     Type = "audio_analysis"
	TypeStoryboard        Type = "storyboard_generation"
	TypeCharacterImage    Type = "character_image_generation"
	TypeLocationImage     Type = "location_image_generation"
	TypeFrameGeneration   Type = "frame_generation"
	TypeSceneVideo        Type = "scene_video_generation"
	TypeQualityEvaluation Type = "quality_evaluation"
	TypeFinalAssembly     Type = "final_assembly"
)

// State represents the lifecycle of a job.
type State string

const (
	StateCreated    State = "created"
	StateDispatched State = "dispatched"
	StateRunning    State = "running"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

var allStates = []State{
	StateCreated,
	StateDispatched,
	StateRunning,
	StateCompleted,
	StateFailed,
	StateCancelled,
}

var stateSet = func() map[State]struct{} {
	set := make(map[State]struct{}, len(allStates))
	for _, state := range allStates {
		set[state] = struct{}{}
	}
	return set
}()

var terminalStates = map[State]struct{}{
	StateCompleted: {},
	StateFailed:    {},
	StateCancelled: {},
}

// activeStates are the states that count against the per-project concurrency
// ceiling: work that has been admitted but not finished.
var activeStates = []State{StateDispatched, StateRunning}

// Job is one dispatchable unit of pipeline work.
type Job struct {
	ID           string
	Type         Type
	ProjectID    string
	State        State
	PayloadJSON  string
	ResultJSON   string
	ErrorMessage string
	Attempt      int
	MaxRetries   int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	if j == nil {
		return false
	}
	_, ok := terminalStates[j.State]
	return ok
}

// Active reports whether the job counts against the concurrency ceiling.
func (j *Job) Active() bool {
	if j == nil {
		return false
	}
	return j.State == StateDispatched || j.State == StateRunning
}

// ParseState converts a string into a known State.
func ParseState(value string) (State, bool) {
	normalized := State(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stateSet[normalized]
	return normalized, ok
}

// AllStates returns the ordered list of known states.
func AllStates() []State {
	cp := make([]State, len(allStates))
	copy(cp, allStates)
	return cp
}

// JobID builds the deterministic job identifier from its dispatch
// coordinates. This is the storage key contract: the id is
// {projectID}-{node}, extended with -{uniqueKey} when a unique key is given
// and with -{attempt} for attempts after the first. Re-invoking with
// identical coordinates always yields the same id, which is what makes
// dispatch idempotent.
func JobID(projectID, node, uniqueKey string, attempt int) string {
	var b strings.Builder
	b.WriteString(projectID)
	b.WriteByte('-')
	b.WriteString(node)
	if uniqueKey = strings.TrimSpace(uniqueKey); uniqueKey != "" {
		b.WriteByte('-')
		b.WriteString(uniqueKey)
	}
	if attempt > 0 {
		b.WriteString(fmt.Sprintf("-%d", attempt))
	}
	return b.String()
}
