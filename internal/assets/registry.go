package assets

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sceneflow/internal/quality"
)

// Type classifies the payload of an asset version.
type Type string

const (
	TypeVideo Type = "video"
	TypeImage Type = "image"
	TypeAudio Type = "audio"
	TypeText  Type = "text"
	TypeJSON  Type = "json"
)

// Metadata records how a version came to exist.
type Metadata struct {
	Model      string              `json:"model,omitempty"`
	JobID      string              `json:"job_id,omitempty"`
	Prompt     string              `json:"prompt,omitempty"`
	Evaluation *quality.Evaluation `json:"evaluation,omitempty"`
	Extra      map[string]any      `json:"extra,omitempty"`
}

// Version is one immutable artifact instance within a history.
type Version struct {
	Version   int       `json:"version"`
	Data      string    `json:"data"`
	Type      Type      `json:"type"`
	Metadata  Metadata  `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

// History is the append-only version list for one asset key. Head is the
// highest version ever created; Best is the currently canonical version.
// Versions are never mutated or deleted; rollback moves Best.
type History struct {
	Head     int       `json:"head"`
	Best     int       `json:"best"`
	Versions []Version `json:"versions"`
}

// Get returns the version with the given number.
func (h *History) Get(version int) (Version, bool) {
	if h == nil {
		return Version{}, false
	}
	for _, v := range h.Versions {
		if v.Version == version {
			return v, true
		}
	}
	return Version{}, false
}

// Latest returns the most recently created version.
func (h *History) Latest() (Version, bool) {
	if h == nil || len(h.Versions) == 0 {
		return Version{}, false
	}
	return h.Versions[len(h.Versions)-1], true
}

// BestVersion returns the currently canonical version.
func (h *History) BestVersion() (Version, bool) {
	if h == nil || h.Best == 0 {
		return Version{}, false
	}
	return h.Get(h.Best)
}

func (h *History) clone() *History {
	if h == nil {
		return &History{}
	}
	cp := &History{Head: h.Head, Best: h.Best}
	cp.Versions = append([]Version(nil), h.Versions...)
	return cp
}

// Registry maps asset keys to their histories for one owning entity. Each
// registry object carries a runtime identity and a revision counter; every
// mutation bumps the revision so memoized lookups invalidate without tracking
// object graphs.
type Registry struct {
	id   string
	rev  uint64
	keys map[string]*History
}

// NewRegistry returns an empty registry with a fresh identity.
func NewRegistry() *Registry {
	return &Registry{id: uuid.NewString(), keys: make(map[string]*History)}
}

// ID returns the registry's runtime identity.
func (r *Registry) ID() string {
	if r == nil {
		return ""
	}
	return r.id
}

// Rev returns the registry's revision counter.
func (r *Registry) Rev() uint64 {
	if r == nil {
		return 0
	}
	return r.rev
}

// History returns the history stored under key.
func (r *Registry) History(key string) (*History, bool) {
	if r == nil || r.keys == nil {
		return nil, false
	}
	h, ok := r.keys[key]
	return h, ok
}

// Keys returns the asset keys present in the registry.
func (r *Registry) Keys() []string {
	if r == nil {
		return nil
	}
	keys := make([]string, 0, len(r.keys))
	for key := range r.keys {
		keys = append(keys, key)
	}
	return keys
}

// SetHistory replaces the history under key and bumps the revision counter.
func (r *Registry) SetHistory(key string, h *History) {
	if r.keys == nil {
		r.keys = make(map[string]*History)
	}
	r.keys[key] = h
	r.rev++
}

// MarshalJSON serializes only the key→history map; identity and revision are
// runtime-local.
func (r *Registry) MarshalJSON() ([]byte, error) {
	if r == nil || r.keys == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.keys)
}

// UnmarshalJSON loads the key→history map and assigns a fresh identity, so a
// reloaded registry never aliases cached lookups from its previous life.
func (r *Registry) UnmarshalJSON(data []byte) error {
	keys := make(map[string]*History)
	if err := json.Unmarshal(data, &keys); err != nil {
		return fmt.Errorf("decode asset registry: %w", err)
	}
	r.id = uuid.NewString()
	r.rev = 0
	r.keys = keys
	return nil
}
