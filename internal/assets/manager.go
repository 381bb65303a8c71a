package assets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sceneflow/internal/logging"
)

// EntityKind names the entity types that own asset registries.
type EntityKind string

const (
	KindProject   EntityKind = "project"
	KindScene     EntityKind = "scene"
	KindCharacter EntityKind = "character"
	KindLocation  EntityKind = "location"
)

// EntityRef identifies one registry-owning entity.
type EntityRef struct {
	Kind EntityKind
	ID   string
}

// Scope selects the target entities of a versioning operation: a single
// project, a single scene, or a set of sibling characters or locations.
type Scope struct {
	ProjectID    string
	SceneID      string
	CharacterIDs []string
	LocationIDs  []string
}

// Refs expands the scope into its target entity references, in order.
func (s Scope) Refs() ([]EntityRef, error) {
	switch {
	case len(s.CharacterIDs) > 0:
		refs := make([]EntityRef, 0, len(s.CharacterIDs))
		for _, id := range s.CharacterIDs {
			refs = append(refs, EntityRef{Kind: KindCharacter, ID: id})
		}
		return refs, nil
	case len(s.LocationIDs) > 0:
		refs := make([]EntityRef, 0, len(s.LocationIDs))
		for _, id := range s.LocationIDs {
			refs = append(refs, EntityRef{Kind: KindLocation, ID: id})
		}
		return refs, nil
	case s.SceneID != "":
		return []EntityRef{{Kind: KindScene, ID: s.SceneID}}, nil
	case s.ProjectID != "":
		return []EntityRef{{Kind: KindProject, ID: s.ProjectID}}, nil
	default:
		return nil, errors.New("asset scope selects no entities")
	}
}

// RegistryStore is the persistence surface the manager needs: load an
// entity's registry and write back a single asset key without touching
// sibling keys.
type RegistryStore interface {
	GetRegistry(ctx context.Context, ref EntityRef) (*Registry, error)
	PutRegistryKey(ctx context.Context, ref EntityRef, assetKey string, history *History) error
}

// VersionInput describes one version to create. SetBest promotes the new
// version to canonical; when false the version is written as a draft and Best
// is left alone.
type VersionInput struct {
	Data     string
	Metadata Metadata
	SetBest  bool
}

// Manager implements versioned, entity-scoped asset histories over a
// RegistryStore.
type Manager struct {
	store  RegistryStore
	cache  *Cache
	logger *slog.Logger
	now    func() time.Time
}

// NewManager builds an asset version manager.
func NewManager(store RegistryStore, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		cache:  NewCache(),
		logger: logging.NewComponentLogger(logger, "assets"),
		now:    time.Now,
	}
}

// CreateVersions appends one new version per target entity in scope order.
// With a single target entity, all inputs are appended to it sequentially;
// with multiple targets, inputs pair with targets one to one. Each entity's
// numbering continues from its own history head. Returns the created versions
// in creation order.
func (m *Manager) CreateVersions(ctx context.Context, scope Scope, assetKey string, assetType Type, inputs []VersionInput) ([]Version, error) {
	refs, err := scope.Refs()
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, errors.New("no version inputs provided")
	}
	if len(refs) > 1 && len(inputs) != len(refs) {
		return nil, fmt.Errorf("input count %d does not match %d target entities", len(inputs), len(refs))
	}

	var created []Version
	if len(refs) == 1 {
		versions, err := m.appendVersions(ctx, refs[0], assetKey, assetType, inputs)
		if err != nil {
			return nil, err
		}
		created = versions
	} else {
		for i, ref := range refs {
			versions, err := m.appendVersions(ctx, ref, assetKey, assetType, inputs[i:i+1])
			if err != nil {
				return nil, err
			}
			created = append(created, versions...)
		}
	}

	m.logger.Debug("asset versions created",
		logging.String("asset_key", assetKey),
		logging.String("asset_type", string(assetType)),
		logging.Int("count", len(created)),
	)
	return created, nil
}

func (m *Manager) appendVersions(ctx context.Context, ref EntityRef, assetKey string, assetType Type, inputs []VersionInput) ([]Version, error) {
	reg, err := m.store.GetRegistry(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load registry for %s %s: %w", ref.Kind, ref.ID, err)
	}

	var history *History
	if existing, ok := reg.History(assetKey); ok {
		history = existing.clone()
	} else {
		history = &History{}
	}

	created := make([]Version, 0, len(inputs))
	for _, input := range inputs {
		next := history.Head + 1
		version := Version{
			Version:   next,
			Data:      input.Data,
			Type:      assetType,
			Metadata:  input.Metadata,
			CreatedAt: m.now().UTC(),
		}
		history.Versions = append(history.Versions, version)
		history.Head = next
		if input.SetBest {
			history.Best = next
		}
		created = append(created, version)
	}

	if err := m.store.PutRegistryKey(ctx, ref, assetKey, history); err != nil {
		return nil, fmt.Errorf("persist registry key %q for %s %s: %w", assetKey, ref.Kind, ref.ID, err)
	}
	return created, nil
}

// SetBest reassigns the canonical version per target entity. Version numbers
// pair with scope targets one to one; a single target accepts exactly one
// version number. Head and the version list are untouched.
func (m *Manager) SetBest(ctx context.Context, scope Scope, assetKey string, versions []int) error {
	refs, err := scope.Refs()
	if err != nil {
		return err
	}
	if len(versions) != len(refs) {
		return fmt.Errorf("version count %d does not match %d target entities", len(versions), len(refs))
	}

	for i, ref := range refs {
		if err := m.setBestOne(ctx, ref, assetKey, versions[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) setBestOne(ctx context.Context, ref EntityRef, assetKey string, version int) error {
	reg, err := m.store.GetRegistry(ctx, ref)
	if err != nil {
		return fmt.Errorf("load registry for %s %s: %w", ref.Kind, ref.ID, err)
	}
	existing, ok := reg.History(assetKey)
	if !ok {
		return &VersionNotFoundError{Entity: ref, AssetKey: assetKey, Version: version}
	}
	if _, ok := existing.Get(version); !ok {
		return &VersionNotFoundError{Entity: ref, AssetKey: assetKey, Version: version}
	}

	history := existing.clone()
	history.Best = version
	if err := m.store.PutRegistryKey(ctx, ref, assetKey, history); err != nil {
		return fmt.Errorf("persist best version for %s %s: %w", ref.Kind, ref.ID, err)
	}
	return nil
}

// HistoryFor returns the history under assetKey in the registry, memoized per
// registry snapshot.
func (m *Manager) HistoryFor(reg *Registry, assetKey string) (*History, bool) {
	if h, ok := m.cache.Lookup(reg, assetKey); ok {
		return h, h != nil
	}
	h, ok := reg.History(assetKey)
	if !ok {
		m.cache.Store(reg, assetKey, nil)
		return nil, false
	}
	m.cache.Store(reg, assetKey, h)
	return h, true
}

// Best returns the canonical version under assetKey.
func (m *Manager) Best(reg *Registry, assetKey string) (Version, bool) {
	h, ok := m.HistoryFor(reg, assetKey)
	if !ok {
		return Version{}, false
	}
	return h.BestVersion()
}

// Latest returns the most recently created version under assetKey.
func (m *Manager) Latest(reg *Registry, assetKey string) (Version, bool) {
	h, ok := m.HistoryFor(reg, assetKey)
	if !ok {
		return Version{}, false
	}
	return h.Latest()
}

// VersionOf returns a specific version under assetKey.
func (m *Manager) VersionOf(reg *Registry, assetKey string, version int) (Version, bool) {
	h, ok := m.HistoryFor(reg, assetKey)
	if !ok {
		return Version{}, false
	}
	return h.Get(version)
}
