package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sceneflow/internal/assets"
	"sceneflow/internal/config"
	"sceneflow/internal/services"
)

// Store persists catalog entities in SQLite and serves as the registry
// backend for the asset version manager.
type Store struct {
	db   *sql.DB
	path string
}

var _ assets.RegistryStore = (*Store)(nil)

// Open initializes or connects to the catalog database and applies
// migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.DatabasePath("catalog.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) applyMigrations(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS projects (
        id TEXT PRIMARY KEY,
        title TEXT,
        audio_path TEXT,
        assets_json TEXT,
        created_at TEXT NOT NULL,
        updated_at TEXT NOT NULL
    );
    CREATE TABLE IF NOT EXISTS scenes (
        id TEXT PRIMARY KEY,
        project_id TEXT NOT NULL,
        scene_index INTEGER NOT NULL DEFAULT 0,
        title TEXT,
        prompt TEXT,
        duration_seconds REAL NOT NULL DEFAULT 0,
        character_ids_json TEXT,
        location_ids_json TEXT,
        assets_json TEXT,
        created_at TEXT NOT NULL,
        updated_at TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_scenes_project ON scenes (project_id, scene_index);
    CREATE TABLE IF NOT EXISTS characters (
        id TEXT PRIMARY KEY,
        project_id TEXT NOT NULL,
        name TEXT,
        description TEXT,
        assets_json TEXT,
        created_at TEXT NOT NULL,
        updated_at TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_characters_project ON characters (project_id);
    CREATE TABLE IF NOT EXISTS locations (
        id TEXT PRIMARY KEY,
        project_id TEXT NOT NULL,
        name TEXT,
        description TEXT,
        assets_json TEXT,
        created_at TEXT NOT NULL,
        updated_at TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_locations_project ON locations (project_id);`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply catalog schema: %w", err)
	}
	return nil
}

// UpsertProject inserts or replaces a project row, preserving CreatedAt on
// replace.
func (s *Store) UpsertProject(ctx context.Context, project *Project) error {
	if project == nil || project.ID == "" {
		return errors.New("project id is required")
	}
	now := time.Now().UTC()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	project.UpdatedAt = now

	assetsJSON, err := encodeRegistry(project.Assets)
	if err != nil {
		return fmt.Errorf("encode project assets: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO projects (id, title, audio_path, assets_json, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             title = excluded.title,
             audio_path = excluded.audio_path,
             assets_json = excluded.assets_json,
             updated_at = excluded.updated_at`,
		project.ID,
		nullableString(project.Title),
		nullableString(project.AudioPath),
		nullableString(assetsJSON),
		project.CreatedAt.Format(time.RFC3339Nano),
		project.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert project %s: %w", project.ID, err)
	}
	return nil
}

// GetProject returns the project with the given id.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, title, audio_path, assets_json, created_at, updated_at FROM projects WHERE id = ?`,
		id,
	)
	var (
		title      sql.NullString
		audioPath  sql.NullString
		assetsJSON sql.NullString
		createdRaw string
		updatedRaw string
	)
	project := &Project{}
	err := row.Scan(&project.ID, &title, &audioPath, &assetsJSON, &createdRaw, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, services.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	project.Title = title.String
	project.AudioPath = audioPath.String
	if project.Assets, err = decodeRegistry(assetsJSON.String); err != nil {
		return nil, fmt.Errorf("decode project %s assets: %w", id, err)
	}
	project.CreatedAt, project.UpdatedAt = parseTimestamps(createdRaw, updatedRaw)
	return project, nil
}

// ListProjects returns every project ordered by creation time.
func (s *Store) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, title, audio_path, assets_json, created_at, updated_at FROM projects ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		var (
			title      sql.NullString
			audioPath  sql.NullString
			assetsJSON sql.NullString
			createdRaw string
			updatedRaw string
		)
		project := &Project{}
		if err := rows.Scan(&project.ID, &title, &audioPath, &assetsJSON, &createdRaw, &updatedRaw); err != nil {
			return nil, fmt.Errorf("scan project row: %w", err)
		}
		project.Title = title.String
		project.AudioPath = audioPath.String
		if project.Assets, err = decodeRegistry(assetsJSON.String); err != nil {
			return nil, fmt.Errorf("decode project %s assets: %w", project.ID, err)
		}
		project.CreatedAt, project.UpdatedAt = parseTimestamps(createdRaw, updatedRaw)
		projects = append(projects, project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project rows: %w", err)
	}
	return projects, nil
}

// UpsertScene inserts or replaces a scene row.
func (s *Store) UpsertScene(ctx context.Context, scene *Scene) error {
	if scene == nil || scene.ID == "" {
		return errors.New("scene id is required")
	}
	if scene.ProjectID == "" {
		return errors.New("scene project id is required")
	}
	now := time.Now().UTC()
	if scene.CreatedAt.IsZero() {
		scene.CreatedAt = now
	}
	scene.UpdatedAt = now

	assetsJSON, err := encodeRegistry(scene.Assets)
	if err != nil {
		return fmt.Errorf("encode scene assets: %w", err)
	}
	characterIDs, err := encodeStrings(scene.CharacterIDs)
	if err != nil {
		return fmt.Errorf("encode scene character ids: %w", err)
	}
	locationIDs, err := encodeStrings(scene.LocationIDs)
	if err != nil {
		return fmt.Errorf("encode scene location ids: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO scenes (
            id, project_id, scene_index, title, prompt, duration_seconds,
            character_ids_json, location_ids_json, assets_json, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            project_id = excluded.project_id,
            scene_index = excluded.scene_index,
            title = excluded.title,
            prompt = excluded.prompt,
            duration_seconds = excluded.duration_seconds,
            character_ids_json = excluded.character_ids_json,
            location_ids_json = excluded.location_ids_json,
            assets_json = excluded.assets_json,
            updated_at = excluded.updated_at`,
		scene.ID,
		scene.ProjectID,
		scene.Index,
		nullableString(scene.Title),
		nullableString(scene.Prompt),
		scene.DurationSeconds,
		nullableString(characterIDs),
		nullableString(locationIDs),
		nullableString(assetsJSON),
		scene.CreatedAt.Format(time.RFC3339Nano),
		scene.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert scene %s: %w", scene.ID, err)
	}
	return nil
}

// GetScene returns the scene with the given id.
func (s *Store) GetScene(ctx context.Context, id string) (*Scene, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sceneColumns+` FROM scenes WHERE id = ?`, id)
	scene, err := scanScene(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scene %s: %w", id, services.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get scene %s: %w", id, err)
	}
	return scene, nil
}

// ListScenes returns a project's scenes in storyboard order.
func (s *Store) ListScenes(ctx context.Context, projectID string) ([]*Scene, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+sceneColumns+` FROM scenes WHERE project_id = ? ORDER BY scene_index, id`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list scenes for %s: %w", projectID, err)
	}
	defer rows.Close()

	var scenes []*Scene
	for rows.Next() {
		scene, scanErr := scanScene(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan scene row: %w", scanErr)
		}
		scenes = append(scenes, scene)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scene rows: %w", err)
	}
	return scenes, nil
}

// UpsertCharacter inserts or replaces a character row.
func (s *Store) UpsertCharacter(ctx context.Context, character *Character) error {
	return s.upsertFigure(ctx, "characters", character.ID, character.ProjectID, character.Name, character.Description, character.Assets, &character.CreatedAt, &character.UpdatedAt)
}

// GetCharacter returns the character with the given id.
func (s *Store) GetCharacter(ctx context.Context, id string) (*Character, error) {
	fig, err := s.getFigure(ctx, "characters", id)
	if err != nil {
		return nil, err
	}
	return &Character{ID: fig.id, ProjectID: fig.projectID, Name: fig.name, Description: fig.description, Assets: fig.assets, CreatedAt: fig.createdAt, UpdatedAt: fig.updatedAt}, nil
}

// ListCharacters returns a project's characters ordered by creation time.
func (s *Store) ListCharacters(ctx context.Context, projectID string) ([]*Character, error) {
	figs, err := s.listFigures(ctx, "characters", projectID)
	if err != nil {
		return nil, err
	}
	out := make([]*Character, 0, len(figs))
	for _, fig := range figs {
		out = append(out, &Character{ID: fig.id, ProjectID: fig.projectID, Name: fig.name, Description: fig.description, Assets: fig.assets, CreatedAt: fig.createdAt, UpdatedAt: fig.updatedAt})
	}
	return out, nil
}

// UpsertLocation inserts or replaces a location row.
func (s *Store) UpsertLocation(ctx context.Context, location *Location) error {
	return s.upsertFigure(ctx, "locations", location.ID, location.ProjectID, location.Name, location.Description, location.Assets, &location.CreatedAt, &location.UpdatedAt)
}

// GetLocation returns the location with the given id.
func (s *Store) GetLocation(ctx context.Context, id string) (*Location, error) {
	fig, err := s.getFigure(ctx, "locations", id)
	if err != nil {
		return nil, err
	}
	return &Location{ID: fig.id, ProjectID: fig.projectID, Name: fig.name, Description: fig.description, Assets: fig.assets, CreatedAt: fig.createdAt, UpdatedAt: fig.updatedAt}, nil
}

// ListLocations returns a project's locations ordered by creation time.
func (s *Store) ListLocations(ctx context.Context, projectID string) ([]*Location, error) {
	figs, err := s.listFigures(ctx, "locations", projectID)
	if err != nil {
		return nil, err
	}
	out := make([]*Location, 0, len(figs))
	for _, fig := range figs {
		out = append(out, &Location{ID: fig.id, ProjectID: fig.projectID, Name: fig.name, Description: fig.description, Assets: fig.assets, CreatedAt: fig.createdAt, UpdatedAt: fig.updatedAt})
	}
	return out, nil
}

// characters and locations share a shape; figure is the common row form.
type figure struct {
	id          string
	projectID   string
	name        string
	description string
	assets      *assets.Registry
	createdAt   time.Time
	updatedAt   time.Time
}

func (s *Store) upsertFigure(ctx context.Context, table, id, projectID, name, description string, registry *assets.Registry, createdAt, updatedAt *time.Time) error {
	if id == "" {
		return fmt.Errorf("%s id is required", strings.TrimSuffix(table, "s"))
	}
	if projectID == "" {
		return fmt.Errorf("%s project id is required", strings.TrimSuffix(table, "s"))
	}
	now := time.Now().UTC()
	if createdAt.IsZero() {
		*createdAt = now
	}
	*updatedAt = now

	assetsJSON, err := encodeRegistry(registry)
	if err != nil {
		return fmt.Errorf("encode %s assets: %w", table, err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO `+table+` (id, project_id, name, description, assets_json, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             project_id = excluded.project_id,
             name = excluded.name,
             description = excluded.description,
             assets_json = excluded.assets_json,
             updated_at = excluded.updated_at`,
		id,
		projectID,
		nullableString(name),
		nullableString(description),
		nullableString(assetsJSON),
		createdAt.Format(time.RFC3339Nano),
		updatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert %s %s: %w", strings.TrimSuffix(table, "s"), id, err)
	}
	return nil
}

func (s *Store) getFigure(ctx context.Context, table, id string) (*figure, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, project_id, name, description, assets_json, created_at, updated_at FROM `+table+` WHERE id = ?`,
		id,
	)
	fig, err := scanFigure(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", strings.TrimSuffix(table, "s"), id, services.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", strings.TrimSuffix(table, "s"), id, err)
	}
	return fig, nil
}

func (s *Store) listFigures(ctx context.Context, table, projectID string) ([]*figure, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, project_id, name, description, assets_json, created_at, updated_at FROM `+table+` WHERE project_id = ? ORDER BY created_at, id`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s for %s: %w", table, projectID, err)
	}
	defer rows.Close()

	var figs []*figure
	for rows.Next() {
		fig, scanErr := scanFigure(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, scanErr)
		}
		figs = append(figs, fig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", table, err)
	}
	return figs, nil
}

// GetRegistry loads the asset registry for an entity, creating an empty one
// when the entity has no assets yet.
func (s *Store) GetRegistry(ctx context.Context, ref assets.EntityRef) (*assets.Registry, error) {
	table, err := tableFor(ref.Kind)
	if err != nil {
		return nil, err
	}

	var assetsJSON sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT assets_json FROM `+table+` WHERE id = ?`, ref.ID).Scan(&assetsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", ref.Kind, ref.ID, services.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load registry for %s %s: %w", ref.Kind, ref.ID, err)
	}
	return decodeRegistry(assetsJSON.String)
}

// PutRegistryKey writes back a single asset key inside one transaction. Only
// the named key changes; sibling keys written concurrently by other callers
// are re-read inside the transaction and preserved.
func (s *Store) PutRegistryKey(ctx context.Context, ref assets.EntityRef, assetKey string, history *assets.History) error {
	table, err := tableFor(ref.Kind)
	if err != nil {
		return err
	}
	if assetKey == "" {
		return errors.New("asset key is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin registry write: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var assetsJSON sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT assets_json FROM `+table+` WHERE id = ?`, ref.ID).Scan(&assetsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", ref.Kind, ref.ID, services.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("reload registry for %s %s: %w", ref.Kind, ref.ID, err)
	}

	registry, err := decodeRegistry(assetsJSON.String)
	if err != nil {
		return fmt.Errorf("decode registry for %s %s: %w", ref.Kind, ref.ID, err)
	}
	registry.SetHistory(assetKey, history)

	encoded, err := encodeRegistry(registry)
	if err != nil {
		return fmt.Errorf("encode registry for %s %s: %w", ref.Kind, ref.ID, err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE `+table+` SET assets_json = ?, updated_at = ? WHERE id = ?`,
		encoded,
		time.Now().UTC().Format(time.RFC3339Nano),
		ref.ID,
	); err != nil {
		return fmt.Errorf("write registry for %s %s: %w", ref.Kind, ref.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit registry write for %s %s: %w", ref.Kind, ref.ID, err)
	}
	return nil
}

func tableFor(kind assets.EntityKind) (string, error) {
	switch kind {
	case assets.KindProject:
		return "projects", nil
	case assets.KindScene:
		return "scenes", nil
	case assets.KindCharacter:
		return "characters", nil
	case assets.KindLocation:
		return "locations", nil
	default:
		return "", fmt.Errorf("unknown entity kind %q", kind)
	}
}

const sceneColumns = "id, project_id, scene_index, title, prompt, duration_seconds, character_ids_json, location_ids_json, assets_json, created_at, updated_at"

func scanScene(scanner interface{ Scan(dest ...any) error }) (*Scene, error) {
	var (
		title        sql.NullString
		prompt       sql.NullString
		characterIDs sql.NullString
		locationIDs  sql.NullString
		assetsJSON   sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	scene := &Scene{}
	if err := scanner.Scan(
		&scene.ID,
		&scene.ProjectID,
		&scene.Index,
		&title,
		&prompt,
		&scene.DurationSeconds,
		&characterIDs,
		&locationIDs,
		&assetsJSON,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	scene.Title = title.String
	scene.Prompt = prompt.String

	var err error
	if scene.CharacterIDs, err = decodeStrings(characterIDs.String); err != nil {
		return nil, fmt.Errorf("decode character ids: %w", err)
	}
	if scene.LocationIDs, err = decodeStrings(locationIDs.String); err != nil {
		return nil, fmt.Errorf("decode location ids: %w", err)
	}
	if scene.Assets, err = decodeRegistry(assetsJSON.String); err != nil {
		return nil, fmt.Errorf("decode scene assets: %w", err)
	}
	scene.CreatedAt, scene.UpdatedAt = parseTimestamps(createdRaw, updatedRaw)
	return scene, nil
}

func scanFigure(scanner interface{ Scan(dest ...any) error }) (*figure, error) {
	var (
		name        sql.NullString
		description sql.NullString
		assetsJSON  sql.NullString
		createdRaw  string
		updatedRaw  string
	)
	fig := &figure{}
	if err := scanner.Scan(&fig.id, &fig.projectID, &name, &description, &assetsJSON, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	fig.name = name.String
	fig.description = description.String

	var err error
	if fig.assets, err = decodeRegistry(assetsJSON.String); err != nil {
		return nil, fmt.Errorf("decode assets: %w", err)
	}
	fig.createdAt, fig.updatedAt = parseTimestamps(createdRaw, updatedRaw)
	return fig, nil
}

func encodeRegistry(registry *assets.Registry) (string, error) {
	if registry == nil {
		return "", nil
	}
	encoded, err := json.Marshal(registry)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func decodeRegistry(raw string) (*assets.Registry, error) {
	registry := assets.NewRegistry()
	if strings.TrimSpace(raw) == "" {
		return registry, nil
	}
	if err := json.Unmarshal([]byte(raw), registry); err != nil {
		return nil, err
	}
	return registry, nil
}

func encodeStrings(values []string) (string, error) {
	if len(values) == 0 {
		return "", nil
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func decodeStrings(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, err
	}
	return values, nil
}

func parseTimestamps(createdRaw, updatedRaw string) (time.Time, time.Time) {
	var created, updated time.Time
	if ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(createdRaw)); err == nil {
		created = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(updatedRaw)); err == nil {
		updated = ts
	}
	return created, updated
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
