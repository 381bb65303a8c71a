package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sceneflow/internal/config"
)

// ErrConflict signals an optimistic-concurrency loss: the parent version the
// writer built on is no longer the project's latest. Callers reload the
// latest checkpoint and retry their transition.
var ErrConflict = errors.New("checkpoint conflict")

// Checkpoint is one immutable snapshot row. Version numbers are monotonic per
// project and never reused, including across branches.
type Checkpoint struct {
	ProjectID     string
	Version       int64
	ParentVersion int64
	Branched      bool
	State         *State
	CreatedAt     time.Time
}

// Store persists checkpoints in SQLite. Rows are append-only: nothing ever
// updates or deletes a written checkpoint.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the checkpoint database and applies
// migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.DatabasePath("checkpoints.db")
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
	const schema = `CREATE TABLE IF NOT EXISTS checkpoints (
        project_id TEXT NOT NULL,
        version INTEGER NOT NULL,
        parent_version INTEGER NOT NULL DEFAULT 0,
        branched INTEGER NOT NULL DEFAULT 0,
        state_json TEXT NOT NULL,
        created_at TEXT NOT NULL,
        PRIMARY KEY (project_id, version)
    );
    CREATE INDEX IF NOT EXISTS idx_checkpoints_project ON checkpoints (project_id, version DESC);`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply checkpoint schema: %w", err)
	}
	return nil
}

// Append writes a new checkpoint anchored to parentVersion. The write only
// commits when parentVersion is still the project's latest version; a stale
// parent yields ErrConflict and writes nothing. A parentVersion of zero means
// "first checkpoint ever" and conflicts when any checkpoint already exists.
func (s *Store) Append(ctx context.Context, projectID string, state *State, parentVersion int64) (*Checkpoint, error) {
	return s.write(ctx, projectID, state, parentVersion, false)
}

// Branch writes a new checkpoint anchored to parentVersion even when newer
// checkpoints exist, marking the row as an intentional fork. The version
// number still advances past every existing row so history stays totally
// ordered.
func (s *Store) Branch(ctx context.Context, projectID string, state *State, parentVersion int64) (*Checkpoint, error) {
	return s.write(ctx, projectID, state, parentVersion, true)
}

func (s *Store) write(ctx context.Context, projectID string, state *State, parentVersion int64, branch bool) (*Checkpoint, error) {
	if projectID == "" {
		return nil, errors.New("project id is required")
	}
	if state == nil {
		return nil, errors.New("nil state")
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint state: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin checkpoint write: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var latest sql.NullInt64
	if err := tx.QueryRowContext(
		ctx,
		`SELECT MAX(version) FROM checkpoints WHERE project_id = ?`,
		projectID,
	).Scan(&latest); err != nil {
		return nil, fmt.Errorf("read latest version for %s: %w", projectID, err)
	}

	head := latest.Int64
	if !branch && head != parentVersion {
		return nil, fmt.Errorf("%w: project %s parent %d is stale, latest is %d", ErrConflict, projectID, parentVersion, head)
	}
	if branch && parentVersion > head {
		return nil, fmt.Errorf("branch parent %d does not exist for project %s", parentVersion, projectID)
	}

	cp := &Checkpoint{
		ProjectID:     projectID,
		Version:       head + 1,
		ParentVersion: parentVersion,
		Branched:      branch,
		State:         state.Clone(),
		CreatedAt:     time.Now().UTC(),
	}
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO checkpoints (project_id, version, parent_version, branched, state_json, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		cp.ProjectID,
		cp.Version,
		cp.ParentVersion,
		boolToInt(cp.Branched),
		string(stateJSON),
		cp.CreatedAt.Format(time.RFC3339Nano),
	); err != nil {
		return nil, fmt.Errorf("insert checkpoint v%d for %s: %w", cp.Version, projectID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit checkpoint v%d for %s: %w", cp.Version, projectID, err)
	}
	return cp, nil
}

// Latest returns the newest checkpoint for a project, or nil when the project
// has never checkpointed.
func (s *Store) Latest(ctx context.Context, projectID string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints WHERE project_id = ? ORDER BY version DESC LIMIT 1`,
		projectID,
	)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest checkpoint for %s: %w", projectID, err)
	}
	return cp, nil
}

// Get returns a specific checkpoint version, or nil when absent.
func (s *Store) Get(ctx context.Context, projectID string, version int64) (*Checkpoint, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints WHERE project_id = ? AND version = ?`,
		projectID,
		version,
	)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint v%d for %s: %w", version, projectID, err)
	}
	return cp, nil
}

// History returns every checkpoint for a project, oldest first.
func (s *Store) History(ctx context.Context, projectID string) ([]*Checkpoint, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints WHERE project_id = ? ORDER BY version`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("checkpoint history for %s: %w", projectID, err)
	}
	defer rows.Close()

	var history []*Checkpoint
	for rows.Next() {
		cp, scanErr := scanCheckpoint(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", scanErr)
		}
		history = append(history, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoint rows: %w", err)
	}
	return history, nil
}

// ProjectIDs returns every project that has at least one checkpoint.
func (s *Store) ProjectIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT project_id FROM checkpoints ORDER BY project_id`)
	if err != nil {
		return nil, fmt.Errorf("list checkpointed projects: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project ids: %w", err)
	}
	return ids, nil
}

const checkpointColumns = "project_id, version, parent_version, branched, state_json, created_at"

func scanCheckpoint(scanner interface{ Scan(dest ...any) error }) (*Checkpoint, error) {
	var (
		projectID  string
		version    int64
		parent     int64
		branched   int64
		stateJSON  string
		createdRaw string
	)
	if err := scanner.Scan(&projectID, &version, &parent, &branched, &stateJSON, &createdRaw); err != nil {
		return nil, err
	}

	state := &State{}
	if err := json.Unmarshal([]byte(stateJSON), state); err != nil {
		return nil, fmt.Errorf("decode checkpoint state: %w", err)
	}

	cp := &Checkpoint{
		ProjectID:     projectID,
		Version:       version,
		ParentVersion: parent,
		Branched:      branched != 0,
		State:         state,
	}
	if created, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(createdRaw)); err == nil {
		cp.CreatedAt = created
	}
	return cp, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
