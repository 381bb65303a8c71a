package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sceneflow/internal/config"
	"sceneflow/internal/services"
)

// Store manages job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the jobs database and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.DatabasePath("jobs.db")
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

// Path returns the location of the backing database file.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func (s *Store) applyMigrations(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS jobs (
        id TEXT PRIMARY KEY,
        job_type TEXT NOT NULL,
        project_id TEXT NOT NULL,
        state TEXT NOT NULL,
        payload_json TEXT,
        result_json TEXT,
        error_message TEXT,
        attempt INTEGER NOT NULL DEFAULT 0,
        max_retries INTEGER NOT NULL DEFAULT 0,
        created_at TEXT NOT NULL,
        updated_at TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_jobs_project_state ON jobs (project_id, state);
    CREATE INDEX IF NOT EXISTS idx_jobs_project_type ON jobs (project_id, job_type, created_at);`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply jobs schema: %w", err)
	}
	return nil
}

// Insert persists a new job row.
func (s *Store) Insert(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("nil job")
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
            id, job_type, project_id, state, payload_json, result_json,
            error_message, attempt, max_retries, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		string(job.Type),
		job.ProjectID,
		string(job.State),
		nullableString(job.PayloadJSON),
		nullableString(job.ResultJSON),
		nullableString(job.ErrorMessage),
		job.Attempt,
		job.MaxRetries,
		job.CreatedAt.Format(time.RFC3339Nano),
		job.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

// Update rewrites the mutable columns of an existing job row.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("nil job")
	}
	job.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET state = ?, result_json = ?, error_message = ?, attempt = ?, updated_at = ? WHERE id = ?`,
		string(job.State),
		nullableString(job.ResultJSON),
		nullableString(job.ErrorMessage),
		job.Attempt,
		job.UpdatedAt.Format(time.RFC3339Nano),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %s: rows affected: %w", job.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("job %s: %w", job.ID, services.ErrNotFound)
	}
	return nil
}

// Get returns the job with the given id, or nil when no row exists.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// LatestByType returns the most recently created job of a type within a
// project, or nil when the project has none.
func (s *Store) LatestByType(ctx context.Context, projectID string, jobType Type) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE project_id = ? AND job_type = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		projectID,
		string(jobType),
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest %s job for %s: %w", jobType, projectID, err)
	}
	return job, nil
}

// CountActive returns how many jobs in the project currently occupy a
// concurrency slot.
func (s *Store) CountActive(ctx context.Context, projectID string) (int, error) {
	placeholders := make([]string, len(activeStates))
	args := make([]any, 0, len(activeStates)+1)
	args = append(args, projectID)
	for i, state := range activeStates {
		placeholders[i] = "?"
		args = append(args, string(state))
	}

	query := `SELECT COUNT(*) FROM jobs WHERE project_id = ? AND state IN (` + strings.Join(placeholders, ", ") + `)`
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active jobs for %s: %w", projectID, err)
	}
	return count, nil
}

// ListByProject returns the project's jobs ordered oldest first, optionally
// filtered to a single state.
func (s *Store) ListByProject(ctx context.Context, projectID string, state State) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE project_id = ?`
	args := []any{projectID}
	if state != "" {
		query += ` AND state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs for %s: %w", projectID, err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job row: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return jobs, nil
}

// OldestHeld returns up to limit jobs that were admitted but held back by the
// concurrency ceiling, oldest first.
func (s *Store) OldestHeld(ctx context.Context, projectID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE project_id = ? AND state = ? ORDER BY created_at, id LIMIT ?`,
		projectID,
		string(StateCreated),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list held jobs for %s: %w", projectID, err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job row: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return jobs, nil
}

const jobColumns = "id, job_type, project_id, state, payload_json, result_json, error_message, attempt, max_retries, created_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id           string
		jobType      string
		projectID    string
		stateStr     string
		payload      sql.NullString
		result       sql.NullString
		errorMessage sql.NullString
		attempt      int
		maxRetries   int
		createdRaw   string
		updatedRaw   string
	)

	if err := scanner.Scan(
		&id,
		&jobType,
		&projectID,
		&stateStr,
		&payload,
		&result,
		&errorMessage,
		&attempt,
		&maxRetries,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:           id,
		Type:         Type(jobType),
		ProjectID:    projectID,
		State:        State(stateStr),
		PayloadJSON:  payload.String,
		ResultJSON:   result.String,
		ErrorMessage: errorMessage.String,
		Attempt:      attempt,
		MaxRetries:   maxRetries,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}

func parseTimeString(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
