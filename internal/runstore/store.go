// Package runstore persists training run history in SQLite.
package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound reports a run id with no matching record.
var ErrNotFound = errors.New("run not found")

// Run records one training run from start to completion.
type Run struct {
	ID              string
	Kind            string
	ConfigDigest    string
	StartedAt       time.Time
	CompletedAt     *time.Time
	Epochs          int
	BestValAccuracy float64
	TestAccuracy    float64
	Checkpoint      string
}

// Completed reports whether the run finished.
func (r *Run) Completed() bool { return r.CompletedAt != nil }

// Store manages run persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    config_digest TEXT,
    started_at TEXT NOT NULL,
    completed_at TEXT,
    epochs INTEGER NOT NULL DEFAULT 0,
    best_val_accuracy REAL NOT NULL DEFAULT 0,
    test_accuracy REAL NOT NULL DEFAULT 0,
    checkpoint TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Open initializes or connects to the run database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create run db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a new in-progress run and returns it.
func (s *Store) Create(ctx context.Context, kind, configDigest string) (*Run, error) {
	run := &Run{
		ID:           uuid.NewString(),
		Kind:         kind,
		ConfigDigest: configDigest,
		StartedAt:    time.Now().UTC(),
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO runs (id, kind, config_digest, started_at) VALUES (?, ?, ?, ?)`,
		run.ID,
		run.Kind,
		nullableString(run.ConfigDigest),
		run.StartedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// Complete records the final metrics of a run.
func (s *Store) Complete(ctx context.Context, id string, epochs int, bestValAccuracy, testAccuracy float64, checkpoint string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE runs
         SET completed_at = ?, epochs = ?, best_val_accuracy = ?, test_accuracy = ?, checkpoint = ?
         WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano),
		epochs,
		bestValAccuracy,
		testAccuracy,
		nullableString(checkpoint),
		id,
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Get fetches a run by identifier.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// List returns runs ordered newest first, optionally filtered by kind.
func (s *Store) List(ctx context.Context, kind string) ([]*Run, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if kind == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE kind = ? ORDER BY started_at DESC`, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

const runColumns = "id, kind, config_digest, started_at, completed_at, epochs, best_val_accuracy, test_accuracy, checkpoint"

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run          Run
		configDigest sql.NullString
		startedRaw   string
		completedRaw sql.NullString
		checkpoint   sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&run.Kind,
		&configDigest,
		&startedRaw,
		&completedRaw,
		&run.Epochs,
		&run.BestValAccuracy,
		&run.TestAccuracy,
		&checkpoint,
	); err != nil {
		return nil, err
	}

	run.ConfigDigest = configDigest.String
	run.Checkpoint = checkpoint.String
	if started, err := time.Parse(time.RFC3339Nano, startedRaw); err == nil {
		run.StartedAt = started
	}
	if completedRaw.Valid {
		if completed, err := time.Parse(time.RFC3339Nano, completedRaw.String); err == nil {
			run.CompletedAt = &completed
		}
	}
	return &run, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
