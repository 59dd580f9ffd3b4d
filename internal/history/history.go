// Package history records one row per pipeline run in PostgreSQL.
//
// The table is a ledger for operators ("when did the last run finish, and how
// many rows are still pending?"). It is never read by the pipeline itself;
// the checkpoint and the output logs remain the source of truth for a run.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/provisioner/internal/executor"
)

// DBTX is the subset of pgx used here.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// ErrNotFound is returned when no run matches.
var ErrNotFound = errors.New("run not found")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS provision_runs (
	run_id              UUID PRIMARY KEY,
	pipeline_version    TEXT NOT NULL,
	input_hash          TEXT NOT NULL,
	environment         TEXT NOT NULL,
	status              TEXT NOT NULL,
	resumed             BOOLEAN NOT NULL DEFAULT FALSE,
	started_at          TIMESTAMPTZ NOT NULL,
	finished_at         TIMESTAMPTZ,
	created_count       INTEGER NOT NULL DEFAULT 0,
	updated_count       INTEGER NOT NULL DEFAULT 0,
	pending_count       INTEGER NOT NULL DEFAULT 0,
	rejected_count      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS provision_runs_started_at_idx
	ON provision_runs (started_at DESC);
`

// Run is one row of provision_runs.
type Run struct {
	RunID           string
	PipelineVersion string
	InputHash       string
	Environment     string
	Status          string
	Resumed         bool
	StartedAt       time.Time
	FinishedAt      *time.Time
	Created         int
	Updated         int
	Pending         int
	Rejected        int
}

// Store writes run summaries. It implements executor.Recorder.
type Store struct {
	db          DBTX
	environment string
}

var _ executor.Recorder = (*Store)(nil)

// New creates a store tagging every run with environment.
func New(db DBTX, environment string) *Store {
	return &Store{db: db, environment: environment}
}

// EnsureSchema creates the table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure provision_runs schema: %w", err)
	}
	return nil
}

// RecordStart inserts the run. Recording the same run twice resets it to the
// new start state.
func (s *Store) RecordStart(ctx context.Context, sum executor.Summary) error {
	query := `
		INSERT INTO provision_runs (run_id, pipeline_version, input_hash, environment, status, resumed, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			resumed = EXCLUDED.resumed,
			started_at = EXCLUDED.started_at,
			finished_at = NULL
	`

	_, err := s.db.Exec(ctx, query,
		sum.RunID,
		sum.PipelineVersion,
		sum.InputHash,
		s.environment,
		string(sum.Status),
		sum.Resumed,
		sum.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("record run start %s: %w", sum.RunID, err)
	}
	return nil
}

// RecordFinish stores the final status and totals of a started run.
func (s *Store) RecordFinish(ctx context.Context, sum executor.Summary) error {
	query := `
		UPDATE provision_runs
		SET status = $2, finished_at = $3,
			created_count = $4, updated_count = $5, pending_count = $6, rejected_count = $7
		WHERE run_id = $1
	`

	totals := sum.Totals()
	tag, err := s.db.Exec(ctx, query,
		sum.RunID,
		string(sum.Status),
		sum.FinishedAt,
		totals.Created,
		totals.Updated,
		totals.Pending,
		totals.Rejected,
	)
	if err != nil {
		return fmt.Errorf("record run finish %s: %w", sum.RunID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record run finish %s: %w", sum.RunID, ErrNotFound)
	}
	return nil
}

// Latest returns the most recently started run of this environment.
func (s *Store) Latest(ctx context.Context) (*Run, error) {
	query := `
		SELECT run_id::text, pipeline_version, input_hash, environment, status, resumed,
			started_at, finished_at, created_count, updated_count, pending_count, rejected_count
		FROM provision_runs
		WHERE environment = $1
		ORDER BY started_at DESC
		LIMIT 1
	`

	var (
		run      Run
		finished pgtype.Timestamptz
	)
	err := s.db.QueryRow(ctx, query, s.environment).Scan(
		&run.RunID,
		&run.PipelineVersion,
		&run.InputHash,
		&run.Environment,
		&run.Status,
		&run.Resumed,
		&run.StartedAt,
		&finished,
		&run.Created,
		&run.Updated,
		&run.Pending,
		&run.Rejected,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest run: %w", err)
	}

	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}
