package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/widgetprobe/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Schema creates the run history tables.
const Schema = `
CREATE TABLE IF NOT EXISTS probe_runs (
    id          TEXT PRIMARY KEY,
    scenario    TEXT NOT NULL,
    verdict     TEXT NOT NULL,
    timed_out   BOOLEAN NOT NULL DEFAULT FALSE,
    started_at  TIMESTAMPTZ NOT NULL,
    duration_ms BIGINT NOT NULL,
    event_count INTEGER NOT NULL,
    errors      TEXT[] NOT NULL DEFAULT '{}',
    warnings    TEXT[] NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS probe_runs_scenario_started_idx ON probe_runs (scenario, started_at DESC);
CREATE TABLE IF NOT EXISTS probe_steps (
    run_id      TEXT NOT NULL REFERENCES probe_runs (id) ON DELETE CASCADE,
    idx         INTEGER NOT NULL,
    name        TEXT NOT NULL,
    kind        TEXT NOT NULL,
    status      TEXT NOT NULL,
    error_kind  TEXT NOT NULL DEFAULT '',
    message     TEXT NOT NULL DEFAULT '',
    value       TEXT,
    duration_ms BIGINT NOT NULL,
    PRIMARY KEY (run_id, idx)
);
`

const insertRunSQL = `
    INSERT INTO probe_runs (id, scenario, verdict, timed_out, started_at, duration_ms, event_count, errors, warnings)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
`

const recentRunsSQL = `
    SELECT id, scenario, verdict, timed_out, started_at, duration_ms, event_count
    FROM probe_runs
    WHERE scenario = $1
    ORDER BY started_at DESC
    LIMIT $2;
`

var stepColumns = []string{"run_id", "idx", "name", "kind", "status", "error_kind", "message", "value", "duration_ms"}

// RunSummary is one row of run history.
type RunSummary struct {
	ID         string
	Scenario   string
	Verdict    schemas.Verdict
	TimedOut   bool
	StartedAt  time.Time
	Duration   time.Duration
	EventCount int
}

// Store persists run reports in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the tables if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveReport writes the run row and all step outcomes in one transaction.
func (s *Store) SaveReport(ctx context.Context, report *schemas.RunReport) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, insertRunSQL,
		report.ID, report.Scenario, string(report.Verdict), report.TimedOut,
		report.StartedAt, report.Duration().Milliseconds(), len(report.Events),
		nonNil(report.Errors), nonNil(report.Warnings))
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", report.ID, err)
	}

	if len(report.Steps) > 0 {
		if err := s.persistSteps(ctx, tx, report); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Run persisted", zap.String("run_id", report.ID), zap.Int("steps", len(report.Steps)))
	return nil
}

func (s *Store) persistSteps(ctx context.Context, tx pgx.Tx, report *schemas.RunReport) error {
	rows := make([][]interface{}, len(report.Steps))
	for i, o := range report.Steps {
		var value *string
		if o.Value != nil {
			v := o.Value.String()
			value = &v
		}
		rows[i] = []interface{}{
			report.ID, o.Index, o.Name, string(o.Kind), string(o.Status),
			string(o.ErrorKind), o.Message, value, o.Duration().Milliseconds(),
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"probe_steps"}, stepColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy steps: %w", err)
	}
	if int(copyCount) != len(report.Steps) {
		return fmt.Errorf("mismatch in copied steps: expected %d, got %d", len(report.Steps), copyCount)
	}
	return nil
}

// RecentRuns lists the newest runs of a scenario, newest first.
func (s *Store) RecentRuns(ctx context.Context, scenario string, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, recentRunsSQL, scenario, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			r          RunSummary
			verdict    string
			durationMS int64
		)
		if err := rows.Scan(&r.ID, &r.Scenario, &verdict, &r.TimedOut, &r.StartedAt, &durationMS, &r.EventCount); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		r.Verdict = schemas.Verdict(verdict)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
