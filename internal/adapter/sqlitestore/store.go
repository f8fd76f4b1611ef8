// Package sqlitestore keeps run records in a local SQLite database so run
// history survives restarts.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roushou/adpilot/internal/domain/runlog"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	correlation_id TEXT NOT NULL,
	variant TEXT NOT NULL,
	status TEXT NOT NULL,
	current_step TEXT NOT NULL,
	current_ordinal INTEGER NOT NULL,
	completed_steps INTEGER NOT NULL,
	total_steps INTEGER NOT NULL,
	attempt INTEGER NOT NULL,
	started_at TEXT NOT NULL,
	ended_at TEXT NOT NULL,
	error_code TEXT NOT NULL,
	error_message TEXT NOT NULL,
	error_sub_kind TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs(started_at);`

const columns = `run_id, correlation_id, variant, status, current_step, current_ordinal,
	completed_steps, total_steps, attempt, started_at, ended_at, error_code, error_message, error_sub_kind`

type Store struct {
	db *sql.DB
}

var _ runlog.ErrorAwareStore = (*Store)(nil)

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Upsert(ctx context.Context, r runlog.Record) error {
	if r.RunID == "" {
		return runlog.NewStoreError(runlog.StoreErrorInvalidData, "runlog.upsert", "run id cannot be empty", nil)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (`+columns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
			correlation_id = excluded.correlation_id,
			variant = excluded.variant,
			status = excluded.status,
			current_step = excluded.current_step,
			current_ordinal = excluded.current_ordinal,
			completed_steps = excluded.completed_steps,
			total_steps = excluded.total_steps,
			attempt = excluded.attempt,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			error_code = excluded.error_code,
			error_message = excluded.error_message,
			error_sub_kind = excluded.error_sub_kind`,
		r.RunID, r.CorrelationID, r.Variant, string(r.Status), r.CurrentStep, r.CurrentOrdinal,
		r.CompletedSteps, r.TotalSteps, r.Attempt, formatTime(r.StartedAt), formatTime(r.EndedAt),
		r.ErrorCode, r.ErrorMessage, r.ErrorSubKind,
	)
	if err != nil {
		return runlog.Unavailable("runlog.upsert", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, runID string) (runlog.Record, bool) {
	r, ok, _ := s.GetWithError(ctx, runID)
	return r, ok
}

func (s *Store) GetWithError(ctx context.Context, runID string) (runlog.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM runs WHERE run_id = ?`, runID)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return runlog.Record{}, false, nil
	}
	if err != nil {
		return runlog.Record{}, false, err
	}
	return r, true, nil
}

func (s *Store) List(ctx context.Context) []runlog.Record {
	out, _ := s.ListWithError(ctx)
	return out
}

// ListWithError returns records newest first.
func (s *Store) ListWithError(ctx context.Context) ([]runlog.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM runs`)
	if err != nil {
		return nil, runlog.Unavailable("runlog.list", err)
	}
	defer rows.Close()

	var out []runlog.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, runlog.Unavailable("runlog.list", err)
	}
	runlog.SortNewestFirst(out)
	return out, nil
}

// DeleteOlderThan removes settled runs that ended before cutoff. Runs
// without an end time fall back to their start time.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM runs
		 WHERE status != ?
		   AND (CASE WHEN ended_at != '' THEN ended_at ELSE started_at END) < ?`,
		string(runlog.StatusRunning), formatTime(cutoff),
	)
	if err != nil {
		return 0, runlog.Unavailable("runlog.delete_older_than", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, runlog.Unavailable("runlog.delete_older_than", err)
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (runlog.Record, error) {
	var r runlog.Record
	var status, startedAt, endedAt string
	err := row.Scan(
		&r.RunID, &r.CorrelationID, &r.Variant, &status, &r.CurrentStep, &r.CurrentOrdinal,
		&r.CompletedSteps, &r.TotalSteps, &r.Attempt, &startedAt, &endedAt,
		&r.ErrorCode, &r.ErrorMessage, &r.ErrorSubKind,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return r, err
	}
	if err != nil {
		return r, runlog.Unavailable("runlog.scan", err)
	}
	r.Status = runlog.Status(status)
	if r.StartedAt, err = parseTime(startedAt); err != nil {
		return r, runlog.Corrupt("runlog.scan", r.RunID, err)
	}
	if r.EndedAt, err = parseTime(endedAt); err != nil {
		return r, runlog.Corrupt("runlog.scan", r.RunID, err)
	}
	return r, nil
}

// Timestamps are fixed-width UTC so lexical order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}
