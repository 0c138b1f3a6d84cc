package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wrenchchatrepo/wrenchai-sub000/execlog"
)

// SQLiteIndex is a SQLite-backed Index: a single-file database with zero
// setup, suitable for development and single-host deployments. WAL mode is
// enabled so readers do not block the writer.
type SQLiteIndex struct {
	db   *sql.DB
	path string
}

// NewSQLiteIndex opens (and migrates) a SQLite index at path. Use
// ":memory:" for tests.
func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite index: %w", err)
	}
	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	idx := &SQLiteIndex{db: db, path: path}
	if err := idx.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

func (s *SQLiteIndex) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS executions (
			execution_id   TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			type           TEXT NOT NULL,
			status         TEXT NOT NULL,
			correlation_id TEXT NOT NULL,
			start_time     TIMESTAMP NOT NULL,
			end_time       TIMESTAMP,
			duration_s     REAL NOT NULL DEFAULT 0,
			total_steps    INTEGER NOT NULL DEFAULT 0,
			failed_steps   INTEGER NOT NULL DEFAULT 0,
			record         TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_executions_name ON executions(name);
		CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
		CREATE INDEX IF NOT EXISTS idx_executions_correlation ON executions(correlation_id);
		CREATE INDEX IF NOT EXISTS idx_executions_start ON executions(start_time);
	`)
	if err != nil {
		return fmt.Errorf("migrate execution index: %w", err)
	}
	return nil
}

// SaveExecution implements Index.
func (s *SQLiteIndex) SaveExecution(ctx context.Context, rec *execlog.Record) error {
	record, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode execution record: %w", err)
	}
	var endTime any
	if rec.EndTime != nil {
		endTime = rec.EndTime.UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions
			(execution_id, name, type, status, correlation_id, start_time,
			 end_time, duration_s, total_steps, failed_steps, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id) DO UPDATE SET
			status = excluded.status,
			end_time = excluded.end_time,
			duration_s = excluded.duration_s,
			total_steps = excluded.total_steps,
			failed_steps = excluded.failed_steps,
			record = excluded.record
	`, rec.ExecutionID, rec.Name, rec.Type, string(rec.Status), rec.CorrelationID,
		rec.StartTime.UTC(), endTime, rec.Duration, rec.TotalSteps, rec.FailedSteps,
		string(record))
	if err != nil {
		return fmt.Errorf("save execution %s: %w", rec.ExecutionID, err)
	}
	return nil
}

// GetExecution implements Index.
func (s *SQLiteIndex) GetExecution(ctx context.Context, executionID string) (*execlog.Record, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM executions WHERE execution_id = ?`, executionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load execution %s: %w", executionID, err)
	}
	var rec execlog.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("decode execution %s: %w", executionID, err)
	}
	return &rec, nil
}

// FindExecutions implements Index.
func (s *SQLiteIndex) FindExecutions(ctx context.Context, q execlog.Query) ([]execlog.Summary, error) {
	query, args := buildFindQuery(q, "?")
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find executions: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

// Ping implements Index.
func (s *SQLiteIndex) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close implements Index.
func (s *SQLiteIndex) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *SQLiteIndex) Path() string { return s.path }

// buildFindQuery assembles the summary query shared by the SQL backends.
// placeholder is "?" for both SQLite and MySQL.
func buildFindQuery(q execlog.Query, placeholder string) (string, []any) {
	var where []string
	var args []any
	if q.Name != "" {
		where = append(where, "name LIKE "+placeholder)
		args = append(args, "%"+q.Name+"%")
	}
	if q.Status != "" {
		where = append(where, "status = "+placeholder)
		args = append(args, string(q.Status))
	}
	if q.CorrelationID != "" {
		where = append(where, "correlation_id = "+placeholder)
		args = append(args, q.CorrelationID)
	}
	if !q.StartDate.IsZero() {
		where = append(where, "start_time >= "+placeholder)
		args = append(args, q.StartDate.UTC())
	}
	if !q.EndDate.IsZero() {
		where = append(where, "start_time <= "+placeholder)
		args = append(args, q.EndDate.UTC())
	}
	query := `SELECT execution_id, name, type, status, start_time, end_time,
		duration_s, total_steps, failed_steps FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY start_time DESC LIMIT %d", limit)
	return query, args
}

func scanSummaries(rows *sql.Rows) ([]execlog.Summary, error) {
	var out []execlog.Summary
	for rows.Next() {
		var s execlog.Summary
		var status string
		var endTime sql.NullTime
		if err := rows.Scan(&s.ExecutionID, &s.Name, &s.Type, &status, &s.StartTime,
			&endTime, &s.Duration, &s.TotalSteps, &s.FailedSteps); err != nil {
			return nil, fmt.Errorf("scan execution summary: %w", err)
		}
		s.Status = execlog.Status(status)
		if endTime.Valid {
			t := endTime.Time
			s.EndTime = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// timeOrNil converts an optional time for SQL parameters.
func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
