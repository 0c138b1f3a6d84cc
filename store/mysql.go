package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/wrenchchatrepo/wrenchai-sub000/execlog"
)

// MySQLIndex is a MySQL-backed Index for deployments where several runtime
// processes share one execution history.
//
// The DSN must enable parseTime, e.g.
// "user:pass@tcp(localhost:3306)/wrenchai?parseTime=true".
type MySQLIndex struct {
	db *sql.DB
}

// NewMySQLIndex connects to MySQL, configures the pool, and migrates the
// schema.
func NewMySQLIndex(dsn string) (*MySQLIndex, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql index: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql index: %w", err)
	}
	idx := &MySQLIndex{db: db}
	if err := idx.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

func (m *MySQLIndex) migrate(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS executions (
			execution_id   VARCHAR(64) PRIMARY KEY,
			name           VARCHAR(255) NOT NULL,
			type           VARCHAR(64) NOT NULL,
			status         VARCHAR(32) NOT NULL,
			correlation_id VARCHAR(64) NOT NULL,
			start_time     DATETIME(6) NOT NULL,
			end_time       DATETIME(6) NULL,
			duration_s     DOUBLE NOT NULL DEFAULT 0,
			total_steps    INT NOT NULL DEFAULT 0,
			failed_steps   INT NOT NULL DEFAULT 0,
			record         JSON NOT NULL,
			INDEX idx_executions_name (name),
			INDEX idx_executions_status (status),
			INDEX idx_executions_correlation (correlation_id),
			INDEX idx_executions_start (start_time)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
	`)
	if err != nil {
		return fmt.Errorf("migrate execution index: %w", err)
	}
	return nil
}

// SaveExecution implements Index.
func (m *MySQLIndex) SaveExecution(ctx context.Context, rec *execlog.Record) error {
	record, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode execution record: %w", err)
	}
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO executions
			(execution_id, name, type, status, correlation_id, start_time,
			 end_time, duration_s, total_steps, failed_steps, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			end_time = VALUES(end_time),
			duration_s = VALUES(duration_s),
			total_steps = VALUES(total_steps),
			failed_steps = VALUES(failed_steps),
			record = VALUES(record)
	`, rec.ExecutionID, rec.Name, rec.Type, string(rec.Status), rec.CorrelationID,
		rec.StartTime.UTC(), timeOrNil(rec.EndTime), rec.Duration,
		rec.TotalSteps, rec.FailedSteps, string(record))
	if err != nil {
		return fmt.Errorf("save execution %s: %w", rec.ExecutionID, err)
	}
	return nil
}

// GetExecution implements Index.
func (m *MySQLIndex) GetExecution(ctx context.Context, executionID string) (*execlog.Record, error) {
	var data string
	err := m.db.QueryRowContext(ctx,
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
func (m *MySQLIndex) FindExecutions(ctx context.Context, q execlog.Query) ([]execlog.Summary, error) {
	query, args := buildFindQuery(q, "?")
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find executions: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

// Ping implements Index.
func (m *MySQLIndex) Ping(ctx context.Context) error { return m.db.PingContext(ctx) }

// Close implements Index.
func (m *MySQLIndex) Close() error { return m.db.Close() }

// Stats exposes the connection pool statistics for diagnostics.
func (m *MySQLIndex) Stats() sql.DBStats { return m.db.Stats() }
