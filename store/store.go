// Package store provides queryable indexes over execution records. The
// JSON artifacts written by the execution logger remain the durable source
// of truth; an Index answers listing and status queries without scanning
// the artifact tree.
//
// Implementations: in-memory (testing, single process), SQLite (zero-setup
// local persistence), and MySQL (shared deployments).
package store

import (
	"context"
	"errors"

	"github.com/wrenchchatrepo/wrenchai-sub000/execlog"
)

// ErrNotFound is returned when a requested execution id is not indexed.
var ErrNotFound = errors.New("not found")

// Index stores and queries execution records.
type Index interface {
	// SaveExecution upserts a finished (or in-flight) record.
	SaveExecution(ctx context.Context, rec *execlog.Record) error

	// GetExecution retrieves a record by id. Returns ErrNotFound when the
	// id is unknown.
	GetExecution(ctx context.Context, executionID string) (*execlog.Record, error)

	// FindExecutions returns summaries matching the query, most recent
	// first.
	FindExecutions(ctx context.Context, q execlog.Query) ([]execlog.Summary, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}
