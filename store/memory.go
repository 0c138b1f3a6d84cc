package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/wrenchchatrepo/wrenchai-sub000/execlog"
)

// MemIndex is an in-memory Index for testing and single-process use.
type MemIndex struct {
	mu      sync.RWMutex
	records map[string]*execlog.Record
}

// NewMemIndex creates an empty in-memory index.
func NewMemIndex() *MemIndex {
	return &MemIndex{records: make(map[string]*execlog.Record)}
}

// SaveExecution implements Index.
func (m *MemIndex) SaveExecution(_ context.Context, rec *execlog.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := *rec
	m.records[rec.ExecutionID] = &snapshot
	return nil
}

// GetExecution implements Index.
func (m *MemIndex) GetExecution(_ context.Context, executionID string) (*execlog.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[executionID]
	if !ok {
		return nil, ErrNotFound
	}
	snapshot := *rec
	return &snapshot, nil
}

// FindExecutions implements Index.
func (m *MemIndex) FindExecutions(_ context.Context, q execlog.Query) ([]execlog.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	var out []execlog.Summary
	for _, rec := range m.records {
		if !matches(rec, q) {
			continue
		}
		out = append(out, summarize(rec, ""))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping implements Index.
func (m *MemIndex) Ping(context.Context) error { return nil }

// Close implements Index.
func (m *MemIndex) Close() error { return nil }

func matches(rec *execlog.Record, q execlog.Query) bool {
	if q.Name != "" && !strings.Contains(rec.Name, q.Name) {
		return false
	}
	if q.Status != "" && rec.Status != q.Status {
		return false
	}
	if q.CorrelationID != "" && rec.CorrelationID != q.CorrelationID {
		return false
	}
	if !q.StartDate.IsZero() && rec.StartTime.Before(q.StartDate) {
		return false
	}
	if !q.EndDate.IsZero() && rec.StartTime.After(q.EndDate) {
		return false
	}
	return true
}

func summarize(rec *execlog.Record, path string) execlog.Summary {
	return execlog.Summary{
		ExecutionID: rec.ExecutionID,
		Name:        rec.Name,
		Type:        rec.Type,
		Status:      rec.Status,
		StartTime:   rec.StartTime,
		EndTime:     rec.EndTime,
		Duration:    rec.Duration,
		TotalSteps:  rec.TotalSteps,
		FailedSteps: rec.FailedSteps,
		LogPath:     path,
	}
}
