package retry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Record is the monitor's account of one retry operation: when it started
// and ended, every attempt, the final outcome, and the cumulative delay.
// Records persist as <dir>/<execution_id>.json.
type Record struct {
	ExecutionID string        `json:"execution_id"`
	WorkflowID  string        `json:"workflow_id"`
	StepID      string        `json:"step_id"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time,omitempty"`
	RetryCount  int           `json:"retry_count"`
	MaxRetries  int           `json:"max_retries"`
	Outcome     Outcome       `json:"final_result,omitempty"`
	FinalError  string        `json:"final_error,omitempty"`
	TotalDelay  time.Duration `json:"total_delay_ms"`
	Attempts    []Attempt     `json:"attempts"`
}

// Statistics aggregates monitor records for a workflow or step.
type Statistics struct {
	Operations   int            `json:"total_operations"`
	Attempts     int            `json:"total_attempts"`
	Successes    int            `json:"successful_operations"`
	SuccessRate  float64        `json:"success_rate"`
	AverageDelay time.Duration  `json:"average_delay_ms"`
	ByOutcome    map[Outcome]int `json:"results"`
	// MostRetried maps "workflow/step" to its total retry count, useful
	// for spotting chronically flaky steps.
	MostRetried []StepRetries `json:"most_retried_steps"`
}

// StepRetries pairs a step with its observed retry total.
type StepRetries struct {
	WorkflowID string `json:"workflow_id"`
	StepID     string `json:"step_id"`
	Retries    int    `json:"retries"`
}

// Monitor records retry operations in memory and, when configured with a
// directory, on disk. Records are append-only; updates lock per monitor.
type Monitor struct {
	mu      sync.Mutex
	records map[string]*Record

	dir    string
	logger hclog.Logger
}

// NewMonitor builds a Monitor. An empty dir disables persistence.
func NewMonitor(dir string, logger hclog.Logger) *Monitor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Monitor{records: make(map[string]*Record), dir: dir, logger: logger}
}

// Start registers a new record for the operation described by sc.
func (m *Monitor) Start(sc *StepContext) *Record {
	rec := &Record{
		ExecutionID: sc.ExecutionID,
		WorkflowID:  sc.WorkflowID,
		StepID:      sc.StepID,
		StartTime:   sc.StartTime,
		MaxRetries:  sc.MaxRetries,
	}
	m.mu.Lock()
	m.records[rec.ExecutionID] = rec
	m.mu.Unlock()
	return rec
}

// Update finalizes the record for sc with the outcome and persists it.
func (m *Monitor) Update(sc *StepContext, outcome Outcome, finalErr error) {
	m.mu.Lock()
	rec, ok := m.records[sc.ExecutionID]
	if !ok {
		rec = &Record{
			ExecutionID: sc.ExecutionID,
			WorkflowID:  sc.WorkflowID,
			StepID:      sc.StepID,
			StartTime:   sc.StartTime,
			MaxRetries:  sc.MaxRetries,
		}
		m.records[sc.ExecutionID] = rec
	}
	rec.EndTime = time.Now()
	rec.RetryCount = sc.RetryCount
	rec.Outcome = outcome
	rec.TotalDelay = sc.TotalDelay
	rec.Attempts = append([]Attempt(nil), sc.Attempts...)
	if finalErr != nil {
		rec.FinalError = finalErr.Error()
	}
	snapshot := *rec
	m.mu.Unlock()

	m.persist(&snapshot)
}

// Get returns the record for an execution id, or nil.
func (m *Monitor) Get(executionID string) *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[executionID]; ok {
		snapshot := *rec
		return &snapshot
	}
	return nil
}

// ForWorkflow returns records for a workflow, oldest first.
func (m *Monitor) ForWorkflow(workflowID string) []*Record {
	return m.filter(func(r *Record) bool { return r.WorkflowID == workflowID })
}

// ForStep returns records for one step of a workflow, oldest first.
func (m *Monitor) ForStep(workflowID, stepID string) []*Record {
	return m.filter(func(r *Record) bool {
		return r.WorkflowID == workflowID && r.StepID == stepID
	})
}

func (m *Monitor) filter(keep func(*Record) bool) []*Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Record
	for _, r := range m.records {
		if keep(r) {
			snapshot := *r
			out = append(out, &snapshot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// Stats aggregates records filtered by workflow and/or step (empty matches
// all).
func (m *Monitor) Stats(workflowID, stepID string) Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Statistics{ByOutcome: make(map[Outcome]int)}
	retriesPerStep := make(map[string]*StepRetries)
	var totalDelay time.Duration

	for _, r := range m.records {
		if workflowID != "" && r.WorkflowID != workflowID {
			continue
		}
		if stepID != "" && r.StepID != stepID {
			continue
		}
		stats.Operations++
		stats.Attempts += len(r.Attempts)
		totalDelay += r.TotalDelay
		if r.Outcome != "" {
			stats.ByOutcome[r.Outcome]++
		}
		if r.Outcome == OutcomeSuccess {
			stats.Successes++
		}
		key := r.WorkflowID + "/" + r.StepID
		entry, ok := retriesPerStep[key]
		if !ok {
			entry = &StepRetries{WorkflowID: r.WorkflowID, StepID: r.StepID}
			retriesPerStep[key] = entry
		}
		entry.Retries += r.RetryCount
	}

	if stats.Operations > 0 {
		stats.SuccessRate = float64(stats.Successes) / float64(stats.Operations)
		stats.AverageDelay = totalDelay / time.Duration(stats.Operations)
	}
	for _, entry := range retriesPerStep {
		if entry.Retries > 0 {
			stats.MostRetried = append(stats.MostRetried, *entry)
		}
	}
	sort.Slice(stats.MostRetried, func(i, j int) bool {
		return stats.MostRetried[i].Retries > stats.MostRetried[j].Retries
	})
	return stats
}

// Clear drops all in-memory records.
func (m *Monitor) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]*Record)
}

func (m *Monitor) persist(rec *Record) {
	if m.dir == "" {
		return
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		m.logger.Error("create retry monitor dir", "error", err)
		return
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		m.logger.Error("encode retry record", "execution_id", rec.ExecutionID, "error", err)
		return
	}
	path := filepath.Join(m.dir, fmt.Sprintf("%s.json", rec.ExecutionID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		m.logger.Error("write retry record", "path", path, "error", err)
	}
}
