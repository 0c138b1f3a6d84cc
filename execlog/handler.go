package execlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Handler stores and retrieves execution records on disk. Records live
// under <base>/<YYYY>/<MM>/<DD>/<execution_id>_<name>.json, keyed by start
// date. Query paths tolerate corrupt files by logging and skipping them.
type Handler struct {
	baseDir string
	logger  hclog.Logger
}

// NewHandler builds a Handler rooted at baseDir.
func NewHandler(baseDir string, logger hclog.Logger) *Handler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Handler{baseDir: baseDir, logger: logger}
}

// Store writes the record to its dated path and returns the path.
func (h *Handler) Store(rec *Record) (string, error) {
	dir := filepath.Join(h.baseDir, rec.StartTime.Format("2006/01/02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create execution log dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.json", rec.ExecutionID, strings.ReplaceAll(rec.Name, " ", "_"))
	path := filepath.Join(dir, name)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode execution record: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".exec*.tmp")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}

// Load retrieves a record by execution id, or nil when not found.
func (h *Handler) Load(executionID string) (*Record, error) {
	var found *Record
	err := h.walk(func(path string, rec *Record) bool {
		if rec.ExecutionID == executionID {
			found = rec
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Query filters persisted record summaries.
type Query struct {
	// Name matches records whose name contains the substring.
	Name string
	// Status matches exactly when non-empty.
	Status Status
	// StartDate/EndDate bound the record's start time (inclusive).
	StartDate time.Time
	EndDate   time.Time
	// CorrelationID matches exactly when non-empty.
	CorrelationID string
	// Limit caps the result count; zero means 100.
	Limit int
}

// Summary is the compact listing form of a persisted record.
type Summary struct {
	ExecutionID string     `json:"execution_id"`
	Name        string     `json:"name"`
	Type        string     `json:"type"`
	Status      Status     `json:"status"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	Duration    float64    `json:"duration_seconds"`
	TotalSteps  int        `json:"total_steps"`
	FailedSteps int        `json:"failed_steps"`
	LogPath     string     `json:"log_path"`
}

// Find returns summaries of persisted records matching q, most recent
// first.
func (h *Handler) Find(q Query) ([]Summary, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	var out []Summary
	err := h.walk(func(path string, rec *Record) bool {
		if q.Name != "" && !strings.Contains(rec.Name, q.Name) {
			return true
		}
		if q.Status != "" && rec.Status != q.Status {
			return true
		}
		if q.CorrelationID != "" && rec.CorrelationID != q.CorrelationID {
			return true
		}
		if !q.StartDate.IsZero() && rec.StartTime.Before(q.StartDate) {
			return true
		}
		if !q.EndDate.IsZero() && rec.StartTime.After(q.EndDate) {
			return true
		}
		out = append(out, Summary{
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
		})
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Metrics aggregates persisted records over a window.
type Metrics struct {
	TotalExecutions      int                `json:"total_executions"`
	SuccessfulExecutions int                `json:"successful_executions"`
	FailedExecutions     int                `json:"failed_executions"`
	SuccessRate          float64            `json:"success_rate"`
	AvgDurationSeconds   float64            `json:"avg_duration_seconds"`
	TotalLLMTokens       int                `json:"total_llm_tokens"`
	TotalCost            float64            `json:"total_cost"`
	TotalSteps           int                `json:"total_steps"`
	FailedSteps          int                `json:"failed_steps"`
	RetriedSteps         int                `json:"retried_steps"`
	AvgStepsPerExecution float64            `json:"avg_steps_per_execution"`
	StatusCounts         map[Status]int     `json:"status_counts"`
	ToolUsage            map[string]int     `json:"tool_usage"`
	AgentUsage           map[string]int     `json:"agent_usage"`
	ExecutionsByDate     map[string]int     `json:"executions_by_date"`
	AvgDurationByType    map[string]float64 `json:"avg_duration_by_type"`
}

// AggregateMetrics computes Metrics over records whose start time falls in
// [startDate, endDate] (either bound may be zero) and, when executionType
// is non-empty, whose type matches.
func (h *Handler) AggregateMetrics(startDate, endDate time.Time, executionType string) (Metrics, error) {
	m := Metrics{
		StatusCounts:      make(map[Status]int),
		ToolUsage:         make(map[string]int),
		AgentUsage:        make(map[string]int),
		ExecutionsByDate:  make(map[string]int),
		AvgDurationByType: make(map[string]float64),
	}
	durationByType := make(map[string]float64)
	countByType := make(map[string]int)
	var totalDuration float64

	err := h.walk(func(path string, rec *Record) bool {
		if !startDate.IsZero() && rec.StartTime.Before(startDate) {
			return true
		}
		if !endDate.IsZero() && rec.StartTime.After(endDate) {
			return true
		}
		if executionType != "" && rec.Type != executionType {
			return true
		}
		m.TotalExecutions++
		switch rec.Status {
		case StatusCompleted:
			m.SuccessfulExecutions++
		case StatusFailed:
			m.FailedExecutions++
		}
		m.StatusCounts[rec.Status]++
		totalDuration += rec.Duration
		durationByType[rec.Type] += rec.Duration
		countByType[rec.Type]++
		m.TotalLLMTokens += rec.LLMTokensUsed
		m.TotalCost += rec.TotalCost
		m.TotalSteps += rec.TotalSteps
		m.FailedSteps += rec.FailedSteps
		m.RetriedSteps += rec.RetriedSteps
		for tool := range rec.ToolsUsed {
			m.ToolUsage[tool]++
		}
		for agent := range rec.AgentsUsed {
			m.AgentUsage[agent]++
		}
		m.ExecutionsByDate[rec.StartTime.Format("2006-01-02")]++
		return true
	})
	if err != nil {
		return m, err
	}
	if m.TotalExecutions > 0 {
		m.AvgDurationSeconds = totalDuration / float64(m.TotalExecutions)
		m.AvgStepsPerExecution = float64(m.TotalSteps) / float64(m.TotalExecutions)
		m.SuccessRate = float64(m.SuccessfulExecutions) / float64(m.TotalExecutions)
	}
	for typ, total := range durationByType {
		if n := countByType[typ]; n > 0 {
			m.AvgDurationByType[typ] = total / float64(n)
		}
	}
	return m, nil
}

// walk visits every persisted record under the base directory. The visitor
// returns false to stop early. Unreadable files are logged and skipped.
func (h *Handler) walk(visit func(path string, rec *Record) bool) error {
	if h.baseDir == "" {
		return nil
	}
	if _, err := os.Stat(h.baseDir); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(h.baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			h.logger.Warn("execution log walk error", "path", path, "error", err)
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			h.logger.Warn("unreadable execution log", "path", path, "error", err)
			return nil
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			h.logger.Warn("corrupt execution log skipped", "path", path, "error", err)
			return nil
		}
		if !visit(path, &rec) {
			return filepath.SkipAll
		}
		return nil
	})
}
