package retry

import (
	"encoding/json"
	"os"
	"time"
)

// Reporter summarizes monitor records into serializable reports.
type Reporter struct {
	monitor *Monitor
}

// NewReporter builds a Reporter over a monitor.
func NewReporter(monitor *Monitor) *Reporter {
	return &Reporter{monitor: monitor}
}

// SummaryReport is a compact view of retry activity for one workflow (or
// the whole runtime when WorkflowID is empty).
type SummaryReport struct {
	WorkflowID  string     `json:"workflow_id,omitempty"`
	GeneratedAt time.Time  `json:"generated_at"`
	Stats       Statistics `json:"statistics"`
}

// DetailedReport extends the summary with every record.
type DetailedReport struct {
	SummaryReport
	Records []*Record `json:"records"`
}

// Summary builds a summary report for a workflow filter.
func (r *Reporter) Summary(workflowID string) SummaryReport {
	return SummaryReport{
		WorkflowID:  workflowID,
		GeneratedAt: time.Now(),
		Stats:       r.monitor.Stats(workflowID, ""),
	}
}

// Detailed builds a detailed report for a workflow filter.
func (r *Reporter) Detailed(workflowID string) DetailedReport {
	var records []*Record
	if workflowID == "" {
		records = r.monitor.filter(func(*Record) bool { return true })
	} else {
		records = r.monitor.ForWorkflow(workflowID)
	}
	return DetailedReport{
		SummaryReport: r.Summary(workflowID),
		Records:       records,
	}
}

// ExportJSON writes a detailed report to path.
func (r *Reporter) ExportJSON(workflowID, path string) error {
	report := r.Detailed(workflowID)
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
