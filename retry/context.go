package retry

import (
	"time"

	"github.com/google/uuid"

	"github.com/wrenchchatrepo/wrenchai-sub000/recovery"
)

// Attempt is one entry in a step's retry history.
type Attempt struct {
	Number    int           `json:"attempt"`
	Outcome   Outcome       `json:"result"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration_ms"`
}

// StepContext tracks the retry state of one operation on one step. A fresh
// context is created per execution and threaded through the strategy and
// the monitor.
type StepContext struct {
	WorkflowID  string
	StepID      string
	ExecutionID string

	// OriginalErr is the first failure observed; Category is its
	// categorization and drives the policy's retry_on/abort_on checks.
	OriginalErr error
	Category    recovery.Category

	RetryCount int
	MaxRetries int

	StartTime     time.Time
	LastRetryTime time.Time
	NextRetryTime time.Time
	TotalDelay    time.Duration

	Attempts []Attempt

	// Scratch holds strategy-private state across attempts, such as the
	// current degradation level.
	Scratch map[string]any
}

// NewStepContext creates a context for retrying (workflowID, stepID) with
// the given budget.
func NewStepContext(workflowID, stepID string, maxRetries int) *StepContext {
	return &StepContext{
		WorkflowID:  workflowID,
		StepID:      stepID,
		ExecutionID: uuid.NewString(),
		MaxRetries:  maxRetries,
		StartTime:   time.Now(),
		Scratch:     make(map[string]any),
	}
}

// RecordAttempt appends one attempt to the history.
func (sc *StepContext) RecordAttempt(number int, outcome Outcome, err error, duration time.Duration) {
	a := Attempt{
		Number:    number,
		Outcome:   outcome,
		Timestamp: time.Now(),
		Duration:  duration,
	}
	if err != nil {
		a.Error = err.Error()
	}
	sc.Attempts = append(sc.Attempts, a)
}

// RemainingAttempts reports how many retries are left in the budget.
func (sc *StepContext) RemainingAttempts() int {
	if sc.RetryCount >= sc.MaxRetries {
		return 0
	}
	return sc.MaxRetries - sc.RetryCount
}

// ExceedsMaxRetries reports whether the retry budget is spent.
func (sc *StepContext) ExceedsMaxRetries() bool {
	return sc.RetryCount >= sc.MaxRetries
}

// noteDelay records the sleep chosen before the next attempt.
func (sc *StepContext) noteDelay(d time.Duration) {
	now := time.Now()
	sc.LastRetryTime = now
	sc.NextRetryTime = now.Add(d)
	sc.TotalDelay += d
}
