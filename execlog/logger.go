package execlog

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/wrenchchatrepo/wrenchai-sub000/progress"
	"github.com/wrenchchatrepo/wrenchai-sub000/state"
)

// Logger tracks live executions: it owns the in-flight records, mirrors
// workflow lifecycles into the progress tracker, snapshots state at the
// boundaries, and hands finished records to the Handler for persistence.
//
// Records are guarded per logger; every operation takes the logger's mutex
// for the short span of the record mutation.
type Logger struct {
	mu      sync.Mutex
	records map[string]*Record

	handler      *Handler
	store        *state.Store
	tracker      *progress.Tracker
	costs        *CostCalculator
	sinks        []EventSink
	persistHooks []func(*Record)
	logger       hclog.Logger
}

// LoggerOption configures a Logger.
type LoggerOption func(*Logger)

// WithStateStore attaches a state store for initial/final snapshots.
func WithStateStore(s *state.Store) LoggerOption {
	return func(l *Logger) { l.store = s }
}

// WithProgressTracker mirrors executions into the progress tracker.
func WithProgressTracker(t *progress.Tracker) LoggerOption {
	return func(l *Logger) { l.tracker = t }
}

// WithEventSink adds a sink receiving every logged event (e.g. the
// OpenTelemetry span sink).
func WithEventSink(sink EventSink) LoggerOption {
	return func(l *Logger) { l.sinks = append(l.sinks, sink) }
}

// WithPersistHook adds a hook invoked with every finalized record after
// it is written to disk (e.g. to mirror records into a query index).
func WithPersistHook(hook func(*Record)) LoggerOption {
	return func(l *Logger) { l.persistHooks = append(l.persistHooks, hook) }
}

// WithLogger sets the ambient logger.
func WithLogger(logger hclog.Logger) LoggerOption {
	return func(l *Logger) { l.logger = logger }
}

// NewLogger builds a Logger persisting under baseDir.
func NewLogger(baseDir string, opts ...LoggerOption) *Logger {
	l := &Logger{
		records: make(map[string]*Record),
		costs:   NewCostCalculator(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = hclog.New(&hclog.LoggerOptions{Name: "execlog"})
	}
	l.handler = NewHandler(baseDir, l.logger.Named("handler"))
	return l
}

// Handler exposes the persistence handler for query operations.
func (l *Logger) Handler() *Handler { return l.handler }

// Costs exposes the cost calculator for pricing registration.
func (l *Logger) Costs() *CostCalculator { return l.costs }

// CreateExecution initializes a record, captures the initial state
// snapshot, and (when a tracker is attached) creates a matching progress
// workflow. It returns the execution id.
func (l *Logger) CreateExecution(name, typ, description, correlationID, parentID string, metadata map[string]any) string {
	executionID := uuid.NewString()
	rec := NewRecord(executionID, name, typ, description, correlationID, parentID, metadata)
	if l.store != nil {
		rec.InitialState = l.store.ExportValues()
	}
	if l.tracker != nil {
		rec.ProgressID = l.tracker.CreateWorkflow(name, description, 100, "")
	}
	l.mu.Lock()
	l.records[executionID] = rec
	l.mu.Unlock()
	return executionID
}

// StartExecution marks the execution running.
func (l *Logger) StartExecution(executionID string) bool {
	return l.withRecord(executionID, func(rec *Record) {
		rec.Start()
		if l.tracker != nil && rec.ProgressID != "" {
			l.tracker.StartItem(rec.ProgressID)
		}
	})
}

// CompleteExecution finalizes the execution, captures the final state
// snapshot, persists the record, and drops it from the live set.
func (l *Logger) CompleteExecution(executionID string, success bool) bool {
	l.mu.Lock()
	rec, ok := l.records[executionID]
	if !ok {
		l.mu.Unlock()
		return false
	}
	rec.Complete(success)
	if l.store != nil {
		rec.FinalState = l.store.ExportValues()
	}
	delete(l.records, executionID)
	l.mu.Unlock()

	l.emit(rec, rec.Events[len(rec.Events)-1])
	if l.tracker != nil && rec.ProgressID != "" {
		if success {
			l.tracker.CompleteItem(rec.ProgressID, false)
		} else {
			l.tracker.FailItem(rec.ProgressID, "execution failed", false)
		}
	}
	if _, err := l.handler.Store(rec); err != nil {
		l.logger.Error("persist execution record", "execution_id", executionID, "error", err)
	}
	for _, hook := range l.persistHooks {
		hook(rec)
	}
	return true
}

// AbortExecution finalizes the execution as aborted and persists it.
func (l *Logger) AbortExecution(executionID, reason string) bool {
	l.mu.Lock()
	rec, ok := l.records[executionID]
	if !ok {
		l.mu.Unlock()
		return false
	}
	rec.Abort(reason)
	if l.store != nil {
		rec.FinalState = l.store.ExportValues()
	}
	delete(l.records, executionID)
	l.mu.Unlock()

	if l.tracker != nil && rec.ProgressID != "" {
		l.tracker.FailItem(rec.ProgressID, reason, false)
	}
	if _, err := l.handler.Store(rec); err != nil {
		l.logger.Error("persist execution record", "execution_id", executionID, "error", err)
	}
	for _, hook := range l.persistHooks {
		hook(rec)
	}
	return true
}

// PauseExecution marks the execution paused.
func (l *Logger) PauseExecution(executionID, reason string) bool {
	return l.withRecord(executionID, func(rec *Record) {
		rec.Pause(reason)
		if l.tracker != nil && rec.ProgressID != "" {
			l.tracker.PauseItem(rec.ProgressID, false)
		}
	})
}

// ResumeExecution resumes a paused execution.
func (l *Logger) ResumeExecution(executionID string) bool {
	return l.withRecord(executionID, func(rec *Record) {
		rec.Resume()
		if l.tracker != nil && rec.ProgressID != "" {
			l.tracker.ResumeItem(rec.ProgressID, false)
		}
	})
}

// AddEvent appends a custom event to a live execution.
func (l *Logger) AddEvent(executionID string, stepType StepType, level Level, message string, data map[string]any) bool {
	return l.withRecord(executionID, func(rec *Record) {
		rec.AddEvent(stepType, level, message, data)
	})
}

// LogStepStart records a step start.
func (l *Logger) LogStepStart(executionID, stepID, stepName, stepType string, parameters map[string]any) bool {
	return l.withRecord(executionID, func(rec *Record) {
		rec.LogStepStart(stepID, stepName, stepType, parameters)
	})
}

// LogStepEnd records a step end with its result and duration.
func (l *Logger) LogStepEnd(executionID, stepID, stepName string, success bool, result any, duration time.Duration, stepErr string) bool {
	return l.withRecord(executionID, func(rec *Record) {
		rec.LogStepEnd(stepID, stepName, success, result, duration, stepErr)
	})
}

// LogAgentAction records an agent action.
func (l *Logger) LogAgentAction(executionID, agent, action string, data map[string]any) bool {
	return l.withRecord(executionID, func(rec *Record) {
		rec.LogAgentAction(agent, action, data)
	})
}

// LogToolCall records a tool invocation.
func (l *Logger) LogToolCall(executionID, tool string, parameters map[string]any, result any, duration time.Duration) bool {
	return l.withRecord(executionID, func(rec *Record) {
		rec.LogToolCall(tool, parameters, result, duration)
	})
}

// LogLLMUsage records token usage, deriving the cost from the pricing
// table.
func (l *Logger) LogLLMUsage(executionID, model string, promptTokens, completionTokens int) bool {
	cost := l.costs.Cost(model, promptTokens, completionTokens)
	return l.withRecord(executionID, func(rec *Record) {
		rec.LogLLMUsage(model, promptTokens, completionTokens, cost)
	})
}

// LogDecision records a branch decision.
func (l *Logger) LogDecision(executionID, decisionPoint, condition string, result bool, context map[string]any) bool {
	return l.withRecord(executionID, func(rec *Record) {
		rec.LogDecision(decisionPoint, condition, result, context)
	})
}

// LogStateChange records a state delta.
func (l *Logger) LogStateChange(executionID, variable string, oldValue, newValue any, changedBy string) bool {
	return l.withRecord(executionID, func(rec *Record) {
		rec.LogStateChange(variable, oldValue, newValue, changedBy)
	})
}

// LogCheckpoint records a checkpoint creation.
func (l *Logger) LogCheckpoint(executionID, checkpointID, stepID, kind string) bool {
	return l.withRecord(executionID, func(rec *Record) {
		rec.LogCheckpoint(checkpointID, stepID, kind)
	})
}

// LogRollback records a rollback.
func (l *Logger) LogRollback(executionID, checkpointID, reason string) bool {
	return l.withRecord(executionID, func(rec *Record) {
		rec.LogRollback(checkpointID, reason)
	})
}

// LogRetry records a retry attempt.
func (l *Logger) LogRetry(executionID, stepID string, attempt int, reason string, delay time.Duration) bool {
	return l.withRecord(executionID, func(rec *Record) {
		rec.LogRetry(stepID, attempt, reason, delay)
	})
}

// LogError records an error event.
func (l *Logger) LogError(executionID, message, category, traceback string, data map[string]any) bool {
	return l.withRecord(executionID, func(rec *Record) {
		rec.LogError(message, category, traceback, data)
	})
}

// LogUserInput records user-supplied input.
func (l *Logger) LogUserInput(executionID, prompt string, input any) bool {
	return l.withRecord(executionID, func(rec *Record) {
		rec.LogUserInput(prompt, input)
	})
}

// LogMemoryUsage updates the peak memory metric.
func (l *Logger) LogMemoryUsage(executionID string, memoryMB float64) bool {
	return l.withRecord(executionID, func(rec *Record) {
		rec.LogMemoryUsage(memoryMB)
	})
}

// UpdateProgress forwards a progress percentage to the execution's
// progress workflow.
func (l *Logger) UpdateProgress(executionID string, percent float64) bool {
	l.mu.Lock()
	rec, ok := l.records[executionID]
	progressID := ""
	if ok {
		progressID = rec.ProgressID
	}
	l.mu.Unlock()
	if !ok || progressID == "" || l.tracker == nil {
		return false
	}
	return l.tracker.UpdateProgress(progressID, percent)
}

// Execution returns a copy of a live record, or the persisted one when the
// execution has finished.
func (l *Logger) Execution(executionID string) (*Record, error) {
	l.mu.Lock()
	if rec, ok := l.records[executionID]; ok {
		snapshot := *rec
		l.mu.Unlock()
		return &snapshot, nil
	}
	l.mu.Unlock()
	rec, err := l.handler.Load(executionID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("execution %q not found", executionID)
	}
	return rec, nil
}

// withRecord runs fn on a live record under the lock and emits the
// resulting event to sinks.
func (l *Logger) withRecord(executionID string, fn func(rec *Record)) bool {
	l.mu.Lock()
	rec, ok := l.records[executionID]
	if !ok {
		l.mu.Unlock()
		return false
	}
	before := len(rec.Events)
	fn(rec)
	var emitted []Event
	if len(rec.Events) > before {
		emitted = append(emitted, rec.Events[before:]...)
	}
	l.mu.Unlock()

	for _, ev := range emitted {
		l.emit(rec, ev)
	}
	return true
}

func (l *Logger) emit(rec *Record, ev Event) {
	for _, sink := range l.sinks {
		sink.Consume(rec.ExecutionID, ev)
	}
}
