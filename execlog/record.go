// Package execlog records workflow executions as typed event logs with
// per-run metrics, persists them as dated JSON artifacts, and answers
// queries and aggregate-metric requests over the persisted records.
package execlog

import (
	"time"
)

// Status of an execution.
type Status string

const (
	StatusInitiated Status = "initiated"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
	StatusPaused    Status = "paused"
)

// Level is the severity of a logged event.
type Level string

const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// StepType classifies an execution event.
type StepType string

const (
	StepWorkflowStart StepType = "workflow_start"
	StepWorkflowEnd   StepType = "workflow_end"
	StepStepStart     StepType = "step_start"
	StepStepEnd       StepType = "step_end"
	StepAgentAction   StepType = "agent_action"
	StepToolCall      StepType = "tool_call"
	StepUserInput     StepType = "user_input"
	StepDecisionPoint StepType = "decision_point"
	StepStateChange   StepType = "state_change"
	StepCheckpoint    StepType = "checkpoint"
	StepRollback      StepType = "rollback"
	StepRetry         StepType = "retry"
	StepError         StepType = "error"
	StepCustom        StepType = "custom"
)

// Event is one entry in an execution's ordered event list.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	StepType  StepType       `json:"step_type"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data"`
}

// Record is the full log-plus-metrics artifact for one workflow run. It is
// not internally locked; the Logger serializes access per record.
type Record struct {
	ExecutionID   string         `json:"execution_id"`
	Name          string         `json:"name"`
	Type          string         `json:"type"`
	Description   string         `json:"description,omitempty"`
	CorrelationID string         `json:"correlation_id"`
	ParentID      string         `json:"parent_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`

	Status    Status     `json:"status"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Duration  float64    `json:"duration_seconds"`

	AgentsUsed       StringSet `json:"agents_used"`
	ToolsUsed        StringSet `json:"tools_used"`
	LLMTokensUsed    int                 `json:"llm_tokens_used"`
	PromptTokens     int                 `json:"prompt_tokens"`
	CompletionTokens int                 `json:"completion_tokens"`
	TotalCost        float64             `json:"total_cost"`

	Events []Event `json:"events"`
	Steps  []Event `json:"steps"`
	Errors []Event `json:"errors"`

	PeakMemoryMB    float64 `json:"peak_memory_mb"`
	AvgStepDuration float64 `json:"avg_step_duration_seconds"`
	MaxStepDuration float64 `json:"max_step_duration_seconds"`
	TotalSteps      int     `json:"total_steps"`
	FailedSteps     int     `json:"failed_steps"`
	RetriedSteps    int     `json:"retried_steps"`

	ProgressID string `json:"progress_id,omitempty"`

	InitialState map[string]any   `json:"initial_state"`
	FinalState   map[string]any   `json:"final_state"`
	StateChanges []map[string]any `json:"state_changes"`
}

// NewRecord initializes a Record for an execution.
func NewRecord(executionID, name, typ, description, correlationID, parentID string, metadata map[string]any) *Record {
	if correlationID == "" {
		correlationID = executionID
	}
	return &Record{
		ExecutionID:   executionID,
		Name:          name,
		Type:          typ,
		Description:   description,
		CorrelationID: correlationID,
		ParentID:      parentID,
		Metadata:      metadata,
		Status:        StatusInitiated,
		StartTime:     time.Now(),
		AgentsUsed:    make(StringSet),
		ToolsUsed:     make(StringSet),
	}
}

// Start marks the execution running and emits the workflow_start event.
func (r *Record) Start() {
	r.Status = StatusRunning
	r.StartTime = time.Now()
	r.AddEvent(StepWorkflowStart, LevelInfo,
		"Started execution of "+r.Type+" '"+r.Name+"'",
		map[string]any{"status": r.Status})
}

// Complete marks the execution finished, successful or not, and emits the
// workflow_end event.
func (r *Record) Complete(success bool) {
	now := time.Now()
	r.EndTime = &now
	r.Duration = now.Sub(r.StartTime).Seconds()
	if success {
		r.Status = StatusCompleted
		r.AddEvent(StepWorkflowEnd, LevelInfo,
			"Completed execution of "+r.Type+" '"+r.Name+"'",
			map[string]any{
				"status":           r.Status,
				"duration_seconds": r.Duration,
				"total_steps":      r.TotalSteps,
			})
		return
	}
	r.Status = StatusFailed
	r.AddEvent(StepWorkflowEnd, LevelError,
		"Failed execution of "+r.Type+" '"+r.Name+"'",
		map[string]any{
			"status":           r.Status,
			"duration_seconds": r.Duration,
			"total_steps":      r.TotalSteps,
			"failed_steps":     r.FailedSteps,
		})
}

// Abort marks the execution aborted with a reason.
func (r *Record) Abort(reason string) {
	now := time.Now()
	r.Status = StatusAborted
	r.EndTime = &now
	r.Duration = now.Sub(r.StartTime).Seconds()
	r.AddEvent(StepWorkflowEnd, LevelWarning,
		"Aborted execution of "+r.Type+" '"+r.Name+"': "+reason,
		map[string]any{"status": r.Status, "reason": reason, "duration_seconds": r.Duration})
}

// Pause marks a running execution paused.
func (r *Record) Pause(reason string) {
	r.Status = StatusPaused
	r.AddEvent(StepCustom, LevelInfo,
		"Paused execution of "+r.Type+" '"+r.Name+"': "+reason,
		map[string]any{"status": r.Status, "reason": reason})
}

// Resume returns a paused execution to running.
func (r *Record) Resume() {
	if r.Status != StatusPaused {
		return
	}
	r.Status = StatusRunning
	r.AddEvent(StepCustom, LevelInfo,
		"Resumed execution of "+r.Type+" '"+r.Name+"'",
		map[string]any{"status": r.Status})
}

// AddEvent appends an event, mirroring it into the steps and errors lists
// when applicable.
func (r *Record) AddEvent(stepType StepType, level Level, message string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	ev := Event{
		Timestamp: time.Now(),
		StepType:  stepType,
		Level:     level,
		Message:   message,
		Data:      data,
	}
	r.Events = append(r.Events, ev)
	if stepType == StepStepStart || stepType == StepStepEnd {
		r.Steps = append(r.Steps, ev)
	}
	if level == LevelError || level == LevelCritical || stepType == StepError {
		r.Errors = append(r.Errors, ev)
	}
}

// LogStepStart counts a step and emits its start event.
func (r *Record) LogStepStart(stepID, stepName, stepType string, parameters map[string]any) {
	r.TotalSteps++
	r.AddEvent(StepStepStart, LevelInfo,
		"Started step: "+stepName+" ("+stepType+")",
		map[string]any{
			"step_id":     stepID,
			"step_name":   stepName,
			"step_type":   stepType,
			"parameters":  parameters,
			"step_number": r.TotalSteps,
		})
}

// LogStepEnd emits a step's end event and folds its duration into the
// running average and max step metrics.
func (r *Record) LogStepEnd(stepID, stepName string, success bool, result any, duration time.Duration, stepErr string) {
	secs := duration.Seconds()
	if secs > 0 && r.TotalSteps > 0 {
		r.AvgStepDuration = (r.AvgStepDuration*float64(r.TotalSteps-1) + secs) / float64(r.TotalSteps)
		if secs > r.MaxStepDuration {
			r.MaxStepDuration = secs
		}
	}
	level := LevelInfo
	msg := "Completed step: " + stepName
	if !success {
		r.FailedSteps++
		level = LevelError
		msg = "Failed step: " + stepName
	}
	r.AddEvent(StepStepEnd, level, msg, map[string]any{
		"step_id":          stepID,
		"step_name":        stepName,
		"success":          success,
		"result":           result,
		"duration_seconds": secs,
		"error":            stepErr,
	})
}

// LogAgentAction records an agent's action and adds it to agents_used.
func (r *Record) LogAgentAction(agent, action string, data map[string]any) {
	r.AgentsUsed.Add(agent)
	merged := map[string]any{"agent": agent, "action": action}
	for k, v := range data {
		merged[k] = v
	}
	r.AddEvent(StepAgentAction, LevelInfo, "Agent "+agent+": "+action, merged)
}

// LogToolCall records a tool invocation and adds it to tools_used.
func (r *Record) LogToolCall(tool string, parameters map[string]any, result any, duration time.Duration) {
	r.ToolsUsed.Add(tool)
	r.AddEvent(StepToolCall, LevelInfo, "Tool call: "+tool, map[string]any{
		"tool":             tool,
		"parameters":       parameters,
		"result":           result,
		"duration_seconds": duration.Seconds(),
	})
}

// LogLLMUsage accumulates token counters and cost.
func (r *Record) LogLLMUsage(model string, promptTokens, completionTokens int, cost float64) {
	r.PromptTokens += promptTokens
	r.CompletionTokens += completionTokens
	r.LLMTokensUsed += promptTokens + completionTokens
	r.TotalCost += cost
	r.AddEvent(StepCustom, LevelDebug, "LLM usage: "+model, map[string]any{
		"model":             model,
		"prompt_tokens":     promptTokens,
		"completion_tokens": completionTokens,
		"cost":              cost,
	})
}

// LogDecision records a branch decision with its condition and result.
func (r *Record) LogDecision(decisionPoint, condition string, result bool, context map[string]any) {
	r.AddEvent(StepDecisionPoint, LevelInfo, "Decision at "+decisionPoint, map[string]any{
		"decision_point": decisionPoint,
		"condition":      condition,
		"result":         result,
		"context":        context,
	})
}

// LogStateChange records a variable mutation delta.
func (r *Record) LogStateChange(variable string, oldValue, newValue any, changedBy string) {
	delta := map[string]any{
		"variable":   variable,
		"old_value":  oldValue,
		"new_value":  newValue,
		"changed_by": changedBy,
		"timestamp":  time.Now(),
	}
	r.StateChanges = append(r.StateChanges, delta)
	r.AddEvent(StepStateChange, LevelDebug, "State change: "+variable, delta)
}

// LogCheckpoint records a checkpoint creation.
func (r *Record) LogCheckpoint(checkpointID, stepID, kind string) {
	r.AddEvent(StepCheckpoint, LevelInfo, "Checkpoint "+checkpointID, map[string]any{
		"checkpoint_id": checkpointID,
		"step_id":       stepID,
		"kind":          kind,
	})
}

// LogRollback records a restore to a checkpoint.
func (r *Record) LogRollback(checkpointID, reason string) {
	r.AddEvent(StepRollback, LevelWarning, "Rolled back to "+checkpointID, map[string]any{
		"checkpoint_id": checkpointID,
		"reason":        reason,
	})
}

// LogRetry counts a retried step and records the attempt.
func (r *Record) LogRetry(stepID string, attempt int, reason string, delay time.Duration) {
	r.RetriedSteps++
	r.AddEvent(StepRetry, LevelWarning, "Retrying step "+stepID, map[string]any{
		"step_id":  stepID,
		"attempt":  attempt,
		"reason":   reason,
		"delay_ms": delay.Milliseconds(),
	})
}

// LogError records an error with its category and traceback text.
func (r *Record) LogError(message, category, traceback string, data map[string]any) {
	merged := map[string]any{"error_category": category, "traceback": traceback}
	for k, v := range data {
		merged[k] = v
	}
	r.AddEvent(StepError, LevelError, message, merged)
}

// LogUserInput records input supplied by a user mid-run.
func (r *Record) LogUserInput(prompt string, input any) {
	r.AddEvent(StepUserInput, LevelInfo, "User input: "+prompt, map[string]any{
		"prompt": prompt,
		"input":  input,
	})
}

// LogMemoryUsage tracks the peak observed memory.
func (r *Record) LogMemoryUsage(memoryMB float64) {
	if memoryMB > r.PeakMemoryMB {
		r.PeakMemoryMB = memoryMB
	}
}
