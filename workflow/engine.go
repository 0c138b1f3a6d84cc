package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/wrenchchatrepo/wrenchai-sub000/execlog"
	"github.com/wrenchchatrepo/wrenchai-sub000/progress"
	"github.com/wrenchchatrepo/wrenchai-sub000/recovery"
	"github.com/wrenchchatrepo/wrenchai-sub000/retry"
	"github.com/wrenchchatrepo/wrenchai-sub000/state"
)

// ErrMaxStepsExceeded indicates the traversal reached the step limit
// without terminating, guarding against cycles.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// Status of a workflow run.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Result is a finished run: the final node's output, every node's output,
// and the terminal status.
type Result struct {
	WorkflowID  string         `json:"workflow_id"`
	ExecutionID string         `json:"execution_id"`
	Status      Status         `json:"status"`
	Output      any            `json:"output"`
	NodeOutputs map[string]any `json:"node_outputs"`
	Error       string         `json:"error,omitempty"`
}

// Engine drives a Graph under the runtime's subsystems. Each node runs
// inside the recovery manager's guarded, transactional step path with a
// bounded local retry loop; progress and execution logging happen around
// every node.
type Engine struct {
	graph    *Graph
	store    *state.Store
	recovery *recovery.Manager
	retries  *retry.Manager
	tracker  *progress.Tracker
	logs     *execlog.Logger
	metrics  *Metrics

	maxSteps     int
	localRetries int
	logger       hclog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRetryManager routes node bodies through the retry engine's
// per-step strategies.
func WithRetryManager(m *retry.Manager) EngineOption {
	return func(e *Engine) { e.retries = m }
}

// WithProgressTracker mirrors the run into the progress tracker.
func WithProgressTracker(t *progress.Tracker) EngineOption {
	return func(e *Engine) { e.tracker = t }
}

// WithExecutionLogger records the run in the execution logger.
func WithExecutionLogger(l *execlog.Logger) EngineOption {
	return func(e *Engine) { e.logs = l }
}

// WithMetrics attaches a Prometheus collector.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithMaxSteps bounds the traversal length (default 100).
func WithMaxSteps(n int) EngineOption {
	return func(e *Engine) { e.maxSteps = n }
}

// WithLocalRetries bounds the per-node retry loop driven by recovery's
// retry action (default 3).
func WithLocalRetries(n int) EngineOption {
	return func(e *Engine) { e.localRetries = n }
}

// WithLogger sets the engine's logger.
func WithLogger(l hclog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine builds an Engine over a graph, a state store, and a recovery
// manager. The other subsystems are optional.
func NewEngine(graph *Graph, store *state.Store, rm *recovery.Manager, opts ...EngineOption) (*Engine, error) {
	if graph.entry == "" {
		return nil, fmt.Errorf("graph has no entry node")
	}
	e := &Engine{
		graph:        graph,
		store:        store,
		recovery:     rm,
		maxSteps:     100,
		localRetries: 3,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = hclog.New(&hclog.LoggerOptions{Name: "workflow"})
	}
	return e, nil
}

// Run executes the graph. Traversal starts at the entry node; after each
// node, edges whose predicates accept the node's output enqueue their
// targets (each node runs at most once per run). The final output is the
// last executed node's output.
func (e *Engine) Run(ctx context.Context, name string, params map[string]any) (*Result, error) {
	workflowID := "graph_workflow_" + uuid.NewString()
	result := &Result{
		WorkflowID:  workflowID,
		Status:      StatusInProgress,
		NodeOutputs: make(map[string]any),
	}

	var progressID string
	stepItems := make(map[string]string)
	if e.tracker != nil {
		progressID = e.tracker.CreateWorkflow(name, "graph workflow", 100, workflowID)
		e.tracker.StartItem(progressID)
	}
	if e.logs != nil {
		result.ExecutionID = e.logs.CreateExecution(name, "workflow", "", "", "", params)
		e.logs.StartExecution(result.ExecutionID)
	}

	rc := &RunContext{
		WorkflowID: workflowID,
		State:      e.store,
		Outputs:    result.NodeOutputs,
		Params:     params,
	}

	queue := []string{e.graph.entry}
	visited := make(map[string]bool)
	steps := 0
	var finalOutput any

	for len(queue) > 0 {
		nodeID := queue[0]
		queue = queue[1:]
		if visited[nodeID] {
			continue
		}
		visited[nodeID] = true
		steps++
		if steps > e.maxSteps {
			e.finish(result, progressID, StatusFailed, ErrMaxStepsExceeded.Error())
			return result, ErrMaxStepsExceeded
		}

		node := e.graph.nodes[nodeID]
		output, err := e.runNode(ctx, workflowID, result.ExecutionID, node, rc, stepItems, progressID)
		if err != nil {
			e.finish(result, progressID, StatusFailed, err.Error())
			return result, err
		}
		result.NodeOutputs[nodeID] = output
		finalOutput = output

		queue = append(queue, e.graph.successors(nodeID, output)...)
	}

	result.Output = finalOutput
	e.finish(result, progressID, StatusComplete, "")
	return result, nil
}

// runNode executes one node under recovery + transaction, re-running on a
// retry action up to the local retry budget and substituting the node's
// fallback output on a skip.
func (e *Engine) runNode(ctx context.Context, workflowID, executionID string, node *Node, rc *RunContext, stepItems map[string]string, progressID string) (any, error) {
	var stepItem string
	if e.tracker != nil {
		stepItem = e.tracker.CreateStep(progressID, node.ID, "", 1, 100, "")
		stepItems[node.ID] = stepItem
		e.tracker.StartItem(stepItem)
	}
	if e.logs != nil {
		e.logs.LogStepStart(executionID, node.ID, node.ID, "graph_node", nil)
	}
	e.metrics.stepStarted()
	start := time.Now()

	var output any
	body := func(ctx context.Context) error {
		out, err := e.invoke(ctx, workflowID, node, rc)
		if err != nil {
			return err
		}
		output = out
		return nil
	}

	var lastErr error
	for attempt := 0; attempt <= e.localRetries; attempt++ {
		if attempt > 0 {
			e.metrics.retryObserved(node.ID)
			if e.logs != nil {
				e.logs.LogRetry(executionID, node.ID, attempt, lastErr.Error(), 0)
			}
		}
		outcome := e.recovery.Protect(ctx, workflowID, node.ID, func(ctx context.Context) error {
			return e.recovery.Transaction(ctx, workflowID, node.ID, body)
		})
		if outcome.Action != "" {
			e.metrics.recoveryObserved(string(outcome.Action))
		}
		if !outcome.Failed() {
			if outcome.Action == recovery.ActionSkip {
				e.logger.Warn("node skipped by recovery", "node_id", node.ID)
				if node.Fallback != nil {
					output = node.Fallback()
				} else {
					output = nil
				}
			}
			e.stepDone(executionID, node.ID, stepItem, true, output, time.Since(start), "")
			return output, nil
		}
		lastErr = outcome.Err
		if outcome.Action != recovery.ActionRetry {
			break
		}
		e.logger.Info("re-running node after recovery retry",
			"node_id", node.ID, "attempt", attempt+1)
	}

	e.stepDone(executionID, node.ID, stepItem, false, nil, time.Since(start), lastErr.Error())
	return nil, fmt.Errorf("node %s: %w", node.ID, lastErr)
}

// invoke runs the node body, through the retry engine when one is
// configured.
func (e *Engine) invoke(ctx context.Context, workflowID string, node *Node, rc *RunContext) (any, error) {
	if e.retries == nil {
		return node.Run(ctx, rc)
	}
	out, _, err := e.retries.Execute(ctx, workflowID, node.ID,
		func(ctx context.Context, params map[string]any) (any, error) {
			return node.Run(ctx, rc)
		}, rc.Params)
	return out, err
}

func (e *Engine) stepDone(executionID, nodeID, stepItem string, success bool, output any, elapsed time.Duration, errMsg string) {
	status := "success"
	if !success {
		status = "error"
	}
	e.metrics.stepFinished(nodeID, status, elapsed)
	if e.tracker != nil && stepItem != "" {
		if success {
			e.tracker.CompleteItem(stepItem, false)
		} else {
			e.tracker.FailItem(stepItem, errMsg, false)
		}
	}
	if e.logs != nil {
		e.logs.LogStepEnd(executionID, nodeID, nodeID, success, output, elapsed, errMsg)
	}
}

func (e *Engine) finish(result *Result, progressID string, status Status, errMsg string) {
	result.Status = status
	result.Error = errMsg
	if e.tracker != nil && progressID != "" {
		if status == StatusComplete {
			e.tracker.CompleteItem(progressID, false)
		} else {
			e.tracker.FailItem(progressID, errMsg, true)
		}
	}
	if e.logs != nil && result.ExecutionID != "" {
		if status == StatusComplete {
			e.logs.CompleteExecution(result.ExecutionID, true)
		} else {
			e.logs.CompleteExecution(result.ExecutionID, false)
		}
	}
}
