package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/wrenchchatrepo/wrenchai-sub000/checkpoint"
	"github.com/wrenchchatrepo/wrenchai-sub000/state"
)

// Callback observes recovery decisions. Callbacks must not block for long;
// they run on the failing step's goroutine.
type Callback interface {
	// PreRecovery runs after categorization, before a strategy is chosen.
	PreRecovery(ctx context.Context, rc *Context)
	// PostRecovery runs after the chosen strategy returned its action.
	PostRecovery(ctx context.Context, rc *Context, action Action, success bool)
	// OnAbort runs when the chosen action is abort.
	OnAbort(ctx context.Context, rc *Context)
}

// HistoryRecord is one entry in the recovery history.
type HistoryRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	WorkflowID string    `json:"workflow_id"`
	StepID     string    `json:"step_id"`
	Error      string    `json:"error"`
	Category   Category  `json:"error_category"`
	Strategy   string    `json:"recovery_strategy,omitempty"`
	Action     Action    `json:"recovery_action"`
	Info       map[string]any `json:"context,omitempty"`
}

// Manager owns the error categorizer, checkpoint and transaction managers,
// and an ordered strategy list. For each error it categorizes, snapshots
// state, selects the first strategy that can handle the context, and
// records the outcome.
type Manager struct {
	store        *state.Store
	categorizer  *Categorizer
	checkpoints  *checkpoint.Manager
	transactions *TransactionManager
	alternates   *AlternatePathStrategy

	mu         sync.Mutex
	strategies []Strategy
	callbacks  []Callback
	history    []HistoryRecord

	logger hclog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerConfig)

type managerConfig struct {
	checkpointDir string
	autoInterval  time.Duration
	policy        Policy
	logger        hclog.Logger
}

// WithCheckpointDir sets the directory the manager's checkpoint manager
// persists into.
func WithCheckpointDir(dir string) ManagerOption {
	return func(c *managerConfig) { c.checkpointDir = dir }
}

// WithAutoCheckpointInterval sets the auto-checkpoint spacing.
func WithAutoCheckpointInterval(d time.Duration) ManagerOption {
	return func(c *managerConfig) { c.autoInterval = d }
}

// WithRetryPolicy sets the policy of the built-in retry strategy.
func WithRetryPolicy(p Policy) ManagerOption {
	return func(c *managerConfig) { c.policy = p }
}

// WithLogger sets the manager's logger.
func WithLogger(l hclog.Logger) ManagerOption {
	return func(c *managerConfig) { c.logger = l }
}

// NewManager builds a Manager over the state store with the standard
// strategy order: retry, rollback, alternate path.
func NewManager(store *state.Store, opts ...ManagerOption) *Manager {
	cfg := managerConfig{
		autoInterval: checkpoint.DefaultAutoInterval,
		policy:       DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = hclog.New(&hclog.LoggerOptions{Name: "recovery"})
	}
	cm := checkpoint.NewManager(store,
		checkpoint.WithDir(cfg.checkpointDir),
		checkpoint.WithAutoInterval(cfg.autoInterval),
		checkpoint.WithLogger(cfg.logger.Named("checkpoint")),
	)
	alternates := NewAlternatePathStrategy(cfg.logger.Named("alternate"))
	m := &Manager{
		store:        store,
		categorizer:  NewCategorizer(),
		checkpoints:  cm,
		transactions: NewTransactionManager(cm, cfg.logger.Named("transaction")),
		alternates:   alternates,
		strategies: []Strategy{
			NewRetryStrategy(cfg.policy, cfg.logger.Named("retry")),
			NewRollbackStrategy(cm, cfg.logger.Named("rollback")),
			alternates,
		},
		logger: cfg.logger,
	}
	return m
}

// Categorizer exposes the manager's error categorizer for matcher
// registration.
func (m *Manager) Categorizer() *Categorizer { return m.categorizer }

// Checkpoints exposes the manager's checkpoint manager.
func (m *Manager) Checkpoints() *checkpoint.Manager { return m.checkpoints }

// Transactions exposes the manager's transaction manager.
func (m *Manager) Transactions() *TransactionManager { return m.transactions }

// RegisterStrategy appends a strategy after the built-in ones.
func (m *Manager) RegisterStrategy(s Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies = append(m.strategies, s)
}

// RegisterCallback appends a recovery callback.
func (m *Manager) RegisterCallback(cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// RegisterAlternatePath installs an alternate implementation for a step.
func (m *Manager) RegisterAlternatePath(stepID string, fn AlternateFunc) {
	m.alternates.Register(stepID, fn)
}

// HandleError categorizes err, selects a strategy, and returns the chosen
// action. The recovery history receives one record per call. Strategy
// failures degrade to ActionAbort rather than masking the original error.
func (m *Manager) HandleError(ctx context.Context, err error, workflowID, stepID string, info map[string]any) Action {
	category := m.categorizer.Categorize(err)
	rc := &Context{
		Err:           err,
		Category:      category,
		WorkflowID:    workflowID,
		StepID:        stepID,
		Timestamp:     time.Now(),
		StateSnapshot: m.store.ExportValues(),
		Info:          info,
	}
	if n, ok := retryCountFrom(ctx); ok {
		rc.RetryCount = n
	}

	m.mu.Lock()
	callbacks := append([]Callback(nil), m.callbacks...)
	strategies := append([]Strategy(nil), m.strategies...)
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb.PreRecovery(ctx, rc)
	}

	var chosen Strategy
	for _, s := range strategies {
		if s.CanHandle(rc) {
			chosen = s
			break
		}
	}

	action := ActionAbort
	if chosen == nil {
		m.logger.Warn("no recovery strategy for error",
			"category", category, "workflow_id", workflowID, "step_id", stepID, "error", err)
	} else {
		m.logger.Info("applying recovery strategy",
			"strategy", chosen.Name(), "category", category, "step_id", stepID)
		a, rerr := chosen.Recover(ctx, rc)
		if rerr != nil {
			m.logger.Error("recovery strategy failed", "strategy", chosen.Name(), "error", rerr)
			action = ActionAbort
		} else {
			action = a
		}
	}

	rec := HistoryRecord{
		Timestamp:  time.Now(),
		WorkflowID: workflowID,
		StepID:     stepID,
		Error:      err.Error(),
		Category:   category,
		Action:     action,
		Info:       info,
	}
	if chosen != nil {
		rec.Strategy = chosen.Name()
	}
	m.mu.Lock()
	m.history = append(m.history, rec)
	m.mu.Unlock()

	success := action != ActionAbort
	for _, cb := range callbacks {
		cb.PostRecovery(ctx, rc, action, success)
		if !success {
			cb.OnAbort(ctx, rc)
		}
	}
	return action
}

// Outcome is the tagged result of running a step under recovery. Retry and
// abort carry the original error so the caller can propagate or re-run;
// the swallowing actions carry none.
type Outcome struct {
	Action Action
	Err    error
}

// Failed reports whether the outcome carries a propagating error.
func (o Outcome) Failed() bool { return o.Err != nil }

// Protect runs fn under the recovery context for (workflowID, stepID): an
// auto checkpoint may be taken first; on error the manager picks an action.
// Retry and abort propagate the error in the outcome; skip, rollback,
// alternate, notify, and custom swallow it (the caller inspects state).
func (m *Manager) Protect(ctx context.Context, workflowID, stepID string, fn func(ctx context.Context) error) Outcome {
	if _, err := m.checkpoints.CheckAuto(workflowID, stepID); err != nil {
		m.logger.Warn("auto checkpoint failed", "workflow_id", workflowID, "error", err)
	}
	err := fn(ctx)
	if err == nil {
		return Outcome{Action: "", Err: nil}
	}
	action := m.HandleError(ctx, err, workflowID, stepID, nil)
	switch action {
	case ActionRetry, ActionAbort:
		return Outcome{Action: action, Err: err}
	default:
		m.logger.Info("error absorbed by recovery", "action", action, "step_id", stepID)
		return Outcome{Action: action, Err: nil}
	}
}

// Transaction runs fn as a transactional step: checkpoint on entry, restore
// and propagate on error.
func (m *Manager) Transaction(ctx context.Context, workflowID, stepID string, fn func(ctx context.Context) error) error {
	return m.transactions.Transaction(ctx, workflowID, stepID, fn)
}

// CheckpointWorkflow creates a manual checkpoint.
func (m *Manager) CheckpointWorkflow(workflowID, stepID string, metadata map[string]any) (*checkpoint.Checkpoint, error) {
	return m.checkpoints.Create(workflowID, stepID, checkpoint.KindManual, metadata)
}

// RestoreCheckpoint restores the identified checkpoint.
func (m *Manager) RestoreCheckpoint(id string) error {
	return m.checkpoints.Restore(id)
}

// History returns recovery records, optionally filtered by workflow.
func (m *Manager) History(workflowID string) []HistoryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if workflowID == "" {
		out := make([]HistoryRecord, len(m.history))
		copy(out, m.history)
		return out
	}
	var out []HistoryRecord
	for _, r := range m.history {
		if r.WorkflowID == workflowID {
			out = append(out, r)
		}
	}
	return out
}

// ClearHistory drops the recovery history.
func (m *Manager) ClearHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
}

// defaultLocalRetries is the local retry limit used by WithRecovery.
const defaultLocalRetries = 3

// WithRecovery executes fn under Protect, re-running it on a retry outcome
// up to a local limit. After the limit, the original error propagates.
func WithRecovery(ctx context.Context, m *Manager, workflowID, stepID string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= defaultLocalRetries; attempt++ {
		outcome := m.Protect(withRetryCount(ctx, attempt), workflowID, stepID, fn)
		if !outcome.Failed() {
			return nil
		}
		lastErr = outcome.Err
		if outcome.Action != ActionRetry {
			return lastErr
		}
		m.logger.Info("retrying under recovery",
			"workflow_id", workflowID, "step_id", stepID, "attempt", attempt+1)
	}
	return lastErr
}

type retryCountKey struct{}

func withRetryCount(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, retryCountKey{}, n)
}

func retryCountFrom(ctx context.Context) (int, bool) {
	n, ok := ctx.Value(retryCountKey{}).(int)
	return n, ok
}
