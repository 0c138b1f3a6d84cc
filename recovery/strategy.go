package recovery

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/wrenchchatrepo/wrenchai-sub000/checkpoint"
)

// Action is the outcome the recovery manager chooses for an error.
type Action string

const (
	// ActionRetry re-runs the failed operation; the error propagates to the
	// caller's retry loop.
	ActionRetry Action = "retry"
	// ActionSkip drops the failed step; the caller swallows the error.
	ActionSkip Action = "skip"
	// ActionRollback restores an earlier checkpoint.
	ActionRollback Action = "rollback"
	// ActionAlternate ran a registered alternate path in place of the step.
	ActionAlternate Action = "alternate"
	// ActionNotify surfaces the error to an operator without aborting.
	ActionNotify Action = "notify"
	// ActionAbort stops the workflow; the error propagates.
	ActionAbort Action = "abort"
	// ActionCustom is reserved for externally registered strategies.
	ActionCustom Action = "custom"
)

// Context carries everything a strategy needs to decide on an error.
type Context struct {
	Err        error
	Category   Category
	WorkflowID string
	StepID     string
	Timestamp  time.Time
	RetryCount int
	// StateSnapshot is the exported state store at failure time, for
	// strategies and callbacks that inspect it.
	StateSnapshot map[string]any
	Info          map[string]any
}

// WithRetryCount returns a copy of the context with an updated retry count.
func (c *Context) WithRetryCount(n int) *Context {
	cp := *c
	cp.RetryCount = n
	return &cp
}

// Strategy is one way of recovering from a categorized error. Strategies
// are consulted in registration order; the first whose CanHandle accepts
// the context runs.
type Strategy interface {
	Name() string
	CanHandle(rc *Context) bool
	Recover(ctx context.Context, rc *Context) (Action, error)
}

// Policy is the simple delay policy the retry strategy uses when deciding
// whether re-running a step is worthwhile. The full retry engine (package
// retry) owns the richer per-step policies; this one only gates the
// recovery decision.
type Policy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
	RetryOn       CategorySet
	Timeout       time.Duration
}

// DefaultPolicy mirrors the runtime's default retry posture: three
// attempts, exponential backoff from one second, retrying the
// runtime-recoverable categories.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2.0,
		Jitter:        true,
		RetryOn: NewCategorySet(
			CategoryTransient, CategoryResource, CategoryDependency, CategoryTimeout,
		),
	}
}

// ShouldRetry reports whether another attempt is allowed for the context.
func (p Policy) ShouldRetry(rc *Context) bool {
	if rc.RetryCount >= p.MaxRetries {
		return false
	}
	if !p.RetryOn.Has(rc.Category) {
		return false
	}
	if p.Timeout > 0 && time.Since(rc.Timestamp) >= p.Timeout {
		return false
	}
	return true
}

// Delay computes the backoff before retry attempt n (zero-based).
func (p Policy) Delay(n int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(n))
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && d > max {
		d = max
	}
	if p.Jitter {
		d *= 0.8 + rand.Float64()*0.4
	}
	return time.Duration(d)
}

// RetryStrategy recovers by asking the caller to re-run the step after a
// policy-controlled delay.
type RetryStrategy struct {
	policy Policy
	logger hclog.Logger
}

// NewRetryStrategy builds a retry strategy over the given policy.
func NewRetryStrategy(policy Policy, logger hclog.Logger) *RetryStrategy {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &RetryStrategy{policy: policy, logger: logger}
}

func (s *RetryStrategy) Name() string { return "retry" }

// CanHandle accepts errors whose category the policy retries.
func (s *RetryStrategy) CanHandle(rc *Context) bool {
	return s.policy.RetryOn.Has(rc.Category)
}

// Recover sleeps out the backoff and requests a retry, or aborts when the
// policy is exhausted.
func (s *RetryStrategy) Recover(ctx context.Context, rc *Context) (Action, error) {
	if !s.policy.ShouldRetry(rc) {
		s.logger.Info("retry limit reached", "workflow_id", rc.WorkflowID, "step_id", rc.StepID)
		return ActionAbort, nil
	}
	delay := s.policy.Delay(rc.RetryCount)
	s.logger.Info("retrying step", "workflow_id", rc.WorkflowID, "step_id", rc.StepID,
		"delay", delay, "attempt", rc.RetryCount+1)
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ActionAbort, ctx.Err()
	}
	return ActionRetry, nil
}

// RollbackStrategy recovers by restoring the latest checkpoint taken before
// the failing step.
type RollbackStrategy struct {
	checkpoints *checkpoint.Manager
	logger      hclog.Logger
}

// NewRollbackStrategy builds a rollback strategy over the checkpoint
// manager.
func NewRollbackStrategy(cm *checkpoint.Manager, logger hclog.Logger) *RollbackStrategy {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &RollbackStrategy{checkpoints: cm, logger: logger}
}

func (s *RollbackStrategy) Name() string { return "rollback" }

// CanHandle accepts logical, state, and dependency errors.
func (s *RollbackStrategy) CanHandle(rc *Context) bool {
	switch rc.Category {
	case CategoryLogical, CategoryStateInvalid, CategoryDependency:
		return true
	}
	return false
}

// Recover restores the most recent checkpoint strictly before the failing
// step, or aborts when none exists.
func (s *RollbackStrategy) Recover(ctx context.Context, rc *Context) (Action, error) {
	cp, err := s.checkpoints.Latest(rc.WorkflowID, "", rc.StepID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			s.logger.Warn("no checkpoint available for rollback", "workflow_id", rc.WorkflowID)
			return ActionAbort, nil
		}
		return ActionAbort, err
	}
	s.logger.Info("rolling back", "checkpoint_id", cp.ID, "step_id", cp.StepID)
	if err := s.checkpoints.Restore(cp.ID); err != nil {
		return ActionAbort, err
	}
	return ActionRollback, nil
}

// AlternateFunc is an alternate implementation for a step, invoked with the
// recovery context of the failure it replaces.
type AlternateFunc func(ctx context.Context, rc *Context) error

// AlternatePathStrategy recovers by running a registered alternate
// implementation for the failing step.
type AlternatePathStrategy struct {
	paths  map[string]AlternateFunc
	logger hclog.Logger
}

// NewAlternatePathStrategy builds an empty alternate-path registry.
func NewAlternatePathStrategy(logger hclog.Logger) *AlternatePathStrategy {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &AlternatePathStrategy{paths: make(map[string]AlternateFunc), logger: logger}
}

func (s *AlternatePathStrategy) Name() string { return "alternate_path" }

// Register installs an alternate implementation for a step id.
func (s *AlternatePathStrategy) Register(stepID string, fn AlternateFunc) {
	s.paths[stepID] = fn
}

// CanHandle accepts errors for steps with a registered alternate.
func (s *AlternatePathStrategy) CanHandle(rc *Context) bool {
	_, ok := s.paths[rc.StepID]
	return ok
}

// Recover runs the alternate; on success the step is considered replaced,
// on failure it is skipped.
func (s *AlternatePathStrategy) Recover(ctx context.Context, rc *Context) (Action, error) {
	fn, ok := s.paths[rc.StepID]
	if !ok {
		s.logger.Warn("no alternate path registered", "step_id", rc.StepID)
		return ActionSkip, nil
	}
	s.logger.Info("running alternate path", "workflow_id", rc.WorkflowID, "step_id", rc.StepID)
	if err := fn(ctx, rc); err != nil {
		s.logger.Warn("alternate path failed", "step_id", rc.StepID, "error", err)
		return ActionSkip, nil
	}
	return ActionAlternate, nil
}
