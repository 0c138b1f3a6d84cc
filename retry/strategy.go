package retry

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/wrenchchatrepo/wrenchai-sub000/recovery"
)

// Func is an operation the retry engine can drive. Parameters are passed as
// a mutable map so degradation strategies can adjust them between attempts.
type Func func(ctx context.Context, params map[string]any) (any, error)

// Strategy executes an operation under a retry discipline and reports how
// it ended.
type Strategy interface {
	Name() string
	Execute(ctx context.Context, sc *StepContext, fn Func, params map[string]any) (any, Outcome, error)
}

// Standard retries the same function under the policy's schedule.
type Standard struct {
	policy      *Policy
	categorizer *recovery.Categorizer
	logger      hclog.Logger
}

// NewStandard builds the standard strategy. A nil policy uses the default
// configuration.
func NewStandard(policy *Policy, logger hclog.Logger) *Standard {
	if policy == nil {
		policy = NewPolicy(DefaultConfig())
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Standard{policy: policy, categorizer: recovery.NewCategorizer(), logger: logger}
}

func (s *Standard) Name() string { return "standard" }

// Execute runs fn until it succeeds, the policy declines, or the context is
// cancelled. The returned error is the last failure (nil on success).
func (s *Standard) Execute(ctx context.Context, sc *StepContext, fn Func, params map[string]any) (any, Outcome, error) {
	for {
		result, outcome, done, err := s.attempt(ctx, sc, fn, params)
		if done {
			return result, outcome, err
		}
	}
}

// attempt performs one call plus the retry decision; done reports whether
// the loop should stop.
func (s *Standard) attempt(ctx context.Context, sc *StepContext, fn Func, params map[string]any) (any, Outcome, bool, error) {
	start := time.Now()
	result, err := fn(ctx, params)
	elapsed := time.Since(start)

	if err == nil {
		sc.RecordAttempt(sc.RetryCount, OutcomeSuccess, nil, elapsed)
		s.policy.RecordSuccess()
		return result, OutcomeSuccess, true, nil
	}

	sc.RecordAttempt(sc.RetryCount, OutcomeFailed, err, elapsed)
	s.policy.RecordFailure()
	if sc.OriginalErr == nil {
		sc.OriginalErr = err
	}
	sc.Category = s.categorizer.Categorize(err)

	if !s.policy.ShouldRetry(sc) {
		if sc.ExceedsMaxRetries() {
			return nil, OutcomeMaxRetriesExceeded, true, err
		}
		if cfg := s.policy.Config(); cfg.Timeout > 0 && time.Since(sc.StartTime) >= cfg.Timeout {
			return nil, OutcomeTimeoutExceeded, true, err
		}
		return nil, OutcomePolicyRejected, true, err
	}

	sc.RetryCount++
	delay := s.policy.Delay(sc.RetryCount - 1)
	sc.noteDelay(delay)
	s.logger.Info("retrying step",
		"workflow_id", sc.WorkflowID, "step_id", sc.StepID,
		"delay", delay, "attempt", sc.RetryCount, "max_retries", sc.MaxRetries)

	select {
	case <-time.After(delay):
		return nil, "", false, nil
	case <-ctx.Done():
		return nil, OutcomeAborted, true, ctx.Err()
	}
}

// DegradationLevel describes how one rung of the degradation ladder mutates
// the call parameters.
type DegradationLevel struct {
	Description       string
	TimeoutMultiplier float64
	Simplify          bool
	EssentialOnly     bool
}

// DefaultDegradationLevels is the standard four-rung ladder: full
// functionality, extended timeouts, simplified processing, essential-only.
func DefaultDegradationLevels() []DegradationLevel {
	return []DegradationLevel{
		{Description: "full functionality"},
		{Description: "reduced functionality - timeout extensions", TimeoutMultiplier: 1.5},
		{Description: "reduced functionality - simplified processing", Simplify: true},
		{Description: "minimal functionality - essential only", EssentialOnly: true},
	}
}

// GradualDegradation retries with progressively degraded parameters: the
// n-th retry applies the n-th ladder entry (clamped to the last).
type GradualDegradation struct {
	inner  *Standard
	levels []DegradationLevel
	logger hclog.Logger
}

// NewGradualDegradation builds the degradation strategy. Nil levels use the
// default ladder.
func NewGradualDegradation(policy *Policy, levels []DegradationLevel, logger hclog.Logger) *GradualDegradation {
	if levels == nil {
		levels = DefaultDegradationLevels()
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &GradualDegradation{
		inner:  NewStandard(policy, logger),
		levels: levels,
		logger: logger,
	}
}

func (g *GradualDegradation) Name() string { return "gradual_degradation" }

// Execute runs fn, degrading the parameter map between attempts.
func (g *GradualDegradation) Execute(ctx context.Context, sc *StepContext, fn Func, params map[string]any) (any, Outcome, error) {
	wrapped := func(ctx context.Context, p map[string]any) (any, error) {
		level := sc.RetryCount
		if level >= len(g.levels) {
			level = len(g.levels) - 1
		}
		cfg := g.levels[level]
		adjusted := make(map[string]any, len(p)+2)
		for k, v := range p {
			adjusted[k] = v
		}
		if cfg.TimeoutMultiplier > 0 {
			if t, ok := adjusted["timeout"].(time.Duration); ok {
				adjusted["timeout"] = time.Duration(float64(t) * cfg.TimeoutMultiplier)
			}
		}
		if cfg.Simplify {
			adjusted["simplify"] = true
		}
		if cfg.EssentialOnly {
			adjusted["essential_only"] = true
		}
		sc.Scratch["degradation_level"] = level
		g.logger.Info("executing with degradation",
			"step_id", sc.StepID, "level", level, "description", cfg.Description)
		return fn(ctx, adjusted)
	}
	return g.inner.Execute(ctx, sc, wrapped, params)
}

// Failover retries against a list of alternative implementations: the n-th
// retry invokes the n-th candidate (clamped to the last). The retry budget
// is additionally bounded by the number of candidates.
type Failover struct {
	policy      *Policy
	categorizer *recovery.Categorizer
	candidates  []Func
	logger      hclog.Logger
}

// NewFailover builds the failover strategy over the fallback candidates.
func NewFailover(policy *Policy, candidates []Func, logger hclog.Logger) *Failover {
	if policy == nil {
		policy = NewPolicy(DefaultConfig())
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Failover{
		policy:      policy,
		categorizer: recovery.NewCategorizer(),
		candidates:  candidates,
		logger:      logger,
	}
}

func (f *Failover) Name() string { return "failover" }

// Execute tries the primary function, then each fallback in order.
func (f *Failover) Execute(ctx context.Context, sc *StepContext, fn Func, params map[string]any) (any, Outcome, error) {
	all := append([]Func{fn}, f.candidates...)
	maxRetries := sc.MaxRetries
	if limit := len(all) - 1; limit < maxRetries {
		maxRetries = limit
	}

	var lastErr error
	for sc.RetryCount <= maxRetries {
		idx := sc.RetryCount
		if idx >= len(all) {
			idx = len(all) - 1
		}
		if sc.RetryCount > 0 {
			f.logger.Info("trying failover implementation",
				"step_id", sc.StepID, "candidate", sc.RetryCount)
		}

		start := time.Now()
		result, err := all[idx](ctx, params)
		elapsed := time.Since(start)
		if err == nil {
			sc.RecordAttempt(sc.RetryCount, OutcomeSuccess, nil, elapsed)
			f.policy.RecordSuccess()
			return result, OutcomeSuccess, nil
		}

		sc.RecordAttempt(sc.RetryCount, OutcomeFailed, err, elapsed)
		f.policy.RecordFailure()
		if sc.OriginalErr == nil {
			sc.OriginalErr = err
		}
		sc.Category = f.categorizer.Categorize(err)
		lastErr = err
		sc.RetryCount++
		if sc.RetryCount > maxRetries {
			break
		}

		delay := f.policy.Delay(sc.RetryCount - 1)
		sc.noteDelay(delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, OutcomeAborted, ctx.Err()
		}
	}
	return nil, OutcomeMaxRetriesExceeded, lastErr
}
