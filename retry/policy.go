// Package retry implements per-step retry policies with pluggable backoff
// schedules, a circuit breaker, execution strategies, and a monitor that
// records every retry operation for later analysis.
package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/wrenchchatrepo/wrenchai-sub000/recovery"
)

// Outcome is the result of a retried operation.
type Outcome string

const (
	// OutcomeSuccess means the operation eventually succeeded.
	OutcomeSuccess Outcome = "success"
	// OutcomeFailed means the operation failed without retry eligibility.
	OutcomeFailed Outcome = "failed"
	// OutcomeMaxRetriesExceeded means the retry budget ran out.
	OutcomeMaxRetriesExceeded Outcome = "max_retries_exceeded"
	// OutcomeTimeoutExceeded means the overall policy timeout elapsed.
	OutcomeTimeoutExceeded Outcome = "timeout_exceeded"
	// OutcomeAborted means the context was cancelled mid-retry.
	OutcomeAborted Outcome = "aborted"
	// OutcomePolicyRejected means the policy declined to retry (abort
	// category, circuit open, or cumulative delay cap).
	OutcomePolicyRejected Outcome = "policy_rejected"
)

// Backoff names a delay schedule between attempts.
type Backoff string

const (
	// BackoffConstant uses the initial delay every time.
	BackoffConstant Backoff = "constant"
	// BackoffLinear grows the delay linearly: initial x (n + 1).
	BackoffLinear Backoff = "linear"
	// BackoffExponential grows the delay geometrically: initial x factor^n.
	BackoffExponential Backoff = "exponential"
	// BackoffFibonacci follows the Fibonacci sequence: initial x fib(n+1).
	BackoffFibonacci Backoff = "fibonacci"
	// BackoffRandom picks uniformly between initial and initial x factor^n.
	BackoffRandom Backoff = "random"
	// BackoffDecorrelatedJitter implements the AWS decorrelated jitter
	// schedule: initial for the first retry, then uniform between initial
	// and three times the previous exponential delay.
	BackoffDecorrelatedJitter Backoff = "decorrelated_jitter"
)

// Config declares a retry policy. Durations are wall-clock; zero values
// fall back to the defaults from DefaultConfig where noted.
type Config struct {
	MaxRetries    int           `json:"max_retries"`
	InitialDelay  time.Duration `json:"initial_delay_ms"`
	MaxDelay      time.Duration `json:"max_delay_ms"`
	Backoff       Backoff       `json:"backoff_strategy"`
	BackoffFactor float64       `json:"backoff_factor"`
	Jitter        bool          `json:"jitter"`
	JitterFactor  float64       `json:"jitter_factor"`

	// RetryOn lists the categories worth another attempt; AbortOn lists
	// categories that end retrying immediately. AbortOn wins on overlap.
	RetryOn recovery.CategorySet `json:"retry_on"`
	AbortOn recovery.CategorySet `json:"abort_on"`

	// Timeout bounds the whole retry operation; zero means unbounded.
	Timeout time.Duration `json:"timeout_ms,omitempty"`
	// MaxCumulativeDelay bounds the summed sleep time; zero means
	// unbounded.
	MaxCumulativeDelay time.Duration `json:"max_retry_overhead_ms,omitempty"`

	// CircuitBreaker enables the per-policy breaker.
	CircuitBreaker   bool          `json:"retry_circuit_breaker"`
	BreakerThreshold int           `json:"circuit_breaker_threshold"`
	BreakerRecovery  time.Duration `json:"circuit_recovery_time_ms"`
}

// DefaultConfig returns the runtime's standard retry posture.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      time.Minute,
		Backoff:       BackoffExponential,
		BackoffFactor: 2.0,
		Jitter:        true,
		JitterFactor:  0.2,
		RetryOn: recovery.NewCategorySet(
			recovery.CategoryTransient,
			recovery.CategoryResource,
			recovery.CategoryDependency,
			recovery.CategoryTimeout,
		),
		AbortOn: recovery.NewCategorySet(
			recovery.CategorySecurity,
			recovery.CategoryPermission,
		),
		BreakerThreshold: 5,
		BreakerRecovery:  time.Minute,
	}
}

// Policy evaluates a Config against step retry contexts and tracks the
// circuit breaker's state. A Policy is safe for concurrent use.
type Policy struct {
	cfg Config

	mu        sync.Mutex
	failures  int
	openUntil time.Time

	rng *rand.Rand
	now func() time.Time
}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy)

// WithClock overrides the policy's time source, for tests.
func WithClock(now func() time.Time) PolicyOption {
	return func(p *Policy) { p.now = now }
}

// WithRand overrides the policy's randomness source, for deterministic
// tests of the randomized schedules.
func WithRand(rng *rand.Rand) PolicyOption {
	return func(p *Policy) { p.rng = rng }
}

// NewPolicy builds a Policy from cfg, filling unset schedule fields from
// the defaults.
func NewPolicy(cfg Config, opts ...PolicyOption) *Policy {
	def := DefaultConfig()
	if cfg.Backoff == "" {
		cfg.Backoff = def.Backoff
	}
	if cfg.BackoffFactor == 0 {
		cfg.BackoffFactor = def.BackoffFactor
	}
	if cfg.RetryOn == nil {
		cfg.RetryOn = def.RetryOn
	}
	if cfg.AbortOn == nil {
		cfg.AbortOn = def.AbortOn
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = def.BreakerThreshold
	}
	if cfg.BreakerRecovery == 0 {
		cfg.BreakerRecovery = def.BreakerRecovery
	}
	p := &Policy{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	if p.rng == nil {
		p.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return p
}

// Config returns the policy's configuration.
func (p *Policy) Config() Config { return p.cfg }

// ShouldRetry reports whether another attempt is allowed for sc. The checks
// apply in a fixed order: open circuit, retry budget, abort categories,
// retry categories, overall timeout, cumulative delay cap.
func (p *Policy) ShouldRetry(sc *StepContext) bool {
	if p.cfg.CircuitBreaker && p.circuitOpen() {
		return false
	}
	if sc.RetryCount >= p.cfg.MaxRetries {
		return false
	}
	if p.cfg.AbortOn.Has(sc.Category) {
		return false
	}
	if !p.cfg.RetryOn.Has(sc.Category) {
		return false
	}
	if p.cfg.Timeout > 0 && p.now().Sub(sc.StartTime) >= p.cfg.Timeout {
		return false
	}
	if p.cfg.MaxCumulativeDelay > 0 && sc.TotalDelay >= p.cfg.MaxCumulativeDelay {
		return false
	}
	return true
}

// Delay computes the sleep before retry number retryCount (zero-based).
// The schedule value is capped at MaxDelay, then jittered by up to
// +/- JitterFactor when jitter is enabled (never below InitialDelay).
func (p *Policy) Delay(retryCount int) time.Duration {
	initial := float64(p.cfg.InitialDelay)
	factor := p.cfg.BackoffFactor
	var delay float64

	switch p.cfg.Backoff {
	case BackoffConstant:
		delay = initial
	case BackoffLinear:
		delay = initial * float64(retryCount+1)
	case BackoffFibonacci:
		delay = initial * float64(fib(retryCount+1))
	case BackoffRandom:
		upper := initial * math.Pow(factor, float64(retryCount))
		delay = p.uniform(initial, upper)
	case BackoffDecorrelatedJitter:
		if retryCount == 0 {
			delay = initial
		} else {
			prev := initial * math.Pow(factor, float64(retryCount-1))
			delay = p.uniform(initial, prev*3)
		}
	case BackoffExponential:
		fallthrough
	default:
		delay = initial * math.Pow(factor, float64(retryCount))
	}

	if max := float64(p.cfg.MaxDelay); p.cfg.MaxDelay > 0 && delay > max {
		delay = max
	}
	if p.cfg.Jitter && p.cfg.JitterFactor > 0 {
		spread := delay * p.cfg.JitterFactor
		delay += p.uniform(-spread, spread)
		if delay < initial {
			delay = initial
		}
	}
	return time.Duration(delay)
}

func (p *Policy) uniform(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	p.mu.Lock()
	r := p.rng.Float64()
	p.mu.Unlock()
	return lo + r*(hi-lo)
}

// RecordSuccess resets the circuit breaker.
func (p *Policy) RecordSuccess() {
	if !p.cfg.CircuitBreaker {
		return
	}
	p.mu.Lock()
	p.failures = 0
	p.openUntil = time.Time{}
	p.mu.Unlock()
}

// RecordFailure counts a failure toward the breaker threshold, opening the
// circuit when the threshold is reached.
func (p *Policy) RecordFailure() {
	if !p.cfg.CircuitBreaker {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures++
	if p.failures >= p.cfg.BreakerThreshold {
		p.openUntil = p.now().Add(p.cfg.BreakerRecovery)
	}
}

// circuitOpen reports whether the breaker currently rejects attempts. When
// the recovery window has elapsed, the breaker enters half-open: one more
// failure reopens it, one success closes it.
func (p *Policy) circuitOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openUntil.IsZero() {
		return false
	}
	if p.now().After(p.openUntil) {
		p.failures = p.cfg.BreakerThreshold - 1
		p.openUntil = time.Time{}
		return false
	}
	return true
}

// fib returns the n-th Fibonacci number with fib(1) = fib(2) = 1.
func fib(n int) int64 {
	if n <= 2 {
		return 1
	}
	a, b := int64(1), int64(1)
	for i := 3; i <= n; i++ {
		a, b = b, a+b
	}
	return b
}
