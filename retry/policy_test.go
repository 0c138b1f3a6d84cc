package retry

import (
	"testing"
	"time"

	"github.com/wrenchchatrepo/wrenchai-sub000/recovery"
)

func expPolicy() *Policy {
	return NewPolicy(Config{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      time.Second,
		Backoff:       BackoffExponential,
		BackoffFactor: 2,
	})
}

func TestPolicy_Delay(t *testing.T) {
	t.Run("exponential clamps at max", func(t *testing.T) {
		p := expPolicy()
		want := []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
			800 * time.Millisecond,
			1000 * time.Millisecond, // clamped
		}
		for n, expected := range want {
			if got := p.Delay(n); got != expected {
				t.Errorf("Delay(%d) = %v, want %v", n, got, expected)
			}
		}
	})

	t.Run("constant", func(t *testing.T) {
		p := NewPolicy(Config{InitialDelay: 50 * time.Millisecond, Backoff: BackoffConstant, MaxDelay: time.Second})
		for n := 0; n < 4; n++ {
			if got := p.Delay(n); got != 50*time.Millisecond {
				t.Errorf("Delay(%d) = %v", n, got)
			}
		}
	})

	t.Run("linear", func(t *testing.T) {
		p := NewPolicy(Config{InitialDelay: 100 * time.Millisecond, Backoff: BackoffLinear, MaxDelay: time.Minute})
		want := []time.Duration{100, 200, 300, 400}
		for n, w := range want {
			if got := p.Delay(n); got != w*time.Millisecond {
				t.Errorf("Delay(%d) = %v, want %v", n, got, w*time.Millisecond)
			}
		}
	})

	t.Run("fibonacci", func(t *testing.T) {
		p := NewPolicy(Config{InitialDelay: 100 * time.Millisecond, Backoff: BackoffFibonacci, MaxDelay: time.Minute})
		// fib(n+1) for n = 0..5: 1, 1, 2, 3, 5, 8.
		want := []time.Duration{100, 100, 200, 300, 500, 800}
		for n, w := range want {
			if got := p.Delay(n); got != w*time.Millisecond {
				t.Errorf("Delay(%d) = %v, want %v", n, got, w*time.Millisecond)
			}
		}
	})

	t.Run("random stays within bounds", func(t *testing.T) {
		p := NewPolicy(Config{
			InitialDelay: 100 * time.Millisecond, MaxDelay: time.Minute,
			Backoff: BackoffRandom, BackoffFactor: 2,
		})
		for n := 0; n < 5; n++ {
			got := p.Delay(n)
			upper := time.Duration(float64(100*time.Millisecond) * pow2(n))
			if got < 100*time.Millisecond || got > upper {
				t.Errorf("Delay(%d) = %v outside [100ms, %v]", n, got, upper)
			}
		}
	})

	t.Run("decorrelated jitter first delay is initial", func(t *testing.T) {
		p := NewPolicy(Config{
			InitialDelay: 100 * time.Millisecond, MaxDelay: time.Minute,
			Backoff: BackoffDecorrelatedJitter, BackoffFactor: 2,
		})
		if got := p.Delay(0); got != 100*time.Millisecond {
			t.Errorf("Delay(0) = %v, want 100ms", got)
		}
		// Subsequent delays fall in [initial, 3 x previous exponential].
		for n := 1; n < 5; n++ {
			got := p.Delay(n)
			upper := time.Duration(3 * float64(100*time.Millisecond) * pow2(n-1))
			if got < 100*time.Millisecond || got > upper {
				t.Errorf("Delay(%d) = %v outside [100ms, %v]", n, got, upper)
			}
		}
	})

	t.Run("jitter bounded and floored at initial", func(t *testing.T) {
		p := NewPolicy(Config{
			MaxRetries: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second,
			Backoff: BackoffExponential, BackoffFactor: 2, Jitter: true, JitterFactor: 0.2,
		})
		for n := 0; n < 4; n++ {
			got := p.Delay(n)
			base := float64(100*time.Millisecond) * pow2(n)
			if base > float64(time.Second) {
				base = float64(time.Second)
			}
			lo := time.Duration(base * 0.8)
			if lo < 100*time.Millisecond {
				lo = 100 * time.Millisecond
			}
			hi := time.Duration(base * 1.2)
			if got < lo || got > hi {
				t.Errorf("Delay(%d) = %v outside [%v, %v]", n, got, lo, hi)
			}
		}
	})
}

func pow2(n int) float64 {
	out := 1.0
	for i := 0; i < n; i++ {
		out *= 2
	}
	return out
}

func TestPolicy_ShouldRetry(t *testing.T) {
	newCtx := func(category recovery.Category, retryCount int) *StepContext {
		sc := NewStepContext("wf", "s", 3)
		sc.Category = category
		sc.RetryCount = retryCount
		return sc
	}

	t.Run("budget exhausted", func(t *testing.T) {
		p := expPolicy()
		if p.ShouldRetry(newCtx(recovery.CategoryTransient, 3)) {
			t.Error("expected false at retry_count == max_retries")
		}
		if !p.ShouldRetry(newCtx(recovery.CategoryTransient, 2)) {
			t.Error("expected true below budget")
		}
	})

	t.Run("abort categories rejected", func(t *testing.T) {
		p := expPolicy()
		if p.ShouldRetry(newCtx(recovery.CategorySecurity, 0)) {
			t.Error("security errors must not retry")
		}
		if p.ShouldRetry(newCtx(recovery.CategoryPermission, 0)) {
			t.Error("permission errors must not retry")
		}
	})

	t.Run("non-retryable categories rejected", func(t *testing.T) {
		p := expPolicy()
		if p.ShouldRetry(newCtx(recovery.CategoryLogical, 0)) {
			t.Error("logical errors are not in retry_on")
		}
	})

	t.Run("overall timeout", func(t *testing.T) {
		cfg := expPolicy().Config()
		cfg.Timeout = time.Minute
		now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		p := NewPolicy(cfg, WithClock(func() time.Time { return now }))
		sc := newCtx(recovery.CategoryTransient, 0)
		sc.StartTime = now.Add(-2 * time.Minute)
		if p.ShouldRetry(sc) {
			t.Error("expected rejection after overall timeout")
		}
	})

	t.Run("cumulative delay cap", func(t *testing.T) {
		cfg := expPolicy().Config()
		cfg.MaxCumulativeDelay = 500 * time.Millisecond
		p := NewPolicy(cfg)
		sc := newCtx(recovery.CategoryTransient, 1)
		sc.TotalDelay = 600 * time.Millisecond
		if p.ShouldRetry(sc) {
			t.Error("expected rejection past the cumulative delay cap")
		}
	})
}

func TestPolicy_CircuitBreaker(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	cfg := Config{
		MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: time.Second,
		Backoff: BackoffConstant,
		RetryOn: recovery.NewCategorySet(recovery.CategoryTransient),
		AbortOn: recovery.NewCategorySet(recovery.CategorySecurity),
		CircuitBreaker: true, BreakerThreshold: 3, BreakerRecovery: time.Minute,
	}
	p := NewPolicy(cfg, WithClock(clock))

	sc := NewStepContext("wf", "s", 5)
	sc.Category = recovery.CategoryTransient

	if !p.ShouldRetry(sc) {
		t.Fatal("circuit should start closed")
	}
	for i := 0; i < 3; i++ {
		p.RecordFailure()
	}
	if p.ShouldRetry(sc) {
		t.Fatal("circuit should be open after threshold failures")
	}

	// Still open inside the recovery window.
	now = now.Add(30 * time.Second)
	if p.ShouldRetry(sc) {
		t.Fatal("circuit should stay open before recovery elapses")
	}

	// Half-open after recovery: one retry allowed.
	now = now.Add(31 * time.Second)
	if !p.ShouldRetry(sc) {
		t.Fatal("circuit should be half-open after recovery window")
	}

	// A failure in half-open reopens immediately.
	p.RecordFailure()
	if p.ShouldRetry(sc) {
		t.Fatal("circuit should reopen on half-open failure")
	}

	// Success closes it fully.
	now = now.Add(2 * time.Minute)
	p.RecordSuccess()
	if !p.ShouldRetry(sc) {
		t.Fatal("circuit should close after success")
	}
}
