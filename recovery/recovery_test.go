package recovery

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/wrenchchatrepo/wrenchai-sub000/state"
)

// fastPolicy retries immediately so tests do not sleep.
func fastPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		InitialDelay:  0,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 2.0,
		RetryOn: NewCategorySet(
			CategoryTransient, CategoryResource, CategoryDependency, CategoryTimeout,
		),
	}
}

func newTestManager(t *testing.T) (*Manager, *state.Store) {
	t.Helper()
	s := state.New()
	m := NewManager(s,
		WithCheckpointDir(t.TempDir()),
		WithRetryPolicy(fastPolicy()),
	)
	return m, s
}

func TestCategorizer(t *testing.T) {
	c := NewCategorizer()
	cases := []struct {
		name string
		err  error
		want Category
	}{
		{"connection refused syscall", syscall.ECONNREFUSED, CategoryTransient},
		{"throttling message", errors.New("upstream: too many requests"), CategoryTransient},
		{"deadline exceeded", context.DeadlineExceeded, CategoryTimeout},
		{"quota message", errors.New("storage quota exceeded for bucket"), CategoryResource},
		{"validation error type", &state.ValidationError{Name: "x", Reason: "bad"}, CategoryStateInvalid},
		{"access error type", &state.AccessError{Name: "x", Requestor: "r", Reason: "denied"}, CategorySecurity},
		{"forbidden message", errors.New("operation forbidden by policy"), CategorySecurity},
		{"missing dependency message", errors.New("required module missing"), CategoryDependency},
		{"unmatched", errors.New("something odd happened"), CategoryUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.Categorize(tc.err); got != tc.want {
				t.Errorf("Categorize(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}

	t.Run("registered matcher extends the table", func(t *testing.T) {
		if err := c.RegisterMatcher(Matcher{
			Patterns: []string{"flux capacitor"},
			Category: CategoryResource,
		}); err != nil {
			t.Fatalf("register: %v", err)
		}
		if got := c.Categorize(errors.New("flux capacitor drained")); got != CategoryResource {
			t.Errorf("custom matcher not applied: %v", got)
		}
	})

	t.Run("empty matcher rejected", func(t *testing.T) {
		if err := c.RegisterMatcher(Matcher{Category: CategoryUnknown}); err == nil {
			t.Error("expected error for matcher with no patterns or type match")
		}
	})
}

func TestManager_HandleError(t *testing.T) {
	t.Run("transient error chooses retry", func(t *testing.T) {
		m, _ := newTestManager(t)
		action := m.HandleError(context.Background(), errors.New("connection reset by peer"), "wf-1", "s1", nil)
		if action != ActionRetry {
			t.Errorf("action = %v, want retry", action)
		}
	})

	t.Run("logical error with earlier checkpoint rolls back", func(t *testing.T) {
		m, s := newTestManager(t)
		if _, err := s.Create(state.Spec{Name: "state_version", Value: int64(1)}); err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := m.CheckpointWorkflow("wf-1", "s1", nil); err != nil {
			t.Fatalf("checkpoint: %v", err)
		}
		if err := s.SetValue("state_version", int64(2), "t"); err != nil {
			t.Fatalf("set: %v", err)
		}

		action := m.HandleError(context.Background(),
			errors.New("constraint violated in plan"), "wf-1", "s2", nil)
		if action != ActionRollback {
			t.Fatalf("action = %v, want rollback", action)
		}
		if got := s.GetValue("state_version", nil); got != int64(1) {
			t.Errorf("state after rollback = %v, want 1", got)
		}
	})

	t.Run("logical error with no checkpoint aborts", func(t *testing.T) {
		m, _ := newTestManager(t)
		action := m.HandleError(context.Background(),
			errors.New("schema mismatch"), "wf-1", "s1", nil)
		if action != ActionAbort {
			t.Errorf("action = %v, want abort", action)
		}
	})

	t.Run("alternate path runs and reports alternate", func(t *testing.T) {
		m, _ := newTestManager(t)
		ran := false
		m.RegisterAlternatePath("odd-step", func(ctx context.Context, rc *Context) error {
			ran = true
			return nil
		})
		action := m.HandleError(context.Background(),
			errors.New("something odd happened"), "wf-1", "odd-step", nil)
		if action != ActionAlternate || !ran {
			t.Errorf("action = %v ran = %v, want alternate path executed", action, ran)
		}
	})

	t.Run("history records the decision", func(t *testing.T) {
		m, _ := newTestManager(t)
		m.HandleError(context.Background(), errors.New("timed out waiting"), "wf-7", "s1", nil)
		recs := m.History("wf-7")
		if len(recs) != 1 {
			t.Fatalf("expected 1 history record, got %d", len(recs))
		}
		if recs[0].Category != CategoryTransient && recs[0].Category != CategoryTimeout {
			t.Errorf("recorded category = %v", recs[0].Category)
		}
		if recs[0].Action == "" {
			t.Error("recorded action empty")
		}
	})
}

func TestManager_Transaction(t *testing.T) {
	t.Run("error restores entry checkpoint and propagates", func(t *testing.T) {
		m, s := newTestManager(t)
		if _, err := s.Create(state.Spec{Name: "state_version", Value: int64(1)}); err != nil {
			t.Fatalf("create: %v", err)
		}
		boom := errors.New("invalid value computed")
		err := m.Transaction(context.Background(), "wf-1", "s1", func(ctx context.Context) error {
			if err := s.SetValue("state_version", int64(2), "t"); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("transaction error = %v, want original", err)
		}
		if got := s.GetValue("state_version", nil); got != int64(1) {
			t.Errorf("state_version = %v, want rollback to 1", got)
		}
	})

	t.Run("success commits mutations", func(t *testing.T) {
		m, s := newTestManager(t)
		if _, err := s.Create(state.Spec{Name: "v", Value: int64(1)}); err != nil {
			t.Fatalf("create: %v", err)
		}
		err := m.Transaction(context.Background(), "wf-1", "s1", func(ctx context.Context) error {
			return s.SetValue("v", int64(2), "t")
		})
		if err != nil {
			t.Fatalf("transaction: %v", err)
		}
		if got := s.GetValue("v", nil); got != int64(2) {
			t.Errorf("v = %v, want 2", got)
		}
		recent := m.Transactions().Recent()
		if len(recent) != 1 || recent[0].Status != TransactionCommitted {
			t.Errorf("transaction record = %+v", recent)
		}
	})
}

func TestManager_Protect(t *testing.T) {
	t.Run("success is a clean outcome", func(t *testing.T) {
		m, _ := newTestManager(t)
		outcome := m.Protect(context.Background(), "wf-1", "s1", func(ctx context.Context) error {
			return nil
		})
		if outcome.Failed() {
			t.Errorf("outcome = %+v", outcome)
		}
	})

	t.Run("skip swallows the error", func(t *testing.T) {
		m, _ := newTestManager(t)
		// An alternate that itself fails degrades to skip.
		m.RegisterAlternatePath("s1", func(ctx context.Context, rc *Context) error {
			return errors.New("alternate also broken")
		})
		outcome := m.Protect(context.Background(), "wf-1", "s1", func(ctx context.Context) error {
			return errors.New("something odd happened")
		})
		if outcome.Failed() {
			t.Errorf("skip should swallow, got %+v", outcome)
		}
		if outcome.Action != ActionSkip {
			t.Errorf("action = %v, want skip", outcome.Action)
		}
	})

	t.Run("retry propagates for the caller's loop", func(t *testing.T) {
		m, _ := newTestManager(t)
		boom := errors.New("connection refused")
		outcome := m.Protect(context.Background(), "wf-1", "s1", func(ctx context.Context) error {
			return boom
		})
		if !outcome.Failed() || outcome.Action != ActionRetry {
			t.Errorf("outcome = %+v, want failing retry", outcome)
		}
	})
}

func TestWithRecovery(t *testing.T) {
	t.Run("transient failures retried until success", func(t *testing.T) {
		m, _ := newTestManager(t)
		calls := 0
		err := WithRecovery(context.Background(), m, "wf-1", "s1", func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("service unavailable")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("WithRecovery: %v", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("persistent failure re-raises original error", func(t *testing.T) {
		m, _ := newTestManager(t)
		boom := fmt.Errorf("backend throttled: %w", errors.New("try again"))
		calls := 0
		err := WithRecovery(context.Background(), m, "wf-1", "s1", func(ctx context.Context) error {
			calls++
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("error = %v, want original", err)
		}
		if calls < 2 {
			t.Errorf("calls = %d, expected local retries", calls)
		}
	})

	t.Run("abort stops immediately", func(t *testing.T) {
		m, _ := newTestManager(t)
		calls := 0
		err := WithRecovery(context.Background(), m, "wf-1", "s1", func(ctx context.Context) error {
			calls++
			return errors.New("access denied for user")
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1 (no retry on abort)", calls)
		}
	})
}

type recordingCallback struct {
	pre, post, abort int
}

func (r *recordingCallback) PreRecovery(ctx context.Context, rc *Context) { r.pre++ }
func (r *recordingCallback) PostRecovery(ctx context.Context, rc *Context, action Action, success bool) {
	r.post++
}
func (r *recordingCallback) OnAbort(ctx context.Context, rc *Context) { r.abort++ }

func TestManager_Callbacks(t *testing.T) {
	m, _ := newTestManager(t)
	cb := &recordingCallback{}
	m.RegisterCallback(cb)

	m.HandleError(context.Background(), errors.New("connection reset"), "wf", "s", nil)
	if cb.pre != 1 || cb.post != 1 || cb.abort != 0 {
		t.Errorf("callback counts after retry: %+v", cb)
	}

	m.HandleError(context.Background(), errors.New("unauthorized access"), "wf", "s", nil)
	if cb.abort != 1 {
		t.Errorf("abort callback not invoked: %+v", cb)
	}
}
