package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wrenchchatrepo/wrenchai-sub000/state"
)

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	return state.New()
}

func TestManager_CreateAndRestore(t *testing.T) {
	t.Run("restore replays snapshot values", func(t *testing.T) {
		s := newTestStore(t)
		if _, err := s.Create(state.Spec{Name: "state_version", Value: int64(1)}); err != nil {
			t.Fatalf("create: %v", err)
		}
		m := NewManager(s, WithDir(t.TempDir()))

		cp, err := m.Create("wf-1", "step-1", KindManual, nil)
		if err != nil {
			t.Fatalf("checkpoint: %v", err)
		}
		if err := s.SetValue("state_version", int64(2), "t"); err != nil {
			t.Fatalf("set: %v", err)
		}
		if err := m.Restore(cp.ID); err != nil {
			t.Fatalf("restore: %v", err)
		}
		if got := s.GetValue("state_version", nil); got != int64(1) {
			t.Errorf("state_version = %v, want 1", got)
		}
	})

	t.Run("restore creates missing variables with workflow scope", func(t *testing.T) {
		s := newTestStore(t)
		if _, err := s.Create(state.Spec{Name: "x", Value: "present"}); err != nil {
			t.Fatalf("create: %v", err)
		}
		m := NewManager(s, WithDir(t.TempDir()))
		cp, err := m.Create("wf-1", "s1", KindManual, nil)
		if err != nil {
			t.Fatalf("checkpoint: %v", err)
		}
		if _, err := s.Delete("x", state.SystemRequestor); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := m.Restore(cp.ID); err != nil {
			t.Fatalf("restore: %v", err)
		}
		v, err := s.Get("x")
		if err != nil {
			t.Fatalf("get after restore: %v", err)
		}
		if v.Scope != state.ScopeWorkflow {
			t.Errorf("recreated variable scope = %v, want workflow", v.Scope)
		}
	})

	t.Run("variables absent from snapshot are untouched", func(t *testing.T) {
		s := newTestStore(t)
		m := NewManager(s, WithDir(t.TempDir()))
		cp, err := m.Create("wf-1", "s1", KindManual, nil)
		if err != nil {
			t.Fatalf("checkpoint: %v", err)
		}
		if _, err := s.Create(state.Spec{Name: "later", Value: "kept"}); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := m.Restore(cp.ID); err != nil {
			t.Fatalf("restore: %v", err)
		}
		if got := s.GetValue("later", nil); got != "kept" {
			t.Errorf("variable outside snapshot mutated: %v", got)
		}
	})
}

func TestManager_Persistence(t *testing.T) {
	t.Run("checkpoint file written and reloadable", func(t *testing.T) {
		dir := t.TempDir()
		s := newTestStore(t)
		if _, err := s.Create(state.Spec{Name: "k", Value: "v"}); err != nil {
			t.Fatalf("create: %v", err)
		}
		m := NewManager(s, WithDir(dir))
		cp, err := m.Create("wf-1", "s1", KindTransactional, map[string]any{"transaction_id": "tx-1"})
		if err != nil {
			t.Fatalf("checkpoint: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, cp.ID+".json")); err != nil {
			t.Fatalf("checkpoint file missing: %v", err)
		}

		// A fresh manager over the same dir can load it by id.
		fresh := NewManager(newTestStore(t), WithDir(dir))
		loaded, err := fresh.Get(cp.ID)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if loaded.Kind != KindTransactional || loaded.State["k"] != "v" {
			t.Errorf("loaded checkpoint mismatch: %+v", loaded)
		}
	})

	t.Run("missing file yields ErrNotFound", func(t *testing.T) {
		m := NewManager(newTestStore(t), WithDir(t.TempDir()))
		if _, err := m.Get("nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("corrupt file yields LoadError", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		m := NewManager(newTestStore(t), WithDir(dir))
		_, err := m.Get("bad")
		var le *LoadError
		if !errors.As(err, &le) {
			t.Errorf("expected LoadError, got %v", err)
		}
	})
}

func TestManager_Latest(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	m := NewManager(newTestStore(t), WithClock(clock))

	mustCreateCP := func(wf, step string, kind Kind) *Checkpoint {
		cp, err := m.Create(wf, step, kind, nil)
		if err != nil {
			t.Fatalf("checkpoint: %v", err)
		}
		now = now.Add(time.Minute)
		return cp
	}

	mustCreateCP("wf-1", "s1", KindManual)
	second := mustCreateCP("wf-1", "s2", KindAuto)
	third := mustCreateCP("wf-1", "s3", KindManual)
	mustCreateCP("wf-2", "s1", KindManual)

	t.Run("latest by workflow", func(t *testing.T) {
		cp, err := m.Latest("wf-1", "", "")
		if err != nil || cp.ID != third.ID {
			t.Errorf("latest = %v, err=%v, want %s", cp, err, third.ID)
		}
	})

	t.Run("kind filter", func(t *testing.T) {
		cp, err := m.Latest("wf-1", KindAuto, "")
		if err != nil || cp.ID != second.ID {
			t.Errorf("latest auto = %v, err=%v", cp, err)
		}
	})

	t.Run("before-step filter excludes current step", func(t *testing.T) {
		cp, err := m.Latest("wf-1", "", "s3")
		if err != nil || cp.StepID == "s3" {
			t.Errorf("before-step filter returned %v, err=%v", cp, err)
		}
	})

	t.Run("no match yields ErrNotFound", func(t *testing.T) {
		if _, err := m.Latest("wf-9", "", ""); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestManager_CheckAuto(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	m := NewManager(newTestStore(t), WithClock(clock), WithAutoInterval(time.Minute))

	cp, err := m.CheckAuto("wf-1", "s1")
	if err != nil || cp == nil {
		t.Fatalf("first auto checkpoint should fire: %v %v", cp, err)
	}

	now = now.Add(30 * time.Second)
	cp, err = m.CheckAuto("wf-1", "s2")
	if err != nil || cp != nil {
		t.Fatalf("auto checkpoint fired early: %v %v", cp, err)
	}

	now = now.Add(31 * time.Second)
	cp, err = m.CheckAuto("wf-1", "s3")
	if err != nil || cp == nil {
		t.Fatalf("auto checkpoint should fire after interval: %v %v", cp, err)
	}
	if cp.Kind != KindAuto {
		t.Errorf("kind = %v, want auto", cp.Kind)
	}
}

func TestManager_Delete(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(newTestStore(t), WithDir(dir))
	cp, err := m.Create("wf-1", "s1", KindManual, nil)
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if err := m.Delete(cp.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.Get(cp.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, cp.ID+".json")); !os.IsNotExist(err) {
		t.Errorf("file still present after delete")
	}
}
