package state

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestStore_CreateAndGet(t *testing.T) {
	t.Run("get returns creation value", func(t *testing.T) {
		s := New()
		if _, err := s.Create(Spec{Name: "x", Value: int64(10), Scope: ScopeWorkflow}); err != nil {
			t.Fatalf("create: %v", err)
		}
		if got := s.GetValue("x", nil); got != int64(10) {
			t.Errorf("expected 10, got %v", got)
		}
	})

	t.Run("duplicate create fails", func(t *testing.T) {
		s := New()
		if _, err := s.Create(Spec{Name: "x", Value: 1}); err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := s.Create(Spec{Name: "x", Value: 2}); !errors.Is(err, ErrAlreadyExists) {
			t.Errorf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("missing variable yields NotFoundError", func(t *testing.T) {
		s := New()
		_, err := s.Get("missing")
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("expected NotFoundError, got %v", err)
		}
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected errors.Is(err, ErrNotFound)")
		}
	})

	t.Run("default used when value unset", func(t *testing.T) {
		s := New()
		if _, err := s.Create(Spec{Name: "d", Default: "fallback"}); err != nil {
			t.Fatalf("create: %v", err)
		}
		if got := s.GetValue("d", nil); got != "fallback" {
			t.Errorf("expected default, got %v", got)
		}
	})
}

func TestStore_SetValue(t *testing.T) {
	t.Run("last successful write wins", func(t *testing.T) {
		s := New()
		mustCreate(t, s, Spec{Name: "n", Value: int64(1)})
		for i := int64(2); i <= 5; i++ {
			if err := s.SetValue("n", i, "tester"); err != nil {
				t.Fatalf("set %d: %v", i, err)
			}
		}
		if got := s.GetValue("n", nil); got != int64(5) {
			t.Errorf("expected 5, got %v", got)
		}
	})

	t.Run("type mismatch leaves value unchanged", func(t *testing.T) {
		s := New()
		mustCreate(t, s, Spec{Name: "n", Value: int64(1)})
		err := s.SetValue("n", "not a number", "tester")
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if got := s.GetValue("n", nil); got != int64(1) {
			t.Errorf("failed write mutated value: got %v", got)
		}
	})

	t.Run("integer widens into real slot", func(t *testing.T) {
		s := New()
		mustCreate(t, s, Spec{Name: "f", Value: 1.5})
		if err := s.SetValue("f", int64(2), "tester"); err != nil {
			t.Fatalf("set: %v", err)
		}
		if got := s.GetValue("f", nil); got != 2.0 {
			t.Errorf("expected 2.0, got %v", got)
		}
	})

	t.Run("validator rejection aborts write", func(t *testing.T) {
		s := New()
		mustCreate(t, s, Spec{
			Name:      "pos",
			Value:     int64(1),
			Validator: func(v any) bool { n, ok := v.(int64); return ok && n > 0 },
		})
		if err := s.SetValue("pos", int64(-1), "tester"); err == nil {
			t.Fatal("expected validation error")
		}
		if got := s.GetValue("pos", nil); got != int64(1) {
			t.Errorf("expected 1, got %v", got)
		}
	})
}

func TestStore_Permissions(t *testing.T) {
	t.Run("read-only rejects all writes after creation", func(t *testing.T) {
		s := New()
		mustCreate(t, s, Spec{Name: "ro", Value: "fixed", Permission: PermissionReadOnly})
		err := s.SetValue("ro", "changed", "anyone")
		var ae *AccessError
		if !errors.As(err, &ae) {
			t.Fatalf("expected AccessError, got %v", err)
		}
		if got := s.GetValue("ro", nil); got != "fixed" {
			t.Errorf("read-only value mutated: %v", got)
		}
	})

	t.Run("private writable only by owner", func(t *testing.T) {
		s := New()
		mustCreate(t, s, Spec{Name: "p", Value: int64(0), Permission: PermissionPrivate, Owner: "agent-a"})
		if err := s.SetValue("p", int64(1), "agent-b"); err == nil {
			t.Fatal("expected AccessError for non-owner")
		}
		if err := s.SetValue("p", int64(1), "agent-a"); err != nil {
			t.Fatalf("owner write: %v", err)
		}
	})

	t.Run("protected accepts access list members", func(t *testing.T) {
		s := New()
		mustCreate(t, s, Spec{
			Name: "sh", Value: int64(0), Permission: PermissionProtected,
			Owner: "agent-a", AccessList: []string{"agent-b"},
		})
		if err := s.SetValue("sh", int64(1), "agent-b"); err != nil {
			t.Fatalf("access-list write: %v", err)
		}
		if err := s.SetValue("sh", int64(2), "agent-c"); err == nil {
			t.Fatal("expected AccessError for outsider")
		}
	})

	t.Run("private delete requires owner", func(t *testing.T) {
		s := New()
		mustCreate(t, s, Spec{Name: "p", Value: int64(0), Permission: PermissionPrivate, Owner: "agent-a"})
		if _, err := s.Delete("p", "agent-b"); err == nil {
			t.Fatal("expected AccessError")
		}
		deleted, err := s.Delete("p", "agent-a")
		if err != nil || !deleted {
			t.Fatalf("owner delete: deleted=%v err=%v", deleted, err)
		}
	})
}

func TestStore_Hooks(t *testing.T) {
	t.Run("hooks fire in order around a successful write", func(t *testing.T) {
		s := New()
		mustCreate(t, s, Spec{Name: "h", Value: int64(1)})
		var order []string
		s.AddChangeHook(HookPreChange, func(name string, old, newValue any, requestor string) {
			order = append(order, "pre")
			if old != int64(1) || newValue != int64(2) {
				t.Errorf("pre hook saw old=%v new=%v", old, newValue)
			}
		})
		s.AddValidationHook(func(name string, value any, requestor string) bool {
			order = append(order, "validate")
			return true
		})
		s.AddChangeHook(HookPostChange, func(name string, old, newValue any, requestor string) {
			order = append(order, "post")
		})
		if err := s.SetValue("h", int64(2), "tester"); err != nil {
			t.Fatalf("set: %v", err)
		}
		want := []string{"pre", "validate", "post"}
		if len(order) != len(want) {
			t.Fatalf("hook order %v, want %v", order, want)
		}
		for i := range want {
			if order[i] != want[i] {
				t.Errorf("hook order %v, want %v", order, want)
				break
			}
		}
	})

	t.Run("validation hook rejection aborts without change event", func(t *testing.T) {
		s := New()
		mustCreate(t, s, Spec{Name: "h", Value: int64(1)})
		s.AddValidationHook(func(name string, value any, requestor string) bool { return false })
		if err := s.SetValue("h", int64(2), "tester"); err == nil {
			t.Fatal("expected validation failure")
		}
		if n := len(s.ChangeHistory("h", 10)); n != 0 {
			t.Errorf("expected no change events, got %d", n)
		}
	})

	t.Run("post-change panic does not roll back", func(t *testing.T) {
		s := New()
		mustCreate(t, s, Spec{Name: "h", Value: int64(1)})
		s.AddChangeHook(HookPostChange, func(name string, old, newValue any, requestor string) {
			panic("hook failure")
		})
		if err := s.SetValue("h", int64(2), "tester"); err != nil {
			t.Fatalf("set: %v", err)
		}
		if got := s.GetValue("h", nil); got != int64(2) {
			t.Errorf("expected committed value 2, got %v", got)
		}
	})
}

func TestStore_ChangeHistory(t *testing.T) {
	t.Run("one event per successful mutation with old and new", func(t *testing.T) {
		s := New()
		mustCreate(t, s, Spec{Name: "c", Value: int64(0)})
		for i := int64(1); i <= 3; i++ {
			if err := s.SetValue("c", i, "tester"); err != nil {
				t.Fatalf("set: %v", err)
			}
		}
		events := s.ChangeHistory("c", 10)
		if len(events) != 3 {
			t.Fatalf("expected 3 events, got %d", len(events))
		}
		// Most recent first.
		if events[0].Old != int64(2) || events[0].New != int64(3) {
			t.Errorf("latest event old=%v new=%v", events[0].Old, events[0].New)
		}
		if events[0].ChangedBy != "tester" {
			t.Errorf("changed_by = %q", events[0].ChangedBy)
		}
	})

	t.Run("history filters by name", func(t *testing.T) {
		s := New()
		mustCreate(t, s, Spec{Name: "a", Value: int64(0)})
		mustCreate(t, s, Spec{Name: "b", Value: int64(0)})
		_ = s.SetValue("a", int64(1), "t")
		_ = s.SetValue("b", int64(1), "t")
		if n := len(s.ChangeHistory("a", 10)); n != 1 {
			t.Errorf("expected 1 event for a, got %d", n)
		}
		if n := len(s.ChangeHistory("", 10)); n != 2 {
			t.Errorf("expected 2 events total, got %d", n)
		}
	})
}

func TestStore_TTL(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s := New(WithClock(clock))
	mustCreate(t, s, Spec{Name: "tmp", Value: "v", TTL: time.Second})

	if got := s.GetValue("tmp", nil); got != "v" {
		t.Fatalf("fresh variable absent: %v", got)
	}

	now = now.Add(1100 * time.Millisecond)
	if got := s.GetValue("tmp", "gone"); got != "gone" {
		t.Errorf("expected expiry after 1.1s, got %v", got)
	}
	if err := s.SetValue("tmp", "w", "t"); err == nil {
		t.Error("expected write to expired variable to fail")
	}
}

func TestStore_Groups(t *testing.T) {
	s := New()
	mustCreate(t, s, Spec{Name: "a", Value: int64(1)})
	if _, err := s.CreateGroup("grp", "test group"); err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := s.AddToGroup("a", "grp"); err != nil {
		t.Fatalf("add to group: %v", err)
	}
	g, err := s.Group("grp")
	if err != nil || !g.Contains("a") {
		t.Fatalf("group membership: %v", err)
	}
	// Deleting the variable removes it from the group.
	if _, err := s.Delete("a", SystemRequestor); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if g.Contains("a") {
		t.Error("deleted variable still referenced by group")
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(WithPersistenceDir(dir))
	mustCreate(t, s, Spec{Name: "x", Value: int64(10), Scope: ScopeWorkflow})
	mustCreate(t, s, Spec{Name: "name", Value: "demo", Tags: []string{"meta"}})
	mustCreate(t, s, Spec{Name: "ratio", Value: 0.25, Permission: PermissionReadOnly})
	if _, err := s.CreateGroup("grp", "round trip"); err != nil {
		t.Fatalf("group: %v", err)
	}
	if err := s.AddToGroup("x", "grp"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Save("state.json"); err != nil {
		t.Fatalf("save: %v", err)
	}

	fresh := New(WithPersistenceDir(dir))
	if err := fresh.Load("state.json"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := fresh.GetValue("x", nil); got != int64(10) {
		t.Errorf("x = %v, want int64(10)", got)
	}
	if got := fresh.GetValue("name", nil); got != "demo" {
		t.Errorf("name = %v", got)
	}
	if got := fresh.GetValue("ratio", nil); got != 0.25 {
		t.Errorf("ratio = %v", got)
	}
	v, err := fresh.Get("ratio")
	if err != nil || v.Permission != PermissionReadOnly {
		t.Errorf("permission not preserved: %+v err=%v", v, err)
	}
	g, err := fresh.Group("grp")
	if err != nil || !g.Contains("x") {
		t.Errorf("group not preserved: %v", err)
	}
}

func TestStore_LoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := writeFileAtomic(path, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := New(WithPersistenceDir(dir))
	if err := s.Load("state.json"); err == nil {
		t.Fatal("expected load error for corrupt file")
	}
}

func TestStore_ExportValues(t *testing.T) {
	s := New()
	mustCreate(t, s, Spec{Name: "a", Value: int64(1)})
	mustCreate(t, s, Spec{Name: "b", Value: "two"})
	mustCreate(t, s, Spec{Name: "empty"})
	out := s.ExportValues()
	if len(out) != 2 {
		t.Fatalf("expected 2 values, got %d: %v", len(out), out)
	}
	if out["a"] != int64(1) || out["b"] != "two" {
		t.Errorf("export mismatch: %v", out)
	}
}

func mustCreate(t *testing.T, s *Store, spec Spec) *Variable {
	t.Helper()
	v, err := s.Create(spec)
	if err != nil {
		t.Fatalf("create %q: %v", spec.Name, err)
	}
	return v
}
