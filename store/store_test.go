package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wrenchchatrepo/wrenchai-sub000/execlog"
)

// indexContract exercises the Index behavior shared by all backends.
func indexContract(t *testing.T, idx Index) {
	t.Helper()
	ctx := context.Background()

	mk := func(id, name string, status execlog.Status, correlation string) *execlog.Record {
		rec := execlog.NewRecord(id, name, "playbook", "", correlation, "", nil)
		rec.Start()
		rec.LogStepStart("s1", "step", "standard", nil)
		rec.LogStepEnd("s1", "step", status != execlog.StatusFailed, nil, time.Second, "")
		rec.Complete(status != execlog.StatusFailed)
		return rec
	}

	recs := []*execlog.Record{
		mk("ex-1", "alpha build", execlog.StatusCompleted, "corr-1"),
		mk("ex-2", "alpha deploy", execlog.StatusFailed, "corr-1"),
		mk("ex-3", "beta build", execlog.StatusCompleted, ""),
	}
	for _, rec := range recs {
		if err := idx.SaveExecution(ctx, rec); err != nil {
			t.Fatalf("save %s: %v", rec.ExecutionID, err)
		}
	}

	t.Run("get round trip", func(t *testing.T) {
		rec, err := idx.GetExecution(ctx, "ex-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if rec.Name != "alpha build" || rec.Status != execlog.StatusCompleted {
			t.Errorf("record = %+v", rec)
		}
		if rec.TotalSteps != 1 {
			t.Errorf("total steps = %d", rec.TotalSteps)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		if _, err := idx.GetExecution(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("find by name", func(t *testing.T) {
		out, err := idx.FindExecutions(ctx, execlog.Query{Name: "alpha"})
		if err != nil || len(out) != 2 {
			t.Errorf("find = %v err=%v", out, err)
		}
	})

	t.Run("find by status", func(t *testing.T) {
		out, err := idx.FindExecutions(ctx, execlog.Query{Status: execlog.StatusFailed})
		if err != nil || len(out) != 1 || out[0].ExecutionID != "ex-2" {
			t.Errorf("find = %v err=%v", out, err)
		}
	})

	t.Run("find by correlation", func(t *testing.T) {
		out, err := idx.FindExecutions(ctx, execlog.Query{CorrelationID: "corr-1"})
		if err != nil || len(out) != 2 {
			t.Errorf("find = %v err=%v", out, err)
		}
	})

	t.Run("date window excludes future", func(t *testing.T) {
		out, err := idx.FindExecutions(ctx, execlog.Query{StartDate: time.Now().Add(time.Hour)})
		if err != nil || len(out) != 0 {
			t.Errorf("find = %v err=%v", out, err)
		}
	})

	t.Run("limit caps results", func(t *testing.T) {
		out, err := idx.FindExecutions(ctx, execlog.Query{Limit: 2})
		if err != nil || len(out) != 2 {
			t.Errorf("find = %v err=%v", out, err)
		}
	})

	t.Run("upsert replaces status", func(t *testing.T) {
		rec, err := idx.GetExecution(ctx, "ex-3")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		rec.Status = execlog.StatusAborted
		if err := idx.SaveExecution(ctx, rec); err != nil {
			t.Fatalf("resave: %v", err)
		}
		got, err := idx.GetExecution(ctx, "ex-3")
		if err != nil || got.Status != execlog.StatusAborted {
			t.Errorf("record = %+v err=%v", got, err)
		}
	})

	if err := idx.Ping(ctx); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func TestMemIndex(t *testing.T) {
	idx := NewMemIndex()
	defer idx.Close()
	indexContract(t, idx)
}

func TestSQLiteIndex(t *testing.T) {
	idx, err := NewSQLiteIndex(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer idx.Close()
	indexContract(t, idx)
}

// MySQL integration requires a live server and runs only when explicitly
// configured, mirroring how CI provisions it.
func TestMySQLIndex(t *testing.T) {
	dsn := mysqlTestDSN(t)
	if dsn == "" {
		t.Skip("MYSQL_TEST_DSN not set; skipping MySQL index test")
	}
	idx, err := NewMySQLIndex(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer idx.Close()
	indexContract(t, idx)
}
