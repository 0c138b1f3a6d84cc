package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenchchatrepo/wrenchai-sub000/execlog"
	"github.com/wrenchchatrepo/wrenchai-sub000/progress"
	"github.com/wrenchchatrepo/wrenchai-sub000/workflow"
)

func okRunner() Runner {
	return RunnerFunc(func(ctx context.Context, req RunRequest) (*workflow.Result, error) {
		return &workflow.Result{
			WorkflowID: "wf-test",
			Status:     workflow.StatusComplete,
			Output:     "done: " + req.Name,
		}, nil
	})
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func getJSON(t *testing.T, handler http.Handler, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func TestServer_Execute(t *testing.T) {
	t.Run("accepts and eventually completes", func(t *testing.T) {
		s := New(okRunner(), nil, nil, nil, nil)
		handler := s.Routes()

		rec := postJSON(t, handler, "/api/playbooks/execute", RunRequest{
			Name:    "portfolio",
			Project: Project{Name: "demo", Branch: "main"},
		})
		require.Equal(t, http.StatusAccepted, rec.Code)

		var accepted struct {
			Success bool   `json:"success"`
			TaskID  string `json:"task_id"`
			Status  string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
		assert.True(t, accepted.Success)
		require.NotEmpty(t, accepted.TaskID)

		deadline := time.After(2 * time.Second)
		for {
			var status struct {
				Status string           `json:"status"`
				Result *workflow.Result `json:"result"`
			}
			getJSON(t, handler, "/api/playbooks/status/"+accepted.TaskID, &status)
			if status.Status == string(TaskCompleted) {
				require.NotNil(t, status.Result)
				assert.Equal(t, "done: portfolio", status.Result.Output)
				break
			}
			select {
			case <-deadline:
				t.Fatalf("task never completed: %v", status.Status)
			case <-time.After(5 * time.Millisecond):
			}
		}
	})

	t.Run("failing runner marks the task failed", func(t *testing.T) {
		s := New(RunnerFunc(func(ctx context.Context, req RunRequest) (*workflow.Result, error) {
			return nil, errors.New("playbook exploded")
		}), nil, nil, nil, nil)
		handler := s.Routes()

		rec := postJSON(t, handler, "/api/playbooks/execute", RunRequest{Name: "bad"})
		require.Equal(t, http.StatusAccepted, rec.Code)
		var accepted struct {
			TaskID string `json:"task_id"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))

		deadline := time.After(2 * time.Second)
		for {
			var status struct {
				Status  string `json:"status"`
				Message string `json:"message"`
			}
			getJSON(t, handler, "/api/playbooks/status/"+accepted.TaskID, &status)
			if status.Status == string(TaskFailed) {
				assert.Contains(t, status.Message, "exploded")
				break
			}
			select {
			case <-deadline:
				t.Fatal("task never failed")
			case <-time.After(5 * time.Millisecond):
			}
		}
	})

	t.Run("missing name rejected", func(t *testing.T) {
		s := New(okRunner(), nil, nil, nil, nil)
		rec := postJSON(t, s.Routes(), "/api/playbooks/execute", RunRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body rejected", func(t *testing.T) {
		s := New(okRunner(), nil, nil, nil, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/playbooks/execute",
			strings.NewReader("{not json"))
		rec := httptest.NewRecorder()
		s.Routes().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown task status is 404", func(t *testing.T) {
		s := New(okRunner(), nil, nil, nil, nil)
		rec := getJSON(t, s.Routes(), "/api/playbooks/status/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServer_LogsEndpoints(t *testing.T) {
	logs := execlog.NewLogger(t.TempDir())
	id := logs.CreateExecution("indexed run", "playbook", "", "", "", nil)
	logs.StartExecution(id)
	logs.LogStepStart(id, "s1", "step", "standard", nil)
	logs.LogStepEnd(id, "s1", "step", true, nil, time.Second, "")
	logs.CompleteExecution(id, true)

	s := New(okRunner(), logs, nil, nil, nil)
	handler := s.Routes()

	t.Run("logs by execution id", func(t *testing.T) {
		var resp struct {
			Execution execlog.Record  `json:"execution"`
			Metrics   execlog.Metrics `json:"metrics"`
		}
		rec := getJSON(t, handler, "/api/playbooks/logs/"+id, &resp)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, id, resp.Execution.ExecutionID)
		assert.Equal(t, 1, resp.Metrics.TotalExecutions)
	})

	t.Run("unknown execution is 404", func(t *testing.T) {
		rec := getJSON(t, handler, "/api/playbooks/logs/unknown", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("recent executions with filters", func(t *testing.T) {
		var summaries []execlog.Summary
		rec := getJSON(t, handler, "/api/playbooks/recent_executions?limit=5&status=completed", &summaries)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, summaries, 1)
		assert.Equal(t, "indexed run", summaries[0].Name)
	})
}

func TestServer_ProgressWebSocket(t *testing.T) {
	tracker := progress.NewTracker()
	s := New(okRunner(), nil, tracker, nil, nil)
	// Wire the hub in as the tracker's broadcaster, as the app does.
	tracker.SetBroadcaster(s.Hub())

	ts := httptest.NewServer(s.Routes())
	defer ts.Close()

	wf := tracker.CreateWorkflow("observed", "", 100, "wf-ws")
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/progress/client-1?workflow_id=" + wf
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the registration a moment, then produce an update and flush.
	time.Sleep(20 * time.Millisecond)
	tracker.StartItem(wf)
	tracker.UpdateProgress(wf, 42)
	tracker.Flush()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var update progress.Update
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, "progress_update", update.Type)
	assert.Equal(t, "client-1", update.ClientID)
	assert.Equal(t, "wf-ws", update.WorkflowID)
	assert.Equal(t, 42.0, update.Progress)
}

func TestServer_Health(t *testing.T) {
	s := New(okRunner(), nil, nil, nil, nil)
	rec := getJSON(t, s.Routes(), "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
