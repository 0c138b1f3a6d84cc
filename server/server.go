// Package server exposes the runtime over HTTP: the playbook execution
// API, execution-log queries, streaming endpoints, the WebSocket progress
// feed, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wrenchchatrepo/wrenchai-sub000/execlog"
	"github.com/wrenchchatrepo/wrenchai-sub000/progress"
	"github.com/wrenchchatrepo/wrenchai-sub000/stream"
	"github.com/wrenchchatrepo/wrenchai-sub000/workflow"
)

// Project identifies the repository a playbook run targets.
type Project struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	RepositoryURL string `json:"repository_url,omitempty"`
	Branch        string `json:"branch"`
}

// RunRequest is the execute-endpoint payload.
type RunRequest struct {
	Name       string         `json:"name"`
	Project    Project        `json:"project"`
	Parameters map[string]any `json:"parameters"`
	Agents     []string       `json:"agents"`
}

// Runner executes a named playbook run and returns its workflow result.
// The server drives runners asynchronously, one goroutine per accepted
// task.
type Runner interface {
	Run(ctx context.Context, req RunRequest) (*workflow.Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, req RunRequest) (*workflow.Result, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, req RunRequest) (*workflow.Result, error) {
	return f(ctx, req)
}

// TaskStatus is the lifecycle of an accepted run.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

type task struct {
	ID          string
	Status      TaskStatus
	Message     string
	Result      *workflow.Result
	ExecutionID string
}

// Server is the HTTP surface of the runtime.
type Server struct {
	runner  Runner
	logs    *execlog.Logger
	tracker *progress.Tracker
	streams *stream.Service
	hub     *Hub

	mu    sync.Mutex
	tasks map[string]*task

	logger hclog.Logger
}

// New builds a Server. All collaborators except the runner are optional;
// endpoints needing a missing collaborator answer 503.
func New(runner Runner, logs *execlog.Logger, tracker *progress.Tracker, streams *stream.Service, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.New(&hclog.LoggerOptions{Name: "server"})
	}
	s := &Server{
		runner:  runner,
		logs:    logs,
		tracker: tracker,
		streams: streams,
		tasks:   make(map[string]*task),
		logger:  logger,
	}
	if tracker != nil {
		s.hub = NewHub(tracker, logger.Named("hub"))
	}
	return s
}

// Hub returns the WebSocket progress hub (nil without a tracker).
func (s *Server) Hub() *Hub { return s.hub }

// Routes assembles the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api/playbooks", func(r chi.Router) {
		r.Post("/execute", s.handleExecute)
		r.Get("/status/{taskID}", s.handleStatus)
		r.Get("/logs/{executionID}", s.handleLogs)
		r.Get("/recent_executions", s.handleRecentExecutions)
	})
	r.Route("/api/streams", func(r chi.Router) {
		r.Get("/", s.handleActiveStreams)
		r.Delete("/{streamID}", s.handleCancelStream)
	})
	if s.hub != nil {
		r.Get("/ws/progress/{sessionID}", s.hub.handleWS)
	}
	r.Get("/api/progress/summary", s.handleProgressSummary)
	r.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	return r
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"success": false, "message": "no runner configured",
		})
		return
	}
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false, "message": "invalid request body: " + err.Error(),
		})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false, "message": "playbook name is required",
		})
		return
	}

	t := &task{ID: uuid.NewString(), Status: TaskPending, Message: "queued"}
	s.mu.Lock()
	s.tasks[t.ID] = t
	s.mu.Unlock()

	go s.runTask(t.ID, req)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"task_id": t.ID,
		"status":  string(TaskPending),
		"message": "playbook execution accepted",
	})
}

func (s *Server) runTask(taskID string, req RunRequest) {
	s.setTask(taskID, func(t *task) {
		t.Status = TaskRunning
		t.Message = "executing playbook " + req.Name
	})
	result, err := s.runner.Run(context.Background(), req)
	if err != nil {
		s.logger.Error("playbook run failed", "task_id", taskID, "playbook", req.Name, "error", err)
		s.setTask(taskID, func(t *task) {
			t.Status = TaskFailed
			t.Message = err.Error()
			t.Result = result
			if result != nil {
				t.ExecutionID = result.ExecutionID
			}
		})
		return
	}
	s.setTask(taskID, func(t *task) {
		t.Status = TaskCompleted
		t.Message = "playbook execution completed"
		t.Result = result
		t.ExecutionID = result.ExecutionID
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"status": "not_found", "message": "unknown task " + taskID,
		})
		return
	}
	resp := map[string]any{
		"status":  string(t.Status),
		"message": t.Message,
	}
	if t.Result != nil {
		resp["result"] = t.Result
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"message": "execution logging disabled"})
		return
	}
	executionID := chi.URLParam(r, "executionID")
	rec, err := s.logs.Execution(executionID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": err.Error()})
		return
	}
	metrics, err := s.logs.Handler().AggregateMetrics(rec.StartTime, rec.StartTime.AddDate(0, 0, 1), rec.Type)
	if err != nil {
		s.logger.Warn("metrics aggregation failed", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"execution": rec,
		"metrics":   metrics,
	})
}

func (s *Server) handleRecentExecutions(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"message": "execution logging disabled"})
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	q := execlog.Query{Limit: limit}
	if status := r.URL.Query().Get("status"); status != "" {
		q.Status = execlog.Status(status)
	}
	summaries, err := s.logs.Handler().Find(q)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleActiveStreams(w http.ResponseWriter, r *http.Request) {
	if s.streams == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"message": "streaming disabled"})
		return
	}
	writeJSON(w, http.StatusOK, s.streams.ActiveStreams())
}

func (s *Server) handleCancelStream(w http.ResponseWriter, r *http.Request) {
	if s.streams == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"message": "streaming disabled"})
		return
	}
	streamID := chi.URLParam(r, "streamID")
	if !s.streams.CancelStream(streamID) {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "unknown stream " + streamID})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
}

func (s *Server) handleProgressSummary(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"message": "progress tracking disabled"})
		return
	}
	writeJSON(w, http.StatusOK, s.tracker.Overall())
}

func (s *Server) setTask(taskID string, update func(*task)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[taskID]; ok {
		update(t)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Too late for an error status; the connection is what it is.
		return
	}
}
