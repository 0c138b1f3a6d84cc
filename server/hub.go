package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/wrenchchatrepo/wrenchai-sub000/progress"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub maintains the WebSocket sessions progress updates are pushed to. It
// implements progress.Broadcaster: the tracker's broadcast loop addresses
// messages to session ids registered here.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]*websocket.Conn

	tracker *progress.Tracker
	logger  hclog.Logger
}

// NewHub builds a Hub over the progress tracker.
func NewHub(tracker *progress.Tracker, logger hclog.Logger) *Hub {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Hub{
		sessions: make(map[string]*websocket.Conn),
		tracker:  tracker,
		logger:   logger,
	}
}

// Send implements progress.Broadcaster. Unknown sessions return an error;
// the tracker logs and skips them.
func (h *Hub) Send(_ context.Context, sessionID string, update progress.Update) error {
	h.mu.Lock()
	conn, ok := h.sessions[sessionID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %q not connected", sessionID)
	}
	if err := conn.WriteJSON(update); err != nil {
		h.remove(sessionID)
		return err
	}
	return nil
}

// handleWS upgrades the connection, registers the session against the
// requested workflow, and holds the connection open until the client goes
// away.
func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	workflowID := r.URL.Query().Get("workflow_id")
	if sessionID == "" || workflowID == "" {
		http.Error(w, "session id and workflow_id required", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	h.mu.Lock()
	h.sessions[sessionID] = conn
	h.mu.Unlock()
	h.tracker.RegisterSession(sessionID, workflowID)
	h.logger.Info("progress session connected", "session_id", sessionID, "workflow_id", workflowID)

	// Read loop: discard client messages, detect disconnect.
	go func() {
		defer h.remove(sessionID)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) remove(sessionID string) {
	h.mu.Lock()
	conn, ok := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	h.mu.Unlock()
	if ok {
		conn.Close()
		h.tracker.UnregisterSession(sessionID)
		h.logger.Info("progress session disconnected", "session_id", sessionID)
	}
}

// Sessions returns the ids of the connected sessions.
func (h *Hub) Sessions() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		out = append(out, id)
	}
	return out
}
