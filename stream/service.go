package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/wrenchchatrepo/wrenchai-sub000/progress"
)

// StreamInfo describes one active stream in the registry.
type StreamInfo struct {
	ID        string    `json:"stream_id"`
	Format    Format    `json:"format"`
	StartedAt time.Time `json:"started_at"`
	Processed int64     `json:"processed"`
	Cancelled bool      `json:"cancelled"`
}

// Service creates streaming HTTP responses and WebSocket forwards, tracks
// active streams for introspection, and supports cooperative cancellation.
type Service struct {
	tracker *progress.Tracker

	mu      sync.Mutex
	active  map[string]*activeStream
	logger  hclog.Logger
}

type activeStream struct {
	info      StreamInfo
	processor *Processor
}

// NewService builds a Service. The tracker is optional; without it no
// progress mirroring happens.
func NewService(tracker *progress.Tracker, logger hclog.Logger) *Service {
	if logger == nil {
		logger = hclog.New(&hclog.LoggerOptions{Name: "stream"})
	}
	return &Service{
		tracker: tracker,
		active:  make(map[string]*activeStream),
		logger:  logger,
	}
}

// ResponseOption customizes one streaming response.
type ResponseOption func(*responseOptions)

type responseOptions struct {
	transform        Transform
	progressParentID string
	progressName     string
}

// WithTransform applies a per-item transform before formatting.
func WithTransform(t Transform) ResponseOption {
	return func(o *responseOptions) { o.transform = t }
}

// WithProgress mirrors the stream into the progress tracker under
// parentID.
func WithProgress(parentID, name string) ResponseOption {
	return func(o *responseOptions) {
		o.progressParentID = parentID
		o.progressName = name
	}
}

// TextResponse streams source as chunked plain text.
func (s *Service) TextResponse(w http.ResponseWriter, r *http.Request, source Source, opts ...ResponseOption) {
	s.respond(w, r, source, DefaultConfig(FormatText), opts...)
}

// JSONResponse streams source as one JSON object per line.
func (s *Service) JSONResponse(w http.ResponseWriter, r *http.Request, source Source, opts ...ResponseOption) {
	s.respond(w, r, source, DefaultConfig(FormatJSON), opts...)
}

// SSEResponse streams source as server-sent events.
func (s *Service) SSEResponse(w http.ResponseWriter, r *http.Request, source Source, opts ...ResponseOption) {
	s.respond(w, r, source, DefaultConfig(FormatSSE), opts...)
}

// BinaryResponse streams source as raw bytes.
func (s *Service) BinaryResponse(w http.ResponseWriter, r *http.Request, source Source, opts ...ResponseOption) {
	s.respond(w, r, source, DefaultConfig(FormatBinary), opts...)
}

func (s *Service) respond(w http.ResponseWriter, r *http.Request, source Source, config Config, opts ...ResponseOption) {
	var options responseOptions
	for _, opt := range opts {
		opt(&options)
	}

	var adapter *ProgressAdapter
	if s.tracker != nil && options.progressParentID != "" {
		adapter = NewProgressAdapter(s.tracker, options.progressParentID, options.progressName, progress.ItemOperation, 1)
	}
	processor := NewProcessor(config, adapter, s.logger.Named("processor"))
	id := s.register(processor, config.Format)
	defer s.unregister(id)

	for key, value := range config.Headers() {
		w.Header().Set(key, value)
	}
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	for data := range processor.Process(r.Context(), source, options.transform) {
		if _, err := w.Write(data); err != nil {
			s.logger.Warn("stream write failed", "stream_id", id, "error", err)
			processor.Cancel()
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		s.touch(id, processor)
	}
}

// WebSocketForward drains source into the socket, choosing the frame
// encoding by format: json sends each item's JSON, text sends strings,
// binary sends bytes. Errors are reported to the socket best-effort.
func (s *Service) WebSocketForward(conn *websocket.Conn, source Source, format Format) error {
	for item := range source {
		var err error
		switch format {
		case FormatJSON:
			err = conn.WriteJSON(item)
		case FormatBinary:
			switch b := item.(type) {
			case []byte:
				err = conn.WriteMessage(websocket.BinaryMessage, b)
			default:
				var data []byte
				if data, err = json.Marshal(item); err == nil {
					err = conn.WriteMessage(websocket.BinaryMessage, data)
				}
			}
		default:
			err = conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("%v", item)))
		}
		if err != nil {
			s.logger.Warn("websocket forward failed", "error", err)
			writeErr := conn.WriteJSON(map[string]any{"event": string(EventError), "error": err.Error()})
			if writeErr != nil {
				s.logger.Debug("websocket error report failed", "error", writeErr)
			}
			return err
		}
	}
	return nil
}

// TextToSSE converts a channel of text chunks into SSE frames with
// monotonically increasing event ids: a started frame, one chunk frame per
// non-empty item, and a complete frame.
func TextToSSE(source <-chan string) <-chan []byte {
	out := make(chan []byte)
	go func() {
		defer close(out)
		id := 0
		out <- []byte(fmt.Sprintf("id: %d\nevent: started\ndata: Stream started\n\n", id))
		id++
		for chunk := range source {
			if chunk == "" {
				continue
			}
			out <- []byte(fmt.Sprintf("id: %d\nevent: chunk\ndata: %s\n\n", id, chunk))
			id++
		}
		out <- []byte(fmt.Sprintf("id: %d\nevent: complete\ndata: Stream complete\n\n", id))
	}()
	return out
}

// CancelStream requests cancellation of an active stream by id.
func (s *Service) CancelStream(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.active[id]
	if !ok {
		return false
	}
	entry.processor.Cancel()
	entry.info.Cancelled = true
	return true
}

// ActiveStreams lists the registry's current streams.
func (s *Service) ActiveStreams() []StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StreamInfo, 0, len(s.active))
	for _, entry := range s.active {
		info := entry.info
		info.Processed = entry.processor.Processed()
		info.Cancelled = entry.processor.Cancelled()
		out = append(out, info)
	}
	return out
}

func (s *Service) register(p *Processor, format Format) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.active[id] = &activeStream{
		info:      StreamInfo{ID: id, Format: format, StartedAt: time.Now()},
		processor: p,
	}
	s.mu.Unlock()
	return id
}

func (s *Service) unregister(id string) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

func (s *Service) touch(id string, p *Processor) {
	s.mu.Lock()
	if entry, ok := s.active[id]; ok {
		entry.info.Processed = p.Processed()
	}
	s.mu.Unlock()
}
