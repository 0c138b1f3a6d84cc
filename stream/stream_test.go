package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenchchatrepo/wrenchai-sub000/progress"
)

func sourceOf(items ...any) Source {
	ch := make(chan any, len(items))
	for _, item := range items {
		ch <- item
	}
	close(ch)
	return ch
}

func TestProcessor_SSE(t *testing.T) {
	p := NewProcessor(DefaultConfig(FormatSSE), nil, nil)
	var frames []string
	for data := range p.Process(context.Background(), sourceOf("a", "b", "c"), nil) {
		frames = append(frames, string(data))
	}

	require.Len(t, frames, 5)
	wantEvents := []Event{EventStarted, EventChunk, EventChunk, EventChunk, EventComplete}
	for i, frame := range frames {
		assert.True(t, strings.HasPrefix(frame, "event: "+string(wantEvents[i])+"\n"),
			"frame %d = %q", i, frame)
		// Every data: line is valid JSON.
		for _, line := range strings.Split(frame, "\n") {
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var chunk map[string]any
				assert.NoError(t, json.Unmarshal([]byte(data), &chunk), "frame %d data", i)
			}
		}
	}
	assert.True(t, p.Completed())
	assert.EqualValues(t, 3, p.Processed())
}

func TestProcessor_Formats(t *testing.T) {
	t.Run("text passes deltas through raw", func(t *testing.T) {
		p := NewProcessor(DefaultConfig(FormatText), nil, nil)
		var buf bytes.Buffer
		for data := range p.Process(context.Background(), sourceOf("hello ", "world"), nil) {
			buf.Write(data)
		}
		assert.Contains(t, buf.String(), "hello world")
	})

	t.Run("json emits one object per line", func(t *testing.T) {
		p := NewProcessor(DefaultConfig(FormatJSON), nil, nil)
		var buf bytes.Buffer
		for data := range p.Process(context.Background(), sourceOf("x", "y"), nil) {
			buf.Write(data)
		}
		scanner := bufio.NewScanner(&buf)
		lines := 0
		for scanner.Scan() {
			var obj map[string]any
			require.NoError(t, json.Unmarshal(scanner.Bytes(), &obj), "line %d", lines)
			lines++
		}
		assert.Equal(t, 4, lines) // started, 2 chunks, complete
	})

	t.Run("binary falls back to JSON bytes for non-binary items", func(t *testing.T) {
		p := NewProcessor(DefaultConfig(FormatBinary), nil, nil)
		var outputs [][]byte
		for data := range p.Process(context.Background(),
			sourceOf([]byte{0x01, 0x02}, map[string]any{"k": "v"}), nil) {
			outputs = append(outputs, data)
		}
		require.Len(t, outputs, 4)
		assert.Equal(t, []byte{0x01, 0x02}, outputs[1])
		var obj map[string]any
		assert.NoError(t, json.Unmarshal(outputs[2], &obj))
	})
}

func TestProcessor_TransformAndCancel(t *testing.T) {
	t.Run("transform may return chunks with progress", func(t *testing.T) {
		tracker := progress.NewTracker()
		wf := tracker.CreateWorkflow("w", "", 100, "")
		adapter := NewProgressAdapter(tracker, wf, "stream-op", progress.ItemOperation, 1)
		p := NewProcessor(DefaultConfig(FormatJSON), adapter, nil)

		transform := func(item any) any {
			return NewChunk(item).WithProgress(50)
		}
		for range p.Process(context.Background(), sourceOf("only"), transform) {
		}
		item, ok := tracker.Item(adapter.Start())
		require.True(t, ok)
		// Complete() fires after the source drains.
		assert.Equal(t, progress.StatusCompleted, item.Status)
	})

	t.Run("cancellation observed between items", func(t *testing.T) {
		src := make(chan any, 2)
		src <- "first"
		p := NewProcessor(DefaultConfig(FormatJSON), nil, nil)
		out := p.Process(context.Background(), src, nil)

		<-out // started
		<-out // first chunk
		p.Cancel()
		src <- "maybe-dropped"
		close(src)

		var sawCancelled, sawComplete bool
		for data := range out {
			if strings.Contains(string(data), string(EventCancelled)) {
				sawCancelled = true
			}
			if strings.Contains(string(data), string(EventComplete)) {
				sawComplete = true
			}
		}
		assert.True(t, sawCancelled)
		assert.False(t, sawComplete)
	})

	t.Run("failed stream marks the progress item failed", func(t *testing.T) {
		tracker := progress.NewTracker()
		wf := tracker.CreateWorkflow("w", "", 100, "")
		adapter := NewProgressAdapter(tracker, wf, "stream-op", progress.ItemOperation, 1)
		p := NewProcessor(DefaultConfig(FormatJSON), adapter, nil)

		ctx, cancel := context.WithCancel(context.Background())
		src := make(chan any)
		out := p.Process(ctx, src, nil)
		<-out // started
		cancel()
		for range out {
		}
		item, _ := tracker.Item(adapter.Start())
		assert.Equal(t, progress.StatusFailed, item.Status)
	})
}

func TestTextToSSE(t *testing.T) {
	src := make(chan string, 3)
	src <- "one"
	src <- "" // dropped
	src <- "two"
	close(src)

	var frames []string
	for data := range TextToSSE(src) {
		frames = append(frames, string(data))
	}
	require.Len(t, frames, 4)
	assert.Contains(t, frames[0], "id: 0")
	assert.Contains(t, frames[0], "event: started")
	assert.Contains(t, frames[1], "id: 1")
	assert.Contains(t, frames[1], "data: one")
	assert.Contains(t, frames[2], "id: 2")
	assert.Contains(t, frames[3], "event: complete")
}

func TestService_Responses(t *testing.T) {
	t.Run("sse response has the right headers and event order", func(t *testing.T) {
		svc := NewService(nil, nil)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/stream", nil)

		svc.SSEResponse(rec, req, sourceOf("a", "b", "c"))

		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
		assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
		body := rec.Body.String()
		idx := -1
		for _, marker := range []string{"event: started", "event: chunk", "event: complete"} {
			next := strings.Index(body, marker)
			require.Greater(t, next, idx, "marker %q out of order", marker)
			idx = next
		}
		assert.Equal(t, 3, strings.Count(body, "event: chunk"))
	})

	t.Run("text response content type", func(t *testing.T) {
		svc := NewService(nil, nil)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/stream", nil)
		svc.TextResponse(rec, req, sourceOf("plain"))
		assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Body.String(), "plain")
	})

	t.Run("registry empties after the response finishes", func(t *testing.T) {
		svc := NewService(nil, nil)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/stream", nil)
		svc.JSONResponse(rec, req, sourceOf(1, 2))
		assert.Empty(t, svc.ActiveStreams())
	})

	t.Run("cancel stream by id", func(t *testing.T) {
		svc := NewService(nil, nil)
		p := NewProcessor(DefaultConfig(FormatJSON), nil, nil)
		id := svc.register(p, FormatJSON)
		defer svc.unregister(id)

		require.True(t, svc.CancelStream(id))
		assert.True(t, p.Cancelled())
		infos := svc.ActiveStreams()
		require.Len(t, infos, 1)
		assert.True(t, infos[0].Cancelled)
		assert.False(t, svc.CancelStream("missing"))
	})
}
