// Package stream delivers workflow output to clients as text, JSON-lines,
// SSE, binary, or WebSocket streams, with progress mirroring and a registry
// for introspecting and cancelling active streams.
package stream

import (
	"encoding/json"
	"fmt"
)

// Format of a streaming response.
type Format string

const (
	FormatText   Format = "text"
	FormatJSON   Format = "json"
	FormatBinary Format = "binary"
	FormatSSE    Format = "sse"
)

// Event classifies a chunk within a stream's lifecycle.
type Event string

const (
	EventStarted   Event = "started"
	EventProgress  Event = "progress"
	EventChunk     Event = "chunk"
	EventError     Event = "error"
	EventComplete  Event = "complete"
	EventCancelled Event = "cancelled"
)

// Chunk is one unit emitted by a streaming response: an incremental delta,
// optional cumulative data, the event tag, optional progress, and metadata.
type Chunk struct {
	Delta    any            `json:"delta,omitempty"`
	Data     any            `json:"data,omitempty"`
	Event    Event          `json:"event"`
	Progress *float64       `json:"progress,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// NewChunk wraps a delta value in a chunk-event Chunk.
func NewChunk(delta any) Chunk {
	return Chunk{Delta: delta, Event: EventChunk}
}

// WithProgress attaches a progress percentage to the chunk.
func (c Chunk) WithProgress(percent float64) Chunk {
	c.Progress = &percent
	return c
}

// JSON renders the chunk as a single-line JSON object.
func (c Chunk) JSON() ([]byte, error) {
	return json.Marshal(c)
}

// SSE renders the chunk as one server-sent event:
//
//	event: <name>
//	data: <json>
//
// followed by a blank line.
func (c Chunk) SSE() ([]byte, error) {
	data, err := c.JSON()
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", c.Event, data)), nil
}

// String renders the chunk for text streams: the delta when it is a
// string, else the data when it is a string, otherwise its JSON form.
func (c Chunk) String() string {
	if s, ok := c.Delta.(string); ok {
		return s
	}
	if s, ok := c.Data.(string); ok {
		return s
	}
	data, err := c.JSON()
	if err != nil {
		return ""
	}
	return string(data)
}
