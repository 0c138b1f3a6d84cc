package stream

import (
	"context"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
)

// Source is a pull-based stream of items, closed by the producer when
// exhausted.
type Source <-chan any

// Transform optionally rewrites a source item before formatting. Returning
// a Chunk passes it through as-is; any other value becomes the chunk's
// delta.
type Transform func(item any) any

// Processor consumes a Source, applies the optional transform, and yields
// the formatted bytes of a started event, each chunk, and a final complete
// (or error) event.
//
// Cancellation is a flag observed between items: Cancel (or the registry's
// CancelStream) stops the stream at the next item boundary with a
// cancelled event.
type Processor struct {
	config    Config
	progress  *ProgressAdapter
	cancelled atomic.Bool

	processed int64
	started   atomic.Bool
	completed atomic.Bool
	errMsg    atomic.Value

	logger hclog.Logger
}

// NewProcessor builds a Processor for the config. The progress adapter is
// optional.
func NewProcessor(config Config, progress *ProgressAdapter, logger hclog.Logger) *Processor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Processor{config: config, progress: progress, logger: logger}
}

// Cancel requests cooperative cancellation; the processor stops before the
// next item.
func (p *Processor) Cancel() { p.cancelled.Store(true) }

// Cancelled reports whether cancellation was requested.
func (p *Processor) Cancelled() bool { return p.cancelled.Load() }

// Processed reports how many items have been emitted so far.
func (p *Processor) Processed() int64 { return atomic.LoadInt64(&p.processed) }

// Completed reports whether the stream finished normally.
func (p *Processor) Completed() bool { return p.completed.Load() }

// Process drains source into the returned channel of formatted byte
// slices. The channel closes after the terminal event. Errors from
// formatting fail the stream with an error event; the progress adapter is
// completed or failed accordingly.
func (p *Processor) Process(ctx context.Context, source Source, transform Transform) <-chan []byte {
	out := make(chan []byte)
	go func() {
		defer close(out)
		p.started.Store(true)
		if p.progress != nil {
			p.progress.Start()
		}
		if !p.emit(ctx, out, Chunk{Event: EventStarted}) {
			return
		}

		for {
			if p.cancelled.Load() {
				p.emit(ctx, out, Chunk{Event: EventCancelled})
				if p.progress != nil {
					p.progress.Fail("stream cancelled")
				}
				return
			}
			var item any
			var ok bool
			select {
			case <-ctx.Done():
				p.failStream(ctx, out, ctx.Err().Error())
				return
			case item, ok = <-source:
			}
			if !ok {
				break
			}

			chunk := p.toChunk(item, transform)
			if chunk.Progress != nil && p.progress != nil {
				p.progress.Update(*chunk.Progress)
			}
			if !p.emit(ctx, out, chunk) {
				return
			}
			atomic.AddInt64(&p.processed, 1)
		}

		p.completed.Store(true)
		if p.progress != nil {
			p.progress.Complete()
		}
		p.emit(ctx, out, Chunk{Event: EventComplete})
	}()
	return out
}

func (p *Processor) toChunk(item any, transform Transform) Chunk {
	if transform != nil {
		item = transform(item)
	}
	if chunk, ok := item.(Chunk); ok {
		return chunk
	}
	return NewChunk(item)
}

// emit formats and delivers one chunk; false means the consumer is gone or
// formatting failed terminally.
func (p *Processor) emit(ctx context.Context, out chan<- []byte, chunk Chunk) bool {
	data, err := p.format(chunk)
	if err != nil {
		p.logger.Error("stream chunk formatting failed", "error", err)
		p.failStream(ctx, out, err.Error())
		return false
	}
	select {
	case out <- data:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Processor) failStream(ctx context.Context, out chan<- []byte, msg string) {
	p.errMsg.Store(msg)
	if p.progress != nil {
		p.progress.Fail(msg)
	}
	errChunk := Chunk{Event: EventError, Error: msg}
	if data, err := p.format(errChunk); err == nil {
		select {
		case out <- data:
		case <-ctx.Done():
		}
	}
}

// format renders a chunk for the configured format.
func (p *Processor) format(chunk Chunk) ([]byte, error) {
	switch p.config.Format {
	case FormatText:
		return []byte(chunk.String()), nil
	case FormatJSON:
		data, err := chunk.JSON()
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case FormatSSE:
		return chunk.SSE()
	case FormatBinary:
		if b, ok := chunk.Delta.([]byte); ok {
			return b, nil
		}
		if s, ok := chunk.Delta.(string); ok {
			return []byte(s), nil
		}
		// Non-binary items fall back to their JSON encoding as bytes.
		return chunk.JSON()
	default:
		return []byte(chunk.String()), nil
	}
}
