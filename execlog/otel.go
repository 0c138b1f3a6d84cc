package execlog

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EventSink consumes execution events as they are logged. Sinks must be
// non-blocking and must not panic; failures are the sink's problem.
type EventSink interface {
	Consume(executionID string, ev Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(executionID string, ev Event)

// Consume implements EventSink.
func (f SinkFunc) Consume(executionID string, ev Event) { f(executionID, ev) }

// OTelSink turns execution events into OpenTelemetry spans. Each event
// becomes an immediately-ended span named after its step type, carrying the
// execution id, level, and message as attributes plus flattened event data.
// Error-level events set the span status to error.
type OTelSink struct {
	tracer trace.Tracer
}

// NewOTelSink builds a sink over the given tracer (e.g.
// otel.Tracer("wrenchai")).
func NewOTelSink(tracer trace.Tracer) *OTelSink {
	return &OTelSink{tracer: tracer}
}

// Consume implements EventSink.
func (o *OTelSink) Consume(executionID string, ev Event) {
	_, span := o.tracer.Start(context.Background(), string(ev.StepType),
		trace.WithTimestamp(ev.Timestamp))
	defer span.End()

	span.SetAttributes(
		attribute.String("execution_id", executionID),
		attribute.String("level", string(ev.Level)),
		attribute.String("message", ev.Message),
	)
	for key, value := range ev.Data {
		span.SetAttributes(anyAttribute("data."+key, value))
	}
	if ev.Level == LevelError || ev.Level == LevelCritical {
		span.SetStatus(codes.Error, ev.Message)
		span.RecordError(fmt.Errorf("%s", ev.Message))
	}
}

// anyAttribute converts an arbitrary value to a span attribute, falling
// back to its string rendering.
func anyAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
