package publish

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OTelPublisher turns each event into a zero-duration OpenTelemetry
// span, adapted from the teacher's emit.OTelEmitter (graph/emit/otel.go):
// span name is the event type, attributes carry run id and a JSON
// rendering of the payload.
type OTelPublisher struct {
	tracer trace.Tracer
}

// NewOTelPublisher wraps an OpenTelemetry tracer, typically obtained via
// otel.Tracer("orchestra").
func NewOTelPublisher(tracer trace.Tracer) *OTelPublisher {
	return &OTelPublisher{tracer: tracer}
}

func (o *OTelPublisher) Publish(ctx context.Context, runID string, event Event) error {
	_, span := o.tracer.Start(ctx, string(event.Type))
	defer span.End()

	span.SetAttributes(
		attribute.String("orchestra.run_id", runID),
		attribute.String("orchestra.event_type", string(event.Type)),
	)
	if b, err := json.Marshal(event.Payload); err == nil {
		span.SetAttributes(attribute.String("orchestra.payload", string(b)))
	}
	return nil
}

func (o *OTelPublisher) Flush(ctx context.Context) error {
	tp := otel.GetTracerProvider()
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := tp.(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}
