package journal

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"event-api/domain"
)

// Record is one published event awaiting delivery to a sink.
type Record struct {
	ID        uuid.UUID
	Topic     string
	Type      domain.EventType
	Frame     []byte
	Timestamp time.Time

	// Traceparent and Tracestate carry the publishing span across the buffer.
	Traceparent string
	Tracestate  string

	Attempt int
	LastErr string
}

func newRecord(ctx context.Context, topic string, ev domain.Event, frame []byte) *Record {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return &Record{
		ID:          uuid.New(),
		Topic:       topic,
		Type:        ev.Type(),
		Frame:       append([]byte(nil), frame...),
		Timestamp:   time.Now().UTC(),
		Traceparent: carrier["traceparent"],
		Tracestate:  carrier["tracestate"],
	}
}

// TraceContext restores the publishing span context onto ctx.
func (r *Record) TraceContext(ctx context.Context) context.Context {
	if r.Traceparent == "" && r.Tracestate == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{
		"traceparent": r.Traceparent,
		"tracestate":  r.Tracestate,
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

type envelope struct {
	ID        string                 `json:"id"`
	Topic     string                 `json:"topic"`
	Type      domain.EventType       `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Event     sonic.NoCopyRawMessage `json:"event"`
}

// Envelope is the JSON document shipped to sinks. The broadcast frame is
// embedded unchanged under "event".
func (r *Record) Envelope() ([]byte, error) {
	return sonic.ConfigStd.Marshal(envelope{
		ID:        r.ID.String(),
		Topic:     r.Topic,
		Type:      r.Type,
		Timestamp: r.Timestamp,
		Event:     sonic.NoCopyRawMessage(r.Frame),
	})
}
