package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"event-api/domain"
	"event-api/internal/consts"
)

const (
	tracerName          = "event-api/api"
	commandSpanName     = "users.command"
	commandEventName    = "users.command"
	commandEventDomain  = "event-api"
	observabilityEvent  = "observability.event"
	commandAttrPrefix   = "users.command."
	severityInfoNumber  = 9
	severityWarnNumber  = 13
	severityErrorNumber = 17
)

// commandMetrics records one inbound command envelope as a span plus a
// structured log entry.
type commandMetrics struct {
	logger      *log.Logger
	span        trace.Span
	start       time.Time
	sessionID   string
	commandType string
	eventType   string
	eventError  string
	queued      int
	errorStage  string
}

func newCommandMetrics(ctx context.Context, logger *log.Logger, sessionID string) (*commandMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, commandSpanName, trace.WithSpanKind(trace.SpanKindServer))
	return &commandMetrics{
		logger:    logger,
		span:      span,
		start:     time.Now(),
		sessionID: sessionID,
	}, ctx
}

func (m *commandMetrics) SetCommand(t domain.CommandType) {
	m.commandType = string(t)
}

func (m *commandMetrics) SetEvent(ev domain.Event) {
	if ev == nil {
		return
	}
	m.eventType = string(ev.Type())
	if e, ok := ev.(domain.ErrorEvent); ok {
		m.eventError = e.Message
	}
}

func (m *commandMetrics) SetQueued(n int) {
	if n < 0 {
		n = 0
	}
	m.queued = n
}

func (m *commandMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log ends the span. status is the HTTP-style code of the resulting event.
func (m *commandMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	defer m.span.End()

	attrs := []attribute.KeyValue{
		attribute.String("ws.route", consts.WebSocketPath),
		attribute.String("session.id", m.sessionID),
		attribute.Int("status_code", status),
		attribute.Float64(commandAttrPrefix+"total_ms", durationToMillis(time.Since(m.start))),
		attribute.Int(commandAttrPrefix+"queued", m.queued),
	}
	if m.commandType != "" {
		attrs = append(attrs, attribute.String(commandAttrPrefix+"type", m.commandType))
	}
	if m.eventType != "" {
		attrs = append(attrs, attribute.String(commandAttrPrefix+"event", m.eventType))
	}
	if m.eventError != "" {
		attrs = append(attrs, attribute.String(commandAttrPrefix+"error", m.eventError))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String(commandAttrPrefix+"error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	severityText, severityNumber := severityForStatus(status, err)
	m.span.SetAttributes(attrs...)

	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", commandEventName),
		attribute.String("event.domain", commandEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	}, attrs...)
	m.span.AddEvent(observabilityEvent, trace.WithAttributes(eventAttrs...))

	switch {
	case err != nil:
		m.span.SetStatus(codes.Error, err.Error())
	case status >= http.StatusInternalServerError:
		m.span.SetStatus(codes.Error, m.eventError)
	default:
		m.span.SetStatus(codes.Ok, "")
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      commandEventName,
		"event.domain":    commandEventDomain,
		"attributes":      attributesToMap(attrs),
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if sc := m.span.SpanContext(); sc.IsValid() {
		fields["trace_id"] = sc.TraceID().String()
		fields["span_id"] = sc.SpanID().String()
	}
	entry := m.logger.WithFields(fields)
	switch severityNumber {
	case severityErrorNumber:
		entry.Error(observabilityEvent)
	case severityWarnNumber:
		entry.Warn(observabilityEvent)
	default:
		entry.Info(observabilityEvent)
	}
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError:
		return "ERROR", severityErrorNumber
	case status >= http.StatusBadRequest:
		return "WARN", severityWarnNumber
	case err != nil:
		return "ERROR", severityErrorNumber
	default:
		return "INFO", severityInfoNumber
	}
}

// statusForEvent maps an event to the code reported in metrics.
func statusForEvent(ev domain.Event) int {
	if e, ok := ev.(domain.ErrorEvent); ok && e.Code > 0 {
		return e.Code
	}
	return http.StatusOK
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
