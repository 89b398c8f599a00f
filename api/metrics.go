package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "todo-api/api"
	requestSpanName    = "todos.request"
	requestEventName   = "todos.request.completed"
	requestEventDomain = "todo-api"
	observabilityEvent = "observability.event"
)

type requestMetrics struct {
	logger        *log.Logger
	span          trace.Span
	route         string
	method        string
	requestID     string
	start         time.Time
	storeDuration time.Duration
	filter        *bool
	itemsReturned int
	itemsAffected int64
	todoID        int64
	errorStage    string
}

// newRequestMetrics starts the request span and swaps the request context so
// storage calls made by the handler become children of it.
func newRequestMetrics(c echo.Context, route string, logger *log.Logger) *requestMetrics {
	req := c.Request()
	ctx, span := otel.Tracer(tracerName).Start(req.Context(), requestSpanName, trace.WithSpanKind(trace.SpanKindServer))
	c.SetRequest(req.WithContext(ctx))

	requestID := c.Response().Header().Get(echo.HeaderXRequestID)
	if requestID == "" {
		requestID = req.Header.Get(echo.HeaderXRequestID)
	}

	return &requestMetrics{
		logger:        logger,
		span:          span,
		route:         route,
		method:        req.Method,
		requestID:     requestID,
		start:         time.Now(),
		itemsReturned: -1,
		itemsAffected: -1,
	}
}

func (m *requestMetrics) ObserveStore(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.storeDuration = duration
}

func (m *requestMetrics) SetFilter(completed *bool) {
	m.filter = completed
}

func (m *requestMetrics) SetItemsReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.itemsReturned = count
}

func (m *requestMetrics) SetItemsAffected(count int64) {
	if count < 0 {
		count = 0
	}
	m.itemsAffected = count
}

func (m *requestMetrics) SetTodoID(id int64) {
	m.todoID = id
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log emits the observability event for the request and ends its span.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	severityText, severityNumber := severityForStatus(status, err)
	attrs := m.attributes(status, err)

	if m.span != nil {
		spanAttrs := toAttributes(attrs)
		m.span.SetAttributes(spanAttrs...)
		eventAttrs := append([]attribute.KeyValue{
			attribute.String("event.name", requestEventName),
			attribute.String("event.domain", requestEventDomain),
			attribute.String("severity_text", severityText),
			attribute.Int("severity_number", severityNumber),
		}, spanAttrs...)
		m.span.AddEvent(observabilityEvent, trace.WithAttributes(eventAttrs...))
		switch {
		case err != nil:
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		case status >= http.StatusInternalServerError:
			m.span.SetStatus(codes.Error, http.StatusText(status))
		default:
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      requestEventName,
		"event.domain":    requestEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attrs,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}

	entry := m.logger.WithFields(fields)
	switch severityText {
	case "ERROR":
		entry.Error(observabilityEvent)
	case "WARN":
		entry.Warn(observabilityEvent)
	default:
		entry.Info(observabilityEvent)
	}
}

func (m *requestMetrics) attributes(status int, err error) map[string]any {
	attrs := map[string]any{
		"http.route":       m.route,
		"http.method":      m.method,
		"http.status_code": status,
		"todos.total_ms":   durationToMillis(time.Since(m.start)),
	}
	if m.requestID != "" {
		attrs["http.request_id"] = m.requestID
	}
	if m.storeDuration > 0 {
		attrs["todos.store_ms"] = durationToMillis(m.storeDuration)
	}
	if m.filter != nil {
		attrs["todos.filter_completed"] = *m.filter
	}
	if m.itemsReturned >= 0 {
		attrs["todos.items_returned"] = m.itemsReturned
	}
	if m.itemsAffected >= 0 {
		attrs["todos.items_affected"] = m.itemsAffected
	}
	if m.todoID != 0 {
		attrs["todos.id"] = m.todoID
	}
	if m.errorStage != "" {
		attrs["todos.error_stage"] = m.errorStage
	}
	if err != nil {
		attrs["error.message"] = err.Error()
	}
	return attrs
}

// severityForStatus maps a response onto OpenTelemetry log severities.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func toAttributes(values map[string]any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(values))
	for k, v := range values {
		switch val := v.(type) {
		case string:
			out = append(out, attribute.String(k, val))
		case bool:
			out = append(out, attribute.Bool(k, val))
		case int:
			out = append(out, attribute.Int(k, val))
		case int64:
			out = append(out, attribute.Int64(k, val))
		case float64:
			out = append(out, attribute.Float64(k, val))
		}
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
