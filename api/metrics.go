package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "prism-board/api"
	requestSpanName    = "board.request"
	requestEventName   = "board.request.metrics"
	requestEventDomain = "prism.board"
	observabilityEvent = "observability.event"
)

var (
	gateRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prism_board_gate_rejections_total",
		Help: "Board mutations rejected because the sprint was not active",
	}, []string{"route"})

	boardMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prism_board_mutations_total",
		Help: "Committed board mutations by route",
	}, []string{"route"})

	streamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "prism_board_stream_subscribers",
		Help: "Open board SSE streams",
	})
)

// requestMetrics collects per-request timings and reports them once as a
// structured log entry and a span.
type requestMetrics struct {
	logger        *log.Logger
	route         string
	span          trace.Span
	start         time.Time
	authDuration  time.Duration
	storeDuration time.Duration
	items         int
	errorStage    string
	cause         error
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName, trace.WithSpanKind(trace.SpanKindServer))
	return &requestMetrics{logger: logger, route: route, span: span, start: time.Now()}, ctx
}

func (m *requestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *requestMetrics) ObserveStore(d time.Duration) {
	if d > 0 {
		m.storeDuration = d
	}
}

func (m *requestMetrics) SetItems(n int) {
	if n < 0 {
		n = 0
	}
	m.items = n
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// Fail records a domain error that was already answered with a status.
func (m *requestMetrics) Fail(err error) {
	m.SetErrorStage(errorStage(err))
	m.cause = err
}

// Log emits the metrics and ends the span.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	if err == nil {
		err = m.cause
	}
	if status == http.StatusPreconditionFailed {
		gateRejections.WithLabelValues(m.route).Inc()
	}

	sevText, sevNumber := severityForStatus(status, err)
	fields := map[string]any{
		"http.route":           m.route,
		"http.status_code":     status,
		"prism.board.total_ms": durationToMillis(time.Since(m.start)),
		"prism.board.items":    m.items,
		"prism.board.auth_ms":  durationToMillis(m.authDuration),
		"prism.board.store_ms": durationToMillis(m.storeDuration),
	}
	if m.errorStage != "" {
		fields["prism.board.error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error.message"] = err.Error()
	}

	if m.span != nil {
		attrs := toAttributes(fields)
		m.span.SetAttributes(attrs...)
		m.span.AddEvent(observabilityEvent, trace.WithAttributes(append(attrs,
			attribute.String("event.name", requestEventName),
			attribute.String("event.domain", requestEventDomain),
			attribute.String("severity_text", sevText),
			attribute.Int("severity_number", sevNumber),
		)...))
		switch {
		case err != nil:
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
	entry := m.logger.WithFields(log.Fields{
		"event.name":      requestEventName,
		"event.domain":    requestEventDomain,
		"severity_text":   sevText,
		"severity_number": sevNumber,
		"attributes":      fields,
	})
	if m.span != nil && m.span.SpanContext().HasTraceID() {
		entry = entry.WithField("trace_id", m.span.SpanContext().TraceID().String())
	}
	switch sevText {
	case "ERROR":
		entry.Error(observabilityEvent)
	case "WARN":
		entry.Warn(observabilityEvent)
	default:
		entry.Info(observabilityEvent)
	}
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	case err != nil:
		return "ERROR", 17
	}
	return "INFO", 9
}

func toAttributes(fields map[string]any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		}
	}
	return attrs
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
