package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type (
	// OtelLogger logs structured key-value pairs via log/slog, annotated
	// with the active trace/span ID from ctx when present.
	OtelLogger struct {
		slog *slog.Logger
	}

	// OtelMetrics records counters, timers, and gauges through the global
	// OTEL MeterProvider. Configure the provider (OTLP exporter, etc.)
	// before constructing this.
	OtelMetrics struct {
		meter metric.Meter
	}

	// OtelTracer creates spans through the global OTEL TracerProvider.
	OtelTracer struct {
		tracer trace.Tracer
	}

	otelSpan struct {
		span trace.Span
	}
)

// NewOtelLogger constructs a Logger backed by log/slog.
func NewOtelLogger(base *slog.Logger) Logger {
	if base == nil {
		base = slog.Default()
	}
	return &OtelLogger{slog: base}
}

// NewOtelMetrics constructs a Metrics recorder backed by the global OTEL
// meter named "agentmesh/runtime".
func NewOtelMetrics() Metrics {
	return &OtelMetrics{meter: otel.Meter("agentmesh/runtime")}
}

// NewOtelTracer constructs a Tracer backed by the global OTEL tracer named
// "agentmesh/runtime".
func NewOtelTracer() Tracer {
	return &OtelTracer{tracer: otel.Tracer("agentmesh/runtime")}
}

func (l *OtelLogger) log(ctx context.Context, level slog.Level, msg string, keyvals []any) {
	args := append([]any{}, keyvals...)
	if span := trace.SpanContextFromContext(ctx); span.IsValid() {
		args = append(args, "trace_id", span.TraceID().String(), "span_id", span.SpanID().String())
	}
	l.slog.Log(ctx, level, msg, args...)
}

// Debug emits a debug-level log message.
func (l *OtelLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	l.log(ctx, slog.LevelDebug, msg, keyvals)
}

// Info emits an info-level log message.
func (l *OtelLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	l.log(ctx, slog.LevelInfo, msg, keyvals)
}

// Warn emits a warning-level log message.
func (l *OtelLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	l.log(ctx, slog.LevelWarn, msg, keyvals)
}

// Error emits an error-level log message.
func (l *OtelLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	l.log(ctx, slog.LevelError, msg, keyvals)
}

// IncCounter increments a counter instrument by value.
func (m *OtelMetrics) IncCounter(name string, value float64, tags ...string) {
	counter, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

// RecordTimer records a duration histogram.
func (m *OtelMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	hist, err := m.meter.Float64Histogram(name, metric.WithUnit("s"))
	if err != nil {
		return
	}
	hist.Record(context.Background(), duration.Seconds(), metric.WithAttributes(tagsToAttrs(tags)...))
}

// RecordGauge records a gauge-like value. OTEL has no synchronous gauge
// instrument, so this records into a histogram suffixed "_gauge", the same
// compromise used by every library lacking one.
func (m *OtelMetrics) RecordGauge(name string, value float64, tags ...string) {
	hist, err := m.meter.Float64Histogram(name + "_gauge")
	if err != nil {
		return
	}
	hist.Record(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

// Start creates a new span.
func (t *OtelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	newCtx, span := t.tracer.Start(ctx, name, opts...)
	return newCtx, &otelSpan{span: span}
}

// Span returns the current span from the context.
func (t *OtelTracer) Span(ctx context.Context) Span {
	return &otelSpan{span: trace.SpanFromContext(ctx)}
}

func (s *otelSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

func (s *otelSpan) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name, trace.WithAttributes(kvToAttrs(attrs)...))
}

func (s *otelSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s *otelSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}

func tagsToAttrs(tags []string) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		out = append(out, attribute.String(tags[i], tags[i+1]))
	}
	return out
}

func kvToAttrs(keyvals []any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key := fmt.Sprintf("%v", keyvals[i])
		out = append(out, attribute.String(key, fmt.Sprintf("%v", keyvals[i+1])))
	}
	return out
}
