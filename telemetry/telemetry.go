// Package telemetry wires OpenTelemetry tracing into the service. Finished
// spans are written to logrus so they land next to the request logs.
package telemetry

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SpanMessage is the log message of every exported span.
const SpanMessage = "observability.span"

// LogExporter is a span exporter writing one log entry per span.
type LogExporter struct {
	logger *log.Logger
}

func NewLogExporter(logger *log.Logger) *LogExporter {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &LogExporter{logger: logger}
}

func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		if err := ctx.Err(); err != nil {
			return err
		}
		attrs := make(map[string]any, len(s.Attributes()))
		for _, kv := range s.Attributes() {
			attrs[string(kv.Key)] = kv.Value.AsInterface()
		}
		fields := log.Fields{
			"span.name":   s.Name(),
			"trace_id":    s.SpanContext().TraceID().String(),
			"span_id":     s.SpanContext().SpanID().String(),
			"duration_ms": float64(s.EndTime().Sub(s.StartTime())) / float64(time.Millisecond),
			"attributes":  attrs,
		}
		if p := s.Parent(); p.IsValid() {
			fields["parent_span_id"] = p.SpanID().String()
		}
		entry := e.logger.WithFields(fields)
		if st := s.Status(); st.Code == codes.Error {
			entry.WithField("status", st.Description).Warn(SpanMessage)
			continue
		}
		entry.Debug(SpanMessage)
	}
	return nil
}

func (e *LogExporter) Shutdown(context.Context) error { return nil }

// Setup installs a global tracer provider exporting to logger and returns
// its shutdown function.
func Setup(logger *log.Logger) func(context.Context) error {
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(NewLogExporter(logger)))
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}
