package api

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const requestMetricsMessage = "api.request.metrics"

// RequestMetrics wraps every request in a span and logs its duration and
// outcome to logger. The streaming endpoint is skipped since it never ends
// on its own.
func RequestMetrics(logger *log.Logger) echo.MiddlewareFunc {
	tracer := otel.Tracer("prism-tracker/api")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Path() == "/api/stream" {
				return next(c)
			}
			start := time.Now()
			req := c.Request()
			ctx, span := tracer.Start(req.Context(), req.Method+" "+c.Path(), trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}
			status := c.Response().Status

			span.SetAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.route", c.Path()),
				attribute.Int("http.status_code", status),
			)
			if status >= 500 {
				span.SetStatus(codes.Error, strconv.Itoa(status))
			}

			fields := log.Fields{
				"method":   req.Method,
				"route":    c.Path(),
				"status":   status,
				"total_ms": durationToMillis(time.Since(start)),
			}
			if cascade := c.Response().Header().Get(HeaderCascadeComplete); cascade != "" {
				fields["cascade_complete"] = cascade
			}
			if err != nil {
				fields["error"] = err.Error()
			}
			logger.WithFields(fields).Info(requestMetricsMessage)
			return nil
		}
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
