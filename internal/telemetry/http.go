package telemetry

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// TracingMiddleware wraps a handler with OpenTelemetry HTTP instrumentation:
// it extracts W3C trace-context headers from the incoming request, starts a
// span per request, and records basic HTTP metrics. Safe to use even when
// telemetry is disabled — otelhttp falls back to a no-op tracer.
func TracingMiddleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "HTTP " + r.Method + " " + r.URL.Path
			}),
		)
	}
}
