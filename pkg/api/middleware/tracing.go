package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const httpTracerName = "weft.http"

// TracingOptions controls which requests get server spans.
type TracingOptions struct {
	// SkipPaths lists probe endpoints that would only produce noise.
	SkipPaths map[string]struct{}
}

// DefaultTracingOptions skips the health and readiness probes.
func DefaultTracingOptions() TracingOptions {
	return TracingOptions{
		SkipPaths: map[string]struct{}{
			"/health": {},
			"/ready":  {},
		},
	}
}

// Tracing opens a server span per request, continuing any trace context
// carried in the inbound headers. The route attribute uses the chi
// pattern so run ids do not explode label cardinality.
func Tracing(opts TracingOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := opts.SkipPaths[r.URL.Path]; skip {
				next.ServeHTTP(w, r)
				return
			}

			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := otel.Tracer(httpTracerName).Start(ctx, "HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", r.Method),
					attribute.String("url.path", r.URL.Path),
				),
			)
			defer span.End()

			wrapped := &spanStatusWriter{ResponseWriter: w, statusCode: http.StatusOK}
			r = r.WithContext(ctx)
			next.ServeHTTP(wrapped, r)

			span.SetAttributes(
				attribute.String("http.route", routePattern(r)),
				attribute.Int("http.response.status_code", wrapped.statusCode),
			)
			if wrapped.statusCode >= http.StatusBadRequest {
				span.SetStatus(otelcodes.Error, http.StatusText(wrapped.statusCode))
			} else {
				span.SetStatus(otelcodes.Ok, http.StatusText(wrapped.statusCode))
			}
		})
	}
}

// routePattern prefers the matched chi pattern over the raw path.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := strings.TrimSpace(rc.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

type spanStatusWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (w *spanStatusWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *spanStatusWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}
