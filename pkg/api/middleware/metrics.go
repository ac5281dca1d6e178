package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MetricsRecorder is the metrics subset the HTTP layer needs.
type MetricsRecorder interface {
	RecordHTTPRequest(method, path, status string, duration time.Duration)
	IncActiveConnections()
	DecActiveConnections()
}

// Metrics records per-request counters and latency. The /metrics endpoint
// itself is not recorded.
func Metrics(recorder MetricsRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/metrics") {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			recorder.IncActiveConnections()
			defer recorder.DecActiveConnections()

			wrapped := &statusCapturingWriter{ResponseWriter: w, statusCode: http.StatusOK}

			record := func() {
				recorder.RecordHTTPRequest(r.Method, metricsPath(r.URL.Path), strconv.Itoa(wrapped.statusCode), time.Since(start))
			}
			defer func() {
				if err := recover(); err != nil {
					wrapped.statusCode = http.StatusInternalServerError
					record()
					panic(err)
				}
			}()

			next.ServeHTTP(wrapped, r)
			record()
		})
	}
}

type statusCapturingWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (w *statusCapturingWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusCapturingWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}

// metricsPath collapses per-run path segments so the label cardinality stays
// bounded. Run ids are caller-chosen (UUIDs, derived nested ids), so every
// segment following "runs" is folded into one placeholder.
func metricsPath(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "runs" && i+1 < len(parts) && parts[i+1] != "" {
			parts[i+1] = ":id"
			continue
		}
		if len(part) == 36 && strings.Count(part, "-") == 4 {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}
