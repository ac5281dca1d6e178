package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/weftworks/weft/pkg/api/response"
)

// Timeout bounds request handling. Handlers observe the deadline through the
// request context; a handler that overruns gets a 504 written on its behalf.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			done := make(chan struct{})
			go func() {
				next.ServeHTTP(w, r.WithContext(ctx))
				close(done)
			}()

			select {
			case <-done:
			case <-ctx.Done():
				response.Error(w,
					http.StatusGatewayTimeout,
					response.ErrCodeGatewayTimeout,
					"request timeout",
					GetRequestID(r.Context()),
				)
			}
		})
	}
}
