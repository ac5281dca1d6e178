package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/weftworks/weft/pkg/api/response"
	"github.com/weftworks/weft/pkg/logger"
)

// Recovery converts handler panics into 500 responses. The panic value and
// stack go to the log, not the client.
func Recovery(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error("panic recovered",
						"error", err,
						"request_id", GetRequestID(r.Context()),
						"method", r.Method,
						"path", r.URL.Path,
						"stack", string(debug.Stack()),
					)

					response.Error(w,
						http.StatusInternalServerError,
						response.ErrCodeInternalServer,
						"internal server error",
						GetRequestID(r.Context()),
					)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
