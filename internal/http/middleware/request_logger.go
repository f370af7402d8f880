package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/wolfman30/chat-relay/pkg/logging"
)

// RequestLogger emits one structured log line per HTTP request, including requests whose
// stream was aborted mid-flight.
func RequestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := chimw.GetReqID(r.Context())
			if reqID == "" {
				reqID = r.Header.Get("X-Request-ID")
			}
			if reqID == "" {
				reqID = uuid.NewString()
			}
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Header().Set("X-Request-ID", reqID)

			completed := false
			defer func() {
				args := []any{
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", reqID,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"latency_ms", time.Since(start).Milliseconds(),
				}
				if !completed {
					logger.Warn("request aborted", args...)
					return
				}
				logger.Info("request completed", args...)
			}()

			next.ServeHTTP(ww, r)
			completed = true
		})
	}
}
