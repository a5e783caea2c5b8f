package middleware

import (
	"net/http"
	"time"

	"github.com/dd0wney/cluso-monitor/pkg/logging"
)

// Logging writes one debug entry per request with its latency. Place it
// inside RequestID so the entry carries the request ID.
func Logging(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)

			fields := []logging.Field{
				logging.String("method", r.Method),
				logging.Path(r.URL.Path),
				logging.Latency(time.Since(start)),
			}
			if id := GetRequestID(r); id != "" {
				fields = append(fields, logging.String("request_id", id))
			}
			logger.Debug("http request", fields...)
		})
	}
}
