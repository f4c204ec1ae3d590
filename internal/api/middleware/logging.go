package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// sensitiveParams marks query parameter names whose values never belong in
// logs. Matched as substrings of the lowercased name.
var sensitiveParams = []string{"apikey", "api_key", "password", "secret", "token", "authorization"}

// Logging returns middleware that emits one structured log line per request,
// after the handler runs, with sensitive query values redacted.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.Info("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("query", redactQuery(r.URL.Query())),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote", r.RemoteAddr),
			)
		})
	}
}

// statusRecorder captures the status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func redactQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	for name := range values {
		lower := strings.ToLower(name)
		for _, marker := range sensitiveParams {
			if strings.Contains(lower, marker) {
				values[name] = []string{"REDACTED"}
				break
			}
		}
	}
	return values.Encode()
}
