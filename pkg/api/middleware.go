package api

import (
	"net/http"
	"time"

	"github.com/gorilla/handlers"

	"github.com/psantana5/ffmpeg-rife/pkg/logging"
)

// CORS allows the browser frontend at origins to call the API
func CORS(origins []string) func(http.Handler) http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
		handlers.AllowCredentials(),
	)
}

// LoggingMiddleware writes one line per request
func LoggingMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			fields := logging.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rw.status,
				"bytes":    rw.bytes,
				"duration": time.Since(start).String(),
				"remote":   r.RemoteAddr,
			}
			switch {
			case rw.status >= 500:
				logger.Error("request", fields)
			case r.URL.Path == "/health" || r.URL.Path == "/metrics":
				logger.Debug("request", fields)
			default:
				logger.Info("request", fields)
			}
		})
	}
}

// IsPublicPath reports paths that never require an API key
func IsPublicPath(r *http.Request) bool {
	return r.URL.Path == "/health"
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
