package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/winlog-collector/winlog/internal/handlers"
	"github.com/winlog-collector/winlog/internal/logging"
	"github.com/winlog-collector/winlog/internal/middleware"
)

// NewRouter constructs a ServeMux with the collector routes registered.
func NewRouter(h *handlers.Handler, logger *logging.Logger) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/events", h.HandleEvent)
	mux.HandleFunc("/api/v1/sessions/current", h.HandleCurrentSessions)

	// Health endpoints
	mux.HandleFunc("/healthz", h.Health)
	mux.HandleFunc("/health", h.Health)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	return middleware.RequestID(recoverer(logger, accessLog(logger, mux)))
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func accessLog(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		// Scrapes and probes are too frequent to log at info.
		log := logger.InfoContext
		if r.URL.Path == "/metrics" || r.URL.Path == "/healthz" {
			log = logger.DebugContext
		}
		log(r.Context(), "request completed",
			logging.Method(r.Method),
			logging.Path(r.URL.Path),
			logging.Status(rec.status),
			logging.Duration(time.Since(start).Milliseconds()),
		)
	})
}

func recoverer(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.ErrorContext(r.Context(), "panic recovered", "panic", err, logging.Path(r.URL.Path))
				http.Error(w, `{"error":"Internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
