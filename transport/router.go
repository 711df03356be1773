package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goliatone/go-appstore-connect/core"
	glog "github.com/goliatone/go-logger/glog"
)

// NewRouter assembles the chi mux for the handshake and operator routes.
func NewRouter(handler *Handler) chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	if handler != nil {
		router.Use(RequestLogger(handler.logger))
	}
	router.Use(middleware.Recoverer)
	if handler != nil {
		handler.Register(router)
	}
	return router
}

// RequestLogger emits one structured line per request. 5xx responses log at
// error level, everything else at info.
func RequestLogger(logger core.Logger) func(http.Handler) http.Handler {
	logger = glog.Ensure(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startedAt := time.Now().UTC()
			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(wrapped, r)

			fields := map[string]any{
				"event_type":  "http_request",
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      wrapped.Status(),
				"bytes":       wrapped.BytesWritten(),
				"duration_ms": time.Since(startedAt).Milliseconds(),
				"remote_addr": r.RemoteAddr,
			}
			if requestID := middleware.GetReqID(r.Context()); requestID != "" {
				fields["request_id"] = requestID
			}

			entry := logger.WithContext(r.Context())
			if fieldsLogger, ok := entry.(core.FieldsLogger); ok {
				entry = fieldsLogger.WithFields(fields)
			}
			if wrapped.Status() >= http.StatusInternalServerError {
				entry.Error("http request", logFields(fields)...)
				return
			}
			entry.Info("http request", logFields(fields)...)
		})
	}
}
