package httpmiddleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/lewisedginton/mesh_llm_relay/pkg/logger"
)

// HTTPLogger writes one access log line per request.
type HTTPLogger struct {
	logger logger.Logger
}

// NewHTTPLogger creates an access logger.
func NewHTTPLogger(log logger.Logger) *HTTPLogger {
	return &HTTPLogger{logger: log}
}

// Middleware logs the completed request. Probe traffic is frequent, so
// successful responses go to debug and only 5xx are raised to warn.
func (h *HTTPLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		log := h.RequestLogger(r).WithFields(
			logger.IntField("http_status", status),
			logger.IntField("response_bytes", ww.BytesWritten()),
			logger.DurationField("duration", time.Since(start)),
		)
		if status >= http.StatusInternalServerError {
			log.Warn("HTTP request failed")
			return
		}
		log.Debug("HTTP request served")
	})
}

// RequestLogger returns a logger carrying the request fields.
func (h *HTTPLogger) RequestLogger(r *http.Request) logger.Logger {
	return logger.GetLoggerFromContext(r.Context(), h.logger).WithFields(
		logger.StringField("client_ip", r.RemoteAddr),
		logger.StringField("http_method", r.Method),
		logger.StringField("http_path", r.URL.Path),
	)
}
