package httpmiddleware

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/lewisedginton/mesh_llm_relay/pkg/logger"
)

// CorrelationIDHeader carries the request correlation ID in both directions.
const CorrelationIDHeader = "X-Correlation-ID"

// CorrelationID assigns every request a fresh UUID, replacing any value the
// client sent, stores it in the request context and echoes it on the response.
func CorrelationID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := uuid.New().String()
			r.Header.Set(CorrelationIDHeader, id)
			w.Header().Set(CorrelationIDHeader, id)
			next.ServeHTTP(w, r.WithContext(logger.WithCorrelationIDContext(r.Context(), id)))
		})
	}
}
