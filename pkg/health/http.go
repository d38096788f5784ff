package health

import (
	"encoding/json"
	"net/http"

	"github.com/lewisedginton/mesh_llm_relay/pkg/logger"
)

// Response is the JSON body written by the probe handlers.
type Response struct {
	Status  string                 `json:"status"`
	Checks  map[string]CheckStatus `json:"checks,omitempty"`
	Message string                 `json:"message,omitempty"`
}

// CheckStatus is the per-check entry of a Response.
type CheckStatus struct {
	Status  string `json:"status"` // "ok" | "error"
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// LivenessHandler answers 200 while the liveness checks pass and 503 otherwise.
func (h *HealthChecker) LivenessHandler() http.HandlerFunc {
	return h.handler(Liveness)
}

// ReadinessHandler answers 200 while the readiness checks pass and 503 otherwise.
func (h *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return h.handler(Readiness)
}

func (h *HealthChecker) handler(p Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := h.Run(r.Context(), p)
		WriteStatus(w, status, err, h.logger)
	}
}

// NewResponse converts a Status into its wire form.
func NewResponse(status *Status, err error) Response {
	resp := Response{Status: "healthy", Checks: make(map[string]CheckStatus, len(status.Checks))}
	if !status.Healthy {
		resp.Status = "unhealthy"
		if err != nil {
			resp.Message = err.Error()
		}
	}
	for _, c := range status.Checks {
		cs := CheckStatus{Status: "ok", Latency: c.Latency.String()}
		if !c.Healthy {
			cs.Status = "error"
			cs.Error = c.Error
		}
		resp.Checks[c.Name] = cs
	}
	return resp
}

// WriteStatus encodes status as JSON with 200 or 503.
func WriteStatus(w http.ResponseWriter, status *Status, err error, log logger.Logger) {
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if encErr := json.NewEncoder(w).Encode(NewResponse(status, err)); encErr != nil && log != nil {
		log.Error("Failed to encode health response", logger.ErrorField(encErr))
	}
}
