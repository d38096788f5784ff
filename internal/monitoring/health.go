// Package monitoring exposes the relay's health probes and status endpoint.
package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lewisedginton/mesh_llm_relay/internal/meshtastic"
	"github.com/lewisedginton/mesh_llm_relay/pkg/health"
	"github.com/lewisedginton/mesh_llm_relay/pkg/logger"
)

// Health status constants
const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusReady     = "ready"
	statusNotReady  = "not_ready"
)

// ReadyChecker is a component that can report whether it can serve traffic.
type ReadyChecker interface {
	Ready() error
}

// Radio is the view of the radio link used for probes and /api/status.
type Radio interface {
	ReadyChecker
	MyNodeNum() meshtastic.NodeNum
	Transport() string
}

// Inference is the view of the inference endpoint used for probes.
type Inference interface {
	HealthCheck(ctx context.Context) error
	Model() string
}

// Config holds configuration for the health monitor
type Config struct {
	Logger           logger.Logger
	ServiceName      string
	Version          string
	Radio            Radio        // Optional: radio link readiness
	Relay            ReadyChecker // Optional: mesh connector readiness
	Inference        Inference    // Optional: inference endpoint reachability
	Timeout          time.Duration
	FailureThreshold int // consecutive failures before a check reports unhealthy
}

// HealthMonitor manages health checks and monitoring endpoints for the relay
type HealthMonitor struct {
	checker   *health.HealthChecker
	cfg       Config
	logger    logger.Logger
	startTime time.Time
}

// StatusResponse is the body of /api/status.
type StatusResponse struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	Node      string `json:"node,omitempty"`
	Transport string `json:"transport,omitempty"`
	Model     string `json:"model,omitempty"`
	Connected bool   `json:"connected"`
	Uptime    string `json:"uptime"`
}

// NewHealthMonitor creates a new health monitor with configured checks
func NewHealthMonitor(cfg Config) *HealthMonitor {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNopLogger()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}

	checker := health.New(
		health.WithLogger(cfg.Logger),
		health.WithTimeout(cfg.Timeout),
		health.WithFailureThreshold(cfg.FailureThreshold),
	)

	checker.AddLivenessCheck(health.NewCheckFunc("process", func(ctx context.Context) error {
		return nil
	}))

	if cfg.Radio != nil {
		checker.AddReadinessCheck(health.NewCheckFunc("radio", func(ctx context.Context) error {
			return cfg.Radio.Ready()
		}))
	}
	if cfg.Relay != nil {
		checker.AddReadinessCheck(health.NewCheckFunc("mesh_connector", func(ctx context.Context) error {
			return cfg.Relay.Ready()
		}))
	}
	if cfg.Inference != nil {
		checker.AddReadinessCheck(health.NewCheckFunc("ollama", cfg.Inference.HealthCheck))
	}

	return &HealthMonitor{
		checker:   checker,
		cfg:       cfg,
		logger:    cfg.Logger,
		startTime: time.Now(),
	}
}

// LivenessHandler returns an HTTP handler for liveness probes
// GET /health/live - Returns 200 while the process can serve requests
func (hm *HealthMonitor) LivenessHandler() http.HandlerFunc {
	return hm.checker.LivenessHandler()
}

// ReadinessHandler returns an HTTP handler for readiness probes
// GET /health/ready - Returns 200 when the radio is connected and the inference endpoint answers
func (hm *HealthMonitor) ReadinessHandler() http.HandlerFunc {
	return hm.checker.ReadinessHandler()
}

// CombinedResponse is the body of /health.
type CombinedResponse struct {
	Status    string          `json:"status"`
	Timestamp string          `json:"timestamp"`
	Uptime    string          `json:"uptime"`
	Version   string          `json:"version"`
	Liveness  health.Response `json:"liveness"`
	Readiness health.Response `json:"readiness"`
}

// HealthHandler returns a combined health endpoint that includes both liveness and readiness
// GET /health - Returns comprehensive health status
func (hm *HealthMonitor) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		liveness, livenessErr := hm.checker.CheckLiveness(ctx)
		readiness, readinessErr := hm.checker.CheckReadiness(ctx)

		resp := CombinedResponse{
			Status:    statusHealthy,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Uptime:    time.Since(hm.startTime).String(),
			Version:   hm.cfg.Version,
			Liveness:  health.NewResponse(liveness, livenessErr),
			Readiness: health.NewResponse(readiness, readinessErr),
		}
		resp.Readiness.Status = statusReady

		code := http.StatusOK
		if livenessErr != nil {
			resp.Liveness.Status = statusUnhealthy
			resp.Status = statusUnhealthy
			code = http.StatusServiceUnavailable
		}
		if readinessErr != nil {
			resp.Readiness.Status = statusNotReady
			resp.Status = statusUnhealthy
			code = http.StatusServiceUnavailable
			hm.logger.Warn("Readiness check failed", logger.ErrorField(readinessErr))
		}

		writeJSON(w, code, resp, hm.logger)
	}
}

// StatusHandler reports what the relay is connected to.
// GET /api/status
func (hm *HealthMonitor) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			Service: hm.cfg.ServiceName,
			Version: hm.cfg.Version,
			Uptime:  time.Since(hm.startTime).Round(time.Second).String(),
		}
		if hm.cfg.Radio != nil {
			resp.Transport = hm.cfg.Radio.Transport()
			resp.Connected = hm.cfg.Radio.Ready() == nil
			if node := hm.cfg.Radio.MyNodeNum(); node != 0 {
				resp.Node = node.String()
			}
		}
		if hm.cfg.Inference != nil {
			resp.Model = hm.cfg.Inference.Model()
		}
		writeJSON(w, http.StatusOK, resp, hm.logger)
	}
}

// RegisterRoutes registers all monitoring endpoints on r.
func (hm *HealthMonitor) RegisterRoutes(r chi.Router) {
	r.Get("/health", hm.HealthHandler())
	r.Get("/health/live", hm.LivenessHandler())
	r.Get("/health/ready", hm.ReadinessHandler())
	r.Get("/api/status", hm.StatusHandler())
}

func writeJSON(w http.ResponseWriter, code int, body any, log logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error("Failed to encode response", logger.ErrorField(err))
	}
}
