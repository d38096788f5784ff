// Package httpmiddleware assembles the chi middleware stack used by the
// monitoring HTTP server.
package httpmiddleware

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lewisedginton/mesh_llm_relay/pkg/logger"
	"github.com/unrolled/secure"
)

// Config selects and configures the middleware applied by ApplyToRouter.
type Config struct {
	Logger      logger.Logger
	StripPrefix string
	CORS        *CORSConfig
	Security    *secure.Options
	Timeout     time.Duration

	EnableCorrelationID bool
	EnableLogging       bool
	EnableRecovery      bool
	EnableCORS          bool
	EnableSecurity      bool
	EnableHeartbeat     bool
	EnableRealIP        bool
	EnableTimeout       bool
}

// DefaultConfig returns the stack used for the monitoring endpoints.
// Logging stays off until a Logger is supplied.
func DefaultConfig() Config {
	cors := DefaultCORSConfig()
	return Config{
		CORS:    &cors,
		Timeout: 30 * time.Second,

		EnableCorrelationID: true,
		EnableRecovery:      true,
		EnableCORS:          true,
		EnableSecurity:      true,
		EnableHeartbeat:     true,
		EnableRealIP:        true,
		EnableTimeout:       true,
	}
}

// ApplyToRouter installs the enabled middleware on router, outermost first:
// correlation ID, security headers, real IP, access log, panic recovery,
// prefix stripping, CORS, timeout and the /ping heartbeat.
func ApplyToRouter(router chi.Router, cfg Config) {
	if cfg.EnableCorrelationID {
		router.Use(CorrelationID())
	}
	if cfg.EnableSecurity {
		router.Use(Security(cfg.Security))
	}
	if cfg.EnableRealIP {
		router.Use(middleware.RealIP)
	}
	if cfg.EnableLogging && cfg.Logger != nil {
		router.Use(NewHTTPLogger(cfg.Logger).Middleware)
	}
	if cfg.EnableRecovery {
		router.Use(middleware.Recoverer)
	}
	if cfg.StripPrefix != "" {
		router.Use(StripPrefix(cfg.StripPrefix))
	}
	if cfg.EnableCORS && cfg.CORS != nil {
		router.Use(CORS(*cfg.CORS))
	}
	if cfg.EnableTimeout && cfg.Timeout > 0 {
		router.Use(middleware.Timeout(cfg.Timeout))
	}
	if cfg.EnableHeartbeat {
		router.Use(middleware.Heartbeat("/ping"))
	}
}
