package httpmiddleware

import (
	"net/http"

	"github.com/go-chi/cors"
	"github.com/unrolled/secure"
)

// CORSConfig represents CORS configuration options.
type CORSConfig struct {
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowedOrigins   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig allows read-only access from a local dashboard.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Origin", "Accept", "Content-Type"},
		AllowedOrigins: []string{"http://localhost:3000"},
		ExposedHeaders: []string{CorrelationIDHeader},
		MaxAge:         300,
	}
}

// CORS returns the go-chi/cors handler for config.
func CORS(config CORSConfig) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedMethods:   config.AllowedMethods,
		AllowedHeaders:   config.AllowedHeaders,
		AllowedOrigins:   config.AllowedOrigins,
		ExposedHeaders:   config.ExposedHeaders,
		AllowCredentials: config.AllowCredentials,
		MaxAge:           config.MaxAge,
	})
}

// Security adds the unrolled/secure headers. A nil opts applies the
// frame-deny and nosniff defaults suitable for JSON endpoints.
func Security(opts *secure.Options) func(http.Handler) http.Handler {
	if opts == nil {
		opts = &secure.Options{
			FrameDeny:          true,
			ContentTypeNosniff: true,
			ReferrerPolicy:     "no-referrer",
		}
	}
	return secure.New(*opts).Handler
}
