// Package server wires the radio, the inference bridge, the relay connector
// and the monitoring HTTP server together and manages their lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	appconfig "github.com/lewisedginton/mesh_llm_relay/internal/config"
	"github.com/lewisedginton/mesh_llm_relay/internal/connectors/bridge"
	"github.com/lewisedginton/mesh_llm_relay/internal/connectors/executor"
	"github.com/lewisedginton/mesh_llm_relay/internal/connectors/mesh"
	"github.com/lewisedginton/mesh_llm_relay/internal/meshtastic"
	"github.com/lewisedginton/mesh_llm_relay/internal/monitoring"
	"github.com/lewisedginton/mesh_llm_relay/pkg/httpmiddleware"
	"github.com/lewisedginton/mesh_llm_relay/pkg/logger"
	"github.com/lewisedginton/mesh_llm_relay/pkg/metrics"
)

const shutdownTimeout = 5 * time.Second

// Server encapsulates all the relay components and lifecycle management
type Server struct {
	cfg       *appconfig.AppConfig
	log       logger.Logger
	metrics   *metrics.Metrics
	bridge    *bridge.Bridge
	radio     *meshtastic.Interface
	connector *mesh.Connector
	monitor   *monitoring.HealthMonitor
}

// Option customises a Server.
type Option func(*options)

type options struct {
	dialer meshtastic.Dialer
}

// WithDialer replaces the dialer built from the radio configuration.
func WithDialer(d meshtastic.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// New creates a new Server instance with all components initialized.
// Nothing is connected until Run is called.
func New(cfg *appconfig.AppConfig, log logger.Logger, opts ...Option) (*Server, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{
		cfg:     cfg,
		log:     log,
		metrics: metrics.NewMetrics(cfg.Monitoring.Enabled),
	}

	var err error
	s.bridge, err = bridge.NewBridge(cfg.Ollama.BaseURL, cfg.Ollama.Model, cfg.Ollama.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create inference bridge: %w", err)
	}

	dialer := o.dialer
	if dialer == nil {
		dialer, err = newDialer(cfg.Radio)
		if err != nil {
			return nil, err
		}
	}

	s.radio = meshtastic.New(dialer, meshtastic.Options{
		ConnectTimeout:    cfg.Radio.ConnectTimeout,
		HeartbeatInterval: cfg.Radio.HeartbeatInterval,
		Channel:           cfg.Radio.Channel,
		HopLimit:          cfg.Radio.HopLimit,
		WantAck:           cfg.Radio.WantAck,
	}, log)

	exec := executor.NewExecutor(s.bridge, log, s.metrics)

	s.connector, err = mesh.NewConnector(mesh.Config{
		TriggerToken:   cfg.Relay.TriggerToken,
		MaxReplyLength: cfg.Relay.MaxReplyLength,
	}, s.radio, exec, log, s.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create mesh connector: %w", err)
	}

	s.monitor = monitoring.NewHealthMonitor(monitoring.Config{
		Logger:           log,
		ServiceName:      cfg.ServiceName,
		Version:          cfg.Version,
		Radio:            s.radio,
		Relay:            s.connector,
		Inference:        s.bridge,
		Timeout:          cfg.Health.Timeout,
		FailureThreshold: cfg.Health.FailureThreshold,
	})

	return s, nil
}

func newDialer(cfg appconfig.RadioConfig) (meshtastic.Dialer, error) {
	switch cfg.Transport {
	case appconfig.TransportSerial:
		return meshtastic.NewSerialDialer(cfg.SerialPort, cfg.BaudRate), nil
	case appconfig.TransportTCP:
		return meshtastic.NewTCPDialer(cfg.TCPAddress, cfg.ConnectTimeout), nil
	default:
		return nil, fmt.Errorf("unsupported radio transport: %s (must be 'serial' or 'tcp')", cfg.Transport)
	}
}

// Run connects the radio and relays messages until ctx is cancelled, which
// returns nil, or the radio link is lost, which returns the link error.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if s.cfg.Monitoring.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.startMonitoringServer(ctx); err != nil {
				s.log.Error("Monitoring server failed", logger.ErrorField(err))
			}
		}()
	} else {
		s.log.Info("Monitoring server disabled")
	}

	err := s.relay(ctx)
	cancel()
	wg.Wait()
	return err
}

func (s *Server) relay(ctx context.Context) error {
	s.logModels(ctx)

	s.log.Info("Connecting to radio", logger.StringField("transport", s.radio.Transport()))
	if err := s.radio.Open(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("failed to connect to radio: %w", err)
	}
	defer func() {
		s.log.Info("Closing radio connection")
		if err := s.radio.Close(); err != nil {
			s.log.Warn("Error closing radio connection", logger.ErrorField(err))
		}
	}()

	if err := s.connector.Start(ctx); err != nil {
		return fmt.Errorf("mesh connector stopped: %w", err)
	}
	s.log.Info("Mesh connector stopped")
	return nil
}

// logModels reports which models the inference server offers. A failure is
// not fatal; the relay falls back per message.
func (s *Server) logModels(ctx context.Context) {
	models, err := s.bridge.ListModels(ctx)
	if err != nil {
		s.log.Warn("Inference server not reachable", logger.ErrorField(err))
		return
	}

	names := make([]string, 0, len(models))
	found := false
	for _, m := range models {
		names = append(names, m.Name)
		if m.Name == s.bridge.Model() || m.Name == s.bridge.Model()+":latest" {
			found = true
		}
	}
	s.log.Info("Inference server reachable",
		logger.Field("models", names),
		logger.StringField("model", s.bridge.Model()),
	)
	if !found {
		s.log.Warn("Configured model not installed on inference server", logger.StringField("model", s.bridge.Model()))
	}
}

// Router builds the monitoring HTTP handler.
func (s *Server) Router() http.Handler {
	mwCfg := httpmiddleware.DefaultConfig()
	mwCfg.Logger = s.log
	mwCfg.EnableLogging = true
	mwCfg.StripPrefix = s.cfg.Monitoring.PathPrefix
	cors := httpmiddleware.DefaultCORSConfig()
	if len(s.cfg.Monitoring.CORSAllowedOrigins) > 0 {
		cors.AllowedOrigins = s.cfg.Monitoring.CORSAllowedOrigins
	}
	mwCfg.CORS = &cors

	r := chi.NewRouter()
	httpmiddleware.ApplyToRouter(r, mwCfg)
	r.Use(s.metrics.HTTPMiddleware())

	r.Handle("/metrics", s.metrics.Handler())
	s.monitor.RegisterRoutes(r)
	return r
}

// startMonitoringServer serves the monitoring endpoints until ctx is cancelled
func (s *Server) startMonitoringServer(ctx context.Context) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Monitoring.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Monitoring server listening", logger.IntField("port", s.cfg.Monitoring.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutting down monitoring server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout) //nolint:contextcheck // New context needed for shutdown
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil { //nolint:contextcheck // Using new context for graceful shutdown
		return fmt.Errorf("monitoring server shutdown: %w", err)
	}
	s.log.Info("Monitoring server stopped")
	return nil
}
