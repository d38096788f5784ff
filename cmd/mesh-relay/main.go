package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	appconfig "github.com/lewisedginton/mesh_llm_relay/internal/config"
	"github.com/lewisedginton/mesh_llm_relay/internal/server"
	pkgconfig "github.com/lewisedginton/mesh_llm_relay/pkg/config"
	"github.com/lewisedginton/mesh_llm_relay/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := pkgconfig.LoadDotEnv(); err != nil {
		return err
	}

	cfg, err := appconfig.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.NewLogger(logger.Config{
		Level:   cfg.GetLogLevel(),
		Format:  cfg.Logging.Format,
		Service: cfg.ServiceName,
	})
	cfg.LogConfig(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Run(ctx); err != nil {
		log.Error("Relay stopped", logger.ErrorField(err))
		return err
	}
	log.Info("Relay stopped")
	return nil
}
