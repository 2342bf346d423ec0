package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/emissionary/backend/config"
	"github.com/emissionary/backend/internal/app"
	httpDelivery "github.com/emissionary/backend/internal/delivery/http"
	"github.com/emissionary/backend/internal/logger"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("Server exited with error")
		os.Exit(1)
	}
}

func run() error {
	// Load configuration (.env first, then config.yaml, then environment)
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logger.Setup(app.LogConfig(cfg.Log)); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	log.Info().
		Str("version", version).
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("Starting Emissionary backend")

	// Initialize pipeline
	pipeline, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	pipeline.Summary(log.Info()).Msg("Pipeline ready")

	// Create HTTP handler with dependencies
	handler := httpDelivery.NewHandler(pipeline.Service, httpDelivery.HandlerConfig{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		DatasetRecords: pipeline.Store.Len(),
		ModelEnabled:   pipeline.LLM != nil,
	})

	router := httpDelivery.SetupRouter(cfg, handler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
