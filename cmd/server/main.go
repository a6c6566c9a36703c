// Package main is the entry point for Lookout, an autonomous
// trading-analysis service. It runs the scheduler loop and the admin
// HTTP API, and shuts both down cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/mhalvorsen/lookout/internal/config"
	"github.com/mhalvorsen/lookout/internal/di"
	"github.com/mhalvorsen/lookout/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting Lookout")

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := container.Server.Start(); err != nil {
			log.Fatal().Err(err).Msg("Admin server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Admin server started")

	serviceDone := make(chan error, 1)
	go func() {
		serviceDone <- container.Service.Run(ctx)
	}()

	serviceStopped := false
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-serviceDone:
		serviceStopped = true
		if err != nil {
			log.Error().Err(err).Msg("Service loop exited")
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := container.Server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	// Wait for the service loop to flush its final heartbeat.
	if !serviceStopped {
		select {
		case <-serviceDone:
		case <-time.After(10 * time.Second):
			log.Warn().Msg("Service loop did not stop in time")
		}
	}

	log.Info().Msg("Lookout stopped")
}
