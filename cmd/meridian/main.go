// Package main is the entry point for the Meridian application
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/meridiantel/meridian/internal/config"
	"github.com/meridiantel/meridian/pkg/sip"
)

func main() {
	// Initialize structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting Meridian", "version", "1.0.0")

	// Load configuration
	cfg := config.Load()

	// Ensure data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		slog.Error("Failed to create data directories", "error", err)
		os.Exit(1)
	}

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize SIP server
	sipServer, err := sip.NewServer(sip.Config{
		Port:      cfg.SIPPort,
		UserAgent: config.DefaultUserAgent,
		DataDir:   cfg.DataDir,
		TLS:       config.LoadTLSConfig(),
		SRTP:      config.LoadSRTPConfig(),
		DTLS:      config.LoadDTLSConfig(),
		ZRTP:      config.LoadZRTPConfig(),
	})
	if err != nil {
		slog.Error("Failed to initialize SIP server", "error", err)
		os.Exit(1)
	}

	// Start SIP server
	if err := sipServer.Start(ctx); err != nil {
		slog.Error("Failed to start SIP server", "error", err)
		os.Exit(1)
	}
	slog.Info("SIP server started", "port", cfg.SIPPort)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	slog.Info("Shutdown signal received, initiating graceful shutdown...")

	// Stop SIP server
	sipServer.Stop()

	slog.Info("Meridian shutdown complete")
}
