// Package main runs the OwlAI data-access layer as a standalone service:
// it wires the resilient client from configuration and exposes health and
// metrics endpoints for operating it.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	owlai "github.com/OwlAIhub/OwlAI-sub003"
	"github.com/OwlAIhub/OwlAI-sub003/config"
	"github.com/OwlAIhub/OwlAI-sub003/health"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "owlai"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.Validate {
		slog.Info("configuration is valid", "config_path", cliCfg.ConfigPath)
		return nil
	}

	slog.Info("starting data-access layer",
		"version", Version,
		"config_path", cliCfg.ConfigPath,
		"redis", cfg.Redis.Addr != "",
		"nats", cfg.NATS.URL != "",
		"assistant", cfg.AI.Model != "")

	ctx := context.Background()
	client, err := owlai.New(ctx, cfg, owlai.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	var admin *http.Server
	if cliCfg.AdminAddr != "" {
		admin = adminServer(cliCfg.AdminAddr, client)
		go func() {
			slog.Info("admin endpoints listening", "addr", cliCfg.AdminAddr)
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("admin server failed", "error", err)
			}
		}()
	}

	signalCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-signalCtx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cliCfg.ShutdownTimeout)
	defer shutdownCancel()

	if admin != nil {
		if err := admin.Shutdown(shutdownCtx); err != nil {
			slog.Warn("admin server shutdown", "error", err)
		}
	}
	if err := client.Close(shutdownCtx); err != nil {
		return fmt.Errorf("close client: %w", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// adminServer exposes the operational surface: health verdict and
// Prometheus metrics.
func adminServer(addr string, client *owlai.Client) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/healthz", health.Handler(func() health.Status {
		return health.FromSnapshots(client.BreakerSnapshot(), client.Metrics().Snapshot())
	}))
	mux.Handle("/metrics", client.MetricsHandler())

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
