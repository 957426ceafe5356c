// Package main is the entry point for the Simpleton gateway server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/simpleton-llm/gateway/internal/api"
	"github.com/simpleton-llm/gateway/internal/cache"
	"github.com/simpleton-llm/gateway/internal/config"
	"github.com/simpleton-llm/gateway/internal/metrics"
	"github.com/simpleton-llm/gateway/internal/observability"
	"github.com/simpleton-llm/gateway/internal/runtime"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	// Bootstrap logger; replaced once config is loaded.
	logger := observability.NewLogger(observability.LoggerConfig{
		Level:      observability.ParseLevel("info"),
		Output:     os.Stdout,
		JSONFormat: true,
	})

	cfgManager, err := config.NewManager(*configPath, logger.Slog())
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	logger = observability.NewLogger(observability.LoggerConfig{
		Level:      observability.ParseLevel(cfg.Logging.Level),
		Output:     os.Stdout,
		JSONFormat: cfg.Logging.Format != "text",
	})
	logger.Info("starting simpleton gateway", "port", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsStore := metrics.NewStore(metrics.StoreConfig{
		Retention:        time.Duration(cfg.Monitoring.RetentionHours) * time.Hour,
		MaxRequestEvents: cfg.Monitoring.MaxRequestEvents,
		MaxErrorEvents:   cfg.Monitoring.MaxErrorEvents,
	}, logger.WithFields("component", "metrics").Slog())

	// An unreachable cache backend is not fatal: the gateway starts with
	// caching disabled and every request goes to the runtime.
	store, err := cache.NewStore(cfg.Cache)
	if err != nil {
		logger.Warn("cache backend unavailable, caching disabled", "error", err)
		store = nil
	}
	cacheMgr := cache.NewManager(store, cfg.Cache, metricsStore, logger.WithFields("component", "cache").Slog())
	defer cacheMgr.Close()

	rt := runtime.NewClient(runtime.Config{
		BaseURL:         cfg.Runtime.BaseURL,
		DefaultModel:    cfg.Runtime.DefaultModel,
		CompletionModel: cfg.Runtime.CompletionModel,
		Timeout:         cfg.Runtime.Timeout,
		MaxRetries:      cfg.Runtime.MaxRetries,
	})

	alerts := metrics.AlertThresholds{
		ErrorRate: cfg.Monitoring.AlertErrorRate,
		Latency:   time.Duration(cfg.Monitoring.AlertLatency * float64(time.Second)),
	}
	handler := api.NewHandler(cacheMgr, metricsStore, rt, alerts, logger)

	// Alert thresholds follow config reloads; everything else requires a
	// restart.
	cfgManager.OnChange(func(c *config.Config) {
		handler.SetAlertThresholds(metrics.AlertThresholds{
			ErrorRate: c.Monitoring.AlertErrorRate,
			Latency:   time.Duration(c.Monitoring.AlertLatency * float64(time.Second)),
		})
	})
	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	mux := buildMux(cfg, handler, rt)

	var httpHandler http.Handler = mux
	httpHandler = metrics.Middleware(metricsStore, cfg.Metrics.Path)(httpHandler)
	httpHandler = observability.RequestIDMiddleware(httpHandler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	cfgManager.Close()
	logger.Info("server stopped")
}
