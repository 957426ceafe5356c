package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/simpleton-llm/gateway/internal/config"
)

// runtimePinger is the slice of the runtime client health checks need.
type runtimePinger interface {
	Ping(ctx context.Context) error
}

// apiRegistrar registers the inference and analytics routes.
type apiRegistrar interface {
	RegisterRoutes(*http.ServeMux)
}

func buildMux(cfg *config.Config, handler apiRegistrar, rt runtimePinger) *http.ServeMux {
	mux := http.NewServeMux()

	handler.RegisterRoutes(mux)

	// Liveness only says the process is up. Readiness requires the runtime,
	// because a gateway that cannot reach it serves nothing useful.
	mux.HandleFunc("GET /health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /health/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := rt.Ping(ctx); err != nil {
			http.Error(w, "llm runtime unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	return mux
}
