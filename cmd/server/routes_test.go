package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/simpleton-llm/gateway/internal/config"
)

type stubRegistrar struct{ registered bool }

func (s *stubRegistrar) RegisterRoutes(mux *http.ServeMux) {
	s.registered = true
	mux.HandleFunc("GET /analytics/stats", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

type stubPinger struct{ err error }

func (s *stubPinger) Ping(ctx context.Context) error { return s.err }

func serve(mux *http.ServeMux, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestBuildMux_Routes(t *testing.T) {
	reg := &stubRegistrar{}
	mux := buildMux(config.DefaultConfig(), reg, &stubPinger{})

	assert.True(t, reg.registered)
	assert.Equal(t, http.StatusOK, serve(mux, http.MethodGet, "/health/live").Code)
	assert.Equal(t, http.StatusOK, serve(mux, http.MethodGet, "/health/ready").Code)
	assert.Equal(t, http.StatusOK, serve(mux, http.MethodGet, "/analytics/stats").Code)
	assert.Equal(t, http.StatusOK, serve(mux, http.MethodGet, "/metrics").Code)
}

func TestBuildMux_ReadyFailsWhenRuntimeDown(t *testing.T) {
	mux := buildMux(config.DefaultConfig(), &stubRegistrar{}, &stubPinger{err: errors.New("connection refused")})

	assert.Equal(t, http.StatusOK, serve(mux, http.MethodGet, "/health/live").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(mux, http.MethodGet, "/health/ready").Code)
}

func TestBuildMux_MetricsDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Metrics.Enabled = false
	mux := buildMux(cfg, &stubRegistrar{}, &stubPinger{})

	assert.Equal(t, http.StatusNotFound, serve(mux, http.MethodGet, "/metrics").Code)
}
