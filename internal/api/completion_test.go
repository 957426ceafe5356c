package api

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simpleton-llm/gateway/internal/cache"
	"github.com/simpleton-llm/gateway/internal/metrics"
	"github.com/simpleton-llm/gateway/internal/runtime"
)

func TestCompletion_MissThenHit(t *testing.T) {
	g := newTestGateway(t)
	body := `{"prefix":"func add(a, b int) int {"}`

	first := g.post(t, "/completion", body)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	var resp completionResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &resp))
	assert.Contains(t, resp.Completion, "func add(a, b int) int {")
	assert.Equal(t, "qwen2.5-coder:7b", resp.Model)
	assert.True(t, resp.Done)
	assert.Equal(t, 5, resp.EvalCount)
	assert.InDelta(t, 2.5, resp.TokensPerSecond, 0.001)

	second := g.post(t, "/completion", body)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, int32(1), g.runtimeCalls.Load())

	events := g.metrics.CacheEvents()
	assert.Equal(t, int64(1), events[cache.CategoryCompletion].Hits)
	assert.Equal(t, int64(1), events[cache.CategoryCompletion].Misses)
}

func TestCompletion_UpstreamRequestShape(t *testing.T) {
	var captured runtime.GenerateRequest
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(runtime.GenerateResponse{
			Model:    captured.Model,
			Response: "return a + b",
			Done:     true,
		})
	}))
	defer upstream.Close()

	metricsStore := metrics.NewStore(metrics.StoreConfig{}, nil)
	cacheMgr := cache.NewManager(nil, cache.DefaultConfig(), metricsStore, nil)
	rt := runtime.NewClient(runtime.Config{BaseURL: upstream.URL, DefaultModel: "llama3.2"})

	h := NewHandler(cacheMgr, metricsStore, rt, metrics.AlertThresholds{}, nil)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/completion",
		strings.NewReader(`{"prefix":"def add(a, b):\n    ","suffix":"\n    return result","language":"python"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "# Language: python\n<fim_prefix>def add(a, b):\n    <fim_suffix>\n    return result<fim_middle>", captured.Prompt)

	// No completion model configured, so the default model serves.
	assert.Equal(t, "llama3.2", captured.Model)

	require.NotNil(t, captured.Options)
	require.NotNil(t, captured.Options.Temperature)
	assert.InDelta(t, 0.2, *captured.Options.Temperature, 0.001)
	require.NotNil(t, captured.Options.NumPredict)
	assert.Equal(t, 256, *captured.Options.NumPredict)
	require.NotNil(t, captured.Options.TopP)
	assert.InDelta(t, 0.95, *captured.Options.TopP, 0.001)
	require.NotNil(t, captured.Options.TopK)
	assert.Equal(t, 50, *captured.Options.TopK)
	assert.Contains(t, captured.Options.Stop, "<fim_middle>")
	assert.Contains(t, captured.Options.Stop, "\n\n")
}

func TestCompletion_BadRequest(t *testing.T) {
	g := newTestGateway(t)

	assert.Equal(t, http.StatusBadRequest, g.post(t, "/completion", `{not json`).Code)
	assert.Equal(t, http.StatusBadRequest, g.post(t, "/completion", `{"suffix":"}"}`).Code)
	assert.Zero(t, g.runtimeCalls.Load())
}

func TestCompletion_KeyUsesLeadingContext(t *testing.T) {
	g := newTestGateway(t)

	// Only the first 500 bytes of the prefix participate in the cache key,
	// so requests that diverge past that point share an entry.
	shared := strings.Repeat("x", 500)
	first := g.post(t, "/completion", fmt.Sprintf(`{"prefix":%q}`, shared+"tail one"))
	second := g.post(t, "/completion", fmt.Sprintf(`{"prefix":%q}`, shared+"tail two"))

	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, int32(1), g.runtimeCalls.Load())
}

func TestCompletion_KeySensitivity(t *testing.T) {
	g := newTestGateway(t)

	g.post(t, "/completion", `{"prefix":"let x = "}`)
	byLanguage := g.post(t, "/completion", `{"prefix":"let x = ","language":"typescript"}`)
	bySuffix := g.post(t, "/completion", `{"prefix":"let x = ","suffix":";"}`)
	byTemperature := g.post(t, "/completion", `{"prefix":"let x = ","temperature":0.7}`)

	assert.Equal(t, "MISS", byLanguage.Header().Get("X-Cache"))
	assert.Equal(t, "MISS", bySuffix.Header().Get("X-Cache"))
	assert.Equal(t, "MISS", byTemperature.Header().Get("X-Cache"))
	assert.Equal(t, int32(4), g.runtimeCalls.Load())
}

func TestCompletion_NoCacheBypasses(t *testing.T) {
	g := newTestGateway(t)
	body := `{"prefix":"package main","no_cache":true}`

	g.post(t, "/completion", body)
	second := g.post(t, "/completion", body)

	assert.Empty(t, second.Header().Get("X-Cache"))
	assert.Equal(t, int32(2), g.runtimeCalls.Load())
}

func TestCompletion_Stream(t *testing.T) {
	var requested atomic.Bool
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req runtime.GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		requested.Store(req.Stream)
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprint(w, `{"response":"return","done":false}`+"\n")
		fmt.Fprint(w, `{"response":" a + b","done":true}`+"\n")
	}))
	defer upstream.Close()

	metricsStore := metrics.NewStore(metrics.StoreConfig{}, nil)
	cacheMgr := cache.NewManager(nil, cache.DefaultConfig(), metricsStore, nil)
	rt := runtime.NewClient(runtime.Config{BaseURL: upstream.URL, DefaultModel: "llama3.2"})

	h := NewHandler(cacheMgr, metricsStore, rt, metrics.AlertThresholds{}, nil)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/completion", strings.NewReader(`{"prefix":"func add","stream":true}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, requested.Load())
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	lines := bytes.Split(bytes.TrimSpace(rec.Body.Bytes()), []byte("\n"))
	assert.Len(t, lines, 2)
}

func TestFormatFIMPrompt(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		suffix   string
		language string
		want     string
	}{
		{
			name:   "prefix only",
			prefix: "func main() {",
			want:   "func main() {",
		},
		{
			name:   "prefix and suffix",
			prefix: "func main() {",
			suffix: "}",
			want:   "<fim_prefix>func main() {<fim_suffix>}<fim_middle>",
		},
		{
			name:     "language context",
			prefix:   "print(",
			language: "python",
			want:     "# Language: python\nprint(",
		},
		{
			name:     "all parts",
			prefix:   "a",
			suffix:   "b",
			language: "go",
			want:     "# Language: go\n<fim_prefix>a<fim_suffix>b<fim_middle>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatFIMPrompt(tt.prefix, tt.suffix, tt.language))
		})
	}
}
