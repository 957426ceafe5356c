package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/simpleton-llm/gateway/internal/cache"
	"github.com/simpleton-llm/gateway/internal/runtime"
)

// cacheStatusHeader reports whether a response was served from cache.
const cacheStatusHeader = "X-Cache"

type generateRequest struct {
	Model   string           `json:"model,omitempty"`
	Prompt  string           `json:"prompt"`
	System  string           `json:"system,omitempty"`
	Stream  bool             `json:"stream,omitempty"`
	NoCache bool             `json:"no_cache,omitempty"`
	Options *runtime.Options `json:"options,omitempty"`
}

type chatRequest struct {
	Model    string            `json:"model,omitempty"`
	Messages []runtime.Message `json:"messages"`
	Stream   bool              `json:"stream,omitempty"`
	NoCache  bool              `json:"no_cache,omitempty"`
	Options  *runtime.Options  `json:"options,omitempty"`
}

type embeddingsRequest struct {
	Model   string `json:"model,omitempty"`
	Input   string `json:"input"`
	NoCache bool   `json:"no_cache,omitempty"`
}

// Generate serves POST /inference/generate. Non-streaming responses are
// cached under the inference category; streaming bypasses the cache because
// chunked output is never stored.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" {
		h.writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if req.Model == "" {
		req.Model = h.runtime.DefaultModel()
	}

	rtReq := &runtime.GenerateRequest{
		Model:   req.Model,
		Prompt:  req.Prompt,
		System:  req.System,
		Options: req.Options,
	}

	if req.Stream {
		body, err := h.runtime.GenerateStream(r.Context(), rtReq)
		if err != nil {
			h.writeRuntimeError(w, r, err)
			return
		}
		defer body.Close()
		h.metrics.RecordLLMUsage(req.Model, 0)
		h.streamResponse(w, r, body)
		return
	}

	key := h.cache.DeriveKey(cache.CategoryInference, keyParamsFor(req.Model, req.Prompt, req.System, nil, nil, req.Options))
	if !req.NoCache {
		if payload, ok := h.cache.Get(r.Context(), key); ok {
			w.Header().Set(cacheStatusHeader, "HIT")
			h.writeRawJSON(w, payload)
			return
		}
	}

	resp, err := h.runtime.Generate(r.Context(), rtReq)
	if err != nil {
		h.writeRuntimeError(w, r, err)
		return
	}
	h.metrics.RecordLLMUsage(resp.Model, resp.TokensUsed())

	if !req.NoCache {
		h.cache.SetWithModel(r.Context(), key, resp, cache.CategoryInference, resp.Model)
	}

	w.Header().Set(cacheStatusHeader, "MISS")
	h.writeJSON(w, http.StatusOK, resp)
}

// Chat serves POST /inference/chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		h.writeError(w, http.StatusBadRequest, "messages is required")
		return
	}
	if req.Model == "" {
		req.Model = h.runtime.DefaultModel()
	}

	rtReq := &runtime.ChatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Options:  req.Options,
	}

	if req.Stream {
		body, err := h.runtime.ChatStream(r.Context(), rtReq)
		if err != nil {
			h.writeRuntimeError(w, r, err)
			return
		}
		defer body.Close()
		h.metrics.RecordLLMUsage(req.Model, 0)
		h.streamResponse(w, r, body)
		return
	}

	// Message order and roles affect output, so the conversation is part of
	// the key in its serialized form.
	messages, err := json.Marshal(req.Messages)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "messages not serializable")
		return
	}

	key := h.cache.DeriveKey(cache.CategoryChat, keyParamsFor(req.Model, "", "", messages, nil, req.Options))
	if !req.NoCache {
		if payload, ok := h.cache.Get(r.Context(), key); ok {
			w.Header().Set(cacheStatusHeader, "HIT")
			h.writeRawJSON(w, payload)
			return
		}
	}

	resp, err := h.runtime.Chat(r.Context(), rtReq)
	if err != nil {
		h.writeRuntimeError(w, r, err)
		return
	}
	h.metrics.RecordLLMUsage(resp.Model, resp.TokensUsed())

	if !req.NoCache {
		h.cache.SetWithModel(r.Context(), key, resp, cache.CategoryChat, resp.Model)
	}

	w.Header().Set(cacheStatusHeader, "MISS")
	h.writeJSON(w, http.StatusOK, resp)
}

// Embeddings serves POST /embeddings. Embeddings of fixed text are stable, so
// they get the longest TTL of any category.
func (h *Handler) Embeddings(w http.ResponseWriter, r *http.Request) {
	var req embeddingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Input == "" {
		h.writeError(w, http.StatusBadRequest, "input is required")
		return
	}
	if req.Model == "" {
		req.Model = h.runtime.DefaultModel()
	}

	key := h.cache.DeriveKey(cache.CategoryEmbedding, cache.KeyParams{
		Model: req.Model,
		Input: []string{req.Input},
	})
	if !req.NoCache {
		if payload, ok := h.cache.Get(r.Context(), key); ok {
			w.Header().Set(cacheStatusHeader, "HIT")
			h.writeRawJSON(w, payload)
			return
		}
	}

	resp, err := h.runtime.Embeddings(r.Context(), &runtime.EmbeddingsRequest{
		Model:  req.Model,
		Prompt: req.Input,
	})
	if err != nil {
		h.writeRuntimeError(w, r, err)
		return
	}
	h.metrics.RecordLLMUsage(req.Model, 0)

	if !req.NoCache {
		h.cache.SetWithModel(r.Context(), key, resp, cache.CategoryEmbedding, req.Model)
	}

	w.Header().Set(cacheStatusHeader, "MISS")
	h.writeJSON(w, http.StatusOK, resp)
}

// ListModels serves GET /models, proxying the runtime's model list.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.runtime.ListModels(r.Context())
	if err != nil {
		h.writeRuntimeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

// keyParamsFor maps request fields onto the canonical key parameters.
func keyParamsFor(model, prompt, system string, messages []byte, input []string, opts *runtime.Options) cache.KeyParams {
	params := cache.KeyParams{
		Model:    model,
		Prompt:   prompt,
		System:   system,
		Messages: messages,
		Input:    input,
	}
	if opts == nil {
		return params
	}

	params.Temperature = opts.Temperature
	params.TopP = opts.TopP
	params.TopK = opts.TopK
	if opts.NumPredict != nil {
		params.MaxTokens = *opts.NumPredict
	}
	extra := make(map[string]string)
	if opts.Seed != nil {
		extra["seed"] = strconv.Itoa(*opts.Seed)
	}
	if len(opts.Stop) > 0 {
		extra["stop"] = strings.Join(opts.Stop, "\x1f")
	}
	if len(extra) > 0 {
		params.Extra = extra
	}
	return params
}

// writeRawJSON writes an already-serialized payload.
func (h *Handler) writeRawJSON(w http.ResponseWriter, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(payload); err != nil {
		h.logger.Error("failed to write cached response", "error", err)
	}
}

// streamResponse forwards the runtime's newline-delimited JSON body, flushing
// after each chunk so tokens reach the client as they are produced.
func (h *Handler) streamResponse(w http.ResponseWriter, r *http.Request, body io.Reader) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				h.logger.WithRequestID(r.Context()).Warn("stream interrupted", "error", err)
			}
			return
		}
	}
}

// writeRuntimeError maps a runtime failure onto the response. Runtime HTTP
// errors keep their status; transport failures surface as 502.
func (h *Handler) writeRuntimeError(w http.ResponseWriter, r *http.Request, err error) {
	var rtErr *runtime.Error
	if errors.As(err, &rtErr) {
		h.writeError(w, rtErr.StatusCode, rtErr.Message)
		return
	}
	h.logger.WithRequestID(r.Context()).Error("runtime request failed", "error", err)
	h.writeError(w, http.StatusBadGateway, "llm runtime unavailable")
}
