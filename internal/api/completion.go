package api

import (
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/simpleton-llm/gateway/internal/cache"
	"github.com/simpleton-llm/gateway/internal/runtime"
)

// Sampling defaults for inline completion. Code completion wants low
// temperature and a short budget; the stop tokens cut generation at the
// first blank line, code fence, or stray FIM marker.
const (
	completionTemperature = 0.2
	completionMaxTokens   = 256
	completionTopP        = 0.95
	completionTopK        = 50
)

var completionStop = []string{"\n\n", "```", "<|endoftext|>", "<fim_pad>", "<fim_middle>", "<fim_suffix>"}

// Long editor contexts would make nearly every key unique, so only the
// leading slice of the prefix and suffix participates in the key.
const (
	keyPrefixLimit = 500
	keySuffixLimit = 200
)

type completionRequest struct {
	Model       string   `json:"model,omitempty"`
	Prefix      string   `json:"prefix"`
	Suffix      string   `json:"suffix,omitempty"`
	Language    string   `json:"language,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
	NoCache     bool     `json:"no_cache,omitempty"`
}

type completionResponse struct {
	Completion      string  `json:"completion"`
	Model           string  `json:"model"`
	Done            bool    `json:"done"`
	Language        string  `json:"language,omitempty"`
	TotalDuration   int64   `json:"total_duration,omitempty"`
	EvalCount       int     `json:"eval_count,omitempty"`
	TokensPerSecond float64 `json:"tokens_per_second,omitempty"`
}

// Completion serves POST /completion: fill-in-the-middle code completion for
// editor integrations. Non-streaming responses are cached under the
// completion category; streaming bypasses the cache.
func (h *Handler) Completion(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prefix == "" {
		h.writeError(w, http.StatusBadRequest, "prefix is required")
		return
	}
	if req.Model == "" {
		req.Model = h.runtime.CompletionModel()
	}

	temperature := completionTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := completionMaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	topP := completionTopP
	topK := completionTopK

	rtReq := &runtime.GenerateRequest{
		Model:  req.Model,
		Prompt: formatFIMPrompt(req.Prefix, req.Suffix, req.Language),
		Options: &runtime.Options{
			Temperature: &temperature,
			NumPredict:  &maxTokens,
			TopP:        &topP,
			TopK:        &topK,
			Stop:        completionStop,
		},
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

	key := h.cache.DeriveKey(cache.CategoryCompletion, cache.KeyParams{
		Model:       req.Model,
		Prompt:      truncate(req.Prefix, keyPrefixLimit),
		Temperature: &temperature,
		MaxTokens:   maxTokens,
		Extra: map[string]string{
			"suffix":   truncate(req.Suffix, keySuffixLimit),
			"language": req.Language,
		},
	})
	if !req.NoCache {
		if payload, ok := h.cache.Get(r.Context(), key); ok {
			w.Header().Set(cacheStatusHeader, "HIT")
			h.writeRawJSON(w, payload)
			return
		}
	}

	rtResp, err := h.runtime.Generate(r.Context(), rtReq)
	if err != nil {
		h.writeRuntimeError(w, r, err)
		return
	}
	h.metrics.RecordLLMUsage(rtResp.Model, rtResp.TokensUsed())

	resp := completionResponse{
		Completion:      rtResp.Response,
		Model:           rtResp.Model,
		Done:            rtResp.Done,
		Language:        req.Language,
		TotalDuration:   rtResp.TotalDuration,
		EvalCount:       rtResp.EvalCount,
		TokensPerSecond: rtResp.TokensPerSecond(),
	}

	if !req.NoCache {
		h.cache.SetWithModel(r.Context(), key, resp, cache.CategoryCompletion, resp.Model)
	}

	w.Header().Set(cacheStatusHeader, "MISS")
	h.writeJSON(w, http.StatusOK, resp)
}

// formatFIMPrompt builds a fill-in-the-middle prompt in the marker dialect
// coder models are trained on. Without a suffix there is nothing to fill, so
// the prefix goes through as a plain continuation prompt.
func formatFIMPrompt(prefix, suffix, language string) string {
	var b strings.Builder
	if language != "" {
		b.WriteString("# Language: ")
		b.WriteString(language)
		b.WriteString("\n")
	}
	if suffix == "" {
		b.WriteString(prefix)
		return b.String()
	}
	b.WriteString("<fim_prefix>")
	b.WriteString(prefix)
	b.WriteString("<fim_suffix>")
	b.WriteString(suffix)
	b.WriteString("<fim_middle>")
	return b.String()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
