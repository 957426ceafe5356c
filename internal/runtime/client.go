package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// DefaultBaseURL is the default Ollama endpoint.
const DefaultBaseURL = "http://localhost:11434"

// Error is a non-2xx response from the runtime.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("runtime: status %d: %s", e.StatusCode, e.Message)
}

// Config holds client settings.
type Config struct {
	BaseURL      string
	DefaultModel string
	// CompletionModel is the model used for inline code completion when a
	// request does not name one. Falls back to DefaultModel when empty.
	CompletionModel string
	Timeout         time.Duration
	MaxRetries      int
}

// Client talks to an Ollama-compatible runtime.
type Client struct {
	baseURL         string
	defaultModel    string
	completionModel string
	maxRetries      int
	httpClient      *http.Client
}

// NewClient creates a runtime client. A zero timeout means no client-side
// deadline; callers bound requests through the context instead.
func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &Client{
		baseURL:         baseURL,
		defaultModel:    cfg.DefaultModel,
		completionModel: cfg.CompletionModel,
		maxRetries:      cfg.MaxRetries,
		httpClient:      &http.Client{Timeout: cfg.Timeout},
	}
}

// DefaultModel returns the model used when a request does not name one.
func (c *Client) DefaultModel() string {
	return c.defaultModel
}

// CompletionModel returns the model used for inline code completion when a
// request does not name one.
func (c *Client) CompletionModel() string {
	if c.completionModel != "" {
		return c.completionModel
	}
	return c.defaultModel
}

// Generate performs a non-streaming completion.
func (c *Client) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	if req.Model == "" {
		req.Model = c.defaultModel
	}
	req.Stream = false

	var out GenerateResponse
	if err := c.postJSON(ctx, "/api/generate", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Chat performs a non-streaming chat completion.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if req.Model == "" {
		req.Model = c.defaultModel
	}
	req.Stream = false

	var out ChatResponse
	if err := c.postJSON(ctx, "/api/chat", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Embeddings computes the embedding vector for one input.
func (c *Client) Embeddings(ctx context.Context, req *EmbeddingsRequest) (*EmbeddingsResponse, error) {
	if req.Model == "" {
		req.Model = c.defaultModel
	}

	var out EmbeddingsResponse
	if err := c.postJSON(ctx, "/api/embeddings", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateStream starts a streaming completion and returns the raw
// newline-delimited JSON body. The caller must close it.
func (c *Client) GenerateStream(ctx context.Context, req *GenerateRequest) (io.ReadCloser, error) {
	if req.Model == "" {
		req.Model = c.defaultModel
	}
	req.Stream = true
	return c.postStream(ctx, "/api/generate", req)
}

// ChatStream starts a streaming chat completion and returns the raw
// newline-delimited JSON body. The caller must close it.
func (c *Client) ChatStream(ctx context.Context, req *ChatRequest) (io.ReadCloser, error) {
	if req.Model == "" {
		req.Model = c.defaultModel
	}
	req.Stream = true
	return c.postStream(ctx, "/api/chat", req)
}

// ListModels returns the models available on the runtime.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.doWithRetry(httpReq, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.responseError(resp)
	}

	var out struct {
		Models []ModelInfo `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return out.Models, nil
}

// Ping reports whether the runtime is reachable.
func (c *Client) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &Error{StatusCode: resp.StatusCode, Message: "version check failed"}
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.doWithRetry(httpReq, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.responseError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func (c *Client) postStream(ctx context.Context, path string, in any) (io.ReadCloser, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// Streams are never retried; a retry after partial output would
	// duplicate tokens.
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.responseError(resp)
	}
	return resp.Body, nil
}

// doWithRetry retries transport-level failures and 502/503 responses with a
// short backoff. The request body is replayed from the original bytes.
func (c *Client) doWithRetry(req *http.Request, body []byte) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
			if body != nil {
				req.Body = io.NopCloser(bytes.NewReader(body))
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusServiceUnavailable {
			lastErr = c.responseError(resp)
			continue
		}
		return resp, nil
	}

	return nil, fmt.Errorf("runtime request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// responseError drains the body and maps it to an Error. The runtime reports
// failures as {"error": "..."}.
func (c *Client) responseError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	var errBody struct {
		Error string `json:"error"`
	}
	message := strings.TrimSpace(string(data))
	if err := json.Unmarshal(data, &errBody); err == nil && errBody.Error != "" {
		message = errBody.Error
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	return &Error{StatusCode: resp.StatusCode, Message: message}
}
