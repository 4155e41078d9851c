package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jackzampolin/tabextract/internal/prompts"
)

const (
	OllamaName         = "ollama"
	OllamaBaseURL      = "http://localhost:11434"
	OllamaDefaultModel = "llama3.2"
)

// OllamaConfig holds configuration for the Ollama client.
type OllamaConfig struct {
	BaseURL     string
	Model       string
	Timeout     time.Duration // Per-request timeout (default: 120s)
	Temperature float64
	NumCtx      int    // Context window override, 0 keeps the model default
	KeepAlive   string // How long the model stays loaded, e.g. "5m"
	HTTPClient  *http.Client
}

// OllamaClient implements LLMClient using Ollama's native chat API with
// schema-constrained output.
type OllamaClient struct {
	baseURL     string
	model       string
	temperature float64
	numCtx      int
	keepAlive   string
	client      *http.Client
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OllamaBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = OllamaDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &OllamaClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		numCtx:      cfg.NumCtx,
		keepAlive:   cfg.KeepAlive,
		client:      httpClient,
	}
}

// Name returns the client identifier.
func (c *OllamaClient) Name() string { return OllamaName }

// Model returns the configured model.
func (c *OllamaClient) Model() string { return c.model }

// BaseURL returns the server address.
func (c *OllamaClient) BaseURL() string { return c.baseURL }

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model     string          `json:"model"`
	Messages  []ollamaMessage `json:"messages"`
	Format    json.RawMessage `json:"format,omitempty"`
	Stream    bool            `json:"stream"`
	KeepAlive string          `json:"keep_alive,omitempty"`
	Options   map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error,omitempty"`
}

// Invoke sends one chat request. The schema is passed as the format so the
// server constrains decoding to it.
func (c *OllamaClient) Invoke(ctx context.Context, req *prompts.Request) (*Result, error) {
	start := time.Now()

	body := ollamaChatRequest{
		Model: c.model,
		Messages: []ollamaMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Format:    req.Schema,
		Stream:    false,
		KeepAlive: c.keepAlive,
		Options:   map[string]any{"temperature": c.temperature},
	}
	if c.numCtx > 0 {
		body.Options["num_ctx"] = c.numCtx
	}

	respBody, status, err := c.do(ctx, http.MethodPost, "/api/chat", body)
	if err != nil {
		return nil, transportError(OllamaName, status, err)
	}

	var resp ollamaChatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, transportError(OllamaName, status, fmt.Errorf("failed to unmarshal response: %w", err))
	}
	if resp.Error != "" {
		return nil, transportError(OllamaName, status, fmt.Errorf("ollama error: %s", resp.Error))
	}

	model := resp.Model
	if model == "" {
		model = c.model
	}
	return &Result{
		Content:          resp.Message.Content,
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
		ExecutionTime:    time.Since(start),
		Provider:         OllamaName,
		ModelUsed:        model,
	}, nil
}

// HealthCheck verifies the server answers and the configured model is installed.
func (c *OllamaClient) HealthCheck(ctx context.Context) error {
	models, err := c.ListModels(ctx)
	if err != nil {
		return err
	}
	for _, m := range models {
		if m == c.model || strings.TrimSuffix(m, ":latest") == c.model {
			return nil
		}
	}
	return fmt.Errorf("model %s is not installed on %s (run: tabextract ollama pull %s)", c.model, c.baseURL, c.model)
}

// ListModels returns the names of locally installed models.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	respBody, status, err := c.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, transportError(OllamaName, status, err)
	}
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(respBody, &tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model list: %w", err)
	}
	names := make([]string, len(tags.Models))
	for i, m := range tags.Models {
		names[i] = m.Name
	}
	return names, nil
}

// Pull downloads a model onto the server and blocks until it finishes.
func (c *OllamaClient) Pull(ctx context.Context, model string) error {
	if model == "" {
		model = c.model
	}
	respBody, status, err := c.do(ctx, http.MethodPost, "/api/pull", map[string]any{"model": model, "stream": false})
	if err != nil {
		return transportError(OllamaName, status, err)
	}
	var resp struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return fmt.Errorf("failed to unmarshal pull response: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("pull %s failed: %s", model, resp.Error)
	}
	return nil
}

func (c *OllamaClient) do(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("ollama error: %s", strings.TrimSpace(string(respBody)))
	}
	return respBody, resp.StatusCode, nil
}
