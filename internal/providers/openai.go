package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/jackzampolin/tabextract/internal/prompts"
)

const (
	OpenAIName         = "openai"
	openAIDefaultModel = "gpt-4o-mini"
)

// OpenAIConfig holds configuration for any OpenAI-compatible chat endpoint,
// including Ollama's /v1, vLLM and llama.cpp servers.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // Optional; defaults to api.openai.com
	Model       string
	Temperature float64
	Timeout     time.Duration
	HTTPClient  *http.Client // Optional (tests)
}

// OpenAIClient implements LLMClient using the official OpenAI SDK with a
// strict json_schema response format.
type OpenAIClient struct {
	model       string
	temperature float64
	client      openai.Client
}

// NewOpenAIClient creates a new OpenAI-compatible client. SDK retries are
// disabled; one Invoke is one HTTP request.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.APIKey == "" {
		// Local servers ignore the key but the SDK requires one.
		cfg.APIKey = "unused"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		model:       cfg.Model,
		temperature: cfg.Temperature,
		client:      openai.NewClient(opts...),
	}
}

// Name returns the provider identifier.
func (c *OpenAIClient) Name() string { return OpenAIName }

// Model returns the configured model.
func (c *OpenAIClient) Model() string { return c.model }

// HealthCheck verifies the endpoint is reachable and the key is accepted.
func (c *OpenAIClient) HealthCheck(ctx context.Context) error {
	page, err := c.client.Models.List(ctx)
	if err != nil {
		return fmt.Errorf("openai models list failed: %w", mapOpenAIError(err))
	}
	if page == nil {
		return fmt.Errorf("openai models list returned nil response")
	}
	return nil
}

var schemaNameInvalid = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Invoke sends one chat completion request.
func (c *OpenAIClient) Invoke(ctx context.Context, req *prompts.Request) (*Result, error) {
	start := time.Now()

	var schemaDoc map[string]any
	if err := json.Unmarshal(req.Schema, &schemaDoc); err != nil {
		return nil, fmt.Errorf("invalid request schema: %w", err)
	}
	name := schemaNameInvalid.ReplaceAllString(req.SchemaName, "_")
	if name == "" {
		name = "record"
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		Temperature: openai.Float(c.temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: schemaDoc,
					Strict: openai.Bool(true),
				},
			},
		},
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, transportError(OpenAIName, http.StatusOK, fmt.Errorf("empty choices in response (model=%s, id=%s)", resp.Model, resp.ID))
	}

	return &Result{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		ExecutionTime:    time.Since(start),
		Provider:         OpenAIName,
		ModelUsed:        resp.Model,
	}, nil
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		return transportError(OpenAIName, apiErr.StatusCode, errors.New(msg))
	}
	return transportError(OpenAIName, 0, err)
}
