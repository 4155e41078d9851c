package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/tabextract/internal/prompts"
)

func testRequest() *prompts.Request {
	return &prompts.Request{
		RowIndex:   3,
		Attempt:    1,
		System:     "system text",
		User:       "user text",
		SchemaName: "sentiment",
		Schema:     json.RawMessage(`{"type":"object","properties":{"sentiment":{"type":"string"}},"required":["sentiment"],"additionalProperties":false}`),
	}
}

func TestOllamaClient_Invoke(t *testing.T) {
	t.Run("successful chat", func(t *testing.T) {
		var got ollamaChatRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/chat" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			if r.Method != http.MethodPost {
				t.Errorf("unexpected method: %s", r.Method)
			}
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("decode body: %v", err)
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"model":             "llama3.2:latest",
				"message":           map[string]any{"role": "assistant", "content": `{"sentiment":"positive"}`},
				"done":              true,
				"prompt_eval_count": 42,
				"eval_count":        7,
			})
		}))
		defer server.Close()

		client := NewOllamaClient(OllamaConfig{BaseURL: server.URL + "/", NumCtx: 8192})
		result, err := client.Invoke(context.Background(), testRequest())
		if err != nil {
			t.Fatalf("Invoke() error = %v", err)
		}

		if result.Content != `{"sentiment":"positive"}` {
			t.Errorf("Content = %q", result.Content)
		}
		if result.PromptTokens != 42 || result.CompletionTokens != 7 {
			t.Errorf("tokens = %d/%d, want 42/7", result.PromptTokens, result.CompletionTokens)
		}
		if result.ModelUsed != "llama3.2:latest" || result.Provider != OllamaName {
			t.Errorf("unexpected provider/model: %s/%s", result.Provider, result.ModelUsed)
		}

		if got.Model != OllamaDefaultModel {
			t.Errorf("request model = %q", got.Model)
		}
		if got.Stream {
			t.Error("expected stream=false")
		}
		if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "user text" {
			t.Errorf("unexpected messages: %+v", got.Messages)
		}
		if !strings.Contains(string(got.Format), `"sentiment"`) {
			t.Errorf("schema not sent as format: %s", got.Format)
		}
		if got.Options["num_ctx"] != float64(8192) {
			t.Errorf("num_ctx = %v", got.Options["num_ctx"])
		}
	})

	t.Run("server error is transport error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
		}))
		defer server.Close()

		_, err := NewOllamaClient(OllamaConfig{BaseURL: server.URL}).Invoke(context.Background(), testRequest())
		var te *TransportError
		if !errors.As(err, &te) {
			t.Fatalf("expected *TransportError, got %v", err)
		}
		if te.StatusCode != http.StatusNotFound {
			t.Errorf("StatusCode = %d", te.StatusCode)
		}
	})

	t.Run("timeout is transport error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer server.Close()

		_, err := NewOllamaClient(OllamaConfig{BaseURL: server.URL, Timeout: 20 * time.Millisecond}).Invoke(context.Background(), testRequest())
		var te *TransportError
		if !errors.As(err, &te) {
			t.Fatalf("expected *TransportError, got %v", err)
		}
		if !te.Timeout {
			t.Errorf("expected Timeout=true, got %v", te)
		}
	})

	t.Run("unreachable is transport error", func(t *testing.T) {
		_, err := NewOllamaClient(OllamaConfig{BaseURL: "http://127.0.0.1:1"}).Invoke(context.Background(), testRequest())
		if !IsTransport(err) {
			t.Fatalf("expected transport error, got %v", err)
		}
	})
}

func TestOllamaClient_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			json.NewEncoder(w).Encode(map[string]any{"models": []map[string]any{{"name": "llama3.2:latest"}}})
		case "/api/pull":
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			if body["model"] == "missing" {
				json.NewEncoder(w).Encode(map[string]any{"error": "pull model manifest: file does not exist"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"status": "success"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	if err := NewOllamaClient(OllamaConfig{BaseURL: server.URL}).HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := NewOllamaClient(OllamaConfig{BaseURL: server.URL, Model: "qwen2.5"}).HealthCheck(context.Background()); err == nil {
		t.Error("expected error for model that is not installed")
	}

	client := NewOllamaClient(OllamaConfig{BaseURL: server.URL})
	if err := client.Pull(context.Background(), ""); err != nil {
		t.Errorf("Pull() error = %v", err)
	}
	if err := client.Pull(context.Background(), "missing"); err == nil {
		t.Error("expected pull error")
	}
}
