package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// ChatFunc answers one chat request. It receives the user message and
// returns the assistant content.
type ChatFunc func(user string) string

// FakeOllama is an in-process stand-in for the Ollama HTTP API. It serves
// /api/version, /api/tags, /api/pull and /api/chat.
type FakeOllama struct {
	*httptest.Server

	mu     sync.Mutex
	models []string
	chat   ChatFunc
	calls  int
	pulled []string
}

// NewFakeOllama starts a fake server with the given installed models. The
// server is closed when the test ends.
func NewFakeOllama(t *testing.T, models []string, chat ChatFunc) *FakeOllama {
	t.Helper()
	f := &FakeOllama{models: models, chat: chat}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"version": "0.0.0-test"})
	})
	mux.HandleFunc("/api/tags", f.handleTags)
	mux.HandleFunc("/api/pull", f.handlePull)
	mux.HandleFunc("/api/chat", f.handleChat)

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

// Calls returns the number of chat requests served.
func (f *FakeOllama) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Pulled returns the models pulled so far.
func (f *FakeOllama) Pulled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pulled...)
}

func (f *FakeOllama) handleTags(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	models := make([]map[string]string, len(f.models))
	for i, m := range f.models {
		models[i] = map[string]string{"name": m}
	}
	f.mu.Unlock()
	writeJSON(w, map[string]any{"models": models})
}

func (f *FakeOllama) handlePull(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.pulled = append(f.pulled, req.Model)
	f.models = append(f.models, req.Model)
	f.mu.Unlock()
	writeJSON(w, map[string]string{"status": "success"})
}

func (f *FakeOllama) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var user string
	for _, m := range req.Messages {
		if m.Role == "user" {
			user = m.Content
		}
	}

	f.mu.Lock()
	f.calls++
	chat := f.chat
	f.mu.Unlock()

	content := "{}"
	if chat != nil {
		content = chat(user)
	}
	writeJSON(w, map[string]any{
		"model":             req.Model,
		"message":           map[string]string{"role": "assistant", "content": content},
		"done":              true,
		"prompt_eval_count": len(user) / 4,
		"eval_count":        len(content) / 4,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
