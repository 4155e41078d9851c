package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/tabextract/internal/extract"
	"github.com/jackzampolin/tabextract/internal/home"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return configFile
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
	if cfg.Defaults.Provider != "ollama" {
		t.Errorf("expected default provider ollama, got %s", cfg.Defaults.Provider)
	}
	if got := cfg.Providers["ollama"].Timeout.Std(); got != 120*time.Second {
		t.Errorf("expected 120s ollama timeout, got %s", got)
	}
	if cfg.Providers["openai"].APIKey != "${OPENAI_API_KEY}" {
		t.Error("expected openai API key placeholder")
	}
	if want := extract.DefaultPolicy(); cfg.RetryPolicy() != want {
		t.Errorf("RetryPolicy() = %+v, want %+v", cfg.RetryPolicy(), want)
	}
	if !cfg.Validation.Lenient {
		t.Error("expected lenient validation by default")
	}
	if cfg.Retry.MaxPriorChars != 4000 {
		t.Errorf("expected max_prior_chars 4000, got %d", cfg.Retry.MaxPriorChars)
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		t.Setenv("TEST_API_KEY", "secret123")
		if result := ResolveEnvVars("${TEST_API_KEY}"); result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		if result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}"); result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		if result := ResolveEnvVars("literal-value"); result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestToProviderRegistryConfig(t *testing.T) {
	t.Setenv("TEST_LOCAL_KEY", "local-key-123")

	cfg := DefaultConfig()
	p := cfg.Providers["openai"]
	p.APIKey = "${TEST_LOCAL_KEY}"
	cfg.Providers["openai"] = p

	reg := cfg.ToProviderRegistryConfig()
	if got := reg.LLMProviders["openai"].APIKey; got != "local-key-123" {
		t.Errorf("expected resolved key, got %s", got)
	}
	if got := reg.LLMProviders["ollama"].Timeout; got != 120*time.Second {
		t.Errorf("expected 120s timeout, got %s", got)
	}
	if !reg.LLMProviders["ollama"].Enabled || reg.LLMProviders["openai"].Enabled {
		t.Error("enabled flags not carried over")
	}
}

func TestNewManager(t *testing.T) {
	t.Run("loads from config file", func(t *testing.T) {
		configFile := writeConfig(t, `
retry:
  max_attempts: 5
  backoff: fixed
  base_delay: 2s
providers:
  local:
    type: openai
    base_url: http://127.0.0.1:8000/v1
    model: qwen
    enabled: true
defaults:
  provider: local
prompt:
  text_columns: [report, notes]
`)
		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}

		cfg := mgr.Get()
		if cfg.Retry.MaxAttempts != 5 || cfg.Retry.Backoff != "fixed" {
			t.Errorf("unexpected retry config %+v", cfg.Retry)
		}
		if cfg.Retry.BaseDelay.Std() != 2*time.Second {
			t.Errorf("expected 2s base delay, got %s", cfg.Retry.BaseDelay)
		}
		// Untouched keys keep their defaults.
		if cfg.Retry.MaxDelay.Std() != 5*time.Second {
			t.Errorf("expected default max delay, got %s", cfg.Retry.MaxDelay)
		}
		if cfg.Providers["local"].Model != "qwen" {
			t.Errorf("expected local provider, got %+v", cfg.Providers["local"])
		}
		if _, ok := cfg.Providers["ollama"]; !ok {
			t.Error("expected built-in ollama provider to remain")
		}
		if len(cfg.Prompt.TextColumns) != 2 {
			t.Errorf("expected two text columns, got %v", cfg.Prompt.TextColumns)
		}
		if mgr.ConfigFile() != configFile {
			t.Errorf("ConfigFile() = %s", mgr.ConfigFile())
		}
	})

	t.Run("environment overrides file", func(t *testing.T) {
		configFile := writeConfig(t, "batch:\n  concurrency: 2\n")
		t.Setenv("TABEXTRACT_BATCH_CONCURRENCY", "6")
		t.Setenv("TABEXTRACT_RETRY_MAX_DELAY", "9s")

		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		if got := mgr.Get().Batch.Concurrency; got != 6 {
			t.Errorf("expected concurrency 6, got %d", got)
		}
		if got := mgr.Get().Retry.MaxDelay.Std(); got != 9*time.Second {
			t.Errorf("expected 9s, got %s", got)
		}
	})

	t.Run("rejects invalid values", func(t *testing.T) {
		for name, content := range map[string]string{
			"backoff":         "retry:\n  backoff: exponential\n",
			"attempts":        "retry:\n  max_attempts: 0\n",
			"duration":        "retry:\n  base_delay: soon\n",
			"provider type":   "providers:\n  x:\n    type: cloud\n    enabled: true\n",
			"missing default": "defaults:\n  provider: nowhere\n",
			"log level":       "log:\n  level: loud\n",
		} {
			t.Run(name, func(t *testing.T) {
				if _, err := NewManager(writeConfig(t, content)); err == nil {
					t.Error("expected error")
				}
			})
		}
	})

	t.Run("validation errors wrap ErrInvalid", func(t *testing.T) {
		_, err := NewManager(writeConfig(t, "batch:\n  concurrency: 0\n"))
		if !errors.Is(err, ErrInvalid) {
			t.Errorf("expected ErrInvalid, got %v", err)
		}
	})

	t.Run("missing explicit file is an error", func(t *testing.T) {
		if _, err := NewManager(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("expected error")
		}
	})
}

func TestManager_OnChange_Multiple(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "log:\n  level: info\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})

	mgr.mu.RLock()
	if len(mgr.callbacks) != 3 {
		t.Errorf("expected 3 callbacks, got %d", len(mgr.callbacks))
	}
	mgr.mu.RUnlock()
}

func TestManager_Get_ThreadSafe(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "log:\n  level: info\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				_ = mgr.Get().Log.Level
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestManager_WatchConfig(t *testing.T) {
	configFile := writeConfig(t, "log:\n  level: info\n")

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	if mgr.Get().Log.Level != "info" {
		t.Fatalf("initial value mismatch: %s", mgr.Get().Log.Level)
	}

	var callbackCount atomic.Int32
	var lastValue atomic.Value
	mgr.OnChange(func(cfg *Config) {
		callbackCount.Add(1)
		lastValue.Store(cfg.Log.Level)
	})

	mgr.WatchConfig()

	// Give fsnotify time to set up the watcher
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(configFile, []byte("log:\n  level: debug\n"), 0o644); err != nil {
		t.Fatalf("failed to write updated config file: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if callbackCount.Load() > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if callbackCount.Load() == 0 {
		t.Fatal("callback was not invoked after config file change")
	}
	if got := mgr.Get().Log.Level; got != "debug" {
		t.Errorf("config not updated: expected debug, got %s", got)
	}
	if v := lastValue.Load(); v != "debug" {
		t.Errorf("callback received wrong value: expected debug, got %v", v)
	}
}

func TestRedacted(t *testing.T) {
	cfg := DefaultConfig()
	p := cfg.Providers["openai"]
	p.APIKey = "sk-literal"
	cfg.Providers["openai"] = p

	out, err := cfg.Redacted()
	if err != nil {
		t.Fatalf("Redacted() error = %v", err)
	}
	s := string(out)
	if strings.Contains(s, "sk-literal") {
		t.Error("literal key leaked")
	}
	if !strings.Contains(s, "base_delay: 500ms") {
		t.Errorf("expected durations as strings:\n%s", s)
	}
	if cfg.Providers["openai"].APIKey != "sk-literal" {
		t.Error("Redacted must not modify the config")
	}
}

func TestPathsFallBackToHome(t *testing.T) {
	h, _ := home.New("/tmp/tx")
	cfg := DefaultConfig()
	if got := cfg.CheckpointDir(h); got != "/tmp/tx/checkpoints" {
		t.Errorf("CheckpointDir() = %s", got)
	}
	cfg.Batch.CheckpointDir = "/data/ck"
	if got := cfg.CheckpointDir(h); got != "/data/ck" {
		t.Errorf("CheckpointDir() = %s", got)
	}
	if got := cfg.OllamaDataPath(h); got != "/tmp/tx/ollama" {
		t.Errorf("OllamaDataPath() = %s", got)
	}
}
