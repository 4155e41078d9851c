package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrNoDefault is returned when no default value exists for a config key.
var ErrNoDefault = errors.New("no default exists")

// Entry is one default configuration value.
type Entry struct {
	Key         string
	Value       any
	Description string
}

// DefaultEntries returns the default configuration entries.
// They are registered with viper key by key so environment overrides work
// for every leaf, and rendered with their descriptions by WriteDefault.
func DefaultEntries() []Entry {
	return []Entry{
		// Providers - Ollama
		{Key: "providers.ollama.type", Value: "ollama", Description: "Native Ollama chat API with JSON Schema structured output"},
		{Key: "providers.ollama.base_url", Value: "http://localhost:11434", Description: "Ollama server URL"},
		{Key: "providers.ollama.model", Value: "llama3.2", Description: "Model tag; must be pulled first (tabextract ollama pull)"},
		{Key: "providers.ollama.temperature", Value: 0.0, Description: "Sampling temperature"},
		{Key: "providers.ollama.timeout", Value: "120s", Description: "Timeout for a single model call"},
		{Key: "providers.ollama.num_ctx", Value: 8192, Description: "Context window in tokens (0 keeps the model default)"},
		{Key: "providers.ollama.keep_alive", Value: "5m", Description: "How long the model stays loaded between calls"},
		{Key: "providers.ollama.rate_limit", Value: 0.0, Description: "Requests per second (0 for unlimited)"},
		{Key: "providers.ollama.enabled", Value: true, Description: "Whether the Ollama provider is enabled"},

		// Providers - OpenAI-compatible local server
		{Key: "providers.openai.type", Value: "openai", Description: "Any OpenAI-compatible server (llama.cpp, vLLM, LM Studio)"},
		{Key: "providers.openai.base_url", Value: "http://localhost:8080/v1", Description: "Server URL including the /v1 prefix"},
		{Key: "providers.openai.model", Value: "local-model", Description: "Model name as the server reports it"},
		{Key: "providers.openai.api_key", Value: "${OPENAI_API_KEY}", Description: "API key (uses environment variable)"},
		{Key: "providers.openai.temperature", Value: 0.0, Description: "Sampling temperature"},
		{Key: "providers.openai.timeout", Value: "120s", Description: "Timeout for a single model call"},
		{Key: "providers.openai.rate_limit", Value: 0.0, Description: "Requests per second (0 for unlimited)"},
		{Key: "providers.openai.enabled", Value: false, Description: "Whether the OpenAI-compatible provider is enabled"},

		// Defaults
		{Key: "defaults.provider", Value: "ollama", Description: "Provider used when --provider is not given"},
		{Key: "defaults.schema", Value: "", Description: "Schema file or built-in name used when --schema is not given"},

		// Retry
		{Key: "retry.max_attempts", Value: 3, Description: "Model calls per row before it is marked failed"},
		{Key: "retry.backoff", Value: "linear", Description: "Wait between attempts: fixed or linear"},
		{Key: "retry.base_delay", Value: "500ms", Description: "First wait between attempts"},
		{Key: "retry.max_delay", Value: "5s", Description: "Upper bound on the wait between attempts"},
		{Key: "retry.max_prior_chars", Value: 4000, Description: "Previous answer is truncated to this many characters in repair prompts"},

		// Batch
		{Key: "batch.concurrency", Value: 1, Description: "Rows processed at once"},
		{Key: "batch.run_timeout", Value: "0s", Description: "Stop dispatching rows after this long (0 for no limit)"},
		{Key: "batch.ready_timeout", Value: "30s", Description: "How long to wait for the model server before a run"},
		{Key: "batch.checkpoint_dir", Value: "", Description: "Checkpoint directory (empty for ~/.tabextract/checkpoints)"},
		{Key: "batch.trace", Value: false, Description: "Record every attempt to a trace file next to the checkpoint"},

		// Prompt
		{Key: "prompt.system_template", Value: "", Description: "Twig file replacing the built-in system prompt"},
		{Key: "prompt.user_template", Value: "", Description: "Twig file replacing the built-in user prompt"},
		{Key: "prompt.text_columns", Value: []string{}, Description: "Columns embedded in the prompt (empty for all)"},

		// Table
		{Key: "table.group_by", Value: "", Description: "Merge rows sharing this column before extraction"},
		{Key: "table.sheet", Value: "", Description: "XLSX sheet to read (empty for the first)"},
		{Key: "table.delimiter", Value: "", Description: "Field delimiter override for delimited files"},

		// Validation
		{Key: "validation.lenient", Value: true, Description: "Accept yes/no booleans, numbers with units and case-insensitive enums"},

		// Log
		{Key: "log.level", Value: "info", Description: "debug, info, warn or error"},
		{Key: "log.format", Value: "text", Description: "text or json"},

		// Ollama container
		{Key: "ollama.container_name", Value: "tabextract-ollama", Description: "Docker container name for the local model server"},
		{Key: "ollama.image", Value: "ollama/ollama:latest", Description: "Docker image for the local model server"},
		{Key: "ollama.port", Value: "11434", Description: "Host port for the local model server"},
		{Key: "ollama.data_path", Value: "", Description: "Host directory for pulled models (empty for ~/.tabextract/ollama)"},
		{Key: "ollama.gpu", Value: false, Description: "Request all GPUs for the container"},

		// Metrics
		{Key: "metrics.addr", Value: "", Description: "Serve Prometheus metrics on this address during runs (empty to disable)"},
	}
}

// GetDefault returns the default value for a key.
func GetDefault(key string) (any, error) {
	for _, e := range DefaultEntries() {
		if e.Key == key {
			return e.Value, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoDefault, key)
}

// setDefaults registers every default entry with v.
func setDefaults(v *viper.Viper) {
	for _, e := range DefaultEntries() {
		v.SetDefault(e.Key, e.Value)
	}
}

// DefaultConfig returns configuration with every default applied.
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		// Defaults are static; failing to decode them is a programming error.
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

// WriteDefault writes the default configuration, with a comment above each
// key, to the specified path.
func WriteDefault(path string) error {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range DefaultEntries() {
		if err := insert(root, strings.Split(e.Key, "."), e); err != nil {
			return fmt.Errorf("failed to render %s: %w", e.Key, err)
		}
	}
	doc := &yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: "tabextract configuration\nAPI keys use ${ENV_VAR} syntax to reference environment variables\nEvery key can be overridden with TABEXTRACT_<SECTION>_<KEY>, e.g. TABEXTRACT_RETRY_MAX_ATTEMPTS=5",
		Content:     []*yaml.Node{root},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// insert places e under the mapping node m, creating intermediate mappings.
func insert(m *yaml.Node, path []string, e Entry) error {
	for i := 0; i < len(m.Content); i += 2 {
		if m.Content[i].Value != path[0] {
			continue
		}
		if len(path) == 1 {
			return fmt.Errorf("duplicate key")
		}
		return insert(m.Content[i+1], path[1:], e)
	}

	key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: path[0]}
	if len(path) > 1 {
		child := &yaml.Node{Kind: yaml.MappingNode}
		m.Content = append(m.Content, key, child)
		return insert(child, path[1:], e)
	}

	val := &yaml.Node{}
	if err := val.Encode(e.Value); err != nil {
		return err
	}
	if val.Kind == yaml.SequenceNode {
		val.Style = yaml.FlowStyle
	}
	key.HeadComment = e.Description
	m.Content = append(m.Content, key, val)
	return nil
}
