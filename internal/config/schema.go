package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Config holds tabextract configuration.
// Stored at: ./tabextract.yaml or ~/.tabextract/config.yaml
type Config struct {
	Providers  map[string]ProviderCfg `mapstructure:"providers" yaml:"providers" validate:"required,dive"`
	Defaults   DefaultsCfg            `mapstructure:"defaults" yaml:"defaults"`
	Retry      RetryCfg               `mapstructure:"retry" yaml:"retry"`
	Batch      BatchCfg               `mapstructure:"batch" yaml:"batch"`
	Prompt     PromptCfg              `mapstructure:"prompt" yaml:"prompt"`
	Table      TableCfg               `mapstructure:"table" yaml:"table"`
	Validation ValidationCfg          `mapstructure:"validation" yaml:"validation"`
	Log        LogCfg                 `mapstructure:"log" yaml:"log"`
	Ollama     OllamaCfg              `mapstructure:"ollama" yaml:"ollama"`
	Metrics    MetricsCfg             `mapstructure:"metrics" yaml:"metrics"`
}

// ProviderCfg configures a model endpoint.
type ProviderCfg struct {
	Type        string   `mapstructure:"type" yaml:"type" validate:"required,oneof=ollama openai mock"`
	BaseURL     string   `mapstructure:"base_url" yaml:"base_url" validate:"omitempty,url"`
	Model       string   `mapstructure:"model" yaml:"model"`
	APIKey      string   `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	Temperature float64  `mapstructure:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
	Timeout     Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`
	NumCtx      int      `mapstructure:"num_ctx" yaml:"num_ctx" validate:"gte=0"`
	KeepAlive   string   `mapstructure:"keep_alive" yaml:"keep_alive"`
	RateLimit   float64  `mapstructure:"rate_limit" yaml:"rate_limit" validate:"gte=0"` // requests per second
	Enabled     bool     `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultsCfg selects the provider and schema used when no flag is given.
type DefaultsCfg struct {
	Provider string `mapstructure:"provider" yaml:"provider" validate:"required"`
	Schema   string `mapstructure:"schema" yaml:"schema"`
}

// RetryCfg is the per-row attempt budget.
type RetryCfg struct {
	MaxAttempts   int      `mapstructure:"max_attempts" yaml:"max_attempts" validate:"gte=1,lte=20"`
	Backoff       string   `mapstructure:"backoff" yaml:"backoff" validate:"oneof=fixed linear"`
	BaseDelay     Duration `mapstructure:"base_delay" yaml:"base_delay" validate:"gte=0"`
	MaxDelay      Duration `mapstructure:"max_delay" yaml:"max_delay" validate:"gte=0"`
	MaxPriorChars int      `mapstructure:"max_prior_chars" yaml:"max_prior_chars" validate:"gte=0"`
}

// BatchCfg controls a run over a whole table.
type BatchCfg struct {
	Concurrency   int      `mapstructure:"concurrency" yaml:"concurrency" validate:"gte=1,lte=256"`
	RunTimeout    Duration `mapstructure:"run_timeout" yaml:"run_timeout" validate:"gte=0"`
	ReadyTimeout  Duration `mapstructure:"ready_timeout" yaml:"ready_timeout" validate:"gte=0"`
	CheckpointDir string   `mapstructure:"checkpoint_dir" yaml:"checkpoint_dir"`
	Trace         bool     `mapstructure:"trace" yaml:"trace"`
}

// PromptCfg overrides the embedded templates.
type PromptCfg struct {
	SystemTemplate string   `mapstructure:"system_template" yaml:"system_template"`
	UserTemplate   string   `mapstructure:"user_template" yaml:"user_template"`
	TextColumns    []string `mapstructure:"text_columns" yaml:"text_columns"`
}

// TableCfg controls how input tables are read.
type TableCfg struct {
	GroupBy   string `mapstructure:"group_by" yaml:"group_by"`
	Sheet     string `mapstructure:"sheet" yaml:"sheet"`
	Delimiter string `mapstructure:"delimiter" yaml:"delimiter" validate:"omitempty,len=1"`
}

// ValidationCfg controls response coercion.
type ValidationCfg struct {
	Lenient bool `mapstructure:"lenient" yaml:"lenient"`
}

// LogCfg controls the process logger.
type LogCfg struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
}

// OllamaCfg holds the local model container configuration.
type OllamaCfg struct {
	// ContainerName is the Docker container name (default: tabextract-ollama)
	ContainerName string `mapstructure:"container_name" yaml:"container_name" validate:"required"`
	// Image is the Docker image to use (default: ollama/ollama:latest)
	Image string `mapstructure:"image" yaml:"image" validate:"required"`
	// Port is the host port to bind (default: 11434)
	Port string `mapstructure:"port" yaml:"port" validate:"required,numeric"`
	// DataPath is the host directory for pulled models (default: ~/.tabextract/ollama)
	DataPath string `mapstructure:"data_path" yaml:"data_path"`
	GPU      bool   `mapstructure:"gpu" yaml:"gpu"`
}

// MetricsCfg configures the Prometheus endpoint. Empty Addr disables it.
type MetricsCfg struct {
	Addr string `mapstructure:"addr" yaml:"addr" validate:"omitempty,hostname_port"`
}

// GetProvider returns a provider config by name.
func (c *Config) GetProvider(name string) (ProviderCfg, bool) {
	cfg, ok := c.Providers[name]
	return cfg, ok
}

// EnabledProviders returns all enabled providers.
func (c *Config) EnabledProviders() map[string]ProviderCfg {
	result := make(map[string]ProviderCfg)
	for name, cfg := range c.Providers {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}

// Duration is a time.Duration that reads from and writes to config files
// as a string such as "500ms". Bare numbers are read as seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalYAML implements the yaml.v2 and yaml.v3 Marshaler interfaces.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

var durationType = reflect.TypeOf(Duration(0))

// durationHook decodes strings and numbers into Duration.
func durationHook() mapstructure.DecodeHookFuncType {
	return func(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != durationType {
			return data, nil
		}
		switch v := data.(type) {
		case Duration:
			return v, nil
		case time.Duration:
			return Duration(v), nil
		case string:
			v = strings.TrimSpace(v)
			if v == "" {
				return Duration(0), nil
			}
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("invalid duration %q: %w", v, err)
			}
			return Duration(d), nil
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		}
		return data, nil
	}
}
