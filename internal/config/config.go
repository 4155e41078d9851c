package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/tabextract/internal/extract"
	"github.com/jackzampolin/tabextract/internal/home"
	"github.com/jackzampolin/tabextract/internal/providers"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TABEXTRACT"

// LocalConfigFile is looked up in the working directory before the home config.
const LocalConfigFile = "tabextract.yaml"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	v         *viper.Viper
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
	logger    *slog.Logger
}

// NewManager creates a new config manager and loads initial config.
// With an empty cfgFile it reads ./tabextract.yaml, then
// ~/.tabextract/config.yaml; neither is required.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
		logger:    slog.Default(),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// SetLogger sets the logger used for reload messages.
func (cm *Manager) SetLogger(logger *slog.Logger) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.logger = logger
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	v := cm.v
	setDefaults(v)

	// Environment variables with TABEXTRACT_ prefix, e.g. TABEXTRACT_RETRY_MAX_ATTEMPTS
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile == "" {
		cfgFile = findConfigFile()
	}
	if cfgFile == "" {
		return nil
	}

	v.SetConfigFile(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", cfgFile, err)
	}
	return nil
}

func findConfigFile() string {
	candidates := []string{LocalConfigFile}
	if h, err := home.New(""); err == nil {
		candidates = append(candidates, h.ConfigPath())
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// load parses the current viper state into a validated Config struct.
func (cm *Manager) load() (*Config, error) {
	cfg, err := decode(cm.v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationHook(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// ConfigFile returns the file the config was read from, if any.
func (cm *Manager) ConfigFile() string {
	return cm.v.ConfigFileUsed()
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration. A changed file that
// fails to load or validate is logged and ignored.
func (cm *Manager) WatchConfig() {
	if cm.v.ConfigFileUsed() == "" {
		return
	}
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()

		cm.mu.Lock()
		logger := cm.logger
		if err != nil {
			cm.mu.Unlock()
			logger.Warn("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		logger.Info("config reloaded", "file", e.Name)
		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

// Validate checks struct constraints and cross-field references.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	p, ok := c.Providers[c.Defaults.Provider]
	if !ok {
		return fmt.Errorf("%w: default provider %q is not configured", ErrInvalid, c.Defaults.Provider)
	}
	if !p.Enabled {
		return fmt.Errorf("%w: default provider %q is disabled", ErrInvalid, c.Defaults.Provider)
	}
	return nil
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envRef.ReplaceAllStringFunc(value, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// ToProviderRegistryConfig converts the config to a format suitable for providers.Registry.
// It resolves all ${ENV_VAR} references in API keys.
func (c *Config) ToProviderRegistryConfig() providers.RegistryConfig {
	cfg := providers.RegistryConfig{
		LLMProviders: make(map[string]providers.LLMProviderConfig, len(c.Providers)),
	}
	for name, p := range c.Providers {
		cfg.LLMProviders[name] = providers.LLMProviderConfig{
			Type:        p.Type,
			BaseURL:     p.BaseURL,
			Model:       p.Model,
			APIKey:      ResolveEnvVars(p.APIKey),
			Temperature: p.Temperature,
			Timeout:     p.Timeout.Std(),
			NumCtx:      p.NumCtx,
			KeepAlive:   p.KeepAlive,
			RateLimit:   p.RateLimit,
			Enabled:     p.Enabled,
		}
	}
	return cfg
}

// RetryPolicy returns the per-row attempt policy.
func (c *Config) RetryPolicy() extract.Policy {
	return extract.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		Backoff:     extract.Backoff(c.Retry.Backoff),
		BaseDelay:   c.Retry.BaseDelay.Std(),
		MaxDelay:    c.Retry.MaxDelay.Std(),
	}
}

// CheckpointDir returns the configured checkpoint directory, falling back
// to the home directory's.
func (c *Config) CheckpointDir(h *home.Dir) string {
	if c.Batch.CheckpointDir != "" {
		return c.Batch.CheckpointDir
	}
	return h.CheckpointsDir()
}

// OllamaDataPath returns the container data directory.
func (c *Config) OllamaDataPath(h *home.Dir) string {
	if c.Ollama.DataPath != "" {
		return c.Ollama.DataPath
	}
	return h.OllamaDataPath()
}

// Redacted returns the config as YAML with literal API keys masked.
// ${ENV_VAR} references are shown as written.
func (c *Config) Redacted() ([]byte, error) {
	out := *c
	out.Providers = make(map[string]ProviderCfg, len(c.Providers))
	for name, p := range c.Providers {
		if p.APIKey != "" && !envRef.MatchString(p.APIKey) {
			p.APIKey = "****"
		}
		out.Providers[name] = p
	}
	return yaml.Marshal(&out)
}
