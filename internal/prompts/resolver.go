package prompts

import (
	"embed"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
)

//go:embed templates/*.twig
var templateFS embed.FS

var embeddedDefaults = []struct {
	key, file, description string
}{
	{SystemPromptKey, "templates/system.twig", "System prompt: output contract and field list"},
	{UserPromptKey, "templates/user.twig", "User prompt: record text plus repair feedback on retries"},
}

// Resolver resolves prompts with file overrides.
// Resolution order: override file > embedded default
type Resolver struct {
	embedded  map[string]EmbeddedPrompt
	overrides map[string]ResolvedPrompt
	mu        sync.RWMutex
	logger    *slog.Logger
}

// NewResolver creates a resolver with the embedded defaults registered.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		embedded:  make(map[string]EmbeddedPrompt),
		overrides: make(map[string]ResolvedPrompt),
		logger:    logger,
	}
	for _, d := range embeddedDefaults {
		text, err := templateFS.ReadFile(d.file)
		if err != nil {
			panic(fmt.Sprintf("embedded prompt %s missing: %v", d.file, err))
		}
		r.Register(EmbeddedPrompt{Key: d.key, Text: string(text), Description: d.description})
	}
	return r
}

// Register registers an embedded prompt.
func (r *Resolver) Register(prompt EmbeddedPrompt) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prompt.Hash == "" {
		prompt.Hash = HashText(prompt.Text)
	}
	if prompt.Variables == nil {
		prompt.Variables = ExtractVariables(prompt.Text)
	}

	r.embedded[prompt.Key] = prompt
	r.logger.Debug("registered embedded prompt", "key", prompt.Key, "vars", prompt.Variables)
}

// Override replaces the template for key with text.
func (r *Resolver) Override(key, text, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.embedded[key]; !ok {
		return fmt.Errorf("prompt not found: %s", key)
	}
	r.overrides[key] = ResolvedPrompt{
		Key:        key,
		Text:       text,
		Variables:  ExtractVariables(text),
		Hash:       HashText(text),
		IsOverride: true,
		Source:     source,
	}
	return nil
}

// OverrideFile replaces the template for key with the contents of path.
func (r *Resolver) OverrideFile(key, path string) error {
	text, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read prompt override %s: %w", path, err)
	}
	if err := r.Override(key, string(text), path); err != nil {
		return err
	}
	r.logger.Info("using prompt override", "key", key, "path", path)
	return nil
}

// Resolve returns the override for key if one is set, otherwise the embedded default.
func (r *Resolver) Resolve(key string) (*ResolvedPrompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if o, ok := r.overrides[key]; ok {
		return &o, nil
	}
	embedded, ok := r.embedded[key]
	if !ok {
		return nil, fmt.Errorf("prompt not found: %s", key)
	}
	return &ResolvedPrompt{
		Key:       key,
		Text:      embedded.Text,
		Variables: embedded.Variables,
		Hash:      embedded.Hash,
		Source:    "embedded",
	}, nil
}

// GetEmbedded returns the embedded default for a key, ignoring overrides.
func (r *Resolver) GetEmbedded(key string) (*EmbeddedPrompt, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.embedded[key]
	return &p, ok
}

// AllEmbedded returns all registered embedded prompts sorted by key.
func (r *Resolver) AllEmbedded() []EmbeddedPrompt {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]EmbeddedPrompt, 0, len(r.embedded))
	for _, p := range r.embedded {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}
