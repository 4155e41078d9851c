package ollama

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackzampolin/tabextract/internal/providers"
)

// HasModel reports whether model is installed. A bare name matches its
// ":latest" tag.
func HasModel(installed []string, model string) bool {
	for _, m := range installed {
		if m == model || strings.TrimSuffix(m, ":latest") == model {
			return true
		}
	}
	return false
}

// EnsureModel pulls model onto the server behind client unless it is
// already installed. It returns true when a pull happened.
func EnsureModel(ctx context.Context, client *providers.OllamaClient, model string, logger *slog.Logger) (bool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if model == "" {
		model = client.Model()
	}

	installed, err := client.ListModels(ctx)
	if err != nil {
		return false, fmt.Errorf("list models on %s: %w", client.BaseURL(), err)
	}
	if HasModel(installed, model) {
		logger.Debug("model already installed", "model", model)
		return false, nil
	}

	logger.Info("pulling model", "model", model, "server", client.BaseURL())
	if err := client.Pull(ctx, model); err != nil {
		return false, err
	}
	logger.Info("model ready", "model", model)
	return true, nil
}
