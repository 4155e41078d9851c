package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tabextract/internal/config"
	"github.com/jackzampolin/tabextract/internal/logging"
	"github.com/jackzampolin/tabextract/internal/ollama"
	"github.com/jackzampolin/tabextract/internal/providers"
	"github.com/jackzampolin/tabextract/internal/svcctx"
)

type ollamaStatus struct {
	Container string   `json:"container" yaml:"container"`
	Status    string   `json:"status" yaml:"status"`
	URL       string   `json:"url" yaml:"url"`
	Health    string   `json:"health,omitempty" yaml:"health,omitempty"`
	Models    []string `json:"models,omitempty" yaml:"models,omitempty"`
}

func newOllamaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ollama",
		Short: "Manage the local Ollama container",
		Long: `Manage a local Ollama model server running in Docker.

Models are stored in ~/.tabextract/ollama (ollama.data_path) so they
survive container removal.

Examples:
  tabextract ollama start --pull   # start the server and pull the default model
  tabextract ollama status
  tabextract ollama pull qwen2.5:7b
  tabextract ollama logs --tail 50
  tabextract ollama stop`,
	}
	cmd.AddCommand(
		newOllamaStartCmd(),
		newOllamaStopCmd(),
		newOllamaStatusCmd(),
		newOllamaLogsCmd(),
		newOllamaRemoveCmd(),
		newOllamaPullCmd(),
	)
	return cmd
}

// dockerManager builds the container manager from config.
func dockerManager(svc *svcctx.Services) (*ollama.DockerManager, error) {
	cfg := svc.Config.Get()
	dataPath := cfg.OllamaDataPath(svc.Home)
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return ollama.NewDockerManager(ollama.DockerConfig{
		ContainerName: cfg.Ollama.ContainerName,
		HomePath:      svc.Home.Path(),
		Image:         cfg.Ollama.Image,
		DataPath:      dataPath,
		HostPort:      cfg.Ollama.Port,
		GPU:           cfg.Ollama.GPU,
	})
}

// defaultModel is the model of the default provider when it is an Ollama
// provider, else the Ollama default.
func defaultModel(cfg *config.Config) string {
	if p, ok := cfg.GetProvider(cfg.Defaults.Provider); ok && p.Type == providers.OllamaName && p.Model != "" {
		return p.Model
	}
	return providers.OllamaDefaultModel
}

// pullClient talks to the managed server without a request timeout;
// pulls run as long as the command context allows.
func pullClient(url, model string) *providers.OllamaClient {
	return providers.NewOllamaClient(providers.OllamaConfig{
		BaseURL:    url,
		Model:      model,
		HTTPClient: &http.Client{},
	})
}

func newOllamaStartCmd() *cobra.Command {
	var pull bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the Ollama container",
		Long: `Start the Ollama container.

If the container doesn't exist, it is created and started. If it exists
but is stopped, it is started. If it's already running, this is a no-op.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := mustServices(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			logger := logging.Component(svc.Logger.Logger, "ollama")

			mgr, err := dockerManager(svc)
			if err != nil {
				return err
			}
			defer mgr.Close()

			if err := mgr.ValidateExisting(ctx); err != nil {
				return fmt.Errorf("%w (remove it with 'tabextract ollama remove')", err)
			}
			logger.Info("starting ollama", "container", mgr.ContainerName())
			if err := mgr.Start(ctx); err != nil {
				return fmt.Errorf("failed to start ollama: %w", err)
			}
			logger.Info("ollama is running", "url", mgr.URL())

			if pull {
				model := defaultModel(svc.Config.Get())
				if _, err := ollama.EnsureModel(ctx, pullClient(mgr.URL(), model), model, logger); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&pull, "pull", false, "pull the default provider's model if missing")
	return cmd
}

func newOllamaStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the Ollama container (models are kept)",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := mustServices(cmd)
			if err != nil {
				return err
			}
			mgr, err := dockerManager(svc)
			if err != nil {
				return err
			}
			defer mgr.Close()

			if err := mgr.Stop(cmd.Context()); err != nil {
				return fmt.Errorf("failed to stop ollama: %w", err)
			}
			svc.Logger.Info("ollama stopped", "container", mgr.ContainerName())
			return nil
		},
	}
}

func newOllamaRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove",
		Short: "Remove the Ollama container (models are kept)",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := mustServices(cmd)
			if err != nil {
				return err
			}
			mgr, err := dockerManager(svc)
			if err != nil {
				return err
			}
			defer mgr.Close()

			if err := mgr.Remove(cmd.Context()); err != nil {
				return fmt.Errorf("failed to remove container: %w", err)
			}
			svc.Logger.Info("ollama container removed", "container", mgr.ContainerName())
			return nil
		},
	}
}

func newOllamaStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show Ollama container status and installed models",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := mustServices(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			mgr, err := dockerManager(svc)
			if err != nil {
				return err
			}
			defer mgr.Close()

			status, err := mgr.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			report := ollamaStatus{Container: mgr.ContainerName(), Status: string(status), URL: mgr.URL()}
			if status == ollama.StatusRunning {
				models, err := pullClient(mgr.URL(), "").ListModels(ctx)
				if err != nil {
					report.Health = "unhealthy: " + err.Error()
				} else {
					report.Health = "healthy"
					report.Models = models
				}
			}
			return svc.Printer.Print(report)
		},
	}
}

func newOllamaLogsCmd() *cobra.Command {
	var tail string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show Ollama container logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := mustServices(cmd)
			if err != nil {
				return err
			}
			mgr, err := dockerManager(svc)
			if err != nil {
				return err
			}
			defer mgr.Close()

			logs, err := mgr.Logs(cmd.Context(), tail)
			if err != nil {
				return fmt.Errorf("failed to get logs: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), logs)
			return nil
		},
	}
	cmd.Flags().StringVar(&tail, "tail", "100", "number of lines to show from the end")
	return cmd
}

func newOllamaPullCmd() *cobra.Command {
	var (
		url  string
		wait time.Duration
	)

	cmd := &cobra.Command{
		Use:   "pull [model]",
		Short: "Pull a model onto the Ollama server",
		Long: `Pull a model onto the Ollama server. Without an argument the default
provider's model is pulled. The server is the managed container unless
--url is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := mustServices(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			model := defaultModel(svc.Config.Get())
			if len(args) == 1 {
				model = args[0]
			}

			if url == "" {
				mgr, err := dockerManager(svc)
				if err != nil {
					return err
				}
				defer mgr.Close()
				if err := mgr.WaitReady(ctx, wait); err != nil {
					return fmt.Errorf("ollama not ready (run 'tabextract ollama start'): %w", err)
				}
				url = mgr.URL()
			}

			pulled, err := ollama.EnsureModel(ctx, pullClient(url, model), model, logging.Component(svc.Logger.Logger, "ollama"))
			if err != nil {
				return err
			}
			return svc.Printer.Print(map[string]any{"model": model, "server": url, "pulled": pulled})
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Ollama server URL (default: the managed container)")
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "how long to wait for the server")
	return cmd
}
