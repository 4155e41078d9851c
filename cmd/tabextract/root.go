package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tabextract/internal/config"
	"github.com/jackzampolin/tabextract/internal/home"
	"github.com/jackzampolin/tabextract/internal/logging"
	"github.com/jackzampolin/tabextract/internal/output"
	"github.com/jackzampolin/tabextract/internal/providers"
	"github.com/jackzampolin/tabextract/internal/svcctx"
	"github.com/jackzampolin/tabextract/version"
)

// skipServices marks commands that run without loading the config.
const skipServices = "skip-services"

type rootOptions struct {
	cfgFile      string
	homeDir      string
	outputFormat string
	logLevel     string
	logFormat    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "tabextract",
		Short: "Extract structured fields from table rows with a local LLM",
		Long: `tabextract reads a CSV, TSV or XLSX file, asks a language model to fill a
schema for every row, validates each answer and retries with repair
feedback, then writes the input table back out with one column per field.

Progress is checkpointed after every row, so an interrupted run resumes
where it stopped.`,
		Version:      version.GitRelease,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipServices] == "true" {
				return nil
			}
			svc, err := opts.services(cmd)
			if err != nil {
				return err
			}
			cmd.SetContext(svcctx.WithServices(cmd.Context(), svc))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(
		&opts.cfgFile, "config", "", "config file (default: ./tabextract.yaml or ~/.tabextract/config.yaml)",
	)
	cmd.PersistentFlags().StringVar(
		&opts.homeDir, "home", "", "tabextract home directory (default: ~/.tabextract)",
	)
	cmd.PersistentFlags().StringVar(
		&opts.outputFormat, "output-format", "yaml", "result output format: yaml or json",
	)
	cmd.PersistentFlags().StringVar(
		&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)",
	)
	cmd.PersistentFlags().StringVar(
		&opts.logFormat, "log-format", "", "log format: text or json (overrides config)",
	)

	cmd.AddCommand(
		newRunCmd(),
		newEstimateCmd(),
		newSchemaCmd(),
		newOllamaCmd(),
		newConfigCmd(opts),
		newTraceCmd(),
		newVersionCmd(),
	)
	return cmd
}

// services loads config and builds the shared services for a command.
func (o *rootOptions) services(cmd *cobra.Command) (*svcctx.Services, error) {
	format, err := output.ParseFormat(o.outputFormat)
	if err != nil {
		return nil, err
	}

	h, err := home.New(o.homeDir)
	if err != nil {
		return nil, err
	}

	mgr, err := config.NewManager(o.cfgFile)
	if err != nil {
		return nil, err
	}
	cfg := mgr.Get()

	logCfg := logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cmd.ErrOrStderr()}
	if o.logLevel != "" {
		logCfg.Level = o.logLevel
	}
	if o.logFormat != "" {
		logCfg.Format = o.logFormat
	}
	logger := logging.Setup(logCfg)
	mgr.SetLogger(logging.Component(logger.Logger, "config"))

	registry := providers.NewRegistry()
	registry.SetLogger(logging.Component(logger.Logger, "providers"))
	registry.Reload(cfg.ToProviderRegistryConfig())

	if f := mgr.ConfigFile(); f != "" {
		logger.Debug("loaded config", "file", f)
	}

	return &svcctx.Services{
		Config:   mgr,
		Registry: registry,
		Logger:   logger,
		Home:     h,
		Printer:  output.Printer{W: cmd.OutOrStdout(), Format: format},
	}, nil
}

// mustServices returns the services attached by the root command.
func mustServices(cmd *cobra.Command) (*svcctx.Services, error) {
	svc := svcctx.ServicesFrom(cmd.Context())
	if svc == nil {
		return nil, fmt.Errorf("services not initialized")
	}
	return svc, nil
}
