package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tabextract/internal/config"
	"github.com/jackzampolin/tabextract/internal/home"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage configuration.

Settings come from built-in defaults, then the config file
(./tabextract.yaml or ~/.tabextract/config.yaml, or --config), then
TABEXTRACT_* environment variables, e.g. TABEXTRACT_BATCH_CONCURRENCY=4.`,
	}
	cmd.AddCommand(newConfigInitCmd(root), newConfigShowCmd())
	return cmd
}

func newConfigInitCmd(root *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a commented default config file",
		Annotations: map[string]string{skipServices: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := root.cfgFile
			if path == "" {
				h, err := home.New(root.homeDir)
				if err != nil {
					return err
				}
				if err := h.EnsureExists(); err != nil {
					return fmt.Errorf("failed to create home directory: %w", err)
				}
				path = h.ConfigPath()
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := mustServices(cmd)
			if err != nil {
				return err
			}
			out, err := svc.Config.Get().Redacted()
			if err != nil {
				return err
			}
			if f := svc.Config.ConfigFile(); f != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", f)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
