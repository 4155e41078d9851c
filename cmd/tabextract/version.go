package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/tabextract/internal/output"
	"github.com/jackzampolin/tabextract/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipServices: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := output.ParseFormat(cmd.Flag("output-format").Value.String())
			if err != nil {
				return err
			}
			return output.To(cmd.OutOrStdout(), format, version.Get())
		},
	}
}
