package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vtcode-ai/vtcode/internal/config"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the supported configuration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "vtcode config schema v%d\n", config.CurrentVersion)
			return nil
		},
	}
}
