package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vtcode-ai/vtcode/internal/config"
	"github.com/vtcode-ai/vtcode/internal/workspace"
)

func newInitCmd(configPath *string) *cobra.Command {
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Seed AGENTS.md, CONVENTIONS.md, and MEMORY.md in the workspace root",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			files := workspace.BootstrapFilesForConfig(cfg)
			result, err := workspace.EnsureWorkspaceFiles(cfg.Workspace.Path, files, overwrite)
			if err != nil {
				return fmt.Errorf("bootstrap workspace: %w", err)
			}

			for _, path := range result.Created {
				fmt.Printf("created %s\n", path)
			}
			for _, path := range result.Skipped {
				fmt.Printf("skipped %s (already exists)\n", path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "force", false, "overwrite existing workspace files")
	return cmd
}
