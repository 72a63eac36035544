// Command vtcode is the interactive coding agent CLI: it wires the LLM
// provider, the tool registry, the transactional patch applicator, and the
// context trimmer into a single conversational run loop.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "vtcode",
		Short: "vtcode is a terminal coding agent",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to vtcode.yaml (defaults to baseline config)")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd(&configPath))
	return root
}
