// Package main is the entry point for the tutord server and CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var version = "0.1.0"

// Global flags.
var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tutord",
		Short: "Interactive programming tutor",
		Long: `Tutord answers programming questions with a bounded reasoning loop,
runs untrusted snippets in a restricted sandbox, and grounds answers in
uploaded reference documents. It serves HTTP, answers one-shot questions,
and can expose its tools over MCP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "tutor.yaml", "Path to config file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newAskCmd())
	root.AddCommand(newMCPCmd())
	root.AddCommand(newSandboxExecCmd())
	root.AddCommand(newVersionCmd())

	return root
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
