package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/edulab/tutor/internal/config"
	"github.com/edulab/tutor/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Expose the tutor's tools as an MCP server over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			comps, err := build(ctx, cfg)
			if err != nil {
				return err
			}
			defer comps.close()

			// MCP hosts are stateless callers: tools bind to the
			// shared knowledge partition.
			sess := comps.sessions.Resolve("")
			return mcp.ServeStdio(ctx, sess.Registry)
		},
	}
}
