package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/edulab/tutor/internal/config"
	"github.com/edulab/tutor/internal/semantic"
	"github.com/edulab/tutor/internal/server"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tutor HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			comps, err := build(ctx, cfg)
			if err != nil {
				return err
			}
			defer comps.close()

			if err := comps.sessions.StartSweeper(); err != nil {
				return err
			}
			defer comps.sessions.StopSweeper()

			opts := []server.Option{
				server.WithLogger(comps.logger),
				server.WithMetrics(comps.metrics),
				server.WithEmbedder(comps.embedder, semantic.NewChunker(0, 0)),
			}
			if cfg.Server.APIKey != "" {
				opts = append(opts, server.WithAPIKey(cfg.Server.APIKey))
			}
			if cfg.Server.RateLimit != "" {
				opts = append(opts, server.WithRateLimit(server.ParseRateLimit(cfg.Server.RateLimit)))
			}
			srv := server.New(comps.agent, comps.sessions, opts...)

			// Live reload swaps the loop's model and budgets; stores
			// and listeners keep running untouched.
			go func() {
				err := config.Watch(ctx, configPath, comps.logger, func(next *config.Config) {
					ag, err := buildAgent(next, comps.logger, comps.metrics)
					if err != nil {
						comps.logger.Warn("reload kept previous agent", "error", err)
						return
					}
					srv.SwapAgent(ag)
				})
				if err != nil && !errors.Is(err, context.Canceled) {
					comps.logger.Warn("config watcher stopped", "error", err)
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.ListenAndServe(cfg.Server.Addr)
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
				comps.logger.Info("shutting down")
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	return cmd
}
