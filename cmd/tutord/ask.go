package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/edulab/tutor/internal/config"
)

func newAskCmd() *cobra.Command {
	var showTrace bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question and print the answer",
		Args:  cobra.MinimumNArgs(1),
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

			question := strings.Join(args, " ")
			sess := comps.sessions.Resolve("")
			res := comps.agent.Respond(ctx, question, sess.Conversation, sess.Registry)

			if showTrace {
				for _, rec := range res.Records {
					fmt.Fprintf(os.Stderr, "[%s] %s\n%s\n\n", rec.Tool, rec.Input, rec.Observation)
				}
			}
			fmt.Println(res.Answer)
			return nil
		},
	}

	cmd.Flags().BoolVar(&showTrace, "trace", false, "Print tool invocations to stderr")
	return cmd
}
