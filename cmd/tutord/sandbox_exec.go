package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/edulab/tutor/internal/sandbox"
)

// newSandboxExecCmd is the hidden child half of the process sandbox:
// the parent re-executes this binary under ulimit ceilings, pipes the
// normalized submission on stdin, and decodes the Result JSON from
// stdout.
func newSandboxExecCmd() *cobra.Command {
	var (
		timeout     time.Duration
		outputLimit int
	)

	cmd := &cobra.Command{
		Use:    "sandbox-exec",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
			if err != nil {
				return fmt.Errorf("read submission: %w", err)
			}

			backend := sandbox.NewInterpBackend()
			result, err := backend.Execute(context.Background(), string(code), sandbox.Config{
				Timeout:     timeout,
				OutputLimit: outputLimit,
			})
			if err != nil {
				return err
			}

			return json.NewEncoder(os.Stdout).Encode(result)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Execution deadline")
	cmd.Flags().IntVar(&outputLimit, "output-limit", 16*1024, "Captured output ceiling in bytes")
	return cmd
}
