package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"time"
)

// ProcessBackend executes submissions in a child process under OS-level
// resource limits. The child is this same binary invoked with a hidden
// subcommand that runs the interpreter backend and prints the Result as
// JSON; a bash wrapper applies ulimit ceilings so the memory limit is
// enforced by the host rather than by language-level accounting.
type ProcessBackend struct {
	// Subcommand invoked on the re-executed binary.
	Subcommand string
}

// NewProcessBackend creates the process backend.
func NewProcessBackend() *ProcessBackend {
	return &ProcessBackend{Subcommand: "sandbox-exec"}
}

// Available reports whether OS-level limits are supported here.
func (p *ProcessBackend) Available() bool {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		return false
	}
	_, err := exec.LookPath("bash")
	return err == nil
}

// Execute runs a normalized submission in a limited child process.
func (p *ProcessBackend) Execute(ctx context.Context, code string, cfg Config) (Result, error) {
	cfg = cfg.withDefaults()
	start := time.Now()

	if !p.Available() {
		return Result{}, fmt.Errorf("process sandbox not available on %s", runtime.GOOS)
	}

	self, err := os.Executable()
	if err != nil {
		return Result{}, fmt.Errorf("resolve executable: %w", err)
	}

	scratchDir, err := os.MkdirTemp("", "tutor-sandbox-*")
	if err != nil {
		return Result{}, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(scratchDir) }()

	wrapperPath := filepath.Join(scratchDir, "wrapper.sh")
	wrapper := p.buildWrapperScript(self, cfg)
	if err := os.WriteFile(wrapperPath, []byte(wrapper), 0o700); err != nil {
		return Result{}, fmt.Errorf("write wrapper: %w", err)
	}

	// Give the child a grace period past the interpreter timeout before
	// the hard kill, so a clean Exhausted result can make it out.
	execCtx, cancel := context.WithTimeout(ctx, cfg.Timeout+2*time.Second)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "bash", wrapperPath)
	cmd.Dir = scratchDir
	cmd.Stdin = bytes.NewReader([]byte(code))
	// Minimal environment; never inherit the host's.
	cmd.Env = []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + scratchDir,
		"TMPDIR=" + scratchDir,
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	elapsed := time.Since(start)

	if execCtx.Err() == context.DeadlineExceeded {
		return Result{
			Verdict:  VerdictExhausted,
			Reason:   (&ErrResourceLimit{Resource: "time", Limit: cfg.Timeout.String()}).Error(),
			Duration: elapsed,
		}, nil
	}
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok && exitErr.ExitCode() == 137 {
			return Result{
				Verdict:  VerdictExhausted,
				Reason:   (&ErrResourceLimit{Resource: "memory", Limit: fmt.Sprintf("%dMB", cfg.MemoryMB)}).Error(),
				Duration: elapsed,
			}, nil
		}
		return Result{}, fmt.Errorf("sandbox child failed: %w: %s", runErr, stderr.String())
	}

	var result Result
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return Result{}, fmt.Errorf("decode sandbox child result: %w", err)
	}
	result.Duration = elapsed
	return result, nil
}

func (p *ProcessBackend) buildWrapperScript(self string, cfg Config) string {
	var script bytes.Buffer
	script.WriteString("#!/bin/bash\nset -e\n")

	// Memory ceiling via ulimit, in KB.
	fmt.Fprintf(&script, "ulimit -v %d 2>/dev/null || true\n", cfg.MemoryMB*1024)
	// File size and process count ceilings.
	script.WriteString("ulimit -f 16384 2>/dev/null || true\n")
	script.WriteString("ulimit -u 64 2>/dev/null || true\n")

	fmt.Fprintf(&script, "exec %s %s --timeout %s --output-limit %d\n",
		strconv.Quote(self), p.Subcommand, cfg.Timeout, cfg.OutputLimit)
	return script.String()
}
