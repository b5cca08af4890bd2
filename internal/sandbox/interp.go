package sandbox

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// InterpBackend executes admitted submissions in a yaegi interpreter.
// Each call gets a fresh interpreter with a symbol table restricted to
// the admission allow-list, so contexts never share mutable state and a
// submission cannot reach symbols outside the allowed packages even if
// the static check missed something.
type InterpBackend struct{}

// NewInterpBackend creates the interpreter backend.
func NewInterpBackend() *InterpBackend {
	return &InterpBackend{}
}

// Available always holds: the interpreter is pure Go.
func (b *InterpBackend) Available() bool { return true }

var (
	restrictedOnce    sync.Once
	restrictedSymbols interp.Exports
)

// restrictedStdlib filters yaegi's stdlib symbol table down to the
// admission allow-list. Symbol keys are "import/path/name".
func restrictedStdlib() interp.Exports {
	restrictedOnce.Do(func() {
		restrictedSymbols = make(interp.Exports, len(allowedImports))
		for pkg := range allowedImports {
			key := pkg + "/" + path.Base(pkg)
			if symbols, ok := stdlib.Symbols[key]; ok {
				restrictedSymbols[key] = symbols
			}
		}
	})
	return restrictedSymbols
}

// Execute runs a normalized submission under the configured limits.
func (b *InterpBackend) Execute(ctx context.Context, code string, cfg Config) (result Result, err error) {
	cfg = cfg.withDefaults()
	start := time.Now()

	out := newCapWriter(cfg.OutputLimit)

	execCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	i := interp.New(interp.Options{
		Stdout: out,
		Stderr: out,
	})
	if useErr := i.Use(restrictedStdlib()); useErr != nil {
		return Result{}, fmt.Errorf("load restricted symbols: %w", useErr)
	}

	// The interpreter can panic on pathological input; a panic in the
	// submission must resolve to Faulted, not take down the process.
	defer func() {
		if r := recover(); r != nil {
			result = Result{
				Verdict:   VerdictFaulted,
				Output:    out.String(),
				Reason:    sanitizeFault(fmt.Sprint(r)),
				Truncated: out.Truncated(),
				Duration:  time.Since(start),
			}
			err = nil
		}
	}()

	// Evaluating a package main file runs func main; no follow-up call.
	_, runErr := i.EvalWithContext(execCtx, code)

	elapsed := time.Since(start)

	if execCtx.Err() == context.DeadlineExceeded {
		return Result{
			Verdict:   VerdictExhausted,
			Output:    out.String(),
			Reason:    (&ErrResourceLimit{Resource: "time", Limit: cfg.Timeout.String()}).Error(),
			Truncated: out.Truncated(),
			Duration:  elapsed,
		}, nil
	}
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return Result{}, runErr
		}
		return Result{
			Verdict:   VerdictFaulted,
			Output:    out.String(),
			Reason:    sanitizeFault(runErr.Error()),
			Truncated: out.Truncated(),
			Duration:  elapsed,
		}, nil
	}

	return Result{
		Verdict:   VerdictAllowed,
		Output:    out.String(),
		Truncated: out.Truncated(),
		Duration:  elapsed,
	}, nil
}

var (
	// Stack frames, source positions, and file paths leak interpreter
	// internals. Frame lines are matched on shape, so a message line
	// whose path happens to pass through an interpreter directory keeps
	// its fault description.
	frameRE = regexp.MustCompile(`(?m)^\s*(goroutine \d+.*|github\.com/\S+.*|reflect\.Value\S*.*|interp\.\(\*\S+.*)$`)
	pathRE  = regexp.MustCompile(`\S*\.go:?`)
	posRE   = regexp.MustCompile(`\b\d+:\d+:?\s*`)
)

// sanitizeFault strips interpreter stack frames, source positions, and
// file paths from a fault message before it reaches the caller.
func sanitizeFault(msg string) string {
	msg = frameRE.ReplaceAllString(msg, "")
	msg = pathRE.ReplaceAllString(msg, "")
	msg = posRE.ReplaceAllString(msg, "")

	lines := make([]string, 0, 4)
	for _, line := range strings.Split(msg, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return "execution failed"
	}
	return strings.Join(lines, "; ")
}

// capWriter captures output up to a byte cap and discards the rest.
type capWriter struct {
	mu        sync.Mutex
	buf       strings.Builder
	limit     int
	truncated bool
}

func newCapWriter(limit int) *capWriter {
	return &capWriter{limit: limit}
}

func (w *capWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		w.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
		w.truncated = true
		return len(p), nil
	}
	w.buf.Write(p)
	return len(p), nil
}

func (w *capWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func (w *capWriter) Truncated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.truncated
}
