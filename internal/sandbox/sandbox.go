// Package sandbox runs untrusted code submissions under enforced limits.
//
// Execution is two-phase: a static admission check over the parsed source
// rejects forbidden imports and identifiers before any execution resources
// are allocated, then the admitted code runs in an isolated interpreter
// context with a wall-clock watchdog and capped output streams. The static
// check is the first line of defense, not the only one; the process backend
// adds host-level memory limits for deployments that need them.
package sandbox

import (
	"context"
	"fmt"
	"time"
)

// Verdict is the four-way outcome of an execution request. Exactly one
// variant holds for any result; a verdict is never partially populated.
type Verdict string

const (
	// VerdictAllowed: the code passed static checks, ran, and its output
	// was captured.
	VerdictAllowed Verdict = "allowed"

	// VerdictDenied: a forbidden construct was found; the code never ran.
	VerdictDenied Verdict = "denied"

	// VerdictFaulted: the code ran but raised an error.
	VerdictFaulted Verdict = "faulted"

	// VerdictExhausted: the code hit a timeout or resource ceiling and
	// was forcibly terminated.
	VerdictExhausted Verdict = "exhausted"
)

// Result is what every execution request resolves to.
type Result struct {
	Verdict Verdict `json:"verdict"`

	// Output holds captured stdout and stderr for Allowed results, and
	// any output produced before the failure for Faulted ones.
	Output string `json:"output,omitempty"`

	// Reason carries the denial reason, the sanitized fault message, or
	// the exhausted resource description.
	Reason string `json:"reason,omitempty"`

	// Truncated is set when the output hit the configured byte cap.
	Truncated bool `json:"truncated,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Config holds the per-call execution limits.
type Config struct {
	// Timeout is the hard wall-clock limit. Zero means DefaultTimeout.
	Timeout time.Duration

	// MemoryMB is the host-level memory ceiling, enforced only by the
	// process backend. Zero means DefaultMemoryMB.
	MemoryMB int

	// OutputLimit caps captured stdout+stderr in bytes. Zero means
	// DefaultOutputLimit.
	OutputLimit int
}

const (
	DefaultTimeout     = 5 * time.Second
	DefaultMemoryMB    = 256
	DefaultOutputLimit = 16 * 1024
)

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MemoryMB <= 0 {
		c.MemoryMB = DefaultMemoryMB
	}
	if c.OutputLimit <= 0 {
		c.OutputLimit = DefaultOutputLimit
	}
	return c
}

// Backend executes an already-admitted submission in isolation.
type Backend interface {
	// Execute runs the code and returns a Result. The returned error is
	// reserved for backend malfunctions (not code outcomes): a denied,
	// faulted, or exhausted submission is a nil-error Result.
	Execute(ctx context.Context, code string, cfg Config) (Result, error)

	// Available reports whether the backend can run on this platform.
	Available() bool
}

// DenialError names the forbidden construct that caused a static denial.
type DenialError struct {
	Construct string // e.g. `import "os"`
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("forbidden construct: %s", e.Construct)
}

// ErrResourceLimit indicates a resource ceiling was exceeded.
type ErrResourceLimit struct {
	Resource string // "memory", "time", or "concurrency"
	Limit    string // configured limit value
}

func (e *ErrResourceLimit) Error() string {
	return fmt.Sprintf("resource limit exceeded: %s (limit: %s)", e.Resource, e.Limit)
}
