package sandbox

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/edulab/tutor/internal/telemetry"
)

// RunnerConfig bounds the runner's aggregate resource use.
type RunnerConfig struct {
	// MaxConcurrent caps how many submissions execute at once, across
	// all sessions. Zero means DefaultMaxConcurrent.
	MaxConcurrent int

	// QueueWait bounds how long a submission waits for an execution
	// slot before being rejected as Exhausted. Zero means
	// DefaultQueueWait.
	QueueWait time.Duration

	// Defaults apply to submissions run without an explicit Config.
	Defaults Config
}

const (
	DefaultMaxConcurrent = 4
	DefaultQueueWait     = 10 * time.Second
)

// Runner is the sandbox entry point: it admits, gates, and executes
// submissions, resolving every request to a Result. Run is a total
// function over its input; it never returns an error.
type Runner struct {
	backend   Backend
	sem       *semaphore.Weighted
	queueWait time.Duration
	defaults  Config
	logger    *slog.Logger
	metrics   *telemetry.Metrics

	// allocations counts execution contexts actually created. Denied
	// submissions must never advance it.
	allocations atomic.Int64
}

// NewRunner creates a runner over the given backend. metrics may be nil.
func NewRunner(backend Backend, cfg RunnerConfig, logger *slog.Logger, metrics *telemetry.Metrics) *Runner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.QueueWait <= 0 {
		cfg.QueueWait = DefaultQueueWait
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		backend:   backend,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		queueWait: cfg.QueueWait,
		defaults:  cfg.Defaults,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run executes a submission with the runner's default limits.
func (r *Runner) Run(ctx context.Context, code string) Result {
	return r.RunWithConfig(ctx, code, r.defaults)
}

// RunWithConfig executes a submission with per-call limits.
func (r *Runner) RunWithConfig(ctx context.Context, code string, cfg Config) Result {
	cfg = cfg.withDefaults()
	start := time.Now()

	normalized, err := Normalize(code)
	if err != nil {
		return r.finish(Result{
			Verdict:  VerdictFaulted,
			Reason:   sanitizeFault(err.Error()),
			Duration: time.Since(start),
		})
	}

	if denial := CheckAdmission(normalized); denial != nil {
		r.logger.Info("sandbox denial", "construct", denial.Construct)
		return r.finish(Result{
			Verdict:  VerdictDenied,
			Reason:   describeDenial(denial),
			Duration: time.Since(start),
		})
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.queueWait)
	defer cancel()
	if err := r.sem.Acquire(waitCtx, 1); err != nil {
		return r.finish(Result{
			Verdict:  VerdictExhausted,
			Reason:   (&ErrResourceLimit{Resource: "concurrency", Limit: r.queueWait.String()}).Error(),
			Duration: time.Since(start),
		})
	}
	defer r.sem.Release(1)

	r.allocations.Add(1)

	result, execErr := r.backend.Execute(ctx, normalized, cfg)
	if execErr != nil {
		// Backend malfunction, not a code outcome. Details go to the log,
		// never to the caller.
		r.logger.Error("sandbox backend failure", "error", execErr)
		return r.finish(Result{
			Verdict:  VerdictFaulted,
			Reason:   "internal execution error",
			Duration: time.Since(start),
		})
	}
	return r.finish(result)
}

// Allocations returns how many execution contexts have been created.
func (r *Runner) Allocations() int64 {
	return r.allocations.Load()
}

func (r *Runner) finish(result Result) Result {
	if r.metrics != nil {
		r.metrics.RecordVerdict(string(result.Verdict))
	}
	return result
}
