// Package agent implements the orchestration loop: given a user
// utterance and session context it alternates reasoning (asking the
// model for either a final answer or one tool request) and acting
// (invoking the tool and feeding back the observation), bounded by a
// step count and a wall-clock budget.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/edulab/tutor/internal/llm"
	"github.com/edulab/tutor/internal/memory"
	"github.com/edulab/tutor/internal/telemetry"
	"github.com/edulab/tutor/internal/tools"
)

// State names the loop's terminal states.
type State string

const (
	StateFinished State = "finished"
	StateAborted  State = "aborted"
)

// Config bounds a single loop run.
type Config struct {
	Model       string
	System      string
	MaxSteps    int
	TimeBudget  time.Duration
	MaxTokens   int
	TokenBudget int
}

const (
	DefaultMaxSteps   = 5
	DefaultTimeBudget = 60 * time.Second
	DefaultMaxTokens  = 2048
)

func (c Config) withDefaults() Config {
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.TimeBudget <= 0 {
		c.TimeBudget = DefaultTimeBudget
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.System == "" {
		c.System = defaultSystemPrompt
	}
	return c
}

const defaultSystemPrompt = `You are a programming tutor. Answer questions about code and programming
concepts. You may call tools: execute runs Go snippets in a sandbox (only when the user explicitly
asks to run code), search looks up reference material, explain analyzes a snippet without running it,
and knowledge retrieves passages from the user's uploaded documents. Request at most one tool per
step and finish with a clear, direct answer.`

// Result is what a loop run resolves to. Aborted runs still carry a
// best-effort partial answer.
type Result struct {
	Answer       string              `json:"answer"`
	State        State               `json:"state"`
	Records      []memory.ToolRecord `json:"records,omitempty"`
	Usage        llm.TokenUsage      `json:"usage"`
	Steps        int                 `json:"steps"`
	Duration     time.Duration       `json:"duration"`
	FallbackUsed bool                `json:"fallback_used,omitempty"`
}

// Agent runs the orchestration loop. client may be nil, in which case
// every request runs on the deterministic fallback responder.
type Agent struct {
	client   llm.Client
	fallback *llm.FallbackResponder
	cfg      Config
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

// New creates an agent. logger and metrics may be nil.
func New(client llm.Client, fallback *llm.FallbackResponder, cfg Config, logger *slog.Logger, metrics *telemetry.Metrics) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		client:   client,
		fallback: fallback,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		metrics:  metrics,
	}
}

// Respond answers one user utterance using the conversation snapshot
// and the session's tool registry. It never mutates the conversation:
// the caller appends the full turn (with records) afterwards, so a
// cancelled request leaves memory untouched.
func (a *Agent) Respond(ctx context.Context, question string, conv *memory.Conversation, registry *tools.Registry) Result {
	start := time.Now()
	cfg := a.cfg

	ctx, cancel := context.WithTimeout(ctx, cfg.TimeBudget)
	defer cancel()

	if a.client == nil {
		return a.respondFallback(ctx, question, registry, start)
	}

	tracker := llm.NewTokenTracker(cfg.TokenBudget)
	messages := conv.Messages()
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: question})

	var records []memory.ToolRecord
	var lastObservation string
	var lastContent string
	steps := 0

	for step := 0; step < cfg.MaxSteps; step++ {
		steps++

		if err := tracker.CheckBudget(cfg.MaxTokens); err != nil {
			a.logger.Info("token budget reached", "steps", steps)
			return a.abort(lastObservation, lastContent, records, tracker.Usage(), steps, start)
		}

		req := llm.ChatRequest{
			Model:     cfg.Model,
			Messages:  messages,
			System:    cfg.System,
			Tools:     registry.Definitions(),
			MaxTokens: cfg.MaxTokens,
		}

		resp, err := a.client.Chat(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				a.logger.Info("time budget reached", "steps", steps)
				return a.abort(lastObservation, lastContent, records, tracker.Usage(), steps, start)
			}
			// Provider unavailability is recovered locally, never
			// surfaced as a hard failure.
			a.logger.Warn("provider unavailable, switching to fallback responder", "error", err)
			res := a.respondFallback(ctx, question, registry, start)
			res.Records = append(records, res.Records...)
			res.Usage = tracker.Usage()
			res.Steps += steps
			return res
		}

		tracker.Add(resp.Usage)
		if a.metrics != nil {
			a.metrics.RecordTokens(resp.Usage.InputTokens, resp.Usage.OutputTokens)
		}
		if resp.Content != "" {
			lastContent = resp.Content
		}

		if len(resp.ToolCalls) == 0 || resp.StopReason != llm.StopToolUse {
			return Result{
				Answer:   resp.Content,
				State:    StateFinished,
				Records:  records,
				Usage:    tracker.Usage(),
				Steps:    steps,
				Duration: time.Since(start),
			}
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			if ctx.Err() != nil {
				return a.abort(lastObservation, lastContent, records, tracker.Usage(), steps, start)
			}

			observation, record, isErr := a.invoke(ctx, registry, call)
			records = append(records, record)
			lastObservation = observation

			messages = append(messages, llm.Message{
				Role: llm.RoleUser,
				ToolResult: &llm.ToolResult{
					ToolUseID: call.ID,
					Content:   observation,
					IsError:   isErr,
				},
			})
		}
	}

	a.logger.Info("step budget reached", "steps", steps)
	return a.abort(lastObservation, lastContent, records, tracker.Usage(), steps, start)
}

// invoke runs one tool call and produces its record. Tool malfunctions
// become error observations; the loop keeps going.
func (a *Agent) invoke(ctx context.Context, registry *tools.Registry, call llm.ToolCall) (string, memory.ToolRecord, bool) {
	toolStart := time.Now()
	observation, err := registry.Execute(ctx, call)
	elapsed := time.Since(toolStart)

	status := "ok"
	if err != nil {
		observation = fmt.Sprintf("tool %s failed: %v", call.Name, err)
		status = "error"
	}
	if a.metrics != nil {
		a.metrics.RecordToolCall(call.Name, status, elapsed)
	}
	a.logger.Info("tool invoked", "tool", call.Name, "status", status, "duration", elapsed)

	record := memory.ToolRecord{
		Tool:        call.Name,
		Input:       fmt.Sprintf("%v", call.Input),
		Observation: observation,
		Duration:    elapsed,
	}
	return observation, record, err != nil
}

const abortApology = "I wasn't able to finish working on that within my limits. Please try rephrasing or splitting the question."

// abort composes the best-effort partial answer for an exhausted run.
func (a *Agent) abort(lastObservation, lastContent string, records []memory.ToolRecord, usage llm.TokenUsage, steps int, start time.Time) Result {
	answer := abortApology
	switch {
	case lastObservation != "":
		answer = "I ran out of time before finishing, but here is what I found:\n\n" + lastObservation
	case lastContent != "":
		answer = lastContent
	}
	return Result{
		Answer:   answer,
		State:    StateAborted,
		Records:  records,
		Usage:    usage,
		Steps:    steps,
		Duration: time.Since(start),
	}
}

// respondFallback answers deterministically when no provider is
// reachable. The fallback may consult the explain, search, or knowledge
// tools; it never invokes the execution sandbox.
func (a *Agent) respondFallback(ctx context.Context, question string, registry *tools.Registry, start time.Time) Result {
	result := Result{
		State:        StateFinished,
		FallbackUsed: true,
	}

	if a.fallback == nil {
		result.Answer = abortApology
		result.Duration = time.Since(start)
		return result
	}

	decision := a.fallback.Respond(question)
	if decision.Tool != "" && decision.Tool != "execute" && registry.Has(decision.Tool) {
		call := llm.ToolCall{ID: "fallback", Name: decision.Tool, Input: decision.Input}
		observation, record, _ := a.invoke(ctx, registry, call)
		result.Records = append(result.Records, record)
		result.Answer = observation
		result.Steps = 1
		result.Duration = time.Since(start)
		return result
	}

	result.Answer = decision.Answer
	result.Duration = time.Since(start)
	return result
}
