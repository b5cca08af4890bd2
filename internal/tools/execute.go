package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/edulab/tutor/internal/llm"
	"github.com/edulab/tutor/internal/sandbox"
)

// ExecuteTool delegates code submissions to the execution sandbox and
// renders the verdict as a tool observation. All four verdicts are
// observations; this tool never returns an error for a code outcome.
type ExecuteTool struct {
	runner *sandbox.Runner
}

// NewExecuteTool creates the execute capability over a sandbox runner.
func NewExecuteTool(runner *sandbox.Runner) *ExecuteTool {
	return &ExecuteTool{runner: runner}
}

// ExecuteDefinition declares the execute tool's input schema.
func ExecuteDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "execute",
		Description: "Run a Go code snippet in a restricted sandbox and return its output. Use only when the user explicitly asks to run code.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"code": map[string]interface{}{
					"type":        "string",
					"description": "The Go code to run. Bare statements are allowed.",
				},
			},
			"required": []string{"code"},
		},
	}
}

// Execute runs the submission and formats the verdict.
func (t *ExecuteTool) Execute(ctx context.Context, input map[string]interface{}) (string, error) {
	code := stringInput(input, "code")
	if strings.TrimSpace(code) == "" {
		return "", fmt.Errorf("execute: input must include non-empty code")
	}

	result := t.runner.Run(ctx, code)
	return FormatResult(result), nil
}

// FormatResult renders a sandbox result as observation text.
func FormatResult(r sandbox.Result) string {
	var b strings.Builder
	switch r.Verdict {
	case sandbox.VerdictAllowed:
		if r.Output == "" {
			b.WriteString("execution succeeded with no output")
		} else {
			b.WriteString("output:\n")
			b.WriteString(r.Output)
		}
	case sandbox.VerdictDenied:
		b.WriteString("denied: ")
		b.WriteString(r.Reason)
	case sandbox.VerdictFaulted:
		b.WriteString("error: ")
		b.WriteString(r.Reason)
		if r.Output != "" {
			b.WriteString("\npartial output:\n")
			b.WriteString(r.Output)
		}
	case sandbox.VerdictExhausted:
		b.WriteString("terminated: ")
		b.WriteString(r.Reason)
	}
	if r.Truncated {
		b.WriteString("\n[output truncated]")
	}
	return b.String()
}
