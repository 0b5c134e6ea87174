package tools

import (
	"context"
	"log/slog"
)

// Runner executes tool calls by name.
type Runner interface {
	Execute(ctx context.Context, name string, input map[string]any) string
}

// Restricted wraps a Runner and refuses any tool outside an allowed
// set. The model only sees the allowed definitions, but nothing stops it
// from naming another tool.
type Restricted struct {
	next    Runner
	allowed map[string]bool
	logger  *slog.Logger
}

// Restrict limits next to the tools in defs.
func Restrict(next Runner, defs []Definition, logger *slog.Logger) *Restricted {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(defs))
	for _, d := range defs {
		allowed[d.Name] = true
	}
	return &Restricted{next: next, allowed: allowed, logger: logger}
}

// Execute runs name if it is allowed.
func (r *Restricted) Execute(ctx context.Context, name string, input map[string]any) string {
	if !r.allowed[name] {
		r.logger.Warn("refused tool outside allowed set", "tool", name)
		return errorPayload((&ErrToolUnavailable{ToolName: name}).Error())
	}
	return r.next.Execute(ctx, name, input)
}
