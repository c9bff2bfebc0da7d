// Package agent implements the autonomous action loop: it consumes action
// requests from the bus, asks the model to choose one tool, runs it, and
// publishes the outcome. Every action passes through the usage limiter, which
// forces a consolidation cycle when exploration has run long enough.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/mindloop/mindloop/internal/bus"
	"github.com/mindloop/mindloop/internal/limiter"
	"github.com/mindloop/mindloop/internal/provider"
	"github.com/mindloop/mindloop/internal/tools"
)

// Loop is the action processing engine.
type Loop struct {
	bus      *bus.MessageBus
	chooser  provider.ToolChooser
	registry *tools.Registry
	limiter  *limiter.Limiter
	running  atomic.Bool
}

// NewLoop creates an action loop over a tool registry.
func NewLoop(b *bus.MessageBus, chooser provider.ToolChooser, registry *tools.Registry, lim *limiter.Limiter) *Loop {
	return &Loop{
		bus:      b,
		chooser:  chooser,
		registry: registry,
		limiter:  lim,
	}
}

// Run starts the loop, processing action requests from the bus until the
// context is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	l.running.Store(true)
	slog.Info("Action loop started")

	for l.running.Load() {
		req, err := l.bus.ConsumeRequest(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil // Context cancelled, normal shutdown
			}
			slog.Error("Failed to consume action request", "error", err)
			continue
		}

		action, err := l.Execute(ctx, req)
		content := ""
		if err != nil {
			slog.Error("Action failed", "session", req.SessionID, "trace", req.TraceID, "error", err)
			content = fmt.Sprintf("Error: %v", err)
		} else {
			content = l.describe(action)
		}

		l.bus.PublishEvent(&bus.Event{
			SessionID: req.SessionID,
			TraceID:   req.TraceID,
			Kind:      bus.EventActionResult,
			Content:   content,
		})
	}

	return nil
}

// Stop signals the loop to stop after the current request.
func (l *Loop) Stop() {
	l.running.Store(false)
}

// Execute handles one action request: the limiter either forces a
// consolidation or delegates to model-driven tool selection.
func (l *Loop) Execute(ctx context.Context, req *bus.ActionRequest) (*limiter.Action, error) {
	return l.limiter.Next(ctx, req.SessionID, func(ctx context.Context) (string, string, error) {
		return l.selectAndRun(ctx, req)
	})
}

// selectAndRun asks the model for exactly one tool and executes it.
func (l *Loop) selectAndRun(ctx context.Context, req *bus.ActionRequest) (string, string, error) {
	defs := l.registry.Definitions()
	if len(defs) == 0 {
		return "", "", fmt.Errorf("no tools registered")
	}
	choice, err := l.chooser.ChooseTool(ctx, req.Objective, defs)
	if err != nil {
		return "", "", fmt.Errorf("choose tool: %w", err)
	}
	slog.Debug("Tool selected", "session", req.SessionID, "tool", choice.Name, "rationale", choice.Rationale)

	result, err := l.registry.Execute(ctx, choice.Name, choice.Arguments)
	if err != nil {
		return "", "", fmt.Errorf("run %s: %w", choice.Name, err)
	}
	return choice.Name, result, nil
}

func (l *Loop) describe(a *limiter.Action) string {
	if a.Type == limiter.ActionConsolidation {
		return a.Result
	}
	return fmt.Sprintf("[%s] %s", a.Tool, a.Result)
}
