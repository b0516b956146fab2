// Package wait provides the wait plan action.
package wait

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/conduit/pkg/protocol"
)

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string {
	return "wait"
}

func (*ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"duration": map[string]any{
				"type":        "string",
				"description": "How long to wait, as a Go duration such as 1m30s",
			},
		},
		"required": []string{"duration"},
	}
}

// Action sleeps for a fixed duration unless the run is cancelled first.
type Action struct {
	Duration time.Duration
}

func NewAction(config map[string]any) (*Action, error) {
	raw, _ := config["duration"].(string)

	d, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid 'duration': %w", err)
	}

	if d < 0 {
		return nil, fmt.Errorf("invalid 'duration' %s: must not be negative", raw)
	}

	return &Action{Duration: d}, nil
}

func (a *Action) Execute(ctx context.Context, actionCtx protocol.ActionContext, logger *slog.Logger) (any, error) {
	if actionCtx.DryRun {
		return map[string]any{"waited": "0s", "dry_run": true}, nil
	}

	logger.DebugContext(ctx, "Waiting", "duration", a.Duration)

	timer := time.NewTimer(a.Duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return map[string]any{"waited": a.Duration.String()}, nil
	}
}
