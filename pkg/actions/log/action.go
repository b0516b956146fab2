// Package logaction provides the log plan action.
package logaction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	conduitlog "github.com/dukex/conduit/pkg/log"
	"github.com/dukex/conduit/pkg/protocol"
	"github.com/dukex/conduit/pkg/template"
)

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

type ActionFactory struct{}

func (*ActionFactory) ID() string {
	return "log"
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewAction(config)
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{"type": "string"},
			"level": map[string]any{
				"type": "string",
				"enum": []string{"debug", "info", "warn", "error"},
			},
		},
	}
}

// Action writes a rendered message to the run log.
type Action struct {
	Message string
	Level   slog.Level
}

func NewAction(config map[string]any) (*Action, error) {
	message, _ := config["message"].(string)
	levelName, _ := config["level"].(string)

	return &Action{Message: message, Level: conduitlog.ParseLevel(strings.ToLower(levelName))}, nil
}

func (a *Action) Execute(ctx context.Context, actionCtx protocol.ActionContext, logger *slog.Logger) (any, error) {
	message, err := template.RenderStringWithContext(a.Message, actionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render message: %w", err)
	}

	logger.Log(ctx, a.Level, strings.TrimSpace(message), "action_type", "log")

	return map[string]any{"message": message, "level": strings.ToLower(a.Level.String())}, nil
}
