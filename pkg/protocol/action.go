// Package protocol defines the contracts for pluggable plan actions.
package protocol

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dukex/conduit/pkg/models"
)

// ActionContext is what an action sees of the run it belongs to.
type ActionContext struct {
	PlanName       string
	PlanInstanceID int64
	Action         *models.ActionItem
	// Parameters are the dynamic start parameters, keyed in lower case.
	Parameters map[string]string
	// Results holds the exit data of the actions that already ran, by name.
	Results map[string]any
	DryRun  bool
}

// Parameter returns a dynamic parameter, ignoring the case of name.
func (c ActionContext) Parameter(name string) (string, bool) {
	for k, value := range c.Parameters {
		if strings.EqualFold(k, name) {
			return value, true
		}
	}

	return "", false
}

type Action interface {
	Execute(ctx context.Context, actionCtx ActionContext, logger *slog.Logger) (any, error)
}

type ActionFactory interface {
	Create(config map[string]any) (Action, error)
	ID() string
	// Schema returns the JSON schema the handler configuration must satisfy.
	Schema() map[string]any
}
