package httprequest

import (
	"github.com/dukex/conduit/pkg/protocol"
)

// ActionFactory creates http Action instances.
type ActionFactory struct{}

// NewActionFactory creates a new ActionFactory.
func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

// Create creates a new Action from the given configuration.
func (h *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}

// ID returns the handler type served by the factory.
func (h *ActionFactory) ID() string {
	return "http"
}

// Schema returns the JSON schema for configuring this action.
func (h *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Request URL. Supports templating, e.g. https://api.example.com/users/{{ .params.user }}",
			},
			"method": map[string]any{
				"type":    "string",
				"default": "GET",
				"enum": []string{
					"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS",
					"get", "post", "put", "delete", "patch", "head", "options",
				},
			},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"body": map[string]any{
				"type": "string",
			},
			"timeout": map[string]any{
				"type":        "string",
				"description": "Request timeout as a Go duration, e.g. 30s",
			},
			"expect_status": map[string]any{
				"type":        "integer",
				"description": "Fail the action unless the response carries this status code",
			},
			"retry": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"attempts": map[string]any{"type": "integer", "minimum": 1, "maximum": 10},
					"delay": map[string]any{
						"type":        "integer",
						"minimum":     0,
						"description": "Delay between attempts in milliseconds",
					},
				},
			},
		},
		"required": []string{"url"},
	}
}
