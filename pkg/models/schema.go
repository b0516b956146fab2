package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidPlan is returned when a plan document does not match the plan schema.
var ErrInvalidPlan = errors.New("invalid plan document")

const planSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "unique_name": {"type": "string"},
    "instance_id": {"type": "integer", "minimum": 0},
    "allowed_users": {"type": "array", "items": {"type": "string"}},
    "actions": {"type": "array", "items": {"$ref": "#/definitions/action"}}
  },
  "definitions": {
    "action": {
      "type": "object",
      "required": ["name", "handler"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "handler": {
          "type": "object",
          "required": ["type"],
          "properties": {
            "type": {"type": "string", "minLength": 1},
            "config": {"type": ["object", "null"]}
          }
        },
        "execute_case": {
          "type": "string",
          "enum": ["", "None", "New", "Running", "Complete", "CompletedWithErrors", "Failed", "Cancelled"]
        },
        "actions": {"type": "array", "items": {"$ref": "#/definitions/action"}}
      }
    }
  }
}`

var planSchemaLoader = gojsonschema.NewStringLoader(planSchema)

// ValidatePlan checks the shape of a plan document.
func ValidatePlan(plan *Plan) error {
	if plan == nil {
		return fmt.Errorf("plan is nil: %w", ErrInvalidPlan)
	}

	return ValidateAgainstSchema(planSchemaLoader, plan)
}

// ValidateConfig checks a handler configuration against its JSON schema.
func ValidateConfig(schema map[string]any, config map[string]any) error {
	if schema == nil {
		return nil
	}

	if config == nil {
		config = map[string]any{}
	}

	return ValidateAgainstSchema(gojsonschema.NewGoLoader(schema), config)
}

// ValidateAgainstSchema validates document against the schema behind loader.
func ValidateAgainstSchema(loader gojsonschema.JSONLoader, document any) error {
	result, err := gojsonschema.Validate(loader, gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		details = append(details, e.String())
	}

	return fmt.Errorf("%w: %s", ErrInvalidPlan, strings.Join(details, "; "))
}
