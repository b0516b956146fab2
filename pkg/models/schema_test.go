package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePlan(t *testing.T) {
	testCases := []struct {
		name  string
		plan  *Plan
		valid bool
	}{
		{name: "valid", plan: samplePlan(), valid: true},
		{name: "nil", plan: nil},
		{name: "missing name", plan: &Plan{}},
		{
			name: "action without handler type",
			plan: &Plan{Name: "p", Actions: []*ActionItem{{Name: "a"}}},
		},
		{
			name: "unknown execute case",
			plan: &Plan{Name: "p", Actions: []*ActionItem{{Name: "a", Handler: HandlerInfo{Type: "log"}, ExecuteCase: "Sometimes"}}},
		},
		{
			name: "nested action is checked",
			plan: &Plan{Name: "p", Actions: []*ActionItem{{
				Name:    "a",
				Handler: HandlerInfo{Type: "log"},
				Actions: []*ActionItem{{Handler: HandlerInfo{Type: "log"}}},
			}}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePlan(tc.plan)
			if tc.valid {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, ErrInvalidPlan)
		})
	}
}

func TestValidateConfig(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []string{"message"},
		"properties": map[string]any{
			"message": map[string]any{"type": "string"},
		},
	}

	require.NoError(t, ValidateConfig(nil, nil))
	require.NoError(t, ValidateConfig(schema, map[string]any{"message": "hi"}))

	err := ValidateConfig(schema, nil)
	require.ErrorIs(t, err, ErrInvalidPlan)
	assert.Contains(t, err.Error(), "message")
}
