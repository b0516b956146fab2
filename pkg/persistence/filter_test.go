package persistence_test

import (
	"testing"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterPlanNames(t *testing.T) {
	names := []string{"zeta", "Deploy-Web", "backup"}

	tests := []struct {
		name     string
		filter   string
		isRegex  bool
		expected []string
	}{
		{name: "empty filter returns all sorted", expected: []string{"Deploy-Web", "backup", "zeta"}},
		{name: "substring is case-insensitive", filter: "deploy", expected: []string{"Deploy-Web"}},
		{name: "regex", filter: "^(b|z)", isRegex: true, expected: []string{"backup", "zeta"}},
		{name: "no match", filter: "nothing", expected: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := persistence.FilterPlanNames(names, tt.filter, tt.isRegex)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	_, err := persistence.FilterPlanNames(names, "[", true)
	assert.Error(t, err)
}

func TestNewInstanceFromDefinition(t *testing.T) {
	definition := &models.Plan{
		Name:      "deploy",
		Signature: []byte("sig"),
		Result:    &models.ExecuteResult{Status: models.StatusComplete},
		Actions:   []*models.ActionItem{{Name: "a"}},
	}

	instance := persistence.NewInstanceFromDefinition(definition, 4)

	assert.Equal(t, int64(4), instance.InstanceID)
	assert.Equal(t, "deploy", instance.UniqueName)
	assert.Nil(t, instance.Result)
	assert.Nil(t, instance.Signature)
	assert.Len(t, instance.Actions, 1)
	assert.NotNil(t, definition.Result)
}

func TestApplyActionDelta(t *testing.T) {
	plan := &models.Plan{Name: "deploy"}

	require.NoError(t, persistence.ApplyActionDelta(plan, "deploy", 1, &models.ActionItem{Name: "a", InstanceID: 1}))
	require.Len(t, plan.Actions, 1)

	err := persistence.ApplyActionDelta(plan, "deploy", 1, &models.ActionItem{Name: "b", InstanceID: 2, ParentInstanceID: 5})
	assert.True(t, persistence.IsActionNotFound(err))
}

func TestCheckPlanAccess(t *testing.T) {
	open := &models.Plan{Name: "open"}
	assert.NoError(t, persistence.CheckPlanAccess(open, "anyone"))

	closed := &models.Plan{Name: "closed", AllowedUsers: []string{"ops"}}
	assert.NoError(t, persistence.CheckPlanAccess(closed, "ops"))
	assert.True(t, persistence.IsAccessDenied(persistence.CheckPlanAccess(closed, "dev")))
}
