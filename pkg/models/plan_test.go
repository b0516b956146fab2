package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePlan() *Plan {
	return &Plan{
		Name:         "deploy",
		UniqueName:   "deploy",
		InstanceID:   4,
		AllowedUsers: []string{"alice"},
		StartInfo:    &StartInfo{RequestUser: "alice", RequestedAt: time.Unix(100, 0).UTC()},
		Actions: []*ActionItem{
			{
				Name:    "build",
				Handler: HandlerInfo{Type: "log", Config: map[string]any{"message": "hi"}},
				Actions: []*ActionItem{
					{Name: "notify", Handler: HandlerInfo{Type: "log"}},
				},
			},
		},
	}
}

func TestPlan_KeyAndStatus(t *testing.T) {
	plan := samplePlan()

	assert.Equal(t, "4_deploy", plan.Key())
	assert.Equal(t, StatusNone, plan.Status())

	plan.Result = &ExecuteResult{Status: StatusRunning}
	assert.Equal(t, StatusRunning, plan.Status())

	var missing *Plan
	assert.Equal(t, StatusNone, missing.Status())
}

func TestPlan_Allows(t *testing.T) {
	testCases := []struct {
		name     string
		allowed  []string
		identity string
		want     bool
	}{
		{name: "empty list admits everyone", identity: "bob", want: true},
		{name: "listed user", allowed: []string{"alice"}, identity: "alice", want: true},
		{name: "case insensitive", allowed: []string{"Alice"}, identity: "alice", want: true},
		{name: "wildcard", allowed: []string{"*"}, identity: "anonymous", want: true},
		{name: "not listed", allowed: []string{"alice"}, identity: "bob", want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			plan := &Plan{Name: "p", AllowedUsers: tc.allowed}
			assert.Equal(t, tc.want, plan.Allows(tc.identity))
		})
	}
}

func TestPlan_CloneIsDeep(t *testing.T) {
	plan := samplePlan()
	plan.Result = &ExecuteResult{Status: StatusRunning}

	c := plan.Clone()
	require.Equal(t, plan, c)

	c.StartInfo.RequestUser = "bob"
	c.AllowedUsers[0] = "bob"
	c.Result.Status = StatusFailed
	c.Actions[0].Handler.Config["message"] = "changed"
	c.Actions[0].Actions[0].Name = "other"

	assert.Equal(t, "alice", plan.StartInfo.RequestUser)
	assert.Equal(t, "alice", plan.AllowedUsers[0])
	assert.Equal(t, StatusRunning, plan.Result.Status)
	assert.Equal(t, "hi", plan.Actions[0].Handler.Config["message"])
	assert.Equal(t, "notify", plan.Actions[0].Actions[0].Name)
}

func TestNewStatusPlan(t *testing.T) {
	plan := NewStatusPlan("deploy", 9, StatusNew, "New Instance of Plan [deploy/9].")

	assert.Equal(t, "deploy", plan.Name)
	assert.Equal(t, "deploy", plan.UniqueName)
	assert.Equal(t, int64(9), plan.InstanceID)
	assert.Equal(t, StatusNew, plan.Result.Status)
	assert.Equal(t, StatusNew, plan.Result.BranchStatus)
	assert.Empty(t, plan.Actions)
}

func TestMergePlanStatus(t *testing.T) {
	t.Run("no existing document", func(t *testing.T) {
		incoming := NewStatusPlan("deploy", 1, StatusRunning, "")
		merged := MergePlanStatus(nil, incoming)

		assert.Equal(t, incoming, merged)
		assert.NotSame(t, incoming, merged)
	})

	t.Run("keeps start info and actions", func(t *testing.T) {
		existing := samplePlan()
		incoming := NewStatusPlan("deploy", 4, StatusRunning, "")

		merged := MergePlanStatus(existing, incoming)

		require.NotNil(t, merged.StartInfo)
		assert.Equal(t, "alice", merged.StartInfo.RequestUser)
		assert.Len(t, merged.Actions, 1)
		assert.Equal(t, StatusRunning, merged.Status())
	})

	t.Run("terminal result is not regressed", func(t *testing.T) {
		existing := NewStatusPlan("deploy", 4, StatusComplete, "done")
		incoming := NewStatusPlan("deploy", 4, StatusRunning, "late")

		merged := MergePlanStatus(existing, incoming)

		assert.Equal(t, StatusComplete, merged.Status())
		assert.Equal(t, "done", merged.Result.Message)
	})

	t.Run("stale document keeps terminal action results", func(t *testing.T) {
		existing := NewStatusPlan("deploy", 4, StatusRunning, "")
		existing.Actions = []*ActionItem{
			{
				Name:       "build",
				InstanceID: 1,
				Result:     &ExecuteResult{Status: StatusComplete},
				Actions: []*ActionItem{
					{Name: "notify", InstanceID: 2, ParentInstanceID: 1, Result: &ExecuteResult{Status: StatusFailed}},
				},
			},
		}

		incoming := samplePlan()
		incoming.Result = &ExecuteResult{Status: StatusRunning}

		merged := MergePlanStatus(existing, incoming)

		require.Len(t, merged.Actions, 1)
		assert.Equal(t, StatusComplete, merged.Actions[0].Status())
		assert.Equal(t, "log", merged.Actions[0].Handler.Type)
		assert.Equal(t, int64(1), merged.Actions[0].InstanceID)
		require.Len(t, merged.Actions[0].Actions, 1)
		assert.Equal(t, StatusFailed, merged.Actions[0].Actions[0].Status())
		assert.Equal(t, StatusComplete, existing.Actions[0].Status())
	})

	t.Run("terminal replaces terminal", func(t *testing.T) {
		existing := NewStatusPlan("deploy", 4, StatusFailed, "")
		incoming := NewStatusPlan("deploy", 4, StatusCancelled, "")

		assert.Equal(t, StatusCancelled, MergePlanStatus(existing, incoming).Status())
	})
}
