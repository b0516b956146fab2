package execution_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dukex/conduit/pkg/execution"
	"github.com/dukex/conduit/pkg/identity"
	"github.com/dukex/conduit/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	mu      sync.Mutex
	plans   []*models.Plan
	actions []*models.ActionItem
}

func (r *recordingReporter) ReportPlanStatus(_ context.Context, plan *models.Plan) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.plans = append(r.plans, plan)
}

func (r *recordingReporter) ReportActionStatus(_ context.Context, _ string, _ int64, action *models.ActionItem) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.actions = append(r.actions, action)
}

func (r *recordingReporter) planStatuses() []models.StatusType {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.StatusType, len(r.plans))
	for i, p := range r.plans {
		out[i] = p.Status()
	}

	return out
}

func testPlan() *models.Plan {
	return &models.Plan{
		Name:       "deploy",
		InstanceID: 7,
		Actions:    []*models.ActionItem{{Name: "fetch", Handler: models.HandlerInfo{Type: "log"}}},
	}
}

func completingRunner() execution.RunnerFunc {
	return func(ctx context.Context, plan *models.Plan, _ execution.RunOptions, sink execution.EventSink) (*models.Plan, error) {
		action := plan.Actions[0]
		action.InstanceID = 1
		action.Result = &models.ExecuteResult{Status: models.StatusRunning}
		sink.Progress(ctx, &execution.ProgressEvent{Action: action})
		sink.LogMessage(ctx, execution.LogMessage{Level: slog.LevelInfo, Message: "fetching", Action: action.Name})

		action.Result = &models.ExecuteResult{Status: models.StatusComplete, BranchStatus: models.StatusComplete}
		sink.Progress(ctx, &execution.ProgressEvent{Action: action})

		plan.Result = &models.ExecuteResult{Status: models.StatusComplete, BranchStatus: models.StatusComplete}

		return plan, nil
	}
}

func TestContainer_RunsToCompletion(t *testing.T) {
	root := t.TempDir()
	reporter := &recordingReporter{}

	c := execution.NewContainer(testPlan(), completingRunner(), reporter, execution.Config{
		AuditRoot:           root,
		SerializeResultPlan: true,
	})
	assert.Equal(t, execution.StateCreated, c.State())
	assert.Equal(t, models.StatusNew, c.Status())

	calls := 0
	c.Start(t.Context(), func() { calls++ })

	assert.Equal(t, 1, calls)
	assert.Equal(t, execution.StateCompleted, c.State())
	assert.Equal(t, models.StatusComplete, c.Status())
	assert.Equal(t, []models.StatusType{models.StatusRunning, models.StatusComplete}, reporter.planStatuses())

	require.Len(t, reporter.actions, 2)
	assert.Equal(t, models.StatusComplete, reporter.actions[1].Status())

	logData, err := os.ReadFile(filepath.Join(root, "7_deploy.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(logData)), "\n")
	assert.Len(t, lines, 4)
	assert.Contains(t, lines[3], "plan finished")

	resultPath := execution.ResultPlanPath(root, 7, "deploy")
	resultData, err := os.ReadFile(resultPath)
	require.NoError(t, err)

	result, err := models.UnmarshalPlanYAML(resultData)
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, result.Status())
	assert.Equal(t, int64(7), result.InstanceID)

	c.Start(t.Context(), func() { calls++ })
	assert.Equal(t, 1, calls, "a finished container never runs twice")
}

func TestContainer_RunnerErrorFails(t *testing.T) {
	reporter := &recordingReporter{}
	runner := execution.RunnerFunc(func(context.Context, *models.Plan, execution.RunOptions, execution.EventSink) (*models.Plan, error) {
		return nil, errors.New("handler exploded")
	})

	c := execution.NewContainer(testPlan(), runner, reporter, execution.Config{})
	c.Start(t.Context(), nil)

	assert.Equal(t, execution.StateFailed, c.State())
	assert.Equal(t, models.StatusFailed, c.Status())
	assert.Equal(t, "handler exploded", c.Result().Result.Message)
}

func TestContainer_RunnerPanicFails(t *testing.T) {
	reporter := &recordingReporter{}
	runner := execution.RunnerFunc(func(context.Context, *models.Plan, execution.RunOptions, execution.EventSink) (*models.Plan, error) {
		panic("nil map")
	})

	c := execution.NewContainer(testPlan(), runner, reporter, execution.Config{})

	done := make(chan struct{})
	c.Start(t.Context(), func() { close(done) })

	<-done
	assert.Equal(t, execution.StateFailed, c.State())
	assert.Contains(t, c.Result().Result.Message, "nil map")
	assert.Equal(t, []models.StatusType{models.StatusRunning, models.StatusFailed}, reporter.planStatuses())
}

func TestContainer_CancelIsCooperative(t *testing.T) {
	reporter := &recordingReporter{}
	started := make(chan struct{})

	var sawCancel bool

	runner := execution.RunnerFunc(func(ctx context.Context, plan *models.Plan, _ execution.RunOptions, sink execution.EventSink) (*models.Plan, error) {
		close(started)
		<-ctx.Done()

		event := &execution.ProgressEvent{Action: &models.ActionItem{Name: "fetch", InstanceID: 1}}
		sink.Progress(ctx, event)
		sawCancel = event.Cancel

		plan.Result = &models.ExecuteResult{Status: models.StatusRunning}

		return plan, nil
	})

	c := execution.NewContainer(testPlan(), runner, reporter, execution.Config{})

	finished := make(chan struct{})

	go c.Start(t.Context(), func() { close(finished) })

	<-started
	c.Cancel()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("container did not finish after cancel")
	}

	assert.True(t, sawCancel)
	assert.True(t, c.CancelRequested())
	assert.Equal(t, execution.StateCancelled, c.State())
	assert.Equal(t, models.StatusCancelled, c.Status())
}

func TestContainer_Abort(t *testing.T) {
	reporter := &recordingReporter{}
	c := execution.NewContainer(testPlan(), completingRunner(), reporter, execution.Config{})

	calls := 0
	require.NoError(t, c.Abort(t.Context(), func() { calls++ }))
	assert.Equal(t, execution.StateCancelled, c.State())
	assert.Equal(t, models.StatusCancelled, c.Status())
	assert.Equal(t, []models.StatusType{models.StatusCancelled}, reporter.planStatuses())

	c.Start(t.Context(), func() { calls++ })
	assert.Equal(t, 1, calls)

	assert.Error(t, c.Abort(t.Context(), nil))
}

func TestContainer_AbortAfterStartFails(t *testing.T) {
	c := execution.NewContainer(testPlan(), completingRunner(), &recordingReporter{}, execution.Config{})
	c.Start(t.Context(), nil)

	assert.Error(t, c.Abort(t.Context(), nil))
	assert.Equal(t, execution.StateCompleted, c.State())
}

func TestContainer_RunsUnderImpersonation(t *testing.T) {
	var runAs string

	runner := execution.RunnerFunc(func(ctx context.Context, plan *models.Plan, _ execution.RunOptions, _ execution.EventSink) (*models.Plan, error) {
		if id, ok := identity.FromContext(ctx); ok {
			runAs = id.Name
		}

		plan.Result = &models.ExecuteResult{Status: models.StatusComplete}

		return plan, nil
	})

	c := execution.NewContainer(testPlan(), runner, &recordingReporter{}, execution.Config{
		Identity:     &identity.Identity{Name: "ops"},
		Impersonator: identity.ContextImpersonator{},
	})
	c.Start(t.Context(), nil)

	assert.Equal(t, "ops", runAs)
}
