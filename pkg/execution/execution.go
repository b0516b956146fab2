// Package execution hosts one plan instance run: it owns the run's lifecycle,
// forwards progress to a reporter and writes the instance audit log.
package execution

import (
	"context"
	"log/slog"

	"github.com/dukex/conduit/pkg/models"
)

// RunOptions parameterize one run.
type RunOptions struct {
	DryRun     bool
	Parameters map[string]string
}

// Runner executes the steps of a plan. It returns the result plan, with
// per-action results and an overall Result. Runners check ctx between steps.
type Runner interface {
	Run(ctx context.Context, plan *models.Plan, opts RunOptions, sink EventSink) (*models.Plan, error)
}

// EventSink receives notifications from a Runner.
type EventSink interface {
	// Progress is called before and after every action. The listener may set
	// ProgressEvent.Cancel to stop the current branch.
	Progress(ctx context.Context, event *ProgressEvent)
	LogMessage(ctx context.Context, msg LogMessage)
}

// ProgressEvent reports an action status change.
type ProgressEvent struct {
	PlanUniqueName string
	PlanInstanceID int64
	Action         *models.ActionItem
	Message        string
	Cancel         bool
}

// LogMessage is a free-form message emitted during a run.
type LogMessage struct {
	Level   slog.Level
	Message string
	Action  string
	Attrs   map[string]any
}

// Reporter sends status updates to the controller. Calls are fire-and-forget.
type Reporter interface {
	ReportPlanStatus(ctx context.Context, plan *models.Plan)
	ReportActionStatus(ctx context.Context, uniqueName string, instanceID int64, action *models.ActionItem)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, plan *models.Plan, opts RunOptions, sink EventSink) (*models.Plan, error)

func (f RunnerFunc) Run(ctx context.Context, plan *models.Plan, opts RunOptions, sink EventSink) (*models.Plan, error) {
	return f(ctx, plan, opts, sink)
}
