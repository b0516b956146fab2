// Package runner is the built-in step runner: it walks a plan's action tree
// and executes each action through the handler registry.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/conduit/pkg/execution"
	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/protocol"
)

// ErrNoPlan is returned when Run is called without a plan.
var ErrNoPlan = errors.New("no plan to run")

// ActionCreator builds an action for a handler type.
type ActionCreator interface {
	CreateAction(actionType string, config map[string]any) (protocol.Action, error)
}

// Runner runs actions depth-first. A child runs when its ExecuteCase matches
// the status of its parent; top-level actions see the plan root as Complete.
type Runner struct {
	actions ActionCreator
	logger  *slog.Logger
}

func New(actions ActionCreator, logger *slog.Logger) *Runner {
	return &Runner{
		actions: actions,
		logger:  logger.With("module", "runner"),
	}
}

type run struct {
	*Runner

	plan    *models.Plan
	opts    execution.RunOptions
	sink    execution.EventSink
	results map[string]any
	stopped bool
}

// Run implements execution.Runner.
func (r *Runner) Run(ctx context.Context, plan *models.Plan, opts execution.RunOptions, sink execution.EventSink) (*models.Plan, error) {
	if plan == nil {
		return nil, ErrNoPlan
	}

	result := plan.Clone()
	AssignInstanceIDs(result.Actions)

	started := time.Now()
	state := &run{
		Runner:  r,
		plan:    result,
		opts:    opts,
		sink:    sink,
		results: make(map[string]any),
	}

	state.runActions(ctx, result.Actions, models.StatusComplete)

	completed := time.Now()
	status, branch := aggregate(result.Actions, state.stopped || ctx.Err() != nil)
	result.Result = &models.ExecuteResult{
		Status:       status,
		BranchStatus: branch,
		StartedAt:    &started,
		CompletedAt:  &completed,
	}

	return result, nil
}

// AssignInstanceIDs numbers the actions depth-first from 1 and links every
// child to its parent. Top-level actions get ParentInstanceID 0.
func AssignInstanceIDs(actions []*models.ActionItem) {
	var next int64

	var assign func(actions []*models.ActionItem, parent int64)

	assign = func(actions []*models.ActionItem, parent int64) {
		for _, a := range actions {
			next++
			a.InstanceID = next
			a.ParentInstanceID = parent

			assign(a.Actions, a.InstanceID)
		}
	}

	assign(actions, 0)
}

func (r *run) runActions(ctx context.Context, actions []*models.ActionItem, parentStatus models.StatusType) {
	for _, a := range actions {
		if r.stopped {
			return
		}

		if !a.RunsAfter(parentStatus) {
			continue
		}

		r.runAction(ctx, a)
	}
}

func (r *run) runAction(ctx context.Context, a *models.ActionItem) {
	if ctx.Err() != nil {
		r.finishAction(ctx, a, models.StatusCancelled, "Cancelled before start.", nil)
		r.stopped = true

		return
	}

	now := time.Now()
	a.Result = &models.ExecuteResult{
		Status:       models.StatusRunning,
		BranchStatus: models.StatusRunning,
		StartedAt:    &now,
	}

	if r.progress(ctx, a, "") {
		r.finishAction(ctx, a, models.StatusCancelled, "Cancelled.", nil)
		r.stopped = true

		return
	}

	exitData, err := r.execute(ctx, a)

	switch {
	case err != nil && ctx.Err() != nil:
		r.finishAction(ctx, a, models.StatusCancelled, err.Error(), exitData)
		r.stopped = true

		return
	case err != nil:
		if r.finishAction(ctx, a, models.StatusFailed, err.Error(), exitData) {
			r.stopped = true

			return
		}
	default:
		r.results[a.Name] = exitData

		if r.finishAction(ctx, a, models.StatusComplete, "", exitData) {
			r.stopped = true

			return
		}
	}

	if len(a.Actions) == 0 {
		return
	}

	r.runActions(ctx, a.Actions, a.Status())

	branch := branchStatus(a)
	if branch != a.Result.BranchStatus {
		a.Result.BranchStatus = branch
		if r.progress(ctx, a, "") {
			r.stopped = true
		}
	}
}

// finishAction records a terminal result and reports it; it returns true
// when the listener asked to stop.
func (r *run) finishAction(ctx context.Context, a *models.ActionItem, status models.StatusType, message string, exitData any) bool {
	now := time.Now()

	if a.Result == nil {
		a.Result = &models.ExecuteResult{StartedAt: &now}
	}

	a.Result.Status = status
	a.Result.BranchStatus = status
	a.Result.Message = message
	a.Result.ExitData = exitData
	a.Result.CompletedAt = &now

	return r.progress(ctx, a, message)
}

func (r *run) progress(ctx context.Context, a *models.ActionItem, message string) bool {
	event := &execution.ProgressEvent{
		PlanUniqueName: r.plan.UniqueName,
		PlanInstanceID: r.plan.InstanceID,
		Action:         a,
		Message:        message,
	}

	r.sink.Progress(ctx, event)

	return event.Cancel
}

func (r *run) execute(ctx context.Context, a *models.ActionItem) (exitData any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("action %s panicked: %v", a.Name, p)
		}
	}()

	action, err := r.actions.CreateAction(a.Handler.Type, a.Handler.Config)
	if err != nil {
		return nil, err
	}

	logger := slog.New(newSinkHandler(r.sink, a.Name)).With(
		"plan", r.plan.Name,
		"instance_id", r.plan.InstanceID,
		"action_instance_id", a.InstanceID,
	)

	r.logger.DebugContext(ctx, "executing action", "plan", r.plan.Name, "action", a.Name, "handler", a.Handler.Type)

	return action.Execute(ctx, protocol.ActionContext{
		PlanName:       r.plan.Name,
		PlanInstanceID: r.plan.InstanceID,
		Action:         a,
		Parameters:     r.opts.Parameters,
		Results:        r.results,
		DryRun:         r.opts.DryRun,
	}, logger)
}

func branchStatus(a *models.ActionItem) models.StatusType {
	statuses := []models.StatusType{a.Status()}

	for _, child := range a.Actions {
		if child.Result != nil {
			statuses = append(statuses, child.Result.BranchStatus)
		}
	}

	return models.MostSevere(statuses...)
}

// aggregate derives the plan status from the top-level branches. A plan with
// failures is CompletedWithErrors when at least one top-level action
// completed, otherwise Failed.
func aggregate(actions []*models.ActionItem, cancelled bool) (models.StatusType, models.StatusType) {
	statuses := make([]models.StatusType, 0, len(actions))
	anyComplete := false

	for _, a := range actions {
		if a.Result == nil {
			continue
		}

		statuses = append(statuses, a.Result.BranchStatus)

		if a.Status() == models.StatusComplete {
			anyComplete = true
		}
	}

	branch := models.MostSevere(statuses...)
	if branch == models.StatusNone {
		branch = models.StatusComplete
	}

	if cancelled {
		return models.StatusCancelled, models.MostSevere(branch, models.StatusCancelled)
	}

	switch branch {
	case models.StatusFailed, models.StatusCompletedWithErrors:
		if anyComplete {
			return models.StatusCompletedWithErrors, branch
		}

		return models.StatusFailed, branch
	default:
		return models.StatusComplete, branch
	}
}
