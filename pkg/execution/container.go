package execution

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dukex/conduit/pkg/identity"
	"github.com/dukex/conduit/pkg/log"
	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/otelhelper"
	"github.com/qmuntal/stateless"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// State is the lifecycle state of a Container.
type State string

const (
	StateCreated   State = "Created"
	StateRunning   State = "Running"
	StateCompleted State = "Completed"
	StateFailed    State = "Failed"
	StateCancelled State = "Cancelled"
)

const (
	triggerStart    = "start"
	triggerComplete = "complete"
	triggerFail     = "fail"
	triggerCancel   = "cancel"
	triggerAbort    = "abort"
)

// Config configures a Container.
type Config struct {
	// AuditRoot is where <id>_<name>.log is written; empty disables the file.
	AuditRoot           string
	SerializeResultPlan bool
	DryRun              bool
	Parameters          map[string]string
	Identity            *identity.Identity
	Impersonator        identity.Impersonator
	Logger              *slog.Logger
	Tracer              trace.Tracer
}

// Container runs one plan instance exactly once.
type Container struct {
	plan     *models.Plan
	runner   Runner
	reporter Reporter
	config   Config
	logger   *slog.Logger

	fsm             *stateless.StateMachine
	mu              sync.Mutex
	cancelRequested atomic.Bool
	cancelRun       context.CancelFunc
	result          *models.Plan
	auditLog        *log.InstanceLogger
	doneOnce        sync.Once
}

// NewContainer builds a container for plan. The plan must carry its InstanceID.
func NewContainer(plan *models.Plan, runner Runner, reporter Reporter, config Config) *Container {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	if config.Impersonator == nil {
		config.Impersonator = identity.NoopImpersonator{}
	}

	if config.Tracer == nil {
		config.Tracer = otelhelper.Tracer("conduit/execution")
	}

	if plan.UniqueName == "" {
		plan.UniqueName = plan.Name
	}

	c := &Container{
		plan:     plan,
		runner:   runner,
		reporter: reporter,
		config:   config,
		logger:   config.Logger.With("module", "execution", "plan", plan.Name, "instance_id", plan.InstanceID),
	}

	c.fsm = stateless.NewStateMachine(StateCreated)
	c.fsm.Configure(StateCreated).
		Permit(triggerStart, StateRunning).
		Permit(triggerAbort, StateCancelled)

	c.fsm.Configure(StateRunning).
		Permit(triggerComplete, StateCompleted).
		Permit(triggerFail, StateFailed).
		Permit(triggerCancel, StateCancelled)

	return c
}

// InstanceID returns the plan instance id.
func (c *Container) InstanceID() int64 { return c.plan.InstanceID }

// Name returns the plan name.
func (c *Container) Name() string { return c.plan.Name }

// Key returns <id>_<name>.
func (c *Container) Key() string { return c.plan.Key() }

// State returns the lifecycle state.
func (c *Container) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fsm.MustState().(State)
}

// Status returns the status of the result plan, or Running/New while the run
// has not finished.
func (c *Container) Status() models.StatusType {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.fsm.MustState().(State) {
	case StateCreated:
		return models.StatusNew
	case StateRunning:
		return models.StatusRunning
	default:
		return c.result.Status()
	}
}

// Result returns a copy of the result plan once the run finished.
func (c *Container) Result() *models.Plan {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.result.Clone()
}

// Cancel requests cooperative cancellation. The runner sees it at its next
// checkpoint and through ProgressEvent.Cancel.
func (c *Container) Cancel() {
	c.cancelRequested.Store(true)

	c.mu.Lock()
	cancel := c.cancelRun
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// CancelRequested reports whether Cancel was called.
func (c *Container) CancelRequested() bool {
	return c.cancelRequested.Load()
}

// Abort cancels a container that never started: it records a Cancelled
// result, reports it and invokes done. It fails once the run has started.
func (c *Container) Abort(ctx context.Context, done func()) error {
	c.mu.Lock()

	err := c.fsm.Fire(triggerAbort)
	if err != nil {
		c.mu.Unlock()

		return fmt.Errorf("cannot abort %s: %w", c.Key(), err)
	}

	c.cancelRequested.Store(true)
	c.result = c.plan.Clone()
	c.result.Result = finishedResult(models.StatusCancelled, "Plan cancelled before it started.", nil)
	result := c.result.Clone()
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "plan aborted before start")
	c.reporter.ReportPlanStatus(ctx, result)
	c.doneOnce.Do(func() {
		if done != nil {
			done()
		}
	})

	return nil
}

// Start runs the plan synchronously and invokes done exactly once when the
// container reaches a terminal state, including after a runner panic.
func (c *Container) Start(ctx context.Context, done func()) {
	c.mu.Lock()

	err := c.fsm.Fire(triggerStart)
	if err != nil {
		c.mu.Unlock()
		c.logger.WarnContext(ctx, "container cannot start", "state", c.fsm.MustState(), "error", err)

		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancelRun = cancel
	c.mu.Unlock()

	defer cancel()

	if c.cancelRequested.Load() {
		cancel()
	}

	runCtx, span := otelhelper.StartSpan(runCtx, c.config.Tracer, "execution.run",
		attribute.String(otelhelper.PlanNameKey, c.plan.Name),
		attribute.Int64(otelhelper.PlanInstanceIDKey, c.plan.InstanceID),
	)

	c.openAuditLog(runCtx)

	var result *models.Plan

	defer func() {
		if r := recover(); r != nil {
			result = c.failedResult(fmt.Errorf("runner panic: %v", r))
			c.logger.ErrorContext(ctx, "runner panicked", "fatal", true, "panic", r)
		}

		c.finish(ctx, result, span)
		span.End()

		c.doneOnce.Do(func() {
			if done != nil {
				done()
			}
		})
	}()

	started := c.plan.Clone()
	now := time.Now()
	started.Result = &models.ExecuteResult{Status: models.StatusRunning, BranchStatus: models.StatusRunning, StartedAt: &now}
	c.reporter.ReportPlanStatus(runCtx, started)
	c.logger.InfoContext(runCtx, "plan started", "dry_run", c.config.DryRun)

	opts := RunOptions{DryRun: c.config.DryRun, Parameters: c.config.Parameters}

	err = c.config.Impersonator.RunAs(runCtx, c.config.Identity, func(ctx context.Context) error {
		var runErr error

		result, runErr = c.runner.Run(ctx, c.plan.Clone(), opts, c)

		return runErr
	})
	if err != nil {
		c.logger.ErrorContext(runCtx, "plan execution failed", "fatal", true, "error", err)
		otelhelper.SetError(span, err)

		result = c.failedResult(err)
	}
}

func (c *Container) openAuditLog(ctx context.Context) {
	if c.config.AuditRoot == "" {
		c.auditLog = log.NewDiscardInstanceLogger()

		return
	}

	auditLog, err := log.NewInstanceLogger(c.config.AuditRoot, c.plan.InstanceID, c.plan.Name)
	if err != nil {
		c.logger.WarnContext(ctx, "audit log unavailable", "error", err)

		auditLog = log.NewDiscardInstanceLogger()
	}

	c.auditLog = auditLog
}

func (c *Container) failedResult(err error) *models.Plan {
	failed := c.plan.Clone()
	failed.Result = finishedResult(models.StatusFailed, err.Error(), nil)

	return failed
}

// finish moves the state machine to its terminal state and emits the final
// artifacts: log line, optional result document and the plan status report.
func (c *Container) finish(ctx context.Context, result *models.Plan, span trace.Span) {
	if result == nil {
		result = c.failedResult(fmt.Errorf("runner returned no result"))
	}

	if result.Result == nil {
		result.Result = finishedResult(models.StatusComplete, "", nil)
	}

	if c.cancelRequested.Load() && !result.Status().IsTerminal() {
		result.Result.Status = models.StatusCancelled
	}

	if result.Result.CompletedAt == nil {
		now := time.Now()
		result.Result.CompletedAt = &now
	}

	result.InstanceID = c.plan.InstanceID
	if result.UniqueName == "" {
		result.UniqueName = c.plan.UniqueName
	}

	trigger := triggerComplete

	switch result.Status() {
	case models.StatusFailed:
		trigger = triggerFail
	case models.StatusCancelled:
		trigger = triggerCancel
	}

	c.mu.Lock()
	c.result = result

	err := c.fsm.Fire(trigger)
	c.mu.Unlock()

	if err != nil {
		c.logger.ErrorContext(ctx, "invalid terminal transition", "trigger", trigger, "error", err)
	}

	span.SetAttributes(attribute.String(otelhelper.PlanStatusKey, string(result.Status())))

	c.auditLog.Write(ctx, slog.LevelInfo, "plan finished",
		"status", result.Status(), "branch_status", result.Result.BranchStatus, "message", result.Result.Message)

	if c.config.SerializeResultPlan && c.config.AuditRoot != "" {
		err := c.writeResultPlan(result)
		if err != nil {
			c.logger.WarnContext(ctx, "could not write result plan", "error", err)
		}
	}

	c.reporter.ReportPlanStatus(ctx, result.Clone())

	err = c.auditLog.Close()
	if err != nil {
		c.logger.WarnContext(ctx, "could not close audit log", "error", err)
	}

	c.logger.InfoContext(ctx, "plan finished", "status", result.Status())
}

// ResultPlanPath returns where the result document of an instance is written.
func ResultPlanPath(root string, instanceID int64, planName string) string {
	return filepath.Join(root, fmt.Sprintf("%d_%s.result.yaml", instanceID, planName))
}

func (c *Container) writeResultPlan(result *models.Plan) error {
	data, err := models.MarshalPlanYAML(result)
	if err != nil {
		return err
	}

	return os.WriteFile(ResultPlanPath(c.config.AuditRoot, c.plan.InstanceID, c.plan.Name), data, 0600)
}

// Progress implements EventSink.
func (c *Container) Progress(ctx context.Context, event *ProgressEvent) {
	if c.cancelRequested.Load() {
		event.Cancel = true
	}

	if event.Action == nil {
		return
	}

	c.reporter.ReportActionStatus(ctx, c.plan.UniqueName, c.plan.InstanceID, event.Action.Delta())

	c.auditLog.Write(ctx, slog.LevelInfo, "action progress",
		"action", event.Action.Name,
		"action_instance_id", event.Action.InstanceID,
		"parent_instance_id", event.Action.ParentInstanceID,
		"status", event.Action.Status(),
		"message", event.Message,
		"cancel", event.Cancel,
	)
}

// LogMessage implements EventSink.
func (c *Container) LogMessage(ctx context.Context, msg LogMessage) {
	args := make([]any, 0, 2+2*len(msg.Attrs))
	if msg.Action != "" {
		args = append(args, "action", msg.Action)
	}

	for k, v := range msg.Attrs {
		args = append(args, k, v)
	}

	c.auditLog.Write(ctx, msg.Level, msg.Message, args...)
}

func finishedResult(status models.StatusType, message string, exitData any) *models.ExecuteResult {
	now := time.Now()

	return &models.ExecuteResult{
		Status:       status,
		BranchStatus: status,
		Message:      message,
		ExitData:     exitData,
		CompletedAt:  &now,
	}
}
