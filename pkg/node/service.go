package node

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/conduit/pkg/client"
	"github.com/dukex/conduit/pkg/execution"
	"github.com/dukex/conduit/pkg/identity"
	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/otelhelper"
	"github.com/dukex/conduit/pkg/scheduler"
	"github.com/dukex/conduit/pkg/signature"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const reporterCloseTimeout = 30 * time.Second

// Config is the node configuration.
type Config struct {
	NodeID              string `validate:"required"`
	MaxConcurrency      int    `validate:"min=1"`
	AuditRoot           string
	SerializeResultPlan bool
	// ControllerURL overrides the controller derived from the request referrer.
	ControllerURL   string `validate:"omitempty,url"`
	VerifySignature bool
	Impersonate     bool
	ReportAttempts  int           `validate:"min=0"`
	ReportDelay     time.Duration `validate:"min=0"`
}

// StartRequest asks the node to run one plan instance.
type StartRequest struct {
	InstanceID    int64        `validate:"min=1"`
	DryRun        bool
	Plan          *models.Plan `validate:"required"`
	Parameters    map[string]string
	Referrer      string
	Authorization string
	Identity      *identity.Identity
}

// ReporterFactory builds the status reporter of one instance. The returned
// close function is called once the instance completes.
type ReporterFactory func(req StartRequest) (execution.Reporter, func(context.Context) error, error)

// Service is the node: admission, signature checks and the scheduler.
type Service struct {
	config       Config
	logger       *slog.Logger
	tracer       trace.Tracer
	validate     *validator.Validate
	scheduler    *scheduler.Scheduler
	runner       execution.Runner
	keys         signature.KeyLocator
	impersonator identity.Impersonator
	reporters    ReporterFactory

	mu           sync.Mutex
	closers      map[int64]func(context.Context) error
	shutdown     chan struct{}
	shutdownOnce sync.Once
	ctx          context.Context
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) { s.tracer = tracer }
}

// WithKeyLocator sets the keys used when Config.VerifySignature is on.
func WithKeyLocator(keys signature.KeyLocator) Option {
	return func(s *Service) { s.keys = keys }
}

// WithImpersonator sets the impersonator used when Config.Impersonate is on.
func WithImpersonator(impersonator identity.Impersonator) Option {
	return func(s *Service) { s.impersonator = impersonator }
}

// WithReporterFactory replaces the HTTP controller reporter, e.g. with an
// event bus reporter.
func WithReporterFactory(factory ReporterFactory) Option {
	return func(s *Service) { s.reporters = factory }
}

// NewService validates config and starts the scheduler. Executions run under ctx.
func NewService(ctx context.Context, config Config, runner execution.Runner, opts ...Option) (*Service, error) {
	validate := validator.New()

	err := validate.Struct(config)
	if err != nil {
		return nil, fmt.Errorf("invalid node configuration: %w", err)
	}

	s := &Service{
		config:   config,
		logger:   slog.Default(),
		validate: validate,
		runner:   runner,
		closers:  make(map[int64]func(context.Context) error),
		shutdown: make(chan struct{}),
		ctx:      ctx,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With("module", "node", "node_id", config.NodeID)

	if s.tracer == nil {
		s.tracer = otelhelper.Tracer("conduit/node")
	}

	if s.impersonator == nil {
		s.impersonator = identity.ContextImpersonator{Logger: s.logger}
	}

	if s.reporters == nil {
		s.reporters = s.httpReporter
	}

	if config.VerifySignature && s.keys == nil {
		return nil, fmt.Errorf("signature verification enabled without keys: %w", signature.ErrInvalidKey)
	}

	s.scheduler = scheduler.New(ctx, config.MaxConcurrency, scheduler.WithLogger(s.logger))
	s.scheduler.OnPlanCompleted(s.planCompleted)

	return s, nil
}

// Hello answers the liveness probe of a controller.
func (s *Service) Hello() string {
	return "Hello from node " + s.config.NodeID
}

// StartPlan validates and admits one plan instance. Validation, signature
// and admission failures are returned synchronously; execution faults end up
// in the instance's own result.
func (s *Service) StartPlan(ctx context.Context, req StartRequest) error {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "node.start_plan",
		attribute.Int64(otelhelper.PlanInstanceIDKey, req.InstanceID),
		attribute.String(otelhelper.NodeIDKey, s.config.NodeID),
	)
	defer span.End()

	err := s.startPlan(ctx, req)
	if err != nil {
		otelhelper.SetError(span, err)
		s.logger.WarnContext(ctx, "plan rejected", "instance_id", req.InstanceID, "error", err)
	}

	return err
}

func (s *Service) startPlan(ctx context.Context, req StartRequest) error {
	err := s.validate.Struct(req)
	if err != nil {
		return newError("StartPlan", req.InstanceID, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	plan := req.Plan.Clone()
	plan.InstanceID = req.InstanceID

	if plan.UniqueName == "" {
		plan.UniqueName = plan.Name
	}

	err = models.ValidatePlan(plan)
	if err != nil {
		return newError("StartPlan", req.InstanceID, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	if s.config.VerifySignature {
		err = signature.Verify(plan, s.keys)
		if err != nil {
			return newError("StartPlan", req.InstanceID, err)
		}
	}

	if s.scheduler.IsDraining() {
		return newError("StartPlan", req.InstanceID, ErrAdmissionRejected)
	}

	if s.hasCloser(plan.InstanceID) {
		return newError("StartPlan", req.InstanceID, fmt.Errorf("%w: %s", ErrAlreadyScheduled, plan.Key()))
	}

	reporter, closeReporter, err := s.reporters(req)
	if err != nil {
		return newError("StartPlan", req.InstanceID, err)
	}

	impersonator := identity.Impersonator(identity.NoopImpersonator{})
	if s.config.Impersonate {
		impersonator = s.impersonator
	}

	container := execution.NewContainer(plan, s.runner, reporter, execution.Config{
		AuditRoot:           s.config.AuditRoot,
		SerializeResultPlan: s.config.SerializeResultPlan,
		DryRun:              req.DryRun,
		Parameters:          models.LowerKeys(req.Parameters),
		Identity:            req.Identity,
		Impersonator:        impersonator,
		Logger:              s.logger,
		Tracer:              s.tracer,
	})

	// Claimed before scheduling: completion may fire before StartPlan returns.
	s.mu.Lock()
	if _, exists := s.closers[plan.InstanceID]; exists {
		s.mu.Unlock()

		go s.closeReporter(plan.InstanceID, closeReporter)

		return newError("StartPlan", req.InstanceID, fmt.Errorf("%w: %s", ErrAlreadyScheduled, plan.Key()))
	}

	s.closers[plan.InstanceID] = closeReporter
	s.mu.Unlock()

	err = s.scheduler.StartPlan(container)
	if err != nil {
		s.takeCloser(plan.InstanceID)

		go s.closeReporter(plan.InstanceID, closeReporter)

		return newError("StartPlan", req.InstanceID, err)
	}

	s.logger.InfoContext(ctx, "plan admitted",
		"plan", plan.Name, "instance_id", plan.InstanceID, "dry_run", req.DryRun, "requested_by", req.Identity.String())

	return nil
}

// CancelPlan cancels a running or queued instance; false when unknown.
func (s *Service) CancelPlan(instanceID int64) bool {
	return s.scheduler.CancelPlan(instanceID)
}

// Drainstop stops admitting new plans. With shutdown it also signals
// ShutdownRequested once every admitted plan finished. It does not block.
func (s *Service) Drainstop(shutdown bool) {
	s.scheduler.Drainstop()

	if !shutdown {
		return
	}

	go func() {
		err := s.scheduler.WaitDrained(s.ctx)
		if err != nil {
			return
		}

		s.logger.Info("drained, shutdown requested")
		s.shutdownOnce.Do(func() { close(s.shutdown) })
	}()
}

// ShutdownRequested is closed after Drainstop(true) completed.
func (s *Service) ShutdownRequested() <-chan struct{} {
	return s.shutdown
}

func (s *Service) CancelDrainstop() {
	s.scheduler.CancelDrainstop()
}

func (s *Service) IsDrainstopComplete() bool {
	return s.scheduler.IsDrainstopComplete()
}

func (s *Service) QueueDepth() int {
	return s.scheduler.QueueDepth()
}

// QueueItems lists running then queued instances as <id>_<name>.
func (s *Service) QueueItems() []string {
	return s.scheduler.CurrentQueue()
}

func (s *Service) Snapshot() scheduler.Snapshot {
	return s.scheduler.Snapshot()
}

// Close drains the node and waits for admitted plans and their reports.
func (s *Service) Close(ctx context.Context) error {
	s.scheduler.Drainstop()

	err := s.scheduler.WaitDrained(ctx)

	s.mu.Lock()
	closers := s.closers
	s.closers = make(map[int64]func(context.Context) error)
	s.mu.Unlock()

	for id, closer := range closers {
		s.closeReporter(id, closer)
	}

	return err
}

func (s *Service) planCompleted(c scheduler.Completion) {
	s.logger.Info("plan completed",
		"plan", c.Name, "instance_id", c.InstanceID, "status", c.Status, "was_running", c.WasRunning)

	if closer := s.takeCloser(c.InstanceID); closer != nil {
		go s.closeReporter(c.InstanceID, closer)
	}
}

func (s *Service) hasCloser(instanceID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.closers[instanceID]

	return ok
}

func (s *Service) takeCloser(instanceID int64) func(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	closer := s.closers[instanceID]
	delete(s.closers, instanceID)

	return closer
}

func (s *Service) closeReporter(instanceID int64, closer func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), reporterCloseTimeout)
	defer cancel()

	err := closer(ctx)
	if err != nil {
		s.logger.Warn("status reports not fully delivered", "instance_id", instanceID, "error", err)
	}
}

func (s *Service) httpReporter(req StartRequest) (execution.Reporter, func(context.Context) error, error) {
	controllerURL := s.config.ControllerURL
	if controllerURL == "" {
		derived, err := client.ControllerURLFromReferrer(req.Referrer)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrNoController, err)
		}

		controllerURL = derived
	}

	opts := []client.Option{client.WithAuthorization(req.Authorization)}

	c := client.NewControllerClient(controllerURL, s.logger, opts,
		client.WithRetry(s.config.ReportAttempts, s.config.ReportDelay))

	return c, c.Close, nil
}
