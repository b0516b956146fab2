package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/conduit/pkg/client"
	"github.com/dukex/conduit/pkg/eventbus"
	"github.com/dukex/conduit/pkg/events"
	"github.com/dukex/conduit/pkg/identity"
	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/otelhelper"
	"github.com/dukex/conduit/pkg/persistence"
	"github.com/dukex/conduit/pkg/signature"
	"github.com/dukex/conduit/pkg/statusupdate"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Config is the controller configuration.
type Config struct {
	// NodeURL is the node used when a start request names none.
	NodeURL string `validate:"omitempty,url"`
	// PublicURL is sent to nodes as the Referer; they report back to
	// PublicURL/controller.
	PublicURL          string `validate:"omitempty,url"`
	SignPlan           bool
	QueuePlanUpdates   bool
	QueueActionUpdates bool
}

// DefaultConfig queues action updates and writes plan updates directly.
func DefaultConfig() Config {
	return Config{QueueActionUpdates: true}
}

// StartPlanRequest asks the controller to start a new instance of a plan.
type StartPlanRequest struct {
	PlanName      string `validate:"required"`
	DryRun        bool
	RequestNumber string
	// NodeRootURL overrides Config.NodeURL.
	NodeRootURL string `validate:"omitempty,url"`
	Parameters  map[string]string
	// PostParameters sends the plan and parameters as one envelope instead of
	// passing parameters on the query string.
	PostParameters bool
	Identity       *identity.Identity
	// Referrer is sent to the node when Config.PublicURL is empty.
	Referrer string
}

// Node is the part of a node's HTTP surface the controller drives.
type Node interface {
	StartPlan(ctx context.Context, instanceID int64, plan *models.Plan, dryRun bool, parameters map[string]string) error
	StartPlanWithParameters(ctx context.Context, instanceID int64, envelope *models.StartPlanEnvelope, dryRun bool) error
	CancelPlan(ctx context.Context, instanceID int64) (bool, error)
}

// NodeFactory returns a client for the node rooted at root.
type NodeFactory func(root string, opts ...client.Option) Node

func httpNode(root string, opts ...client.Option) Node {
	return client.NewNodeClient(root, opts...)
}

// Service is the controller: plan definitions, instance history and dispatch
// to nodes.
type Service struct {
	config   Config
	gateway  persistence.Gateway
	pipeline *statusupdate.Pipeline
	logger   *slog.Logger
	tracer   trace.Tracer
	validate *validator.Validate
	keys     signature.KeyLocator
	nodes    NodeFactory
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) { s.tracer = tracer }
}

// WithKeyLocator sets the keys used when Config.SignPlan is on.
func WithKeyLocator(keys signature.KeyLocator) Option {
	return func(s *Service) { s.keys = keys }
}

// WithNodeFactory replaces the HTTP node client.
func WithNodeFactory(factory NodeFactory) Option {
	return func(s *Service) { s.nodes = factory }
}

// NewService builds a controller over gateway. The pipeline may be nil when
// neither plan nor action updates are queued.
func NewService(config Config, gateway persistence.Gateway, pipeline *statusupdate.Pipeline, opts ...Option) (*Service, error) {
	validate := validator.New()

	err := validate.Struct(config)
	if err != nil {
		return nil, fmt.Errorf("invalid controller configuration: %w", err)
	}

	if pipeline == nil && (config.QueuePlanUpdates || config.QueueActionUpdates) {
		return nil, errors.New("queued status updates need a status update pipeline")
	}

	s := &Service{
		config:   config,
		gateway:  gateway,
		pipeline: pipeline,
		logger:   slog.Default(),
		validate: validate,
		nodes:    httpNode,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With("module", "controller")

	if s.tracer == nil {
		s.tracer = otelhelper.Tracer("conduit/controller")
	}

	if config.SignPlan && s.keys == nil {
		return nil, fmt.Errorf("plan signing enabled without keys: %w", signature.ErrInvalidKey)
	}

	return s, nil
}

// Hello answers liveness probes.
func (s *Service) Hello() string {
	return "Hello from controller"
}

func (s *Service) GetPlan(ctx context.Context, uniqueName string) (*models.Plan, error) {
	return s.gateway.GetPlan(ctx, uniqueName)
}

func (s *Service) GetPlanList(ctx context.Context, filter string, isRegexFilter bool) ([]string, error) {
	names, err := s.gateway.GetPlanList(ctx, filter, isRegexFilter)
	if err != nil {
		return nil, newError("GetPlanList", filter, err)
	}

	return names, nil
}

func (s *Service) GetPlanInstanceIDList(ctx context.Context, uniqueName string) ([]int64, error) {
	return s.gateway.GetPlanInstanceIDList(ctx, uniqueName)
}

// SavePlan validates and registers a plan definition.
func (s *Service) SavePlan(ctx context.Context, plan *models.Plan) error {
	if plan == nil {
		return newError("SavePlan", "", fmt.Errorf("%w: missing plan", ErrInvalidRequest))
	}

	if plan.UniqueName == "" {
		plan.UniqueName = plan.Name
	}

	err := models.ValidatePlan(plan)
	if err != nil {
		return newError("SavePlan", plan.UniqueName, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	return s.gateway.SavePlan(ctx, plan)
}

// StartPlan creates a new instance of a plan, records it as New and hands it
// to a node. The instance id is returned even when the node refused the plan;
// that instance is then recorded as Failed.
func (s *Service) StartPlan(ctx context.Context, req StartPlanRequest) (int64, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "controller.start_plan",
		attribute.String(otelhelper.PlanNameKey, req.PlanName),
	)
	defer span.End()

	instanceID, err := s.startPlan(ctx, req)
	if err != nil {
		otelhelper.SetError(span, err)
		s.logger.WarnContext(ctx, "failed to start plan", "plan", req.PlanName, "instance_id", instanceID, "error", err)
	}

	span.SetAttributes(attribute.Int64(otelhelper.PlanInstanceIDKey, instanceID))

	return instanceID, err
}

func (s *Service) startPlan(ctx context.Context, req StartPlanRequest) (int64, error) {
	err := s.validate.Struct(req)
	if err != nil {
		return 0, newError("StartPlan", req.PlanName, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	nodeURL := req.NodeRootURL
	if nodeURL == "" {
		nodeURL = s.config.NodeURL
	}

	if nodeURL == "" {
		return 0, newError("StartPlan", req.PlanName, ErrNoNode)
	}

	err = s.gateway.CheckAccess(ctx, req.Identity.String(), req.PlanName)
	if err != nil {
		return 0, newError("StartPlan", req.PlanName, err)
	}

	plan, err := s.gateway.CreatePlanInstance(ctx, req.PlanName)
	if err != nil {
		return 0, newError("StartPlan", req.PlanName, err)
	}

	plan.StartInfo = &models.StartInfo{
		RequestUser:   req.Identity.String(),
		RequestNumber: req.RequestNumber,
		RequestedAt:   time.Now().UTC(),
	}

	recorded := plan.Clone()
	recorded.Result = &models.ExecuteResult{
		Status:       models.StatusNew,
		BranchStatus: models.StatusNew,
		Message:      fmt.Sprintf("New Instance of Plan [%s/%d].", plan.UniqueName, plan.InstanceID),
	}

	err = s.gateway.UpdatePlanStatus(ctx, recorded)
	if err != nil {
		return plan.InstanceID, newError("StartPlan", req.PlanName, err)
	}

	if s.config.SignPlan {
		err = signature.Sign(plan, s.keys)
		if err != nil {
			return plan.InstanceID, s.failInstance(ctx, plan, fmt.Errorf("failed to sign plan: %w", err))
		}
	}

	err = s.dispatch(ctx, nodeURL, plan, req)
	if err != nil {
		return plan.InstanceID, s.failInstance(ctx, plan, nodeError(err))
	}

	s.logger.InfoContext(ctx, "plan started",
		"plan", plan.UniqueName, "instance_id", plan.InstanceID, "node", nodeURL, "dry_run", req.DryRun,
		"requested_by", req.Identity.String())

	return plan.InstanceID, nil
}

func (s *Service) dispatch(ctx context.Context, nodeURL string, plan *models.Plan, req StartPlanRequest) error {
	node := s.nodes(nodeURL, s.nodeOptions(req.Identity, req.Referrer)...)

	if req.PostParameters {
		envelope := &models.StartPlanEnvelope{Plan: plan, DynamicParameters: req.Parameters}

		return node.StartPlanWithParameters(ctx, plan.InstanceID, envelope, req.DryRun)
	}

	return node.StartPlan(ctx, plan.InstanceID, plan, req.DryRun, req.Parameters)
}

func (s *Service) nodeOptions(id *identity.Identity, referrer string) []client.Option {
	if s.config.PublicURL != "" {
		referrer = s.config.PublicURL
	}

	opts := []client.Option{client.WithReferrer(referrer)}
	if id != nil && id.Authorization != "" {
		opts = append(opts, client.WithAuthorization(id.Authorization))
	}

	return opts
}

func (s *Service) failInstance(ctx context.Context, plan *models.Plan, cause error) error {
	failed := models.NewStatusPlan(plan.UniqueName, plan.InstanceID, models.StatusFailed, cause.Error())
	failed.Name = plan.Name

	err := s.gateway.UpdatePlanStatus(ctx, failed)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record plan failure",
			"plan", plan.UniqueName, "instance_id", plan.InstanceID, "error", err)
	}

	return newError("StartPlan", plan.UniqueName, cause)
}

// CancelPlan asks the node running an instance to cancel it. It returns false
// when the node does not know the instance.
func (s *Service) CancelPlan(ctx context.Context, uniqueName string, instanceID int64, nodeRootURL string, id *identity.Identity) (bool, error) {
	if nodeRootURL == "" {
		nodeRootURL = s.config.NodeURL
	}

	if nodeRootURL == "" {
		return false, newError("CancelPlan", uniqueName, ErrNoNode)
	}

	err := s.gateway.CheckAccess(ctx, id.String(), uniqueName)
	if err != nil {
		return false, newError("CancelPlan", uniqueName, err)
	}

	cancelled, err := s.nodes(nodeRootURL, s.nodeOptions(id, "")...).CancelPlan(ctx, instanceID)
	if err != nil {
		return false, newError("CancelPlan", uniqueName, nodeError(err))
	}

	s.logger.InfoContext(ctx, "plan cancel requested",
		"plan", uniqueName, "instance_id", instanceID, "node", nodeRootURL, "cancelled", cancelled)

	return cancelled, nil
}

// GetPlanStatus returns the recorded history of an instance. It never fails:
// unreadable history yields a placeholder with status None.
func (s *Service) GetPlanStatus(ctx context.Context, uniqueName string, instanceID int64) *models.Plan {
	plan, err := s.gateway.GetPlanStatus(ctx, uniqueName, instanceID)
	if err != nil {
		s.logger.WarnContext(ctx, "could not fetch plan status",
			"plan", uniqueName, "instance_id", instanceID, "error", err)

		return models.NewStatusPlan(uniqueName, instanceID, models.StatusNone,
			fmt.Sprintf("Could not fetch Plan [%s/%d].", uniqueName, instanceID))
	}

	return plan
}

// UpdatePlanStatus records a plan status document, queued or direct
// depending on Config.QueuePlanUpdates.
func (s *Service) UpdatePlanStatus(ctx context.Context, plan *models.Plan) error {
	if plan == nil || plan.InstanceID < 1 || (plan.Name == "" && plan.UniqueName == "") {
		return newError("UpdatePlanStatus", "", fmt.Errorf("%w: plan name and instance id are required", ErrInvalidRequest))
	}

	if s.config.QueuePlanUpdates {
		s.pipeline.EnqueuePlan(plan)

		return nil
	}

	return s.gateway.UpdatePlanStatus(ctx, plan)
}

// UpdatePlanActionStatus records one action delta, queued or direct
// depending on Config.QueueActionUpdates.
func (s *Service) UpdatePlanActionStatus(ctx context.Context, uniqueName string, instanceID int64, action *models.ActionItem) error {
	if uniqueName == "" || instanceID < 1 || action == nil || action.Name == "" {
		return newError("UpdatePlanActionStatus", uniqueName,
			fmt.Errorf("%w: plan name, instance id and action name are required", ErrInvalidRequest))
	}

	if s.config.QueueActionUpdates {
		s.pipeline.EnqueueAction(uniqueName, instanceID, action)

		return nil
	}

	return s.gateway.UpdatePlanActionStatus(ctx, uniqueName, instanceID, action)
}

// Stats reports the status update pipeline.
func (s *Service) Stats() statusupdate.Stats {
	if s.pipeline == nil {
		return statusupdate.Stats{Kinds: map[statusupdate.Kind]statusupdate.KindStats{}}
	}

	return s.pipeline.Stats()
}

// Redrive moves dead-lettered updates of kind back into their queue. An empty
// kind redrives every queue.
func (s *Service) Redrive(kind string) (int, error) {
	if s.pipeline == nil {
		return 0, nil
	}

	if kind == "" {
		return s.pipeline.RedriveAll(), nil
	}

	for _, k := range statusupdate.Kinds {
		if string(k) == kind {
			return s.pipeline.Redrive(k), nil
		}
	}

	return 0, newError("Redrive", "", fmt.Errorf("%w: unknown update kind %q", ErrInvalidRequest, kind))
}

// SubscribeEvents feeds status events published by nodes into the same update
// path as HTTP reports.
func (s *Service) SubscribeEvents(ctx context.Context, bus eventbus.EventSubscriber) error {
	err := bus.Handle(events.PlanStatusReportedEvent, func(ctx context.Context, event any) error {
		e, ok := event.(*events.PlanStatusReported)
		if !ok || e.Plan == nil {
			return nil
		}

		return s.acceptEvent(ctx, e.ID, s.UpdatePlanStatus(ctx, e.Plan))
	})
	if err != nil {
		return fmt.Errorf("failed to handle plan status events: %w", err)
	}

	err = bus.Handle(events.ActionStatusReportedEvent, func(ctx context.Context, event any) error {
		e, ok := event.(*events.ActionStatusReported)
		if !ok || e.Action == nil {
			return nil
		}

		return s.acceptEvent(ctx, e.ID, s.UpdatePlanActionStatus(ctx, e.PlanUniqueName, e.PlanInstanceID, e.Action))
	})
	if err != nil {
		return fmt.Errorf("failed to handle action status events: %w", err)
	}

	return bus.Subscribe(ctx)
}

// acceptEvent acks malformed events instead of having them redelivered.
func (s *Service) acceptEvent(ctx context.Context, eventID string, err error) error {
	if err != nil && IsValidationError(err) {
		s.logger.WarnContext(ctx, "dropping malformed status event", "event_id", eventID, "error", err)

		return nil
	}

	return err
}
