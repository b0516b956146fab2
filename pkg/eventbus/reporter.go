package eventbus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/conduit/pkg/events"
	"github.com/dukex/conduit/pkg/models"
)

// Reporter publishes plan and action status reports on the bus. It is the
// node-side counterpart of the controller's bus intake.
type Reporter struct {
	bus    EventPublisher
	nodeID string
	logger *slog.Logger
}

func NewReporter(bus EventPublisher, nodeID string, logger *slog.Logger) *Reporter {
	return &Reporter{
		bus:    bus,
		nodeID: nodeID,
		logger: logger.With("module", "eventbus_reporter", "node_id", nodeID),
	}
}

// ReportPlanStatus implements execution.Reporter.
func (r *Reporter) ReportPlanStatus(ctx context.Context, plan *models.Plan) {
	err := r.bus.Publish(ctx, Key(plan.UniqueName, plan.InstanceID), events.NewPlanStatusReported(r.nodeID, plan))
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to publish plan status",
			"plan", plan.UniqueName, "instance_id", plan.InstanceID, "error", err)
	}
}

// ReportActionStatus implements execution.Reporter.
func (r *Reporter) ReportActionStatus(ctx context.Context, uniqueName string, instanceID int64, action *models.ActionItem) {
	event := events.NewActionStatusReported(r.nodeID, uniqueName, instanceID, action)

	err := r.bus.Publish(ctx, Key(uniqueName, instanceID), event)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to publish action status",
			"plan", uniqueName, "instance_id", instanceID, "action", action.Name, "error", err)
	}
}

// Key partitions status events by plan instance so a broker keeps their order.
func Key(uniqueName string, instanceID int64) string {
	return fmt.Sprintf("%s/%d", uniqueName, instanceID)
}
