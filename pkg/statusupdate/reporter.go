package statusupdate

import (
	"context"

	"github.com/dukex/conduit/pkg/models"
)

// Reporter feeds execution reports straight into a pipeline, for nodes that
// share a process with the controller.
type Reporter struct {
	pipeline *Pipeline
}

// Reporter adapts p to the execution reporter contract.
func (p *Pipeline) Reporter() *Reporter {
	return &Reporter{pipeline: p}
}

// ReportPlanStatus enqueues a plan status update.
func (r *Reporter) ReportPlanStatus(_ context.Context, plan *models.Plan) {
	r.pipeline.EnqueuePlan(plan)
}

// ReportActionStatus enqueues an action status update.
func (r *Reporter) ReportActionStatus(_ context.Context, uniqueName string, instanceID int64, action *models.ActionItem) {
	r.pipeline.EnqueueAction(uniqueName, instanceID, action)
}
