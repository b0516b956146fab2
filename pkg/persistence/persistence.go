// Package persistence provides the storage contract for plan definitions and
// plan instance history.
package persistence

import (
	"context"

	"github.com/dukex/conduit/pkg/models"
)

// Gateway is the only storage surface the controller and the status update
// pipeline depend on. Implementations serialize concurrent writers to the same
// document within one process.
type Gateway interface {
	// GetPlan returns the plan definition registered under uniqueName.
	GetPlan(ctx context.Context, uniqueName string) (*models.Plan, error)
	// SavePlan registers or replaces a plan definition.
	SavePlan(ctx context.Context, plan *models.Plan) error
	// GetPlanList lists plan definitions, optionally filtered by a regular
	// expression or a case-insensitive substring.
	GetPlanList(ctx context.Context, filter string, isRegexFilter bool) ([]string, error)
	// GetPlanInstanceIDList lists known instance ids of a plan in ascending order.
	GetPlanInstanceIDList(ctx context.Context, uniqueName string) ([]int64, error)

	// CreatePlanInstance copies the definition and allocates a fresh InstanceID.
	CreatePlanInstance(ctx context.Context, uniqueName string) (*models.Plan, error)
	// GetPlanStatus returns the persisted history document of one instance.
	GetPlanStatus(ctx context.Context, uniqueName string, instanceID int64) (*models.Plan, error)
	// UpdatePlanStatus writes a plan-level status document.
	UpdatePlanStatus(ctx context.Context, plan *models.Plan) error
	// UpdatePlanActionStatus applies one action delta to a persisted instance.
	// It fails with ErrActionNotFound when the delta's parent cannot be located.
	UpdatePlanActionStatus(ctx context.Context, uniqueName string, instanceID int64, action *models.ActionItem) error

	// CheckAccess fails with ErrAccessDenied unless identity may use the plan.
	CheckAccess(ctx context.Context, identity, uniqueName string) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
