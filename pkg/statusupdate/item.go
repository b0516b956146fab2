package statusupdate

import (
	"time"

	"github.com/dukex/conduit/pkg/models"
)

// Kind selects the queue an update travels through.
type Kind string

const (
	KindPlan   Kind = "plan"
	KindAction Kind = "action"
)

// Kinds lists every kind in processing order.
var Kinds = []Kind{KindPlan, KindAction}

// UpdateItem is one pending write to the persistence gateway. Plan items carry
// Plan; action items carry PlanUniqueName, PlanInstanceID and Action.
type UpdateItem struct {
	ID             string             `json:"id"`
	Kind           Kind               `json:"kind"`
	Plan           *models.Plan       `json:"plan,omitempty"`
	PlanUniqueName string             `json:"plan_unique_name,omitempty"`
	PlanInstanceID int64              `json:"plan_instance_id,omitempty"`
	Action         *models.ActionItem `json:"action,omitempty"`
	RetryAttempts  int                `json:"retry_attempts"`
	EnqueuedAt     time.Time          `json:"enqueued_at"`
}

// Target names the plan instance the update belongs to.
func (i *UpdateItem) Target() (string, int64) {
	if i.Kind == KindPlan && i.Plan != nil {
		name := i.Plan.UniqueName
		if name == "" {
			name = i.Plan.Name
		}

		return name, i.Plan.InstanceID
	}

	return i.PlanUniqueName, i.PlanInstanceID
}

func (i *UpdateItem) clone() UpdateItem {
	c := *i
	c.Plan = i.Plan.Clone()
	c.Action = i.Action.Clone()

	return c
}

// Failure records one failed persistence attempt.
type Failure struct {
	Item    UpdateItem `json:"item"`
	Error   string     `json:"error"`
	Attempt int        `json:"attempt"`
	At      time.Time  `json:"at"`
}

// KindStats summarizes one queue.
type KindStats struct {
	QueueDepth  int    `json:"queue_depth"`
	InFlight    int    `json:"in_flight"`
	Exceptions  int    `json:"exceptions"`
	DeadLetters int    `json:"dead_letters"`
	Persisted   uint64 `json:"persisted"`
	Failures    uint64 `json:"failures"`
}

// Stats summarizes the pipeline.
type Stats struct {
	Running bool               `json:"running"`
	Kinds   map[Kind]KindStats `json:"kinds"`
}
