// Package events defines the status events nodes publish on the event bus.
package events

import (
	"time"

	"github.com/dukex/conduit/pkg/models"
	"github.com/google/uuid"
)

type EventType string

const Topic = "conduit.status"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	PlanStatusReportedEvent   EventType = "plan.status.reported"
	ActionStatusReportedEvent EventType = "action.status.reported"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id,omitempty"`
}

func newBaseEvent(eventType EventType, nodeID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
	}
}

// PlanStatusReported carries a whole plan status document.
type PlanStatusReported struct {
	BaseEvent

	Plan *models.Plan `json:"plan"`
}

func NewPlanStatusReported(nodeID string, plan *models.Plan) *PlanStatusReported {
	return &PlanStatusReported{
		BaseEvent: newBaseEvent(PlanStatusReportedEvent, nodeID),
		Plan:      plan,
	}
}

func (e PlanStatusReported) GetType() EventType {
	return PlanStatusReportedEvent
}

// ActionStatusReported carries one action delta of a plan instance.
type ActionStatusReported struct {
	BaseEvent

	PlanUniqueName string             `json:"plan_unique_name"`
	PlanInstanceID int64              `json:"plan_instance_id"`
	Action         *models.ActionItem `json:"action"`
}

func NewActionStatusReported(nodeID, uniqueName string, instanceID int64, action *models.ActionItem) *ActionStatusReported {
	return &ActionStatusReported{
		BaseEvent:      newBaseEvent(ActionStatusReportedEvent, nodeID),
		PlanUniqueName: uniqueName,
		PlanInstanceID: instanceID,
		Action:         action,
	}
}

func (e ActionStatusReported) GetType() EventType {
	return ActionStatusReportedEvent
}
