// Package event defines workflow lifecycle events and the in-process bus
// that decouples notification delivery from workflow transitions.
package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// Type identifies a workflow lifecycle event.
type Type string

const (
	TypeEntitySubmitted   Type = "ENTITY_SUBMITTED"
	TypeEntityApproved    Type = "ENTITY_APPROVED"
	TypeEntityRejected    Type = "ENTITY_REJECTED"
	TypeWorkflowCompleted Type = "WORKFLOW_COMPLETED"

	// Wildcard subscribes a listener to every event type.
	Wildcard Type = "*"
)

// RejectionDetail carries rejection context into notifications.
type RejectionDetail struct {
	ReasonCode           string   `json:"reason_code"`
	Remarks              string   `json:"remarks,omitempty"`
	NotifyRoles          []string `json:"notify_roles,omitempty"`
	VisibleToRoles       []string `json:"visible_to_roles,omitempty"`
	AllowResubmission    bool     `json:"allow_resubmission"`
	ResubmissionStrategy string   `json:"resubmission_strategy,omitempty"`
}

// WorkflowEvent is emitted once per workflow transition and consumed
// at-least-once. EventID doubles as the notification idempotency key.
type WorkflowEvent struct {
	EventID    string                 `json:"event_id"`
	EventType  Type                   `json:"event_type"`
	CompanyID  string                 `json:"company_id"`
	EntityType repository.EntityType  `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`

	FromStage      *string `json:"from_stage,omitempty"`
	ToStage        *string `json:"to_stage,omitempty"`
	PreviousStatus string  `json:"previous_status"`
	NewStatus      string  `json:"new_status"`

	ActorID    string `json:"actor_id"`
	ActorName  string `json:"actor_name,omitempty"`
	ActorRole  string `json:"actor_role,omitempty"`
	ActorEmail string `json:"actor_email,omitempty"`

	Snapshot  *repository.EntitySnapshot `json:"snapshot,omitempty"`
	Rejection *RejectionDetail           `json:"rejection,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// New creates an event with a fresh id and timestamp.
func New(eventType Type, companyID string, entityType repository.EntityType, entityID string) *WorkflowEvent {
	return &WorkflowEvent{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		CompanyID:  companyID,
		EntityType: entityType,
		EntityID:   entityID,
		OccurredAt: time.Now().UTC(),
	}
}
