package service

import (
	"context"

	"github.com/pesio-ai/be-plt-approvals/internal/event"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// ConfigStore loads workflow configurations. Implemented by
// repository.WorkflowConfigRepository.
type ConfigStore interface {
	GetActive(ctx context.Context, companyID string, entityType repository.EntityType) (*repository.WorkflowConfiguration, error)
	GetByID(ctx context.Context, id string) (*repository.WorkflowConfiguration, error)
}

// EntityStores selects the store for an entity kind. Implemented by
// repository.Registry.
type EntityStores interface {
	Store(kind repository.EntityType) (repository.EntityStore, error)
}

// AuditStore appends approval audit records. Implemented by
// repository.ApprovalAuditRepository.
type AuditStore interface {
	Append(ctx context.Context, audit *repository.ApprovalAudit) error
}

// RejectionStore appends rejection records and serves the latest unresolved
// one. Implemented by repository.RejectionRepository.
type RejectionStore interface {
	Append(ctx context.Context, rec *repository.RejectionRecord) error
	LatestUnresolved(ctx context.Context, companyID string, entityType repository.EntityType, entityID string) (*repository.RejectionRecord, error)
}

// EventEmitter publishes workflow events without blocking the transition.
// Implemented by event.Bus.
type EventEmitter interface {
	Emit(ctx context.Context, evt *event.WorkflowEvent)
}
