package repository

import (
	"context"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
)

// EntityStore adapts one entity kind to the workflow contract. The engine
// dispatches only through this interface, never by entity-kind name.
type EntityStore interface {
	// Kind returns the entity type this store serves.
	Kind() EntityType

	// FindByID loads an entity scoped to a company. Implementations fall
	// back to a kind-specific business key (e.g. document number) when the
	// primary key misses. A cross-company hit is reported as not-found.
	FindByID(ctx context.Context, companyID, id string) (*WorkflowEntity, error)

	// UpdateWorkflowState persists the engine's single per-transition write.
	UpdateWorkflowState(ctx context.Context, companyID, id string, upd WorkflowStateUpdate) error

	// Snapshot extracts the bounded display-field set for audit and
	// templating. Never returns the full record.
	Snapshot(ctx context.Context, e *WorkflowEntity) (*EntitySnapshot, error)

	// TranslateStatus maps a legacy status vocabulary value to the current
	// one. Unknown values pass through unchanged.
	TranslateStatus(status string) string
}

// Registry is the closed set of entity stores, keyed by EntityType.
type Registry struct {
	stores map[EntityType]EntityStore
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{stores: make(map[EntityType]EntityStore)}
}

// Register adds a store for its kind. Registering the same kind twice
// replaces the earlier store; wiring happens once at startup.
func (r *Registry) Register(s EntityStore) {
	r.stores[s.Kind()] = s
}

// Store returns the store for a kind.
func (r *Registry) Store(kind EntityType) (EntityStore, error) {
	s, ok := r.stores[kind]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeValidationFailed, "unsupported entity type %q", kind)
	}
	return s, nil
}
