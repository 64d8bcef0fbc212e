package notification

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-plt-approvals/internal/event"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// Recipient is one resolved notification target.
type Recipient struct {
	Email string
	Name  string
	Role  string
}

// Recipient resolver strategy names, as referenced by notification mappings.
const (
	StrategyRequestor         = "REQUESTOR"
	StrategyEntityOwner       = "ENTITY_OWNER"
	StrategyCurrentStageRole  = "CURRENT_STAGE_ROLE"
	StrategyNextStageRole     = "NEXT_STAGE_ROLE"
	StrategyPreviousStageRole = "PREVIOUS_STAGE_ROLE"
	StrategyActionPerformer   = "ACTION_PERFORMER"
	StrategyCompanyAdmin      = "COMPANY_ADMIN"
	StrategyLocationAdmin     = "LOCATION_ADMIN"
	StrategyFinanceAdmin      = "FINANCE_ADMIN"
	StrategyVendor            = "VENDOR"
	StrategyCustom            = "CUSTOM"
)

// Directory looks up active users. Implemented by
// repository.DirectoryRepository.
type Directory interface {
	FindByRole(ctx context.Context, companyID, role string, locationID *string) ([]*repository.DirectoryUser, error)
	FindByID(ctx context.Context, companyID, userID string) (*repository.DirectoryUser, error)
}

// RecipientResolver turns strategy names into (email, name, role) tuples
// using the event's snapshot and the workflow configuration's stage roles.
// Every strategy returns an empty list rather than failing on missing data;
// only lookup errors surface, and callers treat those as non-fatal per
// recipient group.
type RecipientResolver struct {
	directory Directory
	log       zerolog.Logger
}

// NewRecipientResolver creates a resolver backed by the given directory.
func NewRecipientResolver(directory Directory, log zerolog.Logger) *RecipientResolver {
	return &RecipientResolver{directory: directory, log: log}
}

// Resolve runs one strategy for one event. cfg may be nil when the entity
// type has no workflow configuration; stage-role strategies then resolve to
// nothing.
func (r *RecipientResolver) Resolve(ctx context.Context, strategy string, evt *event.WorkflowEvent, cfg *repository.WorkflowConfiguration) ([]Recipient, error) {
	switch strategy {
	case StrategyRequestor:
		return r.fromSnapshotContact(ctx, evt, snapshotRequestor), nil
	case StrategyEntityOwner:
		return r.fromSnapshotContact(ctx, evt, snapshotOwner), nil
	case StrategyVendor:
		return r.fromSnapshotContact(ctx, evt, snapshotVendor), nil
	case StrategyActionPerformer:
		return r.actionPerformer(ctx, evt), nil
	case StrategyCurrentStageRole:
		return r.stageRoles(ctx, evt, cfg, evt.ToStage)
	case StrategyPreviousStageRole:
		return r.stageRoles(ctx, evt, cfg, evt.FromStage)
	case StrategyNextStageRole:
		return r.stageRoles(ctx, evt, cfg, stageAfter(cfg, evt.ToStage))
	case StrategyCompanyAdmin:
		return r.roleHolders(ctx, evt, "COMPANY_ADMIN", nil)
	case StrategyLocationAdmin:
		return r.roleHolders(ctx, evt, "LOCATION_ADMIN", snapshotLocation(evt))
	case StrategyFinanceAdmin:
		return r.roleHolders(ctx, evt, "FINANCE_ADMIN", nil)
	case StrategyCustom:
		// custom recipients live on the mapping; the orchestrator adds them
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown recipient strategy %q", strategy)
	}
}

// ── snapshot-based strategies ─────────────────────────────────────────────────

type snapshotContact int

const (
	snapshotRequestor snapshotContact = iota
	snapshotOwner
	snapshotVendor
)

func (r *RecipientResolver) fromSnapshotContact(ctx context.Context, evt *event.WorkflowEvent, which snapshotContact) []Recipient {
	snap := evt.Snapshot
	if snap == nil {
		return nil
	}

	switch which {
	case snapshotRequestor:
		if snap.RequestorEmail != "" {
			return []Recipient{{Email: snap.RequestorEmail, Name: snap.RequestorName, Role: "REQUESTOR"}}
		}
		return r.lookupByID(ctx, evt.CompanyID, snap.RequestorID)
	case snapshotOwner:
		if snap.OwnerEmail != "" {
			return []Recipient{{Email: snap.OwnerEmail, Role: "OWNER"}}
		}
		// owner falls back to the requestor contact
		if snap.RequestorEmail != "" {
			return []Recipient{{Email: snap.RequestorEmail, Name: snap.RequestorName, Role: "OWNER"}}
		}
		return r.lookupByID(ctx, evt.CompanyID, snap.RequestorID)
	case snapshotVendor:
		if snap.VendorEmail != "" {
			return []Recipient{{Email: snap.VendorEmail, Name: snap.VendorName, Role: "VENDOR"}}
		}
	}
	return nil
}

func (r *RecipientResolver) actionPerformer(ctx context.Context, evt *event.WorkflowEvent) []Recipient {
	if evt.ActorEmail != "" {
		return []Recipient{{Email: evt.ActorEmail, Name: evt.ActorName, Role: evt.ActorRole}}
	}
	return r.lookupByID(ctx, evt.CompanyID, evt.ActorID)
}

func (r *RecipientResolver) lookupByID(ctx context.Context, companyID, userID string) []Recipient {
	if userID == "" {
		return nil
	}
	user, err := r.directory.FindByID(ctx, companyID, userID)
	if err != nil {
		r.log.Warn().Err(err).Str("user_id", userID).Msg("recipient lookup by id failed")
		return nil
	}
	if user == nil {
		return nil
	}
	return []Recipient{{Email: user.Email, Name: user.Name, Role: user.Role}}
}

// ── role-based strategies ─────────────────────────────────────────────────────

// stageRoles fans out to every active holder of the stage's allowed roles,
// scoped to the entity's location when the snapshot carries one.
func (r *RecipientResolver) stageRoles(ctx context.Context, evt *event.WorkflowEvent, cfg *repository.WorkflowConfiguration, stageKey *string) ([]Recipient, error) {
	if cfg == nil || stageKey == nil || *stageKey == "" {
		return nil, nil
	}
	stage := cfg.Stage(*stageKey)
	if stage == nil {
		return nil, nil
	}

	var out []Recipient
	var firstErr error
	for _, role := range stage.AllowedRoles {
		recipients, err := r.roleHolders(ctx, evt, role, snapshotLocation(evt))
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out = append(out, recipients...)
	}
	return out, firstErr
}

func (r *RecipientResolver) roleHolders(ctx context.Context, evt *event.WorkflowEvent, role string, locationID *string) ([]Recipient, error) {
	users, err := r.directory.FindByRole(ctx, evt.CompanyID, role, locationID)
	if err != nil {
		return nil, fmt.Errorf("resolve role %s: %w", role, err)
	}
	out := make([]Recipient, 0, len(users))
	for _, u := range users {
		out = append(out, Recipient{Email: u.Email, Name: u.Name, Role: u.Role})
	}
	return out, nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

func snapshotLocation(evt *event.WorkflowEvent) *string {
	if evt.Snapshot == nil || evt.Snapshot.LocationID == "" {
		return nil
	}
	loc := evt.Snapshot.LocationID
	return &loc
}

// stageAfter returns the key of the stage following the given one, or nil.
func stageAfter(cfg *repository.WorkflowConfiguration, stageKey *string) *string {
	if cfg == nil || stageKey == nil {
		return nil
	}
	current := cfg.Stage(*stageKey)
	if current == nil {
		return nil
	}
	next := cfg.NextStage(current)
	if next == nil {
		return nil
	}
	return &next.StageKey
}
