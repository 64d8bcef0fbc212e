package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// ActionPermission answers one "may I?" question for a client, with a
// human-readable reason and an optional confirmation requirement.
type ActionPermission struct {
	Allowed              bool   `json:"allowed"`
	Reason               string `json:"reason"`
	RequiresConfirmation bool   `json:"requires_confirmation,omitempty"`
}

// ActionSet groups the per-action permissions a client renders.
type ActionSet struct {
	Approve  ActionPermission `json:"approve"`
	Reject   ActionPermission `json:"reject"`
	Resubmit ActionPermission `json:"resubmit"`
	Cancel   ActionPermission `json:"cancel"`
	View     ActionPermission `json:"view"`
	Edit     ActionPermission `json:"edit"`
}

// ReasonCode is one selectable rejection reason.
type ReasonCode struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

// UIRules is the full permission snapshot for one entity and user. Every
// field is always populated; clients never branch on missing members.
type UIRules struct {
	WorkflowState   string          `json:"workflow_state"`
	Status          string          `json:"status"`
	CurrentStage    *string         `json:"current_stage"`
	Actions         ActionSet       `json:"actions"`
	ReasonCodes     []ReasonCode    `json:"reason_codes"`
	StageProgress   []StageProgress `json:"stage_progress"`
	PercentComplete int             `json:"percent_complete"`
	Hints           []string        `json:"hints"`
}

// defaultReasonCatalog is the compiled-in rejection reason catalog, filtered
// per stage by the effective policy's allow-list.
var defaultReasonCatalog = []ReasonCode{
	{Code: "BUDGET_EXCEEDED", Label: "Budget exceeded"},
	{Code: "INCORRECT_DETAILS", Label: "Incorrect or incomplete details"},
	{Code: "DUPLICATE_REQUEST", Label: "Duplicate request"},
	{Code: "POLICY_VIOLATION", Label: "Company policy violation"},
	{Code: "VENDOR_ISSUE", Label: "Vendor or supplier issue"},
	{Code: "OTHER", Label: "Other (see remarks)"},
}

// UIRulesService projects read-only permission snapshots for clients. It
// reuses the engine's entity-load and stage-resolution logic so its answers
// can never drift from what the engine would actually do.
type UIRulesService struct {
	engine     *WorkflowEngine
	rejections RejectionStore
	log        zerolog.Logger
}

// NewUIRulesService creates a new UIRulesService.
func NewUIRulesService(engine *WorkflowEngine, rejections RejectionStore, log zerolog.Logger) *UIRulesService {
	return &UIRulesService{engine: engine, rejections: rejections, log: log}
}

// Project computes the permission snapshot. Not-found, no-configuration and
// terminal entities all yield complete, dedicated responses.
func (s *UIRulesService) Project(ctx context.Context, companyID string, entityType repository.EntityType, entityID string, actor Actor) (*UIRules, error) {
	store, err := s.engine.stores.Store(entityType)
	if err != nil {
		return nil, err
	}

	entity, err := store.FindByID(ctx, companyID, entityID)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeEntityNotFound) {
			return notFoundRules(), nil
		}
		return nil, err
	}

	cfg, err := s.engine.configs.GetActive(ctx, companyID, entityType)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeWorkflowNotFound) || apperrors.HasCode(err, apperrors.CodeWorkflowInactive) {
			return s.noConfigRules(entity, actor), nil
		}
		return nil, err
	}

	classification := classifyWorkflowState(cfg, entity)
	progress, percent := stageProgress(cfg, entity, classification)
	isRequestor := s.isRequestor(ctx, store, entity, actor)

	rules := &UIRules{
		WorkflowState:   classification,
		Status:          entity.Status,
		CurrentStage:    entity.CurrentStage,
		StageProgress:   progress,
		PercentComplete: percent,
		Hints:           []string{},
	}

	switch classification {
	case StateInWorkflow:
		s.fillInWorkflow(rules, cfg, entity, actor, isRequestor)
	case StateRejected:
		s.fillRejected(ctx, rules, entity, actor, isRequestor)
	case StateCompleted:
		fillCompleted(rules)
	default:
		fillNotInWorkflow(rules, isRequestor)
	}

	rules.ReasonCodes = reasonCatalogFor(cfg, entity)
	return rules, nil
}

// ── per-classification fills ──────────────────────────────────────────────────

func (s *UIRulesService) fillInWorkflow(rules *UIRules, cfg *repository.WorkflowConfiguration, entity *repository.WorkflowEntity, actor Actor, isRequestor bool) {
	stage, err := s.engine.resolveCurrentStage(cfg, entity)
	if err != nil {
		deny := ActionPermission{Allowed: false, Reason: denialReason(err)}
		rules.Actions = ActionSet{
			Approve: deny,
			Reject:  deny,
			Resubmit: ActionPermission{Allowed: false, Reason: "nothing to resubmit"},
			Cancel:   ActionPermission{Allowed: false, Reason: "the workflow state could not be resolved"},
			View:     ActionPermission{Allowed: true, Reason: "viewing is always permitted"},
			Edit:     ActionPermission{Allowed: false, Reason: "entities in workflow cannot be edited"},
		}
		rules.Hints = append(rules.Hints, "the workflow configuration has changed since this entity was submitted")
		return
	}

	roleAllowed := containsString(stage.AllowedRoles, actor.Role)

	approve := ActionPermission{Allowed: false}
	switch {
	case !stage.CanApprove:
		approve.Reason = "this stage does not allow approval"
	case !roleAllowed:
		approve.Reason = "your role is not permitted to approve at this stage"
	default:
		approve.Allowed = true
		approve.Reason = "approval allowed at stage " + stage.StageName
	}

	reject := ActionPermission{Allowed: false, RequiresConfirmation: true}
	switch {
	case !stage.CanReject:
		reject.Reason = "this stage does not allow rejection"
	case !roleAllowed:
		reject.Reason = "your role is not permitted to reject at this stage"
	default:
		reject.Allowed = true
		reject.Reason = "rejection allowed at stage " + stage.StageName
	}

	cancel := ActionPermission{Allowed: false, Reason: "only the requestor may cancel a pending entity"}
	if isRequestor {
		cancel = ActionPermission{Allowed: true, Reason: "you may withdraw this entity from approval", RequiresConfirmation: true}
	}

	rules.Actions = ActionSet{
		Approve:  approve,
		Reject:   reject,
		Resubmit: ActionPermission{Allowed: false, Reason: "the entity is not rejected"},
		Cancel:   cancel,
		View:     ActionPermission{Allowed: true, Reason: "viewing is always permitted"},
		Edit:     ActionPermission{Allowed: false, Reason: "entities in workflow cannot be edited"},
	}
	if approve.Allowed && stage.IsTerminal {
		rules.Hints = append(rules.Hints, "approving here completes the workflow")
	}
	if !roleAllowed {
		rules.Hints = append(rules.Hints, "awaiting action by: "+joinRoles(stage.AllowedRoles))
	}
}

func (s *UIRulesService) fillRejected(ctx context.Context, rules *UIRules, entity *repository.WorkflowEntity, actor Actor, isRequestor bool) {
	// The denormalized policy on the latest unresolved rejection drives
	// resubmission and visibility.
	rec, err := s.rejections.LatestUnresolved(ctx, entity.CompanyID, entity.EntityType, entity.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("entity_id", entity.ID).Msg("could not load rejection record for projection")
	}

	resubmit := ActionPermission{Allowed: false, Reason: "resubmission is not permitted for this entity"}
	view := ActionPermission{Allowed: true, Reason: "viewing is always permitted"}
	edit := ActionPermission{Allowed: false, Reason: "rejected entities cannot be edited"}

	if rec != nil {
		if len(rec.VisibleToRoles) > 0 && !containsString(rec.VisibleToRoles, actor.Role) && !isRequestor {
			view = ActionPermission{Allowed: false, Reason: "this entity is not visible to your role after rejection"}
		}
		if rec.AllowResubmission {
			if len(rec.ResubmissionStrategy) > 0 && rec.ResubmissionStrategy == repository.ResubmitNewEntity {
				resubmit = ActionPermission{Allowed: false, Reason: "create a new entity instead of resubmitting this one"}
				rules.Hints = append(rules.Hints, "this rejection requires a fresh submission")
			} else {
				if isRequestor {
					resubmit = ActionPermission{Allowed: true, Reason: "you may correct and resubmit this entity", RequiresConfirmation: true}
					edit = ActionPermission{Allowed: true, Reason: "editing is allowed before resubmission"}
				} else {
					resubmit.Reason = "only the requestor may resubmit"
				}
			}
		}
		if rec.Remarks != nil && *rec.Remarks != "" {
			rules.Hints = append(rules.Hints, "rejection remarks: "+*rec.Remarks)
		}
	}

	rules.Actions = ActionSet{
		Approve:  ActionPermission{Allowed: false, Reason: "the entity has been rejected"},
		Reject:   ActionPermission{Allowed: false, Reason: "the entity has already been rejected"},
		Resubmit: resubmit,
		Cancel:   ActionPermission{Allowed: false, Reason: "rejected entities cannot be cancelled"},
		View:     view,
		Edit:     edit,
	}
}

func fillCompleted(rules *UIRules) {
	deny := func(reason string) ActionPermission { return ActionPermission{Allowed: false, Reason: reason} }
	rules.Actions = ActionSet{
		Approve:  deny("the workflow is already complete"),
		Reject:   deny("the workflow is already complete"),
		Resubmit: deny("the entity is not rejected"),
		Cancel:   deny("completed entities cannot be cancelled"),
		View:     ActionPermission{Allowed: true, Reason: "viewing is always permitted"},
		Edit:     deny("approved entities cannot be edited"),
	}
	rules.Hints = append(rules.Hints, "this entity is fully approved")
}

func fillNotInWorkflow(rules *UIRules, isRequestor bool) {
	deny := func(reason string) ActionPermission { return ActionPermission{Allowed: false, Reason: reason} }
	edit := deny("only the requestor may edit a draft")
	if isRequestor {
		edit = ActionPermission{Allowed: true, Reason: "drafts can be edited before submission"}
	}
	rules.Actions = ActionSet{
		Approve:  deny("the entity has not been submitted for approval"),
		Reject:   deny("the entity has not been submitted for approval"),
		Resubmit: deny("the entity is not rejected"),
		Cancel:   deny("the entity is not in a workflow"),
		View:     ActionPermission{Allowed: true, Reason: "viewing is always permitted"},
		Edit:     edit,
	}
	rules.Hints = append(rules.Hints, "submit this entity to start its approval workflow")
}

// noConfigRules is the dedicated response when no configuration applies.
func (s *UIRulesService) noConfigRules(entity *repository.WorkflowEntity, actor Actor) *UIRules {
	deny := func(reason string) ActionPermission { return ActionPermission{Allowed: false, Reason: reason} }
	reject := deny("no workflow configuration applies to this entity")
	if containsString(s.engine.fallbackRejectRoles, actor.Role) {
		reject = ActionPermission{Allowed: true, Reason: "administrative rejection without workflow configuration", RequiresConfirmation: true}
	}
	return &UIRules{
		WorkflowState: StateNoWorkflowConfig,
		Status:        entity.Status,
		CurrentStage:  entity.CurrentStage,
		Actions: ActionSet{
			Approve:  deny("no workflow configuration applies to this entity"),
			Reject:   reject,
			Resubmit: deny("no workflow configuration applies to this entity"),
			Cancel:   deny("no workflow configuration applies to this entity"),
			View:     ActionPermission{Allowed: true, Reason: "viewing is always permitted"},
			Edit:     ActionPermission{Allowed: true, Reason: "entities without a workflow can be edited"},
		},
		ReasonCodes:     append([]ReasonCode(nil), defaultReasonCatalog...),
		StageProgress:   []StageProgress{},
		PercentComplete: 0,
		Hints:           []string{"no approval workflow is configured for this entity type"},
	}
}

// notFoundRules is the dedicated response for a missing entity.
func notFoundRules() *UIRules {
	deny := ActionPermission{Allowed: false, Reason: "the entity could not be found"}
	return &UIRules{
		WorkflowState:   StateNotInWorkflow,
		Status:          "",
		CurrentStage:    nil,
		Actions:         ActionSet{Approve: deny, Reject: deny, Resubmit: deny, Cancel: deny, View: deny, Edit: deny},
		ReasonCodes:     []ReasonCode{},
		StageProgress:   []StageProgress{},
		PercentComplete: 0,
		Hints:           []string{"the entity could not be found"},
	}
}

// reasonCatalogFor filters the compiled-in catalog by the stage's effective
// reason-code allow-list.
func reasonCatalogFor(cfg *repository.WorkflowConfiguration, entity *repository.WorkflowEntity) []ReasonCode {
	stageKey := ""
	if entity.CurrentStage != nil {
		stageKey = *entity.CurrentStage
	}
	policy := ResolveRejectionPolicy(cfg, stageKey)
	if len(policy.AllowedReasonCodes) == 0 {
		return append([]ReasonCode(nil), defaultReasonCatalog...)
	}

	filtered := make([]ReasonCode, 0, len(policy.AllowedReasonCodes))
	for _, rc := range defaultReasonCatalog {
		if containsString(policy.AllowedReasonCodes, rc.Code) {
			filtered = append(filtered, rc)
		}
	}
	// Allow-listed codes outside the catalog still need to be selectable.
	for _, code := range policy.AllowedReasonCodes {
		known := false
		for _, rc := range filtered {
			if rc.Code == code {
				known = true
				break
			}
		}
		if !known {
			filtered = append(filtered, ReasonCode{Code: code, Label: code})
		}
	}
	return filtered
}

// isRequestor matches the acting user against the store snapshot's requestor
// field, so every registered kind answers through the same contract.
func (s *UIRulesService) isRequestor(ctx context.Context, store repository.EntityStore, entity *repository.WorkflowEntity, actor Actor) bool {
	snap, err := store.Snapshot(ctx, entity)
	if err != nil {
		s.log.Warn().Err(err).Str("entity_id", entity.ID).Msg("could not snapshot entity for requestor check")
		return false
	}
	return snap != nil && snap.RequestorID != "" && snap.RequestorID == actor.ID
}

func joinRoles(roles []string) string {
	out := ""
	for i, r := range roles {
		if i > 0 {
			out += ", "
		}
		out += r
	}
	return out
}
