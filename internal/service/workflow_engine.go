package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/event"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// WorkflowEngine advances entities through their configured approval stages.
// Every failure crossing this boundary is a typed *apperrors.Error; callers
// branch on the code, transports map it to a status.
//
// Approve and reject are not idempotent-safe to repeat blindly (a repeat
// would double-advance), so retry policy belongs to the caller.
type WorkflowEngine struct {
	stores     EntityStores
	configs    ConfigStore
	audits     AuditStore
	rejections RejectionStore
	events     EventEmitter

	// fallbackRejectRoles may reject entities whose type has no workflow
	// configuration, using a synthetic single-stage context.
	fallbackRejectRoles []string

	log zerolog.Logger
}

// NewWorkflowEngine wires the engine.
func NewWorkflowEngine(
	stores EntityStores,
	configs ConfigStore,
	audits AuditStore,
	rejections RejectionStore,
	events EventEmitter,
	fallbackRejectRoles []string,
	log zerolog.Logger,
) *WorkflowEngine {
	return &WorkflowEngine{
		stores:              stores,
		configs:             configs,
		audits:              audits,
		rejections:          rejections,
		events:              events,
		fallbackRejectRoles: fallbackRejectRoles,
		log:                 log,
	}
}

// ── Initialize ────────────────────────────────────────────────────────────────

// InitializeWorkflow puts an entity onto the entry stage of its active
// configuration, setting the configured submission status.
func (e *WorkflowEngine) InitializeWorkflow(ctx context.Context, companyID string, entityType repository.EntityType, entityID string) (*InitializeResult, error) {
	store, err := e.stores.Store(entityType)
	if err != nil {
		return nil, err
	}
	entity, err := store.FindByID(ctx, companyID, entityID)
	if err != nil {
		return nil, err
	}
	cfg, err := e.configs.GetActive(ctx, companyID, entityType)
	if err != nil {
		return nil, err
	}

	entry := cfg.EntryStage()
	status := cfg.StatusOnSubmission
	if status == "" {
		status = "PENDING_" + entry.StageKey
	}

	upd := repository.WorkflowStateUpdate{
		Status:                status,
		CurrentStage:          &entry.StageKey,
		WorkflowConfigID:      cfg.ID,
		WorkflowConfigVersion: cfg.Version,
	}
	if err := store.UpdateWorkflowState(ctx, companyID, entityID, upd); err != nil {
		return nil, err
	}

	evt := event.New(event.TypeEntitySubmitted, companyID, entityType, entity.ID)
	evt.ToStage = &entry.StageKey
	evt.PreviousStatus = entity.Status
	evt.NewStatus = status
	if snap, snapErr := store.Snapshot(ctx, entity); snapErr == nil {
		evt.Snapshot = snap
	}
	e.events.Emit(ctx, evt)

	e.log.Info().
		Str("company_id", companyID).
		Str("entity_type", string(entityType)).
		Str("entity_id", entity.ID).
		Str("stage", entry.StageKey).
		Msg("workflow initialized")

	return &InitializeResult{Stage: entry.StageKey, Status: status}, nil
}

// ── Approve ───────────────────────────────────────────────────────────────────

// ApproveEntity advances an entity one stage, or completes the workflow when
// the current stage is terminal.
func (e *WorkflowEngine) ApproveEntity(ctx context.Context, input ApproveInput) (*ApproveResult, error) {
	store, entity, cfg, err := e.loadContext(ctx, input.CompanyID, input.EntityType, input.EntityID)
	if err != nil {
		return nil, err
	}

	stage, err := e.resolveCurrentStage(cfg, entity)
	if err != nil {
		return nil, err
	}
	if !stage.CanApprove {
		return nil, apperrors.Newf(apperrors.CodeApproveNotAllowed,
			"stage %s does not allow approval", stage.StageKey)
	}
	if !containsString(stage.AllowedRoles, input.Actor.Role) {
		return nil, apperrors.Newf(apperrors.CodeRoleNotAllowed,
			"role %s may not act at stage %s", input.Actor.Role, stage.StageKey)
	}

	next := cfg.NextStage(stage)
	isTerminal := stage.IsTerminal || next == nil

	newStatus := cfg.StatusOnApproval[stage.StageKey]
	if newStatus == "" {
		if isTerminal {
			newStatus = "APPROVED"
		} else {
			newStatus = "PENDING_" + next.StageKey
		}
	}
	var newStage *string
	if !isTerminal {
		newStage = &next.StageKey
	}

	// Snapshot before the write so the audit reflects the acted-on state.
	snapshot, snapErr := store.Snapshot(ctx, entity)
	if snapErr != nil {
		e.log.Warn().Err(snapErr).Str("entity_id", entity.ID).Msg("could not build entity snapshot")
	}

	upd := repository.WorkflowStateUpdate{
		Status:                newStatus,
		CurrentStage:          newStage,
		WorkflowConfigID:      cfg.ID,
		WorkflowConfigVersion: cfg.Version,
		StageActor: &repository.StageActor{
			StageKey:  stage.StageKey,
			ActorID:   input.Actor.ID,
			ActorName: input.Actor.Name,
			At:        time.Now().UTC(),
		},
	}
	if err := store.UpdateWorkflowState(ctx, input.CompanyID, entity.ID, upd); err != nil {
		return nil, err
	}

	// Best-effort: the transition stands even if the audit write fails.
	audit := &repository.ApprovalAudit{
		CompanyID:      input.CompanyID,
		EntityType:     input.EntityType,
		EntityID:       entity.ID,
		FromStage:      stage.StageKey,
		ToStage:        newStage,
		ActorID:        input.Actor.ID,
		ActorName:      input.Actor.Name,
		ActorRole:      input.Actor.Role,
		PreviousStatus: entity.Status,
		NewStatus:      newStatus,
		Snapshot:       snapshot,
	}
	if err := e.audits.Append(ctx, audit); err != nil {
		e.log.Warn().Err(err).
			Str("entity_id", entity.ID).
			Str("from_stage", stage.StageKey).
			Msg("failed to write approval audit record")
		audit.ID = ""
	}

	e.emitApprovalEvents(ctx, input, entity, stage.StageKey, newStage, newStatus, isTerminal, snapshot)

	return &ApproveResult{
		PreviousStage:  stage.StageKey,
		PreviousStatus: entity.Status,
		NewStage:       newStage,
		NewStatus:      newStatus,
		IsTerminal:     isTerminal,
		AuditID:        audit.ID,
	}, nil
}

func (e *WorkflowEngine) emitApprovalEvents(
	ctx context.Context,
	input ApproveInput,
	entity *repository.WorkflowEntity,
	fromStage string,
	toStage *string,
	newStatus string,
	isTerminal bool,
	snapshot *repository.EntitySnapshot,
) {
	evt := event.New(event.TypeEntityApproved, input.CompanyID, input.EntityType, entity.ID)
	evt.FromStage = &fromStage
	evt.ToStage = toStage
	evt.PreviousStatus = entity.Status
	evt.NewStatus = newStatus
	evt.ActorID = input.Actor.ID
	evt.ActorName = input.Actor.Name
	evt.ActorRole = input.Actor.Role
	evt.ActorEmail = input.Actor.Email
	evt.Snapshot = snapshot
	e.events.Emit(ctx, evt)

	if isTerminal {
		done := event.New(event.TypeWorkflowCompleted, input.CompanyID, input.EntityType, entity.ID)
		done.FromStage = &fromStage
		done.PreviousStatus = entity.Status
		done.NewStatus = newStatus
		done.ActorID = input.Actor.ID
		done.ActorName = input.Actor.Name
		done.ActorRole = input.Actor.Role
		done.ActorEmail = input.Actor.Email
		done.Snapshot = snapshot
		e.events.Emit(ctx, done)
	}
}

// ── Reject ────────────────────────────────────────────────────────────────────

// RejectEntity rejects an entity at its current stage under the effective
// rejection policy. A non-terminal policy keeps the entity at its stage
// (send-back / hold) instead of ending the workflow.
func (e *WorkflowEngine) RejectEntity(ctx context.Context, input RejectInput) (*RejectResult, error) {
	store, err := e.stores.Store(input.EntityType)
	if err != nil {
		return nil, err
	}
	entity, err := store.FindByID(ctx, input.CompanyID, input.EntityID)
	if err != nil {
		return nil, err
	}

	cfg, err := e.configs.GetActive(ctx, input.CompanyID, input.EntityType)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeWorkflowNotFound) {
			return e.rejectWithoutConfig(ctx, store, entity, input)
		}
		return nil, err
	}

	stage, err := e.resolveCurrentStage(cfg, entity)
	if err != nil {
		return nil, err
	}
	if !stage.CanReject {
		return nil, apperrors.Newf(apperrors.CodeRejectNotAllowed,
			"stage %s does not allow rejection", stage.StageKey)
	}
	if !containsString(stage.AllowedRoles, input.Actor.Role) {
		return nil, apperrors.Newf(apperrors.CodeRoleNotAllowed,
			"role %s may not act at stage %s", input.Actor.Role, stage.StageKey)
	}

	policy := ResolveRejectionPolicy(cfg, stage.StageKey)
	if err := validateRejection(input, policy); err != nil {
		return nil, err
	}

	newStatus := policy.RejectedStatus
	if newStatus == "" {
		newStatus = cfg.StatusOnRejection[stage.StageKey]
	}
	if newStatus == "" {
		newStatus = "REJECTED"
	}

	return e.persistRejection(ctx, store, entity, input, cfg, stage.StageKey, policy, newStatus)
}

// rejectWithoutConfig is the backward-compatibility path for entity types
// that predate workflow configurations: a configured administrative
// allow-list may still reject, against a synthetic single-stage context.
func (e *WorkflowEngine) rejectWithoutConfig(
	ctx context.Context,
	store repository.EntityStore,
	entity *repository.WorkflowEntity,
	input RejectInput,
) (*RejectResult, error) {
	if !containsString(e.fallbackRejectRoles, input.Actor.Role) {
		return nil, apperrors.Newf(apperrors.CodeRoleNotAllowed,
			"role %s may not reject without a workflow configuration", input.Actor.Role)
	}

	policy := ResolveRejectionPolicy(nil, "")
	if err := validateRejection(input, policy); err != nil {
		return nil, err
	}

	e.log.Info().
		Str("entity_id", entity.ID).
		Str("entity_type", string(entity.EntityType)).
		Str("actor_role", input.Actor.Role).
		Msg("rejecting without workflow configuration via administrative fallback")

	return e.persistRejection(ctx, store, entity, input, nil, "", policy, "REJECTED")
}

func (e *WorkflowEngine) persistRejection(
	ctx context.Context,
	store repository.EntityStore,
	entity *repository.WorkflowEntity,
	input RejectInput,
	cfg *repository.WorkflowConfiguration,
	stageKey string,
	policy repository.StageRejectionPolicy,
	newStatus string,
) (*RejectResult, error) {
	isTerminal := policy.IsTerminalOnReject

	snapshot, snapErr := store.Snapshot(ctx, entity)
	if snapErr != nil {
		e.log.Warn().Err(snapErr).Str("entity_id", entity.ID).Msg("could not build entity snapshot")
	}

	// Clear the stage only on terminal rejection; send-back keeps the entity
	// at its stage for resubmission.
	newStage := entity.CurrentStage
	if isTerminal {
		newStage = nil
	}
	var cfgID string
	var cfgVersion int
	if cfg != nil {
		cfgID = cfg.ID
		cfgVersion = cfg.Version
	} else if entity.WorkflowConfigID != nil {
		cfgID = *entity.WorkflowConfigID
		if entity.WorkflowConfigVersion != nil {
			cfgVersion = *entity.WorkflowConfigVersion
		}
	}

	upd := repository.WorkflowStateUpdate{
		Status:                newStatus,
		CurrentStage:          newStage,
		WorkflowConfigID:      cfgID,
		WorkflowConfigVersion: cfgVersion,
	}
	if err := store.UpdateWorkflowState(ctx, input.CompanyID, entity.ID, upd); err != nil {
		return nil, err
	}

	actionKind := repository.RejectionSendBack
	if isTerminal {
		actionKind = repository.RejectionTerminal
	}
	var remarks *string
	if input.Remarks != "" {
		remarks = &input.Remarks
	}

	rec := &repository.RejectionRecord{
		CompanyID:            input.CompanyID,
		EntityType:           input.EntityType,
		EntityID:             entity.ID,
		StageKey:             stageKey,
		ReasonCode:           input.ReasonCode,
		Remarks:              remarks,
		ActionKind:           actionKind,
		ActorID:              input.Actor.ID,
		ActorName:            input.Actor.Name,
		ActorRole:            input.Actor.Role,
		PreviousStatus:       entity.Status,
		NewStatus:            newStatus,
		Snapshot:             snapshot,
		AllowResubmission:    policy.AllowResubmission,
		ResubmissionStrategy: policy.ResubmissionStrategy,
		NotifyRoles:          policy.NotifyRolesOnReject,
		VisibleToRoles:       policy.VisibleToRolesAfterReject,
	}
	if err := e.rejections.Append(ctx, rec); err != nil {
		e.log.Warn().Err(err).
			Str("entity_id", entity.ID).
			Str("stage", stageKey).
			Msg("failed to write rejection record")
		rec.ID = ""
	}

	evt := event.New(event.TypeEntityRejected, input.CompanyID, input.EntityType, entity.ID)
	if stageKey != "" {
		evt.FromStage = &stageKey
	}
	evt.ToStage = newStage
	evt.PreviousStatus = entity.Status
	evt.NewStatus = newStatus
	evt.ActorID = input.Actor.ID
	evt.ActorName = input.Actor.Name
	evt.ActorRole = input.Actor.Role
	evt.ActorEmail = input.Actor.Email
	evt.Snapshot = snapshot
	evt.Rejection = &event.RejectionDetail{
		ReasonCode:           input.ReasonCode,
		Remarks:              input.Remarks,
		NotifyRoles:          policy.NotifyRolesOnReject,
		VisibleToRoles:       policy.VisibleToRolesAfterReject,
		AllowResubmission:    policy.AllowResubmission,
		ResubmissionStrategy: policy.ResubmissionStrategy,
	}
	e.events.Emit(ctx, evt)

	return &RejectResult{
		PreviousStage:        stageKey,
		PreviousStatus:       entity.Status,
		NewStatus:            newStatus,
		RejectionID:          rec.ID,
		IsTerminal:           isTerminal,
		Policy:               policy,
		NotifyRoles:          policy.NotifyRolesOnReject,
		VisibleToRoles:       policy.VisibleToRolesAfterReject,
		ResubmissionStrategy: policy.ResubmissionStrategy,
		AllowResubmission:    policy.AllowResubmission,
	}, nil
}

// validateRejection enforces the always-mandatory reason code and the
// policy-driven remark rules.
func validateRejection(input RejectInput, policy repository.StageRejectionPolicy) error {
	if strings.TrimSpace(input.ReasonCode) == "" {
		return apperrors.InvalidInput("reasonCode", "a rejection reason code is required")
	}
	if policy.IsRemarksMandatory && strings.TrimSpace(input.Remarks) == "" {
		return apperrors.InvalidInput("remarks", "remarks are required when rejecting at this stage")
	}
	if policy.MaxRemarksLength > 0 && len(input.Remarks) > policy.MaxRemarksLength {
		return apperrors.InvalidInput("remarks",
			"remarks exceed the maximum length of "+strconv.Itoa(policy.MaxRemarksLength)+" characters")
	}
	if len(policy.AllowedReasonCodes) > 0 && !containsString(policy.AllowedReasonCodes, input.ReasonCode) {
		return apperrors.InvalidInput("reasonCode",
			"reason code "+input.ReasonCode+" is not allowed at this stage")
	}
	return nil
}

// ── Read-only queries ─────────────────────────────────────────────────────────

// CanUserApprove answers whether the actor could approve right now. Denials
// come back as a populated PermissionCheck, not an error.
func (e *WorkflowEngine) CanUserApprove(ctx context.Context, companyID string, entityType repository.EntityType, entityID string, actor Actor) (*PermissionCheck, error) {
	_, entity, cfg, err := e.loadContext(ctx, companyID, entityType, entityID)
	if err != nil {
		return nil, err
	}
	stage, err := e.resolveCurrentStage(cfg, entity)
	if err != nil {
		return &PermissionCheck{Allowed: false, Reason: denialReason(err)}, nil
	}
	if !stage.CanApprove {
		return &PermissionCheck{Allowed: false, Reason: "this stage does not allow approval"}, nil
	}
	if !containsString(stage.AllowedRoles, actor.Role) {
		return &PermissionCheck{Allowed: false, Reason: "your role is not permitted to approve at this stage"}, nil
	}
	return &PermissionCheck{Allowed: true, Reason: "approval allowed at stage " + stage.StageName}, nil
}

// CanUserReject answers whether the actor could reject right now.
func (e *WorkflowEngine) CanUserReject(ctx context.Context, companyID string, entityType repository.EntityType, entityID string, actor Actor) (*PermissionCheck, error) {
	store, err := e.stores.Store(entityType)
	if err != nil {
		return nil, err
	}
	entity, err := store.FindByID(ctx, companyID, entityID)
	if err != nil {
		return nil, err
	}
	cfg, err := e.configs.GetActive(ctx, companyID, entityType)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeWorkflowNotFound) {
			if containsString(e.fallbackRejectRoles, actor.Role) {
				return &PermissionCheck{Allowed: true, Reason: "administrative rejection without workflow configuration"}, nil
			}
			return &PermissionCheck{Allowed: false, Reason: "no workflow configuration applies to this entity"}, nil
		}
		return nil, err
	}
	stage, err := e.resolveCurrentStage(cfg, entity)
	if err != nil {
		return &PermissionCheck{Allowed: false, Reason: denialReason(err)}, nil
	}
	if !stage.CanReject {
		return &PermissionCheck{Allowed: false, Reason: "this stage does not allow rejection"}, nil
	}
	if !containsString(stage.AllowedRoles, actor.Role) {
		return &PermissionCheck{Allowed: false, Reason: "your role is not permitted to reject at this stage"}, nil
	}
	return &PermissionCheck{Allowed: true, Reason: "rejection allowed at stage " + stage.StageName}, nil
}

// GetWorkflowState returns the read-only state snapshot for an entity.
func (e *WorkflowEngine) GetWorkflowState(ctx context.Context, companyID string, entityType repository.EntityType, entityID string) (*WorkflowState, error) {
	store, err := e.stores.Store(entityType)
	if err != nil {
		return nil, err
	}
	entity, err := store.FindByID(ctx, companyID, entityID)
	if err != nil {
		return nil, err
	}

	cfg, err := e.configs.GetActive(ctx, companyID, entityType)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeWorkflowNotFound) || apperrors.HasCode(err, apperrors.CodeWorkflowInactive) {
			return &WorkflowState{
				Classification: StateNoWorkflowConfig,
				Status:         entity.Status,
				CurrentStage:   entity.CurrentStage,
			}, nil
		}
		return nil, err
	}

	state := &WorkflowState{
		Status:        entity.Status,
		CurrentStage:  entity.CurrentStage,
		ConfigID:      cfg.ID,
		ConfigVersion: cfg.Version,
	}
	state.Classification = classifyWorkflowState(cfg, entity)
	state.Stages, state.PercentComplete = stageProgress(cfg, entity, state.Classification)
	return state, nil
}

// ── shared resolution helpers ─────────────────────────────────────────────────

func (e *WorkflowEngine) loadContext(ctx context.Context, companyID string, entityType repository.EntityType, entityID string) (repository.EntityStore, *repository.WorkflowEntity, *repository.WorkflowConfiguration, error) {
	store, err := e.stores.Store(entityType)
	if err != nil {
		return nil, nil, nil, err
	}
	entity, err := store.FindByID(ctx, companyID, entityID)
	if err != nil {
		return nil, nil, nil, err
	}
	cfg, err := e.configs.GetActive(ctx, companyID, entityType)
	if err != nil {
		return nil, nil, nil, err
	}
	return store, entity, cfg, nil
}

// resolveCurrentStage prefers the entity's explicit stage field; when absent
// it infers the entry stage only for a pending-looking status.
func (e *WorkflowEngine) resolveCurrentStage(cfg *repository.WorkflowConfiguration, entity *repository.WorkflowEntity) (*repository.WorkflowStage, error) {
	if entity.CurrentStage != nil && *entity.CurrentStage != "" {
		stage := cfg.Stage(*entity.CurrentStage)
		if stage == nil {
			return nil, apperrors.Newf(apperrors.CodeStageNotFound,
				"stage %s no longer exists in workflow configuration %s", *entity.CurrentStage, cfg.ID)
		}
		return stage, nil
	}

	if isProcessedStatus(cfg, entity.Status) {
		return nil, apperrors.Newf(apperrors.CodeAlreadyProcessed,
			"entity %s has already completed its workflow (status %s)", entity.ID, entity.Status)
	}
	if statusSuggestsPending(entity.Status) {
		return cfg.EntryStage(), nil
	}
	return nil, apperrors.Newf(apperrors.CodeNoCurrentStage,
		"entity %s has no current stage and status %s does not indicate a pending workflow", entity.ID, entity.Status)
}

// statusSuggestsPending is the legacy-row heuristic: rows created before the
// workflow engine have a pending-ish status but no stage pointer.
func statusSuggestsPending(status string) bool {
	return strings.Contains(strings.ToUpper(status), "PENDING")
}

// isProcessedStatus reports whether a stage-less entity already carries a
// terminal outcome status.
func isProcessedStatus(cfg *repository.WorkflowConfiguration, status string) bool {
	if status == "APPROVED" || status == "REJECTED" {
		return true
	}
	for _, s := range cfg.StatusOnApproval {
		if s == status {
			return true
		}
	}
	for _, s := range cfg.StatusOnRejection {
		if s == status {
			return true
		}
	}
	return false
}

func classifyWorkflowState(cfg *repository.WorkflowConfiguration, entity *repository.WorkflowEntity) string {
	if entity.CurrentStage != nil && *entity.CurrentStage != "" {
		return StateInWorkflow
	}
	if entity.Status == "REJECTED" {
		return StateRejected
	}
	for _, s := range cfg.StatusOnRejection {
		if s == entity.Status {
			return StateRejected
		}
	}
	if entity.Status == "APPROVED" {
		return StateCompleted
	}
	for _, s := range cfg.StatusOnApproval {
		if s == entity.Status {
			return StateCompleted
		}
	}
	return StateNotInWorkflow
}

// stageProgress builds the ordered completed/current/pending summary and the
// percent-complete figure.
func stageProgress(cfg *repository.WorkflowConfiguration, entity *repository.WorkflowEntity, classification string) ([]StageProgress, int) {
	ordered := make([]repository.WorkflowStage, len(cfg.Stages))
	copy(ordered, cfg.Stages)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].Order < ordered[j-1].Order; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	currentOrder := -1
	if entity.CurrentStage != nil {
		if s := cfg.Stage(*entity.CurrentStage); s != nil {
			currentOrder = s.Order
		}
	}

	progress := make([]StageProgress, 0, len(ordered))
	completed := 0
	for _, s := range ordered {
		state := StagePending
		switch {
		case classification == StateCompleted:
			state = StageCompleted
		case currentOrder >= 0 && s.Order < currentOrder:
			state = StageCompleted
		case currentOrder >= 0 && s.Order == currentOrder:
			state = StageCurrent
		}
		if state == StageCompleted {
			completed++
		}
		progress = append(progress, StageProgress{
			StageKey:  s.StageKey,
			StageName: s.StageName,
			Order:     s.Order,
			State:     state,
		})
	}

	percent := 0
	if len(ordered) > 0 {
		percent = completed * 100 / len(ordered)
	}
	return progress, percent
}

// denialReason turns a stage-resolution error into a user-facing reason.
func denialReason(err error) string {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeAlreadyProcessed:
		return "this entity has already completed its workflow"
	case apperrors.CodeNoCurrentStage:
		return "this entity is not currently in a workflow"
	case apperrors.CodeStageNotFound:
		return "the entity's stage no longer exists in the workflow configuration"
	default:
		return "action not available"
	}
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

