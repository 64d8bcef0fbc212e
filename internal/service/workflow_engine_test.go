package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/event"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// ── fakes ─────────────────────────────────────────────────────────────────────

type fakeStore struct {
	kind      repository.EntityType
	entity    *repository.WorkflowEntity
	findErr   error
	updateErr error
	updates   []repository.WorkflowStateUpdate
	snapshot  *repository.EntitySnapshot
}

func (f *fakeStore) Kind() repository.EntityType { return f.kind }

func (f *fakeStore) FindByID(ctx context.Context, companyID, id string) (*repository.WorkflowEntity, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.entity, nil
}

func (f *fakeStore) UpdateWorkflowState(ctx context.Context, companyID, id string, upd repository.WorkflowStateUpdate) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, upd)
	return nil
}

func (f *fakeStore) Snapshot(ctx context.Context, e *repository.WorkflowEntity) (*repository.EntitySnapshot, error) {
	if f.snapshot != nil {
		return f.snapshot, nil
	}
	snap := &repository.EntitySnapshot{EntityNumber: "PR-001"}
	if pr, ok := e.Payload.(*repository.PurchaseRequest); ok {
		snap.RequestorID = pr.RequestorID
	}
	return snap, nil
}

func (f *fakeStore) TranslateStatus(status string) string { return status }

type fakeStores struct{ store *fakeStore }

func (f *fakeStores) Store(kind repository.EntityType) (repository.EntityStore, error) {
	if f.store == nil || f.store.kind != kind {
		return nil, apperrors.Newf(apperrors.CodeValidationFailed, "unsupported entity type %q", kind)
	}
	return f.store, nil
}

type fakeConfigs struct {
	cfg *repository.WorkflowConfiguration
	err error
}

func (f *fakeConfigs) GetActive(ctx context.Context, companyID string, entityType repository.EntityType) (*repository.WorkflowConfiguration, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.cfg, nil
}

func (f *fakeConfigs) GetByID(ctx context.Context, id string) (*repository.WorkflowConfiguration, error) {
	return f.cfg, f.err
}

type fakeAudits struct {
	records []*repository.ApprovalAudit
	err     error
}

func (f *fakeAudits) Append(ctx context.Context, audit *repository.ApprovalAudit) error {
	if f.err != nil {
		return f.err
	}
	audit.ID = "audit-1"
	f.records = append(f.records, audit)
	return nil
}

type fakeRejections struct {
	records []*repository.RejectionRecord
	latest  *repository.RejectionRecord
	err     error
}

func (f *fakeRejections) Append(ctx context.Context, rec *repository.RejectionRecord) error {
	if f.err != nil {
		return f.err
	}
	rec.ID = "rej-1"
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeRejections) LatestUnresolved(ctx context.Context, companyID string, entityType repository.EntityType, entityID string) (*repository.RejectionRecord, error) {
	return f.latest, nil
}

type fakeEmitter struct{ events []*event.WorkflowEvent }

func (f *fakeEmitter) Emit(ctx context.Context, evt *event.WorkflowEvent) {
	f.events = append(f.events, evt)
}

// ── fixtures ──────────────────────────────────────────────────────────────────

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

// twoStageConfig models a location review followed by a terminal company
// review.
func twoStageConfig() *repository.WorkflowConfiguration {
	return &repository.WorkflowConfiguration{
		ID:         "cfg-1",
		CompanyID:  "co-1",
		EntityType: repository.EntityPurchaseRequest,
		Version:    3,
		IsActive:   true,
		Stages: []repository.WorkflowStage{
			{
				StageKey:     "LOCATION_APPROVAL",
				StageName:    "Location Approval",
				Order:        1,
				AllowedRoles: []string{"LOCATION_ADMIN"},
				CanApprove:   true,
				CanReject:    true,
			},
			{
				StageKey:     "COMPANY_APPROVAL",
				StageName:    "Company Approval",
				Order:        2,
				AllowedRoles: []string{"COMPANY_ADMIN"},
				CanApprove:   true,
				CanReject:    true,
				IsTerminal:   true,
			},
		},
		StatusOnSubmission: "PENDING_LOCATION_APPROVAL",
		StatusOnApproval: map[string]string{
			"LOCATION_APPROVAL": "PENDING_COMPANY_APPROVAL",
			"COMPANY_APPROVAL":  "APPROVED",
		},
		StatusOnRejection: map[string]string{},
	}
}

func entityAt(stage string, status string) *repository.WorkflowEntity {
	e := &repository.WorkflowEntity{
		ID:         "pr-1",
		CompanyID:  "co-1",
		EntityType: repository.EntityPurchaseRequest,
		Status:     status,
		Payload:    &repository.PurchaseRequest{ID: "pr-1", RequestorID: "user-req"},
	}
	if stage != "" {
		e.CurrentStage = &stage
	}
	return e
}

type engineDeps struct {
	store      *fakeStore
	configs    *fakeConfigs
	audits     *fakeAudits
	rejections *fakeRejections
	emitter    *fakeEmitter
}

func newTestEngine(cfg *repository.WorkflowConfiguration, entity *repository.WorkflowEntity) (*WorkflowEngine, *engineDeps) {
	deps := &engineDeps{
		store:      &fakeStore{kind: repository.EntityPurchaseRequest, entity: entity},
		configs:    &fakeConfigs{cfg: cfg},
		audits:     &fakeAudits{},
		rejections: &fakeRejections{},
		emitter:    &fakeEmitter{},
	}
	eng := NewWorkflowEngine(
		&fakeStores{store: deps.store},
		deps.configs,
		deps.audits,
		deps.rejections,
		deps.emitter,
		[]string{"COMPANY_ADMIN", "SUPER_ADMIN"},
		zerolog.Nop(),
	)
	return eng, deps
}

// ── initialize ────────────────────────────────────────────────────────────────

func TestInitializeWorkflowEntersFirstStage(t *testing.T) {
	eng, deps := newTestEngine(twoStageConfig(), entityAt("", "DRAFT"))

	res, err := eng.InitializeWorkflow(context.Background(), "co-1", repository.EntityPurchaseRequest, "pr-1")
	require.NoError(t, err)

	assert.Equal(t, "LOCATION_APPROVAL", res.Stage)
	assert.Equal(t, "PENDING_LOCATION_APPROVAL", res.Status)

	require.Len(t, deps.store.updates, 1)
	upd := deps.store.updates[0]
	require.NotNil(t, upd.CurrentStage)
	assert.Equal(t, "LOCATION_APPROVAL", *upd.CurrentStage)
	assert.Equal(t, "cfg-1", upd.WorkflowConfigID)
	assert.Equal(t, 3, upd.WorkflowConfigVersion)

	require.Len(t, deps.emitter.events, 1)
	assert.Equal(t, event.TypeEntitySubmitted, deps.emitter.events[0].EventType)
}

// ── approve ───────────────────────────────────────────────────────────────────

func TestApproveAdvancesToNextStage(t *testing.T) {
	eng, deps := newTestEngine(twoStageConfig(), entityAt("LOCATION_APPROVAL", "PENDING_LOCATION_APPROVAL"))

	res, err := eng.ApproveEntity(context.Background(), ApproveInput{
		CompanyID:  "co-1",
		EntityType: repository.EntityPurchaseRequest,
		EntityID:   "pr-1",
		Actor:      Actor{ID: "user-loc", Name: "Lia", Role: "LOCATION_ADMIN"},
	})
	require.NoError(t, err)

	assert.Equal(t, "LOCATION_APPROVAL", res.PreviousStage)
	require.NotNil(t, res.NewStage)
	assert.Equal(t, "COMPANY_APPROVAL", *res.NewStage)
	assert.Equal(t, "PENDING_COMPANY_APPROVAL", res.NewStatus)
	assert.False(t, res.IsTerminal)
	assert.Equal(t, "audit-1", res.AuditID)

	require.Len(t, deps.store.updates, 1)
	upd := deps.store.updates[0]
	require.NotNil(t, upd.StageActor)
	assert.Equal(t, "LOCATION_APPROVAL", upd.StageActor.StageKey)
	assert.Equal(t, "user-loc", upd.StageActor.ActorID)

	require.Len(t, deps.audits.records, 1)
	assert.Equal(t, "PENDING_LOCATION_APPROVAL", deps.audits.records[0].PreviousStatus)

	require.Len(t, deps.emitter.events, 1)
	assert.Equal(t, event.TypeEntityApproved, deps.emitter.events[0].EventType)
}

func TestApproveTerminalStageCompletesWorkflow(t *testing.T) {
	eng, deps := newTestEngine(twoStageConfig(), entityAt("COMPANY_APPROVAL", "PENDING_COMPANY_APPROVAL"))

	res, err := eng.ApproveEntity(context.Background(), ApproveInput{
		CompanyID:  "co-1",
		EntityType: repository.EntityPurchaseRequest,
		EntityID:   "pr-1",
		Actor:      Actor{ID: "user-co", Role: "COMPANY_ADMIN"},
	})
	require.NoError(t, err)

	assert.Nil(t, res.NewStage)
	assert.Equal(t, "APPROVED", res.NewStatus)
	assert.True(t, res.IsTerminal)

	require.Len(t, deps.emitter.events, 2)
	assert.Equal(t, event.TypeEntityApproved, deps.emitter.events[0].EventType)
	assert.Equal(t, event.TypeWorkflowCompleted, deps.emitter.events[1].EventType)
}

func TestApproveRejectsWrongRole(t *testing.T) {
	eng, deps := newTestEngine(twoStageConfig(), entityAt("LOCATION_APPROVAL", "PENDING_LOCATION_APPROVAL"))

	_, err := eng.ApproveEntity(context.Background(), ApproveInput{
		CompanyID:  "co-1",
		EntityType: repository.EntityPurchaseRequest,
		EntityID:   "pr-1",
		Actor:      Actor{ID: "user-co", Role: "COMPANY_ADMIN"},
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeRoleNotAllowed))
	assert.Empty(t, deps.store.updates)
	assert.Empty(t, deps.emitter.events)
}

func TestApproveStageRemovedFromConfiguration(t *testing.T) {
	eng, _ := newTestEngine(twoStageConfig(), entityAt("FINANCE_APPROVAL", "PENDING_FINANCE_APPROVAL"))

	_, err := eng.ApproveEntity(context.Background(), ApproveInput{
		CompanyID:  "co-1",
		EntityType: repository.EntityPurchaseRequest,
		EntityID:   "pr-1",
		Actor:      Actor{Role: "LOCATION_ADMIN"},
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStageNotFound))
}

func TestApproveLegacyRowInfersEntryStage(t *testing.T) {
	// Rows created before the engine carry a pending status but no stage.
	eng, _ := newTestEngine(twoStageConfig(), entityAt("", "PENDING"))

	res, err := eng.ApproveEntity(context.Background(), ApproveInput{
		CompanyID:  "co-1",
		EntityType: repository.EntityPurchaseRequest,
		EntityID:   "pr-1",
		Actor:      Actor{Role: "LOCATION_ADMIN"},
	})
	require.NoError(t, err)
	assert.Equal(t, "LOCATION_APPROVAL", res.PreviousStage)
}

func TestApproveAlreadyProcessedEntity(t *testing.T) {
	eng, _ := newTestEngine(twoStageConfig(), entityAt("", "APPROVED"))

	_, err := eng.ApproveEntity(context.Background(), ApproveInput{
		CompanyID:  "co-1",
		EntityType: repository.EntityPurchaseRequest,
		EntityID:   "pr-1",
		Actor:      Actor{Role: "COMPANY_ADMIN"},
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeAlreadyProcessed))
}

func TestApproveSurvivesAuditFailure(t *testing.T) {
	eng, deps := newTestEngine(twoStageConfig(), entityAt("LOCATION_APPROVAL", "PENDING_LOCATION_APPROVAL"))
	deps.audits.err = apperrors.New(apperrors.CodeInternal, "audit table unavailable")

	res, err := eng.ApproveEntity(context.Background(), ApproveInput{
		CompanyID:  "co-1",
		EntityType: repository.EntityPurchaseRequest,
		EntityID:   "pr-1",
		Actor:      Actor{Role: "LOCATION_ADMIN"},
	})
	require.NoError(t, err)
	assert.Empty(t, res.AuditID)
	require.Len(t, deps.store.updates, 1)
}

// ── reject ────────────────────────────────────────────────────────────────────

func TestRejectTerminalByDefault(t *testing.T) {
	eng, deps := newTestEngine(twoStageConfig(), entityAt("LOCATION_APPROVAL", "PENDING_LOCATION_APPROVAL"))

	res, err := eng.RejectEntity(context.Background(), RejectInput{
		CompanyID:  "co-1",
		EntityType: repository.EntityPurchaseRequest,
		EntityID:   "pr-1",
		Actor:      Actor{ID: "user-loc", Role: "LOCATION_ADMIN"},
		ReasonCode: "BUDGET_EXCEEDED",
		Remarks:    "over this quarter's cap",
	})
	require.NoError(t, err)

	assert.True(t, res.IsTerminal)
	assert.Equal(t, "REJECTED", res.NewStatus)
	assert.Equal(t, "rej-1", res.RejectionID)

	require.Len(t, deps.store.updates, 1)
	assert.Nil(t, deps.store.updates[0].CurrentStage, "terminal rejection clears the stage")

	require.Len(t, deps.rejections.records, 1)
	rec := deps.rejections.records[0]
	assert.Equal(t, repository.RejectionTerminal, rec.ActionKind)
	assert.Equal(t, "BUDGET_EXCEEDED", rec.ReasonCode)

	require.Len(t, deps.emitter.events, 1)
	evt := deps.emitter.events[0]
	assert.Equal(t, event.TypeEntityRejected, evt.EventType)
	require.NotNil(t, evt.Rejection)
	assert.Equal(t, "BUDGET_EXCEEDED", evt.Rejection.ReasonCode)
}

func TestRejectSendBackKeepsStage(t *testing.T) {
	cfg := twoStageConfig()
	cfg.Stages[0].Rejection = &repository.StageRejectionOverride{
		IsTerminalOnReject: boolPtr(false),
		RejectedStatus:     strPtr("SENT_BACK"),
	}
	eng, deps := newTestEngine(cfg, entityAt("LOCATION_APPROVAL", "PENDING_LOCATION_APPROVAL"))

	res, err := eng.RejectEntity(context.Background(), RejectInput{
		CompanyID:  "co-1",
		EntityType: repository.EntityPurchaseRequest,
		EntityID:   "pr-1",
		Actor:      Actor{Role: "LOCATION_ADMIN"},
		ReasonCode: "INCORRECT_DETAILS",
	})
	require.NoError(t, err)

	assert.False(t, res.IsTerminal)
	assert.Equal(t, "SENT_BACK", res.NewStatus)

	require.Len(t, deps.store.updates, 1)
	require.NotNil(t, deps.store.updates[0].CurrentStage)
	assert.Equal(t, "LOCATION_APPROVAL", *deps.store.updates[0].CurrentStage)

	require.Len(t, deps.rejections.records, 1)
	assert.Equal(t, repository.RejectionSendBack, deps.rejections.records[0].ActionKind)
}

func TestRejectRequiresReasonCode(t *testing.T) {
	eng, _ := newTestEngine(twoStageConfig(), entityAt("LOCATION_APPROVAL", "PENDING_LOCATION_APPROVAL"))

	_, err := eng.RejectEntity(context.Background(), RejectInput{
		CompanyID:  "co-1",
		EntityType: repository.EntityPurchaseRequest,
		EntityID:   "pr-1",
		Actor:      Actor{Role: "LOCATION_ADMIN"},
		ReasonCode: "  ",
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationFailed))
}

func TestRejectEnforcesMandatoryRemarks(t *testing.T) {
	cfg := twoStageConfig()
	cfg.RejectionDefaults = &repository.StageRejectionOverride{IsRemarksMandatory: boolPtr(true)}
	eng, _ := newTestEngine(cfg, entityAt("LOCATION_APPROVAL", "PENDING_LOCATION_APPROVAL"))

	_, err := eng.RejectEntity(context.Background(), RejectInput{
		CompanyID:  "co-1",
		EntityType: repository.EntityPurchaseRequest,
		EntityID:   "pr-1",
		Actor:      Actor{Role: "LOCATION_ADMIN"},
		ReasonCode: "OTHER",
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationFailed))
}

func TestRejectEnforcesReasonCodeAllowList(t *testing.T) {
	cfg := twoStageConfig()
	cfg.Stages[0].Rejection = &repository.StageRejectionOverride{
		AllowedReasonCodes: []string{"BUDGET_EXCEEDED"},
	}
	eng, _ := newTestEngine(cfg, entityAt("LOCATION_APPROVAL", "PENDING_LOCATION_APPROVAL"))

	_, err := eng.RejectEntity(context.Background(), RejectInput{
		CompanyID:  "co-1",
		EntityType: repository.EntityPurchaseRequest,
		EntityID:   "pr-1",
		Actor:      Actor{Role: "LOCATION_ADMIN"},
		ReasonCode: "VENDOR_ISSUE",
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationFailed))
}

func TestRejectWithoutConfigurationAdministrativeFallback(t *testing.T) {
	eng, deps := newTestEngine(nil, entityAt("", "PENDING"))
	deps.configs.err = apperrors.New(apperrors.CodeWorkflowNotFound, "no configuration")

	res, err := eng.RejectEntity(context.Background(), RejectInput{
		CompanyID:  "co-1",
		EntityType: repository.EntityPurchaseRequest,
		EntityID:   "pr-1",
		Actor:      Actor{ID: "user-admin", Role: "COMPANY_ADMIN"},
		ReasonCode: "POLICY_VIOLATION",
	})
	require.NoError(t, err)
	assert.Equal(t, "REJECTED", res.NewStatus)
	assert.True(t, res.IsTerminal)
	require.Len(t, deps.rejections.records, 1)
}

func TestRejectWithoutConfigurationDeniesOtherRoles(t *testing.T) {
	eng, deps := newTestEngine(nil, entityAt("", "PENDING"))
	deps.configs.err = apperrors.New(apperrors.CodeWorkflowNotFound, "no configuration")

	_, err := eng.RejectEntity(context.Background(), RejectInput{
		CompanyID:  "co-1",
		EntityType: repository.EntityPurchaseRequest,
		EntityID:   "pr-1",
		Actor:      Actor{Role: "LOCATION_ADMIN"},
		ReasonCode: "POLICY_VIOLATION",
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeRoleNotAllowed))
	assert.Empty(t, deps.store.updates)
}

// ── read-only queries ─────────────────────────────────────────────────────────

func TestCanUserApprove(t *testing.T) {
	eng, _ := newTestEngine(twoStageConfig(), entityAt("LOCATION_APPROVAL", "PENDING_LOCATION_APPROVAL"))

	check, err := eng.CanUserApprove(context.Background(), "co-1", repository.EntityPurchaseRequest, "pr-1", Actor{Role: "LOCATION_ADMIN"})
	require.NoError(t, err)
	assert.True(t, check.Allowed)

	check, err = eng.CanUserApprove(context.Background(), "co-1", repository.EntityPurchaseRequest, "pr-1", Actor{Role: "FINANCE_ADMIN"})
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.NotEmpty(t, check.Reason)
}

func TestGetWorkflowStateMidWorkflow(t *testing.T) {
	eng, _ := newTestEngine(twoStageConfig(), entityAt("COMPANY_APPROVAL", "PENDING_COMPANY_APPROVAL"))

	state, err := eng.GetWorkflowState(context.Background(), "co-1", repository.EntityPurchaseRequest, "pr-1")
	require.NoError(t, err)

	assert.Equal(t, StateInWorkflow, state.Classification)
	require.Len(t, state.Stages, 2)
	assert.Equal(t, StageCompleted, state.Stages[0].State)
	assert.Equal(t, StageCurrent, state.Stages[1].State)
	assert.Equal(t, 50, state.PercentComplete)
}

func TestGetWorkflowStateWithoutConfiguration(t *testing.T) {
	eng, deps := newTestEngine(nil, entityAt("", "DRAFT"))
	deps.configs.err = apperrors.New(apperrors.CodeWorkflowNotFound, "no configuration")

	state, err := eng.GetWorkflowState(context.Background(), "co-1", repository.EntityPurchaseRequest, "pr-1")
	require.NoError(t, err)
	assert.Equal(t, StateNoWorkflowConfig, state.Classification)
	assert.Equal(t, "DRAFT", state.Status)
}

func TestGetWorkflowStateCompleted(t *testing.T) {
	eng, _ := newTestEngine(twoStageConfig(), entityAt("", "APPROVED"))

	state, err := eng.GetWorkflowState(context.Background(), "co-1", repository.EntityPurchaseRequest, "pr-1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state.Classification)
	assert.Equal(t, 100, state.PercentComplete)
}
