package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

func TestResolveRejectionPolicySystemDefaults(t *testing.T) {
	policy := ResolveRejectionPolicy(nil, "")

	assert.False(t, policy.IsRemarksMandatory)
	assert.Equal(t, 500, policy.MaxRemarksLength)
	assert.Empty(t, policy.AllowedReasonCodes)
	assert.True(t, policy.IsTerminalOnReject)
	assert.Equal(t, repository.ResubmitSameEntity, policy.ResubmissionStrategy)
	assert.True(t, policy.AllowResubmission)
}

func TestResolveRejectionPolicyWorkflowDefaults(t *testing.T) {
	cfg := twoStageConfig()
	cfg.RejectionDefaults = &repository.StageRejectionOverride{
		IsRemarksMandatory: boolPtr(true),
		MaxRemarksLength:   intPtr(200),
	}

	policy := ResolveRejectionPolicy(cfg, "LOCATION_APPROVAL")

	assert.True(t, policy.IsRemarksMandatory)
	assert.Equal(t, 200, policy.MaxRemarksLength)
	// untouched fields keep system defaults
	assert.True(t, policy.IsTerminalOnReject)
	assert.True(t, policy.AllowResubmission)
}

func TestResolveRejectionPolicyStageOverrideKeepsSiblings(t *testing.T) {
	cfg := twoStageConfig()
	cfg.RejectionDefaults = &repository.StageRejectionOverride{
		IsRemarksMandatory:  boolPtr(true),
		NotifyRolesOnReject: []string{"COMPANY_ADMIN"},
	}
	cfg.Stages[0].Rejection = &repository.StageRejectionOverride{
		IsTerminalOnReject: boolPtr(false),
		RejectedStatus:     strPtr("SENT_BACK"),
	}

	policy := ResolveRejectionPolicy(cfg, "LOCATION_APPROVAL")

	// stage-level values win
	assert.False(t, policy.IsTerminalOnReject)
	assert.Equal(t, "SENT_BACK", policy.RejectedStatus)
	// sibling fields fall through to the workflow level
	assert.True(t, policy.IsRemarksMandatory)
	assert.Equal(t, []string{"COMPANY_ADMIN"}, policy.NotifyRolesOnReject)
	// and from there to system defaults
	assert.Equal(t, 500, policy.MaxRemarksLength)
}

func TestResolveRejectionPolicyOtherStageUnaffected(t *testing.T) {
	cfg := twoStageConfig()
	cfg.Stages[0].Rejection = &repository.StageRejectionOverride{
		IsTerminalOnReject: boolPtr(false),
	}

	policy := ResolveRejectionPolicy(cfg, "COMPANY_APPROVAL")
	assert.True(t, policy.IsTerminalOnReject)
}

func intPtr(i int) *int { return &i }
