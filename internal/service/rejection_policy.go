package service

import "github.com/pesio-ai/be-plt-approvals/internal/repository"

// systemRejectionDefaults is the bottom layer of the rejection-policy merge.
// Reason codes are always mandatory regardless of policy; these defaults
// only govern the configurable fields.
var systemRejectionDefaults = repository.StageRejectionPolicy{
	IsRemarksMandatory:   false,
	MaxRemarksLength:     500,
	AllowedReasonCodes:   nil, // unrestricted
	RejectedStatus:       "",
	IsTerminalOnReject:   true,
	ResubmissionStrategy: repository.ResubmitSameEntity,
	AllowResubmission:    true,
}

// ResolveRejectionPolicy merges system defaults, the workflow-level defaults
// and the stage-level override into the effective policy for one stage.
// The merge is field by field: a stage overriding one field keeps sibling
// values from the workflow level, and the workflow level keeps system
// defaults the same way. Pure function, no I/O.
func ResolveRejectionPolicy(cfg *repository.WorkflowConfiguration, stageKey string) repository.StageRejectionPolicy {
	policy := systemRejectionDefaults

	if cfg != nil {
		applyRejectionOverride(&policy, cfg.RejectionDefaults)
		if stage := cfg.Stage(stageKey); stage != nil {
			applyRejectionOverride(&policy, stage.Rejection)
		}
	}
	return policy
}

// applyRejectionOverride copies every set field of the override onto the
// policy. Nil pointers and nil slices mean "not set here".
func applyRejectionOverride(policy *repository.StageRejectionPolicy, o *repository.StageRejectionOverride) {
	if o == nil {
		return
	}
	if o.IsRemarksMandatory != nil {
		policy.IsRemarksMandatory = *o.IsRemarksMandatory
	}
	if o.MaxRemarksLength != nil {
		policy.MaxRemarksLength = *o.MaxRemarksLength
	}
	if o.AllowedReasonCodes != nil {
		policy.AllowedReasonCodes = o.AllowedReasonCodes
	}
	if o.RejectedStatus != nil {
		policy.RejectedStatus = *o.RejectedStatus
	}
	if o.IsTerminalOnReject != nil {
		policy.IsTerminalOnReject = *o.IsTerminalOnReject
	}
	if o.ResubmissionStrategy != nil {
		policy.ResubmissionStrategy = *o.ResubmissionStrategy
	}
	if o.ResubmissionAllowedRoles != nil {
		policy.ResubmissionAllowedRoles = o.ResubmissionAllowedRoles
	}
	if o.NotifyRolesOnReject != nil {
		policy.NotifyRolesOnReject = o.NotifyRolesOnReject
	}
	if o.VisibleToRolesAfterReject != nil {
		policy.VisibleToRolesAfterReject = o.VisibleToRolesAfterReject
	}
	if o.AllowResubmission != nil {
		policy.AllowResubmission = *o.AllowResubmission
	}
}
