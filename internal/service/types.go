package service

import "github.com/pesio-ai/be-plt-approvals/internal/repository"

// Actor identifies who is performing a workflow action. Identity resolution
// happens upstream; the engine trusts these fields.
type Actor struct {
	ID    string
	Name  string
	Email string
	Role  string
}

// ApproveInput carries one approval action.
type ApproveInput struct {
	CompanyID  string
	EntityType repository.EntityType
	EntityID   string
	Actor      Actor
}

// ApproveResult reports a completed approval transition.
type ApproveResult struct {
	PreviousStage  string
	PreviousStatus string
	NewStage       *string // nil when the workflow completed
	NewStatus      string
	IsTerminal     bool
	AuditID        string // empty when the best-effort audit write failed
}

// RejectInput carries one rejection action.
type RejectInput struct {
	CompanyID  string
	EntityType repository.EntityType
	EntityID   string
	Actor      Actor
	ReasonCode string
	Remarks    string
}

// RejectResult reports a completed rejection. It carries everything the
// caller needs to drive notification and UI decisions, so the engine never
// has to know about roles beyond the acting one.
type RejectResult struct {
	PreviousStage        string
	PreviousStatus       string
	NewStatus            string
	RejectionID          string
	IsTerminal           bool
	Policy               repository.StageRejectionPolicy
	NotifyRoles          []string
	VisibleToRoles       []string
	ResubmissionStrategy string
	AllowResubmission    bool
}

// InitializeResult reports workflow entry.
type InitializeResult struct {
	Stage  string
	Status string
}

// PermissionCheck is the read-only answer to "can this user act here".
type PermissionCheck struct {
	Allowed bool
	Reason  string
}

// Workflow-state classifications.
const (
	StateInWorkflow       = "IN_WORKFLOW"
	StateCompleted        = "COMPLETED"
	StateRejected         = "REJECTED"
	StateNotInWorkflow    = "NOT_IN_WORKFLOW"
	StateNoWorkflowConfig = "NO_WORKFLOW_CONFIG"
)

// Stage progress states.
const (
	StageCompleted = "COMPLETED"
	StageCurrent   = "CURRENT"
	StagePending   = "PENDING"
)

// StageProgress is one row of the stage-progress summary.
type StageProgress struct {
	StageKey  string
	StageName string
	Order     int
	State     string
}

// WorkflowState is the read-only state snapshot of one entity.
type WorkflowState struct {
	Classification  string
	Status          string
	CurrentStage    *string
	ConfigID        string
	ConfigVersion   int
	Stages          []StageProgress
	PercentComplete int
}
