package repository

import "time"

// ── Entity kinds ──────────────────────────────────────────────────────────────

// EntityType enumerates the entity kinds the workflow engine can advance.
// New kinds are added here and registered on the Registry; the engine never
// dispatches by name outside this closed set.
type EntityType string

const (
	EntityPurchaseRequest EntityType = "PURCHASE_REQUEST"
	EntityGoodsReceipt    EntityType = "GOODS_RECEIPT"
	EntityInvoice         EntityType = "INVOICE"
)

// KnownEntityTypes lists every registered kind, for transport validation.
var KnownEntityTypes = []EntityType{EntityPurchaseRequest, EntityGoodsReceipt, EntityInvoice}

// ── Workflow configuration ────────────────────────────────────────────────────

// WorkflowStage is one ordered step of a workflow configuration.
type WorkflowStage struct {
	StageKey     string                  `json:"stage_key"`
	StageName    string                  `json:"stage_name"`
	Order        int                     `json:"order"`
	AllowedRoles []string                `json:"allowed_roles"`
	CanApprove   bool                    `json:"can_approve"`
	CanReject    bool                    `json:"can_reject"`
	IsTerminal   bool                    `json:"is_terminal"`
	Rejection    *StageRejectionOverride `json:"rejection,omitempty"`
}

// StageRejectionOverride is a partial rejection policy. Nil fields mean
// "not set here"; resolution falls through to the workflow-level default and
// then the system default, field by field.
type StageRejectionOverride struct {
	IsRemarksMandatory        *bool    `json:"is_remarks_mandatory,omitempty"`
	MaxRemarksLength          *int     `json:"max_remarks_length,omitempty"`
	AllowedReasonCodes        []string `json:"allowed_reason_codes,omitempty"`
	RejectedStatus            *string  `json:"rejected_status,omitempty"`
	IsTerminalOnReject        *bool    `json:"is_terminal_on_reject,omitempty"`
	ResubmissionStrategy      *string  `json:"resubmission_strategy,omitempty"`
	ResubmissionAllowedRoles  []string `json:"resubmission_allowed_roles,omitempty"`
	NotifyRolesOnReject       []string `json:"notify_roles_on_reject,omitempty"`
	VisibleToRolesAfterReject []string `json:"visible_to_roles_after_reject,omitempty"`
	AllowResubmission         *bool    `json:"allow_resubmission,omitempty"`
}

// Resubmission strategies.
const (
	ResubmitSameEntity = "SAME_ENTITY"
	ResubmitNewEntity  = "NEW_ENTITY"
)

// StageRejectionPolicy is the fully resolved, effective rejection policy for
// one stage. Produced by the policy resolver; never persisted as-is.
type StageRejectionPolicy struct {
	IsRemarksMandatory        bool     `json:"is_remarks_mandatory"`
	MaxRemarksLength          int      `json:"max_remarks_length"`
	AllowedReasonCodes        []string `json:"allowed_reason_codes"` // empty = unrestricted
	RejectedStatus            string   `json:"rejected_status"`      // "" = use status_on_rejection / default
	IsTerminalOnReject        bool     `json:"is_terminal_on_reject"`
	ResubmissionStrategy      string   `json:"resubmission_strategy"`
	ResubmissionAllowedRoles  []string `json:"resubmission_allowed_roles"`
	NotifyRolesOnReject       []string `json:"notify_roles_on_reject"`
	VisibleToRolesAfterReject []string `json:"visible_to_roles_after_reject"`
	AllowResubmission         bool     `json:"allow_resubmission"`
}

// WorkflowConfiguration is the external data authority for one (company,
// entity type) pair. The engine reads it and never writes it.
type WorkflowConfiguration struct {
	ID                 string
	CompanyID          string
	EntityType         EntityType
	Version            int
	IsActive           bool
	Stages             []WorkflowStage // ordered by Order ascending
	StatusOnSubmission string
	StatusOnApproval   map[string]string // stage key → status
	StatusOnRejection  map[string]string // stage key → status
	RejectionDefaults  *StageRejectionOverride
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Stage returns the stage with the given key, or nil.
func (c *WorkflowConfiguration) Stage(key string) *WorkflowStage {
	for i := range c.Stages {
		if c.Stages[i].StageKey == key {
			return &c.Stages[i]
		}
	}
	return nil
}

// EntryStage returns the stage with the lowest order, or nil when the
// configuration has no stages.
func (c *WorkflowConfiguration) EntryStage() *WorkflowStage {
	var entry *WorkflowStage
	for i := range c.Stages {
		if entry == nil || c.Stages[i].Order < entry.Order {
			entry = &c.Stages[i]
		}
	}
	return entry
}

// NextStage returns the lowest-order stage whose order is greater than the
// given stage's order, or nil when the given stage is last.
func (c *WorkflowConfiguration) NextStage(current *WorkflowStage) *WorkflowStage {
	var next *WorkflowStage
	for i := range c.Stages {
		s := &c.Stages[i]
		if s.Order <= current.Order {
			continue
		}
		if next == nil || s.Order < next.Order {
			next = s
		}
	}
	return next
}

// ── Workflow entity abstraction ───────────────────────────────────────────────

// WorkflowEntity is the engine's view of any business entity. Domain logic
// creates entities; only the engine transitions them.
type WorkflowEntity struct {
	ID                    string
	CompanyID             string
	EntityType            EntityType
	CurrentStage          *string
	Status                string
	WorkflowConfigID      *string
	WorkflowConfigVersion *int
	// Payload is the opaque kind-specific record the owning store loaded.
	// Only that store looks inside it (to build snapshots).
	Payload any
}

// EntitySnapshot is the bounded allow-list of display fields extracted for
// audit records and notification templating. Never the full record.
type EntitySnapshot struct {
	EntityNumber   string            `json:"entity_number"`
	Title          string            `json:"title,omitempty"`
	Amount         *int64            `json:"amount,omitempty"` // cents
	Currency       string            `json:"currency,omitempty"`
	RequestorID    string            `json:"requestor_id,omitempty"`
	RequestorName  string            `json:"requestor_name,omitempty"`
	RequestorEmail string            `json:"requestor_email,omitempty"`
	OwnerEmail     string            `json:"owner_email,omitempty"`
	VendorEmail    string            `json:"vendor_email,omitempty"`
	VendorName     string            `json:"vendor_name,omitempty"`
	LocationID     string            `json:"location_id,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"` // forward-compat passthrough
}

// StageActor records who acted at a stage, for the stage-keyed side columns.
type StageActor struct {
	StageKey  string
	ActorID   string
	ActorName string
	At        time.Time
}

// WorkflowStateUpdate is the single write the engine performs per transition.
type WorkflowStateUpdate struct {
	Status                string
	CurrentStage          *string // nil clears the stage
	WorkflowConfigID      string
	WorkflowConfigVersion int
	StageActor            *StageActor       // optional stage-keyed approver columns
	Extra                 map[string]string // opaque passthrough, kind-specific
}

// ── Audit ─────────────────────────────────────────────────────────────────────

// ApprovalAudit is one immutable record per successful approval.
type ApprovalAudit struct {
	ID             string
	CompanyID      string
	EntityType     EntityType
	EntityID       string
	FromStage      string
	ToStage        *string
	ActorID        string
	ActorName      string
	ActorRole      string
	PreviousStatus string
	NewStatus      string
	Snapshot       *EntitySnapshot
	CreatedAt      time.Time
}

// RejectionRecord is the immutable record of one rejection, plus the mutable
// resolution sub-record set later by the resubmission/cancellation flow.
type RejectionRecord struct {
	ID         string
	CompanyID  string
	EntityType EntityType
	EntityID   string
	StageKey   string
	ReasonCode string
	Remarks    *string
	ActionKind string // TERMINAL_REJECT | SEND_BACK
	ActorID    string
	ActorName  string
	ActorRole  string

	PreviousStatus string
	NewStatus      string
	Snapshot       *EntitySnapshot

	// Denormalized from the effective policy at rejection time.
	AllowResubmission    bool
	ResubmissionStrategy string
	NotifyRoles          []string
	VisibleToRoles       []string

	// Resolution sub-record (mutable).
	IsResolved        bool
	ResolvedBy        *string
	ResolutionAction  *string // RESUBMITTED | CANCELLED
	ResolutionRemarks *string
	ResolvedAt        *time.Time

	CreatedAt time.Time
}

// Rejection action kinds.
const (
	RejectionTerminal = "TERMINAL_REJECT"
	RejectionSendBack = "SEND_BACK"
)

// ── Notifications ─────────────────────────────────────────────────────────────

// Wildcard matches any company or entity type in a notification mapping.
const Wildcard = "*"

// NotificationChannel binds a delivery channel to a template key.
type NotificationChannel struct {
	Channel     string `json:"channel"` // EMAIL | SMS | IN_APP
	TemplateKey string `json:"template_key"`
}

// MappingConditions gate a mapping; all non-empty conditions must pass.
type MappingConditions struct {
	MinAmount      *int64   `json:"min_amount,omitempty"`
	EntityStatuses []string `json:"entity_statuses,omitempty"`
	Roles          []string `json:"roles,omitempty"` // actor roles
}

// CustomRecipient is a fixed recipient configured directly on a mapping.
type CustomRecipient struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

// NotificationMapping routes one event type to recipients and channels.
type NotificationMapping struct {
	ID                     string
	CompanyID              string // "*" = global
	EntityType             string // "*" = global
	EventType              string
	StageKey               *string // optional stage filter
	Priority               int     // lower = evaluated first
	RecipientResolvers     []string
	Channels               []NotificationChannel
	Conditions             MappingConditions
	ExcludeActionPerformer bool
	CustomRecipients       []CustomRecipient
	IsActive               bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Notification log statuses.
const (
	NotificationSent     = "SENT"
	NotificationFailed   = "FAILED"
	NotificationRejected = "REJECTED" // gated: duplicate-skip, disabled event, no-op channel
)

// NotificationLog is one row per attempted recipient, whatever the outcome.
type NotificationLog struct {
	ID                string
	EventID           *string
	CompanyID         string
	RecipientEmail    string // lowercased
	RecipientRole     string
	Subject           string
	Status            string
	ProviderMessageID *string
	ErrorMessage      *string
	BusinessKey       *string
	SentAt            *time.Time
	Diagnostics       map[string]any
	CreatedAt         time.Time
}

// Queue item statuses for quiet-hours deferral.
const (
	QueueStatusQueued     = "QUEUED"
	QueueStatusProcessing = "PROCESSING"
	QueueStatusSent       = "SENT"
	QueueStatusFailed     = "FAILED"
)

// QueuedNotification is a deferred send awaiting the end of quiet hours.
type QueuedNotification struct {
	ID             string
	EventID        string
	CompanyID      string
	RecipientEmail string
	RecipientName  string
	RecipientRole  string
	Subject        string
	Body           string
	BusinessKey    string
	Status         string
	ScheduledFor   time.Time
	RetryCount     int
	LastError      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ── Company notification configuration ────────────────────────────────────────

// EventOverride customizes one event type for a company.
type EventOverride struct {
	Enabled bool   `json:"enabled"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body,omitempty"`
}

// Branding is substituted into templates alongside event context.
type Branding struct {
	CompanyName  string `json:"company_name,omitempty"`
	PrimaryColor string `json:"primary_color,omitempty"`
	LogoURL      string `json:"logo_url,omitempty"`
}

// QuietHoursWindow defers notifications inside [Start, End) company-local
// time. Start > End means the window wraps past midnight.
type QuietHoursWindow struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"` // "22:00"
	End      string `json:"end"`   // "08:00"
	Timezone string `json:"timezone"`
}

// CompanyNotificationConfig is the per-company notification configuration.
// Read-mostly; cached with a short TTL and invalidated on write.
type CompanyNotificationConfig struct {
	CompanyID            string
	NotificationsEnabled bool
	EventOverrides       map[string]EventOverride
	Branding             Branding
	CCEmails             []string
	BCCEmails            []string
	QuietHours           *QuietHoursWindow
	UpdatedAt            time.Time
}

// ── Directory ─────────────────────────────────────────────────────────────────

// DirectoryUser is an active user known to the company directory.
type DirectoryUser struct {
	ID         string
	CompanyID  string
	Email      string
	Name       string
	Role       string
	LocationID *string
	IsActive   bool
}
