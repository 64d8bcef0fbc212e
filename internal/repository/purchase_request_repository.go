package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/database"
)

// PurchaseRequest is the kind-specific record behind EntityPurchaseRequest.
type PurchaseRequest struct {
	ID                    string
	CompanyID             string
	RequestNumber         string
	Title                 string
	RequestorID           string
	RequestorName         string
	RequestorEmail        string
	LocationID            *string
	Amount                int64 // cents
	Currency              string
	Status                string
	CurrentStage          *string
	WorkflowConfigID      *string
	WorkflowConfigVersion *int
	Extra                 map[string]string
}

// purchaseRequestStageColumns maps stage keys to the approver side columns
// stamped on approval. Fixed lookup table, not a generic bag.
var purchaseRequestStageColumns = map[string][2]string{
	"LOCATION_APPROVAL": {"location_approved_by", "location_approved_at"},
	"COMPANY_APPROVAL":  {"company_approved_by", "company_approved_at"},
	"FINANCE_APPROVAL":  {"finance_approved_by", "finance_approved_at"},
}

// purchaseRequestLegacyStatuses translates the pre-workflow status vocabulary
// still present on old rows.
var purchaseRequestLegacyStatuses = map[string]string{
	"Pending":  "PENDING_APPROVAL",
	"Approved": "APPROVED",
	"Rejected": "REJECTED",
	"Draft":    "DRAFT",
}

// PurchaseRequestStore implements EntityStore for purchase requests.
type PurchaseRequestStore struct {
	db *database.DB
}

// NewPurchaseRequestStore creates a new PurchaseRequestStore.
func NewPurchaseRequestStore(db *database.DB) *PurchaseRequestStore {
	return &PurchaseRequestStore{db: db}
}

// Kind returns EntityPurchaseRequest.
func (s *PurchaseRequestStore) Kind() EntityType {
	return EntityPurchaseRequest
}

const purchaseRequestColumns = `
	id, company_id, request_number, title,
	requestor_id, requestor_name, requestor_email, location_id,
	amount, currency, status, current_stage,
	workflow_config_id, workflow_config_version, extra
`

// FindByID loads a purchase request by primary key, falling back to the
// request number when the id misses.
func (s *PurchaseRequestStore) FindByID(ctx context.Context, companyID, id string) (*WorkflowEntity, error) {
	query := `
		SELECT ` + purchaseRequestColumns + `
		FROM purchase_requests
		WHERE company_id = $1 AND id = $2
	`

	pr, err := s.scanRequest(s.db.QueryRow(ctx, query, companyID, id))
	if err == pgx.ErrNoRows {
		// Fallback: callers sometimes hold the business key, not the UUID.
		byNumber := `
			SELECT ` + purchaseRequestColumns + `
			FROM purchase_requests
			WHERE company_id = $1 AND request_number = $2
		`
		pr, err = s.scanRequest(s.db.QueryRow(ctx, byNumber, companyID, id))
	}
	if err == pgx.ErrNoRows {
		return nil, apperrors.New(apperrors.CodeEntityNotFound,
			fmt.Sprintf("purchase request %q not found", id))
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to load purchase request")
	}
	return s.toEntity(pr), nil
}

// UpdateWorkflowState applies the engine's transition write as one UPDATE.
func (s *PurchaseRequestStore) UpdateWorkflowState(ctx context.Context, companyID, id string, upd WorkflowStateUpdate) error {
	return updateEntityWorkflowState(ctx, s.db, "purchase_requests", purchaseRequestStageColumns, companyID, id, upd)
}

// Snapshot extracts the purchase-request display fields.
func (s *PurchaseRequestStore) Snapshot(ctx context.Context, e *WorkflowEntity) (*EntitySnapshot, error) {
	pr, ok := e.Payload.(*PurchaseRequest)
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeInternal, "unexpected payload type for purchase request %s", e.ID)
	}
	snap := &EntitySnapshot{
		EntityNumber:   pr.RequestNumber,
		Title:          pr.Title,
		Amount:         &pr.Amount,
		Currency:       pr.Currency,
		RequestorID:    pr.RequestorID,
		RequestorName:  pr.RequestorName,
		RequestorEmail: pr.RequestorEmail,
		OwnerEmail:     pr.RequestorEmail,
		Extra:          pr.Extra,
	}
	if pr.LocationID != nil {
		snap.LocationID = *pr.LocationID
	}
	return snap, nil
}

// TranslateStatus maps legacy purchase-request statuses.
func (s *PurchaseRequestStore) TranslateStatus(status string) string {
	if canonical, ok := purchaseRequestLegacyStatuses[status]; ok {
		return canonical
	}
	return status
}

func (s *PurchaseRequestStore) toEntity(pr *PurchaseRequest) *WorkflowEntity {
	return &WorkflowEntity{
		ID:                    pr.ID,
		CompanyID:             pr.CompanyID,
		EntityType:            EntityPurchaseRequest,
		CurrentStage:          pr.CurrentStage,
		Status:                s.TranslateStatus(pr.Status),
		WorkflowConfigID:      pr.WorkflowConfigID,
		WorkflowConfigVersion: pr.WorkflowConfigVersion,
		Payload:               pr,
	}
}

type purchaseRequestScanner interface {
	Scan(dest ...any) error
}

func (s *PurchaseRequestStore) scanRequest(row purchaseRequestScanner) (*PurchaseRequest, error) {
	pr := &PurchaseRequest{}
	var extraJSON []byte

	err := row.Scan(
		&pr.ID,
		&pr.CompanyID,
		&pr.RequestNumber,
		&pr.Title,
		&pr.RequestorID,
		&pr.RequestorName,
		&pr.RequestorEmail,
		&pr.LocationID,
		&pr.Amount,
		&pr.Currency,
		&pr.Status,
		&pr.CurrentStage,
		&pr.WorkflowConfigID,
		&pr.WorkflowConfigVersion,
		&extraJSON,
	)
	if err != nil {
		return nil, err
	}
	if len(extraJSON) > 0 {
		if err := json.Unmarshal(extraJSON, &pr.Extra); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to unmarshal purchase request extra fields")
		}
	}
	return pr, nil
}
