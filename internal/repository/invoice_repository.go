package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/database"
)

// Invoice is the kind-specific record behind EntityInvoice. The AP service
// owns the full invoice; only the workflow-facing columns live here.
type Invoice struct {
	ID                    string
	CompanyID             string
	InvoiceNumber         string
	VendorID              *string
	VendorName            string
	VendorEmail           string
	SubmittedByID         string
	SubmittedByName       string
	SubmittedByEmail      string
	LocationID            *string
	TotalAmount           int64 // cents
	Currency              string
	Status                string
	CurrentStage          *string
	WorkflowConfigID      *string
	WorkflowConfigVersion *int
	Extra                 map[string]string
}

var invoiceStageColumns = map[string][2]string{
	"FINANCE_APPROVAL": {"finance_approved_by", "finance_approved_at"},
	"COMPANY_APPROVAL": {"company_approved_by", "company_approved_at"},
}

var invoiceLegacyStatuses = map[string]string{
	"draft":            "DRAFT",
	"pending_approval": "PENDING_APPROVAL",
	"approved":         "APPROVED",
	"rejected":         "REJECTED",
	"posted":           "POSTED",
}

// InvoiceStore implements EntityStore for AP invoices.
type InvoiceStore struct {
	db *database.DB
}

// NewInvoiceStore creates a new InvoiceStore.
func NewInvoiceStore(db *database.DB) *InvoiceStore {
	return &InvoiceStore{db: db}
}

// Kind returns EntityInvoice.
func (s *InvoiceStore) Kind() EntityType {
	return EntityInvoice
}

const invoiceColumns = `
	id, company_id, invoice_number, vendor_id, vendor_name, vendor_email,
	submitted_by_id, submitted_by_name, submitted_by_email, location_id,
	total_amount, currency, status, current_stage,
	workflow_config_id, workflow_config_version, extra
`

// FindByID loads an invoice by primary key, falling back to the invoice
// number when the id misses.
func (s *InvoiceStore) FindByID(ctx context.Context, companyID, id string) (*WorkflowEntity, error) {
	query := `
		SELECT ` + invoiceColumns + `
		FROM ap_invoices
		WHERE company_id = $1 AND id = $2
	`

	inv, err := s.scanInvoice(s.db.QueryRow(ctx, query, companyID, id))
	if err == pgx.ErrNoRows {
		byNumber := `
			SELECT ` + invoiceColumns + `
			FROM ap_invoices
			WHERE company_id = $1 AND invoice_number = $2
		`
		inv, err = s.scanInvoice(s.db.QueryRow(ctx, byNumber, companyID, id))
	}
	if err == pgx.ErrNoRows {
		return nil, apperrors.Newf(apperrors.CodeEntityNotFound, "invoice %q not found", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to load invoice")
	}
	return s.toEntity(inv), nil
}

// UpdateWorkflowState applies the engine's transition write as one UPDATE.
func (s *InvoiceStore) UpdateWorkflowState(ctx context.Context, companyID, id string, upd WorkflowStateUpdate) error {
	return updateEntityWorkflowState(ctx, s.db, "ap_invoices", invoiceStageColumns, companyID, id, upd)
}

// Snapshot extracts the invoice display fields, including vendor contact
// details for vendor-directed notifications.
func (s *InvoiceStore) Snapshot(ctx context.Context, e *WorkflowEntity) (*EntitySnapshot, error) {
	inv, ok := e.Payload.(*Invoice)
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeInternal, "unexpected payload type for invoice %s", e.ID)
	}
	snap := &EntitySnapshot{
		EntityNumber:   inv.InvoiceNumber,
		Title:          "Invoice " + inv.InvoiceNumber + " from " + inv.VendorName,
		Amount:         &inv.TotalAmount,
		Currency:       inv.Currency,
		RequestorID:    inv.SubmittedByID,
		RequestorName:  inv.SubmittedByName,
		RequestorEmail: inv.SubmittedByEmail,
		OwnerEmail:     inv.SubmittedByEmail,
		VendorEmail:    inv.VendorEmail,
		VendorName:     inv.VendorName,
		Extra:          inv.Extra,
	}
	if inv.LocationID != nil {
		snap.LocationID = *inv.LocationID
	}
	return snap, nil
}

// TranslateStatus maps the AP service's lowercase statuses to the workflow
// vocabulary.
func (s *InvoiceStore) TranslateStatus(status string) string {
	if canonical, ok := invoiceLegacyStatuses[status]; ok {
		return canonical
	}
	return status
}

func (s *InvoiceStore) toEntity(inv *Invoice) *WorkflowEntity {
	return &WorkflowEntity{
		ID:                    inv.ID,
		CompanyID:             inv.CompanyID,
		EntityType:            EntityInvoice,
		CurrentStage:          inv.CurrentStage,
		Status:                s.TranslateStatus(inv.Status),
		WorkflowConfigID:      inv.WorkflowConfigID,
		WorkflowConfigVersion: inv.WorkflowConfigVersion,
		Payload:               inv,
	}
}

type invoiceScanner interface {
	Scan(dest ...any) error
}

func (s *InvoiceStore) scanInvoice(row invoiceScanner) (*Invoice, error) {
	inv := &Invoice{}
	var extraJSON []byte

	err := row.Scan(
		&inv.ID,
		&inv.CompanyID,
		&inv.InvoiceNumber,
		&inv.VendorID,
		&inv.VendorName,
		&inv.VendorEmail,
		&inv.SubmittedByID,
		&inv.SubmittedByName,
		&inv.SubmittedByEmail,
		&inv.LocationID,
		&inv.TotalAmount,
		&inv.Currency,
		&inv.Status,
		&inv.CurrentStage,
		&inv.WorkflowConfigID,
		&inv.WorkflowConfigVersion,
		&extraJSON,
	)
	if err != nil {
		return nil, err
	}
	if len(extraJSON) > 0 {
		if err := json.Unmarshal(extraJSON, &inv.Extra); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to unmarshal invoice extra fields")
		}
	}
	return inv, nil
}
