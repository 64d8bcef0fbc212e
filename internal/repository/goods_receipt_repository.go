package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/database"
)

// GoodsReceipt is the kind-specific record behind EntityGoodsReceipt.
type GoodsReceipt struct {
	ID                    string
	CompanyID             string
	GRNNumber             string
	PurchaseOrderNumber   *string
	ReceivedByID          string
	ReceivedByName        string
	ReceivedByEmail       string
	LocationID            *string
	TotalValue            int64 // cents
	Currency              string
	Status                string
	CurrentStage          *string
	WorkflowConfigID      *string
	WorkflowConfigVersion *int
	Extra                 map[string]string
}

var goodsReceiptStageColumns = map[string][2]string{
	"STORE_VERIFICATION": {"store_verified_by", "store_verified_at"},
	"LOCATION_APPROVAL":  {"location_approved_by", "location_approved_at"},
	"COMPANY_APPROVAL":   {"company_approved_by", "company_approved_at"},
}

// Goods receipts predate the workflow engine; old rows carry numeric codes.
var goodsReceiptLegacyStatuses = map[string]string{
	"0":        "DRAFT",
	"1":        "PENDING_APPROVAL",
	"2":        "APPROVED",
	"3":        "REJECTED",
	"Received": "PENDING_APPROVAL",
}

// GoodsReceiptStore implements EntityStore for goods-receipt records.
type GoodsReceiptStore struct {
	db *database.DB
}

// NewGoodsReceiptStore creates a new GoodsReceiptStore.
func NewGoodsReceiptStore(db *database.DB) *GoodsReceiptStore {
	return &GoodsReceiptStore{db: db}
}

// Kind returns EntityGoodsReceipt.
func (s *GoodsReceiptStore) Kind() EntityType {
	return EntityGoodsReceipt
}

const goodsReceiptColumns = `
	id, company_id, grn_number, purchase_order_number,
	received_by_id, received_by_name, received_by_email, location_id,
	total_value, currency, status, current_stage,
	workflow_config_id, workflow_config_version, extra
`

// FindByID loads a goods receipt by primary key, falling back to the GRN
// number when the id misses.
func (s *GoodsReceiptStore) FindByID(ctx context.Context, companyID, id string) (*WorkflowEntity, error) {
	query := `
		SELECT ` + goodsReceiptColumns + `
		FROM goods_receipts
		WHERE company_id = $1 AND id = $2
	`

	gr, err := s.scanReceipt(s.db.QueryRow(ctx, query, companyID, id))
	if err == pgx.ErrNoRows {
		byNumber := `
			SELECT ` + goodsReceiptColumns + `
			FROM goods_receipts
			WHERE company_id = $1 AND grn_number = $2
		`
		gr, err = s.scanReceipt(s.db.QueryRow(ctx, byNumber, companyID, id))
	}
	if err == pgx.ErrNoRows {
		return nil, apperrors.Newf(apperrors.CodeEntityNotFound, "goods receipt %q not found", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to load goods receipt")
	}
	return s.toEntity(gr), nil
}

// UpdateWorkflowState applies the engine's transition write as one UPDATE.
func (s *GoodsReceiptStore) UpdateWorkflowState(ctx context.Context, companyID, id string, upd WorkflowStateUpdate) error {
	return updateEntityWorkflowState(ctx, s.db, "goods_receipts", goodsReceiptStageColumns, companyID, id, upd)
}

// Snapshot extracts the goods-receipt display fields.
func (s *GoodsReceiptStore) Snapshot(ctx context.Context, e *WorkflowEntity) (*EntitySnapshot, error) {
	gr, ok := e.Payload.(*GoodsReceipt)
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeInternal, "unexpected payload type for goods receipt %s", e.ID)
	}
	title := "Goods receipt " + gr.GRNNumber
	if gr.PurchaseOrderNumber != nil {
		title += " against PO " + *gr.PurchaseOrderNumber
	}
	snap := &EntitySnapshot{
		EntityNumber:   gr.GRNNumber,
		Title:          title,
		Amount:         &gr.TotalValue,
		Currency:       gr.Currency,
		RequestorID:    gr.ReceivedByID,
		RequestorName:  gr.ReceivedByName,
		RequestorEmail: gr.ReceivedByEmail,
		OwnerEmail:     gr.ReceivedByEmail,
		Extra:          gr.Extra,
	}
	if gr.LocationID != nil {
		snap.LocationID = *gr.LocationID
	}
	return snap, nil
}

// TranslateStatus maps legacy goods-receipt statuses, including the numeric
// codes used before the workflow engine.
func (s *GoodsReceiptStore) TranslateStatus(status string) string {
	if canonical, ok := goodsReceiptLegacyStatuses[status]; ok {
		return canonical
	}
	return status
}

func (s *GoodsReceiptStore) toEntity(gr *GoodsReceipt) *WorkflowEntity {
	return &WorkflowEntity{
		ID:                    gr.ID,
		CompanyID:             gr.CompanyID,
		EntityType:            EntityGoodsReceipt,
		CurrentStage:          gr.CurrentStage,
		Status:                s.TranslateStatus(gr.Status),
		WorkflowConfigID:      gr.WorkflowConfigID,
		WorkflowConfigVersion: gr.WorkflowConfigVersion,
		Payload:               gr,
	}
}

type goodsReceiptScanner interface {
	Scan(dest ...any) error
}

func (s *GoodsReceiptStore) scanReceipt(row goodsReceiptScanner) (*GoodsReceipt, error) {
	gr := &GoodsReceipt{}
	var extraJSON []byte

	err := row.Scan(
		&gr.ID,
		&gr.CompanyID,
		&gr.GRNNumber,
		&gr.PurchaseOrderNumber,
		&gr.ReceivedByID,
		&gr.ReceivedByName,
		&gr.ReceivedByEmail,
		&gr.LocationID,
		&gr.TotalValue,
		&gr.Currency,
		&gr.Status,
		&gr.CurrentStage,
		&gr.WorkflowConfigID,
		&gr.WorkflowConfigVersion,
		&extraJSON,
	)
	if err != nil {
		return nil, err
	}
	if len(extraJSON) > 0 {
		if err := json.Unmarshal(extraJSON, &gr.Extra); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to unmarshal goods receipt extra fields")
		}
	}
	return gr, nil
}
