package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/database"
)

// ApprovalAuditRepository appends and reads immutable approval audit records.
type ApprovalAuditRepository struct {
	db *database.DB
}

// NewApprovalAuditRepository creates a new ApprovalAuditRepository.
func NewApprovalAuditRepository(db *database.DB) *ApprovalAuditRepository {
	return &ApprovalAuditRepository{db: db}
}

// Append inserts one audit record. The table has a delete-prevention trigger
// so this is the only mutation operation exposed.
func (r *ApprovalAuditRepository) Append(ctx context.Context, audit *ApprovalAudit) error {
	var snapshotJSON []byte
	if audit.Snapshot != nil {
		var err error
		snapshotJSON, err = json.Marshal(audit.Snapshot)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeInternal, "failed to marshal audit snapshot")
		}
	}

	query := `
		INSERT INTO approval_audit_log
		    (company_id, entity_type, entity_id,
		     from_stage, to_stage,
		     actor_id, actor_name, actor_role,
		     previous_status, new_status, entity_snapshot)
		VALUES ($1, $2, $3,
		        $4, $5,
		        $6, $7, $8,
		        $9, $10, $11)
		RETURNING id, created_at
	`

	return r.db.QueryRow(ctx, query,
		audit.CompanyID,
		audit.EntityType,
		audit.EntityID,
		audit.FromStage,
		audit.ToStage,
		audit.ActorID,
		audit.ActorName,
		audit.ActorRole,
		audit.PreviousStatus,
		audit.NewStatus,
		snapshotJSON,
	).Scan(&audit.ID, &audit.CreatedAt)
}

// GetByEntity returns the audit trail for one entity, oldest first.
func (r *ApprovalAuditRepository) GetByEntity(ctx context.Context, companyID string, entityType EntityType, entityID string) ([]*ApprovalAudit, error) {
	query := `
		SELECT id, company_id, entity_type, entity_id,
		       from_stage, to_stage,
		       actor_id, actor_name, actor_role,
		       previous_status, new_status, entity_snapshot, created_at
		FROM approval_audit_log
		WHERE company_id = $1 AND entity_type = $2 AND entity_id = $3
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, companyID, entityType, entityID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to load audit trail")
	}
	defer rows.Close()

	var audits []*ApprovalAudit
	for rows.Next() {
		audit, err := r.scanAudit(rows)
		if err != nil {
			return nil, err
		}
		audits = append(audits, audit)
	}
	return audits, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

func (r *ApprovalAuditRepository) scanAudit(rows pgx.Rows) (*ApprovalAudit, error) {
	audit := &ApprovalAudit{}
	var snapshotJSON []byte

	err := rows.Scan(
		&audit.ID,
		&audit.CompanyID,
		&audit.EntityType,
		&audit.EntityID,
		&audit.FromStage,
		&audit.ToStage,
		&audit.ActorID,
		&audit.ActorName,
		&audit.ActorRole,
		&audit.PreviousStatus,
		&audit.NewStatus,
		&snapshotJSON,
		&audit.CreatedAt,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan audit record")
	}

	if len(snapshotJSON) > 0 {
		if err := json.Unmarshal(snapshotJSON, &audit.Snapshot); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to unmarshal audit snapshot")
		}
	}
	return audit, nil
}
