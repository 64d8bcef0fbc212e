package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/database"
)

// RejectionRepository writes rejection records and updates their resolution
// sub-record. The core fields are immutable after insert; resolution fields
// are the only columns the resubmission/cancellation flow may touch.
type RejectionRepository struct {
	db *database.DB
}

// NewRejectionRepository creates a new RejectionRepository.
func NewRejectionRepository(db *database.DB) *RejectionRepository {
	return &RejectionRepository{db: db}
}

// Append inserts one rejection record with its denormalized policy flags.
func (r *RejectionRepository) Append(ctx context.Context, rec *RejectionRecord) error {
	var snapshotJSON []byte
	if rec.Snapshot != nil {
		var err error
		snapshotJSON, err = json.Marshal(rec.Snapshot)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeInternal, "failed to marshal rejection snapshot")
		}
	}

	query := `
		INSERT INTO rejection_records
		    (company_id, entity_type, entity_id, stage_key,
		     reason_code, remarks, action_kind,
		     actor_id, actor_name, actor_role,
		     previous_status, new_status, entity_snapshot,
		     allow_resubmission, resubmission_strategy,
		     notify_roles, visible_to_roles)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7,
		        $8, $9, $10,
		        $11, $12, $13,
		        $14, $15,
		        $16, $17)
		RETURNING id, created_at
	`

	return r.db.QueryRow(ctx, query,
		rec.CompanyID,
		rec.EntityType,
		rec.EntityID,
		rec.StageKey,
		rec.ReasonCode,
		rec.Remarks,
		rec.ActionKind,
		rec.ActorID,
		rec.ActorName,
		rec.ActorRole,
		rec.PreviousStatus,
		rec.NewStatus,
		snapshotJSON,
		rec.AllowResubmission,
		rec.ResubmissionStrategy,
		rec.NotifyRoles,
		rec.VisibleToRoles,
	).Scan(&rec.ID, &rec.CreatedAt)
}

// LatestUnresolved returns the newest unresolved rejection for an entity, or
// nil when none exists. The resubmission flow and the UI projector use this.
func (r *RejectionRepository) LatestUnresolved(ctx context.Context, companyID string, entityType EntityType, entityID string) (*RejectionRecord, error) {
	query := `
		SELECT ` + rejectionColumns + `
		FROM rejection_records
		WHERE company_id = $1 AND entity_type = $2 AND entity_id = $3
		  AND is_resolved = FALSE
		ORDER BY created_at DESC
		LIMIT 1
	`

	rec, err := r.scanRecord(r.db.QueryRow(ctx, query, companyID, entityType, entityID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// GetByEntity returns all rejection records for an entity, newest first.
func (r *RejectionRepository) GetByEntity(ctx context.Context, companyID string, entityType EntityType, entityID string) ([]*RejectionRecord, error) {
	query := `
		SELECT ` + rejectionColumns + `
		FROM rejection_records
		WHERE company_id = $1 AND entity_type = $2 AND entity_id = $3
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, companyID, entityType, entityID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to load rejection records")
	}
	defer rows.Close()

	var records []*RejectionRecord
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan rejection record")
		}
		records = append(records, rec)
	}
	return records, nil
}

// Resolve sets the resolution sub-record. Core fields stay untouched.
func (r *RejectionRepository) Resolve(ctx context.Context, id, resolvedBy, action string, remarks *string) error {
	query := `
		UPDATE rejection_records
		SET is_resolved        = TRUE,
		    resolved_by        = $2,
		    resolution_action  = $3,
		    resolution_remarks = $4,
		    resolved_at        = $5
		WHERE id = $1 AND is_resolved = FALSE
		RETURNING id
	`

	var returned string
	err := r.db.QueryRow(ctx, query, id, resolvedBy, action, remarks, time.Now()).Scan(&returned)
	if err == pgx.ErrNoRows {
		return apperrors.Newf(apperrors.CodeAlreadyProcessed, "rejection %s is already resolved or missing", id)
	}
	return err
}

// ── scan helpers ──────────────────────────────────────────────────────────────

const rejectionColumns = `
	id, company_id, entity_type, entity_id, stage_key,
	reason_code, remarks, action_kind,
	actor_id, actor_name, actor_role,
	previous_status, new_status, entity_snapshot,
	allow_resubmission, resubmission_strategy,
	notify_roles, visible_to_roles,
	is_resolved, resolved_by, resolution_action, resolution_remarks, resolved_at,
	created_at
`

type rejectionScanner interface {
	Scan(dest ...any) error
}

func (r *RejectionRepository) scanRecord(row rejectionScanner) (*RejectionRecord, error) {
	rec := &RejectionRecord{}
	var snapshotJSON []byte

	err := row.Scan(
		&rec.ID,
		&rec.CompanyID,
		&rec.EntityType,
		&rec.EntityID,
		&rec.StageKey,
		&rec.ReasonCode,
		&rec.Remarks,
		&rec.ActionKind,
		&rec.ActorID,
		&rec.ActorName,
		&rec.ActorRole,
		&rec.PreviousStatus,
		&rec.NewStatus,
		&snapshotJSON,
		&rec.AllowResubmission,
		&rec.ResubmissionStrategy,
		&rec.NotifyRoles,
		&rec.VisibleToRoles,
		&rec.IsResolved,
		&rec.ResolvedBy,
		&rec.ResolutionAction,
		&rec.ResolutionRemarks,
		&rec.ResolvedAt,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(snapshotJSON) > 0 {
		if err := json.Unmarshal(snapshotJSON, &rec.Snapshot); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to unmarshal rejection snapshot")
		}
	}
	return rec, nil
}
