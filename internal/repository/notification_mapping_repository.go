package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/database"
)

// NotificationMappingRepository reads the event → recipients routing table.
type NotificationMappingRepository struct {
	db *database.DB
}

// NewNotificationMappingRepository creates a new NotificationMappingRepository.
func NewNotificationMappingRepository(db *database.DB) *NotificationMappingRepository {
	return &NotificationMappingRepository{db: db}
}

// FindForEvent returns active mappings matching the event, company-specific
// rows before wildcard-company rows, then by ascending priority. Rows with a
// stage filter are included only when the stage matches.
func (r *NotificationMappingRepository) FindForEvent(ctx context.Context, companyID, entityType, eventType string, stageKey *string) ([]*NotificationMapping, error) {
	query := `
		SELECT id, company_id, entity_type, event_type, stage_key, priority,
		       recipient_resolvers, channels, conditions,
		       exclude_action_performer, custom_recipients, is_active,
		       created_at, updated_at
		FROM notification_mappings
		WHERE is_active = TRUE
		  AND event_type = $3
		  AND company_id IN ($1, '*')
		  AND entity_type IN ($2, '*')
		  AND (stage_key IS NULL OR stage_key = $4)
		ORDER BY (company_id = '*') ASC, priority ASC, created_at ASC
	`

	var stage string
	if stageKey != nil {
		stage = *stageKey
	}

	rows, err := r.db.Query(ctx, query, companyID, entityType, eventType, stage)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to load notification mappings")
	}
	defer rows.Close()

	var mappings []*NotificationMapping
	for rows.Next() {
		m, err := r.scanMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

func (r *NotificationMappingRepository) scanMapping(rows pgx.Rows) (*NotificationMapping, error) {
	m := &NotificationMapping{}
	var channelsJSON, conditionsJSON, customJSON []byte

	err := rows.Scan(
		&m.ID,
		&m.CompanyID,
		&m.EntityType,
		&m.EventType,
		&m.StageKey,
		&m.Priority,
		&m.RecipientResolvers,
		&channelsJSON,
		&conditionsJSON,
		&m.ExcludeActionPerformer,
		&customJSON,
		&m.IsActive,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan notification mapping")
	}

	if len(channelsJSON) > 0 {
		if err := json.Unmarshal(channelsJSON, &m.Channels); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to unmarshal mapping channels")
		}
	}
	if len(conditionsJSON) > 0 {
		if err := json.Unmarshal(conditionsJSON, &m.Conditions); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to unmarshal mapping conditions")
		}
	}
	if len(customJSON) > 0 {
		if err := json.Unmarshal(customJSON, &m.CustomRecipients); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to unmarshal custom recipients")
		}
	}
	return m, nil
}
