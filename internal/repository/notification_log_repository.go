package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/database"
)

// NotificationLogRepository writes one row per attempted recipient and backs
// the idempotency gate.
type NotificationLogRepository struct {
	db *database.DB
}

// NewNotificationLogRepository creates a new NotificationLogRepository.
func NewNotificationLogRepository(db *database.DB) *NotificationLogRepository {
	return &NotificationLogRepository{db: db}
}

// Append inserts one log row. Recipient emails are stored lowercased; the
// caller normalizes before insert so the dedupe lookup stays index-friendly.
func (r *NotificationLogRepository) Append(ctx context.Context, log *NotificationLog) error {
	var diagJSON []byte
	if log.Diagnostics != nil {
		var err error
		diagJSON, err = json.Marshal(log.Diagnostics)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeInternal, "failed to marshal log diagnostics")
		}
	}

	query := `
		INSERT INTO notification_logs
		    (event_id, company_id, recipient_email, recipient_role,
		     subject, status, provider_message_id, error_message,
		     business_key, sent_at, diagnostics)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7, $8,
		        $9, $10, $11)
		RETURNING id, created_at
	`

	return r.db.QueryRow(ctx, query,
		log.EventID,
		log.CompanyID,
		log.RecipientEmail,
		log.RecipientRole,
		log.Subject,
		log.Status,
		log.ProviderMessageID,
		log.ErrorMessage,
		log.BusinessKey,
		log.SentAt,
		diagJSON,
	).Scan(&log.ID, &log.CreatedAt)
}

// HasRecentSent reports whether a SENT log newer than cutoff already exists
// for the same (event, recipient, business key). Direct sends carry no event
// id; their rows store event_id as NULL and are keyed on recipient plus
// business key alone, so the predicates match NULL for an empty argument.
func (r *NotificationLogRepository) HasRecentSent(ctx context.Context, eventID, recipientEmail, businessKey string, cutoff time.Time) (bool, error) {
	query := `
		SELECT id
		FROM notification_logs
		WHERE (($1 = '' AND event_id IS NULL) OR event_id = $1)
		  AND recipient_email = $2
		  AND (($3 = '' AND business_key IS NULL) OR business_key = $3)
		  AND status = 'SENT'
		  AND created_at > $4
		LIMIT 1
	`

	var id string
	err := r.db.QueryRow(ctx, query, eventID, recipientEmail, businessKey, cutoff).Scan(&id)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.CodeInternal, "failed to check notification dedupe window")
	}
	return true, nil
}

// GetByEvent returns all log rows for one event, oldest first.
func (r *NotificationLogRepository) GetByEvent(ctx context.Context, eventID string) ([]*NotificationLog, error) {
	query := `
		SELECT id, event_id, company_id, recipient_email, recipient_role,
		       subject, status, provider_message_id, error_message,
		       business_key, sent_at, diagnostics, created_at
		FROM notification_logs
		WHERE event_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, eventID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to load notification logs")
	}
	defer rows.Close()

	var logs []*NotificationLog
	for rows.Next() {
		l := &NotificationLog{}
		var diagJSON []byte
		err := rows.Scan(
			&l.ID,
			&l.EventID,
			&l.CompanyID,
			&l.RecipientEmail,
			&l.RecipientRole,
			&l.Subject,
			&l.Status,
			&l.ProviderMessageID,
			&l.ErrorMessage,
			&l.BusinessKey,
			&l.SentAt,
			&diagJSON,
			&l.CreatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan notification log")
		}
		if len(diagJSON) > 0 {
			if err := json.Unmarshal(diagJSON, &l.Diagnostics); err != nil {
				return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to unmarshal log diagnostics")
			}
		}
		logs = append(logs, l)
	}
	return logs, nil
}
