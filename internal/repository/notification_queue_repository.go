package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/database"
)

// NotificationQueueRepository is the durable queue for quiet-hours deferrals.
// Claiming marks an item PROCESSING in the same statement that selects it, so
// concurrent sweep workers never double-claim.
type NotificationQueueRepository struct {
	db *database.DB
}

// NewNotificationQueueRepository creates a new NotificationQueueRepository.
func NewNotificationQueueRepository(db *database.DB) *NotificationQueueRepository {
	return &NotificationQueueRepository{db: db}
}

// Enqueue inserts a deferred notification.
func (r *NotificationQueueRepository) Enqueue(ctx context.Context, item *QueuedNotification) error {
	query := `
		INSERT INTO notification_queue
		    (event_id, company_id,
		     recipient_email, recipient_name, recipient_role,
		     subject, body, business_key,
		     status, scheduled_for, retry_count)
		VALUES ($1, $2,
		        $3, $4, $5,
		        $6, $7, $8,
		        'QUEUED', $9, 0)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		item.EventID,
		item.CompanyID,
		item.RecipientEmail,
		item.RecipientName,
		item.RecipientRole,
		item.Subject,
		item.Body,
		item.BusinessKey,
		item.ScheduledFor,
	).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to enqueue deferred notification")
	}
	item.Status = QueueStatusQueued
	return nil
}

// ClaimDue atomically claims up to limit due items, returning them already
// marked PROCESSING. Safe to call from multiple workers.
func (r *NotificationQueueRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*QueuedNotification, error) {
	query := `
		UPDATE notification_queue
		SET status = 'PROCESSING', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM notification_queue
			WHERE status = 'QUEUED' AND scheduled_for <= $1
			ORDER BY scheduled_for ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, event_id, company_id,
		          recipient_email, recipient_name, recipient_role,
		          subject, body, business_key,
		          status, scheduled_for, retry_count, last_error,
		          created_at, updated_at
	`

	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to claim due notifications")
	}
	defer rows.Close()

	var items []*QueuedNotification
	for rows.Next() {
		item, err := r.scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Requeue returns a claimed item to QUEUED with a new scheduled time,
// optionally counting the attempt against the retry budget.
func (r *NotificationQueueRepository) Requeue(ctx context.Context, id string, scheduledFor time.Time, countRetry bool, lastError *string) error {
	query := `
		UPDATE notification_queue
		SET status        = 'QUEUED',
		    scheduled_for = $2,
		    retry_count   = retry_count + $3,
		    last_error    = COALESCE($4, last_error),
		    updated_at    = NOW()
		WHERE id = $1 AND status = 'PROCESSING'
		RETURNING id
	`

	retryInc := 0
	if countRetry {
		retryInc = 1
	}

	var returned string
	err := r.db.QueryRow(ctx, query, id, scheduledFor, retryInc, lastError).Scan(&returned)
	if err == pgx.ErrNoRows {
		return apperrors.Newf(apperrors.CodeAlreadyProcessed, "queue item %s is not in PROCESSING", id)
	}
	return err
}

// MarkDone finalizes a claimed item as SENT or FAILED.
func (r *NotificationQueueRepository) MarkDone(ctx context.Context, id, status string, lastError *string) error {
	query := `
		UPDATE notification_queue
		SET status     = $2,
		    last_error = $3,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'PROCESSING'
		RETURNING id
	`

	var returned string
	err := r.db.QueryRow(ctx, query, id, status, lastError).Scan(&returned)
	if err == pgx.ErrNoRows {
		return apperrors.Newf(apperrors.CodeAlreadyProcessed, "queue item %s is not in PROCESSING", id)
	}
	return err
}

// ── scan helper ───────────────────────────────────────────────────────────────

func (r *NotificationQueueRepository) scanItem(rows pgx.Rows) (*QueuedNotification, error) {
	item := &QueuedNotification{}
	err := rows.Scan(
		&item.ID,
		&item.EventID,
		&item.CompanyID,
		&item.RecipientEmail,
		&item.RecipientName,
		&item.RecipientRole,
		&item.Subject,
		&item.Body,
		&item.BusinessKey,
		&item.Status,
		&item.ScheduledFor,
		&item.RetryCount,
		&item.LastError,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan queue item")
	}
	return item, nil
}
