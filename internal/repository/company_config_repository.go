package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/database"
)

// CompanyConfigRepository reads and writes per-company notification settings.
// Reads go through the notification package's TTL cache; every write here
// must be followed by a cache invalidation for the company.
type CompanyConfigRepository struct {
	db *database.DB
}

// NewCompanyConfigRepository creates a new CompanyConfigRepository.
func NewCompanyConfigRepository(db *database.DB) *CompanyConfigRepository {
	return &CompanyConfigRepository{db: db}
}

// GetByCompany returns the company's notification configuration, or a
// default-enabled configuration when none has been saved yet.
func (r *CompanyConfigRepository) GetByCompany(ctx context.Context, companyID string) (*CompanyNotificationConfig, error) {
	query := `
		SELECT company_id, notifications_enabled, event_overrides, branding,
		       cc_emails, bcc_emails, quiet_hours, updated_at
		FROM company_notification_configs
		WHERE company_id = $1
	`

	cfg := &CompanyNotificationConfig{}
	var overridesJSON, brandingJSON, quietJSON []byte

	err := r.db.QueryRow(ctx, query, companyID).Scan(
		&cfg.CompanyID,
		&cfg.NotificationsEnabled,
		&overridesJSON,
		&brandingJSON,
		&cfg.CCEmails,
		&cfg.BCCEmails,
		&quietJSON,
		&cfg.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return &CompanyNotificationConfig{CompanyID: companyID, NotificationsEnabled: true}, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to load company notification config")
	}

	if len(overridesJSON) > 0 {
		if err := json.Unmarshal(overridesJSON, &cfg.EventOverrides); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to unmarshal event overrides")
		}
	}
	if len(brandingJSON) > 0 {
		if err := json.Unmarshal(brandingJSON, &cfg.Branding); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to unmarshal branding")
		}
	}
	if len(quietJSON) > 0 {
		if err := json.Unmarshal(quietJSON, &cfg.QuietHours); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to unmarshal quiet hours")
		}
	}
	return cfg, nil
}

// Upsert saves the configuration. Callers must invalidate the cache entry
// for this company afterwards.
func (r *CompanyConfigRepository) Upsert(ctx context.Context, cfg *CompanyNotificationConfig) error {
	overridesJSON, err := json.Marshal(cfg.EventOverrides)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to marshal event overrides")
	}
	brandingJSON, err := json.Marshal(cfg.Branding)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to marshal branding")
	}
	var quietJSON []byte
	if cfg.QuietHours != nil {
		quietJSON, err = json.Marshal(cfg.QuietHours)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeInternal, "failed to marshal quiet hours")
		}
	}

	query := `
		INSERT INTO company_notification_configs
		    (company_id, notifications_enabled, event_overrides, branding,
		     cc_emails, bcc_emails, quiet_hours)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (company_id) DO UPDATE
		SET notifications_enabled = EXCLUDED.notifications_enabled,
		    event_overrides       = EXCLUDED.event_overrides,
		    branding              = EXCLUDED.branding,
		    cc_emails             = EXCLUDED.cc_emails,
		    bcc_emails            = EXCLUDED.bcc_emails,
		    quiet_hours           = EXCLUDED.quiet_hours,
		    updated_at            = NOW()
		RETURNING updated_at
	`

	return r.db.QueryRow(ctx, query,
		cfg.CompanyID,
		cfg.NotificationsEnabled,
		overridesJSON,
		brandingJSON,
		cfg.CCEmails,
		cfg.BCCEmails,
		quietJSON,
	).Scan(&cfg.UpdatedAt)
}
