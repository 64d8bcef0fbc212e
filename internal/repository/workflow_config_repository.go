package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/database"
)

// WorkflowConfigRepository reads workflow configurations. The engine never
// writes this table; configuration authoring is a separate surface.
type WorkflowConfigRepository struct {
	db *database.DB
}

// NewWorkflowConfigRepository creates a new WorkflowConfigRepository.
func NewWorkflowConfigRepository(db *database.DB) *WorkflowConfigRepository {
	return &WorkflowConfigRepository{db: db}
}

const workflowConfigColumns = `
	id, company_id, entity_type, version, is_active,
	stages, status_on_submission, status_on_approval, status_on_rejection,
	rejection_defaults, created_at, updated_at
`

// GetActive returns the active configuration for (company, entity type).
// Typed errors distinguish a missing configuration from an inactive one.
func (r *WorkflowConfigRepository) GetActive(ctx context.Context, companyID string, entityType EntityType) (*WorkflowConfiguration, error) {
	query := `
		SELECT ` + workflowConfigColumns + `
		FROM workflow_configurations
		WHERE company_id = $1 AND entity_type = $2
		ORDER BY is_active DESC, version DESC
		LIMIT 1
	`

	cfg, err := r.scanConfig(r.db.QueryRow(ctx, query, companyID, entityType))
	if err == pgx.ErrNoRows {
		return nil, apperrors.Newf(apperrors.CodeWorkflowNotFound,
			"no workflow configuration for company %s entity type %s", companyID, entityType)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to load workflow configuration")
	}
	if !cfg.IsActive {
		return nil, apperrors.Newf(apperrors.CodeWorkflowInactive,
			"workflow configuration for entity type %s is inactive", entityType)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GetByID returns any configuration version, active or not. Used to render
// historical state against the configuration an entity was submitted under.
func (r *WorkflowConfigRepository) GetByID(ctx context.Context, id string) (*WorkflowConfiguration, error) {
	query := `
		SELECT ` + workflowConfigColumns + `
		FROM workflow_configurations
		WHERE id = $1
	`

	cfg, err := r.scanConfig(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("workflow_configuration", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to load workflow configuration")
	}
	return cfg, nil
}

// validateConfig enforces the structural invariants the engine relies on:
// at least one stage, and stage orders unique within the configuration.
func validateConfig(cfg *WorkflowConfiguration) error {
	if len(cfg.Stages) == 0 {
		return apperrors.Newf(apperrors.CodeConfigInvalid,
			"workflow configuration %s has no stages", cfg.ID)
	}
	orders := make(map[int]string, len(cfg.Stages))
	for _, s := range cfg.Stages {
		if prev, dup := orders[s.Order]; dup {
			return apperrors.Newf(apperrors.CodeConfigInvalid,
				"workflow configuration %s: stages %s and %s share order %d", cfg.ID, prev, s.StageKey, s.Order)
		}
		orders[s.Order] = s.StageKey
	}
	return nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type configScanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowConfigRepository) scanConfig(row configScanner) (*WorkflowConfiguration, error) {
	cfg := &WorkflowConfiguration{}
	var stagesJSON, approvalJSON, rejectionJSON, defaultsJSON []byte

	err := row.Scan(
		&cfg.ID,
		&cfg.CompanyID,
		&cfg.EntityType,
		&cfg.Version,
		&cfg.IsActive,
		&stagesJSON,
		&cfg.StatusOnSubmission,
		&approvalJSON,
		&rejectionJSON,
		&defaultsJSON,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(stagesJSON, &cfg.Stages); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "failed to unmarshal workflow stages")
	}
	if len(approvalJSON) > 0 {
		if err := json.Unmarshal(approvalJSON, &cfg.StatusOnApproval); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "failed to unmarshal status_on_approval")
		}
	}
	if len(rejectionJSON) > 0 {
		if err := json.Unmarshal(rejectionJSON, &cfg.StatusOnRejection); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "failed to unmarshal status_on_rejection")
		}
	}
	if len(defaultsJSON) > 0 {
		if err := json.Unmarshal(defaultsJSON, &cfg.RejectionDefaults); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "failed to unmarshal rejection_defaults")
		}
	}
	return cfg, nil
}
