package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/database"
)

// updateEntityWorkflowState performs the engine's single-row transition write
// shared by every entity store. The whole update is one atomic statement;
// the stage-keyed approver columns come from the store's fixed lookup table.
func updateEntityWorkflowState(
	ctx context.Context,
	db *database.DB,
	table string,
	stageColumns map[string][2]string,
	companyID, id string,
	upd WorkflowStateUpdate,
) error {
	sets := []string{
		"status = $3",
		"current_stage = $4",
		"workflow_config_id = $5",
		"workflow_config_version = $6",
		"updated_at = NOW()",
	}
	args := []any{id, companyID, upd.Status, upd.CurrentStage, upd.WorkflowConfigID, upd.WorkflowConfigVersion}

	if upd.StageActor != nil {
		if cols, ok := stageColumns[upd.StageActor.StageKey]; ok {
			args = append(args, upd.StageActor.ActorID)
			sets = append(sets, fmt.Sprintf("%s = $%d", cols[0], len(args)))
			args = append(args, upd.StageActor.At)
			sets = append(sets, fmt.Sprintf("%s = $%d", cols[1], len(args)))
		}
	}

	if len(upd.Extra) > 0 {
		extraJSON, err := json.Marshal(upd.Extra)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeInternal, "failed to marshal extra fields")
		}
		args = append(args, extraJSON)
		sets = append(sets, fmt.Sprintf("extra = COALESCE(extra, '{}'::jsonb) || $%d", len(args)))
	}

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE id = $1 AND company_id = $2 RETURNING id",
		table, strings.Join(sets, ", "),
	)

	var returned string
	err := db.QueryRow(ctx, query, args...).Scan(&returned)
	if err == pgx.ErrNoRows {
		return apperrors.Newf(apperrors.CodeEntityNotFound, "%s %q not found", strings.TrimSuffix(table, "s"), id)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeEntityUpdateFailed,
			fmt.Sprintf("failed to update workflow state on %s", table))
	}
	return nil
}
