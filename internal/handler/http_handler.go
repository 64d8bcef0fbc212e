// Package handler is the thin HTTP adapter over the workflow services. It
// validates request shape, extracts the upstream-resolved actor identity and
// maps typed service errors onto HTTP status codes.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

// entityIDPattern constrains path identifiers; anything else is rejected
// before touching storage.
var entityIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// WorkflowHandler serves the approval workflow HTTP API.
type WorkflowHandler struct {
	engine  *service.WorkflowEngine
	uiRules *service.UIRulesService
	log     zerolog.Logger
}

// NewWorkflowHandler creates the handler.
func NewWorkflowHandler(engine *service.WorkflowEngine, uiRules *service.UIRulesService, log zerolog.Logger) *WorkflowHandler {
	return &WorkflowHandler{engine: engine, uiRules: uiRules, log: log}
}

// Routes builds the router. Actor identity arrives in headers set by the
// upstream gateway; this service trusts them.
func (h *WorkflowHandler) Routes() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1/workflows/{entityType}/{entityId}").Subrouter()

	api.HandleFunc("/initialize", h.Initialize).Methods(http.MethodPost)
	api.HandleFunc("/approve", h.Approve).Methods(http.MethodPost)
	api.HandleFunc("/reject", h.Reject).Methods(http.MethodPost)
	api.HandleFunc("/state", h.State).Methods(http.MethodGet)
	api.HandleFunc("/ui-rules", h.UIRules).Methods(http.MethodGet)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	return r
}

// ── endpoints ─────────────────────────────────────────────────────────────────

// Initialize puts an entity onto its workflow's entry stage.
func (h *WorkflowHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	req, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	res, err := h.engine.InitializeWorkflow(r.Context(), req.companyID, req.entityType, req.entityID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// Approve advances an entity one stage.
func (h *WorkflowHandler) Approve(w http.ResponseWriter, r *http.Request) {
	req, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	res, err := h.engine.ApproveEntity(r.Context(), service.ApproveInput{
		CompanyID:  req.companyID,
		EntityType: req.entityType,
		EntityID:   req.entityID,
		Actor:      req.actor,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// rejectRequest is the reject endpoint's body.
type rejectRequest struct {
	ReasonCode string `json:"reason_code"`
	Remarks    string `json:"remarks"`
}

// Reject rejects an entity at its current stage.
func (h *WorkflowHandler) Reject(w http.ResponseWriter, r *http.Request) {
	req, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	var body rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, apperrors.InvalidInput("body", "invalid request body"))
		return
	}
	if body.ReasonCode == "" {
		h.writeError(w, apperrors.InvalidInput("reason_code", "a rejection reason code is required"))
		return
	}

	res, err := h.engine.RejectEntity(r.Context(), service.RejectInput{
		CompanyID:  req.companyID,
		EntityType: req.entityType,
		EntityID:   req.entityID,
		Actor:      req.actor,
		ReasonCode: body.ReasonCode,
		Remarks:    body.Remarks,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// State returns the read-only workflow state snapshot.
func (h *WorkflowHandler) State(w http.ResponseWriter, r *http.Request) {
	req, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	state, err := h.engine.GetWorkflowState(r.Context(), req.companyID, req.entityType, req.entityID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, state)
}

// UIRules returns the per-user permission projection.
func (h *WorkflowHandler) UIRules(w http.ResponseWriter, r *http.Request) {
	req, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	rules, err := h.uiRules.Project(r.Context(), req.companyID, req.entityType, req.entityID, req.actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rules)
}

// ── request parsing ───────────────────────────────────────────────────────────

type requestScope struct {
	companyID  string
	entityType repository.EntityType
	entityID   string
	actor      service.Actor
}

// requestScope validates the common path and identity inputs. On failure it
// writes the error response and returns ok=false.
func (h *WorkflowHandler) requestScope(w http.ResponseWriter, r *http.Request) (requestScope, bool) {
	vars := mux.Vars(r)

	entityType := repository.EntityType(vars["entityType"])
	if !knownEntityType(entityType) {
		h.writeError(w, apperrors.InvalidInput("entityType", "unsupported entity type"))
		return requestScope{}, false
	}

	entityID := vars["entityId"]
	if !entityIDPattern.MatchString(entityID) {
		h.writeError(w, apperrors.InvalidInput("entityId", "malformed entity identifier"))
		return requestScope{}, false
	}

	companyID := r.Header.Get("X-Company-Id")
	if companyID == "" {
		h.writeError(w, apperrors.InvalidInput("companyId", "missing company context"))
		return requestScope{}, false
	}

	return requestScope{
		companyID:  companyID,
		entityType: entityType,
		entityID:   entityID,
		actor: service.Actor{
			ID:    r.Header.Get("X-User-Id"),
			Name:  r.Header.Get("X-User-Name"),
			Email: r.Header.Get("X-User-Email"),
			Role:  r.Header.Get("X-User-Role"),
		},
	}, true
}

func knownEntityType(t repository.EntityType) bool {
	for _, k := range repository.KnownEntityTypes {
		if k == t {
			return true
		}
	}
	return false
}

// ── responses ─────────────────────────────────────────────────────────────────

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *WorkflowHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn().Err(err).Msg("failed to encode response")
	}
}

// writeError maps a typed error onto the transport status table. Internal
// details never leak; the client sees only the code and message.
func (h *WorkflowHandler) writeError(w http.ResponseWriter, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		h.log.Error().Err(err).Msg("request failed")
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{
			Code:    string(apperrors.CodeInternal),
			Message: "internal error",
		})
		return
	}

	status := statusForCode(appErr.Code)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("code", string(appErr.Code)).Msg("request failed")
	}
	h.writeJSON(w, status, errorResponse{Code: string(appErr.Code), Message: appErr.Message})
}

// statusForCode is the fixed error-code → HTTP status table.
func statusForCode(code apperrors.Code) int {
	switch code {
	case apperrors.CodeEntityNotFound, apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeRoleNotAllowed:
		return http.StatusForbidden
	case apperrors.CodeValidationFailed:
		return http.StatusBadRequest
	case apperrors.CodeWorkflowNotFound,
		apperrors.CodeWorkflowInactive,
		apperrors.CodeConfigInvalid,
		apperrors.CodeNoCurrentStage,
		apperrors.CodeStageNotFound,
		apperrors.CodeApproveNotAllowed,
		apperrors.CodeRejectNotAllowed,
		apperrors.CodeAlreadyProcessed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
