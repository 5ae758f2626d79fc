package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/flowvault/flowvault/internal/platform/logger"
	"github.com/flowvault/flowvault/internal/remote"
	"github.com/flowvault/flowvault/internal/workflow/adapters/http/dto"
	"github.com/flowvault/flowvault/internal/workflow/app/service"
	"github.com/flowvault/flowvault/internal/workflow/domain/model"
)

// WorkflowHandler handles HTTP requests for protected workflows
type WorkflowHandler struct {
	workflows *service.WorkflowService
	snapshots *service.SnapshotService
	rollbacks *service.RollbackService
	logger    logger.Logger
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(
	workflows *service.WorkflowService,
	snapshots *service.SnapshotService,
	rollbacks *service.RollbackService,
	log logger.Logger,
) *WorkflowHandler {
	return &WorkflowHandler{
		workflows: workflows,
		snapshots: snapshots,
		rollbacks: rollbacks,
		logger:    log,
	}
}

// RegisterRoutes registers workflow routes
func (h *WorkflowHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/workflows", h.ProtectWorkflow).Methods("POST")
	router.HandleFunc("/workflows", h.ListWorkflows).Methods("GET")
	router.HandleFunc("/workflows/{id}", h.GetWorkflow).Methods("GET")
	router.HandleFunc("/workflows/{id}", h.UnprotectWorkflow).Methods("DELETE")
	router.HandleFunc("/workflows/{id}/pause", h.PauseWorkflow).Methods("POST")
	router.HandleFunc("/workflows/{id}/resume", h.ResumeWorkflow).Methods("POST")
	router.HandleFunc("/workflows/{id}/reconcile", h.ReconcileWorkflow).Methods("POST")
	router.HandleFunc("/workflows/{id}/versions", h.ListVersions).Methods("GET")
	router.HandleFunc("/workflows/{id}/versions/{versionId}", h.GetVersion).Methods("GET")
	router.HandleFunc("/workflows/{id}/rollback", h.RollbackWorkflow).Methods("POST")
}

// ProtectWorkflow places a remote workflow under snapshot protection
func (h *WorkflowHandler) ProtectWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req dto.ProtectWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return
	}
	if err := req.Validate(); err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, err.Error(), "VALIDATION_FAILED")
		return
	}

	ownerID, actorID := callerIdentity(r)
	if ownerID == "" {
		h.respondError(w, http.StatusUnauthorized, "owner identity missing", "UNAUTHORIZED")
		return
	}

	workflow, err := h.workflows.Protect(ctx, &service.ProtectCommand{
		OwnerID:      ownerID,
		RemoteID:     req.RemoteID,
		Name:         req.Name,
		SyncInterval: time.Duration(req.SyncIntervalSeconds) * time.Second,
		ActorID:      actorID,
	})
	if err != nil {
		h.respondServiceError(w, r, err, "failed to protect workflow")
		return
	}

	h.respondJSON(w, http.StatusCreated, h.workflowToDTO(workflow))
}

// GetWorkflow returns a protected workflow by ID
func (h *WorkflowHandler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	workflow, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, h.workflowToDTO(workflow))
}

// ListWorkflows lists the caller's protected workflows
func (h *WorkflowHandler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ownerID, _ := callerIdentity(r)
	if ownerID == "" {
		h.respondError(w, http.StatusUnauthorized, "owner identity missing", "UNAUTHORIZED")
		return
	}

	query := r.URL.Query()
	offset, _ := strconv.Atoi(query.Get("offset"))
	limit, _ := strconv.Atoi(query.Get("limit"))

	workflows, err := h.workflows.List(ctx, ownerID, offset, limit)
	if err != nil {
		h.logger.Error("failed to list workflows", "error", err, "owner_id", ownerID)
		h.respondError(w, http.StatusInternalServerError, "failed to list workflows", "INTERNAL_ERROR")
		return
	}

	items := make([]dto.WorkflowResponse, len(workflows))
	for i, wf := range workflows {
		items[i] = h.workflowToDTO(wf)
	}

	h.respondJSON(w, http.StatusOK, dto.ListWorkflowsResponse{
		Items: items,
		Pagination: dto.Pagination{
			Offset: offset,
			Limit:  limit,
			Count:  len(items),
		},
	})
}

// UnprotectWorkflow removes a workflow and its version history
func (h *WorkflowHandler) UnprotectWorkflow(w http.ResponseWriter, r *http.Request) {
	workflow, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	_, actorID := callerIdentity(r)
	if err := h.workflows.Unprotect(r.Context(), workflow.ID(), actorID); err != nil {
		h.respondServiceError(w, r, err, "failed to unprotect workflow")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PauseWorkflow suspends scheduled snapshots
func (h *WorkflowHandler) PauseWorkflow(w http.ResponseWriter, r *http.Request) {
	workflow, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	_, actorID := callerIdentity(r)
	updated, err := h.workflows.Pause(r.Context(), workflow.ID(), actorID)
	if err != nil {
		h.respondServiceError(w, r, err, "failed to pause workflow")
		return
	}
	h.respondJSON(w, http.StatusOK, h.workflowToDTO(updated))
}

// ResumeWorkflow re-enables scheduled snapshots
func (h *WorkflowHandler) ResumeWorkflow(w http.ResponseWriter, r *http.Request) {
	workflow, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	_, actorID := callerIdentity(r)
	updated, err := h.workflows.Resume(r.Context(), workflow.ID(), actorID)
	if err != nil {
		h.respondServiceError(w, r, err, "failed to resume workflow")
		return
	}
	h.respondJSON(w, http.StatusOK, h.workflowToDTO(updated))
}

// ReconcileWorkflow takes an on-demand snapshot
func (h *WorkflowHandler) ReconcileWorkflow(w http.ResponseWriter, r *http.Request) {
	workflow, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	_, actorID := callerIdentity(r)
	version, err := h.snapshots.Reconcile(r.Context(), workflow.ID(), service.TriggerManual, actorID)
	if err != nil {
		h.respondServiceError(w, r, err, "failed to reconcile workflow")
		return
	}

	resp := dto.ReconcileResponse{Changed: version != nil}
	if version != nil {
		v := h.versionToDTO(version)
		resp.Version = &v
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// ListVersions returns a workflow's version history, newest first
func (h *WorkflowHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	workflow, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	versions, err := h.workflows.History(r.Context(), workflow.ID(), limit)
	if err != nil {
		h.respondServiceError(w, r, err, "failed to list versions")
		return
	}

	items := make([]dto.VersionResponse, len(versions))
	for i, v := range versions {
		items[i] = h.versionToDTO(v)
	}
	h.respondJSON(w, http.StatusOK, dto.ListVersionsResponse{Items: items, Count: len(items)})
}

// GetVersion returns a single version including its payload
func (h *WorkflowHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	workflow, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	versionID := model.VersionID(mux.Vars(r)["versionId"])
	if err := versionID.Validate(); err != nil {
		h.respondError(w, http.StatusNotFound, "version not found", "NOT_FOUND")
		return
	}

	version, err := h.workflows.GetVersion(r.Context(), workflow.ID(), versionID)
	if err != nil {
		h.respondServiceError(w, r, err, "failed to load version")
		return
	}

	h.respondJSON(w, http.StatusOK, dto.VersionDetailResponse{
		VersionResponse: h.versionToDTO(version),
		Payload:         version.Payload,
	})
}

// RollbackWorkflow restores a historical version upstream
func (h *WorkflowHandler) RollbackWorkflow(w http.ResponseWriter, r *http.Request) {
	workflow, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	var req dto.RollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return
	}
	if err := req.Validate(); err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, err.Error(), "VALIDATION_FAILED")
		return
	}

	versionID := model.VersionID(req.VersionID)
	if err := versionID.Validate(); err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "versionId must be a UUID", "VALIDATION_FAILED")
		return
	}

	_, actorID := callerIdentity(r)
	version, err := h.rollbacks.Rollback(
		r.Context(),
		workflow.ID(),
		versionID,
		service.RollbackMode(req.Mode),
		actorID,
		req.Note,
	)
	if err != nil {
		h.respondServiceError(w, r, err, "failed to roll back workflow")
		return
	}

	h.respondJSON(w, http.StatusCreated, h.versionToDTO(version))
}

// loadOwned resolves the path workflow and checks it belongs to the caller.
// Foreign workflows are indistinguishable from missing ones.
func (h *WorkflowHandler) loadOwned(w http.ResponseWriter, r *http.Request) (*model.Workflow, bool) {
	ownerID, _ := callerIdentity(r)
	if ownerID == "" {
		h.respondError(w, http.StatusUnauthorized, "owner identity missing", "UNAUTHORIZED")
		return nil, false
	}

	// Malformed IDs cannot name a workflow; reject them before they reach
	// the store, where the uuid cast would surface as a driver error.
	workflowID := model.WorkflowID(mux.Vars(r)["id"])
	if err := workflowID.Validate(); err != nil {
		h.respondError(w, http.StatusNotFound, "workflow not found", "NOT_FOUND")
		return nil, false
	}

	workflow, err := h.workflows.Get(r.Context(), workflowID)
	if err != nil {
		h.respondServiceError(w, r, err, "failed to load workflow")
		return nil, false
	}
	if workflow.OwnerID() != ownerID {
		h.respondError(w, http.StatusNotFound, "workflow not found", "NOT_FOUND")
		return nil, false
	}
	return workflow, true
}

// respondServiceError maps service and remote errors onto HTTP statuses
func (h *WorkflowHandler) respondServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrWorkflowNotFound):
		h.respondError(w, http.StatusNotFound, "workflow not found", "NOT_FOUND")

	case errors.Is(err, service.ErrVersionNotFound):
		h.respondError(w, http.StatusNotFound, "version not found", "NOT_FOUND")

	case errors.Is(err, service.ErrQuotaExceeded):
		h.respondError(w, http.StatusPaymentRequired, "workflow limit reached for this plan", "QUOTA_EXCEEDED")

	case service.IsValidationError(err):
		h.respondError(w, http.StatusUnprocessableEntity, err.Error(), "VALIDATION_FAILED")

	case service.IsRollbackError(err):
		h.respondError(w, http.StatusBadGateway, err.Error(), "ROLLBACK_FAILED")

	case remote.IsAuthExpired(err):
		h.respondError(w, http.StatusBadGateway, "platform credential rejected", "AUTH_EXPIRED")

	case remote.IsNotFound(err):
		h.respondError(w, http.StatusConflict, "workflow no longer exists on the platform", "REMOTE_NOT_FOUND")

	case remote.IsUnavailable(err):
		h.respondError(w, http.StatusServiceUnavailable, "platform unreachable", "REMOTE_UNAVAILABLE")

	default:
		h.logger.Error(fallback, "error", err, "path", r.URL.Path)
		h.respondError(w, http.StatusInternalServerError, fallback, "INTERNAL_ERROR")
	}
}

// callerIdentity pulls the authenticated owner and actor set by the auth
// middleware, falling back to trusted proxy headers
func callerIdentity(r *http.Request) (ownerID, actorID string) {
	if v, ok := r.Context().Value("ownerID").(string); ok && v != "" {
		ownerID = v
	} else {
		ownerID = r.Header.Get("X-Owner-ID")
	}
	if v, ok := r.Context().Value("actorID").(string); ok && v != "" {
		actorID = v
	} else {
		actorID = r.Header.Get("X-Actor-ID")
	}
	if actorID == "" {
		actorID = ownerID
	}
	return ownerID, actorID
}

// Helper methods

func (h *WorkflowHandler) workflowToDTO(workflow *model.Workflow) dto.WorkflowResponse {
	return dto.WorkflowResponse{
		ID:                  workflow.ID().String(),
		RemoteID:            workflow.RemoteID(),
		Name:                workflow.Name(),
		Protected:           workflow.Protected(),
		SyncIntervalSeconds: int(workflow.SyncInterval().Seconds()),
		Stale:               workflow.Stale(),
		StaleSince:          workflow.StaleSince(),
		LastSyncedAt:        workflow.LastSyncedAt(),
		CreatedAt:           workflow.CreatedAt(),
		UpdatedAt:           workflow.UpdatedAt(),
	}
}

func (h *WorkflowHandler) versionToDTO(version *model.WorkflowVersion) dto.VersionResponse {
	return dto.VersionResponse{
		ID:         version.ID.String(),
		WorkflowID: version.WorkflowID.String(),
		VersionNo:  version.Number,
		Kind:       string(version.Kind),
		CreatedBy:  version.CreatedBy,
		Note:       version.Note,
		Checksum:   version.Checksum,
		CreatedAt:  version.CreatedAt,
	}
}

func (h *WorkflowHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *WorkflowHandler) respondError(w http.ResponseWriter, status int, message, code string) {
	h.respondJSON(w, status, dto.ErrorResponse{Error: message, Code: code})
}
