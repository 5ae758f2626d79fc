package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/flowvault/flowvault/internal/credential"
	"github.com/flowvault/flowvault/internal/platform/logger"
	"github.com/flowvault/flowvault/internal/workflow/adapters/http/dto"
)

// CredentialHandler manages the caller's platform API key
type CredentialHandler struct {
	store  *credential.Store
	logger logger.Logger
}

// NewCredentialHandler creates a new credential handler
func NewCredentialHandler(store *credential.Store, log logger.Logger) *CredentialHandler {
	return &CredentialHandler{store: store, logger: log}
}

// RegisterRoutes registers credential routes
func (h *CredentialHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/credentials", h.PutCredential).Methods("PUT")
	router.HandleFunc("/credentials", h.DeleteCredential).Methods("DELETE")
}

type putCredentialRequest struct {
	APIKey string `json:"apiKey"`
}

// PutCredential stores the caller's platform API key, encrypted at rest
func (h *CredentialHandler) PutCredential(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := callerIdentity(r)
	if ownerID == "" {
		h.respondError(w, http.StatusUnauthorized, "owner identity missing", "UNAUTHORIZED")
		return
	}

	var req putCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return
	}
	if req.APIKey == "" {
		h.respondError(w, http.StatusUnprocessableEntity, "apiKey is required", "VALIDATION_FAILED")
		return
	}

	if err := h.store.Put(r.Context(), ownerID, req.APIKey); err != nil {
		h.logger.Error("failed to store credential", "error", err, "owner_id", ownerID)
		h.respondError(w, http.StatusInternalServerError, "failed to store credential", "INTERNAL_ERROR")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteCredential removes the caller's platform API key
func (h *CredentialHandler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := callerIdentity(r)
	if ownerID == "" {
		h.respondError(w, http.StatusUnauthorized, "owner identity missing", "UNAUTHORIZED")
		return
	}

	if err := h.store.Delete(r.Context(), ownerID); err != nil {
		if errors.Is(err, credential.ErrNoCredential) {
			h.respondError(w, http.StatusNotFound, "no credential stored", "NOT_FOUND")
			return
		}
		h.logger.Error("failed to delete credential", "error", err, "owner_id", ownerID)
		h.respondError(w, http.StatusInternalServerError, "failed to delete credential", "INTERNAL_ERROR")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CredentialHandler) respondError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Error: message, Code: code})
}
