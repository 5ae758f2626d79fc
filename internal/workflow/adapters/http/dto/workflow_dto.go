package dto

import (
	"encoding/json"
	"errors"
	"time"
)

// ProtectWorkflowRequest represents a request to place a remote workflow
// under snapshot protection
type ProtectWorkflowRequest struct {
	RemoteID            string `json:"remoteId"`
	Name                string `json:"name,omitempty"`
	SyncIntervalSeconds int    `json:"syncIntervalSeconds,omitempty"`
}

// Validate validates the protect workflow request
func (r *ProtectWorkflowRequest) Validate() error {
	if r.RemoteID == "" {
		return errors.New("remoteId is required")
	}
	if r.SyncIntervalSeconds < 0 {
		return errors.New("syncIntervalSeconds cannot be negative")
	}
	return nil
}

// RollbackRequest represents a request to restore a historical version
type RollbackRequest struct {
	VersionID string `json:"versionId"`
	Mode      string `json:"mode"`
	Note      string `json:"note,omitempty"`
}

// Validate validates the rollback request
func (r *RollbackRequest) Validate() error {
	if r.VersionID == "" {
		return errors.New("versionId is required")
	}
	if r.Mode == "" {
		return errors.New("mode is required")
	}
	return nil
}

// WorkflowResponse represents a protected workflow
type WorkflowResponse struct {
	ID                  string     `json:"id"`
	RemoteID            string     `json:"remoteId"`
	Name                string     `json:"name"`
	Protected           bool       `json:"protected"`
	SyncIntervalSeconds int        `json:"syncIntervalSeconds"`
	Stale               bool       `json:"stale"`
	StaleSince          *time.Time `json:"staleSince,omitempty"`
	LastSyncedAt        *time.Time `json:"lastSyncedAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// ListWorkflowsResponse represents a page of protected workflows
type ListWorkflowsResponse struct {
	Items      []WorkflowResponse `json:"items"`
	Pagination Pagination         `json:"pagination"`
}

// Pagination represents pagination information
type Pagination struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Count  int `json:"count"`
}

// VersionResponse represents one version history entry, without its payload
type VersionResponse struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflowId"`
	VersionNo  int       `json:"versionNo"`
	Kind       string    `json:"kind"`
	CreatedBy  string    `json:"createdBy"`
	Note       string    `json:"note,omitempty"`
	Checksum   string    `json:"checksum"`
	CreatedAt  time.Time `json:"createdAt"`
}

// VersionDetailResponse is a version including its full definition payload
type VersionDetailResponse struct {
	VersionResponse
	Payload json.RawMessage `json:"payload"`
}

// ListVersionsResponse represents a workflow's version history
type ListVersionsResponse struct {
	Items []VersionResponse `json:"items"`
	Count int               `json:"count"`
}

// ReconcileResponse represents the outcome of an on-demand snapshot
type ReconcileResponse struct {
	Changed bool             `json:"changed"`
	Version *VersionResponse `json:"version,omitempty"`
}

// ErrorResponse represents an error payload
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
