package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event names emitted by the snapshot and rollback services.
const (
	WorkflowProtected       = "workflow.protected"
	WorkflowUnprotected     = "workflow.unprotected"
	WorkflowSnapshotCreated = "workflow.snapshot_created"
	WorkflowRolledBack      = "workflow.rolled_back"
	WorkflowStale           = "workflow.stale"
)

// Event is the envelope published to the notification transport
type Event struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	OwnerID   string          `json:"ownerId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEvent creates an event envelope with a serialized payload
func NewEvent(name, ownerID string, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:        uuid.New().String(),
		Name:      name,
		OwnerID:   ownerID,
		Timestamp: time.Now(),
		Payload:   data,
	}, nil
}

// Dispatcher delivers notification events. Delivery is best-effort; failures
// are the dispatcher's concern, not the caller's.
type Dispatcher interface {
	Notify(ctx context.Context, name string, payload interface{}, ownerID string)
}

// SnapshotCreatedPayload describes a newly appended version
type SnapshotCreatedPayload struct {
	WorkflowID string `json:"workflowId"`
	VersionID  string `json:"versionId"`
	VersionNo  int    `json:"versionNo"`
	Kind       string `json:"kind"`
	Checksum   string `json:"checksum"`
}

// RolledBackPayload describes a completed rollback
type RolledBackPayload struct {
	WorkflowID      string `json:"workflowId"`
	TargetVersionID string `json:"targetVersionId"`
	Mode            string `json:"mode"`
	NewVersionID    string `json:"newVersionId"`
	NewVersionNo    int    `json:"newVersionNo"`
}

// StalePayload describes a workflow whose remote entity vanished
type StalePayload struct {
	WorkflowID string    `json:"workflowId"`
	RemoteID   string    `json:"remoteId"`
	StaleSince time.Time `json:"staleSince"`
}

// ProtectedPayload describes a workflow placed under protection
type ProtectedPayload struct {
	WorkflowID string `json:"workflowId"`
	RemoteID   string `json:"remoteId"`
	Name       string `json:"name"`
}
