package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// VersionID identifies a single workflow version
type VersionID string

func NewVersionID() VersionID {
	return VersionID(uuid.New().String())
}

func (id VersionID) String() string {
	return string(id)
}

func (id VersionID) Validate() error {
	if id == "" {
		return errors.New("version ID cannot be empty")
	}
	_, err := uuid.Parse(string(id))
	return err
}

// SnapshotKind classifies how a version came to exist. Closed set; anything
// rendering or filtering history switches over these exhaustively.
type SnapshotKind string

const (
	SnapshotKindAutomatic SnapshotKind = "automatic"
	SnapshotKindManual    SnapshotKind = "manual"
	SnapshotKindRollback  SnapshotKind = "rollback-result"
)

// Validate rejects kinds outside the closed set
func (k SnapshotKind) Validate() error {
	switch k {
	case SnapshotKindAutomatic, SnapshotKindManual, SnapshotKindRollback:
		return nil
	}
	return fmt.Errorf("unknown snapshot kind %q", string(k))
}

// SystemActor is the creator recorded for scheduler-triggered snapshots
const SystemActor = "system"

// WorkflowVersion is an immutable snapshot of a workflow's remote definition.
// Once written it is never mutated, only superseded by a higher number.
type WorkflowVersion struct {
	ID         VersionID
	WorkflowID WorkflowID
	Number     int
	Kind       SnapshotKind
	CreatedBy  string
	Note       string
	Checksum   string
	Payload    json.RawMessage
	CreatedAt  time.Time
}

// NewWorkflowVersion builds a version record ready for appending. The version
// number is assigned by the store at persistence time.
func NewWorkflowVersion(workflowID WorkflowID, kind SnapshotKind, createdBy string, payload json.RawMessage, checksum, note string) (*WorkflowVersion, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	if createdBy == "" {
		return nil, errors.New("version creator is required")
	}
	if len(payload) == 0 {
		return nil, errors.New("version payload is required")
	}

	return &WorkflowVersion{
		ID:         NewVersionID(),
		WorkflowID: workflowID,
		Kind:       kind,
		CreatedBy:  createdBy,
		Note:       note,
		Checksum:   checksum,
		Payload:    payload,
		CreatedAt:  time.Now(),
	}, nil
}
