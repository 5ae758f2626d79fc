package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Value Objects
type WorkflowID string

func NewWorkflowID() WorkflowID {
	return WorkflowID(uuid.New().String())
}

func (id WorkflowID) String() string {
	return string(id)
}

func (id WorkflowID) Validate() error {
	if id == "" {
		return errors.New("workflow ID cannot be empty")
	}
	_, err := uuid.Parse(string(id))
	return err
}

// Workflow aggregate root. Represents one remote automation tracked for
// snapshot protection; the version history itself lives in WorkflowVersion.
type Workflow struct {
	id           WorkflowID
	ownerID      string
	remoteID     string
	name         string
	protected    bool
	syncInterval time.Duration
	lastSyncedAt *time.Time
	staleSince   *time.Time
	createdAt    time.Time
	updatedAt    time.Time
}

// NewWorkflow places a remote workflow under protection
func NewWorkflow(ownerID, remoteID, name string) (*Workflow, error) {
	if ownerID == "" {
		return nil, errors.New("owner ID is required")
	}
	if remoteID == "" {
		return nil, errors.New("remote workflow ID is required")
	}
	if name == "" {
		return nil, errors.New("workflow name is required")
	}

	now := time.Now()
	return &Workflow{
		id:        NewWorkflowID(),
		ownerID:   ownerID,
		remoteID:  remoteID,
		name:      name,
		protected: true,
		createdAt: now,
		updatedAt: now,
	}, nil
}

func (w *Workflow) ID() WorkflowID {
	return w.id
}

func (w *Workflow) OwnerID() string {
	return w.ownerID
}

func (w *Workflow) RemoteID() string {
	return w.remoteID
}

func (w *Workflow) Name() string {
	return w.name
}

func (w *Workflow) Protected() bool {
	return w.protected
}

func (w *Workflow) SyncInterval() time.Duration {
	return w.syncInterval
}

func (w *Workflow) LastSyncedAt() *time.Time {
	return w.lastSyncedAt
}

func (w *Workflow) StaleSince() *time.Time {
	return w.staleSince
}

func (w *Workflow) CreatedAt() time.Time {
	return w.createdAt
}

func (w *Workflow) UpdatedAt() time.Time {
	return w.updatedAt
}

// Rename changes the display name
func (w *Workflow) Rename(name string) error {
	if name == "" {
		return errors.New("workflow name is required")
	}
	w.name = name
	w.updatedAt = time.Now()
	return nil
}

// SetSyncInterval sets the minimum gap between scheduled snapshots.
// Zero means the cycle default applies.
func (w *Workflow) SetSyncInterval(interval time.Duration) error {
	if interval < 0 {
		return errors.New("sync interval cannot be negative")
	}
	w.syncInterval = interval
	w.updatedAt = time.Now()
	return nil
}

// Pause suspends scheduled snapshots without touching history
func (w *Workflow) Pause() error {
	if !w.protected {
		return errors.New("workflow protection is already paused")
	}
	w.protected = false
	w.updatedAt = time.Now()
	return nil
}

// Resume re-enables scheduled snapshots
func (w *Workflow) Resume() error {
	if w.protected {
		return errors.New("workflow protection is already active")
	}
	w.protected = true
	w.updatedAt = time.Now()
	return nil
}

// MarkSynced records a successful reconciliation and clears staleness
func (w *Workflow) MarkSynced(at time.Time) {
	t := at
	w.lastSyncedAt = &t
	w.staleSince = nil
	w.updatedAt = time.Now()
}

// MarkStale flags that the remote entity vanished upstream. Protection stays
// on so history is preserved; the flag clears on the next successful fetch.
func (w *Workflow) MarkStale(at time.Time) bool {
	if w.staleSince != nil {
		return false
	}
	t := at
	w.staleSince = &t
	w.updatedAt = time.Now()
	return true
}

// Stale reports whether the remote entity is currently missing upstream
func (w *Workflow) Stale() bool {
	return w.staleSince != nil
}

// DueFor reports whether a scheduled snapshot should run at the given time,
// honoring the per-workflow interval as a minimum gap.
func (w *Workflow) DueFor(now time.Time) bool {
	if !w.protected {
		return false
	}
	if w.syncInterval == 0 || w.lastSyncedAt == nil {
		return true
	}
	return now.Sub(*w.lastSyncedAt) >= w.syncInterval
}

// ReconstructWorkflow rebuilds a workflow from persisted state
func ReconstructWorkflow(
	id WorkflowID,
	ownerID string,
	remoteID string,
	name string,
	protected bool,
	syncInterval time.Duration,
	lastSyncedAt *time.Time,
	staleSince *time.Time,
	createdAt time.Time,
	updatedAt time.Time,
) *Workflow {
	return &Workflow{
		id:           id,
		ownerID:      ownerID,
		remoteID:     remoteID,
		name:         name,
		protected:    protected,
		syncInterval: syncInterval,
		lastSyncedAt: lastSyncedAt,
		staleSince:   staleSince,
		createdAt:    createdAt,
		updatedAt:    updatedAt,
	}
}
