package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkflow(t *testing.T) {
	tests := []struct {
		name     string
		ownerID  string
		remoteID string
		wfName   string
		wantErr  bool
	}{
		{"valid", "owner-1", "remote-1", "Order sync", false},
		{"missing owner", "", "remote-1", "Order sync", true},
		{"missing remote id", "owner-1", "", "Order sync", true},
		{"missing name", "owner-1", "remote-1", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			workflow, err := NewWorkflow(tt.ownerID, tt.remoteID, tt.wfName)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, workflow.ID().Validate())
			assert.True(t, workflow.Protected())
			assert.False(t, workflow.Stale())
			assert.Nil(t, workflow.LastSyncedAt())
		})
	}
}

func TestWorkflowPauseResume(t *testing.T) {
	workflow, err := NewWorkflow("owner-1", "remote-1", "Order sync")
	require.NoError(t, err)

	require.NoError(t, workflow.Pause())
	assert.False(t, workflow.Protected())
	assert.Error(t, workflow.Pause(), "pausing twice must fail")

	require.NoError(t, workflow.Resume())
	assert.True(t, workflow.Protected())
	assert.Error(t, workflow.Resume(), "resuming twice must fail")
}

func TestWorkflowStaleLifecycle(t *testing.T) {
	workflow, err := NewWorkflow("owner-1", "remote-1", "Order sync")
	require.NoError(t, err)

	now := time.Now()
	assert.True(t, workflow.MarkStale(now), "first mark flags the workflow")
	assert.True(t, workflow.Stale())
	assert.False(t, workflow.MarkStale(now.Add(time.Hour)), "second mark is a no-op")

	first := workflow.StaleSince()
	require.NotNil(t, first)
	assert.Equal(t, now, *first, "stale timestamp keeps the first detection time")

	workflow.MarkSynced(now.Add(2 * time.Hour))
	assert.False(t, workflow.Stale(), "a successful sync clears staleness")
	require.NotNil(t, workflow.LastSyncedAt())
}

func TestWorkflowDueFor(t *testing.T) {
	workflow, err := NewWorkflow("owner-1", "remote-1", "Order sync")
	require.NoError(t, err)

	now := time.Now()
	assert.True(t, workflow.DueFor(now), "never-synced workflow is always due")

	require.NoError(t, workflow.SetSyncInterval(time.Hour))
	workflow.MarkSynced(now)
	assert.False(t, workflow.DueFor(now.Add(30*time.Minute)))
	assert.True(t, workflow.DueFor(now.Add(time.Hour)))

	require.NoError(t, workflow.SetSyncInterval(0))
	assert.True(t, workflow.DueFor(now), "zero interval means every cycle")

	require.NoError(t, workflow.Pause())
	assert.False(t, workflow.DueFor(now.Add(24*time.Hour)), "paused workflows are never due")
}

func TestWorkflowSetSyncInterval(t *testing.T) {
	workflow, err := NewWorkflow("owner-1", "remote-1", "Order sync")
	require.NoError(t, err)

	assert.Error(t, workflow.SetSyncInterval(-time.Second))
	require.NoError(t, workflow.SetSyncInterval(15*time.Minute))
	assert.Equal(t, 15*time.Minute, workflow.SyncInterval())
}

func TestNewWorkflowVersion(t *testing.T) {
	workflowID := NewWorkflowID()
	payload := json.RawMessage(`{"name":"wf"}`)

	version, err := NewWorkflowVersion(workflowID, SnapshotKindManual, "operator-7", payload, "abc123", "before release")
	require.NoError(t, err)
	assert.Equal(t, workflowID, version.WorkflowID)
	assert.Equal(t, 0, version.Number, "number is assigned by the store")
	assert.Equal(t, "operator-7", version.CreatedBy)
	assert.Equal(t, "before release", version.Note)

	_, err = NewWorkflowVersion(workflowID, SnapshotKind("bogus"), "operator-7", payload, "abc123", "")
	assert.Error(t, err)

	_, err = NewWorkflowVersion(workflowID, SnapshotKindManual, "", payload, "abc123", "")
	assert.Error(t, err)

	_, err = NewWorkflowVersion(workflowID, SnapshotKindManual, "operator-7", nil, "abc123", "")
	assert.Error(t, err)
}

func TestSnapshotKindValidate(t *testing.T) {
	assert.NoError(t, SnapshotKindAutomatic.Validate())
	assert.NoError(t, SnapshotKindManual.Validate())
	assert.NoError(t, SnapshotKindRollback.Validate())
	assert.Error(t, SnapshotKind("snapshot").Validate())
}

func TestVersionIDValidate(t *testing.T) {
	assert.NoError(t, NewVersionID().Validate())
	assert.Error(t, VersionID("").Validate())
	assert.Error(t, VersionID("not-a-uuid").Validate())
}
