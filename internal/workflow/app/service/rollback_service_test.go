package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowvault/flowvault/internal/platform/logger"
	"github.com/flowvault/flowvault/internal/shared/events"
	"github.com/flowvault/flowvault/internal/workflow/domain/model"
)

type rollbackFixture struct {
	service     *RollbackService
	snapshots   *SnapshotService
	workflows   *fakeWorkflowRepo
	versions    *fakeVersionRepo
	gateway     *fakeGateway
	credentials *fakeCredentials
	auditSink   *fakeAuditSink
	dispatcher  *fakeDispatcher
	workflow    *model.Workflow
	target      *model.WorkflowVersion
}

// newRollbackFixture seeds two versions so the older one can be restored
func newRollbackFixture(t *testing.T) *rollbackFixture {
	t.Helper()

	workflow, err := model.NewWorkflow("owner-1", "remote-1", "Order sync")
	require.NoError(t, err)

	f := &rollbackFixture{
		workflows:   newFakeWorkflowRepo(workflow),
		versions:    newFakeVersionRepo(),
		gateway:     newFakeGateway(),
		credentials: &fakeCredentials{keys: []string{"key-1"}},
		auditSink:   &fakeAuditSink{},
		dispatcher:  &fakeDispatcher{},
		workflow:    workflow,
	}

	f.snapshots = NewSnapshotService(
		f.workflows, f.versions, f.gateway, f.credentials, nil,
		f.auditSink, f.dispatcher, nil, nil, logger.NewNop(),
	)
	f.service = NewRollbackService(
		f.workflows, f.versions, f.gateway, f.credentials,
		f.auditSink, f.dispatcher, nil, nil, logger.NewNop(),
	)

	ctx := context.Background()
	f.gateway.definitions["remote-1"] = json.RawMessage(`{"name":"Order sync","rev":1}`)
	target, err := f.snapshots.Reconcile(ctx, workflow.ID(), TriggerScheduled, "")
	require.NoError(t, err)
	f.target = target

	f.gateway.definitions["remote-1"] = json.RawMessage(`{"name":"Order sync","rev":2}`)
	_, err = f.snapshots.Reconcile(ctx, workflow.ID(), TriggerScheduled, "")
	require.NoError(t, err)

	f.auditSink.entries = nil
	f.dispatcher.events = nil
	return f
}

func TestRollbackOverwrite(t *testing.T) {
	f := newRollbackFixture(t)

	version, err := f.service.Rollback(
		context.Background(), f.workflow.ID(), f.target.ID, ModeOverwrite, "operator-7", "revert bad deploy",
	)
	require.NoError(t, err)
	require.NotNil(t, version)

	assert.Equal(t, 3, version.Number, "rollback appends, never rewrites history")
	assert.Equal(t, model.SnapshotKindRollback, version.Kind)
	assert.Equal(t, "revert bad deploy", version.Note)
	assert.JSONEq(t, string(f.target.Payload), string(version.Payload))

	assert.Equal(t, 1, f.gateway.updateCalls)
	assert.Equal(t, "remote-1", f.gateway.lastUpdateID)
	assert.Zero(t, f.gateway.createCalls)

	assert.Equal(t, []string{"rollback_workflow"}, f.auditSink.actions())
	assert.Equal(t, []string{events.WorkflowRolledBack}, f.dispatcher.names())
}

func TestRollbackCreateInactive(t *testing.T) {
	f := newRollbackFixture(t)

	version, err := f.service.Rollback(
		context.Background(), f.workflow.ID(), f.target.ID, ModeCreateInactive, "operator-7", "",
	)
	require.NoError(t, err)
	require.NotNil(t, version)

	assert.Equal(t, 1, f.gateway.createCalls)
	assert.Zero(t, f.gateway.updateCalls, "create-new-inactive never touches the live workflow")
	assert.Equal(t, "Order sync (restored v1)", f.gateway.lastName)
	assert.Equal(t, model.SnapshotKindRollback, version.Kind)
	assert.NotEmpty(t, version.Note)
}

func TestRollbackRejectsUnknownMode(t *testing.T) {
	f := newRollbackFixture(t)

	_, err := f.service.Rollback(
		context.Background(), f.workflow.ID(), f.target.ID, RollbackMode("merge"), "operator-7", "",
	)
	assert.True(t, IsValidationError(err))
	assert.Zero(t, f.gateway.updateCalls)
}

func TestRollbackRejectsCrossWorkflowTarget(t *testing.T) {
	f := newRollbackFixture(t)

	other, err := model.NewWorkflow("owner-1", "remote-2", "Other")
	require.NoError(t, err)
	require.NoError(t, f.workflows.Save(context.Background(), other))

	_, err = f.service.Rollback(
		context.Background(), other.ID(), f.target.ID, ModeOverwrite, "operator-7", "",
	)
	assert.True(t, IsValidationError(err), "a version of another workflow must be rejected")
	assert.Zero(t, f.gateway.updateCalls)
	assert.Equal(t, 0, f.versions.count(other.ID()))
}

func TestRollbackUnknownVersion(t *testing.T) {
	f := newRollbackFixture(t)

	_, err := f.service.Rollback(
		context.Background(), f.workflow.ID(), model.NewVersionID(), ModeOverwrite, "operator-7", "",
	)
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestRollbackWriteFailureRecordsNothing(t *testing.T) {
	f := newRollbackFixture(t)
	f.gateway.writeErr = assert.AnError

	_, err := f.service.Rollback(
		context.Background(), f.workflow.ID(), f.target.ID, ModeOverwrite, "operator-7", "",
	)
	require.Error(t, err)
	assert.True(t, IsRollbackError(err))

	assert.Equal(t, 2, f.versions.count(f.workflow.ID()), "failed rollback must not append")
	assert.Empty(t, f.auditSink.actions())
	assert.Empty(t, f.dispatcher.names())
}

func TestRollbackRetriesAfterCredentialRefresh(t *testing.T) {
	f := newRollbackFixture(t)
	f.credentials.keys = []string{"stale-key", "fresh-key"}
	f.credentials.calls = 0
	f.gateway.failUntilKey = "fresh-key"

	version, err := f.service.Rollback(
		context.Background(), f.workflow.ID(), f.target.ID, ModeOverwrite, "operator-7", "",
	)
	require.NoError(t, err)
	require.NotNil(t, version)
	assert.Equal(t, 2, f.gateway.updateCalls)
}
