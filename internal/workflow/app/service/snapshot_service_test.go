package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	billing "github.com/flowvault/flowvault/internal/billing/app/service"
	billingmodel "github.com/flowvault/flowvault/internal/billing/domain/model"
	"github.com/flowvault/flowvault/internal/platform/logger"
	"github.com/flowvault/flowvault/internal/remote"
	"github.com/flowvault/flowvault/internal/shared/events"
	"github.com/flowvault/flowvault/internal/workflow/domain/model"
)

type snapshotFixture struct {
	service     *SnapshotService
	workflows   *fakeWorkflowRepo
	versions    *fakeVersionRepo
	gateway     *fakeGateway
	credentials *fakeCredentials
	auditSink   *fakeAuditSink
	dispatcher  *fakeDispatcher
	workflow    *model.Workflow
}

func newSnapshotFixture(t *testing.T) *snapshotFixture {
	t.Helper()

	workflow, err := model.NewWorkflow("owner-1", "remote-1", "Order sync")
	require.NoError(t, err)

	f := &snapshotFixture{
		workflows:   newFakeWorkflowRepo(workflow),
		versions:    newFakeVersionRepo(),
		gateway:     newFakeGateway(),
		credentials: &fakeCredentials{keys: []string{"key-1"}},
		auditSink:   &fakeAuditSink{},
		dispatcher:  &fakeDispatcher{},
		workflow:    workflow,
	}
	f.gateway.definitions["remote-1"] = json.RawMessage(`{"name":"Order sync","nodes":[{"id":"a"}]}`)

	f.service = NewSnapshotService(
		f.workflows, f.versions, f.gateway, f.credentials, nil,
		f.auditSink, f.dispatcher, nil, nil, logger.NewNop(),
	)
	return f
}

func TestReconcileBootstrapSnapshot(t *testing.T) {
	f := newSnapshotFixture(t)

	version, err := f.service.Reconcile(context.Background(), f.workflow.ID(), TriggerManual, "operator-7")
	require.NoError(t, err)
	require.NotNil(t, version)

	assert.Equal(t, 1, version.Number)
	assert.Equal(t, model.SnapshotKindManual, version.Kind)
	assert.Equal(t, "operator-7", version.CreatedBy)
	assert.NotEmpty(t, version.Checksum)
	assert.Equal(t, []string{"snapshot_workflow"}, f.auditSink.actions())
	assert.Equal(t, []string{events.WorkflowSnapshotCreated}, f.dispatcher.names())
	require.NotNil(t, f.workflow.LastSyncedAt())
}

func TestReconcileIdempotentWhenUnchanged(t *testing.T) {
	f := newSnapshotFixture(t)
	ctx := context.Background()

	first, err := f.service.Reconcile(ctx, f.workflow.ID(), TriggerScheduled, "")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, model.SnapshotKindAutomatic, first.Kind)
	assert.Equal(t, model.SystemActor, first.CreatedBy)

	second, err := f.service.Reconcile(ctx, f.workflow.ID(), TriggerScheduled, "")
	require.NoError(t, err)
	assert.Nil(t, second, "unchanged remote must not append")
	assert.Equal(t, 1, f.versions.count(f.workflow.ID()))
}

func TestReconcileKeyReorderIsNotAChange(t *testing.T) {
	f := newSnapshotFixture(t)
	ctx := context.Background()

	_, err := f.service.Reconcile(ctx, f.workflow.ID(), TriggerScheduled, "")
	require.NoError(t, err)

	f.gateway.definitions["remote-1"] = json.RawMessage(`{"nodes":[{"id":"a"}],"name":"Order sync"}`)

	version, err := f.service.Reconcile(ctx, f.workflow.ID(), TriggerScheduled, "")
	require.NoError(t, err)
	assert.Nil(t, version)
	assert.Equal(t, 1, f.versions.count(f.workflow.ID()))
}

func TestReconcileAppendsOnChange(t *testing.T) {
	f := newSnapshotFixture(t)
	ctx := context.Background()

	_, err := f.service.Reconcile(ctx, f.workflow.ID(), TriggerScheduled, "")
	require.NoError(t, err)

	f.gateway.definitions["remote-1"] = json.RawMessage(`{"name":"Order sync","nodes":[{"id":"a"},{"id":"b"}]}`)

	version, err := f.service.Reconcile(ctx, f.workflow.ID(), TriggerScheduled, "")
	require.NoError(t, err)
	require.NotNil(t, version)
	assert.Equal(t, 2, version.Number)
}

func TestReconcileSkipsPausedWorkflow(t *testing.T) {
	f := newSnapshotFixture(t)
	require.NoError(t, f.workflow.Pause())

	version, err := f.service.Reconcile(context.Background(), f.workflow.ID(), TriggerScheduled, "")
	require.NoError(t, err)
	assert.Nil(t, version)
	assert.Zero(t, f.gateway.fetchCalls, "paused workflows are not fetched")
}

func TestReconcileUnknownWorkflow(t *testing.T) {
	f := newSnapshotFixture(t)

	_, err := f.service.Reconcile(context.Background(), model.NewWorkflowID(), TriggerManual, "operator-7")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestReconcileRetriesOnceAfterCredentialRefresh(t *testing.T) {
	f := newSnapshotFixture(t)
	f.credentials.keys = []string{"stale-key", "fresh-key"}
	f.gateway.failUntilKey = "fresh-key"

	version, err := f.service.Reconcile(context.Background(), f.workflow.ID(), TriggerScheduled, "")
	require.NoError(t, err)
	require.NotNil(t, version)
	assert.Equal(t, 2, f.gateway.fetchCalls)
	assert.Equal(t, 2, f.credentials.calls)
}

func TestReconcileFlagsStaleOnVanishedRemote(t *testing.T) {
	f := newSnapshotFixture(t)
	delete(f.gateway.definitions, "remote-1")

	_, err := f.service.Reconcile(context.Background(), f.workflow.ID(), TriggerScheduled, "")
	require.Error(t, err)
	assert.True(t, remote.IsNotFound(err))

	assert.True(t, f.workflow.Stale())
	assert.True(t, f.workflow.Protected(), "staleness never drops protection")
	assert.Equal(t, []string{events.WorkflowStale}, f.dispatcher.names())

	// second failure must not re-notify
	_, err = f.service.Reconcile(context.Background(), f.workflow.ID(), TriggerScheduled, "")
	require.Error(t, err)
	assert.Equal(t, []string{events.WorkflowStale}, f.dispatcher.names())
}

func TestReconcileClearsStaleAfterRemoteReturns(t *testing.T) {
	f := newSnapshotFixture(t)
	ctx := context.Background()

	delete(f.gateway.definitions, "remote-1")
	_, err := f.service.Reconcile(ctx, f.workflow.ID(), TriggerScheduled, "")
	require.Error(t, err)
	require.True(t, f.workflow.Stale())

	f.gateway.definitions["remote-1"] = json.RawMessage(`{"name":"Order sync"}`)
	version, err := f.service.Reconcile(ctx, f.workflow.ID(), TriggerScheduled, "")
	require.NoError(t, err)
	require.NotNil(t, version)
	assert.False(t, f.workflow.Stale())
}

func TestReconcileAppendFailureLeavesNoSideEffects(t *testing.T) {
	f := newSnapshotFixture(t)
	f.versions.appendErr = assert.AnError

	_, err := f.service.Reconcile(context.Background(), f.workflow.ID(), TriggerManual, "operator-7")
	require.Error(t, err)
	assert.Empty(t, f.auditSink.actions())
	assert.Empty(t, f.dispatcher.names())
	assert.Equal(t, 0, f.versions.count(f.workflow.ID()))
}

func TestReconcileRecordsSnapshotOverage(t *testing.T) {
	f := newSnapshotFixture(t)
	overages := &stubOverageRepo{}
	quota := billing.NewQuotaGuard(
		billing.StaticPlanProvider{WorkflowLimit: billingmodel.Unlimited, SnapshotLimit: 1},
		overages, nil, logger.NewNop(),
	)
	f.service = NewSnapshotService(
		f.workflows, f.versions, f.gateway, f.credentials, quota,
		f.auditSink, f.dispatcher, nil, nil, logger.NewNop(),
	)
	ctx := context.Background()

	v1, err := f.service.Reconcile(ctx, f.workflow.ID(), TriggerManual, "operator-7")
	require.NoError(t, err)
	require.NotNil(t, v1)
	assert.Zero(t, overages.recorded, "the first snapshot of the period stays within the allowance")

	f.gateway.definitions["remote-1"] = json.RawMessage(`{"name":"Order sync","nodes":[{"id":"a"},{"id":"b"}]}`)
	v2, err := f.service.Reconcile(ctx, f.workflow.ID(), TriggerManual, "operator-7")
	require.NoError(t, err, "the guard is advisory on this path")
	require.NotNil(t, v2)
	assert.Equal(t, 2, v2.Number)
	assert.Equal(t, 1, overages.recorded)
}
