package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	billing "github.com/flowvault/flowvault/internal/billing/app/service"
	billingmodel "github.com/flowvault/flowvault/internal/billing/domain/model"
	"github.com/flowvault/flowvault/internal/platform/logger"
	"github.com/flowvault/flowvault/internal/shared/events"
)

type stubOverageRepo struct {
	recorded int
}

func (r *stubOverageRepo) RecordExceedance(ctx context.Context, ownerID string, resource billingmodel.Resource, periodStart, periodEnd time.Time) (*billingmodel.Overage, bool, error) {
	r.recorded++
	overage := billingmodel.NewOverage(ownerID, resource, periodStart, periodEnd)
	overage.Amount = r.recorded
	return overage, r.recorded == 1, nil
}

func (r *stubOverageRepo) FindOpen(ctx context.Context, ownerID string, resource billingmodel.Resource, periodStart, periodEnd time.Time) (*billingmodel.Overage, error) {
	return nil, nil
}

func (r *stubOverageRepo) MarkBilled(ctx context.Context, id string, at time.Time) error {
	return nil
}

type workflowFixture struct {
	service    *WorkflowService
	snapshots  *SnapshotService
	workflows  *fakeWorkflowRepo
	versions   *fakeVersionRepo
	gateway    *fakeGateway
	auditSink  *fakeAuditSink
	dispatcher *fakeDispatcher
	overages   *stubOverageRepo
}

func newWorkflowFixture(t *testing.T, workflowLimit int, enforce bool) *workflowFixture {
	t.Helper()

	f := &workflowFixture{
		workflows:  newFakeWorkflowRepo(),
		versions:   newFakeVersionRepo(),
		gateway:    newFakeGateway(),
		auditSink:  &fakeAuditSink{},
		dispatcher: &fakeDispatcher{},
		overages:   &stubOverageRepo{},
	}
	f.gateway.definitions["remote-1"] = json.RawMessage(`{"name":"Order sync","nodes":[]}`)

	credentials := &fakeCredentials{keys: []string{"key-1"}}
	f.snapshots = NewSnapshotService(
		f.workflows, f.versions, f.gateway, credentials, nil,
		f.auditSink, f.dispatcher, nil, nil, logger.NewNop(),
	)
	quota := billing.NewQuotaGuard(
		billing.StaticPlanProvider{WorkflowLimit: workflowLimit},
		f.overages, nil, logger.NewNop(),
	)
	f.service = NewWorkflowService(
		f.workflows, f.versions, f.gateway, credentials,
		f.snapshots, quota, enforce,
		f.auditSink, f.dispatcher, nil, logger.NewNop(),
	)
	return f
}

func protectCmd() *ProtectCommand {
	return &ProtectCommand{
		OwnerID:  "owner-1",
		RemoteID: "remote-1",
		ActorID:  "operator-7",
	}
}

func TestProtectTakesBootstrapSnapshot(t *testing.T) {
	f := newWorkflowFixture(t, billingmodel.Unlimited, false)

	workflow, err := f.service.Protect(context.Background(), protectCmd())
	require.NoError(t, err)
	require.NotNil(t, workflow)

	assert.Equal(t, "remote workflow", workflow.Name(), "name defaults to the remote's")
	assert.True(t, workflow.Protected())
	assert.Equal(t, 1, f.versions.count(workflow.ID()), "enrollment captures version 1")
	assert.Contains(t, f.dispatcher.names(), events.WorkflowProtected)
	assert.Contains(t, f.dispatcher.names(), events.WorkflowSnapshotCreated)
	assert.Contains(t, f.auditSink.actions(), "protect_workflow")
}

func TestProtectExplicitNameWins(t *testing.T) {
	f := newWorkflowFixture(t, billingmodel.Unlimited, false)

	cmd := protectCmd()
	cmd.Name = "Custom name"
	workflow, err := f.service.Protect(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, "Custom name", workflow.Name())
}

func TestProtectRejectsDuplicateRemote(t *testing.T) {
	f := newWorkflowFixture(t, billingmodel.Unlimited, false)
	ctx := context.Background()

	_, err := f.service.Protect(ctx, protectCmd())
	require.NoError(t, err)

	_, err = f.service.Protect(ctx, protectCmd())
	assert.True(t, IsValidationError(err), "same remote workflow cannot be protected twice")
}

func TestProtectRejectsVanishedRemote(t *testing.T) {
	f := newWorkflowFixture(t, billingmodel.Unlimited, false)
	delete(f.gateway.definitions, "remote-1")

	_, err := f.service.Protect(context.Background(), protectCmd())
	assert.Error(t, err)
	assert.Empty(t, f.workflows.workflows, "nothing is enrolled when the remote does not exist")
}

func TestProtectEnforcedQuotaDenies(t *testing.T) {
	f := newWorkflowFixture(t, 1, true)
	ctx := context.Background()

	_, err := f.service.Protect(ctx, protectCmd())
	require.NoError(t, err)

	f.gateway.definitions["remote-2"] = json.RawMessage(`{"name":"Second"}`)
	cmd := protectCmd()
	cmd.RemoteID = "remote-2"

	_, err = f.service.Protect(ctx, cmd)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Zero(t, f.overages.recorded, "enforced mode denies instead of recording")
	assert.Len(t, f.workflows.workflows, 1)
}

func TestProtectAdvisoryQuotaRecordsOverage(t *testing.T) {
	f := newWorkflowFixture(t, 1, false)
	ctx := context.Background()

	_, err := f.service.Protect(ctx, protectCmd())
	require.NoError(t, err)

	f.gateway.definitions["remote-2"] = json.RawMessage(`{"name":"Second"}`)
	cmd := protectCmd()
	cmd.RemoteID = "remote-2"

	workflow, err := f.service.Protect(ctx, cmd)
	require.NoError(t, err, "advisory mode allows the enrollment")
	require.NotNil(t, workflow)
	assert.Equal(t, 1, f.overages.recorded)
	assert.Len(t, f.workflows.workflows, 2)
}

func TestPauseAndResume(t *testing.T) {
	f := newWorkflowFixture(t, billingmodel.Unlimited, false)
	ctx := context.Background()

	workflow, err := f.service.Protect(ctx, protectCmd())
	require.NoError(t, err)

	paused, err := f.service.Pause(ctx, workflow.ID(), "operator-7")
	require.NoError(t, err)
	assert.False(t, paused.Protected())

	_, err = f.service.Pause(ctx, workflow.ID(), "operator-7")
	assert.True(t, IsValidationError(err))

	resumed, err := f.service.Resume(ctx, workflow.ID(), "operator-7")
	require.NoError(t, err)
	assert.True(t, resumed.Protected())

	assert.Equal(t, 1, f.versions.count(workflow.ID()), "pause and resume never touch history")
}

func TestUnprotect(t *testing.T) {
	f := newWorkflowFixture(t, billingmodel.Unlimited, false)
	ctx := context.Background()

	workflow, err := f.service.Protect(ctx, protectCmd())
	require.NoError(t, err)

	require.NoError(t, f.service.Unprotect(ctx, workflow.ID(), "operator-7"))
	_, err = f.service.Get(ctx, workflow.ID())
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
	assert.Contains(t, f.dispatcher.names(), events.WorkflowUnprotected)
}

func TestHistoryNewestFirst(t *testing.T) {
	f := newWorkflowFixture(t, billingmodel.Unlimited, false)
	ctx := context.Background()

	workflow, err := f.service.Protect(ctx, protectCmd())
	require.NoError(t, err)

	f.gateway.definitions["remote-1"] = json.RawMessage(`{"name":"Order sync","nodes":[{"id":"a"}]}`)
	_, err = f.snapshots.Reconcile(ctx, workflow.ID(), TriggerScheduled, "")
	require.NoError(t, err)

	history, err := f.service.History(ctx, workflow.ID(), 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[0].Number)
	assert.Equal(t, 1, history[1].Number)
}

func TestGetVersionChecksOwnership(t *testing.T) {
	f := newWorkflowFixture(t, billingmodel.Unlimited, false)
	ctx := context.Background()

	first, err := f.service.Protect(ctx, protectCmd())
	require.NoError(t, err)

	f.gateway.definitions["remote-2"] = json.RawMessage(`{"name":"Second"}`)
	cmd := protectCmd()
	cmd.RemoteID = "remote-2"
	second, err := f.service.Protect(ctx, cmd)
	require.NoError(t, err)

	firstHistory, err := f.service.History(ctx, first.ID(), 1)
	require.NoError(t, err)
	require.Len(t, firstHistory, 1)

	_, err = f.service.GetVersion(ctx, second.ID(), firstHistory[0].ID)
	assert.ErrorIs(t, err, ErrVersionNotFound, "a version is only visible through its own workflow")

	version, err := f.service.GetVersion(ctx, first.ID(), firstHistory[0].ID)
	require.NoError(t, err)
	assert.Equal(t, firstHistory[0].ID, version.ID)
}

func TestProtectCommandValidate(t *testing.T) {
	tests := []struct {
		name string
		cmd  ProtectCommand
		ok   bool
	}{
		{"valid", ProtectCommand{OwnerID: "o", RemoteID: "r", ActorID: "a"}, true},
		{"missing owner", ProtectCommand{RemoteID: "r", ActorID: "a"}, false},
		{"missing remote", ProtectCommand{OwnerID: "o", ActorID: "a"}, false},
		{"missing actor", ProtectCommand{OwnerID: "o", RemoteID: "r"}, false},
		{"negative interval", ProtectCommand{OwnerID: "o", RemoteID: "r", ActorID: "a", SyncInterval: -time.Second}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
