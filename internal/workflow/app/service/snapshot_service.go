package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flowvault/flowvault/internal/archive"
	"github.com/flowvault/flowvault/internal/audit"
	billing "github.com/flowvault/flowvault/internal/billing/app/service"
	billingmodel "github.com/flowvault/flowvault/internal/billing/domain/model"
	"github.com/flowvault/flowvault/internal/credential"
	"github.com/flowvault/flowvault/internal/platform/logger"
	"github.com/flowvault/flowvault/internal/platform/metrics"
	"github.com/flowvault/flowvault/internal/remote"
	"github.com/flowvault/flowvault/internal/shared/events"
	"github.com/flowvault/flowvault/internal/workflow/changeset"
	"github.com/flowvault/flowvault/internal/workflow/domain/model"
	"github.com/flowvault/flowvault/internal/workflow/domain/repository"
)

// Trigger identifies what initiated a reconciliation
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
)

// kind maps a trigger to the snapshot classification it produces
func (t Trigger) kind() model.SnapshotKind {
	if t == TriggerScheduled {
		return model.SnapshotKindAutomatic
	}
	return model.SnapshotKindManual
}

// RemoteGateway is the slice of the platform client the services need
type RemoteGateway interface {
	Fetch(ctx context.Context, apiKey, remoteID string) (*remote.Definition, error)
	Update(ctx context.Context, apiKey, remoteID string, payload json.RawMessage) (*remote.Definition, error)
	CreateInactive(ctx context.Context, apiKey, name string, payload json.RawMessage) (*remote.Definition, error)
}

// SnapshotService reconciles tracked workflows against their remote state
type SnapshotService struct {
	workflows   repository.WorkflowRepository
	versions    repository.VersionRepository
	gateway     RemoteGateway
	credentials credential.Provider
	quota       *billing.QuotaGuard
	auditSink   audit.Sink
	dispatcher  events.Dispatcher
	archiver    archive.Archiver
	metrics     *metrics.Metrics
	logger      logger.Logger
}

// NewSnapshotService creates a new snapshot service
func NewSnapshotService(
	workflows repository.WorkflowRepository,
	versions repository.VersionRepository,
	gateway RemoteGateway,
	credentials credential.Provider,
	quota *billing.QuotaGuard,
	auditSink audit.Sink,
	dispatcher events.Dispatcher,
	archiver archive.Archiver,
	m *metrics.Metrics,
	log logger.Logger,
) *SnapshotService {
	if archiver == nil {
		archiver = &archive.NopArchiver{}
	}
	return &SnapshotService{
		workflows:   workflows,
		versions:    versions,
		gateway:     gateway,
		credentials: credentials,
		quota:       quota,
		auditSink:   auditSink,
		dispatcher:  dispatcher,
		archiver:    archiver,
		metrics:     m,
		logger:      log,
	}
}

// Reconcile compares the current remote definition against the latest
// snapshot and appends a new version when they differ. Returns nil when the
// workflow is unprotected or unchanged. Either a version is fully appended
// and audited, or nothing is persisted.
func (s *SnapshotService) Reconcile(ctx context.Context, workflowID model.WorkflowID, trigger Trigger, actorID string) (*model.WorkflowVersion, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ReconcileDuration.WithLabelValues(string(trigger)).Observe(time.Since(start).Seconds())
		}
	}()

	workflow, err := s.workflows.FindByID(ctx, workflowID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	if !workflow.Protected() {
		s.logger.Debug("reconcile skipped, protection paused", "workflow_id", workflow.ID())
		s.observeReconcile("skipped")
		return nil, nil
	}

	definition, err := s.fetch(ctx, workflow)
	if err != nil {
		if remote.IsNotFound(err) {
			s.flagStale(ctx, workflow)
		}
		s.observeReconcile("failed")
		return nil, err
	}

	// A successful fetch clears staleness from an earlier vanished remote
	if workflow.Stale() {
		workflow.MarkSynced(time.Now())
		if updErr := s.workflows.Update(ctx, workflow); updErr != nil {
			s.logger.Error("failed to clear stale flag", "workflow_id", workflow.ID(), "error", updErr)
		}
	}

	latest, err := s.versions.Latest(ctx, workflow.ID())
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load latest version: %w", err)
	}

	changed, err := changeset.Changed(latest, definition.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to compare definitions: %w", err)
	}

	if !changed {
		s.markSynced(ctx, workflow)
		s.observeReconcile("unchanged")
		return nil, nil
	}

	s.checkSnapshotQuota(ctx, workflow)

	checksum, err := changeset.Checksum(definition.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to checksum definition: %w", err)
	}

	creator := actorID
	if creator == "" {
		creator = model.SystemActor
	}

	version, err := model.NewWorkflowVersion(workflow.ID(), trigger.kind(), creator, definition.Payload, checksum, "")
	if err != nil {
		return nil, fmt.Errorf("failed to build version: %w", err)
	}

	if err := s.versions.Append(ctx, version); err != nil {
		s.observeReconcile("failed")
		return nil, fmt.Errorf("failed to append version: %w", err)
	}

	s.markSynced(ctx, workflow)
	go s.archiver.Archive(context.Background(), workflow.OwnerID(), version)

	var oldRef interface{}
	if latest != nil {
		oldRef = map[string]interface{}{
			"versionId": latest.ID.String(),
			"versionNo": latest.Number,
			"checksum":  latest.Checksum,
		}
	}
	s.auditSink.Record(ctx, audit.Entry{
		ActorID:    creator,
		Action:     "snapshot_workflow",
		EntityType: "workflow",
		EntityID:   workflow.ID().String(),
		OldValue:   oldRef,
		NewValue: map[string]interface{}{
			"versionId": version.ID.String(),
			"versionNo": version.Number,
			"checksum":  version.Checksum,
			"kind":      string(version.Kind),
		},
	})

	s.dispatcher.Notify(ctx, events.WorkflowSnapshotCreated, events.SnapshotCreatedPayload{
		WorkflowID: workflow.ID().String(),
		VersionID:  version.ID.String(),
		VersionNo:  version.Number,
		Kind:       string(version.Kind),
		Checksum:   version.Checksum,
	}, workflow.OwnerID())

	if s.metrics != nil {
		s.metrics.SnapshotsCreated.WithLabelValues(string(version.Kind)).Inc()
	}
	s.observeReconcile("snapshotted")

	s.logger.Info("snapshot created",
		"workflow_id", workflow.ID(),
		"version_no", version.Number,
		"kind", string(version.Kind),
		"trigger", string(trigger),
	)

	return version, nil
}

// fetch retrieves the remote definition, refreshing the credential and
// retrying once when it was rejected
func (s *SnapshotService) fetch(ctx context.Context, workflow *model.Workflow) (*remote.Definition, error) {
	cred, err := s.credentials.GetValidCredential(ctx, workflow.OwnerID())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credential: %w", err)
	}

	definition, err := s.gateway.Fetch(ctx, cred.APIKey, workflow.RemoteID())
	if err == nil || !remote.IsAuthExpired(err) {
		return definition, err
	}

	cred, refreshErr := s.credentials.GetValidCredential(ctx, workflow.OwnerID())
	if refreshErr != nil {
		return nil, fmt.Errorf("failed to refresh credential: %w", refreshErr)
	}

	return s.gateway.Fetch(ctx, cred.APIKey, workflow.RemoteID())
}

// flagStale marks the workflow's remote entity as vanished, once
func (s *SnapshotService) flagStale(ctx context.Context, workflow *model.Workflow) {
	now := time.Now()
	if !workflow.MarkStale(now) {
		return
	}
	if err := s.workflows.Update(ctx, workflow); err != nil {
		s.logger.Error("failed to flag workflow stale", "workflow_id", workflow.ID(), "error", err)
		return
	}

	s.logger.Warn("remote workflow vanished upstream",
		"workflow_id", workflow.ID(),
		"remote_id", workflow.RemoteID(),
	)
	s.dispatcher.Notify(ctx, events.WorkflowStale, events.StalePayload{
		WorkflowID: workflow.ID().String(),
		RemoteID:   workflow.RemoteID(),
		StaleSince: now,
	}, workflow.OwnerID())
}

// checkSnapshotQuota applies the owner's snapshot allowance for the current
// billing period. Advisory only: an exceedance is recorded as an overage and
// the snapshot proceeds, so protection never silently lapses.
func (s *SnapshotService) checkSnapshotQuota(ctx context.Context, workflow *model.Workflow) {
	if s.quota == nil {
		return
	}

	periodStart, _ := billingmodel.CurrentPeriod(time.Now())
	count, err := s.versions.CountByOwner(ctx, workflow.OwnerID(), periodStart)
	if err != nil {
		s.logger.Warn("failed to count snapshots for quota", "owner_id", workflow.OwnerID(), "error", err)
		return
	}

	decision, err := s.quota.CheckAndRecord(ctx, workflow.OwnerID(), billingmodel.ResourceSnapshots, count)
	if err != nil {
		s.logger.Warn("snapshot quota check failed", "owner_id", workflow.OwnerID(), "error", err)
		return
	}
	if decision.OverageRecorded {
		s.logger.Warn("snapshot limit exceeded, overage recorded", "owner_id", workflow.OwnerID(), "count", count)
	}
}

func (s *SnapshotService) markSynced(ctx context.Context, workflow *model.Workflow) {
	workflow.MarkSynced(time.Now())
	if err := s.workflows.Update(ctx, workflow); err != nil {
		s.logger.Error("failed to update sync marker", "workflow_id", workflow.ID(), "error", err)
	}
}

func (s *SnapshotService) observeReconcile(outcome string) {
	if s.metrics != nil {
		s.metrics.ReconcilesTotal.WithLabelValues(outcome).Inc()
	}
}
