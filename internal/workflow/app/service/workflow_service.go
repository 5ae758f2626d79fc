package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowvault/flowvault/internal/audit"
	billing "github.com/flowvault/flowvault/internal/billing/app/service"
	billingmodel "github.com/flowvault/flowvault/internal/billing/domain/model"
	"github.com/flowvault/flowvault/internal/credential"
	"github.com/flowvault/flowvault/internal/platform/logger"
	"github.com/flowvault/flowvault/internal/platform/metrics"
	"github.com/flowvault/flowvault/internal/remote"
	"github.com/flowvault/flowvault/internal/shared/events"
	"github.com/flowvault/flowvault/internal/workflow/domain/model"
	"github.com/flowvault/flowvault/internal/workflow/domain/repository"
)

// ProtectCommand places a remote workflow under snapshot protection
type ProtectCommand struct {
	OwnerID      string
	RemoteID     string
	Name         string // optional, defaults to the remote's name
	SyncInterval time.Duration
	ActorID      string
}

// Validate validates the protect command
func (c *ProtectCommand) Validate() error {
	if c.OwnerID == "" {
		return NewValidationError("owner is required")
	}
	if c.RemoteID == "" {
		return NewValidationError("remote workflow ID is required")
	}
	if c.ActorID == "" {
		return NewValidationError("actor is required")
	}
	if c.SyncInterval < 0 {
		return NewValidationError("sync interval cannot be negative")
	}
	return nil
}

// WorkflowService manages the protection lifecycle: enrolling remote workflows,
// pausing and resuming their sync, and serving their version history.
type WorkflowService struct {
	workflows    repository.WorkflowRepository
	versions     repository.VersionRepository
	gateway      RemoteGateway
	credentials  credential.Provider
	snapshots    *SnapshotService
	quota        *billing.QuotaGuard
	enforceQuota bool
	auditSink    audit.Sink
	dispatcher   events.Dispatcher
	metrics      *metrics.Metrics
	logger       logger.Logger
}

// NewWorkflowService creates a new workflow service
func NewWorkflowService(
	workflows repository.WorkflowRepository,
	versions repository.VersionRepository,
	gateway RemoteGateway,
	credentials credential.Provider,
	snapshots *SnapshotService,
	quota *billing.QuotaGuard,
	enforceQuota bool,
	auditSink audit.Sink,
	dispatcher events.Dispatcher,
	m *metrics.Metrics,
	log logger.Logger,
) *WorkflowService {
	return &WorkflowService{
		workflows:    workflows,
		versions:     versions,
		gateway:      gateway,
		credentials:  credentials,
		snapshots:    snapshots,
		quota:        quota,
		enforceQuota: enforceQuota,
		auditSink:    auditSink,
		dispatcher:   dispatcher,
		metrics:      m,
		logger:       log,
	}
}

// Protect enrolls a remote workflow and takes its bootstrap snapshot. The
// remote entity must exist and be reachable with the owner's credential.
func (s *WorkflowService) Protect(ctx context.Context, cmd *ProtectCommand) (*model.Workflow, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	if err := s.checkQuota(ctx, cmd.OwnerID); err != nil {
		return nil, err
	}

	def, err := s.fetchRemote(ctx, cmd.OwnerID, cmd.RemoteID)
	if err != nil {
		return nil, err
	}

	name := cmd.Name
	if name == "" {
		name = def.Name
	}

	workflow, err := model.NewWorkflow(cmd.OwnerID, cmd.RemoteID, name)
	if err != nil {
		return nil, NewValidationError("%v", err)
	}
	if cmd.SyncInterval > 0 {
		if err := workflow.SetSyncInterval(cmd.SyncInterval); err != nil {
			return nil, NewValidationError("%v", err)
		}
	}

	if err := s.workflows.Save(ctx, workflow); err != nil {
		if errors.Is(err, repository.ErrDuplicateRemoteID) {
			return nil, NewValidationError("remote workflow %s is already protected", cmd.RemoteID)
		}
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	// Bootstrap snapshot. Enrollment stands even if this fails; the next
	// sync cycle will capture version 1.
	if _, err := s.snapshots.Reconcile(ctx, workflow.ID(), TriggerManual, cmd.ActorID); err != nil {
		s.logger.Warn("bootstrap snapshot failed",
			"workflow_id", workflow.ID(),
			"remote_id", cmd.RemoteID,
			"error", err,
		)
	}

	s.auditSink.Record(ctx, audit.Entry{
		ActorID:    cmd.ActorID,
		Action:     "protect_workflow",
		EntityType: "workflow",
		EntityID:   workflow.ID().String(),
		NewValue: map[string]interface{}{
			"remoteId": workflow.RemoteID(),
			"name":     workflow.Name(),
		},
	})

	s.dispatcher.Notify(ctx, events.WorkflowProtected, events.ProtectedPayload{
		WorkflowID: workflow.ID().String(),
		RemoteID:   workflow.RemoteID(),
		Name:       workflow.Name(),
	}, workflow.OwnerID())

	s.logger.Info("workflow protected",
		"workflow_id", workflow.ID(),
		"remote_id", workflow.RemoteID(),
		"owner_id", workflow.OwnerID(),
	)

	return workflow, nil
}

// Get returns a workflow by ID
func (s *WorkflowService) Get(ctx context.Context, id model.WorkflowID) (*model.Workflow, error) {
	workflow, err := s.workflows.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	return workflow, nil
}

// List returns a page of an owner's workflows
func (s *WorkflowService) List(ctx context.Context, ownerID string, offset, limit int) ([]*model.Workflow, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.workflows.FindByOwner(ctx, ownerID, offset, limit)
}

// History returns up to limit versions of a workflow, most recent first
func (s *WorkflowService) History(ctx context.Context, id model.WorkflowID, limit int) ([]*model.WorkflowVersion, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.versions.List(ctx, id, limit)
}

// GetVersion returns one version, verifying it belongs to the workflow
func (s *WorkflowService) GetVersion(ctx context.Context, workflowID model.WorkflowID, versionID model.VersionID) (*model.WorkflowVersion, error) {
	if _, err := s.Get(ctx, workflowID); err != nil {
		return nil, err
	}

	version, err := s.versions.Get(ctx, versionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrVersionNotFound
		}
		return nil, fmt.Errorf("failed to load version: %w", err)
	}
	if version.WorkflowID != workflowID {
		return nil, ErrVersionNotFound
	}
	return version, nil
}

// Pause suspends scheduled snapshots; history stays readable
func (s *WorkflowService) Pause(ctx context.Context, id model.WorkflowID, actorID string) (*model.Workflow, error) {
	return s.toggle(ctx, id, actorID, "pause_workflow", (*model.Workflow).Pause)
}

// Resume re-enables scheduled snapshots
func (s *WorkflowService) Resume(ctx context.Context, id model.WorkflowID, actorID string) (*model.Workflow, error) {
	return s.toggle(ctx, id, actorID, "resume_workflow", (*model.Workflow).Resume)
}

func (s *WorkflowService) toggle(ctx context.Context, id model.WorkflowID, actorID, action string, mutate func(*model.Workflow) error) (*model.Workflow, error) {
	workflow, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	before := workflow.Protected()
	if err := mutate(workflow); err != nil {
		return nil, NewValidationError("%v", err)
	}
	if err := s.workflows.Update(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	s.auditSink.Record(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     action,
		EntityType: "workflow",
		EntityID:   workflow.ID().String(),
		OldValue:   map[string]interface{}{"protected": before},
		NewValue:   map[string]interface{}{"protected": workflow.Protected()},
	})

	return workflow, nil
}

// Unprotect removes a workflow and its entire version history. The remote
// workflow itself is untouched.
func (s *WorkflowService) Unprotect(ctx context.Context, id model.WorkflowID, actorID string) error {
	workflow, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.workflows.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	s.auditSink.Record(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     "unprotect_workflow",
		EntityType: "workflow",
		EntityID:   workflow.ID().String(),
		OldValue: map[string]interface{}{
			"remoteId": workflow.RemoteID(),
			"name":     workflow.Name(),
		},
	})

	s.dispatcher.Notify(ctx, events.WorkflowUnprotected, events.ProtectedPayload{
		WorkflowID: workflow.ID().String(),
		RemoteID:   workflow.RemoteID(),
		Name:       workflow.Name(),
	}, workflow.OwnerID())

	s.logger.Info("workflow unprotected", "workflow_id", id, "actor_id", actorID)
	return nil
}

// checkQuota applies the owner's workflow allowance. Over-limit enrollment is
// denied only when enforcement is on; otherwise the exceedance is recorded as
// an overage and the enrollment proceeds.
func (s *WorkflowService) checkQuota(ctx context.Context, ownerID string) error {
	if s.quota == nil {
		return nil
	}

	count, err := s.workflows.Count(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("failed to count workflows: %w", err)
	}

	if s.enforceQuota {
		allowed, err := s.quota.Check(ctx, ownerID, billingmodel.ResourceWorkflows, count)
		if err != nil {
			return err
		}
		if !allowed {
			return ErrQuotaExceeded
		}
		return nil
	}

	decision, err := s.quota.CheckAndRecord(ctx, ownerID, billingmodel.ResourceWorkflows, count)
	if err != nil {
		return err
	}
	if decision.OverageRecorded {
		s.logger.Warn("workflow limit exceeded, overage recorded", "owner_id", ownerID, "count", count)
	}
	return nil
}

func (s *WorkflowService) fetchRemote(ctx context.Context, ownerID, remoteID string) (*remote.Definition, error) {
	cred, err := s.credentials.GetValidCredential(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credential: %w", err)
	}

	def, err := s.gateway.Fetch(ctx, cred.APIKey, remoteID)
	if err == nil || !remote.IsAuthExpired(err) {
		return def, err
	}

	cred, refreshErr := s.credentials.GetValidCredential(ctx, ownerID)
	if refreshErr != nil {
		return nil, fmt.Errorf("failed to refresh credential: %w", refreshErr)
	}
	return s.gateway.Fetch(ctx, cred.APIKey, remoteID)
}
