package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/flowvault/flowvault/internal/archive"
	"github.com/flowvault/flowvault/internal/audit"
	"github.com/flowvault/flowvault/internal/credential"
	"github.com/flowvault/flowvault/internal/platform/logger"
	"github.com/flowvault/flowvault/internal/platform/metrics"
	"github.com/flowvault/flowvault/internal/remote"
	"github.com/flowvault/flowvault/internal/shared/events"
	"github.com/flowvault/flowvault/internal/workflow/changeset"
	"github.com/flowvault/flowvault/internal/workflow/domain/model"
	"github.com/flowvault/flowvault/internal/workflow/domain/repository"
)

// RollbackMode selects how a historical version is re-materialized upstream
type RollbackMode string

const (
	// ModeOverwrite replaces the live remote definition in place
	ModeOverwrite RollbackMode = "overwrite"

	// ModeCreateInactive creates a new disabled remote workflow seeded from
	// the target payload; the live workflow is untouched
	ModeCreateInactive RollbackMode = "create-new-inactive"
)

// Validate rejects unknown modes
func (m RollbackMode) Validate() error {
	switch m {
	case ModeOverwrite, ModeCreateInactive:
		return nil
	}
	return fmt.Errorf("unknown rollback mode %q", string(m))
}

// RollbackService re-materializes historical versions against the remote
// platform. History is only ever appended to: a successful rollback records
// the written definition as a new version.
type RollbackService struct {
	workflows   repository.WorkflowRepository
	versions    repository.VersionRepository
	gateway     RemoteGateway
	credentials credential.Provider
	auditSink   audit.Sink
	dispatcher  events.Dispatcher
	archiver    archive.Archiver
	metrics     *metrics.Metrics
	logger      logger.Logger
}

// NewRollbackService creates a new rollback service
func NewRollbackService(
	workflows repository.WorkflowRepository,
	versions repository.VersionRepository,
	gateway RemoteGateway,
	credentials credential.Provider,
	auditSink audit.Sink,
	dispatcher events.Dispatcher,
	archiver archive.Archiver,
	m *metrics.Metrics,
	log logger.Logger,
) *RollbackService {
	if archiver == nil {
		archiver = &archive.NopArchiver{}
	}
	return &RollbackService{
		workflows:   workflows,
		versions:    versions,
		gateway:     gateway,
		credentials: credentials,
		auditSink:   auditSink,
		dispatcher:  dispatcher,
		archiver:    archiver,
		metrics:     m,
		logger:      log,
	}
}

// Rollback pushes the target version back to the remote platform and records
// the result as a new version. If the write fails nothing is recorded and the
// live remote state is assumed unchanged.
func (s *RollbackService) Rollback(ctx context.Context, workflowID model.WorkflowID, targetVersionID model.VersionID, mode RollbackMode, actorID, note string) (*model.WorkflowVersion, error) {
	if err := mode.Validate(); err != nil {
		return nil, NewValidationError("%v", err)
	}
	if actorID == "" {
		return nil, NewValidationError("actor is required")
	}

	workflow, err := s.workflows.FindByID(ctx, workflowID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	target, err := s.versions.Get(ctx, targetVersionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrVersionNotFound
		}
		return nil, fmt.Errorf("failed to load target version: %w", err)
	}

	// Cross-workflow targets are rejected outright, never silently corrected
	if target.WorkflowID != workflow.ID() {
		s.observeRollback(mode, "rejected")
		return nil, NewValidationError("version %s does not belong to workflow %s", targetVersionID, workflowID)
	}

	written, err := s.write(ctx, workflow, target, mode)
	if err != nil {
		s.observeRollback(mode, "failed")
		return nil, &RollbackError{Err: err}
	}

	checksum, err := changeset.Checksum(written.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to checksum written definition: %w", err)
	}

	if note == "" {
		note = fmt.Sprintf("rollback to version %d (%s)", target.Number, string(mode))
	}

	version, err := model.NewWorkflowVersion(workflow.ID(), model.SnapshotKindRollback, actorID, written.Payload, checksum, note)
	if err != nil {
		return nil, fmt.Errorf("failed to build version: %w", err)
	}

	if err := s.versions.Append(ctx, version); err != nil {
		return nil, fmt.Errorf("failed to record rollback version: %w", err)
	}

	go s.archiver.Archive(context.Background(), workflow.OwnerID(), version)

	s.auditSink.Record(ctx, audit.Entry{
		ActorID:    actorID,
		Action:     "rollback_workflow",
		EntityType: "workflow",
		EntityID:   workflow.ID().String(),
		OldValue: map[string]interface{}{
			"targetVersionId": target.ID.String(),
			"targetVersionNo": target.Number,
		},
		NewValue: map[string]interface{}{
			"versionId": version.ID.String(),
			"versionNo": version.Number,
			"mode":      string(mode),
		},
	})

	s.dispatcher.Notify(ctx, events.WorkflowRolledBack, events.RolledBackPayload{
		WorkflowID:      workflow.ID().String(),
		TargetVersionID: target.ID.String(),
		Mode:            string(mode),
		NewVersionID:    version.ID.String(),
		NewVersionNo:    version.Number,
	}, workflow.OwnerID())

	s.observeRollback(mode, "completed")
	if s.metrics != nil {
		s.metrics.SnapshotsCreated.WithLabelValues(string(model.SnapshotKindRollback)).Inc()
	}

	s.logger.Info("workflow rolled back",
		"workflow_id", workflow.ID(),
		"target_version_no", target.Number,
		"new_version_no", version.Number,
		"mode", string(mode),
		"actor_id", actorID,
	)

	return version, nil
}

// write pushes the target payload upstream. The returned definition is what
// the platform stored, which is what gets recorded.
func (s *RollbackService) write(ctx context.Context, workflow *model.Workflow, target *model.WorkflowVersion, mode RollbackMode) (*remote.Definition, error) {
	cred, err := s.credentials.GetValidCredential(ctx, workflow.OwnerID())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credential: %w", err)
	}

	written, err := s.push(ctx, cred, workflow, target, mode)
	if err == nil || !remote.IsAuthExpired(err) {
		return written, err
	}

	cred, refreshErr := s.credentials.GetValidCredential(ctx, workflow.OwnerID())
	if refreshErr != nil {
		return nil, fmt.Errorf("failed to refresh credential: %w", refreshErr)
	}

	return s.push(ctx, cred, workflow, target, mode)
}

func (s *RollbackService) push(ctx context.Context, cred *credential.Credential, workflow *model.Workflow, target *model.WorkflowVersion, mode RollbackMode) (*remote.Definition, error) {
	if mode == ModeOverwrite {
		return s.gateway.Update(ctx, cred.APIKey, workflow.RemoteID(), target.Payload)
	}

	name := fmt.Sprintf("%s (restored v%d)", workflow.Name(), target.Number)
	return s.gateway.CreateInactive(ctx, cred.APIKey, name, target.Payload)
}

func (s *RollbackService) observeRollback(mode RollbackMode, outcome string) {
	if s.metrics != nil {
		s.metrics.RollbacksTotal.WithLabelValues(string(mode), outcome).Inc()
	}
}
