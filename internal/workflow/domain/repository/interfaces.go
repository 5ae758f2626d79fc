package repository

import (
	"context"
	"time"

	"github.com/flowvault/flowvault/internal/workflow/domain/model"
)

// WorkflowRepository defines workflow persistence
type WorkflowRepository interface {
	// Save persists a newly protected workflow
	Save(ctx context.Context, workflow *model.Workflow) error

	// FindByID finds a workflow by internal ID
	FindByID(ctx context.Context, id model.WorkflowID) (*model.Workflow, error)

	// FindByOwner lists an owner's workflows
	FindByOwner(ctx context.Context, ownerID string, offset, limit int) ([]*model.Workflow, error)

	// FindProtectedByOwner lists an owner's workflows under active protection
	FindProtectedByOwner(ctx context.Context, ownerID string) ([]*model.Workflow, error)

	// Update persists workflow mutations
	Update(ctx context.Context, workflow *model.Workflow) error

	// Delete removes a workflow; versions cascade
	Delete(ctx context.Context, id model.WorkflowID) error

	// Count counts an owner's workflows
	Count(ctx context.Context, ownerID string) (int64, error)

	// Owners returns the distinct owner IDs holding protected workflows
	Owners(ctx context.Context) ([]string, error)
}

// VersionRepository defines the version store. Append owns the numbering
// invariant: per workflow, numbers are gapless, strictly increasing from 1.
type VersionRepository interface {
	// Append persists a new version with the next number for its workflow.
	// Safe under concurrent callers; a numbering race is retried internally.
	Append(ctx context.Context, version *model.WorkflowVersion) error

	// Latest returns the highest-numbered version, or ErrNotFound
	Latest(ctx context.Context, workflowID model.WorkflowID) (*model.WorkflowVersion, error)

	// List returns up to limit versions, most recent first
	List(ctx context.Context, workflowID model.WorkflowID, limit int) ([]*model.WorkflowVersion, error)

	// Get returns a version by ID, or ErrNotFound
	Get(ctx context.Context, id model.VersionID) (*model.WorkflowVersion, error)

	// CountByOwner counts versions appended for an owner's workflows
	// since the given time; feeds the snapshot quota guard
	CountByOwner(ctx context.Context, ownerID string, since time.Time) (int64, error)
}
