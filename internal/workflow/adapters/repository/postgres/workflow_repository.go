package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/flowvault/flowvault/internal/platform/database"
	"github.com/flowvault/flowvault/internal/workflow/domain/model"
	"github.com/flowvault/flowvault/internal/workflow/domain/repository"
)

const uniqueViolation = "23505"

// WorkflowRepository implements the workflow repository for PostgreSQL
type WorkflowRepository struct {
	db *database.DB
}

// NewWorkflowRepository creates a new PostgreSQL workflow repository
func NewWorkflowRepository(db *database.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

const workflowColumns = `
	id, owner_id, remote_id, name, protected,
	sync_interval, last_synced_at, stale_since,
	created_at, updated_at
`

// Save persists a newly protected workflow
func (r *WorkflowRepository) Save(ctx context.Context, workflow *model.Workflow) error {
	query := `
		INSERT INTO workflows (
			id, owner_id, remote_id, name, protected,
			sync_interval, last_synced_at, stale_since,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		workflow.ID().String(),
		workflow.OwnerID(),
		workflow.RemoteID(),
		workflow.Name(),
		workflow.Protected(),
		int64(workflow.SyncInterval()),
		workflow.LastSyncedAt(),
		workflow.StaleSince(),
		workflow.CreatedAt(),
		workflow.UpdatedAt(),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return repository.ErrDuplicateRemoteID
		}
		return fmt.Errorf("failed to insert workflow: %w", err)
	}

	return nil
}

// FindByID finds a workflow by internal ID
func (r *WorkflowRepository) FindByID(ctx context.Context, id model.WorkflowID) (*model.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1`

	workflow, err := scanWorkflow(r.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query workflow: %w", err)
	}

	return workflow, nil
}

// FindByOwner lists an owner's workflows, most recently updated first
func (r *WorkflowRepository) FindByOwner(ctx context.Context, ownerID string, offset, limit int) ([]*model.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE owner_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer rows.Close()

	return collectWorkflows(rows)
}

// FindProtectedByOwner lists an owner's workflows under active protection
func (r *WorkflowRepository) FindProtectedByOwner(ctx context.Context, ownerID string) ([]*model.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE owner_id = $1 AND protected = TRUE
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query protected workflows: %w", err)
	}
	defer rows.Close()

	return collectWorkflows(rows)
}

// Update persists workflow mutations
func (r *WorkflowRepository) Update(ctx context.Context, workflow *model.Workflow) error {
	query := `
		UPDATE workflows
		SET
			name = $2,
			protected = $3,
			sync_interval = $4,
			last_synced_at = $5,
			stale_since = $6,
			updated_at = $7
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		workflow.ID().String(),
		workflow.Name(),
		workflow.Protected(),
		int64(workflow.SyncInterval()),
		workflow.LastSyncedAt(),
		workflow.StaleSince(),
		workflow.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// Delete removes a workflow; the versions FK cascades
func (r *WorkflowRepository) Delete(ctx context.Context, id model.WorkflowID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// Count counts an owner's workflows
func (r *WorkflowRepository) Count(ctx context.Context, ownerID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflows WHERE owner_id = $1`, ownerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count workflows: %w", err)
	}
	return count, nil
}

// Owners returns the distinct owner IDs holding protected workflows
func (r *WorkflowRepository) Owners(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT owner_id FROM workflows WHERE protected = TRUE ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("failed to scan owner row: %w", err)
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating owner rows: %w", err)
	}

	return owners, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkflow(row rowScanner) (*model.Workflow, error) {
	var (
		id           string
		ownerID      string
		remoteID     string
		name         string
		protected    bool
		syncInterval int64
		lastSyncedAt sql.NullTime
		staleSince   sql.NullTime
		createdAt    time.Time
		updatedAt    time.Time
	)

	if err := row.Scan(
		&id,
		&ownerID,
		&remoteID,
		&name,
		&protected,
		&syncInterval,
		&lastSyncedAt,
		&staleSince,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	return model.ReconstructWorkflow(
		model.WorkflowID(id),
		ownerID,
		remoteID,
		name,
		protected,
		time.Duration(syncInterval),
		nullTimePtr(lastSyncedAt),
		nullTimePtr(staleSince),
		createdAt,
		updatedAt,
	), nil
}

func collectWorkflows(rows *sql.Rows) ([]*model.Workflow, error) {
	var workflows []*model.Workflow
	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow row: %w", err)
		}
		workflows = append(workflows, workflow)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow rows: %w", err)
	}
	return workflows, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
