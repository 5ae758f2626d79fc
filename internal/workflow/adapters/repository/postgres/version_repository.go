package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/flowvault/flowvault/internal/platform/database"
	"github.com/flowvault/flowvault/internal/workflow/domain/model"
	"github.com/flowvault/flowvault/internal/workflow/domain/repository"
)

// appendRetries bounds how often Append recomputes a number after losing a
// race. Contention per workflow is low; two concurrent schedulers is the
// realistic worst case.
const appendRetries = 5

// VersionRepository implements the version store for PostgreSQL. Numbering
// safety comes from the unique index on (workflow_id, version_no): a losing
// concurrent append hits the constraint and retries with a fresh number.
type VersionRepository struct {
	db *database.DB
}

// NewVersionRepository creates a new PostgreSQL version repository
func NewVersionRepository(db *database.DB) *VersionRepository {
	return &VersionRepository{db: db}
}

const versionColumns = `
	id, workflow_id, version_no, kind, created_by,
	note, checksum, payload, created_at
`

// Append persists a new version with the next gapless number
func (r *VersionRepository) Append(ctx context.Context, version *model.WorkflowVersion) error {
	query := `
		INSERT INTO workflow_versions (
			id, workflow_id, version_no, kind, created_by,
			note, checksum, payload, created_at
		)
		SELECT
			$1, $2, COALESCE(MAX(version_no), 0) + 1, $3, $4, $5, $6, $7, $8
		FROM workflow_versions
		WHERE workflow_id = $2
		RETURNING version_no
	`

	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		var number int
		err := r.db.QueryRowContext(ctx, query,
			version.ID.String(),
			version.WorkflowID.String(),
			string(version.Kind),
			version.CreatedBy,
			version.Note,
			version.Checksum,
			[]byte(version.Payload),
			version.CreatedAt,
		).Scan(&number)
		if err == nil {
			version.Number = number
			return nil
		}

		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			lastErr = repository.ErrVersionConflict
			continue
		}
		return fmt.Errorf("failed to append version: %w", err)
	}

	return fmt.Errorf("append retries exhausted: %w", lastErr)
}

// Latest returns the highest-numbered version for a workflow
func (r *VersionRepository) Latest(ctx context.Context, workflowID model.WorkflowID) (*model.WorkflowVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM workflow_versions
		WHERE workflow_id = $1
		ORDER BY version_no DESC
		LIMIT 1
	`

	version, err := scanVersion(r.db.QueryRowContext(ctx, query, workflowID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query latest version: %w", err)
	}

	return version, nil
}

// List returns up to limit versions, most recent first
func (r *VersionRepository) List(ctx context.Context, workflowID model.WorkflowID, limit int) ([]*model.WorkflowVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM workflow_versions
		WHERE workflow_id = $1
		ORDER BY version_no DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, workflowID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	var versions []*model.WorkflowVersion
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version row: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating version rows: %w", err)
	}

	return versions, nil
}

// Get returns a version by ID
func (r *VersionRepository) Get(ctx context.Context, id model.VersionID) (*model.WorkflowVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM workflow_versions WHERE id = $1`

	version, err := scanVersion(r.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query version: %w", err)
	}

	return version, nil
}

// CountByOwner counts versions appended across an owner's workflows since
// the given time
func (r *VersionRepository) CountByOwner(ctx context.Context, ownerID string, since time.Time) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM workflow_versions v
		JOIN workflows w ON w.id = v.workflow_id
		WHERE w.owner_id = $1 AND v.created_at >= $2
	`

	var count int64
	if err := r.db.QueryRowContext(ctx, query, ownerID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count versions: %w", err)
	}
	return count, nil
}

func scanVersion(row rowScanner) (*model.WorkflowVersion, error) {
	var (
		id         string
		workflowID string
		number     int
		kind       string
		createdBy  string
		note       sql.NullString
		checksum   string
		payload    []byte
		createdAt  time.Time
	)

	if err := row.Scan(
		&id,
		&workflowID,
		&number,
		&kind,
		&createdBy,
		&note,
		&checksum,
		&payload,
		&createdAt,
	); err != nil {
		return nil, err
	}

	return &model.WorkflowVersion{
		ID:         model.VersionID(id),
		WorkflowID: model.WorkflowID(workflowID),
		Number:     number,
		Kind:       model.SnapshotKind(kind),
		CreatedBy:  createdBy,
		Note:       note.String,
		Checksum:   checksum,
		Payload:    json.RawMessage(payload),
		CreatedAt:  createdAt,
	}, nil
}
