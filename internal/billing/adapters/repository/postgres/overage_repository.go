package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowvault/flowvault/internal/billing/domain/model"
	"github.com/flowvault/flowvault/internal/platform/database"
)

// OverageRepository implements overage persistence for PostgreSQL
type OverageRepository struct {
	db *database.DB
}

// NewOverageRepository creates a new PostgreSQL overage repository
func NewOverageRepository(db *database.DB) *OverageRepository {
	return &OverageRepository{db: db}
}

// RecordExceedance upserts the period's unbilled overage row atomically. The
// partial unique index on (owner_id, resource, period_start, period_end)
// WHERE billed_at IS NULL arbitrates concurrent callers.
func (r *OverageRepository) RecordExceedance(ctx context.Context, ownerID string, resource model.Resource, periodStart, periodEnd time.Time) (*model.Overage, bool, error) {
	now := time.Now()
	query := `
		INSERT INTO overages (
			id, owner_id, resource, period_start, period_end,
			amount, billed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, 1, NULL, $6, $6)
		ON CONFLICT (owner_id, resource, period_start, period_end) WHERE billed_at IS NULL
		DO UPDATE SET amount = overages.amount + 1, updated_at = $6
		RETURNING id, amount, created_at, updated_at
	`

	var (
		id        string
		amount    int
		createdAt time.Time
		updatedAt time.Time
	)
	err := r.db.QueryRowContext(ctx, query,
		uuid.New().String(),
		ownerID,
		string(resource),
		periodStart,
		periodEnd,
		now,
	).Scan(&id, &amount, &createdAt, &updatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record overage: %w", err)
	}

	return &model.Overage{
		ID:          id,
		OwnerID:     ownerID,
		Resource:    resource,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Amount:      amount,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, amount == 1, nil
}

// FindOpen returns the unbilled overage for a period, or nil
func (r *OverageRepository) FindOpen(ctx context.Context, ownerID string, resource model.Resource, periodStart, periodEnd time.Time) (*model.Overage, error) {
	query := `
		SELECT id, amount, created_at, updated_at
		FROM overages
		WHERE owner_id = $1 AND resource = $2
			AND period_start = $3 AND period_end = $4
			AND billed_at IS NULL
	`

	var (
		id        string
		amount    int
		createdAt time.Time
		updatedAt time.Time
	)
	err := r.db.QueryRowContext(ctx, query, ownerID, string(resource), periodStart, periodEnd).
		Scan(&id, &amount, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query overage: %w", err)
	}

	return &model.Overage{
		ID:          id,
		OwnerID:     ownerID,
		Resource:    resource,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Amount:      amount,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

// MarkBilled stamps an overage as invoiced
func (r *OverageRepository) MarkBilled(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE overages SET billed_at = $2, updated_at = $2 WHERE id = $1 AND billed_at IS NULL`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to mark overage billed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return errors.New("overage not found or already billed")
	}

	return nil
}
