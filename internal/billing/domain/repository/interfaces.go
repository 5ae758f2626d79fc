package repository

import (
	"context"
	"time"

	"github.com/flowvault/flowvault/internal/billing/domain/model"
)

// OverageRepository persists overage counters. RecordExceedance must be
// atomic (upsert-with-increment) so concurrent exceedances never lose updates.
type OverageRepository interface {
	// RecordExceedance creates the period's unbilled overage row or
	// increments its amount, returning the row and whether it was created
	RecordExceedance(ctx context.Context, ownerID string, resource model.Resource, periodStart, periodEnd time.Time) (*model.Overage, bool, error)

	// FindOpen returns the unbilled overage for a period, or nil
	FindOpen(ctx context.Context, ownerID string, resource model.Resource, periodStart, periodEnd time.Time) (*model.Overage, error)

	// MarkBilled stamps an overage as invoiced
	MarkBilled(ctx context.Context, id string, at time.Time) error
}

// PlanProvider resolves an owner's plan limit for a resource. Unlimited plans
// return model.Unlimited.
type PlanProvider interface {
	GetLimit(ctx context.Context, ownerID string, resource model.Resource) (int, error)
}
