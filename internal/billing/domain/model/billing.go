// Package model defines quota and overage domain models
package model

import (
	"time"

	"github.com/google/uuid"
)

// Resource identifies a quota-limited resource type
type Resource string

const (
	ResourceWorkflows Resource = "workflows"
	ResourceSnapshots Resource = "snapshots"
)

// Unlimited is the sentinel plan limit meaning "no limit"
const Unlimited = -1

// Overage records quota units exceeded for an owner within a billing period.
// At most one unbilled row exists per (owner, resource, period).
type Overage struct {
	ID          string
	OwnerID     string
	Resource    Resource
	PeriodStart time.Time
	PeriodEnd   time.Time
	Amount      int
	BilledAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewOverage creates the first overage of a period
func NewOverage(ownerID string, resource Resource, periodStart, periodEnd time.Time) *Overage {
	now := time.Now()
	return &Overage{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		Resource:    resource,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Amount:      1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Billed reports whether the overage has been invoiced
func (o *Overage) Billed() bool {
	return o.BilledAt != nil
}

// CurrentPeriod returns the calendar-month billing period containing now
func CurrentPeriod(now time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	return start, end
}
