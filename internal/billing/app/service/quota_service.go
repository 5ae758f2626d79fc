// Package service provides the quota guard consulted by workflow-creation
// and snapshot paths.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/flowvault/flowvault/internal/billing/domain/model"
	"github.com/flowvault/flowvault/internal/billing/domain/repository"
	"github.com/flowvault/flowvault/internal/platform/logger"
	"github.com/flowvault/flowvault/internal/platform/metrics"
)

// QuotaDecision is the guard's advisory verdict. The caller decides whether
// to honor allowed=false; the guard never blocks the action itself.
type QuotaDecision struct {
	Allowed         bool
	OverageRecorded bool
}

// StaticPlanProvider serves a fixed limit per resource, used when no external
// plan service is wired.
type StaticPlanProvider struct {
	WorkflowLimit int
	SnapshotLimit int
}

// GetLimit implements repository.PlanProvider
func (p StaticPlanProvider) GetLimit(ctx context.Context, ownerID string, resource model.Resource) (int, error) {
	switch resource {
	case model.ResourceWorkflows:
		return p.WorkflowLimit, nil
	case model.ResourceSnapshots:
		return p.SnapshotLimit, nil
	}
	return model.Unlimited, nil
}

// QuotaGuard decides whether an action exceeds the owner's plan allowance and
// records an overage when the caller proceeds anyway.
type QuotaGuard struct {
	plans    repository.PlanProvider
	overages repository.OverageRepository
	metrics  *metrics.Metrics
	logger   logger.Logger
	now      func() time.Time
}

// NewQuotaGuard creates a new quota guard
func NewQuotaGuard(
	plans repository.PlanProvider,
	overages repository.OverageRepository,
	m *metrics.Metrics,
	log logger.Logger,
) *QuotaGuard {
	return &QuotaGuard{
		plans:    plans,
		overages: overages,
		metrics:  m,
		logger:   log,
		now:      time.Now,
	}
}

// Check reports whether the action stays within the plan limit
func (g *QuotaGuard) Check(ctx context.Context, ownerID string, resource model.Resource, currentCount int64) (bool, error) {
	limit, err := g.plans.GetLimit(ctx, ownerID, resource)
	if err != nil {
		return false, fmt.Errorf("failed to resolve plan limit: %w", err)
	}
	if limit == model.Unlimited {
		return true, nil
	}
	return currentCount < int64(limit), nil
}

// CheckAndRecord checks the limit and, when exceeded, records an overage for
// the current billing period (created on first exceedance, incremented after).
func (g *QuotaGuard) CheckAndRecord(ctx context.Context, ownerID string, resource model.Resource, currentCount int64) (QuotaDecision, error) {
	allowed, err := g.Check(ctx, ownerID, resource, currentCount)
	if err != nil {
		return QuotaDecision{}, err
	}
	if allowed {
		return QuotaDecision{Allowed: true}, nil
	}

	periodStart, periodEnd := model.CurrentPeriod(g.now())
	overage, created, err := g.overages.RecordExceedance(ctx, ownerID, resource, periodStart, periodEnd)
	if err != nil {
		return QuotaDecision{}, fmt.Errorf("failed to record overage: %w", err)
	}

	if g.metrics != nil {
		g.metrics.OveragesRecorded.WithLabelValues(string(resource)).Inc()
	}
	g.logger.Info("quota exceeded",
		"owner_id", ownerID,
		"resource", string(resource),
		"amount", overage.Amount,
		"new_row", created,
	)

	return QuotaDecision{Allowed: false, OverageRecorded: true}, nil
}
