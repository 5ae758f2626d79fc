package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/flowvault/flowvault/internal/platform/config"
	"github.com/flowvault/flowvault/internal/platform/logger"
	"github.com/flowvault/flowvault/internal/platform/metrics"
	"github.com/flowvault/flowvault/internal/remote"
	"github.com/flowvault/flowvault/internal/workflow/app/service"
	"github.com/flowvault/flowvault/internal/workflow/domain/model"
	"github.com/flowvault/flowvault/internal/workflow/domain/repository"
)

const cycleLockName = "sync-cycle"

// CycleLocker is the slice of the cache the scheduler needs to keep
// concurrent replicas from running the same cycle. *cache.RedisCache
// satisfies it.
type CycleLocker interface {
	AcquireLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, holder string) error
}

// CycleStats summarizes one sync cycle
type CycleStats struct {
	Owners      int
	Snapshotted int64
	Unchanged   int64
	Stale       int64
	Skipped     int64
	Failed      int64
	Duration    time.Duration
}

// Scheduler drives the periodic snapshot pass over all protected workflows.
// One instance cluster-wide runs each cycle; a Redis lock keeps concurrent
// replicas from doubling up.
type Scheduler struct {
	cron      *cron.Cron
	workflows repository.WorkflowRepository
	snapshots *service.SnapshotService
	locks     CycleLocker
	cfg       config.SyncConfig
	metrics   *metrics.Metrics
	logger    logger.Logger
	holder    string

	mu      sync.Mutex
	running bool
	entryID cron.EntryID
}

// NewScheduler creates a new sync scheduler
func NewScheduler(
	workflows repository.WorkflowRepository,
	snapshots *service.SnapshotService,
	locks CycleLocker,
	cfg config.SyncConfig,
	m *metrics.Metrics,
	log logger.Logger,
) *Scheduler {
	location, _ := time.LoadLocation("UTC")
	c := cron.New(
		cron.WithLocation(location),
		cron.WithSeconds(),
	)

	hostname, _ := os.Hostname()
	return &Scheduler{
		cron:      c,
		workflows: workflows,
		snapshots: snapshots,
		locks:     locks,
		cfg:       cfg,
		metrics:   m,
		logger:    log,
		holder:    fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8]),
	}
}

// Start registers the cycle with the cron scheduler and starts it
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	entryID, err := s.cron.AddFunc(s.cfg.CronSpec, func() {
		if _, err := s.RunCycle(context.Background()); err != nil {
			s.logger.Error("sync cycle failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", s.cfg.CronSpec, err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.running = true

	s.logger.Info("sync scheduler started",
		"cron_spec", s.cfg.CronSpec,
		"workers", s.cfg.Workers,
		"holder", s.holder,
	)
	return nil
}

// Stop stops the scheduler and waits for a running cycle's cron goroutine
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.running = false
	s.logger.Info("sync scheduler stopped")
	return nil
}

// RunCycle executes one full snapshot pass. It is safe to call directly for
// an on-demand sweep; the cluster lock still applies.
func (s *Scheduler) RunCycle(ctx context.Context) (*CycleStats, error) {
	acquired, err := s.locks.AcquireLock(ctx, cycleLockName, s.holder, s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire cycle lock: %w", err)
	}
	if !acquired {
		s.logger.Debug("sync cycle already running elsewhere, skipping")
		s.observeCycle("skipped")
		return nil, nil
	}
	defer func() {
		if err := s.locks.ReleaseLock(context.Background(), cycleLockName, s.holder); err != nil {
			s.logger.Warn("failed to release cycle lock", "error", err)
		}
	}()

	cycleID := uuid.New().String()
	ctx = context.WithValue(ctx, "cycleID", cycleID)
	log := s.logger.WithFields(map[string]interface{}{"cycle_id": cycleID})

	start := time.Now()
	log.Info("sync cycle started")

	owners, err := s.workflows.Owners(ctx)
	if err != nil {
		s.observeCycle("failed")
		return nil, fmt.Errorf("failed to enumerate owners: %w", err)
	}

	stats := &CycleStats{Owners: len(owners)}
	now := time.Now()

	// Bounded worker pool. A slot is held per workflow; owners are walked
	// sequentially so one owner's credential failures surface together.
	sem := make(chan struct{}, s.cfg.Workers)
	var wg sync.WaitGroup

	for _, ownerID := range owners {
		workflows, err := s.workflows.FindProtectedByOwner(ctx, ownerID)
		if err != nil {
			log.Error("failed to list protected workflows", "owner_id", ownerID, "error", err)
			atomic.AddInt64(&stats.Failed, 1)
			continue
		}

		for _, workflow := range workflows {
			if !workflow.DueFor(now) {
				atomic.AddInt64(&stats.Skipped, 1)
				s.observeWorkflow("skipped")
				continue
			}

			wg.Add(1)
			sem <- struct{}{}
			go func(w *model.Workflow) {
				defer wg.Done()
				defer func() { <-sem }()
				s.processOne(ctx, log, w, stats)
			}(workflow)
		}
	}

	wg.Wait()
	stats.Duration = time.Since(start)

	s.observeCycle("completed")
	if s.metrics != nil {
		s.metrics.SyncCycleDuration.Observe(stats.Duration.Seconds())
	}

	log.Info("sync cycle completed",
		"owners", stats.Owners,
		"snapshotted", stats.Snapshotted,
		"unchanged", stats.Unchanged,
		"stale", stats.Stale,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"duration", stats.Duration.String(),
	)
	return stats, nil
}

// processOne reconciles a single workflow. Failures are isolated: they are
// counted and logged, never propagated to the cycle.
func (s *Scheduler) processOne(ctx context.Context, log logger.Logger, workflow *model.Workflow, stats *CycleStats) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while reconciling workflow", "workflow_id", workflow.ID(), "panic", r)
			atomic.AddInt64(&stats.Failed, 1)
			s.observeWorkflow("failed")
		}
	}()

	wctx, cancel := context.WithTimeout(ctx, s.cfg.WorkflowTimeout)
	defer cancel()

	version, err := s.snapshots.Reconcile(wctx, workflow.ID(), service.TriggerScheduled, model.SystemActor)
	switch {
	case err == nil && version != nil:
		atomic.AddInt64(&stats.Snapshotted, 1)
		s.observeWorkflow("snapshotted")

	case err == nil:
		atomic.AddInt64(&stats.Unchanged, 1)
		s.observeWorkflow("unchanged")

	case remote.IsAuthExpired(err):
		// Refresh already failed once inside the snapshot service; the
		// owner's credential needs rotating, retrying it is pointless
		log.Warn("credential rejected, skipping workflow",
			"workflow_id", workflow.ID(),
			"remote_id", workflow.RemoteID(),
		)
		atomic.AddInt64(&stats.Skipped, 1)
		s.observeWorkflow("skipped")

	case remote.IsNotFound(err):
		// Already flagged stale by the snapshot service
		atomic.AddInt64(&stats.Stale, 1)
		s.observeWorkflow("stale")

	case errors.Is(err, service.ErrWorkflowNotFound):
		// Unprotected between listing and processing
		atomic.AddInt64(&stats.Skipped, 1)
		s.observeWorkflow("skipped")

	default:
		log.Error("failed to reconcile workflow",
			"workflow_id", workflow.ID(),
			"remote_id", workflow.RemoteID(),
			"error", err,
		)
		atomic.AddInt64(&stats.Failed, 1)
		s.observeWorkflow("failed")
	}
}

func (s *Scheduler) observeCycle(outcome string) {
	if s.metrics != nil {
		s.metrics.SyncCyclesTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Scheduler) observeWorkflow(result string) {
	if s.metrics != nil {
		s.metrics.SyncWorkflows.WithLabelValues(result).Inc()
	}
}
