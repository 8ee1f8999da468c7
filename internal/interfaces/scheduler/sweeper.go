package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"nero/internal/domain/connection"
	"nero/internal/domain/openfinance"
	"nero/internal/domain/synclog"
	ofclient "nero/internal/infrastructure/openfinance"
	"nero/internal/shared/clock"
)

// ErrValidation rejects an on-demand sync request before any network call
var ErrValidation = errors.New("invalid sync request")

// Sweep kinds
const (
	KindFullSweep  = "full_sweep"
	KindStaleCheck = "staleness_check"
)

// SweepConfig tunes the scheduled sweeps
type SweepConfig struct {
	SweepDelay     time.Duration // pause between syncs during a full sweep
	StaleDelay     time.Duration // pause between syncs during a staleness check
	StaleAfter     time.Duration
	StaleBatchSize int
}

// DefaultSweepConfig returns the production defaults
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		SweepDelay:     2 * time.Second,
		StaleDelay:     3 * time.Second,
		StaleAfter:     12 * time.Hour,
		StaleBatchSize: 10,
	}
}

// SweepReport summarizes one sweep
type SweepReport struct {
	Kind            string        `json:"kind"`
	Skipped         bool          `json:"skipped"` // another sweep was already running
	Connections     int           `json:"connections"`
	Succeeded       int           `json:"succeeded"`
	Partial         int           `json:"partial"`
	Failed          int           `json:"failed"`
	NotStarted      int           `json:"notStarted"`
	NewTransactions int           `json:"newTransactions"`
	Aborted         bool          `json:"aborted"`
	Duration        time.Duration `json:"duration"`
}

// Sweeper selects connections and syncs them through the worker pool. At most
// one sweep runs at a time in the process.
type Sweeper struct {
	connections connection.Repository
	syncer      ConnectionSyncer
	logs        synclog.Repository
	pool        *WorkerPool
	clock       clock.Clock
	cfg         SweepConfig

	running atomic.Bool
}

// NewSweeper creates a sweeper. logs may be nil.
func NewSweeper(
	connections connection.Repository,
	syncer ConnectionSyncer,
	logs synclog.Repository,
	pool *WorkerPool,
	clk clock.Clock,
	cfg SweepConfig,
) *Sweeper {
	defaults := DefaultSweepConfig()
	if cfg.SweepDelay < 0 {
		cfg.SweepDelay = 0
	}
	if cfg.StaleDelay < 0 {
		cfg.StaleDelay = 0
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaults.StaleAfter
	}
	if cfg.StaleBatchSize <= 0 {
		cfg.StaleBatchSize = defaults.StaleBatchSize
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Sweeper{
		connections: connections,
		syncer:      syncer,
		logs:        logs,
		pool:        pool,
		clock:       clk,
		cfg:         cfg,
	}
}

// Running reports whether a sweep is in progress
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// RunFullSweep syncs every connection in a sweepable status, least recently
// synced first.
func (s *Sweeper) RunFullSweep(ctx context.Context) (*SweepReport, error) {
	return s.sweep(ctx, KindFullSweep, s.cfg.SweepDelay, func(ctx context.Context) ([]*connection.Connection, error) {
		return s.connections.ListForSweep(ctx, connection.SweepStatuses, 0)
	})
}

// RunStalenessCheck syncs a bounded batch of updated connections whose last
// sync is older than the staleness window.
func (s *Sweeper) RunStalenessCheck(ctx context.Context) (*SweepReport, error) {
	return s.sweep(ctx, KindStaleCheck, s.cfg.StaleDelay, func(ctx context.Context) ([]*connection.Connection, error) {
		return s.connections.ListStale(ctx, s.clock.Now().Add(-s.cfg.StaleAfter), s.cfg.StaleBatchSize)
	})
}

func (s *Sweeper) sweep(
	ctx context.Context,
	kind string,
	delay time.Duration,
	selectConnections func(context.Context) ([]*connection.Connection, error),
) (*SweepReport, error) {
	report := &SweepReport{Kind: kind}

	if !s.running.CompareAndSwap(false, true) {
		log.Printf("Scheduler: %s requested while another sweep is running, skipping", kind)
		report.Skipped = true
		return report, nil
	}
	// Cleared only after the pool has returned, i.e. after every status update
	defer s.running.Store(false)

	start := s.clock.Now()

	conns, err := selectConnections(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to select connections for %s: %w", kind, err)
	}
	report.Connections = len(conns)

	if len(conns) == 0 {
		log.Printf("Scheduler: %s found no connections to sync", kind)
		return report, nil
	}
	log.Printf("Scheduler: %s starting for %d connections", kind, len(conns))

	jobs := make([]Job, len(conns))
	syncJobs := make([]*ConnectionSyncJob, len(conns))
	for i, conn := range conns {
		syncJobs[i] = NewConnectionSyncJob(conn, s.syncer, s.logs, synclog.TypeAutomatic, s.clock)
		jobs[i] = syncJobs[i]
	}

	result := s.pool.Run(ctx, jobs, BatchOptions{
		Delay: delay,
		Abort: func(err error) bool { return errors.Is(err, ofclient.ErrAuth) },
	})

	for _, job := range syncJobs {
		run := job.Run()
		if run == nil {
			continue
		}
		report.NewTransactions += run.NewTransactions
		switch run.Outcome {
		case openfinance.OutcomeSucceeded:
			report.Succeeded++
		case openfinance.OutcomePartial:
			report.Partial++
		}
	}
	report.Failed = result.Failed
	report.NotStarted = result.NotStarted
	report.Duration = s.clock.Now().Sub(start)

	log.Printf("Scheduler: %s finished in %s: connections=%d, succeeded=%d, partial=%d, failed=%d, not_started=%d, new_transactions=%d",
		kind, report.Duration, report.Connections, report.Succeeded, report.Partial, report.Failed, report.NotStarted, report.NewTransactions)

	if result.AbortedBy != nil {
		report.Aborted = true
		return report, fmt.Errorf("%s aborted: %w", kind, result.AbortedBy)
	}
	return report, nil
}

// SyncOne syncs a single connection on request. It does not take the sweep guard.
func (s *Sweeper) SyncOne(ctx context.Context, userID, connectionID string) (*openfinance.SyncRun, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if strings.TrimSpace(connectionID) == "" {
		return nil, fmt.Errorf("%w: connection id is required", ErrValidation)
	}

	conn, err := s.connections.FindByID(ctx, userID, connectionID)
	if err != nil {
		if errors.Is(err, connection.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load connection %s: %w", connectionID, err)
	}

	job := NewConnectionSyncJob(conn, s.syncer, s.logs, synclog.TypeManual, s.clock)
	err = job.Execute(ctx)
	return job.Run(), err
}
