package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/phrazzld/scry-tasks/internal/domain"
	"github.com/phrazzld/scry-tasks/internal/metrics"
	"github.com/phrazzld/scry-tasks/internal/queue"
	"github.com/phrazzld/scry-tasks/internal/store"
)

// SweeperConfig holds configuration for the staleness sweeper
type SweeperConfig struct {
	// Interval defines how often to look for stale tasks
	Interval time.Duration

	// StaleAfter is how long a PENDING task may wait before it is
	// republished, covering submissions whose publish was lost
	StaleAfter time.Duration

	// ClaimLease is how long a PROCESSING task may go without progress
	// before it is republished so another worker can reclaim it
	ClaimLease time.Duration

	// Batch bounds how many tasks of each status are republished per sweep
	Batch int
}

// DefaultSweeperConfig returns a SweeperConfig with reasonable defaults
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:   time.Minute,
		StaleAfter: 2 * time.Minute,
		ClaimLease: 10 * time.Minute,
		Batch:      100,
	}
}

// Sweeper periodically republishes tasks stuck in PENDING or PROCESSING.
// Republishing never changes task state: the claim step decides whether a
// redelivery may proceed, so a sweep racing a live worker is harmless.
type Sweeper struct {
	store     store.TaskStore
	publisher queue.Publisher
	config    SweeperConfig
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewSweeper creates a Sweeper. Non-positive config values fall back to defaults.
func NewSweeper(
	taskStore store.TaskStore,
	publisher queue.Publisher,
	config SweeperConfig,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Sweeper {
	defaults := DefaultSweeperConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = defaults.StaleAfter
	}
	if config.ClaimLease <= 0 {
		config.ClaimLease = defaults.ClaimLease
	}
	if config.Batch <= 0 {
		config.Batch = defaults.Batch
	}

	return &Sweeper{
		store:     taskStore,
		publisher: publisher,
		config:    config,
		logger:    logger,
		metrics:   m,
	}
}

// Run sweeps once immediately and then on every interval until ctx is done.
// Recovering tasks left behind by a previous process happens on the first sweep.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("starting sweeper",
		"interval", s.config.Interval,
		"stale_after", s.config.StaleAfter,
		"claim_lease", s.config.ClaimLease)

	for {
		s.Sweep(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("stopping sweeper")
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep republishes one batch of stale PENDING and PROCESSING tasks and
// returns how many references were published.
func (s *Sweeper) Sweep(ctx context.Context) int {
	pending := s.republish(ctx, domain.TaskStatusPending, s.config.StaleAfter)
	processing := s.republish(ctx, domain.TaskStatusProcessing, s.config.ClaimLease)
	return pending + processing
}

func (s *Sweeper) republish(ctx context.Context, status domain.TaskStatus, olderThan time.Duration) int {
	ids, err := s.store.ListStale(ctx, status, olderThan, s.config.Batch)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("failed to list stale tasks", "status", status, "error", err)
		}
		return 0
	}
	if len(ids) == 0 {
		return 0
	}

	s.logger.Info("found stale tasks", "status", status, "count", len(ids))

	published := 0
	for _, id := range ids {
		if err := s.publisher.Publish(ctx, id); err != nil {
			s.logger.Error("failed to republish stale task",
				"task_id", id,
				"status", status,
				"error", err)
			// The transport is likely down; the next sweep retries the rest.
			break
		}
		published++
	}

	s.metrics.Republished(string(status), published)
	return published
}
