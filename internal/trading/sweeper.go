package trading

import (
	"context"
	"time"

	"github.com/ksred/klear-swap/internal/types"
	"github.com/rs/zerolog/log"
)

// SweeperConfig tunes the recovery sweeper
type SweeperConfig struct {
	Interval    time.Duration
	MinAge      time.Duration // skip orders that may still be mid-submission
	MaxAttempts int           // attempts an order gets in total
}

// Sweeper re-enqueues orders the job runner lost track of: orders left
// pending between acceptance and scheduling, and, at start, failed orders
// whose retries were still waiting when the previous process stopped
type Sweeper struct {
	store Store
	queue Enqueuer
	cfg   SweeperConfig
}

func NewSweeper(store Store, queue Enqueuer, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Sweeper{
		store: store,
		queue: queue,
		cfg:   cfg,
	}
}

// Start recovers interrupted retries and sweeps pending orders once, then
// sweeps pending orders on every interval until ctx is done
func (s *Sweeper) Start(ctx context.Context) {
	logger := log.With().Str("component", "recovery_sweeper").Logger()
	logger.Info().Dur("interval", s.cfg.Interval).Msg("starting recovery sweeper")

	if _, err := s.Recover(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to recover failed orders")
	}
	if _, err := s.Sweep(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to sweep pending orders")
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down recovery sweeper")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to sweep pending orders")
			}
		}
	}
}

// Sweep enqueues every pending order older than MinAge and returns how many
// were newly scheduled. Orders the queue already tracks are skipped by it.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	logger := log.With().Str("component", "recovery_sweeper").Logger()

	orders, err := s.store.ListOrdersByStatus(ctx, types.StatusPending)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-s.cfg.MinAge)
	scheduled := 0
	for _, order := range orders {
		if order.CreatedAt.After(cutoff) {
			continue
		}

		ok, err := s.queue.Enqueue(order.ID)
		if err != nil {
			return scheduled, err
		}
		if ok {
			scheduled++
			logger.Info().
				Str("order_id", order.ID).
				Time("created_at", order.CreatedAt).
				Msg("re-enqueued pending order")
		}
	}

	if scheduled > 0 {
		logger.Info().Int("pending_count", len(orders)).Int("scheduled", scheduled).Msg("recovery sweep complete")
	}
	return scheduled, nil
}

// Recover resumes failed orders that still have attempts left, continuing
// their attempt count. It runs at start, when the queue holds no retries.
func (s *Sweeper) Recover(ctx context.Context) (int, error) {
	logger := log.With().Str("component", "recovery_sweeper").Logger()

	if s.cfg.MaxAttempts <= 0 {
		return 0, nil
	}

	orders, err := s.store.ListOrdersByStatus(ctx, types.StatusFailed)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, order := range orders {
		if order.RetryCount >= s.cfg.MaxAttempts {
			continue
		}

		ok, err := s.queue.Resume(order.ID, order.RetryCount)
		if err != nil {
			return resumed, err
		}
		if ok {
			resumed++
			logger.Info().
				Str("order_id", order.ID).
				Int("retry_count", order.RetryCount).
				Msg("resumed interrupted order")
		}
	}

	if resumed > 0 {
		logger.Info().Int("failed_count", len(orders)).Int("resumed", resumed).Msg("recovery complete")
	}
	return resumed, nil
}
