package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ksred/klear-swap/internal/exchange"
	"github.com/ksred/klear-swap/internal/queue"
	"github.com/ksred/klear-swap/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

// QuoteRouter selects the best quote across venues
type QuoteRouter interface {
	BestQuote(ctx context.Context, pair types.Pair, amount float64) (*types.Quote, error)
}

// Publisher fans status updates out to observers
type Publisher interface {
	Publish(update types.StatusUpdate)
}

// PipelineConfig tunes the order pipeline
type PipelineConfig struct {
	BuildDelay time.Duration // time spent in the building phase
}

// Pipeline drives one execution attempt of an order through
// routing, building, submitted and finally confirmed or failed. Every
// transition is persisted before it is published.
type Pipeline struct {
	store     Store
	router    QuoteRouter
	executor  exchange.Executor
	publisher Publisher
	cfg       PipelineConfig
}

func NewPipeline(store Store, router QuoteRouter, executor exchange.Executor, publisher Publisher, cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		store:     store,
		router:    router,
		executor:  executor,
		publisher: publisher,
		cfg:       cfg,
	}
}

// Execute runs attempt number attempt for orderID. It never retries on its
// own: transient failures are reported as retryable outcomes.
func (p *Pipeline) Execute(ctx context.Context, orderID string, attempt int) queue.Outcome {
	logger := log.With().
		Str("component", "pipeline").
		Str("order_id", orderID).
		Int("attempt", attempt).
		Logger()

	order, err := p.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			logger.Error().Msg("order not found, dropping job")
			return queue.Fatal(fmt.Errorf("order %s: %w", orderID, err))
		}
		return classify(fmt.Errorf("failed to load order: %w", queue.Transient(err)))
	}

	if !order.Status.CanRestart() {
		logger.Info().Str("status", string(order.Status)).Msg("order already confirmed, nothing to do")
		return queue.Success()
	}

	logger.Info().
		Str("pair", order.Pair().String()).
		Float64("amount_in", order.AmountIn).
		Float64("slippage", order.Slippage).
		Msg("executing order")

	order, err = p.begin(ctx, order, attempt)
	if err != nil {
		return p.fail(ctx, logger, order, err)
	}

	quote, err := p.router.BestQuote(ctx, order.Pair(), order.AmountIn)
	if err != nil {
		return p.fail(ctx, logger, order, fmt.Errorf("routing failed: %w", err))
	}

	order, err = p.advance(ctx, order, types.OrderUpdate{Status: types.Ptr(types.StatusBuilding)})
	if err != nil {
		return p.fail(ctx, logger, order, err)
	}
	logger.Info().Str("source", quote.Source).Msg("building transaction")

	if err := wait(ctx, p.cfg.BuildDelay); err != nil {
		return p.fail(ctx, logger, order, err)
	}

	order, err = p.advance(ctx, order, types.OrderUpdate{Status: types.Ptr(types.StatusSubmitted)})
	if err != nil {
		return p.fail(ctx, logger, order, err)
	}

	result, err := p.executor.Execute(ctx, quote.Source, order, quote)
	if err != nil {
		return p.fail(ctx, logger, order, fmt.Errorf("execution on %s failed: %w", quote.Source, err))
	}

	order, err = p.advance(ctx, order, types.OrderUpdate{
		Status:        types.Ptr(types.StatusConfirmed),
		Source:        types.Ptr(quote.Source),
		ExecutedPrice: types.Ptr(result.ExecutedPrice),
		AmountOut:     types.Ptr(result.AmountOut),
		TxHash:        types.Ptr(result.TxHash),
	})
	if err != nil {
		return p.fail(ctx, logger, order, err)
	}

	logger.Info().
		Str("source", *order.Source).
		Str("tx_hash", *order.TxHash).
		Float64("executed_price", *order.ExecutedPrice).
		Msg("order confirmed")

	return queue.Success()
}

// begin starts a new attempt at routing. A new attempt is the only way out of
// failed.
func (p *Pipeline) begin(ctx context.Context, order *types.Order, attempt int) (*types.Order, error) {
	updated, err := p.store.UpdateOrder(ctx, order.ID, types.OrderUpdate{
		Status:     types.Ptr(types.StatusRouting),
		RetryCount: types.Ptr(attempt),
		ClearError: true,
	})
	if err != nil {
		return order, fmt.Errorf("failed to start attempt: %w", queue.Transient(err))
	}
	p.publisher.Publish(types.NewStatusUpdate(updated))
	return updated, nil
}

// advance moves order one step along the state machine
func (p *Pipeline) advance(ctx context.Context, order *types.Order, update types.OrderUpdate) (*types.Order, error) {
	next := *update.Status
	if !order.Status.CanTransitionTo(next) {
		return order, fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, order.Status, next)
	}

	updated, err := p.store.UpdateOrder(ctx, order.ID, update)
	if err != nil {
		return order, fmt.Errorf("failed to persist %s: %w", next, queue.Transient(err))
	}
	p.publisher.Publish(types.NewStatusUpdate(updated))
	return updated, nil
}

// fail records the attempt's failure and classifies it for the runner
func (p *Pipeline) fail(ctx context.Context, logger zerolog.Logger, order *types.Order, cause error) queue.Outcome {
	logger.Warn().Err(cause).Str("status", string(order.Status)).Msg("order attempt failed")

	// the failure must be recorded even when the attempt was cancelled
	persistCtx := context.WithoutCancel(ctx)
	updated, err := p.store.UpdateOrder(persistCtx, order.ID, types.OrderUpdate{
		Status: types.Ptr(types.StatusFailed),
		Error:  types.Ptr(cause.Error()),
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to persist order failure")
		cause = multierr.Append(cause, fmt.Errorf("failed to persist failure: %w", queue.Transient(err)))
	} else {
		p.publisher.Publish(types.NewStatusUpdate(updated))
	}

	return classify(cause)
}

// classify decides whether another attempt can help. Missing orders and
// broken transitions are fatal, interrupted attempts may run again, and
// everything else is retried only when the error declares itself retriable.
func classify(err error) queue.Outcome {
	switch {
	case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrInvalidTransition):
		return queue.Fatal(err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return queue.Retryable(err)
	}
	return queue.Classify(err)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
