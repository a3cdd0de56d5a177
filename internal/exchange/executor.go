package exchange

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/ksred/klear-swap/internal/types"
	"github.com/rs/zerolog/log"
)

// Executor performs a swap on the selected source
type Executor interface {
	Execute(ctx context.Context, source string, order *types.Order, quote *types.Quote) (*types.ExecutionResult, error)
}

// ExecutorConfig tunes the simulated execution
type ExecutorConfig struct {
	MinDelay       time.Duration
	MaxDelay       time.Duration
	MaxPriceImpact float64 // upper bound of the adverse price move, as a fraction
}

// DefaultExecutorConfig mirrors a 2-3s confirmation with up to 2% price impact
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MinDelay:       2 * time.Second,
		MaxDelay:       3 * time.Second,
		MaxPriceImpact: 0.02,
	}
}

// maxExecutionDelay bounds a single simulated execution
const maxExecutionDelay = 10 * time.Second

// SimulatedExecutor fills a swap after a randomized confirmation delay at a
// price perturbed away from the quote
type SimulatedExecutor struct {
	cfg ExecutorConfig
	rng RandSource
}

// NewSimulatedExecutor creates an executor. A nil rng uses DefaultRand.
func NewSimulatedExecutor(cfg ExecutorConfig, rng RandSource) *SimulatedExecutor {
	if rng == nil {
		rng = DefaultRand
	}
	return &SimulatedExecutor{cfg: cfg, rng: rng}
}

// Execute simulates the swap and enforces the order's slippage tolerance
func (e *SimulatedExecutor) Execute(ctx context.Context, source string, order *types.Order, quote *types.Quote) (*types.ExecutionResult, error) {
	logger := log.With().
		Str("source", source).
		Str("order_id", order.ID).
		Float64("amount_in", order.AmountIn).
		Float64("quoted_price", quote.Price).
		Logger()

	logger.Info().Msg("attempting to execute swap")

	delay := randomDuration(e.rng, e.cfg.MinDelay, e.cfg.MaxDelay, maxExecutionDelay)
	logger.Debug().Dur("delay", delay).Msg("simulated execution delay")
	if err := sleep(ctx, delay); err != nil {
		return nil, err
	}

	executedPrice := quote.Price * (1 - e.rng.Float64()*e.cfg.MaxPriceImpact)
	amountOut := types.EstimateOutput(order.AmountIn, executedPrice, quote.Fee)

	observed := math.Abs(executedPrice-quote.Price) / quote.Price
	if observed > order.Slippage {
		logger.Warn().
			Float64("executed_price", executedPrice).
			Float64("observed_slippage", observed).
			Float64("tolerance", order.Slippage).
			Msg("execution rejected on slippage")
		return nil, &SlippageExceededError{Tolerance: order.Slippage, Observed: observed}
	}

	txHash, err := newTxHash()
	if err != nil {
		return nil, fmt.Errorf("failed to generate tx hash: %w", err)
	}

	result := &types.ExecutionResult{
		TxHash:        txHash,
		ExecutedPrice: executedPrice,
		AmountOut:     amountOut,
		Fee:           quote.Fee,
		Timestamp:     time.Now(),
	}

	logger.Info().
		Str("tx_hash", result.TxHash).
		Float64("executed_price", result.ExecutedPrice).
		Float64("amount_out", result.AmountOut).
		Msg("swap executed successfully")

	return result, nil
}

// newTxHash returns 32 random bytes as 64 lowercase hex characters
func newTxHash() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
