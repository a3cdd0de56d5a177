package exchange

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/ksred/klear-swap/internal/types"
	"github.com/rs/zerolog/log"
)

// MaxQuoteLatency caps the simulated round trip of a single quote request
const MaxQuoteLatency = 2 * time.Second

// Source is a liquidity venue able to price a swap. Implementations must be
// safe for concurrent use.
type Source interface {
	ID() string
	Quote(ctx context.Context, pair types.Pair, amount float64) (*types.Quote, error)
}

// RandSource supplies uniform numbers in [0,1). It must be safe for
// concurrent use.
type RandSource interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// DefaultRand is backed by the goroutine-safe top-level math/rand source
var DefaultRand RandSource = globalRand{}

// PriceFeed holds the reference price shared by all simulated venues
type PriceFeed struct {
	bits atomic.Uint64
}

// NewPriceFeed creates a feed starting at price
func NewPriceFeed(price float64) *PriceFeed {
	f := &PriceFeed{}
	f.Set(price)
	return f
}

// Price returns the current reference price
func (f *PriceFeed) Price() float64 {
	return math.Float64frombits(f.bits.Load())
}

// Set replaces the reference price
func (f *PriceFeed) Set(price float64) {
	f.bits.Store(math.Float64bits(price))
}

// SourceConfig describes a simulated venue
type SourceConfig struct {
	ID           string
	MinLatency   time.Duration
	MaxLatency   time.Duration
	PriceLow     float64 // lower bound of the price band, as a multiple of the reference
	PriceHigh    float64
	Fee          float64 // fraction of output kept by the venue
	LiquidityMin float64
	LiquidityMax float64
	FailureRate  float64 // 0-1, probability a quote request fails
}

// DefaultSources returns the built-in venues in priority order
func DefaultSources() []SourceConfig {
	return []SourceConfig{
		{
			ID:           "raydium",
			MinLatency:   150 * time.Millisecond,
			MaxLatency:   250 * time.Millisecond,
			PriceLow:     0.98,
			PriceHigh:    1.02,
			Fee:          0.003, // 0.3%
			LiquidityMin: 50000,
			LiquidityMax: 250000,
		},
		{
			ID:           "meteora",
			MinLatency:   150 * time.Millisecond,
			MaxLatency:   250 * time.Millisecond,
			PriceLow:     0.97,
			PriceHigh:    1.02,
			Fee:          0.002, // 0.2%
			LiquidityMin: 40000,
			LiquidityMax: 220000,
		},
	}
}

// SimulatedSource prices swaps from a variance band around the shared
// reference price, after a randomized network delay
type SimulatedSource struct {
	cfg  SourceConfig
	feed *PriceFeed
	rng  RandSource
}

// NewSimulatedSource creates a venue. A nil rng uses DefaultRand.
func NewSimulatedSource(cfg SourceConfig, feed *PriceFeed, rng RandSource) *SimulatedSource {
	if rng == nil {
		rng = DefaultRand
	}
	return &SimulatedSource{cfg: cfg, feed: feed, rng: rng}
}

// NewSimulatedSources builds one venue per config sharing the same feed
func NewSimulatedSources(cfgs []SourceConfig, feed *PriceFeed, rng RandSource) []Source {
	sources := make([]Source, 0, len(cfgs))
	for _, cfg := range cfgs {
		sources = append(sources, NewSimulatedSource(cfg, feed, rng))
	}
	return sources
}

func (s *SimulatedSource) ID() string {
	return s.cfg.ID
}

// Quote simulates a quote request against the venue
func (s *SimulatedSource) Quote(ctx context.Context, pair types.Pair, amount float64) (*types.Quote, error) {
	logger := log.With().
		Str("source", s.cfg.ID).
		Str("pair", pair.String()).
		Float64("amount", amount).
		Logger()

	latency := s.latency()
	logger.Debug().Dur("latency", latency).Msg("simulated quote latency")
	if err := sleep(ctx, latency); err != nil {
		return nil, err
	}

	if s.cfg.FailureRate > 0 && s.rng.Float64() < s.cfg.FailureRate {
		logger.Warn().Float64("failure_rate", s.cfg.FailureRate).Msg("quote request failed")
		return nil, fmt.Errorf("source %s: quote unavailable", s.cfg.ID)
	}

	reference := s.feed.Price()
	price := reference * (s.cfg.PriceLow + s.rng.Float64()*(s.cfg.PriceHigh-s.cfg.PriceLow))
	if price <= 0 {
		return nil, fmt.Errorf("source %s: non-positive price %v", s.cfg.ID, price)
	}
	liquidity := s.cfg.LiquidityMin + s.rng.Float64()*(s.cfg.LiquidityMax-s.cfg.LiquidityMin)

	quote := &types.Quote{
		Source:          s.cfg.ID,
		Price:           price,
		Fee:             s.cfg.Fee,
		EstimatedOutput: types.EstimateOutput(amount, price, s.cfg.Fee),
		Liquidity:       liquidity,
	}

	logger.Debug().
		Float64("price", quote.Price).
		Float64("fee", quote.Fee).
		Float64("estimated_output", quote.EstimatedOutput).
		Msg("quote produced")

	return quote, nil
}

func (s *SimulatedSource) latency() time.Duration {
	return randomDuration(s.rng, s.cfg.MinLatency, s.cfg.MaxLatency, MaxQuoteLatency)
}

// randomDuration draws uniformly from [lo,hi], clamped to ceiling when
// ceiling is positive
func randomDuration(rng RandSource, lo, hi, ceiling time.Duration) time.Duration {
	if hi < lo {
		hi = lo
	}
	d := lo + time.Duration(rng.Float64()*float64(hi-lo))
	if ceiling > 0 && d > ceiling {
		d = ceiling
	}
	if d < 0 {
		d = 0
	}
	return d
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
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
