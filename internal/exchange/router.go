package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/ksred/klear-swap/internal/types"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Router picks the best venue for a swap by comparing quotes from every
// configured source
type Router struct {
	sources []Source
}

// NewRouter creates a router. The order of sources is the tie-break priority:
// earlier sources win equal quotes.
func NewRouter(sources ...Source) *Router {
	return &Router{sources: sources}
}

// Sources returns the configured sources in priority order
func (r *Router) Sources() []Source {
	return r.sources
}

// BestQuote requests a quote from every source concurrently, waits for all of
// them, and returns the one with the greatest estimated output. A slow source
// is never cut short. It fails only when every source fails.
func (r *Router) BestQuote(ctx context.Context, pair types.Pair, amount float64) (*types.Quote, error) {
	logger := log.With().
		Str("component", "router").
		Str("pair", pair.String()).
		Float64("amount", amount).
		Logger()

	if len(r.sources) == 0 {
		return nil, &RoutingUnavailableError{Err: errors.New("no sources configured")}
	}

	quotes := make([]*types.Quote, len(r.sources))
	errs := make([]error, len(r.sources))

	var g errgroup.Group
	for i, src := range r.sources {
		i, src := i, src
		g.Go(func() error {
			q, err := src.Quote(ctx, pair, amount)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", src.ID(), err)
				return nil
			}
			quotes[i] = q
			return nil
		})
	}
	_ = g.Wait()

	var best *types.Quote
	var combined error
	for i, q := range quotes {
		if errs[i] != nil {
			combined = multierr.Append(combined, errs[i])
			logger.Warn().Err(errs[i]).Str("source", r.sources[i].ID()).Msg("quote request failed")
			continue
		}
		logger.Info().
			Str("source", q.Source).
			Float64("price", q.Price).
			Float64("fee", q.Fee).
			Float64("estimated_output", q.EstimatedOutput).
			Float64("liquidity", q.Liquidity).
			Msg("quote received")
		if best == nil || q.EstimatedOutput > best.EstimatedOutput {
			best = q
		}
	}

	if best == nil {
		logger.Error().Err(combined).Msg("no source returned a quote")
		return nil, &RoutingUnavailableError{Sources: len(r.sources), Err: combined}
	}

	logger.Info().
		Str("selected_source", best.Source).
		Float64("estimated_output", best.EstimatedOutput).
		Msg("best quote selected")

	return best, nil
}
