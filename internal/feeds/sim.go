// Package feeds contains the price sources that push updates into the shared
// state. The real pollers live outside the core; the simulated feed here
// drives paper runs with a mean-reverting random walk so every subsystem sees
// realistic movement without touching a venue.
package feeds

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/solbasis/basisbot/internal/bus"
	"github.com/solbasis/basisbot/internal/domain"
	"github.com/solbasis/basisbot/internal/state"
)

const (
	// updates per second pushed into the state
	simUpdatesPerSecond = 2

	spotVolatility    = 0.0004 // per-step stddev of the spot walk
	basisReversion    = 0.05   // pull of the basis toward its anchor
	basisNoise        = 0.01   // per-step basis noise (pct points)
	fundingNoise      = 0.02   // relative per-step funding noise
	fundingAnchorRate = 0.0001 // hourly fraction the funding drifts around
)

// SimFeed replays a synthetic market for paper trading.
type SimFeed struct {
	state   *state.SharedState
	bus     *bus.Bus
	limiter *rate.Limiter
	rng     *rand.Rand

	spot     float64
	basisPct float64
	funding  float64
}

// NewSimFeed creates a simulated feed starting at the given spot price.
func NewSimFeed(st *state.SharedState, b *bus.Bus, startSpot float64) *SimFeed {
	return &SimFeed{
		state:    st,
		bus:      b,
		limiter:  rate.NewLimiter(rate.Limit(simUpdatesPerSecond), 1),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		spot:     startSpot,
		basisPct: 0.15,
		funding:  fundingAnchorRate,
	}
}

// Run pushes updates until the context is cancelled. Connection flags are
// held up for the duration so the risk manager treats the feed as live.
func (f *SimFeed) Run(ctx context.Context) error {
	slog.Info("simulated feed starting", "spot", f.spot)
	f.state.SetRPCConnected(true)
	f.state.SetWSConnected(true)
	defer func() {
		f.state.SetRPCConnected(false)
		f.state.SetWSConnected(false)
		slog.Info("simulated feed stopped")
	}()

	fundingTicker := time.NewTicker(30 * time.Second)
	defer fundingTicker.Stop()

	// push an initial funding rate so the engines have data immediately
	f.pushFunding()

	for {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil // context cancelled
		}
		select {
		case <-ctx.Done():
			return nil
		case <-fundingTicker.C:
			f.pushFunding()
		default:
		}
		f.pushPrices()
	}
}

// pushPrices advances the walk one step and writes both prices.
func (f *SimFeed) pushPrices() {
	now := time.Now().UnixMilli()

	f.spot *= 1 + f.rng.NormFloat64()*spotVolatility
	f.basisPct += basisReversion*(0.15-f.basisPct) + f.rng.NormFloat64()*basisNoise
	perp := f.spot * (1 + f.basisPct/100)

	f.state.UpdateSpotPrice(f.spot)
	f.state.UpdatePerpMarkPrice(perp)
	f.state.UpdatePerpIndexPrice(f.spot * (1 + f.basisPct/200))

	f.bus.Publish(domain.PriceUpdate{Source: domain.SourceSpot, Price: f.spot, Timestamp: now})
	f.bus.Publish(domain.PriceUpdate{Source: domain.SourcePerpMark, Price: perp, Timestamp: now})
}

// pushFunding walks the funding rate around its anchor.
func (f *SimFeed) pushFunding() {
	f.funding += fundingAnchorRate * fundingNoise * f.rng.NormFloat64()
	// keep the sign stable; a paper run should mostly collect funding
	if f.funding < fundingAnchorRate*0.1 {
		f.funding = fundingAnchorRate * 0.1
	}
	if math.Abs(f.funding) > fundingAnchorRate*5 {
		f.funding = fundingAnchorRate * 5
	}

	f.state.UpdateFundingRate(f.funding)
	f.bus.Publish(domain.FundingUpdate{
		Rate:      f.funding,
		APR:       domain.FundingAPR(f.funding),
		Timestamp: time.Now().UnixMilli(),
	})
}
