// Package engine contains the periodic analytic engines: basis statistics,
// funding statistics, funding-reversal detection and signal generation. Each
// engine owns a private rolling window, reads the shared state on its own
// cadence and publishes results back onto the bus.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/solbasis/basisbot/config"
	"github.com/solbasis/basisbot/internal/bus"
	"github.com/solbasis/basisbot/internal/domain"
	"github.com/solbasis/basisbot/internal/state"
)

const (
	basisTickInterval = 10 * time.Second
	basisWindow       = 8 * time.Hour
)

// BasisAnalysis is the result of one basis engine pass.
type BasisAnalysis struct {
	SpotPrice       float64
	PerpPrice       float64
	SpreadPct       float64
	AnnualizedYield float64
	Avg1hSpread     float64
	Avg8hSpread     float64
	Percentile      float64
	StdDev          float64
	ZScore          float64
	HedgeRatio      float64
	HedgeDrift      float64
	IsTradeable     bool
	Timestamp       int64
}

// BasisEngine maintains rolling basis statistics on a 10 second cadence.
type BasisEngine struct {
	cfg   *config.Config
	state *state.SharedState
	bus   *bus.Bus

	mu           sync.RWMutex
	history      []domain.BasisSample
	lastAnalysis *BasisAnalysis
}

// NewBasisEngine creates a basis engine.
func NewBasisEngine(cfg *config.Config, st *state.SharedState, b *bus.Bus) *BasisEngine {
	return &BasisEngine{
		cfg:   cfg,
		state: st,
		bus:   b,
	}
}

// Run drives the engine until the context is cancelled.
func (e *BasisEngine) Run(ctx context.Context) error {
	slog.Info("basis engine starting", "interval", basisTickInterval)
	ticker := time.NewTicker(basisTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("basis engine stopped")
			return nil
		case <-ticker.C:
			e.Tick(time.Now().UnixMilli())
		}
	}
}

// Tick runs one analysis pass. Exposed for tests and for the agent's
// snapshot queries.
func (e *BasisEngine) Tick(now int64) {
	spot := e.state.SpotPrice.Load()
	perp := e.state.PerpMarkPrice.Load()
	if spot <= 0 || perp <= 0 {
		return
	}

	spread := domain.BasisSpreadPct(spot, perp)

	e.mu.Lock()
	e.history = append(e.history, domain.BasisSample{
		Timestamp: now,
		SpotPrice: spot,
		PerpPrice: perp,
		SpreadPct: spread,
	})
	e.trimLocked(now)

	analysis := e.analyzeLocked(spot, perp, spread, now)
	e.lastAnalysis = &analysis
	e.mu.Unlock()

	slog.Debug("basis analysis",
		"spread", fmt.Sprintf("%.4f%%", analysis.SpreadPct),
		"avg_1h", fmt.Sprintf("%.4f%%", analysis.Avg1hSpread),
		"percentile", fmt.Sprintf("%.1f", analysis.Percentile),
		"z", fmt.Sprintf("%.2f", analysis.ZScore),
	)

	e.bus.Publish(domain.BasisSpreadUpdate{
		SpreadPct: spread,
		SpotPrice: spot,
		PerpPrice: perp,
		Timestamp: now,
	})

	threshold := e.cfg.Risk.HedgeDriftThresholdPct
	if drift := analysis.HedgeDrift; drift > threshold || drift < -threshold {
		e.bus.Publish(domain.SignalEvent{
			SignalType: "hedge_drift",
			Size:       0,
			Reason: fmt.Sprintf("Hedge drift %.2f%% exceeds threshold %.2f%%",
				drift, threshold),
		})
	}
}

// analyzeLocked computes the rolling statistics. Callers hold e.mu.
func (e *BasisEngine) analyzeLocked(spot, perp, spread float64, now int64) BasisAnalysis {
	spreads := make([]float64, len(e.history))
	for i, s := range e.history {
		spreads[i] = s.SpreadPct
	}

	mean := domain.Mean(spreads)
	stdDev := domain.StdDev(spreads)

	return BasisAnalysis{
		SpotPrice: spot,
		PerpPrice: perp,
		SpreadPct: spread,
		// One-day compounding approximation, intentionally simple.
		AnnualizedYield: spread * 365.0,
		Avg1hSpread:     e.windowAvgLocked(now, time.Hour),
		Avg8hSpread:     e.windowAvgLocked(now, basisWindow),
		Percentile:      domain.PercentileRank(spreads, spread),
		StdDev:          stdDev,
		ZScore:          domain.ZScore(spread, mean, stdDev),
		// Delta-neutral target; seam for non-unit hedges.
		HedgeRatio:  1.0,
		HedgeDrift:  e.state.HedgeDrift.Load(),
		IsTradeable: abs(spread) >= e.cfg.Trading.MinBasisSpreadPct,
		Timestamp:   now,
	}
}

func (e *BasisEngine) windowAvgLocked(now int64, window time.Duration) float64 {
	cutoff := now - window.Milliseconds()
	var sum float64
	var n int
	for _, s := range e.history {
		if s.Timestamp >= cutoff {
			sum += s.SpreadPct
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func (e *BasisEngine) trimLocked(now int64) {
	cutoff := now - basisWindow.Milliseconds()
	i := 0
	for i < len(e.history) && e.history[i].Timestamp < cutoff {
		i++
	}
	if i > 0 {
		e.history = append(e.history[:0], e.history[i:]...)
	}
}

// LastAnalysis returns the most recent analysis, or nil before the first tick.
func (e *BasisEngine) LastAnalysis() *BasisAnalysis {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastAnalysis == nil {
		return nil
	}
	a := *e.lastAnalysis
	return &a
}

// SampleCount returns the current window population.
func (e *BasisEngine) SampleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.history)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
