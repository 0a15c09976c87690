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
	fundingTickInterval = 30 * time.Second
	fundingWindow       = 8 * time.Hour
	// velocity is taken across the last few samples only, so a long quiet
	// stretch does not wash out a fresh move
	velocitySamples = 10
)

// FundingAnalysis is the result of one funding engine pass.
type FundingAnalysis struct {
	CurrentRate      float64
	AnnualizedAPR    float64
	Avg8hRate        float64
	Avg8hAPR         float64
	Velocity         float64 // rate change per hour
	PredictedPayment float64 // USD per $1000 notional per period
	Volatility       float64
	IsElevated       bool
	IsReversing      bool
	Timestamp        int64
}

// FundingEngine maintains rolling funding statistics on a 30 second cadence.
type FundingEngine struct {
	cfg   *config.Config
	state *state.SharedState
	bus   *bus.Bus

	mu           sync.RWMutex
	history      []domain.FundingSample
	lastAnalysis *FundingAnalysis
	wasElevated  bool
	wasReversing bool
}

// NewFundingEngine creates a funding engine.
func NewFundingEngine(cfg *config.Config, st *state.SharedState, b *bus.Bus) *FundingEngine {
	return &FundingEngine{
		cfg:   cfg,
		state: st,
		bus:   b,
	}
}

// Run drives the engine until the context is cancelled.
func (e *FundingEngine) Run(ctx context.Context) error {
	slog.Info("funding engine starting", "interval", fundingTickInterval)
	ticker := time.NewTicker(fundingTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("funding engine stopped")
			return nil
		case <-ticker.C:
			e.Tick(time.Now().UnixMilli())
		}
	}
}

// Tick runs one analysis pass. Samples with a zero rate are skipped; the feed
// has not produced data yet.
func (e *FundingEngine) Tick(now int64) {
	rate := e.state.CurrentFundingRate.Load()
	apr := e.state.FundingAPR.Load()
	if rate == 0 {
		return
	}

	e.mu.Lock()
	e.history = append(e.history, domain.FundingSample{Timestamp: now, Rate: rate, APR: apr})
	e.trimLocked(now)
	analysis := e.analyzeLocked(rate, apr, now)
	e.lastAnalysis = &analysis

	elevatedFlipped := analysis.IsElevated && !e.wasElevated
	reversingFlipped := analysis.IsReversing && !e.wasReversing
	e.wasElevated = analysis.IsElevated
	e.wasReversing = analysis.IsReversing
	e.mu.Unlock()

	slog.Debug("funding analysis",
		"apr", fmt.Sprintf("%.2f%%", analysis.AnnualizedAPR),
		"avg_8h", fmt.Sprintf("%.2f%%", analysis.Avg8hAPR),
		"velocity", fmt.Sprintf("%.6f", analysis.Velocity),
		"volatility", fmt.Sprintf("%.6f", analysis.Volatility),
	)

	if elevatedFlipped {
		e.bus.Publish(domain.SignalEvent{
			SignalType: "funding_elevated",
			Size:       0,
			Reason: fmt.Sprintf("Funding APR %.2f%% exceeds threshold %.2f%%",
				analysis.AnnualizedAPR, e.cfg.Trading.MinFundingAPRPct),
		})
	}
	if reversingFlipped {
		e.bus.Publish(domain.SignalEvent{
			SignalType: "funding_reversing",
			Size:       0,
			Reason:     fmt.Sprintf("Funding rate reversing: velocity=%.6f", analysis.Velocity),
		})
	}
}

func (e *FundingEngine) analyzeLocked(rate, apr float64, now int64) FundingAnalysis {
	var sumRate, sumAPR float64
	rates := make([]float64, len(e.history))
	for i, s := range e.history {
		sumRate += s.Rate
		sumAPR += s.APR
		rates[i] = s.Rate
	}
	n := float64(len(e.history))
	avgRate, avgAPR := rate, apr
	if n > 0 {
		avgRate = sumRate / n
		avgAPR = sumAPR / n
	}

	velocity := e.velocityLocked()

	return FundingAnalysis{
		CurrentRate:      rate,
		AnnualizedAPR:    apr,
		Avg8hRate:        avgRate,
		Avg8hAPR:         avgAPR,
		Velocity:         velocity,
		PredictedPayment: rate * 1000.0,
		Volatility:       domain.StdDev(rates),
		IsElevated:       abs(apr) >= e.cfg.Trading.MinFundingAPRPct,
		IsReversing: (rate > 0 && velocity < -0.0001) ||
			(rate < 0 && velocity > 0.0001),
		Timestamp: now,
	}
}

// velocityLocked is the end-to-end rate change of the last samples,
// per hour of elapsed time.
func (e *FundingEngine) velocityLocked() float64 {
	if len(e.history) < 2 {
		return 0
	}
	start := len(e.history) - velocitySamples
	if start < 0 {
		start = 0
	}
	recent := e.history[start:]
	first := recent[0]
	last := recent[len(recent)-1]
	hours := float64(last.Timestamp-first.Timestamp) / 3_600_000.0
	if hours <= 0 {
		return 0
	}
	return (last.Rate - first.Rate) / hours
}

func (e *FundingEngine) trimLocked(now int64) {
	cutoff := now - fundingWindow.Milliseconds()
	i := 0
	for i < len(e.history) && e.history[i].Timestamp < cutoff {
		i++
	}
	if i > 0 {
		e.history = append(e.history[:0], e.history[i:]...)
	}
}

// LastAnalysis returns the most recent analysis, or nil before the first tick.
func (e *FundingEngine) LastAnalysis() *FundingAnalysis {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastAnalysis == nil {
		return nil
	}
	a := *e.lastAnalysis
	return &a
}

// Avg8hAPR returns the current 8 hour APR average, 0 before the first tick.
func (e *FundingEngine) Avg8hAPR() float64 {
	if a := e.LastAnalysis(); a != nil {
		return a.Avg8hAPR
	}
	return 0
}

// Velocity returns the current funding velocity, 0 before the first tick.
func (e *FundingEngine) Velocity() float64 {
	if a := e.LastAnalysis(); a != nil {
		return a.Velocity
	}
	return 0
}

// IsElevated reports whether the current APR clears the configured minimum.
func (e *FundingEngine) IsElevated() bool {
	if a := e.LastAnalysis(); a != nil {
		return a.IsElevated
	}
	return false
}
