package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/solbasis/basisbot/config"
	"github.com/solbasis/basisbot/internal/domain"
	"github.com/solbasis/basisbot/internal/ports"
	"github.com/solbasis/basisbot/internal/state"
)

// RebalanceDecision says whether and how to adjust the hedge.
type RebalanceDecision struct {
	ShouldRebalance bool
	SpotAdjustment  float64 // positive = buy
	PerpAdjustment  float64 // positive = increase long / reduce short
	Reason          string
}

// RebalanceResult reports an executed (or refused) rebalance.
type RebalanceResult struct {
	Success    bool
	SpotTraded float64
	PerpTraded float64
	Signature  string
	Err        string
}

// RebalanceStats exposes the rate-limit accounting.
type RebalanceStats struct {
	LastRebalance      int64 // unix seconds, 0 = never
	RebalancesThisHour int
	MaxPerHour         int
}

// Rebalancer keeps the hedge within its drift tolerance, subject to an
// hourly cap and a minimum interval between adjustments.
type Rebalancer struct {
	cfg       *config.Config
	state     *state.SharedState
	positions ports.PositionReader
	executor  ports.Executor

	mu             sync.Mutex
	lastRebalance  int64 // unix seconds
	rebalanceCount int
	countResetHour int64

	now func() time.Time // swappable in tests
}

// NewRebalancer creates a rebalancer.
func NewRebalancer(cfg *config.Config, st *state.SharedState, positions ports.PositionReader, executor ports.Executor) *Rebalancer {
	return &Rebalancer{
		cfg:       cfg,
		state:     st,
		positions: positions,
		executor:  executor,
		now:       time.Now,
	}
}

// NeedsRebalance is the cheap yes/no used by the monitoring loop.
func (r *Rebalancer) NeedsRebalance() bool {
	return r.Evaluate().ShouldRebalance
}

// Evaluate checks drift, rate limits and minimum size, and sizes the
// adjustment split across both legs.
func (r *Rebalancer) Evaluate() RebalanceDecision {
	drift := r.state.HedgeDrift.Load()
	threshold := r.cfg.Risk.HedgeDriftThresholdPct

	if abs(drift) < threshold {
		return RebalanceDecision{
			Reason: fmt.Sprintf("Drift %.2f%% below threshold %.2f%%", drift, threshold),
		}
	}

	if !r.canRebalance() {
		return RebalanceDecision{Reason: "Rate limited"}
	}

	summary := r.positions.Summary()
	minSize := r.cfg.Rebalance.MinRebalanceSizeSOL

	if drift > 0 {
		// spot heavy
		adjustment := summary.SpotSize * drift / 100.0
		if adjustment < minSize {
			return RebalanceDecision{
				Reason: fmt.Sprintf("Adjustment %.4f below minimum %.4f", adjustment, minSize),
			}
		}
		return RebalanceDecision{
			ShouldRebalance: true,
			SpotAdjustment:  -adjustment / 2,
			PerpAdjustment:  adjustment / 2,
			Reason:          fmt.Sprintf("Drift %.2f%% exceeds threshold %.2f%%", drift, threshold),
		}
	}

	// perp heavy
	adjustment := summary.PerpSize * -drift / 100.0
	if adjustment < minSize {
		return RebalanceDecision{
			Reason: fmt.Sprintf("Adjustment %.4f below minimum %.4f", adjustment, minSize),
		}
	}
	return RebalanceDecision{
		ShouldRebalance: true,
		SpotAdjustment:  adjustment / 2,
		PerpAdjustment:  -adjustment / 2,
		Reason:          fmt.Sprintf("Drift %.2f%% exceeds threshold %.2f%%", drift, threshold),
	}
}

// ExecuteRebalance applies the current decision through the executor.
func (r *Rebalancer) ExecuteRebalance(ctx context.Context) (RebalanceResult, error) {
	decision := r.Evaluate()
	if !decision.ShouldRebalance {
		return RebalanceResult{Err: decision.Reason}, nil
	}

	slog.Info("executing rebalance",
		"spot", fmt.Sprintf("%.4f", decision.SpotAdjustment),
		"perp", fmt.Sprintf("%.4f", decision.PerpAdjustment),
		"reason", decision.Reason,
	)

	r.recordRebalance()

	res, err := r.executor.Adjust(ctx, decision.SpotAdjustment, decision.PerpAdjustment)
	if err != nil {
		return RebalanceResult{Err: err.Error()}, fmt.Errorf("agent.ExecuteRebalance: %w", err)
	}

	r.updateHedgeDrift()
	r.state.LastRebalance.Store(r.now().UnixMilli())

	return RebalanceResult{
		Success:    res.Success,
		SpotTraded: decision.SpotAdjustment,
		PerpTraded: decision.PerpAdjustment,
		Signature:  res.Signature,
		Err:        res.Err,
	}, nil
}

// canRebalance enforces the hourly cap and the minimum interval.
func (r *Rebalancer) canRebalance() bool {
	now := r.now()
	currentHour := now.Unix() / 3600

	r.mu.Lock()
	defer r.mu.Unlock()

	if currentHour > r.countResetHour {
		r.rebalanceCount = 0
		r.countResetHour = currentHour
	}

	if r.rebalanceCount >= r.cfg.Rebalance.MaxRebalancesPerHour {
		slog.Warn("rebalance rate limit reached", "count", r.rebalanceCount)
		return false
	}

	if r.lastRebalance > 0 && now.Unix()-r.lastRebalance < int64(r.cfg.Rebalance.CheckIntervalSecs) {
		slog.Debug("rebalance interval not met")
		return false
	}
	return true
}

func (r *Rebalancer) recordRebalance() {
	r.mu.Lock()
	r.lastRebalance = r.now().Unix()
	r.rebalanceCount++
	r.mu.Unlock()
}

// updateHedgeDrift refreshes the drift in shared state from the live legs.
func (r *Rebalancer) updateHedgeDrift() {
	summary := r.positions.Summary()
	drift := domain.HedgeDriftPct(summary.SpotSize, summary.PerpSize)
	r.state.HedgeDrift.Store(drift)
	slog.Debug("updated hedge drift", "drift", fmt.Sprintf("%.2f%%", drift))
}

// Stats returns the rate-limit accounting.
func (r *Rebalancer) Stats() RebalanceStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RebalanceStats{
		LastRebalance:      r.lastRebalance,
		RebalancesThisHour: r.rebalanceCount,
		MaxPerHour:         r.cfg.Rebalance.MaxRebalancesPerHour,
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
