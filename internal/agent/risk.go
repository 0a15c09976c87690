package agent

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/solbasis/basisbot/config"
	"github.com/solbasis/basisbot/internal/ports"
	"github.com/solbasis/basisbot/internal/state"
)

// resumeRiskScore is the ceiling below which a paused agent may resume.
const resumeRiskScore = 30.0

// fallbackPositionSize stands in for live accounting when no position reader
// is wired.
const fallbackPositionSize = 100.0

// RiskCheckResult is the verdict of one risk evaluation.
type RiskCheckResult struct {
	ShouldPause bool
	ShouldClose bool
	Reasons     []string
	RiskScore   float64 // 0-100
}

// RiskMetrics is a snapshot of the risk manager's accounting.
type RiskMetrics struct {
	DrawdownPct      float64
	PeakEquity       float64
	CurrentEquity    float64
	UnrealizedPnL    float64
	RealizedPnLToday float64
	TradesToday      int
	ErrorCount       uint64
}

// RiskManager evaluates the risk invariants every tick and decides when
// trading must pause or positions must close.
type RiskManager struct {
	cfg       *config.Config
	state     *state.SharedState
	positions ports.PositionReader // may be nil in tests

	mu          sync.Mutex
	peakEquity  float64
	dailyPnL    float64
	tradesToday int
	lastReset   time.Time
	paused      bool
	pauseReason string
}

// NewRiskManager creates a risk manager.
func NewRiskManager(cfg *config.Config, st *state.SharedState, positions ports.PositionReader) *RiskManager {
	return &RiskManager{
		cfg:       cfg,
		state:     st,
		positions: positions,
		lastReset: time.Now().UTC(),
	}
}

// CheckAll runs every risk rule and returns the combined verdict.
func (r *RiskManager) CheckAll() RiskCheckResult {
	var result RiskCheckResult

	r.checkDailyReset()

	// 1. Drawdown against the peak equity high-water mark
	drawdown := r.updateDrawdown()
	switch {
	case drawdown >= r.cfg.Risk.MaxDrawdownPct:
		result.ShouldPause = true
		result.ShouldClose = true
		result.Reasons = append(result.Reasons, fmt.Sprintf("Max drawdown exceeded: %.2f%%", drawdown))
		result.RiskScore += 50
	case drawdown >= r.cfg.Risk.MaxDrawdownPct*0.8:
		result.Reasons = append(result.Reasons, fmt.Sprintf("Drawdown warning: %.2f%%", drawdown))
		result.RiskScore += 25
	}

	// 2. Per-position stop loss
	unrealized := r.state.UnrealizedPnL.Load()
	if value := r.positionValue(); value > 0 {
		lossPct := -unrealized / value * 100.0
		if lossPct >= r.cfg.Risk.StopLossPct {
			result.ShouldClose = true
			result.Reasons = append(result.Reasons, fmt.Sprintf("Stop loss triggered: %.2f%%", lossPct))
			result.RiskScore += 30
		}
	}

	// 3. Hedge drift blowout
	drift := r.state.HedgeDrift.Load()
	if drift < 0 {
		drift = -drift
	}
	if drift >= r.cfg.Risk.HedgeDriftThresholdPct*2 {
		result.ShouldPause = true
		result.Reasons = append(result.Reasons, fmt.Sprintf("Excessive hedge drift: %.2f%%", drift))
		result.RiskScore += 20
	}

	// 4. Error rate
	if errs := r.state.ErrorCount.Load(); errs > 10 {
		result.ShouldPause = true
		result.Reasons = append(result.Reasons, fmt.Sprintf("High error count: %d", errs))
		result.RiskScore += 15
	}

	// 5. Connectivity
	if rpc, _ := r.state.Connected(); !rpc {
		result.ShouldPause = true
		result.Reasons = append(result.Reasons, "RPC disconnected")
		result.RiskScore += 25
	}

	// 6. Daily loss limit
	r.mu.Lock()
	daily := r.dailyPnL
	r.mu.Unlock()
	if daily < -r.cfg.Risk.MaxFundingReversalLoss {
		result.ShouldPause = true
		result.Reasons = append(result.Reasons, fmt.Sprintf("Daily loss limit: $%.2f", daily))
		result.RiskScore += 40
	}

	if result.RiskScore > 100 {
		result.RiskScore = 100
	}

	if result.ShouldPause {
		r.mu.Lock()
		r.paused = true
		r.pauseReason = joinReasons(result.Reasons)
		r.mu.Unlock()
	}
	return result
}

// updateDrawdown advances the high-water mark and returns the current
// drawdown percentage.
func (r *RiskManager) updateDrawdown() float64 {
	equity := r.currentEquity()

	r.mu.Lock()
	defer r.mu.Unlock()
	if equity > r.peakEquity {
		r.peakEquity = equity
		return 0
	}
	if r.peakEquity > 0 {
		return (r.peakEquity - equity) / r.peakEquity * 100.0
	}
	return 0
}

func (r *RiskManager) currentEquity() float64 {
	return r.cfg.Risk.StartingCapitalUSD +
		r.state.RealizedPnL.Load() +
		r.state.UnrealizedPnL.Load()
}

// positionValue prefers live accounting; without a reader it falls back to
// the fixed-size proxy.
func (r *RiskManager) positionValue() float64 {
	if r.positions != nil {
		if !r.positions.HasPosition() {
			return 0
		}
		return r.positions.NotionalValue()
	}
	return r.state.SpotPrice.Load() * fallbackPositionSize
}

// checkDailyReset zeroes the daily counters at UTC date rollover.
func (r *RiskManager) checkDailyReset() {
	now := time.Now().UTC()

	r.mu.Lock()
	rollover := now.YearDay() != r.lastReset.YearDay() || now.Year() != r.lastReset.Year()
	if rollover {
		r.dailyPnL = 0
		r.tradesToday = 0
		r.lastReset = now
	}
	r.mu.Unlock()

	if rollover {
		slog.Info("daily risk counters reset")
		r.state.ErrorCount.Store(0)
	}
}

// RecordTrade accounts a realized P&L into the daily counters.
func (r *RiskManager) RecordTrade(pnl float64) {
	r.mu.Lock()
	r.tradesToday++
	r.dailyPnL += pnl
	r.mu.Unlock()
}

// CanResume reports whether a paused agent may go back to work: a fresh
// check must be clean and the risk score below the resume ceiling.
func (r *RiskManager) CanResume() bool {
	check := r.CheckAll()
	if check.ShouldPause || check.RiskScore >= resumeRiskScore {
		return false
	}
	r.mu.Lock()
	r.paused = false
	r.pauseReason = ""
	r.mu.Unlock()
	return true
}

// IsPaused reports the manager's own pause flag.
func (r *RiskManager) IsPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// PauseReason returns the recorded reason, empty when not paused.
func (r *RiskManager) PauseReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pauseReason
}

// ForcePause halts trading manually.
func (r *RiskManager) ForcePause(reason string) {
	slog.Warn("force pause", "reason", reason)
	r.mu.Lock()
	r.paused = true
	r.pauseReason = reason
	r.mu.Unlock()
}

// ForceResume clears the pause flag without a fresh check. Use with caution.
func (r *RiskManager) ForceResume() {
	slog.Warn("force resume")
	r.mu.Lock()
	r.paused = false
	r.pauseReason = ""
	r.mu.Unlock()
}

// Metrics returns a snapshot of the risk accounting.
func (r *RiskManager) Metrics() RiskMetrics {
	equity := r.currentEquity()

	r.mu.Lock()
	defer r.mu.Unlock()

	drawdown := 0.0
	if r.peakEquity > 0 && equity < r.peakEquity {
		drawdown = (r.peakEquity - equity) / r.peakEquity * 100.0
	}
	return RiskMetrics{
		DrawdownPct:      drawdown,
		PeakEquity:       r.peakEquity,
		CurrentEquity:    equity,
		UnrealizedPnL:    r.state.UnrealizedPnL.Load(),
		RealizedPnLToday: r.dailyPnL,
		TradesToday:      r.tradesToday,
		ErrorCount:       r.state.ErrorCount.Load(),
	}
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}
