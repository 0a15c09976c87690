// Package agent coordinates the trade lifecycle: a one second tick reads the
// shared state, consults the risk manager and the engines, and drives the
// state machine through open, monitor, rebalance and close.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/solbasis/basisbot/config"
	"github.com/solbasis/basisbot/internal/bus"
	"github.com/solbasis/basisbot/internal/domain"
	"github.com/solbasis/basisbot/internal/engine"
	"github.com/solbasis/basisbot/internal/ledger"
	"github.com/solbasis/basisbot/internal/ports"
	"github.com/solbasis/basisbot/internal/position"
	"github.com/solbasis/basisbot/internal/sizing"
	"github.com/solbasis/basisbot/internal/state"
)

const (
	tickInterval = 1 * time.Second
	// how long the Error state holds before retrying Idle
	errorRecoveryDelay = 60 * time.Second
)

// TradeContext captures entry conditions for the outcome written at close.
type TradeContext struct {
	ID                 string
	OpenTime           int64
	Size               float64
	EntrySpot          float64
	EntryPerp          float64
	EntryBasis         float64
	EntryFundingAPR    float64
	EntryConfidence    float64
	AccumulatedFunding float64
}

// TradingAgent wires every subsystem together and owns the tick loop.
type TradingAgent struct {
	cfg       *config.Config
	state     *state.SharedState
	bus       *bus.Bus
	machine   *Machine
	risk      *RiskManager
	rebal     *Rebalancer
	positions *position.Manager
	executor  ports.Executor
	ledger    *ledger.Ledger
	sizer     *sizing.Sizer
	reversal  *engine.ReversalDetector
	signals   *engine.SignalEngine
	archive   ports.TradeArchive // optional

	tradeCtx    *TradeContext
	closeReason string
}

// Deps carries the collaborators for New.
type Deps struct {
	Config    *config.Config
	State     *state.SharedState
	Bus       *bus.Bus
	Positions *position.Manager
	Executor  ports.Executor
	Ledger    *ledger.Ledger
	Sizer     *sizing.Sizer
	Reversal  *engine.ReversalDetector
	Signals   *engine.SignalEngine
	Archive   ports.TradeArchive // nil disables mirroring
}

// New creates the trading agent.
func New(d Deps) *TradingAgent {
	a := &TradingAgent{
		cfg:       d.Config,
		state:     d.State,
		bus:       d.Bus,
		machine:   NewMachine(),
		positions: d.Positions,
		executor:  d.Executor,
		ledger:    d.Ledger,
		sizer:     d.Sizer,
		reversal:  d.Reversal,
		signals:   d.Signals,
		archive:   d.Archive,
	}
	a.risk = NewRiskManager(d.Config, d.State, d.Positions)
	a.rebal = NewRebalancer(d.Config, d.State, d.Positions, d.Executor)

	m := d.Ledger.Metrics()
	if m.TotalTrades > 0 {
		slog.Info("loaded performance history",
			"trades", m.TotalTrades,
			"win_rate", fmt.Sprintf("%.1f%%", m.WinRate*100),
			"profit_factor", fmt.Sprintf("%.2f", m.ProfitFactor),
		)
	}
	return a
}

// Run drives the tick loop until the context is cancelled. A tick in flight
// completes before the loop exits.
func (a *TradingAgent) Run(ctx context.Context) error {
	slog.Info("trading agent starting", "paper", a.cfg.PaperTrading)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("trading agent stopped", "state", a.machine.Current().String())
			return nil
		case <-ticker.C:
			a.Tick(ctx, time.Now().UnixMilli())
		}
	}
}

// Tick advances the state machine once.
func (a *TradingAgent) Tick(ctx context.Context, now int64) {
	// Risk verdict comes first; everything else yields to it.
	check := a.risk.CheckAll()
	if check.ShouldPause {
		if a.machine.Current() != domain.StatePaused {
			reason := joinReasons(check.Reasons)
			slog.Warn("risk check triggered pause", "reason", reason)
			a.machine.TransitionWithReason(domain.StatePaused, reason)
			a.state.Pause(reason)
			a.bus.Publish(domain.SystemPause{Reason: reason})
		}
		return
	}

	// An active critical reversal forces Monitoring into Closing.
	if a.cfg.Adaptive.EnableReversalDetection && a.cfg.Adaptive.ForceCloseOnCriticalReversal {
		if sev, ok := a.reversal.ActiveSeverity(now); ok && sev == domain.SeverityCritical &&
			a.machine.Current() == domain.StateMonitoring {
			slog.Warn("critical funding reversal - forcing position close")
			a.closeReason = "critical_reversal"
			a.machine.TransitionWithReason(domain.StateClosing, "critical funding reversal")
			return // close executes on the next tick
		}
	}

	// Risk-demanded close (stop loss) while a position is being watched.
	if check.ShouldClose && a.machine.Current() == domain.StateMonitoring {
		a.closeReason = "risk"
		a.machine.TransitionWithReason(domain.StateClosing, joinReasons(check.Reasons))
		return
	}

	switch a.machine.Current() {
	case domain.StateIdle:
		a.tickIdle(now)
	case domain.StateOpening:
		a.tickOpening(ctx, now)
	case domain.StateMonitoring:
		a.tickMonitoring(now)
	case domain.StateClosing:
		a.tickClosing(ctx, now)
	case domain.StateRebalancing:
		a.tickRebalancing(ctx)
	case domain.StatePaused:
		a.tickPaused(now)
	case domain.StateError:
		if a.machine.TimeInState() >= errorRecoveryDelay {
			a.machine.TransitionWithReason(domain.StateIdle, "error recovery")
		}
	}
}

func (a *TradingAgent) tickIdle(now int64) {
	eval := a.signals.Evaluate(now)
	if !eval.ShouldOpen {
		return
	}

	basis := a.state.BasisSpread.Load()
	fundingAPR := a.state.FundingAPR.Load()
	rec := a.sizer.RecommendedSize(basis, fundingAPR, eval.Confidence)

	slog.Info("trade signal detected",
		"basis", fmt.Sprintf("%.4f%%", basis),
		"funding_apr", fmt.Sprintf("%.2f%%", fundingAPR),
		"size", fmt.Sprintf("%.2f", rec.SizeSOL),
		"pct_of_max", fmt.Sprintf("%.1f%%", rec.SizePctOfMax),
		"kelly", fmt.Sprintf("%.1f%%", rec.KellyFraction*100),
		"adjustments", rec.Adjustments,
	)

	a.tradeCtx = &TradeContext{
		ID:              uuid.New().String(),
		OpenTime:        now,
		Size:            rec.SizeSOL,
		EntrySpot:       a.state.SpotPrice.Load(),
		EntryPerp:       a.state.PerpMarkPrice.Load(),
		EntryBasis:      basis,
		EntryFundingAPR: fundingAPR,
		EntryConfidence: eval.Confidence,
	}
	a.closeReason = "basis_converged"
	a.machine.TransitionWithReason(domain.StateOpening, joinReasons(eval.Reasons))
}

func (a *TradingAgent) tickOpening(ctx context.Context, now int64) {
	size := 0.0
	if a.tradeCtx != nil {
		size = a.tradeCtx.Size
	}

	res, err := a.executor.Open(ctx, size)
	if err != nil || !res.Success {
		slog.Error("open execution failed", "err", execError(res, err))
		a.state.IncrementErrorCount()
		a.tradeCtx = nil
		a.machine.TransitionWithReason(domain.StateIdle, "open failed")
		return
	}

	a.state.LastTrade.Store(now)
	a.state.IncrementTradeCount()
	a.machine.TransitionTo(domain.StateMonitoring)
}

func (a *TradingAgent) tickMonitoring(now int64) {
	// Per-tick funding accrual; a coarse approximation that ignores
	// funding-period boundaries.
	if a.tradeCtx != nil {
		rate := a.state.CurrentFundingRate.Load()
		a.tradeCtx.AccumulatedFunding += rate * a.tradeCtx.Size * a.state.SpotPrice.Load()
	}

	a.positions.UpdatePnL()

	basis := a.state.BasisSpread.Load()
	if abs(basis) < a.cfg.Trading.BasisCloseThresholdPct {
		slog.Info("basis converged, closing position", "basis", fmt.Sprintf("%.4f%%", basis))
		a.closeReason = "basis_converged"
		a.machine.TransitionWithReason(domain.StateClosing,
			fmt.Sprintf("basis converged to %.4f%%", basis))
		return
	}

	if a.rebal.NeedsRebalance() {
		slog.Info("hedge drift detected, rebalancing")
		a.machine.TransitionTo(domain.StateRebalancing)
	}
}

func (a *TradingAgent) tickClosing(ctx context.Context, now int64) {
	exitSpot := a.state.SpotPrice.Load()
	exitPerp := a.state.PerpMarkPrice.Load()
	exitBasis := a.state.BasisSpread.Load()

	res, err := a.executor.Close(ctx, true)
	if err != nil || !res.Success {
		slog.Error("close execution failed", "err", execError(res, err))
		a.state.IncrementErrorCount()
	}

	if tc := a.tradeCtx; tc != nil {
		holdHours := float64(now-tc.OpenTime) / 3_600_000.0
		spotPnL := (exitSpot - tc.EntrySpot) * tc.Size
		perpPnL := (tc.EntryPerp - exitPerp) * tc.Size
		totalPnL := spotPnL + perpPnL + tc.AccumulatedFunding

		roiPct := 0.0
		if notional := tc.EntrySpot * tc.Size; notional > 0 {
			roiPct = totalPnL / notional * 100.0
		}

		outcome := domain.TradeOutcome{
			ID:              tc.ID,
			OpenTime:        tc.OpenTime,
			CloseTime:       now,
			Size:            tc.Size,
			EntrySpot:       tc.EntrySpot,
			EntryPerp:       tc.EntryPerp,
			ExitSpot:        exitSpot,
			ExitPerp:        exitPerp,
			EntryBasis:      tc.EntryBasis,
			ExitBasis:       exitBasis,
			EntryFundingAPR: tc.EntryFundingAPR,
			FundingCollect:  tc.AccumulatedFunding,
			SpotPnL:         spotPnL,
			PerpPnL:         perpPnL,
			TotalPnL:        totalPnL,
			ROIPct:          roiPct,
			HoldHours:       holdHours,
			IsWinner:        totalPnL > 0,
			CloseReason:     a.closeReason,
			EntryConfidence: tc.EntryConfidence,
		}

		if err := a.ledger.Append(outcome); err != nil {
			slog.Error("failed to record trade outcome", "err", err)
			a.state.IncrementErrorCount()
		}
		if a.archive != nil && a.cfg.Adaptive.EnablePerformanceTracking {
			if err := a.archive.SaveOutcome(ctx, outcome); err != nil {
				slog.Warn("trade archive write failed", "err", err)
			}
			if err := a.archive.SaveDaily(ctx, a.dailySummary(now)); err != nil {
				slog.Warn("daily summary write failed", "err", err)
			}
		}

		a.risk.RecordTrade(totalPnL)
		a.sizer.Recalculate()
		a.tradeCtx = nil

		m := a.ledger.Metrics()
		slog.Info("performance update",
			"trades", m.TotalTrades,
			"win_rate", fmt.Sprintf("%.1f%%", m.WinRate*100),
			"net_pnl", fmt.Sprintf("$%.2f", m.NetPnL),
			"profit_factor", fmt.Sprintf("%.2f", m.ProfitFactor),
		)
	}

	a.state.LastTrade.Store(now)
	a.machine.TransitionTo(domain.StateIdle)
}

// dailySummary rolls up the UTC day containing ts from the ledger. The row
// is upserted after every close, so the archive always carries the current
// day and nothing is lost to an unclean shutdown at rollover.
func (a *TradingAgent) dailySummary(ts int64) domain.DailySummary {
	day := time.UnixMilli(ts).UTC().Truncate(24 * time.Hour)
	start := day.UnixMilli()
	end := start + (24 * time.Hour).Milliseconds() - 1

	trades := a.ledger.TradesInRange(start, end)
	var net, funding float64
	wins := 0
	pnls := make([]float64, 0, len(trades))
	for _, t := range trades {
		net += t.TotalPnL
		funding += t.FundingCollect
		if t.IsWinner {
			wins++
		}
		pnls = append(pnls, t.TotalPnL)
	}
	winRate := 0.0
	if len(trades) > 0 {
		winRate = float64(wins) / float64(len(trades))
	}

	return domain.DailySummary{
		Date:        day.Format("2006-01-02"),
		Trades:      len(trades),
		NetPnL:      net,
		FundingPnL:  funding,
		WinRate:     winRate,
		MaxDrawdown: domain.MaxDrawdownPct(pnls),
	}
}

func (a *TradingAgent) tickRebalancing(ctx context.Context) {
	if _, err := a.rebal.ExecuteRebalance(ctx); err != nil {
		slog.Error("rebalance failed", "err", err)
		a.state.IncrementErrorCount()
	}
	a.machine.TransitionTo(domain.StateMonitoring)
}

func (a *TradingAgent) tickPaused(now int64) {
	if !a.risk.CanResume() {
		return
	}
	if a.cfg.Adaptive.EnableReversalDetection && a.reversal.IsActive(now) {
		slog.Debug("waiting for funding reversal to clear before resuming")
		return
	}
	slog.Info("risk conditions cleared, resuming")
	a.state.Resume()
	a.machine.TransitionWithReason(domain.StateIdle, "risk cleared")
	a.bus.Publish(domain.SystemResume{})
}

// CurrentState returns the machine state.
func (a *TradingAgent) CurrentState() domain.AgentState {
	return a.machine.Current()
}

// Machine exposes the state machine for history queries.
func (a *TradingAgent) Machine() *Machine {
	return a.machine
}

// RiskManager exposes the risk manager for commands and snapshots.
func (a *TradingAgent) RiskManager() *RiskManager {
	return a.risk
}

// Rebalancer exposes the rebalance stats surface.
func (a *TradingAgent) Rebalancer() *Rebalancer {
	return a.rebal
}

// Metrics returns the ledger's aggregate metrics.
func (a *TradingAgent) Metrics() domain.PerformanceMetrics {
	return a.ledger.Metrics()
}

// EmergencyStop forces Paused regardless of risk state.
func (a *TradingAgent) EmergencyStop(reason string) {
	slog.Warn("emergency stop triggered", "reason", reason)
	a.risk.ForcePause(reason)
	a.state.Pause(reason)
	a.machine.TransitionWithReason(domain.StatePaused, reason)
	a.bus.Publish(domain.SystemPause{Reason: reason})
}

// ExportTrades writes the ledger as CSV.
func (a *TradingAgent) ExportTrades(path string) error {
	return a.ledger.ExportCSV(path)
}

func execError(res ports.ExecutionResult, err error) string {
	if err != nil {
		return err.Error()
	}
	return res.Err
}
