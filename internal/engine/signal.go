package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/solbasis/basisbot/config"
	"github.com/solbasis/basisbot/internal/bus"
	"github.com/solbasis/basisbot/internal/domain"
	"github.com/solbasis/basisbot/internal/state"
)

const (
	signalTickInterval = 5 * time.Second
	maxSignalHistory   = 100
)

// SignalEngine combines current market facts into open/close/rebalance
// decisions with a confidence score.
type SignalEngine struct {
	cfg   *config.Config
	state *state.SharedState
	bus   *bus.Bus

	mu         sync.RWMutex
	lastSignal *domain.TradeSignal
	history    []domain.TradeSignal
}

// NewSignalEngine creates a signal engine.
func NewSignalEngine(cfg *config.Config, st *state.SharedState, b *bus.Bus) *SignalEngine {
	return &SignalEngine{
		cfg:   cfg,
		state: st,
		bus:   b,
	}
}

// Run drives the engine until the context is cancelled.
func (e *SignalEngine) Run(ctx context.Context) error {
	slog.Info("signal engine starting", "interval", signalTickInterval)
	ticker := time.NewTicker(signalTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("signal engine stopped")
			return nil
		case <-ticker.C:
			e.Tick(time.Now().UnixMilli())
		}
	}
}

// Tick evaluates once and publishes a signal if any action is indicated.
func (e *SignalEngine) Tick(now int64) {
	spot := e.state.SpotPrice.Load()
	perp := e.state.PerpMarkPrice.Load()
	if spot <= 0 || perp <= 0 {
		return
	}

	eval := e.Evaluate(now)
	if !eval.ShouldOpen && !eval.ShouldClose && !eval.ShouldRebalance {
		return
	}

	signalType := domain.SignalRebalance
	if eval.ShouldOpen {
		signalType = domain.SignalOpenBasis
	} else if eval.ShouldClose {
		signalType = domain.SignalCloseBasis
	}

	signal := domain.TradeSignal{
		Type:           signalType,
		Size:           eval.RecommendedSize,
		BasisSpread:    e.state.BasisSpread.Load(),
		FundingAPR:     e.state.FundingAPR.Load(),
		ExpectedProfit: eval.ExpectedProfit,
		Confidence:     eval.Confidence,
		Timestamp:      now,
		Reason:         joinReasons(eval.Reasons),
	}

	e.mu.Lock()
	e.lastSignal = &signal
	e.history = append(e.history, signal)
	if len(e.history) > maxSignalHistory {
		e.history = e.history[len(e.history)-maxSignalHistory:]
	}
	e.mu.Unlock()

	slog.Info("signal generated",
		"type", signalType.String(),
		"size", fmt.Sprintf("%.2f", eval.RecommendedSize),
		"confidence", fmt.Sprintf("%.1f%%", eval.Confidence*100),
		"reason", signal.Reason,
	)

	e.bus.Publish(domain.SignalEvent{
		SignalType: signalType.String(),
		Size:       eval.RecommendedSize,
		Reason:     signal.Reason,
	})
}

// Evaluate scores the current facts. Two disjoint regimes: entry scoring with
// no open legs, exit/rebalance checks with legs open.
//
// The confidence ladder is additive and partially gated: a 0.6 score with
// should_open still false (alignment failed, or the trade interval not yet
// elapsed) is expected and downstream thresholds rely on it.
func (e *SignalEngine) Evaluate(now int64) domain.SignalEvaluation {
	basis := e.state.BasisSpread.Load()
	fundingAPR := e.state.FundingAPR.Load()

	eval := domain.SignalEvaluation{Timestamp: now}

	minBasis := e.cfg.Trading.MinBasisSpreadPct
	minFunding := e.cfg.Trading.MinFundingAPRPct

	if !e.state.HasPosition() {
		if abs(basis) >= minBasis {
			eval.Confidence += 0.3
			eval.Reasons = append(eval.Reasons,
				fmt.Sprintf("Basis %.3f%% >= %.3f%%", basis, minBasis))

			if abs(fundingAPR) >= minFunding {
				eval.Confidence += 0.3
				eval.Reasons = append(eval.Reasons,
					fmt.Sprintf("Funding APR %.1f%% >= %.1f%%", fundingAPR, minFunding))

				if sameSign(basis, fundingAPR) {
					eval.Confidence += 0.2
					eval.Reasons = append(eval.Reasons, "Basis and funding aligned")
				}

				sinceTrade := now - e.state.LastTrade.Load()
				if sinceTrade > e.cfg.MinTradeInterval().Milliseconds() {
					eval.Confidence += 0.2
					eval.ShouldOpen = true
				} else {
					eval.Reasons = append(eval.Reasons, "Too soon since last trade")
				}
			}
		}
	} else {
		if abs(basis) <= e.cfg.Trading.BasisCloseThresholdPct {
			eval.Confidence += 0.5
			eval.Reasons = append(eval.Reasons, fmt.Sprintf("Basis converged to %.4f%%", basis))
			eval.ShouldClose = true
		}

		drift := e.state.HedgeDrift.Load()
		if abs(drift) > e.cfg.Risk.HedgeDriftThresholdPct {
			eval.Confidence += 0.3
			eval.Reasons = append(eval.Reasons, fmt.Sprintf("Hedge drift %.2f%%", drift))
			eval.ShouldRebalance = true
		}
	}

	if eval.Confidence > 1.0 {
		eval.Confidence = 1.0
	}

	if eval.ShouldOpen {
		eval.RecommendedSize = e.RecommendedSize(basis, fundingAPR, eval.Confidence)
		// assume half the basis is captured over the hold
		notional := eval.RecommendedSize * e.state.SpotPrice.Load()
		eval.ExpectedProfit = notional * (abs(basis) / 100.0) * 0.5
	}

	return eval
}

// RecommendedSize scales a 20%-of-max baseline by spread and funding
// strength, then by confidence, clamped to the configured maximum.
func (e *SignalEngine) RecommendedSize(basis, fundingAPR, confidence float64) float64 {
	maxSize := e.cfg.Trading.MaxPositionSizeSOL
	baseSize := maxSize * 0.2

	spreadMultiple := minFloat(abs(basis)/e.cfg.Trading.MinBasisSpreadPct, 3.0)
	fundingMultiple := minFloat(abs(fundingAPR)/e.cfg.Trading.MinFundingAPRPct, 2.0)

	size := baseSize * spreadMultiple * math.Sqrt(fundingMultiple) * confidence
	return minFloat(size, maxSize)
}

// LastSignal returns the most recent signal, or nil.
func (e *SignalEngine) LastSignal() *domain.TradeSignal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastSignal == nil {
		return nil
	}
	s := *e.lastSignal
	return &s
}

// History returns a copy of the bounded signal history.
func (e *SignalEngine) History() []domain.TradeSignal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.TradeSignal, len(e.history))
	copy(out, e.history)
	return out
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
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
