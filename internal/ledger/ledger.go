// Package ledger is the durable, append-only record of closed trades and the
// aggregate metrics recomputed from it. Persistence is one JSON document
// rewritten after every append. Fine at human trade cadence; swap the
// persist seam for a WAL if the rate ever grows.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/solbasis/basisbot/internal/domain"
)

// defaultTradesPerYear is the Sharpe annualization assumption.
const defaultTradesPerYear = 100.0

// Ledger holds the outcome vector and its cached metrics under one lock so
// the two can never drift apart.
type Ledger struct {
	path          string
	tradesPerYear float64

	mu       sync.Mutex
	outcomes []domain.TradeOutcome
	metrics  domain.PerformanceMetrics
}

// Option adjusts ledger construction.
type Option func(*Ledger)

// WithTradesPerYear overrides the Sharpe annualization constant.
func WithTradesPerYear(n float64) Option {
	return func(l *Ledger) { l.tradesPerYear = n }
}

// Open loads the ledger at path, creating an empty one when the file is
// missing. A corrupt file is logged and replaced by an empty ledger rather
// than blocking startup.
func Open(path string, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		path:          path,
		tradesPerYear: defaultTradesPerYear,
	}
	for _, opt := range opts {
		opt(l)
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// first run
	case err != nil:
		return nil, fmt.Errorf("ledger.Open: read %q: %w", path, err)
	default:
		if err := json.Unmarshal(data, &l.outcomes); err != nil {
			slog.Warn("ledger file is malformed, starting empty", "path", path, "err", err)
			l.outcomes = nil
		}
	}

	l.recalculateLocked()
	slog.Info("performance ledger loaded", "path", path, "trades", len(l.outcomes))
	return l, nil
}

// Append records an outcome, persists the document and recomputes metrics.
// On a persist failure the in-memory vector stays consistent and the write is
// retried on the next append.
func (l *Ledger) Append(outcome domain.TradeOutcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.outcomes = append(l.outcomes, outcome)
	persistErr := l.persistLocked()
	l.recalculateLocked()

	slog.Info("trade recorded",
		"id", outcome.ID,
		"pnl", fmt.Sprintf("$%.2f", outcome.TotalPnL),
		"roi", fmt.Sprintf("%.2f%%", outcome.ROIPct),
		"winner", outcome.IsWinner,
	)

	if persistErr != nil {
		return fmt.Errorf("ledger.Append: persist: %w", persistErr)
	}
	return nil
}

// Flush rewrites the document; called once at shutdown to cover a previously
// failed persist.
func (l *Ledger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.persistLocked(); err != nil {
		return fmt.Errorf("ledger.Flush: %w", err)
	}
	return nil
}

func (l *Ledger) persistLocked() error {
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(l.outcomes, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.path, data, 0o644)
}

// recalculateLocked rebuilds every metric from the outcome vector. Running it
// twice in a row is a no-op. Callers hold l.mu.
func (l *Ledger) recalculateLocked() {
	if len(l.outcomes) == 0 {
		l.metrics = domain.PerformanceMetrics{}
		return
	}

	var m domain.PerformanceMetrics
	m.TotalTrades = len(l.outcomes)

	var (
		pnls      = make([]float64, 0, len(l.outcomes))
		returns   = make([]float64, 0, len(l.outcomes))
		winners   = make([]bool, 0, len(l.outcomes))
		holdHours float64
		roiSum    float64
	)
	m.BestTrade = l.outcomes[0].TotalPnL
	m.WorstTrade = l.outcomes[0].TotalPnL

	for _, t := range l.outcomes {
		if t.IsWinner {
			m.WinningTrades++
		}
		if t.TotalPnL > 0 {
			m.GrossProfit += t.TotalPnL
		} else if t.TotalPnL < 0 {
			m.GrossLoss += -t.TotalPnL
		}
		m.NetPnL += t.TotalPnL
		if t.TotalPnL > m.BestTrade {
			m.BestTrade = t.TotalPnL
		}
		if t.TotalPnL < m.WorstTrade {
			m.WorstTrade = t.TotalPnL
		}
		holdHours += t.HoldHours
		roiSum += t.ROIPct
		pnls = append(pnls, t.TotalPnL)
		returns = append(returns, t.ROIPct/100.0)
		winners = append(winners, t.IsWinner)
	}

	m.LosingTrades = m.TotalTrades - m.WinningTrades
	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)

	switch {
	case m.GrossLoss > 0:
		m.ProfitFactor = m.GrossProfit / m.GrossLoss
	case m.GrossProfit > 0:
		m.ProfitFactor = math.Inf(1)
	default:
		m.ProfitFactor = 0
	}

	if m.WinningTrades > 0 {
		m.AvgWin = m.GrossProfit / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = m.GrossLoss / float64(m.LosingTrades)
	}
	m.Expectancy = m.WinRate*m.AvgWin - (1-m.WinRate)*m.AvgLoss
	m.AvgHoldHours = holdHours / float64(m.TotalTrades)
	m.AvgROIPct = roiSum / float64(m.TotalTrades)
	m.SharpeRatio = domain.SharpeRatio(returns, l.tradesPerYear)
	m.MaxDrawdownPct = domain.MaxDrawdownPct(pnls)
	m.CurrentStreak, m.LongestWinStreak, m.LongestLossStreak = domain.Streaks(winners)

	l.metrics = m
}

// Metrics returns the cached aggregate metrics.
func (l *Ledger) Metrics() domain.PerformanceMetrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.metrics
}

// Outcomes returns a copy of the full outcome vector.
func (l *Ledger) Outcomes() []domain.TradeOutcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.TradeOutcome, len(l.outcomes))
	copy(out, l.outcomes)
	return out
}

// Recent returns the last n outcomes, newest first.
func (l *Ledger) Recent(n int) []domain.TradeOutcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > len(l.outcomes) {
		n = len(l.outcomes)
	}
	out := make([]domain.TradeOutcome, 0, n)
	for i := len(l.outcomes) - 1; i >= len(l.outcomes)-n; i-- {
		out = append(out, l.outcomes[i])
	}
	return out
}

// RecentWinRate is the win rate over the last n outcomes; 0.5 when the
// ledger is empty so a fresh agent sizes neutrally.
func (l *Ledger) RecentWinRate(n int) float64 {
	recent := l.Recent(n)
	if len(recent) == 0 {
		return 0.5
	}
	wins := 0
	for _, t := range recent {
		if t.IsWinner {
			wins++
		}
	}
	return float64(wins) / float64(len(recent))
}

// AvgProfit is the net P&L per trade, 0 when empty.
func (l *Ledger) AvgProfit() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.outcomes) == 0 {
		return 0
	}
	return l.metrics.NetPnL / float64(l.metrics.TotalTrades)
}

// TradesInRange returns outcomes opened inside [start, end].
func (l *Ledger) TradesInRange(start, end int64) []domain.TradeOutcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.TradeOutcome
	for _, t := range l.outcomes {
		if t.OpenTime >= start && t.OpenTime <= end {
			out = append(out, t)
		}
	}
	return out
}

// PerformanceByFunding stratifies outcomes by funding APR at entry:
// low < 15, medium 15-25, high >= 25.
func (l *Ledger) PerformanceByFunding() domain.FundingPerformance {
	l.mu.Lock()
	defer l.mu.Unlock()

	var high, medium, low []domain.TradeOutcome
	for _, t := range l.outcomes {
		switch {
		case t.EntryFundingAPR >= 25.0:
			high = append(high, t)
		case t.EntryFundingAPR >= 15.0:
			medium = append(medium, t)
		default:
			low = append(low, t)
		}
	}
	return domain.FundingPerformance{
		HighFundingWinRate:   winRateOf(high),
		MediumFundingWinRate: winRateOf(medium),
		LowFundingWinRate:    winRateOf(low),
		HighFundingAvgPnL:    avgPnLOf(high),
		MediumFundingAvgPnL:  avgPnLOf(medium),
		LowFundingAvgPnL:     avgPnLOf(low),
	}
}

// ExportCSV writes one row per outcome to path.
func (l *Ledger) ExportCSV(path string) error {
	l.mu.Lock()
	outcomes := make([]domain.TradeOutcome, len(l.outcomes))
	copy(outcomes, l.outcomes)
	l.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("id,open_time,close_time,size,entry_spot,entry_perp,exit_spot,exit_perp," +
		"entry_basis,exit_basis,entry_funding_apr,funding_collected,spot_pnl,perp_pnl," +
		"total_pnl,roi_pct,hold_hours,is_winner,close_reason,entry_confidence\n")

	for _, t := range outcomes {
		sb.WriteString(fmt.Sprintf("%s,%d,%d,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%t,%s,%s\n",
			t.ID, t.OpenTime, t.CloseTime,
			ftoa(t.Size), ftoa(t.EntrySpot), ftoa(t.EntryPerp), ftoa(t.ExitSpot), ftoa(t.ExitPerp),
			ftoa(t.EntryBasis), ftoa(t.ExitBasis), ftoa(t.EntryFundingAPR), ftoa(t.FundingCollect),
			ftoa(t.SpotPnL), ftoa(t.PerpPnL), ftoa(t.TotalPnL), ftoa(t.ROIPct), ftoa(t.HoldHours),
			t.IsWinner, t.CloseReason, ftoa(t.EntryConfidence)))
	}

	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("ledger.ExportCSV: write %q: %w", path, err)
	}
	slog.Info("exported trades", "count", len(outcomes), "path", path)
	return nil
}

func winRateOf(trades []domain.TradeOutcome) float64 {
	if len(trades) == 0 {
		return 0
	}
	wins := 0
	for _, t := range trades {
		if t.IsWinner {
			wins++
		}
	}
	return float64(wins) / float64(len(trades))
}

func avgPnLOf(trades []domain.TradeOutcome) float64 {
	if len(trades) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range trades {
		sum += t.TotalPnL
	}
	return sum / float64(len(trades))
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
