// Package sizing maps market strength, signal confidence and realized trade
// history onto a recommended position size. Sizing follows fractional Kelly:
// capped, halved by default, and floored so one bad stretch cannot zero out
// the book.
package sizing

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/solbasis/basisbot/config"
	"github.com/solbasis/basisbot/internal/domain"
	"github.com/solbasis/basisbot/internal/ledger"
)

// baseFraction is the share of max size used as the sizing baseline. The
// Kelly multiplier is normalized against it so that "average" history
// reproduces the baseline exactly.
const baseFraction = 0.2

// Recommendation is a sized position with its reasoning.
type Recommendation struct {
	SizeSOL       float64
	SizePctOfMax  float64
	KellyFraction float64
	Confidence    float64
	Adjustments   []string
}

// Sizer produces recommendations from config and ledger metrics.
type Sizer struct {
	cfg    *config.Config
	ledger *ledger.Ledger
}

// New creates an adaptive sizer.
func New(cfg *config.Config, l *ledger.Ledger) *Sizer {
	return &Sizer{cfg: cfg, ledger: l}
}

// RecommendedSize computes the position size for the given market state.
func (s *Sizer) RecommendedSize(basis, fundingAPR, confidence float64) Recommendation {
	maxSize := s.cfg.Trading.MaxPositionSizeSOL
	base := maxSize * baseFraction

	spreadMult := math.Min(math.Abs(basis)/s.cfg.Trading.MinBasisSpreadPct, 3.0)
	fundingMult := math.Min(math.Abs(fundingAPR)/s.cfg.Trading.MinFundingAPRPct, 2.0)

	size := base * spreadMult * math.Sqrt(fundingMult) * confidence

	rec := Recommendation{
		Confidence:    confidence,
		KellyFraction: baseFraction,
		Adjustments: []string{
			fmt.Sprintf("spread x%.2f", spreadMult),
			fmt.Sprintf("funding x%.2f", math.Sqrt(fundingMult)),
			fmt.Sprintf("confidence x%.2f", confidence),
		},
	}

	if s.cfg.Adaptive.EnableAdaptiveSizing {
		kelly, note := s.kellyFraction()
		if note != "" {
			rec.Adjustments = append(rec.Adjustments, note)
		}
		rec.KellyFraction = kelly
		size *= kelly / baseFraction
	}

	if size > maxSize {
		size = maxSize
		rec.Adjustments = append(rec.Adjustments, "capped at max position")
	}
	if size < 0 {
		size = 0
	}

	rec.SizeSOL = size
	if maxSize > 0 {
		rec.SizePctOfMax = size / maxSize * 100.0
	}
	return rec
}

// kellyFraction derives the adjusted Kelly fraction from ledger metrics.
// With too little history it returns the neutral base fraction.
func (s *Sizer) kellyFraction() (float64, string) {
	m := s.ledger.Metrics()
	if m.TotalTrades < s.cfg.Adaptive.MinTradesForAdaptation {
		return baseFraction, fmt.Sprintf("kelly skipped (%d/%d trades)",
			m.TotalTrades, s.cfg.Adaptive.MinTradesForAdaptation)
	}

	k := domain.KellyFraction(m.WinRate, m.AvgWin, m.AvgLoss)

	note := fmt.Sprintf("kelly %.1f%%", k*100)
	if k > s.cfg.Adaptive.MaxKellyFraction {
		k = s.cfg.Adaptive.MaxKellyFraction
		note = fmt.Sprintf("kelly capped at %.1f%%", k*100)
	}
	if s.cfg.Adaptive.UseHalfKelly {
		k /= 2
		note += " (half)"
	}
	if floor := s.cfg.Adaptive.MinPositionMultiplier * baseFraction; k < floor {
		k = floor
		note = fmt.Sprintf("kelly floored at %.1f%%", k*100)
	}
	return k, note
}

// Recalculate is invoked after each close. Metrics are read fresh on every
// recommendation, so there is nothing to cache yet; the hook is the seam for
// implementations that precompute.
func (s *Sizer) Recalculate() {
	m := s.ledger.Metrics()
	slog.Debug("sizer recalculated",
		"trades", m.TotalTrades,
		"win_rate", fmt.Sprintf("%.1f%%", m.WinRate*100),
		"profit_factor", fmt.Sprintf("%.2f", m.ProfitFactor),
	)
}
