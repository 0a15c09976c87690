package sizing

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/solbasis/basisbot/config"
	"github.com/solbasis/basisbot/internal/domain"
	"github.com/solbasis/basisbot/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFixture(t *testing.T) (*Sizer, *ledger.Ledger, *config.Config) {
	t.Helper()
	cfg := config.Default() // max 100 SOL, min_basis 0.10, min_funding 15
	l, err := ledger.Open(filepath.Join(t.TempDir(), "performance.json"))
	require.NoError(t, err)
	return New(cfg, l), l, cfg
}

func fill(t *testing.T, l *ledger.Ledger, wins, losses int, avgWin, avgLoss float64) {
	t.Helper()
	for i := 0; i < wins; i++ {
		require.NoError(t, l.Append(domain.TradeOutcome{
			ID: "w", TotalPnL: avgWin, IsWinner: true,
		}))
	}
	for i := 0; i < losses; i++ {
		require.NoError(t, l.Append(domain.TradeOutcome{
			ID: "l", TotalPnL: -avgLoss, IsWinner: false,
		}))
	}
}

func TestRecommendedSize_BaselineWithoutHistory(t *testing.T) {
	s, _, _ := newFixture(t)

	// basis 0.2 → spread x2; APR 87.6 → funding mult capped at 2
	rec := s.RecommendedSize(0.2, 87.6, 0.8)

	// too few trades: kelly skipped, multiplier neutral
	want := 20.0 * 2.0 * math.Sqrt(2.0) * 0.8
	assert.InDelta(t, want, rec.SizeSOL, 1e-9)
	assert.Equal(t, 0.2, rec.KellyFraction)
	assert.Contains(t, rec.Adjustments[len(rec.Adjustments)-1], "kelly skipped")
}

func TestRecommendedSize_SpreadMultipleCapped(t *testing.T) {
	s, _, _ := newFixture(t)
	rec := s.RecommendedSize(10.0, 15.0, 1.0) // spread mult would be 100
	// spread x3, funding x1 → 60
	assert.InDelta(t, 60.0, rec.SizeSOL, 1e-9)
}

func TestRecommendedSize_KellyScalesUp(t *testing.T) {
	s, l, cfg := newFixture(t)
	cfg.Adaptive.UseHalfKelly = false

	// 12 trades, 75% win rate, payoff 2:1 → k = (2*0.75-0.25)/2 = 0.625,
	// capped at 0.25 → multiplier 1.25
	fill(t, l, 9, 3, 20, 10)

	rec := s.RecommendedSize(0.1, 15.0, 1.0)
	assert.InDelta(t, 20.0*1.25, rec.SizeSOL, 1e-9)
	assert.Equal(t, cfg.Adaptive.MaxKellyFraction, rec.KellyFraction)
}

func TestRecommendedSize_HalfKelly(t *testing.T) {
	s, l, _ := newFixture(t)
	fill(t, l, 9, 3, 20, 10) // capped at 0.25, halved → 0.125

	rec := s.RecommendedSize(0.1, 15.0, 1.0)
	assert.InDelta(t, 0.125, rec.KellyFraction, 1e-9)
	assert.InDelta(t, 20.0*0.625, rec.SizeSOL, 1e-9)
}

func TestRecommendedSize_FlooredOnBadHistory(t *testing.T) {
	s, l, cfg := newFixture(t)
	// 12 trades, 25% win rate, payoff 1:1 → raw kelly negative
	fill(t, l, 3, 9, 10, 10)

	rec := s.RecommendedSize(0.1, 15.0, 1.0)
	floor := cfg.Adaptive.MinPositionMultiplier * 0.2
	assert.InDelta(t, floor, rec.KellyFraction, 1e-9)
	assert.Greater(t, rec.SizeSOL, 0.0)
}

func TestRecommendedSize_DisabledAdaptive(t *testing.T) {
	s, l, cfg := newFixture(t)
	cfg.Adaptive.EnableAdaptiveSizing = false
	fill(t, l, 9, 3, 20, 10)

	rec := s.RecommendedSize(0.1, 15.0, 1.0)
	assert.InDelta(t, 20.0, rec.SizeSOL, 1e-9)
}

func TestRecommendedSize_ClampedToMax(t *testing.T) {
	s, l, cfg := newFixture(t)
	cfg.Adaptive.UseHalfKelly = false
	fill(t, l, 12, 0, 20, 0) // all winners

	rec := s.RecommendedSize(1.0, 100.0, 1.0)
	assert.Equal(t, cfg.Trading.MaxPositionSizeSOL, rec.SizeSOL)
	assert.Equal(t, 100.0, rec.SizePctOfMax)
	assert.Contains(t, rec.Adjustments, "capped at max position")
}

func TestRecalculate_NoPanicOnEmptyLedger(t *testing.T) {
	s, _, _ := newFixture(t)
	s.Recalculate()
}
