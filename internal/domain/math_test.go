package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBasisSpreadPct_Positive(t *testing.T) {
	// spot=150.00, perp=150.30 → (0.30/150)*100 = 0.2%
	assert.InDelta(t, 0.2, BasisSpreadPct(150.00, 150.30), 1e-9)
}

func TestBasisSpreadPct_Negative(t *testing.T) {
	assert.InDelta(t, -1.0, BasisSpreadPct(100.0, 99.0), 1e-9)
}

func TestBasisSpreadPct_ZeroSpot(t *testing.T) {
	assert.Equal(t, 0.0, BasisSpreadPct(0, 101.0))
}

func TestFundingAPR(t *testing.T) {
	// 1e-4/hr → 0.0001 * 24 * 365 * 100 = 87.6%
	assert.InDelta(t, 87.6, FundingAPR(0.0001), 1e-9)
	assert.InDelta(t, -87.6, FundingAPR(-0.0001), 1e-9)
}

func TestHedgeDriftPct(t *testing.T) {
	// spot 10, perp short -9 → (10-9)/10*100 = 10%
	assert.InDelta(t, 10.0, HedgeDriftPct(10, -9), 1e-9)
	// balanced hedge
	assert.InDelta(t, 0.0, HedgeDriftPct(10, -10), 1e-9)
	// no spot leg
	assert.Equal(t, 0.0, HedgeDriftPct(0, -10))
}

func TestStdDev_Constant(t *testing.T) {
	assert.Equal(t, 0.0, StdDev([]float64{2, 2, 2, 2}))
}

func TestZScore_ZeroDeviation(t *testing.T) {
	assert.Equal(t, 0.0, ZScore(1.5, 1.0, 0))
}

func TestPercentileRank(t *testing.T) {
	xs := []float64{1, 2, 3, 4}
	// 3 of 4 strictly below 3.5 → 75
	assert.InDelta(t, 75.0, PercentileRank(xs, 3.5), 1e-9)
	assert.Equal(t, 50.0, PercentileRank(nil, 1.0))
}

func TestLinearSlope_Decreasing(t *testing.T) {
	ys := []float64{0.001, 0.00095, 0.0009, 0.00085}
	slope := LinearSlope(ys)
	assert.InDelta(t, -0.00005, slope, 1e-9)
}

func TestLinearSlope_TooFewSamples(t *testing.T) {
	assert.Equal(t, 0.0, LinearSlope([]float64{1.0}))
}

// --- KellyFraction ---

func TestKellyFraction_Favorable(t *testing.T) {
	// p=0.6, b=2 → (2*0.6 - 0.4)/2 = 0.4
	assert.InDelta(t, 0.4, KellyFraction(0.6, 20, 10), 1e-9)
}

func TestKellyFraction_Unfavorable(t *testing.T) {
	// p=0.4, b=1 → (0.4 - 0.6)/1 = -0.2
	assert.InDelta(t, -0.2, KellyFraction(0.4, 10, 10), 1e-9)
}

func TestKellyFraction_NoLosses(t *testing.T) {
	// avg_loss=0 → payoff ratio treated as infinite → k = p
	assert.InDelta(t, 0.7, KellyFraction(0.7, 15, 0), 1e-9)
}

// --- SharpeRatio ---

func TestSharpeRatio_Positive(t *testing.T) {
	returns := []float64{0.01, 0.02, -0.005, 0.015, 0.01}
	assert.Greater(t, SharpeRatio(returns, 100), 0.0)
}

func TestSharpeRatio_TooFewReturns(t *testing.T) {
	assert.Equal(t, 0.0, SharpeRatio([]float64{0.05}, 100))
}

func TestSharpeRatio_ZeroDeviation(t *testing.T) {
	assert.Equal(t, 0.0, SharpeRatio([]float64{0.01, 0.01, 0.01}, 100))
}

// --- MaxDrawdownPct ---

func TestMaxDrawdownPct_PeakThenLoss(t *testing.T) {
	// peak 100, trough 50 → 50%
	assert.InDelta(t, 50.0, MaxDrawdownPct([]float64{100, -50}), 1e-9)
}

func TestMaxDrawdownPct_Monotonic(t *testing.T) {
	assert.Equal(t, 0.0, MaxDrawdownPct([]float64{10, 20, 30}))
}

func TestMaxDrawdownPct_NeverProfitable(t *testing.T) {
	// peak never positive → drawdown undefined → 0
	assert.Equal(t, 0.0, MaxDrawdownPct([]float64{-10, -20}))
}

// --- Streaks ---

func TestStreaks_TrailingWins(t *testing.T) {
	current, lw, ll := Streaks([]bool{true, false, false, true, true, true})
	assert.Equal(t, 3, current)
	assert.Equal(t, 3, lw)
	assert.Equal(t, 2, ll)
}

func TestStreaks_TrailingLosses(t *testing.T) {
	current, lw, ll := Streaks([]bool{true, true, false})
	assert.Equal(t, -1, current)
	assert.Equal(t, 2, lw)
	assert.Equal(t, 1, ll)
}

func TestStreaks_Empty(t *testing.T) {
	current, lw, ll := Streaks(nil)
	assert.Equal(t, 0, current)
	assert.Equal(t, 0, lw)
	assert.Equal(t, 0, ll)
}
