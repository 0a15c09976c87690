package engine

import (
	"testing"

	"github.com/solbasis/basisbot/config"
	"github.com/solbasis/basisbot/internal/bus"
	"github.com/solbasis/basisbot/internal/domain"
	"github.com/solbasis/basisbot/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBasisFixture() (*BasisEngine, *state.SharedState, *bus.Bus) {
	cfg := config.Default()
	st := state.New()
	b := bus.New(64)
	return NewBasisEngine(cfg, st, b), st, b
}

func TestBasisTick_SkipsWithoutPrices(t *testing.T) {
	e, st, _ := newBasisFixture()
	st.UpdateSpotPrice(150.0) // no perp yet
	e.Tick(1_000)
	assert.Equal(t, 0, e.SampleCount())
	assert.Nil(t, e.LastAnalysis())
}

func TestBasisTick_ComputesSpread(t *testing.T) {
	e, st, b := newBasisFixture()
	sub := b.Subscribe("test")

	st.UpdateSpotPrice(150.00)
	st.UpdatePerpMarkPrice(150.30)
	e.Tick(1_000)

	a := e.LastAnalysis()
	require.NotNil(t, a)
	assert.InDelta(t, 0.2, a.SpreadPct, 1e-9)
	assert.InDelta(t, 0.2*365, a.AnnualizedYield, 1e-9)
	assert.Equal(t, 1.0, a.HedgeRatio)
	assert.True(t, a.IsTradeable) // 0.2 >= min 0.10

	// basis update lands on the bus
	var sawBasis bool
	for {
		event, ok := sub.TryNext()
		if !ok {
			break
		}
		if u, ok := event.(domain.BasisSpreadUpdate); ok {
			sawBasis = true
			assert.InDelta(t, 0.2, u.SpreadPct, 1e-9)
		}
	}
	assert.True(t, sawBasis)
}

func TestBasisTick_NotTradeableBelowMinimum(t *testing.T) {
	e, st, _ := newBasisFixture()
	st.UpdateSpotPrice(150.00)
	st.UpdatePerpMarkPrice(150.06) // 0.04% < 0.10%
	e.Tick(1_000)

	a := e.LastAnalysis()
	require.NotNil(t, a)
	assert.False(t, a.IsTradeable)
}

func TestBasisTick_WindowStatistics(t *testing.T) {
	e, st, _ := newBasisFixture()

	// three samples with spreads 0.1, 0.2, 0.3
	prices := []struct{ spot, perp float64 }{
		{100.0, 100.1},
		{100.0, 100.2},
		{100.0, 100.3},
	}
	now := int64(1_000_000)
	for i, p := range prices {
		st.UpdateSpotPrice(p.spot)
		st.UpdatePerpMarkPrice(p.perp)
		e.Tick(now + int64(i)*10_000)
	}

	a := e.LastAnalysis()
	require.NotNil(t, a)
	assert.Equal(t, 3, e.SampleCount())
	assert.InDelta(t, 0.2, a.Avg1hSpread, 1e-9)
	assert.InDelta(t, 0.2, a.Avg8hSpread, 1e-9)
	// 2 of 3 strictly below 0.3
	assert.InDelta(t, 66.67, a.Percentile, 0.1)
	assert.Greater(t, a.ZScore, 0.0)
}

func TestBasisTick_TrimsOldSamples(t *testing.T) {
	e, st, _ := newBasisFixture()
	st.UpdateSpotPrice(150.00)
	st.UpdatePerpMarkPrice(150.30)

	e.Tick(0)
	e.Tick(9 * 60 * 60 * 1000) // nine hours later

	assert.Equal(t, 1, e.SampleCount())
}

func TestBasisTick_HedgeDriftSignal(t *testing.T) {
	e, st, b := newBasisFixture()
	sub := b.Subscribe("drift")

	st.UpdateSpotPrice(150.00)
	st.UpdatePerpMarkPrice(150.30)
	st.HedgeDrift.Store(5.0) // over the 2% threshold

	e.Tick(1_000)

	var sawDrift bool
	for {
		event, ok := sub.TryNext()
		if !ok {
			break
		}
		if s, ok := event.(domain.SignalEvent); ok && s.SignalType == "hedge_drift" {
			sawDrift = true
			assert.Zero(t, s.Size)
		}
	}
	assert.True(t, sawDrift)
}
