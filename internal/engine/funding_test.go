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

func newFundingFixture() (*FundingEngine, *state.SharedState, *bus.Bus) {
	cfg := config.Default()
	st := state.New()
	b := bus.New(64)
	return NewFundingEngine(cfg, st, b), st, b
}

func drainSignals(sub *bus.Subscriber) []domain.SignalEvent {
	var out []domain.SignalEvent
	for {
		event, ok := sub.TryNext()
		if !ok {
			return out
		}
		if s, ok := event.(domain.SignalEvent); ok {
			out = append(out, s)
		}
	}
}

func TestFundingTick_SkipsZeroRate(t *testing.T) {
	e, _, _ := newFundingFixture()
	e.Tick(1_000)
	assert.Nil(t, e.LastAnalysis())
}

func TestFundingTick_Averages(t *testing.T) {
	e, st, _ := newFundingFixture()

	st.UpdateFundingRate(0.0001)
	e.Tick(0)
	st.UpdateFundingRate(0.0003)
	e.Tick(30_000)

	a := e.LastAnalysis()
	require.NotNil(t, a)
	assert.InDelta(t, 0.0002, a.Avg8hRate, 1e-12)
	assert.InDelta(t, 0.0003*1000, a.PredictedPayment, 1e-12)
	assert.Greater(t, a.Volatility, 0.0)
}

func TestFundingTick_ElevatedFlagAndEdgeTrigger(t *testing.T) {
	e, st, b := newFundingFixture()
	sub := b.Subscribe("funding")

	// APR 87.6% clears the 15% minimum
	st.UpdateFundingRate(0.0001)
	e.Tick(0)

	signals := drainSignals(sub)
	require.Len(t, signals, 1)
	assert.Equal(t, "funding_elevated", signals[0].SignalType)

	// still elevated: no repeat while the flag stays up
	e.Tick(30_000)
	assert.Empty(t, drainSignals(sub))
}

func TestFundingTick_ReversingDetection(t *testing.T) {
	e, st, b := newFundingFixture()
	sub := b.Subscribe("reversing")

	// positive rate falling fast: velocity well below -1e-4 per hour
	rates := []float64{0.0010, 0.0008, 0.0006, 0.0004}
	for i, r := range rates {
		st.UpdateFundingRate(r)
		e.Tick(int64(i) * 30_000)
	}

	a := e.LastAnalysis()
	require.NotNil(t, a)
	assert.Less(t, a.Velocity, -0.0001)
	assert.True(t, a.IsReversing)

	var sawReversing bool
	for _, s := range drainSignals(sub) {
		if s.SignalType == "funding_reversing" {
			sawReversing = true
		}
	}
	assert.True(t, sawReversing)
}

func TestFundingTick_SteadyRateNotReversing(t *testing.T) {
	e, st, _ := newFundingFixture()
	for i := 0; i < 5; i++ {
		st.UpdateFundingRate(0.0002)
		e.Tick(int64(i) * 30_000)
	}
	a := e.LastAnalysis()
	require.NotNil(t, a)
	assert.False(t, a.IsReversing)
	assert.InDelta(t, 0.0, a.Velocity, 1e-12)
}

func TestFundingVelocity_UsesRecentSamplesOnly(t *testing.T) {
	e, st, _ := newFundingFixture()

	// 15 flat samples, then a sharp drop across the last ten
	now := int64(0)
	for i := 0; i < 15; i++ {
		st.UpdateFundingRate(0.0010)
		e.Tick(now)
		now += 30_000
	}
	for i := 0; i < 5; i++ {
		st.UpdateFundingRate(0.0010 - float64(i+1)*0.0001)
		e.Tick(now)
		now += 30_000
	}

	a := e.LastAnalysis()
	require.NotNil(t, a)
	assert.Less(t, a.Velocity, 0.0)
}
