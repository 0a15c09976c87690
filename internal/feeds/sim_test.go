package feeds

import (
	"context"
	"testing"
	"time"

	"github.com/solbasis/basisbot/internal/bus"
	"github.com/solbasis/basisbot/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimFeed_PushesPricesAndFunding(t *testing.T) {
	st := state.New()
	b := bus.New(256)
	f := NewSimFeed(st, b, 150.0)

	ctx, cancel := context.WithTimeout(context.Background(), 1200*time.Millisecond)
	defer cancel()
	require.NoError(t, f.Run(ctx))

	assert.Greater(t, st.SpotPrice.Load(), 0.0)
	assert.Greater(t, st.PerpMarkPrice.Load(), 0.0)
	assert.NotZero(t, st.CurrentFundingRate.Load())
	assert.Greater(t, st.LastPriceUpdate.Load(), int64(0))

	// flags drop once the feed stops
	rpc, ws := st.Connected()
	assert.False(t, rpc)
	assert.False(t, ws)
}

func TestSimFeed_FundingStaysPositiveAndBounded(t *testing.T) {
	st := state.New()
	b := bus.New(16)
	f := NewSimFeed(st, b, 150.0)

	for i := 0; i < 200; i++ {
		f.pushFunding()
		rate := st.CurrentFundingRate.Load()
		assert.Greater(t, rate, 0.0)
		assert.LessOrEqual(t, rate, fundingAnchorRate*5)
	}
}

func TestSimFeed_PricesStayPositive(t *testing.T) {
	st := state.New()
	b := bus.New(16)
	f := NewSimFeed(st, b, 150.0)

	for i := 0; i < 500; i++ {
		f.pushPrices()
		assert.Greater(t, st.SpotPrice.Load(), 0.0)
		assert.Greater(t, st.PerpMarkPrice.Load(), 0.0)
	}
}
