package state

import (
	"sync"
	"testing"

	"github.com/solbasis/basisbot/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestAtomicF64_RoundTrip(t *testing.T) {
	var a AtomicF64
	a.Store(150.25)
	assert.Equal(t, 150.25, a.Load())

	a.Store(-0.0004)
	assert.Equal(t, -0.0004, a.Load())
}

func TestAtomicF64_Add(t *testing.T) {
	var a AtomicF64
	a.Store(10)
	got := a.Add(2.5)
	assert.Equal(t, 12.5, got)
	assert.Equal(t, 12.5, a.Load())
}

func TestAtomicF64_ConcurrentAdd(t *testing.T) {
	var a AtomicF64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				a.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8000.0, a.Load())
}

func TestUpdateSpotPrice_RecomputesBasis(t *testing.T) {
	s := New()
	s.UpdatePerpMarkPrice(150.30)
	s.UpdateSpotPrice(150.00)

	assert.InDelta(t, 0.2, s.BasisSpread.Load(), 1e-12)
	assert.Greater(t, s.LastPriceUpdate.Load(), int64(0))
}

func TestUpdateSpotPrice_NoBasisWithoutSpot(t *testing.T) {
	s := New()
	s.UpdatePerpMarkPrice(150.30)
	// spot still zero: basis must stay untouched
	assert.Equal(t, 0.0, s.BasisSpread.Load())
}

func TestUpdateFundingRate_DerivesAPR(t *testing.T) {
	s := New()
	s.UpdateFundingRate(0.0001)
	assert.InDelta(t, 87.6, s.FundingAPR.Load(), 1e-9)

	hist := s.FundingHistory()
	assert.Len(t, hist, 1)
	for _, sample := range hist {
		assert.Equal(t, 0.0001, sample.Rate)
		assert.InDelta(t, 87.6, sample.APR, 1e-9)
	}
}

func TestHistoryTrim_DropsOldEntries(t *testing.T) {
	s := New()

	base := int64(1_700_000_000_000)
	orig := nowMillis
	defer func() { nowMillis = orig }()

	nowMillis = func() int64 { return base }
	s.UpdateFundingRate(0.0001)

	// nine hours later: the first sample is past retention
	nowMillis = func() int64 { return base + 9*60*60*1000 }
	s.UpdateFundingRate(0.0002)

	hist := s.FundingHistory()
	assert.Len(t, hist, 1)
	_, ok := hist[base]
	assert.False(t, ok, "old sample should have been trimmed")
}

func TestSetPositions_CopiesValues(t *testing.T) {
	s := New()
	spot := &domain.SpotLeg{Size: 10, EntryPrice: 150}
	perp := &domain.PerpLeg{Size: -10, EntryPrice: 150.3}
	s.SetPositions(spot, perp)

	spot.Size = 999 // mutations of the caller's copy must not leak

	gotSpot, gotPerp := s.Positions()
	assert.Equal(t, 10.0, gotSpot.Size)
	assert.Equal(t, -10.0, gotPerp.Size)
	assert.True(t, s.HasPosition())

	s.SetPositions(nil, nil)
	assert.False(t, s.HasPosition())
}

func TestPauseResume(t *testing.T) {
	s := New()
	s.Pause("drawdown")
	paused, reason := s.Paused()
	assert.True(t, paused)
	assert.Equal(t, "drawdown", reason)

	s.Resume()
	paused, reason = s.Paused()
	assert.False(t, paused)
	assert.Empty(t, reason)
}

func TestConnectionFlags(t *testing.T) {
	s := New()
	rpc, ws := s.Connected()
	assert.False(t, rpc)
	assert.False(t, ws)

	s.SetRPCConnected(true)
	s.SetWSConnected(true)
	rpc, ws = s.Connected()
	assert.True(t, rpc)
	assert.True(t, ws)
}

func TestCounters(t *testing.T) {
	s := New()
	s.IncrementErrorCount()
	s.IncrementErrorCount()
	s.IncrementTradeCount()
	assert.Equal(t, uint64(2), s.ErrorCount.Load())
	assert.Equal(t, uint64(1), s.TradeCount.Load())
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	s := New()
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			s.UpdateSpotPrice(150.0 + float64(i%10))
			s.UpdatePerpMarkPrice(150.3 + float64(i%10))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			spot := s.SpotPrice.Load()
			perp := s.PerpMarkPrice.Load()
			// values are never torn: both always full doubles we wrote
			assert.GreaterOrEqual(t, spot, 0.0)
			assert.GreaterOrEqual(t, perp, 0.0)
		}
	}()
	wg.Wait()
}
