// Package state holds the process-wide market snapshot shared by every
// subsystem. Scalar fields are lock-free atomic cells; optional positions and
// flags sit behind a read-write mutex. The store is a snapshot, not a
// transactional view: a reader may observe a new spot price before the
// matching basis spread.
package state

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solbasis/basisbot/internal/domain"
)

// historyRetention bounds the timestamp-keyed history maps.
const historyRetention = 8 * time.Hour

// nowMillis is swappable in tests.
var nowMillis = func() int64 { return time.Now().UnixMilli() }

// AtomicF64 is a float64 stored as its bit pattern in a uint64 cell.
// Loads and stores are wait-free; no reader observes a torn value.
type AtomicF64 struct {
	bits atomic.Uint64
}

// Load returns the current value.
func (a *AtomicF64) Load() float64 {
	return math.Float64frombits(a.bits.Load())
}

// Store replaces the current value.
func (a *AtomicF64) Store(v float64) {
	a.bits.Store(math.Float64bits(v))
}

// Add is a compare-and-swap loop for read-modify-write callers.
func (a *AtomicF64) Add(delta float64) float64 {
	for {
		old := a.bits.Load()
		next := math.Float64frombits(old) + delta
		if a.bits.CompareAndSwap(old, math.Float64bits(next)) {
			return next
		}
	}
}

// SharedState is the single process-wide store of current numeric facts.
// Constructed once at startup; all subsystems hold a shared reference.
type SharedState struct {
	// Prices
	SpotPrice       AtomicF64
	PerpMarkPrice   AtomicF64
	PerpIndexPrice  AtomicF64
	LastPriceUpdate atomic.Int64 // ms since epoch

	// Funding
	CurrentFundingRate AtomicF64
	FundingAPR         AtomicF64
	PredictedFunding   AtomicF64

	// Derived
	BasisSpread AtomicF64
	HedgeDrift  AtomicF64

	// P&L
	RealizedPnL          AtomicF64
	UnrealizedPnL        AtomicF64
	TotalFundingReceived AtomicF64

	// Counters
	ErrorCount    atomic.Uint64
	TradeCount    atomic.Uint64
	LastRebalance atomic.Int64
	LastTrade     atomic.Int64
	RPCLatencyUS  atomic.Uint64

	mu             sync.RWMutex
	spotPosition   *domain.SpotLeg
	perpPosition   *domain.PerpLeg
	paused         bool
	pauseReason    string
	rpcConnected   bool
	wsConnected    bool
	fundingHistory map[int64]domain.FundingSample
	basisHistory   map[int64]float64
}

// New returns an empty store. RPC starts disconnected; feeds flip it.
func New() *SharedState {
	return &SharedState{
		fundingHistory: make(map[int64]domain.FundingSample),
		basisHistory:   make(map[int64]float64),
	}
}

// UpdateSpotPrice stores a new spot price and recomputes the basis.
func (s *SharedState) UpdateSpotPrice(price float64) {
	s.SpotPrice.Store(price)
	s.LastPriceUpdate.Store(nowMillis())
	s.recalculateBasis()
}

// UpdatePerpMarkPrice stores a new perp mark price and recomputes the basis.
func (s *SharedState) UpdatePerpMarkPrice(price float64) {
	s.PerpMarkPrice.Store(price)
	s.LastPriceUpdate.Store(nowMillis())
	s.recalculateBasis()
}

// UpdatePerpIndexPrice stores a new perp index price.
func (s *SharedState) UpdatePerpIndexPrice(price float64) {
	s.PerpIndexPrice.Store(price)
	s.LastPriceUpdate.Store(nowMillis())
}

// UpdateFundingRate stores a new hourly funding rate, derives the APR and
// appends a history sample.
func (s *SharedState) UpdateFundingRate(rate float64) {
	s.CurrentFundingRate.Store(rate)
	apr := domain.FundingAPR(rate)
	s.FundingAPR.Store(apr)

	ts := nowMillis()
	s.mu.Lock()
	s.fundingHistory[ts] = domain.FundingSample{Timestamp: ts, Rate: rate, APR: apr}
	s.trimHistoryLocked(ts)
	s.mu.Unlock()
}

func (s *SharedState) recalculateBasis() {
	spot := s.SpotPrice.Load()
	perp := s.PerpMarkPrice.Load()
	if spot <= 0 {
		return
	}
	basis := domain.BasisSpreadPct(spot, perp)
	s.BasisSpread.Store(basis)

	ts := nowMillis()
	s.mu.Lock()
	s.basisHistory[ts] = basis
	s.trimHistoryLocked(ts)
	s.mu.Unlock()
}

// trimHistoryLocked drops entries older than the retention window.
func (s *SharedState) trimHistoryLocked(now int64) {
	cutoff := now - historyRetention.Milliseconds()
	for ts := range s.fundingHistory {
		if ts <= cutoff {
			delete(s.fundingHistory, ts)
		}
	}
	for ts := range s.basisHistory {
		if ts <= cutoff {
			delete(s.basisHistory, ts)
		}
	}
}

// FundingHistory returns a copy of the bounded funding history.
func (s *SharedState) FundingHistory() map[int64]domain.FundingSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]domain.FundingSample, len(s.fundingHistory))
	for ts, v := range s.fundingHistory {
		out[ts] = v
	}
	return out
}

// BasisHistory returns a copy of the bounded basis history.
func (s *SharedState) BasisHistory() map[int64]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]float64, len(s.basisHistory))
	for ts, v := range s.basisHistory {
		out[ts] = v
	}
	return out
}

// SetPositions replaces both legs under one write section. Either may be nil.
func (s *SharedState) SetPositions(spot *domain.SpotLeg, perp *domain.PerpLeg) {
	s.mu.Lock()
	s.spotPosition = cloneSpot(spot)
	s.perpPosition = clonePerp(perp)
	s.mu.Unlock()
}

// Positions returns copies of the current legs; nil when absent.
func (s *SharedState) Positions() (*domain.SpotLeg, *domain.PerpLeg) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSpot(s.spotPosition), clonePerp(s.perpPosition)
}

// HasPosition reports whether either leg exists.
func (s *SharedState) HasPosition() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spotPosition != nil || s.perpPosition != nil
}

// Pause flags the system paused with a reason.
func (s *SharedState) Pause(reason string) {
	s.mu.Lock()
	s.paused = true
	s.pauseReason = reason
	s.mu.Unlock()
}

// Resume clears the pause flag.
func (s *SharedState) Resume() {
	s.mu.Lock()
	s.paused = false
	s.pauseReason = ""
	s.mu.Unlock()
}

// Paused returns the pause flag and its reason.
func (s *SharedState) Paused() (bool, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused, s.pauseReason
}

// SetRPCConnected records the RPC connection flag.
func (s *SharedState) SetRPCConnected(up bool) {
	s.mu.Lock()
	s.rpcConnected = up
	s.mu.Unlock()
}

// SetWSConnected records the websocket connection flag.
func (s *SharedState) SetWSConnected(up bool) {
	s.mu.Lock()
	s.wsConnected = up
	s.mu.Unlock()
}

// Connected returns the rpc and ws connection flags.
func (s *SharedState) Connected() (rpc, ws bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rpcConnected, s.wsConnected
}

// IncrementErrorCount bumps the shared error counter.
func (s *SharedState) IncrementErrorCount() {
	s.ErrorCount.Add(1)
}

// IncrementTradeCount bumps the shared trade counter.
func (s *SharedState) IncrementTradeCount() {
	s.TradeCount.Add(1)
}

func cloneSpot(p *domain.SpotLeg) *domain.SpotLeg {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func clonePerp(p *domain.PerpLeg) *domain.PerpLeg {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
