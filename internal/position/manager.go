// Package position tracks the two hedge legs and their P&L, and simulates
// fills in paper mode.
package position

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/solbasis/basisbot/internal/bus"
	"github.com/solbasis/basisbot/internal/domain"
	"github.com/solbasis/basisbot/internal/state"
)

// maxTradeLog bounds the in-memory diagnostic log, drop-oldest.
const maxTradeLog = 1000

// Manager owns the spot and perp legs. All mutations go through it; the
// shared state only mirrors the legs for read-side consumers.
type Manager struct {
	state *state.SharedState
	bus   *bus.Bus

	mu          sync.RWMutex
	spot        *domain.SpotLeg
	perp        *domain.PerpLeg
	realizedPnL float64
	tradeLog    []domain.TradeRecord
	currentID   string
}

// NewManager creates a position manager.
func NewManager(st *state.SharedState, b *bus.Bus) *Manager {
	return &Manager{
		state: st,
		bus:   b,
	}
}

// SimulateOpen enters the hedge at the given spot price: long size spot,
// short size perp at the current mark price.
func (m *Manager) SimulateOpen(spotPrice, size float64) {
	now := time.Now().UnixMilli()
	perpPrice := m.state.PerpMarkPrice.Load()

	m.mu.Lock()
	m.currentID = uuid.New().String()
	positionID := m.currentID
	m.spot = &domain.SpotLeg{
		Size:         size,
		EntryPrice:   spotPrice,
		CurrentValue: size * spotPrice,
		EntryTime:    now,
	}
	m.perp = &domain.PerpLeg{
		Size:       -size, // short
		EntryPrice: perpPrice,
		MarkPrice:  perpPrice,
		EntryTime:  now,
	}
	m.recordLocked(domain.TradeRecord{
		Timestamp: now,
		Side:      "OPEN",
		Size:      size,
		Price:     spotPrice,
		Type:      domain.TradeOpen,
	})
	m.mirrorLocked()
	m.mu.Unlock()

	m.bus.Publish(domain.PositionOpened{
		TradeID:   positionID,
		Size:      size,
		SpotPrice: spotPrice,
		PerpPrice: perpPrice,
		Timestamp: now,
	})

	slog.Info("opened position",
		"size", fmt.Sprintf("%.4f", size),
		"spot", fmt.Sprintf("%.2f", spotPrice),
		"perp", fmt.Sprintf("%.2f", perpPrice),
	)
}

// SimulateClose exits both legs at the given spot price and the current perp
// mark. Returns the realized total including accumulated funding; after the
// call both legs are absent.
func (m *Manager) SimulateClose(currentSpotPrice float64) float64 {
	now := time.Now().UnixMilli()
	perpPrice := m.state.PerpMarkPrice.Load()

	m.mu.Lock()
	var total float64
	positionID := m.currentID

	if m.spot != nil {
		spotPnL := (currentSpotPrice - m.spot.EntryPrice) * m.spot.Size
		total += spotPnL
		m.recordLocked(domain.TradeRecord{
			Timestamp: now,
			Side:      "CLOSE_SPOT",
			Size:      m.spot.Size,
			Price:     currentSpotPrice,
			PnL:       spotPnL,
			Type:      domain.TradeClose,
		})
	}
	if m.perp != nil {
		size := abs(m.perp.Size)
		// short leg: profit when the mark falls
		perpPnL := (m.perp.EntryPrice-perpPrice)*size + m.perp.AccumulatedFunding
		total += perpPnL
		m.recordLocked(domain.TradeRecord{
			Timestamp: now,
			Side:      "CLOSE_PERP",
			Size:      size,
			Price:     perpPrice,
			PnL:       perpPnL,
			Type:      domain.TradeClose,
		})
	}

	m.spot = nil
	m.perp = nil
	m.currentID = ""
	m.realizedPnL += total
	m.mirrorLocked()
	m.mu.Unlock()

	m.state.RealizedPnL.Add(total)
	m.state.UnrealizedPnL.Store(0)

	m.bus.Publish(domain.PositionClosed{
		TradeID:   positionID,
		PnL:       total,
		Timestamp: now,
	})

	slog.Info("closed position", "pnl", fmt.Sprintf("$%.2f", total))
	return total
}

// AdjustPositions applies signed deltas to each leg, for rebalancing.
func (m *Manager) AdjustPositions(spotDelta, perpDelta float64) {
	now := time.Now().UnixMilli()

	m.mu.Lock()
	if m.spot != nil {
		m.spot.Size += spotDelta
		slog.Debug("adjusted spot leg",
			"delta", fmt.Sprintf("%.4f", spotDelta),
			"size", fmt.Sprintf("%.4f", m.spot.Size))
	}
	if m.perp != nil {
		m.perp.Size += perpDelta
		slog.Debug("adjusted perp leg",
			"delta", fmt.Sprintf("%.4f", perpDelta),
			"size", fmt.Sprintf("%.4f", m.perp.Size))
	}
	m.recordLocked(domain.TradeRecord{
		Timestamp: now,
		Side:      "REBALANCE",
		Size:      abs(spotDelta),
		Price:     m.state.SpotPrice.Load(),
		Type:      domain.TradeRebalance,
	})
	m.mirrorLocked()
	m.mu.Unlock()
}

// UpdatePnL recomputes the unrealized P&L from current prices and publishes
// it to the shared state.
func (m *Manager) UpdatePnL() {
	spotPrice := m.state.SpotPrice.Load()
	perpPrice := m.state.PerpMarkPrice.Load()

	m.mu.Lock()
	var total float64
	if m.spot != nil {
		m.spot.CurrentValue = m.spot.Size * spotPrice
		m.spot.UnrealizedPnL = (spotPrice - m.spot.EntryPrice) * m.spot.Size
		total += m.spot.UnrealizedPnL
	}
	if m.perp != nil {
		m.perp.MarkPrice = perpPrice
		m.perp.UnrealizedPnL = (m.perp.EntryPrice - perpPrice) * abs(m.perp.Size)
		total += m.perp.UnrealizedPnL + m.perp.AccumulatedFunding
	}
	m.mirrorLocked()
	m.mu.Unlock()

	m.state.UnrealizedPnL.Store(total)
}

// AddFunding credits a funding payment to the perp leg.
func (m *Manager) AddFunding(amount float64) {
	m.mu.Lock()
	if m.perp != nil {
		m.perp.AccumulatedFunding += amount
	}
	m.mu.Unlock()
	m.state.TotalFundingReceived.Add(amount)
}

// Summary returns a point-in-time view of both legs.
func (m *Manager) Summary() domain.PositionSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s domain.PositionSummary
	s.RealizedPnL = m.realizedPnL
	if m.spot != nil {
		s.SpotSize = m.spot.Size
		s.SpotEntry = m.spot.EntryPrice
		s.UnrealizedPnL += m.spot.UnrealizedPnL
		s.OpenTime = m.spot.EntryTime
	}
	if m.perp != nil {
		s.PerpSize = abs(m.perp.Size)
		s.PerpEntry = m.perp.EntryPrice
		s.UnrealizedPnL += m.perp.UnrealizedPnL + m.perp.AccumulatedFunding
	}
	if s.SpotSize > 0 {
		s.HedgeRatio = s.PerpSize / s.SpotSize
	}
	return s
}

// HasPosition reports whether either leg exists.
func (m *Manager) HasPosition() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.spot != nil || m.perp != nil
}

// NotionalValue returns the current USD value of the spot leg.
func (m *Manager) NotionalValue() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.spot == nil {
		return 0
	}
	return m.spot.Size * m.state.SpotPrice.Load()
}

// RealizedPnL returns the running realized total.
func (m *Manager) RealizedPnL() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.realizedPnL
}

// TradeLog returns a copy of the bounded diagnostic log.
func (m *Manager) TradeLog() []domain.TradeRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.TradeRecord, len(m.tradeLog))
	copy(out, m.tradeLog)
	return out
}

// mirrorLocked pushes leg copies and the hedge drift into the shared state.
// Callers hold m.mu.
func (m *Manager) mirrorLocked() {
	m.state.SetPositions(m.spot, m.perp)
	var spotSize, perpSize float64
	if m.spot != nil {
		spotSize = m.spot.Size
	}
	if m.perp != nil {
		perpSize = m.perp.Size
	}
	m.state.HedgeDrift.Store(domain.HedgeDriftPct(spotSize, perpSize))
}

func (m *Manager) recordLocked(r domain.TradeRecord) {
	m.tradeLog = append(m.tradeLog, r)
	if len(m.tradeLog) > maxTradeLog {
		m.tradeLog = m.tradeLog[len(m.tradeLog)-maxTradeLog:]
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
