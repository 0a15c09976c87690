package domain

// SpotLeg is the long spot side of the hedge.
type SpotLeg struct {
	Size          float64 // base units, always >= 0
	EntryPrice    float64
	CurrentValue  float64
	UnrealizedPnL float64
	EntryTime     int64 // ms since epoch
}

// PerpLeg is the short perpetual side of the hedge.
type PerpLeg struct {
	Size               float64 // signed, negative = short
	EntryPrice         float64
	MarkPrice          float64
	UnrealizedPnL      float64
	AccumulatedFunding float64
	EntryTime          int64
}

// PositionSummary is a point-in-time view of both legs.
type PositionSummary struct {
	SpotSize      float64
	PerpSize      float64 // absolute
	SpotEntry     float64
	PerpEntry     float64
	UnrealizedPnL float64
	RealizedPnL   float64
	HedgeRatio    float64
	OpenTime      int64
}

// TradeType classifies an entry in the in-memory trade log.
type TradeType int

const (
	TradeOpen TradeType = iota
	TradeClose
	TradeRebalance
)

func (t TradeType) String() string {
	switch t {
	case TradeOpen:
		return "OPEN"
	case TradeClose:
		return "CLOSE"
	case TradeRebalance:
		return "REBALANCE"
	default:
		return "UNKNOWN"
	}
}

// TradeRecord is one entry in the position manager's bounded trade log.
// Distinct from the durable ledger: this is a diagnostic tail, not history.
type TradeRecord struct {
	Timestamp int64
	Side      string
	Size      float64
	Price     float64
	PnL       float64
	Type      TradeType
}
