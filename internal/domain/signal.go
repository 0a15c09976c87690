package domain

// SignalType classifies a trade signal.
type SignalType int

const (
	SignalOpenBasis SignalType = iota
	SignalCloseBasis
	SignalRebalance
	SignalHold
)

func (t SignalType) String() string {
	switch t {
	case SignalOpenBasis:
		return "open_basis"
	case SignalCloseBasis:
		return "close_basis"
	case SignalRebalance:
		return "rebalance"
	case SignalHold:
		return "hold"
	default:
		return "unknown"
	}
}

// SignalEvaluation is the result of one signal engine pass.
type SignalEvaluation struct {
	ShouldOpen      bool
	ShouldClose     bool
	ShouldRebalance bool
	RecommendedSize float64
	Confidence      float64 // 0-1
	ExpectedProfit  float64 // USD
	Reasons         []string
	Timestamp       int64
}

// TradeSignal is a signal with the market context it was generated from.
type TradeSignal struct {
	Type           SignalType
	Size           float64
	BasisSpread    float64
	FundingAPR     float64
	ExpectedProfit float64
	Confidence     float64
	Timestamp      int64
	Reason         string
}
