package domain

// TradeOutcome is the immutable record of one closed trade cycle.
// Appended to the performance ledger; never mutated after write.
type TradeOutcome struct {
	ID              string  `json:"id"`
	OpenTime        int64   `json:"open_time"`
	CloseTime       int64   `json:"close_time"`
	Size            float64 `json:"size"`
	EntrySpot       float64 `json:"entry_spot"`
	EntryPerp       float64 `json:"entry_perp"`
	ExitSpot        float64 `json:"exit_spot"`
	ExitPerp        float64 `json:"exit_perp"`
	EntryBasis      float64 `json:"entry_basis_pct"`
	ExitBasis       float64 `json:"exit_basis_pct"`
	EntryFundingAPR float64 `json:"entry_funding_apr"`
	FundingCollect  float64 `json:"funding_collected"`
	SpotPnL         float64 `json:"spot_pnl"`
	PerpPnL         float64 `json:"perp_pnl"`
	TotalPnL        float64 `json:"total_pnl"`
	ROIPct          float64 `json:"roi_pct"`
	HoldHours       float64 `json:"hold_hours"`
	IsWinner        bool    `json:"is_winner"`
	CloseReason     string  `json:"close_reason"`
	EntryConfidence float64 `json:"entry_confidence"`
}

// PerformanceMetrics is recomputed in full from the outcome vector.
type PerformanceMetrics struct {
	TotalTrades       int     `json:"total_trades"`
	WinningTrades     int     `json:"winning_trades"`
	LosingTrades      int     `json:"losing_trades"`
	WinRate           float64 `json:"win_rate"`
	GrossProfit       float64 `json:"gross_profit"`
	GrossLoss         float64 `json:"gross_loss"`
	NetPnL            float64 `json:"net_pnl"`
	ProfitFactor      float64 `json:"profit_factor"`
	AvgWin            float64 `json:"avg_win"`
	AvgLoss           float64 `json:"avg_loss"`
	Expectancy        float64 `json:"expectancy"`
	AvgHoldHours      float64 `json:"avg_hold_hours"`
	SharpeRatio       float64 `json:"sharpe_ratio"`
	MaxDrawdownPct    float64 `json:"max_drawdown_pct"`
	AvgROIPct         float64 `json:"avg_roi_pct"`
	BestTrade         float64 `json:"best_trade"`
	WorstTrade        float64 `json:"worst_trade"`
	CurrentStreak     int     `json:"current_streak"`
	LongestWinStreak  int     `json:"longest_win_streak"`
	LongestLossStreak int     `json:"longest_loss_streak"`
}

// FundingPerformance stratifies results by funding APR at entry.
// Buckets: low < 15, medium 15-25, high >= 25.
type FundingPerformance struct {
	HighFundingWinRate   float64
	MediumFundingWinRate float64
	LowFundingWinRate    float64
	HighFundingAvgPnL    float64
	MediumFundingAvgPnL  float64
	LowFundingAvgPnL     float64
}

// DailySummary is one row of the trade archive's daily rollup.
type DailySummary struct {
	Date        string
	Trades      int
	NetPnL      float64
	FundingPnL  float64
	WinRate     float64
	MaxDrawdown float64
}
