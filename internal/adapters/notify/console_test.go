package notify

import (
	"bytes"
	"math"
	"testing"

	"github.com/solbasis/basisbot/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestPrintStatus_CompactLine(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf, false)

	c.PrintStatus(Status{
		State:       "Monitoring",
		SpotPrice:   150.00,
		PerpPrice:   150.30,
		BasisPct:    0.2,
		FundingAPR:  87.6,
		HasPosition: true,
		Position:    domain.PositionSummary{SpotSize: 10, SpotEntry: 150.00},
	})

	out := buf.String()
	assert.Contains(t, out, "Monitoring")
	assert.Contains(t, out, "$150.00")
	assert.Contains(t, out, "0.2000%")
	assert.Contains(t, out, "87.6% APR")
	assert.Contains(t, out, "pos 10.00")
}

func TestPrintStatus_TableMode(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf, true)

	c.PrintStatus(Status{State: "Idle", SpotPrice: 150, PerpPrice: 150.3})

	out := buf.String()
	assert.Contains(t, out, "agent status")
	assert.Contains(t, out, "Funding APR")
}

func TestPrintPerformanceReport_Empty(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf, false)

	c.PrintPerformanceReport(domain.PerformanceMetrics{}, domain.FundingPerformance{})
	assert.Contains(t, buf.String(), "no closed trades yet")
}

func TestPrintPerformanceReport_Full(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf, false)

	c.PrintPerformanceReport(domain.PerformanceMetrics{
		TotalTrades:   4,
		WinningTrades: 3,
		LosingTrades:  1,
		WinRate:       0.75,
		NetPnL:        120.5,
		ProfitFactor:  math.Inf(1),
		CurrentStreak: 2,
	}, domain.FundingPerformance{HighFundingWinRate: 1.0})

	out := buf.String()
	assert.Contains(t, out, "PERFORMANCE REPORT")
	assert.Contains(t, out, "4 (3W / 1L)")
	assert.Contains(t, out, "INF")
	assert.Contains(t, out, ">= 25% APR")
}

func TestPrintDailies(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf, false)

	c.PrintDailies([]domain.DailySummary{
		{Date: "2026-08-01", Trades: 3, NetPnL: 42.5, FundingPnL: 5.1, WinRate: 2.0 / 3.0, MaxDrawdown: 1.2},
		{Date: "2026-08-02", Trades: 1, NetPnL: -8.0, WinRate: 0},
	})

	out := buf.String()
	assert.Contains(t, out, "DAILY SUMMARY")
	assert.Contains(t, out, "2026-08-01")
	assert.Contains(t, out, "$42.50")
	assert.Contains(t, out, "66.7%")
	assert.Contains(t, out, "2026-08-02")
}

func TestPrintDailies_EmptyPrintsNothing(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf, false)
	c.PrintDailies(nil)
	assert.Empty(t, buf.String())
}

func TestPrintReversalAlert(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf, false)

	c.PrintReversalAlert(domain.ReversalAlert{
		Severity:       domain.SeverityHigh,
		CurrentAPR:     45.2,
		Velocity:       -0.0003,
		Recommendation: "RECOMMENDED: Reduce or close position.",
	})

	out := buf.String()
	assert.Contains(t, out, "REVERSAL HIGH")
	assert.Contains(t, out, "45.2%")
}
