// Package notify renders agent status to the console. One compact line per
// report interval, a table view for positions, and a performance report at
// exit.
package notify

import (
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/solbasis/basisbot/internal/domain"
)

// Status is the point-in-time view the reporter renders.
type Status struct {
	State         string
	SpotPrice     float64
	PerpPrice     float64
	BasisPct      float64
	FundingAPR    float64
	RealizedPnL   float64
	UnrealizedPnL float64
	TotalFunding  float64
	HasPosition   bool
	Position      domain.PositionSummary
}

// Console writes status output to a writer, stdout by default.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole creates a reporter that writes to stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter creates a reporter for tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// PrintStatus renders the current status, compact or tabular.
func (c *Console) PrintStatus(s Status) {
	if c.table {
		c.printStatusTable(s)
		return
	}

	now := time.Now().Format("15:04:05")
	line := fmt.Sprintf("[%s] %s | spot $%.2f perp $%.2f basis %.4f%% | funding %.1f%% APR | pnl r$%.2f u$%.2f",
		now, s.State, s.SpotPrice, s.PerpPrice, s.BasisPct, s.FundingAPR,
		s.RealizedPnL, s.UnrealizedPnL)
	if s.HasPosition {
		line += fmt.Sprintf(" | pos %.2f @ $%.2f", s.Position.SpotSize, s.Position.SpotEntry)
	}
	fmt.Fprintln(c.out, line)
}

func (c *Console) printStatusTable(s Status) {
	fmt.Fprintf(c.out, "\n[%s] agent status: %s\n", time.Now().Format("15:04:05"), s.State)

	table := tablewriter.NewWriter(c.out)
	table.Header("Spot", "Perp", "Basis", "Funding APR", "Realized", "Unrealized", "Funding rcvd")
	table.Append(
		fmt.Sprintf("$%.2f", s.SpotPrice),
		fmt.Sprintf("$%.2f", s.PerpPrice),
		fmt.Sprintf("%.4f%%", s.BasisPct),
		fmt.Sprintf("%.2f%%", s.FundingAPR),
		fmt.Sprintf("$%.2f", s.RealizedPnL),
		fmt.Sprintf("$%.2f", s.UnrealizedPnL),
		fmt.Sprintf("$%.2f", s.TotalFunding),
	)
	table.Render()

	if s.HasPosition {
		pos := tablewriter.NewWriter(c.out)
		pos.Header("Spot size", "Spot entry", "Perp size", "Perp entry", "Hedge ratio", "Unrealized")
		pos.Append(
			fmt.Sprintf("%.4f", s.Position.SpotSize),
			fmt.Sprintf("$%.2f", s.Position.SpotEntry),
			fmt.Sprintf("%.4f", s.Position.PerpSize),
			fmt.Sprintf("$%.2f", s.Position.PerpEntry),
			fmt.Sprintf("%.3f", s.Position.HedgeRatio),
			fmt.Sprintf("$%.2f", s.Position.UnrealizedPnL),
		)
		pos.Render()
	}
}

// PrintPerformanceReport renders the full metrics block, used at exit and on
// demand.
func (c *Console) PrintPerformanceReport(m domain.PerformanceMetrics, byFunding domain.FundingPerformance) {
	fmt.Fprintf(c.out, "\n=== PERFORMANCE REPORT ===\n")
	if m.TotalTrades == 0 {
		fmt.Fprintln(c.out, "no closed trades yet")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Metric", "Value")
	table.Append("Trades", fmt.Sprintf("%d (%dW / %dL)", m.TotalTrades, m.WinningTrades, m.LosingTrades))
	table.Append("Win rate", fmt.Sprintf("%.1f%%", m.WinRate*100))
	table.Append("Net P&L", fmt.Sprintf("$%.2f", m.NetPnL))
	table.Append("Profit factor", profitFactorLabel(m.ProfitFactor))
	table.Append("Expectancy", fmt.Sprintf("$%.2f", m.Expectancy))
	table.Append("Avg win / loss", fmt.Sprintf("$%.2f / $%.2f", m.AvgWin, m.AvgLoss))
	table.Append("Sharpe", fmt.Sprintf("%.2f", m.SharpeRatio))
	table.Append("Max drawdown", fmt.Sprintf("%.2f%%", m.MaxDrawdownPct))
	table.Append("Avg hold", fmt.Sprintf("%.1fh", m.AvgHoldHours))
	table.Append("Best / worst", fmt.Sprintf("$%.2f / $%.2f", m.BestTrade, m.WorstTrade))
	table.Append("Streak", fmt.Sprintf("%+d (best +%d / worst -%d)",
		m.CurrentStreak, m.LongestWinStreak, m.LongestLossStreak))
	table.Render()

	funding := tablewriter.NewWriter(c.out)
	funding.Header("Entry funding", "Win rate", "Avg P&L")
	funding.Append("< 15% APR", fmt.Sprintf("%.1f%%", byFunding.LowFundingWinRate*100),
		fmt.Sprintf("$%.2f", byFunding.LowFundingAvgPnL))
	funding.Append("15-25% APR", fmt.Sprintf("%.1f%%", byFunding.MediumFundingWinRate*100),
		fmt.Sprintf("$%.2f", byFunding.MediumFundingAvgPnL))
	funding.Append(">= 25% APR", fmt.Sprintf("%.1f%%", byFunding.HighFundingWinRate*100),
		fmt.Sprintf("$%.2f", byFunding.HighFundingAvgPnL))
	funding.Render()
}

// PrintDailies renders the archive's daily rollup, oldest first.
func (c *Console) PrintDailies(dailies []domain.DailySummary) {
	if len(dailies) == 0 {
		return
	}
	fmt.Fprintf(c.out, "\n=== DAILY SUMMARY ===\n")

	table := tablewriter.NewWriter(c.out)
	table.Header("Date", "Trades", "Net P&L", "Funding", "Win rate", "Max DD")
	for _, d := range dailies {
		table.Append(
			d.Date,
			fmt.Sprintf("%d", d.Trades),
			fmt.Sprintf("$%.2f", d.NetPnL),
			fmt.Sprintf("$%.2f", d.FundingPnL),
			fmt.Sprintf("%.1f%%", d.WinRate*100),
			fmt.Sprintf("%.2f%%", d.MaxDrawdown),
		)
	}
	table.Render()
}

// PrintReversalAlert renders an active reversal warning.
func (c *Console) PrintReversalAlert(a domain.ReversalAlert) {
	fmt.Fprintf(c.out, "[%s] REVERSAL %s | APR %.1f%% | velocity %.4f/hr | %s\n",
		time.Now().Format("15:04:05"), a.Severity.String(), a.CurrentAPR, a.Velocity,
		a.Recommendation)
}

func profitFactorLabel(pf float64) string {
	if math.IsInf(pf, 1) {
		return "INF"
	}
	return fmt.Sprintf("%.2f", pf)
}
