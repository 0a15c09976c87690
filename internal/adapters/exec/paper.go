// Package exec provides execution shells behind the ports.Executor
// interface. The paper executor fills instantly against the position manager;
// a live implementation would build and submit real transactions instead.
package exec

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/solbasis/basisbot/internal/position"
	"github.com/solbasis/basisbot/internal/ports"
	"github.com/solbasis/basisbot/internal/state"
)

// paperSignature marks fills that never touched a venue.
const paperSignature = "paper_trade"

// PaperExecutor simulates immediate fills at current prices.
type PaperExecutor struct {
	state     *state.SharedState
	positions *position.Manager
}

// NewPaperExecutor creates a paper execution shell.
func NewPaperExecutor(st *state.SharedState, positions *position.Manager) *PaperExecutor {
	return &PaperExecutor{state: st, positions: positions}
}

// Open fills the hedge at the current spot and perp mark prices.
func (e *PaperExecutor) Open(ctx context.Context, size float64) (ports.ExecutionResult, error) {
	if size <= 0 {
		return ports.ExecutionResult{Err: "non-positive size"},
			fmt.Errorf("exec.Open: non-positive size %v", size)
	}
	spot := e.state.SpotPrice.Load()
	if spot <= 0 {
		return ports.ExecutionResult{Err: "no spot price"},
			fmt.Errorf("exec.Open: no spot price yet")
	}

	slog.Debug("paper open", "size", fmt.Sprintf("%.4f", size), "spot", fmt.Sprintf("%.2f", spot))
	e.positions.SimulateOpen(spot, size)

	return ports.ExecutionResult{
		Success:    true,
		SpotTraded: size,
		PerpTraded: -size,
		Signature:  paperSignature,
	}, nil
}

// Close unwinds both legs at the current prices.
func (e *PaperExecutor) Close(ctx context.Context, reduceOnly bool) (ports.ExecutionResult, error) {
	if !e.positions.HasPosition() {
		return ports.ExecutionResult{Err: "no open position"},
			fmt.Errorf("exec.Close: no open position")
	}
	summary := e.positions.Summary()
	pnl := e.positions.SimulateClose(e.state.SpotPrice.Load())

	slog.Debug("paper close", "pnl", fmt.Sprintf("$%.2f", pnl))
	return ports.ExecutionResult{
		Success:    true,
		SpotTraded: summary.SpotSize,
		PerpTraded: summary.PerpSize,
		Signature:  paperSignature,
	}, nil
}

// Adjust applies the deltas directly to the legs.
func (e *PaperExecutor) Adjust(ctx context.Context, spotDelta, perpDelta float64) (ports.ExecutionResult, error) {
	e.positions.AdjustPositions(spotDelta, perpDelta)
	return ports.ExecutionResult{
		Success:    true,
		SpotTraded: spotDelta,
		PerpTraded: perpDelta,
		Signature:  paperSignature,
	}, nil
}
