package agent

import (
	"context"
	"testing"
	"time"

	"github.com/solbasis/basisbot/config"
	"github.com/solbasis/basisbot/internal/adapters/exec"
	"github.com/solbasis/basisbot/internal/bus"
	"github.com/solbasis/basisbot/internal/position"
	"github.com/solbasis/basisbot/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock steps one second per call so interval checks never collide.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newRebalFixture(t *testing.T) (*Rebalancer, *position.Manager, *state.SharedState, *fakeClock, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Rebalance.CheckIntervalSecs = 1 // keep the interval out of the way by default

	st := state.New()
	b := bus.New(64)
	mgr := position.NewManager(st, b)
	executor := exec.NewPaperExecutor(st, mgr)

	r := NewRebalancer(cfg, st, mgr, executor)
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	r.now = clock.now
	return r, mgr, st, clock, cfg
}

// openDrifted opens a 10 SOL hedge and shrinks the short to create positive
// drift above the threshold.
func openDrifted(t *testing.T, mgr *position.Manager, st *state.SharedState) {
	t.Helper()
	st.UpdateSpotPrice(150.00)
	st.UpdatePerpMarkPrice(150.30)
	mgr.SimulateOpen(150.00, 10)
	mgr.AdjustPositions(0, 1) // perp -10 -> -9: drift 10%
	require.InDelta(t, 10.0, st.HedgeDrift.Load(), 1e-9)
}

func TestEvaluate_BelowThresholdNoOp(t *testing.T) {
	r, mgr, st, _, _ := newRebalFixture(t)
	st.UpdateSpotPrice(150.00)
	st.UpdatePerpMarkPrice(150.30)
	mgr.SimulateOpen(150.00, 10) // balanced hedge

	decision := r.Evaluate()
	assert.False(t, decision.ShouldRebalance)
	assert.Contains(t, decision.Reason, "below threshold")
}

func TestEvaluate_SpotHeavySplit(t *testing.T) {
	r, mgr, st, _, _ := newRebalFixture(t)
	openDrifted(t, mgr, st)

	decision := r.Evaluate()
	require.True(t, decision.ShouldRebalance)
	// adjustment = 10 * 10% = 1, split in half across the legs
	assert.InDelta(t, -0.5, decision.SpotAdjustment, 1e-9)
	assert.InDelta(t, 0.5, decision.PerpAdjustment, 1e-9)
}

func TestEvaluate_PerpHeavySplit(t *testing.T) {
	r, mgr, st, _, _ := newRebalFixture(t)
	st.UpdateSpotPrice(150.00)
	st.UpdatePerpMarkPrice(150.30)
	mgr.SimulateOpen(150.00, 10)
	mgr.AdjustPositions(-1, 0) // spot 9, perp abs 10: drift -11.1%

	decision := r.Evaluate()
	require.True(t, decision.ShouldRebalance)
	assert.Greater(t, decision.SpotAdjustment, 0.0)
	assert.Less(t, decision.PerpAdjustment, 0.0)
}

func TestEvaluate_SkipsTinyAdjustment(t *testing.T) {
	r, mgr, st, _, cfg := newRebalFixture(t)
	cfg.Rebalance.MinRebalanceSizeSOL = 5.0 // adjustment of 1 falls short
	openDrifted(t, mgr, st)

	decision := r.Evaluate()
	assert.False(t, decision.ShouldRebalance)
	assert.Contains(t, decision.Reason, "below minimum")
}

func TestExecuteRebalance_AppliesAdjustment(t *testing.T) {
	r, mgr, st, _, _ := newRebalFixture(t)
	openDrifted(t, mgr, st)

	res, err := r.ExecuteRebalance(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "paper_trade", res.Signature)

	s := mgr.Summary()
	assert.InDelta(t, 9.5, s.SpotSize, 1e-9)
	assert.InDelta(t, 8.5, s.PerpSize, 1e-9)
	assert.Greater(t, st.LastRebalance.Load(), int64(0))
	assert.Equal(t, 1, r.Stats().RebalancesThisHour)
}

func TestExecuteRebalance_HourlyRateLimit(t *testing.T) {
	r, mgr, st, _, cfg := newRebalFixture(t)
	cfg.Rebalance.MaxRebalancesPerHour = 2
	openDrifted(t, mgr, st)

	successes := 0
	var lastErr string
	for i := 0; i < 3; i++ {
		// drift keeps exceeding the threshold; re-drift between calls
		if st.HedgeDrift.Load() < cfg.Risk.HedgeDriftThresholdPct {
			mgr.AdjustPositions(0, 1)
		}
		res, err := r.ExecuteRebalance(context.Background())
		require.NoError(t, err)
		if res.Success {
			successes++
		} else {
			lastErr = res.Err
		}
	}

	assert.Equal(t, 2, successes)
	assert.Equal(t, "Rate limited", lastErr)
}

func TestExecuteRebalance_CounterResetsNextHour(t *testing.T) {
	r, mgr, st, clock, cfg := newRebalFixture(t)
	cfg.Rebalance.MaxRebalancesPerHour = 1
	openDrifted(t, mgr, st)

	res, err := r.ExecuteRebalance(context.Background())
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = r.ExecuteRebalance(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Success)

	clock.advance(time.Hour)
	res, err = r.ExecuteRebalance(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestExecuteRebalance_MinIntervalEnforced(t *testing.T) {
	r, mgr, st, clock, cfg := newRebalFixture(t)
	cfg.Rebalance.CheckIntervalSecs = 300
	openDrifted(t, mgr, st)

	res, err := r.ExecuteRebalance(context.Background())
	require.NoError(t, err)
	require.True(t, res.Success)

	// only seconds later: refused
	res, err = r.ExecuteRebalance(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Success)

	clock.advance(6 * time.Minute)
	res, err = r.ExecuteRebalance(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
}
