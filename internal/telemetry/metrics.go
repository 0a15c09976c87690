// Package telemetry exposes the shared-state counters as Prometheus gauges.
// The exporter mirrors state on a fixed cadence; it never sits on the hot
// path of a trade.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/solbasis/basisbot/internal/domain"
	"github.com/solbasis/basisbot/internal/state"
)

const updateInterval = 1 * time.Second

// Metrics owns the gauge set and its registry.
type Metrics struct {
	state   *state.SharedState
	stateFn func() domain.AgentState
	reg     *prometheus.Registry

	spotPrice      prometheus.Gauge
	perpMarkPrice  prometheus.Gauge
	perpIndexPrice prometheus.Gauge
	basisSpread    prometheus.Gauge
	fundingAPR     prometheus.Gauge
	hedgeDrift     prometheus.Gauge
	realizedPnL    prometheus.Gauge
	unrealizedPnL  prometheus.Gauge
	fundingRecv    prometheus.Gauge
	agentState     prometheus.Gauge
	errorCount     prometheus.Gauge
	tradeCount     prometheus.Gauge
	rpcLatencyUS   prometheus.Gauge
}

// New builds the gauge set. stateFn supplies the current agent state.
func New(st *state.SharedState, stateFn func() domain.AgentState) *Metrics {
	m := &Metrics{
		state:   st,
		stateFn: stateFn,
		reg:     prometheus.NewRegistry(),

		spotPrice:      gauge("bot_spot_price_usd", "Current spot price"),
		perpMarkPrice:  gauge("bot_perp_mark_price_usd", "Current perp mark price"),
		perpIndexPrice: gauge("bot_perp_index_price_usd", "Current perp index price"),
		basisSpread:    gauge("bot_basis_spread_pct", "Current basis spread percent"),
		fundingAPR:     gauge("bot_funding_apr_pct", "Current funding APR percent"),
		hedgeDrift:     gauge("bot_hedge_drift_pct", "Current hedge drift percent"),
		realizedPnL:    gauge("bot_realized_pnl_usd", "Realized P&L"),
		unrealizedPnL:  gauge("bot_unrealized_pnl_usd", "Unrealized P&L"),
		fundingRecv:    gauge("bot_funding_received_usd", "Total funding collected"),
		agentState:     gauge("bot_agent_state", "Agent state machine code"),
		errorCount:     gauge("bot_errors_total", "Errors observed"),
		tradeCount:     gauge("bot_trades_total", "Trades executed"),
		rpcLatencyUS:   gauge("bot_rpc_latency_us", "RPC latency in microseconds"),
	}

	m.reg.MustRegister(
		m.spotPrice, m.perpMarkPrice, m.perpIndexPrice,
		m.basisSpread, m.fundingAPR, m.hedgeDrift,
		m.realizedPnL, m.unrealizedPnL, m.fundingRecv,
		m.agentState, m.errorCount, m.tradeCount, m.rpcLatencyUS,
	)
	return m
}

// Run refreshes the gauges until the context is cancelled.
func (m *Metrics) Run(ctx context.Context) error {
	ticker := time.NewTicker(updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Update()
		}
	}
}

// Update mirrors the shared state into the gauges once.
func (m *Metrics) Update() {
	m.spotPrice.Set(m.state.SpotPrice.Load())
	m.perpMarkPrice.Set(m.state.PerpMarkPrice.Load())
	m.perpIndexPrice.Set(m.state.PerpIndexPrice.Load())
	m.basisSpread.Set(m.state.BasisSpread.Load())
	m.fundingAPR.Set(m.state.FundingAPR.Load())
	m.hedgeDrift.Set(m.state.HedgeDrift.Load())
	m.realizedPnL.Set(m.state.RealizedPnL.Load())
	m.unrealizedPnL.Set(m.state.UnrealizedPnL.Load())
	m.fundingRecv.Set(m.state.TotalFundingReceived.Load())
	m.errorCount.Set(float64(m.state.ErrorCount.Load()))
	m.tradeCount.Set(float64(m.state.TradeCount.Load()))
	m.rpcLatencyUS.Set(float64(m.state.RPCLatencyUS.Load()))
	if m.stateFn != nil {
		m.agentState.Set(float64(m.stateFn().Code()))
	}
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
}
