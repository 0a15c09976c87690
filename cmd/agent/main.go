package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/solbasis/basisbot/config"
	"github.com/solbasis/basisbot/internal/adapters/exec"
	"github.com/solbasis/basisbot/internal/adapters/notify"
	"github.com/solbasis/basisbot/internal/adapters/storage"
	"github.com/solbasis/basisbot/internal/agent"
	"github.com/solbasis/basisbot/internal/bus"
	"github.com/solbasis/basisbot/internal/domain"
	"github.com/solbasis/basisbot/internal/engine"
	"github.com/solbasis/basisbot/internal/feeds"
	"github.com/solbasis/basisbot/internal/ledger"
	"github.com/solbasis/basisbot/internal/position"
	"github.com/solbasis/basisbot/internal/sizing"
	"github.com/solbasis/basisbot/internal/state"
	"github.com/solbasis/basisbot/internal/telemetry"
)

const statusInterval = 60 * time.Second

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	paper := flag.Bool("paper", false, "paper trading mode (no real money)")
	devnet := flag.Bool("devnet", false, "use devnet endpoints")
	logLevel := flag.String("log-level", "", "log level: debug|info|warn|error (overrides config)")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print full status tables (default: compact 1-line)")
	simSpot := flag.Float64("sim-spot", 150.0, "starting spot price for the simulated feed")
	exportPath := flag.String("export", "", "export trade history CSV to path and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *paper {
		cfg.PaperTrading = true
	}
	if *devnet {
		cfg.Devnet = true
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	if !cfg.PaperTrading {
		slog.Error("live execution shell is not wired in this build; run with --paper")
		os.Exit(1)
	}

	slog.Info("basisbot starting",
		"config", *configPath,
		"paper", cfg.PaperTrading,
		"devnet", cfg.Devnet,
		"min_basis", fmt.Sprintf("%.3f%%", cfg.Trading.MinBasisSpreadPct),
		"min_funding", fmt.Sprintf("%.1f%%", cfg.Trading.MinFundingAPRPct),
	)

	st := state.New()
	eventBus := bus.New(bus.DefaultCapacity)
	defer eventBus.Close()

	positions := position.NewManager(st, eventBus)
	executor := exec.NewPaperExecutor(st, positions)

	perfLedger, err := ledger.Open(cfg.Adaptive.PerformanceDBPath)
	if err != nil {
		slog.Error("failed to open performance ledger", "err", err, "path", cfg.Adaptive.PerformanceDBPath)
		os.Exit(1)
	}

	if *exportPath != "" {
		if err := perfLedger.ExportCSV(*exportPath); err != nil {
			slog.Error("export failed", "err", err)
			os.Exit(1)
		}
		return
	}

	var archive *storage.SQLiteArchive
	if cfg.Adaptive.EnablePerformanceTracking {
		archive, err = storage.NewSQLiteArchive(cfg.Telemetry.ArchiveDSN)
		if err != nil {
			slog.Error("failed to open trade archive", "err", err, "dsn", cfg.Telemetry.ArchiveDSN)
			os.Exit(1)
		}
		defer archive.Close()
		if err := archive.ApplySchema(context.Background()); err != nil {
			slog.Error("failed to apply archive schema", "err", err)
			os.Exit(1)
		}
	}

	basisEngine := engine.NewBasisEngine(cfg, st, eventBus)
	fundingEngine := engine.NewFundingEngine(cfg, st, eventBus)
	reversalDetector := engine.NewReversalDetector(cfg, st, eventBus)
	signalEngine := engine.NewSignalEngine(cfg, st, eventBus)
	sizer := sizing.New(cfg, perfLedger)

	deps := agent.Deps{
		Config:    cfg,
		State:     st,
		Bus:       eventBus,
		Positions: positions,
		Executor:  executor,
		Ledger:    perfLedger,
		Sizer:     sizer,
		Reversal:  reversalDetector,
		Signals:   signalEngine,
	}
	if archive != nil {
		deps.Archive = archive
	}
	tradingAgent := agent.New(deps)

	console := notify.NewConsole(*table)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return feeds.NewSimFeed(st, eventBus, *simSpot).Run(ctx) })
	g.Go(func() error { return basisEngine.Run(ctx) })
	g.Go(func() error { return fundingEngine.Run(ctx) })
	if cfg.Adaptive.EnableReversalDetection {
		g.Go(func() error { return reversalDetector.Run(ctx) })
	}
	g.Go(func() error { return signalEngine.Run(ctx) })
	g.Go(func() error { return tradingAgent.Run(ctx) })
	g.Go(func() error { return runStatusReporter(ctx, console, st, positions, tradingAgent) })
	g.Go(func() error { return runEventProcessor(ctx, eventBus) })

	if cfg.Telemetry.EnableMetrics {
		metrics := telemetry.New(st, tradingAgent.CurrentState)
		g.Go(func() error { return metrics.Run(ctx) })
		g.Go(func() error { return serveMetrics(ctx, metrics, cfg.Telemetry.MetricsPort) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("agent exited with error", "err", err)
		os.Exit(1)
	}

	if err := perfLedger.Flush(); err != nil {
		slog.Warn("final ledger flush failed", "err", err)
	}

	console.PrintPerformanceReport(perfLedger.Metrics(), perfLedger.PerformanceByFunding())
	if archive != nil {
		dailies, err := archive.GetDailies(context.Background())
		if err != nil {
			slog.Warn("failed to read daily summaries", "err", err)
		} else {
			console.PrintDailies(dailies)
		}
	}
	slog.Info("basisbot stopped cleanly")
}

// runStatusReporter prints the agent status on a fixed interval.
func runStatusReporter(
	ctx context.Context,
	console *notify.Console,
	st *state.SharedState,
	positions *position.Manager,
	tradingAgent *agent.TradingAgent,
) error {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			console.PrintStatus(notify.Status{
				State:         tradingAgent.CurrentState().String(),
				SpotPrice:     st.SpotPrice.Load(),
				PerpPrice:     st.PerpMarkPrice.Load(),
				BasisPct:      st.BasisSpread.Load(),
				FundingAPR:    st.FundingAPR.Load(),
				RealizedPnL:   st.RealizedPnL.Load(),
				UnrealizedPnL: st.UnrealizedPnL.Load(),
				TotalFunding:  st.TotalFundingReceived.Load(),
				HasPosition:   positions.HasPosition(),
				Position:      positions.Summary(),
			})
		}
	}
}

// runEventProcessor drains the bus and surfaces the events an operator cares
// about: signals, position changes, pauses.
func runEventProcessor(ctx context.Context, eventBus *bus.Bus) error {
	sub := eventBus.Subscribe("console")
	defer sub.Unsubscribe()

	for {
		event, ok := sub.Next(ctx)
		if !ok {
			return nil
		}
		switch e := event.(type) {
		case domain.SignalEvent:
			slog.Debug("signal event", "type", e.SignalType, "reason", e.Reason)
		case domain.PositionOpened:
			slog.Info("position opened",
				"id", e.TradeID,
				"size", fmt.Sprintf("%.4f", e.Size),
				"spot", fmt.Sprintf("%.2f", e.SpotPrice),
				"perp", fmt.Sprintf("%.2f", e.PerpPrice),
			)
		case domain.PositionClosed:
			slog.Info("position closed", "id", e.TradeID, "pnl", fmt.Sprintf("$%.2f", e.PnL))
		case domain.SystemPause:
			slog.Warn("system paused", "reason", e.Reason)
		case domain.SystemResume:
			slog.Info("system resumed")
		case domain.ErrorEvent:
			slog.Error("subsystem error", "source", e.Source, "message", e.Message)
		}
	}
}

// serveMetrics exposes /metrics and shuts down with the group.
func serveMetrics(ctx context.Context, metrics *telemetry.Metrics, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("main.serveMetrics: %w", err)
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
