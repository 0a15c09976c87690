package storage

// sqlite.go — queryable mirror of the trade history.
//
// The JSON performance ledger stays the source of truth; this archive exists
// for ad-hoc SQL over outcomes and for the daily rollup the status reporter
// prints. Writes are best-effort: a failed insert is logged by the caller and
// never blocks the trading loop.

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/solbasis/basisbot/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
-- One row per closed trade cycle
CREATE TABLE IF NOT EXISTS outcomes (
    id                TEXT PRIMARY KEY,
    open_time         INTEGER NOT NULL,
    close_time        INTEGER NOT NULL,
    size              REAL    NOT NULL,
    entry_spot        REAL    NOT NULL,
    entry_perp        REAL    NOT NULL,
    exit_spot         REAL    NOT NULL,
    exit_perp         REAL    NOT NULL,
    entry_basis       REAL    NOT NULL DEFAULT 0,
    exit_basis        REAL    NOT NULL DEFAULT 0,
    entry_funding_apr REAL    NOT NULL DEFAULT 0,
    funding_collected REAL    NOT NULL DEFAULT 0,
    spot_pnl          REAL    NOT NULL DEFAULT 0,
    perp_pnl          REAL    NOT NULL DEFAULT 0,
    total_pnl         REAL    NOT NULL DEFAULT 0,
    roi_pct           REAL    NOT NULL DEFAULT 0,
    hold_hours        REAL    NOT NULL DEFAULT 0,
    is_winner         INTEGER NOT NULL DEFAULT 0,
    close_reason      TEXT,
    entry_confidence  REAL    NOT NULL DEFAULT 0
);

-- One row per UTC day, upserted after each close
CREATE TABLE IF NOT EXISTS dailies (
    date         TEXT PRIMARY KEY,
    trades       INTEGER NOT NULL DEFAULT 0,
    net_pnl      REAL    NOT NULL DEFAULT 0,
    funding_pnl  REAL    NOT NULL DEFAULT 0,
    win_rate     REAL    NOT NULL DEFAULT 0,
    max_drawdown REAL    NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_outcomes_close ON outcomes(close_time DESC);
CREATE INDEX IF NOT EXISTS idx_outcomes_apr   ON outcomes(entry_funding_apr);
`

// SQLiteArchive implements ports.TradeArchive on SQLite (pure Go, no CGo).
type SQLiteArchive struct {
	db *sql.DB
}

// NewSQLiteArchive opens (or creates) the database at the given path.
func NewSQLiteArchive(path string) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteArchive: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)
	return &SQLiteArchive{db: db}, nil
}

// ApplySchema creates the tables if missing.
func (s *SQLiteArchive) ApplySchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("storage.ApplySchema: %w", err)
	}
	return nil
}

// SaveOutcome inserts one closed trade.
func (s *SQLiteArchive) SaveOutcome(ctx context.Context, o domain.TradeOutcome) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO outcomes
			(id, open_time, close_time, size, entry_spot, entry_perp, exit_spot, exit_perp,
			 entry_basis, exit_basis, entry_funding_apr, funding_collected,
			 spot_pnl, perp_pnl, total_pnl, roi_pct, hold_hours, is_winner,
			 close_reason, entry_confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.OpenTime, o.CloseTime, o.Size, o.EntrySpot, o.EntryPerp, o.ExitSpot, o.ExitPerp,
		o.EntryBasis, o.ExitBasis, o.EntryFundingAPR, o.FundingCollect,
		o.SpotPnL, o.PerpPnL, o.TotalPnL, o.ROIPct, o.HoldHours, boolToInt(o.IsWinner),
		o.CloseReason, o.EntryConfidence,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveOutcome: %w", err)
	}
	return nil
}

// GetOutcomes returns up to limit outcomes, newest first. limit <= 0 returns
// everything.
func (s *SQLiteArchive) GetOutcomes(ctx context.Context, limit int) ([]domain.TradeOutcome, error) {
	query := `
		SELECT id, open_time, close_time, size, entry_spot, entry_perp, exit_spot, exit_perp,
		       entry_basis, exit_basis, entry_funding_apr, funding_collected,
		       spot_pnl, perp_pnl, total_pnl, roi_pct, hold_hours, is_winner,
		       close_reason, entry_confidence
		FROM outcomes ORDER BY close_time DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.GetOutcomes: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeOutcome
	for rows.Next() {
		var o domain.TradeOutcome
		var winner int
		var reason sql.NullString
		if err := rows.Scan(
			&o.ID, &o.OpenTime, &o.CloseTime, &o.Size, &o.EntrySpot, &o.EntryPerp,
			&o.ExitSpot, &o.ExitPerp, &o.EntryBasis, &o.ExitBasis, &o.EntryFundingAPR,
			&o.FundingCollect, &o.SpotPnL, &o.PerpPnL, &o.TotalPnL, &o.ROIPct,
			&o.HoldHours, &winner, &reason, &o.EntryConfidence,
		); err != nil {
			return nil, fmt.Errorf("storage.GetOutcomes: scan: %w", err)
		}
		o.IsWinner = winner != 0
		o.CloseReason = reason.String
		out = append(out, o)
	}
	return out, rows.Err()
}

// SaveDaily upserts the rollup row for one UTC day.
func (s *SQLiteArchive) SaveDaily(ctx context.Context, d domain.DailySummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dailies (date, trades, net_pnl, funding_pnl, win_rate, max_drawdown)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			trades       = excluded.trades,
			net_pnl      = excluded.net_pnl,
			funding_pnl  = excluded.funding_pnl,
			win_rate     = excluded.win_rate,
			max_drawdown = excluded.max_drawdown`,
		d.Date, d.Trades, d.NetPnL, d.FundingPnL, d.WinRate, d.MaxDrawdown,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveDaily: %w", err)
	}
	return nil
}

// GetDailies returns every rollup row, oldest first.
func (s *SQLiteArchive) GetDailies(ctx context.Context) ([]domain.DailySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, trades, net_pnl, funding_pnl, win_rate, max_drawdown
		FROM dailies ORDER BY date ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage.GetDailies: %w", err)
	}
	defer rows.Close()

	var out []domain.DailySummary
	for rows.Next() {
		var d domain.DailySummary
		if err := rows.Scan(&d.Date, &d.Trades, &d.NetPnL, &d.FundingPnL, &d.WinRate, &d.MaxDrawdown); err != nil {
			return nil, fmt.Errorf("storage.GetDailies: scan: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Close closes the database cleanly.
func (s *SQLiteArchive) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
