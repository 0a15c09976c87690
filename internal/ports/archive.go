package ports

import (
	"context"

	"github.com/solbasis/basisbot/internal/domain"
)

// TradeArchive mirrors closed-trade outcomes into queryable storage. The JSON
// ledger stays the source of truth; the archive exists for ad-hoc analysis
// and daily rollups. Implementations must be safe to skip on error: a failed
// archive write never blocks the trading loop.
type TradeArchive interface {
	ApplySchema(ctx context.Context) error

	SaveOutcome(ctx context.Context, outcome domain.TradeOutcome) error
	GetOutcomes(ctx context.Context, limit int) ([]domain.TradeOutcome, error)

	SaveDaily(ctx context.Context, d domain.DailySummary) error
	GetDailies(ctx context.Context) ([]domain.DailySummary, error)

	Close() error
}
