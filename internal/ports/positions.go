package ports

import "github.com/solbasis/basisbot/internal/domain"

// PositionReader is the capability the risk manager and rebalancer need from
// the position manager: a consistent view of both legs, nothing more.
type PositionReader interface {
	// Summary returns a point-in-time view of both legs.
	Summary() domain.PositionSummary

	// HasPosition reports whether either leg exists.
	HasPosition() bool

	// NotionalValue returns the current USD value of the spot leg,
	// 0 when no position is open.
	NotionalValue() float64
}
