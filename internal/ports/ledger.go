package ports

import (
	"context"

	"github.com/thegratidude/Raydium-New-Pools-Listener/internal/domain"
)

// Ledger is the durable store of pools, trades, and positions. All
// writes are idempotent: re-recording the same pool, trade signature,
// or position is a no-op, which lets the book retry failed writes
// safely.
type Ledger interface {
	RecordPool(ctx context.Context, pool domain.Pool) error
	UpdatePoolStatus(ctx context.Context, poolID string, status domain.PoolStatus) error
	GetPool(ctx context.Context, poolID string) (domain.Pool, error)

	RecordTrade(ctx context.Context, trade domain.Trade) error
	RecordSnapshot(ctx context.Context, sample domain.PriceSample) error

	OpenPosition(ctx context.Context, pos domain.Position) error
	ClosePosition(ctx context.Context, pos domain.Position) error
	ListOpenPositions(ctx context.Context) ([]domain.Position, error)

	CountTrades(ctx context.Context) (int, error)

	Close() error
}
