package ports

import (
	"context"

	"github.com/thegratidude/Raydium-New-Pools-Listener/internal/domain"
)

// Executor performs the actual buy or sell for a pool. Implementations
// must be safe to call at most once per logical submission: the engine
// never retries a call whose outcome is unknown.
type Executor interface {
	// Buy spends req.QuoteAmount of the quote asset on the pool and
	// returns the filled trade, or a *domain.ExecError on a reported
	// failure.
	Buy(ctx context.Context, req domain.BuyRequest) (domain.Trade, error)

	// Sell unwinds req.Percentage of the position and returns the
	// filled trade.
	Sell(ctx context.Context, req domain.SellRequest) (domain.Trade, error)
}
