package ports

import "github.com/thegratidude/Raydium-New-Pools-Listener/internal/domain"

// Notifier reports trading activity to the operator.
type Notifier interface {
	// TradeExecuted is called once per confirmed trade.
	TradeExecuted(trade domain.Trade)

	// PositionClosed is called with the final position after a sell.
	PositionClosed(pos domain.Position)

	// Summary renders the portfolio snapshot and open positions.
	Summary(summary domain.PortfolioSummary, open []domain.Position)
}
