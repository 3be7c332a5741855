package domain

import "time"

// PositionStatus is the state of a position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// Position tracks a single entry on a pool. At most one open position
// exists per pool at any time. The debounce counter and last price are
// owned by the pool's monitor and only mutated under its serialization.
type Position struct {
	PoolID      string
	EntryTrade  string // signature of the confirmed buy
	EntryPrice  float64
	BaseAmount  float64
	QuoteAmount float64 // quote spent on entry
	OpenedAt    time.Time
	Status      PositionStatus

	// Exit-evaluation state.
	ConsecutiveProfitUpdates int
	LastPrice                float64

	// Populated when the position closes.
	ExitTrade  string
	ExitPrice  float64
	ClosedAt   *time.Time
	PnL        float64 // realized, in quote units
	PnLPercent float64
}

// ProfitPct returns (price − entry) / entry for the given price.
func (p Position) ProfitPct(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice
}

// UnrealizedPnL values the position at the given price, in quote units.
func (p Position) UnrealizedPnL(price float64) float64 {
	return p.BaseAmount*price - p.QuoteAmount
}

// HoldingTime returns how long the position has been (or was) open.
func (p Position) HoldingTime(now time.Time) time.Duration {
	if p.ClosedAt != nil {
		return p.ClosedAt.Sub(p.OpenedAt)
	}
	return now.Sub(p.OpenedAt)
}

// Balances is the quote-asset balance plus per-mint base balances.
type Balances struct {
	Quote float64
	Base  map[string]float64
}

// PortfolioSummary is the reporting snapshot exposed to storage and the
// console.
type PortfolioSummary struct {
	QuoteBalance  float64
	OpenPositions int
	TotalTrades   int
	RealizedPnL   float64
	UnrealizedPnL float64
}
