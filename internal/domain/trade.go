package domain

import "time"

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TradeStatus is the execution state of a trade record.
type TradeStatus string

const (
	TradePending   TradeStatus = "PENDING"
	TradeConfirmed TradeStatus = "CONFIRMED"
	TradeFailed    TradeStatus = "FAILED"
)

// Trade is an immutable execution record. Signature is the transaction
// signature (or paper-trade id) and doubles as the idempotency key for
// balance application.
type Trade struct {
	Signature   string
	PoolID      string
	Side        Side
	BaseAmount  float64
	QuoteAmount float64
	Price       float64
	Timestamp   time.Time
	Status      TradeStatus
}

// BuyRequest asks the executor to open a position on a pool.
type BuyRequest struct {
	Pool           Pool
	QuoteAmount    float64 // SOL to spend
	Price          float64 // last observed price, used by the paper executor
	MaxSlippagePct float64
}

// SellRequest asks the executor to unwind (part of) a position.
type SellRequest struct {
	Pool           Pool
	Position       Position
	Percentage     float64 // fraction of the position to sell, (0, 1]
	Price          float64 // last observed price
	MaxSlippagePct float64
}
