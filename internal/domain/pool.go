package domain

import "time"

// PoolStatus is the lifecycle state of a tracked pool. Transitions only
// move forward; EXPIRED is reachable from any non-terminal state.
type PoolStatus string

const (
	StatusDiscovered   PoolStatus = "DISCOVERED"
	StatusPendingPrice PoolStatus = "PENDING_PRICE"
	StatusMonitoring   PoolStatus = "MONITORING"
	StatusTrading      PoolStatus = "TRADING"
	StatusClosed       PoolStatus = "CLOSED"
	StatusExpired      PoolStatus = "EXPIRED"
)

func (s PoolStatus) rank() int {
	switch s {
	case StatusDiscovered:
		return 0
	case StatusPendingPrice:
		return 1
	case StatusMonitoring:
		return 2
	case StatusTrading:
		return 3
	case StatusClosed:
		return 4
	case StatusExpired:
		return 5
	}
	return -1
}

// Terminal reports whether no further transitions are possible.
func (s PoolStatus) Terminal() bool {
	return s == StatusClosed || s == StatusExpired
}

// CanTransition reports whether moving to next is legal. Stale feed
// events that would move a pool backwards are rejected with this.
func (s PoolStatus) CanTransition(next PoolStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusExpired {
		return true
	}
	return next.rank() == s.rank()+1
}

// Pool is a liquidity pool announced by the feed.
type Pool struct {
	ID            string
	BaseMint      string
	QuoteMint     string
	BaseDecimals  int
	QuoteDecimals int
	InitialPrice  float64
	DiscoveredAt  time.Time
	Status        PoolStatus
}

// Age returns how long ago the pool was discovered.
func (p Pool) Age(now time.Time) time.Duration {
	return now.Sub(p.DiscoveredAt)
}

// PriceSample is one price/reserve observation for a pool.
type PriceSample struct {
	PoolID       string
	Price        float64
	BaseReserve  float64
	QuoteReserve float64
	TVL          float64
	Timestamp    time.Time
}

// Valid reports whether the sample can drive trading decisions.
// Samples with no pool id or a non-positive price are dropped.
func (s PriceSample) Valid() bool {
	return s.PoolID != "" && s.Price > 0
}
