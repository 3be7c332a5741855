package paper

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thegratidude/Raydium-New-Pools-Listener/internal/domain"
)

const (
	sigBuyPrefix  = "paper_buy_"
	sigSellPrefix = "paper_sell_"
)

// Executor simulates fills against the last observed price. Each fill
// applies a random slippage within the request's tolerance and a small
// latency, so the engine sees realistic timing without touching a
// wallet.
type Executor struct {
	latency time.Duration
	log     *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewExecutor builds a paper executor with the given simulated fill
// latency.
func NewExecutor(latency time.Duration, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		latency: latency,
		log:     log,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Buy simulates spending req.QuoteAmount at the observed price plus
// slippage.
func (e *Executor) Buy(ctx context.Context, req domain.BuyRequest) (domain.Trade, error) {
	if req.QuoteAmount <= 0 || req.Price <= 0 {
		return domain.Trade{}, &domain.ExecError{
			PoolID: req.Pool.ID, Side: domain.SideBuy, Reason: "non-positive amount or price",
		}
	}
	if err := e.wait(ctx); err != nil {
		return domain.Trade{}, err
	}

	// Buys fill above the mark, never past the tolerance.
	fill := req.Price * (1 + e.slippage(req.MaxSlippagePct)/100)
	trade := domain.Trade{
		Signature:   sigBuyPrefix + uuid.NewString(),
		PoolID:      req.Pool.ID,
		Side:        domain.SideBuy,
		BaseAmount:  req.QuoteAmount / fill,
		QuoteAmount: req.QuoteAmount,
		Price:       fill,
		Timestamp:   time.Now(),
		Status:      domain.TradeConfirmed,
	}
	e.log.Debug("paper buy filled",
		"pool", req.Pool.ID, "price", fill, "base_amount", trade.BaseAmount)
	return trade, nil
}

// Sell simulates unwinding req.Percentage of the position at the
// observed price minus slippage.
func (e *Executor) Sell(ctx context.Context, req domain.SellRequest) (domain.Trade, error) {
	if req.Percentage <= 0 || req.Percentage > 1 || req.Price <= 0 {
		return domain.Trade{}, &domain.ExecError{
			PoolID: req.Pool.ID, Side: domain.SideSell, Reason: "invalid percentage or price",
		}
	}
	if req.Position.BaseAmount <= 0 {
		return domain.Trade{}, &domain.ExecError{
			PoolID: req.Pool.ID, Side: domain.SideSell, Reason: "nothing to sell",
		}
	}
	if err := e.wait(ctx); err != nil {
		return domain.Trade{}, err
	}

	fill := req.Price * (1 - e.slippage(req.MaxSlippagePct)/100)
	base := req.Position.BaseAmount * req.Percentage
	trade := domain.Trade{
		Signature:   sigSellPrefix + uuid.NewString(),
		PoolID:      req.Pool.ID,
		Side:        domain.SideSell,
		BaseAmount:  base,
		QuoteAmount: base * fill,
		Price:       fill,
		Timestamp:   time.Now(),
		Status:      domain.TradeConfirmed,
	}
	e.log.Debug("paper sell filled",
		"pool", req.Pool.ID, "price", fill, "quote_amount", trade.QuoteAmount)
	return trade, nil
}

// slippage draws a random slippage percentage in [0, max/2]. Half the
// tolerance keeps simulated fills comfortably inside what a live order
// would accept.
func (e *Executor) slippage(maxPct float64) float64 {
	if maxPct <= 0 {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Float64() * maxPct / 2
}

func (e *Executor) wait(ctx context.Context) error {
	if e.latency <= 0 {
		return nil
	}
	select {
	case <-time.After(e.latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
