package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/thegratidude/Raydium-New-Pools-Listener/internal/domain"
	"github.com/thegratidude/Raydium-New-Pools-Listener/internal/ports"
)

const (
	persistAttemptTimeout = 5 * time.Second
	persistBackoffMax     = 30 * time.Second
)

// PositionBook holds all open positions and the running balances. It is
// the authoritative state: ledger persistence happens asynchronously
// and is retried until it sticks, so a slow or briefly failing ledger
// never loses track of real exposure.
//
// Balance adjustments are keyed by trade signature and applied exactly
// once, which makes re-delivery of a confirmed trade (retries, late
// results after a submission timeout) harmless.
type PositionBook struct {
	ledger ports.Ledger
	log    *slog.Logger

	mu       sync.Mutex
	quote    float64
	base     map[string]float64
	open     map[string]*domain.Position // pool id → open position
	applied  map[string]bool             // trade signature → balance applied
	trades   int
	realized float64

	persistWG  sync.WaitGroup
	persistCtx context.Context
	stop       context.CancelFunc
	unflushed  sync.Map // description → error of writes abandoned at shutdown
}

// NewPositionBook creates a book with the given starting quote balance.
func NewPositionBook(ledger ports.Ledger, initialQuote float64, log *slog.Logger) *PositionBook {
	ctx, cancel := context.WithCancel(context.Background())
	if log == nil {
		log = slog.Default()
	}
	return &PositionBook{
		ledger:     ledger,
		log:        log,
		quote:      initialQuote,
		base:       make(map[string]float64),
		open:       make(map[string]*domain.Position),
		applied:    make(map[string]bool),
		persistCtx: ctx,
		stop:       cancel,
	}
}

// Restore loads open positions from the ledger, used on startup so a
// restart does not forget live exposure.
func (b *PositionBook) Restore(ctx context.Context) error {
	positions, err := b.ledger.ListOpenPositions(ctx)
	if err != nil {
		return err
	}
	n, err := b.ledger.CountTrades(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.trades = n
	for i := range positions {
		pos := positions[i]
		b.open[pos.PoolID] = &pos
		b.applied[pos.EntryTrade] = true
	}
	return nil
}

// OpenFromTrade creates a position from a confirmed buy and debits the
// quote balance. Re-applying the same trade signature returns the
// existing position without touching balances.
func (b *PositionBook) OpenFromTrade(pool domain.Pool, trade domain.Trade) (domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trade.Status != domain.TradeConfirmed {
		return domain.Position{}, &domain.ExecError{PoolID: pool.ID, Side: trade.Side, Reason: "trade not confirmed"}
	}
	if b.applied[trade.Signature] {
		if pos, ok := b.open[pool.ID]; ok {
			return *pos, nil
		}
		return domain.Position{}, domain.ErrNoPosition
	}
	if _, ok := b.open[pool.ID]; ok {
		return domain.Position{}, domain.ErrDuplicatePosition
	}
	if trade.QuoteAmount > b.quote {
		return domain.Position{}, domain.ErrInsufficientBalance
	}

	b.quote -= trade.QuoteAmount
	b.base[pool.BaseMint] += trade.BaseAmount
	b.applied[trade.Signature] = true
	b.trades++

	pos := domain.Position{
		PoolID:      pool.ID,
		EntryTrade:  trade.Signature,
		EntryPrice:  trade.Price,
		BaseAmount:  trade.BaseAmount,
		QuoteAmount: trade.QuoteAmount,
		OpenedAt:    trade.Timestamp,
		Status:      domain.PositionOpen,
		LastPrice:   trade.Price,
	}
	b.open[pool.ID] = &pos

	snapshot := pos
	b.persist("record buy "+trade.Signature, func(ctx context.Context) error {
		if err := b.ledger.RecordTrade(ctx, trade); err != nil {
			return err
		}
		return b.ledger.OpenPosition(ctx, snapshot)
	})
	return pos, nil
}

// CloseFromTrade closes the pool's open position from a confirmed sell,
// credits the proceeds, and computes realized P&L (quote received minus
// quote spent). Idempotent by trade signature.
func (b *PositionBook) CloseFromTrade(pool domain.Pool, trade domain.Trade) (domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trade.Status != domain.TradeConfirmed {
		return domain.Position{}, &domain.ExecError{PoolID: pool.ID, Side: trade.Side, Reason: "trade not confirmed"}
	}
	pos, ok := b.open[pool.ID]
	if b.applied[trade.Signature] {
		if !ok {
			return domain.Position{}, domain.ErrNoPosition
		}
		return *pos, nil
	}
	if !ok {
		return domain.Position{}, domain.ErrNoPosition
	}

	b.quote += trade.QuoteAmount
	b.base[pool.BaseMint] -= trade.BaseAmount
	if b.base[pool.BaseMint] <= 0 {
		delete(b.base, pool.BaseMint)
	}
	b.applied[trade.Signature] = true
	b.trades++

	closedAt := trade.Timestamp
	pos.Status = domain.PositionClosed
	pos.ExitTrade = trade.Signature
	pos.ExitPrice = trade.Price
	pos.ClosedAt = &closedAt
	pos.PnL = trade.QuoteAmount - pos.QuoteAmount
	if pos.QuoteAmount > 0 {
		pos.PnLPercent = pos.PnL / pos.QuoteAmount * 100
	}
	b.realized += pos.PnL
	delete(b.open, pool.ID)

	snapshot := *pos
	b.persist("record sell "+trade.Signature, func(ctx context.Context) error {
		if err := b.ledger.RecordTrade(ctx, trade); err != nil {
			return err
		}
		return b.ledger.ClosePosition(ctx, snapshot)
	})
	return snapshot, nil
}

// GetOpen returns a copy of the pool's open position, if any.
func (b *PositionBook) GetOpen(poolID string) (domain.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.open[poolID]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// MarkPrice records the latest observed price on the open position so
// summaries can value it.
func (b *PositionBook) MarkPrice(poolID string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pos, ok := b.open[poolID]; ok {
		pos.LastPrice = price
	}
}

// OpenPositions returns copies of every open position.
func (b *PositionBook) OpenPositions() []domain.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Position, 0, len(b.open))
	for _, pos := range b.open {
		out = append(out, *pos)
	}
	return out
}

// Summary builds the portfolio snapshot from in-memory state.
func (b *PositionBook) Summary() domain.PortfolioSummary {
	b.mu.Lock()
	defer b.mu.Unlock()

	unrealized := 0.0
	for _, pos := range b.open {
		unrealized += pos.UnrealizedPnL(pos.LastPrice)
	}
	return domain.PortfolioSummary{
		QuoteBalance:  b.quote,
		OpenPositions: len(b.open),
		TotalTrades:   b.trades,
		RealizedPnL:   b.realized,
		UnrealizedPnL: unrealized,
	}
}

// QuoteBalance returns the current quote-asset balance.
func (b *PositionBook) QuoteBalance() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.quote
}

// Balances returns a copy of the quote balance and all base-asset
// holdings.
func (b *PositionBook) Balances() domain.Balances {
	b.mu.Lock()
	defer b.mu.Unlock()
	base := make(map[string]float64, len(b.base))
	for mint, amount := range b.base {
		base[mint] = amount
	}
	return domain.Balances{Quote: b.quote, Base: base}
}

// Flush waits for pending ledger writes to finish, bounded by ctx.
// Writes still failing when ctx expires are reported and abandoned.
func (b *PositionBook) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.persistWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		b.stop()
		<-done
	}

	var firstErr error
	b.unflushed.Range(func(key, value any) bool {
		b.log.Error("ledger write abandoned at shutdown", "write", key, "err", value)
		if firstErr == nil {
			firstErr = value.(error)
		}
		return true
	})
	if firstErr != nil {
		return domain.ErrLedgerWrite
	}
	return nil
}

// persist runs fn asynchronously, retrying with capped backoff until it
// succeeds or the book shuts down.
func (b *PositionBook) persist(desc string, fn func(context.Context) error) {
	b.persistWG.Add(1)
	go func() {
		defer b.persistWG.Done()

		backoff := time.Second
		for attempt := 1; ; attempt++ {
			ctx, cancel := context.WithTimeout(b.persistCtx, persistAttemptTimeout)
			err := fn(ctx)
			cancel()
			if err == nil {
				return
			}
			b.log.Warn("ledger write failed, will retry", "write", desc, "attempt", attempt, "err", err)

			select {
			case <-b.persistCtx.Done():
				b.unflushed.Store(desc, err)
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > persistBackoffMax {
				backoff = persistBackoffMax
			}
		}
	}()
}
