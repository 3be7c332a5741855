package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thegratidude/Raydium-New-Pools-Listener/internal/domain"
	"github.com/thegratidude/Raydium-New-Pools-Listener/internal/ports"
)

// Request is one entry or exit submitted to the trade queue.
type Request struct {
	Pool           domain.Pool
	Side           domain.Side
	QuoteAmount    float64         // buys: quote to spend
	Percentage     float64         // sells: fraction of position, (0, 1]
	Position       domain.Position // sells: the position being unwound
	Price          float64         // last observed price
	MaxSlippagePct float64
}

// ConfirmFunc applies the side effects of a confirmed trade. The queue
// calls it exactly once per confirmation, from the executing worker,
// even when the submitter has already timed out.
type ConfirmFunc func(req Request, trade domain.Trade) error

// QueueConfig tunes the trade queue.
type QueueConfig struct {
	Workers       int
	Capacity      int
	Cooldown      time.Duration // per-pool re-entry cooldown, 0 disables
	SubmitTimeout time.Duration // default deadline for a submission
	ExecTimeout   time.Duration // hard cap on one adapter call
}

type outcome struct {
	trade domain.Trade
	err   error
}

type submission struct {
	req      Request
	deadline time.Time
	result   chan outcome // buffered(1); late results are dropped
}

// TradeQueue is the ordered, bounded execution pipeline. Submissions
// are drained FIFO by a small worker pool, so different pools execute
// concurrently up to the worker count while each submission is executed
// once. It enforces the per-pool cooldown, the single in-flight
// submission per pool, and the hourly entry budget.
type TradeQueue struct {
	exec    ports.Executor
	limiter *HourlyLimiter
	confirm ConfirmFunc
	cfg     QueueConfig
	log     *slog.Logger

	ch chan submission

	mu         sync.Mutex
	inflight   map[string]bool
	lastTraded map[string]time.Time
	closed     bool
}

// NewTradeQueue builds the queue. confirm must be non-nil: it is the
// only path by which executions reach the book and the ledger.
func NewTradeQueue(exec ports.Executor, limiter *HourlyLimiter, confirm ConfirmFunc, cfg QueueConfig, log *slog.Logger) *TradeQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 64
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 45 * time.Second
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = 60 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &TradeQueue{
		exec:       exec,
		limiter:    limiter,
		confirm:    confirm,
		cfg:        cfg,
		log:        log,
		ch:         make(chan submission, cfg.Capacity),
		inflight:   make(map[string]bool),
		lastTraded: make(map[string]time.Time),
	}
}

// Run drains the queue with the configured worker pool until Close is
// called (remaining items are executed) or ctx is cancelled (remaining
// items are reported as unexecuted).
func (q *TradeQueue) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case sub, ok := <-q.ch:
					if !ok {
						return nil
					}
					q.process(ctx, sub)
				}
			}
		})
	}
	err := g.Wait()
	if n := len(q.ch); n > 0 {
		q.log.Warn("trade queue stopped with unexecuted submissions", "count", n)
	}
	return err
}

// Close stops intake. Queued submissions are still executed by Run.
func (q *TradeQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Submit enqueues one trade and waits for its result or the deadline.
// Rejections (cooldown, rate limit, in-flight duplicate) are returned
// immediately without queuing. On ErrTimeout the execution may still be
// running: the pool's in-flight slot stays held until the worker
// finishes, and a confirmed result is still applied through the confirm
// hook, so resubmitting is safe (it is rejected until reconciled).
func (q *TradeQueue) Submit(ctx context.Context, req Request) (domain.Trade, error) {
	now := time.Now()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return domain.Trade{}, context.Canceled
	}
	if q.inflight[req.Pool.ID] {
		q.mu.Unlock()
		return domain.Trade{}, domain.ErrInFlight
	}
	if req.Side == domain.SideBuy && q.cfg.Cooldown > 0 {
		if last, ok := q.lastTraded[req.Pool.ID]; ok && now.Sub(last) < q.cfg.Cooldown {
			q.mu.Unlock()
			return domain.Trade{}, domain.ErrCooldown
		}
	}
	// The hourly budget gates entries only; exits must never strand an
	// open position behind the limiter.
	if req.Side == domain.SideBuy && !q.limiter.Allow() {
		q.mu.Unlock()
		return domain.Trade{}, domain.ErrRateLimited
	}
	q.inflight[req.Pool.ID] = true
	q.mu.Unlock()

	deadline := now.Add(q.cfg.SubmitTimeout)
	sub := submission{req: req, deadline: deadline, result: make(chan outcome, 1)}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case q.ch <- sub:
	case <-ctx.Done():
		q.release(req, domain.SideBuy == req.Side)
		return domain.Trade{}, ctx.Err()
	case <-timer.C:
		// Never admitted, so nothing executed: safe to release.
		q.release(req, domain.SideBuy == req.Side)
		return domain.Trade{}, domain.ErrTimeout
	}

	select {
	case out := <-sub.result:
		return out.trade, out.err
	case <-ctx.Done():
		return domain.Trade{}, ctx.Err()
	case <-timer.C:
		return domain.Trade{}, domain.ErrTimeout
	}
}

// release undoes admission-time bookkeeping for a submission that never
// reached a worker.
func (q *TradeQueue) release(req Request, refund bool) {
	q.mu.Lock()
	delete(q.inflight, req.Pool.ID)
	q.mu.Unlock()
	if refund {
		q.limiter.Refund()
	}
}

// process executes one submission on a worker.
func (q *TradeQueue) process(ctx context.Context, sub submission) {
	req := sub.req

	// A submission that expired while queued is not executed at all:
	// skipping it here is what makes the submitter's ErrTimeout safe.
	if time.Now().After(sub.deadline) {
		q.release(req, req.Side == domain.SideBuy)
		sub.result <- outcome{err: domain.ErrTimeout}
		return
	}

	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.cfg.ExecTimeout)
	defer cancel()

	var trade domain.Trade
	var err error
	switch req.Side {
	case domain.SideBuy:
		trade, err = q.exec.Buy(execCtx, domain.BuyRequest{
			Pool:           req.Pool,
			QuoteAmount:    req.QuoteAmount,
			Price:          req.Price,
			MaxSlippagePct: req.MaxSlippagePct,
		})
	case domain.SideSell:
		trade, err = q.exec.Sell(execCtx, domain.SellRequest{
			Pool:           req.Pool,
			Position:       req.Position,
			Percentage:     req.Percentage,
			Price:          req.Price,
			MaxSlippagePct: req.MaxSlippagePct,
		})
	}

	if err == nil && trade.Status == domain.TradeConfirmed {
		if cerr := q.confirm(req, trade); cerr != nil {
			q.log.Error("confirmed trade could not be applied",
				"pool", req.Pool.ID, "side", req.Side, "signature", trade.Signature, "err", cerr)
			err = cerr
		} else {
			q.markTraded(req.Pool.ID)
		}
	} else if err != nil && req.Side == domain.SideBuy {
		// Reported failures free their hourly slot; unknown outcomes
		// (deadline exceeded mid-call) do not.
		if execCtx.Err() == nil {
			q.limiter.Refund()
		}
	}

	q.mu.Lock()
	delete(q.inflight, req.Pool.ID)
	q.mu.Unlock()

	sub.result <- outcome{trade: trade, err: err}
}

func (q *TradeQueue) markTraded(poolID string) {
	q.mu.Lock()
	q.lastTraded[poolID] = time.Now()
	q.mu.Unlock()
}

// InFlight reports whether the pool has a submission admitted but not
// yet finished. Used to reconcile timed-out entries.
func (q *TradeQueue) InFlight(poolID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inflight[poolID]
}

// Pending returns the number of queued, not yet executing submissions.
func (q *TradeQueue) Pending() int {
	return len(q.ch)
}
