package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/thegratidude/Raydium-New-Pools-Listener/config"
	"github.com/thegratidude/Raydium-New-Pools-Listener/internal/domain"
	"github.com/thegratidude/Raydium-New-Pools-Listener/internal/ports"
)

const (
	statsInterval        = time.Minute
	entryReconcileDelay  = 5 * time.Second
	entryReconcileChecks = 24
	flushTimeout         = 30 * time.Second
)

// poolState is the dispatcher's view of one tracked pool. Only the
// dispatcher goroutine touches it.
type poolState struct {
	pool          domain.Pool
	lastPrice     float64
	lastSampleTS  time.Time
	entryInFlight bool
}

// Engine is the trading core. A single dispatcher goroutine owns all
// pool state and serializes event handling, so lifecycle transitions
// need no locking. Entries and exits go through the TradeQueue; per
// position monitoring runs in its own goroutine bounded by a semaphore.
type Engine struct {
	cfg      *config.Config
	book     *PositionBook
	queue    *TradeQueue
	limiter  *HourlyLimiter
	ledger   ports.Ledger
	notifier ports.Notifier
	log      *slog.Logger

	events   chan domain.Event
	commands chan func()
	closed   chan struct{} // closed when the dispatcher exits

	slots *semaphore.Weighted

	pools    map[string]*poolState
	monitors map[string]*Monitor

	monWG     sync.WaitGroup
	monCtx    context.Context
	monCancel context.CancelFunc

	startedAt  time.Time
	feedUptime float64
}

// New wires the engine, the hourly limiter, and the trade queue around
// the given executor.
func New(cfg *config.Config, exec ports.Executor, ledger ports.Ledger, book *PositionBook, notifier ports.Notifier, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	monCtx, monCancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:       cfg,
		book:      book,
		ledger:    ledger,
		notifier:  notifier,
		log:       log,
		events:    make(chan domain.Event, 256),
		commands:  make(chan func(), 128),
		closed:    make(chan struct{}),
		slots:     semaphore.NewWeighted(int64(cfg.Trading.MaxConcurrentMonitors)),
		pools:     make(map[string]*poolState),
		monitors:  make(map[string]*Monitor),
		monCtx:    monCtx,
		monCancel: monCancel,
		startedAt: time.Now(),
	}
	e.limiter = NewHourlyLimiter(cfg.Trading.MaxTradesPerHour)
	e.queue = NewTradeQueue(exec, e.limiter, e.applyTrade, QueueConfig{
		Workers:       cfg.Trading.QueueWorkers,
		Capacity:      cfg.Trading.QueueCapacity,
		Cooldown:      cfg.PerPoolCooldown(),
		SubmitTimeout: cfg.SubmitTimeout(),
	}, log)
	return e
}

// Handle delivers one feed event to the dispatcher. It blocks only
// while the event buffer is full.
func (e *Engine) Handle(ctx context.Context, ev domain.Event) error {
	select {
	case e.events <- ev:
		return nil
	case <-e.closed:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the dispatcher until ctx is cancelled, then drains the
// trade queue, stops the monitors, and flushes the ledger.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("engine started",
		"live", e.cfg.Trading.LiveTrading,
		"buy_amount", e.cfg.Trading.InitialBuyAmount,
		"max_trades_per_hour", e.cfg.Trading.MaxTradesPerHour)

	// The queue drains on Close rather than on ctx so queued exits
	// still execute during shutdown.
	qDone := make(chan error, 1)
	go func() { qDone <- e.queue.Run(context.WithoutCancel(ctx)) }()

	e.resumePositions()

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return e.shutdown(qDone)
		case ev := <-e.events:
			e.dispatch(ctx, ev)
		case cmd := <-e.commands:
			cmd()
		case <-ticker.C:
			e.logStats()
		}
	}
}

func (e *Engine) shutdown(qDone chan error) error {
	e.log.Info("engine stopping", "queued", e.queue.Pending(), "monitors", len(e.monitors))

	e.queue.Close()
	qErr := <-qDone

	e.monCancel()
	e.monWG.Wait()
	close(e.closed)

	flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := e.book.Flush(flushCtx); err != nil {
		e.log.Error("ledger flush incomplete", "err", err)
		if qErr == nil {
			qErr = err
		}
	}

	s := e.book.Summary()
	e.log.Info("engine stopped",
		"open_positions", s.OpenPositions,
		"total_trades", s.TotalTrades,
		"realized_pnl", s.RealizedPnL)
	return qErr
}

// post hands a closure to the dispatcher from another goroutine. It
// never blocks the caller; after the dispatcher exits the command is
// discarded.
func (e *Engine) post(f func()) {
	select {
	case e.commands <- f:
	default:
		go func() {
			select {
			case e.commands <- f:
			case <-e.closed:
			}
		}()
	}
}

func (e *Engine) dispatch(ctx context.Context, ev domain.Event) {
	switch ev.Type {
	case domain.EventPoolCreated:
		e.handlePoolCreated(ctx, ev)
	case domain.EventPoolReady:
		e.handlePoolReady(ctx, ev)
	case domain.EventPoolUpdate:
		e.handlePoolUpdate(ctx, ev)
	case domain.EventHealth:
		e.feedUptime = ev.Uptime
	default:
		e.log.Debug("unknown event type dropped", "type", ev.Type)
	}
}

func (e *Engine) handlePoolCreated(ctx context.Context, ev domain.Event) {
	pool := ev.Pool
	if pool.ID == "" || pool.BaseMint == "" {
		e.log.Warn("dropping malformed pool_created event", "err", domain.ErrInvalidEvent)
		return
	}
	if _, ok := e.pools[pool.ID]; ok {
		return
	}

	age := pool.Age(time.Now())
	if age > e.cfg.MaxPoolAge() {
		// Recorded but never tracked; a redelivery lands here again.
		pool.Status = domain.StatusExpired
		e.log.Info("pool too old at discovery, skipping",
			"pool", pool.ID, "age_ms", age.Milliseconds())
		e.persistPool(pool)
		return
	}

	pool.Status = domain.StatusDiscovered
	st := &poolState{pool: pool}
	e.pools[pool.ID] = st
	e.log.Info("pool discovered",
		"pool", pool.ID, "base", pool.BaseMint, "age_ms", age.Milliseconds())
	e.persistPool(pool)

	e.transition(st, domain.StatusPendingPrice)

	// Expire the pool if no usable price arrives in time.
	poolID := pool.ID
	time.AfterFunc(e.cfg.PriceWaitTimeout(), func() {
		e.post(func() {
			st, ok := e.pools[poolID]
			if ok && st.pool.Status == domain.StatusPendingPrice {
				e.log.Info("no price within wait window, expiring", "pool", poolID)
				e.expire(st)
			}
		})
	})
}

func (e *Engine) handlePoolUpdate(ctx context.Context, ev domain.Event) {
	s := ev.Sample
	if !s.Valid() {
		e.log.Debug("dropping invalid price sample", "pool", s.PoolID)
		return
	}
	st, ok := e.pools[s.PoolID]
	if !ok || st.pool.Status.Terminal() {
		return
	}
	if !s.Timestamp.After(st.lastSampleTS) {
		return
	}
	st.lastSampleTS = s.Timestamp
	st.lastPrice = s.Price

	e.persistSnapshot(s)

	switch st.pool.Status {
	case domain.StatusPendingPrice:
		e.transition(st, domain.StatusMonitoring)
		e.tryEnter(ctx, st)
	case domain.StatusMonitoring:
		e.tryEnter(ctx, st)
	case domain.StatusTrading:
		if mon, ok := e.monitors[s.PoolID]; ok {
			mon.Offer(s)
		}
	}
}

func (e *Engine) handlePoolReady(ctx context.Context, ev domain.Event) {
	st, ok := e.pools[ev.Pool.ID]
	if !ok || st.pool.Status.Terminal() {
		return
	}

	switch st.pool.Status {
	case domain.StatusPendingPrice:
		// Ready without a sample yet: the announced initial price is
		// good enough to enter on.
		if st.pool.InitialPrice > 0 {
			st.lastPrice = st.pool.InitialPrice
			e.transition(st, domain.StatusMonitoring)
			e.tryEnter(ctx, st)
		}
	case domain.StatusMonitoring:
		e.tryEnter(ctx, st)
	}
}

// tryEnter submits the entry buy for a monitoring pool. The monitor
// slot is acquired first; without one the pool simply stays in
// MONITORING and the next sample retries.
func (e *Engine) tryEnter(ctx context.Context, st *poolState) {
	if st.entryInFlight || st.pool.Status != domain.StatusMonitoring || st.lastPrice <= 0 {
		return
	}
	if !e.slots.TryAcquire(1) {
		e.log.Debug("no monitor slot available", "pool", st.pool.ID)
		return
	}
	st.entryInFlight = true

	req := Request{
		Pool:           st.pool,
		Side:           domain.SideBuy,
		QuoteAmount:    e.cfg.Trading.InitialBuyAmount,
		Price:          st.lastPrice,
		MaxSlippagePct: e.cfg.Trading.MaxSlippagePct,
	}
	poolID := st.pool.ID
	go func() {
		trade, err := e.queue.Submit(ctx, req)
		e.post(func() { e.entryResult(poolID, trade, err) })
	}()
}

func (e *Engine) entryResult(poolID string, trade domain.Trade, err error) {
	st, ok := e.pools[poolID]
	if !ok {
		e.slots.Release(1)
		return
	}

	switch {
	case err == nil:
		e.entered(st)

	case domain.Retryable(err):
		st.entryInFlight = false
		e.slots.Release(1)
		e.log.Info("entry rejected, will retry on next sample", "pool", poolID, "err", err)

	case errors.Is(err, domain.ErrTimeout) || errors.Is(err, context.Canceled):
		// Outcome unknown: the buy may still confirm, including during
		// the shutdown drain. Poll the book until the queue lets go of
		// the submission; never write the pool off as a failure.
		e.log.Warn("entry outcome unknown, reconciling", "pool", poolID, "err", err)
		e.scheduleEntryReconcile(poolID, 1)

	default:
		st.entryInFlight = false
		e.slots.Release(1)
		e.log.Warn("entry failed, expiring pool", "pool", poolID, "err", err)
		e.expire(st)
	}
}

func (e *Engine) scheduleEntryReconcile(poolID string, attempt int) {
	time.AfterFunc(entryReconcileDelay, func() {
		e.post(func() {
			st, ok := e.pools[poolID]
			if !ok {
				e.slots.Release(1)
				return
			}
			if _, open := e.book.GetOpen(poolID); open {
				e.log.Info("entry confirmed after timeout", "pool", poolID)
				e.entered(st)
				return
			}
			if e.queue.InFlight(poolID) && attempt < entryReconcileChecks {
				e.scheduleEntryReconcile(poolID, attempt+1)
				return
			}
			st.entryInFlight = false
			e.slots.Release(1)
			e.log.Warn("entry never confirmed, expiring pool", "pool", poolID)
			e.expire(st)
		})
	})
}

// entered transitions the pool to TRADING and starts its monitor. The
// monitor inherits the semaphore slot acquired at entry.
func (e *Engine) entered(st *poolState) {
	pos, ok := e.book.GetOpen(st.pool.ID)
	if !ok {
		st.entryInFlight = false
		e.slots.Release(1)
		e.log.Error("entry reported success but no open position found", "pool", st.pool.ID)
		e.expire(st)
		return
	}

	st.entryInFlight = false
	e.transition(st, domain.StatusTrading)
	e.spawnMonitor(st, pos, e.cfg.MaxMonitorTime())

	e.log.Info("position opened, monitoring",
		"pool", st.pool.ID, "entry_price", pos.EntryPrice, "base_amount", pos.BaseAmount)
}

// spawnMonitor starts the position monitor goroutine for a pool in
// TRADING. The caller must already hold the pool's semaphore slot.
func (e *Engine) spawnMonitor(st *poolState, pos domain.Position, maxHold time.Duration) {
	mon := NewMonitor(st.pool, pos, e.book, e.queue, MonitorConfig{
		Exit: ExitConfig{
			ProfitThreshold:     e.cfg.Trading.ExitProfitThreshold,
			StopLossThreshold:   e.cfg.Trading.StopLossThreshold,
			ConsecutiveRequired: e.cfg.Trading.ConsecutiveUpdatesRequired,
		},
		MaxHold:        maxHold,
		MaxSlippagePct: e.cfg.Trading.MaxSlippagePct,
	}, e.log, e.monitorDone)
	e.monitors[st.pool.ID] = mon

	e.monWG.Add(1)
	go func() {
		defer e.monWG.Done()
		mon.Run(e.monCtx)
	}()
}

// resumePositions re-attaches a monitor to every open position restored
// from the ledger, so a restart keeps managing exposure left over from
// the previous run instead of letting it drift unwatched.
func (e *Engine) resumePositions() {
	for _, pos := range e.book.OpenPositions() {
		if !e.slots.TryAcquire(1) {
			e.log.Warn("no monitor slot for restored position, leaving it unmanaged", "pool", pos.PoolID)
			continue
		}
		pool := e.loadPool(pos.PoolID)
		pool.Status = domain.StatusTrading
		st := &poolState{pool: pool, lastPrice: pos.LastPrice}
		e.pools[pool.ID] = st

		// The holding clock does not restart on reboot.
		hold := e.cfg.MaxMonitorTime() - time.Since(pos.OpenedAt)
		if hold < time.Second {
			hold = time.Second
		}
		e.spawnMonitor(st, pos, hold)
		e.log.Info("resumed monitoring restored position",
			"pool", pool.ID, "entry_price", pos.EntryPrice, "hold_left", hold.Round(time.Second))
	}
}

func (e *Engine) loadPool(poolID string) domain.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := e.ledger.GetPool(ctx, poolID)
	if err != nil {
		e.log.Warn("pool record missing for restored position", "pool", poolID, "err", err)
		return domain.Pool{ID: poolID}
	}
	return pool
}

// monitorDone runs on the monitor's goroutine when it exits.
func (e *Engine) monitorDone(poolID string, closedOut bool) {
	e.slots.Release(1)
	e.post(func() {
		delete(e.monitors, poolID)
		st, ok := e.pools[poolID]
		if !ok {
			return
		}
		if closedOut {
			e.transition(st, domain.StatusClosed)
			delete(e.pools, poolID)
		} else {
			// Shutdown or unrecoverable exit path: the position stays
			// open in the book and the ledger for the next run.
			e.log.Warn("monitor stopped with position still open", "pool", poolID)
		}
	})
}

// applyTrade is the queue's confirm hook: it applies a confirmed trade
// to the book exactly once and emits notifications.
func (e *Engine) applyTrade(req Request, trade domain.Trade) error {
	switch req.Side {
	case domain.SideBuy:
		if _, err := e.book.OpenFromTrade(req.Pool, trade); err != nil {
			return err
		}
		e.notifier.TradeExecuted(trade)
		return nil
	case domain.SideSell:
		pos, err := e.book.CloseFromTrade(req.Pool, trade)
		if err != nil {
			return err
		}
		e.notifier.TradeExecuted(trade)
		e.notifier.PositionClosed(pos)
		return nil
	}
	return &domain.ExecError{PoolID: req.Pool.ID, Side: req.Side, Reason: "unknown side"}
}

// transition moves a pool forward and persists the new status. Illegal
// transitions are logged and ignored, which shields the state machine
// from stale or duplicated events.
func (e *Engine) transition(st *poolState, next domain.PoolStatus) {
	if !st.pool.Status.CanTransition(next) {
		e.log.Debug("ignoring illegal status transition",
			"pool", st.pool.ID, "from", st.pool.Status, "to", next)
		return
	}
	st.pool.Status = next
	e.persistStatus(st.pool.ID, next)
}

// expire marks a pool EXPIRED and drops it from tracking. The ledger
// keeps the terminal record; holding it in memory too would grow the
// pool map without bound on a busy feed.
func (e *Engine) expire(st *poolState) {
	if st.pool.Status.Terminal() {
		return
	}
	st.pool.Status = domain.StatusExpired
	e.persistStatus(st.pool.ID, domain.StatusExpired)
	delete(e.pools, st.pool.ID)
}

func (e *Engine) persistPool(pool domain.Pool) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.ledger.RecordPool(ctx, pool); err != nil {
			e.log.Error("pool record failed", "pool", pool.ID, "err", err)
		}
	}()
}

func (e *Engine) persistStatus(poolID string, status domain.PoolStatus) {
	go func() {
		var err error
		for attempt := 0; attempt < 3; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = e.ledger.UpdatePoolStatus(ctx, poolID, status)
			cancel()
			if err == nil {
				return
			}
			time.Sleep(2 * time.Second)
		}
		e.log.Error("pool status update failed", "pool", poolID, "status", status, "err", err)
	}()
}

func (e *Engine) persistSnapshot(s domain.PriceSample) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.ledger.RecordSnapshot(ctx, s); err != nil {
			e.log.Debug("snapshot write failed", "pool", s.PoolID, "err", err)
		}
	}()
}

// TrackedPools reports how many pools the dispatcher currently tracks.
// Terminal pools are dropped from tracking, so this is the working set,
// not a lifetime count.
func (e *Engine) TrackedPools() int {
	out := make(chan int, 1)
	e.post(func() { out <- len(e.pools) })
	select {
	case n := <-out:
		return n
	case <-e.closed:
		return 0
	}
}

func (e *Engine) logStats() {
	s := e.book.Summary()
	e.log.Info("engine stats",
		"held_tokens", len(e.book.Balances().Base),
		"uptime", time.Since(e.startedAt).Round(time.Second),
		"tracked_pools", len(e.pools),
		"monitors", len(e.monitors),
		"open_positions", s.OpenPositions,
		"queue_pending", e.queue.Pending(),
		"trades_this_hour", e.limiter.Used(),
		"quote_balance", s.QuoteBalance,
		"realized_pnl", s.RealizedPnL,
		"feed_uptime", e.feedUptime)
}
