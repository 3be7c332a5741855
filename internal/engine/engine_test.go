package engine_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thegratidude/Raydium-New-Pools-Listener/config"
	"github.com/thegratidude/Raydium-New-Pools-Listener/internal/domain"
	"github.com/thegratidude/Raydium-New-Pools-Listener/internal/engine"
)

type fakeNotifier struct {
	mu     sync.Mutex
	trades []domain.Trade
	closed []domain.Position
}

func (f *fakeNotifier) TradeExecuted(t domain.Trade) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades = append(f.trades, t)
}

func (f *fakeNotifier) PositionClosed(p domain.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, p)
}

func (f *fakeNotifier) Summary(domain.PortfolioSummary, []domain.Position) {}

func (f *fakeNotifier) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.closed)
}

func testConfig() *config.Config {
	return &config.Config{
		Trading: config.TradingConfig{
			InitialBuyAmount:           0.005,
			MaxSlippagePct:             5,
			ExitProfitThreshold:        0.10,
			StopLossThreshold:          -0.10,
			ConsecutiveUpdatesRequired: 3,
			MaxConcurrentMonitors:      5,
			MaxTradesPerHour:           0,
			PerPoolCooldownSeconds:     0,
			MaxPoolAgeMs:               5000,
			PriceWaitTimeoutSeconds:    5,
			MaxMonitorTimeSeconds:      300,
			SubmitTimeoutSeconds:       5,
		},
	}
}

type engineHarness struct {
	eng      *engine.Engine
	ledger   *memLedger
	book     *engine.PositionBook
	notifier *fakeNotifier
	cancel   context.CancelFunc
	done     chan error
}

func startEngine(t *testing.T, cfg *config.Config, exec *fakeExec) *engineHarness {
	t.Helper()
	ledger := newMemLedger()
	book := engine.NewPositionBook(ledger, 10.0, nil)
	notifier := &fakeNotifier{}
	eng := engine.New(cfg, exec, ledger, book, notifier, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	h := &engineHarness{eng: eng, ledger: ledger, book: book, notifier: notifier, cancel: cancel, done: done}
	t.Cleanup(func() { h.stop(t) })
	return h
}

// stop cancels the engine and waits for Run to return. Safe to call
// more than once; the result is pushed back for later waiters.
func (h *engineHarness) stop(t *testing.T) {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		h.done <- err
	case <-time.After(10 * time.Second):
		t.Error("engine did not shut down in time")
	}
}

func (h *engineHarness) send(t *testing.T, ev domain.Event) {
	t.Helper()
	require.NoError(t, h.eng.Handle(context.Background(), ev))
}

func poolCreated(id string, discovered time.Time) domain.Event {
	return domain.Event{
		Type:      domain.EventPoolCreated,
		Timestamp: discovered,
		Pool: domain.Pool{
			ID:           id,
			BaseMint:     "mintBase111",
			QuoteMint:    "So11111111111111111111111111111111111111112",
			InitialPrice: 1.0,
			DiscoveredAt: discovered,
		},
	}
}

func poolUpdate(id string, price float64, ts time.Time) domain.Event {
	return domain.Event{
		Type:      domain.EventPoolUpdate,
		Timestamp: ts,
		Sample: domain.PriceSample{
			PoolID:    id,
			Price:     price,
			Timestamp: ts,
		},
	}
}

func TestEngine_StalePoolExpiresWithoutTrading(t *testing.T) {
	exec := &fakeExec{}
	h := startEngine(t, testConfig(), exec)

	h.send(t, poolCreated("stale-pool", time.Now().Add(-10*time.Second)))

	require.Eventually(t, func() bool {
		return h.ledger.status("stale-pool") == domain.StatusExpired
	}, 3*time.Second, 20*time.Millisecond)

	assert.Zero(t, atomic.LoadInt32(&exec.buys))
	_, open := h.book.GetOpen("stale-pool")
	assert.False(t, open)
}

func TestEngine_FullCycleTakeProfit(t *testing.T) {
	exec := &fakeExec{}
	h := startEngine(t, testConfig(), exec)
	base := time.Now()

	h.send(t, poolCreated("pool-tp", base))
	h.send(t, poolUpdate("pool-tp", 1.0, base))

	// Entry confirmed, pool promoted to TRADING.
	require.Eventually(t, func() bool {
		return h.ledger.status("pool-tp") == domain.StatusTrading
	}, 5*time.Second, 20*time.Millisecond)
	pos, open := h.book.GetOpen("pool-tp")
	require.True(t, open)
	assert.InDelta(t, 1.0, pos.EntryPrice, 1e-9)

	// Three consecutive samples above the profit threshold.
	for i := 1; i <= 3; i++ {
		h.send(t, poolUpdate("pool-tp", 1.12, base.Add(time.Duration(i)*time.Second)))
	}

	require.Eventually(t, func() bool {
		return h.ledger.status("pool-tp") == domain.StatusClosed
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool { return h.notifier.closedCount() == 1 },
		2*time.Second, 20*time.Millisecond)

	_, open = h.book.GetOpen("pool-tp")
	assert.False(t, open)
	s := h.book.Summary()
	assert.Equal(t, 2, s.TotalTrades)
	assert.Greater(t, s.RealizedPnL, 0.0)
}

func TestEngine_StopLossClosesImmediately(t *testing.T) {
	exec := &fakeExec{}
	h := startEngine(t, testConfig(), exec)
	base := time.Now()

	h.send(t, poolCreated("pool-sl", base))
	h.send(t, poolUpdate("pool-sl", 1.0, base))

	require.Eventually(t, func() bool {
		return h.ledger.status("pool-sl") == domain.StatusTrading
	}, 5*time.Second, 20*time.Millisecond)

	// One sample at -15% is enough.
	h.send(t, poolUpdate("pool-sl", 0.85, base.Add(time.Second)))

	require.Eventually(t, func() bool {
		return h.ledger.status("pool-sl") == domain.StatusClosed
	}, 5*time.Second, 20*time.Millisecond)

	s := h.book.Summary()
	assert.Less(t, s.RealizedPnL, 0.0)
}

func TestEngine_EntryFailureExpiresPool(t *testing.T) {
	exec := &fakeExec{}
	exec.buyErr = &domain.ExecError{PoolID: "pool-f", Side: domain.SideBuy, Reason: "pool drained"}
	h := startEngine(t, testConfig(), exec)
	base := time.Now()

	h.send(t, poolCreated("pool-f", base))
	h.send(t, poolUpdate("pool-f", 1.0, base))

	require.Eventually(t, func() bool {
		return h.ledger.status("pool-f") == domain.StatusExpired
	}, 5*time.Second, 20*time.Millisecond)

	_, open := h.book.GetOpen("pool-f")
	assert.False(t, open)
	assert.InDelta(t, 10.0, h.book.QuoteBalance(), 1e-9)
}

func TestEngine_PoolReadyTriggersEntry(t *testing.T) {
	exec := &fakeExec{}
	h := startEngine(t, testConfig(), exec)
	base := time.Now()

	h.send(t, poolCreated("pool-r", base))
	// No price sample yet: ready alone enters on the announced price.
	h.send(t, domain.Event{
		Type:      domain.EventPoolReady,
		Timestamp: base,
		Pool:      poolCreated("pool-r", base).Pool,
	})

	require.Eventually(t, func() bool {
		return h.ledger.status("pool-r") == domain.StatusTrading
	}, 5*time.Second, 20*time.Millisecond)

	pos, open := h.book.GetOpen("pool-r")
	require.True(t, open)
	assert.InDelta(t, 1.0, pos.EntryPrice, 1e-9)
}

func TestEngine_ForgetsTerminalPools(t *testing.T) {
	exec := &fakeExec{}
	h := startEngine(t, testConfig(), exec)
	base := time.Now()

	// Aged-out discovery is recorded in the ledger but never tracked.
	h.send(t, poolCreated("pool-old", base.Add(-10*time.Second)))
	require.Eventually(t, func() bool {
		return h.ledger.status("pool-old") == domain.StatusExpired
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, h.eng.TrackedPools())

	// A full round trip ends with the pool dropped from tracking.
	h.send(t, poolCreated("pool-cycle", base))
	h.send(t, poolUpdate("pool-cycle", 1.0, base))
	require.Eventually(t, func() bool {
		return h.ledger.status("pool-cycle") == domain.StatusTrading
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, h.eng.TrackedPools())

	h.send(t, poolUpdate("pool-cycle", 0.80, base.Add(time.Second)))
	require.Eventually(t, func() bool {
		return h.ledger.status("pool-cycle") == domain.StatusClosed &&
			h.eng.TrackedPools() == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestEngine_ResumesRestoredPositions(t *testing.T) {
	ledger := newMemLedger()
	pool := testPool()
	pool.ID = "pool-res"
	pool.Status = domain.StatusTrading
	require.NoError(t, ledger.RecordPool(context.Background(), pool))
	ledger.positions["sig-1"] = domain.Position{
		PoolID:      "pool-res",
		EntryTrade:  "sig-1",
		EntryPrice:  1.0,
		BaseAmount:  0.005,
		QuoteAmount: 0.005,
		OpenedAt:    time.Now().Add(-time.Minute),
		Status:      domain.PositionOpen,
	}
	ledger.trades["sig-1"] = buyTrade("sig-1", 0.005, 1.0)

	book := engine.NewPositionBook(ledger, 10.0, nil)
	require.NoError(t, book.Restore(context.Background()))

	exec := &fakeExec{}
	eng := engine.New(testConfig(), exec, ledger, book, &fakeNotifier{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Error("engine did not shut down in time")
		}
	})

	require.Eventually(t, func() bool { return eng.TrackedPools() == 1 },
		2*time.Second, 20*time.Millisecond)

	// A stop-loss sample must reach the resumed monitor and unwind the
	// leftover exposure.
	require.NoError(t, eng.Handle(ctx, poolUpdate("pool-res", 0.85, time.Now())))

	require.Eventually(t, func() bool {
		return ledger.status("pool-res") == domain.StatusClosed
	}, 5*time.Second, 20*time.Millisecond)
	_, open := book.GetOpen("pool-res")
	assert.False(t, open)
}

func TestEngine_ShutdownDuringEntryDoesNotExpirePool(t *testing.T) {
	exec := &fakeExec{delay: 300 * time.Millisecond}
	h := startEngine(t, testConfig(), exec)
	base := time.Now()

	h.send(t, poolCreated("pool-c", base))
	h.send(t, poolUpdate("pool-c", 1.0, base))

	// Stop the engine while the buy is still executing.
	require.Eventually(t, func() bool { return atomic.LoadInt32(&exec.buys) == 1 },
		2*time.Second, 5*time.Millisecond)
	h.stop(t)

	// The buy confirms during the drain; the pool must not be written
	// off as failed while the book holds the position.
	assert.NotEqual(t, domain.StatusExpired, h.ledger.status("pool-c"))
	_, open := h.book.GetOpen("pool-c")
	assert.True(t, open)
}

func TestEngine_StaleSamplesIgnored(t *testing.T) {
	exec := &fakeExec{}
	h := startEngine(t, testConfig(), exec)
	base := time.Now()

	h.send(t, poolCreated("pool-o", base))
	h.send(t, poolUpdate("pool-o", 1.0, base))

	require.Eventually(t, func() bool {
		return h.ledger.status("pool-o") == domain.StatusTrading
	}, 5*time.Second, 20*time.Millisecond)

	// An out-of-order crash sample with an older timestamp must not
	// trip the stop loss.
	h.send(t, poolUpdate("pool-o", 0.5, base.Add(-time.Second)))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, domain.StatusTrading, h.ledger.status("pool-o"))
	_, open := h.book.GetOpen("pool-o")
	assert.True(t, open)
}
