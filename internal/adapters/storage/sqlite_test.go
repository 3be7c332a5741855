package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thegratidude/Raydium-New-Pools-Listener/internal/adapters/storage"
	"github.com/thegratidude/Raydium-New-Pools-Listener/internal/domain"
)

func openLedger(t *testing.T) *storage.SQLiteLedger {
	t.Helper()
	l, err := storage.NewSQLiteLedger(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func makePool(id string) domain.Pool {
	return domain.Pool{
		ID:           id,
		BaseMint:     "mintBase111",
		QuoteMint:    "So11111111111111111111111111111111111111112",
		InitialPrice: 0.0000012,
		DiscoveredAt: time.Now().UTC().Truncate(time.Second),
		Status:       domain.StatusDiscovered,
	}
}

func makeTrade(sig string, side domain.Side) domain.Trade {
	return domain.Trade{
		Signature:   sig,
		PoolID:      "pool-1",
		Side:        side,
		BaseAmount:  4000,
		QuoteAmount: 0.005,
		Price:       0.00000125,
		Timestamp:   time.Now().UTC().Truncate(time.Second),
		Status:      domain.TradeConfirmed,
	}
}

func TestSQLiteLedger_RecordPoolAndUpdateStatus(t *testing.T) {
	l := openLedger(t)
	ctx := context.Background()

	require.NoError(t, l.RecordPool(ctx, makePool("pool-1")))
	// Re-recording is an upsert, not an error.
	require.NoError(t, l.RecordPool(ctx, makePool("pool-1")))

	require.NoError(t, l.UpdatePoolStatus(ctx, "pool-1", domain.StatusTrading))

	pool, err := l.GetPool(ctx, "pool-1")
	require.NoError(t, err)
	assert.Equal(t, "pool-1", pool.ID)
	assert.Equal(t, "mintBase111", pool.BaseMint)
	assert.Equal(t, domain.StatusTrading, pool.Status)
	assert.InDelta(t, 0.0000012, pool.InitialPrice, 1e-12)
}

func TestSQLiteLedger_GetPoolMissing(t *testing.T) {
	l := openLedger(t)

	_, err := l.GetPool(context.Background(), "never-seen")
	assert.Error(t, err)
}

func TestSQLiteLedger_RecordTradeIsIdempotent(t *testing.T) {
	l := openLedger(t)
	ctx := context.Background()

	trade := makeTrade("sig-1", domain.SideBuy)
	require.NoError(t, l.RecordTrade(ctx, trade))
	require.NoError(t, l.RecordTrade(ctx, trade))

	n, err := l.CountTrades(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteLedger_PositionRoundTrip(t *testing.T) {
	l := openLedger(t)
	ctx := context.Background()

	opened := time.Now().UTC().Truncate(time.Second)
	pos := domain.Position{
		PoolID:      "pool-1",
		EntryTrade:  "sig-1",
		EntryPrice:  0.00000125,
		BaseAmount:  4000,
		QuoteAmount: 0.005,
		OpenedAt:    opened,
		Status:      domain.PositionOpen,
	}
	require.NoError(t, l.OpenPosition(ctx, pos))

	open, err := l.ListOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "sig-1", open[0].EntryTrade)
	assert.Equal(t, "pool-1", open[0].PoolID)
	assert.InDelta(t, 0.005, open[0].QuoteAmount, 1e-9)
	assert.WithinDuration(t, opened, open[0].OpenedAt, time.Second)

	closedAt := opened.Add(2 * time.Minute)
	pos.Status = domain.PositionClosed
	pos.ExitTrade = "sig-2"
	pos.ExitPrice = 0.0000014
	pos.ClosedAt = &closedAt
	pos.PnL = 0.0006
	pos.PnLPercent = 12
	require.NoError(t, l.ClosePosition(ctx, pos))

	open, err = l.ListOpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestSQLiteLedger_ClosePositionWithoutPriorOpen(t *testing.T) {
	l := openLedger(t)
	ctx := context.Background()

	// The close upsert covers the case where the open write never
	// landed before a crash.
	closedAt := time.Now().UTC()
	pos := domain.Position{
		PoolID:     "pool-1",
		EntryTrade: "sig-1",
		Status:     domain.PositionClosed,
		ExitTrade:  "sig-2",
		ClosedAt:   &closedAt,
	}
	require.NoError(t, l.ClosePosition(ctx, pos))

	open, err := l.ListOpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestSQLiteLedger_Snapshots(t *testing.T) {
	l := openLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := l.RecordSnapshot(ctx, domain.PriceSample{
			PoolID:    "pool-1",
			Price:     0.000001 + float64(i)*1e-8,
			TVL:       150,
			Timestamp: time.Now().UTC(),
		})
		require.NoError(t, err)
	}
}

func TestSQLiteLedger_CountTradesEmpty(t *testing.T) {
	l := openLedger(t)

	n, err := l.CountTrades(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
