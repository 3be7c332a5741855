package storage

// sqlite.go — the durable trading ledger.
//
// Layout:
//   - `pools`: one row per discovered pool, status updated in place.
//   - `trades`: one row per execution, keyed by signature. Inserts are
//     idempotent so the book can retry failed writes.
//   - `positions`: one row per position, keyed by the entry trade
//     signature. Open and close are both upserts.
//   - `pool_snapshots`: append-only price history, pruned on startup.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/thegratidude/Raydium-New-Pools-Listener/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS pools (
    pool_id        TEXT PRIMARY KEY,
    base_mint      TEXT NOT NULL,
    quote_mint     TEXT NOT NULL,
    base_decimals  INTEGER NOT NULL DEFAULT 0,
    quote_decimals INTEGER NOT NULL DEFAULT 0,
    initial_price  REAL NOT NULL DEFAULT 0,
    discovered_at  DATETIME NOT NULL,
    status         TEXT NOT NULL,
    updated_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
    signature    TEXT PRIMARY KEY,
    pool_id      TEXT NOT NULL,
    side         TEXT NOT NULL,
    base_amount  REAL NOT NULL DEFAULT 0,
    quote_amount REAL NOT NULL DEFAULT 0,
    price        REAL NOT NULL DEFAULT 0,
    status       TEXT NOT NULL,
    executed_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
    entry_trade  TEXT PRIMARY KEY,
    pool_id      TEXT NOT NULL,
    entry_price  REAL NOT NULL DEFAULT 0,
    base_amount  REAL NOT NULL DEFAULT 0,
    quote_amount REAL NOT NULL DEFAULT 0,
    opened_at    DATETIME NOT NULL,
    status       TEXT NOT NULL,
    exit_trade   TEXT,
    exit_price   REAL NOT NULL DEFAULT 0,
    closed_at    DATETIME,
    pnl          REAL NOT NULL DEFAULT 0,
    pnl_percent  REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pool_snapshots (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    pool_id       TEXT NOT NULL,
    price         REAL NOT NULL DEFAULT 0,
    base_reserve  REAL NOT NULL DEFAULT 0,
    quote_reserve REAL NOT NULL DEFAULT 0,
    tvl           REAL NOT NULL DEFAULT 0,
    captured_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pools_status    ON pools(status);
CREATE INDEX IF NOT EXISTS idx_trades_pool     ON trades(pool_id);
CREATE INDEX IF NOT EXISTS idx_positions_pool  ON positions(pool_id);
CREATE INDEX IF NOT EXISTS idx_positions_state ON positions(status);
CREATE INDEX IF NOT EXISTS idx_snap_pool_at    ON pool_snapshots(pool_id, captured_at DESC);
`

// Snapshots older than this are pruned at startup so the history file
// stays manageable across long runs.
const snapshotRetention = 7 * 24 * time.Hour

// SQLiteLedger implements ports.Ledger on SQLite (pure Go, no CGo).
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens (or creates) the database at the given path,
// applies the schema, and prunes old snapshots. Use ":memory:" in
// tests.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteLedger: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteLedger: apply schema: %w", err)
	}

	l := &SQLiteLedger{db: db}
	l.pruneOld(context.Background())
	return l, nil
}

// RecordPool inserts the pool, or refreshes its status if it already
// exists.
func (l *SQLiteLedger) RecordPool(ctx context.Context, pool domain.Pool) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO pools
			(pool_id, base_mint, quote_mint, base_decimals, quote_decimals,
			 initial_price, discovered_at, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pool_id) DO UPDATE SET
			status     = excluded.status,
			updated_at = excluded.updated_at
	`,
		pool.ID, pool.BaseMint, pool.QuoteMint, pool.BaseDecimals, pool.QuoteDecimals,
		pool.InitialPrice, pool.DiscoveredAt.UTC(), string(pool.Status), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.RecordPool: upsert %s: %w", pool.ID, err)
	}
	return nil
}

// UpdatePoolStatus moves a recorded pool to the given status.
func (l *SQLiteLedger) UpdatePoolStatus(ctx context.Context, poolID string, status domain.PoolStatus) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE pools SET status = ?, updated_at = ? WHERE pool_id = ?`,
		string(status), time.Now().UTC(), poolID,
	)
	if err != nil {
		return fmt.Errorf("storage.UpdatePoolStatus: %s to %s: %w", poolID, status, err)
	}
	return nil
}

// GetPool returns the recorded pool. Used to rebuild tracking state for
// positions restored after a restart.
func (l *SQLiteLedger) GetPool(ctx context.Context, poolID string) (domain.Pool, error) {
	var pool domain.Pool
	var discoveredAt, status string
	err := l.db.QueryRowContext(ctx, `
		SELECT pool_id, base_mint, quote_mint, base_decimals, quote_decimals,
		       initial_price, discovered_at, status
		FROM pools
		WHERE pool_id = ?
	`, poolID).Scan(
		&pool.ID, &pool.BaseMint, &pool.QuoteMint, &pool.BaseDecimals, &pool.QuoteDecimals,
		&pool.InitialPrice, &discoveredAt, &status,
	)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("storage.GetPool: %s: %w", poolID, err)
	}
	pool.DiscoveredAt, _ = time.Parse(time.RFC3339, discoveredAt)
	pool.Status = domain.PoolStatus(status)
	return pool, nil
}

// RecordTrade appends an execution. Re-recording the same signature is
// a no-op.
func (l *SQLiteLedger) RecordTrade(ctx context.Context, trade domain.Trade) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO trades
			(signature, pool_id, side, base_amount, quote_amount, price, status, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(signature) DO NOTHING
	`,
		trade.Signature, trade.PoolID, string(trade.Side),
		trade.BaseAmount, trade.QuoteAmount, trade.Price,
		string(trade.Status), trade.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.RecordTrade: insert %s: %w", trade.Signature, err)
	}
	return nil
}

// RecordSnapshot appends one price observation.
func (l *SQLiteLedger) RecordSnapshot(ctx context.Context, s domain.PriceSample) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO pool_snapshots (pool_id, price, base_reserve, quote_reserve, tvl, captured_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		s.PoolID, s.Price, s.BaseReserve, s.QuoteReserve, s.TVL, s.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.RecordSnapshot: insert %s: %w", s.PoolID, err)
	}
	return nil
}

// OpenPosition records a freshly opened position, idempotent by entry
// trade signature.
func (l *SQLiteLedger) OpenPosition(ctx context.Context, pos domain.Position) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO positions
			(entry_trade, pool_id, entry_price, base_amount, quote_amount, opened_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entry_trade) DO NOTHING
	`,
		pos.EntryTrade, pos.PoolID, pos.EntryPrice,
		pos.BaseAmount, pos.QuoteAmount, pos.OpenedAt.UTC(), string(pos.Status),
	)
	if err != nil {
		return fmt.Errorf("storage.OpenPosition: insert %s: %w", pos.EntryTrade, err)
	}
	return nil
}

// ClosePosition writes the final state of a closed position. The upsert
// also covers the case where the open write never landed.
func (l *SQLiteLedger) ClosePosition(ctx context.Context, pos domain.Position) error {
	var closedAt any
	if pos.ClosedAt != nil {
		closedAt = pos.ClosedAt.UTC()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO positions
			(entry_trade, pool_id, entry_price, base_amount, quote_amount, opened_at,
			 status, exit_trade, exit_price, closed_at, pnl, pnl_percent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entry_trade) DO UPDATE SET
			status      = excluded.status,
			exit_trade  = excluded.exit_trade,
			exit_price  = excluded.exit_price,
			closed_at   = excluded.closed_at,
			pnl         = excluded.pnl,
			pnl_percent = excluded.pnl_percent
	`,
		pos.EntryTrade, pos.PoolID, pos.EntryPrice,
		pos.BaseAmount, pos.QuoteAmount, pos.OpenedAt.UTC(),
		string(pos.Status), pos.ExitTrade, pos.ExitPrice, closedAt,
		pos.PnL, pos.PnLPercent,
	)
	if err != nil {
		return fmt.Errorf("storage.ClosePosition: upsert %s: %w", pos.EntryTrade, err)
	}
	return nil
}

// ListOpenPositions returns every position still marked OPEN, oldest
// first. Used to restore the book after a restart.
func (l *SQLiteLedger) ListOpenPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT entry_trade, pool_id, entry_price, base_amount, quote_amount, opened_at
		FROM positions
		WHERE status = ?
		ORDER BY opened_at ASC
	`, string(domain.PositionOpen))
	if err != nil {
		return nil, fmt.Errorf("storage.ListOpenPositions: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var pos domain.Position
		var openedAt string
		if err := rows.Scan(
			&pos.EntryTrade, &pos.PoolID, &pos.EntryPrice,
			&pos.BaseAmount, &pos.QuoteAmount, &openedAt,
		); err != nil {
			return nil, fmt.Errorf("storage.ListOpenPositions: scan row: %w", err)
		}
		pos.Status = domain.PositionOpen
		pos.OpenedAt, _ = time.Parse(time.RFC3339, openedAt)
		pos.LastPrice = pos.EntryPrice
		out = append(out, pos)
	}
	return out, rows.Err()
}

// CountTrades returns the total number of recorded trades.
func (l *SQLiteLedger) CountTrades(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage.CountTrades: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// pruneOld drops snapshot history past the retention window.
func (l *SQLiteLedger) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-snapshotRetention)
	l.db.ExecContext(ctx, `DELETE FROM pool_snapshots WHERE captured_at < ?`, cutoff)
}
