package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/thegratidude/Raydium-New-Pools-Listener/internal/domain"
)

const (
	exitRetryDelay    = 2 * time.Second
	exitRetryDelayMax = 15 * time.Second
)

// MonitorConfig tunes a single position monitor.
type MonitorConfig struct {
	Exit           ExitConfig
	MaxHold        time.Duration // force exit after this holding time
	MaxSlippagePct float64
	SampleBuffer   int
}

// Monitor watches one open position: it consumes price samples, runs
// the exit evaluator, and unwinds the position when a rule fires or the
// maximum holding time elapses. The debounce counter lives here, on the
// monitor's own copy of the position, so no lock is shared with the
// sample producers.
type Monitor struct {
	pool    domain.Pool
	pos     domain.Position
	book    *PositionBook
	queue   *TradeQueue
	cfg     MonitorConfig
	log     *slog.Logger
	samples chan domain.PriceSample
	done    func(poolID string, closed bool)
}

// NewMonitor builds a monitor for a freshly opened position. done is
// called exactly once when the monitor goroutine exits; closed reports
// whether the position was confirmed closed.
func NewMonitor(pool domain.Pool, pos domain.Position, book *PositionBook, queue *TradeQueue, cfg MonitorConfig, log *slog.Logger, done func(poolID string, closed bool)) *Monitor {
	if cfg.SampleBuffer <= 0 {
		cfg.SampleBuffer = 32
	}
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		pool:    pool,
		pos:     pos,
		book:    book,
		queue:   queue,
		cfg:     cfg,
		log:     log.With("pool", pool.ID),
		samples: make(chan domain.PriceSample, cfg.SampleBuffer),
		done:    done,
	}
}

// Offer hands a price sample to the monitor without blocking. When the
// buffer is full the sample is dropped; the next one supersedes it.
func (m *Monitor) Offer(sample domain.PriceSample) {
	select {
	case m.samples <- sample:
	default:
	}
}

// Run drives the monitor until the position closes, the holding limit
// forces an exit, or ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	closed := false
	defer func() { m.done(m.pool.ID, closed) }()

	hold := time.NewTimer(m.cfg.MaxHold)
	defer hold.Stop()

	var lastTS time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case <-hold.C:
			m.log.Info("max holding time reached, unwinding",
				"held", m.pos.HoldingTime(time.Now()).Round(time.Second))
			closed = m.exit(ctx, ReasonMaxHold, m.pos.LastPrice)
			return

		case s := <-m.samples:
			// Out-of-order or duplicate samples carry no new information.
			if !s.Valid() || !s.Timestamp.After(lastTS) {
				continue
			}
			lastTS = s.Timestamp

			m.book.MarkPrice(m.pool.ID, s.Price)
			decision := EvaluateExit(&m.pos, s.Price, m.cfg.Exit)
			if !decision.Exit {
				continue
			}
			m.log.Info("exit rule fired",
				"reason", decision.Reason,
				"profit_pct", decision.ProfitPct*100,
				"price", s.Price)
			closed = m.exit(ctx, decision.Reason, s.Price)
			return
		}
	}
}

// exit submits the sell and retries until the position is confirmed
// closed or ctx is cancelled. A timed-out submission may still have
// executed, so after ErrTimeout the book is consulted before retrying.
func (m *Monitor) exit(ctx context.Context, reason ExitReason, price float64) bool {
	delay := exitRetryDelay
	for attempt := 1; ; attempt++ {
		trade, err := m.queue.Submit(ctx, Request{
			Pool:           m.pool,
			Side:           domain.SideSell,
			Percentage:     1,
			Position:       m.pos,
			Price:          price,
			MaxSlippagePct: m.cfg.MaxSlippagePct,
		})
		if err == nil {
			m.log.Info("position closed",
				"reason", reason, "signature", trade.Signature, "price", trade.Price)
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		// A late confirmation lands in the book through the queue's
		// confirm hook even when Submit reported a timeout.
		if errors.Is(err, domain.ErrTimeout) || errors.Is(err, domain.ErrInFlight) {
			if _, open := m.book.GetOpen(m.pool.ID); !open {
				m.log.Info("position closed after submission timeout", "reason", reason)
				return true
			}
		}

		m.log.Warn("exit attempt failed, retrying",
			"reason", reason, "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		delay *= 2
		if delay > exitRetryDelayMax {
			delay = exitRetryDelayMax
		}

		// Use the freshest mark available for the retry.
		if pos, open := m.book.GetOpen(m.pool.ID); open && pos.LastPrice > 0 {
			price = pos.LastPrice
		}
	}
}
