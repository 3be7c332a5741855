package notify

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/thegratidude/Raydium-New-Pools-Listener/internal/domain"
)

// Console implements ports.Notifier on a writer, stdout by default.
type Console struct {
	out  io.Writer
	live bool
}

// NewConsole creates a notifier that writes to stdout.
func NewConsole(live bool) *Console {
	return &Console{out: os.Stdout, live: live}
}

// NewConsoleWriter creates a notifier for tests.
func NewConsoleWriter(w io.Writer, live bool) *Console {
	return &Console{out: w, live: live}
}

func (c *Console) mode() string {
	if c.live {
		return "LIVE"
	}
	return "PAPER"
}

// TradeExecuted prints a one-line record of a confirmed trade.
func (c *Console) TradeExecuted(t domain.Trade) {
	now := time.Now().Format("15:04:05")
	fmt.Fprintf(c.out, "[%s][%s] %s %s  base %.6f  quote %.6f SOL  @ %.8f  (%s)\n",
		now, c.mode(), t.Side, shortID(t.PoolID),
		t.BaseAmount, t.QuoteAmount, t.Price, shortID(t.Signature))
}

// PositionClosed prints the final result of a round trip.
func (c *Console) PositionClosed(pos domain.Position) {
	now := time.Now().Format("15:04:05")
	sign := "+"
	if pos.PnL < 0 {
		sign = ""
	}
	held := "-"
	if pos.ClosedAt != nil {
		held = pos.ClosedAt.Sub(pos.OpenedAt).Round(time.Second).String()
	}
	fmt.Fprintf(c.out, "[%s][%s] CLOSED %s  entry %.8f -> exit %.8f  pnl %s%.6f SOL (%s%.2f%%)  held %s\n",
		now, c.mode(), shortID(pos.PoolID),
		pos.EntryPrice, pos.ExitPrice,
		sign, pos.PnL, sign, pos.PnLPercent, held)
}

// Summary renders the portfolio table plus the aggregate block.
func (c *Console) Summary(s domain.PortfolioSummary, open []domain.Position) {
	now := time.Now()
	fmt.Fprintf(c.out, "\n[%s][%s] portfolio | balance %.6f SOL | open %d | trades %d\n",
		now.Format("15:04:05"), c.mode(), s.QuoteBalance, s.OpenPositions, s.TotalTrades)

	if len(open) > 0 {
		table := tablewriter.NewWriter(c.out)
		table.Header("Pool", "Entry", "Last", "PnL%", "Unrealized", "Held")

		for _, pos := range open {
			pct := pos.ProfitPct(pos.LastPrice) * 100
			table.Append(
				shortID(pos.PoolID),
				fmt.Sprintf("%.8f", pos.EntryPrice),
				fmt.Sprintf("%.8f", pos.LastPrice),
				fmt.Sprintf("%+.2f", pct),
				fmt.Sprintf("%+.6f", pos.UnrealizedPnL(pos.LastPrice)),
				pos.HoldingTime(now).Round(time.Second).String(),
			)
		}
		table.Render()
	}

	fmt.Fprintf(c.out, "  Realized PnL:   %+.6f SOL\n", s.RealizedPnL)
	fmt.Fprintf(c.out, "  Unrealized PnL: %+.6f SOL\n", s.UnrealizedPnL)
	fmt.Fprintln(c.out)
}

// shortID compacts base58 addresses and signatures for log lines.
func shortID(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:6] + ".." + s[len(s)-4:]
}
