package engine

import "github.com/thegratidude/Raydium-New-Pools-Listener/internal/domain"

// ExitReason explains why a position should be unwound.
type ExitReason string

const (
	ReasonStopLoss   ExitReason = "stop_loss"
	ReasonTakeProfit ExitReason = "take_profit"
	ReasonMaxHold    ExitReason = "max_hold_time"
)

// ExitDecision is the outcome of evaluating one price sample.
type ExitDecision struct {
	Exit      bool
	Reason    ExitReason
	ProfitPct float64
}

// ExitConfig holds the thresholds for the evaluator.
type ExitConfig struct {
	ProfitThreshold     float64 // e.g. 0.10
	StopLossThreshold   float64 // e.g. -0.10
	ConsecutiveRequired int     // qualifying samples needed for take-profit
}

// EvaluateExit applies stop-loss/take-profit rules to one price sample.
// It mutates only pos.ConsecutiveProfitUpdates and pos.LastPrice; the
// caller must hold the pool's serialization (the monitor goroutine).
//
// Stop-loss fires on the first qualifying sample. Take-profit is
// debounced: it needs ConsecutiveRequired samples at or above the
// threshold, and a single sample below it resets the counter.
// Non-positive prices are rejected upstream and never reach here.
func EvaluateExit(pos *domain.Position, price float64, cfg ExitConfig) ExitDecision {
	pos.LastPrice = price
	pct := pos.ProfitPct(price)

	if pct <= cfg.StopLossThreshold {
		pos.ConsecutiveProfitUpdates = 0
		return ExitDecision{Exit: true, Reason: ReasonStopLoss, ProfitPct: pct}
	}

	if pct >= cfg.ProfitThreshold {
		pos.ConsecutiveProfitUpdates++
		if pos.ConsecutiveProfitUpdates >= cfg.ConsecutiveRequired {
			return ExitDecision{Exit: true, Reason: ReasonTakeProfit, ProfitPct: pct}
		}
		return ExitDecision{ProfitPct: pct}
	}

	pos.ConsecutiveProfitUpdates = 0
	return ExitDecision{ProfitPct: pct}
}
