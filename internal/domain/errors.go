package domain

import (
	"errors"
	"fmt"
)

// Trade rejection and failure classes. Callers branch with errors.Is;
// every rejected submission maps to exactly one of these.
var (
	// ErrInvalidEvent marks a malformed feed event (missing pool id,
	// non-positive price). Dropped and logged, never fatal.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrExpired means the pool aged out before a decision was made.
	ErrExpired = errors.New("pool expired")

	// ErrRateLimited means the hourly trade budget is exhausted.
	ErrRateLimited = errors.New("rate limited")

	// ErrCooldown means the pool traded too recently to enter again.
	ErrCooldown = errors.New("pool in cooldown")

	// ErrInFlight means the pool already has a submission executing.
	ErrInFlight = errors.New("submission already in flight")

	// ErrTimeout means no execution result arrived within the
	// submission deadline. The outcome is unknown: the queue keeps the
	// pool's in-flight slot until the worker finishes, so a blind
	// resubmit cannot double-spend.
	ErrTimeout = errors.New("submission timed out")

	// ErrDuplicatePosition means a second open position was attempted
	// on a pool that already has one.
	ErrDuplicatePosition = errors.New("duplicate open position")

	// ErrNoPosition means a close was attempted with nothing open.
	ErrNoPosition = errors.New("no open position")

	// ErrInsufficientBalance means a debit would push the quote
	// balance negative.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrLedgerWrite wraps persistence failures that risk losing track
	// of real exposure.
	ErrLedgerWrite = errors.New("ledger write failed")
)

// ExecError is a typed failure reported by the execution adapter.
type ExecError struct {
	PoolID string
	Side   Side
	Reason string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("execution failed: %s %s: %s", e.Side, e.PoolID, e.Reason)
}

// Retryable reports whether the submission may be retried later without
// reconciliation. Timeouts are excluded: their outcome is unknown.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrCooldown) || errors.Is(err, ErrInFlight)
}
