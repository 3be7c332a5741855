package engine

import (
	"sync"
	"time"
)

// HourlyLimiter caps the number of trade entries per wall-clock hour.
// The counter resets when the hour changes, matching the operational
// budget ("N trades per hour") rather than a rolling token bucket.
// A max of zero or less disables the cap.
type HourlyLimiter struct {
	mu    sync.Mutex
	max   int
	count int
	hour  time.Time

	now func() time.Time // overridable in tests
}

func NewHourlyLimiter(max int) *HourlyLimiter {
	return &HourlyLimiter{max: max, now: time.Now}
}

// Allow reserves one slot in the current hour's budget. It returns
// false, without queuing, when the budget is exhausted.
func (l *HourlyLimiter) Allow() bool {
	if l.max <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.roll()
	if l.count >= l.max {
		return false
	}
	l.count++
	return true
}

// Refund releases a previously reserved slot after an execution the
// adapter reported as failed. Slots from earlier hours are not
// refunded; timeouts are never refunded since their outcome is unknown.
func (l *HourlyLimiter) Refund() {
	if l.max <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.roll()
	if l.count > 0 {
		l.count--
	}
}

// Used returns slots consumed in the current hour.
func (l *HourlyLimiter) Used() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roll()
	return l.count
}

func (l *HourlyLimiter) roll() {
	h := l.now().Truncate(time.Hour)
	if !h.Equal(l.hour) {
		l.hour = h
		l.count = 0
	}
}
