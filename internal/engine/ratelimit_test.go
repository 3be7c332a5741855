package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHourlyLimiter_CapsWithinHour(t *testing.T) {
	l := NewHourlyLimiter(10)
	now := time.Date(2025, 6, 1, 14, 10, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		require.True(t, l.Allow(), "entry %d should be admitted", i+1)
	}
	assert.False(t, l.Allow(), "11th entry must be rejected")
	assert.Equal(t, 10, l.Used())
}

func TestHourlyLimiter_ResetsAtHourBoundary(t *testing.T) {
	l := NewHourlyLimiter(2)
	now := time.Date(2025, 6, 1, 14, 59, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	require.True(t, l.Allow())
	require.True(t, l.Allow())
	require.False(t, l.Allow())

	// Crossing into 15:00 starts a fresh budget.
	now = time.Date(2025, 6, 1, 15, 0, 1, 0, time.UTC)
	assert.True(t, l.Allow())
	assert.Equal(t, 1, l.Used())
}

func TestHourlyLimiter_RefundReleasesSlot(t *testing.T) {
	l := NewHourlyLimiter(1)
	now := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	require.True(t, l.Allow())
	require.False(t, l.Allow())

	l.Refund()
	assert.True(t, l.Allow())
}

func TestHourlyLimiter_ZeroDisablesCap(t *testing.T) {
	l := NewHourlyLimiter(0)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow())
	}
}

func TestHourlyLimiter_RefundNeverGoesNegative(t *testing.T) {
	l := NewHourlyLimiter(3)
	now := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Refund()
	l.Refund()
	assert.Equal(t, 0, l.Used())
}
