package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/thegratidude/Raydium-New-Pools-Listener/internal/domain"
)

func TestPoolStatus_ForwardTransitionsOnly(t *testing.T) {
	assert.True(t, domain.StatusDiscovered.CanTransition(domain.StatusPendingPrice))
	assert.True(t, domain.StatusPendingPrice.CanTransition(domain.StatusMonitoring))
	assert.True(t, domain.StatusMonitoring.CanTransition(domain.StatusTrading))
	assert.True(t, domain.StatusTrading.CanTransition(domain.StatusClosed))

	// No skipping, no going back.
	assert.False(t, domain.StatusDiscovered.CanTransition(domain.StatusMonitoring))
	assert.False(t, domain.StatusTrading.CanTransition(domain.StatusMonitoring))
	assert.False(t, domain.StatusMonitoring.CanTransition(domain.StatusPendingPrice))
}

func TestPoolStatus_ExpiredFromAnyNonTerminal(t *testing.T) {
	for _, s := range []domain.PoolStatus{
		domain.StatusDiscovered,
		domain.StatusPendingPrice,
		domain.StatusMonitoring,
		domain.StatusTrading,
	} {
		assert.True(t, s.CanTransition(domain.StatusExpired), "from %s", s)
	}
}

func TestPoolStatus_TerminalStatesAreFinal(t *testing.T) {
	assert.True(t, domain.StatusClosed.Terminal())
	assert.True(t, domain.StatusExpired.Terminal())
	assert.False(t, domain.StatusClosed.CanTransition(domain.StatusExpired))
	assert.False(t, domain.StatusExpired.CanTransition(domain.StatusDiscovered))
}

func TestPriceSample_Valid(t *testing.T) {
	assert.True(t, domain.PriceSample{PoolID: "p", Price: 0.001}.Valid())
	assert.False(t, domain.PriceSample{PoolID: "", Price: 0.001}.Valid())
	assert.False(t, domain.PriceSample{PoolID: "p", Price: 0}.Valid())
	assert.False(t, domain.PriceSample{PoolID: "p", Price: -1}.Valid())
}

func TestPosition_ProfitPct(t *testing.T) {
	pos := domain.Position{EntryPrice: 2.0}
	assert.InDelta(t, 0.10, pos.ProfitPct(2.2), 1e-9)
	assert.InDelta(t, -0.25, pos.ProfitPct(1.5), 1e-9)
	assert.Zero(t, domain.Position{}.ProfitPct(1.0))
}

func TestPosition_HoldingTime(t *testing.T) {
	opened := time.Now().Add(-time.Minute)
	pos := domain.Position{OpenedAt: opened}
	assert.InDelta(t, time.Minute.Seconds(), pos.HoldingTime(time.Now()).Seconds(), 1)

	closed := opened.Add(30 * time.Second)
	pos.ClosedAt = &closed
	assert.Equal(t, 30*time.Second, pos.HoldingTime(time.Now()))
}
