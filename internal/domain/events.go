package domain

import "time"

// EventType identifies a feed event.
type EventType string

const (
	// EventPoolCreated announces a newly discovered pool.
	EventPoolCreated EventType = "pool_created"
	// EventPoolReady announces that the pool became tradeable.
	EventPoolReady EventType = "pool_ready"
	// EventPoolUpdate carries a price/reserve sample.
	EventPoolUpdate EventType = "pool_update"
	// EventHealth is the server heartbeat.
	EventHealth EventType = "health"
)

// Event is a typed lifecycle or price event from the market-data feed.
// Exactly one of Pool/Sample/Health is meaningful depending on Type.
// Delivery is at-least-once with best-effort ordering per pool.
type Event struct {
	Type      EventType
	Timestamp time.Time

	Pool   Pool        // pool_created, pool_ready
	Sample PriceSample // pool_update
	Uptime float64     // health, seconds
}
