package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/thegratidude/Raydium-New-Pools-Listener/internal/domain"
)

// Wire format of the listener feed: a type tag, a millisecond
// timestamp, and a type-specific payload.
type wireMessage struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"` // unix ms
	Data      json.RawMessage `json:"data"`
}

type wirePool struct {
	PoolID        string  `json:"pool_id"`
	BaseMint      string  `json:"base_mint"`
	QuoteMint     string  `json:"quote_mint"`
	BaseDecimals  int     `json:"base_decimals"`
	QuoteDecimals int     `json:"quote_decimals"`
	InitialPrice  float64 `json:"initial_price"`
	DiscoveredAt  int64   `json:"discovered_at"` // unix ms
}

type wireSample struct {
	PoolID       string  `json:"pool_id"`
	Price        float64 `json:"price"`
	BaseReserve  float64 `json:"base_reserve"`
	QuoteReserve float64 `json:"quote_reserve"`
	TVL          float64 `json:"tvl"`
}

type wireHealth struct {
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// ParseEvent decodes one feed frame into a domain event. Malformed
// frames return an error wrapping domain.ErrInvalidEvent so the client
// can drop them without disconnecting.
func ParseEvent(data []byte) (domain.Event, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.Event{}, fmt.Errorf("feed.ParseEvent: %w: %v", domain.ErrInvalidEvent, err)
	}

	ev := domain.Event{
		Type:      domain.EventType(msg.Type),
		Timestamp: time.UnixMilli(msg.Timestamp),
	}

	switch ev.Type {
	case domain.EventPoolCreated, domain.EventPoolReady:
		var p wirePool
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return domain.Event{}, fmt.Errorf("feed.ParseEvent: %s payload: %w: %v", msg.Type, domain.ErrInvalidEvent, err)
		}
		if p.PoolID == "" {
			return domain.Event{}, fmt.Errorf("feed.ParseEvent: %s without pool_id: %w", msg.Type, domain.ErrInvalidEvent)
		}
		discovered := time.UnixMilli(p.DiscoveredAt)
		if p.DiscoveredAt == 0 {
			discovered = ev.Timestamp
		}
		ev.Pool = domain.Pool{
			ID:            p.PoolID,
			BaseMint:      p.BaseMint,
			QuoteMint:     p.QuoteMint,
			BaseDecimals:  p.BaseDecimals,
			QuoteDecimals: p.QuoteDecimals,
			InitialPrice:  p.InitialPrice,
			DiscoveredAt:  discovered,
		}

	case domain.EventPoolUpdate:
		var s wireSample
		if err := json.Unmarshal(msg.Data, &s); err != nil {
			return domain.Event{}, fmt.Errorf("feed.ParseEvent: pool_update payload: %w: %v", domain.ErrInvalidEvent, err)
		}
		ev.Sample = domain.PriceSample{
			PoolID:       s.PoolID,
			Price:        s.Price,
			BaseReserve:  s.BaseReserve,
			QuoteReserve: s.QuoteReserve,
			TVL:          s.TVL,
			Timestamp:    ev.Timestamp,
		}
		if !ev.Sample.Valid() {
			return domain.Event{}, fmt.Errorf("feed.ParseEvent: pool_update %q price %v: %w", s.PoolID, s.Price, domain.ErrInvalidEvent)
		}

	case domain.EventHealth:
		var h wireHealth
		if err := json.Unmarshal(msg.Data, &h); err != nil {
			return domain.Event{}, fmt.Errorf("feed.ParseEvent: health payload: %w: %v", domain.ErrInvalidEvent, err)
		}
		ev.Uptime = h.UptimeSeconds

	default:
		return domain.Event{}, fmt.Errorf("feed.ParseEvent: unknown type %q: %w", msg.Type, domain.ErrInvalidEvent)
	}

	return ev, nil
}
