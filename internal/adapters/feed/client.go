package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thegratidude/Raydium-New-Pools-Listener/internal/domain"
)

// Handler receives each decoded feed event in arrival order.
type Handler func(ctx context.Context, ev domain.Event) error

// Client maintains the websocket connection to the pool listener and
// pushes decoded events into the handler. Disconnects trigger a
// reconnect with capped exponential backoff; malformed frames are
// dropped, not fatal.
type Client struct {
	url      string
	delay    time.Duration
	delayMax time.Duration
	handler  Handler
	log      *slog.Logger
}

// NewClient builds a feed client. delay and delayMax bound the
// reconnect backoff.
func NewClient(url string, delay, delayMax time.Duration, handler Handler, log *slog.Logger) *Client {
	if delay <= 0 {
		delay = 5 * time.Second
	}
	if delayMax < delay {
		delayMax = delay
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		url:      url,
		delay:    delay,
		delayMax: delayMax,
		handler:  handler,
		log:      log,
	}
}

// Run connects and consumes the feed until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.delay
	for {
		delivered, err := c.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if delivered {
			backoff = c.delay
		}
		c.log.Warn("feed disconnected, reconnecting", "url", c.url, "delay", backoff, "err", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.delayMax {
			backoff = c.delayMax
		}
	}
}

// consume runs one connection until it breaks. delivered reports
// whether at least one frame arrived, which resets the reconnect
// backoff.
func (c *Client) consume(ctx context.Context) (delivered bool, _ error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	c.log.Info("feed connected", "url", c.url)

	// Unblock ReadMessage when ctx is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return delivered, err
		}
		delivered = true
		ev, err := ParseEvent(data)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidEvent) {
				c.log.Warn("dropping malformed feed frame", "err", err)
				continue
			}
			return delivered, err
		}
		if err := c.handler(ctx, ev); err != nil {
			return delivered, err
		}
	}
}
