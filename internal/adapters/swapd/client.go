package swapd

// Client for the local swap daemon used in live mode. The daemon holds
// the wallet and signs transactions; this process only asks it to swap.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/thegratidude/Raydium-New-Pools-Listener/internal/domain"
)

const (
	buyPath  = "/swap/buy"
	sellPath = "/swap/sell"
)

// Client implements ports.Executor against the swap daemon's HTTP API.
// Requests are paced with a token bucket but never retried: a swap
// whose response was lost may still have landed on chain, and the
// engine handles that as an unknown outcome.
type Client struct {
	http    *http.Client
	baseURL string
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewClient builds a swap daemon client.
func NewClient(baseURL string, timeout time.Duration, requestsPerSec float64, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if requestsPerSec <= 0 {
		requestsPerSec = 2
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSec), 1),
		log:     log,
	}
}

type swapRequest struct {
	PoolID         string  `json:"pool_id"`
	BaseMint       string  `json:"base_mint"`
	QuoteMint      string  `json:"quote_mint"`
	AmountSOL      float64 `json:"amount_sol,omitempty"`  // buys
	BaseAmount     float64 `json:"base_amount,omitempty"` // sells
	MaxSlippagePct float64 `json:"max_slippage_pct"`
}

type swapResponse struct {
	Signature   string  `json:"signature"`
	BaseAmount  float64 `json:"base_amount"`
	QuoteAmount float64 `json:"quote_amount"`
	Price       float64 `json:"price"`
	Status      string  `json:"status"` // confirmed | failed
	Error       string  `json:"error,omitempty"`
}

// Buy swaps req.QuoteAmount of SOL into the pool's base token.
func (c *Client) Buy(ctx context.Context, req domain.BuyRequest) (domain.Trade, error) {
	resp, err := c.swap(ctx, buyPath, swapRequest{
		PoolID:         req.Pool.ID,
		BaseMint:       req.Pool.BaseMint,
		QuoteMint:      req.Pool.QuoteMint,
		AmountSOL:      req.QuoteAmount,
		MaxSlippagePct: req.MaxSlippagePct,
	})
	if err != nil {
		return domain.Trade{}, err
	}
	return c.toTrade(resp, req.Pool.ID, domain.SideBuy)
}

// Sell swaps req.Percentage of the position's base tokens back to SOL.
func (c *Client) Sell(ctx context.Context, req domain.SellRequest) (domain.Trade, error) {
	resp, err := c.swap(ctx, sellPath, swapRequest{
		PoolID:         req.Pool.ID,
		BaseMint:       req.Pool.BaseMint,
		QuoteMint:      req.Pool.QuoteMint,
		BaseAmount:     req.Position.BaseAmount * req.Percentage,
		MaxSlippagePct: req.MaxSlippagePct,
	})
	if err != nil {
		return domain.Trade{}, err
	}
	return c.toTrade(resp, req.Pool.ID, domain.SideSell)
}

func (c *Client) swap(ctx context.Context, path string, body swapRequest) (*swapResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("swapd: rate limiter: %w", err)
	}

	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("swapd: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("swapd: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("swapd: %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("swapd: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("swapd: %s: status %d: %s", path, resp.StatusCode, truncate(data, 200))
	}

	var out swapResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("swapd: decode response: %w", err)
	}
	return &out, nil
}

func (c *Client) toTrade(resp *swapResponse, poolID string, side domain.Side) (domain.Trade, error) {
	if resp.Status != "confirmed" {
		reason := resp.Error
		if reason == "" {
			reason = "swap not confirmed: " + resp.Status
		}
		return domain.Trade{}, &domain.ExecError{PoolID: poolID, Side: side, Reason: reason}
	}
	return domain.Trade{
		Signature:   resp.Signature,
		PoolID:      poolID,
		Side:        side,
		BaseAmount:  resp.BaseAmount,
		QuoteAmount: resp.QuoteAmount,
		Price:       resp.Price,
		Timestamp:   time.Now(),
		Status:      domain.TradeConfirmed,
	}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
