package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/shopspring/decimal"

	"github.com/mercer-quant/sporttrader/internal/telemetry"
)

// Client is every exchange operation the rest of the system needs. One
// concrete implementation (httpClient) talks to the real venue; tests
// substitute a fake.
type Client interface {
	GetBalance(ctx context.Context) (Balance, error)
	GetMarkets(ctx context.Context, seriesTicker string) ([]Market, error)
	GetMarket(ctx context.Context, ticker string) (Market, error)
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (Order, error)
	WaitForFill(ctx context.Context, orderID string, timeout time.Duration) (Order, error)
	CheckSlippage(ctx context.Context, ticker string, intendedPrice decimal.Decimal, side OrderSide) (ok bool, observedBest decimal.Decimal, err error)
}

// httpClient is the Kalshi-shaped REST implementation: two rate limiters
// (reads cheaper than writes), a signer for auth headers, and a bounded
// doubling-backoff retry for transient failures.
type httpClient struct {
	baseURL       string
	httpClient    *http.Client
	signer        Signer
	readLimiter   *rate.Limiter
	writeLimiter  *rate.Limiter
	breaker       *circuitBreaker
	maxSlippage   float64
}

// NewHTTPClient builds the concrete exchange client. maxSlippagePct is the
// fraction (e.g. 0.02 for 2%) CheckSlippage compares observed price
// movement against.
func NewHTTPClient(baseURL string, signer Signer, maxSlippagePct float64) Client {
	if signer == nil {
		signer = NoopSigner{}
	}
	return &httpClient{
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		signer:       signer,
		readLimiter:  rate.NewLimiter(rate.Limit(20), 20),
		writeLimiter: rate.NewLimiter(rate.Limit(10), 10),
		breaker:      newCircuitBreaker(5, 30*time.Second),
		maxSlippage:  maxSlippagePct,
	}
}

const maxRetries = 3

// withJitter scales a backoff duration by a factor in [0.9, 1.1] — the 10%
// jitter the spec calls for, to keep retries from every waiting client
// synchronizing on the same wall-clock instant.
func withJitter(d time.Duration) time.Duration {
	factor := 0.9 + rand.Float64()*0.2
	return time.Duration(float64(d) * factor)
}

// do issues a request through the circuit breaker, retrying transient
// failures with doubling backoff + jitter capped at 8s. Non-retryable
// statuses (4xx other than 429) return immediately. A server Retry-After
// header overrides the computed backoff for the next attempt.
func (c *httpClient) do(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	if !c.breaker.Allow() {
		return nil, 0, ErrCircuitOpen
	}

	lim := c.readLimiter
	if method != http.MethodGet {
		lim = c.writeLimiter
	}

	backoff := 500 * time.Millisecond
	const maxBackoff = 8 * time.Second

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(withJitter(backoff)):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := lim.Wait(ctx); err != nil {
			return nil, 0, fmt.Errorf("rate limit wait: %w", err)
		}

		respBody, status, retryAfter, err := c.doOnce(ctx, method, path, body)
		if err == nil && !isRetryableStatus(status) {
			if status == http.StatusUnauthorized {
				c.breaker.RecordFailure()
				return respBody, status, ErrAuthFailed
			}
			c.breaker.RecordSuccess()
			return respBody, status, nil
		}
		if retryAfter > 0 {
			backoff = retryAfter
		}

		lastErr = err
		if err == nil {
			lastErr = fmt.Errorf("exchange: status=%d body=%s", status, string(respBody))
		}
		telemetry.Warnw("exchange: retrying after transient failure",
			"method", method, "path", path, "attempt", attempt, "err", lastErr)
	}
	c.breaker.RecordFailure()
	return nil, 0, &TransientError{Err: lastErr}
}

func (c *httpClient) doOnce(ctx context.Context, method, path string, body any) ([]byte, int, time.Duration, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if err := c.signer.Sign(req); err != nil {
		return nil, 0, 0, fmt.Errorf("sign: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, 0, fmt.Errorf("read response: %w", err)
	}

	telemetry.Infow("exchange: request complete",
		"method", method, "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))

	return respBody, resp.StatusCode, parseRetryAfter(resp.Header.Get("Retry-After")), nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func (c *httpClient) GetBalance(ctx context.Context) (Balance, error) {
	body, status, err := c.do(ctx, http.MethodGet, "/trade-api/v2/portfolio/balance", nil)
	if err != nil {
		return Balance{}, err
	}
	if status != http.StatusOK {
		return Balance{}, fmt.Errorf("get balance: status=%d", status)
	}
	var wire wireBalanceResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return Balance{}, fmt.Errorf("unmarshal balance: %w", err)
	}
	return Balance{AvailableUSDC: centsToDecimal(wire.BalanceCents)}, nil
}

func (c *httpClient) GetMarkets(ctx context.Context, seriesTicker string) ([]Market, error) {
	var all []Market
	cursor := ""
	for {
		path := fmt.Sprintf("/trade-api/v2/markets?status=open&series_ticker=%s&limit=1000", seriesTicker)
		if cursor != "" {
			path += "&cursor=" + cursor
		}
		body, status, err := c.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("get markets: status=%d body=%s", status, string(body))
		}
		var resp wireGetMarketsResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("unmarshal markets: %w", err)
		}
		for _, m := range resp.Markets {
			all = append(all, m.toMarket())
		}
		if resp.Cursor == "" || len(resp.Markets) == 0 {
			break
		}
		cursor = resp.Cursor
	}
	return all, nil
}

func (c *httpClient) GetMarket(ctx context.Context, ticker string) (Market, error) {
	path := fmt.Sprintf("/trade-api/v2/markets/%s", ticker)
	body, status, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return Market{}, err
	}
	if status != http.StatusOK {
		return Market{}, fmt.Errorf("get market %s: status=%d", ticker, status)
	}
	var resp struct {
		Market wireMarket `json:"market"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Market{}, fmt.Errorf("unmarshal market %s: %w", ticker, err)
	}
	return resp.Market.toMarket(), nil
}

func (c *httpClient) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (Order, error) {
	wireReq := wireOrderRequest{
		Ticker:        req.Ticker,
		Action:        string(req.Action),
		Side:          string(req.Side),
		Type:          string(req.Type),
		Count:         req.Count,
		ClientOrderID: req.ClientOrderID,
		TimeInForce:   req.TimeInForce,
	}
	if req.Type == OrderTypeLimit {
		wireReq.PriceCents = decimalToCents(req.Price)
	}

	body, status, err := c.do(ctx, http.MethodPost, "/trade-api/v2/portfolio/orders", wireReq)
	if err != nil {
		telemetry.Metrics.OrdersPlaced.Inc()
		return Order{}, err
	}
	if status == http.StatusConflict {
		return Order{}, ErrMarketClosed
	}
	if status < 200 || status >= 300 {
		return Order{}, fmt.Errorf("order rejected: status=%d body=%s", status, string(body))
	}

	var resp wireCreateOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Order{}, fmt.Errorf("unmarshal order response: %w", err)
	}
	telemetry.Metrics.OrdersPlaced.Inc()
	telemetry.Infow("exchange: order placed",
		"ticker", req.Ticker, "side", req.Side, "count", req.Count, "order_id", resp.Order.OrderID)
	return resp.Order.toOrder(), nil
}

func (c *httpClient) CancelOrder(ctx context.Context, orderID string) error {
	path := fmt.Sprintf("/trade-api/v2/portfolio/orders/%s", orderID)
	_, status, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("cancel order %s: status=%d", orderID, status)
	}
	return nil
}

func (c *httpClient) GetOrder(ctx context.Context, orderID string) (Order, error) {
	path := fmt.Sprintf("/trade-api/v2/portfolio/orders/%s", orderID)
	body, status, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return Order{}, err
	}
	if status == http.StatusNotFound {
		return Order{}, ErrOrderNotFound
	}
	if status != http.StatusOK {
		return Order{}, fmt.Errorf("get order %s: status=%d", orderID, status)
	}
	var resp wireGetOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Order{}, fmt.Errorf("unmarshal order %s: %w", orderID, err)
	}
	return resp.Order.toOrder(), nil
}

// WaitForFill polls GetOrder until the order is fully filled, canceled, or
// the timeout elapses. Used by the orchestrator's entry/exit execution path
// after placing a limit order, to decide whether to treat the position as
// open or to fall back to a cancel+retry.
func (c *httpClient) WaitForFill(ctx context.Context, orderID string, timeout time.Duration) (Order, error) {
	deadline := time.Now().Add(timeout)
	const pollInterval = 500 * time.Millisecond

	for {
		order, err := c.GetOrder(ctx, orderID)
		if err != nil && !errors.Is(err, ErrOrderNotFound) {
			return Order{}, err
		}
		if order.Status == OrderStatusExecuted || order.RemainingCount == 0 {
			return order, nil
		}
		if order.Status == OrderStatusCanceled {
			return order, nil
		}
		if time.Now().After(deadline) {
			return order, ErrFillTimeout
		}
		select {
		case <-ctx.Done():
			return order, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// CheckSlippage reads the current top-of-book for ticker and compares it
// against intendedPrice: ok reports whether the move since the price used
// for sizing is within maxSlippage. Called immediately before placing an
// order, to abort an entry/exit whose edge has already eroded.
func (c *httpClient) CheckSlippage(ctx context.Context, ticker string, intendedPrice decimal.Decimal, side OrderSide) (bool, decimal.Decimal, error) {
	market, err := c.GetMarket(ctx, ticker)
	if err != nil {
		return false, decimal.Zero, err
	}

	observed := market.YesAsk
	if side == SideNo {
		observed = market.NoAsk
	}
	if intendedPrice.IsZero() {
		return false, observed, fmt.Errorf("check slippage: intended price is zero")
	}

	diff := observed.Sub(intendedPrice).Abs().Div(intendedPrice)
	ok := diff.LessThanOrEqual(decimal.NewFromFloat(c.maxSlippage))
	return ok, observed, nil
}
