package orchestrator

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mercer-quant/sporttrader/internal/exchange"
)

// fakeExchange is a hand-written exchange.Client stand-in. Every call is
// recorded so tests can assert on what the execution path actually sent,
// and each response is configurable per test.
type fakeExchange struct {
	market exchange.Market

	placeOrderErr  error
	fillStatus     exchange.OrderStatus
	fillCount      int64
	fillPrice      decimal.Decimal
	waitForFillErr error

	slippageOK     bool
	slippageBest   decimal.Decimal
	slippageErr    error

	placedOrders   []exchange.PlaceOrderRequest
	canceledOrders []string
	orderSeq       int
}

func (f *fakeExchange) GetBalance(ctx context.Context) (exchange.Balance, error) {
	return exchange.Balance{AvailableUSDC: decimal.NewFromInt(10000)}, nil
}

func (f *fakeExchange) GetMarkets(ctx context.Context, seriesTicker string) ([]exchange.Market, error) {
	return []exchange.Market{f.market}, nil
}

func (f *fakeExchange) GetMarket(ctx context.Context, ticker string) (exchange.Market, error) {
	return f.market, nil
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (exchange.Order, error) {
	f.placedOrders = append(f.placedOrders, req)
	if f.placeOrderErr != nil {
		return exchange.Order{}, f.placeOrderErr
	}
	f.orderSeq++
	return exchange.Order{
		OrderID:        "order-" + time.Now().Format("150405.000000") + "-" + itoa(f.orderSeq),
		Ticker:         req.Ticker,
		Status:         exchange.OrderStatusPending,
		Side:           req.Side,
		Action:         req.Action,
		RemainingCount: req.Count,
	}, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, orderID string) error {
	f.canceledOrders = append(f.canceledOrders, orderID)
	return nil
}

func (f *fakeExchange) GetOrder(ctx context.Context, orderID string) (exchange.Order, error) {
	return f.filledOrder(orderID), nil
}

func (f *fakeExchange) WaitForFill(ctx context.Context, orderID string, timeout time.Duration) (exchange.Order, error) {
	if f.waitForFillErr != nil {
		return exchange.Order{}, f.waitForFillErr
	}
	return f.filledOrder(orderID), nil
}

func (f *fakeExchange) filledOrder(orderID string) exchange.Order {
	status := f.fillStatus
	if status == "" {
		status = exchange.OrderStatusExecuted
	}
	count := f.fillCount
	if count == 0 {
		count = 1
	}
	price := f.fillPrice
	if price.IsZero() {
		price = decimal.NewFromFloat(0.5)
	}
	return exchange.Order{
		OrderID:      orderID,
		Status:       status,
		FillCount:    count,
		AvgFillPrice: price,
	}
}

func (f *fakeExchange) CheckSlippage(ctx context.Context, ticker string, intendedPrice decimal.Decimal, side exchange.OrderSide) (bool, decimal.Decimal, error) {
	if f.slippageErr != nil {
		return false, decimal.Zero, f.slippageErr
	}
	best := f.slippageBest
	if best.IsZero() {
		best = intendedPrice
	}
	ok := f.slippageOK
	return ok, best, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
