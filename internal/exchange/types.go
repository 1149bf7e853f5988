// Package exchange talks to the prediction-market venue: markets, orders,
// fills, and balance. A Client is exchange-agnostic at the interface level;
// httpClient is the one concrete implementation, shaped after Kalshi's
// trade API but not tied to its wire format beyond the JSON decode in
// wire.go.
package exchange

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market is a single tradable contract, prices normalized from the
// exchange's integer-cents wire format to a decimal in [0, 1].
type Market struct {
	Ticker       string
	EventTicker  string
	Title        string
	Subtitle     string
	YesSubTitle  string
	NoSubTitle   string
	Status       string
	ExpiresAt    time.Time
	Volume24h    int64
	YesBid       decimal.Decimal
	YesAsk       decimal.Decimal
	NoBid        decimal.Decimal
	NoAsk        decimal.Decimal
}

// OrderSide is which outcome a contract order buys or sells.
type OrderSide string

const (
	SideYes OrderSide = "yes"
	SideNo  OrderSide = "no"
)

// OrderAction is buy vs. sell.
type OrderAction string

const (
	ActionBuy  OrderAction = "buy"
	ActionSell OrderAction = "sell"
)

// OrderType controls fill semantics.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// PlaceOrderRequest places a single order for a fixed contract count at a
// limit price (or market, when Price is zero and Type is OrderTypeMarket).
type PlaceOrderRequest struct {
	Ticker         string
	Action         OrderAction
	Side           OrderSide
	Type           OrderType
	Count          int64
	Price          decimal.Decimal // [0,1], ignored for market orders
	ClientOrderID  string
	TimeInForce    string
}

// OrderStatus mirrors the exchange's order lifecycle states.
type OrderStatus string

const (
	OrderStatusResting   OrderStatus = "resting"
	OrderStatusExecuted  OrderStatus = "executed"
	OrderStatusCanceled  OrderStatus = "canceled"
	OrderStatusPending   OrderStatus = "pending"
)

// Order is the exchange's view of a placed order, refreshed by GetOrder.
type Order struct {
	OrderID        string
	Ticker         string
	Status         OrderStatus
	Side           OrderSide
	Action         OrderAction
	FillCount      int64
	RemainingCount int64
	AvgFillPrice   decimal.Decimal
}

// Balance is the account's available trading balance.
type Balance struct {
	AvailableUSDC decimal.Decimal
}
