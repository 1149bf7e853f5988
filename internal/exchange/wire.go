package exchange

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// wireMarket mirrors the exchange's JSON market shape: prices as cents
// integers, not decimals. toMarket() converts to the package's
// decimal-normalized Market.
type wireMarket struct {
	Ticker                 string `json:"ticker"`
	EventTicker            string `json:"event_ticker"`
	Title                  string `json:"title"`
	Subtitle               string `json:"subtitle"`
	YesSubTitle            string `json:"yes_sub_title"`
	NoSubTitle             string `json:"no_sub_title"`
	Status                 string `json:"status"`
	ExpectedExpirationTime string `json:"expected_expiration_time"`
	CloseTime              string `json:"close_time"`
	Volume                 int64  `json:"volume"`
	YesBidCents            int    `json:"yes_bid"`
	YesAskCents            int    `json:"yes_ask"`
	NoBidCents             int    `json:"no_bid"`
	NoAskCents             int    `json:"no_ask"`
}

func (w wireMarket) toMarket() Market {
	return Market{
		Ticker:      w.Ticker,
		EventTicker: w.EventTicker,
		Title:       w.Title,
		Subtitle:    w.Subtitle,
		YesSubTitle: w.YesSubTitle,
		NoSubTitle:  w.NoSubTitle,
		Status:      w.Status,
		ExpiresAt:   parseExpiry(w.ExpectedExpirationTime, w.CloseTime),
		Volume24h:   w.Volume,
		YesBid:      centsToDecimal(w.YesBidCents),
		YesAsk:      centsToDecimal(w.YesAskCents),
		NoBid:       centsToDecimal(w.NoBidCents),
		NoAsk:       centsToDecimal(w.NoAskCents),
	}
}

// centsToDecimal converts an integer-cents price to a [0,1] decimal, the
// normalization the rest of the system (confidence scorer, Kelly sizer,
// decision engine) expects every price in.
func centsToDecimal(cents int) decimal.Decimal {
	return decimal.New(int64(cents), -2)
}

// decimalToCents is the inverse, used when building order requests.
func decimalToCents(d decimal.Decimal) int {
	f, _ := d.Float64()
	return int(math.Round(f * 100))
}

func parseExpiry(fields ...string) time.Time {
	for _, field := range fields {
		if field == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, field); err == nil {
			return t
		}
		if t, err := time.Parse("2006-01-02T15:04:05", field); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

type wireGetMarketsResponse struct {
	Markets []wireMarket `json:"markets"`
	Cursor  string       `json:"cursor"`
}

type wireOrderRequest struct {
	Ticker        string `json:"ticker"`
	Action        string `json:"action"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Count         int64  `json:"count"`
	PriceCents    int    `json:"price,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
	TimeInForce   string `json:"time_in_force,omitempty"`
}

type wireOrder struct {
	OrderID        string `json:"order_id"`
	Ticker         string `json:"ticker"`
	Status         string `json:"status"`
	Side           string `json:"side"`
	Action         string `json:"action"`
	FillCount      int64  `json:"fill_count"`
	RemainingCount int64  `json:"remaining_count"`
	AvgFillCents   int    `json:"avg_fill_price"`
}

func (w wireOrder) toOrder() Order {
	return Order{
		OrderID:        w.OrderID,
		Ticker:         w.Ticker,
		Status:         OrderStatus(w.Status),
		Side:           OrderSide(w.Side),
		Action:         OrderAction(w.Action),
		FillCount:      w.FillCount,
		RemainingCount: w.RemainingCount,
		AvgFillPrice:   centsToDecimal(w.AvgFillCents),
	}
}

type wireCreateOrderResponse struct {
	Order wireOrder `json:"order"`
}

type wireGetOrderResponse struct {
	Order wireOrder `json:"order"`
}

type wireBalanceResponse struct {
	BalanceCents int `json:"balance"`
}
