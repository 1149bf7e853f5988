package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mercer-quant/sporttrader/internal/exchange"
)

type fakeClient struct {
	markets map[string][]exchange.Market
}

func (f *fakeClient) GetBalance(ctx context.Context) (exchange.Balance, error) { return exchange.Balance{}, nil }
func (f *fakeClient) GetMarkets(ctx context.Context, seriesTicker string) ([]exchange.Market, error) {
	return f.markets[seriesTicker], nil
}
func (f *fakeClient) GetMarket(ctx context.Context, ticker string) (exchange.Market, error) {
	return exchange.Market{}, nil
}
func (f *fakeClient) PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (exchange.Order, error) {
	return exchange.Order{}, nil
}
func (f *fakeClient) CancelOrder(ctx context.Context, orderID string) error { return nil }
func (f *fakeClient) GetOrder(ctx context.Context, orderID string) (exchange.Order, error) {
	return exchange.Order{}, nil
}
func (f *fakeClient) WaitForFill(ctx context.Context, orderID string, timeout time.Duration) (exchange.Order, error) {
	return exchange.Order{}, nil
}
func (f *fakeClient) CheckSlippage(ctx context.Context, ticker string, intendedPrice decimal.Decimal, side exchange.OrderSide) (bool, decimal.Decimal, error) {
	return true, intendedPrice, nil
}

func TestDiscover_ExtractsTeamsAndFiltersParlays(t *testing.T) {
	client := &fakeClient{
		markets: map[string][]exchange.Market{
			"KXNBAGAME": {
				{Ticker: "KXNBAGAME-26JAN15-BOS", Title: "Boston Celtics at Miami Heat Winner?", ExpiresAt: time.Now().Add(2 * time.Hour), Volume24h: 500},
				{Ticker: "KXNBAGAME-PARLAY", Title: "Boston Celtics at Miami Heat at New York Knicks Winner?", ExpiresAt: time.Now().Add(2 * time.Hour)},
				{Ticker: "KXNBAGAME-TOOFAR", Title: "Lakers at Warriors Winner?", ExpiresAt: time.Now().Add(96 * time.Hour)},
			},
		},
	}

	series := SeriesTable{"basketball": {"KXNBAGAME"}}
	got, err := Discover(context.Background(), client, series)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 market after parlay/window filtering, got %d", len(got))
	}
	if got[0].HomeTeam != "Boston Celtics" || got[0].AwayTeam != "Miami Heat" {
		t.Fatalf("unexpected teams extracted: %+v", got[0])
	}
}

func TestExtractTeams_PrefersStructuredFields(t *testing.T) {
	m := exchange.Market{YesSubTitle: "Celtics to Win", NoSubTitle: "Heat Winner", Title: "irrelevant"}
	home, away, ok := extractTeams(m)
	if !ok || home != "Celtics" || away != "Heat" {
		t.Fatalf("expected structured field extraction, got home=%q away=%q ok=%v", home, away, ok)
	}
}
