package exchange

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestCentsToDecimalRoundTrip(t *testing.T) {
	cases := []int{0, 1, 50, 99, 100}
	for _, cents := range cases {
		d := centsToDecimal(cents)
		back := decimalToCents(d)
		if back != cents {
			t.Fatalf("round trip failed for %d cents: got %d (decimal=%s)", cents, back, d)
		}
	}
}

func TestCentsToDecimal(t *testing.T) {
	got := centsToDecimal(47)
	want := decimal.New(47, -2)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestIsRetryableStatus(t *testing.T) {
	for _, s := range []int{429, 500, 502, 503} {
		if !isRetryableStatus(s) {
			t.Fatalf("expected status %d to be retryable", s)
		}
	}
	for _, s := range []int{200, 400, 401, 404} {
		if isRetryableStatus(s) {
			t.Fatalf("expected status %d to not be retryable", s)
		}
	}
}
