package instrument

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestParseOptionTicker_Valid(t *testing.T) {
	o, err := ParseOptionTicker("OPT-AAPL-C-150-20251219")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Underlying != "AAPL" {
		t.Errorf("expected underlying=AAPL, got %s", o.Underlying)
	}
	if o.Type != model.Call {
		t.Errorf("expected call, got %s", o.Type)
	}
	if !o.Strike.Equal(d(150)) {
		t.Errorf("expected strike=150, got %s", o.Strike)
	}
	expected := time.Date(2025, 12, 19, 0, 0, 0, 0, time.UTC)
	if !o.Expiry.Equal(expected) {
		t.Errorf("expected expiry=%v, got %v", expected, o.Expiry)
	}
}

func TestParseOptionTicker_PutWithFractionalStrike(t *testing.T) {
	o, err := ParseOptionTicker("OPT-BRK.B-P-412.5-20260116")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Type != model.Put || !o.Strike.Equal(d(412.5)) || o.Underlying != "BRK.B" {
		t.Errorf("unexpected parse: %+v", o)
	}
}

func TestParseOptionTicker_InvalidFormat(t *testing.T) {
	tests := []string{
		"",
		"AAPL",
		"OPT-AAPL",
		"OPT-AAPL-C",
		"OPT-AAPL-C-150",
		"OPT-AAPL-X-150-20251219",
		"OPT-AAPL-C-150-notadate",
		"OPT-AAPL-C-0-20251219",
		"OPT-AAPL-C-150-20251340",
		"FUT-AAPL-C-150-20251219",
	}
	for _, ticker := range tests {
		if _, err := ParseOptionTicker(ticker); !errors.Is(err, ErrInvalidTicker) {
			t.Errorf("expected ErrInvalidTicker for %q, got %v", ticker, err)
		}
	}
}

func TestValidCurrency(t *testing.T) {
	for _, c := range []string{"USD", "EUR", "JPY"} {
		if !ValidCurrency(c) {
			t.Errorf("%s should be valid", c)
		}
	}
	for _, c := range []string{"", "usd", "US", "USDX", "XXQ"} {
		if ValidCurrency(c) {
			t.Errorf("%q should be invalid", c)
		}
	}
	if err := CheckCurrency("XXQ"); !errors.Is(err, ErrUnknownCurrency) {
		t.Errorf("expected ErrUnknownCurrency, got %v", err)
	}
}

func TestResolve_FillsMissingFieldsOnly(t *testing.T) {
	in := model.Option{Strike: d(160), ImpliedVol: 0.25}
	out, err := Resolve("OPT-AAPL-P-150-20251219", in)
	if err != nil {
		t.Fatal(err)
	}
	if out.Underlying != "AAPL" || out.Type != model.Put {
		t.Errorf("ticker fields not applied: %+v", out)
	}
	if !out.Strike.Equal(d(160)) {
		t.Errorf("explicit strike overwritten: %s", out.Strike)
	}
	if out.ImpliedVol != 0.25 {
		t.Errorf("implied vol lost")
	}

	plain, err := Resolve("AAPL-OTC-1", in)
	if err != nil || plain.Underlying != "" {
		t.Errorf("non-ticker id should pass through unchanged, got %+v, %v", plain, err)
	}
}

func TestCheckVariant(t *testing.T) {
	if err := CheckVariant(model.AssetEquity, model.Equity{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := CheckVariant(model.AssetEquity, model.Option{}); !errors.Is(err, ErrClassMismatch) {
		t.Errorf("expected ErrClassMismatch, got %v", err)
	}
	if err := CheckVariant(model.AssetFX, nil); err != nil {
		t.Errorf("nil variant should be accepted, got %v", err)
	}
}
