package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestPosition_JSONKeepsInstrumentVariant(t *testing.T) {
	in := Position{
		InstrumentID: "OPT-SPY-P-400-20251219",
		AssetClass:   AssetDerivative,
		PortfolioID:  "P1",
		Quantity:     d(5),
		Direction:    Short,
		Instrument: Option{
			Underlying: "SPY",
			Type:       Put,
			Strike:     d(400),
			Expiry:     time.Date(2025, 12, 19, 0, 0, 0, 0, time.UTC),
			ImpliedVol: 0.22,
		},
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out Position
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	opt, ok := out.Instrument.(Option)
	if !ok {
		t.Fatalf("instrument decoded as %T", out.Instrument)
	}
	if opt.Type != Put || !opt.Strike.Equal(d(400)) || opt.ImpliedVol != 0.22 {
		t.Errorf("option fields lost: %+v", opt)
	}
	if out.Direction != Short || !out.SignedQuantity().Equal(d(-5)) {
		t.Errorf("direction/quantity lost: %s %s", out.Direction, out.SignedQuantity())
	}
}

func TestPosition_JSONWithoutInstrumentUsesDefault(t *testing.T) {
	var p Position
	if err := json.Unmarshal([]byte(`{"asset_class":"equity","instrument_id":"AAPL"}`), &p); err != nil {
		t.Fatal(err)
	}
	eq, ok := p.Instrument.(Equity)
	if !ok || !eq.Beta.Equal(d(1)) {
		t.Errorf("expected default equity with beta 1, got %#v", p.Instrument)
	}
}

func TestDecodeInstrument_UnknownClass(t *testing.T) {
	if _, err := DecodeInstrument("crypto", json.RawMessage(`{}`)); err == nil {
		t.Error("expected error for unknown class")
	}
}

func TestOption_PremiumSplit(t *testing.T) {
	call := Option{Type: Call, Strike: d(100)}
	got := call.WithPremium(d(8), d(105))
	if !got.IntrinsicValue.Equal(d(5)) || !got.TimeValue.Equal(d(3)) {
		t.Errorf("call split: intrinsic=%s time=%s", got.IntrinsicValue, got.TimeValue)
	}

	put := Option{Type: Put, Strike: d(100)}
	got = put.WithPremium(d(2), d(105))
	if !got.IntrinsicValue.IsZero() || !got.TimeValue.Equal(d(2)) {
		t.Errorf("otm put split: intrinsic=%s time=%s", got.IntrinsicValue, got.TimeValue)
	}
	if !got.IntrinsicValue.Add(got.TimeValue).Equal(got.Premium) {
		t.Error("premium != intrinsic + time value")
	}
}

func TestPosition_UnderlyingKey(t *testing.T) {
	cases := []struct {
		p    Position
		want string
	}{
		{Position{InstrumentID: "AAPL", Instrument: Equity{}}, "AAPL"},
		{Position{InstrumentID: "OPT-X", Instrument: Option{Underlying: "SPX"}}, "SPX"},
		{Position{InstrumentID: "CLZ5", Instrument: Commodity{Underlying: "WTI"}}, "WTI"},
		{Position{InstrumentID: "CLZ5", Instrument: Commodity{}}, "CLZ5"},
	}
	for _, tc := range cases {
		if got := tc.p.Underlying(); got != tc.want {
			t.Errorf("Underlying(%s) = %s, want %s", tc.p.InstrumentID, got, tc.want)
		}
	}
}

func TestShockMap_LookupOrder(t *testing.T) {
	m := ShockMap{"AAPL": d(-0.3), "tech": d(-0.25), DefaultShockKey: d(-0.2)}

	if s, _ := m.Lookup("AAPL", "tech"); !s.Equal(d(-0.3)) {
		t.Errorf("instrument key should win, got %s", s)
	}
	if s, _ := m.Lookup("MSFT", "tech"); !s.Equal(d(-0.25)) {
		t.Errorf("secondary key should win over default, got %s", s)
	}
	if s, ok := m.Lookup("XOM", ""); !ok || !s.Equal(d(-0.2)) {
		t.Errorf("expected default, got %s %v", s, ok)
	}
	if _, ok := (ShockMap{}).Lookup("XOM"); ok {
		t.Error("empty map should report no shock")
	}
}

func TestAssetClassAndFactorValidity(t *testing.T) {
	for _, c := range AssetClasses {
		if !c.Valid() {
			t.Errorf("%s should be valid", c)
		}
		if _, err := DefaultInstrument(c); err != nil {
			t.Errorf("DefaultInstrument(%s): %v", c, err)
		}
	}
	if AssetClass("crypto").Valid() || RiskFactor("weather").Valid() {
		t.Error("unknown values must be invalid")
	}
	if (StressScenario{EquityShocks: ShockMap{"a": d(1)}}).Shocks(FactorEquity) == nil {
		t.Error("Shocks(equity) should return the equity map")
	}
}
