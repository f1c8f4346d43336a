package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func btcInstrument() *Instrument {
	return &Instrument{
		Symbol:      "BTC-USDT",
		BaseAsset:   "BTC",
		QuoteAsset:  "USDT",
		TickSize:    d("0.1"),
		LotSize:     d("0.001"),
		MinQuantity: d("0.001"),
		MinNotional: d("10"),
		MaxLeverage: decimal.NewFromInt(100),
		MaintenanceTiers: []MarginTier{
			{NotionalCap: d("50000"), Rate: d("0.005")},
			{NotionalCap: decimal.Zero, Rate: d("0.025")},
		},
		Modes:  []TradeMode{ModeSpot, ModeFutures},
		Active: true,
	}
}

func TestInstrument_ValidatePrice(t *testing.T) {
	inst := btcInstrument()

	if err := inst.ValidatePrice(d("42000.1")); err != nil {
		t.Errorf("aligned price rejected: %v", err)
	}
	if err := inst.ValidatePrice(d("42000.15")); err == nil {
		t.Error("off-tick price accepted")
	}
	if err := inst.ValidatePrice(decimal.Zero); err == nil {
		t.Error("zero price accepted")
	}
	if err := inst.ValidatePrice(d("-5")); err == nil {
		t.Error("negative price accepted")
	}

	var verr *ValidationError
	if err := inst.ValidatePrice(d("42000.15")); !errors.As(err, &verr) {
		t.Errorf("expected a ValidationError, got %T", err)
	}
}

func TestInstrument_ValidateQuantity(t *testing.T) {
	inst := btcInstrument()

	if err := inst.ValidateQuantity(d("0.005")); err != nil {
		t.Errorf("aligned quantity rejected: %v", err)
	}
	if err := inst.ValidateQuantity(d("0.0005")); err == nil {
		t.Error("below-minimum quantity accepted")
	}
	if err := inst.ValidateQuantity(d("0.0015")); err == nil {
		t.Error("off-lot quantity accepted")
	}
	if err := inst.ValidateQuantity(decimal.Zero); err == nil {
		t.Error("zero quantity accepted")
	}
}

func TestInstrument_ValidateNotional(t *testing.T) {
	inst := btcInstrument()

	if err := inst.ValidateNotional(d("10")); err != nil {
		t.Errorf("notional at minimum rejected: %v", err)
	}
	if err := inst.ValidateNotional(d("9.99")); !errors.Is(err, ErrBelowMinNotional) {
		t.Errorf("expected ErrBelowMinNotional, got %v", err)
	}
}

func TestInstrument_SupportsMode(t *testing.T) {
	inst := btcInstrument()
	if !inst.SupportsMode(ModeSpot) || !inst.SupportsMode(ModeFutures) {
		t.Error("listed modes not supported")
	}
	if inst.SupportsMode(ModeMargin) {
		t.Error("unlisted mode supported")
	}
}

func TestInstrument_MaintenanceRate_EmptyTable(t *testing.T) {
	inst := btcInstrument()
	inst.MaintenanceTiers = nil
	if got := inst.MaintenanceRate(d("1000")); !got.IsZero() {
		t.Errorf("rate = %s, want 0", got)
	}
}

func TestInstrumentRegistry(t *testing.T) {
	r := NewInstrumentRegistry()
	inst := btcInstrument()
	r.Register(inst)

	got, err := r.Get("BTC-USDT")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != inst {
		t.Error("expected the registered pointer")
	}
	if _, err := r.Get("DOGE-USDT"); !errors.Is(err, ErrInstrumentNotFound) {
		t.Errorf("expected ErrInstrumentNotFound, got %v", err)
	}
	if got := r.List(); len(got) != 1 {
		t.Errorf("list = %d instruments, want 1", len(got))
	}
}

func TestInstrumentRegistry_SetActive(t *testing.T) {
	r := NewInstrumentRegistry()
	r.Register(btcInstrument())

	if err := r.SetActive("BTC-USDT", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	inst, _ := r.Get("BTC-USDT")
	if inst.Active {
		t.Error("instrument still active")
	}
	if err := r.SetActive("DOGE-USDT", false); !errors.Is(err, ErrInstrumentNotFound) {
		t.Errorf("expected ErrInstrumentNotFound, got %v", err)
	}
}

func TestParsePrice(t *testing.T) {
	if _, err := ParsePrice("42000.5"); err != nil {
		t.Errorf("valid price rejected: %v", err)
	}
	for _, bad := range []string{"", "abc", "0", "-1"} {
		if _, err := ParsePrice(bad); err == nil {
			t.Errorf("ParsePrice(%q) accepted", bad)
		}
	}
}

func TestParseQuantity(t *testing.T) {
	if _, err := ParseQuantity("0.001"); err != nil {
		t.Errorf("valid quantity rejected: %v", err)
	}
	for _, bad := range []string{"", "x", "0", "-2"} {
		if _, err := ParseQuantity(bad); err == nil {
			t.Errorf("ParseQuantity(%q) accepted", bad)
		}
	}
}

func TestIsMultipleOf(t *testing.T) {
	if !IsMultipleOf(d("0.3"), d("0.1")) {
		t.Error("0.3 not a multiple of 0.1")
	}
	if IsMultipleOf(d("0.35"), d("0.1")) {
		t.Error("0.35 reported a multiple of 0.1")
	}
	if !IsMultipleOf(d("7"), decimal.Zero) {
		t.Error("zero step must accept any value")
	}
}
