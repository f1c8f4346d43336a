package domain

import (
	"sync"

	"github.com/shopspring/decimal"
)

// TradeMode identifies the trading mode an order or position belongs to.
type TradeMode string

const (
	ModeSpot    TradeMode = "spot"
	ModeMargin  TradeMode = "margin"
	ModeFutures TradeMode = "futures"
)

// ValidTradeModes lists all trade mode values for validation.
var ValidTradeModes = map[TradeMode]bool{
	ModeSpot:    true,
	ModeMargin:  true,
	ModeFutures: true,
}

// MarginTier is one row of an instrument's maintenance margin table.
// Positions with notional up to NotionalCap pay Rate; a zero cap marks
// the unbounded top tier.
type MarginTier struct {
	NotionalCap decimal.Decimal
	Rate        decimal.Decimal
}

// Instrument describes one tradable symbol. Immutable after creation
// except for the Active flag and MaxLeverage, both owned by the registry.
type Instrument struct {
	Symbol      string
	BaseAsset   string
	QuoteAsset  string
	TickSize    decimal.Decimal
	LotSize     decimal.Decimal
	MinQuantity decimal.Decimal
	MinNotional decimal.Decimal
	// MaxLeverage caps requested leverage; zero disallows leverage entirely.
	MaxLeverage      decimal.Decimal
	MaintenanceTiers []MarginTier
	Modes            []TradeMode
	MakerFeeRate     decimal.Decimal
	TakerFeeRate     decimal.Decimal
	Active           bool
}

// SupportsMode reports whether the instrument allows the given trade mode.
func (i *Instrument) SupportsMode(mode TradeMode) bool {
	for _, m := range i.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// ValidatePrice checks that a price is positive and aligned to the tick size.
func (i *Instrument) ValidatePrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return &ValidationError{Message: "price must be greater than 0"}
	}
	if !IsMultipleOf(price, i.TickSize) {
		return &ValidationError{Message: "price must be a multiple of tick size " + i.TickSize.String()}
	}
	return nil
}

// ValidateQuantity checks that a quantity meets the minimum and is aligned
// to the lot (step) size.
func (i *Instrument) ValidateQuantity(qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return &ValidationError{Message: "quantity must be greater than 0"}
	}
	if qty.LessThan(i.MinQuantity) {
		return &ValidationError{Message: "quantity is below the minimum of " + i.MinQuantity.String()}
	}
	if !IsMultipleOf(qty, i.LotSize) {
		return &ValidationError{Message: "quantity must be a multiple of lot size " + i.LotSize.String()}
	}
	return nil
}

// ValidateNotional checks the order's notional value against the minimum.
func (i *Instrument) ValidateNotional(notional decimal.Decimal) error {
	if notional.LessThan(i.MinNotional) {
		return ErrBelowMinNotional
	}
	return nil
}

// MaintenanceRate returns the maintenance margin rate for a position of
// the given notional size, walking the tier table in order. Falls back to
// the last tier's rate (or zero with no table) when no cap matches.
func (i *Instrument) MaintenanceRate(notional decimal.Decimal) decimal.Decimal {
	for _, tier := range i.MaintenanceTiers {
		if tier.NotionalCap.IsZero() || notional.LessThanOrEqual(tier.NotionalCap) {
			return tier.Rate
		}
	}
	if n := len(i.MaintenanceTiers); n > 0 {
		return i.MaintenanceTiers[n-1].Rate
	}
	return decimal.Zero
}

// InstrumentRegistry is the thread-safe catalog of tradable instruments.
type InstrumentRegistry struct {
	mu          sync.RWMutex
	instruments map[string]*Instrument
}

// NewInstrumentRegistry creates an empty registry.
func NewInstrumentRegistry() *InstrumentRegistry {
	return &InstrumentRegistry{
		instruments: make(map[string]*Instrument),
	}
}

// Register adds or replaces an instrument in the registry.
func (r *InstrumentRegistry) Register(i *Instrument) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instruments[i.Symbol] = i
}

// Get retrieves an instrument by symbol. Returns ErrInstrumentNotFound
// if the symbol is unknown.
func (r *InstrumentRegistry) Get(symbol string) (*Instrument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.instruments[symbol]
	if !ok {
		return nil, ErrInstrumentNotFound
	}
	return i, nil
}

// List returns all registered instruments in unspecified order.
func (r *InstrumentRegistry) List() []*Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Instrument, 0, len(r.instruments))
	for _, i := range r.instruments {
		out = append(out, i)
	}
	return out
}

// SetActive flips the only mutable trading flag on an instrument.
func (r *InstrumentRegistry) SetActive(symbol string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.instruments[symbol]
	if !ok {
		return ErrInstrumentNotFound
	}
	i.Active = active
	return nil
}

// SetMaxLeverage adjusts the leverage cap, the other mutable attribute.
func (r *InstrumentRegistry) SetMaxLeverage(symbol string, cap decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.instruments[symbol]
	if !ok {
		return ErrInstrumentNotFound
	}
	i.MaxLeverage = cap
	return nil
}
