// Package risk computes margin requirements and maintains positions for
// leveraged trading. All calculations are decimal-exact and recomputed
// atomically with the fill that triggered them.
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/quantex/exchange/internal/domain"
)

var one = decimal.NewFromInt(1)

// Calculator derives initial margin, maintenance margin, and liquidation
// prices from instrument parameters.
type Calculator struct {
	registry *domain.InstrumentRegistry
}

// NewCalculator creates a Calculator over the given registry.
func NewCalculator(registry *domain.InstrumentRegistry) *Calculator {
	return &Calculator{registry: registry}
}

// EffectiveLeverage normalizes the leverage divisor: spot orders and
// unset leverage trade at 1x.
func EffectiveLeverage(leverage decimal.Decimal) decimal.Decimal {
	if leverage.LessThan(one) {
		return one
	}
	return leverage
}

// RequiredMargin returns (quantity × price) / leverage, the initial
// margin to reserve for an order. For spot this is the full notional.
func (c *Calculator) RequiredMargin(qty, price, leverage decimal.Decimal) decimal.Decimal {
	return qty.Mul(price).Div(EffectiveLeverage(leverage))
}

// MaintenanceMargin returns notional × the instrument's tiered
// maintenance rate for that notional.
func (c *Calculator) MaintenanceMargin(inst *domain.Instrument, notional decimal.Decimal) decimal.Decimal {
	return notional.Mul(inst.MaintenanceRate(notional))
}

// ValidateLeverage rejects leverage above the instrument's cap, and any
// leverage at all on instruments that disallow it.
func (c *Calculator) ValidateLeverage(inst *domain.Instrument, leverage decimal.Decimal) error {
	if leverage.LessThanOrEqual(one) {
		return nil
	}
	if inst.MaxLeverage.IsZero() || leverage.GreaterThan(inst.MaxLeverage) {
		return domain.ErrLeverageExceedsCap
	}
	return nil
}

// LiquidationPrice computes the mark price at which a position's equity
// equals its maintenance margin:
//
//	long:  entry × (1 − 1/leverage + rate)
//	short: entry × (1 + 1/leverage − rate)
//
// Returns zero (no liquidation level) for leverage ≤ 1.
func (c *Calculator) LiquidationPrice(side domain.PositionSide, entry, leverage, maintenanceRate decimal.Decimal) decimal.Decimal {
	if leverage.LessThanOrEqual(one) {
		return decimal.Zero
	}
	inv := one.Div(leverage)
	if side == domain.PositionLong {
		return entry.Mul(one.Sub(inv).Add(maintenanceRate))
	}
	return entry.Mul(one.Add(inv).Sub(maintenanceRate))
}

// Refresh recomputes the derived margin fields of a position after a
// fill changed its size, leverage, or entry price. Must be called while
// the position manager's lock is held so the fields are never observed
// mid-update.
func (c *Calculator) Refresh(inst *domain.Instrument, p *domain.Position) {
	notional := p.Notional(p.EntryPrice)
	rate := inst.MaintenanceRate(notional)
	p.MaintenanceMargin = notional.Mul(rate)
	p.LiquidationPrice = c.LiquidationPrice(p.Side, p.EntryPrice, EffectiveLeverage(p.Leverage), rate)
}
