package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSide indicates the direction of open exposure.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// PositionKey identifies the single position an account may hold per
// instrument and trade mode.
type PositionKey struct {
	AccountID string
	Symbol    string
	Mode      TradeMode
}

// Position is the authoritative in-process view of open exposure for one
// (account, instrument, mode). Size is always ≥ 0; a zero-size position
// is logically closed and eligible for removal.
type Position struct {
	AccountID string
	Symbol    string
	Mode      TradeMode

	Side       PositionSide
	Size       decimal.Decimal
	EntryPrice decimal.Decimal // quantity-weighted average

	RealizedPnL decimal.Decimal
	Margin      decimal.Decimal
	Leverage    decimal.Decimal

	LiquidationPrice  decimal.Decimal
	MaintenanceMargin decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Key returns the identifying key of the position.
func (p *Position) Key() PositionKey {
	return PositionKey{AccountID: p.AccountID, Symbol: p.Symbol, Mode: p.Mode}
}

// Notional returns the position's quote value at the given price.
func (p *Position) Notional(price decimal.Decimal) decimal.Decimal {
	return p.Size.Mul(price)
}

// UnrealizedPnL computes (mark − entry) × size × sign(side). Derived on
// demand, never stored authoritatively.
func (p *Position) UnrealizedPnL(markPrice decimal.Decimal) decimal.Decimal {
	if p.Size.IsZero() {
		return decimal.Zero
	}
	diff := markPrice.Sub(p.EntryPrice)
	if p.Side == PositionShort {
		diff = diff.Neg()
	}
	return diff.Mul(p.Size)
}
