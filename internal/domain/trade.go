package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Liquidity marks which side of a fill provided the resting quantity.
type Liquidity string

const (
	LiquidityMaker Liquidity = "maker"
	LiquidityTaker Liquidity = "taker"
)

// Fill represents one executed match from the perspective of a single
// order. Immutable once created; produced exclusively by the matching
// engine. Both sides of a trade share the same TradeID.
type Fill struct {
	FillID     string
	TradeID    string
	OrderID    string
	Symbol     string
	Side       OrderSide
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Fee        decimal.Decimal
	Liquidity  Liquidity
	ExecutedAt time.Time
}

// Notional returns the quote value of the fill.
func (f *Fill) Notional() decimal.Decimal {
	return f.Price.Mul(f.Quantity)
}
