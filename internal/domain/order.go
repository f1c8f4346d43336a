package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType distinguishes the supported order variants.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
	OrderTypeIceberg   OrderType = "iceberg"
	OrderTypeTWAP      OrderType = "twap"
)

// ValidOrderTypes lists all order type values for validation.
var ValidOrderTypes = map[OrderType]bool{
	OrderTypeMarket:    true,
	OrderTypeLimit:     true,
	OrderTypeStop:      true,
	OrderTypeStopLimit: true,
	OrderTypeIceberg:   true,
	OrderTypeTWAP:      true,
}

// HasLimitPrice reports whether the order type carries a limit price.
func (t OrderType) HasLimitPrice() bool {
	switch t {
	case OrderTypeLimit, OrderTypeStopLimit, OrderTypeIceberg, OrderTypeTWAP:
		return true
	}
	return false
}

// HasTrigger reports whether the order type is held until a price trigger.
func (t OrderType) HasTrigger() bool {
	return t == OrderTypeStop || t == OrderTypeStopLimit
}

// OrderSide indicates whether an order buys or sells the base asset.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// TimeInForce controls how an unmatched remainder is handled.
type TimeInForce string

const (
	TIFGoodTillCancel    TimeInForce = "gtc"
	TIFImmediateOrCancel TimeInForce = "ioc"
	TIFFillOrKill        TimeInForce = "fok"
)

// ValidTimeInForce lists all time-in-force values for validation.
var ValidTimeInForce = map[TimeInForce]bool{
	TIFGoodTillCancel:    true,
	TIFImmediateOrCancel: true,
	TIFFillOrKill:        true,
}

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	// OrderStatusWaitingTrigger holds stop orders before their trigger
	// price is crossed. Parallel to the main pending→terminal flow.
	OrderStatusWaitingTrigger  OrderStatus = "waiting_trigger"
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
)

// ValidOrderStatuses lists all order status values for validation.
var ValidOrderStatuses = map[OrderStatus]bool{
	OrderStatusWaitingTrigger:  true,
	OrderStatusPending:         true,
	OrderStatusOpen:            true,
	OrderStatusPartiallyFilled: true,
	OrderStatusFilled:          true,
	OrderStatusCancelled:       true,
	OrderStatusRejected:        true,
	OrderStatusExpired:         true,
}

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// Order represents one instruction submitted by an account.
//
// Invariant: FilledQuantity + RemainingQuantity + CancelledQuantity ==
// Quantity at all times; RemainingQuantity reaches zero exactly when the
// order enters a terminal state. Only the matching engine mutates an
// order while it is being processed (single-writer discipline).
type Order struct {
	OrderID   string
	AccountID string
	Symbol    string
	Mode      TradeMode
	Side      OrderSide
	Type      OrderType
	TIF       TimeInForce

	// Price is the limit price; zero for market and stop-market orders.
	Price decimal.Decimal
	// TriggerPrice arms stop and stop-limit orders. A buy triggers when
	// the last price rises to or above it, a sell when it falls to or
	// below it.
	TriggerPrice decimal.Decimal
	// DisplayQuantity is the iceberg visible slice; zero for other types.
	DisplayQuantity decimal.Decimal
	// VisibleRemaining is the unmatched quantity of the current iceberg
	// slice resting on the book. Maintained by the matching engine.
	VisibleRemaining decimal.Decimal
	// ReservePrice is the price the ledger reservation was computed at:
	// the limit price for priced orders, the mark price at submission
	// for market and stop-market orders.
	ReservePrice decimal.Decimal

	Quantity          decimal.Decimal
	FilledQuantity    decimal.Decimal
	RemainingQuantity decimal.Decimal
	CancelledQuantity decimal.Decimal

	// Leverage is ≥1 for margin/futures orders and zero for spot.
	Leverage decimal.Decimal
	// ReservedMargin is the unconsumed remainder of the ledger
	// reservation taken at submission. Decremented per fill, released
	// exactly once on cancel/expiry/rejection.
	ReservedMargin decimal.Decimal

	// TWAP parameters: total child slices and the interval between them.
	TwapSlices   int
	TwapInterval time.Duration

	// SelfMatchSkipped accumulates resting quantity owned by the same
	// account that matching skipped instead of trading against.
	SelfMatchSkipped decimal.Decimal

	Status OrderStatus
	// Seq is the arrival sequence number granting time priority on the
	// book. Monotonic per instrument, assigned at acceptance, reassigned
	// on iceberg slice refresh (a documented loss of time priority).
	Seq uint64

	Fills []*Fill

	ExpiresAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CancelledAt *time.Time
	ExpiredAt   *time.Time
}

// AveragePrice computes the volume-weighted average execution price as
// sum(fill.price × fill.quantity) / filled_quantity. Returns (zero, false)
// when no fills have been executed.
func (o *Order) AveragePrice() (decimal.Decimal, bool) {
	if len(o.Fills) == 0 || o.FilledQuantity.IsZero() {
		return decimal.Zero, false
	}
	total := decimal.Zero
	for _, f := range o.Fills {
		total = total.Add(f.Price.Mul(f.Quantity))
	}
	return total.Div(o.FilledQuantity), true
}

// Transition moves the order to a new status. Any transition attempted
// from a terminal state is a no-op failing with ErrOrderAlreadyFinal.
func (o *Order) Transition(to OrderStatus, at time.Time) error {
	if o.Status.IsTerminal() {
		return ErrOrderAlreadyFinal
	}
	o.Status = to
	o.UpdatedAt = at
	return nil
}

// QuantitiesConsistent reports whether the quantity conservation
// invariant holds. A false return is a fatal matching-domain fault.
func (o *Order) QuantitiesConsistent() bool {
	if o.RemainingQuantity.IsNegative() || o.FilledQuantity.IsNegative() || o.CancelledQuantity.IsNegative() {
		return false
	}
	sum := o.FilledQuantity.Add(o.RemainingQuantity).Add(o.CancelledQuantity)
	return sum.Equal(o.Quantity)
}
