package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType identifies the lifecycle event being published.
type EventType string

const (
	EventFillExecuted       EventType = "fill.executed"
	EventOrderFilled        EventType = "order.filled"
	EventOrderCancelled     EventType = "order.cancelled"
	EventOrderRejected      EventType = "order.rejected"
	EventOrderExpired       EventType = "order.expired"
	EventPositionLiquidated EventType = "position.liquidated"
)

// OrderSummary is the snapshot of an order carried on lifecycle events.
type OrderSummary struct {
	OrderID        string          `json:"order_id"`
	AccountID      string          `json:"account_id"`
	Symbol         string          `json:"symbol"`
	Side           OrderSide       `json:"side"`
	Type           OrderType       `json:"type"`
	Status         OrderStatus     `json:"status"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	AveragePrice   decimal.Decimal `json:"average_price"`
}

// FillSummary is the fill payload carried on fill events.
type FillSummary struct {
	FillID    string          `json:"fill_id"`
	TradeID   string          `json:"trade_id"`
	OrderID   string          `json:"order_id"`
	Side      OrderSide       `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Fee       decimal.Decimal `json:"fee"`
	Liquidity Liquidity       `json:"liquidity"`
}

// LiquidationSummary describes a forced position closure.
type LiquidationSummary struct {
	AccountID        string          `json:"account_id"`
	Mode             TradeMode       `json:"mode"`
	Side             PositionSide    `json:"side"`
	Size             decimal.Decimal `json:"size"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	MarkPrice        decimal.Decimal `json:"mark_price"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl"`
}

// Event is one entry of the fire-and-forget fill/lifecycle stream. Every
// fill and every terminal order status change is published exactly once,
// in instrument-sequence order. Delivery is never retried and never
// blocks on subscriber acknowledgment.
type Event struct {
	Type        EventType           `json:"type"`
	Symbol      string              `json:"symbol"`
	Sequence    uint64              `json:"sequence"`
	Timestamp   time.Time           `json:"timestamp"`
	Fill        *FillSummary        `json:"fill,omitempty"`
	Order       *OrderSummary       `json:"order,omitempty"`
	Liquidation *LiquidationSummary `json:"liquidation,omitempty"`
}

// SummarizeOrder builds the event snapshot of an order.
func SummarizeOrder(o *Order) *OrderSummary {
	avg, _ := o.AveragePrice()
	return &OrderSummary{
		OrderID:        o.OrderID,
		AccountID:      o.AccountID,
		Symbol:         o.Symbol,
		Side:           o.Side,
		Type:           o.Type,
		Status:         o.Status,
		FilledQuantity: o.FilledQuantity,
		AveragePrice:   avg,
	}
}

// SummarizeFill builds the event snapshot of a fill.
func SummarizeFill(f *Fill) *FillSummary {
	return &FillSummary{
		FillID:    f.FillID,
		TradeID:   f.TradeID,
		OrderID:   f.OrderID,
		Side:      f.Side,
		Quantity:  f.Quantity,
		Price:     f.Price,
		Fee:       f.Fee,
		Liquidity: f.Liquidity,
	}
}
