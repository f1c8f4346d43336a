package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/quantex/exchange/internal/domain"
)

// Activator converts a triggered stop order into its live form and
// submits it to the matching engine.
type Activator interface {
	Activate(ctx context.Context, order *domain.Order) error
}

// TriggerWatcher holds stop and stop-limit orders outside the visible
// book and releases them when the last-traded price crosses the
// trigger. Buy stops arm above the market and fire when the price rises
// to the trigger; sell stops arm below and fire when it falls to it.
// Watched orders keep arrival order, so stops released by the same
// print activate in the order they were submitted.
type TriggerWatcher struct {
	mu       sync.Mutex
	bySymbol map[string][]*domain.Order

	activator Activator
	logger    *slog.Logger
}

// NewTriggerWatcher creates an empty watch set.
func NewTriggerWatcher(activator Activator, logger *slog.Logger) *TriggerWatcher {
	return &TriggerWatcher{
		bySymbol:  make(map[string][]*domain.Order),
		activator: activator,
		logger:    logger,
	}
}

// Watch adds a stop or stop-limit order to the watch set. The order
// stays in waiting_trigger until the price crosses its trigger or it is
// cancelled.
func (w *TriggerWatcher) Watch(order *domain.Order) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bySymbol[order.Symbol] = append(w.bySymbol[order.Symbol], order)
}

// Unwatch removes an order from the watch set, reporting whether it was
// present. Used by cancellation before the order ever reaches a book.
func (w *TriggerWatcher) Unwatch(symbol, orderID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	watched := w.bySymbol[symbol]
	for i, order := range watched {
		if order.OrderID == orderID {
			w.bySymbol[symbol] = append(watched[:i], watched[i+1:]...)
			return true
		}
	}
	return false
}

// Watching reports whether the order is currently in the watch set.
func (w *TriggerWatcher) Watching(symbol, orderID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, order := range w.bySymbol[symbol] {
		if order.OrderID == orderID {
			return true
		}
	}
	return false
}

// Count returns the number of watched orders for the symbol.
func (w *TriggerWatcher) Count(symbol string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.bySymbol[symbol])
}

// OnPrice is the feed listener: it collects every watched order whose
// trigger the new last price crosses and activates them in arrival
// order. Activation runs outside the watcher lock because it re-enters
// the matching domain and takes the book lock.
func (w *TriggerWatcher) OnPrice(ctx context.Context, symbol string, last decimal.Decimal) {
	w.mu.Lock()
	var fired, kept []*domain.Order
	for _, order := range w.bySymbol[symbol] {
		if triggered(order, last) {
			fired = append(fired, order)
		} else {
			kept = append(kept, order)
		}
	}
	w.bySymbol[symbol] = kept
	w.mu.Unlock()

	for _, order := range fired {
		if err := w.activator.Activate(ctx, order); err != nil {
			if w.logger != nil {
				w.logger.Error("stop activation failed",
					slog.String("order_id", order.OrderID),
					slog.String("symbol", symbol),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func triggered(order *domain.Order, last decimal.Decimal) bool {
	if order.Side == domain.OrderSideBuy {
		return last.GreaterThanOrEqual(order.TriggerPrice)
	}
	return last.LessThanOrEqual(order.TriggerPrice)
}
