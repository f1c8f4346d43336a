package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantex/exchange/internal/domain"
	"github.com/quantex/exchange/internal/ledger"
)

// ExpiryDispatcher receives expired orders for event publication
// without the engine layer depending on the service layer directly.
type ExpiryDispatcher interface {
	DispatchOrderExpired(order *domain.Order)
}

// ExpiryManager tracks resting orders that carry an explicit expiry,
// sorted by expires_at, and periodically expires orders whose
// expiration time has passed.
type ExpiryManager struct {
	interval     time.Duration
	books        *BookManager
	ledger       ledger.Ledger
	dispatcher   ExpiryDispatcher
	activeOrders []*domain.Order // sorted by expires_at ASC
	mu           sync.Mutex      // protects activeOrders slice
}

// NewExpiryManager creates a new ExpiryManager with the given dependencies.
func NewExpiryManager(
	interval time.Duration,
	books *BookManager,
	l ledger.Ledger,
	dispatcher ExpiryDispatcher,
) *ExpiryManager {
	return &ExpiryManager{
		interval:     interval,
		books:        books,
		ledger:       l,
		dispatcher:   dispatcher,
		activeOrders: make([]*domain.Order, 0),
	}
}

// SetDispatcher wires the expired-order sink. The order service is
// built after the expiry manager, so the dispatcher arrives late.
func (e *ExpiryManager) SetDispatcher(d ExpiryDispatcher) {
	e.dispatcher = d
}

// Add inserts an order into the sorted activeOrders slice, maintaining
// expires_at ASC order. Only call this for orders that rest on the book.
func (e *ExpiryManager) Add(order *domain.Order) {
	if order.ExpiresAt == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	expiresAt := *order.ExpiresAt
	// Binary search for the insertion point.
	idx := sort.Search(len(e.activeOrders), func(i int) bool {
		return e.activeOrders[i].ExpiresAt.After(expiresAt)
	})
	// Insert at idx.
	e.activeOrders = append(e.activeOrders, nil)
	copy(e.activeOrders[idx+1:], e.activeOrders[idx:])
	e.activeOrders[idx] = order
}

// Remove deletes an order from the activeOrders slice by order ID.
func (e *ExpiryManager) Remove(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, o := range e.activeOrders {
		if o.OrderID == orderID {
			e.activeOrders = append(e.activeOrders[:i], e.activeOrders[i+1:]...)
			return
		}
	}
}

// Start launches a background goroutine that ticks at the configured
// interval and expires orders. It stops when ctx is cancelled.
func (e *ExpiryManager) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				e.tick(ctx, t)
			}
		}
	}()
}

// tick iterates from the front of the sorted activeOrders slice and
// expires all orders where expires_at <= now.
func (e *ExpiryManager) tick(ctx context.Context, now time.Time) {
	// Collect orders to expire under the expiry manager lock.
	e.mu.Lock()
	var toExpire []*domain.Order
	cutoff := 0
	for cutoff < len(e.activeOrders) {
		o := e.activeOrders[cutoff]
		if o.ExpiresAt == nil || o.ExpiresAt.After(now) {
			break
		}
		toExpire = append(toExpire, o)
		cutoff++
	}
	// Remove expired orders from the front of the slice.
	if cutoff > 0 {
		e.activeOrders = e.activeOrders[cutoff:]
	}
	e.mu.Unlock()

	// Process each expired order.
	for _, order := range toExpire {
		e.expireOrder(ctx, order)
	}
}

// expireOrder handles the expiration of a single order: acquires the
// per-instrument write lock, re-checks status, transitions to expired,
// removes it from the book, and releases the unused reservation.
func (e *ExpiryManager) expireOrder(ctx context.Context, order *domain.Order) {
	book := e.books.GetOrCreate(order.Symbol)
	book.mu.Lock()

	// Re-check status: a fill or cancel may have won the race.
	switch order.Status {
	case domain.OrderStatusOpen, domain.OrderStatusPartiallyFilled:
		// Still eligible for expiration.
	default:
		book.mu.Unlock()
		return
	}

	order.CancelledQuantity = order.CancelledQuantity.Add(order.RemainingQuantity)
	order.RemainingQuantity = decimal.Zero
	order.Status = domain.OrderStatusExpired
	order.ExpiredAt = order.ExpiresAt
	order.UpdatedAt = time.Now()

	book.Remove(order.OrderID)

	batch := ledger.NewBatch()
	if order.ReservedMargin.IsPositive() {
		batch.Release(order.AccountID, order.ReservedMargin)
		order.ReservedMargin = decimal.Zero
	}

	// Release the per-instrument lock before touching the ledger or
	// dispatching, to avoid blocking the matching engine.
	book.mu.Unlock()

	_ = batch.Flush(ctx, e.ledger)

	if e.dispatcher != nil {
		e.dispatcher.DispatchOrderExpired(order)
	}
}

// ActiveOrderCount returns the number of orders currently tracked for
// expiration. Useful for testing.
func (e *ExpiryManager) ActiveOrderCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.activeOrders)
}
