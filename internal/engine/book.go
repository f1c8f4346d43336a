package engine

import (
	"sync"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"github.com/quantex/exchange/internal/domain"
)

// OrderBookEntry represents a single order resting on the book. For
// iceberg orders the entry stands for the currently visible slice.
type OrderBookEntry struct {
	Price   decimal.Decimal
	Seq     uint64
	OrderID string
	Order   *domain.Order
}

// VisibleQuantity returns the quantity the entry exposes to matching:
// the visible slice for icebergs, the live remaining quantity otherwise.
func (e OrderBookEntry) VisibleQuantity() decimal.Decimal {
	if e.Order.Type == domain.OrderTypeIceberg {
		return e.Order.VisibleRemaining
	}
	return e.Order.RemainingQuantity
}

// PriceLevel represents an aggregated price level in the order book.
type PriceLevel struct {
	Price         decimal.Decimal
	TotalQuantity decimal.Decimal
	OrderCount    int
}

// bidLess defines ordering for the bid side: price descending, then
// arrival sequence ascending. Min() returns the best bid (highest
// price, earliest arrival).
func bidLess(a, b OrderBookEntry) bool {
	switch a.Price.Cmp(b.Price) {
	case 1:
		return true
	case -1:
		return false
	}
	return a.Seq < b.Seq
}

// askLess defines ordering for the ask side: price ascending, then
// arrival sequence ascending. Min() returns the best ask (lowest price,
// earliest arrival).
func askLess(a, b OrderBookEntry) bool {
	switch a.Price.Cmp(b.Price) {
	case -1:
		return true
	case 1:
		return false
	}
	return a.Seq < b.Seq
}

// OrderBook maintains the bid and ask sides for a single instrument
// using B-trees with a secondary index for O(log n) removal by order ID.
// All mutation happens under the write lock, held by the matching engine
// for a whole matching pass (single-writer discipline). Read-only depth
// queries take the read lock and see internally consistent snapshots.
type OrderBook struct {
	symbol string
	mu     sync.RWMutex
	bids   *btree.BTreeG[OrderBookEntry]
	asks   *btree.BTreeG[OrderBookEntry]
	index  map[string]OrderBookEntry // order_id → entry

	// seq is the per-instrument arrival sequence counter. Monotonic,
	// never reused; advanced only while the write lock is held.
	seq uint64

	// quarantined is set when a fatal invariant violation is detected;
	// the book then refuses new submissions until manually cleared.
	quarantined      bool
	quarantineReason string
}

// NewOrderBook creates an order book for the given symbol.
func NewOrderBook(symbol string) *OrderBook {
	const degree = 32
	return &OrderBook{
		symbol: symbol,
		bids:   btree.NewG[OrderBookEntry](degree, bidLess),
		asks:   btree.NewG[OrderBookEntry](degree, askLess),
		index:  make(map[string]OrderBookEntry),
	}
}

// Symbol returns the instrument symbol this book serves.
func (ob *OrderBook) Symbol() string {
	return ob.symbol
}

// NextSeq assigns the next arrival sequence number. The write lock must
// be held.
func (ob *OrderBook) NextSeq() uint64 {
	ob.seq++
	return ob.seq
}

// InsertBid adds an entry to the bid side of the book.
func (ob *OrderBook) InsertBid(entry OrderBookEntry) {
	ob.bids.ReplaceOrInsert(entry)
	ob.index[entry.OrderID] = entry
}

// InsertAsk adds an entry to the ask side of the book.
func (ob *OrderBook) InsertAsk(entry OrderBookEntry) {
	ob.asks.ReplaceOrInsert(entry)
	ob.index[entry.OrderID] = entry
}

// Remove deletes an order from the book by order ID using the secondary
// index. It tries both sides since the caller may not know which side
// the order is on. Returns false when the order is not on the book.
func (ob *OrderBook) Remove(orderID string) bool {
	entry, ok := ob.index[orderID]
	if !ok {
		return false
	}
	delete(ob.index, orderID)
	// Delete is a no-op on the side that doesn't hold the entry.
	ob.bids.Delete(entry)
	ob.asks.Delete(entry)
	return true
}

// Contains reports whether the order currently rests on the book.
func (ob *OrderBook) Contains(orderID string) bool {
	_, ok := ob.index[orderID]
	return ok
}

// BestBid returns the highest-priority bid (highest price, earliest
// arrival).
func (ob *OrderBook) BestBid() (OrderBookEntry, bool) {
	return ob.bids.Min()
}

// BestAsk returns the highest-priority ask (lowest price, earliest
// arrival).
func (ob *OrderBook) BestAsk() (OrderBookEntry, bool) {
	return ob.asks.Min()
}

// TopBids returns up to n aggregated price levels from the bid side,
// ordered by price descending. The caller must hold a lock.
func (ob *OrderBook) TopBids(n int) []PriceLevel {
	return topLevels(ob.bids, n)
}

// TopAsks returns up to n aggregated price levels from the ask side,
// ordered by price ascending. The caller must hold a lock.
func (ob *OrderBook) TopAsks(n int) []PriceLevel {
	return topLevels(ob.asks, n)
}

// Depth returns up to n aggregated price levels per side, consistent as
// of the call: both sides are read under one read-lock acquisition so no
// partial-level tearing is observable.
func (ob *OrderBook) Depth(n int) (bids, asks []PriceLevel) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return topLevels(ob.bids, n), topLevels(ob.asks, n)
}

// topLevels iterates a side in priority order and aggregates entries
// into at most n price levels, counting visible quantity only.
func topLevels(tree *btree.BTreeG[OrderBookEntry], n int) []PriceLevel {
	if n <= 0 {
		return nil
	}
	levels := make([]PriceLevel, 0, n)
	tree.Ascend(func(entry OrderBookEntry) bool {
		qty := entry.VisibleQuantity()
		if len(levels) > 0 && levels[len(levels)-1].Price.Equal(entry.Price) {
			levels[len(levels)-1].TotalQuantity = levels[len(levels)-1].TotalQuantity.Add(qty)
			levels[len(levels)-1].OrderCount++
			return true
		}
		if len(levels) >= n {
			return false
		}
		levels = append(levels, PriceLevel{
			Price:         entry.Price,
			TotalQuantity: qty,
			OrderCount:    1,
		})
		return true
	})
	return levels
}

// WalkAsks iterates asks in priority order (lowest price first). The
// callback returns true to continue, false to stop.
func (ob *OrderBook) WalkAsks(fn func(OrderBookEntry) bool) {
	ob.asks.Ascend(fn)
}

// WalkBids iterates bids in priority order (highest price first).
func (ob *OrderBook) WalkBids(fn func(OrderBookEntry) bool) {
	ob.bids.Ascend(fn)
}

// BidCount returns the number of individual bid orders on the book.
func (ob *OrderBook) BidCount() int {
	return ob.bids.Len()
}

// AskCount returns the number of individual ask orders on the book.
func (ob *OrderBook) AskCount() int {
	return ob.asks.Len()
}

// Crossed reports whether best bid ≥ best ask. Outside a matching pass
// this must never be true; a crossed resting book is a fatal fault.
func (ob *OrderBook) Crossed() bool {
	bid, okBid := ob.bids.Min()
	ask, okAsk := ob.asks.Min()
	if !okBid || !okAsk {
		return false
	}
	return bid.Price.GreaterThanOrEqual(ask.Price)
}

// Quarantine marks the book as faulted. New submissions are refused
// until ClearQuarantine is called by an operator.
func (ob *OrderBook) Quarantine(reason string) {
	ob.quarantined = true
	ob.quarantineReason = reason
}

// QuarantineState returns whether the book is quarantined and why.
func (ob *OrderBook) QuarantineState() (bool, string) {
	return ob.quarantined, ob.quarantineReason
}

// ClearQuarantine lifts the quarantine after manual intervention.
func (ob *OrderBook) ClearQuarantine() {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.quarantined = false
	ob.quarantineReason = ""
}

// BookManager is a thread-safe map of symbol → OrderBook.
type BookManager struct {
	mu    sync.RWMutex
	books map[string]*OrderBook
}

// NewBookManager creates a new BookManager.
func NewBookManager() *BookManager {
	return &BookManager{
		books: make(map[string]*OrderBook),
	}
}

// GetOrCreate returns the order book for the given symbol, creating one
// if it doesn't already exist.
func (bm *BookManager) GetOrCreate(symbol string) *OrderBook {
	bm.mu.RLock()
	book, ok := bm.books[symbol]
	bm.mu.RUnlock()
	if ok {
		return book
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()
	// Double-check after acquiring write lock.
	if book, ok = bm.books[symbol]; ok {
		return book
	}
	book = NewOrderBook(symbol)
	bm.books[symbol] = book
	return book
}
