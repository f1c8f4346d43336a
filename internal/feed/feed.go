// Package feed defines the price reference feed contract. The core
// treats the feed as a read-only oracle for last-traded and mark prices.
package feed

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/quantex/exchange/internal/domain"
)

// Feed is the outbound contract to the price oracle. Mark price may
// differ from last price for funding and liquidation purposes on
// perpetual instruments.
type Feed interface {
	LastPrice(symbol string) (decimal.Decimal, error)
	MarkPrice(symbol string) (decimal.Decimal, error)
}

// Update carries one price refresh to subscribers.
type Update struct {
	Symbol    string
	LastPrice decimal.Decimal
	MarkPrice decimal.Decimal
}

// Listener receives price updates. Listeners run on the publisher's
// goroutine and must not block.
type Listener func(Update)

// MemoryFeed is the in-process reference implementation. Prices are set
// by whoever owns market data in the deployment (here: trade prints and
// tests) and fanned out to listeners such as the stop-trigger watcher
// and the liquidation sweep.
type MemoryFeed struct {
	mu        sync.RWMutex
	last      map[string]decimal.Decimal
	mark      map[string]decimal.Decimal
	listeners []Listener
}

// NewMemoryFeed creates an empty feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{
		last: make(map[string]decimal.Decimal),
		mark: make(map[string]decimal.Decimal),
	}
}

// LastPrice implements Feed. Returns domain.ErrPriceUnavailable when no
// price has been observed for the symbol.
func (f *MemoryFeed) LastPrice(symbol string) (decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.last[symbol]
	if !ok {
		return decimal.Zero, domain.ErrPriceUnavailable
	}
	return p, nil
}

// MarkPrice implements Feed. Falls back to the last price when no mark
// price has been published for the symbol.
func (f *MemoryFeed) MarkPrice(symbol string) (decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if p, ok := f.mark[symbol]; ok {
		return p, nil
	}
	if p, ok := f.last[symbol]; ok {
		return p, nil
	}
	return decimal.Zero, domain.ErrPriceUnavailable
}

// Subscribe registers a listener for subsequent updates.
func (f *MemoryFeed) Subscribe(l Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, l)
}

// SetLastPrice records a last-traded price and notifies listeners.
func (f *MemoryFeed) SetLastPrice(symbol string, price decimal.Decimal) {
	f.mu.Lock()
	f.last[symbol] = price
	update := Update{Symbol: symbol, LastPrice: price, MarkPrice: f.markLocked(symbol, price)}
	listeners := append([]Listener(nil), f.listeners...)
	f.mu.Unlock()

	for _, l := range listeners {
		l(update)
	}
}

// SetMarkPrice records a mark price and notifies listeners.
func (f *MemoryFeed) SetMarkPrice(symbol string, price decimal.Decimal) {
	f.mu.Lock()
	f.mark[symbol] = price
	last := f.last[symbol]
	update := Update{Symbol: symbol, LastPrice: last, MarkPrice: price}
	listeners := append([]Listener(nil), f.listeners...)
	f.mu.Unlock()

	for _, l := range listeners {
		l(update)
	}
}

func (f *MemoryFeed) markLocked(symbol string, fallback decimal.Decimal) decimal.Decimal {
	if p, ok := f.mark[symbol]; ok {
		return p
	}
	return fallback
}
