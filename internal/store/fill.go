package store

import (
	"sync"

	"github.com/quantex/exchange/internal/domain"
)

// FillStore is a thread-safe in-memory store for fills, keyed by symbol
// and by order. Fills are append-only and chronological.
type FillStore struct {
	mu        sync.RWMutex
	bySymbol  map[string][]*domain.Fill
	byOrderID map[string][]*domain.Fill
}

// NewFillStore creates an empty FillStore.
func NewFillStore() *FillStore {
	return &FillStore{
		bySymbol:  make(map[string][]*domain.Fill),
		byOrderID: make(map[string][]*domain.Fill),
	}
}

// Append adds a fill to both indexes.
func (s *FillStore) Append(f *domain.Fill) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bySymbol[f.Symbol] = append(s.bySymbol[f.Symbol], f)
	s.byOrderID[f.OrderID] = append(s.byOrderID[f.OrderID], f)
}

// GetBySymbol returns all fills for a symbol in execution order.
func (s *FillStore) GetBySymbol(symbol string) []*domain.Fill {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fills := s.bySymbol[symbol]
	result := make([]*domain.Fill, len(fills))
	copy(result, fills)
	return result
}

// GetByOrder returns all fills for an order in execution order.
func (s *FillStore) GetByOrder(orderID string) []*domain.Fill {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fills := s.byOrderID[orderID]
	result := make([]*domain.Fill, len(fills))
	copy(result, fills)
	return result
}
