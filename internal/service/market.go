package service

import (
	"github.com/shopspring/decimal"

	"github.com/quantex/exchange/internal/domain"
	"github.com/quantex/exchange/internal/engine"
	"github.com/quantex/exchange/internal/feed"
	"github.com/quantex/exchange/internal/store"
)

// InstrumentPrice is the current price snapshot for one instrument.
type InstrumentPrice struct {
	Symbol    string
	LastPrice decimal.Decimal
	MarkPrice decimal.Decimal
}

// MarketService serves read-only market data: the instrument catalog,
// book depth snapshots, prices, and recent fills.
type MarketService struct {
	books    *engine.BookManager
	registry *domain.InstrumentRegistry
	prices   feed.Feed
	fills    *store.FillStore
}

// NewMarketService creates a new MarketService with the given dependencies.
func NewMarketService(
	books *engine.BookManager,
	registry *domain.InstrumentRegistry,
	prices feed.Feed,
	fills *store.FillStore,
) *MarketService {
	return &MarketService{
		books:    books,
		registry: registry,
		prices:   prices,
		fills:    fills,
	}
}

// Instruments returns the full instrument catalog.
func (s *MarketService) Instruments() []*domain.Instrument {
	return s.registry.List()
}

// Instrument returns one instrument by symbol.
func (s *MarketService) Instrument(symbol string) (*domain.Instrument, error) {
	return s.registry.Get(symbol)
}

// Depth returns the top price levels of both sides of the book as one
// internally consistent snapshot.
func (s *MarketService) Depth(symbol string, levels int) (bids, asks []engine.PriceLevel, err error) {
	if _, err := s.registry.Get(symbol); err != nil {
		return nil, nil, err
	}
	if levels < 1 {
		levels = 10
	}
	if levels > 50 {
		return nil, nil, &domain.ValidationError{
			Message: "levels must be between 1 and 50",
		}
	}
	bids, asks = s.books.GetOrCreate(symbol).Depth(levels)
	return bids, asks, nil
}

// Price returns the last-traded and mark prices for an instrument.
// ErrPriceUnavailable means no trade has printed and no mark was set.
func (s *MarketService) Price(symbol string) (*InstrumentPrice, error) {
	if _, err := s.registry.Get(symbol); err != nil {
		return nil, err
	}
	last, err := s.prices.LastPrice(symbol)
	if err != nil {
		return nil, err
	}
	mark, err := s.prices.MarkPrice(symbol)
	if err != nil {
		return nil, err
	}
	return &InstrumentPrice{Symbol: symbol, LastPrice: last, MarkPrice: mark}, nil
}

// RecentFills returns up to limit most recent fills for an instrument.
func (s *MarketService) RecentFills(symbol string, limit int) ([]*domain.Fill, error) {
	if _, err := s.registry.Get(symbol); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	fills := s.fills.GetBySymbol(symbol)
	if len(fills) > limit {
		fills = fills[len(fills)-limit:]
	}
	return fills, nil
}
