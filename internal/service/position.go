package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantex/exchange/internal/domain"
	"github.com/quantex/exchange/internal/feed"
	"github.com/quantex/exchange/internal/risk"
	"github.com/quantex/exchange/internal/stream"
)

// PositionView is a position snapshot enriched with marked-to-market
// fields computed at read time.
type PositionView struct {
	domain.Position
	MarkPrice     decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// PositionService serves position queries and runs the liquidation
// sweep on mark price updates.
type PositionService struct {
	positions *risk.Manager
	prices    feed.Feed
	events    *stream.Publisher
	logger    *slog.Logger
}

// NewPositionService creates a new PositionService with the given dependencies.
func NewPositionService(
	positions *risk.Manager,
	prices feed.Feed,
	events *stream.Publisher,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		positions: positions,
		prices:    prices,
		events:    events,
		logger:    logger,
	}
}

// GetPosition returns one position marked to the current mark price.
func (s *PositionService) GetPosition(accountID, symbol string, mode domain.TradeMode) (*PositionView, error) {
	pos, err := s.positions.Get(domain.PositionKey{
		AccountID: accountID,
		Symbol:    symbol,
		Mode:      mode,
	})
	if err != nil {
		return nil, err
	}
	return s.view(pos), nil
}

// ListPositions returns all open positions for an account, marked to
// current prices.
func (s *PositionService) ListPositions(accountID string) []*PositionView {
	positions := s.positions.ListByAccount(accountID)
	views := make([]*PositionView, 0, len(positions))
	for _, pos := range positions {
		views = append(views, s.view(pos))
	}
	return views
}

func (s *PositionService) view(pos domain.Position) *PositionView {
	v := &PositionView{Position: pos}
	mark, err := s.prices.MarkPrice(pos.Symbol)
	if err != nil {
		return v
	}
	v.MarkPrice = mark
	v.UnrealizedPnL = pos.UnrealizedPnL(mark)
	return v
}

// Sweep force-closes every leveraged position on the instrument whose
// liquidation price the mark has crossed and publishes one
// position.liquidated event per closure. Wired as a price feed
// listener.
func (s *PositionService) Sweep(ctx context.Context, symbol string, mark decimal.Decimal) {
	closed := s.positions.Liquidate(ctx, symbol, mark)
	now := time.Now()
	for _, pos := range closed {
		s.logger.Warn("position liquidated",
			slog.String("account_id", pos.AccountID),
			slog.String("symbol", pos.Symbol),
			slog.String("side", string(pos.Side)),
			slog.String("size", pos.Size.String()),
			slog.String("mark_price", mark.String()),
			slog.String("liquidation_price", pos.LiquidationPrice.String()),
		)
		s.events.Publish(domain.Event{
			Type:      domain.EventPositionLiquidated,
			Symbol:    pos.Symbol,
			Timestamp: now,
			Liquidation: &domain.LiquidationSummary{
				AccountID:        pos.AccountID,
				Mode:             pos.Mode,
				Side:             pos.Side,
				Size:             pos.Size,
				EntryPrice:       pos.EntryPrice,
				MarkPrice:        mark,
				LiquidationPrice: pos.LiquidationPrice,
				RealizedPnL:      pos.RealizedPnL,
			},
		})
	}
}
