package risk

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantex/exchange/internal/domain"
	"github.com/quantex/exchange/internal/ledger"
)

// Manager is the authoritative in-process view of open exposure per
// (account, instrument, mode). Fills are applied by the matching engine
// under the instrument's single-writer lock; the manager's own lock only
// orders cross-instrument access to the shared map.
type Manager struct {
	mu        sync.RWMutex
	positions map[domain.PositionKey]*domain.Position
	registry  *domain.InstrumentRegistry
	ledger    ledger.Ledger
	calc      *Calculator
}

// NewManager creates an empty position manager.
func NewManager(registry *domain.InstrumentRegistry, l ledger.Ledger, calc *Calculator) *Manager {
	return &Manager{
		positions: make(map[domain.PositionKey]*domain.Position),
		registry:  registry,
		ledger:    l,
		calc:      calc,
	}
}

// direction returns the exposure side a fill pushes toward.
func direction(side domain.OrderSide) domain.PositionSide {
	if side == domain.OrderSideBuy {
		return domain.PositionLong
	}
	return domain.PositionShort
}

// ApplyFill folds one fill into the account's position: create on first
// exposure, increase with a quantity-weighted entry price on the same
// side, reduce (realizing PnL) on the opposite side, and flip when the
// fill quantity exceeds the current size. The margin slice consumed from
// the order's reservation is attributed to the position; reduced
// exposure releases margin pro-rata. Derived margin fields are refreshed
// before the lock is released, so they always correspond to exactly one
// completed fill.
//
// Ledger effects (margin releases, realized PnL) are recorded into batch
// rather than applied: the caller holds the instrument's matching lock
// and flushes the batch once it is released.
func (m *Manager) ApplyFill(order *domain.Order, fill *domain.Fill, batch *ledger.Batch) (*domain.Position, error) {
	inst, err := m.registry.Get(order.Symbol)
	if err != nil {
		return nil, err
	}

	lev := EffectiveLeverage(order.Leverage)
	slice := fill.Quantity.Mul(order.ReservePrice).Div(lev)

	m.mu.Lock()
	defer m.mu.Unlock()

	key := domain.PositionKey{AccountID: order.AccountID, Symbol: order.Symbol, Mode: order.Mode}
	fillSide := direction(fill.Side)
	now := fill.ExecutedAt

	pos, ok := m.positions[key]
	if !ok || pos.Size.IsZero() {
		// Opens exposure.
		pos = &domain.Position{
			AccountID:  order.AccountID,
			Symbol:     order.Symbol,
			Mode:       order.Mode,
			Side:       fillSide,
			Size:       fill.Quantity,
			EntryPrice: fill.Price,
			Margin:     slice,
			Leverage:   lev,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		m.positions[key] = pos
		m.calc.Refresh(inst, pos)
		return pos, nil
	}

	if pos.Side == fillSide {
		// Increase: quantity-weighted entry price.
		newSize := pos.Size.Add(fill.Quantity)
		pos.EntryPrice = pos.EntryPrice.Mul(pos.Size).Add(fill.Price.Mul(fill.Quantity)).Div(newSize)
		pos.Size = newSize
		pos.Margin = pos.Margin.Add(slice)
		pos.UpdatedAt = now
		m.calc.Refresh(inst, pos)
		return pos, nil
	}

	// Opposite side: reduce, possibly flip.
	reduceQty := decimal.Min(pos.Size, fill.Quantity)

	realized := fill.Price.Sub(pos.EntryPrice).Mul(reduceQty)
	if pos.Side == domain.PositionShort {
		realized = realized.Neg()
	}

	releasedMargin := pos.Margin.Mul(reduceQty).Div(pos.Size)
	pos.Size = pos.Size.Sub(reduceQty)
	pos.Margin = pos.Margin.Sub(releasedMargin)
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	pos.UpdatedAt = now

	// The reducing order's own reservation slice is no longer needed:
	// reduced exposure consumes no new margin.
	reduceSlice := slice.Mul(reduceQty).Div(fill.Quantity)
	batch.Release(order.AccountID, releasedMargin.Add(reduceSlice))
	batch.RealizePnL(order.AccountID, realized)

	excess := fill.Quantity.Sub(reduceQty)
	if excess.IsPositive() {
		// Flip: the excess opens the opposite side at the fill price.
		pos.Side = fillSide
		pos.Size = excess
		pos.EntryPrice = fill.Price
		pos.Margin = slice.Mul(excess).Div(fill.Quantity)
		pos.Leverage = lev
	}

	if pos.Size.IsZero() {
		delete(m.positions, key)
	} else {
		m.calc.Refresh(inst, pos)
	}
	return pos, nil
}

// Get returns a snapshot copy of a position. Returns
// domain.ErrPositionNotFound when no open position exists for the key.
func (m *Manager) Get(key domain.PositionKey) (domain.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[key]
	if !ok {
		return domain.Position{}, domain.ErrPositionNotFound
	}
	return *pos, nil
}

// ListByAccount returns snapshot copies of all of an account's open
// positions.
func (m *Manager) ListByAccount(accountID string) []domain.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Position, 0)
	for _, pos := range m.positions {
		if pos.AccountID == accountID {
			out = append(out, *pos)
		}
	}
	return out
}

// Liquidate force-closes every leveraged position on the symbol whose
// liquidation price has been crossed by the given mark price. The
// position is settled at the mark price: margin is released and the
// (typically negative) PnL applied through the ledger. Returns the
// closed positions so the caller can publish liquidation events.
func (m *Manager) Liquidate(ctx context.Context, symbol string, markPrice decimal.Decimal) []domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	var closed []domain.Position
	for key, pos := range m.positions {
		if pos.Symbol != symbol || pos.Mode == domain.ModeSpot {
			continue
		}
		if pos.LiquidationPrice.IsZero() {
			continue
		}
		crossed := (pos.Side == domain.PositionLong && markPrice.LessThanOrEqual(pos.LiquidationPrice)) ||
			(pos.Side == domain.PositionShort && markPrice.GreaterThanOrEqual(pos.LiquidationPrice))
		if !crossed {
			continue
		}

		realized := pos.UnrealizedPnL(markPrice)
		pos.RealizedPnL = pos.RealizedPnL.Add(realized)
		_ = m.ledger.ReleaseMargin(ctx, pos.AccountID, pos.Margin)
		_ = m.ledger.ApplyRealizedPnL(ctx, pos.AccountID, realized)

		snapshot := *pos
		snapshot.Size = pos.Size
		snapshot.UpdatedAt = time.Now()
		closed = append(closed, snapshot)
		delete(m.positions, key)
	}
	return closed
}

// Count returns the number of open positions. Useful for testing.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}
