package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantex/exchange/internal/domain"
	"github.com/quantex/exchange/internal/ledger"
	"github.com/quantex/exchange/internal/risk"
	"github.com/quantex/exchange/internal/store"
)

// PricePublisher receives last-traded prices produced by matching. The
// matcher publishes strictly after the per-instrument write lock is
// released, so listeners (stop triggers, liquidation sweep) may submit
// follow-up orders without deadlocking.
type PricePublisher interface {
	SetLastPrice(symbol string, price decimal.Decimal)
}

// Execution pairs the two fills of one trade with the resting order
// they touched.
type Execution struct {
	TakerFill *domain.Fill
	MakerFill *domain.Fill
	Maker     *domain.Order
}

// ResultSealer is invoked at the end of a successful matching pass while
// the book write lock is still held, so pass-ordered artifacts (event
// sequence numbers, notably) can be assigned before a concurrent pass on
// the same instrument starts.
type ResultSealer interface {
	SealResult(result *MatchResult)
}

// MatchResult reports the outcome of one matching pass.
type MatchResult struct {
	Order      *domain.Order
	Executions []Execution
	// SelfMatchSkipped is resting quantity owned by the incoming
	// account that was skipped rather than matched. Reported, never
	// silently dropped.
	SelfMatchSkipped decimal.Decimal
	// RemainingAfter and Terminal capture the order's post-pass state
	// under the book lock, for callers that must not re-read the order
	// once the lock is released.
	RemainingAfter decimal.Decimal
	Terminal       bool
	// FilledMakerIDs lists the resting orders this pass fully filled,
	// captured under the book lock.
	FilledMakerIDs []string
	// Events is filled by the ResultSealer, in pass order.
	Events []domain.Event

	lastPrice decimal.Decimal
}

// FilledQuantity returns the total quantity executed in the pass.
func (r *MatchResult) FilledQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, ex := range r.Executions {
		total = total.Add(ex.TakerFill.Quantity)
	}
	return total
}

// Matcher applies incoming orders against the opposite side of the
// instrument's book under price/time priority and produces fills. All
// mutating operations for one instrument execute strictly sequentially
// under that book's write lock.
type Matcher struct {
	books     *BookManager
	registry  *domain.InstrumentRegistry
	orders    *store.OrderStore
	fills     *store.FillStore
	positions *risk.Manager
	ledger    ledger.Ledger
	prices    PricePublisher
	sealer    ResultSealer
	logger    *slog.Logger
}

// NewMatcher creates a new Matcher with the given dependencies.
func NewMatcher(
	books *BookManager,
	registry *domain.InstrumentRegistry,
	orders *store.OrderStore,
	fills *store.FillStore,
	positions *risk.Manager,
	l ledger.Ledger,
	prices PricePublisher,
	logger *slog.Logger,
) *Matcher {
	return &Matcher{
		books:     books,
		registry:  registry,
		orders:    orders,
		fills:     fills,
		positions: positions,
		ledger:    l,
		prices:    prices,
		logger:    logger,
	}
}

// Books exposes the book manager for read-only depth queries.
func (m *Matcher) Books() *BookManager {
	return m.books
}

// SetSealer installs the pass sealer. Must be called before the matcher
// accepts orders.
func (m *Matcher) SetSealer(sealer ResultSealer) {
	m.sealer = sealer
}

// Submit runs a full matching pass for an order that has already been
// validated and had its margin reserved. The per-instrument write lock
// is held for the entire pass; ledger operations recorded by the pass
// and the resulting last-trade price are applied only after the lock is
// released.
func (m *Matcher) Submit(ctx context.Context, order *domain.Order) (*MatchResult, error) {
	book := m.books.GetOrCreate(order.Symbol)
	batch := ledger.NewBatch()

	book.mu.Lock()
	result, err := m.matchLocked(book, order, order.RemainingQuantity, true, batch)
	book.mu.Unlock()

	m.flushBatch(ctx, batch, order.Symbol)
	if err != nil {
		return nil, err
	}
	if result.lastPrice.IsPositive() && m.prices != nil {
		m.prices.SetLastPrice(order.Symbol, result.lastPrice)
	}
	return result, nil
}

// SubmitSlice runs a matching pass for one TWAP child slice: at most
// sliceQty of the parent executes, and the slice's unmatched remainder
// is left pending for later slices rather than rested or cancelled.
func (m *Matcher) SubmitSlice(ctx context.Context, parent *domain.Order, sliceQty decimal.Decimal) (*MatchResult, error) {
	book := m.books.GetOrCreate(parent.Symbol)
	batch := ledger.NewBatch()

	book.mu.Lock()
	result, err := m.matchLocked(book, parent, sliceQty, false, batch)
	book.mu.Unlock()

	m.flushBatch(ctx, batch, parent.Symbol)
	if err != nil {
		return nil, err
	}
	if result.lastPrice.IsPositive() && m.prices != nil {
		m.prices.SetLastPrice(parent.Symbol, result.lastPrice)
	}
	return result, nil
}

// flushBatch applies the ledger operations a pass recorded. Flushing
// happens even when the pass failed partway: fills already settled into
// positions must reach the ledger.
func (m *Matcher) flushBatch(ctx context.Context, batch *ledger.Batch, symbol string) {
	if batch.Empty() {
		return
	}
	if err := batch.Flush(ctx, m.ledger); err != nil && m.logger != nil {
		m.logger.Error("ledger batch flush failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
}

// matchLocked is the core matching pass. maxQty bounds the quantity this
// pass may execute; dispose controls whether the remainder is rested or
// cancelled per the order's time-in-force (TWAP slices pass false).
func (m *Matcher) matchLocked(book *OrderBook, order *domain.Order, maxQty decimal.Decimal, dispose bool, batch *ledger.Batch) (*MatchResult, error) {
	if quarantined, reason := book.QuarantineState(); quarantined {
		return nil, fmt.Errorf("%w: %s", domain.ErrInstrumentQuarantined, reason)
	}

	// Re-checked under the lock: a concurrent cancel may have won the
	// race, e.g. against a stop order between trigger and activation.
	if order.Status.IsTerminal() {
		return nil, domain.ErrOrderAlreadyFinal
	}

	inst, err := m.registry.Get(order.Symbol)
	if err != nil {
		return nil, err
	}
	// Re-checked under the lock: the registry flag may have flipped
	// since service-layer validation.
	if !inst.Active {
		return nil, domain.ErrInstrumentInactive
	}

	result := &MatchResult{Order: order}

	// Fill-or-kill requires the entire order to be fillable before any
	// mutation. One read-only pre-check pass, then either a normal
	// matching pass or an atomic rejection with zero side effects.
	if order.TIF == domain.TIFFillOrKill && dispose {
		if !m.fullyFillable(book, order) {
			return nil, domain.ErrOrderUnfillable
		}
	}

	budget := decimal.Min(maxQty, order.RemainingQuantity)
	executedAt := time.Now()
	skipped := make(map[string]struct{})

	for budget.IsPositive() {
		entry, ok := m.firstEligible(book, order, skipped, result)
		if !ok {
			break
		}

		maker := entry.Order
		fillQty := decimal.Min(budget, entry.VisibleQuantity())
		// Trade price is always the resting order's price: price
		// improvement favors the aggressor, never the maker.
		execPrice := entry.Price

		tradeID := uuid.New().String()
		takerFill := m.newFill(tradeID, order, fillQty, execPrice, inst.TakerFeeRate, domain.LiquidityTaker, executedAt)
		makerFill := m.newFill(tradeID, maker, fillQty, execPrice, inst.MakerFeeRate, domain.LiquidityMaker, executedAt)

		order.RemainingQuantity = order.RemainingQuantity.Sub(fillQty)
		order.FilledQuantity = order.FilledQuantity.Add(fillQty)
		maker.RemainingQuantity = maker.RemainingQuantity.Sub(fillQty)
		maker.FilledQuantity = maker.FilledQuantity.Add(fillQty)
		budget = budget.Sub(fillQty)

		order.Fills = append(order.Fills, takerFill)
		maker.Fills = append(maker.Fills, makerFill)
		m.fills.Append(takerFill)
		m.fills.Append(makerFill)

		if err := m.settleFill(order, takerFill, batch); err != nil {
			return nil, m.quarantine(book, fmt.Sprintf("taker settlement failed: %v", err))
		}
		if err := m.settleFill(maker, makerFill, batch); err != nil {
			return nil, m.quarantine(book, fmt.Sprintf("maker settlement failed: %v", err))
		}

		result.Executions = append(result.Executions, Execution{
			TakerFill: takerFill,
			MakerFill: makerFill,
			Maker:     maker,
		})
		result.lastPrice = execPrice

		m.disposeMaker(book, maker, fillQty, executedAt)
		if maker.Status == domain.OrderStatusFilled {
			result.FilledMakerIDs = append(result.FilledMakerIDs, maker.OrderID)
		}

		if order.RemainingQuantity.IsZero() {
			order.Status = domain.OrderStatusFilled
			order.UpdatedAt = executedAt
		} else {
			order.Status = domain.OrderStatusPartiallyFilled
			order.UpdatedAt = executedAt
		}

		if err := m.checkInvariants(book, order, maker); err != nil {
			return nil, err
		}
	}

	if dispose {
		m.disposeRemainder(book, order, batch, executedAt)
	}

	if err := m.checkInvariants(book, order, nil); err != nil {
		return nil, err
	}

	if result.SelfMatchSkipped.IsPositive() {
		order.SelfMatchSkipped = order.SelfMatchSkipped.Add(result.SelfMatchSkipped)
	}
	result.RemainingAfter = order.RemainingQuantity
	result.Terminal = order.Status.IsTerminal()
	if m.sealer != nil {
		m.sealer.SealResult(result)
	}
	return result, nil
}

// newFill builds one side's immutable fill record.
func (m *Matcher) newFill(tradeID string, o *domain.Order, qty, price, feeRate decimal.Decimal, liq domain.Liquidity, at time.Time) *domain.Fill {
	return &domain.Fill{
		FillID:     uuid.New().String(),
		TradeID:    tradeID,
		OrderID:    o.OrderID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Quantity:   qty,
		Price:      price,
		Fee:        price.Mul(qty).Mul(feeRate),
		Liquidity:  liq,
		ExecutedAt: at,
	}
}

// settleFill applies a fill to its order's margin accounting and
// position, atomically with the fill itself (the book lock is held).
// Ledger effects go into the batch; they are applied after the lock is
// released.
func (m *Matcher) settleFill(o *domain.Order, f *domain.Fill, batch *ledger.Batch) error {
	slice := f.Quantity.Mul(o.ReservePrice).Div(risk.EffectiveLeverage(o.Leverage))
	o.ReservedMargin = o.ReservedMargin.Sub(slice)
	if o.ReservedMargin.IsNegative() {
		o.ReservedMargin = decimal.Zero
	}

	if _, err := m.positions.ApplyFill(o, f, batch); err != nil {
		return err
	}
	if f.Fee.IsPositive() {
		batch.RealizePnL(o.AccountID, f.Fee.Neg())
	}
	return nil
}

// disposeMaker updates a resting order after it was hit: fully filled
// makers leave the book, exhausted iceberg slices are refreshed with a
// fresh sequence number (losing time priority), and partially
// filled makers keep their place.
func (m *Matcher) disposeMaker(book *OrderBook, maker *domain.Order, fillQty decimal.Decimal, at time.Time) {
	if maker.Type == domain.OrderTypeIceberg {
		maker.VisibleRemaining = maker.VisibleRemaining.Sub(fillQty)
	}

	if maker.RemainingQuantity.IsZero() {
		book.Remove(maker.OrderID)
		maker.Status = domain.OrderStatusFilled
		maker.UpdatedAt = at
		return
	}

	maker.Status = domain.OrderStatusPartiallyFilled
	maker.UpdatedAt = at

	if maker.Type == domain.OrderTypeIceberg && maker.VisibleRemaining.IsZero() {
		// Reveal the next slice at the same price with a fresh
		// time-priority position.
		book.Remove(maker.OrderID)
		maker.VisibleRemaining = decimal.Min(maker.DisplayQuantity, maker.RemainingQuantity)
		maker.Seq = book.NextSeq()
		m.insertEntry(book, maker)
	}
}

// disposeRemainder handles an unmatched remainder per order type and
// time-in-force: market orders and IOC remainders are cancelled with
// their unused reservation released; GTC remainders rest on the book.
func (m *Matcher) disposeRemainder(book *OrderBook, order *domain.Order, batch *ledger.Batch, at time.Time) {
	if !order.RemainingQuantity.IsPositive() {
		return
	}

	rests := order.Type != domain.OrderTypeMarket && order.TIF == domain.TIFGoodTillCancel

	// A remainder may still cross the opposite side when the only
	// compatible liquidity left belongs to the same account. Resting it
	// would leave the book crossed; cancel it instead.
	if rests && m.wouldCross(book, order) {
		rests = false
	}

	if rests {
		if order.Type == domain.OrderTypeIceberg {
			order.VisibleRemaining = decimal.Min(order.DisplayQuantity, order.RemainingQuantity)
		}
		order.Seq = book.NextSeq()
		m.insertEntry(book, order)
		if order.FilledQuantity.IsZero() {
			order.Status = domain.OrderStatusOpen
		} else {
			order.Status = domain.OrderStatusPartiallyFilled
		}
		order.UpdatedAt = at
		return
	}

	// Market or IOC: cancel the remainder. Insufficient liquidity is
	// reported through the fill quantity, not as an error.
	order.CancelledQuantity = order.RemainingQuantity
	order.RemainingQuantity = decimal.Zero
	if order.FilledQuantity.Equal(order.Quantity) {
		order.Status = domain.OrderStatusFilled
	} else {
		order.Status = domain.OrderStatusCancelled
	}
	order.UpdatedAt = at

	m.releaseReservation(order, batch)
}

// wouldCross reports whether resting the order's remainder would cross
// the best opposite entry.
func (m *Matcher) wouldCross(book *OrderBook, order *domain.Order) bool {
	if order.Side == domain.OrderSideBuy {
		if best, ok := book.BestAsk(); ok {
			return best.Price.LessThanOrEqual(order.Price)
		}
		return false
	}
	if best, ok := book.BestBid(); ok {
		return best.Price.GreaterThanOrEqual(order.Price)
	}
	return false
}

// releaseReservation records the return of an order's unconsumed margin
// reservation, exactly once.
func (m *Matcher) releaseReservation(order *domain.Order, batch *ledger.Batch) {
	if order.ReservedMargin.IsPositive() {
		batch.Release(order.AccountID, order.ReservedMargin)
		order.ReservedMargin = decimal.Zero
	}
}

// insertEntry rests an order on its side of the book.
func (m *Matcher) insertEntry(book *OrderBook, order *domain.Order) {
	entry := OrderBookEntry{
		Price:   order.Price,
		Seq:     order.Seq,
		OrderID: order.OrderID,
		Order:   order,
	}
	if order.Side == domain.OrderSideBuy {
		book.InsertBid(entry)
	} else {
		book.InsertAsk(entry)
	}
}

// priceCompatible reports whether the incoming order may trade at the
// resting price. Market orders accept any price.
func priceCompatible(order *domain.Order, restingPrice decimal.Decimal) bool {
	if order.Type == domain.OrderTypeMarket {
		return true
	}
	if order.Side == domain.OrderSideBuy {
		return restingPrice.LessThanOrEqual(order.Price)
	}
	return restingPrice.GreaterThanOrEqual(order.Price)
}

// firstEligible walks the opposite side in priority order and returns
// the first entry the order may trade with, skipping (and reporting)
// the account's own resting orders. Returns false when the side is
// exhausted or the best eligible price is incompatible.
func (m *Matcher) firstEligible(book *OrderBook, order *domain.Order, skipped map[string]struct{}, result *MatchResult) (OrderBookEntry, bool) {
	var (
		found OrderBookEntry
		ok    bool
	)
	walk := func(entry OrderBookEntry) bool {
		if !priceCompatible(order, entry.Price) {
			return false
		}
		if entry.Order.AccountID == order.AccountID {
			// Self-match prevention: skip own resting quantity and
			// report it once per resting order.
			if _, seen := skipped[entry.OrderID]; !seen {
				skipped[entry.OrderID] = struct{}{}
				result.SelfMatchSkipped = result.SelfMatchSkipped.Add(entry.VisibleQuantity())
			}
			return true
		}
		found = entry
		ok = true
		return false
	}
	if order.Side == domain.OrderSideBuy {
		book.WalkAsks(walk)
	} else {
		book.WalkBids(walk)
	}
	return found, ok
}

// fullyFillable is the read-only fill-or-kill pre-check: it walks the
// opposite side counting price-compatible quantity not owned by the
// incoming account, and reports whether it covers the full order. A
// resting iceberg counts with its full remaining quantity: the matching
// pass refreshes exhausted slices at the same price within the pass.
func (m *Matcher) fullyFillable(book *OrderBook, order *domain.Order) bool {
	needed := order.RemainingQuantity
	walk := func(entry OrderBookEntry) bool {
		if !priceCompatible(order, entry.Price) {
			return false
		}
		if entry.Order.AccountID == order.AccountID {
			return true
		}
		avail := entry.VisibleQuantity()
		if entry.Order.Type == domain.OrderTypeIceberg {
			avail = entry.Order.RemainingQuantity
		}
		needed = needed.Sub(avail)
		return needed.IsPositive()
	}
	if order.Side == domain.OrderSideBuy {
		book.WalkAsks(walk)
	} else {
		book.WalkBids(walk)
	}
	return !needed.IsPositive()
}

// Cancel cancels a resting or pending order. It acquires the
// per-instrument write lock, re-checks status (a match may have won the
// race), removes the order from the book, voids the remaining quantity,
// and releases the unused reservation exactly once.
//
// Returns domain.ErrOrderNotFound if the order does not exist and
// domain.ErrOrderAlreadyFinal if it is already terminal.
func (m *Matcher) Cancel(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := m.orders.Get(orderID)
	if err != nil {
		return nil, err
	}

	book := m.books.GetOrCreate(order.Symbol)
	batch := ledger.NewBatch()

	book.mu.Lock()
	// Re-check under the lock: whichever of match and cancel reached
	// the matching domain first wins.
	if order.Status.IsTerminal() {
		book.mu.Unlock()
		return order, domain.ErrOrderAlreadyFinal
	}

	book.Remove(order.OrderID)

	now := time.Now()
	order.CancelledQuantity = order.CancelledQuantity.Add(order.RemainingQuantity)
	order.RemainingQuantity = decimal.Zero
	order.Status = domain.OrderStatusCancelled
	order.CancelledAt = &now
	order.UpdatedAt = now

	m.releaseReservation(order, batch)
	book.mu.Unlock()

	m.flushBatch(ctx, batch, order.Symbol)
	return order, nil
}

// checkInvariants verifies the matching-domain invariants after a
// mutation. A violation is fatal for the instrument: the book is
// quarantined and refuses new submissions until manually cleared.
func (m *Matcher) checkInvariants(book *OrderBook, order, maker *domain.Order) error {
	if order != nil && !order.QuantitiesConsistent() {
		return m.quarantine(book, fmt.Sprintf("quantity conservation violated for order %s", order.OrderID))
	}
	if maker != nil && !maker.QuantitiesConsistent() {
		return m.quarantine(book, fmt.Sprintf("quantity conservation violated for resting order %s", maker.OrderID))
	}
	if book.Crossed() {
		return m.quarantine(book, "book crossed after matching pass")
	}
	return nil
}

// quarantine marks the instrument as faulted and escalates to the
// operational log. The book lock is held by the caller.
func (m *Matcher) quarantine(book *OrderBook, reason string) error {
	book.Quarantine(reason)
	if m.logger != nil {
		m.logger.Error("instrument quarantined",
			slog.String("symbol", book.Symbol()),
			slog.String("reason", reason),
		)
	}
	return fmt.Errorf("%w: %s", domain.ErrInstrumentQuarantined, reason)
}
