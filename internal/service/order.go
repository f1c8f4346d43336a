package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantex/exchange/internal/domain"
	"github.com/quantex/exchange/internal/engine"
	"github.com/quantex/exchange/internal/feed"
	"github.com/quantex/exchange/internal/ledger"
	"github.com/quantex/exchange/internal/risk"
	"github.com/quantex/exchange/internal/store"
	"github.com/quantex/exchange/internal/stream"
)

var (
	accountIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	symbolRegex    = regexp.MustCompile(`^[A-Z0-9]{1,20}(-[A-Z0-9]{1,10})?$`)
)

// ValidOrderStatuses lists all order status values accepted as a list
// filter.
var ValidOrderStatuses = map[domain.OrderStatus]bool{
	domain.OrderStatusWaitingTrigger:  true,
	domain.OrderStatusPending:         true,
	domain.OrderStatusOpen:            true,
	domain.OrderStatusPartiallyFilled: true,
	domain.OrderStatusFilled:          true,
	domain.OrderStatusCancelled:       true,
	domain.OrderStatusRejected:        true,
	domain.OrderStatusExpired:         true,
}

// SubmitOrderRequest represents the input for order submission.
type SubmitOrderRequest struct {
	Type      domain.OrderType
	AccountID string
	Symbol    string
	Mode      domain.TradeMode
	Side      domain.OrderSide
	TIF       domain.TimeInForce
	Quantity  decimal.Decimal

	Price        *decimal.Decimal // required for limit-priced types
	TriggerPrice *decimal.Decimal // required for stop types
	Leverage     decimal.Decimal  // zero means 1x

	DisplayQuantity *decimal.Decimal // required for iceberg
	TwapSlices      int              // required for twap
	TwapInterval    time.Duration    // required for twap

	ExpiresAt *time.Time // optional, resting orders only
}

// OrderService drives the order lifecycle: validation, margin
// reservation, dispatch into the matching domain, and event
// publication. It also implements the activation callbacks of the
// trigger watcher, the TWAP scheduler, and the expiry manager.
type OrderService struct {
	matcher   *engine.Matcher
	expiry    *engine.ExpiryManager
	trigger   *engine.TriggerWatcher
	twap      *engine.TWAPScheduler
	registry  *domain.InstrumentRegistry
	orders    *store.OrderStore
	fills     *store.FillStore
	positions *risk.Manager
	calc      *risk.Calculator
	ledger    ledger.Ledger
	prices    feed.Feed
	events    *stream.Publisher
	logger    *slog.Logger
}

// NewOrderService creates a new OrderService with the given dependencies.
func NewOrderService(
	matcher *engine.Matcher,
	expiry *engine.ExpiryManager,
	registry *domain.InstrumentRegistry,
	orders *store.OrderStore,
	fills *store.FillStore,
	positions *risk.Manager,
	calc *risk.Calculator,
	l ledger.Ledger,
	prices feed.Feed,
	events *stream.Publisher,
	logger *slog.Logger,
) *OrderService {
	s := &OrderService{
		matcher:   matcher,
		expiry:    expiry,
		registry:  registry,
		orders:    orders,
		fills:     fills,
		positions: positions,
		calc:      calc,
		ledger:    l,
		prices:    prices,
		events:    events,
		logger:    logger,
	}
	s.trigger = engine.NewTriggerWatcher(s, logger)
	s.twap = engine.NewTWAPScheduler(s, logger)
	matcher.SetSealer(s)
	return s
}

// Trigger exposes the stop watcher, e.g. for wiring it to the price
// feed.
func (s *OrderService) Trigger() *engine.TriggerWatcher {
	return s.trigger
}

// TWAP exposes the slice scheduler, e.g. for draining on shutdown.
func (s *OrderService) TWAP() *engine.TWAPScheduler {
	return s.twap
}

// SubmitOrder validates the request, reserves margin, creates the
// order, and routes it into the matching domain. Rejections leave the
// book, the ledger, and positions untouched.
func (s *OrderService) SubmitOrder(ctx context.Context, req SubmitOrderRequest) (*domain.Order, error) {
	inst, err := s.validate(&req)
	if err != nil {
		return nil, err
	}

	leverage := risk.EffectiveLeverage(req.Leverage)
	reservePrice, err := s.reservePrice(req)
	if err != nil {
		return nil, err
	}

	// Notional floor uses the price the order can actually trade at.
	if err := inst.ValidateNotional(req.Quantity.Mul(reservePrice)); err != nil {
		return nil, err
	}

	now := time.Now()
	order := &domain.Order{
		OrderID:           uuid.New().String(),
		AccountID:         req.AccountID,
		Symbol:            req.Symbol,
		Mode:              req.Mode,
		Side:              req.Side,
		Type:              req.Type,
		TIF:               req.TIF,
		Quantity:          req.Quantity,
		RemainingQuantity: req.Quantity,
		Leverage:          leverage,
		ReservePrice:      reservePrice,
		Status:            domain.OrderStatusPending,
		ExpiresAt:         req.ExpiresAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if req.Price != nil {
		order.Price = *req.Price
	}
	if req.TriggerPrice != nil {
		order.TriggerPrice = *req.TriggerPrice
	}
	if req.DisplayQuantity != nil {
		order.DisplayQuantity = *req.DisplayQuantity
	}
	if req.Type == domain.OrderTypeTWAP {
		order.TwapSlices = req.TwapSlices
		order.TwapInterval = req.TwapInterval
	}

	// Margin is reserved before the book lock is ever taken; the ledger
	// may be remote and must not be called from inside the matching
	// domain.
	required := s.calc.RequiredMargin(req.Quantity, reservePrice, leverage)
	if err := s.ledger.ReserveMargin(ctx, req.AccountID, required); err != nil {
		return nil, err
	}
	order.ReservedMargin = required

	s.orders.Create(order)

	switch req.Type {
	case domain.OrderTypeStop, domain.OrderTypeStopLimit:
		order.Status = domain.OrderStatusWaitingTrigger
		s.trigger.Watch(order)
		return order, nil
	case domain.OrderTypeTWAP:
		s.twap.Schedule(ctx, order)
		return order, nil
	default:
		return s.dispatch(ctx, order)
	}
}

// dispatch runs a matching pass and handles its aftermath: expiry
// tracking for resting orders, reservation release on rejection, and
// event publication.
func (s *OrderService) dispatch(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	result, err := s.matcher.Submit(ctx, order)
	if err != nil {
		if err == domain.ErrOrderAlreadyFinal {
			// A concurrent cancel won; the order must stay in the
			// terminal state the cancel gave it.
			return nil, err
		}
		s.reject(ctx, order, err)
		return nil, err
	}

	if order.Status == domain.OrderStatusOpen || order.Status == domain.OrderStatusPartiallyFilled {
		s.expiry.Add(order)
	}

	s.publishResult(result)
	return order, nil
}

// reject transitions an order that never touched the book to rejected
// and returns its reservation. Unfillable FOK orders and quarantined
// instruments land here.
func (s *OrderService) reject(ctx context.Context, order *domain.Order, cause error) {
	now := time.Now()
	order.CancelledQuantity = order.RemainingQuantity
	order.RemainingQuantity = decimal.Zero
	order.Status = domain.OrderStatusRejected
	order.UpdatedAt = now

	if order.ReservedMargin.IsPositive() {
		if err := s.ledger.ReleaseMargin(ctx, order.AccountID, order.ReservedMargin); err != nil {
			s.logger.Error("reservation release failed",
				slog.String("order_id", order.OrderID),
				slog.String("error", err.Error()),
			)
		}
		order.ReservedMargin = decimal.Zero
	}

	s.logger.Info("order rejected",
		slog.String("order_id", order.OrderID),
		slog.String("symbol", order.Symbol),
		slog.String("reason", cause.Error()),
	)
	s.events.Publish(domain.Event{
		Type:      domain.EventOrderRejected,
		Symbol:    order.Symbol,
		Timestamp: now,
		Order:     domain.SummarizeOrder(order),
	})
}

// SealResult implements engine.ResultSealer. It runs at the end of a
// matching pass, under the book lock, and builds the pass's events with
// their per-symbol sequence numbers already assigned. Two passes on one
// instrument therefore never interleave sequences, no matter which one
// broadcasts first.
func (s *OrderService) SealResult(result *engine.MatchResult) {
	now := time.Now()
	seal := func(ev domain.Event) {
		s.events.Stamp(&ev)
		result.Events = append(result.Events, ev)
	}

	for _, ex := range result.Executions {
		seal(domain.Event{
			Type:      domain.EventFillExecuted,
			Symbol:    ex.TakerFill.Symbol,
			Timestamp: ex.TakerFill.ExecutedAt,
			Fill:      domain.SummarizeFill(ex.TakerFill),
		})
		if ex.Maker.Status == domain.OrderStatusFilled {
			seal(domain.Event{
				Type:      domain.EventOrderFilled,
				Symbol:    ex.Maker.Symbol,
				Timestamp: now,
				Order:     domain.SummarizeOrder(ex.Maker),
			})
		}
	}

	order := result.Order
	switch order.Status {
	case domain.OrderStatusFilled:
		seal(domain.Event{
			Type:      domain.EventOrderFilled,
			Symbol:    order.Symbol,
			Timestamp: now,
			Order:     domain.SummarizeOrder(order),
		})
	case domain.OrderStatusCancelled:
		seal(domain.Event{
			Type:      domain.EventOrderCancelled,
			Symbol:    order.Symbol,
			Timestamp: now,
			Order:     domain.SummarizeOrder(order),
		})
	}
}

// publishResult broadcasts the sealed events of a pass, always after the
// book lock was released, and drops filled makers from expiry tracking.
func (s *OrderService) publishResult(result *engine.MatchResult) {
	for _, id := range result.FilledMakerIDs {
		s.expiry.Remove(id)
	}
	for _, ev := range result.Events {
		s.events.Emit(ev)
	}
}

// reservePrice picks the price margin is reserved at: the limit price
// when the order has one, otherwise the current mark price.
func (s *OrderService) reservePrice(req SubmitOrderRequest) (decimal.Decimal, error) {
	if req.Type.HasLimitPrice() {
		return *req.Price, nil
	}
	mark, err := s.prices.MarkPrice(req.Symbol)
	if err != nil {
		return decimal.Decimal{}, domain.ErrPriceUnavailable
	}
	return mark, nil
}

// validate applies field and instrument validation and returns the
// instrument. It performs no side effects.
func (s *OrderService) validate(req *SubmitOrderRequest) (*domain.Instrument, error) {
	switch req.Type {
	case domain.OrderTypeMarket, domain.OrderTypeLimit, domain.OrderTypeStop,
		domain.OrderTypeStopLimit, domain.OrderTypeIceberg, domain.OrderTypeTWAP:
	default:
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("unknown order type: %s. Must be one of: market, limit, stop, stop_limit, iceberg, twap", req.Type),
		}
	}
	if !accountIDRegex.MatchString(req.AccountID) {
		return nil, &domain.ValidationError{
			Message: "account_id must match ^[a-zA-Z0-9_-]{1,64}$",
		}
	}
	if req.Side != domain.OrderSideBuy && req.Side != domain.OrderSideSell {
		return nil, &domain.ValidationError{
			Message: "side must be 'buy' or 'sell'",
		}
	}
	if !symbolRegex.MatchString(req.Symbol) {
		return nil, &domain.ValidationError{
			Message: "symbol must be an uppercase instrument code",
		}
	}
	if req.TIF == "" {
		req.TIF = domain.TIFGoodTillCancel
	}
	switch req.TIF {
	case domain.TIFGoodTillCancel, domain.TIFImmediateOrCancel, domain.TIFFillOrKill:
	default:
		return nil, &domain.ValidationError{
			Message: "time_in_force must be one of: gtc, ioc, fok",
		}
	}
	if req.Type == domain.OrderTypeMarket && req.TIF == domain.TIFGoodTillCancel {
		// Market orders never rest; they execute as immediate-or-cancel.
		req.TIF = domain.TIFImmediateOrCancel
	}
	if !req.Quantity.IsPositive() {
		return nil, &domain.ValidationError{
			Message: "quantity must be greater than 0",
		}
	}

	if req.Type.HasLimitPrice() {
		if req.Price == nil || !req.Price.IsPositive() {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("price is required for %s orders and must be greater than 0", req.Type),
			}
		}
	} else if req.Price != nil {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("%s orders must not include price", req.Type),
		}
	}

	if req.Type.HasTrigger() {
		if req.TriggerPrice == nil || !req.TriggerPrice.IsPositive() {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("trigger_price is required for %s orders and must be greater than 0", req.Type),
			}
		}
	} else if req.TriggerPrice != nil {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("%s orders must not include trigger_price", req.Type),
		}
	}

	if req.Type == domain.OrderTypeIceberg {
		if req.DisplayQuantity == nil || !req.DisplayQuantity.IsPositive() {
			return nil, &domain.ValidationError{
				Message: "display_quantity is required for iceberg orders and must be greater than 0",
			}
		}
		if req.DisplayQuantity.GreaterThan(req.Quantity) {
			return nil, &domain.ValidationError{
				Message: "display_quantity must not exceed quantity",
			}
		}
	}

	if req.Type == domain.OrderTypeTWAP {
		if req.TwapSlices < 2 {
			return nil, &domain.ValidationError{
				Message: "twap_slices must be at least 2",
			}
		}
		if req.TwapInterval <= 0 {
			return nil, &domain.ValidationError{
				Message: "twap_interval must be a positive duration",
			}
		}
		if req.TIF != domain.TIFGoodTillCancel {
			return nil, &domain.ValidationError{
				Message: "twap orders support only gtc time_in_force",
			}
		}
	}

	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		return nil, &domain.ValidationError{
			Message: "expires_at must be a future timestamp",
		}
	}

	inst, err := s.registry.Get(req.Symbol)
	if err != nil {
		return nil, err
	}
	if !inst.Active {
		return nil, domain.ErrInstrumentInactive
	}
	if req.Mode == "" {
		req.Mode = domain.ModeSpot
	}
	if !inst.SupportsMode(req.Mode) {
		return nil, domain.ErrModeNotSupported
	}
	if err := inst.ValidateQuantity(req.Quantity); err != nil {
		return nil, err
	}
	if req.Type.HasLimitPrice() {
		if err := inst.ValidatePrice(*req.Price); err != nil {
			return nil, err
		}
	}
	if req.Type.HasTrigger() {
		if err := inst.ValidatePrice(*req.TriggerPrice); err != nil {
			return nil, err
		}
	}
	if req.Mode == domain.ModeSpot && req.Leverage.GreaterThan(decimal.NewFromInt(1)) {
		return nil, &domain.ValidationError{
			Message: "spot orders do not support leverage",
		}
	}
	if err := s.calc.ValidateLeverage(inst, risk.EffectiveLeverage(req.Leverage)); err != nil {
		return nil, err
	}

	return inst, nil
}

// GetOrder retrieves an order by ID with all its fills.
func (s *OrderService) GetOrder(orderID string) (*domain.Order, error) {
	return s.orders.Get(orderID)
}

// GetOrderFills retrieves the fills recorded for an order.
func (s *OrderService) GetOrderFills(orderID string) ([]*domain.Fill, error) {
	if _, err := s.orders.Get(orderID); err != nil {
		return nil, err
	}
	return s.fills.GetByOrder(orderID), nil
}

// CancelOrder cancels an order in any non-terminal state. Cancelling a
// terminal order is a no-op that returns the order in its current
// state, so retries are safe; margin is released exactly once.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.orders.Get(orderID)
	if err != nil {
		return nil, err
	}

	// Stop orders waiting on their trigger never reached a book; pull
	// them from the watch set instead.
	if s.trigger.Unwatch(order.Symbol, order.OrderID) {
		return s.cancelUnbooked(ctx, order), nil
	}

	s.twap.Cancel(orderID)

	cancelled, err := s.matcher.Cancel(ctx, orderID)
	if err != nil {
		if err == domain.ErrOrderAlreadyFinal {
			// Idempotent: report the terminal order as-is.
			return cancelled, nil
		}
		return nil, err
	}

	s.expiry.Remove(orderID)

	s.events.Publish(domain.Event{
		Type:      domain.EventOrderCancelled,
		Symbol:    cancelled.Symbol,
		Timestamp: time.Now(),
		Order:     domain.SummarizeOrder(cancelled),
	})
	return cancelled, nil
}

// cancelUnbooked finalizes an order that was never inserted into a
// book (waiting_trigger).
func (s *OrderService) cancelUnbooked(ctx context.Context, order *domain.Order) *domain.Order {
	now := time.Now()
	order.CancelledQuantity = order.CancelledQuantity.Add(order.RemainingQuantity)
	order.RemainingQuantity = decimal.Zero
	order.Status = domain.OrderStatusCancelled
	order.CancelledAt = &now
	order.UpdatedAt = now

	if order.ReservedMargin.IsPositive() {
		_ = s.ledger.ReleaseMargin(ctx, order.AccountID, order.ReservedMargin)
		order.ReservedMargin = decimal.Zero
	}

	s.events.Publish(domain.Event{
		Type:      domain.EventOrderCancelled,
		Symbol:    order.Symbol,
		Timestamp: now,
		Order:     domain.SummarizeOrder(order),
	})
	return order
}

// ListOrders returns a paginated list of orders for an account with
// optional status filtering.
func (s *OrderService) ListOrders(accountID string, status *domain.OrderStatus, page, limit int) ([]*domain.Order, int, error) {
	if !accountIDRegex.MatchString(accountID) {
		return nil, 0, &domain.ValidationError{
			Message: "account_id must match ^[a-zA-Z0-9_-]{1,64}$",
		}
	}
	if status != nil && !ValidOrderStatuses[*status] {
		return nil, 0, &domain.ValidationError{
			Message: fmt.Sprintf("invalid status filter: %q", *status),
		}
	}
	if page < 1 {
		return nil, 0, &domain.ValidationError{
			Message: "page must be >= 1",
		}
	}
	if limit < 1 || limit > 100 {
		return nil, 0, &domain.ValidationError{
			Message: "limit must be between 1 and 100",
		}
	}

	orders, total := s.orders.ListByAccount(accountID, status, page, limit)
	return orders, total, nil
}

// Activate implements engine.Activator: a stop order whose trigger was
// crossed converts to its live form and enters the matching domain. A
// cancel that won the race leaves the order terminal; activation must
// not resurrect it.
func (s *OrderService) Activate(ctx context.Context, order *domain.Order) error {
	var (
		liveType domain.OrderType
		liveTIF  domain.TimeInForce
	)
	switch order.Type {
	case domain.OrderTypeStop:
		liveType, liveTIF = domain.OrderTypeMarket, domain.TIFImmediateOrCancel
	case domain.OrderTypeStopLimit:
		liveType, liveTIF = domain.OrderTypeLimit, order.TIF
	default:
		return fmt.Errorf("order %s is not a stop order", order.OrderID)
	}

	if err := order.Transition(domain.OrderStatusPending, time.Now()); err != nil {
		// Cancelled between trigger and activation; nothing to do.
		return nil
	}
	order.Type = liveType
	order.TIF = liveTIF

	_, err := s.dispatch(ctx, order)
	if err == domain.ErrOrderAlreadyFinal {
		// The matcher re-checks under the book lock; a cancel that won
		// there is equally final for us.
		return nil
	}
	return err
}

// ExecuteSlice implements engine.SliceExecutor: one TWAP child slice is
// matched as a limit slice at the parent price. The parent's post-slice
// state is returned from under the book lock so the scheduler never
// reads the order while a concurrent cancel mutates it.
func (s *OrderService) ExecuteSlice(ctx context.Context, parent *domain.Order, qty decimal.Decimal) (engine.SliceOutcome, error) {
	result, err := s.matcher.SubmitSlice(ctx, parent, qty)
	if err != nil {
		return engine.SliceOutcome{}, err
	}
	s.publishResult(result)
	return engine.SliceOutcome{
		Remaining: result.RemainingAfter,
		Terminal:  result.Terminal,
	}, nil
}

// FinishParent implements engine.SliceExecutor: when the slice schedule
// ends, any unexecuted remainder is cancelled and its reservation
// returned. The cancel goes through the matcher so it serializes with
// concurrent cancels under the book lock; a parent fully filled by its
// last slice is already terminal and needs nothing here.
func (s *OrderService) FinishParent(ctx context.Context, parent *domain.Order) {
	cancelled, err := s.matcher.Cancel(ctx, parent.OrderID)
	if err != nil {
		return
	}
	s.events.Publish(domain.Event{
		Type:      domain.EventOrderCancelled,
		Symbol:    cancelled.Symbol,
		Timestamp: time.Now(),
		Order:     domain.SummarizeOrder(cancelled),
	})
}

// DispatchOrderExpired implements engine.ExpiryDispatcher.
func (s *OrderService) DispatchOrderExpired(order *domain.Order) {
	s.events.Publish(domain.Event{
		Type:      domain.EventOrderExpired,
		Symbol:    order.Symbol,
		Timestamp: time.Now(),
		Order:     domain.SummarizeOrder(order),
	})
}
