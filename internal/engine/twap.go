package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantex/exchange/internal/domain"
)

// SliceOutcome is the parent's post-slice state, captured under the book
// lock so the scheduler never reads the order concurrently with a
// cancel.
type SliceOutcome struct {
	Remaining decimal.Decimal
	Terminal  bool
}

// SliceExecutor runs one TWAP child slice against the book and finishes
// the parent once the schedule is exhausted. Implemented by the order
// service so slice fills flow through the same settlement and event
// path as any other execution.
type SliceExecutor interface {
	ExecuteSlice(ctx context.Context, parent *domain.Order, qty decimal.Decimal) (SliceOutcome, error)
	FinishParent(ctx context.Context, parent *domain.Order)
}

// TWAPScheduler spreads a parent order over time: the parent quantity
// is split into equal slices submitted on a fixed interval, each
// matched as a limit slice at the parent price. One goroutine per
// active parent.
type TWAPScheduler struct {
	mu     sync.Mutex
	stops  map[string]chan struct{}
	wg     sync.WaitGroup
	closed bool

	executor SliceExecutor
	logger   *slog.Logger
}

// NewTWAPScheduler creates an idle scheduler.
func NewTWAPScheduler(executor SliceExecutor, logger *slog.Logger) *TWAPScheduler {
	return &TWAPScheduler{
		stops:    make(map[string]chan struct{}),
		executor: executor,
		logger:   logger,
	}
}

// Schedule starts the slice loop for a TWAP parent. The first slice
// runs immediately; the rest follow on the parent's interval. The loop
// exits when the schedule is exhausted, the parent reaches a terminal
// status, or the order is cancelled via Cancel.
//
// The schedule outlives the submitting caller: cancellation of the
// submission context (an HTTP request, typically) must not kill slices
// that are due hours later. Stopping a schedule goes through Cancel or
// Close.
func (s *TWAPScheduler) Schedule(ctx context.Context, order *domain.Order) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.stops[order.OrderID] = stop
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(context.WithoutCancel(ctx), order, stop)
}

// Cancel stops the slice loop for the order, reporting whether one was
// running. The caller still cancels the parent through the matcher.
func (s *TWAPScheduler) Cancel(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	stop, ok := s.stops[orderID]
	if !ok {
		return false
	}
	close(stop)
	delete(s.stops, orderID)
	return true
}

// Active returns the number of parents currently being sliced.
func (s *TWAPScheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stops)
}

// Close stops accepting new parents and waits for running loops to
// observe their stop channels.
func (s *TWAPScheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for id, stop := range s.stops {
		close(stop)
		delete(s.stops, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *TWAPScheduler) run(ctx context.Context, order *domain.Order, stop chan struct{}) {
	defer s.wg.Done()
	defer s.finish(ctx, order)

	slices := order.TwapSlices
	if slices < 1 {
		slices = 1
	}
	base := order.Quantity.Div(decimal.NewFromInt(int64(slices)))

	ticker := time.NewTicker(order.TwapInterval)
	defer ticker.Stop()

	// Tracked locally from slice outcomes: the parent's live fields are
	// mutated under the book lock and must not be read here.
	remaining := order.Quantity

	for i := 0; i < slices; i++ {
		if i > 0 {
			select {
			case <-ticker.C:
			case <-stop:
				return
			}
		}

		// The last slice takes whatever is left so rounding in the
		// per-slice division never strands quantity.
		qty := base
		if i == slices-1 {
			qty = remaining
		} else {
			qty = decimal.Min(qty, remaining)
		}
		if !qty.IsPositive() {
			return
		}

		outcome, err := s.executor.ExecuteSlice(ctx, order, qty)
		if err != nil {
			if s.logger != nil {
				s.logger.Error("twap slice failed",
					slog.String("order_id", order.OrderID),
					slog.String("symbol", order.Symbol),
					slog.Int("slice", i+1),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		remaining = outcome.Remaining
		if outcome.Terminal {
			return
		}
	}
}

func (s *TWAPScheduler) finish(ctx context.Context, order *domain.Order) {
	s.mu.Lock()
	delete(s.stops, order.OrderID)
	s.mu.Unlock()
	s.executor.FinishParent(ctx, order)
}
