package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantex/exchange/internal/domain"
	"github.com/quantex/exchange/internal/ledger"
)

type recordingDispatcher struct {
	expired []*domain.Order
}

func (r *recordingDispatcher) DispatchOrderExpired(o *domain.Order) {
	r.expired = append(r.expired, o)
}

func newExpiryFixture() (*ExpiryManager, *BookManager, *ledger.MemoryLedger, *recordingDispatcher) {
	books := NewBookManager()
	balances := ledger.NewMemoryLedger()
	dispatcher := &recordingDispatcher{}
	mgr := NewExpiryManager(time.Second, books, balances, dispatcher)
	return mgr, books, balances, dispatcher
}

func restingOrder(books *BookManager, id string, expiresAt time.Time, reserved string) *domain.Order {
	book := books.GetOrCreate("BTC-USDT")
	o := &domain.Order{
		OrderID:           id,
		AccountID:         "alice",
		Symbol:            "BTC-USDT",
		Side:              domain.OrderSideBuy,
		Type:              domain.OrderTypeLimit,
		Price:             d("100"),
		Quantity:          d("5"),
		RemainingQuantity: d("5"),
		ReservedMargin:    d(reserved),
		Status:            domain.OrderStatusOpen,
		ExpiresAt:         &expiresAt,
		Seq:               book.NextSeq(),
	}
	book.InsertBid(OrderBookEntry{Price: o.Price, Seq: o.Seq, OrderID: o.OrderID, Order: o})
	return o
}

func TestExpiryManager_AddKeepsSortedOrder(t *testing.T) {
	mgr, books, _, _ := newExpiryFixture()
	now := time.Now()

	late := restingOrder(books, "late", now.Add(3*time.Hour), "0")
	early := restingOrder(books, "early", now.Add(time.Hour), "0")
	mid := restingOrder(books, "mid", now.Add(2*time.Hour), "0")
	mgr.Add(late)
	mgr.Add(early)
	mgr.Add(mid)

	if mgr.ActiveOrderCount() != 3 {
		t.Fatalf("count = %d, want 3", mgr.ActiveOrderCount())
	}

	// Only the earliest two are past the cutoff.
	mgr.tick(context.Background(), now.Add(2*time.Hour))
	if mgr.ActiveOrderCount() != 1 {
		t.Errorf("count after tick = %d, want 1", mgr.ActiveOrderCount())
	}
	if early.Status != domain.OrderStatusExpired || mid.Status != domain.OrderStatusExpired {
		t.Error("expected the two earliest orders expired")
	}
	if late.Status != domain.OrderStatusOpen {
		t.Errorf("late order status = %s, want open", late.Status)
	}
}

func TestExpiryManager_NoExpiresAtIgnored(t *testing.T) {
	mgr, books, _, _ := newExpiryFixture()
	o := restingOrder(books, "o1", time.Now(), "0")
	o.ExpiresAt = nil
	mgr.Add(o)
	if mgr.ActiveOrderCount() != 0 {
		t.Errorf("count = %d, want 0", mgr.ActiveOrderCount())
	}
}

func TestExpiryManager_ExpireReleasesReservationAndDispatches(t *testing.T) {
	mgr, books, balances, dispatcher := newExpiryFixture()
	now := time.Now()

	balances.Deposit("alice", d("1000"))
	if err := balances.ReserveMargin(context.Background(), "alice", d("500")); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	o := restingOrder(books, "o1", now.Add(-time.Minute), "500")
	mgr.Add(o)

	mgr.tick(context.Background(), now)

	if o.Status != domain.OrderStatusExpired {
		t.Fatalf("status = %s, want expired", o.Status)
	}
	if !o.RemainingQuantity.IsZero() || !o.CancelledQuantity.Equal(d("5")) {
		t.Errorf("remaining %s cancelled %s", o.RemainingQuantity, o.CancelledQuantity)
	}
	if o.ExpiredAt == nil || !o.ExpiredAt.Equal(*o.ExpiresAt) {
		t.Error("expected ExpiredAt stamped with the scheduled expiry time")
	}
	if !balances.Reserved("alice").IsZero() {
		t.Errorf("reserved = %s, want 0", balances.Reserved("alice"))
	}
	if books.GetOrCreate("BTC-USDT").Contains("o1") {
		t.Error("expired order still on book")
	}
	if len(dispatcher.expired) != 1 || dispatcher.expired[0].OrderID != "o1" {
		t.Errorf("dispatched = %v", dispatcher.expired)
	}
}

func TestExpiryManager_TerminalOrderSkipped(t *testing.T) {
	mgr, books, _, dispatcher := newExpiryFixture()
	now := time.Now()

	o := restingOrder(books, "o1", now.Add(-time.Minute), "0")
	// A cancel won the race before the tick.
	o.Status = domain.OrderStatusCancelled
	o.CancelledQuantity = o.RemainingQuantity
	o.RemainingQuantity = decimal.Zero
	mgr.Add(o)

	mgr.tick(context.Background(), now)

	if o.Status != domain.OrderStatusCancelled {
		t.Errorf("status = %s, want cancelled untouched", o.Status)
	}
	if len(dispatcher.expired) != 0 {
		t.Error("terminal order dispatched as expired")
	}
}

func TestExpiryManager_Remove(t *testing.T) {
	mgr, books, _, dispatcher := newExpiryFixture()
	now := time.Now()

	o := restingOrder(books, "o1", now.Add(-time.Minute), "0")
	mgr.Add(o)
	mgr.Remove("o1")

	if mgr.ActiveOrderCount() != 0 {
		t.Fatalf("count = %d, want 0", mgr.ActiveOrderCount())
	}
	mgr.tick(context.Background(), now)
	if o.Status != domain.OrderStatusOpen {
		t.Errorf("removed order expired anyway: %s", o.Status)
	}
	if len(dispatcher.expired) != 0 {
		t.Error("removed order dispatched")
	}
}

func TestExpiryManager_FutureOrderNotExpired(t *testing.T) {
	mgr, books, _, _ := newExpiryFixture()
	now := time.Now()

	o := restingOrder(books, "o1", now.Add(time.Hour), "0")
	mgr.Add(o)
	mgr.tick(context.Background(), now)

	if o.Status != domain.OrderStatusOpen {
		t.Errorf("status = %s, want open", o.Status)
	}
	if mgr.ActiveOrderCount() != 1 {
		t.Errorf("count = %d, want 1", mgr.ActiveOrderCount())
	}
}
