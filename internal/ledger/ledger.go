// Package ledger defines the balance ledger contract the exchange core
// depends on. The ledger is the sole source of truth for available funds;
// the core never caches balances beyond a single validation call.
package ledger

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/quantex/exchange/internal/domain"
)

// Ledger is the outbound contract to the balance authority. All amounts
// are quote-denominated. Implementations must make each operation atomic
// per account, since two instruments can contend on the same balance
// concurrently. Calls may be remote and must therefore happen outside
// any per-instrument matching lock.
type Ledger interface {
	// ReserveMargin holds amount against the account's free balance.
	// Returns domain.ErrInsufficientMargin when the free balance is
	// smaller than amount.
	ReserveMargin(ctx context.Context, accountID string, amount decimal.Decimal) error
	// ReleaseMargin returns a previously reserved amount to the free
	// balance.
	ReleaseMargin(ctx context.Context, accountID string, amount decimal.Decimal) error
	// ApplyRealizedPnL credits (or debits, for negative delta) realized
	// profit and loss to the account's balance.
	ApplyRealizedPnL(ctx context.Context, accountID string, delta decimal.Decimal) error
	// Available returns the account's free (unreserved) balance.
	Available(ctx context.Context, accountID string) (decimal.Decimal, error)
}

type balance struct {
	total    decimal.Decimal
	reserved decimal.Decimal
}

// MemoryLedger is the in-process reference implementation used for local
// runs and tests. Unknown accounts have a zero balance.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]*balance
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[string]*balance)}
}

// Deposit credits the account's total balance. Seeding hook for local
// runs; a production deployment receives deposits from the custody
// service instead.
func (l *MemoryLedger) Deposit(accountID string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.account(accountID).total = l.account(accountID).total.Add(amount)
}

func (l *MemoryLedger) account(id string) *balance {
	b, ok := l.balances[id]
	if !ok {
		b = &balance{}
		l.balances[id] = b
	}
	return b
}

// ReserveMargin implements Ledger.
func (l *MemoryLedger) ReserveMargin(_ context.Context, accountID string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.account(accountID)
	if b.total.Sub(b.reserved).LessThan(amount) {
		return domain.ErrInsufficientMargin
	}
	b.reserved = b.reserved.Add(amount)
	return nil
}

// ReleaseMargin implements Ledger. Releasing more than is reserved clamps
// at zero rather than going negative.
func (l *MemoryLedger) ReleaseMargin(_ context.Context, accountID string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.account(accountID)
	b.reserved = b.reserved.Sub(amount)
	if b.reserved.IsNegative() {
		b.reserved = decimal.Zero
	}
	return nil
}

// ApplyRealizedPnL implements Ledger.
func (l *MemoryLedger) ApplyRealizedPnL(_ context.Context, accountID string, delta decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.account(accountID)
	b.total = b.total.Add(delta)
	return nil
}

// Available implements Ledger.
func (l *MemoryLedger) Available(_ context.Context, accountID string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.account(accountID)
	return b.total.Sub(b.reserved), nil
}

// Reserved returns the account's held amount. Test helper.
func (l *MemoryLedger) Reserved(accountID string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account(accountID).reserved
}

// Total returns the account's gross balance. Test helper.
func (l *MemoryLedger) Total(accountID string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account(accountID).total
}
