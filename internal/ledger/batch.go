package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Batch queues ledger operations recorded while a matching lock is held
// so they can be applied after the lock is released. The ledger may be
// remote; matching must never wait on it.
type Batch struct {
	ops []batchOp
}

type batchOp struct {
	accountID string
	release   decimal.Decimal
	pnl       decimal.Decimal
}

// NewBatch creates an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Release records a margin release for the account.
func (b *Batch) Release(accountID string, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	b.ops = append(b.ops, batchOp{accountID: accountID, release: amount})
}

// RealizePnL records a realized profit-and-loss delta for the account.
func (b *Batch) RealizePnL(accountID string, delta decimal.Decimal) {
	if delta.IsZero() {
		return
	}
	b.ops = append(b.ops, batchOp{accountID: accountID, pnl: delta})
}

// Empty reports whether the batch holds no operations.
func (b *Batch) Empty() bool {
	return len(b.ops) == 0
}

// Flush applies the recorded operations against the ledger in recording
// order. All operations are attempted; the first error is returned.
func (b *Batch) Flush(ctx context.Context, l Ledger) error {
	var first error
	for _, op := range b.ops {
		if op.release.IsPositive() {
			if err := l.ReleaseMargin(ctx, op.accountID, op.release); err != nil && first == nil {
				first = err
			}
		}
		if !op.pnl.IsZero() {
			if err := l.ApplyRealizedPnL(ctx, op.accountID, op.pnl); err != nil && first == nil {
				first = err
			}
		}
	}
	b.ops = b.ops[:0]
	return first
}
