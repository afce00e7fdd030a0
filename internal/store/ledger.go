package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// StockLedger adjusts products.available_quantity inside the caller's
// transaction.
type StockLedger struct {
	now func() time.Time
}

func NewStockLedger(now func() time.Time) *StockLedger {
	if now == nil {
		now = time.Now
	}
	return &StockLedger{now: now}
}

// TryReserve takes delta units out of available stock, failing with
// ErrInsufficientStock rather than going negative.
func (l *StockLedger) TryReserve(ctx context.Context, tx *sql.Tx, productID uuid.UUID, delta int) error {
	return DecrementStock(ctx, tx, productID, delta, l.now())
}

// Release puts delta units back into available stock.
func (l *StockLedger) Release(ctx context.Context, tx *sql.Tx, productID uuid.UUID, delta int) error {
	return IncrementStock(ctx, tx, productID, delta, l.now())
}
