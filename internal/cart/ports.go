package cart

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/safar/go-cart-store/internal/models"
	"github.com/safar/go-cart-store/internal/store"
	"github.com/shopspring/decimal"
)

// Ledger is the per-product available stock counter.
type Ledger interface {
	TryReserve(ctx context.Context, tx *sql.Tx, productID uuid.UUID, delta int) error
	Release(ctx context.Context, tx *sql.Tx, productID uuid.UUID, delta int) error
}

// LineRepository stores the (cart, product) reservations.
type LineRepository interface {
	LockLine(ctx context.Context, tx *sql.Tx, cartID, productID uuid.UUID) (*models.CartLine, error)
	Insert(ctx context.Context, tx *sql.Tx, line models.CartLine) (*models.CartLine, error)
	Upsert(ctx context.Context, tx *sql.Tx, line models.CartLine) (*models.CartLine, error)
	Delete(ctx context.Context, tx *sql.Tx, cartID, productID uuid.UUID) error
	LockLinesByCartAndProducts(ctx context.Context, tx *sql.Tx, cartID uuid.UUID, productIDs []uuid.UUID) (map[uuid.UUID]int, error)
	LockAllLines(ctx context.Context, tx *sql.Tx, cartID uuid.UUID) (map[uuid.UUID]int, error)
	DeleteLines(ctx context.Context, tx *sql.Tx, cartID uuid.UUID, productIDs []uuid.UUID) (int64, error)
}

type CartRepository interface {
	GetOrCreateOpen(ctx context.Context, q store.Querier, ownerID uuid.UUID) (*models.Cart, bool, error)
	Get(ctx context.Context, q store.Querier, cartID uuid.UUID) (*models.Cart, error)
	Lock(ctx context.Context, tx *sql.Tx, cartID uuid.UUID, mode store.LockMode) (*models.Cart, error)
	LockOpenByOwner(ctx context.Context, tx *sql.Tx, ownerID uuid.UUID) (*models.Cart, error)
	Total(ctx context.Context, q store.Querier, cartID uuid.UUID) (decimal.Decimal, error)
	SetStatus(ctx context.Context, tx *sql.Tx, cartID uuid.UUID, status models.CartStatus, total decimal.Decimal) (*models.Cart, error)
	OpenSnapshot(ctx context.Context, q store.Querier, ownerID uuid.UUID) (*models.CartSnapshot, error)
	Snapshot(ctx context.Context, q store.Querier, cartID uuid.UUID) (*models.CartSnapshot, error)
	ListByOwner(ctx context.Context, q store.Querier, ownerID uuid.UUID, cursor string, limit int) (*store.CursorPage, error)
}

// OwnerRepository locks and deletes the users that own carts. The owner row
// is locked before any of its carts.
type OwnerRepository interface {
	LockOwner(ctx context.Context, tx *sql.Tx, ownerID uuid.UUID) error
	DeleteOwner(ctx context.Context, tx *sql.Tx, ownerID uuid.UUID) error
}

// Transactor runs fn inside one transaction, retrying it with a fresh
// transaction when the failure is a serialization or deadlock error.
type Transactor interface {
	InTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error
}
