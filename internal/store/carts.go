package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/safar/go-cart-store/internal/database"
	"github.com/safar/go-cart-store/internal/models"
	"github.com/shopspring/decimal"
)

const cartColumns = `id, owner_id, status, total_amount, created_at, updated_at`

func scanCart(row rowScanner, cart *models.Cart) error {
	return row.Scan(
		&cart.ID,
		&cart.OwnerID,
		&cart.Status,
		&cart.TotalAmount,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	)
}

// LockMode selects the row lock taken on a cart.
type LockMode int

const (
	// LockShare blocks status changes while allowing concurrent line
	// mutations in the same cart.
	LockShare LockMode = iota
	// LockExclusive serializes against every other cart mutation.
	LockExclusive
)

func (m LockMode) clause() string {
	switch m {
	case LockExclusive:
		return "FOR UPDATE"
	default:
		return "FOR SHARE"
	}
}

type CartRepository struct {
	now func() time.Time
}

func NewCartRepository(now func() time.Time) *CartRepository {
	if now == nil {
		now = time.Now
	}
	return &CartRepository{now: now}
}

// GetOrCreateOpen returns the owner's open cart, creating it when none
// exists; created reports whether this call inserted it. The partial unique
// index on open carts makes concurrent callers converge on a single row.
func (r *CartRepository) GetOrCreateOpen(ctx context.Context, q Querier, ownerID uuid.UUID) (cart *models.Cart, created bool, err error) {
	insert := `
		INSERT INTO carts (owner_id, status, total_amount, created_at, updated_at)
		VALUES ($1, $2, 0, $3, $3)
		ON CONFLICT (owner_id) WHERE status = 'open' DO NOTHING
		RETURNING ` + cartColumns

	selectOpen := `
		SELECT ` + cartColumns + `
		FROM carts
		WHERE owner_id = $1 AND status = $2`

	// The open cart found by the conflict may be checked out before we read
	// it; a couple of passes is enough to settle.
	for attempt := 0; attempt < 3; attempt++ {
		cart = &models.Cart{}
		err = scanCart(q.QueryRowContext(ctx, insert, ownerID, models.CartStatusOpen, r.now()), cart)
		if err == nil {
			return cart, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23503" {
				return nil, false, database.ErrUserNotFound
			}
			return nil, false, fmt.Errorf("create cart: %w", database.TranslateError(err))
		}

		err = scanCart(q.QueryRowContext(ctx, selectOpen, ownerID, models.CartStatusOpen), cart)
		if err == nil {
			return cart, false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, false, fmt.Errorf("get open cart: %w", err)
		}
	}

	return nil, false, fmt.Errorf("get or create cart for owner %s: open cart kept changing", ownerID)
}

// Lock reads the cart row under the given lock mode.
func (r *CartRepository) Lock(ctx context.Context, tx *sql.Tx, cartID uuid.UUID, mode LockMode) (*models.Cart, error) {
	cart := &models.Cart{}

	query := `
		SELECT ` + cartColumns + `
		FROM carts
		WHERE id = $1
		` + mode.clause()

	err := scanCart(tx.QueryRowContext(ctx, query, cartID), cart)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrCartNotFound
		}
		return nil, fmt.Errorf("lock cart: %w", err)
	}

	return cart, nil
}

// LockOpenByOwner locks the owner's open cart FOR UPDATE. It returns nil
// when the owner has none.
func (r *CartRepository) LockOpenByOwner(ctx context.Context, tx *sql.Tx, ownerID uuid.UUID) (*models.Cart, error) {
	cart := &models.Cart{}

	query := `
		SELECT ` + cartColumns + `
		FROM carts
		WHERE owner_id = $1 AND status = $2
		FOR UPDATE`

	err := scanCart(tx.QueryRowContext(ctx, query, ownerID, models.CartStatusOpen), cart)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock open cart: %w", err)
	}

	return cart, nil
}

func (r *CartRepository) Get(ctx context.Context, q Querier, cartID uuid.UUID) (*models.Cart, error) {
	cart := &models.Cart{}

	err := scanCart(q.QueryRowContext(ctx,
		`SELECT `+cartColumns+` FROM carts WHERE id = $1`, cartID), cart)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrCartNotFound
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}

	return cart, nil
}

// Total sums the line totals of the cart.
func (r *CartRepository) Total(ctx context.Context, q Querier, cartID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(line_total), 0) FROM cart_items WHERE cart_id = $1`,
		cartID).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum cart total: %w", err)
	}
	return total, nil
}

// SetStatus moves the cart to status and freezes its total.
func (r *CartRepository) SetStatus(ctx context.Context, tx *sql.Tx, cartID uuid.UUID, status models.CartStatus, total decimal.Decimal) (*models.Cart, error) {
	cart := &models.Cart{}

	query := `
		UPDATE carts
		SET status = $2, total_amount = $3, updated_at = $4
		WHERE id = $1
		RETURNING ` + cartColumns

	err := scanCart(tx.QueryRowContext(ctx, query, cartID, status, total, r.now()), cart)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrCartNotFound
		}
		return nil, fmt.Errorf("update cart status: %w", database.TranslateError(err))
	}

	return cart, nil
}

// OpenSnapshot builds the read view of the owner's open cart.
func (r *CartRepository) OpenSnapshot(ctx context.Context, q Querier, ownerID uuid.UUID) (*models.CartSnapshot, error) {
	snapshot := &models.CartSnapshot{}

	err := scanCart(q.QueryRowContext(ctx,
		`SELECT `+cartColumns+` FROM carts WHERE owner_id = $1 AND status = $2`,
		ownerID, models.CartStatusOpen), &snapshot.Cart)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrCartNotFound
		}
		return nil, fmt.Errorf("get open cart: %w", err)
	}

	if err := r.fillItems(ctx, q, snapshot); err != nil {
		return nil, err
	}

	return snapshot, nil
}

// Snapshot builds the read view of any cart.
func (r *CartRepository) Snapshot(ctx context.Context, q Querier, cartID uuid.UUID) (*models.CartSnapshot, error) {
	cart, err := r.Get(ctx, q, cartID)
	if err != nil {
		return nil, err
	}

	snapshot := &models.CartSnapshot{Cart: *cart}
	if err := r.fillItems(ctx, q, snapshot); err != nil {
		return nil, err
	}

	return snapshot, nil
}

func (r *CartRepository) fillItems(ctx context.Context, q Querier, snapshot *models.CartSnapshot) error {
	query := `
		SELECT ci.cart_id, ci.product_id, ci.quantity, ci.unit_amount, ci.line_total,
		       ci.created_at, ci.updated_at,
		       p.id, p.name, p.unit_price, p.pack_price, p.available_quantity, p.updated_at
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1
		ORDER BY ci.created_at, ci.product_id`

	rows, err := q.QueryContext(ctx, query, snapshot.ID)
	if err != nil {
		return fmt.Errorf("get cart items: %w", err)
	}
	defer rows.Close()

	items := []models.CartSnapshotLine{}
	total := decimal.Zero
	for rows.Next() {
		var item models.CartSnapshotLine
		err := rows.Scan(
			&item.CartID,
			&item.ProductID,
			&item.Quantity,
			&item.UnitAmount,
			&item.LineTotal,
			&item.CreatedAt,
			&item.UpdatedAt,
			&item.Product.ID,
			&item.Product.Name,
			&item.Product.UnitPrice,
			&item.Product.PackPrice,
			&item.Product.AvailableQuantity,
			&item.Product.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("scan cart item: %w", err)
		}
		total = total.Add(item.LineTotal)
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	snapshot.Items = items
	// Terminal carts keep the total frozen at checkout.
	if snapshot.Status == models.CartStatusOpen {
		snapshot.TotalAmount = total
	}

	return nil
}

// ListByOwner pages through every cart of the owner, newest first.
func (r *CartRepository) ListByOwner(ctx context.Context, q Querier, ownerID uuid.UUID, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	query := `
		SELECT ` + cartColumns + `
		FROM carts
		WHERE owner_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := q.QueryContext(ctx, query, ownerID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list carts: %w", err)
	}
	defer rows.Close()

	carts := []models.Cart{}
	for rows.Next() {
		var cart models.Cart
		if err := scanCart(rows, &cart); err != nil {
			return nil, fmt.Errorf("scan cart: %w", err)
		}
		carts = append(carts, cart)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(carts) > limit
	if hasMore {
		carts = carts[:limit]
	}

	var nextCursor string
	if hasMore && len(carts) > 0 {
		last := carts[len(carts)-1]
		nextCursor = EncodeCursor(CartCursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}

	return &CursorPage{
		Items:      carts,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}
