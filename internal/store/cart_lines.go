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
)

const lineColumns = `cart_id, product_id, quantity, unit_amount, line_total, created_at, updated_at`

func scanLine(row rowScanner, line *models.CartLine) error {
	return row.Scan(
		&line.CartID,
		&line.ProductID,
		&line.Quantity,
		&line.UnitAmount,
		&line.LineTotal,
		&line.CreatedAt,
		&line.UpdatedAt,
	)
}

// LineRepository stores cart lines. Every method runs on the caller's
// transaction; the locking reads hold their row locks until it ends.
type LineRepository struct {
	now func() time.Time
}

func NewLineRepository(now func() time.Time) *LineRepository {
	if now == nil {
		now = time.Now
	}
	return &LineRepository{now: now}
}

// LockLine returns the line with a row lock, or nil when the cart does not
// hold the product.
func (r *LineRepository) LockLine(ctx context.Context, tx *sql.Tx, cartID, productID uuid.UUID) (*models.CartLine, error) {
	line := &models.CartLine{}

	query := `
		SELECT ` + lineColumns + `
		FROM cart_items
		WHERE cart_id = $1 AND product_id = $2
		FOR UPDATE`

	err := scanLine(tx.QueryRowContext(ctx, query, cartID, productID), line)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock cart line: %w", err)
	}

	return line, nil
}

// Insert creates a new line. If another transaction inserted the same
// (cart, product) first, it returns ErrLineConflict instead of overwriting.
func (r *LineRepository) Insert(ctx context.Context, tx *sql.Tx, line models.CartLine) (*models.CartLine, error) {
	inserted := &models.CartLine{}
	now := r.now()

	query := `
		INSERT INTO cart_items (cart_id, product_id, quantity, unit_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (cart_id, product_id) DO NOTHING
		RETURNING ` + lineColumns

	err := scanLine(tx.QueryRowContext(ctx, query,
		line.CartID, line.ProductID, line.Quantity, line.UnitAmount, now), inserted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrLineConflict
		}
		return nil, fmt.Errorf("insert cart line: %w", database.TranslateError(err))
	}

	return inserted, nil
}

// Upsert inserts the line or replaces its quantity and unit amount.
func (r *LineRepository) Upsert(ctx context.Context, tx *sql.Tx, line models.CartLine) (*models.CartLine, error) {
	if line.Quantity <= 0 {
		return nil, database.ErrInvalidQuantity
	}

	upserted := &models.CartLine{}
	now := r.now()

	query := `
		INSERT INTO cart_items (cart_id, product_id, quantity, unit_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (cart_id, product_id) DO UPDATE
		SET quantity = EXCLUDED.quantity,
		    unit_amount = EXCLUDED.unit_amount,
		    updated_at = EXCLUDED.updated_at
		RETURNING ` + lineColumns

	err := scanLine(tx.QueryRowContext(ctx, query,
		line.CartID, line.ProductID, line.Quantity, line.UnitAmount, now), upserted)
	if err != nil {
		return nil, fmt.Errorf("upsert cart line: %w", database.TranslateError(err))
	}

	return upserted, nil
}

func (r *LineRepository) Delete(ctx context.Context, tx *sql.Tx, cartID, productID uuid.UUID) error {
	result, err := tx.ExecContext(ctx,
		`DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`,
		cartID, productID)
	if err != nil {
		return fmt.Errorf("delete cart line: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrItemNotFound
	}

	return nil
}

// LockLinesByCartAndProducts locks the lines of cartID for the given
// products, in product id order, and returns their quantities. Products the
// cart does not hold are absent from the result.
func (r *LineRepository) LockLinesByCartAndProducts(ctx context.Context, tx *sql.Tx, cartID uuid.UUID, productIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	query := `
		SELECT product_id, quantity
		FROM cart_items
		WHERE cart_id = $1 AND product_id = ANY($2::uuid[])
		ORDER BY product_id
		FOR UPDATE`

	return r.lockQuantities(ctx, tx, query, cartID, pq.Array(uuidStrings(productIDs)))
}

// LockAllLines locks every line of the cart.
func (r *LineRepository) LockAllLines(ctx context.Context, tx *sql.Tx, cartID uuid.UUID) (map[uuid.UUID]int, error) {
	query := `
		SELECT product_id, quantity
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY product_id
		FOR UPDATE`

	return r.lockQuantities(ctx, tx, query, cartID)
}

func (r *LineRepository) lockQuantities(ctx context.Context, tx *sql.Tx, query string, args ...any) (map[uuid.UUID]int, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lock cart lines: %w", err)
	}
	defer rows.Close()

	quantities := make(map[uuid.UUID]int)
	for rows.Next() {
		var productID uuid.UUID
		var quantity int
		if err := rows.Scan(&productID, &quantity); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		quantities[productID] = quantity
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return quantities, nil
}

func (r *LineRepository) DeleteLines(ctx context.Context, tx *sql.Tx, cartID uuid.UUID, productIDs []uuid.UUID) (int64, error) {
	result, err := tx.ExecContext(ctx,
		`DELETE FROM cart_items WHERE cart_id = $1 AND product_id = ANY($2::uuid[])`,
		cartID, pq.Array(uuidStrings(productIDs)))
	if err != nil {
		return 0, fmt.Errorf("delete cart lines: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	return rowsAffected, nil
}
