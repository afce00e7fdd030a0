package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-cart-store/internal/database"
	"github.com/safar/go-cart-store/internal/models"
	"github.com/shopspring/decimal"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const productColumns = `id, name, unit_price, pack_price, available_quantity, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner, product *models.Product) error {
	return row.Scan(
		&product.ID,
		&product.Name,
		&product.UnitPrice,
		&product.PackPrice,
		&product.AvailableQuantity,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
}

type CreateProductRequest struct {
	Name              string
	UnitPrice         decimal.Decimal
	PackPrice         decimal.NullDecimal
	AvailableQuantity int
}

func CreateProduct(ctx context.Context, q Querier, req CreateProductRequest) (*models.Product, error) {
	product := &models.Product{}

	query := `
		INSERT INTO products (name, unit_price, pack_price, available_quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING ` + productColumns

	err := scanProduct(q.QueryRowContext(ctx, query, req.Name, req.UnitPrice, req.PackPrice, req.AvailableQuantity), product)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", database.TranslateError(err))
	}

	return product, nil
}

func GetProduct(ctx context.Context, q Querier, id uuid.UUID) (*models.Product, error) {
	product := &models.Product{}

	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE id = $1`

	err := scanProduct(q.QueryRowContext(ctx, query, id), product)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

// UpdateProductRequest carries a partial update; nil fields keep their
// current value.
type UpdateProductRequest struct {
	Name              *string
	UnitPrice         *decimal.Decimal
	PackPrice         *decimal.Decimal
	AvailableQuantity *int
}

func UpdateProduct(ctx context.Context, q Querier, id uuid.UUID, req UpdateProductRequest) (*models.Product, error) {
	product := &models.Product{}

	query := `
		UPDATE products
		SET name = COALESCE($2, name),
		    unit_price = COALESCE($3, unit_price),
		    pack_price = COALESCE($4, pack_price),
		    available_quantity = COALESCE($5, available_quantity),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + productColumns

	err := scanProduct(q.QueryRowContext(ctx, query, id, req.Name, req.UnitPrice, req.PackPrice, req.AvailableQuantity), product)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("update product: %w", database.TranslateError(err))
	}

	return product, nil
}

// DeleteProduct fails with a foreign key DBError while any cart line still
// references the product.
func DeleteProduct(ctx context.Context, q Querier, id uuid.UUID) (*models.Product, error) {
	product := &models.Product{}

	err := scanProduct(q.QueryRowContext(ctx,
		`DELETE FROM products WHERE id = $1 RETURNING `+productColumns, id), product)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("delete product: %w", database.TranslateError(err))
	}

	return product, nil
}

// DecrementStock subtracts quantity from available stock only if enough is
// available. The UPDATE takes the product row lock for the rest of tx.
func DecrementStock(ctx context.Context, tx *sql.Tx, productID uuid.UUID, quantity int, now time.Time) error {
	if quantity <= 0 {
		return database.ErrInvalidQuantity
	}

	var remaining int
	err := tx.QueryRowContext(ctx,
		`UPDATE products
		 SET available_quantity = available_quantity - $1,
		     updated_at = $3
		 WHERE id = $2
		   AND available_quantity >= $1
		 RETURNING available_quantity`,
		quantity, productID, now).Scan(&remaining)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("decrement stock: %w", err)
	}

	var exists bool
	err = tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)",
		productID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check product exists: %w", err)
	}
	if !exists {
		return database.ErrProductNotFound
	}

	return database.ErrInsufficientStock
}

// IncrementStock returns quantity units to available stock.
func IncrementStock(ctx context.Context, tx *sql.Tx, productID uuid.UUID, quantity int, now time.Time) error {
	if quantity <= 0 {
		return database.ErrInvalidQuantity
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET available_quantity = available_quantity + $1,
		     updated_at = $3
		 WHERE id = $2`,
		quantity, productID, now)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrProductNotFound
	}

	return nil
}

func ListProducts(ctx context.Context, q Querier, search string, page, pageSize int) (*OffsetPage, error) {
	pattern := "%"
	if search != "" {
		pattern = "%" + search + "%"
	}

	var total int64
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE name ILIKE $1`, pattern).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE name ILIKE $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := q.QueryContext(ctx, query, pattern, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var product models.Product
		if err := scanProduct(rows, &product); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(products, total, page, pageSize), nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
