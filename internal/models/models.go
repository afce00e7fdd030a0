package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type User struct {
	ID             uuid.UUID `json:"id"`
	Email          string    `json:"email"`
	Username       string    `json:"username"`
	HashedPassword string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Product struct {
	ID                uuid.UUID           `json:"id"`
	Name              string              `json:"name"`
	UnitPrice         decimal.Decimal     `json:"unit_price"`
	PackPrice         decimal.NullDecimal `json:"pack_price"`
	AvailableQuantity int                 `json:"available_quantity"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

type Cart struct {
	ID          uuid.UUID       `json:"id"`
	OwnerID     uuid.UUID       `json:"owner_id"`
	Status      CartStatus      `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// CartLine is the reservation of Quantity units of one product by one cart.
// A line never exists with a zero quantity.
type CartLine struct {
	CartID     uuid.UUID       `json:"cart_id"`
	ProductID  uuid.UUID       `json:"product_id"`
	Quantity   int             `json:"quantity"`
	UnitAmount decimal.Decimal `json:"unit_amount"`
	LineTotal  decimal.Decimal `json:"line_total"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ComputeLineTotal mirrors the line_total generated column.
func ComputeLineTotal(quantity int, unitAmount decimal.Decimal) decimal.Decimal {
	return unitAmount.Mul(decimal.NewFromInt(int64(quantity)))
}

// ProductSnapshot is the product state shown next to a cart line.
type ProductSnapshot struct {
	ID                uuid.UUID           `json:"id"`
	Name              string              `json:"name"`
	UnitPrice         decimal.Decimal     `json:"unit_price"`
	PackPrice         decimal.NullDecimal `json:"pack_price"`
	AvailableQuantity int                 `json:"available_quantity"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

type CartSnapshotLine struct {
	CartLine
	Product ProductSnapshot `json:"product"`
}

// CartSnapshot is the read view of a cart with its lines.
type CartSnapshot struct {
	Cart
	Items []CartSnapshotLine `json:"items"`
}
