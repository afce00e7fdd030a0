// Package events publishes cart changes after their transaction commits.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	CartCreated    Type = "cart.created"
	ItemAdded      Type = "cart.item.added"
	ItemUpdated    Type = "cart.item.updated"
	ItemRemoved    Type = "cart.item.removed"
	CartCheckedOut Type = "cart.checked_out"
)

// Event describes one committed cart change. Quantity is the line quantity
// after the change; Delta is the stock moved (positive when reserved,
// negative when released).
type Event struct {
	ID         uuid.UUID  `json:"id"`
	Type       Type       `json:"type"`
	CartID     uuid.UUID  `json:"cart_id"`
	OwnerID    *uuid.UUID `json:"owner_id,omitempty"`
	ProductID  *uuid.UUID `json:"product_id,omitempty"`
	Quantity   int        `json:"quantity,omitempty"`
	Delta      int        `json:"delta,omitempty"`
	Status     string     `json:"status,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...Event) error { return nil }
