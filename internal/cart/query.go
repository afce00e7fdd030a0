package cart

import (
	"context"

	"github.com/google/uuid"
	"github.com/safar/go-cart-store/internal/database"
	"github.com/safar/go-cart-store/internal/events"
	"github.com/safar/go-cart-store/internal/models"
	"github.com/safar/go-cart-store/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// GetOpenCart returns the owner's open cart with its lines. It takes no
// locks.
func (s *Service) GetOpenCart(ctx context.Context, ownerID uuid.UUID) (*models.CartSnapshot, error) {
	return s.carts.OpenSnapshot(ctx, s.reader, ownerID)
}

// GetOrCreateOpenCart returns the owner's open cart, creating an empty one
// when none exists.
func (s *Service) GetOrCreateOpenCart(ctx context.Context, ownerID uuid.UUID) (*models.Cart, error) {
	cart, created, err := s.carts.GetOrCreateOpen(ctx, s.reader, ownerID)
	if err != nil {
		return nil, err
	}

	if created {
		s.log.InfoContext(ctx, "cart created", "cart_id", cart.ID, "owner_id", ownerID)
		s.publish(ctx, events.Event{
			Type:    events.CartCreated,
			CartID:  cart.ID,
			OwnerID: &ownerID,
			Status:  cart.Status.String(),
		})
	}

	return cart, nil
}

// GetCart returns any cart of the owner, open or not.
func (s *Service) GetCart(ctx context.Context, ownerID, cartID uuid.UUID) (*models.CartSnapshot, error) {
	snapshot, err := s.carts.Snapshot(ctx, s.reader, cartID)
	if err != nil {
		return nil, err
	}
	if snapshot.OwnerID != ownerID {
		return nil, database.ErrCartNotFound
	}
	return snapshot, nil
}

// ListCarts pages through the owner's carts, newest first.
func (s *Service) ListCarts(ctx context.Context, ownerID uuid.UUID, cursor string, limit int) (*store.CursorPage, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return s.carts.ListByOwner(ctx, s.reader, ownerID, cursor, limit)
}

// CheckOwner reports ErrCartNotFound unless the cart belongs to ownerID.
// owner_id never changes, so the check needs no lock.
func (s *Service) CheckOwner(ctx context.Context, ownerID, cartID uuid.UUID) error {
	cart, err := s.carts.Get(ctx, s.reader, cartID)
	if err != nil {
		return err
	}
	if cart.OwnerID != ownerID {
		return database.ErrCartNotFound
	}
	return nil
}
