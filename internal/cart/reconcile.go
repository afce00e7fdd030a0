package cart

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"math"
	"slices"

	"github.com/google/uuid"
	"github.com/safar/go-cart-store/internal/database"
	"github.com/safar/go-cart-store/internal/events"
	"github.com/safar/go-cart-store/internal/models"
	"github.com/safar/go-cart-store/internal/store"
	"github.com/shopspring/decimal"
)

// maxLineQuantity matches the INTEGER quantity column.
const maxLineQuantity = math.MaxInt32

type AddItemRequest struct {
	CartID     uuid.UUID
	ProductID  uuid.UUID
	Quantity   int
	UnitAmount decimal.Decimal
}

type SetQuantityRequest struct {
	CartID     uuid.UUID
	ProductID  uuid.UUID
	Quantity   int
	UnitAmount decimal.Decimal
}

// QuantityResult is the outcome of a quantity change. Line is nil when the
// change removed the line.
type QuantityResult struct {
	Line    *models.CartLine
	Removed bool
	Delta   int
}

// LineRef names one line of one cart.
type LineRef struct {
	CartID    uuid.UUID
	ProductID uuid.UUID
}

// RemoveResult lists the quantities returned to stock, by product.
type RemoveResult struct {
	CartID  uuid.UUID
	Removed map[uuid.UUID]int
}

// stockMoves accumulates the units moved by one transaction attempt.
type stockMoves struct {
	reserved int
	released int
}

// AddItem reserves quantity more units of the product in the cart. When the
// cart already holds the product this is a quantity change to the summed
// quantity.
func (s *Service) AddItem(ctx context.Context, req AddItemRequest) (*models.CartLine, error) {
	if req.Quantity <= 0 || req.Quantity > maxLineQuantity {
		return nil, database.ErrInvalidQuantity
	}

	var result *QuantityResult
	var moves stockMoves
	err := s.run(ctx, "add_item", func(tx *sql.Tx) error {
		result, moves = nil, stockMoves{}

		if _, err := s.lockOpenCart(ctx, tx, req.CartID, store.LockShare); err != nil {
			return err
		}

		existing, err := s.lines.LockLine(ctx, tx, req.CartID, req.ProductID)
		if err != nil {
			return err
		}

		if existing != nil {
			if existing.Quantity > maxLineQuantity-req.Quantity {
				return database.ErrInvalidQuantity
			}
			result, err = s.applyQuantityChange(ctx, tx, *existing, existing.Quantity+req.Quantity, req.UnitAmount, &moves)
			return err
		}

		if err := s.ledger.TryReserve(ctx, tx, req.ProductID, req.Quantity); err != nil {
			return err
		}
		moves.reserved += req.Quantity

		line, err := s.lines.Insert(ctx, tx, models.CartLine{
			CartID:     req.CartID,
			ProductID:  req.ProductID,
			Quantity:   req.Quantity,
			UnitAmount: req.UnitAmount,
		})
		if err != nil {
			return err
		}

		result = &QuantityResult{Line: line, Delta: req.Quantity}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.AddStockMoved(moves.reserved, moves.released)
	s.publish(ctx, lineEvent(events.ItemAdded, req.CartID, req.ProductID, result))

	return result.Line, nil
}

// SetQuantity sets the cart's quantity of the product. Zero removes the line
// and returns its whole reservation to stock.
func (s *Service) SetQuantity(ctx context.Context, req SetQuantityRequest) (*QuantityResult, error) {
	if req.Quantity < 0 || req.Quantity > maxLineQuantity {
		return nil, database.ErrInvalidQuantity
	}

	var result *QuantityResult
	var moves stockMoves
	err := s.run(ctx, "set_quantity", func(tx *sql.Tx) error {
		result, moves = nil, stockMoves{}

		if _, err := s.lockOpenCart(ctx, tx, req.CartID, store.LockShare); err != nil {
			return err
		}

		existing, err := s.lines.LockLine(ctx, tx, req.CartID, req.ProductID)
		if err != nil {
			return err
		}
		if existing == nil {
			return database.ErrItemNotFound
		}

		result, err = s.applyQuantityChange(ctx, tx, *existing, req.Quantity, req.UnitAmount, &moves)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.AddStockMoved(moves.reserved, moves.released)
	evType := events.ItemUpdated
	if result.Removed {
		evType = events.ItemRemoved
	}
	s.publish(ctx, lineEvent(evType, req.CartID, req.ProductID, result))

	return result, nil
}

// applyQuantityChange moves a locked line from its current quantity to
// newQuantity, adjusting the ledger by the difference. It is the only place
// where a line quantity and product stock change together.
func (s *Service) applyQuantityChange(ctx context.Context, tx *sql.Tx, current models.CartLine, newQuantity int, unitAmount decimal.Decimal, moves *stockMoves) (*QuantityResult, error) {
	delta := newQuantity - current.Quantity

	if newQuantity == 0 {
		if err := s.lines.Delete(ctx, tx, current.CartID, current.ProductID); err != nil {
			return nil, err
		}
		if err := s.ledger.Release(ctx, tx, current.ProductID, current.Quantity); err != nil {
			return nil, err
		}
		moves.released += current.Quantity
		return &QuantityResult{Removed: true, Delta: delta}, nil
	}

	switch {
	case delta > 0:
		if err := s.ledger.TryReserve(ctx, tx, current.ProductID, delta); err != nil {
			return nil, err
		}
		moves.reserved += delta
	case delta < 0:
		if err := s.ledger.Release(ctx, tx, current.ProductID, -delta); err != nil {
			return nil, err
		}
		moves.released += -delta
	}

	line, err := s.lines.Upsert(ctx, tx, models.CartLine{
		CartID:     current.CartID,
		ProductID:  current.ProductID,
		Quantity:   newQuantity,
		UnitAmount: unitAmount,
	})
	if err != nil {
		return nil, err
	}

	return &QuantityResult{Line: line, Delta: delta}, nil
}

// BulkRemove deletes the cart's lines for productIDs and returns their
// quantities to stock. Products the cart does not hold are ignored, so
// repeating the call is a no-op.
func (s *Service) BulkRemove(ctx context.Context, cartID uuid.UUID, productIDs []uuid.UUID) (*RemoveResult, error) {
	if len(productIDs) == 0 {
		return nil, database.ErrNoItems
	}
	ids := sortedUnique(productIDs)

	var removed map[uuid.UUID]int
	err := s.run(ctx, "bulk_remove", func(tx *sql.Tx) error {
		removed = nil

		if _, err := s.lockOpenCart(ctx, tx, cartID, store.LockExclusive); err != nil {
			return err
		}

		quantities, err := s.lines.LockLinesByCartAndProducts(ctx, tx, cartID, ids)
		if err != nil {
			return err
		}

		if err := s.releaseLines(ctx, tx, cartID, quantities); err != nil {
			return err
		}
		removed = quantities
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterRemove(ctx, cartID, removed)
	return &RemoveResult{CartID: cartID, Removed: removed}, nil
}

// BulkRemoveLines removes lines named by (cart, product) pairs, which must
// all belong to one cart.
func (s *Service) BulkRemoveLines(ctx context.Context, refs []LineRef) (*RemoveResult, error) {
	if len(refs) == 0 {
		return nil, database.ErrNoItems
	}

	cartID := refs[0].CartID
	productIDs := make([]uuid.UUID, 0, len(refs))
	for _, ref := range refs {
		if ref.CartID != cartID {
			return nil, database.ErrMixedCarts
		}
		productIDs = append(productIDs, ref.ProductID)
	}

	return s.BulkRemove(ctx, cartID, productIDs)
}

// ClearCart removes every line of an open cart.
func (s *Service) ClearCart(ctx context.Context, cartID uuid.UUID) (*RemoveResult, error) {
	var removed map[uuid.UUID]int
	err := s.run(ctx, "clear_cart", func(tx *sql.Tx) error {
		removed = nil

		if _, err := s.lockOpenCart(ctx, tx, cartID, store.LockExclusive); err != nil {
			return err
		}

		quantities, err := s.lines.LockAllLines(ctx, tx, cartID)
		if err != nil {
			return err
		}

		if err := s.releaseLines(ctx, tx, cartID, quantities); err != nil {
			return err
		}
		removed = quantities
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterRemove(ctx, cartID, removed)
	return &RemoveResult{CartID: cartID, Removed: removed}, nil
}

// releaseLines returns the quantities to stock in product id order, then
// deletes the lines.
func (s *Service) releaseLines(ctx context.Context, tx *sql.Tx, cartID uuid.UUID, quantities map[uuid.UUID]int) error {
	if len(quantities) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	ids = sortedUnique(ids)

	for _, productID := range ids {
		if err := s.ledger.Release(ctx, tx, productID, quantities[productID]); err != nil {
			return fmt.Errorf("release product %s: %w", productID, err)
		}
	}

	if _, err := s.lines.DeleteLines(ctx, tx, cartID, ids); err != nil {
		return err
	}

	return nil
}

func (s *Service) afterRemove(ctx context.Context, cartID uuid.UUID, removed map[uuid.UUID]int) {
	released := 0
	evs := make([]events.Event, 0, len(removed))
	for productID, quantity := range removed {
		released += quantity
		evs = append(evs, events.Event{
			Type:      events.ItemRemoved,
			CartID:    cartID,
			ProductID: &productID,
			Delta:     -quantity,
		})
	}

	s.metrics.AddStockMoved(0, released)
	s.publish(ctx, evs...)
}

// Checkout moves an open cart to a terminal status and freezes its total.
// Reserved stock stays consumed.
func (s *Service) Checkout(ctx context.Context, cartID uuid.UUID, status models.CartStatus) (*models.Cart, error) {
	if !models.CartStatusOpen.CanTransitionTo(status) {
		return nil, database.ErrInvalidTransition
	}

	var cart *models.Cart
	err := s.run(ctx, "checkout", func(tx *sql.Tx) error {
		current, err := s.lockOpenCart(ctx, tx, cartID, store.LockExclusive)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(status) {
			return database.ErrInvalidTransition
		}

		total, err := s.carts.Total(ctx, tx, cartID)
		if err != nil {
			return err
		}

		cart, err = s.carts.SetStatus(ctx, tx, cartID, status, total)
		return err
	})
	if err != nil {
		return nil, err
	}

	ownerID := cart.OwnerID
	s.publish(ctx, events.Event{
		Type:    events.CartCheckedOut,
		CartID:  cart.ID,
		OwnerID: &ownerID,
		Status:  cart.Status.String(),
	})

	return cart, nil
}

// lockOpenCart locks the cart row and rejects carts that can no longer be
// mutated.
func (s *Service) lockOpenCart(ctx context.Context, tx *sql.Tx, cartID uuid.UUID, mode store.LockMode) (*models.Cart, error) {
	cart, err := s.carts.Lock(ctx, tx, cartID, mode)
	if err != nil {
		return nil, err
	}
	if err := ensureMutable(cart.Status); err != nil {
		return nil, err
	}
	return cart, nil
}

func ensureMutable(status models.CartStatus) error {
	switch status {
	case models.CartStatusOpen:
		return nil
	case models.CartStatusPaid, models.CartStatusRefunded, models.CartStatusFreeOfCharge:
		return database.ErrCartClosed
	default:
		return fmt.Errorf("%w: unknown status %d", database.ErrCartClosed, int(status))
	}
}

func lineEvent(t events.Type, cartID, productID uuid.UUID, result *QuantityResult) events.Event {
	ev := events.Event{
		Type:      t,
		CartID:    cartID,
		ProductID: &productID,
		Delta:     result.Delta,
	}
	if result.Line != nil {
		ev.Quantity = result.Line.Quantity
	}
	return ev
}

// sortedUnique returns ids deduplicated in byte order, the order postgres
// uses for uuid columns.
func sortedUnique(ids []uuid.UUID) []uuid.UUID {
	out := slices.Clone(ids)
	slices.SortFunc(out, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})
	return slices.Compact(out)
}

// DeleteOwner deletes a cart owner. The reservations of the owner's open
// cart go back to stock in the same transaction; stock consumed by checked
// out carts stays consumed.
func (s *Service) DeleteOwner(ctx context.Context, ownerID uuid.UUID) (*RemoveResult, error) {
	result := &RemoveResult{}
	err := s.run(ctx, "delete_owner", func(tx *sql.Tx) error {
		result = &RemoveResult{}

		if err := s.owners.LockOwner(ctx, tx, ownerID); err != nil {
			return err
		}

		open, err := s.carts.LockOpenByOwner(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		if open != nil {
			quantities, err := s.lines.LockAllLines(ctx, tx, open.ID)
			if err != nil {
				return err
			}
			if err := s.releaseLines(ctx, tx, open.ID, quantities); err != nil {
				return err
			}
			result.CartID = open.ID
			result.Removed = quantities
		}

		return s.owners.DeleteOwner(ctx, tx, ownerID)
	})
	if err != nil {
		return nil, err
	}

	if result.CartID != uuid.Nil {
		s.afterRemove(ctx, result.CartID, result.Removed)
	}
	s.log.InfoContext(ctx, "cart owner deleted", "owner_id", ownerID, "released_lines", len(result.Removed))
	return result, nil
}
