package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/safar/go-cart-store/internal/cart"
	"github.com/safar/go-cart-store/internal/models"
	"github.com/safar/go-cart-store/internal/store"
	"github.com/shopspring/decimal"
)

func (s *Server) handleCreateCart(w http.ResponseWriter, r *http.Request) {
	c, err := s.carts.GetOrCreateOpenCart(r.Context(), owner(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "Cart ready", c)
}

func (s *Server) handleOpenCart(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.carts.GetOpenCart(r.Context(), owner(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "OK", snapshot)
}

func (s *Server) handleCartHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	page, err := s.carts.ListCarts(r.Context(), owner(r), r.URL.Query().Get("cursor"), limit)
	if errors.Is(err, store.ErrInvalidCursor) {
		err = invalidField("cursor", "is not a valid cursor")
	}
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "OK", page)
}

func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request) {
	cartID, err := pathID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	snapshot, err := s.carts.GetCart(r.Context(), owner(r), cartID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "OK", snapshot)
}

type addItemRequest struct {
	// CartID may be omitted to add to the caller's open cart, creating it
	// if needed.
	CartID     uuid.UUID        `json:"cart_id"`
	ProductID  uuid.UUID        `json:"product_id" validate:"required"`
	Quantity   *int             `json:"quantity" validate:"required"`
	UnitAmount *decimal.Decimal `json:"unit_amount" validate:"required"`
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := checkItemAmounts(*req.Quantity, *req.UnitAmount); err != nil {
		respondError(w, r, err)
		return
	}

	ctx := r.Context()
	cartID := req.CartID
	if cartID == uuid.Nil {
		c, err := s.carts.GetOrCreateOpenCart(ctx, owner(r))
		if err != nil {
			respondError(w, r, err)
			return
		}
		cartID = c.ID
	} else if err := s.carts.CheckOwner(ctx, owner(r), cartID); err != nil {
		respondError(w, r, err)
		return
	}

	line, err := s.carts.AddItem(ctx, cart.AddItemRequest{
		CartID:     cartID,
		ProductID:  req.ProductID,
		Quantity:   *req.Quantity,
		UnitAmount: *req.UnitAmount,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusCreated, "Item added", line)
}

func checkItemAmounts(quantity int, unitAmount decimal.Decimal) error {
	if err := checkAmount("unit_amount", unitAmount); err != nil {
		return err
	}
	return checkLineTotal(quantity, unitAmount)
}

type setQuantityRequest struct {
	CartID    uuid.UUID `json:"cart_id" validate:"required"`
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	// Quantity 0 removes the line, so it must be sent explicitly.
	Quantity   *int             `json:"quantity" validate:"required"`
	UnitAmount *decimal.Decimal `json:"unit_amount" validate:"required"`
}

func (s *Server) handleSetQuantity(w http.ResponseWriter, r *http.Request) {
	var req setQuantityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := checkItemAmounts(*req.Quantity, *req.UnitAmount); err != nil {
		respondError(w, r, err)
		return
	}

	ctx := r.Context()
	if err := s.carts.CheckOwner(ctx, owner(r), req.CartID); err != nil {
		respondError(w, r, err)
		return
	}

	result, err := s.carts.SetQuantity(ctx, cart.SetQuantityRequest{
		CartID:     req.CartID,
		ProductID:  req.ProductID,
		Quantity:   *req.Quantity,
		UnitAmount: *req.UnitAmount,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	if result.Removed {
		respondOK(w, http.StatusOK, "Item removed", nil)
		return
	}
	respondOK(w, http.StatusOK, "Item updated", result.Line)
}

type lineRef struct {
	CartID    uuid.UUID `json:"cart_id" validate:"required"`
	ProductID uuid.UUID `json:"product_id" validate:"required"`
}

type removeItemsRequest struct {
	Items []lineRef `json:"items" validate:"dive"`
}

func (s *Server) handleRemoveItems(w http.ResponseWriter, r *http.Request) {
	var req removeItemsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	refs := make([]cart.LineRef, 0, len(req.Items))
	for _, item := range req.Items {
		refs = append(refs, cart.LineRef{CartID: item.CartID, ProductID: item.ProductID})
	}

	// The service rejects lists spanning several carts, so checking the
	// first one is enough.
	ctx := r.Context()
	if len(refs) > 0 {
		if err := s.carts.CheckOwner(ctx, owner(r), refs[0].CartID); err != nil {
			respondError(w, r, err)
			return
		}
	}

	result, err := s.carts.BulkRemoveLines(ctx, refs)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "Items removed", result)
}

func (s *Server) handleClearCart(w http.ResponseWriter, r *http.Request) {
	cartID, err := pathID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	ctx := r.Context()
	if err := s.carts.CheckOwner(ctx, owner(r), cartID); err != nil {
		respondError(w, r, err)
		return
	}

	result, err := s.carts.ClearCart(ctx, cartID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "Cart cleared", result)
}

type checkoutRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	cartID, err := pathID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var req checkoutRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, err)
			return
		}
	}
	status, err := parseStatus(req.Status)
	if err != nil {
		respondError(w, r, err)
		return
	}

	ctx := r.Context()
	if err := s.carts.CheckOwner(ctx, owner(r), cartID); err != nil {
		respondError(w, r, err)
		return
	}

	c, err := s.carts.Checkout(ctx, cartID, status)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "Cart checked out", c)
}

// parseStatus defaults an empty status to Paid.
func parseStatus(raw string) (models.CartStatus, error) {
	if raw == "" {
		return models.CartStatusPaid, nil
	}
	status, err := models.ParseCartStatus(raw)
	if err != nil {
		return 0, invalidField("status", err.Error())
	}
	return status, nil
}
