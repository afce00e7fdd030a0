package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/safar/go-cart-store/internal/auth"
	"github.com/safar/go-cart-store/internal/database"
	"github.com/safar/go-cart-store/internal/store"
	"github.com/shopspring/decimal"
)

func pagination(r *http.Request) (page, pageSize int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Username string `json:"username" validate:"required,max=100"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, r, err)
		return
	}

	user, err := store.CreateUser(r.Context(), s.db, strings.ToLower(req.Email), req.Username, hashed)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondOK(w, http.StatusCreated, "User created", user)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	Type      string    `json:"type"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	user, err := store.GetUserByEmail(r.Context(), s.db, strings.ToLower(req.Email))
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			err = database.ErrInvalidCredentials
		}
		respondError(w, r, err)
		return
	}
	if !auth.ComparePassword(user.HashedPassword, req.Password) {
		respondError(w, r, database.ErrInvalidCredentials)
		return
	}

	token, expiresAt, err := s.issuer.Issue(user.ID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	respondOK(w, http.StatusOK, "Logged in", tokenResponse{Token: token, Type: "Bearer", ExpiresAt: expiresAt})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := store.GetUser(r.Context(), s.db, owner(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "OK", user)
}

// updateUserRequest changes only the fields present in the body.
type updateUserRequest struct {
	Email    *string `json:"email" validate:"omitempty,email,max=255"`
	Username *string `json:"username" validate:"omitempty,max=100"`
	Password *string `json:"password" validate:"omitempty,min=8,max=72"`
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.Email == nil && req.Username == nil && req.Password == nil {
		respondError(w, r, &validationError{message: "No fields to update"})
		return
	}

	update := store.UpdateUserRequest{Username: req.Username}
	if req.Email != nil {
		email := strings.ToLower(*req.Email)
		update.Email = &email
	}
	if req.Password != nil {
		hashed, err := auth.HashPassword(*req.Password)
		if err != nil {
			respondError(w, r, err)
			return
		}
		update.HashedPassword = &hashed
	}

	user, err := store.UpdateUser(r.Context(), s.db, owner(r), update)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "User updated", user)
}

// handleDeleteMe removes the caller along with every cart they own. Units
// held by the open cart go back to stock first.
func (s *Server) handleDeleteMe(w http.ResponseWriter, r *http.Request) {
	result, err := s.carts.DeleteOwner(r.Context(), owner(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "User deleted", result)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r)
	result, err := store.ListUsers(r.Context(), s.db, page, pageSize)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "Users fetched", result)
}

type createProductRequest struct {
	Name              string              `json:"name" validate:"required,max=255"`
	UnitPrice         decimal.Decimal     `json:"unit_price"`
	PackPrice         decimal.NullDecimal `json:"pack_price"`
	AvailableQuantity int                 `json:"available_quantity" validate:"gte=0"`
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := checkAmount("unit_price", req.UnitPrice); err != nil {
		respondError(w, r, err)
		return
	}
	if req.PackPrice.Valid {
		if err := checkAmount("pack_price", req.PackPrice.Decimal); err != nil {
			respondError(w, r, err)
			return
		}
	}

	product, err := store.CreateProduct(r.Context(), s.db, store.CreateProductRequest{
		Name:              req.Name,
		UnitPrice:         req.UnitPrice,
		PackPrice:         req.PackPrice,
		AvailableQuantity: req.AvailableQuantity,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondOK(w, http.StatusCreated, "Product created", product)
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r)
	result, err := store.ListProducts(r.Context(), s.db, r.URL.Query().Get("search"), page, pageSize)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "Products fetched", result)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	product, err := store.GetProduct(r.Context(), s.db, id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "OK", product)
}

// updateProductRequest changes only the fields present in the body. Stock
// is set here by catalog management; cart reservations go through the
// reconciler.
type updateProductRequest struct {
	Name              *string          `json:"name" validate:"omitempty,max=255"`
	UnitPrice         *decimal.Decimal `json:"unit_price"`
	PackPrice         *decimal.Decimal `json:"pack_price"`
	AvailableQuantity *int             `json:"available_quantity" validate:"omitempty,gte=0"`
}

func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var req updateProductRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.UnitPrice != nil {
		if err := checkAmount("unit_price", *req.UnitPrice); err != nil {
			respondError(w, r, err)
			return
		}
	}
	if req.PackPrice != nil {
		if err := checkAmount("pack_price", *req.PackPrice); err != nil {
			respondError(w, r, err)
			return
		}
	}

	product, err := store.UpdateProduct(r.Context(), s.db, id, store.UpdateProductRequest{
		Name:              req.Name,
		UnitPrice:         req.UnitPrice,
		PackPrice:         req.PackPrice,
		AvailableQuantity: req.AvailableQuantity,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "Product updated", product)
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	product, err := store.DeleteProduct(r.Context(), s.db, id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "Product deleted", product)
}
