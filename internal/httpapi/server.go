// Package httpapi exposes the catalog, user and cart operations over JSON
// HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/safar/go-cart-store/internal/auth"
	"github.com/safar/go-cart-store/internal/cart"
	"github.com/safar/go-cart-store/internal/metrics"
	"github.com/safar/go-cart-store/internal/models"
	"github.com/safar/go-cart-store/internal/store"
)

// CartService is the cart surface the handlers need. *cart.Service
// implements it.
type CartService interface {
	AddItem(ctx context.Context, req cart.AddItemRequest) (*models.CartLine, error)
	SetQuantity(ctx context.Context, req cart.SetQuantityRequest) (*cart.QuantityResult, error)
	BulkRemoveLines(ctx context.Context, refs []cart.LineRef) (*cart.RemoveResult, error)
	ClearCart(ctx context.Context, cartID uuid.UUID) (*cart.RemoveResult, error)
	Checkout(ctx context.Context, cartID uuid.UUID, status models.CartStatus) (*models.Cart, error)
	GetOpenCart(ctx context.Context, ownerID uuid.UUID) (*models.CartSnapshot, error)
	GetOrCreateOpenCart(ctx context.Context, ownerID uuid.UUID) (*models.Cart, error)
	GetCart(ctx context.Context, ownerID, cartID uuid.UUID) (*models.CartSnapshot, error)
	ListCarts(ctx context.Context, ownerID uuid.UUID, cursor string, limit int) (*store.CursorPage, error)
	CheckOwner(ctx context.Context, ownerID, cartID uuid.UUID) error
	DeleteOwner(ctx context.Context, ownerID uuid.UUID) (*cart.RemoveResult, error)
}

type Server struct {
	db      store.Querier
	carts   CartService
	issuer  *auth.Issuer
	log     *slog.Logger
	metrics *metrics.HTTPMetrics
	ping    func(context.Context) error
	extra   map[string]http.Handler
}

type Option func(*Server)

func WithMetrics(m *metrics.HTTPMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealthCheck sets the probe behind /healthz.
func WithHealthCheck(ping func(context.Context) error) Option {
	return func(s *Server) { s.ping = ping }
}

// WithHandler mounts an extra handler, such as the Prometheus scrape
// endpoint, under pattern.
func WithHandler(pattern string, h http.Handler) Option {
	return func(s *Server) { s.extra[pattern] = h }
}

func NewServer(db store.Querier, carts CartService, issuer *auth.Issuer, log *slog.Logger, opts ...Option) *Server {
	s := &Server{
		db:     db,
		carts:  carts,
		issuer: issuer,
		log:    log,
		ping:   func(context.Context) error { return nil },
		extra:  map[string]http.Handler{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	authed := func(h http.HandlerFunc) http.HandlerFunc { return requireAuth(s.issuer, h) }

	mux.HandleFunc("GET /healthz", s.handleHealth)
	for pattern, h := range s.extra {
		mux.Handle(pattern, h)
	}

	mux.HandleFunc("POST /api/v1/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/v1/auth/login", s.handleLogin)

	mux.HandleFunc("GET /api/v1/users/me", authed(s.handleMe))
	mux.HandleFunc("PUT /api/v1/users/me", authed(s.handleUpdateMe))
	mux.HandleFunc("DELETE /api/v1/users/me", authed(s.handleDeleteMe))
	mux.HandleFunc("GET /api/v1/users", authed(s.handleListUsers))

	mux.HandleFunc("GET /api/v1/products", s.handleListProducts)
	mux.HandleFunc("GET /api/v1/products/{id}", s.handleGetProduct)
	mux.HandleFunc("POST /api/v1/products", authed(s.handleCreateProduct))
	mux.HandleFunc("PUT /api/v1/products/{id}", authed(s.handleUpdateProduct))
	mux.HandleFunc("DELETE /api/v1/products/{id}", authed(s.handleDeleteProduct))

	mux.HandleFunc("POST /api/v1/cart/create", authed(s.handleCreateCart))
	mux.HandleFunc("GET /api/v1/cart/open", authed(s.handleOpenCart))
	mux.HandleFunc("GET /api/v1/cart/history", authed(s.handleCartHistory))
	mux.HandleFunc("GET /api/v1/cart/{id}", authed(s.handleGetCart))
	mux.HandleFunc("POST /api/v1/cart/items", authed(s.handleAddItem))
	mux.HandleFunc("PUT /api/v1/cart/items", authed(s.handleSetQuantity))
	mux.HandleFunc("DELETE /api/v1/cart/items", authed(s.handleRemoveItems))
	mux.HandleFunc("POST /api/v1/cart/{id}/clear", authed(s.handleClearCart))
	mux.HandleFunc("POST /api/v1/cart/{id}/checkout", authed(s.handleCheckout))

	return withRequestLogging(s.log, s.metrics, withRecovery(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.ping(r.Context()); err != nil {
		loggerFrom(r.Context()).WarnContext(r.Context(), "health check failed", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, Response{
			Code:    http.StatusServiceUnavailable,
			Message: "Database unavailable",
			Error:   "unavailable",
		})
		return
	}
	respondOK(w, http.StatusOK, "OK", nil)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, invalidField("id", "must be a UUID")
	}
	return id, nil
}

// owner returns the authenticated owner id set by requireAuth.
func owner(r *http.Request) uuid.UUID {
	id, _ := auth.OwnerFromContext(r.Context())
	return id
}
