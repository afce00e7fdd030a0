// Package cart reconciles cart lines with product stock. Every mutation runs
// in a single transaction that locks the cart, then the line, then the
// product, so available stock plus the quantities reserved by open carts
// always equals the stock owned.
package cart

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-cart-store/internal/database"
	"github.com/safar/go-cart-store/internal/events"
	"github.com/safar/go-cart-store/internal/metrics"
	"github.com/safar/go-cart-store/internal/store"
)

const (
	defaultTxTimeout      = 5 * time.Second
	defaultPublishTimeout = 2 * time.Second
)

type Deps struct {
	Tx     Transactor
	Reader store.Querier
	Ledger Ledger
	Lines  LineRepository
	Carts  CartRepository
	Owners OwnerRepository
}

type Service struct {
	tx        Transactor
	reader    store.Querier
	ledger    Ledger
	lines     LineRepository
	carts     CartRepository
	owners    OwnerRepository
	publisher events.Publisher
	metrics   *metrics.CartMetrics
	log       *slog.Logger
	now       func() time.Time
	txTimeout time.Duration
}

type Option func(*Service)

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func WithMetrics(m *metrics.CartMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTxTimeout bounds each operation, retries included. When it elapses the
// open transaction is rolled back.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Service) { s.txTimeout = d }
}

func NewService(deps Deps, opts ...Option) *Service {
	s := &Service{
		tx:        deps.Tx,
		reader:    deps.Reader,
		ledger:    deps.Ledger,
		lines:     deps.Lines,
		carts:     deps.Carts,
		owners:    deps.Owners,
		publisher: events.NopPublisher{},
		log:       slog.Default(),
		now:       time.Now,
		txTimeout: defaultTxTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// run executes fn as operation op and records its outcome.
func (s *Service) run(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	start := time.Now()
	err := s.tx.InTx(ctx, op, fn)
	outcome := Outcome(err)
	s.metrics.ObserveOperation(op, outcome, time.Since(start))

	switch {
	case err == nil:
	case isBusinessError(err):
		s.log.DebugContext(ctx, "cart operation rejected", "operation", op, "outcome", outcome)
	default:
		s.log.ErrorContext(ctx, "cart operation failed", "operation", op, "error", err)
	}

	return err
}

// publish sends events after commit. Failures are logged, never returned:
// the database is the source of truth.
func (s *Service) publish(ctx context.Context, evs ...events.Event) {
	if len(evs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultPublishTimeout)
	defer cancel()

	now := s.now()
	for i := range evs {
		if evs[i].ID == uuid.Nil {
			evs[i].ID = uuid.New()
		}
		if evs[i].OccurredAt.IsZero() {
			evs[i].OccurredAt = now
		}
	}

	if err := s.publisher.Publish(ctx, evs...); err != nil {
		s.log.WarnContext(ctx, "publish cart events", "count", len(evs), "error", err)
	}
}

var businessErrors = []struct {
	err     error
	outcome string
}{
	{database.ErrInvalidQuantity, "invalid_quantity"},
	{database.ErrInsufficientStock, "insufficient_stock"},
	{database.ErrItemNotFound, "item_not_found"},
	{database.ErrCartNotFound, "cart_not_found"},
	{database.ErrProductNotFound, "product_not_found"},
	{database.ErrUserNotFound, "user_not_found"},
	{database.ErrCartClosed, "cart_closed"},
	{database.ErrNoItems, "no_items"},
	{database.ErrMixedCarts, "mixed_carts"},
	{database.ErrInvalidTransition, "invalid_transition"},
}

// Outcome labels err for metrics and logs.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	for _, be := range businessErrors {
		if errors.Is(err, be.err) {
			return be.outcome
		}
	}
	switch {
	case errors.Is(err, database.ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "db_error"
	}
}

func isBusinessError(err error) bool {
	for _, be := range businessErrors {
		if errors.Is(err, be.err) {
			return true
		}
	}
	return false
}
