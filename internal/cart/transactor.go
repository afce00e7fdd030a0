package cart

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/safar/go-cart-store/internal/database"
	"github.com/safar/go-cart-store/internal/metrics"
)

// SQLTransactor runs reconciler steps on a *sql.DB with read committed
// isolation. Row locks and conditional updates provide the consistency, so
// a stricter level is not needed.
type SQLTransactor struct {
	db         database.Beginner
	maxRetries int
	// lockTimeout bounds each row lock wait; zero waits until the
	// transaction context ends.
	lockTimeout time.Duration
	log         *slog.Logger
	metrics     *metrics.CartMetrics
}

func NewSQLTransactor(db database.Beginner, maxRetries int, lockTimeout time.Duration, log *slog.Logger, m *metrics.CartMetrics) *SQLTransactor {
	return &SQLTransactor{db: db, maxRetries: maxRetries, lockTimeout: lockTimeout, log: log, metrics: m}
}

func (t *SQLTransactor) InTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	return database.WithRetry(ctx, t.db, database.TxOptions{
		IsolationLevel: sql.LevelReadCommitted,
		MaxRetries:     t.maxRetries,
		LockTimeout:    t.lockTimeout,
		OnRetry: func(attempt int, err error) {
			t.metrics.IncRetry(op)
			t.log.Warn("retrying cart transaction",
				"operation", op,
				"attempt", attempt+1,
				"class", database.ClassifyError(err).String(),
				"error", err,
			)
		},
	}, fn)
}
