package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-cart-store/internal/auth"
	"github.com/safar/go-cart-store/internal/metrics"
)

const requestIDHeader = "X-Request-ID"

type loggerKey struct{}

func loggerFrom(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return log
	}
	return slog.Default()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

// withRequestLogging tags the request with an id, logs its completion and
// records HTTP metrics by route pattern.
func withRequestLogging(log *slog.Logger, m *metrics.HTTPMetrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		reqLog := log.With("request_id", requestID)
		r = r.WithContext(context.WithValue(r.Context(), loggerKey{}, reqLog))

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		duration := time.Since(start)
		m.ObserveRequest(r.Method, route, rec.status, duration)

		reqLog.InfoContext(r.Context(), "HTTP request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status_code", rec.status,
			"response_size", rec.size,
			"duration", duration,
		)
	})
}

func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				loggerFrom(r.Context()).ErrorContext(r.Context(), "HTTP request panicked", "panic", v)
				respondJSON(w, http.StatusInternalServerError, Response{
					Code:    http.StatusInternalServerError,
					Message: "Internal server error",
					Error:   "panic",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requireAuth resolves the bearer token to an owner id before calling next.
func requireAuth(iss *auth.Issuer, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.TokenFromRequest(r)
		if !ok {
			respondError(w, r, auth.ErrUnauthorized)
			return
		}

		ownerID, err := iss.Verify(token)
		if err != nil {
			loggerFrom(r.Context()).DebugContext(r.Context(), "rejected token", "error", err)
			respondError(w, r, auth.ErrUnauthorized)
			return
		}

		ctx := auth.WithOwner(r.Context(), ownerID)
		ctx = context.WithValue(ctx, loggerKey{}, loggerFrom(ctx).With("owner_id", ownerID))
		next(w, r.WithContext(ctx))
	}
}
