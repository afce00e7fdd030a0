package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/safar/go-cart-store/internal/auth"
	"github.com/safar/go-cart-store/internal/database"
)

// Response is the envelope of every JSON reply. Code repeats the HTTP
// status; Error is a stable machine-readable reason on failures.
type Response struct {
	Code    int                   `json:"code"`
	Message string                `json:"message"`
	Data    any                   `json:"data"`
	Error   string                `json:"error,omitempty"`
	Errors  []database.FieldError `json:"errors,omitempty"`
}

// respondJSON encodes body before touching the status line so that an
// unencodable payload still yields a well-formed 500.
func respondJSON(w http.ResponseWriter, status int, body Response) {
	payload, err := json.Marshal(body)
	if err != nil {
		slog.Error("encode JSON response", "error", err)
		status = http.StatusInternalServerError
		payload, _ = json.Marshal(Response{
			Code:    status,
			Message: "Internal server error",
			Error:   "encode_failed",
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(payload, '\n')); err != nil {
		slog.Error("write JSON response", "error", err)
	}
}

func respondOK(w http.ResponseWriter, status int, message string, data any) {
	respondJSON(w, status, Response{Code: status, Message: message, Data: data})
}

type errorMapping struct {
	err     error
	status  int
	reason  string
	message string
}

var errorMappings = []errorMapping{
	{database.ErrInvalidQuantity, http.StatusBadRequest, "invalid_quantity", "Quantity is out of range"},
	{database.ErrNoItems, http.StatusBadRequest, "no_items", "No items to remove"},
	{database.ErrMixedCarts, http.StatusBadRequest, "mixed_carts", "All items must belong to the same cart"},
	{auth.ErrUnauthorized, http.StatusUnauthorized, "unauthorized", "Unauthorised"},
	{database.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", "Invalid credentials"},
	{database.ErrItemNotFound, http.StatusNotFound, "item_not_found", "Item not found in cart"},
	{database.ErrCartNotFound, http.StatusNotFound, "cart_not_found", "Cart not found"},
	{database.ErrProductNotFound, http.StatusNotFound, "product_not_found", "Product not found"},
	{database.ErrUserNotFound, http.StatusNotFound, "user_not_found", "User not found"},
	{database.ErrInsufficientStock, http.StatusConflict, "insufficient_stock", "Not enough stock available"},
	{database.ErrCartClosed, http.StatusConflict, "cart_closed", "Cart is closed"},
	{database.ErrInvalidTransition, http.StatusConflict, "invalid_transition", "Invalid cart status transition"},
	{database.ErrLockTimeout, http.StatusServiceUnavailable, "lock_timeout", "Resource is busy, try again"},
}

// respondError maps err to a status and writes the error envelope. The
// mapping is fixed: each error kind has exactly one status and reason.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := describeError(err)
	if status >= http.StatusInternalServerError {
		loggerFrom(r.Context()).ErrorContext(r.Context(), "request failed", "error", err)
	}
	respondJSON(w, status, body)
}

func describeError(err error) (int, Response) {
	var verr *validationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, Response{
			Code:    http.StatusBadRequest,
			Message: verr.message,
			Error:   "validation_failed",
			Errors:  verr.fields,
		}
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, Response{Code: m.status, Message: m.message, Error: m.reason}
		}
	}

	var dbErr *database.DBError
	if errors.As(err, &dbErr) && dbErr.IsDataException() {
		return http.StatusBadRequest, Response{
			Code:    http.StatusBadRequest,
			Message: "Value out of range",
			Error:   "invalid_value",
			Errors:  dbErr.Fields,
		}
	}
	if errors.As(err, &dbErr) && dbErr.IsConstraintViolation() {
		return http.StatusUnprocessableEntity, Response{
			Code:    http.StatusUnprocessableEntity,
			Message: "Database constraint violated",
			Error:   "constraint_violation",
			Errors:  dbErr.Fields,
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusInternalServerError, Response{
			Code:    http.StatusInternalServerError,
			Message: "Operation timed out",
			Error:   "timeout",
		}
	}

	return http.StatusInternalServerError, Response{
		Code:    http.StatusInternalServerError,
		Message: "Internal server error",
		Error:   "db_error",
	}
}
