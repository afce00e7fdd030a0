package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorClassTransient:
		return "transient"
	case ErrorClassDeadlock:
		return "deadlock"
	case ErrorClassSerialization:
		return "serialization"
	default:
		return "permanent"
	}
}

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	// A concurrent insert of the same cart line behaves like a
	// serialization failure: a fresh transaction will see the row.
	if errors.Is(err, ErrLineConflict) {
		return ErrorClassSerialization
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001":
			return ErrorClassSerialization
		case "40P01":
			return ErrorClassDeadlock
		case "55P03":
			return ErrorClassTransient
		case "23505", "23503", "23502", "23514":
			return ErrorClassPermanent
		}
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrorClassPermanent
	}

	return ErrorClassPermanent
}

func isLockNotAvailable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "55P03"
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrProductNotFound    = errors.New("product not found")
	ErrCartNotFound       = errors.New("cart not found")
	ErrItemNotFound       = errors.New("item not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrCartClosed         = errors.New("cart is closed")
	ErrNoItems            = errors.New("no items to remove")
	ErrMixedCarts         = errors.New("all items must belong to the same cart")
	ErrInvalidTransition  = errors.New("invalid cart status transition")
	ErrLineConflict       = errors.New("cart line created concurrently")
	ErrLockTimeout        = errors.New("lock timeout")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// FieldError is a constraint violation narrowed to the offending field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// DBError wraps a driver error that violated an integrity constraint.
type DBError struct {
	Code   string
	Fields []FieldError
	Err    error
}

func (e *DBError) Error() string {
	return fmt.Sprintf("database error %s: %v", e.Code, e.Err)
}

func (e *DBError) Unwrap() error { return e.Err }

// IsConstraintViolation reports whether the error is an integrity
// constraint failure (SQLSTATE class 23).
func (e *DBError) IsConstraintViolation() bool {
	return len(e.Code) == 5 && e.Code[:2] == "23"
}

// IsDataException reports whether the value itself was rejected, such as a
// numeric overflow (SQLSTATE class 22).
func (e *DBError) IsDataException() bool {
	return len(e.Code) == 5 && e.Code[:2] == "22"
}

// TranslateError converts integrity violations and out of range values into
// a *DBError carrying field-level diagnostics. Other errors are returned
// unchanged.
func TranslateError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	code := string(pqErr.Code)
	field := pqErr.Column
	if field == "" {
		field = pqErr.Constraint
	}

	var fe FieldError
	switch code {
	case "23505":
		fe = FieldError{Field: field, Message: "Already exists", Code: code}
	case "23502":
		fe = FieldError{Field: field, Message: "Required field missing", Code: code}
	case "23503":
		fe = FieldError{Field: pqErr.Constraint, Message: "Foreign key violation", Code: code}
	case "23514":
		fe = FieldError{Field: pqErr.Constraint, Message: "Check constraint failed", Code: code}
	case "22003":
		if field == "" {
			field = "value"
		}
		fe = FieldError{Field: field, Message: "Value out of range", Code: code}
	default:
		return err
	}

	return &DBError{Code: code, Fields: []FieldError{fe}, Err: err}
}
