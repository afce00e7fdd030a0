package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/safar/go-cart-store/internal/database"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

// Money columns are NUMERIC(12,2); a line total is NUMERIC(14,2).
var (
	maxAmount    = decimal.New(1, 10)
	maxLineTotal = decimal.New(1, 12)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type validationError struct {
	message string
	fields  []database.FieldError
}

func (e *validationError) Error() string {
	return e.message
}

func invalidField(field, message string) *validationError {
	return &validationError{
		message: "Invalid request",
		fields:  []database.FieldError{{Field: field, Message: message, Code: "invalid"}},
	}
}

// checkAmount rejects money values the database cannot store exactly.
func checkAmount(field string, d decimal.Decimal) error {
	switch {
	case d.IsNegative():
		return invalidField(field, "must not be negative")
	case !d.Equal(d.Truncate(2)):
		return invalidField(field, "must have at most 2 decimal places")
	case d.GreaterThanOrEqual(maxAmount):
		return invalidField(field, "must be less than "+maxAmount.String())
	}
	return nil
}

func checkLineTotal(quantity int, unitAmount decimal.Decimal) error {
	if decimal.NewFromInt(int64(quantity)).Mul(unitAmount).GreaterThanOrEqual(maxLineTotal) {
		return invalidField("quantity", "line total must be less than "+maxLineTotal.String())
	}
	return nil
}

// decodeJSON reads a JSON body into dst and runs its validate tags.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &validationError{message: "Request body is empty"}
		}
		return &validationError{message: fmt.Sprintf("Invalid request body: %v", err)}
	}

	return validateStruct(dst)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &validationError{message: err.Error()}
	}

	fields := make([]database.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, database.FieldError{
			Field:   fe.Field(),
			Message: fieldMessage(fe),
			Code:    fe.Tag(),
		})
	}
	return &validationError{message: "Invalid request", fields: fields}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
