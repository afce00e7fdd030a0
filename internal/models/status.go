package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// CartStatus is the lifecycle state of a cart. Open is the only mutable
// state; every other value is terminal.
type CartStatus int

const (
	CartStatusOpen CartStatus = iota + 1
	CartStatusPaid
	CartStatusRefunded
	CartStatusFreeOfCharge
)

// AllCartStatuses lists every variant. Adding a status means extending this
// list and every switch in this file.
var AllCartStatuses = []CartStatus{
	CartStatusOpen,
	CartStatusPaid,
	CartStatusRefunded,
	CartStatusFreeOfCharge,
}

// String returns the display name used in JSON payloads.
func (s CartStatus) String() string {
	switch s {
	case CartStatusOpen:
		return "Open"
	case CartStatusPaid:
		return "Paid"
	case CartStatusRefunded:
		return "Refunded"
	case CartStatusFreeOfCharge:
		return "FreeOfCharge"
	default:
		return fmt.Sprintf("CartStatus(%d)", int(s))
	}
}

// dbValue is the label of the cart_status postgres enum.
func (s CartStatus) dbValue() (string, error) {
	switch s {
	case CartStatusOpen:
		return "open", nil
	case CartStatusPaid:
		return "paid", nil
	case CartStatusRefunded:
		return "refunded", nil
	case CartStatusFreeOfCharge:
		return "free_of_charge", nil
	default:
		return "", fmt.Errorf("unknown cart status %d", int(s))
	}
}

func (s CartStatus) Valid() bool {
	_, err := s.dbValue()
	return err == nil
}

// IsTerminal reports whether the cart can no longer be mutated.
func (s CartStatus) IsTerminal() bool {
	switch s {
	case CartStatusOpen:
		return false
	case CartStatusPaid, CartStatusRefunded, CartStatusFreeOfCharge:
		return true
	default:
		return true
	}
}

// CanTransitionTo reports whether s -> next is a legal checkout transition.
func (s CartStatus) CanTransitionTo(next CartStatus) bool {
	switch s {
	case CartStatusOpen:
		switch next {
		case CartStatusPaid, CartStatusRefunded, CartStatusFreeOfCharge:
			return true
		case CartStatusOpen:
			return false
		default:
			return false
		}
	case CartStatusPaid, CartStatusRefunded, CartStatusFreeOfCharge:
		return false
	default:
		return false
	}
}

// ParseCartStatus accepts both the display name and the database label.
func ParseCartStatus(v string) (CartStatus, error) {
	switch v {
	case "Open", "open":
		return CartStatusOpen, nil
	case "Paid", "paid":
		return CartStatusPaid, nil
	case "Refunded", "refunded", "Refund", "refund":
		return CartStatusRefunded, nil
	case "FreeOfCharge", "free_of_charge", "FOC", "foc":
		return CartStatusFreeOfCharge, nil
	default:
		return 0, fmt.Errorf("unknown cart status %q", v)
	}
}

func (s CartStatus) Value() (driver.Value, error) {
	return s.dbValue()
}

func (s *CartStatus) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("scan cart status: unsupported type %T", src)
	}

	parsed, err := ParseCartStatus(raw)
	if err != nil {
		return fmt.Errorf("scan cart status: %w", err)
	}
	*s = parsed
	return nil
}

func (s CartStatus) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("marshal cart status: unknown value %d", int(s))
	}
	return json.Marshal(s.String())
}

func (s *CartStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseCartStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
