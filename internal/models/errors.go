package models

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type Shortfall struct {
	ProductID int64             `json:"product_id"`
	VariantID int64             `json:"variant_id,omitempty"`
	Selection map[string]string `json:"selection,omitempty"`
	Requested int               `json:"requested"`
	Available int               `json:"available"`
}

func (s Shortfall) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "product %d", s.ProductID)
	if len(s.Selection) > 0 {
		keys := make([]string, 0, len(s.Selection))
		for k := range s.Selection {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+s.Selection[k])
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(parts, ", "))
	}
	fmt.Fprintf(&b, ": requested %d, available %d", s.Requested, s.Available)
	return b.String()
}

// StockInsufficientError carries every shortfall found while checking a
// cart line or an order batch.
type StockInsufficientError struct {
	Shortfalls []Shortfall
}

func (e *StockInsufficientError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		parts = append(parts, s.String())
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

const (
	PromoReasonUnknown        = "unknown"
	PromoReasonInactive       = "inactive"
	PromoReasonExpired        = "expired"
	PromoReasonNotYetValid    = "not_yet_valid"
	PromoReasonWrongScope     = "wrong_scope"
	PromoReasonUsageExhausted = "usage_exhausted"
	PromoReasonFirstOrderOnly = "first_order_only"
)

// PromoInvalidMessage is the single message shown to users for every
// invalid promo reason.
const PromoInvalidMessage = "invalid or expired promo code"

type PromoInvalidError struct {
	Code   string
	Reason string
}

func (e *PromoInvalidError) Error() string {
	return fmt.Sprintf("promo code %q: %s", e.Code, e.Reason)
}

type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

// PriceChangedError reports that the amount a client saw no longer matches
// what the server would charge.
type PriceChangedError struct {
	Field     string
	ProductID int64
	Expected  string
	Actual    string
}

func (e *PriceChangedError) Error() string {
	if e.ProductID != 0 {
		return fmt.Sprintf("price of product %d changed: expected %s, now %s", e.ProductID, e.Expected, e.Actual)
	}
	return fmt.Sprintf("%s changed: expected %s, now %s", e.Field, e.Expected, e.Actual)
}
