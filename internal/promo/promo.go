package promo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/safar/souk/internal/models"
	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("promo code not found")

// Eligibility is what the server knows about the caller when a code is
// checked.
type Eligibility struct {
	Now           time.Time
	HasPastOrders bool
}

type Result struct {
	Code           string          `json:"code"`
	DiscountType   string          `json:"discount_type"`
	DiscountValue  decimal.Decimal `json:"discount_value"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	OriginalAmount decimal.Decimal `json:"original_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
	InfluencerName string          `json:"influencer_name,omitempty"`
}

var hundred = decimal.NewFromInt(100)

// Normalize is the stored form of a code: trimmed and upper-cased.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Evaluate checks pc for an order of amount within scope and computes the
// discount. It never yields a discount above amount.
func Evaluate(pc models.PromoCode, amount decimal.Decimal, scope string, el Eligibility) (Result, error) {
	code := Normalize(pc.Code)
	if amount.IsNegative() {
		return Result{}, models.Invalid("order_amount", "must not be negative")
	}
	if err := check(pc, scope, el); err != nil {
		return Result{}, err
	}

	var discount decimal.Decimal
	switch pc.DiscountType {
	case models.DiscountPercentage:
		discount = amount.Mul(pc.DiscountValue).Div(hundred).Round(2)
		if pc.MaxDiscount.Valid && discount.GreaterThan(pc.MaxDiscount.Decimal) {
			discount = pc.MaxDiscount.Decimal
		}
	case models.DiscountFixed:
		discount = pc.DiscountValue
	default:
		return Result{}, &models.PromoInvalidError{Code: code, Reason: models.PromoReasonUnknown}
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if discount.GreaterThan(amount) {
		discount = amount
	}

	final := amount.Sub(discount)
	if final.IsNegative() {
		final = decimal.Zero
	}

	return Result{
		Code:           code,
		DiscountType:   pc.DiscountType,
		DiscountValue:  pc.DiscountValue,
		DiscountAmount: discount,
		OriginalAmount: amount,
		FinalAmount:    final,
		InfluencerName: pc.InfluencerName,
	}, nil
}

func check(pc models.PromoCode, scope string, el Eligibility) error {
	code := Normalize(pc.Code)
	invalid := func(reason string) error {
		return &models.PromoInvalidError{Code: code, Reason: reason}
	}

	if !pc.Active {
		return invalid(models.PromoReasonInactive)
	}
	now := el.Now
	if now.IsZero() {
		now = time.Now()
	}
	if pc.StartsAt != nil && now.Before(*pc.StartsAt) {
		return invalid(models.PromoReasonNotYetValid)
	}
	if pc.ExpiresAt != nil && !now.Before(*pc.ExpiresAt) {
		return invalid(models.PromoReasonExpired)
	}
	if pc.AppliesTo != "" && pc.AppliesTo != models.ScopeAll && scope != "" && pc.AppliesTo != scope {
		return invalid(models.PromoReasonWrongScope)
	}
	if pc.MaxUses != nil && pc.UsedCount >= *pc.MaxUses {
		return invalid(models.PromoReasonUsageExhausted)
	}
	if pc.FirstOrderOnly && el.HasPastOrders {
		return invalid(models.PromoReasonFirstOrderOnly)
	}
	return nil
}

// Store is the lookup side of promo persistence.
type Store interface {
	GetPromoCode(ctx context.Context, code string) (*models.PromoCode, error)
	CountUserOrders(ctx context.Context, userID int64) (int, error)
}

type Engine struct {
	store       Store
	welcomeCode string
	now         func() time.Time
}

func NewEngine(store Store, welcomeCode string) *Engine {
	return &Engine{store: store, welcomeCode: Normalize(welcomeCode), now: time.Now}
}

// Validate looks code up and evaluates it once against the order amount,
// which for a checkout is the grand total across every shop.
func (e *Engine) Validate(ctx context.Context, code string, amount decimal.Decimal, scope string, userID int64) (Result, error) {
	code = Normalize(code)
	if code == "" {
		return Result{}, models.Invalid("code", "is required")
	}

	pc, err := e.store.GetPromoCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Result{}, &models.PromoInvalidError{Code: code, Reason: models.PromoReasonUnknown}
		}
		return Result{}, err
	}

	el := Eligibility{Now: e.now()}
	if pc.FirstOrderOnly && userID != 0 {
		n, err := e.store.CountUserOrders(ctx, userID)
		if err != nil {
			return Result{}, err
		}
		el.HasPastOrders = n > 0
	}

	return Evaluate(*pc, amount, scope, el)
}

// WelcomeCode offers the configured first-order code to users without
// orders.
func (e *Engine) WelcomeCode(ctx context.Context, userID int64) (string, bool, error) {
	if e.welcomeCode == "" || userID == 0 {
		return "", false, nil
	}
	n, err := e.store.CountUserOrders(ctx, userID)
	if err != nil {
		return "", false, err
	}
	if n > 0 {
		return "", false, nil
	}
	return e.welcomeCode, true, nil
}
