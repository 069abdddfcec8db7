package promo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/safar/souk/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	codes  map[string]models.PromoCode
	orders map[int64]int
}

func (m *memStore) GetPromoCode(_ context.Context, code string) (*models.PromoCode, error) {
	pc, ok := m.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	return &pc, nil
}

func (m *memStore) CountUserOrders(_ context.Context, userID int64) (int, error) {
	return m.orders[userID], nil
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func welcome10() models.PromoCode {
	return models.PromoCode{
		Code:           "WELCOME10",
		DiscountType:   models.DiscountPercentage,
		DiscountValue:  d(10),
		MaxDiscount:    decimal.NewNullDecimal(d(200)),
		AppliesTo:      models.ScopeProducts,
		FirstOrderOnly: true,
		Active:         true,
	}
}

func reasonOf(t *testing.T, err error) string {
	t.Helper()
	var pErr *models.PromoInvalidError
	require.True(t, errors.As(err, &pErr), "expected PromoInvalidError, got %v", err)
	return pErr.Reason
}

func TestEvaluatePercentageCappedByMaxDiscount(t *testing.T) {
	res, err := Evaluate(welcome10(), d(3000), models.ScopeProducts, Eligibility{})
	require.NoError(t, err)

	assert.True(t, res.DiscountAmount.Equal(d(200)), "got %s", res.DiscountAmount)
	assert.True(t, res.FinalAmount.Equal(d(2800)))
	assert.True(t, res.OriginalAmount.Equal(d(3000)))
	assert.Equal(t, models.DiscountPercentage, res.DiscountType)
}

func TestEvaluatePercentageUnderCap(t *testing.T) {
	res, err := Evaluate(welcome10(), d(1500), models.ScopeProducts, Eligibility{})
	require.NoError(t, err)
	assert.True(t, res.DiscountAmount.Equal(d(150)))
}

func TestEvaluatePercentageRoundsToCents(t *testing.T) {
	pc := models.PromoCode{Code: "p", DiscountType: models.DiscountPercentage, DiscountValue: d(15), Active: true}
	res, err := Evaluate(pc, decimal.RequireFromString("99.99"), "", Eligibility{})
	require.NoError(t, err)
	assert.Equal(t, "15", res.DiscountAmount.StringFixed(0))
	assert.True(t, res.DiscountAmount.Equal(decimal.RequireFromString("15")), "got %s", res.DiscountAmount)
	assert.Equal(t, "P", res.Code)
}

func TestEvaluateFixedNeverExceedsAmount(t *testing.T) {
	pc := models.PromoCode{Code: "FIX300", DiscountType: models.DiscountFixed, DiscountValue: d(300), AppliesTo: models.ScopeProducts, Active: true}

	res, err := Evaluate(pc, d(2500), models.ScopeProducts, Eligibility{})
	require.NoError(t, err)
	assert.True(t, res.DiscountAmount.Equal(d(300)))
	assert.True(t, res.FinalAmount.Equal(d(2200)))

	res, err = Evaluate(pc, d(120), models.ScopeProducts, Eligibility{})
	require.NoError(t, err)
	assert.True(t, res.DiscountAmount.Equal(d(120)))
	assert.True(t, res.FinalAmount.IsZero())
}

func TestEvaluateInvalidReasons(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	two := 2

	base := models.PromoCode{Code: "X", DiscountType: models.DiscountFixed, DiscountValue: d(100), AppliesTo: models.ScopeProducts, Active: true}

	cases := []struct {
		name   string
		mutate func(*models.PromoCode)
		scope  string
		el     Eligibility
		reason string
	}{
		{"inactive", func(p *models.PromoCode) { p.Active = false }, models.ScopeProducts, Eligibility{Now: now}, models.PromoReasonInactive},
		{"expired", func(p *models.PromoCode) { p.ExpiresAt = &past }, models.ScopeProducts, Eligibility{Now: now}, models.PromoReasonExpired},
		{"not yet", func(p *models.PromoCode) { p.StartsAt = &future }, models.ScopeProducts, Eligibility{Now: now}, models.PromoReasonNotYetValid},
		{"scope", func(p *models.PromoCode) {}, models.ScopeShipping, Eligibility{Now: now}, models.PromoReasonWrongScope},
		{"usage", func(p *models.PromoCode) { p.MaxUses = &two; p.UsedCount = 2 }, models.ScopeProducts, Eligibility{Now: now}, models.PromoReasonUsageExhausted},
		{"first order", func(p *models.PromoCode) { p.FirstOrderOnly = true }, models.ScopeProducts, Eligibility{Now: now, HasPastOrders: true}, models.PromoReasonFirstOrderOnly},
		{"type", func(p *models.PromoCode) { p.DiscountType = "bogus" }, models.ScopeProducts, Eligibility{Now: now}, models.PromoReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pc := base
			tc.mutate(&pc)
			_, err := Evaluate(pc, d(1000), tc.scope, tc.el)
			assert.Equal(t, tc.reason, reasonOf(t, err))
		})
	}
}

func TestEvaluateScopeAllMatchesAnything(t *testing.T) {
	pc := models.PromoCode{Code: "ALL", DiscountType: models.DiscountFixed, DiscountValue: d(50), AppliesTo: models.ScopeAll, Active: true}
	_, err := Evaluate(pc, d(1000), models.ScopeShipping, Eligibility{})
	assert.NoError(t, err)
}

func TestEngineValidate(t *testing.T) {
	store := &memStore{
		codes:  map[string]models.PromoCode{"WELCOME10": welcome10()},
		orders: map[int64]int{7: 3},
	}
	e := NewEngine(store, "welcome10")

	res, err := e.Validate(context.Background(), " welcome10 ", d(3000), models.ScopeProducts, 1)
	require.NoError(t, err)
	assert.True(t, res.DiscountAmount.Equal(d(200)))

	_, err = e.Validate(context.Background(), "NOPE", d(3000), models.ScopeProducts, 1)
	assert.Equal(t, models.PromoReasonUnknown, reasonOf(t, err))

	_, err = e.Validate(context.Background(), "WELCOME10", d(3000), models.ScopeProducts, 7)
	assert.Equal(t, models.PromoReasonFirstOrderOnly, reasonOf(t, err))

	_, err = e.Validate(context.Background(), "  ", d(3000), models.ScopeProducts, 1)
	var vErr *models.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestEngineWelcomeCode(t *testing.T) {
	store := &memStore{orders: map[int64]int{7: 1}}
	e := NewEngine(store, "welcome10")

	code, ok, err := e.WelcomeCode(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "WELCOME10", code)

	_, ok, err = e.WelcomeCode(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, _ = NewEngine(store, "").WelcomeCode(context.Background(), 1)
	assert.False(t, ok)
}
