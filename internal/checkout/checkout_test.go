package checkout

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/safar/souk/internal/cart"
	"github.com/safar/souk/internal/catalog"
	"github.com/safar/souk/internal/models"
	"github.com/safar/souk/internal/promo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

var ship = Shipping{Address: "12 rue Didouche Mourad", Wilaya: "Alger", Phone: "0550000000"}

func twoShopGroups() []cart.ShopGroup {
	return cart.GroupByShop([]cart.Line{
		{ShopID: 1, ProductID: 10, UnitPrice: d(1000), Quantity: 2},
		{ShopID: 2, ProductID: 20, UnitPrice: d(500), Quantity: 1},
	})
}

func TestAllocateProportional(t *testing.T) {
	shares := Allocate(d(300), []decimal.Decimal{d(2000), d(500)})
	require.Len(t, shares, 2)
	assert.True(t, shares[0].Equal(d(240)), "got %s", shares[0])
	assert.True(t, shares[1].Equal(d(60)), "got %s", shares[1])
}

func TestAllocateLargestRemainder(t *testing.T) {
	shares := Allocate(d(100), []decimal.Decimal{d(1), d(1), d(1)})
	assert.Equal(t, "33.34", shares[0].StringFixed(2))
	assert.Equal(t, "33.33", shares[1].StringFixed(2))
	assert.Equal(t, "33.33", shares[2].StringFixed(2))

	shares = Allocate(decimal.RequireFromString("0.05"), []decimal.Decimal{d(10), d(30), d(60)})
	assert.Equal(t, "0.01", shares[0].StringFixed(2))
	assert.Equal(t, "0.01", shares[1].StringFixed(2))
	assert.Equal(t, "0.03", shares[2].StringFixed(2))
}

func TestAllocateZero(t *testing.T) {
	for _, s := range Allocate(decimal.Zero, []decimal.Decimal{d(10), d(20)}) {
		assert.True(t, s.IsZero())
	}
	for _, s := range Allocate(d(10), []decimal.Decimal{decimal.Zero, decimal.Zero}) {
		assert.True(t, s.IsZero())
	}
	assert.Empty(t, Allocate(d(10), nil))
}

func TestAllocationSumsToDiscount(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "shops")
		subtotals := make([]decimal.Decimal, n)
		total := decimal.Zero
		for i := range subtotals {
			subtotals[i] = decimal.New(rapid.Int64Range(0, 10_000_000).Draw(t, "cents"), -2)
			total = total.Add(subtotals[i])
		}
		maxCents := total.Shift(2).IntPart()
		discount := decimal.New(rapid.Int64Range(0, maxCents).Draw(t, "discount"), -2)

		shares := Allocate(discount, subtotals)
		sum := decimal.Zero
		for i, s := range shares {
			if s.IsNegative() || s.GreaterThan(subtotals[i]) {
				t.Fatalf("share %s out of range for subtotal %s", s, subtotals[i])
			}
			sum = sum.Add(s)
		}
		if total.IsPositive() && !sum.Equal(discount) {
			t.Fatalf("expected shares to sum to %s, got %s", discount, sum)
		}
	})
}

func TestComposeTwoShopScenario(t *testing.T) {
	groups := twoShopGroups()
	pc := models.PromoCode{Code: "FIX300", DiscountType: models.DiscountFixed, DiscountValue: d(300), AppliesTo: models.ScopeProducts, Active: true}
	quote, err := promo.Evaluate(pc, cart.GrandTotal(groups), models.ScopeProducts, promo.Eligibility{})
	require.NoError(t, err)

	b, err := Compose(groups, &quote, ship)
	require.NoError(t, err)

	assert.True(t, b.GrandTotal.Equal(d(2500)))
	assert.True(t, b.DiscountAmount.Equal(d(300)))
	assert.True(t, b.FinalAmount.Equal(d(2200)))
	assert.Equal(t, "FIX300", b.PromoCode)
	require.Len(t, b.Orders, 2)

	assert.Equal(t, int64(1), b.Orders[0].ShopID)
	assert.True(t, b.Orders[0].Discount.Equal(d(240)))
	assert.True(t, b.Orders[0].Total.Equal(d(1760)))
	assert.True(t, b.Orders[1].Discount.Equal(d(60)))
	assert.True(t, b.Orders[1].Total.Equal(d(440)))
}

func TestComposeTotalsInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(t, "lines")
		lines := make([]cart.Line, n)
		for i := range lines {
			lines[i] = cart.Line{
				ShopID:    rapid.Int64Range(1, 5).Draw(t, "shop"),
				ProductID: int64(i + 1),
				UnitPrice: decimal.New(rapid.Int64Range(1, 1_000_000).Draw(t, "price"), -2),
				Quantity:  rapid.IntRange(1, 5).Draw(t, "qty"),
			}
		}
		groups := cart.GroupByShop(lines)
		grand := cart.GrandTotal(groups)

		pc := models.PromoCode{
			Code:          "P",
			DiscountType:  rapid.SampledFrom([]string{models.DiscountFixed, models.DiscountPercentage}).Draw(t, "type"),
			DiscountValue: d(rapid.Int64Range(0, 100).Draw(t, "value")),
			Active:        true,
		}
		quote, err := promo.Evaluate(pc, grand, models.ScopeProducts, promo.Eligibility{})
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}

		b, err := Compose(groups, &quote, ship)
		if err != nil {
			t.Fatalf("compose: %v", err)
		}

		subs, discounts, totals := decimal.Zero, decimal.Zero, decimal.Zero
		for _, o := range b.Orders {
			subs = subs.Add(o.Subtotal)
			discounts = discounts.Add(o.Discount)
			totals = totals.Add(o.Total)
		}
		if !subs.Equal(grand) {
			t.Fatalf("expected subtotals to sum to %s, got %s", grand, subs)
		}
		if !discounts.Equal(quote.DiscountAmount) {
			t.Fatalf("expected discounts to sum to %s, got %s", quote.DiscountAmount, discounts)
		}
		if !totals.Equal(quote.FinalAmount) {
			t.Fatalf("expected totals to sum to %s, got %s", quote.FinalAmount, totals)
		}
	})
}

func TestComposeRejects(t *testing.T) {
	_, err := Compose(nil, nil, ship)
	var vErr *models.ValidationError
	require.ErrorAs(t, err, &vErr)

	_, err = Compose(twoShopGroups(), nil, Shipping{Address: "x", Phone: "1"})
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "wilaya", vErr.Field)

	stale := promo.Result{Code: "X", DiscountAmount: d(100), OriginalAmount: d(1000)}
	_, err = Compose(twoShopGroups(), &stale, ship)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "promo_code", vErr.Field)
}

type fakeSubmitter struct {
	batches []Batch
	err     error
}

func (f *fakeSubmitter) SubmitBatch(_ context.Context, b Batch) ([]models.Order, error) {
	f.batches = append(f.batches, b)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.Order, len(b.Orders))
	for i, o := range b.Orders {
		out[i] = models.Order{ID: int64(i + 1), ShopID: o.ShopID, TotalAmount: o.Total, Status: models.OrderStatusPending}
	}
	return out, nil
}

type fakePromo struct {
	calls int
	pc    models.PromoCode
}

func (f *fakePromo) Validate(_ context.Context, code string, amount decimal.Decimal, scope string, _ int64) (promo.Result, error) {
	f.calls++
	if promo.Normalize(code) != f.pc.Code {
		return promo.Result{}, &models.PromoInvalidError{Code: code, Reason: models.PromoReasonUnknown}
	}
	return promo.Evaluate(f.pc, amount, scope, promo.Eligibility{})
}

func cartWithTwoShops(t *testing.T) *cart.State {
	t.Helper()
	var st cart.State
	a, err := catalog.New(models.Product{ID: 10, ShopID: 1, Price: d(1000), Stock: 5})
	require.NoError(t, err)
	b, err := catalog.New(models.Product{
		ID: 20, ShopID: 2, Price: d(500), HasVariants: true,
		Variants: []models.Variant{{ID: 21, Attributes: map[string]string{"Taille": "M"}, Stock: 1}},
	})
	require.NoError(t, err)
	require.NoError(t, st.Apply(cart.AddLine{Catalog: a, Quantity: 2}))
	require.NoError(t, st.Apply(cart.AddLine{Catalog: b, Selection: catalog.Selection{"Taille": "M"}, Quantity: 1}))
	return &st
}

func TestCheckoutRunSplitsAndClearsCart(t *testing.T) {
	st := cartWithTwoShops(t)
	sub := &fakeSubmitter{}
	pr := &fakePromo{pc: models.PromoCode{Code: "FIX300", DiscountType: models.DiscountFixed, DiscountValue: d(300), Active: true}}
	co := &Checkout{Promo: pr, Submitter: sub}

	orders, err := co.Run(context.Background(), st, 42, "fix300", ship)
	require.NoError(t, err)

	assert.Len(t, orders, 2)
	assert.Equal(t, 1, pr.calls, "promo must be validated once per checkout")
	require.Len(t, sub.batches, 1)
	b := sub.batches[0]
	assert.NotEmpty(t, b.IdempotencyKey)
	assert.Equal(t, int64(42), b.UserID)
	assert.Equal(t, map[string]string{"Taille": "M"}, b.Orders[1].Items[0].Attributes)
	assert.Zero(t, st.Len())
}

func TestCheckoutRunKeepsCartOnFailure(t *testing.T) {
	st := cartWithTwoShops(t)
	stockErr := &models.StockInsufficientError{Shortfalls: []models.Shortfall{{ProductID: 20, Requested: 1}}}
	co := &Checkout{Promo: &fakePromo{}, Submitter: &fakeSubmitter{err: stockErr}}

	_, err := co.Run(context.Background(), st, 42, "", ship)
	assert.True(t, errors.Is(err, stockErr))
	assert.Equal(t, 2, st.Len())
}

func TestCheckoutRunPromoInvalid(t *testing.T) {
	st := cartWithTwoShops(t)
	sub := &fakeSubmitter{}
	co := &Checkout{Promo: &fakePromo{pc: models.PromoCode{Code: "OTHER"}}, Submitter: sub}

	_, err := co.Run(context.Background(), st, 42, "nope", ship)
	var pErr *models.PromoInvalidError
	require.ErrorAs(t, err, &pErr)
	assert.Empty(t, sub.batches)
}

// lossySubmitter stores every batch it accepts under its key but can drop
// the answer, the way a gateway timeout after commit does.
type lossySubmitter struct {
	fakeSubmitter
	stored   map[string][]models.Order
	loseNext bool
	finds    int
}

func (l *lossySubmitter) SubmitBatch(ctx context.Context, b Batch) ([]models.Order, error) {
	if prev, ok := l.stored[b.IdempotencyKey]; ok {
		l.batches = append(l.batches, b)
		return prev, nil
	}
	orders, err := l.fakeSubmitter.SubmitBatch(ctx, b)
	if err != nil {
		return nil, err
	}
	if l.stored == nil {
		l.stored = map[string][]models.Order{}
	}
	l.stored[b.IdempotencyKey] = orders
	if l.loseNext {
		l.loseNext = false
		return nil, &UnknownOutcomeError{Key: b.IdempotencyKey, Err: errors.New("504 gateway timeout")}
	}
	return orders, nil
}

func (l *lossySubmitter) FindBatch(_ context.Context, key string) ([]models.Order, error) {
	l.finds++
	orders, ok := l.stored[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, key)
	}
	return orders, nil
}

func TestCheckoutRunRecoversCommittedBatchAfterUnknownOutcome(t *testing.T) {
	st := cartWithTwoShops(t)
	sub := &lossySubmitter{loseNext: true}
	co := &Checkout{Promo: &fakePromo{}, Submitter: sub}

	_, err := co.Run(context.Background(), st, 42, "", ship)
	var uo *UnknownOutcomeError
	require.ErrorAs(t, err, &uo)
	assert.ErrorIs(t, err, ErrUnknownOutcome)
	assert.NotEmpty(t, uo.Key)
	assert.Equal(t, uo.Key, co.PendingKey())
	assert.Equal(t, 2, st.Len(), "cart is kept while the outcome is unknown")

	orders, err := co.Run(context.Background(), st, 42, "", ship)
	require.NoError(t, err)
	assert.Len(t, orders, 2)
	assert.Equal(t, 1, sub.finds)
	assert.Len(t, sub.batches, 1, "a found batch is not submitted again")
	assert.Len(t, sub.stored, 1)
	assert.Empty(t, co.PendingKey())
	assert.Zero(t, st.Len())
}

func TestCheckoutRunResubmitsUnderPendingKeyWhenNotFound(t *testing.T) {
	st := cartWithTwoShops(t)
	sub := &lossySubmitter{fakeSubmitter: fakeSubmitter{err: errors.New("connection reset")}}
	co := &Checkout{Promo: &fakePromo{}, Submitter: sub}

	_, err := co.Run(context.Background(), st, 42, "", ship)
	require.Error(t, err)
	key := co.PendingKey()
	require.NotEmpty(t, key)

	sub.err = nil
	orders, err := co.Run(context.Background(), st, 42, "", ship)
	require.NoError(t, err)
	assert.Len(t, orders, 2)
	assert.Equal(t, 1, sub.finds)
	require.Len(t, sub.batches, 2)
	assert.Equal(t, key, sub.batches[0].IdempotencyKey)
	assert.Equal(t, key, sub.batches[1].IdempotencyKey)
	assert.Empty(t, co.PendingKey())
	assert.Zero(t, st.Len())
}

func TestCheckoutRunLookupFailureKeepsPendingKey(t *testing.T) {
	st := cartWithTwoShops(t)
	sub := &lossySubmitter{loseNext: true}
	lookupErr := errors.New("lookup unavailable")
	co := &Checkout{Promo: &fakePromo{}, Submitter: sub, Finder: failingFinder{err: lookupErr}}

	_, err := co.Run(context.Background(), st, 42, "", ship)
	require.ErrorIs(t, err, ErrUnknownOutcome)
	key := co.PendingKey()

	_, err = co.Run(context.Background(), st, 42, "", ship)
	var uo *UnknownOutcomeError
	require.ErrorAs(t, err, &uo)
	assert.Equal(t, key, uo.Key)
	assert.ErrorIs(t, err, lookupErr)
	assert.Len(t, sub.batches, 1)
	assert.Equal(t, 2, st.Len())
}

func TestCheckoutRunRejectionDropsPendingKey(t *testing.T) {
	st := cartWithTwoShops(t)
	sub := &lossySubmitter{fakeSubmitter: fakeSubmitter{err: errors.New("connection reset")}}
	co := &Checkout{Promo: &fakePromo{}, Submitter: sub}

	_, err := co.Run(context.Background(), st, 42, "", ship)
	require.Error(t, err)
	first := co.PendingKey()
	require.NotEmpty(t, first)

	sub.err = &models.StockInsufficientError{Shortfalls: []models.Shortfall{{ProductID: 20, Requested: 1}}}
	_, err = co.Run(context.Background(), st, 42, "", ship)
	var stockErr *models.StockInsufficientError
	require.ErrorAs(t, err, &stockErr)
	assert.Empty(t, co.PendingKey())

	sub.err = nil
	_, err = co.Run(context.Background(), st, 42, "", ship)
	require.NoError(t, err)
	require.Len(t, sub.batches, 3)
	assert.NotEqual(t, first, sub.batches[2].IdempotencyKey)
}

type failingFinder struct{ err error }

func (f failingFinder) FindBatch(context.Context, string) ([]models.Order, error) {
	return nil, f.err
}
