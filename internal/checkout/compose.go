// Package checkout turns a cart and an optional promo quote into one order
// per shop and submits them as a single batch.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/safar/souk/internal/cart"
	"github.com/safar/souk/internal/models"
	"github.com/safar/souk/internal/promo"
	"github.com/shopspring/decimal"
)

type Shipping struct {
	Address string `json:"shipping_address"`
	Wilaya  string `json:"wilaya"`
	Phone   string `json:"phone"`
}

func (s Shipping) Validate() error {
	if strings.TrimSpace(s.Address) == "" {
		return models.Invalid("shipping_address", "is required")
	}
	if strings.TrimSpace(s.Wilaya) == "" {
		return models.Invalid("wilaya", "is required")
	}
	if strings.TrimSpace(s.Phone) == "" {
		return models.Invalid("phone", "is required")
	}
	return nil
}

type Item struct {
	ProductID  int64             `json:"product_id"`
	VariantID  int64             `json:"variant_id,omitempty"`
	Quantity   int               `json:"quantity"`
	UnitPrice  decimal.Decimal   `json:"price"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type ShopOrder struct {
	ShopID   int64           `json:"shop_id"`
	Items    []Item          `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount_amount"`
	Total    decimal.Decimal `json:"total"`
}

// Batch is the whole checkout: every shop order plus what they share.
type Batch struct {
	IdempotencyKey string          `json:"idempotency_key"`
	UserID         int64           `json:"user_id"`
	Shipping       Shipping        `json:"shipping"`
	PromoCode      string          `json:"promo_code,omitempty"`
	Orders         []ShopOrder     `json:"orders"`
	GrandTotal     decimal.Decimal `json:"grand_total"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
}

// Compose builds one ShopOrder per group. quote may be nil; when present it
// must have been computed against the groups' grand total.
func Compose(groups []cart.ShopGroup, quote *promo.Result, ship Shipping) (Batch, error) {
	if len(groups) == 0 {
		return Batch{}, models.Invalid("items", "cart is empty")
	}
	if err := ship.Validate(); err != nil {
		return Batch{}, err
	}

	grand := cart.GrandTotal(groups)
	discount := decimal.Zero
	var code string
	if quote != nil {
		if !quote.OriginalAmount.Equal(grand) {
			return Batch{}, models.Invalid("promo_code", "quote computed for %s, cart total is %s", quote.OriginalAmount, grand)
		}
		discount = quote.DiscountAmount
		code = quote.Code
	}
	if discount.IsNegative() || discount.GreaterThan(grand) {
		return Batch{}, models.Invalid("discount_amount", "must be between 0 and %s", grand)
	}

	subtotals := make([]decimal.Decimal, len(groups))
	for i, g := range groups {
		subtotals[i] = cart.Subtotal(g)
	}
	shares := Allocate(discount, subtotals)

	b := Batch{
		Shipping:       ship,
		PromoCode:      code,
		GrandTotal:     grand,
		DiscountAmount: discount,
		FinalAmount:    grand.Sub(discount),
	}
	for i, g := range groups {
		so := ShopOrder{
			ShopID:   g.ShopID,
			Subtotal: subtotals[i],
			Discount: shares[i],
			Total:    subtotals[i].Sub(shares[i]),
		}
		for _, l := range g.Lines {
			if l.Quantity < 1 {
				return Batch{}, models.Invalid("quantity", "must be at least 1 for product %d", l.ProductID)
			}
			so.Items = append(so.Items, Item{
				ProductID:  l.ProductID,
				VariantID:  l.VariantID,
				Quantity:   l.Quantity,
				UnitPrice:  l.UnitPrice,
				Attributes: l.Selection,
			})
		}
		b.Orders = append(b.Orders, so)
	}

	return b, nil
}

// ErrUnknownOutcome means a batch was sent but no answer came back; it may
// or may not have been created.
var (
	ErrUnknownOutcome = errors.New("order submission outcome unknown")
	ErrBatchNotFound  = errors.New("order batch not found")
)

// UnknownOutcomeError carries the idempotency key of a batch whose outcome
// is unknown, so the caller can look it up.
type UnknownOutcomeError struct {
	Key string
	Err error
}

func (e *UnknownOutcomeError) Error() string {
	return fmt.Sprintf("%v: key %s: %v", ErrUnknownOutcome, e.Key, e.Err)
}

func (e *UnknownOutcomeError) Unwrap() []error { return []error{ErrUnknownOutcome, e.Err} }

// Submitter persists a batch atomically: every shop order is created or
// none is.
type Submitter interface {
	SubmitBatch(ctx context.Context, b Batch) ([]models.Order, error)
}

// BatchFinder returns the orders created under an idempotency key, or an
// error wrapping ErrBatchNotFound.
type BatchFinder interface {
	FindBatch(ctx context.Context, key string) ([]models.Order, error)
}

type PromoValidator interface {
	Validate(ctx context.Context, code string, amount decimal.Decimal, scope string, userID int64) (promo.Result, error)
}

// Checkout runs the caller side of a checkout attempt. It is not safe for
// concurrent use.
type Checkout struct {
	Promo     PromoValidator
	Submitter Submitter
	// Finder defaults to Submitter when it also implements BatchFinder.
	Finder BatchFinder

	pendingKey string
}

// PendingKey is the key of the last submission whose outcome is unknown,
// or "" when there is none.
func (c *Checkout) PendingKey() string { return c.pendingKey }

func (c *Checkout) finder() BatchFinder {
	if c.Finder != nil {
		return c.Finder
	}
	f, _ := c.Submitter.(BatchFinder)
	return f
}

// Run validates code once against the grand total, composes the shop
// orders and submits them under a single idempotency key. The cart is
// cleared only when the batch was accepted.
//
// Unless the server rejected the batch, a failed submission keeps its key.
// The next Run first looks the batch up under that key and returns it if
// it exists; otherwise it submits the current cart under the same key, so
// at most one batch is ever created for it.
func (c *Checkout) Run(ctx context.Context, st *cart.State, userID int64, code string, ship Shipping) ([]models.Order, error) {
	if c.pendingKey != "" {
		if f := c.finder(); f != nil {
			orders, err := f.FindBatch(ctx, c.pendingKey)
			switch {
			case err == nil:
				c.pendingKey = ""
				if err := st.Apply(cart.Clear{}); err != nil {
					return nil, err
				}
				return orders, nil
			case !errors.Is(err, ErrBatchNotFound):
				return nil, &UnknownOutcomeError{Key: c.pendingKey, Err: err}
			}
		}
	}

	groups := cart.GroupByShop(st.Lines())
	if len(groups) == 0 {
		return nil, models.Invalid("items", "cart is empty")
	}

	var quote *promo.Result
	if strings.TrimSpace(code) != "" {
		res, err := c.Promo.Validate(ctx, code, cart.GrandTotal(groups), models.ScopeProducts, userID)
		if err != nil {
			return nil, err
		}
		quote = &res
	}

	b, err := Compose(groups, quote, ship)
	if err != nil {
		return nil, err
	}
	b.UserID = userID
	b.IdempotencyKey = c.pendingKey
	if b.IdempotencyKey == "" {
		b.IdempotencyKey = uuid.NewString()
	}

	orders, err := c.Submitter.SubmitBatch(ctx, b)
	if err != nil {
		if rejected(err) {
			c.pendingKey = ""
			return nil, err
		}
		// Anything short of a rejection may have committed; keep the key
		// until a lookup says otherwise.
		c.pendingKey = b.IdempotencyKey
		var uo *UnknownOutcomeError
		if errors.Is(err, ErrUnknownOutcome) && !errors.As(err, &uo) {
			err = &UnknownOutcomeError{Key: b.IdempotencyKey, Err: err}
		}
		return nil, err
	}

	c.pendingKey = ""
	if err := st.Apply(cart.Clear{}); err != nil {
		return nil, err
	}
	return orders, nil
}

// rejected reports whether the server refused the batch, which means
// nothing was created under its key.
func rejected(err error) bool {
	var (
		validationErr *models.ValidationError
		stockErr      *models.StockInsufficientError
		promoErr      *models.PromoInvalidError
		priceErr      *models.PriceChangedError
	)
	return errors.As(err, &validationErr) ||
		errors.As(err, &stockErr) ||
		errors.As(err, &promoErr) ||
		errors.As(err, &priceErr)
}
