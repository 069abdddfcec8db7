package models

import "github.com/shopspring/decimal"

// OrderItemRequest is one line of POST /orders. Attributes, when present,
// take precedence over the legacy variant_size and variant_color fields.
type OrderItemRequest struct {
	ProductID    int64               `json:"product_id"`
	Quantity     int                 `json:"quantity"`
	Price        decimal.NullDecimal `json:"price"`
	VariantSize  string              `json:"variant_size,omitempty"`
	VariantColor string              `json:"variant_color,omitempty"`
	Attributes   map[string]string   `json:"attributes,omitempty"`
}

// OrderRequest is the body of POST /orders. Price, Total and DiscountAmount
// are what the client showed the buyer.
type OrderRequest struct {
	Items           []OrderItemRequest  `json:"items"`
	Total           decimal.NullDecimal `json:"total"`
	ShippingAddress string              `json:"shipping_address"`
	Wilaya          string              `json:"wilaya"`
	Phone           string              `json:"phone"`
	PromoCode       string              `json:"promo_code,omitempty"`
	DiscountAmount  decimal.NullDecimal `json:"discount_amount"`
	UserID          int64               `json:"user_id"`
	IdempotencyKey  string              `json:"idempotency_key"`
}

type OrdersResponse struct {
	Orders []Order `json:"orders"`
}

type PromoValidateRequest struct {
	Code        string          `json:"code"`
	OrderAmount decimal.Decimal `json:"order_amount"`
	AppliesTo   string          `json:"applies_to,omitempty"`
	UserID      int64           `json:"user_id,omitempty"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

type ReturnRequest struct {
	Reason string `json:"reason"`
}

type LikeResponse struct {
	Liked bool `json:"liked"`
	Likes int  `json:"likes"`
}

// ErrorResponse is every non-2xx body. Code is stable for machines; Error
// is for people.
type ErrorResponse struct {
	Code       string      `json:"code"`
	Error      string      `json:"error"`
	Field      string      `json:"field,omitempty"`
	Valid      *bool       `json:"valid,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Shortfalls []Shortfall `json:"shortfalls,omitempty"`
	ProductID  int64       `json:"product_id,omitempty"`
	Expected   string      `json:"expected,omitempty"`
	Actual     string      `json:"actual,omitempty"`
}

type VariantView struct {
	ID         int64             `json:"id"`
	Attributes map[string]string `json:"attributes"`
	Size       string            `json:"size,omitempty"`
	Color      string            `json:"color,omitempty"`
	Stock      int               `json:"stock"`
	Price      decimal.Decimal   `json:"price"`
}

// ProductView is the public read model of a product. Stock is only set for
// products without variants.
type ProductView struct {
	ID          int64           `json:"id"`
	ShopID      int64           `json:"shop_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	HasVariants bool            `json:"has_variants"`
	Stock       *int            `json:"stock,omitempty"`
	Axes        []string        `json:"axes,omitempty"`
	Variants    []VariantView   `json:"variants,omitempty"`
}

// Product rebuilds the domain product from its view. A variant priced
// differently from the product gets that price as an override.
func (v ProductView) Product() Product {
	p := Product{
		ID:          v.ID,
		ShopID:      v.ShopID,
		Name:        v.Name,
		Description: v.Description,
		Price:       v.Price,
		HasVariants: v.HasVariants,
	}
	if v.Stock != nil {
		p.Stock = *v.Stock
	}
	for _, vv := range v.Variants {
		variant := Variant{ID: vv.ID, ProductID: v.ID, Attributes: vv.Attributes, Stock: vv.Stock}
		if !vv.Price.Equal(v.Price) {
			variant.PriceOverride = decimal.NewNullDecimal(vv.Price)
		}
		p.Variants = append(p.Variants, variant)
	}
	return p
}
