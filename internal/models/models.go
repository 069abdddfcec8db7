package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID        int64     `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	Version   int       `json:"version" db:"version"`
}

// Product is the read model of a shop's product. Stock is only meaningful
// when HasVariants is false; otherwise stock lives on each Variant.
type Product struct {
	ID          int64           `json:"id" db:"id"`
	ShopID      int64           `json:"shop_id" db:"shop_id"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description,omitempty" db:"description"`
	Price       decimal.Decimal `json:"price" db:"price"`
	HasVariants bool            `json:"has_variants" db:"has_variants"`
	Stock       int             `json:"stock" db:"stock"`
	Variants    []Variant       `json:"variants,omitempty" db:"-"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
	Version     int             `json:"version" db:"version"`
}

type Variant struct {
	ID            int64               `json:"id" db:"id"`
	ProductID     int64               `json:"product_id" db:"product_id"`
	Attributes    map[string]string   `json:"attributes" db:"-"`
	Stock         int                 `json:"stock" db:"stock"`
	PriceOverride decimal.NullDecimal `json:"price_override" db:"price_override"`
	Version       int                 `json:"version" db:"version"`
}

type Order struct {
	ID              int64           `json:"id" db:"id"`
	UserID          int64           `json:"user_id" db:"user_id"`
	ShopID          int64           `json:"shop_id" db:"shop_id"`
	OrderNumber     string          `json:"order_number" db:"order_number"`
	BatchKey        string          `json:"batch_key" db:"batch_key"`
	Status          string          `json:"status" db:"status"`
	ReturnRequested bool            `json:"return_requested" db:"return_requested"`
	ReturnReason    string          `json:"return_reason,omitempty" db:"return_reason"`
	ShippingAddress string          `json:"shipping_address" db:"shipping_address"`
	Wilaya          string          `json:"wilaya" db:"wilaya"`
	Phone           string          `json:"phone" db:"phone"`
	PromoCode       string          `json:"promo_code,omitempty" db:"promo_code"`
	Subtotal        decimal.Decimal `json:"subtotal" db:"subtotal"`
	DiscountAmount  decimal.Decimal `json:"discount_amount" db:"discount_amount"`
	TotalAmount     decimal.Decimal `json:"total_amount" db:"total_amount"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
	Version         int             `json:"version" db:"version"`
	Items           []OrderItem     `json:"items,omitempty" db:"-"`
}

type OrderItem struct {
	ID         int64             `json:"id" db:"id"`
	OrderID    int64             `json:"order_id" db:"order_id"`
	ProductID  int64             `json:"product_id" db:"product_id"`
	VariantID  int64             `json:"variant_id,omitempty" db:"variant_id"`
	Quantity   int               `json:"quantity" db:"quantity"`
	UnitPrice  decimal.Decimal   `json:"unit_price" db:"unit_price"`
	Subtotal   decimal.Decimal   `json:"subtotal" db:"subtotal"`
	Attributes map[string]string `json:"attributes,omitempty" db:"-"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
}

type PromoCode struct {
	Code           string              `json:"code" db:"code"`
	DiscountType   string              `json:"discount_type" db:"discount_type"`
	DiscountValue  decimal.Decimal     `json:"discount_value" db:"discount_value"`
	MaxDiscount    decimal.NullDecimal `json:"max_discount" db:"max_discount"`
	AppliesTo      string              `json:"applies_to" db:"applies_to"`
	InfluencerName string              `json:"influencer_name,omitempty" db:"influencer_name"`
	StartsAt       *time.Time          `json:"starts_at,omitempty" db:"starts_at"`
	ExpiresAt      *time.Time          `json:"expires_at,omitempty" db:"expires_at"`
	MaxUses        *int                `json:"max_uses,omitempty" db:"max_uses"`
	UsedCount      int                 `json:"used_count" db:"used_count"`
	FirstOrderOnly bool                `json:"first_order_only" db:"first_order_only"`
	Active         bool                `json:"active" db:"active"`
}

const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusShipped   = "shipped"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)

const (
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"
)

const (
	ScopeProducts = "products"
	ScopeShipping = "shipping"
	ScopeAll      = "all"
)
