package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/safar/souk/internal/database"
	"github.com/safar/souk/internal/models"
	"github.com/safar/souk/internal/promo"
)

const promoColumns = `code, discount_type, discount_value, max_discount, applies_to, influencer_name,
	starts_at, expires_at, max_uses, used_count, first_order_only, active`

func CreatePromoCode(ctx context.Context, db *sqlx.DB, pc models.PromoCode) (*models.PromoCode, error) {
	pc.Code = promo.Normalize(pc.Code)
	if pc.Code == "" {
		return nil, models.Invalid("code", "is required")
	}
	if pc.DiscountType != models.DiscountPercentage && pc.DiscountType != models.DiscountFixed {
		return nil, models.Invalid("discount_type", "must be %s or %s", models.DiscountPercentage, models.DiscountFixed)
	}
	if pc.DiscountValue.IsNegative() {
		return nil, models.Invalid("discount_value", "must not be negative")
	}
	if pc.AppliesTo == "" {
		pc.AppliesTo = models.ScopeProducts
	}

	_, err := db.ExecContext(ctx, db.Rebind(
		`INSERT INTO promo_codes (`+promoColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		pc.Code, pc.DiscountType, pc.DiscountValue, pc.MaxDiscount, pc.AppliesTo, pc.InfluencerName,
		pc.StartsAt, pc.ExpiresAt, pc.MaxUses, pc.UsedCount, pc.FirstOrderOnly, pc.Active)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, models.Invalid("code", "%s already exists", pc.Code)
		}
		return nil, fmt.Errorf("create promo code: %w", err)
	}

	return getPromoCode(ctx, db, pc.Code, false)
}

func GetPromoCode(ctx context.Context, db *sqlx.DB, code string) (*models.PromoCode, error) {
	return getPromoCode(ctx, db, promo.Normalize(code), false)
}

func getPromoCode(ctx context.Context, q sqlx.ExtContext, code string, lock bool) (*models.PromoCode, error) {
	query := `SELECT ` + promoColumns + ` FROM promo_codes WHERE code = ?`
	if lock && database.IsPostgres(q) {
		query += ` FOR UPDATE`
	}

	pc := &models.PromoCode{}
	if err := sqlx.GetContext(ctx, q, pc, q.Rebind(query), code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, promo.ErrNotFound
		}
		return nil, fmt.Errorf("get promo code: %w", err)
	}
	return pc, nil
}

// consumePromo counts one use of code, refusing once max_uses is reached.
func consumePromo(ctx context.Context, tx *sqlx.Tx, code string) error {
	result, err := tx.ExecContext(ctx, tx.Rebind(
		`UPDATE promo_codes
		 SET used_count = used_count + 1
		 WHERE code = ?
		   AND (max_uses IS NULL OR used_count < max_uses)`),
		code)
	if err != nil {
		return fmt.Errorf("consume promo code: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return &models.PromoInvalidError{Code: code, Reason: models.PromoReasonUsageExhausted}
	}
	return nil
}

// PromoStore serves promo lookups to a promo.Engine.
type PromoStore struct {
	DB *sqlx.DB
}

func (s PromoStore) GetPromoCode(ctx context.Context, code string) (*models.PromoCode, error) {
	return GetPromoCode(ctx, s.DB, code)
}

func (s PromoStore) CountUserOrders(ctx context.Context, userID int64) (int, error) {
	return CountUserOrders(ctx, s.DB, userID)
}
