package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/safar/souk/internal/catalog"
	"github.com/safar/souk/internal/database"
	"github.com/safar/souk/internal/models"
	"github.com/shopspring/decimal"
)

const productColumns = `id, shop_id, name, description, price, has_variants, stock, created_at, updated_at, version`

type NewVariant struct {
	Attributes    map[string]string   `json:"attributes"`
	Stock         int                 `json:"stock"`
	PriceOverride decimal.NullDecimal `json:"price_override"`
}

// NewProduct describes a product to create. A product with at least one
// variant keeps its stock on the variants and ignores Stock.
type NewProduct struct {
	ShopID      int64           `json:"shop_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Variants    []NewVariant    `json:"variants"`
}

func (np NewProduct) validate() error {
	if np.ShopID <= 0 {
		return models.Invalid("shop_id", "is required")
	}
	if strings.TrimSpace(np.Name) == "" {
		return models.Invalid("name", "is required")
	}
	if np.Price.IsNegative() {
		return models.Invalid("price", "must not be negative")
	}
	if np.Stock < 0 {
		return models.Invalid("stock", "must not be negative")
	}

	p := models.Product{ShopID: np.ShopID, HasVariants: len(np.Variants) > 0}
	for i, v := range np.Variants {
		if len(v.Attributes) == 0 {
			return models.Invalid("variants", "variant %d has no attributes", i)
		}
		if v.Stock < 0 {
			return models.Invalid("variants", "variant %d has negative stock", i)
		}
		if v.PriceOverride.Valid && v.PriceOverride.Decimal.IsNegative() {
			return models.Invalid("variants", "variant %d has a negative price", i)
		}
		p.Variants = append(p.Variants, models.Variant{ID: int64(i + 1), Attributes: v.Attributes, Stock: v.Stock})
	}
	if _, err := catalog.New(p); err != nil {
		return models.Invalid("variants", "%v", err)
	}
	return nil
}

func CreateProduct(ctx context.Context, db *sqlx.DB, np NewProduct) (*models.Product, error) {
	if err := np.validate(); err != nil {
		return nil, err
	}

	var product *models.Product
	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		hasVariants := len(np.Variants) > 0
		stock := np.Stock
		if hasVariants {
			stock = 0
		}

		var id int64
		err := tx.QueryRowxContext(ctx, tx.Rebind(
			`INSERT INTO products (shop_id, name, description, price, has_variants, stock, created_at, updated_at, version)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
			 RETURNING id`),
			np.ShopID, strings.TrimSpace(np.Name), np.Description, np.Price, hasVariants, stock, now, now).Scan(&id)
		if err != nil {
			return fmt.Errorf("create product: %w", err)
		}

		for i, v := range np.Variants {
			attrs, err := json.Marshal(v.Attributes)
			if err != nil {
				return fmt.Errorf("encode variant attributes: %w", err)
			}
			_, err = tx.ExecContext(ctx, tx.Rebind(
				`INSERT INTO variants (product_id, position, attributes, attributes_key, stock, price_override, version)
				 VALUES (?, ?, ?, ?, ?, ?, 1)`),
				id, i, string(attrs), catalog.CanonicalKey(v.Attributes), v.Stock, v.PriceOverride)
			if err != nil {
				if database.IsUniqueViolation(err) {
					return models.Invalid("variants", "variant %d: %v", i, catalog.ErrDuplicateVariant)
				}
				return fmt.Errorf("create variant: %w", err)
			}
		}

		product, err = getProduct(ctx, tx, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	return product, nil
}

func GetProduct(ctx context.Context, db *sqlx.DB, id int64) (*models.Product, error) {
	return getProduct(ctx, db, id, false)
}

// getProduct loads a product with its variants. lock takes row locks on
// Postgres; SQLite serializes writers on its own.
func getProduct(ctx context.Context, q sqlx.ExtContext, id int64, lock bool) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ?`
	if lock && database.IsPostgres(q) {
		query += ` FOR UPDATE`
	}

	product := &models.Product{}
	if err := sqlx.GetContext(ctx, q, product, q.Rebind(query), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	variants, err := loadVariants(ctx, q, []int64{id})
	if err != nil {
		return nil, err
	}
	product.Variants = variants[id]

	return product, nil
}

type variantRow struct {
	models.Variant
	AttributesJSON string `db:"attributes"`
}

func loadVariants(ctx context.Context, q sqlx.ExtContext, productIDs []int64) (map[int64][]models.Variant, error) {
	out := make(map[int64][]models.Variant)
	if len(productIDs) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(
		`SELECT id, product_id, attributes, stock, price_override, version
		 FROM variants
		 WHERE product_id IN (?)
		 ORDER BY product_id, position`, productIDs)
	if err != nil {
		return nil, fmt.Errorf("build variants query: %w", err)
	}

	var rows []variantRow
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load variants: %w", err)
	}

	for _, r := range rows {
		v := r.Variant
		if err := json.Unmarshal([]byte(r.AttributesJSON), &v.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes of variant %d: %w", v.ID, err)
		}
		out[v.ProductID] = append(out[v.ProductID], v)
	}
	return out, nil
}

// ListProducts pages through products, newest first. shopID 0 lists every
// shop.
func ListProducts(ctx context.Context, db *sqlx.DB, shopID int64, page, pageSize int) (*OffsetPage[models.Product], error) {
	where := ""
	var args []any
	if shopID != 0 {
		where = ` WHERE shop_id = ?`
		args = append(args, shopID)
	}

	var total int64
	if err := db.GetContext(ctx, &total, db.Rebind(`SELECT COUNT(*) FROM products`+where), args...); err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `SELECT ` + productColumns + ` FROM products` + where + `
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`

	products := []models.Product{}
	if err := db.SelectContext(ctx, &products, db.Rebind(query), append(args, pageSize, offset)...); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	ids := make([]int64, len(products))
	for i, p := range products {
		ids[i] = p.ID
	}
	variants, err := loadVariants(ctx, db, ids)
	if err != nil {
		return nil, err
	}
	for i := range products {
		products[i].Variants = variants[products[i].ID]
	}

	return &OffsetPage[models.Product]{
		Items:      products,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	}, nil
}

// UpdateStockOptimistic sets the stock of a product (variantID 0) or one of
// its variants, provided nobody changed the row since version was read.
func UpdateStockOptimistic(ctx context.Context, db *sqlx.DB, productID, variantID int64, newStock, version int) error {
	if newStock < 0 {
		return models.Invalid("stock", "must not be negative")
	}

	var (
		result sql.Result
		err    error
	)
	if variantID == 0 {
		result, err = db.ExecContext(ctx, db.Rebind(
			`UPDATE products
			 SET stock = ?, version = version + 1, updated_at = ?
			 WHERE id = ? AND version = ? AND has_variants = ?`),
			newStock, time.Now().UTC(), productID, version, false)
	} else {
		result, err = db.ExecContext(ctx, db.Rebind(
			`UPDATE variants
			 SET stock = ?, version = version + 1
			 WHERE id = ? AND product_id = ? AND version = ?`),
			newStock, variantID, productID, version)
	}
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrOptimisticLockFailed
	}

	return nil
}

// decrementStock takes quantity units from a stock key, failing instead of
// going below zero.
func decrementStock(ctx context.Context, tx *sqlx.Tx, productID, variantID int64, quantity int, now time.Time) error {
	var (
		result sql.Result
		err    error
	)
	if variantID == 0 {
		result, err = tx.ExecContext(ctx, tx.Rebind(
			`UPDATE products
			 SET stock = stock - ?, version = version + 1, updated_at = ?
			 WHERE id = ? AND has_variants = ? AND stock >= ?`),
			quantity, now, productID, false, quantity)
	} else {
		result, err = tx.ExecContext(ctx, tx.Rebind(
			`UPDATE variants
			 SET stock = stock - ?, version = version + 1
			 WHERE id = ? AND stock >= ?`),
			quantity, variantID, quantity)
	}
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrInsufficientStock
	}

	return nil
}

func restoreStock(ctx context.Context, tx *sqlx.Tx, productID, variantID int64, quantity int, now time.Time) error {
	var err error
	if variantID == 0 {
		_, err = tx.ExecContext(ctx, tx.Rebind(
			`UPDATE products SET stock = stock + ?, version = version + 1, updated_at = ? WHERE id = ?`),
			quantity, now, productID)
	} else {
		_, err = tx.ExecContext(ctx, tx.Rebind(
			`UPDATE variants SET stock = stock + ?, version = version + 1 WHERE id = ?`),
			quantity, variantID)
	}
	if err != nil {
		return fmt.Errorf("restore stock: %w", err)
	}
	return nil
}

func LikeProduct(ctx context.Context, db *sqlx.DB, productID, userID int64) (int, error) {
	if err := requireProduct(ctx, db, productID); err != nil {
		return 0, err
	}
	_, err := db.ExecContext(ctx, db.Rebind(
		`INSERT INTO product_likes (product_id, user_id, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (product_id, user_id) DO NOTHING`),
		productID, userID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("like product: %w", err)
	}
	return CountLikes(ctx, db, productID)
}

func UnlikeProduct(ctx context.Context, db *sqlx.DB, productID, userID int64) (int, error) {
	if err := requireProduct(ctx, db, productID); err != nil {
		return 0, err
	}
	_, err := db.ExecContext(ctx, db.Rebind(
		`DELETE FROM product_likes WHERE product_id = ? AND user_id = ?`),
		productID, userID)
	if err != nil {
		return 0, fmt.Errorf("unlike product: %w", err)
	}
	return CountLikes(ctx, db, productID)
}

func CountLikes(ctx context.Context, db *sqlx.DB, productID int64) (int, error) {
	var n int
	if err := db.GetContext(ctx, &n, db.Rebind(`SELECT COUNT(*) FROM product_likes WHERE product_id = ?`), productID); err != nil {
		return 0, fmt.Errorf("count likes: %w", err)
	}
	return n, nil
}

func requireProduct(ctx context.Context, db *sqlx.DB, productID int64) error {
	var n int
	if err := db.GetContext(ctx, &n, db.Rebind(`SELECT COUNT(*) FROM products WHERE id = ?`), productID); err != nil {
		return fmt.Errorf("check product exists: %w", err)
	}
	if n == 0 {
		return database.ErrProductNotFound
	}
	return nil
}
