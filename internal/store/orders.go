package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/safar/souk/internal/cart"
	"github.com/safar/souk/internal/catalog"
	"github.com/safar/souk/internal/checkout"
	"github.com/safar/souk/internal/database"
	"github.com/safar/souk/internal/lifecycle"
	"github.com/safar/souk/internal/models"
	"github.com/safar/souk/internal/promo"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, user_id, shop_id, order_number, batch_key, status, return_requested, return_reason,
	shipping_address, wilaya, phone, promo_code, subtotal, discount_amount, total_amount,
	created_at, updated_at, version`

// BatchItem is one requested line. Selection wins over the legacy Size and
// Color fields when both are given.
type BatchItem struct {
	ProductID     int64               `json:"product_id"`
	Quantity      int                 `json:"quantity"`
	Selection     catalog.Selection   `json:"selection,omitempty"`
	Size          string              `json:"size,omitempty"`
	Color         string              `json:"color,omitempty"`
	ExpectedPrice decimal.NullDecimal `json:"expected_price"`
}

// PlaceBatchRequest is a whole checkout as the server receives it. The
// Expected fields are what the client displayed; the server prices
// everything itself and only compares.
type PlaceBatchRequest struct {
	IdempotencyKey   string              `json:"-"`
	UserID           int64               `json:"user_id"`
	Items            []BatchItem         `json:"items"`
	Shipping         checkout.Shipping   `json:"shipping"`
	PromoCode        string              `json:"promo_code"`
	ExpectedTotal    decimal.NullDecimal `json:"expected_total"`
	ExpectedDiscount decimal.NullDecimal `json:"expected_discount"`
}

func (r PlaceBatchRequest) validate() error {
	if strings.TrimSpace(r.IdempotencyKey) == "" {
		return models.Invalid("idempotency_key", "is required")
	}
	if r.UserID <= 0 {
		return models.Invalid("user_id", "is required")
	}
	if len(r.Items) == 0 {
		return models.Invalid("items", "cart is empty")
	}
	for _, item := range r.Items {
		if item.Quantity < 1 {
			return models.Invalid("quantity", "must be at least 1 for product %d", item.ProductID)
		}
	}
	return r.Shipping.Validate()
}

func (r PlaceBatchRequest) hash() (string, error) {
	r.PromoCode = promo.Normalize(r.PromoCode)
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode batch request: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

type BatchResult struct {
	Orders   []models.Order
	Replayed bool
}

var errKeyRace = errors.New("idempotency key inserted concurrently")

// PlaceOrderBatch creates one order per shop for the request in a single
// transaction. Stock, prices and the promo code are re-checked against
// storage; any failure leaves nothing behind. Repeating a committed request
// with the same key returns the orders it created.
func PlaceOrderBatch(ctx context.Context, db *sqlx.DB, req PlaceBatchRequest, maxRetries int) (*BatchResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	hash, err := req.hash()
	if err != nil {
		return nil, err
	}

	opts := database.TxOptions{IsolationLevel: sql.LevelSerializable, MaxRetries: maxRetries}
	for attempt := 0; ; attempt++ {
		var result *BatchResult
		err := database.WithRetry(ctx, db, opts, func(tx *sqlx.Tx) error {
			var err error
			result, err = placeBatch(ctx, tx, req, hash)
			return err
		})
		if errors.Is(err, errKeyRace) && attempt == 0 {
			// The other submission has committed; the next pass replays it.
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

type stockKey struct {
	productID int64
	variantID int64
}

func placeBatch(ctx context.Context, tx *sqlx.Tx, req PlaceBatchRequest, hash string) (*BatchResult, error) {
	var existing string
	err := tx.GetContext(ctx, &existing, tx.Rebind(
		`SELECT request_hash FROM order_batches WHERE idempotency_key = ?`), req.IdempotencyKey)
	switch {
	case err == nil:
		if existing != hash {
			return nil, fmt.Errorf("key %s: %w", req.IdempotencyKey, database.ErrDuplicateSubmission)
		}
		orders, err := batchOrders(ctx, tx, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		return &BatchResult{Orders: orders, Replayed: true}, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("check idempotency key: %w", err)
	}

	now := time.Now().UTC()

	ids := make([]int64, 0, len(req.Items))
	seen := make(map[int64]bool)
	for _, item := range req.Items {
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			ids = append(ids, item.ProductID)
		}
	}
	// Lock in id order so concurrent batches cannot deadlock on each other.
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	catalogs := make(map[int64]*catalog.Catalog, len(ids))
	for _, id := range ids {
		p, err := getProduct(ctx, tx, id, true)
		if err != nil {
			if errors.Is(err, database.ErrProductNotFound) {
				return nil, models.Invalid("items", "product %d does not exist", id)
			}
			return nil, err
		}
		c, err := catalog.New(*p)
		if err != nil {
			return nil, fmt.Errorf("index product %d: %w", id, err)
		}
		catalogs[id] = c
	}

	var (
		lines      []cart.Line
		keys       []stockKey
		demand     = make(map[stockKey]int)
		selections = make(map[stockKey]catalog.Selection)
		shortfalls []models.Shortfall
		priceErr   error
	)
	for _, item := range req.Items {
		c := catalogs[item.ProductID]
		sel := item.Selection
		if len(sel) == 0 {
			sel = c.LegacySelection(item.Size, item.Color)
		}
		if !c.Complete(sel) {
			return nil, models.Invalid("items", "product %d needs a value for each of %v", item.ProductID, c.Axes())
		}

		variantID, ok := c.Key(sel)
		if !ok {
			shortfalls = append(shortfalls, models.Shortfall{
				ProductID: item.ProductID,
				Selection: sel,
				Requested: item.Quantity,
			})
			continue
		}

		k := stockKey{productID: item.ProductID, variantID: variantID}
		if _, ok := demand[k]; !ok {
			keys = append(keys, k)
			selections[k] = sel
		}
		demand[k] += item.Quantity

		price := c.UnitPrice(sel)
		if item.ExpectedPrice.Valid && !item.ExpectedPrice.Decimal.Equal(price) && priceErr == nil {
			priceErr = &models.PriceChangedError{
				Field:     "price",
				ProductID: item.ProductID,
				Expected:  item.ExpectedPrice.Decimal.String(),
				Actual:    price.String(),
			}
		}

		lines = append(lines, cart.Line{
			ShopID:      c.Product().ShopID,
			ProductID:   item.ProductID,
			ProductName: c.Product().Name,
			VariantID:   variantID,
			UnitPrice:   price,
			Quantity:    item.Quantity,
			Selection:   sel,
		})
	}

	for _, k := range keys {
		available := catalogs[k.productID].Resolve(selections[k])
		if demand[k] > available {
			shortfalls = append(shortfalls, models.Shortfall{
				ProductID: k.productID,
				VariantID: k.variantID,
				Selection: selections[k],
				Requested: demand[k],
				Available: available,
			})
		}
	}
	if len(shortfalls) > 0 {
		return nil, &models.StockInsufficientError{Shortfalls: shortfalls}
	}
	if priceErr != nil {
		return nil, priceErr
	}

	groups := cart.GroupByShop(lines)

	var quote *promo.Result
	if code := promo.Normalize(req.PromoCode); code != "" {
		r, err := redeemPromo(ctx, tx, code, cart.GrandTotal(groups), req.UserID, now)
		if err != nil {
			return nil, err
		}
		quote = &r
	}

	batch, err := checkout.Compose(groups, quote, req.Shipping)
	if err != nil {
		return nil, err
	}
	if req.ExpectedDiscount.Valid && !req.ExpectedDiscount.Decimal.Equal(batch.DiscountAmount) {
		return nil, &models.PriceChangedError{
			Field:    "discount_amount",
			Expected: req.ExpectedDiscount.Decimal.String(),
			Actual:   batch.DiscountAmount.String(),
		}
	}
	if req.ExpectedTotal.Valid && !req.ExpectedTotal.Decimal.Equal(batch.FinalAmount) {
		return nil, &models.PriceChangedError{
			Field:    "total",
			Expected: req.ExpectedTotal.Decimal.String(),
			Actual:   batch.FinalAmount.String(),
		}
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(
		`INSERT INTO order_batches (idempotency_key, user_id, request_hash, created_at)
		 VALUES (?, ?, ?, ?)`),
		req.IdempotencyKey, req.UserID, hash, now)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, errKeyRace
		}
		return nil, fmt.Errorf("record idempotency key: %w", err)
	}

	for _, so := range batch.Orders {
		if err := insertShopOrder(ctx, tx, req, so, now); err != nil {
			return nil, err
		}
	}

	for _, k := range keys {
		if err := decrementStock(ctx, tx, k.productID, k.variantID, demand[k], now); err != nil {
			if errors.Is(err, database.ErrInsufficientStock) {
				return nil, &models.StockInsufficientError{Shortfalls: []models.Shortfall{{
					ProductID: k.productID,
					VariantID: k.variantID,
					Selection: selections[k],
					Requested: demand[k],
				}}}
			}
			return nil, err
		}
	}

	orders, err := batchOrders(ctx, tx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	return &BatchResult{Orders: orders}, nil
}

func redeemPromo(ctx context.Context, tx *sqlx.Tx, code string, amount decimal.Decimal, userID int64, now time.Time) (promo.Result, error) {
	pc, err := getPromoCode(ctx, tx, code, true)
	if err != nil {
		if errors.Is(err, promo.ErrNotFound) {
			return promo.Result{}, &models.PromoInvalidError{Code: code, Reason: models.PromoReasonUnknown}
		}
		return promo.Result{}, err
	}

	el := promo.Eligibility{Now: now}
	if pc.FirstOrderOnly {
		n, err := CountUserOrders(ctx, tx, userID)
		if err != nil {
			return promo.Result{}, err
		}
		el.HasPastOrders = n > 0
	}

	r, err := promo.Evaluate(*pc, amount, models.ScopeProducts, el)
	if err != nil {
		return promo.Result{}, err
	}
	if err := consumePromo(ctx, tx, code); err != nil {
		return promo.Result{}, err
	}
	return r, nil
}

func newOrderNumber() string {
	return "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

func insertShopOrder(ctx context.Context, tx *sqlx.Tx, req PlaceBatchRequest, so checkout.ShopOrder, now time.Time) error {
	var orderID int64
	err := tx.QueryRowxContext(ctx, tx.Rebind(
		`INSERT INTO orders (user_id, shop_id, order_number, batch_key, status, return_requested, return_reason,
		                     shipping_address, wilaya, phone, promo_code, subtotal, discount_amount, total_amount,
		                     created_at, updated_at, version)
		 VALUES (?, ?, ?, ?, ?, ?, '', ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		 RETURNING id`),
		req.UserID, so.ShopID, newOrderNumber(), req.IdempotencyKey, models.OrderStatusPending, false,
		req.Shipping.Address, req.Shipping.Wilaya, req.Shipping.Phone, promo.Normalize(req.PromoCode),
		so.Subtotal, so.Discount, so.Total, now, now).Scan(&orderID)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	for _, item := range so.Items {
		attrs, err := json.Marshal(item.Attributes)
		if err != nil {
			return fmt.Errorf("encode item attributes: %w", err)
		}
		subtotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		_, err = tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO order_items (order_id, product_id, variant_id, quantity, unit_price, subtotal, attributes, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			orderID, item.ProductID, item.VariantID, item.Quantity, item.UnitPrice, subtotal, string(attrs), now)
		if err != nil {
			return fmt.Errorf("create order item: %w", err)
		}
	}

	return nil
}

// GetBatchOrders returns the orders an idempotency key created, so a client
// that lost the response can learn the outcome without resubmitting.
func GetBatchOrders(ctx context.Context, db *sqlx.DB, key string) ([]models.Order, error) {
	var n int
	if err := db.GetContext(ctx, &n, db.Rebind(`SELECT COUNT(*) FROM order_batches WHERE idempotency_key = ?`), key); err != nil {
		return nil, fmt.Errorf("check order batch: %w", err)
	}
	if n == 0 {
		return nil, database.ErrBatchNotFound
	}
	return batchOrders(ctx, db, key)
}

func batchOrders(ctx context.Context, q sqlx.ExtContext, key string) ([]models.Order, error) {
	orders := []models.Order{}
	err := sqlx.SelectContext(ctx, q, &orders, q.Rebind(
		`SELECT `+orderColumns+` FROM orders WHERE batch_key = ? ORDER BY id`), key)
	if err != nil {
		return nil, fmt.Errorf("list batch orders: %w", err)
	}
	if err := attachItems(ctx, q, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func GetOrder(ctx context.Context, db *sqlx.DB, id int64) (*models.Order, error) {
	return getOrder(ctx, db, id, false)
}

func getOrder(ctx context.Context, q sqlx.ExtContext, id int64, lock bool) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`
	if lock && database.IsPostgres(q) {
		query += ` FOR UPDATE`
	}

	order := models.Order{}
	if err := sqlx.GetContext(ctx, q, &order, q.Rebind(query), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	orders := []models.Order{order}
	if err := attachItems(ctx, q, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

type orderItemRow struct {
	models.OrderItem
	AttributesJSON string `db:"attributes"`
}

func attachItems(ctx context.Context, q sqlx.ExtContext, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, len(orders))
	index := make(map[int64]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	query, args, err := sqlx.In(
		`SELECT id, order_id, product_id, variant_id, quantity, unit_price, subtotal, attributes, created_at
		 FROM order_items
		 WHERE order_id IN (?)
		 ORDER BY order_id, id`, ids)
	if err != nil {
		return fmt.Errorf("build order items query: %w", err)
	}

	var rows []orderItemRow
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return fmt.Errorf("get order items: %w", err)
	}

	for _, r := range rows {
		item := r.OrderItem
		if err := json.Unmarshal([]byte(r.AttributesJSON), &item.Attributes); err != nil {
			return fmt.Errorf("decode attributes of order item %d: %w", item.ID, err)
		}
		i := index[item.OrderID]
		orders[i].Items = append(orders[i].Items, item)
	}
	return nil
}

func ListOrdersCursor(ctx context.Context, db *sqlx.DB, userID int64, cursor string, limit int) (*CursorPage[models.Order], error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, models.Invalid("cursor", "malformed")
	}

	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = ?
		  AND (created_at < ? OR (created_at = ? AND id < ?))
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	orders := []models.Order{}
	err = db.SelectContext(ctx, &orders, db.Rebind(query),
		userID, cursorData.CreatedAt, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	if err := attachItems(ctx, db, orders); err != nil {
		return nil, err
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage[models.Order]{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// UpdateOrderStatus moves an order one step along its lifecycle and returns
// it with the status it left. Cancelling gives the order's units back to
// stock.
func UpdateOrderStatus(ctx context.Context, db *sqlx.DB, id int64, status string, maxRetries int) (*models.Order, string, error) {
	var (
		updated  *models.Order
		previous string
	)

	err := database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     maxRetries,
	}, func(tx *sqlx.Tx) error {
		order, err := getOrder(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := lifecycle.CanTransition(order.Status, order.ReturnRequested, status); err != nil {
			return err
		}
		previous = order.Status

		now := time.Now().UTC()
		result, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE orders
			 SET status = ?, updated_at = ?, version = version + 1
			 WHERE id = ? AND version = ?`),
			status, now, id, order.Version)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return database.ErrOptimisticLockFailed
		}

		if lifecycle.RestocksOnTransition(status) {
			for _, item := range order.Items {
				if err := restoreStock(ctx, tx, item.ProductID, item.VariantID, item.Quantity, now); err != nil {
					return err
				}
			}
		}

		updated, err = getOrder(ctx, tx, id, false)
		return err
	})
	if err != nil {
		return nil, "", err
	}

	return updated, previous, nil
}

// RequestReturn flags a delivered order for return. The flag is permanent.
func RequestReturn(ctx context.Context, db *sqlx.DB, id int64, reason string) (*models.Order, error) {
	var updated *models.Order

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sqlx.Tx) error {
		order, err := getOrder(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := lifecycle.CanRequestReturn(order.Status, order.ReturnRequested); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE orders
			 SET return_requested = ?, return_reason = ?, updated_at = ?, version = version + 1
			 WHERE id = ? AND version = ?`),
			true, strings.TrimSpace(reason), time.Now().UTC(), id, order.Version)
		if err != nil {
			return fmt.Errorf("request return: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return database.ErrOptimisticLockFailed
		}

		updated, err = getOrder(ctx, tx, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}
