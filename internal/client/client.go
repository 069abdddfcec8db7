// Package client talks to the order API from the buyer side. It is what a
// checkout.Checkout uses to validate promo codes and submit batches.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/safar/souk/internal/catalog"
	"github.com/safar/souk/internal/checkout"
	"github.com/safar/souk/internal/models"
	"github.com/safar/souk/internal/promo"
	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownOutcome means a submission failed twice without an answer.
	// The batch may or may not exist; look it up with FindBatch before
	// trying again. The error is a *checkout.UnknownOutcomeError holding
	// the key.
	ErrUnknownOutcome = checkout.ErrUnknownOutcome
	ErrNotFound       = errors.New("not found")
)

// TransientError is a failure worth one more attempt: the request never
// got an answer or a gateway in front of the API gave up.
type TransientError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
}

func (e *TransientError) Unwrap() error { return e.Err }

// APIError is a non-2xx answer that maps to no domain error.
type APIError struct {
	StatusCode int
	Body       models.ErrorResponse
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Body.Code, e.Body.Error)
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Validate asks the server to check a promo code against amount.
func (c *Client) Validate(ctx context.Context, code string, amount decimal.Decimal, scope string, userID int64) (promo.Result, error) {
	var res promo.Result
	err := c.do(ctx, http.MethodPost, "/promo-codes/validate", models.PromoValidateRequest{
		Code:        code,
		OrderAmount: amount,
		AppliesTo:   scope,
		UserID:      userID,
	}, &res)
	if err != nil {
		return promo.Result{}, err
	}
	return res, nil
}

// OrderRequest flattens a composed batch into the POST /orders body.
func OrderRequest(b checkout.Batch) models.OrderRequest {
	req := models.OrderRequest{
		Total:           decimal.NewNullDecimal(b.FinalAmount),
		ShippingAddress: b.Shipping.Address,
		Wilaya:          b.Shipping.Wilaya,
		Phone:           b.Shipping.Phone,
		PromoCode:       b.PromoCode,
		DiscountAmount:  decimal.NewNullDecimal(b.DiscountAmount),
		UserID:          b.UserID,
		IdempotencyKey:  b.IdempotencyKey,
	}
	for _, so := range b.Orders {
		for _, it := range so.Items {
			size, color := catalog.LegacyFields(it.Attributes)
			req.Items = append(req.Items, models.OrderItemRequest{
				ProductID:    it.ProductID,
				Quantity:     it.Quantity,
				Price:        decimal.NewNullDecimal(it.UnitPrice),
				VariantSize:  size,
				VariantColor: color,
				Attributes:   it.Attributes,
			})
		}
	}
	return req
}

// SubmitBatch posts the batch. A transient failure is retried once with the
// same body and idempotency key; if that fails too the result is
// ErrUnknownOutcome. Business errors are returned as they are.
func (c *Client) SubmitBatch(ctx context.Context, b checkout.Batch) ([]models.Order, error) {
	if b.IdempotencyKey == "" {
		return nil, models.Invalid("idempotency_key", "is required")
	}
	body := OrderRequest(b)

	var first error
	for attempt := 1; attempt <= 2; attempt++ {
		var resp models.OrdersResponse
		err := c.do(ctx, http.MethodPost, "/orders", body, &resp)
		if err == nil {
			return resp.Orders, nil
		}

		var transient *TransientError
		if !errors.As(err, &transient) {
			return nil, err
		}
		if attempt == 1 {
			first = err
			c.logger.Warn("order submission failed, retrying",
				"idempotency_key", b.IdempotencyKey,
				"error", err)
			continue
		}
		return nil, &checkout.UnknownOutcomeError{Key: b.IdempotencyKey, Err: errors.Join(first, err)}
	}
	return nil, &checkout.UnknownOutcomeError{Key: b.IdempotencyKey, Err: first}
}

// FindBatch returns the orders created under key. A missing batch is an
// error matching both ErrNotFound and checkout.ErrBatchNotFound.
func (c *Client) FindBatch(ctx context.Context, key string) ([]models.Order, error) {
	var resp models.OrdersResponse
	if err := c.do(ctx, http.MethodGet, "/orders/batches/"+url.PathEscape(key), nil, &resp); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", checkout.ErrBatchNotFound, err)
		}
		return nil, err
	}
	return resp.Orders, nil
}

type OrderPage struct {
	Items      []models.Order `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
	HasMore    bool           `json:"has_more"`
}

func (c *Client) ListOrders(ctx context.Context, userID int64, cursor string, limit int) (OrderPage, error) {
	q := url.Values{}
	q.Set("user_id", strconv.FormatInt(userID, 10))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var page OrderPage
	if err := c.do(ctx, http.MethodGet, "/orders?"+q.Encode(), nil, &page); err != nil {
		return OrderPage{}, err
	}
	return page, nil
}

func (c *Client) GetProduct(ctx context.Context, id int64) (models.ProductView, error) {
	var view models.ProductView
	if err := c.do(ctx, http.MethodGet, "/products/"+strconv.FormatInt(id, 10), nil, &view); err != nil {
		return models.ProductView{}, err
	}
	return view, nil
}

// SetLike likes or unlikes a product for a user and returns the server's
// view of the result.
func (c *Client) SetLike(ctx context.Context, productID, userID int64, liked bool) (models.LikeResponse, error) {
	method := http.MethodPut
	if !liked {
		method = http.MethodDelete
	}
	path := fmt.Sprintf("/products/%d/like?user_id=%d", productID, userID)

	var resp models.LikeResponse
	if err := c.do(ctx, method, path, nil, &resp); err != nil {
		return models.LikeResponse{}, err
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	op := method + " " + path

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		io.Copy(io.Discard, resp.Body)
		return &TransientError{Op: op, StatusCode: resp.StatusCode}
	}

	if resp.StatusCode >= 300 {
		var eb models.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&eb); err != nil {
			eb.Error = http.StatusText(resp.StatusCode)
		}
		return decodeError(resp.StatusCode, eb)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", op, err)
	}
	return nil
}

// decodeError turns an error body back into the domain error the server
// started from.
func decodeError(status int, eb models.ErrorResponse) error {
	switch eb.Code {
	case "validation_failed":
		return &models.ValidationError{Field: eb.Field, Message: strings.TrimPrefix(eb.Error, eb.Field+": ")}
	case "insufficient_stock":
		return &models.StockInsufficientError{Shortfalls: eb.Shortfalls}
	case "promo_invalid":
		return &models.PromoInvalidError{Reason: eb.Reason}
	case "price_changed":
		return &models.PriceChangedError{
			Field:     eb.Field,
			ProductID: eb.ProductID,
			Expected:  eb.Expected,
			Actual:    eb.Actual,
		}
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, eb.Error)
	}
	return &APIError{StatusCode: status, Body: eb}
}
