package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/safar/souk/internal/catalog"
	"github.com/safar/souk/internal/checkout"
	"github.com/safar/souk/internal/events"
	"github.com/safar/souk/internal/models"
	"github.com/safar/souk/internal/store"
)

func toBatchRequest(req models.OrderRequest) store.PlaceBatchRequest {
	out := store.PlaceBatchRequest{
		IdempotencyKey: req.IdempotencyKey,
		UserID:         req.UserID,
		Shipping: checkout.Shipping{
			Address: req.ShippingAddress,
			Wilaya:  req.Wilaya,
			Phone:   req.Phone,
		},
		PromoCode:        req.PromoCode,
		ExpectedTotal:    req.Total,
		ExpectedDiscount: req.DiscountAmount,
	}
	for _, item := range req.Items {
		out.Items = append(out.Items, store.BatchItem{
			ProductID:     item.ProductID,
			Quantity:      item.Quantity,
			Selection:     catalog.Selection(item.Attributes),
			Size:          item.VariantSize,
			Color:         item.VariantColor,
			ExpectedPrice: item.Price,
		})
	}
	return out
}

func (s *Server) handlePlaceOrders() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req models.OrderRequest
		if err := decode(w, r, &req); err != nil {
			s.fail(w, r, err)
			return
		}

		result, err := store.PlaceOrderBatch(ctx, s.db, toBatchRequest(req), s.maxRetries)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		if result.Replayed {
			w.Header().Set("Idempotent-Replayed", "true")
			respondJSON(w, http.StatusOK, models.OrdersResponse{Orders: result.Orders})
			return
		}

		s.logger.Info("order batch placed",
			"idempotency_key", req.IdempotencyKey,
			"user_id", req.UserID,
			"orders", len(result.Orders))

		evs := make([]events.OrderEvent, 0, len(result.Orders))
		for _, o := range result.Orders {
			evs = append(evs, events.OrderCreated(o))
		}
		s.publish(ctx, evs...)

		respondJSON(w, http.StatusCreated, models.OrdersResponse{Orders: result.Orders})
	}
}

// publish is best effort: the orders are committed whatever the broker
// says.
func (s *Server) publish(ctx context.Context, evs ...events.OrderEvent) {
	if err := s.publisher.Publish(context.WithoutCancel(ctx), evs...); err != nil {
		s.logger.Warn("publish order events", "count", len(evs), "error", err)
	}
}

func (s *Server) handleGetBatch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orders, err := store.GetBatchOrders(r.Context(), s.db, chi.URLParam(r, "key"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, models.OrdersResponse{Orders: orders})
	}
}

func (s *Server) handleGetOrder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			s.fail(w, r, err)
			return
		}

		order, err := store.GetOrder(r.Context(), s.db, id)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		respondJSON(w, http.StatusOK, order)
	}
}

func (s *Server) handleListOrders() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := queryID(r, "user_id")
		if err != nil {
			s.fail(w, r, err)
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit < 1 || limit > 100 {
			limit = 20
		}

		page, err := store.ListOrdersCursor(r.Context(), s.db, userID, r.URL.Query().Get("cursor"), limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		respondJSON(w, http.StatusOK, page)
	}
}

func (s *Server) handleUpdateStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id, err := pathID(r, "id")
		if err != nil {
			s.fail(w, r, err)
			return
		}

		var req models.StatusRequest
		if err := decode(w, r, &req); err != nil {
			s.fail(w, r, err)
			return
		}

		order, previous, err := store.UpdateOrderStatus(ctx, s.db, id, req.Status, s.maxRetries)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		s.logger.Info("order status changed", "order_id", id, "from", previous, "to", order.Status)
		s.publish(ctx, events.StatusChanged(*order, previous))

		respondJSON(w, http.StatusOK, order)
	}
}

func (s *Server) handleRequestReturn() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id, err := pathID(r, "id")
		if err != nil {
			s.fail(w, r, err)
			return
		}

		var req models.ReturnRequest
		if err := decode(w, r, &req); err != nil {
			s.fail(w, r, err)
			return
		}

		order, err := store.RequestReturn(ctx, s.db, id, req.Reason)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		s.publish(ctx, events.ReturnRequested(*order))

		respondJSON(w, http.StatusOK, order)
	}
}
