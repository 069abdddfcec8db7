package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/safar/souk/internal/database"
	"github.com/safar/souk/internal/models"
	"github.com/safar/souk/internal/promo"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, models.ErrorResponse{Code: code, Error: message})
}

// fail maps err onto a status and body. Unknown errors are logged and
// reported without detail.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *models.ValidationError
		stockErr      *models.StockInsufficientError
		promoErr      *models.PromoInvalidError
		priceErr      *models.PriceChangedError
		transitionErr *models.TransitionError
	)

	switch {
	case errors.As(err, &validationErr):
		respondJSON(w, http.StatusBadRequest, models.ErrorResponse{
			Code:  "validation_failed",
			Error: validationErr.Error(),
			Field: validationErr.Field,
		})
	case errors.As(err, &stockErr):
		respondJSON(w, http.StatusConflict, models.ErrorResponse{
			Code:       "insufficient_stock",
			Error:      stockErr.Error(),
			Shortfalls: stockErr.Shortfalls,
		})
	case errors.As(err, &promoErr):
		valid := false
		respondJSON(w, http.StatusUnprocessableEntity, models.ErrorResponse{
			Code:   "promo_invalid",
			Error:  models.PromoInvalidMessage,
			Valid:  &valid,
			Reason: promoErr.Reason,
		})
	case errors.As(err, &priceErr):
		respondJSON(w, http.StatusConflict, models.ErrorResponse{
			Code:      "price_changed",
			Error:     priceErr.Error(),
			Field:     priceErr.Field,
			ProductID: priceErr.ProductID,
			Expected:  priceErr.Expected,
			Actual:    priceErr.Actual,
		})
	case errors.As(err, &transitionErr):
		respondError(w, http.StatusConflict, "invalid_transition", transitionErr.Error())
	case errors.Is(err, database.ErrDuplicateSubmission):
		respondError(w, http.StatusConflict, "idempotency_conflict", err.Error())
	case errors.Is(err, database.ErrOptimisticLockFailed):
		respondError(w, http.StatusConflict, "conflict", "resource was modified concurrently")
	case errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrUserNotFound),
		errors.Is(err, database.ErrBatchNotFound),
		errors.Is(err, promo.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err)
		respondError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return models.Invalid("body", "invalid JSON: %v", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, models.Invalid(name, "must be a positive integer")
	}
	return id, nil
}

func queryID(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, models.Invalid(name, "is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, models.Invalid(name, "must be a positive integer")
	}
	return id, nil
}

func pageParams(r *http.Request) (page, pageSize int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
