package api

import (
	"net/http"

	"github.com/safar/souk/internal/models"
	"github.com/safar/souk/internal/promo"
	"github.com/safar/souk/internal/store"
)

type promoValidResponse struct {
	Valid bool `json:"valid"`
	promo.Result
}

func (s *Server) handleValidatePromo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.PromoValidateRequest
		if err := decode(w, r, &req); err != nil {
			s.fail(w, r, err)
			return
		}

		result, err := s.promos.Validate(r.Context(), req.Code, req.OrderAmount, req.AppliesTo, req.UserID)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		respondJSON(w, http.StatusOK, promoValidResponse{Valid: true, Result: result})
	}
}

func (s *Server) handleWelcomeCode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := queryID(r, "user_id")
		if err != nil {
			s.fail(w, r, err)
			return
		}

		code, ok, err := s.promos.WelcomeCode(r.Context(), userID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if !ok {
			respondError(w, http.StatusNotFound, "not_found", "no welcome code for this user")
			return
		}

		respondJSON(w, http.StatusOK, map[string]string{"code": code})
	}
}

func (s *Server) handleCreatePromoCode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.PromoCode
		if err := decode(w, r, &req); err != nil {
			s.fail(w, r, err)
			return
		}

		pc, err := store.CreatePromoCode(r.Context(), s.db, req)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		respondJSON(w, http.StatusCreated, pc)
	}
}
