package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/safar/souk/internal/catalog"
	"github.com/safar/souk/internal/models"
	"github.com/safar/souk/internal/store"
)

func productView(p models.Product) (models.ProductView, error) {
	c, err := catalog.New(p)
	if err != nil {
		return models.ProductView{}, fmt.Errorf("index product %d: %w", p.ID, err)
	}

	view := models.ProductView{
		ID:          p.ID,
		ShopID:      p.ShopID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		HasVariants: p.HasVariants,
		Axes:        c.Axes(),
	}
	if c.Kind() == catalog.KindNoVariants {
		stock := p.Stock
		view.Stock = &stock
		return view, nil
	}

	for _, v := range p.Variants {
		size, color := catalog.LegacyFields(v.Attributes)
		view.Variants = append(view.Variants, models.VariantView{
			ID:         v.ID,
			Attributes: v.Attributes,
			Size:       size,
			Color:      color,
			Stock:      v.Stock,
			Price:      c.UnitPrice(c.Normalize(v)),
		})
	}
	return view, nil
}

func (s *Server) handleListProducts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, pageSize := pageParams(r)
		shopID, _ := strconv.ParseInt(r.URL.Query().Get("shop_id"), 10, 64)

		result, err := store.ListProducts(r.Context(), s.db, shopID, page, pageSize)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		views := make([]models.ProductView, 0, len(result.Items))
		for _, p := range result.Items {
			v, err := productView(p)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			views = append(views, v)
		}

		respondJSON(w, http.StatusOK, store.OffsetPage[models.ProductView]{
			Items:      views,
			Total:      result.Total,
			Page:       result.Page,
			PageSize:   result.PageSize,
			TotalPages: result.TotalPages,
		})
	}
}

func (s *Server) handleGetProduct() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			s.fail(w, r, err)
			return
		}

		product, err := store.GetProduct(r.Context(), s.db, id)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		view, err := productView(*product)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		respondJSON(w, http.StatusOK, view)
	}
}

func (s *Server) handleCreateProduct() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req store.NewProduct
		if err := decode(w, r, &req); err != nil {
			s.fail(w, r, err)
			return
		}

		product, err := store.CreateProduct(r.Context(), s.db, req)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		view, err := productView(*product)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		respondJSON(w, http.StatusCreated, view)
	}
}

func (s *Server) handleUpdateStock() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			s.fail(w, r, err)
			return
		}

		var req struct {
			VariantID int64 `json:"variant_id"`
			Stock     int   `json:"stock"`
			Version   int   `json:"version"`
		}
		if err := decode(w, r, &req); err != nil {
			s.fail(w, r, err)
			return
		}

		if err := store.UpdateStockOptimistic(r.Context(), s.db, id, req.VariantID, req.Stock, req.Version); err != nil {
			s.fail(w, r, err)
			return
		}

		product, err := store.GetProduct(r.Context(), s.db, id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		view, err := productView(*product)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		respondJSON(w, http.StatusOK, view)
	}
}

func (s *Server) handleLike(like bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			s.fail(w, r, err)
			return
		}
		userID, err := queryID(r, "user_id")
		if err != nil {
			s.fail(w, r, err)
			return
		}

		var n int
		if like {
			n, err = store.LikeProduct(r.Context(), s.db, id, userID)
		} else {
			n, err = store.UnlikeProduct(r.Context(), s.db, id, userID)
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}

		respondJSON(w, http.StatusOK, models.LikeResponse{Liked: like, Likes: n})
	}
}
