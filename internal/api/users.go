package api

import (
	"net/http"

	"github.com/safar/souk/internal/store"
)

func (s *Server) handleCreateUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		}
		if err := decode(w, r, &req); err != nil {
			s.fail(w, r, err)
			return
		}

		user, err := store.CreateUser(r.Context(), s.db, req.Email, req.Name)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		respondJSON(w, http.StatusCreated, user)
	}
}

func (s *Server) handleListUsers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, pageSize := pageParams(r)

		result, err := store.ListUsers(r.Context(), s.db, page, pageSize)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		respondJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleGetUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			s.fail(w, r, err)
			return
		}

		user, err := store.GetUser(r.Context(), s.db, id)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		respondJSON(w, http.StatusOK, user)
	}
}
