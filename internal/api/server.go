// Package api serves the order, product and promo endpoints over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/safar/souk/internal/events"
	"github.com/safar/souk/internal/promo"
	"github.com/safar/souk/internal/store"
)

const maxBodyBytes = 1 << 20

type Options struct {
	DB          *sqlx.DB
	Publisher   events.Publisher
	Logger      *slog.Logger
	WelcomeCode string
	MaxRetries  int
}

type Server struct {
	db         *sqlx.DB
	promos     *promo.Engine
	publisher  events.Publisher
	logger     *slog.Logger
	maxRetries int
}

func New(opts Options) *Server {
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		db:         opts.DB,
		promos:     promo.NewEngine(store.PromoStore{DB: opts.DB}, opts.WelcomeCode),
		publisher:  opts.Publisher,
		logger:     opts.Logger,
		maxRetries: opts.MaxRetries,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth())

	r.Route("/users", func(r chi.Router) {
		r.Post("/", s.handleCreateUser())
		r.Get("/", s.handleListUsers())
		r.Get("/{id}", s.handleGetUser())
	})

	r.Route("/products", func(r chi.Router) {
		r.Get("/", s.handleListProducts())
		r.Post("/", s.handleCreateProduct())
		r.Get("/{id}", s.handleGetProduct())
		r.Put("/{id}/stock", s.handleUpdateStock())
		r.Put("/{id}/like", s.handleLike(true))
		r.Delete("/{id}/like", s.handleLike(false))
	})

	r.Route("/promo-codes", func(r chi.Router) {
		r.Post("/", s.handleCreatePromoCode())
		r.Post("/validate", s.handleValidatePromo())
		r.Get("/welcome", s.handleWelcomeCode())
	})

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", s.handlePlaceOrders())
		r.Get("/", s.handleListOrders())
		r.Get("/batches/{key}", s.handleGetBatch())
		r.Get("/{id}", s.handleGetOrder())
		r.Put("/{id}/status", s.handleUpdateStatus())
		r.Post("/{id}/return", s.handleRequestReturn())
	})

	return r
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.db.PingContext(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
