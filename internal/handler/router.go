package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/flexvault-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса flexvault.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Route("/user", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Route("/vault", func(r chi.Router) {
				r.Post("/deposit", h.Deposit)
				r.Post("/mint", h.Mint)
				r.Post("/lock", h.Lock)
				r.Post("/release", h.Release)
				r.Get("/lock/status", h.LockStatus)
				r.Post("/hedge", h.Hedge)
			})

			r.Route("/redemption", func(r chi.Router) {
				r.Post("/initiate", h.InitiateRedeem)
				r.Post("/execute", h.ExecuteRedeem)
				r.Get("/eligibility", h.RedeemEligibility)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Post("/pause", h.Pause)
				r.Post("/resume", h.Resume)
			})
		})

		r.Get("/oracle/price", h.Price)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
