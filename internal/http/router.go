package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/collections", h.InitiateCollection)
		r.Post("/collections/otp", h.SubmitOTP)

		r.Get("/payments/{reference}", h.GetPayment)
		r.Post("/payments/{reference}/refresh", h.RefreshStatus)
		r.Get("/payments/{reference}/stream", h.StreamStatus)
	})

	r.Post("/webhooks/collections", h.Webhook)

	return r
}
