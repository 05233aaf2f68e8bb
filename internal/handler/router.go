package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mpanganiban/weddingbook-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса weddingbook.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Route("/bookings/{bookingID}", func(r chi.Router) {
			r.Post("/payments", h.RecordPayment)
			r.Get("/receipts", h.GetReceipts)
			r.Get("/balance", h.GetBalance)
		})

		r.Route("/receipts/{number}", func(r chi.Router) {
			r.Get("/", h.GetReceipt)
			r.Get("/verification", h.VerifyReceipt)
		})

		r.Post("/users", h.RegisterUser)
		r.Post("/services", h.RegisterService)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
