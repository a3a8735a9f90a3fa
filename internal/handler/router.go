package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/tollgate/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/plazas", h.Plazas)

		r.Route("/usages", func(r chi.Router) {
			r.Post("/single", h.IngestSingle)
			r.Post("/batch", h.IngestBatch)
			r.Post("/batch/async", h.EnqueueBatch)
			r.Get("/stats", h.Stats)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Post("/hourly-revenue", h.HourlyRevenue)
			r.Post("/top-plazas", h.TopPlazas)
			r.Post("/vehicle-mix", h.VehicleMix)
		})
	})

	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
