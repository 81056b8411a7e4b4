package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rcrowley/go-metrics"
	"github.com/rs/cors"
	"github.com/shuttlemath/guessit/internal/config"
)

// NewRouter constructs the proxy router. A nil registry gets a fresh one.
func NewRouter(upstream Upstream, limits config.RateLimitConfig, registry metrics.Registry) http.Handler {
	if registry == nil {
		registry = metrics.NewRegistry()
	}

	h := NewHandler(upstream, registry)
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(registry))
	r.Use(middleware.Recoverer)
	r.Use(cors.AllowAll().Handler)

	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "not found")
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/debug/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		metrics.WriteJSONOnce(registry, w)
	})

	r.Route("/api/payments", func(r chi.Router) {
		r.Use(rateLimit(limits.Rate, limits.Capacity, registry))

		r.Post("/", h.CreatePaymentHandler)
		r.Get("/status", h.PaymentStatusHandler)
	})

	return r
}
