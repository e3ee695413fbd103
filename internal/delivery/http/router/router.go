package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ecscrape/scraper-service/internal/delivery/http/handler"
	"github.com/ecscrape/scraper-service/internal/delivery/http/middleware"
	"github.com/ecscrape/scraper-service/pkg/metrics"
)

// New builds the admin API. gatherer backs /metrics; batches are not bounded
// by the request timeout since they run for as long as the crawl takes.
func New(h *handler.Handler, m *metrics.Metrics, gatherer prometheus.Gatherer, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics(m))
	r.Use(chimw.Recoverer)

	r.Get("/health", h.HandleHealthCheck)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/batches", h.HandleRunBatch)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(60 * time.Second))
			r.Get("/configs/{site}/{kind}", h.HandleGetConfig)
			r.Put("/configs/{site}/{kind}", h.HandleSaveConfig)
			r.Post("/configs/{site}/{kind}/preview", h.HandlePreviewConfig)
			r.Get("/artifacts/{name}", h.HandleGetArtifact)
		})
	})

	return r
}
