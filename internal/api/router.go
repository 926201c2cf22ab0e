package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/academic360/notification-worker/internal/api/handler"
	apimw "github.com/academic360/notification-worker/internal/api/middleware"
	"github.com/academic360/notification-worker/internal/service"
)

// NewRouter wires the chi router for the worker's operator surface.
// Everything here is read-only; delivery itself is driven by the poller.
func NewRouter(
	svc *service.ReportService,
	db handler.Pinger,
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(apimw.CorrelationID)
	r.Use(apimw.RequestLogger(logger))

	rh := handler.NewReportHandler(svc, logger)
	hh := handler.NewHealthHandler(db)

	r.Get("/health", hh.Health)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/queue", rh.Queue)
		r.Get("/notifications/failed", rh.Failed)
	})

	return r
}
