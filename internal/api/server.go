// Package api is the server's HTTP surface: product and ROI configuration,
// sessions, golden sample management and the inspect endpoint itself.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/technosupport/ts-aoi/internal/aggregate"
	"github.com/technosupport/ts-aoi/internal/dispatch"
	"github.com/technosupport/ts-aoi/internal/events"
	"github.com/technosupport/ts-aoi/internal/golden"
	"github.com/technosupport/ts-aoi/internal/metrics"
	"github.com/technosupport/ts-aoi/internal/products"
	"github.com/technosupport/ts-aoi/internal/session"
)

// Server bundles the handlers' dependencies.
type Server struct {
	Products   *products.Store
	Sessions   *session.Manager
	Goldens    *golden.Store
	Dispatcher *dispatch.Dispatcher
	Aggregator *aggregate.Aggregator
	Events     *events.Publisher
	Metrics    *metrics.Set
	SharedRoot string
	// CameraReady reports the capture pipeline's health for preflight
	// checks. Nil means no camera is wired (headless deployments).
	CameraReady func() bool
	Log         *zap.Logger
}

// Router builds the chi router with the standard middleware stack. The
// inspect timeout is generous: a multi-group inspection with deep feature
// extraction legitimately takes minutes on small hardware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.With(chimiddleware.Timeout(10 * time.Second)).Group(func(r chi.Router) {
			r.Get("/health", s.handleHealth)

			r.Get("/products", s.handleListProducts)
			r.Post("/products", s.handleCreateProduct)
			r.Get("/products/{name}/rois", s.handleGetROIs)
			r.Put("/products/{name}/rois", s.handleSaveROIs)
			r.Get("/products/{name}/roi-groups", s.handleROIGroups)

			r.Get("/products/{name}/rois/{id}/golden", s.handleListGolden)
			r.Post("/products/{name}/rois/{id}/golden", s.handleUploadGolden)

			r.Post("/sessions", s.handleCreateSession)
			r.Delete("/sessions/{id}", s.handleCloseSession)
		})

		r.With(chimiddleware.Timeout(180 * time.Second)).
			Post("/inspect", s.handleInspect)
	})

	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":          "ok",
		"active_sessions": s.Sessions.Active(),
	}
	if s.CameraReady != nil {
		resp["camera_ready"] = s.CameraReady()
	}
	if list, err := s.Products.List(); err == nil {
		resp["products"] = len(list)
	}
	respondJSON(w, http.StatusOK, resp)
}
