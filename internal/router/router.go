package router

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leca/dt-image-renditions/internal/api"
	"github.com/leca/dt-image-renditions/internal/handler"
)

// Options configure the routes that depend on the deployment.
type Options struct {
	AuthToken string
	// MediaRoot, when set, serves the filesystem storage under /media.
	MediaRoot string
	// Gatherer, when set, is exposed on /metrics.
	Gatherer prometheus.Gatherer
}

// Server holds the HTTP router.
type Server struct {
	Handler *handler.Handler
	Router  chi.Router
}

// New creates a new Server with a fully configured chi router.
func New(h *handler.Handler, opts Options) *Server {
	s := &Server{Handler: h}

	r := chi.NewRouter()

	// CORS must run first to answer preflight OPTIONS requests.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type", "Location"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check (no auth required).
	r.Get("/health", s.Health)

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	if opts.MediaRoot != "" {
		media := http.StripPrefix("/media", http.FileServer(http.Dir(opts.MediaRoot)))
		r.Handle("/media/*", media)
	}

	r.Route("/accounts/{account_id}", func(r chi.Router) {
		r.Use(api.AuthMiddleware(opts.AuthToken))
		r.Use(api.AccountIDMiddleware)

		r.Route("/assets", func(r chi.Router) {
			r.Post("/", h.CreateAsset)
			r.Get("/", h.ListAssets)

			// Stats is registered before the {asset_id} wildcard.
			r.Get("/stats", h.GetStats)

			r.Get("/{asset_id}", h.GetAsset)
			r.Patch("/{asset_id}", h.UpdateAsset)
			r.Delete("/{asset_id}", h.DeleteAsset)
			r.Put("/{asset_id}/{field}", h.ReplaceImage)
			r.Get("/{asset_id}/{field}/renditions/{key}", h.GetRendition)
		})

		r.Route("/maintenance", func(r chi.Router) {
			r.Post("/warm", h.WarmRenditions)
			r.Post("/invalidate", h.InvalidateRenditions)
			r.Post("/optimize", h.OptimizeImages)
		})
	})

	s.Router = r
	return s
}

// Health returns a simple health-check response.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		log.Printf("Health: failed to encode response: %v", err)
	}
}
