package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configure NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	// Timeout bounds each request; zero means no limit.
	Timeout time.Duration
	Metrics http.Handler
	// TrustProxy takes the client address from X-Real-IP or
	// X-Forwarded-For. Enable it only behind a proxy that sets them.
	TrustProxy bool
}

// NewRouter creates the chi router with the collector-facing CORS policy.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	if opts.Timeout > 0 {
		r.Use(middleware.Timeout(opts.Timeout))
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/precheck", h.Precheck)
		r.Post("/detect", h.Detect)
		r.With(h.RateLimit).Post("/track", h.Track)
		r.Get("/tracking/stats", h.TrackingStats)
		r.With(h.Gate).Post("/pixel-event", h.PixelEvent)
	})

	return r
}
