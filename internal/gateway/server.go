package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public - no auth required.
	r.Get("/health", g.handleHealth())
	if g.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(g.gatherer, promhttp.HandlerOpts{}))
	}
	r.Handle("/ws/events", g.hub)

	// API endpoints - auth required. Not mounted if no auth configured.
	if g.cfg.Auth.IsConfigured() {
		limiter := newRateLimiter(g.cfg.Rate.RequestsPerMin)
		r.Group(func(r chi.Router) {
			r.Use(limiter.middleware)
			r.Use(authMiddleware(g.cfg.Auth))
			r.Route("/api", func(r chi.Router) {
				r.Get("/stats", g.handleStats())
				r.Get("/dialogs/{userID}", g.handleDialogInfo())
				r.Delete("/dialogs/{userID}", g.handleDialogReset())
				r.Put("/dialogs/{userID}/prompt", g.handleDialogPrompt())
				r.Post("/messages", g.handleMessage())
			})
		})
	}

	return r
}
