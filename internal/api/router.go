package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterConfig holds settings for the API router.
type RouterConfig struct {
	// BackendAPIKey guards /metrics. If empty, /metrics is open (development mode).
	BackendAPIKey string

	// CorsAllowedOrigins is a comma-separated list of allowed origins.
	// If empty, defaults to "*" (development mode).
	CorsAllowedOrigins string

	// MediaDir is served under /media/.
	MediaDir string

	Tokens  TokenParser
	Cookies CookieOptions

	// Limiter throttles job submissions. Nil disables throttling.
	Limiter *RateLimiter
}

func NewRouter(h *Handler, cfg RouterConfig, log zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (applied to all routes including /health)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)

	// CORS: restrict origins when configured, otherwise allow all (dev mode)
	allowedOrigins := []string{"*"}
	if cfg.CorsAllowedOrigins != "" {
		origins := strings.Split(cfg.CorsAllowedOrigins, ",")
		trimmed := make([]string, 0, len(origins))
		for _, o := range origins {
			if s := strings.TrimSpace(o); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			allowedOrigins = trimmed
		}
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check, public
	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		if cfg.BackendAPIKey != "" {
			r.Use(APIKeyAuth(cfg.BackendAPIKey))
		}
		r.Handle("/metrics", promhttp.Handler())
	})

	if cfg.MediaDir != "" {
		r.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(cfg.MediaDir))))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(ResolveActor(cfg.Tokens, cfg.Cookies))

		// Accounts
		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)
		r.Post("/auth/logout", h.Logout)
		r.Get("/me", h.Me)

		// Balance, catalogue and payments
		r.Get("/tokens", h.Tokens)
		r.Get("/options", h.Options)
		r.Get("/packages", h.ListPackages)
		r.Post("/checkout", h.CreateCheckout)
		r.Get("/checkout/complete", h.CompleteCheckout)

		// Jobs
		r.Get("/jobs", h.ListJobs)
		r.Get("/jobs/{id}", h.GetJob)
		r.Get("/jobs/{id}/original", h.GetOriginal)

		// Generation, throttled per client
		r.Group(func(r chi.Router) {
			if cfg.Limiter != nil {
				r.Use(cfg.Limiter.Middleware)
			}
			r.Post("/cover-art", h.CreateCoverArt)
			r.Post("/cover-art/prompt", h.SuggestCoverPrompt)
			r.Post("/mastering", h.CreateMastering)
			r.Post("/mastering/uploads", h.UploadMastering)
			r.Post("/mastering/{id}/start", h.StartMastering)
			r.Post("/video", h.CreateVideo)
			r.Post("/video/prompt", h.SuggestScenePrompt)
		})
	})

	return r
}
