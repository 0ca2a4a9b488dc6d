package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobarin/slnpart/internal/api"
	"github.com/bobarin/slnpart/internal/auth"
	"github.com/bobarin/slnpart/internal/config"
	"github.com/bobarin/slnpart/internal/db"
	"github.com/bobarin/slnpart/internal/ledger"
	"github.com/bobarin/slnpart/internal/logger"
	"github.com/bobarin/slnpart/internal/orchestrator"
	"github.com/bobarin/slnpart/internal/payments"
	"github.com/bobarin/slnpart/internal/providers"
	"github.com/bobarin/slnpart/internal/services"
	"github.com/bobarin/slnpart/internal/sessions"
	"github.com/bobarin/slnpart/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New(logger.Options{})
		boot.Fatal().Err(err).Msg("failed to load config")
	}

	log := logger.New(logger.Options{Level: cfg.LogLevel, Pretty: cfg.IsDevelopment()})
	log.Info().Str("env", cfg.Env).Msg("starting SLNP Art API")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	// Connect to database
	database, err := db.New(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := database.Migrate(migrateCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}
	cancelMigrate()
	log.Info().Str("driver", cfg.Database.Driver).Msg("connected to database")

	// Connect to Redis session store
	sess, err := sessions.New(cfg.Redis.URL, cfg.Auth.SessionStartingTokens, cfg.Auth.SessionTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer sess.Close()
	log.Info().Msg("connected to redis session store")

	// Initialize storage
	stor, err := storage.New(cfg.Media.Dir, cfg.Media.UploadDir, "/media", logger.Component(log, "storage"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}

	// Providers
	policy, err := providers.LoadPolicy(cfg.Provider.PolicyPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load provider policy")
	}
	registered, err := registerProviders(cfg, stor, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to register providers")
	}
	adapter, err := providers.NewAdapter(policy, registered, providers.Options{
		CallTimeout: cfg.Provider.CallTimeout,
		PollTimeout: cfg.Provider.PollTimeout,
	}, logger.Component(log, "providers"))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid provider chains")
	}

	costs := ledger.Costs(policy.Costs)
	tokens := ledger.New(database, sess, logger.Component(log, "ledger"))
	orch := orchestrator.New(database, tokens, adapter, stor, costs, orchestrator.Limits{
		MaxUploadBytes:  cfg.Media.MaxUploadBytes,
		DownloadTimeout: cfg.Media.Timeout,
	}, logger.Component(log, "orchestrator"))
	accounts := auth.NewService(database, cfg.Auth.JWTSecret, cfg.Auth.JWTTTL, cfg.Auth.AccountStartingTokens)

	// Payments are optional; the checkout routes answer 503 without a key.
	var checkouts api.Checkouts
	if cfg.Stripe.SecretKey != "" {
		gateway := services.NewStripeService(cfg.Stripe.SecretKey, logger.Component(log, "stripe"))
		checkouts = payments.NewService(gateway, tokens, cfg.PublicBaseURL, logger.Component(log, "payments"))
		log.Info().Msg("stripe checkout enabled")
	} else {
		log.Warn().Msg("STRIPE_SECRET_KEY not set, token purchases disabled")
	}

	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer limiter.Stop()

	cookies := api.CookieOptions{Secure: !cfg.IsDevelopment(), SessionTTL: cfg.Auth.SessionTTL}
	handler := api.NewHandler(orch, tokens, accounts, checkouts, stor, api.HandlerConfig{
		MaxUploadBytes: cfg.Media.MaxUploadBytes,
		Cookies:        cookies,
		Costs:          costs,
	}, logger.Component(log, "api"))
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
		MediaDir:           stor.Root(),
		Tokens:             accounts,
		Cookies:            cookies,
		Limiter:            limiter,
	}, log)

	if cfg.BackendAPIKey == "" {
		log.Warn().Msg("no BACKEND_API_KEY set, /metrics is unprotected (dev mode)")
	}

	// Start HTTP server
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("API server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited")
}
