package config

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	// Server
	APIPort            string `env:"API_PORT, default=8080"`
	Env                string `env:"APP_ENV, default=development"`
	LogLevel           string `env:"LOG_LEVEL, default=info"`
	BackendAPIKey      string `env:"BACKEND_API_KEY"`      // guards /metrics (empty = open, dev mode)
	CorsAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS"` // comma-separated (empty = *, dev mode)
	PublicBaseURL      string `env:"PUBLIC_BASE_URL, default=http://localhost:8080"`

	// Rate limiting for job submission, per client IP
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS, default=1"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST, default=10"`

	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Media    MediaConfig
	Provider ProviderConfig
	Stripe   StripeConfig
}

type DatabaseConfig struct {
	Driver string `env:"DATABASE_DRIVER, default=postgres"` // postgres or sqlite
	URL    string `env:"DATABASE_URL"`
}

type RedisConfig struct {
	URL string `env:"REDIS_URL, default=redis://localhost:6379"`
}

type AuthConfig struct {
	JWTSecret             string        `env:"JWT_SECRET"`
	JWTTTL                time.Duration `env:"JWT_TTL, default=168h"`
	AccountStartingTokens int           `env:"ACCOUNT_STARTING_TOKENS, default=2"`
	SessionStartingTokens int           `env:"SESSION_STARTING_TOKENS, default=64"`
	SessionTTL            time.Duration `env:"SESSION_TTL, default=720h"`
}

type MediaConfig struct {
	Dir            string        `env:"MEDIA_DIR, default=media"`
	UploadDir      string        `env:"UPLOAD_DIR, default=uploads"`
	MaxUploadBytes int64         `env:"MAX_UPLOAD_BYTES, default=104857600"`
	Timeout        time.Duration `env:"MEDIA_TIMEOUT, default=120s"`
	SynthTimeout   time.Duration `env:"MEDIA_SYNTH_TIMEOUT, default=60s"`
}

type ProviderConfig struct {
	PolicyPath  string        `env:"PROVIDER_POLICY_PATH"` // optional TOML chain policy
	CallTimeout time.Duration `env:"PROVIDER_TIMEOUT, default=90s"`
	PollTimeout time.Duration `env:"POLL_TIMEOUT, default=30s"`

	// Cover art
	OpenAIKey    string `env:"OPENAI_API_KEY"`
	GeminiKey    string `env:"GEMINI_API_KEY"` // also used for Veo
	StabilityKey string `env:"STABILITY_API_KEY"`

	// Video
	XAIAPIKey             string `env:"XAI_API_KEY"`
	VeoModel              string `env:"VEO_MODEL, default=veo-3.1-generate-preview"`
	ReplicateToken        string `env:"REPLICATE_API_TOKEN"`
	ReplicateVideoVersion string `env:"REPLICATE_VIDEO_VERSION, default=1f0dd155aeff719af56f4a2e516c7f7d4c91a38c7b8e9e81808e7c71bde9b868"`
}

type StripeConfig struct {
	SecretKey string `env:"STRIPE_SECRET_KEY"`
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	switch cfg.Database.Driver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", cfg.Database.Driver)
	}

	return &cfg, nil
}

// Validate checks the keys only the API server needs.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Auth.SessionStartingTokens < 0 || c.Auth.AccountStartingTokens < 0 {
		return fmt.Errorf("starting token balances must not be negative")
	}
	if c.Provider.CallTimeout <= 0 || c.Provider.PollTimeout <= 0 || c.Media.Timeout <= 0 || c.Media.SynthTimeout <= 0 {
		return fmt.Errorf("provider and media timeouts must be positive")
	}
	return nil
}

// IsDevelopment reports whether human-friendly output should be used.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
