package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	constants "mentalmath/internal/constants"
	models "mentalmath/internal/models"
)

type Config struct {
	Port    string `env:"PORT" envDefault:"8080"`
	GinMode string `env:"GIN_MODE"`
	Env     string `env:"ENV" envDefault:"development"`

	CookieMaxAge   time.Duration `env:"COOKIE_MAX_AGE" envDefault:"2h"`
	StaticCacheAge time.Duration `env:"STATIC_CACHE_AGE" envDefault:"5m"`

	RateLimitRPS   int           `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst int           `env:"RATE_LIMIT_BURST" envDefault:"10"`
	RateLimiterTTL time.Duration `env:"RATE_LIMITER_TTL" envDefault:"1h"`

	SessionTTL             time.Duration `env:"SESSION_TTL" envDefault:"3h"`
	SessionCleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"10m"`
	StreamHeartbeat        time.Duration `env:"STREAM_HEARTBEAT" envDefault:"15s"`

	DefaultTotalQuestions int           `env:"DEFAULT_TOTAL_QUESTIONS" envDefault:"5"`
	DefaultRevealInterval time.Duration `env:"DEFAULT_REVEAL_INTERVAL" envDefault:"1s"`
	ResultDisplay         time.Duration `env:"RESULT_DISPLAY" envDefault:"2s"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if cfg.ResultDisplay <= 0 {
		cfg.ResultDisplay = constants.DefaultResultDisplay
	}
	if cfg.SessionCleanupInterval <= 0 {
		cfg.SessionCleanupInterval = 10 * time.Minute
	}
	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.GinMode == "release" || c.Env == "production"
}

// DefaultSettings returns the settings used when a start request omits them.
func (c *Config) DefaultSettings() models.Settings {
	return models.Settings{
		TotalQuestions:   c.DefaultTotalQuestions,
		RevealIntervalMs: int(c.DefaultRevealInterval / time.Millisecond),
	}.Clamp()
}
