package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
	Port        string `env:"PORT" envDefault:"3000"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:"sqlite://data/moltlink.db"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"text"`

	// Feed 分页与候选集
	FeedDefaultLimit    int `env:"FEED_DEFAULT_LIMIT" envDefault:"25"`
	FeedMaxLimit        int `env:"FEED_MAX_LIMIT" envDefault:"100"`
	FeedCandidateWindow int `env:"FEED_CANDIDATE_WINDOW" envDefault:"1000"`

	// 限流（按 agent 或 IP）
	RateLimitPerSecond float64 `env:"RATE_LIMIT_PER_SECOND" envDefault:"5"`
	RateLimitBurst     int     `env:"RATE_LIMIT_BURST" envDefault:"20"`

	AuthCacheSize int           `env:"AUTH_CACHE_SIZE" envDefault:"1024"`
	AuthCacheTTL  time.Duration `env:"AUTH_CACHE_TTL" envDefault:"5m"`

	SeedSubmolts []string `env:"SEED_SUBMOLTS" envSeparator:"," envDefault:"general"`
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}
	return Parse()
}

// Parse builds a Config from the process environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.FeedMaxLimit < 1 {
		return fmt.Errorf("FEED_MAX_LIMIT must be positive, got %d", c.FeedMaxLimit)
	}
	if c.FeedDefaultLimit < 1 || c.FeedDefaultLimit > c.FeedMaxLimit {
		return fmt.Errorf("FEED_DEFAULT_LIMIT must be within [1, %d], got %d", c.FeedMaxLimit, c.FeedDefaultLimit)
	}
	if c.FeedCandidateWindow < c.FeedMaxLimit {
		return fmt.Errorf("FEED_CANDIDATE_WINDOW (%d) must be at least FEED_MAX_LIMIT (%d)", c.FeedCandidateWindow, c.FeedMaxLimit)
	}
	if c.RateLimitPerSecond <= 0 || c.RateLimitBurst < 1 {
		return errors.New("RATE_LIMIT_PER_SECOND and RATE_LIMIT_BURST must be positive")
	}
	if c.AuthCacheSize < 1 {
		return errors.New("AUTH_CACHE_SIZE must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}
