package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/eldtechnologies/chatsync/internal/tree"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendPebble   = "pebble"
)

// Config holds all configuration for the application.
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`
	Env  string `env:"ENV" envDefault:"development"`

	// Tree store
	StoreBackend string `env:"STORE_BACKEND" envDefault:"memory"`
	RedisURL     string `env:"REDIS_URL"`
	DatabaseURL  string `env:"DATABASE_URL"`
	SQLitePath   string `env:"SQLITE_PATH" envDefault:"./data/chatsync.db"`
	PebblePath   string `env:"PEBBLE_PATH" envDefault:"./data/pebble"`

	// Sync behaviour
	WriteMode       string `env:"WRITE_MODE" envDefault:"overwrite"`
	DedupMessageIDs bool   `env:"DEDUP_MESSAGE_IDS" envDefault:"true"`

	// Events
	NATSURL    string `env:"NATS_URL"`
	NATSStream string `env:"NATS_STREAM" envDefault:"CHATSYNC_MESSAGES"`

	// Rate limiting
	RateLimitRPS       float64  `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst     int      `env:"RATE_LIMIT_BURST" envDefault:"20"`
	RateLimitWhitelist []string `env:"RATE_LIMIT_WHITELIST" envSeparator:","` // IPs or CIDRs exempt from rate limiting
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
func Load() (*Config, error) {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	c.WriteMode = strings.ToLower(strings.TrimSpace(c.WriteMode))

	var whitelist []string
	for _, entry := range c.RateLimitWhitelist {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			whitelist = append(whitelist, entry)
		}
	}
	c.RateLimitWhitelist = whitelist
}

// Validate checks option values. In production the selected backend must
// be given its connection URL.
func (c *Config) Validate() error {
	if _, err := c.Mode(); err != nil {
		return err
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}

	switch c.StoreBackend {
	case BackendMemory, BackendSQLite, BackendPebble:
	case BackendRedis:
		if c.RedisURL == "" && !c.IsDevelopment() {
			return fmt.Errorf("REDIS_URL is required in production")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" && !c.IsDevelopment() {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	return nil
}

// Mode returns the configured write mode.
func (c *Config) Mode() (tree.Mode, error) {
	return tree.ParseMode(c.WriteMode)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
