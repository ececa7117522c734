package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	BTCCoreURL    string `envconfig:"BTC_CORE_URL" required:"true"`
	BTCCoreUser   string `envconfig:"BTC_CORE_USER"`
	BTCCorePass   string `envconfig:"BTC_CORE_PASS"`
	BTCCoreWallet string `envconfig:"BTC_CORE_WALLET" required:"true"`

	APIKeys       []string `envconfig:"API_KEYS"`
	APIKeyRevoked []string `envconfig:"API_KEY_REVOKED"`
	AllowOrigins  []string `envconfig:"ALLOW_ORIGINS" required:"true"`

	WooCallbackURL string `envconfig:"WOO_CALLBACK_URL"`
	WooHMACSecret  string `envconfig:"WOO_HMAC_SECRET"`
	WebhookRetries int    `envconfig:"WEBHOOK_RETRIES" default:"3"`
	WebhookBackoff int    `envconfig:"WEBHOOK_BACKOFF" default:"2"`

	StuckOrderHours     int `envconfig:"STUCK_ORDER_HOURS" default:"24"`
	StuckCheckInterval  int `envconfig:"STUCK_CHECK_INTERVAL" default:"600"`
	SigningDeadlineDays int `envconfig:"SIGNING_DEADLINE_DAYS" default:"7"`

	RateLimit string `envconfig:"RATE_LIMIT" default:"100/minute"`

	OrdersDB string `envconfig:"ORDERS_DB" default:"./data/orders.sqlite"`

	Network  string `envconfig:"ESCROWD_NETWORK" default:"testnet"`
	Port     int    `envconfig:"ESCROWD_PORT" default:"8080"`
	LogLevel string `envconfig:"ESCROWD_LOG_LEVEL" default:"info"`
	LogDir   string `envconfig:"ESCROWD_LOG_DIR" default:"./logs"`
}

// Load reads configuration from a .env file (if present) then from environment
// variables. Environment variables override .env values.
func Load() (*Config, error) {
	// Load .env file if it exists. godotenv does NOT override already-set env vars,
	// so real environment variables take precedence over .env values.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			slog.Warn("failed to load .env file", "error", err)
		} else {
			slog.Info("loaded .env file")
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.Network != "mainnet" && c.Network != "testnet" {
		return fmt.Errorf("%w: network must be \"mainnet\" or \"testnet\", got %q", ErrInvalidConfig, c.Network)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port must be 1-65535, got %d", ErrInvalidConfig, c.Port)
	}
	if c.BTCCoreURL == "" {
		return fmt.Errorf("%w: BTC_CORE_URL is required", ErrInvalidConfig)
	}
	if c.BTCCoreWallet == "" {
		return fmt.Errorf("%w: BTC_CORE_WALLET is required", ErrInvalidConfig)
	}
	if len(c.AllowOrigins) == 0 {
		return fmt.Errorf("%w: ALLOW_ORIGINS is required", ErrInvalidConfig)
	}
	if c.SigningDeadlineDays <= 0 {
		return fmt.Errorf("%w: SIGNING_DEADLINE_DAYS must be positive", ErrInvalidConfig)
	}
	return nil
}

// IsAPIKeyValid reports whether key is configured and not revoked. If no keys
// are configured at all, auth is considered disabled.
func (c *Config) IsAPIKeyValid(key string) bool {
	if len(c.APIKeys) == 0 {
		return true
	}
	if key == "" {
		return false
	}
	for _, revoked := range c.APIKeyRevoked {
		if revoked == key {
			return false
		}
	}
	for _, k := range c.APIKeys {
		if k == key {
			return true
		}
	}
	return false
}

// AuthEnabled reports whether API key checking is active.
func (c *Config) AuthEnabled() bool {
	return len(c.APIKeys) > 0
}

// IsOriginAllowed reports whether origin is present in the configured allow-list.
func (c *Config) IsOriginAllowed(origin string) bool {
	for _, o := range c.AllowOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
