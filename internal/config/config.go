package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

type PostgresConfig struct {
	DSN             string        `env:"PG_DSN"`
	MaxOpenConns    int           `env:"PG_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"PG_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxIdleTime time.Duration `env:"PG_CONN_MAX_IDLE_TIME" envDefault:"5m"`
	ConnMaxLifetime time.Duration `env:"PG_CONN_MAX_LIFETIME" envDefault:"30m"`
}

// NowPaymentsConfig holds the upstream gateway credentials. Only the payment
// proxy reads it; clients never see the API key.
type NowPaymentsConfig struct {
	APIKey  string        `env:"NOWPAYMENTS_API_KEY"`
	BaseURL string        `env:"NOWPAYMENTS_API_URL" envDefault:"https://api.nowpayments.io/v1"`
	Timeout time.Duration `env:"NOWPAYMENTS_TIMEOUT" envDefault:"20s"`
}

type RateLimitConfig struct {
	// Requests per second refilled into each client's bucket.
	Rate     float64 `env:"RATE_LIMIT_RATE" envDefault:"2"`
	Capacity int64   `env:"RATE_LIMIT_BURST" envDefault:"20"`
}

// GatewayConfig points the client side at the payment proxy.
type GatewayConfig struct {
	BaseURL string        `env:"GUESSIT_GATEWAY_URL" envDefault:"http://localhost:8080"`
	Timeout time.Duration `env:"GUESSIT_GATEWAY_TIMEOUT" envDefault:"15s"`
}

// PurchaseConfig is the reference purchase policy.
type PurchaseConfig struct {
	PricePerCoin decimal.Decimal `env:"GUESSIT_PRICE_PER_COIN" envDefault:"0.99"`
	MinimumCoins int64           `env:"GUESSIT_MIN_PURCHASE" envDefault:"13"`
	InitialDelay time.Duration   `env:"GUESSIT_POLL_INITIAL_DELAY" envDefault:"1.5s"`
	Interval     time.Duration   `env:"GUESSIT_POLL_INTERVAL" envDefault:"30s"`
	CheckTimeout time.Duration   `env:"GUESSIT_POLL_CHECK_TIMEOUT" envDefault:"20s"`
	// Zero disables the cutoff; polling then runs until a terminal status.
	MaxDuration time.Duration `env:"GUESSIT_POLL_MAX_DURATION" envDefault:"0s"`
}

// Load parses environment variables into dst, which must be a pointer to a
// struct built from the types above.
func Load(dst any) error {
	err := env.Parse(dst)
	if err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	return nil
}
