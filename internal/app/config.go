package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// Config is the service configuration, loaded from HARVEST_* environment
// variables, flags or YAML files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (HARVEST_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL    string `usage:"Redis URL for payment idempotency (HARVEST_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	Kafka       KafkaConfig
	SMS         SMSConfig
	Payment     PaymentConfig
	Orders      OrdersConfig
	RateLimit   RateLimitConfig
	Graceful    GracefulConfig
}

// KafkaConfig enables event publishing when Brokers is set.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers"`
	Topic   string   `default:"order-events" usage:"Topic for order events"`
}

// SMSConfig enables SMS notifications when URL is set.
type SMSConfig struct {
	URL     string        `usage:"SMS gateway base URL"`
	Token   string        `usage:"SMS gateway bearer token"`
	Timeout time.Duration `default:"5s" usage:"SMS request timeout"`
}

// PaymentConfig enables payments when URL is set.
type PaymentConfig struct {
	URL            string        `usage:"Payment gateway base URL"`
	Token          string        `usage:"Payment gateway bearer token"`
	Currency       string        `default:"NGN" usage:"ISO currency code for payments"`
	CallbackURL    string        `usage:"Public URL of POST /api/payments/callback" flag:"payment-callback-url"`
	CallbackSecret string        `usage:"HMAC secret of gateway callbacks" flag:"payment-callback-secret"`
	Timeout        time.Duration `default:"10s" usage:"Payment request timeout"`
	IdempotencyTTL time.Duration `default:"24h" usage:"How long initiation results are remembered" flag:"payment-idempotency-ttl"`
}

// OrdersConfig tunes order placement.
type OrdersConfig struct {
	AllOrNothing    bool          `default:"false" usage:"Commit all vendor groups of a cart in one transaction" flag:"all-or-nothing"`
	DispatchTimeout time.Duration `default:"10s" usage:"Upper bound for delivering side effects of one event" flag:"dispatch-timeout"`
}

// RateLimitConfig controls the per-actor token bucket.
type RateLimitConfig struct {
	RPS   float64 `default:"10" usage:"Sustained requests per second per actor"`
	Burst int     `default:"30" usage:"Burst size per actor"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration and applies platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "HARVEST",
		Files:     []string{"config.yaml", "/etc/harvest/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set HARVEST_DATABASE_URL or DATABASE_URL")
	}
	if c.Payment.URL != "" && c.RedisURL == "" {
		return errors.New("payments require redis: set HARVEST_REDIS_URL or REDIS_URL")
	}
	if c.Payment.Currency = strings.ToUpper(strings.TrimSpace(c.Payment.Currency)); len(c.Payment.Currency) != 3 {
		return errors.Errorf("invalid payment currency %q", c.Payment.Currency)
	}
	return nil
}

// applyPlatformDefaults maps the unprefixed variables injected by hosting
// platforms.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
