package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (FLOWERSHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (FLOWERSHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Auth        AuthConfig
	Payment     PaymentConfig
	Orders      OrdersConfig
	Webhook     WebhookConfig
	RateLimit   RateLimitConfig
	Redis       RedisConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// AuthConfig verifies bearer tokens issued by the account service.
type AuthConfig struct {
	JWTSecret string `usage:"HS256 secret shared with the account service" flag:"jwt-secret"`
}

// PaymentConfig holds YooKassa shop credentials.
type PaymentConfig struct {
	ShopID     string        `usage:"YooKassa shop id" flag:"shop-id"`
	SecretKey  string        `usage:"YooKassa secret key" flag:"secret-key"`
	BaseURL    string        `default:"https://api.yookassa.ru/v3" usage:"YooKassa API root"`
	ReturnURL  string        `usage:"Where customers land after confirming a payment" flag:"return-url"`
	Timeout    time.Duration `default:"10s" usage:"Per-request gateway timeout"`
	MaxRetries uint          `default:"3" usage:"Gateway retries per call after the first attempt"`
}

// OrdersConfig controls order expiry.
type OrdersConfig struct {
	Expiration    time.Duration `default:"30m" usage:"Payment window of a new order"`
	SweepInterval time.Duration `default:"1m" usage:"How often expired pending orders are cancelled"`
	SweepBatch    int           `default:"100" usage:"Max orders cancelled per sweep"`
}

// WebhookConfig restricts who may deliver payment notifications.
type WebhookConfig struct {
	VerifySource bool `default:"true" usage:"Accept webhooks only from AllowedNetworks" flag:"webhook-verify-source"`
	// AllowedNetworks defaults to the published YooKassa ranges.
	AllowedNetworks   []string `usage:"CIDRs allowed to call the webhook"`
	TrustForwardedFor bool     `default:"false" usage:"Take the webhook source from X-Forwarded-For" flag:"webhook-trust-xff"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max            int           `default:"100" usage:"Max requests per window"`
	Window         time.Duration `default:"1m"  usage:"Rate limit window duration"`
	OrderCreateMax int           `default:"10" usage:"Max order creations per client per minute"`
}

// RedisConfig enables a shared rate limit store when Addr is set.
type RedisConfig struct {
	Addr     string `usage:"Redis address for the shared rate limiter" flag:"redis-addr"`
	Password string `usage:"Redis password" flag:"redis-password"`
	DB       int    `default:"0" usage:"Redis database"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	cfg, err := loadConfig(aconfig.Config{})
	if err != nil {
		return nil, err
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadConfig(base aconfig.Config) (*Config, error) {
	var cfg Config
	base.EnvPrefix = "FLOWERSHOP"
	if base.Files == nil {
		base.Files = []string{"config.yaml", "/etc/flowershop/config.yaml"}
	}
	base.FileDecoders = map[string]aconfig.FileDecoder{
		".yaml": aconfigyaml.New(),
	}
	if err := aconfig.LoaderFor(&cfg, base).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's FLOWERSHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set FLOWERSHOP_DATABASE_URL or DATABASE_URL")
	case c.Auth.JWTSecret == "":
		return errors.New("auth JWT secret is required")
	case c.Payment.ShopID == "" || c.Payment.SecretKey == "":
		return errors.New("payment shop id and secret key are required")
	case c.Payment.ReturnURL == "":
		return errors.New("payment return URL is required")
	case c.Orders.Expiration <= 0:
		return errors.New("order expiration must be positive")
	case c.Orders.SweepInterval <= 0 || c.Orders.SweepBatch <= 0:
		return errors.New("order sweep interval and batch must be positive")
	case c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 || c.RateLimit.OrderCreateMax <= 0:
		return errors.New("rate limits must be positive")
	}
	return nil
}
