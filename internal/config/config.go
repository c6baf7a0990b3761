package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process configuration read from the environment.
type Config struct {
	Port   string
	AppEnv string

	DatabaseURL string
	RedisURL    string

	GatewayProvider      string
	StripeSecretKey      string
	StripeWebhookSecret  string
	MidtransServerKey    string
	MidtransClientKey    string
	MidtransIsProduction bool
	GatewayTimeout       time.Duration
	GatewayRetryAttempts int
	DefaultCurrency      string

	StaleOrderAfter       time.Duration
	DeferredFlushInterval time.Duration
	IdempotencyTTL        time.Duration
	WorkerPollInterval    time.Duration

	FirebaseCredentialsPath string

	SMTPHost  string
	SMTPPort  string
	SMTPUser  string
	SMTPPass  string
	EmailFrom string
}

// Load reads .env (if present) and the process environment.
// A missing .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                    getEnv("PORT", "8080"),
		AppEnv:                  getEnv("APP_ENV", "development"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		RedisURL:                os.Getenv("REDIS_URL"),
		GatewayProvider:         strings.ToLower(getEnv("GATEWAY_PROVIDER", "stripe")),
		StripeSecretKey:         os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:     os.Getenv("STRIPE_WEBHOOK_SECRET"),
		MidtransServerKey:       os.Getenv("MIDTRANS_SERVER_KEY"),
		MidtransClientKey:       os.Getenv("MIDTRANS_CLIENT_KEY"),
		MidtransIsProduction:    getEnv("MIDTRANS_IS_PRODUCTION", "false") == "true",
		GatewayTimeout:          getDuration("GATEWAY_TIMEOUT", 5*time.Second),
		GatewayRetryAttempts:    getInt("GATEWAY_RETRY_ATTEMPTS", 3),
		DefaultCurrency:         strings.ToLower(getEnv("DEFAULT_CURRENCY", "thb")),
		StaleOrderAfter:         getDuration("STALE_ORDER_AFTER", 30*time.Minute),
		DeferredFlushInterval:   getDuration("DEFERRED_FLUSH_INTERVAL", 15*time.Second),
		IdempotencyTTL:          getDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		WorkerPollInterval:      getDuration("WORKER_POLL_INTERVAL", time.Minute),
		FirebaseCredentialsPath: getEnv("FIREBASE_CREDENTIALS_PATH", "./firebase-service-account.json"),
		SMTPHost:                os.Getenv("SMTP_HOST"),
		SMTPPort:                os.Getenv("SMTP_PORT"),
		SMTPUser:                os.Getenv("SMTP_USER"),
		SMTPPass:                os.Getenv("SMTP_PASS"),
		EmailFrom:               os.Getenv("EMAIL_FROM"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the keys required by the selected gateway are present.
func (c *Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	switch c.GatewayProvider {
	case "stripe":
		if c.StripeSecretKey == "" {
			missing = append(missing, "STRIPE_SECRET_KEY")
		}
		if c.StripeWebhookSecret == "" {
			missing = append(missing, "STRIPE_WEBHOOK_SECRET")
		}
	case "midtrans":
		if c.MidtransServerKey == "" {
			missing = append(missing, "MIDTRANS_SERVER_KEY")
		}
	default:
		return fmt.Errorf("unsupported GATEWAY_PROVIDER %q", c.GatewayProvider)
	}

	if c.GatewayRetryAttempts < 1 {
		return fmt.Errorf("GATEWAY_RETRY_ATTEMPTS must be at least 1")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}
