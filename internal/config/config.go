package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the engine.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Ledger   LedgerConfig
	Bus      BusConfig
	Billing  BillingConfig
	HTTP     HTTPConfig
	Notify   NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NATSConfig controls the optional JetStream forwarder.
type NATSConfig struct {
	URL            string
	ConnectTimeout time.Duration
	DedupWindow    time.Duration
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level  string
	Format string
}

// AuthConfig verifies bearer tokens issued by the external identity service.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// LedgerConfig tunes the request ledger.
type LedgerConfig struct {
	LockTimeout    time.Duration
	IdempotencyTTL time.Duration
	// CategorySeedFile is an optional YAML list of categories upserted at startup.
	CategorySeedFile string
}

// BusConfig tunes the in-process event bus.
type BusConfig struct {
	SubscriberBuffer int
	RetentionEvents  int
	RetentionWindow  time.Duration
}

// BillingConfig tunes the monthly aggregator.
type BillingConfig struct {
	Workers  int
	Timezone string
}

// HTTPConfig tunes the collaborator-facing API.
type HTTPConfig struct {
	CommandRPS       float64
	CommandBurst     int
	StreamKeepAlive  time.Duration
	BusyRetryAfterMS int
}

// NotificationConfig contains outbound notification settings.
type NotificationConfig struct {
	WebhookURL string
	EmailFrom  string
	FeedSize   int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	commandRPS, err := strconv.ParseFloat(getEnv("HTTP_COMMAND_RPS", "5"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_COMMAND_RPS: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "request-engine"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		NATS: NATSConfig{
			URL:            os.Getenv("NATS_URL"),
			ConnectTimeout: getEnvAsDuration("NATS_CONNECT_TIMEOUT", 30*time.Second),
			DedupWindow:    getEnvAsDuration("NATS_DEDUP_WINDOW", 2*time.Minute),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", "dev-secret"),
			Issuer:    os.Getenv("AUTH_JWT_ISSUER"),
		},
		Ledger: LedgerConfig{
			LockTimeout:      getEnvAsDuration("LEDGER_LOCK_TIMEOUT", 2*time.Second),
			IdempotencyTTL:   getEnvAsDuration("IDEMPOTENCY_TTL", 24*time.Hour),
			CategorySeedFile: os.Getenv("CATEGORY_SEED_FILE"),
		},
		Bus: BusConfig{
			SubscriberBuffer: getEnvAsInt("BUS_SUBSCRIBER_BUFFER", 256),
			RetentionEvents:  getEnvAsInt("BUS_RETENTION_EVENTS", 10000),
			RetentionWindow:  getEnvAsDuration("BUS_RETENTION_WINDOW", 15*time.Minute),
		},
		Billing: BillingConfig{
			Workers:  getEnvAsInt("BILLING_WORKERS", 4),
			Timezone: getEnv("BILLING_TIMEZONE", "UTC"),
		},
		HTTP: HTTPConfig{
			CommandRPS:       commandRPS,
			CommandBurst:     getEnvAsInt("HTTP_COMMAND_BURST", 10),
			StreamKeepAlive:  getEnvAsDuration("HTTP_STREAM_KEEPALIVE", 15*time.Second),
			BusyRetryAfterMS: getEnvAsInt("HTTP_BUSY_RETRY_AFTER_MS", 250),
		},
		Notify: NotificationConfig{
			WebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),
			EmailFrom:  os.Getenv("NOTIFY_EMAIL_FROM"),
			FeedSize:   getEnvAsInt("NOTIFY_FEED_SIZE", 100),
		},
	}

	if _, err := cfg.Billing.Location(); err != nil {
		return nil, fmt.Errorf("invalid BILLING_TIMEZONE: %w", err)
	}
	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Location resolves the billing timezone.
func (b BillingConfig) Location() (*time.Location, error) {
	if b.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(b.Timezone)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
