package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBSQLitePath      string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBSlowQuery       time.Duration

	Redis    RedisConfig
	Stripe   StripeConfig
	SMTP     SMTPConfig
	Slack    SlackConfig
	Jobs     JobsConfig
	Policies PolicyConfigSource
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type StripeConfig struct {
	SecretKey      string
	WebhookSecret  string
	RequestTimeout time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (c SMTPConfig) Enabled() bool {
	return strings.TrimSpace(c.Host) != ""
}

type SlackConfig struct {
	WebhookURL string
	Channel    string
}

type JobsConfig struct {
	Enabled                 bool
	ExpireOrdersSpec        string
	ExpireMembershipsSpec   string
	BatchSize               int
	LockTTL                 time.Duration
	WebhookReferenceLockTTL time.Duration
}

// PolicyConfigSource points at the hot-reloadable policy file.
type PolicyConfigSource struct {
	Name string
	Path string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "memberhub"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "memberhub"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBSQLitePath:      getenv("DATABASE_SQLITE_PATH", "memberhub.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBSlowQuery:       getenvDuration("DATABASE_SLOW_QUERY", 200*time.Millisecond),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Stripe: StripeConfig{
			SecretKey:      strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret:  strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			RequestTimeout: getenvDuration("PAYMENT_PROVIDER_TIMEOUT", 15*time.Second),
		},
		SMTP: SMTPConfig{
			Host:     strings.TrimSpace(getenv("SMTP_HOST", "")),
			Port:     getenvInt("SMTP_PORT", 587),
			Username: getenv("SMTP_USERNAME", ""),
			Password: getenv("SMTP_PASSWORD", ""),
			From:     getenv("SMTP_FROM", "no-reply@memberhub.local"),
		},
		Slack: SlackConfig{
			WebhookURL: strings.TrimSpace(getenv("SLACK_WEBHOOK_URL", "")),
			Channel:    getenv("SLACK_CHANNEL", ""),
		},
		Jobs: JobsConfig{
			Enabled:                 getenvBool("JOBS_ENABLED", true),
			ExpireOrdersSpec:        getenv("JOBS_EXPIRE_ORDERS_SPEC", "@every 5m"),
			ExpireMembershipsSpec:   getenv("JOBS_EXPIRE_MEMBERSHIPS_SPEC", "0 15 0 * * *"),
			BatchSize:               getenvInt("JOBS_BATCH_SIZE", 200),
			LockTTL:                 getenvDuration("JOBS_LOCK_TTL", 2*time.Minute),
			WebhookReferenceLockTTL: getenvDuration("WEBHOOK_REFERENCE_LOCK_TTL", 30*time.Second),
		},
		Policies: PolicyConfigSource{
			Name: getenv("POLICY_CONFIG_NAME", "policy"),
			Path: getenv("POLICY_CONFIG_PATH", "/etc/memberhub"),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, value, def)
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		log.Printf("[config] invalid %s=%q, using %s", key, value, def)
		return def
	}
	return parsed
}
