package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	RedisAddr     string
	ClickHouseDSN string
	PostgresDSN   string

	ServiceName string

	// ReloadInterval controls how often campaign/placement config is
	// refreshed from Postgres.
	ReloadInterval time.Duration

	// PacingSlack is the tolerance on the even-pacing curve. A value of 0.15
	// lets a campaign run up to 15% ahead of the clock before throttling.
	PacingSlack float64

	// SpendPersistInterval controls how often live ledger counters are
	// written back to Postgres.
	SpendPersistInterval time.Duration

	// FeaturedBillingPeriod is the Go time layout used to key flat-fee
	// charges for featured campaigns. "2006-01" bills monthly.
	FeaturedBillingPeriod string
	// FeaturedBillingInterval is how often the billing loop looks for
	// featured campaigns not yet charged for the current period.
	FeaturedBillingInterval time.Duration

	// RollupInterval controls the periodic daily-stats reconciliation replay.
	RollupInterval time.Duration

	// AllocationTimeout bounds a winner decision; on expiry the caller falls
	// back to organic ranking.
	AllocationTimeout time.Duration

	// Database connection pooling configuration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// ClickHouse connection pooling configuration
	CHMaxOpenConns int

	// Tracing configuration
	TracingEnabled    bool
	TracingEndpoint   string
	TracingSampleRate float64
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.Port = getenv("PORT", "8686")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 5*time.Second)
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 10*time.Second)
	cfg.RedisAddr = getenv("REDIS_ADDR", "localhost:6379")
	cfg.ClickHouseDSN = getenv("CLICKHOUSE_DSN", "clickhouse://default:@localhost:9000/default?async_insert=1&wait_for_async_insert=1")
	cfg.PostgresDSN = getenv("POSTGRES_DSN", "postgres://postgres@127.0.0.1:5432/postgres?sslmode=disable")
	cfg.ServiceName = getenv("SERVICE_NAME", "sponsorserve")
	cfg.ReloadInterval = envDuration("RELOAD_INTERVAL", 30*time.Second)
	cfg.PacingSlack = envFloat("PACING_SLACK", 0.15)
	cfg.SpendPersistInterval = envDuration("SPEND_PERSIST_INTERVAL", 1*time.Minute)
	cfg.FeaturedBillingPeriod = getenv("FEATURED_BILLING_PERIOD", "2006-01")
	cfg.FeaturedBillingInterval = envDuration("FEATURED_BILLING_INTERVAL", 1*time.Hour)
	cfg.RollupInterval = envDuration("ROLLUP_INTERVAL", 15*time.Minute)
	cfg.AllocationTimeout = envDuration("ALLOCATION_TIMEOUT", 150*time.Millisecond)

	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)

	// Higher than Postgres because of async insert patterns and event volume.
	cfg.CHMaxOpenConns = envInt("CH_MAX_OPEN_CONNS", 100)

	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TracingEndpoint = getenv("TRACING_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	return cfg
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. Accepted values are those
// supported by strconv.ParseBool. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}
