package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures everything the server needs at startup. Values come from the
// environment so main stays lean and deployments stay twelve-factor.
type Config struct {
	Server    Server
	Redis     RedisConfig
	Ledger    Ledger
	Policy    Policy
	RateLimit RateLimitConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	PostgresDSN   string
	LogLevel      string
}

// RedisConfig captures connection settings for the Redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Ledger captures how to reach the external credit ledger.
type Ledger struct {
	// GatewayURL is the base URL of the ledger gateway. Empty selects the
	// in-process ledger, which only suits single-instance dev setups.
	GatewayURL string
	// CallTimeout bounds every individual ledger call. Ledger calls may be
	// slow; no in-process lock is ever held across one.
	CallTimeout time.Duration
}

// Policy carries the business policy values that product may still revise.
// The compliance threshold and retry budget are configuration, not constants.
type Policy struct {
	// ComplianceThreshold is the minimum checklist score for approval.
	ComplianceThreshold int
	// MintMaxRetries bounds automatic retries of a failed issuance.
	MintMaxRetries int
	// MintRetryBase is the initial backoff delay between issuance retries.
	MintRetryBase time.Duration
}

// RateLimitConfig captures per-client request limiting. Enforced only when
// Redis is configured; the limit applies per actor (or per remote address
// for unauthenticated requests) over a fixed window.
type RateLimitConfig struct {
	Enabled bool
	Limit   int
	Window  time.Duration
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:          envOr("VERDANT_ADDR", ":8080"),
			JWTSigningKey: envOr("VERDANT_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			PostgresDSN:   os.Getenv("VERDANT_POSTGRES_DSN"),
			LogLevel:      envOr("VERDANT_LOG_LEVEL", "info"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("VERDANT_REDIS_URL"),
			PoolSize:     envIntOr("VERDANT_REDIS_POOL_SIZE", 10),
			MinIdleConns: envIntOr("VERDANT_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDurationOr("VERDANT_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDurationOr("VERDANT_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDurationOr("VERDANT_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Ledger: Ledger{
			GatewayURL:  os.Getenv("VERDANT_LEDGER_URL"),
			CallTimeout: envDurationOr("VERDANT_LEDGER_CALL_TIMEOUT", 10*time.Second),
		},
		Policy: Policy{
			ComplianceThreshold: envIntOr("VERDANT_COMPLIANCE_THRESHOLD", 70),
			MintMaxRetries:      envIntOr("VERDANT_MINT_MAX_RETRIES", 5),
			MintRetryBase:       envDurationOr("VERDANT_MINT_RETRY_BASE", 500*time.Millisecond),
		},
		RateLimit: RateLimitConfig{
			Enabled: envBoolOr("VERDANT_RATE_LIMIT_ENABLED", true),
			Limit:   envIntOr("VERDANT_RATE_LIMIT", 120),
			Window:  envDurationOr("VERDANT_RATE_LIMIT_WINDOW", time.Minute),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolOr(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
