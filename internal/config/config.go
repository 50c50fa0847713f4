// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverPGX      = "pgx"
)

// Config holds every runtime setting of the API and the chaos runner.
type Config struct {
	Port            string
	StoreDriver     string
	DatabaseURL     string
	JWTSecret       string
	TokenTTL        time.Duration
	LoanPeriod      time.Duration
	AuthRatePerMin  int
	AuthRateBurst   int
	OTLPEndpoint    string
	LogLevel        slog.Level
	SeedDemo        bool
	ShutdownTimeout time.Duration

	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Load reads a .env file when present, then the environment.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (*Config, error) {
	var problems []string
	p := parser{problems: &problems}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		StoreDriver:     strings.ToLower(getEnv("STORE_DRIVER", DriverMemory)),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		TokenTTL:        p.duration("TOKEN_TTL", 24*time.Hour),
		LoanPeriod:      p.duration("LOAN_PERIOD", 14*24*time.Hour),
		AuthRatePerMin:  p.integer("AUTH_RATE_PER_MINUTE", 30),
		AuthRateBurst:   p.integer("AUTH_RATE_BURST", 10),
		OTLPEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		LogLevel:        p.level("LOG_LEVEL", slog.LevelInfo),
		SeedDemo:        p.boolean("SEED_DEMO", false),
		ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
		BreakerFailures: uint32(p.integer("BREAKER_CONSECUTIVE_FAILURES", 5)),
		BreakerTimeout:  p.duration("BREAKER_TIMEOUT", 10*time.Second),
	}

	switch cfg.StoreDriver {
	case DriverMemory:
	case DriverPostgres, DriverPGX:
		if cfg.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required for STORE_DRIVER="+cfg.StoreDriver)
		}
	default:
		problems = append(problems, fmt.Sprintf("STORE_DRIVER must be one of memory, postgres, pgx (got %q)", cfg.StoreDriver))
	}
	if cfg.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET is required")
	}
	if cfg.TokenTTL <= 0 {
		problems = append(problems, "TOKEN_TTL must be positive")
	}
	if cfg.LoanPeriod <= 0 {
		problems = append(problems, "LOAN_PERIOD must be positive")
	}
	if cfg.AuthRatePerMin <= 0 || cfg.AuthRateBurst <= 0 {
		problems = append(problems, "AUTH_RATE_PER_MINUTE and AUTH_RATE_BURST must be positive")
	}
	if cfg.BreakerFailures == 0 {
		problems = append(problems, "BREAKER_CONSECUTIVE_FAILURES must be positive")
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// parser collects malformed values instead of failing on the first one.
type parser struct {
	problems *[]string
}

func (p parser) fail(key, value string, err error) {
	*p.problems = append(*p.problems, fmt.Sprintf("%s=%q: %v", key, value, err))
}

func (p parser) duration(key string, def time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return d
}

func (p parser) integer(key string, def int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return n
}

func (p parser) boolean(key string, def bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return b
}

func (p parser) level(key string, def slog.Level) slog.Level {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(raw)); err != nil {
		p.fail(key, raw, err)
		return def
	}
	return l
}
