// Package config loads runtime configuration from environment
// variables, applying defaults and validating values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/metaldesk/hedge-engine/internal/pricing"
)

// Config holds all runtime configuration for the hedge engine.
type Config struct {
	Port            int
	DatabaseURL     string // empty → in-memory store
	RedisURL        string // empty → no cache layer
	CacheTTL        time.Duration
	PricingPolicy   pricing.Policy
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applies
// defaults, and validates values. It returns an error for any invalid
// value.
func Load() (*Config, error) {
	port, err := getInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	policy := pricing.Policy(getStr("PRICING_POLICY", string(pricing.PolicyLenient)))
	if policy != pricing.PolicyLenient && policy != pricing.PolicyStrict {
		return nil, fmt.Errorf("invalid PRICING_POLICY: %q, must be %q or %q",
			policy, pricing.PolicyLenient, pricing.PolicyStrict)
	}

	cacheTTL, err := getDuration("CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}

	readTimeout, err := getDuration("READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}

	writeTimeout, err := getDuration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}

	idleTimeout, err := getDuration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}

	requestTimeout, err := getDuration("REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	return &Config{
		Port:            port,
		DatabaseURL:     getStr("DATABASE_URL", ""),
		RedisURL:        getStr("REDIS_URL", ""),
		CacheTTL:        cacheTTL,
		PricingPolicy:   policy,
		ReadTimeout:     readTimeout,
		WriteTimeout:    writeTimeout,
		IdleTimeout:     idleTimeout,
		RequestTimeout:  requestTimeout,
		ShutdownTimeout: shutdownTimeout,
	}, nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}
