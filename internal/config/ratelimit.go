package config

import (
	"os"
	"strconv"
	"time"
)

// RateLimitConfig throttles booking mutations per requester.  State
// lives in Redis so the limit holds across replicas.
type RateLimitConfig struct {
	Enabled bool
	// Burst is how many mutations a requester may send back to back.
	Burst int
	// Every is how often one more mutation is allowed once the burst is
	// spent.
	Every time.Duration
	// PerOperation gives create, confirm and cancel separate budgets.
	PerOperation bool
	Prefix       string
}

func LoadRateLimitConfig() RateLimitConfig {
	cfg := RateLimitConfig{
		Enabled:      envBool("RATE_LIMIT_ENABLED", true),
		Burst:        envInt("RATE_LIMIT_BURST", 20),
		Every:        envDur("RATE_LIMIT_EVERY", 3*time.Second),
		PerOperation: envBool("RATE_LIMIT_PER_OPERATION", false),
		Prefix:       envStr("RATE_LIMIT_PREFIX", "rl:booking"),
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.Every < time.Millisecond {
		cfg.Every = time.Second
	}
	return cfg
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
