package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	DatabaseURL string
	Port        string

	ProbeInterface     string
	ProbeTimeout       time.Duration
	ProbeFailurePolicy string

	FirstFreeAttempts int
	SpecificAttempts  int
	StaleDays         int

	Debug   bool
	LogFile string
}

const (
	PolicyOpen   = "open"
	PolicyClosed = "closed"
)

// Load reads a .env file if present, then environment variables, falling
// back to defaults for everything except DATABASE_URL.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		Port:               getEnv("PORT", "8080"),
		ProbeInterface:     getEnv("IPAM_PROBE_IFACE", "eth0"),
		ProbeFailurePolicy: getEnv("IPAM_PROBE_FAILURE_POLICY", PolicyOpen),
		Debug:              getEnv("IPAM_LOG_LEVEL", "info") == "debug",
		LogFile:            os.Getenv("IPAM_LOG_FILE"),
	}

	secs, err := strconv.ParseFloat(getEnv("IPAM_PROBE_TIMEOUT", "1.0"), 64)
	if err != nil || secs <= 0 {
		return Config{}, fmt.Errorf("IPAM_PROBE_TIMEOUT must be a positive number of seconds")
	}
	cfg.ProbeTimeout = time.Duration(secs * float64(time.Second))

	if cfg.FirstFreeAttempts, err = getPositiveInt("IPAM_FIRST_FREE_ATTEMPTS", 5); err != nil {
		return Config{}, err
	}
	if cfg.SpecificAttempts, err = getPositiveInt("IPAM_SPECIFIC_ATTEMPTS", 3); err != nil {
		return Config{}, err
	}
	if cfg.StaleDays, err = getPositiveInt("IPAM_STALE_DAYS", 30); err != nil {
		return Config{}, err
	}

	if cfg.ProbeFailurePolicy != PolicyOpen && cfg.ProbeFailurePolicy != PolicyClosed {
		return Config{}, fmt.Errorf("IPAM_PROBE_FAILURE_POLICY must be %q or %q", PolicyOpen, PolicyClosed)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func getPositiveInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return n, nil
}
