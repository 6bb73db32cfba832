package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string

	LookbackWindow         time.Duration
	DefaultEstimateMinutes int
	NotifyThreshold        int

	SweepThreshold int
	SweepInterval  time.Duration
	SweepBatchSize int
	SweepProvider  string

	RateLimitPerMinute     int
	RateLimitBurst         int
	UserRateLimitPerMinute int
	UserRateLimitBurst     int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:        port,
		DatabaseURL: os.Getenv("DB_DSN"),

		LookbackWindow:         readDurationMinutes("LOOKBACK_WINDOW_MINUTES", 120),
		DefaultEstimateMinutes: readInt("DEFAULT_ESTIMATE_MINUTES", 15),
		NotifyThreshold:        readInt("NOTIFY_THRESHOLD_MINUTES", 15),

		SweepThreshold: readInt("SWEEP_THRESHOLD_MINUTES", 5),
		SweepInterval:  readDurationSeconds("SWEEP_INTERVAL_SECONDS", 30),
		SweepBatchSize: readInt("SWEEP_BATCH_SIZE", 100),
		SweepProvider:  os.Getenv("NOTIFY_PROVIDER"),

		RateLimitPerMinute:     readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:         readInt("RATE_LIMIT_BURST", 30),
		UserRateLimitPerMinute: readInt("USER_RATE_LIMIT_PER_MIN", 600),
		UserRateLimitBurst:     readInt("USER_RATE_LIMIT_BURST", 120),
	}
}

func readDurationMinutes(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Minute
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
