package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr    string
	DataDir string

	// PriceAPIBaseURL is the bulk price-search and reconciliation backend.
	PriceAPIBaseURL string

	PollInterval  time.Duration
	MaxPolls      int
	GraceDelay    time.Duration
	SyncTimeout   time.Duration
	RemoteTimeout time.Duration

	MaxUploadBytes int64

	LogFile  string
	LogLevel slog.Level
}

func Load() Config {
	return Config{
		Addr:            getenv("STORESHEET_ADDR", ":8080"),
		DataDir:         getenv("STORESHEET_DATA_DIR", "local-data"),
		PriceAPIBaseURL: getenv("STORESHEET_PRICE_API_URL", "http://localhost:8000/api"),
		PollInterval:    getenvDuration("STORESHEET_POLL_INTERVAL", 2*time.Second),
		MaxPolls:        getenvInt("STORESHEET_MAX_POLLS", 300),
		GraceDelay:      getenvDuration("STORESHEET_GRACE_DELAY", 3*time.Second),
		SyncTimeout:     getenvDuration("STORESHEET_SYNC_TIMEOUT", 60*time.Second),
		RemoteTimeout:   getenvDuration("STORESHEET_REMOTE_TIMEOUT", 120*time.Second),
		MaxUploadBytes:  getenvInt64("STORESHEET_MAX_UPLOAD_BYTES", 50<<20),
		LogFile:         getenv("STORESHEET_LOG_FILE", ""),
		LogLevel:        parseLogLevel(getenv("STORESHEET_LOG_LEVEL", "INFO")),
	}
}

func (c Config) Validate() error {
	if c.PriceAPIBaseURL == "" {
		return fmt.Errorf("price API base URL must not be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.MaxPolls <= 0 {
		return fmt.Errorf("max polls must be positive, got %d", c.MaxPolls)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive, got %d", c.MaxUploadBytes)
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getenvInt64(key string, fallback int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return v
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
