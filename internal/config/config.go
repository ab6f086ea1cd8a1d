package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerPort        string
	DatabaseURL       string
	DBMaxConns        int32
	RedisURL          string
	LogLevel          string
	MergePreference   string
	QueueClaimTimeout time.Duration
	WriteTimeout      time.Duration
}

func LoadConfig() (*Config, error) {
	claimTimeout, err := time.ParseDuration(getEnv("QUEUE_CLAIM_TIMEOUT", "5m"))
	if err != nil {
		return nil, errors.New("invalid QUEUE_CLAIM_TIMEOUT format")
	}
	writeTimeout, err := time.ParseDuration(getEnv("HTTP_WRITE_TIMEOUT", "15s"))
	if err != nil {
		return nil, errors.New("invalid HTTP_WRITE_TIMEOUT format")
	}

	maxConns, err := strconv.Atoi(getEnv("DB_MAX_CONNS", "10"))
	if err != nil || maxConns < 1 {
		return nil, errors.New("DB_MAX_CONNS must be a positive integer")
	}

	cfg := &Config{
		ServerPort:        getEnv("SERVER_PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		DBMaxConns:        int32(maxConns),
		RedisURL:          os.Getenv("REDIS_URL"), // optional
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		MergePreference:   getEnv("CONFLICT_MERGE_PREFERENCE", "local"),
		QueueClaimTimeout: claimTimeout,
		WriteTimeout:      writeTimeout,
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.MergePreference != "local" && cfg.MergePreference != "server" {
		return nil, fmt.Errorf("CONFLICT_MERGE_PREFERENCE must be local or server, got %q", cfg.MergePreference)
	}

	return cfg, nil
}

// ClientConfig configures the sync client and syncctl.
type ClientConfig struct {
	ServerURL         string
	DataDir           string
	FlushInterval     time.Duration
	ProbeInterval     time.Duration
	HTTPTimeout       time.Duration
	MaxRetries        int
	SocketMaxAttempts int
	SocketBackoff     time.Duration
	SocketBackoffMax  time.Duration
}

func LoadClientConfig() (*ClientConfig, error) {
	cfg := &ClientConfig{
		ServerURL: getEnv("SYNC_SERVER_URL", "http://localhost:8080"),
		DataDir:   getEnv("SYNC_DATA_DIR", ".eventsync"),
	}

	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"SYNC_FLUSH_INTERVAL", "30s", &cfg.FlushInterval},
		{"SYNC_PROBE_INTERVAL", "5s", &cfg.ProbeInterval},
		{"SYNC_HTTP_TIMEOUT", "10s", &cfg.HTTPTimeout},
		{"SYNC_SOCKET_BACKOFF", "1s", &cfg.SocketBackoff},
		{"SYNC_SOCKET_BACKOFF_MAX", "30s", &cfg.SocketBackoffMax},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getEnv(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s format", d.key)
		}
		*d.dest = v
	}

	ints := []struct {
		key  string
		def  string
		dest *int
	}{
		{"SYNC_MAX_RETRIES", "5", &cfg.MaxRetries},
		{"SYNC_SOCKET_MAX_ATTEMPTS", "5", &cfg.SocketMaxAttempts},
	}
	for _, i := range ints {
		v, err := strconv.Atoi(getEnv(i.key, i.def))
		if err != nil || v < 1 {
			return nil, fmt.Errorf("%s must be a positive integer", i.key)
		}
		*i.dest = v
	}

	return cfg, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
