package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{"SERVER_PORT", "REDIS_URL", "DB_MAX_CONNS", "CONFLICT_MERGE_PREFERENCE", "QUEUE_CLAIM_TIMEOUT"} {
		t.Setenv(key, "")
	}
	t.Setenv("DATABASE_URL", "postgres://localhost/eventsync")

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, int32(10), cfg.DBMaxConns)
	assert.Equal(t, "local", cfg.MergePreference)
	assert.Equal(t, 5*time.Minute, cfg.QueueClaimTimeout)
	assert.Empty(t, cfg.RedisURL)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing database url", map[string]string{"DATABASE_URL": ""}},
		{"bad merge preference", map[string]string{"CONFLICT_MERGE_PREFERENCE": "newest"}},
		{"bad claim timeout", map[string]string{"QUEUE_CLAIM_TIMEOUT": "soon"}},
		{"bad max conns", map[string]string{"DB_MAX_CONNS": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "postgres://localhost/eventsync")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig()

			assert.Error(t, err)
		})
	}
}

func TestLoadClientConfig(t *testing.T) {
	for _, key := range []string{"SYNC_FLUSH_INTERVAL", "SYNC_HTTP_TIMEOUT", "SYNC_SOCKET_MAX_ATTEMPTS"} {
		t.Setenv(key, "")
	}
	t.Setenv("SYNC_SERVER_URL", "http://sync.local:9000")
	t.Setenv("SYNC_MAX_RETRIES", "3")

	cfg, err := LoadClientConfig()

	require.NoError(t, err)
	assert.Equal(t, "http://sync.local:9000", cfg.ServerURL)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.FlushInterval)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)

	t.Setenv("SYNC_SOCKET_MAX_ATTEMPTS", "-1")
	_, err = LoadClientConfig()
	assert.Error(t, err)
}
