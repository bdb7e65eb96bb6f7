package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("WORKER_POOL_SIZE", "32")
	t.Setenv("READ_TIMEOUT", "3s")
	t.Setenv("NATS_ENABLED", "false")
	t.Setenv("SERVER_NAME", "chat-7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, 32, cfg.WorkerPoolSize)
	assert.Equal(t, 3*time.Second, cfg.ReadTimeout)
	assert.False(t, cfg.NATSEnabled)
	assert.Equal(t, "chat-7", cfg.ServerName)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
}

func TestLoad_InvalidValuesKeepDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "x")
	t.Setenv("MAX_CONNECTIONS", "-4")
	t.Setenv("WRITE_TIMEOUT", "soon")
	t.Setenv("MIGRATE_ON_START", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	def := Default()
	assert.Equal(t, def.MaxConnections, cfg.MaxConnections)
	assert.Equal(t, def.WriteTimeout, cfg.WriteTimeout)
	assert.Equal(t, def.MigrateOnStart, cfg.MigrateOnStart)
}
