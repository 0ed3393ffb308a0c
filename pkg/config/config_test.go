package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.APIAddr)
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, PresenceTable, cfg.PresenceStrategy)
	assert.Equal(t, []string{"localhost:19092"}, cfg.KafkaBrokers)
	assert.Equal(t, int64(1), cfg.NodeID)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "scylla")
	t.Setenv("SCYLLA_HOSTS", "a:9042, b:9042,")
	t.Setenv("PRESENCE_STRATEGY", "user")
	t.Setenv("DEV_LOGIN", "true")
	t.Setenv("NODE_ID", "12")
	t.Setenv("SHUTDOWN_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"a:9042", "b:9042"}, cfg.ScyllaHosts)
	assert.Equal(t, PresenceUser, cfg.PresenceStrategy)
	assert.True(t, cfg.DevLogin)
	assert.Equal(t, int64(12), cfg.NodeID)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("unknown presence strategy", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "x")
		t.Setenv("PRESENCE_STRATEGY", "carrier-pigeon")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("bad node id", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "x")
		t.Setenv("NODE_ID", "one")
		_, err := Load()
		assert.Error(t, err)
	})
}
