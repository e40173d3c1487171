package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDSN(t *testing.T) {
	cfg := Config{
		Host:     "db.internal",
		Port:     5433,
		User:     "lens",
		Password: "secret",
		Database: "agentlens",
		SSLMode:  "require",
	}
	assert.Equal(t,
		"host=db.internal port=5433 user=lens password=secret dbname=agentlens sslmode=require",
		cfg.DSN())
}

func TestLoadConfigFromEnv(t *testing.T) {
	envKeys := []string{"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE", "DB_MAX_CONNS", "DB_MIN_CONNS"}

	t.Run("defaults", func(t *testing.T) {
		for _, k := range envKeys {
			t.Setenv(k, "")
		}
		cfg, err := LoadConfigFromEnv()
		require.NoError(t, err)
		assert.Equal(t, "localhost", cfg.Host)
		assert.Equal(t, 5432, cfg.Port)
		assert.Equal(t, "agentlens", cfg.User)
		assert.Equal(t, "agentlens", cfg.Database)
		assert.Equal(t, "disable", cfg.SSLMode)
		assert.Equal(t, int32(10), cfg.MaxConns)
		assert.Equal(t, int32(2), cfg.MinConns)
		assert.Equal(t, 30*time.Minute, cfg.ConnMaxLifetime)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("DB_HOST", "db.example.com")
		t.Setenv("DB_PORT", "5433")
		t.Setenv("DB_USER", "admin")
		t.Setenv("DB_PASSWORD", "secret")
		t.Setenv("DB_NAME", "production")
		t.Setenv("DB_SSLMODE", "require")
		t.Setenv("DB_MAX_CONNS", "50")

		cfg, err := LoadConfigFromEnv()
		require.NoError(t, err)
		assert.Equal(t, "db.example.com", cfg.Host)
		assert.Equal(t, 5433, cfg.Port)
		assert.Equal(t, "admin", cfg.User)
		assert.Equal(t, "secret", cfg.Password)
		assert.Equal(t, "production", cfg.Database)
		assert.Equal(t, "require", cfg.SSLMode)
		assert.Equal(t, int32(50), cfg.MaxConns)
	})

	t.Run("invalid port", func(t *testing.T) {
		t.Setenv("DB_PORT", "not-a-port")
		_, err := LoadConfigFromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid DB_PORT")
	})
}
