package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.True(t, cfg.Development())
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, ":8090", cfg.SocketListenAddr)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, "devsync.db", cfg.DBPath)
	assert.Equal(t, "devsync-revocations.db", cfg.RevocationStoreDSN)
	assert.False(t, cfg.MemoryRevocationStore())
	assert.Equal(t, "npm install", cfg.SandboxInstallCmd)
	assert.Equal(t, "npm run dev", cfg.SandboxStartCmd)
	assert.Equal(t, 2*time.Minute, cfg.SandboxReadyTimeout)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("TOKEN_TTL", "1h")
	t.Setenv("REVOCATION_STORE_DSN", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.Development())
	assert.Equal(t, 9000, cfg.HTTPPort)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.True(t, cfg.MemoryRevocationStore())
}

func TestValidate(t *testing.T) {
	t.Run("negative token ttl", func(t *testing.T) {
		cfg := &Config{TokenTTL: -time.Hour, SandboxInstallCmd: "x", SandboxStartCmd: "y"}
		assert.Error(t, cfg.Validate())
	})

	t.Run("revocation ttl bounds inverted", func(t *testing.T) {
		cfg := &Config{
			TokenTTL:          time.Hour,
			RevocationMinTTL:  time.Hour,
			RevocationMaxTTL:  time.Minute,
			SandboxInstallCmd: "x",
			SandboxStartCmd:   "y",
		}
		assert.Error(t, cfg.Validate())
	})

	t.Run("empty sandbox commands", func(t *testing.T) {
		cfg := &Config{TokenTTL: time.Hour}
		assert.Error(t, cfg.Validate())
	})
}

func TestCORSOriginList(t *testing.T) {
	cfg := &Config{CORSOrigins: "http://localhost:5173, https://app.example.com ,"}
	assert.Equal(t, []string{"http://localhost:5173", "https://app.example.com"}, cfg.CORSOriginList())

	cfg = &Config{}
	assert.Nil(t, cfg.CORSOriginList())
}
