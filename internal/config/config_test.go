package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Empty variables count as unset.
	for _, key := range []string{KeyPort, KeyDatabaseURL, KeyModerationEnabled, KeyCORSOrigin, KeyUploadRateSeconds, KeyAdminToken} {
		t.Setenv(key, "")
	}

	cfg := Load(New())

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite://skyarchive.db", cfg.DatabaseURL)
	assert.False(t, cfg.ModerationEnabled)
	assert.Equal(t, "*", cfg.CORSOrigin)
	assert.Equal(t, 3*time.Second, cfg.UploadInterval)
	assert.Empty(t, cfg.AdminToken)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv(KeyPort, "9090")
	t.Setenv(KeyModerationEnabled, "true")
	t.Setenv(KeyAdminToken, "s3cret")
	t.Setenv(KeyUploadRateSeconds, "0")

	cfg := Load(New())

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.ModerationEnabled)
	assert.Equal(t, "s3cret", cfg.AdminToken)
	assert.Zero(t, cfg.UploadInterval)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SKYARCHIVE_DOTENV_PROBE=yes\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("SKYARCHIVE_DOTENV_PROBE") })

	assert.True(t, LoadDotEnv(path))
	assert.Equal(t, "yes", os.Getenv("SKYARCHIVE_DOTENV_PROBE"))
	assert.False(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}
