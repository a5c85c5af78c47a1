package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// chdir moves into dir for the duration of the test so no stray
// config.yaml is picked up.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoadConfigDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, 3000, cfg.Server.Port)
	require.Equal(t, "data.db", cfg.Database.Path)
	require.Equal(t, 900*time.Second, cfg.OTP.TTL)
	require.Equal(t, 72*time.Hour, cfg.Auth.TokenTTL)
	require.Equal(t, "http://localhost:5000/predict", cfg.Footprint.URL)
	require.Empty(t, cfg.Server.AllowedOrigins)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  port: 8081
  allowed_origins:
    - http://localhost:5173
database:
  path: /tmp/reware.db
otp:
  ttl: 5m
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("REWARE_AUTH_JWT_SECRET", "from-env")
	t.Setenv("REWARE_EXCHANGE_SIGNUP_POINTS", "100")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 8081, cfg.Server.Port)
	require.Equal(t, []string{"http://localhost:5173"}, cfg.Server.AllowedOrigins)
	require.Equal(t, "/tmp/reware.db", cfg.Database.Path)
	require.Equal(t, 5*time.Minute, cfg.OTP.TTL)
	require.Equal(t, "from-env", cfg.Auth.JWTSecret)
	require.Equal(t, 100, cfg.Exchange.SignupPoints)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	chdir(t, t.TempDir())

	t.Setenv("REWARE_SERVER_PORT", "70000")
	_, err := LoadConfig("")
	require.ErrorContains(t, err, "out of range")

	t.Setenv("REWARE_SERVER_PORT", "3000")
	t.Setenv("REWARE_EXCHANGE_SIGNUP_POINTS", "-5")
	_, err = LoadConfig("")
	require.ErrorContains(t, err, "signup_points")
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestSplitOrigins(t *testing.T) {
	got := splitOrigins([]string{"http://a.test, http://b.test", "", " http://c.test "})
	require.Equal(t, []string{"http://a.test", "http://b.test", "http://c.test"}, got)
}

func TestInsecureSecret(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.True(t, cfg.Auth.InsecureSecret())

	require.True(t, AuthConfig{JWTSecret: "  "}.InsecureSecret())
	require.False(t, AuthConfig{JWTSecret: "a-real-secret"}.InsecureSecret())
}
