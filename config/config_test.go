package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/progress-engine/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	// GIVEN: No config file and only the secret in the environment
	// THEN: The embedded SQLite setup is ready to run

	t.Setenv("PROGRESS_AUTH_JWT_SECRET", "secret")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "progress.db", cfg.Store.DSN)
	assert.Equal(t, 5*time.Second, cfg.Store.Timeout)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "5 0 * * *", cfg.Scheduler.Spec)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	assert.Empty(t, cfg.Auth.AdminUsers)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	// GIVEN: A YAML file choosing postgres and an env override for the port
	// THEN: The file wins over defaults and the environment wins over the file

	path := writeFile(t, "config.yaml", `
server:
  port: 8000
  mode: debug
store:
  driver: postgres
  dsn: host=localhost user=progress dbname=progress sslmode=disable
  timeout: 2s
redis:
  enabled: true
  addr: redis:6379
auth:
  admin_users: [ops-1, ops-2]
`)
	t.Setenv("PROGRESS_SERVER_PORT", "9090")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.Mode)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 2*time.Second, cfg.Store.Timeout)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"ops-1", "ops-2"}, cfg.Auth.AdminUsers)
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  mode: debug
store:
  driver: mysql
`)

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown driver "mysql"`)
}

func TestLoad_ReleaseNeedsSecret(t *testing.T) {
	t.Setenv("PROGRESS_AUTH_JWT_SECRET", "")

	_, err := config.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
