package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks variables a developer shell may carry into the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "DATABASE_URL", "REDIS_URL",
		"PAPER_SERVER_PORT", "PAPER_STORE_DRIVER", "PAPER_STORE_DATABASE_URL",
		"PAPER_REDIS_URL", "PAPER_LOGGER_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, DriverFile, cfg.Store.Driver)
	assert.Equal(t, "data", cfg.Store.DataDir)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "json", cfg.Logger.Format)
	assert.Equal(t, 30*time.Second, cfg.Redis.TTL)
	assert.Equal(t, "10000", cfg.Ledger.Balance().String())
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, dir, "config.yml", `
server:
  port: 9000
store:
  driver: sqlite
  sqlite_path: /var/lib/paper/paper.db
redis:
  url: redis://localhost:6379/0
  ttl: 1m
logger:
  level: debug
  format: text
ledger:
  starting_balance: 2500.50
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "/var/lib/paper/paper.db", cfg.Store.SQLitePath)
	assert.Equal(t, time.Minute, cfg.Redis.TTL)
	assert.Equal(t, "text", cfg.Logger.Format)
	assert.Equal(t, "2500.5", cfg.Ledger.Balance().String())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, dir, "config.yml", "store:\n  driver: sqlite\n")

	t.Setenv("PAPER_STORE_DRIVER", "badger")
	t.Setenv("PORT", "9191")
	t.Setenv("DATABASE_URL", "postgres://localhost/paper")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, DriverBadger, cfg.Store.Driver)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "postgres://localhost/paper", cfg.Store.DatabaseURL)
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, dir, ".env", "PAPER_NARRATIVES_FILE=narratives.yml\n")
	t.Cleanup(func() { os.Unsetenv("PAPER_NARRATIVES_FILE") })

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "narratives.yml", cfg.Narratives.File)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown driver":       "store:\n  driver: mongo\n",
		"postgres without url": "store:\n  driver: postgres\n",
		"bad level":            "logger:\n  level: loud\n",
		"bad balance":          "ledger:\n  starting_balance: -5\n",
		"bad port":             "server:\n  port: 70000\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			dir := t.TempDir()
			writeFile(t, dir, "config.yml", body)

			_, err := Load(dir)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, dir, "config.yml", "server: [unterminated\n")

	_, err := Load(dir)
	assert.Error(t, err)
}
