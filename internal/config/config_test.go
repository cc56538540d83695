package config

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	assert.Equal(t, err, nil)

	assert.Equal(t, cfg.ServerPort, "8080")
	assert.Equal(t, cfg.DBName, "docsync")
	assert.Equal(t, cfg.PersistWorkers, 4)
	assert.Equal(t, cfg.SessionIdleTimeout, 5*time.Minute)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("PERSIST_WORKERS", "2")
	t.Setenv("SESSION_IDLE_TIMEOUT", "90s")

	cfg, err := Load()
	assert.Equal(t, err, nil)

	assert.Equal(t, cfg.ServerPort, "9090")
	assert.Equal(t, cfg.PersistWorkers, 2)
	assert.Equal(t, cfg.SessionIdleTimeout, 90*time.Second)
}

func TestLoadRejectsZeroWorkers(t *testing.T) {
	t.Setenv("PERSIST_WORKERS", "0")

	_, err := Load()
	assert.NotEqual(t, err, nil)
}

func TestDatabaseURL(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_NAME", "docs")

	cfg, err := Load()
	assert.Equal(t, err, nil)
	assert.Equal(t, cfg.DatabaseURL(),
		"host=db.internal port=5432 user=postgres password=postgres dbname=docs sslmode=disable")
}
