package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_DefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "local", cfg.Storage.Driver)
	assert.Equal(t, 2*time.Hour, cfg.Sessions.IdleTTL)
	assert.Contains(t, cfg.Storage.Categories, "slider")
}

func TestLoadFrom_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  port: 9090
database:
  driver: sqlite
  name: cms
sessions:
  idle_ttl: 15m
storage:
  categories: [home, team]
hooks:
  - name: rebuild-site
    url: https://deploy.example.com/build
    kinds: [home_page, location]
    condition: status == "live"
    headers:
      Authorization: "Bearer {{env.DEPLOY_TOKEN}}"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.yaml"), []byte(yaml), 0o644))
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("DATABASE_PATH", "/tmp/cms")

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.Sessions.IdleTTL)
	assert.Equal(t, []string{"home", "team"}, cfg.Storage.Categories)
	assert.Equal(t, "from-env", cfg.JWTSecret)
	assert.Equal(t, "/tmp/cms/cms.db", cfg.Database.DSN())

	require.Len(t, cfg.Hooks, 1)
	assert.Equal(t, "rebuild-site", cfg.Hooks[0].Name)
	assert.Equal(t, []string{"home_page", "location"}, cfg.Hooks[0].Kinds)
	assert.Equal(t, `status == "live"`, cfg.Hooks[0].Condition)
	assert.Len(t, cfg.Hooks[0].Headers, 1)
}

func TestLoadFrom_GCSNeedsBucket(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "gcs")
	_, err := LoadFrom(t.TempDir())
	assert.Error(t, err)

	t.Setenv("STORAGE_BUCKET", "spa-assets")
	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "spa-assets", cfg.Storage.Bucket)
}

func TestDSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", User: "u", Password: "p", Host: "db", Port: 5432, Name: "spa"}
	assert.Equal(t, "postgres://u:p@db:5432/spa?sslmode=disable", pg.DSN())

	mem := DatabaseConfig{Driver: "sqlite", Name: ":memory:"}
	assert.Equal(t, ":memory:", mem.DSN())
}
