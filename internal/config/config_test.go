package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "annoscope.db", cfg.SQLitePath())
	assert.Equal(t, 15*time.Second, cfg.Client.Timeout)
	assert.Equal(t, "wadouri", cfg.Viewer.Scheme)
	assert.Equal(t, "default", cfg.Viewer.ToolGroup)
	assert.Equal(t, []string{"ArrowAnnotate"}, cfg.Viewer.PersistableTools)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel())
	assert.False(t, cfg.MinioEnabled())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
  shutdownTimeout: 3s
database:
  driver: postgres
  host: db
  port: 5432
  user: anno
  password: "p@ss"
  name: records
client:
  baseURL: http://pacs.local/dicom
  timeout: 5s
log:
  format: json
  level: debug
auth:
  apiKeys:
    viewer: k1
minio:
  endpoint: minio:9000
  bucketName: bundles
`), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("DB_PASSWORD", "")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "postgres://anno:p%40ss@db:5432/records?sslmode=disable", cfg.PostgresDSN())
	assert.Equal(t, 5*time.Second, cfg.Client.Timeout)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())
	assert.Equal(t, map[string]string{"viewer": "k1"}, cfg.Auth.APIKeys)
	assert.True(t, cfg.MinioEnabled())
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv("DB_PASSWORD", "from-env")
	t.Setenv("ANNOSCOPE_TOKEN", "tok")
	cfg, err := Parse([]byte("database:\n  driver: mysql\n  host: h\n  port: 3306\n  user: u\n  name: n\n  password: file\n"))
	require.NoError(t, err)
	assert.Equal(t, "u:from-env@tcp(h:3306)/n?parseTime=true&charset=utf8mb4&loc=UTC", cfg.MySQLDSN())
	assert.Equal(t, "tok", cfg.Client.Token)
}

func TestValidate(t *testing.T) {
	_, err := Parse([]byte("database:\n  driver: oracle\n"))
	assert.ErrorContains(t, err, "oracle")

	_, err = Parse([]byte("log:\n  format: xml\n"))
	assert.ErrorContains(t, err, "xml")

	_, err = Parse([]byte(": bad"))
	assert.Error(t, err)
}
