package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/v1", cfg.Server.BasePath)
	assert.Equal(t, 11, cfg.Export.FontSize)
	assert.True(t, cfg.Auth.AllowDemoUser)
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("database:\n  driver: pgx\n  dsn: postgres://localhost/gm\nlog:\n  level: debug\n"))
	require.NoError(t, err)
	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "local", cfg.Blob.Backend)
}

func TestValidateRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"driver":    "database:\n  driver: mysql\n",
		"pgx dsn":   "database:\n  driver: pgx\n",
		"blob":      "blob:\n  backend: gcs\n",
		"s3 bucket": "blob:\n  backend: s3\n",
		"font size": "export:\n  font_size: 30\n",
		"log level": "log:\n  level: loud\n",
		"llm key":   "llm:\n  enabled: true\n",
		"demo user": "auth:\n  demo_user_id: \"\"\n",
		"bad yaml":  "server: [",
	} {
		_, err := FromYAML([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "grantmaster.yml"), []byte("server:\n  addr: :9090\n"), 0o644))
	cfg, err = LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, filepath.Join(dir, "grantmaster.yml"), Path(dir))
}
