package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, "/mnt/aoi-shared", cfg.Server.SharedRoot)
	assert.Equal(t, "aoi.inspections", cfg.NATS.Subject)
	assert.Equal(t, 2*time.Second, cfg.Client.SettleDelay)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  listen: ":9090"
  workers: 8
detect:
  ocr_url: http://localhost:5000/ocr
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0640))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.Equal(t, 8, cfg.Server.Workers)
	assert.Equal(t, "http://localhost:5000/ocr", cfg.Detect.OCRURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched keys keep their defaults.
	assert.Equal(t, "/var/lib/ts-aoi", cfg.Server.ConfigRoot)
}

func TestLoad_EnvOverlay(t *testing.T) {
	t.Setenv("TS_AOI_SERVER__LISTEN", ":7070")
	t.Setenv("TS_AOI_LINK__URL", "http://link.example/api")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Listen)
	assert.Equal(t, "http://link.example/api", cfg.Link.URL)
}

func TestLoad_InvalidLevel(t *testing.T) {
	t.Setenv("TS_AOI_LOG__LEVEL", "verbose")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
