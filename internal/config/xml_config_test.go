package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range append([]string{"PORT", "DATA_DIR", "LABEL_CATALOG"}, backendURLEnv...) {
		t.Setenv(name, "")
	}
}

func TestLoadConfig_CreatesDefault(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "intake.config")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	assert.NoError(t, err, "default config should be written")
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.GetDataDir())
	assert.Equal(t, 30*time.Minute, cfg.SessionTimeout())
	assert.Equal(t, 30*time.Second, cfg.BackendTimeout())
	assert.Empty(t, cfg.Backend.URL)
}

func TestLoadConfig_ReadsFileAndKeepsDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "intake.config")
	xmlDoc := `<?xml version="1.0" encoding="UTF-8"?>
<IncapacidadIntake>
  <Server><Port>9000</Port><BindAddress>127.0.0.1</BindAddress></Server>
  <Backend><URL>https://hr.example.co/api/</URL></Backend>
  <Advanced><LabelCatalogPath>labels.yaml</LabelCatalogPath></Advanced>
</IncapacidadIntake>`
	require.NoError(t, os.WriteFile(path, []byte(xmlDoc), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.GetServerAddr())
	assert.Equal(t, "https://hr.example.co/api", cfg.Backend.URL)
	assert.Equal(t, filepath.Join(dir, "labels.yaml"), cfg.Advanced.LabelCatalogPath)
	assert.Equal(t, 200, cfg.Processing.MaxSessions, "unset elements keep defaults")
	assert.Equal(t, 30, cfg.Backend.TimeoutSeconds)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "elsewhere")
	t.Setenv("PORT", "7001")
	t.Setenv("DATA_DIR", dataDir)
	t.Setenv("VITE_BACKEND_URL", "http://vite:8000")
	t.Setenv("REACT_APP_BACKEND_URL", "http://react:8000/")

	cfg, err := LoadConfig(filepath.Join(dir, "intake.config"))
	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.Server.Port)
	assert.Equal(t, dataDir, cfg.GetDataDir())
	assert.Equal(t, "http://react:8000", cfg.Backend.URL, "earlier variables win")

	require.NoError(t, cfg.EnsureDirectories())
	_, err = os.Stat(dataDir)
	assert.NoError(t, err)
}

func TestLoadConfig_Malformed(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "intake.config")
	require.NoError(t, os.WriteFile(path, []byte("<IncapacidadIntake><Server>"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestCleanupInterval(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5*time.Minute, cfg.CleanupInterval())
	cfg.Processing.CleanupIntervalMinutes = 0
	assert.Equal(t, time.Minute, cfg.CleanupInterval())
}
