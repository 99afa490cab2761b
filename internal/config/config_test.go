package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/trace-store
transport: http
log:
  format: json
graph:
  closure: parallel
  workers: 4
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/trace-store", cfg.DataDir)
	assert.Equal(t, "http", cfg.Transport)
	assert.Equal(t, "8081", cfg.Port, "unset keys keep their default")
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, Graph{Closure: "parallel", Workers: 4}, cfg.Graph)
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejects(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"transport": func(c *Config) { c.Transport = "grpc" },
		"port":      func(c *Config) { c.Port = "http" },
		"data dir":  func(c *Config) { c.DataDir = "" },
		"level":     func(c *Config) { c.Log.Level = "loud" },
		"closure":   func(c *Config) { c.Graph.Closure = "dominators" },
		"workers":   func(c *Config) { c.Graph.Workers = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "log: [not, a, map]"))
	assert.Error(t, err)
}
