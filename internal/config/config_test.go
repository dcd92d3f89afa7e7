package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Greater(t, cfg.Routing.SimpleMaxChars, 0)
	assert.NotEmpty(t, cfg.Routing.SimpleVerbs)
	assert.NotEmpty(t, cfg.Routing.WorkflowKeywords)
	assert.Contains(t, cfg.LLM.Providers, cfg.LLM.DefaultProvider)
}

func TestLoadFromPathCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.FileExists(t, path)
	assert.Equal(t, Default().Routing.ChainThreshold, cfg.Routing.ChainThreshold)
}

func TestLoadFromPathRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.Routing.SimpleMaxChars = 42
	cfg.Persona.DefaultMode = "analyst"
	require.NoError(t, cfg.SaveToPath(path))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.Routing.SimpleMaxChars)
	assert.Equal(t, "analyst", loaded.Persona.DefaultMode)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero simple max chars", func(c *Config) { c.Routing.SimpleMaxChars = 0 }},
		{"chain threshold out of range", func(c *Config) { c.Routing.ChainThreshold = 1.5 }},
		{"zero history turns", func(c *Config) { c.Persona.HistoryTurns = 0 }},
		{"empty default provider", func(c *Config) { c.LLM.DefaultProvider = "" }},
		{"unknown default provider", func(c *Config) { c.LLM.DefaultProvider = "nope" }},
		{"unknown fallback provider", func(c *Config) {
			c.LLM.Fallback["parsing"] = []string{"ghost"}
		}},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"zero dispatch timeout", func(c *Config) { c.Dispatch.Timeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
