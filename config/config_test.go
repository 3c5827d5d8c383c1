package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Second, cfg.Interval())
}

func TestLoadMissingDefaultFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Asset, cfg.Asset)
	assert.Equal(t, "simulator", cfg.Source.Kind)
}

func TestLoadExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gentop.yaml")
	body := `
asset: gen-north
interval_sec: 0.5
source:
  kind: lines
  path: /tmp/dump.txt
mqtt:
  enabled: true
  broker: tcp://broker:1883
http:
  enabled: true
  api_keys: [k1, k2]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("GENTOP_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gen-north", cfg.Asset)
	assert.Equal(t, 500*time.Millisecond, cfg.Interval())
	assert.Equal(t, "lines", cfg.Source.Kind)
	assert.Equal(t, "/tmp/dump.txt", cfg.Source.Path)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "gentop/+/frames", cfg.MQTT.FrameTopic)
	assert.Equal(t, []string{"k1", "k2"}, cfg.HTTP.APIKeys)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 300, cfg.HistorySize)
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg := Default()
	cfg.Asset = "gen-saved"
	cfg.Source.Profile = "stress"
	require.NoError(t, Save(cfg, path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gen-saved", got.Asset)
	assert.Equal(t, "stress", got.Source.Profile)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty asset", func(c *Config) { c.Asset = " " }},
		{"zero interval", func(c *Config) { c.IntervalSec = 0 }},
		{"zero history", func(c *Config) { c.HistorySize = 0 }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }},
		{"bad source", func(c *Config) { c.Source.Kind = "serial" }},
		{"mqtt source without bridge", func(c *Config) { c.Source.Kind = "mqtt" }},
		{"http source without server", func(c *Config) { c.Source.Kind = "http" }},
		{"replay without path", func(c *Config) { c.Source.Kind = "replay" }},
		{"negative probability", func(c *Config) { c.Source.Probabilities.Warning = -0.1 }},
		{"qos", func(c *Config) { c.MQTT.QoS = 3 }},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.Broker = "" }},
		{"http without addr", func(c *Config) { c.HTTP.Enabled = true; c.HTTP.Addr = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}
