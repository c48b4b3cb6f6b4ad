package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	cfg := Load(path)
	assert.Equal(t, SourceNative, cfg.Source.Type)
	assert.Equal(t, 9600, cfg.Source.BaudRate)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, path, cfg.Path())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeFile(t, `
source:
  type: demo
  high_accuracy: true
demo:
  center_lat: 37.7749
  center_lon: -122.4194
  interval_ms: 250
track:
  enabled: true
log:
  level: debug
  format: json
`)
	cfg := Load(path)
	assert.Equal(t, SourceDemo, cfg.Source.Type)
	assert.True(t, cfg.Source.HighAccuracy)
	assert.Equal(t, "/dev/ttyGPS", cfg.Source.PortPath, "unset fields keep defaults")
	assert.Equal(t, 37.7749, cfg.Demo.CenterLat)
	assert.Equal(t, 500.0, cfg.Demo.Radius)
	assert.Equal(t, 250, cfg.Demo.IntervalMs)
	assert.Equal(t, 250*time.Millisecond, cfg.Demo.Interval())
	assert.True(t, cfg.Track.Enabled)
	assert.Equal(t, 1000, cfg.Track.IntervalMs)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_FallsBackOnBadInput(t *testing.T) {
	tests := map[string]string{
		"malformed":      "source: [",
		"unknown source": "source:\n  type: carrier-pigeon\n",
		"unknown level":  "log:\n  level: loud\n",
		"zero baud":      "source:\n  baud_rate: 0\n",
		"zero interval":  "demo:\n  interval_ms: 0\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Load(writeFile(t, body))
			assert.Equal(t, SourceNative, cfg.Source.Type)
			assert.Equal(t, "info", cfg.Log.Level)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Load(path)
	cfg.Source.Type = SourceNMEA
	cfg.Demo.IntervalMs = 2000
	require.NoError(t, cfg.Save())

	again := Load(path)
	assert.Equal(t, SourceNMEA, again.Source.Type)
	assert.Equal(t, 2*time.Second, again.Demo.Interval())
}

func TestUpdateFromJSON(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.UpdateFromJSON([]byte(`{"source":{"highAccuracy":true},"server":{"listenAddr":":9090"}}`)))
	assert.True(t, cfg.Source.HighAccuracy)
	assert.Equal(t, SourceNative, cfg.Source.Type, "fields absent from the patch are preserved")
	assert.Equal(t, "/dev/ttyGPS", cfg.Source.PortPath)
	assert.Equal(t, ":9090", cfg.Server.ListenAddr)

	assert.Error(t, cfg.UpdateFromJSON([]byte(`{"source":{"type":"sonar"}}`)))
	assert.Equal(t, SourceNative, cfg.Source.Type, "rejected update leaves config untouched")
	assert.Error(t, cfg.UpdateFromJSON([]byte(`{"source":{"baudRate":-1}}`)))
	assert.Equal(t, 9600, cfg.Source.BaudRate)
	assert.Error(t, cfg.UpdateFromJSON([]byte(`not json`)))
}

func TestToJSON(t *testing.T) {
	data, err := DefaultConfig().ToJSON()
	require.NoError(t, err)
	var out map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "native", out["source"]["type"])
	assert.Equal(t, ":8080", out["server"]["listenAddr"])
	assert.Equal(t, 1000.0, out["demo"]["intervalMs"])
}

func TestDemoIntervalMatchesAcrossSurfaces(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.UpdateFromJSON([]byte(`{"demo":{"intervalMs":250}}`)))
	assert.Equal(t, 250*time.Millisecond, cfg.Demo.Interval())

	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "interval_ms: 250")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	log.Info("hidden")
	log.Warn("shown", "k", 1)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"k":1`)
}
