// Package config loads and saves the geolocd YAML configuration.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/geolocator/internal/demo"
	"github.com/shaunagostinho/geolocator/internal/track"
)

// Source types.
const (
	SourceNative = "native" // platform location service
	SourceNMEA   = "nmea"   // serial NMEA receiver
	SourceDemo   = "demo"   // simulated route
)

const defaultPath = "/etc/geolocd/config.yaml"

// Config holds all daemon configuration.
type Config struct {
	mu sync.RWMutex

	Source SourceConfig `yaml:"source" json:"source"`
	Demo   demo.Config  `yaml:"demo" json:"demo"`
	Server ServerConfig `yaml:"server" json:"server"`
	Track  track.Config `yaml:"track" json:"track"`
	Log    LogConfig    `yaml:"log" json:"log"`

	path string // file path for save/load
}

type SourceConfig struct {
	Type         string `yaml:"type" json:"type"`          // "native", "nmea" or "demo"
	PortPath     string `yaml:"port_path" json:"portPath"` // e.g. /dev/ttyGPS
	BaudRate     int    `yaml:"baud_rate" json:"baudRate"`
	HighAccuracy bool   `yaml:"high_accuracy" json:"highAccuracy"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // "text" or "json"
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			Type:     SourceNative,
			PortPath: "/dev/ttyGPS",
			BaudRate: 9600,
		},
		Demo: demo.DefaultConfig(),
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
		Track: track.Config{
			Enabled:    false,
			Path:       "/var/log/geolocd",
			IntervalMs: 1000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads config from a YAML file. Falls back to defaults if the file
// is missing or does not parse.
func Load(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Info("no config file, using defaults", "path", path)
		return cfg
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("config parse failed, using defaults", "path", path, "error", err)
		cfg = DefaultConfig()
		cfg.path = path
		return cfg
	}
	if err := cfg.Validate(); err != nil {
		slog.Warn("invalid config, using defaults", "path", path, "error", err)
		cfg = DefaultConfig()
		cfg.path = path
		return cfg
	}
	slog.Info("config loaded", "path", path)
	return cfg
}

// Validate checks enumerated and numeric fields.
func (c *Config) Validate() error {
	switch c.Source.Type {
	case SourceNative, SourceNMEA, SourceDemo:
	default:
		return fmt.Errorf("config: unknown source type %q", c.Source.Type)
	}
	if c.Source.BaudRate <= 0 {
		return fmt.Errorf("config: invalid baud rate %d", c.Source.BaudRate)
	}
	if c.Demo.IntervalMs <= 0 {
		return fmt.Errorf("config: demo interval must be positive, got %dms", c.Demo.IntervalMs)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" {
		c.path = defaultPath
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved. The update is rejected if the result does
// not validate.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	next := &Config{path: c.path}
	if err := json.Unmarshal(merged, next); err != nil {
		return fmt.Errorf("unmarshal merged config: %w", err)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	c.Source, c.Demo, c.Server, c.Track, c.Log = next.Source, next.Demo, next.Server, next.Track, next.Log
	return nil
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("config: unknown log level %q", s)
	}
	return level, nil
}
