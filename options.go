package geolocator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/shaunagostinho/geolocator/internal/config"
	"github.com/shaunagostinho/geolocator/internal/demo"
	"github.com/shaunagostinho/geolocator/internal/native"
	"github.com/shaunagostinho/geolocator/internal/nmea"
)

// Config is the YAML configuration shared with geolocd.
type Config = config.Config

// Source types accepted in Config.Source.Type.
const (
	SourceNative = config.SourceNative
	SourceNMEA   = config.SourceNMEA
	SourceDemo   = config.SourceDemo
)

// DefaultConfig returns the built-in configuration: the platform source
// at default accuracy.
func DefaultConfig() *Config { return config.DefaultConfig() }

// LoadConfig reads a YAML config file, falling back to defaults.
func LoadConfig(path string) *Config { return config.Load(path) }

// Option customizes New and RequestAccess.
type Option func(*options)

type options struct {
	cfg    *config.Config
	log    *slog.Logger
	clock  clockwork.Clock
	svc    native.Service
	access native.AccessRequester
}

// WithConfig selects the location source described by cfg.
func WithConfig(cfg *Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets the logger for native failures and watch events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithClock drives the simulated source from clock.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

func withService(svc native.Service) Option {
	return func(o *options) { o.svc = svc }
}

func withAccess(request native.AccessRequester) Option {
	return func(o *options) { o.access = request }
}

func buildOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg == nil {
		o.cfg = config.DefaultConfig()
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o
}

// newSource constructs the native service for the configured source type.
func newSource(o *options) (native.Service, error) {
	switch o.cfg.Source.Type {
	case config.SourceDemo:
		return demo.NewService(o.cfg.Demo, o.clock, o.log), nil
	case config.SourceNMEA:
		return nmea.NewService(nmeaConfig(o.cfg), o.log), nil
	case config.SourceNative, "":
		return newNativeService(o.cfg, o.log)
	}
	return nil, fmt.Errorf("geolocator: unknown source type %q", o.cfg.Source.Type)
}

// accessFor returns the permission check of the configured source type.
func accessFor(o *options) native.AccessRequester {
	switch o.cfg.Source.Type {
	case config.SourceDemo:
		return demo.RequestAccess
	case config.SourceNMEA:
		return nmea.RequestAccess(nmeaConfig(o.cfg))
	case config.SourceNative, "":
		return nativeAccess(o.cfg)
	}
	return native.AccessRequester(func(context.Context) (native.AccessStatus, error) {
		return native.AccessUnspecified, nil
	})
}

func nmeaConfig(cfg *config.Config) nmea.Config {
	return nmea.Config{PortPath: cfg.Source.PortPath, BaudRate: cfg.Source.BaudRate}
}
