// Package geolocator reads the device location through the platform's
// location service and reports it as plain coordinates.
//
// A Geolocator answers one-shot queries with CurrentPosition and streams
// fixes with WatchPosition until ClearWatch. Every failure is one of
// ErrAccessDenied, ErrUnavailable or ErrUnknown.
//
// The backend is chosen at build time: Windows.Devices.Geolocation on
// windows/amd64 and windows/arm64, a serial NMEA receiver on Linux, macOS
// and the BSDs. Other targets do not build. A simulated source is available
// everywhere through configuration.
package geolocator

import (
	"context"
	"sync"

	"github.com/shaunagostinho/geolocator/internal/adapter"
	"github.com/shaunagostinho/geolocator/internal/geo"
)

type (
	// Coordinates is a single location fix. Optional fields are nil when
	// the fix did not carry them.
	Coordinates = geo.Coordinates
	// Options controls the accuracy tradeoff of a watch.
	Options = geo.Options
)

var (
	ErrAccessDenied = geo.ErrAccessDenied
	ErrUnavailable  = geo.ErrUnavailable
	ErrUnknown      = geo.ErrUnknown
)

// Float returns a pointer to a copy of v, for building Coordinates.
func Float(v float64) *float64 { return geo.Float(v) }

// Geolocator is a handle on the platform location service. It is safe for
// concurrent use.
type Geolocator struct {
	mu  sync.Mutex
	imp *adapter.Adapter
}

// New creates a handle on the configured location source. Permission is not
// checked; call RequestAccess first. A source that cannot be constructed
// yields ErrUnknown.
func New(opts ...Option) (*Geolocator, error) {
	o := buildOptions(opts)
	svc := o.svc
	if svc == nil {
		var err error
		svc, err = newSource(o)
		if err != nil {
			o.log.Warn("location source unavailable", "source", o.cfg.Source.Type, "error", err)
			return nil, ErrUnknown
		}
	}
	return &Geolocator{imp: adapter.New(svc, o.log)}, nil
}

// RequestAccess asks for location permission for the configured source. It
// succeeds only when access is explicitly allowed; any other answer is
// ErrAccessDenied.
func RequestAccess(ctx context.Context, opts ...Option) error {
	o := buildOptions(opts)
	request := o.access
	if request == nil {
		request = accessFor(o)
	}
	return adapter.RequestAccess(ctx, request, o.log)
}

// CurrentPosition waits for one fix. Cancelling ctx abandons the wait with
// ErrUnknown.
func (g *Geolocator) CurrentPosition(ctx context.Context) (Coordinates, error) {
	return g.imp.CurrentPosition(ctx)
}

// WatchPosition starts delivering fixes to onPosition and degraded provider
// states to onStatus as ErrUnavailable. It returns once both registrations
// are in place. Only one watch can be active at a time.
//
// Callbacks run on the provider's goroutine and must not block. Either may
// be nil.
func (g *Geolocator) WatchPosition(opts *Options, onPosition func(Coordinates), onStatus func(error)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.imp.WatchPosition(opts, onPosition, onStatus)
}

// ClearWatch stops the active watch. No callback runs after it returns.
func (g *Geolocator) ClearWatch() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.imp.StopWatch()
}

// Close stops any active watch and releases the location source.
func (g *Geolocator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.imp.Close()
}
