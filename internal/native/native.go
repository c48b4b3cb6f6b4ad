// Package native describes the capability contract of an operating-system
// location service: one-shot position queries, event registration identified
// by opaque tokens, an accuracy switch and a static permission request.
//
// Concrete services live in internal/winrt, internal/nmea and internal/demo.
// The adapter in internal/adapter is the only consumer.
package native

import (
	"context"
	"fmt"
	"time"
)

// Service is a native location provider handle.
type Service interface {
	// GetGeoposition blocks until the provider delivers one fix or fails.
	GetGeoposition(ctx context.Context) (Geoposition, error)
	// SetDesiredAccuracy switches the provider's precision mode.
	SetDesiredAccuracy(acc Accuracy) error

	AddPositionChanged(h PositionHandler) (Token, error)
	RemovePositionChanged(t Token) error
	AddStatusChanged(h StatusHandler) (Token, error)
	RemoveStatusChanged(t Token) error
}

// AccessRequester asks the user or OS for location permission. It needs no
// provider handle.
type AccessRequester func(ctx context.Context) (AccessStatus, error)

// Token identifies one event registration. Zero is never issued.
type Token int64

// Geoposition is a fix as reported by the provider.
type Geoposition struct {
	Latitude         float64
	Longitude        float64
	Accuracy         float64
	Altitude         *float64
	AltitudeAccuracy *float64
	Heading          *float64
	Speed            *float64
	Timestamp        time.Time
}

// PositionChangedArgs is the payload of a position event. Position may fail
// for an individual event.
type PositionChangedArgs interface {
	Position() (Geoposition, error)
}

// StatusChangedArgs is the payload of a status event.
type StatusChangedArgs interface {
	Status() (PositionStatus, error)
}

// PositionHandler and StatusHandler run on a goroutine or thread owned by
// the provider.
type (
	PositionHandler func(args PositionChangedArgs)
	StatusHandler   func(args StatusChangedArgs)
)

// PositionStatus mirrors Windows.Devices.Geolocation.PositionStatus.
type PositionStatus int32

const (
	StatusReady PositionStatus = iota
	StatusInitializing
	StatusNoData
	StatusDisabled
	StatusNotInitialized
	StatusNotAvailable
)

var statusNames = [...]string{"ready", "initializing", "no_data", "disabled", "not_initialized", "not_available"}

func (s PositionStatus) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// AccessStatus mirrors GeolocationAccessStatus.
type AccessStatus int32

const (
	AccessUnspecified AccessStatus = iota
	AccessAllowed
	AccessDenied
)

func (a AccessStatus) String() string {
	switch a {
	case AccessUnspecified:
		return "unspecified"
	case AccessAllowed:
		return "allowed"
	case AccessDenied:
		return "denied"
	}
	return fmt.Sprintf("access(%d)", int32(a))
}

// Accuracy mirrors PositionAccuracy.
type Accuracy int32

const (
	AccuracyDefault Accuracy = iota
	AccuracyHigh
)

func (a Accuracy) String() string {
	if a == AccuracyHigh {
		return "high"
	}
	return "default"
}

// Position is a ready-made PositionChangedArgs for services that already
// hold the decoded fix.
type Position struct {
	Fix Geoposition
	Err error
}

func (p Position) Position() (Geoposition, error) { return p.Fix, p.Err }

// Status is a ready-made StatusChangedArgs.
type Status struct {
	Value PositionStatus
	Err   error
}

func (s Status) Status() (PositionStatus, error) { return s.Value, s.Err }
