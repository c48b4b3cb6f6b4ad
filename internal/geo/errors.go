package geo

import "errors"

// The closed set of failures surfaced to callers. None of them carries
// native diagnostics; compare with errors.Is.
var (
	// ErrAccessDenied means location permission was not granted.
	ErrAccessDenied = errors.New("geolocator: access denied")
	// ErrUnavailable means the provider cannot currently produce fixes.
	ErrUnavailable = errors.New("geolocator: position unavailable")
	// ErrUnknown covers every other native failure.
	ErrUnknown = errors.New("geolocator: unknown error")
)

// Kind returns the name of a taxonomy error, or "" for anything else.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrUnknown):
		return "unknown"
	}
	return ""
}
