package adapter

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/shaunagostinho/geolocator/internal/geo"
	"github.com/shaunagostinho/geolocator/internal/native"
)

// classify maps a native failure onto the closed error set. It is called
// exactly once per failure, at the point the native call returns.
//
// A native error carrying S_OK means the binding itself is broken, so it
// panics instead of returning.
func classify(log *slog.Logger, op string, err error) error {
	var nerr *native.Error
	if !errors.As(err, &nerr) {
		log.Warn("native call failed", "op", op, "error", err)
		return geo.ErrUnknown
	}
	if nerr.Code == native.S_OK {
		panic(fmt.Sprintf("geolocator: %s reported S_OK as a failure: %v", op, err))
	}
	log.Warn("native call failed", "op", op, "hresult", nerr.Code.String(), "error", err)
	if nerr.Code == native.E_ACCESSDENIED {
		return geo.ErrAccessDenied
	}
	return geo.ErrUnknown
}

// statusError turns a provider status into the error reported on the watch
// status channel. Initializing and Ready are healthy and yield nil.
func statusError(st native.PositionStatus) error {
	switch st {
	case native.StatusInitializing, native.StatusReady:
		return nil
	}
	return geo.ErrUnavailable
}
