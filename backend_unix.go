//go:build linux || darwin || freebsd || openbsd

package geolocator

import (
	"log/slog"

	"github.com/shaunagostinho/geolocator/internal/config"
	"github.com/shaunagostinho/geolocator/internal/native"
	"github.com/shaunagostinho/geolocator/internal/nmea"
)

// The platform source is the serial NMEA receiver named in the config.
func newNativeService(cfg *config.Config, log *slog.Logger) (native.Service, error) {
	return nmea.NewService(nmeaConfig(cfg), log), nil
}

func nativeAccess(cfg *config.Config) native.AccessRequester {
	return nmea.RequestAccess(nmeaConfig(cfg))
}
