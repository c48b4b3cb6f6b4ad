//go:build windows && (amd64 || arm64)

package geolocator

import (
	"log/slog"

	"github.com/shaunagostinho/geolocator/internal/config"
	"github.com/shaunagostinho/geolocator/internal/native"
	"github.com/shaunagostinho/geolocator/internal/winrt"
)

func newNativeService(_ *config.Config, log *slog.Logger) (native.Service, error) {
	svc, err := winrt.NewService(log)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

func nativeAccess(_ *config.Config) native.AccessRequester {
	return winrt.RequestAccess
}
