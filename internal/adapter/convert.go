package adapter

import (
	"github.com/shaunagostinho/geolocator/internal/geo"
	"github.com/shaunagostinho/geolocator/internal/native"
)

// toCoordinates copies a native fix field by field. Values are not
// range-checked; the provider is trusted.
func toCoordinates(p native.Geoposition) geo.Coordinates {
	return geo.Coordinates{
		Latitude:         p.Latitude,
		Longitude:        p.Longitude,
		Altitude:         clone(p.Altitude),
		Accuracy:         p.Accuracy,
		AltitudeAccuracy: clone(p.AltitudeAccuracy),
		Heading:          clone(p.Heading),
		Speed:            clone(p.Speed),
	}
}

// clone keeps Coordinates from aliasing provider-owned memory.
func clone(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return geo.Float(*v)
}
