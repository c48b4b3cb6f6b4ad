// Package geo holds the platform-neutral location model shared by the adapter,
// the façade and the outer surfaces.
package geo

// Coordinates is a single location fix.
//
// Optional measurements are nil when the fix did not carry them. A nil field
// and a zero field mean different things.
type Coordinates struct {
	Latitude         float64  `json:"latitude"`                   // Decimal degrees
	Longitude        float64  `json:"longitude"`                  // Decimal degrees
	Altitude         *float64 `json:"altitude,omitempty"`         // Meters
	Accuracy         float64  `json:"accuracy"`                   // Horizontal uncertainty, meters
	AltitudeAccuracy *float64 `json:"altitudeAccuracy,omitempty"` // Meters
	Heading          *float64 `json:"heading,omitempty"`          // Degrees from true north
	Speed            *float64 `json:"speed,omitempty"`            // m/s
}

// Options controls the accuracy tradeoff of a watch.
type Options struct {
	// HighAccuracy asks the provider for its most precise mode at the cost of
	// power and latency. False lets the provider pick.
	HighAccuracy bool `yaml:"high_accuracy" json:"highAccuracy"`
}

// Float returns a pointer to a copy of v.
func Float(v float64) *float64 { return &v }
