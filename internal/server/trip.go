package server

import (
	"math"
	"sync"

	"github.com/shaunagostinho/geolocator/internal/geo"
)

const (
	earthRadiusM = 6371000.0
	maxJumpM     = 500 // larger steps between fixes are receiver glitches
	minMoveM     = 2   // smaller steps are jitter
)

// trip accumulates distance travelled between watched fixes.
type trip struct {
	mu      sync.Mutex
	meters  float64
	lastLat float64
	lastLon float64
	hasLast bool
}

// update folds c into the trip and returns the running total.
func (t *trip) update(c geo.Coordinates) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.hasLast {
		// First fix seeds the position.
		t.lastLat, t.lastLon, t.hasLast = c.Latitude, c.Longitude, true
		return t.meters
	}

	dist := haversineM(t.lastLat, t.lastLon, c.Latitude, c.Longitude)
	switch {
	case dist > maxJumpM:
		t.lastLat, t.lastLon = c.Latitude, c.Longitude
	case dist > minMoveM:
		t.meters += dist
		t.lastLat, t.lastLon = c.Latitude, c.Longitude
	}
	return t.meters
}

func (t *trip) total() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.meters
}

// reset zeroes the distance but keeps the last position.
func (t *trip) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.meters = 0
}

// haversineM calculates the great-circle distance between two points.
func haversineM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}
