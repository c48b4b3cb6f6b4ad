package nmea

import (
	"errors"
	"math"
	"time"

	"github.com/shaunagostinho/geolocator/internal/native"
)

// uere is the user equivalent range error used to scale dilution of
// precision into meters when the receiver sends no GST.
const uere = 5.0

var errNoAccuracy = errors.New("nmea: fix has no accuracy estimate")

// epochFix is one assembled RMC+GGA epoch.
type epochFix struct {
	valid bool
	fix   native.Geoposition
	err   error // set when the fix is valid but cannot be reported
}

// assembler groups sentences of the same UTC time into fixes.
type assembler struct {
	epoch string
	rmc   *rmc
	gga   *gga
	gst   *gst // current or previous epoch only
	vdop  *float64
}

// feed consumes one checksummed sentence and returns a fix when an epoch
// has both RMC and GGA.
func (a *assembler) feed(line string) (epochFix, bool) {
	parts := splitNMEA(line)
	switch sentenceType(parts) {
	case "RMC":
		r, ok := parseRMC(parts)
		if !ok {
			return epochFix{}, false
		}
		a.begin(r.time)
		a.rmc = &r
	case "GGA":
		g, ok := parseGGA(parts)
		if !ok {
			return epochFix{}, false
		}
		a.begin(g.time)
		a.gga = &g
	case "GSA":
		if v := parseGSAVDOP(parts); v != nil {
			a.vdop = v
		}
		return epochFix{}, false
	case "GST":
		if s, ok := parseGST(parts); ok {
			a.gst = &s
		}
		return epochFix{}, false
	default:
		return epochFix{}, false
	}

	if a.rmc == nil || a.gga == nil {
		return epochFix{}, false
	}
	out := a.build()
	a.rmc, a.gga = nil, nil
	return out, true
}

// begin starts a new epoch when the sentence time moves on. Receivers that
// send GST after RMC/GGA get it applied one epoch late; older statistics are
// dropped so accuracy falls back to HDOP.
func (a *assembler) begin(t string) {
	if t == a.epoch {
		return
	}
	if a.gst != nil && a.gst.time != a.epoch && a.gst.time != t {
		a.gst = nil
	}
	a.epoch = t
	a.rmc, a.gga = nil, nil
}

func (a *assembler) build() epochFix {
	r, g := a.rmc, a.gga
	if !r.valid || g.quality == 0 || !r.hasPos {
		return epochFix{}
	}

	fix := native.Geoposition{
		Latitude:  r.lat,
		Longitude: r.lon,
		Altitude:  g.altitude,
		Heading:   r.course,
		Speed:     r.speed,
		Timestamp: parseTimestamp(r.date, r.time),
	}

	var err error
	switch {
	case a.gst != nil && a.gst.latErr != nil && a.gst.lonErr != nil:
		fix.Accuracy = math.Hypot(*a.gst.latErr, *a.gst.lonErr)
	case g.hdop != nil:
		fix.Accuracy = *g.hdop * uere
	default:
		err = errNoAccuracy
	}

	switch {
	case g.altitude == nil:
	case a.gst != nil && a.gst.altErr != nil:
		v := *a.gst.altErr
		fix.AltitudeAccuracy = &v
	case a.vdop != nil:
		v := *a.vdop * uere
		fix.AltitudeAccuracy = &v
	}

	return epochFix{valid: true, fix: fix, err: err}
}

// parseTimestamp combines RMC ddmmyy and hhmmss.ss into a UTC time.
func parseTimestamp(date, clock string) time.Time {
	if len(date) != 6 || len(clock) < 6 {
		return time.Time{}
	}
	ts, err := time.Parse("020106150405", date+clock[:6])
	if err != nil {
		return time.Time{}
	}
	if len(clock) > 7 && clock[6] == '.' {
		if frac, err := time.ParseDuration("0." + clock[7:] + "s"); err == nil {
			ts = ts.Add(frac)
		}
	}
	return ts.UTC()
}
