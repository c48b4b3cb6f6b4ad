package nmea

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const knotsToMS = 0.514444

// splitNMEA splits a sentence and strips the checksum suffix.
func splitNMEA(line string) []string {
	if idx := strings.Index(line, "*"); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimPrefix(line, "$")
	return strings.Split(line, ",")
}

// sentenceType returns "RMC" for "GPRMC", "GNRMC", etc.
func sentenceType(parts []string) string {
	if len(parts) == 0 || len(parts[0]) != 5 {
		return ""
	}
	return parts[0][2:]
}

// parseNMEACoord converts NMEA ddmm.mmmm format to decimal degrees.
func parseNMEACoord(raw, dir string) (float64, bool) {
	if raw == "" || dir == "" {
		return 0, false
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	deg := math.Floor(val / 100)
	minutes := val - deg*100
	result := deg + minutes/60

	if dir == "S" || dir == "W" {
		result = -result
	}
	return result, true
}

// validateNMEAChecksum checks the XOR checksum after *.
func validateNMEAChecksum(line string) bool {
	if !strings.HasPrefix(line, "$") {
		return false
	}
	idx := strings.Index(line, "*")
	if idx < 0 || idx+3 > len(line) {
		return false
	}
	expected, err := strconv.ParseUint(line[idx+1:idx+3], 16, 8)
	if err != nil {
		return false
	}
	return byte(expected) == checksum(line[1:idx])
}

func checksum(body string) byte {
	var calc byte
	for i := 0; i < len(body); i++ {
		calc ^= body[i]
	}
	return calc
}

// Sentence frames body (without '$') as a complete NMEA sentence.
func Sentence(body string) string {
	return fmt.Sprintf("$%s*%02X\r\n", body, checksum(body))
}

// optFloat parses an optional numeric field.
func optFloat(field string) *float64 {
	if field == "" {
		return nil
	}
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return nil
	}
	return &v
}

// rmc is the Recommended Minimum sentence.
type rmc struct {
	time     string
	date     string
	valid    bool
	lat, lon float64
	hasPos   bool
	speed    *float64 // m/s
	course   *float64
}

func parseRMC(parts []string) (rmc, bool) {
	// $GPRMC,hhmmss.ss,A,llll.ll,a,yyyyy.yy,a,x.x,x.x,ddmmyy,x.x,a*hh
	if len(parts) < 10 {
		return rmc{}, false
	}
	r := rmc{time: parts[1], date: parts[9], valid: parts[2] == "A"}
	lat, okLat := parseNMEACoord(parts[3], parts[4])
	lon, okLon := parseNMEACoord(parts[5], parts[6])
	r.lat, r.lon, r.hasPos = lat, lon, okLat && okLon
	if kn := optFloat(parts[7]); kn != nil {
		ms := *kn * knotsToMS
		r.speed = &ms
	}
	r.course = optFloat(parts[8])
	return r, true
}

// gga is the fix data sentence.
type gga struct {
	time     string
	quality  int
	sats     int
	hdop     *float64
	altitude *float64
}

func parseGGA(parts []string) (gga, bool) {
	// $GPGGA,hhmmss.ss,llll.ll,a,yyyyy.yy,a,x,xx,x.x,x.x,M,x.x,M,x.x,xxxx*hh
	if len(parts) < 11 {
		return gga{}, false
	}
	g := gga{time: parts[1]}
	if fix, err := strconv.Atoi(parts[6]); err == nil {
		g.quality = fix
	}
	if sats, err := strconv.Atoi(parts[7]); err == nil {
		g.sats = sats
	}
	g.hdop = optFloat(parts[8])
	g.altitude = optFloat(parts[9])
	return g, true
}

// parseGSAVDOP extracts the vertical dilution from a GSA sentence.
func parseGSAVDOP(parts []string) *float64 {
	// $GPGSA,A,3,sv*12,PDOP,HDOP,VDOP[,sysid]*hh
	if len(parts) < 18 {
		return nil
	}
	return optFloat(parts[17])
}

// gst carries pseudorange error statistics in meters.
type gst struct {
	time   string
	latErr *float64
	lonErr *float64
	altErr *float64
}

func parseGST(parts []string) (gst, bool) {
	// $GPGST,hhmmss.ss,rms,smjr,smnr,orient,lat,lon,alt*hh
	if len(parts) < 9 {
		return gst{}, false
	}
	return gst{
		time:   parts[1],
		latErr: optFloat(parts[6]),
		lonErr: optFloat(parts[7]),
		altErr: optFloat(parts[8]),
	}, true
}
