// Package track records watched positions to CSV files with automatic
// rotation.
package track

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/shaunagostinho/geolocator/internal/geo"
)

// Config holds recorder configuration.
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs"`
}

const (
	defaultPath    = "/var/log/geolocd"
	maxRowsPerFile = 100_000 // ~28 hrs at 1 Hz
)

var csvHeader = []string{
	"timestamp", "latitude", "longitude", "accuracy_m",
	"altitude_m", "altitude_accuracy_m", "heading_deg", "speed_mps",
}

// Recorder writes throttled position rows to CSV.
type Recorder struct {
	mu       sync.Mutex
	dir      string
	interval time.Duration
	enabled  bool
	maxRows  int
	clock    clockwork.Clock
	log      *slog.Logger

	file   *os.File
	writer *csv.Writer
	lastTs time.Time
	rows   int
}

// New creates a Recorder. A nil clock uses the real one.
func New(cfg Config, clock clockwork.Clock, logger *slog.Logger) *Recorder {
	if cfg.Path == "" {
		cfg.Path = defaultPath
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		dir:      cfg.Path,
		interval: interval,
		enabled:  cfg.Enabled,
		maxRows:  maxRowsPerFile,
		clock:    clock,
		log:      logger.With("component", "track"),
	}
}

// SetEnabled allows toggling recording at runtime.
func (r *Recorder) SetEnabled(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = on
	if !on && r.file != nil {
		r.closeFile()
	}
}

// IsEnabled returns whether recording is active.
func (r *Recorder) IsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// Record writes c if the minimum interval has elapsed since the last row.
// It reports whether a row was written.
func (r *Recorder) Record(c geo.Coordinates) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return false
	}

	now := r.clock.Now()
	if !r.lastTs.IsZero() && now.Sub(r.lastTs) < r.interval {
		return false
	}

	if r.writer == nil || r.rows >= r.maxRows {
		if err := r.rotateFile(now); err != nil {
			r.log.Error("rotate failed", "error", err)
			return false
		}
	}

	if err := r.writer.Write(buildRow(now, c)); err != nil {
		r.log.Error("write failed", "error", err)
		return false
	}
	r.writer.Flush()
	r.lastTs = now
	r.rows++
	return true
}

// Close flushes and closes the current file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeFile()
	return nil
}

func (r *Recorder) rotateFile(now time.Time) error {
	r.closeFile()

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("track: mkdir %s: %w", r.dir, err)
	}

	filename := fmt.Sprintf("track_%s.csv", now.UTC().Format("2006-01-02_150405.000"))
	path := filepath.Join(r.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("track: create %s: %w", path, err)
	}

	r.file = f
	r.writer = csv.NewWriter(f)
	r.rows = 0

	if err := r.writer.Write(csvHeader); err != nil {
		return err
	}
	r.writer.Flush()

	r.log.Info("opened track file", "path", path)
	return nil
}

func (r *Recorder) closeFile() {
	if r.writer != nil {
		r.writer.Flush()
		r.writer = nil
	}
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
}

func buildRow(ts time.Time, c geo.Coordinates) []string {
	return []string{
		ts.UTC().Format(time.RFC3339Nano),
		strconv.FormatFloat(c.Latitude, 'f', 7, 64),
		strconv.FormatFloat(c.Longitude, 'f', 7, 64),
		strconv.FormatFloat(c.Accuracy, 'f', 1, 64),
		optional(c.Altitude),
		optional(c.AltitudeAccuracy),
		optional(c.Heading),
		optional(c.Speed),
	}
}

// optional leaves the cell empty for absent values.
func optional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 1, 64)
}
