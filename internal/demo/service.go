// Package demo provides a simulated location service that drives in a
// circle around a configured centre. It needs no hardware and no OS
// permission.
package demo

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/shaunagostinho/geolocator/internal/native"
)

const (
	metersPerDegree = 111320.0
	stepsPerLap     = 60

	defaultAccuracy = 15.0 // meters
	highAccuracy    = 3.0
)

// Config describes the simulated route.
type Config struct {
	CenterLat  float64 `yaml:"center_lat" json:"centerLat"`
	CenterLon  float64 `yaml:"center_lon" json:"centerLon"`
	Radius     float64 `yaml:"radius" json:"radius"` // meters
	Altitude   float64 `yaml:"altitude" json:"altitude"`
	IntervalMs int     `yaml:"interval_ms" json:"intervalMs"`
}

// Interval is the time between simulated fixes.
func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// DefaultConfig circles downtown Toronto once a minute.
func DefaultConfig() Config {
	return Config{
		CenterLat:  43.6532,
		CenterLon:  -79.3832,
		Radius:     500,
		Altitude:   76,
		IntervalMs: 1000,
	}
}

// Service is a native.Service emitting one fix per interval once a
// position handler is registered.
type Service struct {
	cfg   Config
	clock clockwork.Clock
	log   *slog.Logger

	mu        sync.Mutex
	step      int
	accuracy  native.Accuracy
	status    native.PositionStatus
	next      native.Token
	positions map[native.Token]native.PositionHandler
	statuses  map[native.Token]native.StatusHandler
	stop      context.CancelFunc
	done      chan struct{}
}

var _ native.Service = (*Service)(nil)

// NewService creates a simulated service. A nil clock uses the real one.
func NewService(cfg Config, clock clockwork.Clock, logger *slog.Logger) *Service {
	def := DefaultConfig()
	if cfg.IntervalMs <= 0 {
		cfg.IntervalMs = def.IntervalMs
	}
	if cfg.Radius <= 0 {
		cfg.Radius = def.Radius
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:       cfg,
		clock:     clock,
		log:       logger.With("component", "demo"),
		status:    native.StatusNotInitialized,
		positions: make(map[native.Token]native.PositionHandler),
		statuses:  make(map[native.Token]native.StatusHandler),
	}
}

// RequestAccess always grants access.
func RequestAccess(ctx context.Context) (native.AccessStatus, error) {
	if err := ctx.Err(); err != nil {
		return native.AccessUnspecified, err
	}
	return native.AccessAllowed, nil
}

// GetGeoposition returns the simulated position at the current step.
func (s *Service) GetGeoposition(ctx context.Context) (native.Geoposition, error) {
	if err := ctx.Err(); err != nil {
		return native.Geoposition{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fixLocked(), nil
}

func (s *Service) SetDesiredAccuracy(acc native.Accuracy) error {
	s.mu.Lock()
	s.accuracy = acc
	s.mu.Unlock()
	s.log.Info("accuracy mode set", "accuracy", acc.String())
	return nil
}

func (s *Service) AddPositionChanged(h native.PositionHandler) (native.Token, error) {
	s.mu.Lock()
	s.next++
	t := s.next
	s.positions[t] = h
	notify := s.startLocked()
	s.mu.Unlock()
	notify()
	return t, nil
}

func (s *Service) RemovePositionChanged(t native.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[t]; !ok {
		return native.Fail("RemovePositionChanged", native.E_INVALIDARG, fmt.Errorf("unknown token %d", t))
	}
	delete(s.positions, t)
	return nil
}

func (s *Service) AddStatusChanged(h native.StatusHandler) (native.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.statuses[s.next] = h
	return s.next, nil
}

func (s *Service) RemoveStatusChanged(t native.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.statuses[t]; !ok {
		return native.Fail("RemoveStatusChanged", native.E_INVALIDARG, fmt.Errorf("unknown token %d", t))
	}
	delete(s.statuses, t)
	return nil
}

// Close stops the ticker and waits for the emitter to exit.
func (s *Service) Close() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop != nil {
		stop()
		<-done
	}
	return nil
}

// startLocked launches the emitter if it is not running yet.
func (s *Service) startLocked() func() {
	if s.stop != nil {
		return func() {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
	s.log.Info("simulation started", "interval", s.cfg.Interval(), "radius", s.cfg.Radius)
	return s.setStatusLocked(native.StatusInitializing)
}

func (s *Service) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := s.clock.NewTicker(s.cfg.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.tick()
		}
	}
}

func (s *Service) tick() {
	s.mu.Lock()
	s.step++
	fix := s.fixLocked()
	notify := s.setStatusLocked(native.StatusReady)
	handlers := make([]native.PositionHandler, 0, len(s.positions))
	for _, h := range s.positions {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	notify()
	args := native.Position{Fix: fix}
	for _, h := range handlers {
		h(args)
	}
}

// fixLocked places the vehicle on the circle at the current step, moving
// clockwise as seen from above.
func (s *Service) fixLocked() native.Geoposition {
	theta := 2 * math.Pi * float64(s.step%stepsPerLap) / stepsPerLap
	north := s.cfg.Radius * math.Cos(theta)
	east := s.cfg.Radius * math.Sin(theta)

	acc := defaultAccuracy
	if s.accuracy == native.AccuracyHigh {
		acc = highAccuracy
	}
	speed := 2 * math.Pi * s.cfg.Radius / stepsPerLap / s.cfg.Interval().Seconds()
	heading := math.Mod(theta*180/math.Pi+90, 360)
	alt := s.cfg.Altitude
	altAcc := acc * 1.5

	return native.Geoposition{
		Latitude:         s.cfg.CenterLat + north/metersPerDegree,
		Longitude:        s.cfg.CenterLon + east/(metersPerDegree*math.Cos(s.cfg.CenterLat*math.Pi/180)),
		Accuracy:         acc,
		Altitude:         &alt,
		AltitudeAccuracy: &altAcc,
		Heading:          &heading,
		Speed:            &speed,
		Timestamp:        s.clock.Now().UTC(),
	}
}

func (s *Service) setStatusLocked(st native.PositionStatus) func() {
	if s.status == st {
		return func() {}
	}
	s.status = st
	handlers := make([]native.StatusHandler, 0, len(s.statuses))
	for _, h := range s.statuses {
		handlers = append(handlers, h)
	}
	return func() {
		args := native.Status{Value: st}
		for _, h := range handlers {
			h(args)
		}
	}
}
