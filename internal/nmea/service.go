// Package nmea implements a native location service on top of an NMEA 0183
// receiver attached to a serial port. Compatible with u-blox NEO-M8N,
// MediaTek and any receiver emitting standard RMC/GGA sentences.
package nmea

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.bug.st/serial"

	"github.com/shaunagostinho/geolocator/internal/native"
)

// Config holds configuration for the NMEA receiver.
type Config struct {
	PortPath string `yaml:"port_path" json:"portPath"`
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
}

// Reopen backoff after a read failure.
const (
	reconnectDelay    = time.Second
	maxReconnectDelay = 60 * time.Second
)

// opener opens the receiver's port.
type opener func(path string, baud int) (io.ReadWriteCloser, error)

// Service is a native.Service backed by a serial NMEA stream. The port is
// opened on first use and stays open until Close. A single reader goroutine
// parses sentences and delivers events in order. When the port fails while
// position handlers are registered, the service reopens it with backoff.
type Service struct {
	cfg   Config
	log   *slog.Logger
	open  opener
	clock clockwork.Clock
	done  chan struct{}

	mu           sync.Mutex
	closed       bool
	reconnecting bool
	port         io.ReadWriteCloser
	status    native.PositionStatus
	accuracy  native.Accuracy
	next      native.Token
	positions map[native.Token]native.PositionHandler
	statuses  map[native.Token]native.StatusHandler
	waiters   []chan native.Geoposition
	failed    []chan error
}

var _ native.Service = (*Service)(nil)

// NewService creates a receiver service. No I/O happens until first use.
func NewService(cfg Config, logger *slog.Logger) *Service {
	return newService(cfg, logger, openSerial)
}

func newService(cfg Config, logger *slog.Logger, open opener) *Service {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600 // Standard NMEA default
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:       cfg,
		log:       logger.With("component", "nmea", "port", cfg.PortPath),
		open:      open,
		clock:     clockwork.NewRealClock(),
		done:      make(chan struct{}),
		status:    native.StatusNotInitialized,
		positions: make(map[native.Token]native.PositionHandler),
		statuses:  make(map[native.Token]native.StatusHandler),
	}
}

func openSerial(path string, baud int) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// RequestAccess returns the static permission check for cfg: the receiver
// is accessible when its port can be opened.
func RequestAccess(cfg Config) native.AccessRequester {
	return requestAccess(cfg, openSerial)
}

func requestAccess(cfg Config, open opener) native.AccessRequester {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}
	return func(ctx context.Context) (native.AccessStatus, error) {
		if err := ctx.Err(); err != nil {
			return native.AccessUnspecified, err
		}
		port, err := open(cfg.PortPath, cfg.BaudRate)
		switch {
		case err == nil:
			port.Close()
			return native.AccessAllowed, nil
		case isPermission(err):
			return native.AccessDenied, nil
		case isNotFound(err):
			return native.AccessUnspecified, nil
		}
		return native.AccessUnspecified, native.Fail("RequestAccess", native.E_FAIL, err)
	}
}

func isPermission(err error) bool {
	var perr *serial.PortError
	if errors.As(err, &perr) && perr.Code() == serial.PermissionDenied {
		return true
	}
	return errors.Is(err, fs.ErrPermission)
}

func isNotFound(err error) bool {
	var perr *serial.PortError
	if errors.As(err, &perr) && perr.Code() == serial.PortNotFound {
		return true
	}
	return errors.Is(err, fs.ErrNotExist)
}

// GetGeoposition waits for the next valid fix that carries an accuracy.
func (s *Service) GetGeoposition(ctx context.Context) (native.Geoposition, error) {
	fixCh := make(chan native.Geoposition, 1)
	errCh := make(chan error, 1)

	s.mu.Lock()
	notify, err := s.openLocked()
	if err != nil {
		s.mu.Unlock()
		return native.Geoposition{}, err
	}
	s.waiters = append(s.waiters, fixCh)
	s.failed = append(s.failed, errCh)
	s.mu.Unlock()
	notify()

	select {
	case fix := <-fixCh:
		return fix, nil
	case err := <-errCh:
		return native.Geoposition{}, err
	case <-ctx.Done():
		s.dropWaiter(fixCh, errCh)
		return native.Geoposition{}, ctx.Err()
	}
}

// SetDesiredAccuracy toggles SBAS and WAAS differential corrections with
// MediaTek PMTK commands. Receivers that do not understand them ignore them.
func (s *Service) SetDesiredAccuracy(acc native.Accuracy) error {
	s.mu.Lock()
	s.accuracy = acc
	port := s.port
	if port == nil {
		// openLocked sends the high accuracy commands itself.
		notify, err := s.openLocked()
		s.mu.Unlock()
		if err != nil {
			return err
		}
		notify()
		s.log.Info("accuracy mode set", "accuracy", acc.String())
		return nil
	}
	s.mu.Unlock()
	if err := writeAccuracy(port, acc); err != nil {
		return native.Fail("SetDesiredAccuracy", native.E_FAIL, err)
	}
	s.log.Info("accuracy mode set", "accuracy", acc.String())
	return nil
}

func writeAccuracy(w io.Writer, acc native.Accuracy) error {
	cmds := []string{"PMTK313,0", "PMTK301,0"}
	if acc == native.AccuracyHigh {
		cmds = []string{"PMTK313,1", "PMTK301,2"}
	}
	for _, c := range cmds {
		if _, err := io.WriteString(w, Sentence(c)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) AddPositionChanged(h native.PositionHandler) (native.Token, error) {
	s.mu.Lock()
	notify, err := s.openLocked()
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	s.next++
	t := s.next
	s.positions[t] = h
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

// Close releases the serial port and stops reconnecting. Pending
// GetGeoposition calls fail, and so does any later use.
func (s *Service) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	port := s.port
	s.port = nil
	failed := s.takeWaitersLocked()
	s.mu.Unlock()

	for _, ch := range failed {
		ch <- native.Fail("GetGeoposition", native.E_ILLEGAL_METHOD_CALL, errors.New("nmea: service closed"))
	}
	if port == nil {
		return nil
	}
	return port.Close()
}

// openLocked opens the port if needed and starts the reader. The returned
// func delivers the resulting status change and must run after s.mu is
// released.
func (s *Service) openLocked() (func(), error) {
	if s.port != nil {
		return func() {}, nil
	}
	if s.closed {
		return nil, native.Fail("open", native.E_ILLEGAL_METHOD_CALL, errors.New("nmea: service closed"))
	}
	port, err := s.open(s.cfg.PortPath, s.cfg.BaudRate)
	if err != nil {
		code := native.E_FAIL
		if isPermission(err) {
			code = native.E_ACCESSDENIED
		}
		return nil, native.Fail("open", code, fmt.Errorf("nmea: failed to open %s: %w", s.cfg.PortPath, err))
	}
	s.port = port
	if s.accuracy == native.AccuracyHigh {
		if err := writeAccuracy(port, s.accuracy); err != nil {
			s.log.Warn("accuracy command failed", "error", err)
		}
	}
	s.log.Info("connected", "baud", s.cfg.BaudRate)
	go s.readLoop(port)
	return s.setStatusLocked(native.StatusInitializing), nil
}

// readLoop parses sentences until the port fails or is closed.
func (s *Service) readLoop(port io.ReadWriteCloser) {
	var asm assembler
	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !validateNMEAChecksum(line) {
			continue
		}
		if ef, ok := asm.feed(line); ok {
			s.publish(ef)
		}
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	s.fail(port, err)
}

func (s *Service) publish(ef epochFix) {
	s.mu.Lock()
	status := native.StatusNoData
	if ef.valid {
		status = native.StatusReady
	}
	notify := s.setStatusLocked(status)

	var handlers []native.PositionHandler
	var waiters []chan native.Geoposition
	if ef.valid {
		handlers = make([]native.PositionHandler, 0, len(s.positions))
		for _, h := range s.positions {
			handlers = append(handlers, h)
		}
		if ef.err == nil {
			waiters = s.waiters
			s.waiters, s.failed = nil, nil
		}
	}
	s.mu.Unlock()

	notify()
	for _, ch := range waiters {
		ch <- ef.fix
	}
	args := native.Position{Fix: ef.fix, Err: ef.err}
	for _, h := range handlers {
		h(args)
	}
}

func (s *Service) fail(port io.ReadWriteCloser, cause error) {
	s.mu.Lock()
	if s.port != port {
		// Closed on purpose.
		s.mu.Unlock()
		return
	}
	s.port = nil
	notify := s.setStatusLocked(native.StatusNotAvailable)
	failed := s.takeWaitersLocked()
	retry := len(s.positions) > 0 && !s.closed && !s.reconnecting
	if retry {
		s.reconnecting = true
	}
	s.mu.Unlock()

	s.log.Warn("receiver read failed", "error", cause)
	port.Close()
	for _, ch := range failed {
		ch <- native.Fail("GetGeoposition", native.E_FAIL, cause)
	}
	notify()
	if retry {
		go s.reconnect()
	}
}

// reconnect reopens the port with exponential backoff, starting at 1s and
// doubling up to 60s. It gives up once the service is closed or no position
// handler is left.
func (s *Service) reconnect() {
	delay := reconnectDelay
	for attempt := 1; ; attempt++ {
		select {
		case <-s.done:
			s.stopReconnecting()
			return
		case <-s.clock.After(delay):
		}

		s.mu.Lock()
		if s.closed || s.port != nil || len(s.positions) == 0 {
			s.reconnecting = false
			s.mu.Unlock()
			return
		}
		notify, err := s.openLocked()
		if err == nil {
			s.reconnecting = false
		}
		s.mu.Unlock()

		if err == nil {
			s.log.Info("receiver reconnected", "attempt", attempt)
			notify()
			return
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
		s.log.Warn("reconnect failed", "attempt", attempt, "error", err, "retry_in", delay)
	}
}

func (s *Service) stopReconnecting() {
	s.mu.Lock()
	s.reconnecting = false
	s.mu.Unlock()
}

func (s *Service) takeWaitersLocked() []chan error {
	failed := s.failed
	s.waiters, s.failed = nil, nil
	return failed
}

func (s *Service) dropWaiter(fixCh chan native.Geoposition, errCh chan error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ch := range s.waiters {
		if ch == fixCh {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			break
		}
	}
	for i, ch := range s.failed {
		if ch == errCh {
			s.failed = append(s.failed[:i], s.failed[i+1:]...)
			break
		}
	}
}

// setStatusLocked records st and returns a func that notifies status
// handlers when it changed.
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
