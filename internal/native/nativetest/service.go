// Package nativetest provides a simulated native location service for tests.
package nativetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/shaunagostinho/geolocator/internal/native"
)

// Service is a scriptable native.Service. Zero value is ready to use.
//
// Every method call is appended to Calls in order, e.g.
// "SetDesiredAccuracy(high)" or "AddPositionChanged=1".
type Service struct {
	mu sync.Mutex

	// Fix and FixErr answer GetGeoposition.
	Fix    native.Geoposition
	FixErr error

	AccuracyErr       error
	AddPositionErr    error
	AddStatusErr      error
	RemovePositionErr error
	RemoveStatusErr   error

	// OnRegister, when set, runs synchronously inside AddPositionChanged
	// after the handler is stored. Tests use it to deliver a fix before
	// registration returns.
	OnRegister func(s *Service)

	accuracy  native.Accuracy
	next      native.Token
	positions map[native.Token]native.PositionHandler
	statuses  map[native.Token]native.StatusHandler
	calls     []string
}

var _ native.Service = (*Service)(nil)

func (s *Service) GetGeoposition(ctx context.Context) (native.Geoposition, error) {
	s.record("GetGeoposition")
	if err := ctx.Err(); err != nil {
		return native.Geoposition{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Fix, s.FixErr
}

func (s *Service) SetDesiredAccuracy(acc native.Accuracy) error {
	s.record(fmt.Sprintf("SetDesiredAccuracy(%s)", acc))
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AccuracyErr != nil {
		return s.AccuracyErr
	}
	s.accuracy = acc
	return nil
}

func (s *Service) AddPositionChanged(h native.PositionHandler) (native.Token, error) {
	s.mu.Lock()
	if s.AddPositionErr != nil {
		s.calls = append(s.calls, "AddPositionChanged")
		s.mu.Unlock()
		return 0, s.AddPositionErr
	}
	if s.positions == nil {
		s.positions = make(map[native.Token]native.PositionHandler)
	}
	s.next++
	t := s.next
	s.positions[t] = h
	s.calls = append(s.calls, fmt.Sprintf("AddPositionChanged=%d", t))
	hook := s.OnRegister
	s.mu.Unlock()

	if hook != nil {
		hook(s)
	}
	return t, nil
}

func (s *Service) RemovePositionChanged(t native.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf("RemovePositionChanged(%d)", t))
	if s.RemovePositionErr != nil {
		return s.RemovePositionErr
	}
	delete(s.positions, t)
	return nil
}

func (s *Service) AddStatusChanged(h native.StatusHandler) (native.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AddStatusErr != nil {
		s.calls = append(s.calls, "AddStatusChanged")
		return 0, s.AddStatusErr
	}
	if s.statuses == nil {
		s.statuses = make(map[native.Token]native.StatusHandler)
	}
	s.next++
	s.statuses[s.next] = h
	s.calls = append(s.calls, fmt.Sprintf("AddStatusChanged=%d", s.next))
	return s.next, nil
}

func (s *Service) RemoveStatusChanged(t native.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf("RemoveStatusChanged(%d)", t))
	if s.RemoveStatusErr != nil {
		return s.RemoveStatusErr
	}
	delete(s.statuses, t)
	return nil
}

// EmitPosition delivers args to every registered position handler.
func (s *Service) EmitPosition(args native.PositionChangedArgs) {
	s.mu.Lock()
	handlers := make([]native.PositionHandler, 0, len(s.positions))
	for _, h := range s.positions {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()
	for _, h := range handlers {
		h(args)
	}
}

// EmitFix is EmitPosition with a successful payload.
func (s *Service) EmitFix(fix native.Geoposition) {
	s.EmitPosition(native.Position{Fix: fix})
}

// EmitStatus delivers a status to every registered status handler.
func (s *Service) EmitStatus(st native.PositionStatus) {
	s.mu.Lock()
	handlers := make([]native.StatusHandler, 0, len(s.statuses))
	for _, h := range s.statuses {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()
	for _, h := range handlers {
		h(native.Status{Value: st})
	}
}

// Accuracy returns the currently configured accuracy mode.
func (s *Service) Accuracy() native.Accuracy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accuracy
}

// Handlers reports how many position and status handlers are registered.
func (s *Service) Handlers() (positions, statuses int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.positions), len(s.statuses)
}

// Calls returns a copy of the call log.
func (s *Service) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Service) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

// Access returns a native.AccessRequester that always answers status.
func Access(status native.AccessStatus, err error) native.AccessRequester {
	return func(ctx context.Context) (native.AccessStatus, error) {
		if err != nil {
			return native.AccessUnspecified, err
		}
		return status, nil
	}
}
