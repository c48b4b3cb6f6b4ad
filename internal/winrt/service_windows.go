//go:build windows && (amd64 || arm64)

// Package winrt implements the native location service on
// Windows.Devices.Geolocation.
package winrt

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
	"unsafe"

	"github.com/go-ole/go-ole"

	"github.com/shaunagostinho/geolocator/internal/native"
)

// Vtable slots. IInspectable occupies 0-5.
const (
	slotPutDesiredAccuracy    = 7
	slotGetGeopositionAsync   = 13
	slotAddPositionChanged    = 15
	slotRemovePositionChanged = 16
	slotAddStatusChanged      = 17
	slotRemoveStatusChanged   = 18
	slotRequestAccessAsync    = 6 // IGeolocatorStatics
	slotEventArgsValue        = 6 // get_Position / get_Status
	slotGeopositionCoordinate = 6
	slotCoordinateLatitude    = 6
	slotCoordinateLongitude   = 7
	slotCoordinateAltitude    = 8
	slotCoordinateAccuracy    = 9
	slotCoordinateAltAccuracy = 10
	slotCoordinateHeading     = 11
	slotCoordinateSpeed       = 12
	slotCoordinateTimestamp   = 13
	slotReferenceValue        = 6
	slotAsyncInfoStatus       = 7
	slotAsyncInfoErrorCode    = 8
	slotAsyncInfoCancel       = 9
	slotAsyncOperationResults = 8
)

const (
	pollInterval = 10 * time.Millisecond
	// 100ns ticks between 1601-01-01 and 1970-01-01.
	unixEpochTicks = 116444736000000000
)

var (
	guidGeolocatorStatics = mustGUID(iidGeolocatorStatic)
	guidAsyncInfo         = mustGUID(iidAsyncInfo)
	guidPositionHandler   = mustGUID(parameterizedIID(positionHandlerSignature).String())
	guidStatusHandler     = mustGUID(parameterizedIID(statusHandlerSignature).String())
)

// Service wraps a Windows.Devices.Geolocation.Geolocator instance.
type Service struct {
	log *slog.Logger
	mta *apartment

	mu      sync.Mutex
	locator *ole.IInspectable
}

var _ native.Service = (*Service)(nil)

// NewService activates a Geolocator.
func NewService(logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mta, err := enterMTA()
	if err != nil {
		return nil, err
	}
	locator, err := ole.RoActivateInstance(classGeolocator)
	if err != nil {
		mta.leave()
		return nil, oleFail("RoActivateInstance", err)
	}
	s := &Service{
		log:     logger.With("component", "winrt"),
		mta:     mta,
		locator: locator,
	}
	s.log.Info("geolocator activated")
	return s, nil
}

// RequestAccess asks the OS for location permission through the static
// Geolocator.RequestAccessAsync.
func RequestAccess(ctx context.Context) (native.AccessStatus, error) {
	mta, err := enterMTA()
	if err != nil {
		return native.AccessUnspecified, err
	}
	defer mta.leave()

	statics, err := ole.RoGetActivationFactory(classGeolocator, guidGeolocatorStatics)
	if err != nil {
		return native.AccessUnspecified, oleFail("RoGetActivationFactory", err)
	}
	defer statics.Release()

	var op uintptr
	hr := call(uintptr(unsafe.Pointer(statics)), slotRequestAccessAsync, uintptr(unsafe.Pointer(&op)))
	if err := check("RequestAccessAsync", hr); err != nil {
		return native.AccessUnspecified, err
	}
	defer release(op)

	if err := await(ctx, "RequestAccessAsync", op); err != nil {
		return native.AccessUnspecified, err
	}
	var status int32
	hr = call(op, slotAsyncOperationResults, uintptr(unsafe.Pointer(&status)))
	if err := check("RequestAccessAsync", hr); err != nil {
		return native.AccessUnspecified, err
	}
	return native.AccessStatus(status), nil
}

func (s *Service) obj() (uintptr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locator == nil {
		return 0, native.Fail("Geolocator", native.E_ILLEGAL_METHOD_CALL, errors.New("winrt: service closed"))
	}
	return uintptr(unsafe.Pointer(s.locator)), nil
}

// GetGeoposition runs GetGeopositionAsync to completion.
func (s *Service) GetGeoposition(ctx context.Context) (native.Geoposition, error) {
	loc, err := s.obj()
	if err != nil {
		return native.Geoposition{}, err
	}
	var op uintptr
	hr := call(loc, slotGetGeopositionAsync, uintptr(unsafe.Pointer(&op)))
	if err := check("GetGeopositionAsync", hr); err != nil {
		return native.Geoposition{}, err
	}
	defer release(op)

	if err := await(ctx, "GetGeopositionAsync", op); err != nil {
		return native.Geoposition{}, err
	}
	var pos uintptr
	hr = call(op, slotAsyncOperationResults, uintptr(unsafe.Pointer(&pos)))
	if err := check("GetResults", hr); err != nil {
		return native.Geoposition{}, err
	}
	defer release(pos)
	return readGeoposition(pos)
}

func (s *Service) SetDesiredAccuracy(acc native.Accuracy) error {
	loc, err := s.obj()
	if err != nil {
		return err
	}
	return check("put_DesiredAccuracy", call(loc, slotPutDesiredAccuracy, uintptr(acc)))
}

func (s *Service) AddPositionChanged(h native.PositionHandler) (native.Token, error) {
	return s.addHandler("add_PositionChanged", slotAddPositionChanged, guidPositionHandler, func(args uintptr) {
		h(positionArgs(args))
	})
}

func (s *Service) RemovePositionChanged(t native.Token) error {
	return s.removeHandler("remove_PositionChanged", slotRemovePositionChanged, t)
}

func (s *Service) AddStatusChanged(h native.StatusHandler) (native.Token, error) {
	return s.addHandler("add_StatusChanged", slotAddStatusChanged, guidStatusHandler, func(args uintptr) {
		h(statusArgs(args))
	})
}

func (s *Service) RemoveStatusChanged(t native.Token) error {
	return s.removeHandler("remove_StatusChanged", slotRemoveStatusChanged, t)
}

func (s *Service) addHandler(op string, slot int, iid *ole.GUID, invoke func(args uintptr)) (native.Token, error) {
	loc, err := s.obj()
	if err != nil {
		return 0, err
	}
	d, err := newDelegate(iid, invoke)
	if err != nil {
		return 0, err
	}
	// The event source takes its own reference.
	defer release(d)

	var token int64
	hr := call(loc, slot, d, uintptr(unsafe.Pointer(&token)))
	if err := check(op, hr); err != nil {
		return 0, err
	}
	return native.Token(token), nil
}

func (s *Service) removeHandler(op string, slot int, t native.Token) error {
	loc, err := s.obj()
	if err != nil {
		return err
	}
	return check(op, call(loc, slot, uintptr(t)))
}

// Close releases the Geolocator and leaves the apartment.
func (s *Service) Close() error {
	s.mu.Lock()
	locator := s.locator
	s.locator = nil
	s.mu.Unlock()
	if locator == nil {
		return nil
	}
	locator.Release()
	s.mta.leave()
	return nil
}

// await polls IAsyncInfo until op leaves the Started state. Cancelling ctx
// cancels the operation.
func await(ctx context.Context, op string, async uintptr) error {
	info, err := queryInterface(op, async, guidAsyncInfo)
	if err != nil {
		return err
	}
	defer release(info)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		var status, code int32
		if err := check(op, call(info, slotAsyncInfoStatus, uintptr(unsafe.Pointer(&status)))); err != nil {
			return err
		}
		if status == asyncError {
			if err := check(op, call(info, slotAsyncInfoErrorCode, uintptr(unsafe.Pointer(&code)))); err != nil {
				return err
			}
		}
		if done, err := asyncOutcome(op, status, code); done {
			return err
		}

		select {
		case <-ctx.Done():
			call(info, slotAsyncInfoCancel)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// positionArgs is an IPositionChangedEventArgs pointer, valid for the
// duration of the event callback.
type positionArgs uintptr

func (a positionArgs) Position() (native.Geoposition, error) {
	var pos uintptr
	if err := check("get_Position", call(uintptr(a), slotEventArgsValue, uintptr(unsafe.Pointer(&pos)))); err != nil {
		return native.Geoposition{}, err
	}
	defer release(pos)
	return readGeoposition(pos)
}

// statusArgs is an IStatusChangedEventArgs pointer, valid for the duration
// of the event callback.
type statusArgs uintptr

func (a statusArgs) Status() (native.PositionStatus, error) {
	var st int32
	if err := check("get_Status", call(uintptr(a), slotEventArgsValue, uintptr(unsafe.Pointer(&st)))); err != nil {
		return 0, err
	}
	return native.PositionStatus(st), nil
}

func readGeoposition(pos uintptr) (native.Geoposition, error) {
	var coord uintptr
	if err := check("get_Coordinate", call(pos, slotGeopositionCoordinate, uintptr(unsafe.Pointer(&coord)))); err != nil {
		return native.Geoposition{}, err
	}
	defer release(coord)

	var g native.Geoposition
	for _, f := range []struct {
		op   string
		slot int
		dst  *float64
	}{
		{"get_Latitude", slotCoordinateLatitude, &g.Latitude},
		{"get_Longitude", slotCoordinateLongitude, &g.Longitude},
		{"get_Accuracy", slotCoordinateAccuracy, &g.Accuracy},
	} {
		if err := check(f.op, call(coord, f.slot, uintptr(unsafe.Pointer(f.dst)))); err != nil {
			return native.Geoposition{}, err
		}
	}

	var err error
	if g.Altitude, err = readReference("get_Altitude", coord, slotCoordinateAltitude); err != nil {
		return native.Geoposition{}, err
	}
	if g.AltitudeAccuracy, err = readReference("get_AltitudeAccuracy", coord, slotCoordinateAltAccuracy); err != nil {
		return native.Geoposition{}, err
	}
	if g.Heading, err = readReference("get_Heading", coord, slotCoordinateHeading); err != nil {
		return native.Geoposition{}, err
	}
	if g.Speed, err = readReference("get_Speed", coord, slotCoordinateSpeed); err != nil {
		return native.Geoposition{}, err
	}

	var ticks int64
	if err := check("get_Timestamp", call(coord, slotCoordinateTimestamp, uintptr(unsafe.Pointer(&ticks)))); err != nil {
		return native.Geoposition{}, err
	}
	g.Timestamp = time.Unix(0, (ticks-unixEpochTicks)*100).UTC()
	return g, nil
}

// readReference reads an IReference<double> property. A null reference is
// an absent value.
func readReference(op string, obj uintptr, slot int) (*float64, error) {
	var ref uintptr
	if err := check(op, call(obj, slot, uintptr(unsafe.Pointer(&ref)))); err != nil {
		return nil, err
	}
	if ref == 0 {
		return nil, nil
	}
	defer release(ref)
	var v float64
	if err := check(op, call(ref, slotReferenceValue, uintptr(unsafe.Pointer(&v)))); err != nil {
		return nil, err
	}
	return &v, nil
}
