// Package adapter turns a native location service into the uniform
// Coordinates/error model: one suspension point per query, token-managed
// watch registration, and a single classification of every native failure.
//
// An Adapter is not safe for concurrent WatchPosition/StopWatch calls;
// callers serialize those. Watch callbacks run on whatever goroutine or OS
// thread the native service delivers events on and must not block.
package adapter

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/shaunagostinho/geolocator/internal/geo"
	"github.com/shaunagostinho/geolocator/internal/native"
)

// Adapter owns one native service handle and at most one active watch.
type Adapter struct {
	svc native.Service
	log *slog.Logger
	sub *subscription
}

// subscription is the pair of registrations behind an active watch. closed
// is flipped before deregistration so late events never reach the caller.
type subscription struct {
	position native.Token
	status   native.Token
	closed   atomic.Bool
}

// New wraps svc. The adapter takes exclusive ownership of it.
func New(svc native.Service, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{svc: svc, log: logger}
}

// RequestAccess asks for location permission. Only an explicit Allowed
// succeeds; every other status is ErrAccessDenied.
func RequestAccess(ctx context.Context, request native.AccessRequester, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	status, err := request(ctx)
	if err != nil {
		return classify(logger, "RequestAccessAsync", err)
	}
	if status != native.AccessAllowed {
		logger.Info("location access not granted", "status", status.String())
		return geo.ErrAccessDenied
	}
	return nil
}

// CurrentPosition waits for a single fix. No state is kept afterwards.
func (a *Adapter) CurrentPosition(ctx context.Context) (geo.Coordinates, error) {
	fix, err := a.svc.GetGeoposition(ctx)
	if err != nil {
		return geo.Coordinates{}, classify(a.log, "GetGeopositionAsync", err)
	}
	return toCoordinates(fix), nil
}

// WatchPosition registers onPosition for every fix and onStatus for every
// degraded provider status, then returns without waiting for a fix.
//
// High accuracy is applied before any registration so the first fix is
// already delivered in that mode. A fix whose payload cannot be read is
// dropped on its own. Calling WatchPosition while a watch is active returns
// ErrUnknown and leaves the active watch in place.
func (a *Adapter) WatchPosition(opts *geo.Options, onPosition func(geo.Coordinates), onStatus func(error)) error {
	if a.sub != nil {
		a.log.Warn("watch requested while another watch is active")
		return geo.ErrUnknown
	}
	if opts != nil && opts.HighAccuracy {
		if err := a.svc.SetDesiredAccuracy(native.AccuracyHigh); err != nil {
			return classify(a.log, "SetDesiredAccuracy", err)
		}
	}

	sub := &subscription{}
	pos, err := a.svc.AddPositionChanged(func(args native.PositionChangedArgs) {
		if sub.closed.Load() || onPosition == nil {
			return
		}
		fix, err := args.Position()
		if err != nil {
			a.log.Debug("dropping unreadable position event", "error", err)
			return
		}
		onPosition(toCoordinates(fix))
	})
	if err != nil {
		return classify(a.log, "PositionChanged", err)
	}
	sub.position = pos

	st, err := a.svc.AddStatusChanged(func(args native.StatusChangedArgs) {
		if sub.closed.Load() || onStatus == nil {
			return
		}
		status, err := args.Status()
		if err != nil {
			a.log.Debug("dropping unreadable status event", "error", err)
			return
		}
		if serr := statusError(status); serr != nil {
			a.log.Info("provider status degraded", "status", status.String())
			onStatus(serr)
		}
	})
	if err != nil {
		sub.closed.Store(true)
		if rerr := a.svc.RemovePositionChanged(pos); rerr != nil {
			a.log.Warn("rollback of position registration failed", "token", int64(pos), "error", rerr)
		}
		return classify(a.log, "StatusChanged", err)
	}
	sub.status = st

	a.sub = sub
	a.log.Debug("watch started", "position_token", int64(pos), "status_token", int64(st), "high_accuracy", opts != nil && opts.HighAccuracy)
	return nil
}

// StopWatch deregisters both tokens of the active watch. The watch is gone
// afterwards even when a deregistration fails; that failure is reported as
// ErrUnknown. Without an active watch (including a second call) it returns
// ErrUnknown and does not touch the native service.
func (a *Adapter) StopWatch() error {
	sub := a.sub
	if sub == nil {
		a.log.Warn("clear watch without an active watch")
		return geo.ErrUnknown
	}
	sub.closed.Store(true)
	a.sub = nil

	perr := a.svc.RemovePositionChanged(sub.position)
	serr := a.svc.RemoveStatusChanged(sub.status)
	if perr != nil {
		return classify(a.log, "RemovePositionChanged", perr)
	}
	if serr != nil {
		return classify(a.log, "RemoveStatusChanged", serr)
	}
	a.log.Debug("watch stopped")
	return nil
}

// Watching reports whether a watch is active.
func (a *Adapter) Watching() bool { return a.sub != nil }

// Close stops an active watch and releases the native handle when it holds
// OS resources.
func (a *Adapter) Close() error {
	if a.sub != nil {
		if err := a.StopWatch(); err != nil {
			a.log.Warn("stop watch on close failed", "error", err)
		}
	}
	if c, ok := a.svc.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
