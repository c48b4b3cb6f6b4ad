package nmea

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/geolocator/internal/native"
)

// pipePort is an in-memory serial port: the test writes receiver output to
// w, and commands sent by the service are captured.
type pipePort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu      sync.Mutex
	written strings.Builder
}

func newPipePort() *pipePort {
	r, w := io.Pipe()
	return &pipePort{r: r, w: w}
}

func (p *pipePort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *pipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *pipePort) Close() error { return p.r.Close() }

func (p *pipePort) commands() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func (p *pipePort) send(t *testing.T, lines ...string) {
	t.Helper()
	for _, l := range lines {
		_, err := io.WriteString(p.w, l+"\r\n")
		require.NoError(t, err)
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*Service, *pipePort, *int) {
	t.Helper()
	port := newPipePort()
	opens := 0
	svc := newService(Config{PortPath: "/dev/ttyTEST"}, quietLogger(), func(path string, baud int) (io.ReadWriteCloser, error) {
		assert.Equal(t, "/dev/ttyTEST", path)
		assert.Equal(t, 9600, baud)
		opens++
		return port, nil
	})
	t.Cleanup(func() { svc.Close() })
	return svc, port, &opens
}

func TestService_WatchDeliversFixesAndStatus(t *testing.T) {
	svc, port, _ := newTestService(t)
	fixes := make(chan native.Geoposition, 4)
	statuses := make(chan native.PositionStatus, 8)

	_, err := svc.AddStatusChanged(func(args native.StatusChangedArgs) {
		st, err := args.Status()
		assert.NoError(t, err)
		statuses <- st
	})
	require.NoError(t, err)
	_, err = svc.AddPositionChanged(func(args native.PositionChangedArgs) {
		fix, err := args.Position()
		assert.NoError(t, err)
		fixes <- fix
	})
	require.NoError(t, err)

	assert.Equal(t, native.StatusInitializing, <-statuses)

	port.send(t, "garbage", rmcSF, ggaSF)
	assert.Equal(t, native.StatusReady, <-statuses)
	fix := <-fixes
	assert.InDelta(t, 37.7749, fix.Latitude, 1e-4)
	assert.Equal(t, 5.0, fix.Accuracy)

	port.send(t, rmcVoid, ggaVoid)
	assert.Equal(t, native.StatusNoData, <-statuses)
	assert.Empty(t, fixes)
}

func TestService_UnreadableFixReachesHandlerAsError(t *testing.T) {
	svc, port, _ := newTestService(t)
	errs := make(chan error, 1)
	_, err := svc.AddPositionChanged(func(args native.PositionChangedArgs) {
		_, err := args.Position()
		errs <- err
	})
	require.NoError(t, err)

	port.send(t, rmcMunich, line("GPGGA,123519,4807.038,N,01131.000,E,1,08,,545.4,M,46.9,M,,"))
	assert.ErrorIs(t, <-errs, errNoAccuracy)
}

func TestService_GetGeoposition(t *testing.T) {
	svc, port, opens := newTestService(t)

	type result struct {
		fix native.Geoposition
		err error
	}
	done := make(chan result, 1)
	go func() {
		fix, err := svc.GetGeoposition(context.Background())
		done <- result{fix, err}
	}()
	require.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return len(svc.waiters) == 1
	}, time.Second, time.Millisecond)

	port.send(t, rmcMunich, ggaMunich)
	res := <-done
	require.NoError(t, res.err)
	assert.InDelta(t, 48.1173, res.fix.Latitude, 1e-4)
	assert.Equal(t, 1, *opens)
}

func TestService_GetGeopositionCanceled(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := svc.GetGeoposition(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Empty(t, svc.waiters)
	assert.Empty(t, svc.failed)
}

func TestService_ReadFailure(t *testing.T) {
	svc, port, _ := newTestService(t)
	statuses := make(chan native.PositionStatus, 4)
	_, err := svc.AddStatusChanged(func(args native.StatusChangedArgs) {
		st, _ := args.Status()
		statuses <- st
	})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := svc.GetGeoposition(context.Background())
		errCh <- err
	}()
	assert.Equal(t, native.StatusInitializing, <-statuses)
	require.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return len(svc.failed) == 1
	}, time.Second, time.Millisecond)

	port.w.CloseWithError(errors.New("device unplugged"))

	err = <-errCh
	var nerr *native.Error
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, native.E_FAIL, nerr.Code)
	assert.Equal(t, native.StatusNotAvailable, <-statuses)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.False(t, svc.reconnecting, "no position handler, nothing to resume")
}

// scriptedOpener answers successive opens from results, each either a port
// or an error.
type scriptedOpener struct {
	mu      sync.Mutex
	results []any
	calls   int
}

func (o *scriptedOpener) open(string, int) (io.ReadWriteCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.calls >= len(o.results) {
		return nil, errors.New("no more ports")
	}
	r := o.results[o.calls]
	o.calls++
	if err, ok := r.(error); ok {
		return nil, err
	}
	return r.(io.ReadWriteCloser), nil
}

func (o *scriptedOpener) opens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

func newReconnectService(t *testing.T, results ...any) (*Service, *scriptedOpener, *clockwork.FakeClock, chan native.PositionStatus, chan native.Geoposition) {
	t.Helper()
	opener := &scriptedOpener{results: results}
	svc := newService(Config{PortPath: "/dev/ttyTEST"}, quietLogger(), opener.open)
	clock := clockwork.NewFakeClock()
	svc.clock = clock
	t.Cleanup(func() { svc.Close() })

	statuses := make(chan native.PositionStatus, 8)
	fixes := make(chan native.Geoposition, 4)
	_, err := svc.AddStatusChanged(func(args native.StatusChangedArgs) {
		st, _ := args.Status()
		statuses <- st
	})
	require.NoError(t, err)
	_, err = svc.AddPositionChanged(func(args native.PositionChangedArgs) {
		fix, err := args.Position()
		assert.NoError(t, err)
		fixes <- fix
	})
	require.NoError(t, err)
	require.Equal(t, native.StatusInitializing, <-statuses)
	return svc, opener, clock, statuses, fixes
}

func TestService_ReconnectsAfterReadFailure(t *testing.T) {
	first, second := newPipePort(), newPipePort()
	missing := &fs.PathError{Op: "open", Path: "/dev/ttyTEST", Err: fs.ErrNotExist}
	_, opener, clock, statuses, fixes := newReconnectService(t, first, missing, second)

	first.w.CloseWithError(errors.New("device unplugged"))
	assert.Equal(t, native.StatusNotAvailable, <-statuses)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, 2, opener.opens(), "first reopen fails, second waits")

	clock.Advance(time.Second)
	assert.Equal(t, 2, opener.opens(), "backoff doubled to 2s")
	clock.Advance(time.Second)
	assert.Equal(t, native.StatusInitializing, <-statuses)
	assert.Equal(t, 3, opener.opens())

	second.send(t, rmcSF, ggaSF)
	assert.Equal(t, native.StatusReady, <-statuses)
	fix := <-fixes
	assert.InDelta(t, 37.7749, fix.Latitude, 1e-4)
}

func TestService_CloseStopsReconnecting(t *testing.T) {
	first := newPipePort()
	svc, opener, clock, statuses, _ := newReconnectService(t, first, newPipePort())

	first.w.CloseWithError(errors.New("device unplugged"))
	assert.Equal(t, native.StatusNotAvailable, <-statuses)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	require.NoError(t, svc.Close())
	require.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return !svc.reconnecting
	}, time.Second, time.Millisecond)
	clock.Advance(time.Minute)
	assert.Equal(t, 1, opener.opens())

	_, err := svc.GetGeoposition(context.Background())
	var nerr *native.Error
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, native.E_ILLEGAL_METHOD_CALL, nerr.Code)
}

func TestService_OpenFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code native.HRESULT
	}{
		{"permission", &fs.PathError{Op: "open", Path: "/dev/ttyTEST", Err: fs.ErrPermission}, native.E_ACCESSDENIED},
		{"missing", &fs.PathError{Op: "open", Path: "/dev/ttyTEST", Err: fs.ErrNotExist}, native.E_FAIL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newService(Config{PortPath: "/dev/ttyTEST"}, quietLogger(), func(string, int) (io.ReadWriteCloser, error) {
				return nil, tt.err
			})

			_, err := svc.GetGeoposition(context.Background())
			var nerr *native.Error
			require.ErrorAs(t, err, &nerr)
			assert.Equal(t, tt.code, nerr.Code)

			_, err = svc.AddPositionChanged(func(native.PositionChangedArgs) {})
			require.ErrorAs(t, err, &nerr)
			assert.Equal(t, tt.code, nerr.Code)
		})
	}
}

func TestService_SetDesiredAccuracy(t *testing.T) {
	t.Run("before open", func(t *testing.T) {
		svc, port, opens := newTestService(t)
		require.NoError(t, svc.SetDesiredAccuracy(native.AccuracyHigh))
		assert.Equal(t, "$PMTK313,1*2E\r\n$PMTK301,2*2E\r\n", port.commands())
		assert.Equal(t, 1, *opens)
	})

	t.Run("while open", func(t *testing.T) {
		svc, port, _ := newTestService(t)
		_, err := svc.AddPositionChanged(func(native.PositionChangedArgs) {})
		require.NoError(t, err)
		assert.Empty(t, port.commands())

		require.NoError(t, svc.SetDesiredAccuracy(native.AccuracyHigh))
		require.NoError(t, svc.SetDesiredAccuracy(native.AccuracyDefault))
		assert.Equal(t, Sentence("PMTK313,1")+Sentence("PMTK301,2")+Sentence("PMTK313,0")+Sentence("PMTK301,0"), port.commands())
	})
}

func TestService_Tokens(t *testing.T) {
	svc, _, _ := newTestService(t)
	p, err := svc.AddPositionChanged(func(native.PositionChangedArgs) {})
	require.NoError(t, err)
	s, err := svc.AddStatusChanged(func(native.StatusChangedArgs) {})
	require.NoError(t, err)
	assert.NotZero(t, p)
	assert.NotEqual(t, p, s)

	require.NoError(t, svc.RemovePositionChanged(p))
	require.NoError(t, svc.RemoveStatusChanged(s))

	var nerr *native.Error
	require.ErrorAs(t, svc.RemovePositionChanged(p), &nerr)
	assert.Equal(t, native.E_INVALIDARG, nerr.Code)
	require.ErrorAs(t, svc.RemoveStatusChanged(s), &nerr)
	assert.Equal(t, native.E_INVALIDARG, nerr.Code)
}

func TestService_CloseFailsPendingRequests(t *testing.T) {
	svc, _, _ := newTestService(t)
	errCh := make(chan error, 1)
	go func() {
		_, err := svc.GetGeoposition(context.Background())
		errCh <- err
	}()
	require.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return len(svc.failed) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, svc.Close())

	var nerr *native.Error
	require.ErrorAs(t, <-errCh, &nerr)
	assert.Equal(t, native.E_ILLEGAL_METHOD_CALL, nerr.Code)
}

func TestRequestAccess(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    native.AccessStatus
		wantErr bool
	}{
		{name: "port opens", want: native.AccessAllowed},
		{name: "permission denied", err: &fs.PathError{Op: "open", Path: "/dev/ttyTEST", Err: fs.ErrPermission}, want: native.AccessDenied},
		{name: "no device", err: &fs.PathError{Op: "open", Path: "/dev/ttyTEST", Err: fs.ErrNotExist}, want: native.AccessUnspecified},
		{name: "other failure", err: errors.New("port busy"), want: native.AccessUnspecified, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := newPipePort()
			request := requestAccess(Config{PortPath: "/dev/ttyTEST"}, func(string, int) (io.ReadWriteCloser, error) {
				if tt.err != nil {
					return nil, tt.err
				}
				return port, nil
			})

			got, err := request(context.Background())
			assert.Equal(t, tt.want, got)
			if tt.wantErr {
				var nerr *native.Error
				require.ErrorAs(t, err, &nerr)
				assert.Equal(t, native.E_FAIL, nerr.Code)
				return
			}
			require.NoError(t, err)
		})
	}
}
