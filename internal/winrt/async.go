package winrt

import (
	"errors"
	"fmt"

	"github.com/shaunagostinho/geolocator/internal/native"
)

// AsyncStatus values.
const (
	asyncStarted   = 0
	asyncCompleted = 1
	asyncCanceled  = 2
	asyncError     = 3
)

var errCanceled = errors.New("winrt: operation canceled")

// asyncOutcome maps an IAsyncInfo status, and the ErrorCode read for an
// Error status, to the operation's result. done is false while the
// operation is still running.
//
// An Error status whose code is S_OK keeps S_OK so classification aborts
// on it.
func asyncOutcome(op string, status, code int32) (done bool, err error) {
	switch status {
	case asyncStarted:
		return false, nil
	case asyncCompleted:
		return true, nil
	case asyncCanceled:
		return true, native.Fail(op, native.E_FAIL, errCanceled)
	case asyncError:
		hr := native.HRESULT(uint32(code))
		if hr == native.S_OK {
			return true, native.Fail(op, native.S_OK, errors.New("winrt: async error with S_OK"))
		}
		return true, native.Fail(op, hr, fmt.Errorf("winrt: async operation failed with %s", hr))
	}
	return true, native.Fail(op, native.E_FAIL, fmt.Errorf("winrt: unexpected async status %d", status))
}
