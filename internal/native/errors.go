package native

import "fmt"

// HRESULT is a native status code. Services that are not COM based report
// their failures with the same codes so classification stays in one place.
type HRESULT uint32

const (
	S_OK                  HRESULT = 0x00000000
	E_NOTIMPL             HRESULT = 0x80004001
	E_FAIL                HRESULT = 0x80004005
	E_ILLEGAL_METHOD_CALL HRESULT = 0x8000000E
	E_ACCESSDENIED        HRESULT = 0x80070005
	E_INVALIDARG          HRESULT = 0x80070057
)

func (h HRESULT) String() string { return fmt.Sprintf("0x%08X", uint32(h)) }

// Error is a failure reported by a native service.
type Error struct {
	Op   string
	Code HRESULT
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: hresult %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: hresult %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Fail builds an *Error.
func Fail(op string, code HRESULT, err error) error {
	return &Error{Op: op, Code: code, Err: err}
}
