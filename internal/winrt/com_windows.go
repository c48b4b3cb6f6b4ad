//go:build windows && (amd64 || arm64)

package winrt

import (
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"

	"github.com/go-ole/go-ole"
	"golang.org/x/sys/windows"

	"github.com/shaunagostinho/geolocator/internal/native"
)

const (
	sFalse         = 0x00000001
	eNoInterface   = 0x80004002
	ePointer       = 0x80004003
	coinitMultiThr = 1

	slotQueryInterface = 0
	slotAddRef         = 1
	slotRelease        = 2
)

var (
	ole32              = windows.NewLazySystemDLL("ole32.dll")
	procCoTaskMemAlloc = ole32.NewProc("CoTaskMemAlloc")
	procCoTaskMemFree  = ole32.NewProc("CoTaskMemFree")
)

// call invokes vtable slot of the COM object obj and returns its HRESULT.
func call(obj uintptr, slot int, args ...uintptr) native.HRESULT {
	vtbl := *(*uintptr)(unsafe.Pointer(obj))
	fn := *(*uintptr)(unsafe.Pointer(vtbl + uintptr(slot)*unsafe.Sizeof(uintptr(0))))
	r, _, _ := syscall.SyscallN(fn, append([]uintptr{obj}, args...)...)
	return native.HRESULT(uint32(r))
}

func failed(hr native.HRESULT) bool { return int32(hr) < 0 }

// check turns a failing HRESULT into a native error.
func check(op string, hr native.HRESULT) error {
	if !failed(hr) {
		return nil
	}
	return native.Fail(op, hr, syscall.Errno(hr))
}

func release(obj uintptr) {
	if obj != 0 {
		call(obj, slotRelease)
	}
}

func queryInterface(op string, obj uintptr, iid *ole.GUID) (uintptr, error) {
	var out uintptr
	hr := call(obj, slotQueryInterface, uintptr(unsafe.Pointer(iid)), uintptr(unsafe.Pointer(&out)))
	if err := check(op, hr); err != nil {
		return 0, err
	}
	return out, nil
}

// oleFail converts errors returned by go-ole.
func oleFail(op string, err error) error {
	var oerr *ole.OleError
	if errors.As(err, &oerr) {
		return native.Fail(op, native.HRESULT(uint32(oerr.Code())), err)
	}
	return native.Fail(op, native.E_FAIL, err)
}

func mustGUID(s string) *ole.GUID {
	g := ole.NewGUID(s)
	if g == nil {
		panic("winrt: bad guid " + s)
	}
	return g
}

// apartment keeps the process multithreaded apartment alive so calls from
// any goroutine run in the implicit MTA.
type apartment struct {
	done chan struct{}
	exit chan struct{}
}

func enterMTA() (*apartment, error) {
	a := &apartment{done: make(chan struct{}), exit: make(chan struct{})}
	errCh := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(a.exit)

		if err := ole.RoInitialize(coinitMultiThr); err != nil {
			var oerr *ole.OleError
			if !errors.As(err, &oerr) || oerr.Code() != sFalse {
				errCh <- oleFail("RoInitialize", err)
				return
			}
		}
		errCh <- nil
		<-a.done
		ole.CoUninitialize()
	}()
	if err := <-errCh; err != nil {
		return nil, err
	}
	return a, nil
}

func (a *apartment) leave() {
	close(a.done)
	<-a.exit
}

// delegate is the in-memory layout of a COM delegate object. Instances live
// in CoTaskMemAlloc memory so the runtime never moves them.
type delegate struct {
	vtbl *delegateVtbl
	refs int32
	id   uintptr
	iid  ole.GUID
}

type delegateVtbl struct {
	QueryInterface uintptr
	AddRef         uintptr
	Release        uintptr
	Invoke         uintptr
}

var (
	vtblOnce      sync.Once
	sharedVtbl    *delegateVtbl
	handlersMu    sync.Mutex
	handlers      = map[uintptr]func(args uintptr){}
	nextHandlerID uintptr

	iidUnknown = ole.IID_IUnknown
	iidAgile   = mustGUID(iidAgileObject)
)

func delegateVtable() *delegateVtbl {
	vtblOnce.Do(func() {
		mem, _, _ := procCoTaskMemAlloc.Call(unsafe.Sizeof(delegateVtbl{}))
		if mem == 0 {
			panic("winrt: out of memory")
		}
		v := (*delegateVtbl)(unsafe.Pointer(mem))
		v.QueryInterface = syscall.NewCallback(delegateQueryInterface)
		v.AddRef = syscall.NewCallback(delegateAddRef)
		v.Release = syscall.NewCallback(delegateRelease)
		v.Invoke = syscall.NewCallback(delegateInvoke)
		sharedVtbl = v
	})
	return sharedVtbl
}

// newDelegate allocates a delegate implementing iid that calls h with the
// event args pointer. The caller owns the initial reference.
func newDelegate(iid *ole.GUID, h func(args uintptr)) (uintptr, error) {
	mem, _, _ := procCoTaskMemAlloc.Call(unsafe.Sizeof(delegate{}))
	if mem == 0 {
		return 0, native.Fail("newDelegate", native.E_FAIL, errors.New("winrt: out of memory"))
	}
	handlersMu.Lock()
	nextHandlerID++
	id := nextHandlerID
	handlers[id] = h
	handlersMu.Unlock()

	d := (*delegate)(unsafe.Pointer(mem))
	d.vtbl = delegateVtable()
	d.refs = 1
	d.id = id
	d.iid = *iid
	return mem, nil
}

func delegateQueryInterface(this, riid, ppv uintptr) uintptr {
	if ppv == 0 {
		return ePointer
	}
	d := (*delegate)(unsafe.Pointer(this))
	want := (*ole.GUID)(unsafe.Pointer(riid))
	if ole.IsEqualGUID(want, iidUnknown) || ole.IsEqualGUID(want, iidAgile) || ole.IsEqualGUID(want, &d.iid) {
		*(*uintptr)(unsafe.Pointer(ppv)) = this
		atomic.AddInt32(&d.refs, 1)
		return 0
	}
	*(*uintptr)(unsafe.Pointer(ppv)) = 0
	return eNoInterface
}

func delegateAddRef(this uintptr) uintptr {
	d := (*delegate)(unsafe.Pointer(this))
	return uintptr(atomic.AddInt32(&d.refs, 1))
}

func delegateRelease(this uintptr) uintptr {
	d := (*delegate)(unsafe.Pointer(this))
	n := atomic.AddInt32(&d.refs, -1)
	if n == 0 {
		handlersMu.Lock()
		delete(handlers, d.id)
		handlersMu.Unlock()
		procCoTaskMemFree.Call(this)
	}
	return uintptr(n)
}

func delegateInvoke(this, sender, args uintptr) (ret uintptr) {
	d := (*delegate)(unsafe.Pointer(this))
	handlersMu.Lock()
	h := handlers[d.id]
	handlersMu.Unlock()
	if h == nil {
		return 0
	}
	defer func() {
		// A panic must not unwind into the OS thread pool.
		if r := recover(); r != nil {
			slog.Error("winrt: event handler panicked", "panic", r)
			ret = 0
		}
	}()
	h(args)
	return 0
}
