//go:build windows

package engine

import (
	"sync"
	"syscall"
	"unsafe"

	"github.com/opd-ai/whaleconnect/syserr"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"
)

const (
	// ioKey tags completions of socket I/O.
	ioKey uintptr = 0
	// interruptKey tags shutdown sentinels.
	interruptKey uintptr = 1

	// acceptAddrLen is the per-address space AcceptEx requires.
	acceptAddrLen = uint32(unsafe.Sizeof(windows.RawSockaddrAny{})) + 16
)

// opState holds the kernel-visible structures of one pending operation.
// The OVERLAPPED must stay first; it is what the kernel writes into.
type opState struct {
	ov        windows.Overlapped
	wsabuf    windows.WSABuf
	qty       uint32
	flags     uint32
	from      windows.RawSockaddrAny
	fromLen   int32
	acceptBuf [2 * acceptAddrLen]byte
}

func newDriver(opts *Options, slots *slab) (driver, error) {
	switch opts.Backend {
	case BackendAuto, BackendIOCP:
		return newIOCP(slots)
	default:
		return nil, ErrBackendUnavailable
	}
}

// iocp is the I/O completion port driver.
type iocp struct {
	port  windows.Handle
	slots *slab

	mu      sync.Mutex
	pending map[*windows.Overlapped]Token
}

func newIOCP(slots *slab) (*iocp, error) {
	var data windows.WSAData
	if err := windows.WSAStartup(uint32(0x202), &data); err != nil {
		return nil, syserr.NewKernel("WSAStartup", err)
	}
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, syserr.NewKernel("CreateIoCompletionPort", err)
	}
	return &iocp{
		port:    port,
		slots:   slots,
		pending: make(map[*windows.Overlapped]Token),
	}, nil
}

func (d *iocp) backend() Backend { return BackendIOCP }

func (d *iocp) register(fd uintptr) error {
	_, err := windows.CreateIoCompletionPort(windows.Handle(fd), d.port, ioKey, 0)
	return err
}

// Closing the socket dissociates it from the port.
func (d *iocp) unregister(fd uintptr) {}

func (d *iocp) track(ov *windows.Overlapped, tok Token) {
	d.mu.Lock()
	d.pending[ov] = tok
	d.mu.Unlock()
}

func (d *iocp) untrack(ov *windows.Overlapped) (Token, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tok, ok := d.pending[ov]
	delete(d.pending, ov)
	return tok, ok
}

func (d *iocp) submit(tok Token, s *slot) error {
	req := &s.req
	st := &s.st
	h := windows.Handle(req.FD)

	if !d.slots.with(tok, func(*slot) {
		st.ov = windows.Overlapped{}
		st.wsabuf = windows.WSABuf{Len: uint32(len(req.Buf))}
		if len(req.Buf) > 0 {
			st.wsabuf.Buf = &req.Buf[0]
		}
		if req.Op == OpRecvFrom {
			st.fromLen = int32(unsafe.Sizeof(st.from))
		}
	}) {
		return syscall.EINVAL
	}
	d.track(&st.ov, tok)

	var err error
	switch req.Op {
	case OpSend:
		err = windows.WSASend(h, &st.wsabuf, 1, &st.qty, 0, &st.ov, nil)
	case OpRecv:
		err = windows.WSARecv(h, &st.wsabuf, 1, &st.qty, &st.flags, &st.ov, nil)
	case OpSendTo:
		err = windows.WSASendTo(h, &st.wsabuf, 1, &st.qty, 0,
			(*windows.RawSockaddrAny)(unsafe.Pointer(unsafe.SliceData(req.Addr))), int32(len(req.Addr)), &st.ov, nil)
	case OpRecvFrom:
		err = windows.WSARecvFrom(h, &st.wsabuf, 1, &st.qty, &st.flags, &st.from, &st.fromLen, &st.ov, nil)
	case OpConnect:
		err = connectEx(h, req.Addr, &st.ov)
	case OpAccept:
		err = windows.AcceptEx(h, windows.Handle(req.AcceptFD), &st.acceptBuf[0], 0,
			acceptAddrLen, acceptAddrLen, &st.qty, &st.ov)
	default:
		err = syscall.EINVAL
	}

	if err != nil && err != windows.ERROR_IO_PENDING {
		d.untrack(&st.ov)
		return err
	}
	return nil
}

func (d *iocp) cancel(tok Token, s *slot) error {
	err := windows.CancelIoEx(windows.Handle(s.req.FD), &s.st.ov)
	if err == windows.ERROR_NOT_FOUND {
		// Already completed; the completion is queued.
		return nil
	}
	return err
}

func (d *iocp) wait() (completion, bool) {
	for {
		var qty uint32
		var key uintptr
		var ov *windows.Overlapped
		err := windows.GetQueuedCompletionStatus(d.port, &qty, &key, &ov, windows.INFINITE)

		if key == interruptKey && ov == nil {
			return completion{}, false
		}
		if ov == nil {
			logrus.WithFields(logrus.Fields{
				"function": "wait",
				"error":    errString(err),
			}).Error("GetQueuedCompletionStatus failed without a packet")
			continue
		}

		tok, ok := d.untrack(ov)
		if !ok {
			continue
		}
		return d.translate(tok, qty, err), true
	}
}

// translate converts a dequeued packet into the operation's Result.
func (d *iocp) translate(tok Token, qty uint32, err error) completion {
	c := completion{tok: tok, err: err}
	if err != nil {
		return c
	}

	d.slots.with(tok, func(s *slot) {
		c.res.N = int(qty)
		switch s.req.Op {
		case OpAccept:
			c.res.FD = s.req.AcceptFD
			var local, remote *windows.RawSockaddrAny
			var localLen, remoteLen int32
			windows.GetAcceptExSockaddrs(&s.st.acceptBuf[0], 0, acceptAddrLen, acceptAddrLen,
				&local, &localLen, &remote, &remoteLen)
			if remote != nil && remoteLen > 0 {
				c.res.From = unsafe.Slice((*byte)(unsafe.Pointer(remote)), remoteLen)
				c.res.From = append([]byte(nil), c.res.From...)
			}
		case OpRecvFrom:
			n := s.st.fromLen
			raw := unsafe.Slice((*byte)(unsafe.Pointer(&s.st.from)), n)
			c.res.From = append([]byte(nil), raw...)
		}
	})
	return c
}

func (d *iocp) wake(n int) error {
	for i := 0; i < n; i++ {
		if err := windows.PostQueuedCompletionStatus(d.port, 0, interruptKey, nil); err != nil {
			return err
		}
	}
	return nil
}

func (d *iocp) close() error {
	return windows.CloseHandle(d.port)
}

// connectEx issues ConnectEx with a raw sockaddr. The extension function is
// looked up on the socket itself since providers (TCP, Bluetooth) differ.
func connectEx(h windows.Handle, addr []byte, ov *windows.Overlapped) error {
	var fn uintptr
	var n uint32
	err := windows.WSAIoctl(h, windows.SIO_GET_EXTENSION_FUNCTION_POINTER,
		(*byte)(unsafe.Pointer(&windows.WSAID_CONNECTEX)), uint32(unsafe.Sizeof(windows.WSAID_CONNECTEX)),
		(*byte)(unsafe.Pointer(&fn)), uint32(unsafe.Sizeof(fn)), &n, nil, 0)
	if err != nil {
		return err
	}

	r1, _, e1 := syscall.SyscallN(fn, uintptr(h), uintptr(unsafe.Pointer(unsafe.SliceData(addr))), uintptr(len(addr)),
		0, 0, 0, uintptr(unsafe.Pointer(ov)))
	if r1 == 0 {
		if e1 != 0 {
			return e1
		}
		return syscall.EINVAL
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
