//go:build linux

package engine

import (
	"errors"
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"

	"github.com/opd-ai/whaleconnect/syserr"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// io_uring opcodes used by the driver.
const (
	opNop         = 0
	opSendmsg     = 9
	opRecvmsg     = 10
	opAccept      = 13
	opAsyncCancel = 14
	opConnect     = 16
	opSend        = 26
	opRecv        = 27
)

const (
	offSQRing = 0
	offCQRing = 0x8000000
	offSQEs   = 0x10000000

	enterGetEvents = 1 << 0

	featSingleMmap = 1 << 0
	featNoDrop     = 1 << 1
	featFastPoll   = 1 << 5

	sizeofSQE = 64
	sizeofCQE = 16
)

type sqRingOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	flags       uint32
	dropped     uint32
	array       uint32
	resv1       uint32
	userAddr    uint64
}

type cqRingOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	overflow    uint32
	cqes        uint32
	flags       uint32
	resv1       uint32
	userAddr    uint64
}

type uringParams struct {
	sqEntries    uint32
	cqEntries    uint32
	flags        uint32
	sqThreadCPU  uint32
	sqThreadIdle uint32
	features     uint32
	wqFd         uint32
	resv         [3]uint32
	sqOff        sqRingOffsets
	cqOff        cqRingOffsets
}

type uringSQE struct {
	opcode      uint8
	flags       uint8
	ioprio      uint16
	fd          int32
	off         uint64
	addr        uint64
	len         uint32
	opFlags     uint32
	userData    uint64
	bufIndex    uint16
	personality uint16
	spliceFdIn  int32
	addr3       uint64
	pad2        uint64
}

type uringCQE struct {
	userData uint64
	res      int32
	flags    uint32
}

// uring is the io_uring driver.
type uring struct {
	fd     int
	params uringParams
	slots  *slab

	sqRing []byte
	cqRing []byte
	sqes   []byte
	single bool

	sqHead  *uint32
	sqTail  *uint32
	sqMask  uint32
	sqArray unsafe.Pointer

	cqHead *uint32
	cqTail *uint32
	cqMask uint32
	cqes   unsafe.Pointer

	sqMu sync.Mutex
	cqMu sync.Mutex
}

func newURing(entries uint32, slots *slab) (*uring, error) {
	r := &uring{slots: slots}

	fd, _, errno := unix.Syscall(unix.SYS_IO_URING_SETUP, uintptr(entries), uintptr(unsafe.Pointer(&r.params)), 0)
	if errno != 0 {
		return nil, syserr.NewKernel("io_uring_setup", errno)
	}
	r.fd = int(fd)

	required := uint32(featNoDrop | featFastPoll)
	if r.params.features&required != required {
		unix.Close(r.fd)
		return nil, syserr.NewKernel("io_uring_setup", errors.New("kernel lacks IORING_FEAT_NODROP/FAST_POLL"))
	}

	if err := r.mapRings(); err != nil {
		r.close()
		return nil, err
	}
	return r, nil
}

// mapRings maps the shared rings and resolves the offsets the kernel reported.
func (r *uring) mapRings() error {
	p := &r.params
	sqSize := int(p.sqOff.array + p.sqEntries*4)
	cqSize := int(p.cqOff.cqes + p.cqEntries*sizeofCQE)
	flags := unix.MAP_SHARED | unix.MAP_POPULATE
	prot := unix.PROT_READ | unix.PROT_WRITE

	r.single = p.features&featSingleMmap != 0
	if r.single && cqSize > sqSize {
		sqSize = cqSize
	}

	var err error
	r.sqRing, err = unix.Mmap(r.fd, offSQRing, sqSize, prot, flags)
	if err != nil {
		return syserr.NewKernel("mmap", err)
	}
	if r.single {
		r.cqRing = r.sqRing
	} else {
		r.cqRing, err = unix.Mmap(r.fd, offCQRing, cqSize, prot, flags)
		if err != nil {
			return syserr.NewKernel("mmap", err)
		}
	}
	r.sqes, err = unix.Mmap(r.fd, offSQEs, int(p.sqEntries)*sizeofSQE, prot, flags)
	if err != nil {
		return syserr.NewKernel("mmap", err)
	}

	r.sqHead = (*uint32)(unsafe.Pointer(&r.sqRing[p.sqOff.head]))
	r.sqTail = (*uint32)(unsafe.Pointer(&r.sqRing[p.sqOff.tail]))
	r.sqMask = *(*uint32)(unsafe.Pointer(&r.sqRing[p.sqOff.ringMask]))
	r.sqArray = unsafe.Pointer(&r.sqRing[p.sqOff.array])

	r.cqHead = (*uint32)(unsafe.Pointer(&r.cqRing[p.cqOff.head]))
	r.cqTail = (*uint32)(unsafe.Pointer(&r.cqRing[p.cqOff.tail]))
	r.cqMask = *(*uint32)(unsafe.Pointer(&r.cqRing[p.cqOff.ringMask]))
	r.cqes = unsafe.Pointer(&r.cqRing[p.cqOff.cqes])
	return nil
}

func (r *uring) backend() Backend { return BackendURing }

// The ring needs no per-descriptor registration.
func (r *uring) register(fd uintptr) error { return nil }

func (r *uring) unregister(fd uintptr) {}

// push fills one SQE and submits it.
func (r *uring) push(fill func(sqe *uringSQE)) error {
	r.sqMu.Lock()
	defer r.sqMu.Unlock()

	head := atomic.LoadUint32(r.sqHead)
	tail := *r.sqTail
	if tail-head >= r.params.sqEntries {
		return syserr.NewKernel("io_uring_enter", syscall.EBUSY)
	}

	idx := tail & r.sqMask
	sqe := (*uringSQE)(unsafe.Pointer(&r.sqes[uintptr(idx)*sizeofSQE]))
	*sqe = uringSQE{}
	fill(sqe)
	*(*uint32)(unsafe.Add(r.sqArray, uintptr(idx)*4)) = idx
	atomic.StoreUint32(r.sqTail, tail+1)

	for {
		_, _, errno := unix.Syscall6(unix.SYS_IO_URING_ENTER, uintptr(r.fd), 1, 0, 0, 0, 0)
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return syserr.NewKernel("io_uring_enter", errno)
		}
		return nil
	}
}

func (r *uring) submit(tok Token, s *slot) error {
	req := &s.req
	st := &s.st

	if !r.slots.with(tok, func(*slot) {
		switch req.Op {
		case OpAccept:
			st.nameLen = uint32(len(st.name))
		case OpSendTo:
			r.prepareMsg(st, req.Buf)
			st.msg.Name = (*byte)(unsafe.Pointer(unsafe.SliceData(req.Addr)))
			st.msg.Namelen = uint32(len(req.Addr))
		case OpRecvFrom:
			r.prepareMsg(st, req.Buf)
			st.msg.Name = &st.name[0]
			st.msg.Namelen = uint32(len(st.name))
		}
	}) {
		return syscall.EINVAL
	}

	return r.push(func(sqe *uringSQE) {
		sqe.fd = int32(req.FD)
		sqe.userData = uint64(tok)

		switch req.Op {
		case OpSend:
			sqe.opcode = opSend
			sqe.addr = uint64(bufPtr(req.Buf))
			sqe.len = uint32(len(req.Buf))
			sqe.opFlags = unix.MSG_NOSIGNAL
		case OpRecv:
			sqe.opcode = opRecv
			sqe.addr = uint64(bufPtr(req.Buf))
			sqe.len = uint32(len(req.Buf))
		case OpConnect:
			sqe.opcode = opConnect
			sqe.addr = uint64(bufPtr(req.Addr))
			sqe.off = uint64(len(req.Addr))
		case OpAccept:
			sqe.opcode = opAccept
			sqe.addr = uint64(uintptr(unsafe.Pointer(&st.name[0])))
			sqe.off = uint64(uintptr(unsafe.Pointer(&st.nameLen)))
			sqe.opFlags = unix.SOCK_NONBLOCK | unix.SOCK_CLOEXEC
		case OpSendTo:
			sqe.opcode = opSendmsg
			sqe.addr = uint64(uintptr(unsafe.Pointer(&st.msg)))
			sqe.len = 1
			sqe.opFlags = unix.MSG_NOSIGNAL
		case OpRecvFrom:
			sqe.opcode = opRecvmsg
			sqe.addr = uint64(uintptr(unsafe.Pointer(&st.msg)))
			sqe.len = 1
		default:
			sqe.opcode = opNop
		}
	})
}

func (r *uring) prepareMsg(st *opState, buf []byte) {
	if len(buf) > 0 {
		st.iov.Base = &buf[0]
	}
	st.iov.SetLen(len(buf))
	st.msg.Iov = &st.iov
	st.msg.SetIovlen(1)
}

func (r *uring) cancel(tok Token, s *slot) error {
	return r.push(func(sqe *uringSQE) {
		sqe.opcode = opAsyncCancel
		sqe.fd = -1
		sqe.addr = uint64(tok)
		sqe.userData = uint64(cancelToken)
	})
}

// reap takes one CQE off the completion ring.
func (r *uring) reap() (uringCQE, bool) {
	r.cqMu.Lock()
	defer r.cqMu.Unlock()

	head := *r.cqHead
	if head == atomic.LoadUint32(r.cqTail) {
		return uringCQE{}, false
	}
	cqe := *(*uringCQE)(unsafe.Add(r.cqes, uintptr(head&r.cqMask)*sizeofCQE))
	atomic.StoreUint32(r.cqHead, head+1)
	return cqe, true
}

func (r *uring) wait() (completion, bool) {
	for {
		cqe, ok := r.reap()
		if !ok {
			_, _, errno := unix.Syscall6(unix.SYS_IO_URING_ENTER, uintptr(r.fd), 0, 1, enterGetEvents, 0, 0)
			if errno != 0 && errno != unix.EINTR && errno != unix.EAGAIN && errno != unix.EBUSY {
				logrus.WithFields(logrus.Fields{
					"function": "wait",
					"error":    errno.Error(),
				}).Error("io_uring_enter failed while waiting for completions")
			}
			continue
		}

		tok := Token(cqe.userData)
		switch tok {
		case sentinelToken:
			return completion{}, false
		case cancelToken:
			continue
		}
		return r.translate(tok, cqe.res), true
	}
}

// translate converts a CQE result into the operation's Result.
func (r *uring) translate(tok Token, res int32) completion {
	c := completion{tok: tok}
	if res < 0 {
		c.err = syscall.Errno(-res)
		return c
	}

	r.slots.with(tok, func(s *slot) {
		switch s.req.Op {
		case OpAccept:
			c.res.FD = uintptr(res)
			c.res.From = fromName(&s.st.name, s.st.nameLen)
		case OpRecvFrom:
			c.res.N = int(res)
			c.res.From = fromName(&s.st.name, s.st.msg.Namelen)
		default:
			c.res.N = int(res)
		}
	})
	return c
}

func (r *uring) wake(n int) error {
	for i := 0; i < n; i++ {
		err := r.push(func(sqe *uringSQE) {
			sqe.opcode = opNop
			sqe.fd = -1
			sqe.userData = uint64(sentinelToken)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *uring) close() error {
	if r.sqes != nil {
		unix.Munmap(r.sqes)
		r.sqes = nil
	}
	if r.cqRing != nil && !r.single {
		unix.Munmap(r.cqRing)
	}
	r.cqRing = nil
	if r.sqRing != nil {
		unix.Munmap(r.sqRing)
		r.sqRing = nil
	}
	return unix.Close(r.fd)
}
