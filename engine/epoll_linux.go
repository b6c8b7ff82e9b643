//go:build linux

package engine

import (
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"

	"github.com/opd-ai/whaleconnect/syserr"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// epollWaiters holds the operations parked on one descriptor, in
// submission order per direction.
type epollWaiters struct {
	mu      sync.Mutex
	readers []Token
	writers []Token
}

// epollDriver emulates completions on top of readiness notification: each
// request is attempted non-blocking and parked until the descriptor is ready.
type epollDriver struct {
	epfd  int
	evfd  int
	slots *slab

	mu  sync.Mutex
	fds map[int]*epollWaiters

	completions chan completion
	closing     atomic.Bool
	pollerDone  chan struct{}
}

func newEpoll(slots *slab) (*epollDriver, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, syserr.NewKernel("epoll_create1", err)
	}
	evfd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, syserr.NewKernel("eventfd", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(evfd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, evfd, &ev); err != nil {
		unix.Close(evfd)
		unix.Close(epfd)
		return nil, syserr.NewKernel("epoll_ctl", err)
	}

	d := &epollDriver{
		epfd:        epfd,
		evfd:        evfd,
		slots:       slots,
		fds:         make(map[int]*epollWaiters),
		completions: make(chan completion, 1024),
		pollerDone:  make(chan struct{}),
	}
	go d.poll()
	return d, nil
}

func (d *epollDriver) backend() Backend { return BackendEpoll }

func (d *epollDriver) register(fd uintptr) error {
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLET,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(d.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev); err != nil {
		return err
	}
	d.mu.Lock()
	d.fds[int(fd)] = &epollWaiters{}
	d.mu.Unlock()
	return nil
}

func (d *epollDriver) unregister(fd uintptr) {
	d.mu.Lock()
	w := d.fds[int(fd)]
	delete(d.fds, int(fd))
	d.mu.Unlock()

	_ = unix.EpollCtl(d.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)

	if w == nil {
		return
	}
	w.mu.Lock()
	parked := append(w.readers, w.writers...)
	w.readers, w.writers = nil, nil
	w.mu.Unlock()
	for _, tok := range parked {
		d.post(completion{tok: tok, err: syscall.ECANCELED})
	}
}

func (d *epollDriver) waiters(fd uintptr) *epollWaiters {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fds[int(fd)]
}

func (d *epollDriver) post(c completion) {
	d.completions <- c
}

// isRead reports which readiness direction op waits for.
func isRead(op Op) bool {
	return op == OpRecv || op == OpAccept || op == OpRecvFrom
}

func (d *epollDriver) submit(tok Token, s *slot) error {
	w := d.waiters(s.req.FD)
	if w == nil {
		return syscall.EBADF
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	queue := &w.writers
	if isRead(s.req.Op) {
		queue = &w.readers
	}
	if len(*queue) == 0 {
		if c, done := d.attempt(tok, s); done {
			d.post(c)
			return nil
		}
	}
	*queue = append(*queue, tok)
	return nil
}

// attempt performs the operation without blocking. It reports false if the
// descriptor is not ready yet.
func (d *epollDriver) attempt(tok Token, s *slot) (completion, bool) {
	req := &s.req
	st := &s.st
	fd := req.FD
	c := completion{tok: tok}

	for {
		var r1 uintptr
		var errno syscall.Errno

		switch req.Op {
		case OpRecv:
			r1, _, errno = unix.Syscall6(unix.SYS_RECVFROM, fd, bufPtr(req.Buf), uintptr(len(req.Buf)), 0, 0, 0)
			c.res.N = int(r1)
		case OpSend:
			r1, _, errno = unix.Syscall6(unix.SYS_SENDTO, fd, bufPtr(req.Buf), uintptr(len(req.Buf)), unix.MSG_NOSIGNAL, 0, 0)
			c.res.N = int(r1)
		case OpSendTo:
			r1, _, errno = unix.Syscall6(unix.SYS_SENDTO, fd, bufPtr(req.Buf), uintptr(len(req.Buf)), unix.MSG_NOSIGNAL,
				bufPtr(req.Addr), uintptr(len(req.Addr)))
			c.res.N = int(r1)
		case OpRecvFrom:
			st.nameLen = uint32(len(st.name))
			r1, _, errno = unix.Syscall6(unix.SYS_RECVFROM, fd, bufPtr(req.Buf), uintptr(len(req.Buf)), 0,
				uintptr(unsafe.Pointer(&st.name[0])), uintptr(unsafe.Pointer(&st.nameLen)))
			c.res.N = int(r1)
			c.res.From = fromName(&st.name, st.nameLen)
		case OpAccept:
			st.nameLen = uint32(len(st.name))
			r1, _, errno = unix.Syscall6(unix.SYS_ACCEPT4, fd, uintptr(unsafe.Pointer(&st.name[0])),
				uintptr(unsafe.Pointer(&st.nameLen)), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0, 0)
			c.res.FD = r1
			c.res.From = fromName(&st.name, st.nameLen)
		case OpConnect:
			if !st.connectStarted {
				st.connectStarted = true
				_, _, errno = unix.Syscall(unix.SYS_CONNECT, fd, bufPtr(req.Addr), uintptr(len(req.Addr)))
				if errno == unix.EINPROGRESS {
					return c, false
				}
			} else {
				soErr, err := unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ERROR)
				if err != nil {
					c.err = err
					return c, true
				}
				if soErr == 0 {
					// Spurious wakeup before the handshake finished.
					if _, perr := unix.Getpeername(int(fd)); perr == unix.ENOTCONN {
						return c, false
					}
				}
				errno = syscall.Errno(soErr)
			}
		default:
			errno = syscall.EINVAL
		}

		switch errno {
		case 0:
			return c, true
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			c.res = Result{}
			return c, false
		default:
			c.res = Result{}
			c.err = errno
			return c, true
		}
	}
}

func (d *epollDriver) cancel(tok Token, s *slot) error {
	w := d.waiters(s.req.FD)
	if w == nil {
		return nil
	}

	w.mu.Lock()
	removed := removeToken(&w.readers, tok) || removeToken(&w.writers, tok)
	w.mu.Unlock()

	if removed {
		d.post(completion{tok: tok, err: syscall.ECANCELED})
	}
	return nil
}

func removeToken(list *[]Token, tok Token) bool {
	for i, t := range *list {
		if t == tok {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}

// retry runs parked operations in order until one would block again.
func (d *epollDriver) retry(list *[]Token) {
	for len(*list) > 0 {
		tok := (*list)[0]
		s := d.slots.get(tok)
		if s == nil {
			*list = (*list)[1:]
			continue
		}
		c, done := d.attempt(tok, s)
		if !done {
			return
		}
		*list = (*list)[1:]
		d.post(c)
	}
}

// poll is the readiness loop. It exits when woken through the eventfd
// during shutdown.
func (d *epollDriver) poll() {
	defer close(d.pollerDone)

	events := make([]unix.EpollEvent, 128)
	for {
		n, err := unix.EpollWait(d.epfd, events, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "poll",
				"error":    err.Error(),
			}).Error("epoll_wait failed, stopping poller")
			return
		}

		for _, ev := range events[:n] {
			if int(ev.Fd) == d.evfd {
				var buf [8]byte
				_, _ = unix.Read(d.evfd, buf[:])
				if d.closing.Load() {
					return
				}
				continue
			}

			w := d.waiters(uintptr(ev.Fd))
			if w == nil {
				continue
			}
			w.mu.Lock()
			if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				d.retry(&w.readers)
			}
			if ev.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				d.retry(&w.writers)
			}
			w.mu.Unlock()
		}
	}
}

func (d *epollDriver) wait() (completion, bool) {
	c := <-d.completions
	if c.tok == sentinelToken {
		return completion{}, false
	}
	return c, true
}

func (d *epollDriver) wake(n int) error {
	d.closing.Store(true)
	one := [8]byte{1}
	if _, err := unix.Write(d.evfd, one[:]); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		d.post(completion{tok: sentinelToken})
	}
	return nil
}

func (d *epollDriver) close() error {
	<-d.pollerDone
	unix.Close(d.evfd)
	return unix.Close(d.epfd)
}
