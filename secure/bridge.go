package secure

import (
	"net"
	"sync"
	"time"
)

type bridgeAddr struct{}

func (bridgeAddr) Network() string { return "overlay" }
func (bridgeAddr) String() string  { return "overlay" }

// bridge is the in-memory net.Conn a crypto/tls session runs over. Reads
// are served from ciphertext handed in by feed; writes go straight to emit.
// feed returns once the session goroutine has consumed the data and is
// blocked waiting for more, or has exited.
type bridge struct {
	mu      sync.Mutex
	cond    *sync.Cond
	in      []byte
	waiting bool
	done    bool
	closed  bool
	emit    func([]byte)
}

func newBridge(emit func([]byte)) *bridge {
	b := &bridge{emit: emit}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *bridge) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.in) == 0 {
		if b.closed {
			return 0, net.ErrClosed
		}
		b.waiting = true
		b.cond.Broadcast()
		b.cond.Wait()
		b.waiting = false
	}
	n := copy(p, b.in)
	b.in = b.in[n:]
	return n, nil
}

func (b *bridge) Write(p []byte) (int, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return 0, net.ErrClosed
	}
	b.emit(append([]byte(nil), p...))
	return len(p), nil
}

// feed appends ciphertext and waits until the reader is idle again.
func (b *bridge) feed(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.in = append(b.in, p...)
	b.cond.Broadcast()
	for !(b.waiting && len(b.in) == 0) && !b.done && !b.closed {
		b.cond.Wait()
	}
}

// markDone records that the session goroutine exited.
func (b *bridge) markDone() {
	b.mu.Lock()
	b.done = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *bridge) isDone() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

func (b *bridge) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *bridge) Close() error {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
	return nil
}

func (b *bridge) LocalAddr() net.Addr                { return bridgeAddr{} }
func (b *bridge) RemoteAddr() net.Addr               { return bridgeAddr{} }
func (b *bridge) SetDeadline(t time.Time) error      { return nil }
func (b *bridge) SetReadDeadline(t time.Time) error  { return nil }
func (b *bridge) SetWriteDeadline(t time.Time) error { return nil }
