//go:build linux

package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opd-ai/whaleconnect/syserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// engines returns one engine per backend this kernel supports.
func engines(t *testing.T) map[Backend]*Engine {
	t.Helper()
	out := make(map[Backend]*Engine)
	for _, b := range []Backend{BackendEpoll, BackendURing} {
		opts := NewOptions()
		opts.NumThreads = 2
		opts.Backend = b
		e, err := New(opts)
		if err != nil {
			t.Logf("backend %s unavailable: %v", b, err)
			continue
		}
		t.Cleanup(func() { e.Close() })
		out[b] = e
	}
	require.NotEmpty(t, out, "no completion backend available")
	return out
}

// socketPair returns a connected, registered pair of stream sockets.
func socketPair(t *testing.T, e *Engine) (uintptr, uintptr) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	a, b := uintptr(fds[0]), uintptr(fds[1])
	require.NoError(t, e.Add(a))
	require.NoError(t, e.Add(b))
	t.Cleanup(func() {
		e.Remove(a)
		e.Remove(b)
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return a, b
}

func TestAddTwiceFails(t *testing.T) {
	for b, e := range engines(t) {
		t.Run(b.String(), func(t *testing.T) {
			a, _ := socketPair(t, e)
			err := e.Add(a)
			assert.True(t, errors.Is(err, ErrAlreadyRegistered))
		})
	}
}

func TestRunUnregistered(t *testing.T) {
	for b, e := range engines(t) {
		t.Run(b.String(), func(t *testing.T) {
			_, err := e.Run(context.Background(), Request{Op: OpRecv, FD: 999999, Buf: make([]byte, 1)})
			assert.True(t, errors.Is(err, ErrNotRegistered))
		})
	}
}

func TestSendRecvRoundTrip(t *testing.T) {
	for b, e := range engines(t) {
		t.Run(b.String(), func(t *testing.T) {
			a, c := socketPair(t, e)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			done := make(chan Result, 1)
			errs := make(chan error, 1)
			buf := make([]byte, 64)
			go func() {
				res, err := e.Run(ctx, Request{Op: OpRecv, FD: c, Buf: buf})
				errs <- err
				done <- res
			}()

			res, err := e.Run(ctx, Request{Op: OpSend, FD: a, Buf: []byte("echo test")})
			require.NoError(t, err)
			assert.Equal(t, 9, res.N)

			require.NoError(t, <-errs)
			got := <-done
			assert.Equal(t, "echo test", string(buf[:got.N]))
		})
	}
}

func TestRecvAfterPeerShutdownReturnsZero(t *testing.T) {
	for b, e := range engines(t) {
		t.Run(b.String(), func(t *testing.T) {
			a, c := socketPair(t, e)
			require.NoError(t, unix.Shutdown(int(a), unix.SHUT_WR))

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			res, err := e.Run(ctx, Request{Op: OpRecv, FD: c, Buf: make([]byte, 16)})
			require.NoError(t, err)
			assert.Equal(t, 0, res.N)
		})
	}
}

func TestContextCancelInterruptsRecv(t *testing.T) {
	for b, e := range engines(t) {
		t.Run(b.String(), func(t *testing.T) {
			_, c := socketPair(t, e)
			ctx, cancel := context.WithCancel(context.Background())

			errs := make(chan error, 1)
			go func() {
				_, err := e.Run(ctx, Request{Op: OpRecv, FD: c, Buf: make([]byte, 16)})
				errs <- err
			}()

			time.Sleep(50 * time.Millisecond)
			cancel()

			select {
			case err := <-errs:
				assert.True(t, syserr.IsCanceled(err), "got %v", err)
			case <-time.After(3 * time.Second):
				t.Fatal("canceled recv did not complete")
			}
		})
	}
}

func TestCancelPending(t *testing.T) {
	for b, e := range engines(t) {
		t.Run(b.String(), func(t *testing.T) {
			_, c := socketPair(t, e)

			errs := make(chan error, 1)
			go func() {
				_, err := e.Run(context.Background(), Request{Op: OpRecv, FD: c, Buf: make([]byte, 16)})
				errs <- err
			}()

			require.Eventually(t, func() bool {
				return len(e.slots.pending(c, false)) == 1
			}, 2*time.Second, 5*time.Millisecond)
			require.NoError(t, e.CancelPending(c))

			select {
			case err := <-errs:
				assert.True(t, syserr.IsCanceled(err), "got %v", err)
			case <-time.After(3 * time.Second):
				t.Fatal("CancelPending did not complete the recv")
			}
		})
	}
}

func TestCloseUnblocksPendingRun(t *testing.T) {
	opts := NewOptions()
	opts.NumThreads = 1
	opts.Backend = BackendEpoll
	e, err := New(opts)
	require.NoError(t, err)

	_, c := socketPair(t, e)
	errs := make(chan error, 1)
	go func() {
		_, err := e.Run(context.Background(), Request{Op: OpRecv, FD: c, Buf: make([]byte, 16)})
		errs <- err
	}()

	require.Eventually(t, func() bool {
		return len(e.slots.pending(c, false)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close(), "Close must be idempotent")

	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("engine shutdown left a caller parked")
	}

	_, err = e.Run(context.Background(), Request{Op: OpRecv, FD: c})
	assert.True(t, errors.Is(err, ErrEngineClosed))
}

func TestDefaultWorkerCount(t *testing.T) {
	e, err := New(&Options{Backend: BackendEpoll})
	require.NoError(t, err)
	defer e.Close()
	assert.Greater(t, e.Workers(), 0)
	assert.Equal(t, BackendEpoll, e.Backend())
}
