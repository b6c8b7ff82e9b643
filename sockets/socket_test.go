package sockets

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/opd-ai/whaleconnect/device"
	"github.com/opd-ai/whaleconnect/syserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingClient struct{}

func (blockingClient) Connect(ctx context.Context, dev device.Device) error {
	<-ctx.Done()
	return syserr.Canceled("connect", ctx)
}

type fakeHandle struct {
	closed int
}

func (f *fakeHandle) Close() error  { f.closed++; return nil }
func (f *fakeHandle) IsValid() bool { return f.closed == 0 }
func (f *fakeHandle) CancelIO()     {}

// chunkWriter accepts at most chunk bytes per Send.
type chunkWriter struct {
	chunk int
	got   []byte
	calls int
}

func (w *chunkWriter) Send(ctx context.Context, data []byte) (int, error) {
	w.calls++
	n := min(len(data), w.chunk)
	w.got = append(w.got, data[:n]...)
	return n, nil
}

func (w *chunkWriter) Recv(ctx context.Context, size int) (RecvResult, error) {
	return RecvResult{}, io.EOF
}

// slowReader blocks Recv until released.
type slowReader struct {
	release chan struct{}
}

func (r *slowReader) Send(ctx context.Context, data []byte) (int, error) { return len(data), nil }

func (r *slowReader) Recv(ctx context.Context, size int) (RecvResult, error) {
	<-r.release
	return RecvResult{Complete: true, Data: []byte("x")}, nil
}

func TestNoopDelegates(t *testing.T) {
	ctx := context.Background()

	assert.ErrorIs(t, NoopClient{}.Connect(ctx, device.Device{}), syserr.ErrNotSupported)

	var s NoopServer
	_, err := s.StartServer(device.Device{})
	assert.ErrorIs(t, err, syserr.ErrNotSupported)
	_, err = s.Accept(ctx)
	assert.ErrorIs(t, err, syserr.ErrNotSupported)
	_, err = s.RecvFrom(ctx, 10)
	assert.ErrorIs(t, err, syserr.ErrNotSupported)
	assert.ErrorIs(t, s.SendTo(ctx, device.Device{}, []byte("x")), syserr.ErrNotSupported)
}

func TestConnectTimeoutClosesSocket(t *testing.T) {
	h := &fakeHandle{}
	s := Compose(h, &chunkWriter{chunk: 1}, blockingClient{}, NoopServer{}, WithConnectTimeout(30*time.Millisecond))

	start := time.Now()
	err := s.Connect(context.Background(), device.Device{Type: device.TCP, Address: "192.0.2.1", Port: 1})

	require.Error(t, err)
	assert.ErrorIs(t, err, syserr.ErrTimeout)
	assert.False(t, syserr.IsCanceled(err), "a timeout is a failure, not a cancellation")
	assert.Equal(t, 1, h.closed)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestConnectParentCancelIsNotTimeout(t *testing.T) {
	h := &fakeHandle{}
	s := Compose(h, &chunkWriter{chunk: 1}, blockingClient{}, NoopServer{}, WithConnectTimeout(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Connect(ctx, device.Device{Type: device.TCP})

	assert.True(t, syserr.IsCanceled(err))
	assert.False(t, errors.Is(err, syserr.ErrTimeout))
	assert.Equal(t, 0, h.closed)
}

func TestRecvGuardRejectsSecondReceive(t *testing.T) {
	r := &slowReader{release: make(chan struct{})}
	s := Compose(&fakeHandle{}, r, NoopClient{}, NoopServer{})

	done := make(chan RecvResult, 1)
	go func() {
		res, _ := s.Recv(context.Background(), 4)
		done <- res
	}()
	require.Eventually(t, s.recvPending.Load, time.Second, time.Millisecond)

	_, err := s.Recv(context.Background(), 4)
	assert.ErrorIs(t, err, syserr.ErrRecvPending)
	_, err = s.RecvFrom(context.Background(), 4)
	assert.ErrorIs(t, err, syserr.ErrRecvPending)

	close(r.release)
	res := <-done
	assert.Equal(t, "x", string(res.Data))
	assert.False(t, s.recvPending.Load())
}

func TestSendAll(t *testing.T) {
	tests := []struct {
		name  string
		chunk int
		data  string
		calls int
	}{
		{"single write", 64, "hello", 1},
		{"partial writes", 2, "hello", 3},
		{"empty payload", 4, "", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &chunkWriter{chunk: tt.chunk}
			require.NoError(t, SendAll(context.Background(), w, []byte(tt.data)))
			assert.Equal(t, tt.data, string(w.got))
			assert.Equal(t, tt.calls, w.calls)
		})
	}
}

func TestNewSocketRejectsUnknownType(t *testing.T) {
	_, err := NewClientSocket(nil, device.None)
	assert.ErrorIs(t, err, device.ErrUnknownType)
	_, err = NewServerSocket(nil, device.ConnectionType(99))
	assert.ErrorIs(t, err, device.ErrUnknownType)
}
