package secure

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/opd-ai/whaleconnect/device"
	"github.com/opd-ai/whaleconnect/engine"
	"github.com/opd-ai/whaleconnect/limits"
	"github.com/opd-ai/whaleconnect/sockets"
	"github.com/opd-ai/whaleconnect/syserr"
	"github.com/sirupsen/logrus"
)

// closeNotifyTimeout bounds the close notification sent by Close.
const closeNotifyTimeout = time.Second

// closeNotifier is implemented by channels that can tell the peer the
// session is over.
type closeNotifier interface {
	CloseNotify()
}

// State is the lifecycle state of an Overlay.
type State int32

const (
	// Handshaking until the channel reports it is active.
	Handshaking State = iota
	// Active sessions carry application data.
	Active
	// Closed sessions reject all I/O.
	Closed
)

func (s State) String() string {
	switch s {
	case Handshaking:
		return "Handshaking"
	case Active:
		return "Active"
	case Closed:
		return "Closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Overlay runs a secure Channel over a plain stream socket. It implements
// the handle, I/O and client delegates of the socket it is composed into.
type Overlay struct {
	inner      *sockets.Socket
	newChannel ChannelFactory

	mu     sync.Mutex
	ch     Channel
	state  State
	reads  *queue.Queue // sockets.RecvResult
	writes *queue.Queue // []byte
	// rest holds plaintext left over from a read entry larger than the
	// caller's buffer. It is older than anything in reads.
	rest []byte

	// sendMu keeps ciphertext entries in order on the wire.
	sendMu sync.Mutex
}

// NewOverlay wraps inner. The channel is created when the handshake starts.
func NewOverlay(inner *sockets.Socket, newChannel ChannelFactory) *Overlay {
	return &Overlay{
		inner:      inner,
		newChannel: newChannel,
		reads:      queue.New(),
		writes:     queue.New(),
	}
}

// NewClientSocket creates a TCP client socket whose traffic runs through
// channels made by newChannel.
func NewClientSocket(eng *engine.Engine, newChannel ChannelFactory, opts ...sockets.Option) (*sockets.Socket, error) {
	inner, err := sockets.NewClientSocket(eng, device.TCP, opts...)
	if err != nil {
		return nil, err
	}
	o := NewOverlay(inner, newChannel)
	return sockets.Compose(o, o, o, sockets.NoopServer{}, opts...), nil
}

// Accept runs the server side of the handshake on an accepted connection and
// returns the secured socket. The connection is closed when the handshake
// fails.
func Accept(ctx context.Context, res sockets.AcceptResult, newChannel ChannelFactory) (*sockets.Socket, error) {
	o := NewOverlay(res.Socket, newChannel)
	if err := o.Handshake(ctx, res.Device); err != nil {
		_ = o.Close()
		return nil, err
	}
	return sockets.Compose(o, o, sockets.NoopClient{}, sockets.NoopServer{}), nil
}

// State returns the current state.
func (o *Overlay) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Overlay) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Overlay) channel() Channel {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ch
}

// Connect connects the underlying socket to dev and runs the handshake.
func (o *Overlay) Connect(ctx context.Context, dev device.Device) error {
	if err := o.inner.Connect(ctx, dev); err != nil {
		o.setState(Closed)
		return err
	}
	return o.Handshake(ctx, dev)
}

// Handshake drives the channel over the connected socket until it is active
// or fails. Handshake failures are returned exactly as the channel reports
// them.
func (o *Overlay) Handshake(ctx context.Context, peer device.Device) error {
	ch, err := o.newChannel(peer, Callbacks{
		Emit:    o.pushWrite,
		Deliver: o.pushData,
		Alert:   o.pushAlert,
	})
	if err != nil {
		o.setState(Closed)
		return err
	}
	o.mu.Lock()
	o.ch = ch
	o.state = Handshaking
	o.mu.Unlock()

	if err := ch.Start(); err != nil {
		return o.abort(ctx, err)
	}
	for {
		if err := o.flush(ctx); err != nil {
			return o.abort(ctx, err)
		}
		if ch.Active() {
			o.setState(Active)
			logrus.WithFields(logrus.Fields{
				"function": "Handshake",
				"peer":     peer.String(),
			}).Debug("Secure session established")
			return nil
		}

		res, err := o.inner.Recv(ctx, limits.MaxTLSRecord)
		if err != nil {
			return o.abort(ctx, err)
		}
		if res.Closed {
			return o.abort(ctx, fmt.Errorf("handshake: peer closed connection: %w", syserr.ErrNotConnected))
		}
		if err := ch.Feed(res.Data); err != nil {
			return o.abort(ctx, err)
		}
	}
}

// abort flushes whatever the channel queued for the peer, such as a failure
// alert, and moves to Closed.
func (o *Overlay) abort(ctx context.Context, err error) error {
	_ = o.flush(ctx)
	o.mu.Lock()
	o.state = Closed
	for o.reads.Length() > 0 {
		o.reads.Remove()
	}
	o.rest = nil
	o.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Handshake",
		"error":    err.Error(),
	}).Debug("Secure handshake failed")
	return err
}

// Send encrypts data and does not return until all resulting ciphertext has
// been written to the transport.
func (o *Overlay) Send(ctx context.Context, data []byte) (int, error) {
	if o.State() != Active {
		return 0, fmt.Errorf("send: %w", syserr.ErrNotConnected)
	}
	if err := o.channel().Write(data); err != nil {
		return 0, err
	}
	if err := o.flush(ctx); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Recv returns the oldest completed read. When none is queued it reads one
// chunk of ciphertext and feeds it to the channel; if that yields nothing
// deliverable the result has Complete set to false.
//
// At most size bytes of plaintext are returned; the remainder of a larger
// record is handed out by the following calls. The ciphertext read itself is
// never smaller than one full TLS record.
func (o *Overlay) Recv(ctx context.Context, size int) (sockets.RecvResult, error) {
	if r, ok := o.popRead(size); ok {
		return r, nil
	}
	if o.State() != Active {
		return sockets.RecvResult{}, fmt.Errorf("recv: %w", syserr.ErrNotConnected)
	}

	res, err := o.inner.Recv(ctx, max(size, limits.MaxTLSRecord))
	if err != nil {
		return sockets.RecvResult{}, err
	}
	if res.Closed {
		return res, nil
	}

	feedErr := o.channel().Feed(res.Data)
	if err := o.flush(ctx); err != nil {
		return sockets.RecvResult{}, err
	}
	if r, ok := o.popRead(size); ok {
		return r, nil
	}
	if feedErr != nil {
		o.setState(Closed)
		return sockets.RecvResult{}, feedErr
	}
	return sockets.RecvResult{Complete: false}, nil
}

// flush writes queued ciphertext entries in order, each one completely.
func (o *Overlay) flush(ctx context.Context) error {
	o.sendMu.Lock()
	defer o.sendMu.Unlock()
	return o.flushLocked(ctx)
}

func (o *Overlay) flushLocked(ctx context.Context) error {
	for {
		entry, ok := o.popWrite()
		if !ok {
			return nil
		}
		if err := sockets.SendAll(ctx, o.inner, entry); err != nil {
			return err
		}
	}
}

func (o *Overlay) pushWrite(ciphertext []byte) {
	o.mu.Lock()
	o.writes.Add(ciphertext)
	o.mu.Unlock()
}

func (o *Overlay) pushData(plaintext []byte) {
	o.mu.Lock()
	o.reads.Add(sockets.RecvResult{Complete: true, Data: plaintext})
	o.mu.Unlock()
}

func (o *Overlay) pushAlert(desc string, fatal bool) {
	o.mu.Lock()
	o.reads.Add(sockets.RecvResult{Complete: true, Alert: &sockets.Alert{Desc: desc, Fatal: fatal}})
	o.mu.Unlock()
}

func (o *Overlay) popWrite() ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.writes.Length() == 0 {
		return nil, false
	}
	return o.writes.Remove().([]byte), true
}

// popRead dequeues the oldest completed read, cut to size bytes of data. A
// fatal alert closes the session once it has been handed out.
func (o *Overlay) popRead(size int) (sockets.RecvResult, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.rest) > 0 {
		return sockets.RecvResult{Complete: true, Data: o.take(o.rest, size)}, true
	}
	if o.reads.Length() == 0 {
		return sockets.RecvResult{}, false
	}
	r := o.reads.Remove().(sockets.RecvResult)
	if r.Alert != nil && r.Alert.Fatal {
		o.state = Closed
	}
	if len(r.Data) > 0 {
		r.Data = o.take(r.Data, size)
	}
	return r, true
}

// take returns the first size bytes of data and keeps the rest for the next
// read. Callers hold o.mu.
func (o *Overlay) take(data []byte, size int) []byte {
	if size <= 0 || len(data) <= size {
		o.rest = nil
		return data
	}
	o.rest = data[size:]
	return data[:size]
}

// Close notifies the peer when the session is active, then tears down the
// channel and the underlying socket. The notification is skipped when a send
// is in progress.
func (o *Overlay) Close() error {
	o.mu.Lock()
	wasActive := o.state == Active
	o.state = Closed
	ch := o.ch
	o.mu.Unlock()

	if ch != nil {
		if cn, ok := ch.(closeNotifier); ok && wasActive && o.inner.IsValid() && o.sendMu.TryLock() {
			cn.CloseNotify()
			ctx, cancel := context.WithTimeout(context.Background(), closeNotifyTimeout)
			_ = o.flushLocked(ctx)
			cancel()
			o.sendMu.Unlock()
		}
		_ = ch.Close()
	}
	return o.inner.Close()
}

// IsValid reports whether the underlying socket is open.
func (o *Overlay) IsValid() bool {
	return o.inner.IsValid()
}

// CancelIO cancels outstanding operations on the underlying socket.
func (o *Overlay) CancelIO() {
	o.inner.CancelIO()
}
