package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/opd-ai/whaleconnect/device"
	"github.com/opd-ai/whaleconnect/limits"
	"github.com/opd-ai/whaleconnect/sockets"
	"github.com/opd-ai/whaleconnect/syserr"
	"github.com/sirupsen/logrus"
)

// Console messages shown for connection state changes.
const (
	MsgConnecting   = "Connecting..."
	MsgConnected    = "Connected."
	MsgRemoteClosed = "Remote host closed connection."
	alertPrefix     = "Alert: "
)

// sendQueueSize bounds the number of unsent messages per session.
const sendQueueSize = 64

// ErrSessionClosed is returned when sending on a closed session.
var ErrSessionClosed = errors.New("session closed")

// SocketFactory creates an unconnected client socket for dev. When secure is
// set the socket must run through a secure channel.
type SocketFactory func(dev device.Device, secure bool) (*sockets.Socket, error)

// Session is one client connection and the console that displays it.
type Session struct {
	title   string
	dev     device.Device
	sock    *sockets.Socket
	console Console

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	sends  chan []byte

	open        atomic.Bool
	connected   atomic.Bool
	pendingRecv atomic.Bool
	recvSize    atomic.Int64
}

func newSession(title string, dev device.Device, sock *sockets.Socket, console Console, recvSize int) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		title:   title,
		dev:     dev,
		sock:    sock,
		console: console,
		ctx:     ctx,
		cancel:  cancel,
		sends:   make(chan []byte, sendQueueSize),
	}
	s.open.Store(true)
	s.recvSize.Store(int64(limits.ClampRecvSize(recvSize)))
	return s
}

// start connects in the background and then serves queued sends in order.
func (s *Session) start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if !s.connect() {
			return
		}
		s.sendLoop()
	}()
}

func (s *Session) connect() bool {
	s.console.AddInfo(MsgConnecting)
	if err := s.sock.Connect(s.ctx, s.dev); err != nil {
		s.errorHandler(err)
		return false
	}
	s.connected.Store(true)
	s.console.AddInfo(MsgConnected)

	logrus.WithFields(logrus.Fields{
		"function": "connect",
		"session":  device.DisplayTitle(s.title),
	}).Info("Session connected")
	return true
}

func (s *Session) sendLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case data := <-s.sends:
			if err := sockets.SendAll(s.ctx, s.sock, data); err != nil {
				s.errorHandler(err)
			}
		}
	}
}

// Title returns the unique title of the session.
func (s *Session) Title() string {
	return s.title
}

// Device returns the remote device.
func (s *Session) Device() device.Device {
	return s.dev
}

// Console returns the session's output sink.
func (s *Session) Console() Console {
	return s.console
}

// IsOpen reports whether the session has not been closed locally.
func (s *Session) IsOpen() bool {
	return s.open.Load()
}

// Connected reports whether the connection is established and not yet
// closed by either side.
func (s *Session) Connected() bool {
	return s.connected.Load()
}

// RecvSize returns the size used for the next receive.
func (s *Session) RecvSize() int {
	return int(s.recvSize.Load())
}

// SetRecvSize changes the receive size. A receive already in flight keeps
// the size it was started with; the new size applies from the next one.
func (s *Session) SetRecvSize(size int) error {
	if err := limits.ValidateRecvSize(size); err != nil {
		return err
	}
	s.recvSize.Store(int64(size))
	return nil
}

// Send queues data for sending. Data queued before the connection is
// established is sent once it is. Empty and oversized messages are rejected.
func (s *Session) Send(data []byte) error {
	if err := limits.ValidateMessageSize(data, limits.MaxSendSize); err != nil {
		return err
	}
	if !s.open.Load() {
		return ErrSessionClosed
	}
	select {
	case s.sends <- data:
		return nil
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
}

// poll starts a receive unless the session is not connected or one is
// already in flight.
func (s *Session) poll() {
	if !s.connected.Load() || !s.pendingRecv.CompareAndSwap(false, true) {
		return
	}
	size := s.RecvSize()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.pendingRecv.Store(false)
		s.readHandler(size)
	}()
}

func (s *Session) readHandler(size int) {
	res, err := s.sock.Recv(s.ctx, size)
	if err != nil {
		s.errorHandler(err)
		return
	}

	if res.Complete {
		if res.Closed {
			s.console.AddInfo(MsgRemoteClosed)
			s.disconnect()
		} else if len(res.Data) > 0 {
			s.console.AddText(string(res.Data))
		}
	}

	if res.Alert != nil {
		if res.Alert.Fatal {
			s.console.AddError(alertPrefix + res.Alert.Desc)
			s.disconnect()
		} else {
			s.console.AddInfo(alertPrefix + res.Alert.Desc)
		}
	}
}

// errorHandler shows err on the console and drops the connection. Errors
// caused by cancellation are not shown.
func (s *Session) errorHandler(err error) {
	if syserr.IsCanceled(err) {
		logrus.WithFields(logrus.Fields{
			"function": "errorHandler",
			"session":  device.DisplayTitle(s.title),
		}).Debug("Suppressed cancellation error")
		return
	}
	s.console.AddError(fmt.Sprint(err))
	s.disconnect()
}

func (s *Session) disconnect() {
	s.connected.Store(false)
	_ = s.sock.Close()
}

// Close closes the connection and waits for the session's goroutines to
// finish. It is idempotent.
func (s *Session) Close() error {
	if !s.open.CompareAndSwap(true, false) {
		return nil
	}
	s.connected.Store(false)
	s.cancel()
	err := s.sock.Close()
	s.wg.Wait()

	logrus.WithFields(logrus.Fields{
		"function": "Close",
		"session":  device.DisplayTitle(s.title),
	}).Debug("Session closed")
	return err
}
