package session

import (
	"errors"

	"github.com/opd-ai/whaleconnect/device"
	"github.com/opd-ai/whaleconnect/limits"
	"github.com/sirupsen/logrus"
)

// ErrNoFactory is returned by Add when the list has no socket factory.
var ErrNoFactory = errors.New("no socket factory")

// List holds the sessions of an application. It is not safe for concurrent
// use; it belongs to the goroutine that runs the application loop.
type List struct {
	newSocket  SocketFactory
	newConsole ConsoleFactory
	recvSize   int
	sessions   []*Session
}

// ListOption configures a List.
type ListOption func(*List)

// WithRecvSize sets the initial receive size of new sessions.
func WithRecvSize(size int) ListOption {
	return func(l *List) { l.recvSize = limits.ClampRecvSize(size) }
}

// WithConsoleFactory sets how consoles are created for new sessions. The
// default keeps output in a Buffer.
func WithConsoleFactory(f ConsoleFactory) ListOption {
	return func(l *List) {
		if f != nil {
			l.newConsole = f
		}
	}
}

// NewList returns an empty list creating sockets with newSocket.
func NewList(newSocket SocketFactory, opts ...ListOption) *List {
	l := &List{
		newSocket:  newSocket,
		newConsole: func(string) Console { return NewBuffer(nil) },
		recvSize:   limits.DefaultRecvSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Add opens a session to dev unless one with the same title already exists,
// in which case that session is returned with isNew set to false.
func (l *List) Add(dev device.Device, secure bool, extraInfo string) (s *Session, isNew bool, err error) {
	title := dev.Title(extraInfo)
	if existing := l.Find(title); existing != nil {
		return existing, false, nil
	}
	if l.newSocket == nil {
		return nil, false, ErrNoFactory
	}

	sock, err := l.newSocket(dev, secure)
	if err != nil {
		return nil, false, err
	}

	s = newSession(title, dev, sock, l.newConsole(title), l.recvSize)
	l.sessions = append(l.sessions, s)
	s.start()

	logrus.WithFields(logrus.Fields{
		"function": "Add",
		"session":  device.DisplayTitle(title),
		"secure":   secure,
	}).Info("Session opened")
	return s, true, nil
}

// Find returns the session with the given title, or nil.
func (l *List) Find(title string) *Session {
	for _, s := range l.sessions {
		if s.title == title {
			return s
		}
	}
	return nil
}

// Update removes closed sessions and polls every open one for incoming
// data. Call it once per tick.
func (l *List) Update() {
	open := l.sessions[:0]
	for _, s := range l.sessions {
		if s.IsOpen() {
			open = append(open, s)
		}
	}
	clear(l.sessions[len(open):])
	l.sessions = open

	for _, s := range l.sessions {
		s.poll()
	}
}

// Sessions returns the sessions currently in the list.
func (l *List) Sessions() []*Session {
	return append([]*Session(nil), l.sessions...)
}

// Len returns the number of sessions in the list.
func (l *List) Len() int {
	return len(l.sessions)
}

// CloseAll closes every session and empties the list.
func (l *List) CloseAll() {
	for _, s := range l.sessions {
		_ = s.Close()
	}
	l.sessions = nil
}
