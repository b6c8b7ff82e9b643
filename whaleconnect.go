// Package whaleconnect implements a cross-platform terminal for raw socket
// connections over TCP, UDP and Bluetooth, optionally secured with TLS or
// the Noise protocol.
//
// An App owns the asynchronous I/O engine and the list of open sessions.
// Like any event loop it is driven from one goroutine:
//
//	options := whaleconnect.NewOptions()
//	app, err := whaleconnect.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Kill()
//
//	s, _, err := app.Open(device.Device{Type: device.TCP, Address: "example.com", Port: 443}, true, "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	s.Send([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"))
//
//	for app.IsRunning() {
//	    app.Iterate()
//	    time.Sleep(app.IterationInterval())
//	}
package whaleconnect

import (
	"crypto/tls"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/opd-ai/whaleconnect/config"
	"github.com/opd-ai/whaleconnect/device"
	"github.com/opd-ai/whaleconnect/engine"
	"github.com/opd-ai/whaleconnect/secure"
	"github.com/opd-ai/whaleconnect/session"
	"github.com/opd-ai/whaleconnect/sockets"
	"github.com/opd-ai/whaleconnect/syserr"
	"github.com/sirupsen/logrus"
)

// Options contains configuration options for creating an App.
type Options struct {
	// Settings holds the engine and session settings.
	Settings *config.Settings
	// Backend selects the I/O driver.
	Backend engine.Backend
	// TLSConfig is used for secure sessions when Channel is nil.
	TLSConfig *tls.Config
	// Channel, when set, creates the secure channel of secure sessions in
	// place of TLS.
	Channel secure.ChannelFactory
	// Console creates the output sink of each session.
	Console session.ConsoleFactory
}

// NewOptions creates default Options with environment overrides applied.
func NewOptions() *Options {
	return &Options{
		Settings: config.Load(),
		Backend:  engine.BackendAuto,
	}
}

// App is a running engine together with its sessions.
type App struct {
	options  *Options
	engine   *engine.Engine
	sessions *session.List
	running  atomic.Bool
}

// New creates an App with the given options.
func New(options *Options) (*App, error) {
	if options == nil {
		options = NewOptions()
	}
	if options.Settings == nil {
		options.Settings = config.NewSettings()
	}

	engineOptions := engine.NewOptions()
	engineOptions.NumThreads = options.Settings.NumThreads
	engineOptions.Backend = options.Backend
	eng, err := engine.New(engineOptions)
	if err != nil {
		return nil, fmt.Errorf("engine start failed: %w", err)
	}

	a := &App{
		options: options,
		engine:  eng,
	}
	a.sessions = session.NewList(a.newSocket,
		session.WithRecvSize(options.Settings.RecvSize),
		session.WithConsoleFactory(options.Console),
	)
	a.running.Store(true)

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"backend":  eng.Backend().String(),
		"workers":  eng.Workers(),
	}).Info("Application started")
	return a, nil
}

// SocketOptions returns the socket options derived from the settings.
func (a *App) SocketOptions() []sockets.Option {
	s := a.options.Settings
	return []sockets.Option{
		sockets.WithConnectTimeout(s.ConnectTimeout),
		sockets.WithDNS(s.UseDNS),
	}
}

// newSocket creates the client socket of a new session.
func (a *App) newSocket(dev device.Device, useSecure bool) (*sockets.Socket, error) {
	opts := a.SocketOptions()
	if !useSecure {
		return sockets.NewClientSocket(a.engine, dev.Type, opts...)
	}
	if dev.Type != device.TCP {
		return nil, fmt.Errorf("secure %s sessions: %w", dev.Type, syserr.ErrNotSupported)
	}

	factory := a.options.Channel
	if factory == nil {
		cfg := a.options.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{}
		}
		factory = secure.TLS(cfg)
	}
	return secure.NewClientSocket(a.engine, factory, opts...)
}

// Open starts a session to dev, or returns the existing session with the
// same title. secure selects an encrypted channel and is only valid for TCP.
func (a *App) Open(dev device.Device, secure bool, extraInfo string) (*session.Session, bool, error) {
	if !a.IsRunning() {
		return nil, false, syserr.ErrClosed
	}
	if err := dev.Validate(); err != nil {
		return nil, false, err
	}
	return a.sessions.Add(dev, secure, extraInfo)
}

// Sessions returns the current sessions.
func (a *App) Sessions() []*session.Session {
	return a.sessions.Sessions()
}

// Engine returns the I/O engine, for server sockets built outside a session.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Iterate performs a single iteration of the event loop: closed sessions
// are dropped and each open session is polled for data.
func (a *App) Iterate() {
	if !a.IsRunning() {
		return
	}
	a.sessions.Update()
}

// IterationInterval returns the recommended interval between iterations.
func (a *App) IterationInterval() time.Duration {
	return a.options.Settings.IterationInterval
}

// IsRunning checks if the App is still running.
func (a *App) IsRunning() bool {
	return a.running.Load()
}

// Kill closes every session and stops the engine. It must be called from
// the goroutine that calls Iterate.
func (a *App) Kill() {
	if !a.running.CompareAndSwap(true, false) {
		return
	}
	a.sessions.CloseAll()
	if err := a.engine.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Kill",
			"error":    err.Error(),
		}).Warn("Engine shutdown reported an error")
	}

	logrus.WithFields(logrus.Fields{
		"function": "Kill",
	}).Info("Application stopped")
}
