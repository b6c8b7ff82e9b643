package secure

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/opd-ai/whaleconnect/device"
	"github.com/opd-ai/whaleconnect/limits"
	"github.com/opd-ai/whaleconnect/syserr"
	"github.com/sirupsen/logrus"
)

// TLSChannel is a TLS client session.
type TLSChannel struct {
	cfg *tls.Config
	cb  Callbacks
	br  *bridge

	conn   *tls.Conn
	active atomic.Bool

	mu  sync.Mutex
	err error
}

// TLS returns a factory for TLS client channels. When cfg has no ServerName
// the peer's address is used for certificate verification.
func TLS(cfg *tls.Config) ChannelFactory {
	return func(peer device.Device, cb Callbacks) (Channel, error) {
		return NewTLSChannel(cfg, peer, cb), nil
	}
}

// NewTLSChannel creates a TLS client channel for peer.
func NewTLSChannel(cfg *tls.Config, peer device.Device, cb Callbacks) *TLSChannel {
	var c *tls.Config
	if cfg != nil {
		c = cfg.Clone()
	} else {
		c = &tls.Config{}
	}
	if c.ServerName == "" {
		c.ServerName = peer.Address
	}
	return &TLSChannel{cfg: c, cb: cb, br: newBridge(cb.Emit)}
}

// Start launches the session and returns once the ClientHello is queued.
func (c *TLSChannel) Start() error {
	if c.conn != nil {
		return errors.New("tls channel already started")
	}
	c.conn = tls.Client(c.br, c.cfg)
	go c.run()
	c.br.feed(nil)
	return c.Err()
}

func (c *TLSChannel) run() {
	defer c.br.markDone()

	if err := c.conn.Handshake(); err != nil {
		if !c.br.isClosed() {
			c.fail(err)
		}
		return
	}
	c.active.Store(true)
	logrus.WithFields(logrus.Fields{
		"function": "TLSChannel.run",
		"server":   c.cfg.ServerName,
		"version":  tls.VersionName(c.conn.ConnectionState().Version),
	}).Debug("TLS handshake complete")

	buf := make([]byte, limits.MaxTLSRecord)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.cb.Deliver(append([]byte(nil), buf[:n]...))
		}
		if err == nil {
			continue
		}
		switch {
		case errors.Is(err, io.EOF):
			c.cb.Alert(AlertCloseNotify, false)
		case c.br.isClosed():
		default:
			c.fail(err)
		}
		return
	}
}

func (c *TLSChannel) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.cb.Alert(err.Error(), true)
}

// Err returns the error that ended the session, if any.
func (c *TLSChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Feed hands ciphertext to the session and waits for it to be processed.
// The returned error is the fatal error that ended the session, reported
// unchanged.
func (c *TLSChannel) Feed(ciphertext []byte) error {
	if c.conn == nil {
		return errors.New("tls channel not started")
	}
	if c.br.isDone() {
		return c.Err()
	}
	c.br.feed(ciphertext)
	return c.Err()
}

// Write encrypts plaintext into one or more records.
func (c *TLSChannel) Write(plaintext []byte) error {
	if !c.active.Load() {
		return fmt.Errorf("tls write: %w", syserr.ErrNotConnected)
	}
	_, err := c.conn.Write(plaintext)
	return err
}

// Active reports whether the handshake completed.
func (c *TLSChannel) Active() bool {
	return c.active.Load()
}

// CloseNotify queues a close_notify alert for the peer.
func (c *TLSChannel) CloseNotify() {
	if c.active.Load() {
		_ = c.conn.CloseWrite()
	}
}

// Close stops the session goroutine.
func (c *TLSChannel) Close() error {
	return c.br.Close()
}
