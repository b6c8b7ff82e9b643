package secure

import (
	"crypto/tls"
	"testing"

	"github.com/opd-ai/whaleconnect/device"
	"github.com/stretchr/testify/assert"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "Handshaking", Handshaking.String())
	assert.Equal(t, "Active", Active.String())
	assert.Equal(t, "Closed", Closed.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestTLSChannelServerName(t *testing.T) {
	peer := device.Device{Type: device.TCP, Address: "example.com", Port: 443}

	c := NewTLSChannel(nil, peer, Callbacks{})
	assert.Equal(t, "example.com", c.cfg.ServerName)

	base := &tls.Config{ServerName: "override.test"}
	c = NewTLSChannel(base, peer, Callbacks{})
	assert.Equal(t, "override.test", c.cfg.ServerName)
	assert.NotSame(t, base, c.cfg, "the caller's config must not be shared")
}

func TestBridgeFeedWaitsForReader(t *testing.T) {
	var emitted [][]byte
	b := newBridge(func(p []byte) { emitted = append(emitted, p) })

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 8)
		n, _ := b.Read(buf)
		_, _ = b.Write([]byte("ack"))
		got <- buf[:n]
		// block again so feed can return
		_, _ = b.Read(buf)
	}()

	b.feed([]byte("hello"))
	assert.Equal(t, "hello", string(<-got))
	assert.Equal(t, [][]byte{[]byte("ack")}, emitted)

	b.Close()
	b.feed([]byte("ignored"))
	_, err := b.Write([]byte("x"))
	assert.Error(t, err)
}
