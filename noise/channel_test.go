package noise

import (
	"bytes"
	"testing"

	"github.com/opd-ai/whaleconnect/device"
	"github.com/opd-ai/whaleconnect/secure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// endpoint collects everything a channel produces.
type endpoint struct {
	ch     secure.Channel
	out    [][]byte
	data   [][]byte
	alerts []string
	fatal  bool
}

func (e *endpoint) callbacks() secure.Callbacks {
	return secure.Callbacks{
		Emit:    func(p []byte) { e.out = append(e.out, p) },
		Deliver: func(p []byte) { e.data = append(e.data, p) },
		Alert: func(desc string, fatal bool) {
			e.alerts = append(e.alerts, desc)
			e.fatal = e.fatal || fatal
		},
	}
}

// drain moves e's pending output into peer.
func (e *endpoint) drain(t *testing.T, peer *endpoint) {
	t.Helper()
	out := e.out
	e.out = nil
	for _, p := range out {
		require.NoError(t, peer.ch.Feed(p))
	}
}

func newPair(t *testing.T, pattern Pattern) (*endpoint, *endpoint) {
	t.Helper()
	clientKeys, serverKeys := mustKeyPair(t), mustKeyPair(t)

	client, server := &endpoint{}, &endpoint{}
	var peerKey []byte
	if pattern == IK {
		peerKey = serverKeys.Public[:]
	}

	var err error
	client.ch, err = Factory(pattern, clientKeys, peerKey, Initiator)(device.Device{}, client.callbacks())
	require.NoError(t, err)
	server.ch, err = ResponderFactory(serverKeys, pattern)(device.Device{}, server.callbacks())
	require.NoError(t, err)

	require.NoError(t, client.ch.Start())
	require.NoError(t, server.ch.Start())
	for i := 0; i < 4 && !(client.ch.Active() && server.ch.Active()); i++ {
		client.drain(t, server)
		server.drain(t, client)
	}
	require.True(t, client.ch.Active())
	require.True(t, server.ch.Active())
	return client, server
}

func TestInitiatorFactoryPicksPattern(t *testing.T) {
	keys, serverKeys := mustKeyPair(t), mustKeyPair(t)

	tests := []struct {
		name string
		peer []byte
		want Pattern
	}{
		{"known server key", serverKeys.Public[:], IK},
		{"unknown server key", nil, XX},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, err := InitiatorFactory(keys, tt.peer)(device.Device{}, (&endpoint{}).callbacks())
			require.NoError(t, err)
			hs := ch.(*Channel).hs
			assert.Equal(t, tt.want, hs.pattern)
			assert.Equal(t, Initiator, hs.role)
			assert.True(t, hs.MyTurn())
		})
	}

	ch, err := ResponderFactory(serverKeys, XX)(device.Device{}, (&endpoint{}).callbacks())
	require.NoError(t, err)
	assert.Equal(t, Responder, ch.(*Channel).hs.role)
	assert.False(t, ch.(*Channel).hs.MyTurn())
}

func TestChannelRoundTrip(t *testing.T) {
	for _, pattern := range []Pattern{IK, XX} {
		t.Run(pattern.String(), func(t *testing.T) {
			client, server := newPair(t, pattern)

			require.NoError(t, client.ch.Write([]byte("hello")))
			client.drain(t, server)
			assert.Equal(t, [][]byte{[]byte("hello")}, server.data)

			require.NoError(t, server.ch.Write([]byte("world")))
			server.drain(t, client)
			assert.Equal(t, [][]byte{[]byte("world")}, client.data)
		})
	}
}

func TestChannelReassemblesPartialFrames(t *testing.T) {
	client, server := newPair(t, IK)

	require.NoError(t, client.ch.Write([]byte("split across feeds")))
	wire := bytes.Join(client.out, nil)
	client.out = nil
	for i := range wire {
		require.NoError(t, server.ch.Feed(wire[i:i+1]))
	}
	assert.Equal(t, "split across feeds", string(bytes.Join(server.data, nil)))
}

func TestChannelChunksLargeWrites(t *testing.T) {
	client, server := newPair(t, IK)

	big := bytes.Repeat([]byte{0xA5}, maxPlaintext*2+10)
	require.NoError(t, client.ch.Write(big))
	assert.Len(t, client.out, 3)
	client.drain(t, server)
	assert.Equal(t, big, bytes.Join(server.data, nil))
}

func TestChannelCloseNotify(t *testing.T) {
	client, server := newPair(t, IK)

	client.ch.(*Channel).CloseNotify()
	client.drain(t, server)
	assert.Equal(t, []string{secure.AlertCloseNotify}, server.alerts)
	assert.False(t, server.fatal)
}

func TestChannelTamperedFrameIsFatal(t *testing.T) {
	client, server := newPair(t, IK)

	require.NoError(t, client.ch.Write([]byte("secret")))
	frame := client.out[0]
	frame[len(frame)-1] ^= 0xff

	err := server.ch.Feed(frame)
	require.Error(t, err)
	assert.True(t, server.fatal)
	assert.Empty(t, server.data)

	// the channel stays failed
	assert.Error(t, server.ch.Feed([]byte{0, 0}))
}

func TestChannelWriteBeforeHandshake(t *testing.T) {
	e := &endpoint{}
	ch, err := ResponderFactory(mustKeyPair(t), IK)(device.Device{}, e.callbacks())
	require.NoError(t, err)
	assert.Error(t, ch.Write([]byte("too early")))
	assert.Error(t, ch.Feed([]byte{0, 0}), "empty handshake frame")
	assert.True(t, e.fatal)
}

func TestChannelRemoteStaticKey(t *testing.T) {
	client, server := newPair(t, XX)
	k1, err := client.ch.(*Channel).RemoteStaticKey()
	require.NoError(t, err)
	assert.Len(t, k1, KeySize)
	_, err = server.ch.(*Channel).RemoteStaticKey()
	require.NoError(t, err)
}

// FuzzChannelFeed feeds arbitrary bytes to a responder. Processing must
// never panic, whatever the input.
func FuzzChannelFeed(f *testing.F) {
	clientKeys, err := GenerateKeyPair()
	if err != nil {
		f.Fatal(err)
	}
	serverKeys, err := GenerateKeyPair()
	if err != nil {
		f.Fatal(err)
	}

	var first []byte
	initiator, err := Factory(IK, clientKeys, serverKeys.Public[:], Initiator)(device.Device{}, secure.Callbacks{
		Emit:    func(p []byte) { first = p },
		Deliver: func([]byte) {},
		Alert:   func(string, bool) {},
	})
	if err != nil {
		f.Fatal(err)
	}
	if err := initiator.Start(); err != nil {
		f.Fatal(err)
	}

	f.Add(first)
	f.Add([]byte{})
	f.Add([]byte{0, 0})
	f.Add([]byte{0xff, 0xff, 1, 2, 3})

	f.Fuzz(func(t *testing.T, data []byte) {
		ch, err := ResponderFactory(serverKeys, IK)(device.Device{}, secure.Callbacks{
			Emit:    func([]byte) {},
			Deliver: func([]byte) {},
			Alert:   func(string, bool) {},
		})
		if err != nil {
			t.Fatal(err)
		}
		_ = ch.Feed(data)
	})
}
