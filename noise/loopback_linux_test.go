//go:build linux

package noise

import (
	"context"
	"testing"
	"time"

	"github.com/opd-ai/whaleconnect/device"
	"github.com/opd-ai/whaleconnect/engine"
	"github.com/opd-ai/whaleconnect/secure"
	"github.com/opd-ai/whaleconnect/sockets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recvNext reads until the socket yields data, an alert or a close.
func recvNext(t *testing.T, ctx context.Context, s *sockets.Socket) sockets.RecvResult {
	t.Helper()
	for {
		res, err := s.Recv(ctx, 4096)
		require.NoError(t, err)
		if len(res.Data) > 0 || res.Alert != nil || res.Closed {
			return res
		}
	}
}

func TestNoiseOverTCP(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	eng, err := engine.New(engine.NewOptions())
	require.NoError(t, err)
	defer eng.Close()

	clientKeys, serverKeys := mustKeyPair(t), mustKeyPair(t)

	listener, err := sockets.NewServerSocket(eng, device.TCP)
	require.NoError(t, err)
	defer listener.Close()
	addr, err := listener.StartServer(device.Device{Type: device.TCP, Address: "127.0.0.1"})
	require.NoError(t, err)

	type accepted struct {
		sock *sockets.Socket
		err  error
	}
	done := make(chan accepted, 1)
	go func() {
		res, err := listener.Accept(ctx)
		if err != nil {
			done <- accepted{err: err}
			return
		}
		sock, err := secure.Accept(ctx, res, ResponderFactory(serverKeys, IK))
		done <- accepted{sock, err}
	}()

	client, err := secure.NewClientSocket(eng, InitiatorFactory(clientKeys, serverKeys.Public[:]), sockets.WithDNS(false))
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Connect(ctx, device.Device{Type: device.TCP, Address: "127.0.0.1", Port: addr.Port}))

	a := <-done
	require.NoError(t, a.err)
	server := a.sock
	defer server.Close()

	_, err = client.Send(ctx, []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, "ping", string(recvNext(t, ctx, server).Data))

	_, err = server.Send(ctx, []byte("pong"))
	require.NoError(t, err)
	assert.Equal(t, "pong", string(recvNext(t, ctx, client).Data))

	require.NoError(t, client.Close())

	res := recvNext(t, ctx, server)
	require.NotNil(t, res.Alert)
	assert.Equal(t, secure.AlertCloseNotify, res.Alert.Desc)
	assert.False(t, res.Alert.Fatal)
	assert.True(t, recvNext(t, ctx, server).Closed)
}

func TestNoiseWrongServerKey(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	eng, err := engine.New(engine.NewOptions())
	require.NoError(t, err)
	defer eng.Close()

	clientKeys, serverKeys, otherKeys := mustKeyPair(t), mustKeyPair(t), mustKeyPair(t)

	listener, err := sockets.NewServerSocket(eng, device.TCP)
	require.NoError(t, err)
	defer listener.Close()
	addr, err := listener.StartServer(device.Device{Type: device.TCP, Address: "127.0.0.1"})
	require.NoError(t, err)

	serverErr := make(chan error, 1)
	go func() {
		res, err := listener.Accept(ctx)
		if err == nil {
			var sock *sockets.Socket
			sock, err = secure.Accept(ctx, res, ResponderFactory(serverKeys, IK))
			if sock != nil {
				sock.Close()
			}
		}
		serverErr <- err
	}()

	client, err := secure.NewClientSocket(eng, InitiatorFactory(clientKeys, otherKeys.Public[:]), sockets.WithDNS(false))
	require.NoError(t, err)
	defer client.Close()

	// The responder fails the handshake and drops the connection, so the
	// client sees either the close or a reset.
	err = client.Connect(ctx, device.Device{Type: device.TCP, Address: "127.0.0.1", Port: addr.Port})
	assert.Error(t, err)
	assert.Error(t, <-serverErr)
}
