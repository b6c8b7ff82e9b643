//go:build linux

package secure

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/opd-ai/whaleconnect/device"
	"github.com/opd-ai/whaleconnect/engine"
	"github.com/opd-ai/whaleconnect/sockets"
	"github.com/opd-ai/whaleconnect/syserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	eng, err := engine.New(engine.NewOptions())
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng
}

func serverDevice(t *testing.T, srv *httptest.Server) device.Device {
	t.Helper()
	ap, err := netip.ParseAddrPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	return device.Device{Type: device.TCP, Address: ap.Addr().String(), Port: ap.Port()}
}

func TestTLSUntrustedCertificate(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	eng := newTestEngine(t)

	sock, err := NewClientSocket(eng, TLS(&tls.Config{}), sockets.WithDNS(false))
	require.NoError(t, err)
	defer sock.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = sock.Connect(ctx, serverDevice(t, srv))
	require.Error(t, err)

	var certErr *tls.CertificateVerificationError
	assert.True(t, errors.As(err, &certErr), "got %T: %v", err, err)
	var authErr x509.UnknownAuthorityError
	assert.True(t, errors.As(err, &authErr))

	_, err = sock.Send(ctx, []byte("GET / HTTP/1.1\r\n\r\n"))
	assert.ErrorIs(t, err, syserr.ErrNotConnected)
	_, err = sock.Recv(ctx, 1024)
	assert.ErrorIs(t, err, syserr.ErrNotConnected)
}

func TestTLSRequestEndsWithCloseNotify(t *testing.T) {
	body := strings.Repeat("whaleconnect ", 5000)
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Write([]byte(body))
	}))
	defer srv.Close()
	eng := newTestEngine(t)

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	sock, err := NewClientSocket(eng, TLS(&tls.Config{RootCAs: pool}), sockets.WithDNS(false))
	require.NoError(t, err)
	defer sock.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, sock.Connect(ctx, serverDevice(t, srv)))

	req := "GET / HTTP/1.1\r\nHost: localhost\r\nConnection: close\r\n\r\n"
	n, err := sock.Send(ctx, []byte(req))
	require.NoError(t, err)
	assert.Equal(t, len(req), n)

	var (
		response strings.Builder
		alerts   []sockets.Alert
		closed   bool
	)
	for !closed {
		res, err := sock.Recv(ctx, 1024)
		require.NoError(t, err)
		if !res.Complete {
			continue
		}
		switch {
		case res.Closed:
			closed = true
		case res.Alert != nil:
			alerts = append(alerts, *res.Alert)
		default:
			assert.Empty(t, alerts, "no data may follow close_notify")
			assert.LessOrEqual(t, len(res.Data), 1024)
			response.Write(res.Data)
		}
	}

	assert.True(t, strings.HasPrefix(response.String(), "HTTP/1.1 200 OK"))
	assert.True(t, strings.HasSuffix(response.String(), body))
	require.Len(t, alerts, 1)
	assert.Equal(t, sockets.Alert{Desc: AlertCloseNotify, Fatal: false}, alerts[0])
}

func TestTLSSendBeforeConnect(t *testing.T) {
	eng := newTestEngine(t)
	sock, err := NewClientSocket(eng, TLS(nil))
	require.NoError(t, err)

	_, err = sock.Send(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, syserr.ErrNotConnected)
	require.NoError(t, sock.Close())
	require.NoError(t, sock.Close())
}
