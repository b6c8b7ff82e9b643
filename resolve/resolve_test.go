package resolve

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/opd-ai/whaleconnect/device"
	"github.com/opd-ai/whaleconnect/syserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookup struct {
	addrs []netip.Addr
	err   error
	hosts []string
}

func (f *fakeLookup) LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error) {
	f.hosts = append(f.hosts, host)
	return f.addrs, f.err
}

func TestIPResolver(t *testing.T) {
	lookup := &fakeLookup{addrs: []netip.Addr{
		netip.MustParseAddr("::1"),
		netip.MustParseAddr("::ffff:127.0.0.1"),
	}}
	r := NewIPResolver(lookup)

	tests := []struct {
		name    string
		address string
		useDNS  bool
		want    []string
		wantErr bool
	}{
		{"empty yields wildcards v6 first", "", false, []string{"[::]:80", "0.0.0.0:80"}, false},
		{"numeric v4", "127.0.0.1", false, []string{"127.0.0.1:80"}, false},
		{"numeric v6", "::1", false, []string{"[::1]:80"}, false},
		{"host name without DNS", "localhost", false, nil, true},
		{"host name with DNS keeps resolver order", "localhost", true, []string{"[::1]:80", "127.0.0.1:80"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cands, err := r.Resolve(context.Background(), device.Device{Type: device.TCP, Address: tt.address, Port: 80}, tt.useDNS)
			if tt.wantErr {
				require.Error(t, err)
				var se *syserr.Error
				require.True(t, errors.As(err, &se))
				assert.Equal(t, syserr.AddrInfo, se.Type)
				return
			}
			require.NoError(t, err)
			var got []string
			for _, c := range cands {
				got = append(got, c.AddrPort().String())
				assert.Equal(t, device.TCP, c.Type)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIPResolverLookupFailure(t *testing.T) {
	r := NewIPResolver(&fakeLookup{err: errors.New("no such host")})
	_, err := r.Resolve(context.Background(), device.Device{Type: device.UDP, Address: "nowhere.invalid"}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type getaddrinfo")
}

func TestCandidateFamily(t *testing.T) {
	assert.Equal(t, device.IPv4, Candidate{IP: netip.MustParseAddr("10.0.0.1")}.Family())
	assert.Equal(t, device.IPv6, Candidate{IP: netip.MustParseAddr("fe80::1")}.Family())
	assert.Equal(t, device.IPNone, Candidate{Type: device.RFCOMM}.Family())
}

func TestBluetoothResolver(t *testing.T) {
	r := &BluetoothResolver{}

	cands, err := r.Resolve(context.Background(), device.Device{Type: device.RFCOMM, Address: "01:23:45:67:89:AB", Port: 3}, false)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "01:23:45:67:89:AB", cands[0].BT.String())
	assert.Equal(t, uint16(3), cands[0].Port)

	cands, err = r.Resolve(context.Background(), device.Device{Type: device.L2CAPStream}, false)
	require.NoError(t, err)
	assert.Equal(t, device.BDAddrAny, cands[0].BT)

	_, err = r.Resolve(context.Background(), device.Device{Type: device.RFCOMM, Address: "not-a-mac"}, false)
	assert.ErrorIs(t, err, device.ErrInvalidBDAddr)
}

func TestMultiResolverRoutesByType(t *testing.T) {
	lookup := &fakeLookup{addrs: []netip.Addr{netip.MustParseAddr("192.0.2.1")}}
	mr := NewMultiResolverWith(NewIPResolver(lookup), &BluetoothResolver{})

	cands, err := mr.Resolve(context.Background(), device.Device{Type: device.UDP, Address: "example.test", Port: 9}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"example.test"}, lookup.hosts)
	assert.Equal(t, "192.0.2.1:9", cands[0].AddrPort().String())

	_, err = mr.Resolve(context.Background(), device.Device{Type: device.None}, true)
	assert.ErrorIs(t, err, device.ErrUnknownType)
}

func TestLoop(t *testing.T) {
	cands := []Candidate{
		{Type: device.TCP, IP: netip.MustParseAddr("::1")},
		{Type: device.TCP, IP: netip.MustParseAddr("127.0.0.1")},
		{Type: device.TCP, IP: netip.MustParseAddr("127.0.0.2")},
	}

	t.Run("stops at first success", func(t *testing.T) {
		var tried int
		err := Loop(cands, func(c Candidate) error {
			tried++
			if c.Family() == device.IPv4 {
				return nil
			}
			return errors.New("refused")
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, tried)
	})

	t.Run("returns last error", func(t *testing.T) {
		var n int
		err := Loop(cands, func(c Candidate) error {
			n++
			return errors.New(c.IP.String())
		})
		require.Error(t, err)
		assert.Equal(t, "127.0.0.2", err.Error())
		assert.Equal(t, 3, n)
	})

	t.Run("cancellation stops the loop", func(t *testing.T) {
		var n int
		err := Loop(cands, func(c Candidate) error {
			n++
			return context.Canceled
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, n)
	})

	t.Run("empty", func(t *testing.T) {
		assert.ErrorIs(t, Loop(nil, func(Candidate) error { return nil }), syserr.ErrNoCandidates)
	})
}
