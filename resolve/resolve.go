package resolve

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/opd-ai/whaleconnect/device"
	"github.com/opd-ai/whaleconnect/syserr"
	"github.com/sirupsen/logrus"
)

// Candidate is one concrete address a device resolved to.
type Candidate struct {
	Type device.ConnectionType
	IP   netip.Addr    // valid for IP types
	BT   device.BDAddr // valid for Bluetooth types
	Port uint16
}

// Family returns the IP family of the candidate, IPNone for Bluetooth.
func (c Candidate) Family() device.IPType {
	switch {
	case !c.IP.IsValid():
		return device.IPNone
	case c.IP.Is4() || c.IP.Is4In6():
		return device.IPv4
	default:
		return device.IPv6
	}
}

// AddrPort returns the IP candidate as a netip.AddrPort.
func (c Candidate) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(c.IP, c.Port)
}

func (c Candidate) String() string {
	if c.Type.IsBluetooth() {
		return fmt.Sprintf("%s %s port %d", c.Type, c.BT, c.Port)
	}
	return fmt.Sprintf("%s %s", c.Type, c.AddrPort())
}

// Resolver resolves devices of the transport families it supports.
type Resolver interface {
	// Resolve returns the candidates for dev in preference order
	Resolve(ctx context.Context, dev device.Device, useDNS bool) ([]Candidate, error)

	// SupportsType indicates whether this resolver can handle the connection type
	SupportsType(t device.ConnectionType) bool

	// Name returns a human-readable name for this resolver
	Name() string
}

// MultiResolver routes each device to the resolver for its family.
type MultiResolver struct {
	resolvers []Resolver
}

// NewMultiResolver creates a resolver covering IP and Bluetooth devices.
func NewMultiResolver() *MultiResolver {
	return &MultiResolver{
		resolvers: []Resolver{
			NewIPResolver(nil),
			&BluetoothResolver{},
		},
	}
}

// NewMultiResolverWith creates a resolver from an explicit resolver list.
func NewMultiResolverWith(resolvers ...Resolver) *MultiResolver {
	return &MultiResolver{resolvers: resolvers}
}

var defaultResolver = NewMultiResolver()

// Resolve resolves dev with the default resolvers.
func Resolve(ctx context.Context, dev device.Device, useDNS bool) ([]Candidate, error) {
	return defaultResolver.Resolve(ctx, dev, useDNS)
}

// Resolve resolves dev using the resolver for its connection type.
func (mr *MultiResolver) Resolve(ctx context.Context, dev device.Device, useDNS bool) ([]Candidate, error) {
	r := mr.selectResolver(dev.Type)
	if r == nil {
		return nil, syserr.NewAddrInfo("resolve", fmt.Errorf("%w: %s", device.ErrUnknownType, dev.Type))
	}

	cands, err := r.Resolve(ctx, dev, useDNS)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Resolve",
			"resolver": r.Name(),
			"device":   dev.String(),
			"error":    err.Error(),
		}).Debug("Address resolution failed")
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Resolve",
		"resolver":   r.Name(),
		"device":     dev.String(),
		"candidates": len(cands),
	}).Debug("Address resolved")
	return cands, nil
}

func (mr *MultiResolver) selectResolver(t device.ConnectionType) Resolver {
	for _, r := range mr.resolvers {
		if r.SupportsType(t) {
			return r
		}
	}
	return nil
}

// Loop calls fn for each candidate in order until one succeeds. When every
// candidate fails the error from the last attempt is returned.
func Loop(cands []Candidate, fn func(Candidate) error) error {
	if len(cands) == 0 {
		return syserr.ErrNoCandidates
	}

	var lastErr error
	for _, c := range cands {
		err := fn(c)
		if err == nil {
			return nil
		}
		if syserr.IsCanceled(err) {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"function":  "Loop",
			"candidate": c.String(),
			"error":     err.Error(),
		}).Debug("Candidate failed, trying next")
		lastErr = err
	}
	return lastErr
}

// LookupNetIP is the subset of *net.Resolver used for host lookups.
type LookupNetIP interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// IPResolver resolves TCP and UDP devices.
type IPResolver struct {
	lookup LookupNetIP
}

// NewIPResolver creates an IP resolver. A nil lookup uses net.DefaultResolver.
func NewIPResolver(lookup LookupNetIP) *IPResolver {
	if lookup == nil {
		lookup = net.DefaultResolver
	}
	return &IPResolver{lookup: lookup}
}

// Name returns the resolver name.
func (r *IPResolver) Name() string { return "IP" }

// SupportsType reports true for TCP and UDP.
func (r *IPResolver) SupportsType(t device.ConnectionType) bool { return t.IsIP() }

// Resolve returns the IP candidates for dev. An empty address yields the
// IPv6 wildcard followed by the IPv4 wildcard. Without DNS only numeric
// addresses are accepted.
func (r *IPResolver) Resolve(ctx context.Context, dev device.Device, useDNS bool) ([]Candidate, error) {
	if dev.Address == "" {
		return []Candidate{
			{Type: dev.Type, IP: netip.IPv6Unspecified(), Port: dev.Port},
			{Type: dev.Type, IP: netip.IPv4Unspecified(), Port: dev.Port},
		}, nil
	}

	if addr, err := netip.ParseAddr(dev.Address); err == nil {
		return []Candidate{{Type: dev.Type, IP: addr.Unmap(), Port: dev.Port}}, nil
	} else if !useDNS {
		return nil, syserr.NewAddrInfo("resolve", fmt.Errorf("%q is not a numeric host: %w", dev.Address, err))
	}

	addrs, err := r.lookup.LookupNetIP(ctx, "ip", dev.Address)
	if err != nil {
		if ctx.Err() != nil {
			return nil, syserr.Canceled("resolve", ctx)
		}
		return nil, syserr.NewAddrInfo("resolve", err)
	}
	if len(addrs) == 0 {
		return nil, syserr.NewAddrInfo("resolve", syserr.ErrNoCandidates)
	}

	cands := make([]Candidate, 0, len(addrs))
	for _, a := range addrs {
		cands = append(cands, Candidate{Type: dev.Type, IP: a.Unmap(), Port: dev.Port})
	}
	return cands, nil
}

// BluetoothResolver resolves RFCOMM and L2CAP devices by parsing the MAC.
type BluetoothResolver struct{}

// Name returns the resolver name.
func (r *BluetoothResolver) Name() string { return "Bluetooth" }

// SupportsType reports true for the Bluetooth connection types.
func (r *BluetoothResolver) SupportsType(t device.ConnectionType) bool { return t.IsBluetooth() }

// Resolve parses dev.Address. An empty address resolves to the any address,
// which is what a server binds to.
func (r *BluetoothResolver) Resolve(ctx context.Context, dev device.Device, useDNS bool) ([]Candidate, error) {
	if dev.Address == "" {
		return []Candidate{{Type: dev.Type, BT: device.BDAddrAny, Port: dev.Port}}, nil
	}
	bt, err := device.ParseBDAddr(dev.Address)
	if err != nil {
		return nil, syserr.NewAddrInfo("resolve", err)
	}
	return []Candidate{{Type: dev.Type, BT: bt, Port: dev.Port}}, nil
}
