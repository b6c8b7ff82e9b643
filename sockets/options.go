package sockets

import (
	"context"
	"time"

	"github.com/opd-ai/whaleconnect/device"
	"github.com/opd-ai/whaleconnect/resolve"
)

// AddressResolver resolves a device into connect or bind candidates.
type AddressResolver interface {
	Resolve(ctx context.Context, dev device.Device, useDNS bool) ([]resolve.Candidate, error)
}

// Options configures sockets built by NewClientSocket and NewServerSocket.
type Options struct {
	// ConnectTimeout bounds Connect. Zero means no bound.
	ConnectTimeout time.Duration
	// UseDNS allows host names in client addresses.
	UseDNS bool
	// Resolver turns devices into candidates.
	Resolver AddressResolver
}

// Option modifies Options.
type Option func(*Options)

// NewOptions returns the default socket options.
func NewOptions() *Options {
	return &Options{
		UseDNS:   true,
		Resolver: resolve.NewMultiResolver(),
	}
}

// WithConnectTimeout bounds Connect by d.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.ConnectTimeout = d
	}
}

// WithDNS enables or disables host name resolution.
func WithDNS(enabled bool) Option {
	return func(o *Options) {
		o.UseDNS = enabled
	}
}

// WithResolver replaces the address resolver.
func WithResolver(r AddressResolver) Option {
	return func(o *Options) {
		if r != nil {
			o.Resolver = r
		}
	}
}

func buildOptions(opts []Option) *Options {
	o := NewOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}
