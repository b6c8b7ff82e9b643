package sockets

import (
	"context"

	"github.com/opd-ai/whaleconnect/device"
	"github.com/opd-ai/whaleconnect/engine"
	"github.com/opd-ai/whaleconnect/resolve"
	"github.com/opd-ai/whaleconnect/syserr"
	"github.com/sirupsen/logrus"
)

// ipClient connects TCP and UDP sockets.
type ipClient struct {
	h    *Handle
	opts *Options
}

// Connect resolves dev and tries each candidate in resolver order. Every
// attempt uses a fresh descriptor. When all candidates fail the last error
// is returned.
func (c *ipClient) Connect(ctx context.Context, dev device.Device) error {
	cands, err := c.opts.Resolver.Resolve(ctx, dev, c.opts.UseDNS)
	if err != nil {
		return err
	}

	sotype, proto := ipParams(dev.Type)
	err = resolve.Loop(cands, func(cand resolve.Candidate) error {
		fd, err := openSocket(familyOf(cand.IP), sotype, proto)
		if err != nil {
			return err
		}
		if err := c.h.reset(fd); err != nil {
			return err
		}

		sa := encodeInet(cand.AddrPort())
		if dev.Type == device.UDP {
			return connectSync(fd, sa)
		}
		return connectStream(ctx, c.h.eng, fd, familyOf(cand.IP), sa)
	})
	if err != nil {
		_ = c.h.Close()
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Connect",
		"device":   dev.String(),
	}).Debug("Connected")
	return nil
}

// connectStream runs one asynchronous connect and applies the platform
// fix-up once it completes.
func connectStream(ctx context.Context, eng *engine.Engine, fd uintptr, family int, sa []byte) error {
	if err := prepareConnect(fd, family); err != nil {
		return err
	}
	if _, err := eng.Run(ctx, engine.Request{Op: engine.OpConnect, FD: fd, Addr: sa}); err != nil {
		return err
	}
	return finishConnect(fd)
}

// btClient connects RFCOMM and L2CAP sockets.
type btClient struct {
	h *Handle
}

// Connect parses the MAC address of dev and connects to its channel or PSM.
func (c *btClient) Connect(ctx context.Context, dev device.Device) error {
	addr, err := device.ParseBDAddr(dev.Address)
	if err != nil {
		return syserr.NewAddrInfo("connect", err)
	}
	sotype, proto, err := btParams(dev.Type)
	if err != nil {
		return err
	}
	sa, err := encodeBT(dev.Type, addr, dev.Port)
	if err != nil {
		return err
	}

	fd, err := openSocket(afBluetooth, sotype, proto)
	if err != nil {
		return err
	}
	if err := c.h.reset(fd); err != nil {
		return err
	}
	if err := connectStream(ctx, c.h.eng, fd, afBluetooth, sa); err != nil {
		_ = c.h.Close()
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Connect",
		"device":   dev.String(),
	}).Debug("Connected")
	return nil
}
