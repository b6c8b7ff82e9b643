package sockets

import (
	"context"
	"errors"
	"fmt"

	"github.com/opd-ai/whaleconnect/device"
	"github.com/opd-ai/whaleconnect/engine"
	"github.com/opd-ai/whaleconnect/limits"
	"github.com/opd-ai/whaleconnect/resolve"
	"github.com/opd-ai/whaleconnect/syserr"
	"github.com/sirupsen/logrus"
)

var errFamily = errors.New("address family not supported for servers")

// boundName reads the local address of a bound socket.
var boundName = localName

// ipServer serves TCP and UDP.
type ipServer struct {
	h      *Handle
	t      device.ConnectionType
	opts   *Options
	family int
}

// StartServer binds the first IPv4 or IPv6 candidate for dev that works and,
// for TCP, starts listening.
func (s *ipServer) StartServer(dev device.Device) (ServerAddress, error) {
	dev.Type = s.t
	cands, err := s.opts.Resolver.Resolve(context.Background(), dev, s.opts.UseDNS)
	if err != nil {
		return ServerAddress{}, err
	}

	sotype, proto := ipParams(s.t)
	var ipType device.IPType
	err = resolve.Loop(cands, func(cand resolve.Candidate) error {
		ipType = cand.Family()
		if ipType != device.IPv4 && ipType != device.IPv6 {
			return errFamily
		}

		family := familyOf(cand.IP)
		fd, err := openSocket(family, sotype, proto)
		if err != nil {
			return err
		}
		if err := s.h.reset(fd); err != nil {
			return err
		}
		if err := bindSocket(fd, encodeInet(cand.AddrPort())); err != nil {
			return err
		}
		if s.t == device.TCP {
			if err := listenSocket(fd); err != nil {
				return err
			}
		}
		s.family = family
		return nil
	})
	if err != nil {
		_ = s.h.Close()
		return ServerAddress{}, err
	}

	fd, _ := s.h.FD()
	raw, err := boundName(fd)
	if err != nil {
		_ = s.h.Close()
		return ServerAddress{}, err
	}
	ap, err := decodeInet(raw)
	if err != nil {
		_ = s.h.Close()
		return ServerAddress{}, syserr.New("getsockname", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "StartServer",
		"type":     s.t.String(),
		"address":  ap.String(),
	}).Info("Server started")
	return ServerAddress{Port: ap.Port(), IPType: ipType}, nil
}

// Accept waits for one inbound TCP connection.
func (s *ipServer) Accept(ctx context.Context) (AcceptResult, error) {
	sotype, proto := ipParams(s.t)
	res, err := acceptOne(ctx, s.h, s.family, sotype, proto)
	if err != nil {
		return AcceptResult{}, err
	}

	dev, err := deviceFromSockaddr(s.t, res.From)
	if err != nil {
		_ = closeSocket(res.FD)
		return AcceptResult{}, syserr.New("accept", err)
	}
	return newIncoming(s.h.eng, res.FD, dev)
}

// RecvFrom receives one datagram and reports its sender.
func (s *ipServer) RecvFrom(ctx context.Context, size int) (DgramRecvResult, error) {
	if err := limits.ValidateRecvSize(size); err != nil {
		return DgramRecvResult{}, err
	}
	fd, err := s.h.fdOrErr("recvfrom")
	if err != nil {
		return DgramRecvResult{}, err
	}

	buf := make([]byte, size)
	res, err := s.h.eng.Run(ctx, engine.Request{Op: engine.OpRecvFrom, FD: fd, Buf: buf})
	if err != nil {
		return DgramRecvResult{}, err
	}
	from, err := deviceFromSockaddr(s.t, res.From)
	if err != nil {
		return DgramRecvResult{}, syserr.New("recvfrom", err)
	}
	return DgramRecvResult{From: from, Data: buf[:res.N]}, nil
}

// SendTo sends data as one datagram to dev, whose address must be numeric.
func (s *ipServer) SendTo(ctx context.Context, dev device.Device, data []byte) error {
	if err := limits.ValidateSendSize(data); err != nil {
		return err
	}
	fd, err := s.h.fdOrErr("sendto")
	if err != nil {
		return err
	}
	dev.Type = s.t
	cands, err := s.opts.Resolver.Resolve(ctx, dev, false)
	if err != nil {
		return err
	}

	return resolve.Loop(cands, func(cand resolve.Candidate) error {
		sa := encodeInetFor(s.family, cand.AddrPort())
		_, err := s.h.eng.Run(ctx, engine.Request{Op: engine.OpSendTo, FD: fd, Buf: data, Addr: sa})
		return err
	})
}

// btServer serves RFCOMM and L2CAP.
type btServer struct {
	h *Handle
	t device.ConnectionType
}

// StartServer binds to the local adapter on dev.Port (0 picks a free channel
// or PSM) and listens. The bound port is read back from the socket.
func (s *btServer) StartServer(dev device.Device) (ServerAddress, error) {
	sotype, proto, err := btParams(s.t)
	if err != nil {
		return ServerAddress{}, err
	}
	sa, err := encodeBT(s.t, device.BDAddrAny, dev.Port)
	if err != nil {
		return ServerAddress{}, err
	}

	fd, err := openSocket(afBluetooth, sotype, proto)
	if err != nil {
		return ServerAddress{}, err
	}
	if err := s.h.reset(fd); err != nil {
		return ServerAddress{}, err
	}
	if err := bindSocket(fd, sa); err != nil {
		_ = s.h.Close()
		return ServerAddress{}, err
	}
	if s.t.IsConnectionOriented() {
		if err := listenSocket(fd); err != nil {
			_ = s.h.Close()
			return ServerAddress{}, err
		}
	}

	raw, err := boundName(fd)
	if err != nil {
		_ = s.h.Close()
		return ServerAddress{}, err
	}
	_, port, err := decodeBT(s.t, raw)
	if err != nil {
		_ = s.h.Close()
		return ServerAddress{}, syserr.New("getsockname", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "StartServer",
		"type":     s.t.String(),
		"port":     port,
	}).Info("Server started")
	return ServerAddress{Port: port, IPType: device.IPNone}, nil
}

// Accept waits for one inbound Bluetooth connection and looks up the
// peer's name. A failed name lookup leaves the name empty.
func (s *btServer) Accept(ctx context.Context) (AcceptResult, error) {
	sotype, proto, err := btParams(s.t)
	if err != nil {
		return AcceptResult{}, err
	}
	res, err := acceptOne(ctx, s.h, afBluetooth, sotype, proto)
	if err != nil {
		return AcceptResult{}, err
	}

	addr, port, err := decodeBT(s.t, res.From)
	if err != nil {
		_ = closeSocket(res.FD)
		return AcceptResult{}, syserr.New("accept", err)
	}
	dev := device.Device{Type: s.t, Address: addr.String(), Port: port}

	name, err := remoteName(addr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Accept",
			"device":   dev.String(),
			"error":    err.Error(),
		}).Warn("Remote name lookup failed")
	} else {
		dev.Name = name
	}
	return newIncoming(s.h.eng, res.FD, dev)
}

// RecvFrom is not available on Bluetooth sockets.
func (s *btServer) RecvFrom(context.Context, int) (DgramRecvResult, error) {
	return DgramRecvResult{}, syserr.ErrNotSupported
}

// SendTo is not available on Bluetooth sockets.
func (s *btServer) SendTo(context.Context, device.Device, []byte) error {
	return syserr.ErrNotSupported
}

// acceptOne runs one asynchronous accept on the listening handle.
func acceptOne(ctx context.Context, h *Handle, family, sotype, proto int) (engine.Result, error) {
	fd, err := h.fdOrErr("accept")
	if err != nil {
		return engine.Result{}, err
	}
	acceptFD, err := prepareAccept(fd, family, sotype, proto)
	if err != nil {
		return engine.Result{}, err
	}

	res, err := h.eng.Run(ctx, engine.Request{Op: engine.OpAccept, FD: fd, AcceptFD: acceptFD})
	if err != nil {
		if acceptFD != 0 {
			_ = closeSocket(acceptFD)
		}
		return engine.Result{}, err
	}
	if err := finishAccept(fd, res.FD); err != nil {
		_ = closeSocket(res.FD)
		return engine.Result{}, err
	}
	return res, nil
}

// newIncoming wraps an accepted descriptor in a socket that can only send
// and receive.
func newIncoming(eng *engine.Engine, fd uintptr, dev device.Device) (AcceptResult, error) {
	h, err := adoptHandle(eng, fd)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("register accepted socket: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Accept",
		"device":   dev.String(),
	}).Info("Accepted connection")
	return AcceptResult{
		Device: dev,
		Socket: Compose(h, &streamIO{h: h}, NoopClient{}, NoopServer{}),
	}, nil
}
