package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/opd-ai/whaleconnect/config"
	"github.com/opd-ai/whaleconnect/device"
	"github.com/opd-ai/whaleconnect/engine"
	"github.com/opd-ai/whaleconnect/noise"
	"github.com/opd-ai/whaleconnect/secure"
	"github.com/opd-ai/whaleconnect/sockets"
	"github.com/opd-ai/whaleconnect/syserr"
	"github.com/sirupsen/logrus"
)

// echoServer sends everything it receives back to the sender.
type echoServer struct {
	listener *sockets.Socket
	dev      device.Device
	recvSize int
	channel  secure.ChannelFactory
	out      io.Writer
	wg       sync.WaitGroup
}

// runServer starts an echo server and serves until ctx is canceled.
func runServer(ctx context.Context, cfg *CLIConfig, settings *config.Settings, out io.Writer) error {
	backend, _ := engine.ParseBackend(cfg.backend)
	engineOptions := engine.NewOptions()
	engineOptions.NumThreads = settings.NumThreads
	engineOptions.Backend = backend
	eng, err := engine.New(engineOptions)
	if err != nil {
		return err
	}
	defer eng.Close()

	srv := &echoServer{
		dev:      targetDevice(cfg),
		recvSize: settings.RecvSize,
		out:      out,
	}
	if cfg.useNoise {
		keys, err := noiseKeys(cfg)
		if err != nil {
			return err
		}
		pattern, _ := parsePattern(cfg.noisePattern)
		srv.channel = noise.ResponderFactory(keys, pattern)
		fmt.Fprintf(out, "Noise public key: %s\n", keys.PublicHex())
	}

	srv.listener, err = sockets.NewServerSocket(eng, srv.dev.Type, sockets.WithDNS(false))
	if err != nil {
		return err
	}
	defer srv.listener.Close()

	addr, err := srv.listener.StartServer(srv.dev)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s echo server listening on port %d (%s)\n", srv.dev.Type, addr.Port, addr.IPType)

	if srv.dev.Type.IsConnectionOriented() {
		err = srv.serveStreams(ctx)
	} else {
		err = srv.serveDatagrams(ctx)
	}
	srv.wg.Wait()
	return err
}

// serveStreams accepts connections and echoes each one on its own goroutine.
func (s *echoServer) serveStreams(ctx context.Context) error {
	for {
		res, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fmt.Fprintf(s.out, "Accepted %s\n", res.Device)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, res)
		}()
	}
}

func (s *echoServer) serveConn(ctx context.Context, res sockets.AcceptResult) {
	conn := res.Socket
	if s.channel != nil {
		var err error
		conn, err = secure.Accept(ctx, res, s.channel)
		if err != nil {
			s.logConnError(res.Device, err)
			return
		}
	}
	defer conn.Close()

	for {
		r, err := conn.Recv(ctx, s.recvSize)
		if err != nil {
			s.logConnError(res.Device, err)
			return
		}
		if r.Closed || (r.Alert != nil && r.Alert.Fatal) {
			fmt.Fprintf(s.out, "Closed %s\n", res.Device)
			return
		}
		if len(r.Data) == 0 {
			continue
		}
		if err := sockets.SendAll(ctx, conn, r.Data); err != nil {
			s.logConnError(res.Device, err)
			return
		}
	}
}

// serveDatagrams answers each datagram to its sender.
func (s *echoServer) serveDatagrams(ctx context.Context) error {
	for {
		r, err := s.listener.RecvFrom(ctx, s.recvSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := s.listener.SendTo(ctx, r.From, r.Data); err != nil && !syserr.IsCanceled(err) {
			logrus.WithFields(logrus.Fields{
				"function": "serveDatagrams",
				"peer":     r.From.String(),
				"error":    err.Error(),
			}).Warn("Echo reply failed")
		}
	}
}

func (s *echoServer) logConnError(peer device.Device, err error) {
	if syserr.IsCanceled(err) {
		return
	}
	fmt.Fprintf(s.out, "Connection %s failed: %v\n", peer, err)
	logrus.WithFields(logrus.Fields{
		"function": "serveConn",
		"peer":     peer.String(),
		"error":    err.Error(),
	}).Warn("Echo connection failed")
}
