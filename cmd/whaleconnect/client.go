package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"

	"github.com/opd-ai/whaleconnect"
	"github.com/opd-ai/whaleconnect/config"
	"github.com/opd-ai/whaleconnect/device"
	"github.com/opd-ai/whaleconnect/engine"
	"github.com/opd-ai/whaleconnect/noise"
	"github.com/opd-ai/whaleconnect/session"
	"github.com/sirupsen/logrus"
)

// errSessionFailed is returned when the session ends with an error.
var errSessionFailed = errors.New("session ended with an error")

// runClient opens one session, sends lines from in and prints the console
// to out until the session ends or ctx is canceled.
func runClient(ctx context.Context, cfg *CLIConfig, settings *config.Settings, in io.Reader, out io.Writer) error {
	backend, _ := engine.ParseBackend(cfg.backend)
	buf := session.NewBuffer(nil)
	options := &whaleconnect.Options{
		Settings:  settings,
		Backend:   backend,
		TLSConfig: &tls.Config{InsecureSkipVerify: cfg.tlsInsecure},
		Console:   func(string) session.Console { return buf },
	}

	extra := ""
	switch {
	case cfg.useTLS:
		extra = "TLS"
	case cfg.useNoise:
		keys, err := noiseKeys(cfg)
		if err != nil {
			return err
		}
		var peer []byte
		if cfg.noisePeer != "" {
			peer, _ = noise.ParseKey(cfg.noisePeer)
		}
		options.Channel = noise.InitiatorFactory(keys, peer)
		extra = "Noise"
		fmt.Fprintf(out, "Noise public key: %s\n", keys.PublicHex())
	}

	app, err := whaleconnect.New(options)
	if err != nil {
		return err
	}
	defer app.Kill()

	s, _, err := app.Open(targetDevice(cfg), cfg.useTLS || cfg.useNoise, extra)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, device.DisplayTitle(s.Title()))

	go readLines(ctx, in, s, lineEnding(cfg.crlf))

	ticker := session.RealTimeProvider{}.NewTicker(app.IterationInterval())
	defer ticker.Stop()

	for app.IsRunning() {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		app.Iterate()
		ended, failed := printLines(out, buf.Drain())
		if failed {
			return errSessionFailed
		}
		if ended {
			return nil
		}
	}
	return nil
}

func lineEnding(crlf bool) string {
	if crlf {
		return "\r\n"
	}
	return "\n"
}

// readLines sends each line of in through s.
func readLines(ctx context.Context, in io.Reader, s *session.Session, eol string) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if err := s.Send([]byte(scanner.Text() + eol)); err != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "readLines",
			"error":    err.Error(),
		}).Warn("Reading input failed")
	}
}

// printLines writes console lines to out. It reports whether the session
// ended and whether it ended with an error.
func printLines(out io.Writer, lines []session.Line) (ended, failed bool) {
	for _, l := range lines {
		switch l.Kind {
		case session.LineText:
			fmt.Fprint(out, l.Text)
		case session.LineInfo:
			fmt.Fprintf(out, "[INFO] %s\n", l.Text)
			if l.Text == session.MsgRemoteClosed {
				ended = true
			}
		case session.LineError:
			fmt.Fprintf(out, "[ERROR] %s\n", l.Text)
			ended, failed = true, true
		}
	}
	return ended, failed
}
