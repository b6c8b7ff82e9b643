package main

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opd-ai/whaleconnect/config"
	"github.com/opd-ai/whaleconnect/device"
	"github.com/opd-ai/whaleconnect/noise"
	"github.com/opd-ai/whaleconnect/session"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *CLIConfig {
	return &CLIConfig{
		mode:           "client",
		connType:       "TCP",
		address:        "127.0.0.1",
		port:           8080,
		noisePattern:   "IK",
		backend:        "auto",
		connectTimeout: 5 * time.Second,
		recvSize:       1024,
		logLevel:       "info",
	}
}

func TestValidateCLIConfig(t *testing.T) {
	kp, err := noise.GenerateKeyPair()
	require.NoError(t, err)

	tests := []struct {
		name        string
		modify      func(c *CLIConfig)
		errContains string
	}{
		{"valid config with defaults", func(c *CLIConfig) {}, ""},
		{"invalid mode", func(c *CLIConfig) { c.mode = "proxy" }, "invalid mode"},
		{"unknown type", func(c *CLIConfig) { c.connType = "SCTP" }, "unknown connection type"},
		{"port over 65535", func(c *CLIConfig) { c.port = 70000 }, "invalid port"},
		{"client without address", func(c *CLIConfig) { c.address = "" }, "address cannot be empty"},
		{"client without port", func(c *CLIConfig) { c.port = 0 }, "port is required"},
		{"server on any port", func(c *CLIConfig) { c.mode = "server"; c.port = 0; c.address = "" }, ""},
		{"tls and noise", func(c *CLIConfig) { c.useTLS = true; c.useNoise = true }, "cannot be combined"},
		{"tls over udp", func(c *CLIConfig) { c.useTLS = true; c.connType = "UDP" }, "require TCP"},
		{"tls server", func(c *CLIConfig) { c.useTLS = true; c.mode = "server" }, "only available in client mode"},
		{"noise server", func(c *CLIConfig) { c.useNoise = true; c.mode = "server"; c.noiseKey = kp.PrivateHex() }, ""},
		{"noise client with peer", func(c *CLIConfig) { c.useNoise = true; c.noisePeer = kp.PublicHex() }, ""},
		{"bad noise key", func(c *CLIConfig) { c.useNoise = true; c.noiseKey = "xyz" }, "invalid -noise-key"},
		{"bad noise peer", func(c *CLIConfig) { c.useNoise = true; c.noisePeer = "abcd" }, "invalid -noise-peer"},
		{"bad noise pattern", func(c *CLIConfig) { c.noisePattern = "NN" }, "invalid noise pattern"},
		{"datagram bluetooth server", func(c *CLIConfig) { c.mode = "server"; c.connType = "L2CAPDgram" }, "does not support"},
		{"bad backend", func(c *CLIConfig) { c.backend = "kqueue" }, "unknown backend"},
		{"too many threads", func(c *CLIConfig) { c.threads = config.MaxNumThreads + 1 }, "threads must be"},
		{"negative timeout", func(c *CLIConfig) { c.connectTimeout = -time.Second }, "cannot be negative"},
		{"zero recv size", func(c *CLIConfig) { c.recvSize = 0 }, "receive size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := validateCLIConfig(cfg)
			if tt.errContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestParseCLIFlags(t *testing.T) {
	settings := config.NewSettings()
	settings.RecvSize = 4096
	settings.UseDNS = false

	cfg, _, err := parseCLIFlags([]string{"-address", "example.com", "-port", "443", "-tls", "-threads", "3"}, settings, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "client", cfg.mode)
	assert.Equal(t, "example.com", cfg.address)
	assert.Equal(t, uint(443), cfg.port)
	assert.True(t, cfg.useTLS)
	assert.Equal(t, 3, cfg.threads)
	assert.Equal(t, 4096, cfg.recvSize, "defaults follow the settings")
	assert.False(t, cfg.useDNS)

	built := buildSettings(cfg, settings)
	assert.Equal(t, 3, built.NumThreads)
	assert.Equal(t, settings.IterationInterval, built.IterationInterval)
	assert.Equal(t, 0, settings.NumThreads, "base settings are not modified")

	assert.Equal(t, device.Device{Type: device.TCP, Address: "example.com", Port: 443}, targetDevice(cfg))

	_, _, err = parseCLIFlags([]string{"-nope"}, settings, io.Discard)
	assert.Error(t, err)
}

func TestPrintUsage(t *testing.T) {
	_, fs, err := parseCLIFlags(nil, config.NewSettings(), io.Discard)
	require.NoError(t, err)

	var buf bytes.Buffer
	printUsage(&buf, fs)
	out := buf.String()
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "-noise-peer")
	assert.Contains(t, out, "WHALECONNECT_RECV_SIZE")
}

func TestPrintLines(t *testing.T) {
	tests := []struct {
		name       string
		lines      []session.Line
		want       string
		wantEnded  bool
		wantFailed bool
	}{
		{
			name:  "text and info",
			lines: []session.Line{{Kind: session.LineInfo, Text: session.MsgConnected}, {Kind: session.LineText, Text: "hi\n"}},
			want:  "[INFO] Connected.\nhi\n",
		},
		{
			name:      "remote close",
			lines:     []session.Line{{Kind: session.LineInfo, Text: session.MsgRemoteClosed}},
			want:      "[INFO] Remote host closed connection.\n",
			wantEnded: true,
		},
		{
			name:       "error",
			lines:      []session.Line{{Kind: session.LineError, Text: "boom"}},
			want:       "[ERROR] boom\n",
			wantEnded:  true,
			wantFailed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			ended, failed := printLines(&buf, tt.lines)
			assert.Equal(t, tt.want, buf.String())
			assert.Equal(t, tt.wantEnded, ended)
			assert.Equal(t, tt.wantFailed, failed)
		})
	}
}

func TestNoiseKeys(t *testing.T) {
	kp, err := noise.GenerateKeyPair()
	require.NoError(t, err)

	got, err := noiseKeys(&CLIConfig{noiseKey: kp.PrivateHex()})
	require.NoError(t, err)
	assert.Equal(t, kp.Public, got.Public)

	fresh, err := noiseKeys(&CLIConfig{})
	require.NoError(t, err)
	assert.NotEqual(t, kp.Public, fresh.Public)

	p, err := parsePattern("xx")
	require.NoError(t, err)
	assert.Equal(t, noise.XX, p)
}

func TestSetupLogging(t *testing.T) {
	defer logrus.SetOutput(io.Discard)
	defer logrus.SetLevel(logrus.InfoLevel)

	_, err := setupLogging("loud", "")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "whaleconnect.log")
	closer, err := setupLogging("debug", path)
	require.NoError(t, err)
	logrus.Debug("written to file")
	require.NoError(t, closer.Close())

	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	assert.Equal(t, "\n", lineEnding(false))
	assert.Equal(t, "\r\n", lineEnding(true))
	assert.True(t, strings.HasSuffix(path, ".log"))
}
