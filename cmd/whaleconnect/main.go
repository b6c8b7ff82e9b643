package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opd-ai/whaleconnect/config"
	"github.com/opd-ai/whaleconnect/device"
	"github.com/opd-ai/whaleconnect/engine"
	"github.com/opd-ai/whaleconnect/limits"
	"github.com/opd-ai/whaleconnect/noise"
	"github.com/sirupsen/logrus"
)

// CLI configuration
type CLIConfig struct {
	mode           string
	connType       string
	address        string
	port           uint
	useTLS         bool
	tlsInsecure    bool
	useNoise       bool
	noiseKey       string
	noisePeer      string
	noisePattern   string
	backend        string
	threads        int
	connectTimeout time.Duration
	recvSize       int
	useDNS         bool
	crlf           bool
	logLevel       string
	logFile        string
	help           bool
}

// parseCLIFlags parses args. Defaults come from settings, so environment
// overrides apply unless a flag is given.
func parseCLIFlags(args []string, settings *config.Settings, output io.Writer) (*CLIConfig, *flag.FlagSet, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet("whaleconnect", flag.ContinueOnError)
	fs.SetOutput(output)

	// Connection
	fs.StringVar(&cfg.mode, "mode", "client", "Mode: client or server")
	fs.StringVar(&cfg.connType, "type", "TCP", "Connection type: TCP, UDP, L2CAPSeqPacket, L2CAPStream, L2CAPDgram, RFCOMM")
	fs.StringVar(&cfg.address, "address", "", "Remote address (client) or bind address (server)")
	fs.UintVar(&cfg.port, "port", 0, "Port, RFCOMM channel or L2CAP PSM")

	// Security
	fs.BoolVar(&cfg.useTLS, "tls", false, "Secure the client session with TLS")
	fs.BoolVar(&cfg.tlsInsecure, "tls-insecure", false, "Skip TLS certificate verification")
	fs.BoolVar(&cfg.useNoise, "noise", false, "Secure the session with the Noise protocol")
	fs.StringVar(&cfg.noiseKey, "noise-key", "", "Hex Noise static private key (generated when empty)")
	fs.StringVar(&cfg.noisePeer, "noise-peer", "", "Hex Noise static public key of the server (selects IK)")
	fs.StringVar(&cfg.noisePattern, "noise-pattern", "IK", "Noise pattern the server expects: IK or XX")

	// Engine and sessions
	fs.StringVar(&cfg.backend, "backend", "auto", "I/O backend: auto, io_uring, epoll, iocp")
	fs.IntVar(&cfg.threads, "threads", settings.NumThreads, "Completion worker count (0 = one per CPU)")
	fs.DurationVar(&cfg.connectTimeout, "connect-timeout", settings.ConnectTimeout, "Connect timeout (0 = none)")
	fs.IntVar(&cfg.recvSize, "recv-size", settings.RecvSize, "Receive buffer size in bytes")
	fs.BoolVar(&cfg.useDNS, "dns", settings.UseDNS, "Resolve host names")
	fs.BoolVar(&cfg.crlf, "crlf", false, "End sent lines with CRLF instead of LF")

	// Logging
	fs.StringVar(&cfg.logLevel, "log-level", "warning", "Log level (debug, info, warning, error)")
	fs.StringVar(&cfg.logFile, "log-file", "", "Log file path, rotated automatically (default: stderr)")

	fs.BoolVar(&cfg.help, "help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}
	return cfg, fs, nil
}

// printUsage prints the usage information.
func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "whaleconnect - raw socket terminal")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintf(w, "  %s [options]\n", os.Args[0])
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  # HTTPS request")
	fmt.Fprintf(w, "  %s -address example.com -port 443 -tls -crlf\n", os.Args[0])
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  # UDP echo server on port 9000")
	fmt.Fprintf(w, "  %s -mode server -type UDP -port 9000\n", os.Args[0])
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  # Noise client for a server whose public key is known")
	fmt.Fprintf(w, "  %s -address 10.0.0.2 -port 9000 -noise -noise-peer <hex>\n", os.Args[0])
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment: WHALECONNECT_NUM_THREADS, WHALECONNECT_CONNECT_TIMEOUT (ms),")
	fmt.Fprintln(w, "WHALECONNECT_RECV_SIZE and WHALECONNECT_USE_DNS set the defaults above.")
}

// validateCLIConfig validates the CLI configuration.
func validateCLIConfig(cfg *CLIConfig) error {
	if cfg.mode != "client" && cfg.mode != "server" {
		return fmt.Errorf("invalid mode %q: must be client or server", cfg.mode)
	}

	t, err := device.ParseConnectionType(cfg.connType)
	if err != nil {
		return err
	}

	if cfg.port > 65535 {
		return fmt.Errorf("invalid port: must be between 0 and 65535")
	}

	if cfg.mode == "client" {
		if cfg.address == "" {
			return fmt.Errorf("address cannot be empty in client mode")
		}
		if cfg.port == 0 {
			return fmt.Errorf("port is required in client mode")
		}
	}

	if err := validateSecurity(cfg, t); err != nil {
		return err
	}

	if cfg.mode == "server" && t == device.L2CAPDgram {
		return fmt.Errorf("echo server does not support %s", t)
	}

	if _, err := engine.ParseBackend(cfg.backend); err != nil {
		return err
	}

	if cfg.threads < config.MinNumThreads || cfg.threads > config.MaxNumThreads {
		return fmt.Errorf("threads must be between %d and %d", config.MinNumThreads, config.MaxNumThreads)
	}

	if cfg.connectTimeout < 0 {
		return fmt.Errorf("connect timeout cannot be negative")
	}

	return limits.ValidateRecvSize(cfg.recvSize)
}

func validateSecurity(cfg *CLIConfig, t device.ConnectionType) error {
	if cfg.useTLS && cfg.useNoise {
		return fmt.Errorf("-tls and -noise cannot be combined")
	}
	if (cfg.useTLS || cfg.useNoise) && t != device.TCP {
		return fmt.Errorf("secure sessions require TCP, not %s", t)
	}
	if cfg.useTLS && cfg.mode == "server" {
		return fmt.Errorf("TLS is only available in client mode")
	}

	if cfg.noiseKey != "" {
		if _, err := noise.ParseKey(cfg.noiseKey); err != nil {
			return fmt.Errorf("invalid -noise-key: %w", err)
		}
	}
	if cfg.noisePeer != "" {
		if _, err := noise.ParseKey(cfg.noisePeer); err != nil {
			return fmt.Errorf("invalid -noise-peer: %w", err)
		}
	}
	if _, err := parsePattern(cfg.noisePattern); err != nil {
		return err
	}
	return nil
}

func parsePattern(s string) (noise.Pattern, error) {
	switch strings.ToUpper(s) {
	case "IK":
		return noise.IK, nil
	case "XX":
		return noise.XX, nil
	default:
		return noise.IK, fmt.Errorf("invalid noise pattern %q: must be IK or XX", s)
	}
}

// buildSettings converts the CLI configuration into settings.
func buildSettings(cfg *CLIConfig, base *config.Settings) *config.Settings {
	s := *base
	s.NumThreads = cfg.threads
	s.ConnectTimeout = cfg.connectTimeout
	s.RecvSize = cfg.recvSize
	s.UseDNS = cfg.useDNS
	return &s
}

// targetDevice builds the device named by the flags.
func targetDevice(cfg *CLIConfig) device.Device {
	t, _ := device.ParseConnectionType(cfg.connType)
	return device.Device{Type: t, Address: cfg.address, Port: uint16(cfg.port)}
}

// noiseKeys returns the configured static key pair or a fresh one.
func noiseKeys(cfg *CLIConfig) (*noise.KeyPair, error) {
	if cfg.noiseKey == "" {
		return noise.GenerateKeyPair()
	}
	priv, err := noise.ParseKey(cfg.noiseKey)
	if err != nil {
		return nil, err
	}
	return noise.KeyPairFromPrivate(priv)
}

// setupSignalHandling cancels the context on interrupt or termination.
func setupSignalHandling(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logrus.WithFields(logrus.Fields{
			"function": "setupSignalHandling",
			"signal":   sig.String(),
		}).Info("Shutting down")
		cancel()
	}()
}

func main() {
	settings := config.Load()

	cfg, fs, err := parseCLIFlags(os.Args[1:], settings, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if cfg.help {
		printUsage(os.Stdout, fs)
		os.Exit(0)
	}

	if err := validateCLIConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Use -help for usage information.\n")
		os.Exit(1)
	}

	logCloser, err := setupLogging(cfg.logLevel, cfg.logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandling(cancel)

	settings = buildSettings(cfg, settings)
	if cfg.mode == "server" {
		err = runServer(ctx, cfg, settings, os.Stdout)
	} else {
		err = runClient(ctx, cfg, settings, os.Stdin, os.Stdout)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		logCloser.Close()
		os.Exit(1)
	}
}
