// Package config holds the runtime settings of the socket engine and the
// session list, with defaults and environment overrides.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/opd-ai/whaleconnect/limits"
	"github.com/sirupsen/logrus"
)

// Validation constants for configuration bounds checking.
const (
	// MinNumThreads is the minimum worker count (0 selects the hardware concurrency).
	MinNumThreads = 0
	// MaxNumThreads is the maximum worker count.
	MaxNumThreads = 256
	// MinConnectTimeout is the minimum connect timeout in milliseconds.
	MinConnectTimeout = 100
	// MaxConnectTimeout is the maximum connect timeout in milliseconds (10 minutes).
	MaxConnectTimeout = 600000
)

// Environment variables read by ApplyEnvironmentOverrides.
const (
	EnvNumThreads     = "WHALECONNECT_NUM_THREADS"
	EnvConnectTimeout = "WHALECONNECT_CONNECT_TIMEOUT"
	EnvRecvSize       = "WHALECONNECT_RECV_SIZE"
	EnvUseDNS         = "WHALECONNECT_USE_DNS"
)

// Settings configures the engine, sockets and sessions.
type Settings struct {
	// NumThreads is the number of completion workers; 0 uses runtime.NumCPU.
	NumThreads int
	// ConnectTimeout bounds a client connect; 0 disables the bound.
	ConnectTimeout time.Duration
	// RecvSize is the default receive buffer size for new sessions.
	RecvSize int
	// UseDNS allows host names to be resolved; otherwise addresses must be numeric.
	UseDNS bool
	// IterationInterval is the recommended delay between session list polls.
	IterationInterval time.Duration
}

// NewSettings returns the default settings.
//
// Default Value Rationale:
//   - NumThreads: 0 - one worker per CPU
//   - ConnectTimeout: 5s - long enough for slow links, short enough to notice dead hosts
//   - RecvSize: 1024 bytes - one console line's worth of data per poll
//   - IterationInterval: 16ms - roughly one poll per frame at 60 Hz
func NewSettings() *Settings {
	return &Settings{
		NumThreads:        0,
		ConnectTimeout:    5 * time.Second,
		RecvSize:          limits.DefaultRecvSize,
		UseDNS:            true,
		IterationInterval: 16 * time.Millisecond,
	}
}

// Load returns the default settings with environment overrides applied.
func Load() *Settings {
	s := NewSettings()
	ApplyEnvironmentOverrides(s)
	logSettings(s)
	return s
}

// ApplyEnvironmentOverrides updates settings from WHALECONNECT_* variables.
// Invalid or out-of-range values are logged and ignored.
func ApplyEnvironmentOverrides(s *Settings) {
	parseNumThreads(s)
	parseConnectTimeout(s)
	parseRecvSize(s)
	parseUseDNS(s)
}

// parseNumThreads updates NumThreads from WHALECONNECT_NUM_THREADS.
func parseNumThreads(s *Settings) {
	n, ok := parseIntEnv("parseNumThreads", EnvNumThreads, s.NumThreads, MinNumThreads, MaxNumThreads)
	if ok {
		s.NumThreads = n
	}
}

// parseConnectTimeout updates ConnectTimeout from WHALECONNECT_CONNECT_TIMEOUT (milliseconds).
func parseConnectTimeout(s *Settings) {
	ms, ok := parseIntEnv("parseConnectTimeout", EnvConnectTimeout, int(s.ConnectTimeout/time.Millisecond), MinConnectTimeout, MaxConnectTimeout)
	if ok {
		s.ConnectTimeout = time.Duration(ms) * time.Millisecond
	}
}

// parseRecvSize updates RecvSize from WHALECONNECT_RECV_SIZE.
func parseRecvSize(s *Settings) {
	n, ok := parseIntEnv("parseRecvSize", EnvRecvSize, s.RecvSize, limits.MinRecvSize, limits.MaxRecvSize)
	if ok {
		s.RecvSize = n
	}
}

// parseUseDNS updates UseDNS from WHALECONNECT_USE_DNS.
func parseUseDNS(s *Settings) {
	str := os.Getenv(EnvUseDNS)
	if str == "" {
		return
	}
	v, err := strconv.ParseBool(str)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseUseDNS",
			"env_var":     EnvUseDNS,
			"value":       str,
			"error":       err.Error(),
			"using_value": s.UseDNS,
		}).Warn("Failed to parse environment variable, using default")
		return
	}
	s.UseDNS = v
}

// parseIntEnv reads an integer variable and checks it against [min, max].
func parseIntEnv(function, envVar string, current, min, max int) (int, bool) {
	str := os.Getenv(envVar)
	if str == "" {
		return 0, false
	}
	v, err := strconv.Atoi(str)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    function,
			"env_var":     envVar,
			"value":       str,
			"error":       err.Error(),
			"using_value": current,
		}).Warn("Failed to parse environment variable, using default")
		return 0, false
	}
	if v < min || v > max {
		logrus.WithFields(logrus.Fields{
			"function":    function,
			"env_var":     envVar,
			"value":       v,
			"min":         min,
			"max":         max,
			"using_value": current,
		}).Warn("Environment variable out of bounds, using default")
		return 0, false
	}
	return v, true
}

// logSettings reports the effective settings.
func logSettings(s *Settings) {
	logrus.WithFields(logrus.Fields{
		"function":        "Load",
		"num_threads":     s.NumThreads,
		"connect_timeout": s.ConnectTimeout,
		"recv_size":       s.RecvSize,
		"use_dns":         s.UseDNS,
	}).Debug("Settings loaded")
}
