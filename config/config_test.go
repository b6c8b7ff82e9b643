package config

import (
	"testing"
	"time"

	"github.com/opd-ai/whaleconnect/limits"
	"github.com/stretchr/testify/assert"
)

func TestNewSettingsDefaults(t *testing.T) {
	s := NewSettings()
	assert.Equal(t, 0, s.NumThreads)
	assert.Equal(t, 5*time.Second, s.ConnectTimeout)
	assert.Equal(t, limits.DefaultRecvSize, s.RecvSize)
	assert.True(t, s.UseDNS)
	assert.Equal(t, 16*time.Millisecond, s.IterationInterval)
}

func TestEnvironmentOverrides(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		check func(t *testing.T, s *Settings)
	}{
		{
			name: "valid values",
			env: map[string]string{
				EnvNumThreads:     "4",
				EnvConnectTimeout: "2500",
				EnvRecvSize:       "4096",
				EnvUseDNS:         "false",
			},
			check: func(t *testing.T, s *Settings) {
				assert.Equal(t, 4, s.NumThreads)
				assert.Equal(t, 2500*time.Millisecond, s.ConnectTimeout)
				assert.Equal(t, 4096, s.RecvSize)
				assert.False(t, s.UseDNS)
			},
		},
		{
			name: "unparseable values keep defaults",
			env: map[string]string{
				EnvNumThreads:     "many",
				EnvConnectTimeout: "soon",
				EnvUseDNS:         "perhaps",
			},
			check: func(t *testing.T, s *Settings) {
				assert.Equal(t, 0, s.NumThreads)
				assert.Equal(t, 5*time.Second, s.ConnectTimeout)
				assert.True(t, s.UseDNS)
			},
		},
		{
			name: "out of range values keep defaults",
			env: map[string]string{
				EnvNumThreads:     "100000",
				EnvConnectTimeout: "1",
				EnvRecvSize:       "0",
			},
			check: func(t *testing.T, s *Settings) {
				assert.Equal(t, 0, s.NumThreads)
				assert.Equal(t, 5*time.Second, s.ConnectTimeout)
				assert.Equal(t, limits.DefaultRecvSize, s.RecvSize)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			s := NewSettings()
			ApplyEnvironmentOverrides(s)
			tt.check(t, s)
		})
	}
}

func TestLoadWithoutEnvironment(t *testing.T) {
	for _, k := range []string{EnvNumThreads, EnvConnectTimeout, EnvRecvSize, EnvUseDNS} {
		t.Setenv(k, "")
	}
	assert.Equal(t, NewSettings(), Load())
}
