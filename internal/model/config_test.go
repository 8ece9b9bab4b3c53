package model

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoPeerConfig = `
instrument:
  name: MOPTOP
peers:
  - host: moptop1
    port: 1111
    roles: [rotator]
  - host: moptop2
    port: 1112
    roles: [filter_wheel]
primary_peer_index: 1
reboot:
  enable:
    SOFTWARE: true
  acknowledge_time_ms:
    SOFTWARE: 120000
`

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(twoPeerConfig))
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.PollInterval())
	assert.Equal(t, 30*time.Second, cfg.PeerTimeout())
	assert.Equal(t, 10*time.Second, cfg.DeadlineSlack())
	assert.Equal(t, DefaultReconcileMaxAttempts, cfg.Dispatch.ReconcileMaxAttempts)
	assert.Equal(t, DefaultAcknowledgeMs, cfg.Acknowledge.DefaultMs)
	assert.Equal(t, DefaultStateDir, cfg.Daemon.StateDir)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Dispatch.DeadlineEnabled)
}

func TestConfig_Endpoints(t *testing.T) {
	cfg, err := ParseConfig([]byte(twoPeerConfig))
	require.NoError(t, err)

	eps := cfg.Endpoints()
	require.Len(t, eps, 2)
	assert.Equal(t, PeerEndpoint{Index: 1, Host: "moptop2", Port: 1112}, eps[1])
	assert.Equal(t, "moptop2:1112", eps[1].Address())
	assert.Equal(t, "peer 1 (moptop2:1112)", eps[1].String())
}

func TestConfig_RolePeer(t *testing.T) {
	cfg, err := ParseConfig([]byte(twoPeerConfig))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.RolePeer(RoleRotator))
	assert.Equal(t, 1, cfg.RolePeer(RoleFilterWheel))

	cfg.Peers[0].Roles = nil
	assert.Equal(t, 1, cfg.RolePeer(RoleRotator), "falls back to the primary peer")
}

func TestConfig_Reboot(t *testing.T) {
	cfg, err := ParseConfig([]byte(twoPeerConfig))
	require.NoError(t, err)
	assert.True(t, cfg.RebootEnabled(RebootSoftware))
	assert.False(t, cfg.RebootEnabled(RebootHardware), "absent levels are disabled")
	assert.Equal(t, 2*time.Minute, cfg.RebootAcknowledgeTime(RebootSoftware))
	assert.Equal(t, 5*time.Minute, cfg.RebootAcknowledgeTime(RebootRedatum))
}

func TestConfig_RebootLevelKeysAnyCase(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
peers:
  - host: moptop1
    port: 1111
reboot:
  enable:
    redatum: true
    Hardware: false
  acknowledge_time_ms:
    redatum: 5000
`))
	require.NoError(t, err)
	assert.True(t, cfg.RebootEnabled(RebootRedatum))
	assert.False(t, cfg.RebootEnabled(RebootHardware))
	assert.Equal(t, 5*time.Second, cfg.RebootAcknowledgeTime(RebootRedatum))
	assert.Contains(t, cfg.Reboot.Enable, "REDATUM")
	assert.NotContains(t, cfg.Reboot.Enable, "redatum")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"no peers", func(c *Config) { c.Peers = nil }, "peers"},
		{"empty host", func(c *Config) { c.Peers[0].Host = "" }, "peers[0].host"},
		{"bad port", func(c *Config) { c.Peers[1].Port = 70000 }, "peers[1].port"},
		{"unknown role", func(c *Config) { c.Peers[0].Roles = []string{"dome"} }, "peers[0].roles"},
		{"primary out of range", func(c *Config) { c.PrimaryPeerIndex = 2 }, "primary_peer_index"},
		{"negative primary", func(c *Config) { c.PrimaryPeerIndex = -1 }, "primary_peer_index"},
		{"duplicate role", func(c *Config) { c.Peers[1].Roles = []string{RoleRotator} }, "peers.roles"},
		{"negative poll", func(c *Config) { c.Dispatch.PollIntervalMs = -5 }, "dispatch.poll_interval_ms"},
		{"unknown reboot level", func(c *Config) { c.Reboot.Enable["WARM"] = true }, "reboot.enable"},
		{"unknown acknowledge level", func(c *Config) { c.Reboot.AcknowledgeTimeMs["WARM"] = 10 }, "reboot.acknowledge_time_ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseConfig([]byte(twoPeerConfig))
			require.NoError(t, err)
			tt.mutate(&cfg)

			err = cfg.Validate()
			var ce *ConfigurationError
			require.True(t, errors.As(err, &ce), "got %v", err)
			fields := make([]string, len(ce.Errors))
			for i, fe := range ce.Errors {
				fields[i] = fe.Field
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Config{Peers: []PeerConfig{{Host: "", Port: 0}}, PrimaryPeerIndex: 3}
	err := cfg.Validate()
	var ce *ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Len(t, ce.Errors, 3)
	assert.True(t, strings.HasPrefix(err.Error(), "invalid configuration: "))
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "moptop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(twoPeerConfig), 0644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "MOPTOP", cfg.Instrument.Name)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = ParseConfig([]byte("peers: {"))
	assert.ErrorContains(t, err, "parse config")
}
