// Package model defines the data structures for the moptop control layer's configuration,
// peer endpoints, command parameters and command results.
package model

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Instrument       InstrumentConfig  `yaml:"instrument"`
	Peers            []PeerConfig      `yaml:"peers"`
	PrimaryPeerIndex int               `yaml:"primary_peer_index"`
	Dispatch         DispatchConfig    `yaml:"dispatch"`
	Acknowledge      AcknowledgeConfig `yaml:"acknowledge"`
	Reboot           RebootConfig      `yaml:"reboot"`
	Daemon           DaemonConfig      `yaml:"daemon"`
	Logging          LoggingConfig     `yaml:"logging"`
	Metrics          MetricsConfig     `yaml:"metrics"`
	Journal          JournalConfig     `yaml:"journal"`
}

type InstrumentConfig struct {
	Name string `yaml:"name"`
}

// PeerConfig addresses one C layer process. Roles names the hardware the peer drives
// in addition to its camera ("rotator", "filter_wheel").
type PeerConfig struct {
	Host  string   `yaml:"host"`
	Port  int      `yaml:"port"`
	Roles []string `yaml:"roles,omitempty"`
}

const (
	RoleRotator     = "rotator"
	RoleFilterWheel = "filter_wheel"
)

type DispatchConfig struct {
	PollIntervalMs       int  `yaml:"poll_interval_ms"`
	PeerTimeoutSec       int  `yaml:"peer_timeout_sec"`
	DeadlineEnabled      bool `yaml:"deadline_enabled"`
	DeadlineSlackMs      int  `yaml:"deadline_slack_ms"`
	ReconcileMaxAttempts int  `yaml:"reconcile_max_attempts"`
}

type AcknowledgeConfig struct {
	DefaultMs int `yaml:"default_ms"`
	ConfigMs  int `yaml:"config_ms"`
}

// RebootConfig is keyed by reboot level name (NONE, REDATUM, SOFTWARE, HARDWARE, POWER_OFF).
type RebootConfig struct {
	Enable            map[string]bool `yaml:"enable"`
	AcknowledgeTimeMs map[string]int  `yaml:"acknowledge_time_ms"`
}

type DaemonConfig struct {
	SocketPath         string `yaml:"socket_path"`
	StateDir           string `yaml:"state_dir"`
	ShutdownTimeoutSec int    `yaml:"shutdown_timeout_sec"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty disables the listener
}

type JournalConfig struct {
	Path     string `yaml:"path"`
	MaxBytes int64  `yaml:"max_bytes"`
}

const (
	DefaultPollIntervalMs       = 1000
	DefaultPeerTimeoutSec       = 30
	DefaultDeadlineSlackMs      = 10000
	DefaultReconcileMaxAttempts = 32
	DefaultAcknowledgeMs        = 60000
	DefaultConfigAcknowledgeMs  = 60000
	DefaultRebootAcknowledgeMs  = 300000
	DefaultShutdownTimeoutSec   = 30
	DefaultStateDir             = "/var/lib/moptop"
	DefaultSocketName           = "moptop.sock"
)

// LoadConfig reads, defaults and validates a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML content, applies defaults and validates the result.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued tunables with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Dispatch.PollIntervalMs == 0 {
		c.Dispatch.PollIntervalMs = DefaultPollIntervalMs
	}
	if c.Dispatch.PeerTimeoutSec == 0 {
		c.Dispatch.PeerTimeoutSec = DefaultPeerTimeoutSec
	}
	if c.Dispatch.DeadlineSlackMs == 0 {
		c.Dispatch.DeadlineSlackMs = DefaultDeadlineSlackMs
	}
	if c.Dispatch.ReconcileMaxAttempts == 0 {
		c.Dispatch.ReconcileMaxAttempts = DefaultReconcileMaxAttempts
	}
	if c.Acknowledge.DefaultMs == 0 {
		c.Acknowledge.DefaultMs = DefaultAcknowledgeMs
	}
	if c.Acknowledge.ConfigMs == 0 {
		c.Acknowledge.ConfigMs = DefaultConfigAcknowledgeMs
	}
	if c.Daemon.StateDir == "" {
		c.Daemon.StateDir = DefaultStateDir
	}
	if c.Daemon.ShutdownTimeoutSec == 0 {
		c.Daemon.ShutdownTimeoutSec = DefaultShutdownTimeoutSec
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Reboot.Enable = canonicalLevels(c.Reboot.Enable)
	c.Reboot.AcknowledgeTimeMs = canonicalLevels(c.Reboot.AcknowledgeTimeMs)
}

// canonicalLevels rekeys a per-level map by RebootLevel.String. Unknown keys are
// kept verbatim so Validate can report them.
func canonicalLevels[V any](m map[string]V) map[string]V {
	if len(m) == 0 {
		return m
	}
	out := make(map[string]V, len(m))
	for k, v := range m {
		if level, ok := ParseRebootLevel(k); ok {
			k = level.String()
		}
		out[k] = v
	}
	return out
}

// Validate checks the peer layout and dispatch tunables. All problems are
// reported together in one ConfigurationError.
func (c *Config) Validate() error {
	var ce ConfigurationError
	if len(c.Peers) == 0 {
		ce.Add("peers", "at least one peer is required")
	}
	for i, p := range c.Peers {
		field := fmt.Sprintf("peers[%d]", i)
		if p.Host == "" {
			ce.Add(field+".host", "must not be empty")
		}
		if p.Port <= 0 || p.Port > 65535 {
			ce.Add(field+".port", fmt.Sprintf("out of range: %d", p.Port))
		}
		for _, r := range p.Roles {
			if r != RoleRotator && r != RoleFilterWheel {
				ce.Add(field+".roles", fmt.Sprintf("unknown role %q", r))
			}
		}
	}
	if len(c.Peers) > 0 && (c.PrimaryPeerIndex < 0 || c.PrimaryPeerIndex >= len(c.Peers)) {
		ce.Add("primary_peer_index", fmt.Sprintf("%d is not a configured peer (count %d)", c.PrimaryPeerIndex, len(c.Peers)))
	}
	for _, role := range []string{RoleRotator, RoleFilterWheel} {
		if n := len(c.peersWithRole(role)); n > 1 {
			ce.Add("peers.roles", fmt.Sprintf("role %q held by %d peers", role, n))
		}
	}
	if c.Dispatch.PollIntervalMs < 0 {
		ce.Add("dispatch.poll_interval_ms", "must not be negative")
	}
	if c.Dispatch.ReconcileMaxAttempts < 0 {
		ce.Add("dispatch.reconcile_max_attempts", "must not be negative")
	}
	for level := range c.Reboot.Enable {
		if _, ok := ParseRebootLevel(level); !ok {
			ce.Add("reboot.enable", fmt.Sprintf("unknown level %q", level))
		}
	}
	for level := range c.Reboot.AcknowledgeTimeMs {
		if _, ok := ParseRebootLevel(level); !ok {
			ce.Add("reboot.acknowledge_time_ms", fmt.Sprintf("unknown level %q", level))
		}
	}
	if ce.HasErrors() {
		return &ce
	}
	return nil
}

func (c *Config) peersWithRole(role string) []int {
	var idx []int
	for i, p := range c.Peers {
		for _, r := range p.Roles {
			if r == role {
				idx = append(idx, i)
			}
		}
	}
	return idx
}

// Endpoints returns the peer endpoints in index order.
func (c *Config) Endpoints() []PeerEndpoint {
	eps := make([]PeerEndpoint, len(c.Peers))
	for i, p := range c.Peers {
		eps[i] = PeerEndpoint{Index: i, Host: p.Host, Port: p.Port}
	}
	return eps
}

// RolePeer returns the index of the peer driving the given hardware role.
// The primary peer is used when no peer declares the role.
func (c *Config) RolePeer(role string) int {
	if idx := c.peersWithRole(role); len(idx) > 0 {
		return idx[0]
	}
	return c.PrimaryPeerIndex
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Dispatch.PollIntervalMs) * time.Millisecond
}

func (c *Config) PeerTimeout() time.Duration {
	return time.Duration(c.Dispatch.PeerTimeoutSec) * time.Second
}

func (c *Config) DeadlineSlack() time.Duration {
	return time.Duration(c.Dispatch.DeadlineSlackMs) * time.Millisecond
}

// RebootEnabled reports whether a reboot level may be acted on. Levels absent from
// the enable map are disabled.
func (c *Config) RebootEnabled(level RebootLevel) bool {
	return c.Reboot.Enable[level.String()]
}

func (c *Config) RebootAcknowledgeTime(level RebootLevel) time.Duration {
	if ms, ok := c.Reboot.AcknowledgeTimeMs[level.String()]; ok && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return DefaultRebootAcknowledgeMs * time.Millisecond
}
