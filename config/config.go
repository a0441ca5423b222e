// Package config loads and validates LanChat node configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Port limits for a node's listening port.
const (
	MinPort = 1024
	MaxPort = 65535
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Duration is a time.Duration written as a duration string ("15s") in YAML.
type Duration struct {
	time.Duration
}

// D wraps a time.Duration.
func D(d time.Duration) Duration { return Duration{d} }

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	d.Duration = v
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Config is the full node configuration.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Transport TransportConfig `yaml:"transport"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Groups    GroupsConfig    `yaml:"groups"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Events    EventsConfig    `yaml:"events"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Log       LogConfig       `yaml:"log"`
}

// NodeConfig names the local node.
type NodeConfig struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`
}

// TransportConfig configures the UDP transport.
type TransportConfig struct {
	ListenHost           string   `yaml:"listen_host"`
	Host                 string   `yaml:"host"`
	PortRangeStart       int      `yaml:"port_range_start"`
	PortRangeEnd         int      `yaml:"port_range_end"`
	BroadcastPorts       []int    `yaml:"broadcast_ports,omitempty"`
	QueueSize            int      `yaml:"queue_size"`
	PollInterval         Duration `yaml:"poll_interval"`
	SendPacing           Duration `yaml:"send_pacing"`
	DedupThreshold       int      `yaml:"dedup_threshold"`
	DedupCleanupInterval Duration `yaml:"dedup_cleanup_interval"`
}

// DiscoveryConfig configures the peer registry.
type DiscoveryConfig struct {
	InitialDelay   Duration `yaml:"initial_delay"`
	ProbeInterval  Duration `yaml:"probe_interval"`
	SweepInterval  Duration `yaml:"sweep_interval"`
	Timeout        Duration `yaml:"timeout"`
	UpdateDebounce Duration `yaml:"update_debounce"`
	UpdatePoll     Duration `yaml:"update_poll"`
	AckDelay       Duration `yaml:"ack_delay"`
}

// GroupsConfig configures the group send policy.
type GroupsConfig struct {
	Copies int      `yaml:"copies"`
	Gap    Duration `yaml:"gap"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// EventsConfig enables the ZeroMQ event publisher when PublishAddr is set.
type EventsConfig struct {
	PublishAddr string `yaml:"publish_addr"`
}

// SnapshotConfig enables the Arrow snapshot server when Addr is set.
type SnapshotConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures go-log output.
type LogConfig struct {
	Level      string            `yaml:"level"`
	Format     string            `yaml:"format"`
	File       string            `yaml:"file"`
	Subsystems map[string]string `yaml:"subsystems,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Node: NodeConfig{
			Name: "User",
			Port: 5000,
		},
		Transport: TransportConfig{
			Host:                 "127.0.0.1",
			PortRangeStart:       5000,
			PortRangeEnd:         5009,
			QueueSize:            100,
			PollInterval:         D(500 * time.Millisecond),
			SendPacing:           D(10 * time.Millisecond),
			DedupThreshold:       500,
			DedupCleanupInterval: D(60 * time.Second),
		},
		Discovery: DiscoveryConfig{
			InitialDelay:   D(1 * time.Second),
			ProbeInterval:  D(15 * time.Second),
			SweepInterval:  D(15 * time.Second),
			Timeout:        D(60 * time.Second),
			UpdateDebounce: D(2 * time.Second),
			UpdatePoll:     D(500 * time.Millisecond),
			AckDelay:       D(100 * time.Millisecond),
		},
		Groups: GroupsConfig{
			Copies: 2,
			Gap:    D(50 * time.Millisecond),
		},
		Metrics: MetricsConfig{
			Namespace: "lanchat",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "color",
		},
	}
}

// Parse decodes YAML on top of Default and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Marshal encodes cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Validate checks ranges and required fields.
func (c Config) Validate() error {
	if c.Node.Name == "" {
		return fmt.Errorf("%w: node.name is required", ErrInvalidConfig)
	}
	if err := checkPort("node.port", c.Node.Port); err != nil {
		return err
	}

	t := c.Transport
	if t.Host == "" {
		return fmt.Errorf("%w: transport.host is required", ErrInvalidConfig)
	}
	if err := checkPort("transport.port_range_start", t.PortRangeStart); err != nil {
		return err
	}
	if err := checkPort("transport.port_range_end", t.PortRangeEnd); err != nil {
		return err
	}
	if t.PortRangeStart > t.PortRangeEnd {
		return fmt.Errorf("%w: transport port range %d-%d is reversed",
			ErrInvalidConfig, t.PortRangeStart, t.PortRangeEnd)
	}
	for _, p := range t.BroadcastPorts {
		if err := checkPort("transport.broadcast_ports", p); err != nil {
			return err
		}
	}
	if t.QueueSize <= 0 {
		return fmt.Errorf("%w: transport.queue_size must be positive", ErrInvalidConfig)
	}
	if t.DedupThreshold <= 0 {
		return fmt.Errorf("%w: transport.dedup_threshold must be positive", ErrInvalidConfig)
	}

	positive := map[string]Duration{
		"transport.poll_interval":          t.PollInterval,
		"transport.dedup_cleanup_interval": t.DedupCleanupInterval,
		"discovery.probe_interval":         c.Discovery.ProbeInterval,
		"discovery.sweep_interval":         c.Discovery.SweepInterval,
		"discovery.timeout":                c.Discovery.Timeout,
		"discovery.update_poll":            c.Discovery.UpdatePoll,
	}
	for name, d := range positive {
		if d.Duration <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, name)
		}
	}

	if c.Groups.Copies < 1 {
		return fmt.Errorf("%w: groups.copies must be at least 1", ErrInvalidConfig)
	}
	return nil
}

func checkPort(field string, p int) error {
	if p < MinPort || p > MaxPort {
		return fmt.Errorf("%w: %s %d outside %d-%d", ErrInvalidConfig, field, p, MinPort, MaxPort)
	}
	return nil
}
