// Package config loads the dualpath TOML configuration file.
package config

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"

	"dualpath/flowrule"
	"dualpath/install"
	"dualpath/sink"
	"dualpath/topology"
)

type Config struct {
	Log      LogConfig          `toml:"log"`
	Topology TopologyConfig     `toml:"topology"`
	Tiers    []flowrule.Tier    `toml:"tiers"`
	ARP      install.ARPConfig  `toml:"arp"`
	Sink     SinkConfig         `toml:"sink"`
	Ofctl    sink.OfctlConfig   `toml:"ofctl"`
	Etcd     sink.EtcdConfig    `toml:"etcd"`
	Stream   sink.StreamConfig  `toml:"stream"`
	Pool     install.PoolConfig `toml:"pool"`
}

type LogConfig struct {
	Level      string `toml:"level"`
	Dir        string `toml:"dir"`
	File       string `toml:"file"`
	MaxSize    int    `toml:"max_size"` // MB
	MaxBackups int    `toml:"max_backups"`
	MaxAge     int    `toml:"max_age"` // days
	Compress   bool   `toml:"compress"`
}

type SinkConfig struct {
	Kind       string `toml:"kind"`
	ClearFirst bool   `toml:"clear_first"`
	// Switches restricts an agent to these switches; empty means all.
	Switches []string `toml:"switches"`
}

type TopologyConfig struct {
	Switches []string     `toml:"switches"`
	Links    []LinkConfig `toml:"links"`
	Hosts    []HostConfig `toml:"hosts"`
}

// LinkConfig is one switch to switch link. Zero ports leave the link
// without a port mapping.
type LinkConfig struct {
	A     string `toml:"a"`
	B     string `toml:"b"`
	PortA int    `toml:"port_a"`
	PortB int    `toml:"port_b"`
}

type HostConfig struct {
	ID      string `toml:"id"`
	Address string `toml:"address"`
	Switch  string `toml:"switch"`
	Port    int    `toml:"port"`
}

// Default returns the configuration used for every key the file leaves out.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:      "info",
			Dir:        "./logs",
			File:       "dualpath.log",
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     30,
			Compress:   true,
		},
		ARP:    install.DefaultARPConfig(),
		Sink:   SinkConfig{Kind: sink.KindPrint},
		Ofctl:  sink.DefaultOfctlConfig(),
		Etcd:   sink.DefaultEtcdConfig(),
		Stream: sink.DefaultStreamConfig(),
		Pool:   install.DefaultPoolConfig(),
	}
}

func Load(path string) (*Config, error) {
	config := Default()
	md, err := toml.DecodeFile(path, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		log.Warningf("Unknown keys in %s: %v", path, undecoded)
	}
	if !md.IsDefined("topology") {
		log.Warningf("Topology not specified in %s, nothing can be routed.", path)
	}
	if !md.IsDefined("sink", "kind") {
		log.Warningf("Sink kind not specified in config, using %s.", config.Sink.Kind)
	}
	if len(config.Tiers) == 0 {
		config.Tiers = flowrule.DefaultTiers()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return &config, nil
}

// Validate checks everything except the topology, which BuildTopology
// validates.
func (c *Config) Validate() error {
	var errs []error
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	// path i+1 must lose to path i on shared switches and keep its own
	// state table
	tables := make(map[int]int, len(c.Tiers))
	for i, tier := range c.Tiers {
		if tier.Priority <= 0 || tier.Priority > 65535 {
			errs = append(errs, fmt.Errorf("tier %d: priority %d out of range", i+1, tier.Priority))
		}
		if tier.Table < 0 || tier.Table > 254 {
			errs = append(errs, fmt.Errorf("tier %d: table %d out of range", i+1, tier.Table))
		}
		if i > 0 && tier.Priority >= c.Tiers[i-1].Priority {
			errs = append(errs, fmt.Errorf("tier %d: priority %d must be below tier %d priority %d",
				i+1, tier.Priority, i, c.Tiers[i-1].Priority))
		}
		if prev, dup := tables[tier.Table]; dup {
			errs = append(errs, fmt.Errorf("tier %d: table %d already used by tier %d", i+1, tier.Table, prev))
			continue
		}
		tables[tier.Table] = i + 1
	}
	if c.ARP.Enabled && c.ARP.Priority <= 0 {
		errs = append(errs, fmt.Errorf("arp priority must be positive, got %d", c.ARP.Priority))
	}
	if c.Pool.MaxWorkers < 0 {
		errs = append(errs, fmt.Errorf("pool max_workers must not be negative"))
	}
	return errors.Join(errs...)
}

// BuildTopology turns the topology section into a validated topology.
// Links may only name declared switches when any switch is declared.
func (c *Config) BuildTopology() (*topology.Topology, error) {
	var errs []error
	b := topology.NewBuilder()

	declared := make(map[string]bool, len(c.Topology.Switches))
	for _, s := range c.Topology.Switches {
		declared[s] = true
		b.AddNode(topology.NodeID(s))
	}
	known := func(s string) bool {
		return len(declared) == 0 || declared[s]
	}

	for _, l := range c.Topology.Links {
		if !known(l.A) || !known(l.B) {
			errs = append(errs, fmt.Errorf("link %s-%s names an undeclared switch", l.A, l.B))
			continue
		}
		if l.PortA == 0 && l.PortB == 0 {
			b.AddEdge(topology.NodeID(l.A), topology.NodeID(l.B))
			continue
		}
		b.AddLink(topology.NodeID(l.A), topology.NodeID(l.B), l.PortA, l.PortB)
	}

	for _, h := range c.Topology.Hosts {
		addr, err := netip.ParseAddr(h.Address)
		if err != nil {
			errs = append(errs, fmt.Errorf("host %s: %w", h.ID, err))
			continue
		}
		b.AddHost(topology.Host{
			ID:         h.ID,
			Address:    addr,
			Attachment: topology.Attachment{Node: topology.NodeID(h.Switch), Port: h.Port},
		})
	}

	t, err := b.Build()
	if err != nil && len(errs) == 0 {
		return nil, err
	}
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", topology.ErrInvalidTopology, errors.Join(errs...))
	}
	return t, nil
}

// Nodes returns the agent switch filter as node ids.
func (s SinkConfig) Nodes() []topology.NodeID {
	out := make([]topology.NodeID, len(s.Switches))
	for i, n := range s.Switches {
		out[i] = topology.NodeID(n)
	}
	return out
}

// SinkOptions collects what the sink registry needs.
func (c *Config) SinkOptions(topo *topology.Topology) sink.Options {
	return sink.Options{
		Ofctl:    c.Ofctl,
		Etcd:     c.Etcd,
		Stream:   c.Stream,
		Topology: topo,
	}
}
