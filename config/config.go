// Package config loads the configuration shared by the tally commands.
//
// Configuration is built in three layers: defaults, then an optional YAML
// file, then environment variables prefixed with TALLY_. Command-line flags
// are applied on top by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"github.com/kelseyhightower/envconfig"
	"github.com/rfratto/tally"
	"github.com/rfratto/tally/advertise"
	"github.com/rfratto/tally/bootstrap"
	"github.com/rfratto/tally/chunk"
	"github.com/rfratto/tally/clientpool"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "tally"

// Config is the root configuration.
type Config struct {
	Log       LogConfig       `yaml:"log" envconfig:"log"`
	Server    ServerConfig    `yaml:"server" envconfig:"server"`
	Node      NodeConfig      `yaml:"node" envconfig:"node"`
	Bootstrap BootstrapConfig `yaml:"bootstrap" envconfig:"bootstrap"`
	Client    ClientConfig    `yaml:"client" envconfig:"client"`
	Worker    WorkerConfig    `yaml:"worker" envconfig:"worker"`
	Monitor   MonitorConfig   `yaml:"monitor" envconfig:"monitor"`
}

// LogConfig configures logging.
type LogConfig struct {
	// One of debug, info, warn, error.
	Level string `yaml:"level" envconfig:"level"`

	// One of logfmt, json.
	Format string `yaml:"format" envconfig:"format"`
}

// ServerConfig configures the HTTP server of a node.
type ServerConfig struct {
	// Address to listen on.
	ListenAddr string `yaml:"listen_addr" envconfig:"listen_addr"`

	// URL peers use to reach the node. Inferred from ListenAddr and
	// Interfaces when empty.
	AdvertiseURL string `yaml:"advertise_url" envconfig:"advertise_url"`

	// Interfaces searched for an address when ListenAddr has no host.
	Interfaces []string `yaml:"interfaces" envconfig:"interfaces"`
}

// NodeConfig tunes a node. Zero values use the node defaults.
type NodeConfig struct {
	ChunkSize         int           `yaml:"chunk_size" envconfig:"chunk_size"`
	WindowSize        int           `yaml:"window_size" envconfig:"window_size"`
	DiscoveryInterval time.Duration `yaml:"discovery_interval" envconfig:"discovery_interval"`
	GossipInterval    time.Duration `yaml:"gossip_interval" envconfig:"gossip_interval"`
	RequestTimeout    time.Duration `yaml:"request_timeout" envconfig:"request_timeout"`
	PropagateTimeout  time.Duration `yaml:"propagate_timeout" envconfig:"propagate_timeout"`
}

// BootstrapConfig selects the addresses probed to find peers. All configured
// sources are merged.
type BootstrapConfig struct {
	// Static peer URLs.
	Peers []string `yaml:"peers" envconfig:"peers"`

	// Port range probed on PortHost, written as "first-last". Empty
	// disables port probing.
	Ports    string `yaml:"ports" envconfig:"ports"`
	PortHost string `yaml:"port_host" envconfig:"port_host"`

	// DNS name resolved to peer hosts, reached on DNSPort.
	DNSName string `yaml:"dns_name" envconfig:"dns_name"`
	DNSPort int    `yaml:"dns_port" envconfig:"dns_port"`
}

// ClientConfig configures the outbound client pool.
type ClientConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"request_timeout"`
	MaxClients     int           `yaml:"max_clients" envconfig:"max_clients"`
}

// WorkerConfig configures `tally work`.
type WorkerConfig struct {
	ID              string        `yaml:"id" envconfig:"id"`
	Concurrency     int           `yaml:"concurrency" envconfig:"concurrency"`
	IdleInterval    time.Duration `yaml:"idle_interval" envconfig:"idle_interval"`
	RefreshInterval time.Duration `yaml:"refresh_interval" envconfig:"refresh_interval"`
}

// MonitorConfig configures `tally monitor`.
type MonitorConfig struct {
	ProbeTimeout time.Duration `yaml:"probe_timeout" envconfig:"probe_timeout"`
	PollInterval time.Duration `yaml:"poll_interval" envconfig:"poll_interval"`
	MaxWait      time.Duration `yaml:"max_wait" envconfig:"max_wait"`
	StableRounds int           `yaml:"stable_rounds" envconfig:"stable_rounds"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "logfmt"},
		Server: ServerConfig{
			ListenAddr: net.JoinHostPort(bootstrap.DefaultPortRange.Host, strconv.Itoa(bootstrap.DefaultFirstPort)),
			Interfaces: append([]string(nil), advertise.DefaultInterfaces...),
		},
		Node: NodeConfig{
			ChunkSize:         tally.DefaultChunkSize,
			DiscoveryInterval: tally.DefaultDiscoveryInterval,
			GossipInterval:    tally.DefaultGossipInterval,
			RequestTimeout:    tally.DefaultRequestTimeout,
			PropagateTimeout:  tally.DefaultPropagateTimeout,
		},
		Bootstrap: BootstrapConfig{
			Ports:    fmt.Sprintf("%d-%d", bootstrap.DefaultFirstPort, bootstrap.DefaultLastPort),
			PortHost: bootstrap.DefaultPortRange.Host,
		},
		Client: ClientConfig{
			RequestTimeout: clientpool.DefaultOptions.RequestTimeout,
			MaxClients:     clientpool.DefaultOptions.MaxClients,
		},
		Worker: WorkerConfig{
			Concurrency:     1,
			IdleInterval:    time.Second,
			RefreshInterval: 10 * time.Second,
		},
		Monitor: MonitorConfig{
			ProbeTimeout: time.Second,
			PollInterval: 5 * time.Second,
			MaxWait:      time.Hour,
		},
	}
}

// Load builds a Config from the defaults, the YAML file at path (skipped
// when path is empty), and the environment. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		bb, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := Parse(bb, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to read environment: %w", err)
	}
	return cfg, cfg.Validate()
}

// Parse decodes YAML from bb into cfg. Fields missing from bb keep their
// current value. Unknown fields are rejected.
func Parse(bb []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(bb))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate reports every invalid field of c.
func (c *Config) Validate() error {
	var errs *multierror.Error

	if _, err := c.Log.LevelOption(); err != nil {
		errs = multierror.Append(errs, err)
	}
	switch c.Log.Format {
	case "logfmt", "json":
	default:
		errs = multierror.Append(errs, fmt.Errorf("unsupported log format %q", c.Log.Format))
	}

	if c.Server.ListenAddr == "" {
		errs = multierror.Append(errs, fmt.Errorf("listen address must not be empty"))
	}

	n := c.Node
	if n.ChunkSize < 0 || n.WindowSize < 0 {
		errs = multierror.Append(errs, fmt.Errorf("chunk and window sizes must not be negative"))
	} else if n.WindowSize != 0 && n.WindowSize < chunk.MinWindow(n.ChunkSize) {
		errs = multierror.Append(errs, fmt.Errorf("window size %d must be at least %d for chunk size %d", n.WindowSize, chunk.MinWindow(n.ChunkSize), n.ChunkSize))
	}

	if _, _, err := c.Bootstrap.portRange(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if c.Bootstrap.DNSName != "" && (c.Bootstrap.DNSPort <= 0 || c.Bootstrap.DNSPort > 65535) {
		errs = multierror.Append(errs, fmt.Errorf("invalid dns port %d", c.Bootstrap.DNSPort))
	}

	if c.Client.MaxClients < 0 {
		errs = multierror.Append(errs, fmt.Errorf("max clients must not be negative"))
	}
	if c.Worker.Concurrency < 0 {
		errs = multierror.Append(errs, fmt.Errorf("worker concurrency must not be negative"))
	}
	if c.Monitor.StableRounds < 0 {
		errs = multierror.Append(errs, fmt.Errorf("stable rounds must not be negative"))
	}

	return errs.ErrorOrNil()
}

// LevelOption returns the go-kit level filter for the configured level.
func (c LogConfig) LevelOption() (level.Option, error) {
	switch c.Level {
	case "debug":
		return level.AllowDebug(), nil
	case "info":
		return level.AllowInfo(), nil
	case "warn":
		return level.AllowWarn(), nil
	case "error":
		return level.AllowError(), nil
	default:
		return nil, fmt.Errorf("unsupported log level %q", c.Level)
	}
}

// Provider returns a provider merging every configured bootstrap source.
// An empty configuration falls back to bootstrap.DefaultPortRange.
func (c BootstrapConfig) Provider() (bootstrap.Provider, error) {
	var providers []bootstrap.Provider

	if len(c.Peers) > 0 {
		providers = append(providers, bootstrap.Static(c.Peers))
	}

	first, last, err := c.portRange()
	if err != nil {
		return nil, err
	} else if first != 0 {
		providers = append(providers, bootstrap.PortRange{Host: c.PortHost, First: first, Last: last})
	}

	if c.DNSName != "" {
		providers = append(providers, bootstrap.DNS{Name: c.DNSName, Port: c.DNSPort})
	}

	switch len(providers) {
	case 0:
		return bootstrap.DefaultPortRange, nil
	case 1:
		return providers[0], nil
	default:
		return bootstrap.Multi(providers...), nil
	}
}

// portRange parses Ports. A single port is a range of one.
func (c BootstrapConfig) portRange() (first, last int, err error) {
	if c.Ports == "" {
		return 0, 0, nil
	}

	lo, hi := c.Ports, c.Ports
	if i := strings.IndexByte(c.Ports, '-'); i >= 0 {
		lo, hi = c.Ports[:i], c.Ports[i+1:]
	}

	first, err1 := strconv.Atoi(strings.TrimSpace(lo))
	last, err2 := strconv.Atoi(strings.TrimSpace(hi))
	if err1 != nil || err2 != nil || first <= 0 || last < first || last > 65535 {
		return 0, 0, fmt.Errorf("invalid port range %q", c.Ports)
	}
	return first, last, nil
}

// PoolOptions returns client pool options for c.
func (c ClientConfig) PoolOptions() clientpool.Options {
	opts := clientpool.DefaultOptions
	if c.RequestTimeout > 0 {
		opts.RequestTimeout = c.RequestTimeout
	}
	opts.MaxClients = c.MaxClients
	return opts
}
