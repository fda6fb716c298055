package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/milux/ATEM-Tally/pkg/wire"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Input codes are bytes on the wire and 0xFF is reserved for the extended
// marker.
const maxInputLimit = 254

// Config is the complete server configuration.
type Config struct {
	// Listen is the TCP listen address.
	Listen string `yaml:"listen"`

	// MaxInput is the highest input code accepted in a handshake.
	MaxInput int `yaml:"max_input"`

	// LegacyRemap translates legacy wire codes to inputs. An empty map
	// disables remapping.
	LegacyRemap wire.RemapTable `yaml:"legacy_remap"`

	// HandshakeTimeout bounds the wait for a client's handshake.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// SendQueueSize is the per-connection outbound queue depth.
	SendQueueSize int `yaml:"send_queue_size"`

	Switcher  SwitcherConfig  `yaml:"switcher"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Log       LogConfig       `yaml:"log"`
}

// SwitcherConfig configures the switcher link.
type SwitcherConfig struct {
	// Address is the switcher host, optionally with a port.
	Address string `yaml:"address"`

	// Driver names the registered protocol driver used unless simulating.
	Driver string `yaml:"driver"`

	// MixEffect is the ME watched for tally.
	MixEffect int `yaml:"mix_effect"`

	// ResolveRetry is the delay between failed hostname lookups.
	ResolveRetry time.Duration `yaml:"resolve_retry"`

	// Simulate replaces the switcher with a scripted show.
	Simulate         bool          `yaml:"simulate"`
	SimulateInterval time.Duration `yaml:"simulate_interval"`
	SimulateInputs   []int         `yaml:"simulate_inputs"`
}

// DiscoveryConfig configures mDNS advertisement.
type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`

	// Interface restricts advertisement to one network interface.
	Interface string `yaml:"interface"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`

	// ProtocolFile enables the CBOR protocol capture when set.
	ProtocolFile string `yaml:"protocol_file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:           ":7411",
		MaxInput:         wire.DefaultMaxInput,
		LegacyRemap:      wire.DefaultRemapTable(),
		HandshakeTimeout: 10 * time.Second,
		SendQueueSize:    64,
		Switcher: SwitcherConfig{
			Driver:           "atem",
			ResolveRetry:     5 * time.Second,
			SimulateInterval: 3 * time.Second,
			SimulateInputs:   []int{1, 2, 3, 4},
		},
		Discovery: DiscoveryConfig{
			Enabled:  true,
			Instance: "ATEM Tally",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file over the defaults. The result is not validated;
// callers apply environment and flag overrides first and then Validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	// A file remap replaces the default table instead of merging into it.
	cfg.LegacyRemap = nil

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.LegacyRemap == nil {
		cfg.LegacyRemap = wire.DefaultRemapTable()
	}
	return cfg, nil
}

// Validate checks the configuration. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		add("listen %q: %v", c.Listen, err)
	}
	if c.MaxInput < 1 || c.MaxInput > maxInputLimit {
		add("max_input must be 1-%d, got %d", maxInputLimit, c.MaxInput)
	}
	for code, input := range c.LegacyRemap {
		if code < 1 || code > c.MaxInput {
			add("legacy_remap code %d outside 1-%d", code, c.MaxInput)
		}
		if input < 1 || input > maxInputLimit {
			add("legacy_remap input %d for code %d out of range", input, code)
		}
	}
	if c.HandshakeTimeout <= 0 {
		add("handshake_timeout must be positive")
	}
	if c.SendQueueSize <= 0 {
		add("send_queue_size must be positive")
	}

	sw := c.Switcher
	if sw.Address == "" && !sw.Simulate {
		add("switcher.address is required unless switcher.simulate is set")
	}
	if sw.Driver == "" && !sw.Simulate {
		add("switcher.driver is required unless switcher.simulate is set")
	}
	if sw.MixEffect < 0 {
		add("switcher.mix_effect must not be negative")
	}
	if sw.ResolveRetry <= 0 {
		add("switcher.resolve_retry must be positive")
	}
	if sw.Simulate && len(sw.SimulateInputs) < 2 {
		add("switcher.simulate_inputs needs at least two inputs")
	}

	if c.Discovery.Enabled && c.Discovery.Instance == "" {
		add("discovery.instance is required when discovery is enabled")
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		add("log.level: %v", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		add("log.format must be text or json, got %q", c.Log.Format)
	}

	return errors.Join(errs...)
}

// HandshakeConfig returns the handshake validation settings.
func (c *Config) HandshakeConfig() wire.HandshakeConfig {
	return wire.HandshakeConfig{
		MaxInput: c.MaxInput,
		Remap:    c.LegacyRemap.Clone(),
	}
}

// Port returns the numeric listen port, or 0 if it cannot be parsed.
func (c *Config) Port() int {
	_, port, err := net.SplitHostPort(c.Listen)
	if err != nil {
		return 0
	}
	p, err := net.LookupPort("tcp", port)
	if err != nil {
		return 0
	}
	return p
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}
