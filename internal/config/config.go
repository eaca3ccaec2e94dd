// Package config manages GoGPSR node configuration using koanf/v2.
//
// Supports YAML files and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/gpsr-go/gogpsr/internal/gpsr"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete gogpsr node configuration.
type Config struct {
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	GPSR    GPSRConfig    `koanf:"gpsr"`
	Node    NodeConfig    `koanf:"node"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// GPSRConfig holds the protocol-tunable parameters of the routing core.
type GPSRConfig struct {
	// HelloInterval is the mean interval between hello beacons. Each
	// beacon is jittered by +/- HelloInterval/2.
	HelloInterval time.Duration `koanf:"hello_interval"`

	// EntryLifetime is how long a neighbor position table entry survives
	// without a refreshing hello before it is purged.
	EntryLifetime time.Duration `koanf:"entry_lifetime"`

	// MaxQueueLen bounds the deferred queue; the oldest entry is evicted
	// once the bound is exceeded.
	MaxQueueLen int `koanf:"max_queue_len"`

	// MaxQueueTime bounds how long a deferred packet may wait for a
	// route before it expires.
	MaxQueueTime time.Duration `koanf:"max_queue_time"`

	// PerimeterMode enables right-hand-rule perimeter recovery when
	// greedy forwarding reaches a dead end. When false, dead ends drop
	// the packet immediately.
	PerimeterMode bool `koanf:"perimeter_mode"`

	// ControlPort is the UDP port hello and position-recovery control
	// traffic is sent and received on.
	ControlPort uint16 `koanf:"control_port"`
}

// NodeConfig describes this node's identity, position source, and peers.
type NodeConfig struct {
	// ID is this node's numeric identifier.
	ID uint64 `koanf:"id"`

	// Position is this node's fixed position, used when WaypointFile is
	// empty.
	Position PositionConfig `koanf:"position"`

	// WaypointFile optionally names a YAML mobility trace. When set, it
	// takes precedence over Position.
	WaypointFile string `koanf:"waypoint_file"`

	// Interfaces lists the network interface names this node beacons
	// and forwards on.
	Interfaces []string `koanf:"interfaces"`

	// Peers declares the static locator table: known peer addresses and
	// their fixed positions.
	Peers []PeerConfig `koanf:"peers"`
}

// PositionConfig is a flat (x, y) coordinate pair as it appears in YAML.
type PositionConfig struct {
	X float64 `koanf:"x"`
	Y float64 `koanf:"y"`
}

// PeerConfig declares one entry in the static locator table.
type PeerConfig struct {
	// Addr is the peer's IP address.
	Addr string `koanf:"addr"`

	// Position is the peer's fixed position.
	Position PositionConfig `koanf:"position"`
}

// AddrParsed parses Addr as a netip.Addr.
func (pc PeerConfig) AddrParsed() (netip.Addr, error) {
	if pc.Addr == "" {
		return netip.Addr{}, fmt.Errorf("peer addr: %w", ErrInvalidPeerAddr)
	}
	addr, err := netip.ParseAddr(pc.Addr)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse peer addr %q: %w: %w", pc.Addr, ErrInvalidPeerAddr, err)
	}
	return addr, nil
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		GPSR: GPSRConfig{
			HelloInterval: gpsr.DefaultHelloInterval,
			EntryLifetime: gpsr.DefaultEntryLifetime,
			MaxQueueLen:   gpsr.DefaultMaxQueueLen,
			MaxQueueTime:  gpsr.DefaultMaxQueueTime,
			PerimeterMode: true,
			ControlPort:   gpsr.ControlPort,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for GoGPSR configuration.
// Variables are named GOGPSR_<section>_<key>, e.g., GOGPSR_GPSR_HELLO_INTERVAL.
const envPrefix = "GOGPSR_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (GOGPSR_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms GOGPSR_GPSR_HELLO_INTERVAL -> gpsr.hello_interval.
// Strips the GOGPSR_ prefix, lowercases, and replaces the first _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	if i := strings.Index(s, "_"); i >= 0 {
		return s[:i] + "." + s[i+1:]
	}
	return s
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"metrics.addr":        defaults.Metrics.Addr,
		"metrics.path":        defaults.Metrics.Path,
		"log.level":           defaults.Log.Level,
		"log.format":          defaults.Log.Format,
		"gpsr.hello_interval": defaults.GPSR.HelloInterval.String(),
		"gpsr.entry_lifetime": defaults.GPSR.EntryLifetime.String(),
		"gpsr.max_queue_len":  defaults.GPSR.MaxQueueLen,
		"gpsr.max_queue_time": defaults.GPSR.MaxQueueTime.String(),
		"gpsr.perimeter_mode": defaults.GPSR.PerimeterMode,
		"gpsr.control_port":   defaults.GPSR.ControlPort,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyMetricsAddr indicates the metrics listen address is empty.
	ErrEmptyMetricsAddr = errors.New("metrics.addr must not be empty")

	// ErrInvalidHelloInterval indicates the hello interval is non-positive.
	ErrInvalidHelloInterval = errors.New("gpsr.hello_interval must be > 0")

	// ErrInvalidEntryLifetime indicates the entry lifetime is non-positive.
	ErrInvalidEntryLifetime = errors.New("gpsr.entry_lifetime must be > 0")

	// ErrInvalidMaxQueueLen indicates the queue length bound is non-positive.
	ErrInvalidMaxQueueLen = errors.New("gpsr.max_queue_len must be > 0")

	// ErrInvalidMaxQueueTime indicates the queue time bound is non-positive.
	ErrInvalidMaxQueueTime = errors.New("gpsr.max_queue_time must be > 0")

	// ErrInvalidControlPort indicates the control port is zero.
	ErrInvalidControlPort = errors.New("gpsr.control_port must be nonzero")

	// ErrInvalidPeerAddr indicates a peer entry has an invalid address.
	ErrInvalidPeerAddr = errors.New("peer address is invalid")

	// ErrDuplicatePeerAddr indicates two peer entries share the same address.
	ErrDuplicatePeerAddr = errors.New("duplicate peer address")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Metrics.Addr == "" {
		return ErrEmptyMetricsAddr
	}

	if cfg.GPSR.HelloInterval <= 0 {
		return ErrInvalidHelloInterval
	}

	if cfg.GPSR.EntryLifetime <= 0 {
		return ErrInvalidEntryLifetime
	}

	if cfg.GPSR.MaxQueueLen <= 0 {
		return ErrInvalidMaxQueueLen
	}

	if cfg.GPSR.MaxQueueTime <= 0 {
		return ErrInvalidMaxQueueTime
	}

	if cfg.GPSR.ControlPort == 0 {
		return ErrInvalidControlPort
	}

	if err := validatePeers(cfg.Node.Peers); err != nil {
		return err
	}

	return nil
}

// validatePeers checks each static locator entry for correctness.
func validatePeers(peers []PeerConfig) error {
	seen := make(map[string]struct{}, len(peers))

	for i, pc := range peers {
		addr, err := pc.AddrParsed()
		if err != nil {
			return fmt.Errorf("peers[%d]: %w", i, err)
		}

		key := addr.String()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("peers[%d] addr %q: %w", i, key, ErrDuplicatePeerAddr)
		}
		seen[key] = struct{}{}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
