// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"firestige.xyz/dissector/internal/core"
)

// Config represents the top-level configuration.
// Maps to the `dissector:` root key in YAML.
type Config struct {
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" yaml:"dispatcher"`
	Source     SourceConfig     `mapstructure:"source" yaml:"source"`
	Sinks      []SinkConfig     `mapstructure:"sinks" yaml:"sinks"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`     // trace / debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"`   // pattern / json / text
	Pattern string           `mapstructure:"pattern" yaml:"pattern"` // used by format=pattern
	Time    string           `mapstructure:"time" yaml:"time"`       // time layout for the pattern
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains log output destinations besides stdout.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures file rotation. Shared by the log file and the file sink.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Dispatcher ───

// DispatcherConfig controls how layers are routed to analyzers.
type DispatcherConfig struct {
	Mode       string   `mapstructure:"mode" yaml:"mode"`             // sync | async
	Partitions int      `mapstructure:"partitions" yaml:"partitions"` // async only
	QueueSize  int      `mapstructure:"queue_size" yaml:"queue_size"` // per partition
	MaxDepth   int      `mapstructure:"max_depth" yaml:"max_depth"`   // layers per packet
	Exclusive  bool     `mapstructure:"exclusive" yaml:"exclusive"`   // one analyzer per tag
	Protocols  []string `mapstructure:"protocols" yaml:"protocols"`   // empty = all
}

// Async reports whether packets go through the partitioned bus.
func (d DispatcherConfig) Async() bool {
	return d.Mode == ModeAsync
}

// Dispatch modes.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

// ─── Source ───

// SourceConfig configures offline packet ingestion.
type SourceConfig struct {
	Path       string `mapstructure:"path" yaml:"path"`               // pcap or pcapng file, "-" = stdin
	BPF        string `mapstructure:"bpf" yaml:"bpf"`                 // tcpdump subset or -ddd output
	BufferSize int    `mapstructure:"buffer_size" yaml:"buffer_size"` // read buffer in bytes
}

// ─── Sinks ───

// SinkConfig selects one extraction sink. Options are decoded by the sink itself.
type SinkConfig struct {
	Type    string         `mapstructure:"type" yaml:"type"`
	Options map[string]any `mapstructure:"options" yaml:"options,omitempty"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `dissector: ...`.
type configRoot struct {
	Dissector Config `mapstructure:"dissector"`
}

// Load loads configuration from file. An empty path yields defaults plus
// environment overrides.
// The YAML file uses `dissector:` as root key; env vars use the DISSECTOR_ prefix (e.g., DISSECTOR_LOG_LEVEL).
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// No explicit env prefix: key "dissector.log.level" maps to env "DISSECTOR_LOG_LEVEL".
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Dissector

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// Defaults are static; an error here is a programming error.
		panic(err)
	}
	return cfg
}

// setDefaults sets default values for configuration.
// All keys use the "dissector." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("dissector.log.level", "info")
	v.SetDefault("dissector.log.format", "pattern")
	v.SetDefault("dissector.log.pattern", "%time [%level] %packet %layer %field %msg")
	v.SetDefault("dissector.log.time", "2006-01-02 15:04:05.000")
	v.SetDefault("dissector.log.outputs.file.enabled", false)
	v.SetDefault("dissector.log.outputs.file.path", "/var/log/dissector/dissector.log")
	v.SetDefault("dissector.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("dissector.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("dissector.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("dissector.log.outputs.file.rotation.compress", true)

	// Dispatcher defaults
	v.SetDefault("dissector.dispatcher.mode", ModeSync)
	v.SetDefault("dissector.dispatcher.partitions", 4)
	v.SetDefault("dissector.dispatcher.queue_size", 1024)
	v.SetDefault("dissector.dispatcher.max_depth", 16)
	v.SetDefault("dissector.dispatcher.exclusive", false)

	// Source defaults
	v.SetDefault("dissector.source.path", "")
	v.SetDefault("dissector.source.bpf", "")
	v.SetDefault("dissector.source.buffer_size", 4096)

	// Metrics defaults
	v.SetDefault("dissector.metrics.enabled", false)
	v.SetDefault("dissector.metrics.listen", ":9091")
	v.SetDefault("dissector.metrics.path", "/metrics")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be trace/debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "pattern", "json", "text":
	default:
		return fmt.Errorf("%w: invalid log format: %s (must be pattern/json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return fmt.Errorf("%w: log.outputs.file.path is required when file output is enabled", core.ErrConfigInvalid)
	}

	// ── Dispatcher validation ──
	d := &cfg.Dispatcher
	d.Mode = strings.ToLower(d.Mode)
	if d.Mode != ModeSync && d.Mode != ModeAsync {
		return fmt.Errorf("%w: invalid dispatcher.mode: %s (must be sync/async)", core.ErrConfigInvalid, d.Mode)
	}
	if d.MaxDepth < 1 {
		return fmt.Errorf("%w: dispatcher.max_depth must be positive, got %d", core.ErrConfigInvalid, d.MaxDepth)
	}
	if d.Async() {
		if d.Partitions < 1 {
			return fmt.Errorf("%w: dispatcher.partitions must be positive in async mode, got %d", core.ErrConfigInvalid, d.Partitions)
		}
		if d.QueueSize < 1 {
			return fmt.Errorf("%w: dispatcher.queue_size must be positive in async mode, got %d", core.ErrConfigInvalid, d.QueueSize)
		}
	}
	for i, p := range d.Protocols {
		d.Protocols[i] = string(core.Protocol(p).Normalize())
	}

	// ── Source ──
	if cfg.Source.BufferSize < 1 {
		cfg.Source.BufferSize = 1
	}

	// ── Sinks ──
	if len(cfg.Sinks) == 0 {
		cfg.Sinks = []SinkConfig{{Type: "console"}}
	}
	for i := range cfg.Sinks {
		cfg.Sinks[i].Type = strings.ToLower(strings.TrimSpace(cfg.Sinks[i].Type))
		if cfg.Sinks[i].Type == "" {
			return fmt.Errorf("%w: sinks[%d].type is required", core.ErrConfigInvalid, i)
		}
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("%w: metrics.listen is required when metrics.enabled=true", core.ErrConfigInvalid)
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	return nil
}
