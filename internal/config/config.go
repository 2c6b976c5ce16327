// Package config provides configuration management for tsswitch using
// Viper. It supports configuration from files, environment variables, and
// defaults; environment variables override file values, which override
// defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultReceiveTimeout     = 5 * time.Second
	defaultBufferedPackets    = 512
	defaultMaxInputPackets    = 32
	defaultMetricsAddr        = ":9090"
	defaultHLSMinBitRate      = 0
	defaultHLSMaxBitRate      = 0
)

// Config holds all configuration for the application.
type Config struct {
	Switch  SwitchConfig  `mapstructure:"switch"`
	HLS     HLSConfig     `mapstructure:"hls"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// SwitchConfig holds the core switching engine's configuration, one entry
// per flag named under the switcher CLI surface.
type SwitchConfig struct {
	FirstInput   int `mapstructure:"first_input"`
	PrimaryInput int `mapstructure:"primary_input"`
	CycleCount   int `mapstructure:"cycle_count"`
	// Terminate requests a single pass through all inputs instead of
	// cycling forever, equivalent to forcing CycleCount to 1 when it is
	// otherwise unset.
	Terminate       bool          `mapstructure:"terminate"`
	FastSwitch      bool          `mapstructure:"fast_switch"`
	DelayedSwitch   bool          `mapstructure:"delayed_switch"`
	BufferedPackets int           `mapstructure:"buffered_packets"`
	MaxInputPackets int           `mapstructure:"max_input_packets"`
	ReceiveTimeout  time.Duration `mapstructure:"receive_timeout"`
	RemoteAddr      string        `mapstructure:"remote_addr"`
	// Inputs names each input plugin to construct, in order, as
	// "type:spec" (e.g. "hls:https://example.com/master.m3u8",
	// "udp:239.1.1.1:1234", "file:/capture.ts").
	Inputs []string `mapstructure:"inputs"`
	// Output names the single output plugin the same way Inputs does
	// (e.g. "udp:192.168.1.50:5004", "file:/out.ts").
	Output string `mapstructure:"output"`
}

// HLSConfig holds the HLS input producer's configuration.
type HLSConfig struct {
	URL              string `mapstructure:"url"`
	ListVariants     bool   `mapstructure:"list_variants"`
	LowestBitRate    bool   `mapstructure:"lowest_bitrate"`
	HighestBitRate   bool   `mapstructure:"highest_bitrate"`
	LowestResolution bool   `mapstructure:"lowest_resolution"`
	HighestResolution bool  `mapstructure:"highest_resolution"`
	MinBitRate       int    `mapstructure:"min_bitrate"`
	MaxBitRate       int    `mapstructure:"max_bitrate"`
	MinWidth         int    `mapstructure:"min_width"`
	MaxWidth         int    `mapstructure:"max_width"`
	MinHeight        int    `mapstructure:"min_height"`
	MaxHeight        int    `mapstructure:"max_height"`
	StartSegment     int    `mapstructure:"start_segment"`
	MaxSegmentCount  int    `mapstructure:"max_segment_count"`
	SaveFilesDir     string `mapstructure:"save_files_dir"`
	// SaveFilesMaxBytes caps the total size of segments mirrored under
	// SaveFilesDir; whenever a closed segment brings the total over the cap,
	// the oldest mirrored files are removed until it fits. 0 means unlimited.
	SaveFilesMaxBytes ByteSize `mapstructure:"save_files_max_bytes"`
	// CookieFilePath, if set, mirrors the session's cookie jar to this
	// path for debugging and removes it on shutdown. Empty disables the
	// mirror.
	CookieFilePath string `mapstructure:"cookie_file_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`  // debug, info, warn, error
	Format    string `mapstructure:"format"` // json, text
	AddSource bool   `mapstructure:"add_source"`
	// TimeFormat overrides the timestamp layout slog emits; empty keeps
	// slog's own default (RFC3339 with nanoseconds).
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds the Prometheus metrics/health HTTP server's
// configuration.
type MetricsConfig struct {
	Addr    string `mapstructure:"addr"`
	Enabled bool   `mapstructure:"enabled"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with TSSWITCH_ and use underscores for
// nesting. Example: TSSWITCH_SWITCH_FIRST_INPUT=0.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/tsswitch")
		v.AddConfigPath("$HOME/.tsswitch")
	}

	v.SetEnvPrefix("TSSWITCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults
// are in place.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("switch.first_input", 0)
	v.SetDefault("switch.primary_input", -1)
	v.SetDefault("switch.cycle_count", 0)
	v.SetDefault("switch.terminate", false)
	v.SetDefault("switch.fast_switch", false)
	v.SetDefault("switch.delayed_switch", false)
	v.SetDefault("switch.buffered_packets", defaultBufferedPackets)
	v.SetDefault("switch.max_input_packets", defaultMaxInputPackets)
	v.SetDefault("switch.receive_timeout", defaultReceiveTimeout)
	v.SetDefault("switch.remote_addr", "")

	v.SetDefault("hls.min_bitrate", defaultHLSMinBitRate)
	v.SetDefault("hls.max_bitrate", defaultHLSMaxBitRate)
	v.SetDefault("hls.start_segment", 0)
	v.SetDefault("hls.max_segment_count", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)

	v.SetDefault("metrics.addr", defaultMetricsAddr)
	v.SetDefault("metrics.enabled", false)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Switch.BufferedPackets < 1 {
		return fmt.Errorf("switch.buffered_packets must be at least 1")
	}
	if c.Switch.MaxInputPackets < 1 {
		return fmt.Errorf("switch.max_input_packets must be at least 1")
	}
	if c.Switch.FastSwitch && c.Switch.DelayedSwitch {
		return fmt.Errorf("switch.fast_switch and switch.delayed_switch are mutually exclusive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
