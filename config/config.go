// Package config provides Viper-based configuration loading for the arena server and client.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// ServerConfig holds session server settings.
type ServerConfig struct {
	// Addr is the HTTP listen address serving /ws and the admin endpoints.
	Addr string `mapstructure:"addr"`
	// TickInterval is the scheduler pass rate.
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// BroadcastInterval is the minimum time between two full snapshots.
	BroadcastInterval time.Duration `mapstructure:"broadcast_interval"`
	// HeartbeatTimeout evicts a connection silent for at least this long.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	// SweepInterval is how often the heartbeat sweep runs.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// AcceptBacklog bounds connections waiting for the next tick to accept them.
	AcceptBacklog int `mapstructure:"accept_backlog"`
	// SendQueue is the per-connection outbound queue length.
	SendQueue    int           `mapstructure:"send_queue"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ClientConfig holds session client settings.
type ClientConfig struct {
	URL            string        `mapstructure:"url"`
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	ReportInterval time.Duration `mapstructure:"report_interval"`
	// ReportDelay postpones the first position report after the id is assigned.
	ReportDelay time.Duration `mapstructure:"report_delay"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
	// File is the rotated log file; empty writes to stderr.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Client  ClientConfig  `mapstructure:"client"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string
	errs = append(errs, validateServer(c.Server)...)
	errs = append(errs, validateClient(c.Client)...)
	errs = append(errs, validateLogging(c.Logging)...)
	if len(errs) > 0 {
		return errors.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) []string {
	var errs []string
	if s.Addr == "" {
		errs = append(errs, "server.addr must not be empty")
	}
	positive := map[string]time.Duration{
		"server.tick_interval":      s.TickInterval,
		"server.broadcast_interval": s.BroadcastInterval,
		"server.heartbeat_timeout":  s.HeartbeatTimeout,
		"server.sweep_interval":     s.SweepInterval,
	}
	for _, key := range []string{"server.tick_interval", "server.broadcast_interval", "server.heartbeat_timeout", "server.sweep_interval"} {
		if positive[key] <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be > 0, got %s", key, positive[key]))
		}
	}
	if s.TickInterval > 0 && s.BroadcastInterval > 0 && s.TickInterval > s.BroadcastInterval {
		errs = append(errs, "server.tick_interval must not exceed server.broadcast_interval")
	}
	if s.AcceptBacklog < 1 {
		errs = append(errs, fmt.Sprintf("server.accept_backlog must be >= 1, got %d", s.AcceptBacklog))
	}
	if s.SendQueue < 1 {
		errs = append(errs, fmt.Sprintf("server.send_queue must be >= 1, got %d", s.SendQueue))
	}
	if s.ReadLimit < 0 {
		errs = append(errs, "server.read_limit must not be negative")
	}
	if s.ReadTimeout < 0 {
		errs = append(errs, "server.read_timeout must not be negative")
	}
	if s.WriteTimeout < 0 {
		errs = append(errs, "server.write_timeout must not be negative")
	}
	return errs
}

func validateClient(c ClientConfig) []string {
	var errs []string
	if !strings.HasPrefix(c.URL, "ws://") && !strings.HasPrefix(c.URL, "wss://") {
		errs = append(errs, fmt.Sprintf("client.url must be a ws:// or wss:// URL, got %q", c.URL))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, "client.tick_interval must be > 0")
	}
	if c.ReportInterval <= 0 {
		errs = append(errs, "client.report_interval must be > 0")
	}
	if c.ReportDelay < 0 {
		errs = append(errs, "client.report_delay must not be negative")
	}
	return errs
}

func validateLogging(l LoggingConfig) []string {
	var errs []string
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		errs = append(errs, fmt.Sprintf("logging.level must be one of [debug, info, warn, error], got %q", l.Level))
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		errs = append(errs, fmt.Sprintf("logging.format must be one of [json, console], got %q", l.Format))
	}
	if l.File != "" && l.MaxSizeMB < 1 {
		errs = append(errs, "logging.max_size_mb must be >= 1 when logging.file is set")
	}
	return errs
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path uses defaults and environment only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()

	// Environment variable overrides with ARENA_ prefix
	v.SetEnvPrefix("ARENA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrap(err, "reading config file")
		}
	}
	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshalling config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the built-in defaults.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.tick_interval", "10ms")
	v.SetDefault("server.broadcast_interval", "30ms")
	v.SetDefault("server.heartbeat_timeout", "5s")
	v.SetDefault("server.sweep_interval", "250ms")
	v.SetDefault("server.accept_backlog", 64)
	v.SetDefault("server.send_queue", 64)
	v.SetDefault("server.read_limit", 1<<16)
	v.SetDefault("server.read_timeout", "60s")
	v.SetDefault("server.write_timeout", "5s")

	v.SetDefault("client.url", "ws://127.0.0.1:8080/ws")
	v.SetDefault("client.tick_interval", "10ms")
	v.SetDefault("client.report_interval", "30ms")
	v.SetDefault("client.report_delay", "100ms")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 7)
}
