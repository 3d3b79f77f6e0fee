// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the linkd configuration. Every key can be overridden from the
// environment with the LINK_ prefix, e.g. LINK_MASTER_URI or LINK_LOG_LEVEL.
type Config struct {
	// MasterURI is the relay address: ws://, wss://, tcp:// or grpc://
	MasterURI string `mapstructure:"master_uri"`
	Secret    string `mapstructure:"secret"`
	LinkType  string `mapstructure:"link_type"`

	// NodeID is generated when empty
	NodeID string `mapstructure:"node_id"`

	// Codec: cbor or json
	Codec string `mapstructure:"codec"`

	// RequestTimeout bounds outbound requests; 0 waits forever
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// RestartDelay is the pause before reconnecting after the link stops
	RestartDelay time.Duration `mapstructure:"restart_delay"`

	HTTP HTTPConfig `mapstructure:"http"`
	Log  LogConfig  `mapstructure:"log"`
}

// HTTPConfig controls the JSON-RPC gateway and metrics listener.
type HTTPConfig struct {
	// Listen address; empty disables the listener
	Listen string `mapstructure:"listen"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs     []string       `mapstructure:"outputs"`
	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("master_uri", "")
	v.SetDefault("secret", "")
	v.SetDefault("link_type", "linkd")
	v.SetDefault("node_id", "")
	v.SetDefault("codec", "cbor")
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("restart_delay", 5*time.Second)
	v.SetDefault("http.listen", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.outputs", []string{"stderr"})
	v.SetDefault("log.development", false)
	v.SetDefault("log.rotation.enable", false)
	v.SetDefault("log.rotation.max_size_mb", 50)
	v.SetDefault("log.rotation.max_backups", 3)
	v.SetDefault("log.rotation.max_age_days", 28)
	v.SetDefault("log.rotation.compress", true)
}

// LoadConfig reads path (YAML, optional) over the defaults and applies
// environment overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("LINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.MasterURI == "" {
		return errors.New("config: master_uri is required")
	}
	if strings.Contains(c.LinkType, ":") {
		return errors.New("config: link_type must not contain ':'")
	}
	if c.RestartDelay < 0 || c.RequestTimeout < 0 {
		return errors.New("config: durations must not be negative")
	}
	return nil
}
