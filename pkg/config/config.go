// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads tagbus settings from YAML, TAGBUS_ environment
// variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/tagbus/pkg/bulk"
	"github.com/Thermoquad/tagbus/pkg/endpoint"
	"github.com/Thermoquad/tagbus/pkg/loop"
	"github.com/Thermoquad/tagbus/pkg/wire"
)

// EnvPrefix prefixes environment overrides, e.g. TAGBUS_LINK_PORT.
const EnvPrefix = "TAGBUS"

type Config struct {
	Link     LinkConfig      `mapstructure:"link" yaml:"link"`
	Bulk     BulkConfig      `mapstructure:"bulk" yaml:"bulk"`
	Loop     LoopConfig      `mapstructure:"loop" yaml:"loop"`
	Storage  StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Metrics  MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Channels []ChannelConfig `mapstructure:"channels" yaml:"channels"`
}

// LinkConfig selects the host link. Port wins over URL when both are set.
type LinkConfig struct {
	Port        string `mapstructure:"port" yaml:"port"`
	Baud        int    `mapstructure:"baud" yaml:"baud"`
	URL         string `mapstructure:"url" yaml:"url"`
	Username    string `mapstructure:"username" yaml:"username"`
	NoSSLVerify bool   `mapstructure:"no_ssl_verify" yaml:"no_ssl_verify"`
	OutboxSize  int    `mapstructure:"outbox_size" yaml:"outbox_size"`
}

type BulkConfig struct {
	FramePayloadSize int `mapstructure:"frame_payload_size" yaml:"frame_payload_size"`
	FixedQueueSize   int `mapstructure:"fixed_queue_size" yaml:"fixed_queue_size"`
	BulkQueueSize    int `mapstructure:"bulk_queue_size" yaml:"bulk_queue_size"`
}

type LoopConfig struct {
	QueueSize     int           `mapstructure:"queue_size" yaml:"queue_size"`
	DrainInterval time.Duration `mapstructure:"drain_interval" yaml:"drain_interval"`
}

// StorageConfig locates the persisted key-value store. An empty path keeps
// everything in memory.
type StorageConfig struct {
	Path          string        `mapstructure:"path" yaml:"path"`
	RAMLogSize    int           `mapstructure:"ram_log_size" yaml:"ram_log_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// ChannelConfig presets one chain channel at startup. Upstream 0 configures
// the channel without binding a source.
type ChannelConfig struct {
	Channel          int    `mapstructure:"channel" yaml:"channel"`
	Upstream         uint8  `mapstructure:"upstream" yaml:"upstream"`
	SampleRate       uint8  `mapstructure:"sample_rate" yaml:"sample_rate"`
	TransmissionRate uint8  `mapstructure:"transmission_rate" yaml:"transmission_rate"`
	Resolution       uint8  `mapstructure:"resolution" yaml:"resolution"`
	Scale            uint8  `mapstructure:"scale" yaml:"scale"`
	DSPFunction      uint8  `mapstructure:"dsp_function" yaml:"dsp_function"`
	DSPParameter     uint8  `mapstructure:"dsp_parameter" yaml:"dsp_parameter"`
	Target           uint8  `mapstructure:"target" yaml:"target"`
	Comment          string `mapstructure:"comment" yaml:"comment,omitempty"`
}

// Record returns the channel's configuration record.
func (c ChannelConfig) Record() endpoint.Config {
	return endpoint.Config{
		SampleRate:       c.SampleRate,
		TransmissionRate: c.TransmissionRate,
		Resolution:       c.Resolution,
		Scale:            c.Scale,
		DSPFunction:      c.DSPFunction,
		DSPParameter:     c.DSPParameter,
		Target:           endpoint.Target(c.Target),
		Reserved:         endpoint.ValueNoChange,
	}
}

// Default returns the built-in settings: two channels, a filtered
// accelerometer feed and an averaged temperature feed.
func Default() *Config {
	return &Config{
		Link: LinkConfig{
			Baud:       115200,
			Username:   "admin",
			OutboxSize: wire.DefaultOutboxSize,
		},
		Bulk: BulkConfig{
			FramePayloadSize: bulk.FramePayloadSize,
			FixedQueueSize:   bulk.DefaultRecordCapacity,
			BulkQueueSize:    bulk.DefaultBulkCapacity,
		},
		Loop: LoopConfig{
			QueueSize:     loop.DefaultQueueSize,
			DrainInterval: loop.DefaultDrainInterval,
		},
		Storage: StorageConfig{
			RAMLogSize:    32,
			FlushInterval: time.Second,
		},
		Channels: []ChannelConfig{
			{
				Channel:          0,
				Upstream:         uint8(endpoint.EndpointAcceleration),
				SampleRate:       1,
				TransmissionRate: endpoint.RateOnSample,
				DSPFunction:      0x20,
				DSPParameter:     8,
				Target:           uint8(endpoint.TargetGATT | endpoint.TargetRAM),
				Comment:          "acceleration, moving stddev over 8 samples",
			},
			{
				Channel:          1,
				Upstream:         uint8(endpoint.EndpointTemperature),
				SampleRate:       5,
				TransmissionRate: 60,
				DSPFunction:      0x08,
				DSPParameter:     12,
				Target:           uint8(endpoint.TargetGATT | endpoint.TargetRAM | endpoint.TargetFlash),
				Comment:          "temperature, one-minute average",
			},
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("link.port", d.Link.Port)
	v.SetDefault("link.baud", d.Link.Baud)
	v.SetDefault("link.url", d.Link.URL)
	v.SetDefault("link.username", d.Link.Username)
	v.SetDefault("link.no_ssl_verify", d.Link.NoSSLVerify)
	v.SetDefault("link.outbox_size", d.Link.OutboxSize)
	v.SetDefault("bulk.frame_payload_size", d.Bulk.FramePayloadSize)
	v.SetDefault("bulk.fixed_queue_size", d.Bulk.FixedQueueSize)
	v.SetDefault("bulk.bulk_queue_size", d.Bulk.BulkQueueSize)
	v.SetDefault("loop.queue_size", d.Loop.QueueSize)
	v.SetDefault("loop.drain_interval", d.Loop.DrainInterval.String())
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.ram_log_size", d.Storage.RAMLogSize)
	v.SetDefault("storage.flush_interval", d.Storage.FlushInterval.String())
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("channels", d.Channels)
}

// LoadOption customizes Load.
type LoadOption func(*viper.Viper) error

// WithFlags lets command line flags override settings. bindings maps a
// config key such as "link.port" to a flag name; only flags the user set
// take effect.
func WithFlags(fs *pflag.FlagSet, bindings map[string]string) LoadOption {
	return func(v *viper.Viper) error {
		for key, name := range bindings {
			f := fs.Lookup(name)
			if f == nil {
				return fmt.Errorf("unknown flag %q for %s", name, key)
			}
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind %s: %w", key, err)
			}
		}
		return nil
	}
}

// Load reads path (if not empty) over the defaults, then applies TAGBUS_
// environment variables and flag overrides.
func Load(path string, opts ...LoadOption) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges the tag would otherwise reject at startup.
func (c *Config) Validate() error {
	var errs []error
	if c.Bulk.FramePayloadSize < 1 || c.Bulk.FramePayloadSize > wire.MaxDataSize-bulk.DataHeaderSize {
		errs = append(errs, fmt.Errorf("bulk.frame_payload_size %d out of range 1-%d",
			c.Bulk.FramePayloadSize, wire.MaxDataSize-bulk.DataHeaderSize))
	}
	if c.Bulk.FixedQueueSize < 1 {
		errs = append(errs, fmt.Errorf("bulk.fixed_queue_size must be positive"))
	}
	if c.Bulk.BulkQueueSize < 1 {
		errs = append(errs, fmt.Errorf("bulk.bulk_queue_size must be positive"))
	}
	if c.Loop.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("loop.queue_size must be positive"))
	}
	if c.Loop.DrainInterval <= 0 {
		errs = append(errs, fmt.Errorf("loop.drain_interval must be positive"))
	}
	if c.Storage.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("storage.flush_interval must be positive"))
	}

	seen := make(map[int]bool)
	for _, ch := range c.Channels {
		if ch.Channel < 0 || ch.Channel >= endpoint.ChainChannels {
			errs = append(errs, fmt.Errorf("channel %d out of range 0-%d", ch.Channel, endpoint.ChainChannels-1))
			continue
		}
		if seen[ch.Channel] {
			errs = append(errs, fmt.Errorf("channel %d configured twice", ch.Channel))
		}
		seen[ch.Channel] = true
		if endpoint.Endpoint(ch.Upstream) == endpoint.ChainEndpoint(ch.Channel) {
			errs = append(errs, fmt.Errorf("channel %d cannot be its own upstream", ch.Channel))
		}
		for _, a := range endpoint.ValidateMessage(endpoint.NewChainConfigWrite(endpoint.EndpointHost, ch.Channel, ch.Record())) {
			errs = append(errs, fmt.Errorf("channel %d: %s", ch.Channel, a.Message))
		}
	}
	return errors.Join(errs...)
}

// Write renders cfg as YAML.
func Write(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
