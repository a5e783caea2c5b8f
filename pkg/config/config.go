// Package config loads the monitor daemon's configuration: a YAML file,
// then MONITOR_* environment overrides, then validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-monitor/pkg/archive"
	"github.com/dd0wney/cluso-monitor/pkg/auth"
	"github.com/dd0wney/cluso-monitor/pkg/cluster"
	"github.com/dd0wney/cluso-monitor/pkg/monitor"
	"github.com/dd0wney/cluso-monitor/pkg/transport"
	"github.com/dd0wney/cluso-monitor/pkg/validation"
)

// Transport and store kinds
const (
	TransportLocal = "local"
	TransportNNG   = "nng"
	TransportZMQ   = "zmq"

	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// ErrNoSecret is returned when neither a secret nor a passphrase is set
var ErrNoSecret = errors.New("node.secret or node.passphrase is required")

// Config is the daemon configuration
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Transport TransportConfig `yaml:"transport"`
	Store     StoreConfig     `yaml:"store"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Admin     AdminConfig     `yaml:"admin"`
	Archive   ArchiveConfig   `yaml:"archive"`
	LogLevel  string          `yaml:"log_level"`
}

// NodeConfig identifies this node. The token must be signed with the
// secret, or with the secret derived from passphrase and salt.
type NodeConfig struct {
	UUID       string `yaml:"uuid"`
	Token      string `yaml:"token"`
	Secret     string `yaml:"secret"`
	Passphrase string `yaml:"passphrase"`
	Salt       string `yaml:"salt"`
}

// TransportConfig selects and tunes the fabric
type TransportConfig struct {
	Kind     string   `yaml:"kind"`
	Listen   string   `yaml:"listen"`
	Peers    []string `yaml:"peers"`
	Compress bool     `yaml:"compress"`
}

// StoreConfig selects the configuration store. Seed is a YAML tree loaded
// into the memory store, or imported into PostgreSQL on start.
type StoreConfig struct {
	Kind string `yaml:"kind"`
	Seed string `yaml:"seed"`
	DSN  string `yaml:"dsn"`
}

// MonitorConfig tunes polling and subscriptions
type MonitorConfig struct {
	PollInterval        time.Duration `yaml:"poll_interval"`
	ProbeTimeout        time.Duration `yaml:"probe_timeout"`
	RefreshInterval     time.Duration `yaml:"refresh_interval"`
	StrictSubscriptions bool          `yaml:"strict_subscriptions"`
}

// AdminConfig configures the admin HTTP surface; an empty Listen disables it
type AdminConfig struct {
	Listen          string `yaml:"listen"`
	GraphQLMaxDepth int    `yaml:"graphql_max_depth"`
}

// ArchiveConfig configures the status archive; an empty Bucket disables it
type ArchiveConfig struct {
	Bucket          string        `yaml:"bucket"`
	Prefix          string        `yaml:"prefix"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	Interval        time.Duration `yaml:"interval"`
}

// Default returns the configuration used for every unset value
func Default() *Config {
	mon := monitor.DefaultConfig("")
	return &Config{
		Transport: TransportConfig{
			Kind:   TransportNNG,
			Listen: "tcp://0.0.0.0:7001",
		},
		Store: StoreConfig{
			Kind: StoreMemory,
		},
		Monitor: MonitorConfig{
			PollInterval:    mon.PollInterval,
			ProbeTimeout:    mon.ProbeTimeout,
			RefreshInterval: mon.Subscriptions.Interval,
		},
		Admin: AdminConfig{
			Listen: ":9090",
		},
		Archive: ArchiveConfig{
			Interval: archive.DefaultInterval,
		},
		LogLevel: "info",
	}
}

// Load reads path (if non-empty), applies the process environment and
// validates the result
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := cfg.decode(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode overlays YAML onto cfg; unknown keys are rejected
func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks every section
func (c *Config) Validate() error {
	cv := validation.NewConfigValidator("config")

	cv.Required("node.uuid", c.Node.UUID).
		Required("node.token", c.Node.Token).
		Custom("node.secret", func() error {
			_, err := c.TokenSecret()
			return err
		})

	cv.OneOf("transport.kind", c.Transport.Kind, []string{TransportLocal, TransportNNG, TransportZMQ}).
		When(c.Transport.Kind != TransportLocal, func(cv *validation.ConfigValidator) {
			cv.Required("transport.listen", c.Transport.Listen)
		})

	cv.OneOf("store.kind", c.Store.Kind, []string{StoreMemory, StorePostgres}).
		When(c.Store.Kind == StorePostgres, func(cv *validation.ConfigValidator) {
			cv.Required("store.dsn", c.Store.DSN)
		})

	cv.MinDuration("monitor.poll_interval", c.Monitor.PollInterval, time.Second).
		MinDuration("monitor.probe_timeout", c.Monitor.ProbeTimeout, 100*time.Millisecond).
		ShorterThan("monitor.probe_timeout", c.Monitor.ProbeTimeout, "monitor.poll_interval", c.Monitor.PollInterval).
		MinDuration("monitor.refresh_interval", c.Monitor.RefreshInterval, time.Second)

	cv.When(c.Admin.Listen != "", func(cv *validation.ConfigValidator) {
		cv.HostPort("admin.listen", c.Admin.Listen)
	})

	cv.When(c.Archive.Bucket != "", func(cv *validation.ConfigValidator) {
		cv.MinDuration("archive.interval", c.Archive.Interval, time.Second)
		cv.When(c.Archive.AccessKeyID != "", func(cv *validation.ConfigValidator) {
			cv.Required("archive.secret_access_key", c.Archive.SecretAccessKey)
		})
	})

	return cv.Validate()
}

// TokenSecret returns the signing secret of node tokens
func (c *Config) TokenSecret() (string, error) {
	if c.Node.Secret != "" {
		if len(c.Node.Secret) < 32 {
			return "", auth.ErrShortSecret
		}
		return c.Node.Secret, nil
	}
	if c.Node.Passphrase == "" {
		return "", ErrNoSecret
	}
	return auth.DeriveSecret(c.Node.Passphrase, c.Node.Salt)
}

// TransportSettings returns the fabric configuration for this node
func (c *Config) TransportSettings() transport.Config {
	return transport.Config{
		Self:     c.Node.UUID,
		Kind:     c.Transport.Kind,
		Listen:   c.Transport.Listen,
		Peers:    c.Transport.Peers,
		Compress: c.Transport.Compress,
	}
}

// MonitorSettings returns the monitor configuration for this node
func (c *Config) MonitorSettings() monitor.Config {
	return monitor.Config{
		Self:         c.Node.UUID,
		PollInterval: c.Monitor.PollInterval,
		ProbeTimeout: c.Monitor.ProbeTimeout,
		Subscriptions: cluster.SubscriptionConfig{
			Interval: c.Monitor.RefreshInterval,
			Strict:   c.Monitor.StrictSubscriptions,
		},
	}
}

// ArchiveSettings returns the archive configuration; ok is false when the
// archive is disabled
func (c *Config) ArchiveSettings() (cfg archive.Config, ok bool) {
	if c.Archive.Bucket == "" {
		return archive.Config{}, false
	}
	return archive.Config{
		Bucket:          c.Archive.Bucket,
		Prefix:          c.Archive.Prefix,
		Region:          c.Archive.Region,
		Endpoint:        c.Archive.Endpoint,
		AccessKeyID:     c.Archive.AccessKeyID,
		SecretAccessKey: c.Archive.SecretAccessKey,
		Interval:        c.Archive.Interval,
	}, true
}
