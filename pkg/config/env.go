package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "MONITOR_"

// LookupFunc has the signature of os.LookupEnv
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides values from the environment. Keys are EnvPrefix plus
// the upper-cased YAML path, e.g. MONITOR_NODE_UUID or
// MONITOR_MONITOR_POLL_INTERVAL. MONITOR_TRANSPORT_PEERS is comma-separated.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}

	str("NODE_UUID", &c.Node.UUID)
	str("NODE_TOKEN", &c.Node.Token)
	str("NODE_SECRET", &c.Node.Secret)
	str("NODE_PASSPHRASE", &c.Node.Passphrase)
	str("NODE_SALT", &c.Node.Salt)

	str("TRANSPORT_KIND", &c.Transport.Kind)
	str("TRANSPORT_LISTEN", &c.Transport.Listen)
	if v, ok := lookup(EnvPrefix + "TRANSPORT_PEERS"); ok {
		c.Transport.Peers = splitAndTrim(v, ",")
	}
	boolean("TRANSPORT_COMPRESS", &c.Transport.Compress)

	str("STORE_KIND", &c.Store.Kind)
	str("STORE_SEED", &c.Store.Seed)
	str("STORE_DSN", &c.Store.DSN)

	dur("MONITOR_POLL_INTERVAL", &c.Monitor.PollInterval)
	dur("MONITOR_PROBE_TIMEOUT", &c.Monitor.ProbeTimeout)
	dur("MONITOR_REFRESH_INTERVAL", &c.Monitor.RefreshInterval)
	boolean("MONITOR_STRICT_SUBSCRIPTIONS", &c.Monitor.StrictSubscriptions)

	str("ADMIN_LISTEN", &c.Admin.Listen)
	integer("ADMIN_GRAPHQL_MAX_DEPTH", &c.Admin.GraphQLMaxDepth)

	str("ARCHIVE_BUCKET", &c.Archive.Bucket)
	str("ARCHIVE_PREFIX", &c.Archive.Prefix)
	str("ARCHIVE_REGION", &c.Archive.Region)
	str("ARCHIVE_ENDPOINT", &c.Archive.Endpoint)
	str("ARCHIVE_ACCESS_KEY_ID", &c.Archive.AccessKeyID)
	str("ARCHIVE_SECRET_ACCESS_KEY", &c.Archive.SecretAccessKey)
	dur("ARCHIVE_INTERVAL", &c.Archive.Interval)

	str("LOG_LEVEL", &c.LogLevel)

	return errors.Join(errs...)
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
