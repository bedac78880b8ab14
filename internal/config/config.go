// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads resolverd configuration from defaults, an optional
// YAML file and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/resolverd/internal/logging"
	"github.com/holomush/resolverd/internal/plugin"
	"github.com/holomush/resolverd/internal/xdg"
)

// Config is the complete resolverd configuration.
type Config struct {
	Plugins  PluginsConfig  `koanf:"plugins"`
	Log      LogConfig      `koanf:"log"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Control  ControlConfig  `koanf:"control"`
	Database DatabaseConfig `koanf:"database"`
	Fetch    FetchConfig    `koanf:"fetch"`
	Query    QueryConfig    `koanf:"query"`
}

// PluginsConfig controls discovery and hot reload.
type PluginsConfig struct {
	Dir           string        `koanf:"dir"`
	Patterns      []string      `koanf:"patterns"`
	Watch         bool          `koanf:"watch"`
	WatchInterval time.Duration `koanf:"watch_interval"`
}

// LogConfig selects the log output format and minimum level.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// MetricsConfig configures the metrics/health HTTP server. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// ControlConfig configures the gRPC health endpoint and control socket.
// Empty Addr disables the gRPC endpoint. Empty CertsDir serves plaintext.
type ControlConfig struct {
	Addr     string `koanf:"addr"`
	CertsDir string `koanf:"certs_dir"`
	Socket   bool   `koanf:"socket"`
}

// DatabaseConfig selects the plugin configuration store. Empty URL keeps
// configuration in memory.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// FetchConfig configures the HTTP fetcher exposed to scripts.
type FetchConfig struct {
	Timeout time.Duration `koanf:"timeout"`
	Retries int           `koanf:"retries"`
}

// QueryConfig bounds one-shot queries.
type QueryConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// Default values.
const (
	DefaultLogFormat     = "json"
	DefaultLogLevel      = "info"
	DefaultMetricsAddr   = "127.0.0.1:9100"
	DefaultControlAddr   = "127.0.0.1:9101"
	DefaultWatchInterval = time.Second
	DefaultFetchTimeout  = 10 * time.Second
	DefaultFetchRetries  = 2
	DefaultQueryTimeout  = 30 * time.Second
)

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"plugins-dir":    "plugins.dir",
	"plugin-pattern": "plugins.patterns",
	"watch":          "plugins.watch",
	"watch-interval": "plugins.watch_interval",
	"log-format":     "log.format",
	"log-level":      "log.level",
	"metrics-addr":   "metrics.addr",
	"control-addr":   "control.addr",
	"certs-dir":      "control.certs_dir",
	"control-socket": "control.socket",
	"database-url":   "database.url",
	"fetch-timeout":  "fetch.timeout",
	"fetch-retries":  "fetch.retries",
	"query-timeout":  "query.timeout",
}

// BindFlags registers the configuration flags on fs. Flag defaults are
// empty so that only explicitly set flags override the file.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("plugins-dir", "", "resolver plugins directory (default: XDG_DATA_HOME/resolverd/resolvers)")
	fs.StringSlice("plugin-pattern", nil, "glob patterns for bare resolver scripts")
	fs.Bool("watch", false, "reload plugins when their scripts change")
	fs.Duration("watch-interval", 0, "script change polling interval")
	fs.String("log-format", "", "log format (json or text)")
	fs.String("log-level", "", "minimum log level (debug, info, warn, error)")
	fs.String("metrics-addr", "", "metrics/health HTTP address")
	fs.String("control-addr", "", "gRPC health listen address")
	fs.String("certs-dir", "", "mTLS certificates directory for the gRPC health endpoint")
	fs.Bool("control-socket", false, "serve the local control socket")
	fs.String("database-url", "", "PostgreSQL URL for plugin configuration (default: in memory)")
	fs.Duration("fetch-timeout", 0, "per-attempt timeout for script HTTP requests")
	fs.Int("fetch-retries", 0, "retries for failed script HTTP requests")
	fs.Duration("query-timeout", 0, "overall timeout for one-shot queries")
}

func defaults() (map[string]any, error) {
	pluginsDir, err := xdg.PluginsDir()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"plugins.dir":            pluginsDir,
		"plugins.patterns":       plugin.DefaultPatterns,
		"plugins.watch":          false,
		"plugins.watch_interval": DefaultWatchInterval,
		"log.format":             DefaultLogFormat,
		"log.level":              DefaultLogLevel,
		"metrics.addr":           DefaultMetricsAddr,
		"control.addr":           DefaultControlAddr,
		"control.socket":         true,
		"database.url":           os.Getenv("DATABASE_URL"),
		"fetch.timeout":          DefaultFetchTimeout,
		"fetch.retries":          DefaultFetchRetries,
		"query.timeout":          DefaultQueryTimeout,
	}, nil
}

// Load builds the configuration. An empty path reads the default config
// file if one exists; an explicit path must exist. fs may be nil.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	defs, err := defaults()
	if err != nil {
		return nil, oops.In("config").Wrapf(err, "resolve defaults")
	}
	for key, val := range defs {
		if err := k.Set(key, val); err != nil {
			return nil, oops.In("config").With("key", key).Wrap(err)
		}
	}

	explicit := path != ""
	if !explicit {
		if path, err = xdg.ConfigFile(); err != nil {
			return nil, oops.In("config").Wrapf(err, "resolve config file")
		}
	}
	if err := loadFile(k, path, explicit); err != nil {
		return nil, err
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.In("config").Wrapf(err, "load flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.In("config").Code("INVALID_CONFIG").Wrapf(err, "decode configuration")
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string, required bool) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil
		}
		return oops.In("config").Code("CONFIG_NOT_FOUND").With("path", path).Wrap(err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.In("config").Code("INVALID_CONFIG").With("path", path).Wrapf(err, "parse config file")
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	invalid := func(key, format string, args ...any) error {
		return oops.In("config").Code("INVALID_CONFIG").With("key", key).Errorf(format, args...)
	}
	switch {
	case c.Plugins.Dir == "":
		return invalid("plugins.dir", "plugins directory is required")
	case len(c.Plugins.Patterns) == 0:
		return invalid("plugins.patterns", "at least one plugin pattern is required")
	case c.Plugins.Watch && c.Plugins.WatchInterval <= 0:
		return invalid("plugins.watch_interval", "watch interval must be positive, got %s", c.Plugins.WatchInterval)
	case c.Log.Format != "json" && c.Log.Format != "text":
		return invalid("log.format", "log format must be 'json' or 'text', got %q", c.Log.Format)
	case !validLevel(c.Log.Level):
		return invalid("log.level", "unknown log level %q", c.Log.Level)
	case c.Fetch.Timeout <= 0:
		return invalid("fetch.timeout", "fetch timeout must be positive, got %s", c.Fetch.Timeout)
	case c.Fetch.Retries < 0:
		return invalid("fetch.retries", "fetch retries cannot be negative, got %d", c.Fetch.Retries)
	case c.Query.Timeout <= 0:
		return invalid("query.timeout", "query timeout must be positive, got %s", c.Query.Timeout)
	}
	return nil
}

func validLevel(name string) bool {
	_, err := logging.ParseLevel(name)
	return err == nil
}
