// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

// Package config loads host settings from defaults, an optional YAML file
// and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/plughost/plughost/internal/logging"
	"github.com/plughost/plughost/internal/plugin"
	"github.com/plughost/plughost/internal/xdg"
)

// Error codes.
const (
	CodeLoadFailed = "CONFIG_LOAD_FAILED"
	CodeInvalid    = "CONFIG_INVALID"
)

// Defaults.
const (
	DefaultHTTPAddr     = "127.0.0.1:3030"
	DefaultMetricsAddr  = "127.0.0.1:9100"
	DefaultLogFormat    = "json"
	DefaultLogLevel     = "info"
	DefaultMaxBodyBytes = int64(32 << 20)
)

// Config is the full host configuration.
type Config struct {
	HTTP    HTTPConfig    `koanf:"http"`
	Plugins PluginsConfig `koanf:"plugins"`
	Bridge  BridgeConfig  `koanf:"bridge"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
}

// HTTPConfig configures the frontend server.
type HTTPConfig struct {
	Addr         string `koanf:"addr"`
	StaticDir    string `koanf:"static_dir"`
	MaxBodyBytes int64  `koanf:"max_body_bytes"`
}

// PluginsConfig configures discovery.
type PluginsConfig struct {
	Dir    string   `koanf:"dir"`
	Ignore []string `koanf:"ignore"`
	Watch  bool     `koanf:"watch"`
}

// BridgeConfig configures plugin calls.
type BridgeConfig struct {
	// CallTimeout bounds a single plugin call; zero disables the limit.
	CallTimeout time.Duration `koanf:"call_timeout"`
}

// MetricsConfig configures the observability server. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"addr":           "http.addr",
	"static-dir":     "http.static_dir",
	"max-body-bytes": "http.max_body_bytes",
	"plugins-dir":    "plugins.dir",
	"ignore":         "plugins.ignore",
	"watch":          "plugins.watch",
	"call-timeout":   "bridge.call_timeout",
	"metrics-addr":   "metrics.addr",
	"log-format":     "log.format",
	"log-level":      "log.level",
}

// Defaults returns the built-in settings. The plugins directory falls
// back to empty when no data directory can be resolved.
func Defaults() map[string]any {
	pluginsDir, err := xdg.PluginsDir()
	if err != nil {
		pluginsDir = ""
	}
	return map[string]any{
		"http.addr":           DefaultHTTPAddr,
		"http.static_dir":     "",
		"http.max_body_bytes": DefaultMaxBodyBytes,
		"plugins.dir":         pluginsDir,
		"plugins.ignore":      append([]string(nil), plugin.DefaultIgnore...),
		"plugins.watch":       true,
		"bridge.call_timeout": time.Duration(0),
		"metrics.addr":        DefaultMetricsAddr,
		"log.format":          DefaultLogFormat,
		"log.level":           DefaultLogLevel,
	}
}

// RegisterFlags adds the config flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("addr", DefaultHTTPAddr, "HTTP listen address")
	fs.String("static-dir", "", "directory served for paths no plugin claims")
	fs.Int64("max-body-bytes", DefaultMaxBodyBytes, "largest request body passed to a plugin")
	fs.String("plugins-dir", "", "plugins directory (default: XDG_DATA_HOME/plughost/plugins)")
	fs.StringSlice("ignore", plugin.DefaultIgnore, "glob patterns of plugin directories to skip")
	fs.Bool("watch", true, "rescan when the plugins directory changes")
	fs.Duration("call-timeout", 0, "plugin call timeout (0 = none)")
	fs.String("metrics-addr", DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", DefaultLogFormat, "log format (json or text)")
	fs.String("log-level", DefaultLogLevel, "log level (debug, info, warn, error)")
}

// Options selects the sources Load reads.
type Options struct {
	// File is a YAML config path. When empty the XDG config file is used
	// if it exists.
	File string
	// Flags holds parsed command-line flags; only flags the user set
	// override lower layers.
	Flags *pflag.FlagSet
}

// Load layers defaults, the config file and flags, then validates.
func Load(opts Options) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, oops.Code(CodeLoadFailed).Wrapf(err, "load defaults")
	}

	path, required := opts.File, true
	if path == "" {
		required = false
		if p, err := xdg.ConfigFile(); err == nil {
			path = p
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if required || !errors.Is(err, fs.ErrNotExist) {
				return nil, oops.Code(CodeLoadFailed).With("file", path).Wrapf(err, "load config file")
			}
		}
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code(CodeLoadFailed).Wrapf(err, "load flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code(CodeInvalid).Wrapf(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch {
	case c.HTTP.Addr == "":
		return oops.Code(CodeInvalid).Errorf("http.addr is required")
	case c.HTTP.MaxBodyBytes <= 0:
		return oops.Code(CodeInvalid).With("value", c.HTTP.MaxBodyBytes).Errorf("http.max_body_bytes must be positive")
	case c.Plugins.Dir == "":
		return oops.Code(CodeInvalid).Errorf("plugins.dir is required")
	case c.Bridge.CallTimeout < 0:
		return oops.Code(CodeInvalid).With("value", c.Bridge.CallTimeout).Errorf("bridge.call_timeout must not be negative")
	case c.Log.Format != "json" && c.Log.Format != "text":
		return oops.Code(CodeInvalid).Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return oops.Code(CodeInvalid).Wrap(err)
	}
	if _, err := plugin.CompileIgnore(c.Plugins.Ignore); err != nil {
		return oops.Code(CodeInvalid).Errorf("plugins.ignore: %v", err)
	}
	if c.HTTP.StaticDir != "" {
		if st, err := os.Stat(c.HTTP.StaticDir); err != nil || !st.IsDir() {
			return oops.Code(CodeInvalid).With("dir", c.HTTP.StaticDir).Errorf("http.static_dir is not a directory")
		}
	}
	return nil
}
