package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/dshills/plughost/internal/config/loader"
)

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "PLUGHOST_"

// Setting keys.
const (
	KeyPluginsDir  = "plugins_dir"
	KeyPaneTimeout = "pane_timeout"
	KeyErrorTitle  = "error_title"
	KeyLogLevel    = "log_level"
	KeyWorkers     = "workers"
	KeyWatch       = "watch"
	KeyHTTPAddr    = "http_addr"
)

// Defaults.
const (
	DefaultPaneTimeout = 30 * time.Second
	DefaultErrorTitle  = "Plugin Manager - Error"
	DefaultLogLevel    = "info"
	DefaultWorkers     = 4
	DefaultHTTPAddr    = "127.0.0.1:9470"
)

// Config holds the plugin host settings.
type Config struct {
	PluginsDir  string        `toml:"plugins_dir" yaml:"plugins_dir"`
	PaneTimeout time.Duration `toml:"pane_timeout" yaml:"pane_timeout"`
	ErrorTitle  string        `toml:"error_title" yaml:"error_title"`
	LogLevel    string        `toml:"log_level" yaml:"log_level"`
	Workers     int           `toml:"workers" yaml:"workers"`
	Watch       bool          `toml:"watch" yaml:"watch"`
	HTTPAddr    string        `toml:"http_addr" yaml:"http_addr"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		PluginsDir:  DefaultPluginsDir(),
		PaneTimeout: DefaultPaneTimeout,
		ErrorTitle:  DefaultErrorTitle,
		LogLevel:    DefaultLogLevel,
		Workers:     DefaultWorkers,
		HTTPAddr:    DefaultHTTPAddr,
	}
}

// DefaultPluginsDir returns $XDG_DATA_HOME/plughost/plugins, falling back
// to ~/.local/share/plughost/plugins.
func DefaultPluginsDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "plughost", "plugins")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "plughost", "plugins")
	}
	return filepath.Join(".plughost", "plugins")
}

// Option configures Load.
type Option func(*loadOptions)

type loadOptions struct {
	fs      loader.FileSystem
	env     loader.Loader
	useEnv  bool
}

// WithFileSystem reads the config file through fsys.
func WithFileSystem(fsys loader.FileSystem) Option {
	return func(o *loadOptions) {
		o.fs = fsys
	}
}

// WithEnv replaces the environment source.
func WithEnv(l loader.Loader) Option {
	return func(o *loadOptions) {
		o.env = l
	}
}

// WithoutEnv disables environment overrides.
func WithoutEnv() Option {
	return func(o *loadOptions) {
		o.useEnv = false
	}
}

// Load builds the configuration from defaults, the file at path (empty for
// none) and the environment, then validates it.
func Load(path string, opts ...Option) (*Config, error) {
	o := loadOptions{
		fs:     loader.DefaultFS(),
		env:    loader.NewEnvLoader(EnvPrefix),
		useEnv: true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := Default()

	if path != "" {
		values, err := loader.ForFile(o.fs, path).Load()
		if err != nil {
			return nil, err
		}
		if err := cfg.Apply(values, true); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	if o.useEnv {
		values, err := o.env.Load()
		if err != nil {
			return nil, fmt.Errorf("environment: %w", err)
		}
		// Unrelated PLUGHOST_ variables are not errors.
		if err := cfg.Apply(values, false); err != nil {
			return nil, fmt.Errorf("environment: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Apply sets the settings present in values. Strings are parsed for
// non-string settings. When strict is true unknown keys are errors.
func (c *Config) Apply(values map[string]any, strict bool) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, k := range keys {
		if err := c.set(k, values[k]); err != nil {
			if !strict && errors.Is(err, ErrUnknownKey) {
				continue
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Set assigns a single setting.
func (c *Config) Set(key string, value any) error {
	return c.set(key, value)
}

func (c *Config) set(key string, v any) error {
	var err error
	switch key {
	case KeyPluginsDir:
		c.PluginsDir, err = asString(key, v)
	case KeyPaneTimeout:
		c.PaneTimeout, err = asDuration(key, v)
	case KeyErrorTitle:
		c.ErrorTitle, err = asString(key, v)
	case KeyLogLevel:
		c.LogLevel, err = asString(key, v)
	case KeyWorkers:
		c.Workers, err = asInt(key, v)
	case KeyWatch:
		c.Watch, err = asBool(key, v)
	case KeyHTTPAddr:
		c.HTTPAddr, err = asString(key, v)
	default:
		return fmt.Errorf("%q: %w", key, ErrUnknownKey)
	}
	return err
}

// Validate rejects values the host cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.PluginsDir) == "" {
		errs = append(errs, &ValidationError{Key: KeyPluginsDir, Message: "must not be empty", Value: c.PluginsDir})
	}
	if c.PaneTimeout <= 0 {
		errs = append(errs, &ValidationError{Key: KeyPaneTimeout, Message: "must be positive", Value: c.PaneTimeout})
	}
	if c.Workers < 1 {
		errs = append(errs, &ValidationError{Key: KeyWorkers, Message: "must be at least 1", Value: c.Workers})
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, &ValidationError{Key: KeyLogLevel, Message: "unknown level", Value: c.LogLevel})
	}
	if c.HTTPAddr != "" {
		if _, port, ok := strings.Cut(c.HTTPAddr, ":"); !ok || port == "" {
			errs = append(errs, &ValidationError{Key: KeyHTTPAddr, Message: "must be host:port", Value: c.HTTPAddr})
		}
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level. Validate guarantees it parses.
func (c *Config) Level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// EnsurePluginsDir creates the plugins directory if it does not exist.
func (c *Config) EnsurePluginsDir() error {
	info, err := os.Stat(c.PluginsDir)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		return fmt.Errorf("plugins dir %s is not a directory", c.PluginsDir)
	case !os.IsNotExist(err):
		return fmt.Errorf("stat plugins dir: %w", err)
	}
	if err := os.MkdirAll(c.PluginsDir, 0o755); err != nil {
		return fmt.Errorf("create plugins dir: %w", err)
	}
	return nil
}

func asString(key string, v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case fmt.Stringer:
		return s.String(), nil
	}
	return "", &TypeError{Key: key, Expected: "string", Value: v}
}

func asInt(key string, v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		if n > math.MaxInt32 || n < math.MinInt32 {
			return 0, &ValidationError{Key: key, Message: "out of range", Value: n}
		}
		return int(n), nil
	case uint64:
		if n > math.MaxInt32 {
			return 0, &ValidationError{Key: key, Message: "out of range", Value: n}
		}
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, &TypeError{Key: key, Expected: "integer", Value: v}
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, &TypeError{Key: key, Expected: "integer", Value: v}
		}
		return i, nil
	}
	return 0, &TypeError{Key: key, Expected: "integer", Value: v}
}

func asBool(key string, v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes", "on", "1":
			return true, nil
		case "false", "no", "off", "0", "":
			return false, nil
		}
	}
	return false, &TypeError{Key: key, Expected: "bool", Value: v}
}

// asDuration accepts Go duration strings, time.Duration values and plain
// numbers of seconds.
func asDuration(key string, v any) (time.Duration, error) {
	switch d := v.(type) {
	case time.Duration:
		return d, nil
	case string:
		s := strings.TrimSpace(d)
		if dur, err := time.ParseDuration(s); err == nil {
			return dur, nil
		}
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
	case int:
		return time.Duration(d) * time.Second, nil
	case int64:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	}
	return 0, &TypeError{Key: key, Expected: "duration", Value: v}
}
