package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/vango-dev/recompose/internal/errors"
	"github.com/vango-dev/recompose/pkg/compose"
)

const (
	// ConfigFileName is the JSON configuration file. Comments and trailing
	// commas are allowed.
	ConfigFileName = "recompose.json"

	// YAMLFileName is the YAML configuration file, used when no JSON file
	// exists.
	YAMLFileName = "recompose.yaml"

	// DefaultFrameInterval is the frame loop period.
	DefaultFrameInterval = "16ms"

	// DefaultReuseCapacity is the subcompose pool size.
	DefaultReuseCapacity = 8

	// DefaultInspectorAddr is the inspector listen address.
	DefaultInspectorAddr = "localhost:7070"

	// DefaultNamespace is the metrics namespace.
	DefaultNamespace = "recompose"
)

// Config represents the complete recompose configuration.
type Config struct {
	// Runtime contains frame loop and budget settings.
	Runtime RuntimeConfig `json:"runtime,omitempty" yaml:"runtime,omitempty"`

	// Subcompose contains reuse pool settings.
	Subcompose SubcomposeConfig `json:"subcompose,omitempty" yaml:"subcompose,omitempty"`

	// Log contains logger settings.
	Log LogConfig `json:"log,omitempty" yaml:"log,omitempty"`

	// Metrics contains Prometheus settings.
	Metrics MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`

	// Tracing contains OpenTelemetry settings.
	Tracing TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`

	// Inspector contains debug server settings.
	Inspector InspectorConfig `json:"inspector,omitempty" yaml:"inspector,omitempty"`

	configPath string
}

// RuntimeConfig contains runtime settings.
type RuntimeConfig struct {
	// FrameInterval is the frame loop period (e.g., "16ms").
	FrameInterval string `json:"frameInterval,omitempty" yaml:"frameInterval,omitempty"`

	// MaxPassesPerWindow limits passes inside Window. 0 disables the limit.
	MaxPassesPerWindow int `json:"maxPassesPerWindow,omitempty" yaml:"maxPassesPerWindow,omitempty"`

	// Window is the budget window (default "1s").
	Window string `json:"window,omitempty" yaml:"window,omitempty"`

	// MaxScopesPerPass defers dirty scopes beyond this count.
	MaxScopesPerPass int `json:"maxScopesPerPass,omitempty" yaml:"maxScopesPerPass,omitempty"`

	// MaxPassesPerRun bounds a single run-until-idle.
	MaxPassesPerRun int `json:"maxPassesPerRun,omitempty" yaml:"maxPassesPerRun,omitempty"`
}

// SubcomposeConfig contains reuse pool settings.
type SubcomposeConfig struct {
	// ReuseCapacity is the number of deactivated subcompositions kept.
	// Negative values are rejected; 0 disables pooling.
	ReuseCapacity *int `json:"reuseCapacity,omitempty" yaml:"reuseCapacity,omitempty"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level,omitempty" yaml:"level,omitempty"`

	// Format is text or json.
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// TracingConfig contains OpenTelemetry settings.
type TracingConfig struct {
	Enabled    bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	TracerName string `json:"tracerName,omitempty" yaml:"tracerName,omitempty"`
}

// InspectorConfig contains debug server settings.
type InspectorConfig struct {
	// Addr is the listen address.
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`

	// History is the number of pass reports kept.
	History int `json:"history,omitempty" yaml:"history,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads configuration from dir. It prefers recompose.json and falls
// back to recompose.yaml.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if yp := filepath.Join(dir, YAMLFileName); fileExists(yp) {
			path = yp
		}
	}
	return LoadFile(path)
}

// LoadFile reads configuration from path. The format follows the file
// extension.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.CodeConfigNotFound).
				WithDetail("No " + ConfigFileName + " found in " + filepath.Dir(path)).
				WithSuggestion("Run 'recompose config init' to create one")
		}
		return nil, errors.New(errors.CodeConfigInvalid).Wrap(err)
	}

	cfg := &Config{}
	if err := cfg.decode(path, data); err != nil {
		return nil, err
	}
	cfg.configPath = path
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(path string, data []byte) error {
	if isYAML(path) {
		if err := yaml.Unmarshal(data, c); err != nil {
			return errors.New(errors.CodeConfigInvalid).
				WithDetail("Failed to parse " + filepath.Base(path) + ": " + err.Error())
		}
		return nil
	}
	std, err := hujson.Standardize(data)
	if err != nil {
		return errors.New(errors.CodeConfigInvalid).
			WithDetail("Failed to parse " + filepath.Base(path) + ": " + err.Error()).
			WithSuggestion("Check that the file is valid JSON (comments and trailing commas are allowed)")
	}
	dec := json.NewDecoder(bytes.NewReader(std))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		return errors.New(errors.CodeConfigInvalid).
			WithDetail("Failed to parse " + filepath.Base(path) + ": " + err.Error())
	}
	return nil
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.Newf(errors.CategoryConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo atomically writes the configuration to path.
func (c *Config) SaveTo(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return errors.New(errors.CodeConfigInvalid).Wrap(err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return errors.New(errors.CodeConfigInvalid).Wrap(err)
	}
	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

func (c *Config) applyDefaults() {
	if c.Runtime.FrameInterval == "" {
		c.Runtime.FrameInterval = DefaultFrameInterval
	}
	if c.Runtime.Window == "" {
		c.Runtime.Window = "1s"
	}
	if c.Subcompose.ReuseCapacity == nil {
		n := DefaultReuseCapacity
		c.Subcompose.ReuseCapacity = &n
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultNamespace
	}
	if c.Tracing.TracerName == "" {
		c.Tracing.TracerName = "recompose"
	}
	if c.Inspector.Addr == "" {
		c.Inspector.Addr = DefaultInspectorAddr
	}
	if c.Inspector.History == 0 {
		c.Inspector.History = 64
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if d, err := time.ParseDuration(c.Runtime.FrameInterval); err != nil || d <= 0 {
		return errors.New(errors.CodeConfigValue).
			WithDetailf("runtime.frameInterval %q is not a positive duration", c.Runtime.FrameInterval)
	}
	if d, err := time.ParseDuration(c.Runtime.Window); err != nil || d <= 0 {
		return errors.New(errors.CodeConfigValue).
			WithDetailf("runtime.window %q is not a positive duration", c.Runtime.Window)
	}
	if c.Runtime.MaxPassesPerWindow < 0 || c.Runtime.MaxScopesPerPass < 0 || c.Runtime.MaxPassesPerRun < 0 {
		return errors.New(errors.CodeConfigValue).
			WithDetail("runtime limits must not be negative")
	}
	if c.ReuseCapacity() < 0 {
		return errors.New(errors.CodeConfigValue).
			WithDetail("subcompose.reuseCapacity must not be negative")
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.New(errors.CodeConfigValue).
			WithDetailf("log.format %q must be text or json", c.Log.Format)
	}
	return nil
}

// FrameInterval returns the parsed frame interval.
func (c *Config) FrameInterval() time.Duration {
	d, err := time.ParseDuration(c.Runtime.FrameInterval)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultFrameInterval)
	}
	return d
}

// Budget returns the runtime budget, or nil when no limit is set.
func (c *Config) Budget() *compose.BudgetConfig {
	r := c.Runtime
	if r.MaxPassesPerWindow == 0 && r.MaxScopesPerPass == 0 && r.MaxPassesPerRun == 0 {
		return nil
	}
	window, _ := time.ParseDuration(r.Window)
	return &compose.BudgetConfig{
		MaxPassesPerWindow: r.MaxPassesPerWindow,
		Window:             window,
		MaxScopesPerPass:   r.MaxScopesPerPass,
		MaxPassesPerRun:    r.MaxPassesPerRun,
	}
}

// ReuseCapacity returns the subcompose pool size.
func (c *Config) ReuseCapacity() int {
	if c.Subcompose.ReuseCapacity == nil {
		return DefaultReuseCapacity
	}
	return *c.Subcompose.ReuseCapacity
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, errors.New(errors.CodeConfigValue).
			WithDetailf("log.level %q must be debug, info, warn or error", c.Log.Level)
	}
	return l, nil
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	return fileExists(filepath.Join(dir, ConfigFileName)) || fileExists(filepath.Join(dir, YAMLFileName))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
