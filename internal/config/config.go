// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. WIDGETPROBE_RUN_TIMEOUT.
const EnvPrefix = "WIDGETPROBE"

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Run() RunConfig
	Collector() CollectorConfig
	Artifacts() ArtifactsConfig
	Store() StoreConfig
	Metrics() MetricsConfig

	// Setters used by CLI flags.
	SetBrowserHeadless(bool)
	SetRunTimeout(time.Duration)
	SetArtifactsDir(string)
	SetArtifactsFormats([]string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	BrowserCfg   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	RunCfg       RunConfig       `mapstructure:"run" yaml:"run"`
	CollectorCfg CollectorConfig `mapstructure:"collector" yaml:"collector"`
	ArtifactsCfg ArtifactsConfig `mapstructure:"artifacts" yaml:"artifacts"`
	StoreCfg     StoreConfig     `mapstructure:"store" yaml:"store"`
	MetricsCfg   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig     { return c.BrowserCfg }
func (c *Config) Run() RunConfig             { return c.RunCfg }
func (c *Config) Collector() CollectorConfig { return c.CollectorCfg }
func (c *Config) Artifacts() ArtifactsConfig { return c.ArtifactsCfg }
func (c *Config) Store() StoreConfig         { return c.StoreCfg }
func (c *Config) Metrics() MetricsConfig     { return c.MetricsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)      { c.BrowserCfg.Headless = b }
func (c *Config) SetRunTimeout(d time.Duration)  { c.RunCfg.Timeout = d }
func (c *Config) SetArtifactsDir(dir string)     { c.ArtifactsCfg.Dir = dir }
func (c *Config) SetArtifactsFormats(f []string) { c.ArtifactsCfg.Formats = f }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the browser the probe drives.
type BrowserConfig struct {
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	ExecPath          string         `mapstructure:"exec_path" yaml:"exec_path"`
	IgnoreTLSErrors   bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserAgent         string         `mapstructure:"user_agent" yaml:"user_agent"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          map[string]int `mapstructure:"viewport" yaml:"viewport"`
}

// RunConfig holds the step and scenario timing limits.
type RunConfig struct {
	// Timeout bounds one whole scenario run. Zero disables the limit.
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ResolveTimeout time.Duration `mapstructure:"resolve_timeout" yaml:"resolve_timeout"`
	SignalTimeout  time.Duration `mapstructure:"signal_timeout" yaml:"signal_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	DefaultWait    time.Duration `mapstructure:"default_wait" yaml:"default_wait"`
}

// CollectorConfig controls which page events are kept.
type CollectorConfig struct {
	Patterns         []string      `mapstructure:"patterns" yaml:"patterns"`
	AlwaysKeepLevels []string      `mapstructure:"always_keep_levels" yaml:"always_keep_levels"`
	MaxBodyBytes     int           `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	BodyTimeout      time.Duration `mapstructure:"body_timeout" yaml:"body_timeout"`
	CaptureBodies    bool          `mapstructure:"capture_bodies" yaml:"capture_bodies"`
}

// ArtifactsConfig controls what a run leaves on disk.
type ArtifactsConfig struct {
	Dir         string   `mapstructure:"dir" yaml:"dir"`
	Screenshots bool     `mapstructure:"screenshots" yaml:"screenshots"`
	Formats     []string `mapstructure:"formats" yaml:"formats"`
}

// StoreConfig holds the run history database connection details.
type StoreConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// MetricsConfig configures the Prometheus pushgateway export.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url" yaml:"pushgateway_url"`
	Job            string `mapstructure:"job" yaml:"job"`
}

// NewDefaultConfig creates a configuration populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "widgetprobe")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.viewport", map[string]int{"width": 1280, "height": 900})

	// -- Run --
	v.SetDefault("run.timeout", "2m")
	v.SetDefault("run.resolve_timeout", "5s")
	v.SetDefault("run.signal_timeout", "10s")
	v.SetDefault("run.poll_interval", "100ms")
	v.SetDefault("run.default_wait", "1s")

	// -- Collector --
	v.SetDefault("collector.patterns", []string{})
	v.SetDefault("collector.always_keep_levels", []string{"error"})
	v.SetDefault("collector.max_body_bytes", 64*1024)
	v.SetDefault("collector.body_timeout", "10s")
	v.SetDefault("collector.capture_bodies", true)

	// -- Artifacts --
	v.SetDefault("artifacts.dir", "probe-results")
	v.SetDefault("artifacts.screenshots", true)
	v.SetDefault("artifacts.formats", []string{"json", "text"})

	// -- Metrics --
	v.SetDefault("metrics.job", "widgetprobe")
}

// ConfigureViper wires environment overrides and, when path is set, the
// config file. A leading ~ in path is expanded to the home directory.
func ConfigureViper(v *viper.Viper, path string) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		v.SetConfigName("widgetprobe")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(home + "/.config/widgetprobe")
		}
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return fmt.Errorf("error reading config file: %w", err)
			}
		}
		return nil
	}

	expanded, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("could not expand config path %q: %w", path, err)
	}
	v.SetConfigFile(expanded)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", expanded, err)
	}
	return nil
}

// NewConfigFromViper builds and validates a Config from a prepared viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The database URL carries credentials; allow a dedicated variable.
	_ = v.BindEnv("store.url", EnvPrefix+"_STORE_URL", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.ArtifactsCfg.Dir != "" {
		dir, err := homedir.Expand(cfg.ArtifactsCfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("could not expand artifacts.dir: %w", err)
		}
		cfg.ArtifactsCfg.Dir = dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

var knownFormats = map[string]bool{"json": true, "junit": true, "text": true}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.RunCfg.Timeout < 0 {
		return fmt.Errorf("run.timeout must not be negative")
	}
	if c.RunCfg.ResolveTimeout < 0 || c.RunCfg.SignalTimeout < 0 {
		return fmt.Errorf("run.resolve_timeout and run.signal_timeout must not be negative")
	}
	if c.RunCfg.PollInterval <= 0 {
		return fmt.Errorf("run.poll_interval must be a positive duration")
	}
	if c.CollectorCfg.MaxBodyBytes <= 0 {
		return fmt.Errorf("collector.max_body_bytes must be a positive integer")
	}
	for _, f := range c.ArtifactsCfg.Formats {
		if !knownFormats[f] {
			return fmt.Errorf("artifacts.formats: unknown format %q", f)
		}
	}
	if c.MetricsCfg.PushgatewayURL != "" && c.MetricsCfg.Job == "" {
		return fmt.Errorf("metrics.job is required when metrics.pushgateway_url is set")
	}
	return nil
}
