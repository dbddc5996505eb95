// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Network   NetworkConfig   `mapstructure:"network" yaml:"network"`
	Engine    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	Resolver  ResolverConfig  `mapstructure:"resolver" yaml:"resolver"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Challenge ChallengeConfig `mapstructure:"challenge" yaml:"challenge"`
	Submit    SubmitConfig    `mapstructure:"submit" yaml:"submit"`
	Shots     ScreenshotConfig `mapstructure:"screenshots" yaml:"screenshots"`
}

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

// DatabaseConfig holds the connection details for the Postgres backend used
// by the resolution cache and the record store.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig holds settings for the headless browser process.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserAgent       string   `mapstructure:"user_agent" yaml:"user_agent"`
	Args            []string `mapstructure:"args" yaml:"args"`
	// PageCloseTimeout and ContextCloseTimeout bound each stage of resource
	// release so a hung close call cannot stall the queue.
	PageCloseTimeout    time.Duration `mapstructure:"page_close_timeout" yaml:"page_close_timeout"`
	ContextCloseTimeout time.Duration `mapstructure:"context_close_timeout" yaml:"context_close_timeout"`
	ProcessCloseTimeout time.Duration `mapstructure:"process_close_timeout" yaml:"process_close_timeout"`
}

// NetworkConfig tunes page-level network behavior.
type NetworkConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// EngineConfig configures the orchestration layer.
type EngineConfig struct {
	// SessionDeadline is the outer bound for one target attempt; exceeding
	// it forces the timed-out terminal state.
	SessionDeadline time.Duration `mapstructure:"session_deadline" yaml:"session_deadline"`
	QueueSize       int           `mapstructure:"queue_size" yaml:"queue_size"`
	// TargetsPerMinute paces session starts out of rate courtesy toward the
	// sites being contacted. Zero disables pacing.
	TargetsPerMinute float64 `mapstructure:"targets_per_minute" yaml:"targets_per_minute"`
}

// ResolverConfig configures contact-page resolution.
type ResolverConfig struct {
	// MinLinkScore is the threshold below which the link-scoring pass is
	// considered a miss and conventional path probing begins.
	MinLinkScore int `mapstructure:"min_link_score" yaml:"min_link_score"`
	// FallbackPaths is the ordered list of conventional contact-page path
	// suffixes probed by direct navigation.
	FallbackPaths []string `mapstructure:"fallback_paths" yaml:"fallback_paths"`
}

// CacheConfig configures the resolution cache retry policy.
type CacheConfig struct {
	// InvalidateAfter is the number of consecutive no-form-found results
	// after which a cached URL is invalidated.
	InvalidateAfter int `mapstructure:"invalidate_after" yaml:"invalidate_after"`
	// ReResolveCooldown gates re-resolution after invalidation, measured
	// from the last successful resolution.
	ReResolveCooldown time.Duration `mapstructure:"re_resolve_cooldown" yaml:"re_resolve_cooldown"`
}

// ChallengeConfig configures anti-automation detection.
type ChallengeConfig struct {
	// MaxWait is how long the detector polls for asynchronously rendered
	// challenge widgets before concluding none is present. Clamped to
	// [2s, 5s] at validation.
	MaxWait      time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// SubmitConfig configures the submission executor.
type SubmitConfig struct {
	// SettleDelay is applied after a successful click before verification.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
}

// ScreenshotConfig configures screenshot persistence.
type ScreenshotConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "formcourier")
	v.SetDefault("logger.log_file", "formcourier.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", true)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	v.SetDefault("browser.page_close_timeout", "5s")
	v.SetDefault("browser.context_close_timeout", "5s")
	v.SetDefault("browser.process_close_timeout", "10s")

	// -- Network --
	v.SetDefault("network.navigation_timeout", "30s")
	v.SetDefault("network.post_load_wait", "1s")

	// -- Engine --
	v.SetDefault("engine.session_deadline", "2m")
	v.SetDefault("engine.queue_size", 1000)
	v.SetDefault("engine.targets_per_minute", 6.0)

	// -- Resolver --
	v.SetDefault("resolver.min_link_score", 10)
	v.SetDefault("resolver.fallback_paths", []string{
		"/contact-us/", "/contact/", "/contact-us", "/contact",
		"/contactus.aspx", "/contact.htm", "/contact.html",
		"/contact-us.html", "/about/contact/", "/support/contact/",
	})

	// -- Cache --
	v.SetDefault("cache.invalidate_after", 3)
	v.SetDefault("cache.re_resolve_cooldown", "168h") // 7 days

	// -- Challenge --
	v.SetDefault("challenge.max_wait", "3s")
	v.SetDefault("challenge.poll_interval", "500ms")

	// -- Submit --
	v.SetDefault("submit.settle_delay", "2s")

	// -- Screenshots --
	v.SetDefault("screenshots.dir", "screenshots")
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values,
// clamping the challenge wait window to its allowed range.
func (c *Config) Validate() error {
	if c.Engine.SessionDeadline <= 0 {
		return fmt.Errorf("engine.session_deadline must be a positive duration")
	}
	if c.Engine.QueueSize <= 0 {
		return fmt.Errorf("engine.queue_size must be a positive integer")
	}
	if c.Cache.InvalidateAfter <= 0 {
		return fmt.Errorf("cache.invalidate_after must be a positive integer")
	}
	if c.Cache.ReResolveCooldown < 0 {
		return fmt.Errorf("cache.re_resolve_cooldown must not be negative")
	}
	if c.Resolver.MinLinkScore < 0 {
		return fmt.Errorf("resolver.min_link_score must not be negative")
	}
	if len(c.Resolver.FallbackPaths) == 0 {
		return fmt.Errorf("resolver.fallback_paths must not be empty")
	}
	if c.Challenge.PollInterval <= 0 {
		return fmt.Errorf("challenge.poll_interval must be a positive duration")
	}

	// The detection window balances catching late-rendering widgets against
	// not stalling every unaffected target.
	if c.Challenge.MaxWait < 2*time.Second {
		c.Challenge.MaxWait = 2 * time.Second
	}
	if c.Challenge.MaxWait > 5*time.Second {
		c.Challenge.MaxWait = 5 * time.Second
	}
	return nil
}
