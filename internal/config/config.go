package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Auth       AuthConfig       `yaml:"auth" mapstructure:"auth"`
	Session    SessionConfig    `yaml:"session" mapstructure:"session"`
	Client     ClientConfig     `yaml:"client" mapstructure:"client"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// AuthConfig holds the platform credentials. Both are read from
// COSTAR_USERNAME and COSTAR_PW, including a local .env file.
type AuthConfig struct {
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
}

// SessionConfig configures the browser session lifecycle.
type SessionConfig struct {
	CookieDir               string   `yaml:"cookie_dir" mapstructure:"cookie_dir"`
	CookieBackend           string   `yaml:"cookie_backend" mapstructure:"cookie_backend"`
	CookieMaxAgeHours       int      `yaml:"cookie_max_age_hours" mapstructure:"cookie_max_age_hours"`
	SecondFactorTimeoutSecs int      `yaml:"second_factor_timeout_secs" mapstructure:"second_factor_timeout_secs"`
	PollIntervalSecs        int      `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	SettleSecs              int      `yaml:"settle_secs" mapstructure:"settle_secs"`
	FormTimeoutSecs         int      `yaml:"form_timeout_secs" mapstructure:"form_timeout_secs"`
	Headless                bool     `yaml:"headless" mapstructure:"headless"`
	LoginURL                string   `yaml:"login_url" mapstructure:"login_url"`
	HomeURLs                []string `yaml:"home_urls" mapstructure:"home_urls"`
	PrimingURL              string   `yaml:"priming_url" mapstructure:"priming_url"`
}

// ClientConfig configures the rate-limited platform API client.
type ClientConfig struct {
	GraphQLURL         string  `yaml:"graphql_url" mapstructure:"graphql_url"`
	SearchURL          string  `yaml:"search_url" mapstructure:"search_url"`
	MinIntervalMs      int     `yaml:"min_interval_ms" mapstructure:"min_interval_ms"`
	MaxRetries         int     `yaml:"max_retries" mapstructure:"max_retries"`
	RetryBaseMs        int     `yaml:"retry_base_ms" mapstructure:"retry_base_ms"`
	RequestTimeoutSecs int     `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	PageSize           int     `yaml:"page_size" mapstructure:"page_size"`
	PageIndexKey       string  `yaml:"page_index_key" mapstructure:"page_index_key"`
	MaxPages           int     `yaml:"max_pages" mapstructure:"max_pages"`
	PageDelayMs        int     `yaml:"page_delay_ms" mapstructure:"page_delay_ms"`
	MaxRPS             float64 `yaml:"max_rps" mapstructure:"max_rps"`
	CircuitThreshold   int     `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	CircuitResetSecs   int     `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// ExtractConfig configures the contact extraction pipeline.
type ExtractConfig struct {
	Concurrency      int  `yaml:"concurrency" mapstructure:"concurrency"`
	MinDelayMs       int  `yaml:"min_delay_ms" mapstructure:"min_delay_ms"`
	MaxDelayMs       int  `yaml:"max_delay_ms" mapstructure:"max_delay_ms"`
	BurstSize        int  `yaml:"burst_size" mapstructure:"burst_size"`
	BurstDelayMs     int  `yaml:"burst_delay_ms" mapstructure:"burst_delay_ms"`
	BurstJitterMs    int  `yaml:"burst_jitter_ms" mapstructure:"burst_jitter_ms"`
	ParcelDelayMinMs int  `yaml:"parcel_delay_min_ms" mapstructure:"parcel_delay_min_ms"`
	ParcelDelayMaxMs int  `yaml:"parcel_delay_max_ms" mapstructure:"parcel_delay_max_ms"`
	RequireEmail     bool `yaml:"require_email" mapstructure:"require_email"`
	RequirePhone     bool `yaml:"require_phone" mapstructure:"require_phone"`
	IncludeParcel    bool `yaml:"include_parcel" mapstructure:"include_parcel"`
	MaxProperties    int  `yaml:"max_properties" mapstructure:"max_properties"`
	ProgressEvery    int  `yaml:"progress_every" mapstructure:"progress_every"`
}

// StoreConfig configures run bookkeeping persistence.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// MonitoringConfig configures run health alerts.
type MonitoringConfig struct {
	WebhookURL               string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs        int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours      int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold     float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	PropertyFailureThreshold float64 `yaml:"property_failure_threshold" mapstructure:"property_failure_threshold"`
	CallBudget               int64   `yaml:"call_budget" mapstructure:"call_budget"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. A .env file in the
// working directory is loaded first; variables already set win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("COSTAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("auth.username", "COSTAR_USERNAME"); err != nil {
		return nil, eris.Wrap(err, "config: bind username")
	}
	if err := v.BindEnv("auth.password", "COSTAR_PW", "COSTAR_PASSWORD"); err != nil {
		return nil, eris.Wrap(err, "config: bind password")
	}

	// Defaults
	v.SetDefault("session.cookie_dir", "session")
	v.SetDefault("session.cookie_backend", "file")
	v.SetDefault("session.cookie_max_age_hours", 7*24)
	v.SetDefault("session.second_factor_timeout_secs", 60)
	v.SetDefault("session.poll_interval_secs", 2)
	v.SetDefault("session.settle_secs", 3)
	v.SetDefault("session.form_timeout_secs", 10)
	v.SetDefault("session.headless", true)
	v.SetDefault("session.login_url", "https://product.costar.com/")
	v.SetDefault("session.home_urls", []string{
		"https://product.costar.com/home/",
		"https://product.costar.com/suiteapps/home",
	})
	v.SetDefault("session.priming_url", "https://product.costar.com/LeaseComps/Search/Index/US")
	v.SetDefault("client.graphql_url", "https://product.costar.com/graphql")
	v.SetDefault("client.search_url", "https://product.costar.com/bff2/property/search/list-properties")
	v.SetDefault("client.min_interval_ms", 1000)
	v.SetDefault("client.max_retries", 3)
	v.SetDefault("client.retry_base_ms", 2000)
	v.SetDefault("client.request_timeout_secs", 30)
	v.SetDefault("client.page_size", 2000)
	v.SetDefault("client.page_index_key", "2")
	v.SetDefault("client.max_pages", 10)
	v.SetDefault("client.page_delay_ms", 500)
	v.SetDefault("client.max_rps", 2.0)
	v.SetDefault("client.circuit_threshold", 10)
	v.SetDefault("client.circuit_reset_secs", 60)
	v.SetDefault("extract.concurrency", 3)
	v.SetDefault("extract.min_delay_ms", 500)
	v.SetDefault("extract.max_delay_ms", 2000)
	v.SetDefault("extract.burst_size", 50)
	v.SetDefault("extract.burst_delay_ms", 5000)
	v.SetDefault("extract.burst_jitter_ms", 2000)
	v.SetDefault("extract.parcel_delay_min_ms", 100)
	v.SetDefault("extract.parcel_delay_max_ms", 300)
	v.SetDefault("extract.require_email", true)
	v.SetDefault("extract.require_phone", false)
	v.SetDefault("extract.include_parcel", false)
	v.SetDefault("extract.progress_every", 100)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "costar.db")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.property_failure_threshold", 0.10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the fields required by mode are present and that
// numeric settings are in range. All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "extract", "login", "search", "property":
		if c.Auth.Username == "" {
			errs = append(errs, "auth.username is required (COSTAR_USERNAME)")
		}
		if c.Auth.Password == "" {
			errs = append(errs, "auth.password is required (COSTAR_PW)")
		}
	case "runs":
		if c.Store.Driver == "none" {
			errs = append(errs, "store.driver must not be none")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres", "none":
	default:
		errs = append(errs, "store.driver must be one of sqlite, postgres, none")
	}
	if c.Store.Driver != "none" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch c.Session.CookieBackend {
	case "file", "":
	case "store":
		if c.Store.Driver == "none" {
			errs = append(errs, "session.cookie_backend store requires a store driver")
		}
	default:
		errs = append(errs, "session.cookie_backend must be file or store")
	}

	if c.Extract.Concurrency < 1 || c.Extract.Concurrency > 20 {
		errs = append(errs, "extract.concurrency must be between 1 and 20")
	}
	if c.Extract.MinDelayMs < 0 || c.Extract.MinDelayMs > c.Extract.MaxDelayMs {
		errs = append(errs, "extract.min_delay_ms must be >= 0 and <= max_delay_ms")
	}
	if c.Extract.ParcelDelayMinMs < 0 || c.Extract.ParcelDelayMinMs > c.Extract.ParcelDelayMaxMs {
		errs = append(errs, "extract.parcel_delay_min_ms must be >= 0 and <= parcel_delay_max_ms")
	}
	if c.Extract.BurstSize < 1 {
		errs = append(errs, "extract.burst_size must be > 0")
	}
	if c.Extract.MaxProperties < 0 {
		errs = append(errs, "extract.max_properties must be >= 0")
	}
	if c.Client.PageSize < 1 {
		errs = append(errs, "client.page_size must be > 0")
	}
	if c.Client.MaxPages < 1 {
		errs = append(errs, "client.max_pages must be > 0")
	}
	if c.Client.MaxRetries < 1 {
		errs = append(errs, "client.max_retries must be > 0")
	}
	if c.Client.MinIntervalMs < 0 {
		errs = append(errs, "client.min_interval_ms must be >= 0")
	}
	if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
		errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
	}
	if c.Monitoring.PropertyFailureThreshold < 0 || c.Monitoring.PropertyFailureThreshold > 1 {
		errs = append(errs, "monitoring.property_failure_threshold must be between 0 and 1")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// CookieMaxAge returns the maximum age of a reusable cookie record.
func (s SessionConfig) CookieMaxAge() time.Duration {
	return time.Duration(s.CookieMaxAgeHours) * time.Hour
}

// Ms converts a millisecond setting to a duration.
func Ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// Secs converts a second setting to a duration.
func Secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
