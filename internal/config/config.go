package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"meramandi/internal/logging"
	"meramandi/internal/market"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Prices    PricesConfig    `mapstructure:"prices"`
	Matching  MatchingConfig  `mapstructure:"matching"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
	Twilio    TwilioConfig    `mapstructure:"twilio"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs the in-process notification cadence.
type SchedulerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// PricesConfig covers the government price source.
type PricesConfig struct {
	UseMock        bool          `mapstructure:"use_mock"`
	BaseURL        string        `mapstructure:"base_url"`
	ResourceID     string        `mapstructure:"resource_id"`
	APIKey         string        `mapstructure:"api_key"`
	Limit          int           `mapstructure:"limit"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Retries        int           `mapstructure:"retries"`
	Backoff        time.Duration `mapstructure:"backoff"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// MatchingConfig fixes the matcher and aggregator policies for every caller.
type MatchingConfig struct {
	LocationWildcards bool   `mapstructure:"location_wildcards"`
	ModalPolicy       string `mapstructure:"modal_policy"`
}

// NotifierConfig tunes the reminder run.
type NotifierConfig struct {
	Timezone    string        `mapstructure:"timezone"`
	Workers     int           `mapstructure:"workers"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

// TwilioConfig describes SMS delivery.
type TwilioConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	FromNumber string `mapstructure:"from_number"`
	APIBase    string `mapstructure:"api_base"`
}

// SMTPConfig describes confirmation email delivery.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// HTTPConfig configures the web API.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	CronKey         string        `mapstructure:"cron_key"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	VoiceActionPath string        `mapstructure:"voice_action_path"`
}

// AuthConfig configures session tokens and email verification codes.
type AuthConfig struct {
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	CookieSecure bool          `mapstructure:"cookie_secure"`
	EmailOTPTTL  time.Duration `mapstructure:"email_otp_ttl"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MERAMANDI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "meramandi")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6d616e64))
	v.SetDefault("scheduler.startup_delay", "0s")

	// Keys without a meaningful default are still registered so that
	// AutomaticEnv overrides reach Unmarshal.
	for _, key := range []string{
		"database.dsn", "prices.api_key", "twilio.account_sid", "twilio.auth_token",
		"twilio.from_number", "smtp.username", "smtp.password", "smtp.from", "http.cron_key",
	} {
		v.SetDefault(key, "")
	}

	v.SetDefault("prices.use_mock", false)
	v.SetDefault("prices.base_url", "https://api.data.gov.in")
	v.SetDefault("prices.resource_id", "9ef84268-d588-465a-a308-a864a43d0070")
	v.SetDefault("prices.limit", 2000)
	v.SetDefault("prices.request_timeout", "15s")
	v.SetDefault("prices.retries", 2)
	v.SetDefault("prices.backoff", "1s")
	v.SetDefault("prices.user_agent", "meramandi/1.0")

	v.SetDefault("matching.location_wildcards", false)
	v.SetDefault("matching.modal_policy", string(market.ModalMean))

	v.SetDefault("notifier.timezone", "Asia/Kolkata")
	v.SetDefault("notifier.workers", 4)
	v.SetDefault("notifier.send_timeout", "15s")

	v.SetDefault("twilio.enabled", false)
	v.SetDefault("twilio.api_base", "https://api.twilio.com")

	v.SetDefault("smtp.enabled", false)
	v.SetDefault("smtp.host", "smtp.gmail.com")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.timeout", "15s")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.shutdown_timeout", "10s")
	v.SetDefault("http.voice_action_path", "/api/twilio/voice")

	v.SetDefault("auth.token_ttl", "720h")
	v.SetDefault("auth.cookie_secure", false)
	v.SetDefault("auth.email_otp_ttl", "10m")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Prices.Retries < 0 {
		return fmt.Errorf("prices.retries cannot be negative")
	}
	if !c.Prices.UseMock && c.Prices.APIKey == "" {
		return fmt.Errorf("prices.api_key is required unless prices.use_mock is set")
	}
	if _, err := market.ParseModalPolicy(c.Matching.ModalPolicy); err != nil {
		return fmt.Errorf("matching.modal_policy: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Notifier.Workers <= 0 {
		return fmt.Errorf("notifier.workers must be greater than zero")
	}
	if c.Twilio.Enabled {
		if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" {
			return fmt.Errorf("twilio.account_sid and twilio.auth_token are required when twilio is enabled")
		}
		if c.Twilio.FromNumber == "" {
			return fmt.Errorf("twilio.from_number is required when twilio is enabled")
		}
	}
	if c.SMTP.Enabled {
		if c.SMTP.Host == "" || c.SMTP.Username == "" {
			return fmt.Errorf("smtp.host and smtp.username are required when smtp is enabled")
		}
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be greater than zero")
	}
	if c.Auth.EmailOTPTTL <= 0 {
		return fmt.Errorf("auth.email_otp_ttl must be greater than zero")
	}
	return nil
}

// Location resolves the notifier timezone used for calendar-day comparisons.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Notifier.Timezone)
	if err != nil {
		return nil, fmt.Errorf("notifier.timezone: %w", err)
	}
	return loc, nil
}

// ModalPolicy returns the validated modal policy.
func (c *Config) ModalPolicy() market.ModalPolicy {
	p, err := market.ParseModalPolicy(c.Matching.ModalPolicy)
	if err != nil {
		return market.ModalMean
	}
	return p
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
