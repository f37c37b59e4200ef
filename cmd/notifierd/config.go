package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xraph/notifier"
	"github.com/xraph/notifier/channel"
	"github.com/xraph/notifier/notification"
	"github.com/xraph/notifier/queue"
	"github.com/xraph/notifier/store"
)

// envPrefix namespaces environment overrides, e.g. NOTIFIER_STORE_URL.
const envPrefix = "NOTIFIER"

// Config is the notifierd configuration file layout.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Store    StoreConfig    `mapstructure:"store"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Backoff  BackoffConfig  `mapstructure:"backoff"`
	Limits   []LimitConfig  `mapstructure:"limits"`
	Channels ChannelsConfig `mapstructure:"channels"`
	Audit    AuditConfig    `mapstructure:"audit"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text or json
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	URL      string `mapstructure:"url"`
	Database string `mapstructure:"database"`
}

// DispatchConfig mirrors notifier.Config.
type DispatchConfig struct {
	Concurrency           int                      `mapstructure:"concurrency"`
	SweepSchedule         string                   `mapstructure:"sweep_schedule"`
	SweepBatchSize        int                      `mapstructure:"sweep_batch_size"`
	TickInterval          time.Duration            `mapstructure:"tick_interval"`
	AttemptTimeout        time.Duration            `mapstructure:"attempt_timeout"`
	ChannelTimeouts       map[string]time.Duration `mapstructure:"channel_timeouts"`
	StaleAttemptThreshold time.Duration            `mapstructure:"stale_attempt_threshold"`
	ReaperInterval        time.Duration            `mapstructure:"reaper_interval"`
	MaxReconcileAttempts  int                      `mapstructure:"max_reconcile_attempts"`
	ShutdownTimeout       time.Duration            `mapstructure:"shutdown_timeout"`
}

// BackoffConfig configures the jittered exponential retry delay.
type BackoffConfig struct {
	Base time.Duration `mapstructure:"base"`
	Max  time.Duration `mapstructure:"max"`
}

// LimitConfig is one per-channel limit.
type LimitConfig struct {
	Channel            string  `mapstructure:"channel"`
	MaxConcurrency     int     `mapstructure:"max_concurrency"`
	RateLimit          float64 `mapstructure:"rate_limit"`
	RateBurst          int     `mapstructure:"rate_burst"`
	RecipientRateLimit float64 `mapstructure:"recipient_rate_limit"`
	RecipientRateBurst int     `mapstructure:"recipient_rate_burst"`
}

// ChannelsConfig enables and configures the channel adapters.
type ChannelsConfig struct {
	Email    EmailConfig    `mapstructure:"email"`
	SMS      SMSConfig      `mapstructure:"sms"`
	Push     PushConfig     `mapstructure:"push"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Slack    SlackConfig    `mapstructure:"slack"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// EmailConfig configures SMTP delivery.
type EmailConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SMSConfig configures the SMS gateway. Classification maps gateway
// status codes to delivered, transient or permanent.
type SMSConfig struct {
	Enabled        bool           `mapstructure:"enabled"`
	Endpoint       string         `mapstructure:"endpoint"`
	APIKey         string         `mapstructure:"api_key"`
	From           string         `mapstructure:"from"`
	Classification map[int]string `mapstructure:"classification"`
}

// PushConfig configures the WebSocket hub.
type PushConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Encoding string `mapstructure:"encoding"` // json or msgpack
}

// WebhookConfig configures outbound webhooks.
type WebhookConfig struct {
	Enabled        bool           `mapstructure:"enabled"`
	Secret         string         `mapstructure:"secret"`
	Classification map[int]string `mapstructure:"classification"`
}

// SlackConfig configures the Slack Web API adapter.
type SlackConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	BaseURL string `mapstructure:"base_url"`
}

// TelegramConfig configures the Telegram Bot API adapter.
type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	BaseURL string `mapstructure:"base_url"`
}

// AuditConfig controls the audit log extension.
type AuditConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Actions []string `mapstructure:"actions"`
}

// setDefaults registers every key so environment overrides reach
// Unmarshal even when the file omits them.
func setDefaults(v *viper.Viper) {
	d := notifier.DefaultConfig()

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.read_header_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("store.driver", store.DriverMemory)
	v.SetDefault("store.url", "")
	v.SetDefault("store.database", "notifier")

	v.SetDefault("dispatch.concurrency", d.Concurrency)
	v.SetDefault("dispatch.sweep_schedule", d.SweepSchedule)
	v.SetDefault("dispatch.sweep_batch_size", d.SweepBatchSize)
	v.SetDefault("dispatch.tick_interval", d.TickInterval)
	v.SetDefault("dispatch.attempt_timeout", d.AttemptTimeout)
	v.SetDefault("dispatch.channel_timeouts", map[string]time.Duration{})
	v.SetDefault("dispatch.stale_attempt_threshold", d.StaleAttemptThreshold)
	v.SetDefault("dispatch.reaper_interval", d.ReaperInterval)
	v.SetDefault("dispatch.max_reconcile_attempts", d.MaxReconcileAttempts)
	v.SetDefault("dispatch.shutdown_timeout", d.ShutdownTimeout)

	v.SetDefault("backoff.base", time.Second)
	v.SetDefault("backoff.max", 5*time.Minute)

	v.SetDefault("channels.email.enabled", false)
	v.SetDefault("channels.email.host", "localhost")
	v.SetDefault("channels.email.port", 587)
	v.SetDefault("channels.email.username", "")
	v.SetDefault("channels.email.password", "")
	v.SetDefault("channels.email.from", "")
	v.SetDefault("channels.email.timeout", 10*time.Second)

	v.SetDefault("channels.sms.enabled", false)
	v.SetDefault("channels.sms.endpoint", "")
	v.SetDefault("channels.sms.api_key", "")
	v.SetDefault("channels.sms.from", "")

	v.SetDefault("channels.push.enabled", true)
	v.SetDefault("channels.push.encoding", "json")

	v.SetDefault("channels.webhook.enabled", true)
	v.SetDefault("channels.webhook.secret", "")

	v.SetDefault("channels.slack.enabled", false)
	v.SetDefault("channels.slack.token", "")
	v.SetDefault("channels.slack.base_url", "")

	v.SetDefault("channels.telegram.enabled", false)
	v.SetDefault("channels.telegram.token", "")
	v.SetDefault("channels.telegram.base_url", "")

	v.SetDefault("audit.enabled", true)
}

// LoadConfig reads path (or notifier.yaml from the working directory or
// /etc/notifier when path is empty) and applies NOTIFIER_* overrides.
// A missing default file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("notifier")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/notifier")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// notifierConfig converts the dispatch section.
func (c *Config) notifierConfig() notifier.Config {
	d := c.Dispatch
	return notifier.Config{
		Concurrency:           d.Concurrency,
		SweepSchedule:         d.SweepSchedule,
		SweepBatchSize:        d.SweepBatchSize,
		TickInterval:          d.TickInterval,
		AttemptTimeout:        d.AttemptTimeout,
		ChannelTimeouts:       d.ChannelTimeouts,
		StaleAttemptThreshold: d.StaleAttemptThreshold,
		ReaperInterval:        d.ReaperInterval,
		MaxReconcileAttempts:  d.MaxReconcileAttempts,
		ShutdownTimeout:       d.ShutdownTimeout,
	}
}

func (c *Config) storeConfig() store.Config {
	return store.Config{
		Driver:   c.Store.Driver,
		URL:      c.Store.URL,
		Database: c.Store.Database,
	}
}

// queueLimits validates and converts the limits section.
func (c *Config) queueLimits() ([]queue.Limit, error) {
	limits := make([]queue.Limit, 0, len(c.Limits))
	for _, l := range c.Limits {
		ch, err := notification.ParseChannel(l.Channel)
		if err != nil {
			return nil, fmt.Errorf("limits: %w", err)
		}
		limits = append(limits, queue.Limit{
			Channel:            ch,
			MaxConcurrency:     l.MaxConcurrency,
			RateLimit:          l.RateLimit,
			RateBurst:          l.RateBurst,
			RecipientRateLimit: l.RecipientRateLimit,
			RecipientRateBurst: l.RecipientRateBurst,
		})
	}
	return limits, nil
}

// classification builds a status table from code → kind name overrides.
// It returns nil when there are none so adapters keep their default.
func classification(overrides map[int]string) (*channel.Classification, error) {
	if len(overrides) == 0 {
		return nil, nil
	}
	c := channel.DefaultClassification()
	for code, name := range overrides {
		var k channel.Kind
		switch strings.ToLower(name) {
		case "delivered":
			k = channel.KindDelivered
		case "transient":
			k = channel.KindTransient
		case "permanent":
			k = channel.KindPermanent
		default:
			return nil, fmt.Errorf("classification: status %d: unknown kind %q", code, name)
		}
		c = c.With(code, k)
	}
	return &c, nil
}
