package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/cdrtools/cdrbatch/custom_errors"
	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

type BatchConfig struct {
	Instance      string        // Identifies this process in logs
	StorageDriver StorageDriver // Backend holding the batch_job table

	PostgresConfig PostgresConfig
	SQLiteConfig   SQLiteConfig

	HTTPAddr      string // Listen address of the status pages and JSON API
	PublicBaseURL string // Prefix of status-page links placed in notification mail
	SecretKey     string // Signs session tokens

	SMTP              SMTPConfig
	MailRatePerSecond float64 // Outbound messages per second across all jobs
	MailBurst         int

	SearchLimit int // Hard upper bound on rows returned by a search

	NotificationWorkers       int    // Jobs notified concurrently by the drain loop
	NotificationDrainSchedule string // Cron spec for re-sending notifications left pending

	// RetentionDays enables purging of terminal jobs whose status changed more
	// than this many days ago. Zero keeps everything.
	RetentionDays int
	PurgeSchedule string

	Log LogConfig
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	ConnectionUrl string
}

type SQLiteConfig struct {
	Path string
}

type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	RequireTLS bool
	Timeout    time.Duration
}

// Enabled reports whether mail can be sent at all.
func (s SMTPConfig) Enabled() bool {
	return s.Host != "" && s.From != ""
}

type LogConfig struct {
	JSON  bool
	Level string
}

// ConfigOption type for functional options pattern
type ConfigOption func(*BatchConfig) error

// NewBatchConfig creates a BatchConfig with default values.
// Only the instance name is required; option errors are collected and returned together.
func NewBatchConfig(instance string, opts ...ConfigOption) (*BatchConfig, error) {
	cfg := &BatchConfig{
		Instance:                  instance,
		StorageDriver:             DefaultStorageDriver,
		HTTPAddr:                  DefaultHTTPAddr,
		SearchLimit:               DefaultSearchLimit,
		NotificationWorkers:       DefaultNotificationWorkers,
		NotificationDrainSchedule: DefaultNotificationDrainSchedule,
		PurgeSchedule:             DefaultPurgeSchedule,
		MailRatePerSecond:         DefaultMailRatePerSecond,
		MailBurst:                 DefaultMailBurst,
		SMTP: SMTPConfig{
			Port:    DefaultSMTPPort,
			Timeout: DefaultSMTPTimeout,
		},
		Log: LogConfig{Level: "info"},
	}
	validationErrs := &custom_errors.ValidationError{}
	if strings.TrimSpace(instance) == "" {
		validationErrs.Addf("instance name is required")
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			validationErrs.Add(err)
		}
	}

	if validationErrs.HasError() {
		return nil, validationErrs
	}
	return cfg, nil
}

func WithPostgresConfig(pg PostgresConfig) ConfigOption {
	return func(c *BatchConfig) error {
		if pg.ConnectionUrl == "" {
			return errors.New("postgres: connection URL is required")
		}
		c.StorageDriver = Postgres
		c.PostgresConfig = pg
		return nil
	}
}

func WithSQLiteConfig(lite SQLiteConfig) ConfigOption {
	return func(c *BatchConfig) error {
		if lite.Path == "" {
			return errors.New("sqlite: database path is required")
		}
		c.StorageDriver = SQLite
		c.SQLiteConfig = lite
		return nil
	}
}

func WithHTTPAddr(addr string) ConfigOption {
	return func(c *BatchConfig) error {
		if addr == "" {
			return errors.New("http address must not be empty")
		}
		c.HTTPAddr = addr
		return nil
	}
}

func WithPublicBaseURL(base string) ConfigOption {
	return func(c *BatchConfig) error {
		if base == "" {
			return nil
		}
		u, err := url.Parse(base)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.Newf("public base URL %q must be absolute", base)
		}
		c.PublicBaseURL = strings.TrimRight(base, "/")
		return nil
	}
}

func WithSecretKey(secret string) ConfigOption {
	return func(c *BatchConfig) error {
		if len(secret) < 16 {
			return errors.New("secret key must be at least 16 characters")
		}
		c.SecretKey = secret
		return nil
	}
}

func WithSMTP(smtp SMTPConfig) ConfigOption {
	return func(c *BatchConfig) error {
		if smtp.Host == "" {
			return nil
		}
		if smtp.From == "" {
			return errors.New("smtp: sender address is required")
		}
		if smtp.Port <= 0 || smtp.Port > 65535 {
			return errors.Newf("smtp: invalid port %d", smtp.Port)
		}
		if smtp.Timeout <= 0 {
			smtp.Timeout = DefaultSMTPTimeout
		}
		c.SMTP = smtp
		return nil
	}
}

func WithMailRate(perSecond float64, burst int) ConfigOption {
	return func(c *BatchConfig) error {
		if perSecond <= 0 || burst < 1 {
			return errors.New("mail rate and burst must be positive")
		}
		c.MailRatePerSecond = perSecond
		c.MailBurst = burst
		return nil
	}
}

func WithSearchLimit(limit int) ConfigOption {
	return func(c *BatchConfig) error {
		if limit < 1 {
			return errors.New("search limit must be positive")
		}
		c.SearchLimit = limit
		return nil
	}
}

func WithNotificationWorkers(n int) ConfigOption {
	return func(c *BatchConfig) error {
		if n < 1 {
			return errors.New("notification worker count must be positive")
		}
		c.NotificationWorkers = n
		return nil
	}
}

func WithNotificationDrainSchedule(spec string) ConfigOption {
	return func(c *BatchConfig) error {
		if err := validateSchedule(spec); err != nil {
			return errors.Wrap(err, "notification drain schedule")
		}
		c.NotificationDrainSchedule = spec
		return nil
	}
}

func WithRetention(days int, schedule string) ConfigOption {
	return func(c *BatchConfig) error {
		if days < 0 {
			return errors.New("retention days must not be negative")
		}
		if schedule != "" {
			if err := validateSchedule(schedule); err != nil {
				return errors.Wrap(err, "purge schedule")
			}
			c.PurgeSchedule = schedule
		}
		c.RetentionDays = days
		return nil
	}
}

func WithLogging(jsonOutput bool, level string) ConfigOption {
	return func(c *BatchConfig) error {
		switch strings.ToLower(level) {
		case "", "debug", "info", "warn", "error":
		default:
			return errors.Newf("unknown log level %q", level)
		}
		c.Log = LogConfig{JSON: jsonOutput, Level: level}
		return nil
	}
}

func validateSchedule(spec string) error {
	_, err := cron.ParseStandard(spec)
	return err
}
