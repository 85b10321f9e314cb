package config

import (
	"strings"

	"github.com/cdrtools/cdrbatch/types/config"
	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

const EnvPrefix = "CDRBATCH"

// Load reads cdrbatch.toml (from path, or the working directory and
// /etc/cdrbatch when path is empty) overlaid with CDRBATCH_* environment variables.
func Load(path string) (*config.BatchConfig, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cdrbatch")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/cdrbatch")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}
	return FromViper(v)
}

// SetDefaults registers every key so environment overrides resolve.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("instance", "cdrbatch")
	v.SetDefault("storage_driver", config.DefaultStorageDriver.String())
	v.SetDefault("postgres.connection_url", "")
	v.SetDefault("sqlite.path", "cdrbatch.db")
	v.SetDefault("http_addr", config.DefaultHTTPAddr)
	v.SetDefault("public_base_url", "")
	v.SetDefault("secret_key", "")
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", config.DefaultSMTPPort)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.require_tls", false)
	v.SetDefault("smtp.timeout", config.DefaultSMTPTimeout)
	v.SetDefault("mail_rate_per_second", config.DefaultMailRatePerSecond)
	v.SetDefault("mail_burst", config.DefaultMailBurst)
	v.SetDefault("search_limit", config.DefaultSearchLimit)
	v.SetDefault("notification_workers", config.DefaultNotificationWorkers)
	v.SetDefault("notification_drain_schedule", config.DefaultNotificationDrainSchedule)
	v.SetDefault("purge_schedule", config.DefaultPurgeSchedule)
	v.SetDefault("retention_days", 0)
	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
}

// FromViper turns resolved viper keys into a validated BatchConfig.
func FromViper(v *viper.Viper) (*config.BatchConfig, error) {
	driver, err := config.ParseStorageDriver(v.GetString("storage_driver"))
	if err != nil {
		return nil, err
	}

	opts := []config.ConfigOption{
		config.WithHTTPAddr(v.GetString("http_addr")),
		config.WithPublicBaseURL(v.GetString("public_base_url")),
		config.WithSMTP(config.SMTPConfig{
			Host:       v.GetString("smtp.host"),
			Port:       v.GetInt("smtp.port"),
			Username:   v.GetString("smtp.username"),
			Password:   v.GetString("smtp.password"),
			From:       v.GetString("smtp.from"),
			RequireTLS: v.GetBool("smtp.require_tls"),
			Timeout:    v.GetDuration("smtp.timeout"),
		}),
		config.WithMailRate(v.GetFloat64("mail_rate_per_second"), v.GetInt("mail_burst")),
		config.WithSearchLimit(v.GetInt("search_limit")),
		config.WithNotificationWorkers(v.GetInt("notification_workers")),
		config.WithNotificationDrainSchedule(v.GetString("notification_drain_schedule")),
		config.WithRetention(v.GetInt("retention_days"), v.GetString("purge_schedule")),
		config.WithLogging(v.GetBool("log.json"), v.GetString("log.level")),
	}

	switch driver {
	case config.Postgres:
		opts = append(opts, config.WithPostgresConfig(config.PostgresConfig{
			ConnectionUrl: v.GetString("postgres.connection_url"),
		}))
	case config.SQLite:
		opts = append(opts, config.WithSQLiteConfig(config.SQLiteConfig{
			Path: v.GetString("sqlite.path"),
		}))
	}

	if secret := v.GetString("secret_key"); secret != "" {
		opts = append(opts, config.WithSecretKey(secret))
	}

	return config.NewBatchConfig(v.GetString("instance"), opts...)
}
