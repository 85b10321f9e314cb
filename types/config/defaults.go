package config

import "time"

const (
	DefaultStorageDriver             = Postgres
	DefaultHTTPAddr                  = ":8080"
	DefaultSearchLimit               = 2000
	DefaultNotificationWorkers       = 4
	DefaultNotificationDrainSchedule = "@every 1m"
	DefaultPurgeSchedule             = "@daily"
	DefaultMailRatePerSecond         = 5.0
	DefaultMailBurst                 = 5
	DefaultSMTPPort                  = 25
	DefaultSMTPTimeout               = 30 * time.Second
)
