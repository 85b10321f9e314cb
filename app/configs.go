package app

import (
	"github.com/cdrtools/cdrbatch/internal/notify"
	"github.com/cdrtools/cdrbatch/types/config"
	"go.uber.org/zap"
)

// newTransport picks SMTP when a relay is configured and falls back to
// logging each message otherwise.
func newTransport(cfg *config.BatchConfig, log *zap.SugaredLogger) (notify.Transport, error) {
	if !cfg.SMTP.Enabled() {
		log.Warnw("SMTP not configured; notifications will only be logged")
		return notify.NewLogTransport(log.Named("mail")), nil
	}
	return notify.NewSMTPTransport(cfg.SMTP)
}

func notifierOptions(cfg *config.BatchConfig) []notify.Option {
	opts := []notify.Option{
		notify.WithWorkers(cfg.NotificationWorkers),
		notify.WithStatusPageURL(cfg.PublicBaseURL),
	}
	if cfg.MailRatePerSecond > 0 {
		opts = append(opts, notify.WithRateLimit(cfg.MailRatePerSecond, cfg.MailBurst))
	}
	return opts
}
