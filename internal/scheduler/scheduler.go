package scheduler

import (
	"context"
	"time"

	"github.com/cdrtools/cdrbatch/internal/logger"
	"github.com/cdrtools/cdrbatch/internal/notify"
	"github.com/cdrtools/cdrbatch/internal/store"
	"github.com/cdrtools/cdrbatch/types/config"
	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// drainBatchSize is how many pending notifications one drain run claims.
const drainBatchSize = 500

// Scheduler runs the periodic housekeeping: mailing notifications a crashed
// process never sent and purging old terminal jobs.
type Scheduler struct {
	cron          *cron.Cron
	store         store.BatchJobStore
	notifier      *notify.Notifier
	retentionDays int
	now           func() time.Time
	log           *zap.SugaredLogger
}

func NewScheduler(cfg config.BatchConfig, jobStore store.BatchJobStore, notifier *notify.Notifier, log *zap.SugaredLogger) (*Scheduler, error) {
	log = logger.OrNop(log)
	cronLog := cronLogger{log: log.Named("cron")}

	s := &Scheduler{
		cron:          cron.New(cron.WithLogger(cronLog), cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog))),
		store:         jobStore,
		notifier:      notifier,
		retentionDays: cfg.RetentionDays,
		now:           time.Now,
		log:           log,
	}

	if _, err := s.cron.AddFunc(cfg.NotificationDrainSchedule, func() { s.RunDrain(context.Background()) }); err != nil {
		return nil, errors.Wrapf(err, "schedule notification drain %q", cfg.NotificationDrainSchedule)
	}
	if cfg.RetentionDays > 0 {
		if _, err := s.cron.AddFunc(cfg.PurgeSchedule, func() {
			if _, err := s.RunPurge(context.Background()); err != nil {
				s.log.Errorw("Purge failed", "error", err)
			}
		}); err != nil {
			return nil, errors.Wrapf(err, "schedule purge %q", cfg.PurgeSchedule)
		}
	}
	return s, nil
}

// Start runs the entries until ctx is done, then waits for running ones to finish.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Infow("Maintenance scheduler started", "entries", len(s.cron.Entries()), "retention_days", s.retentionDays)
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Infow("Maintenance scheduler stopped")
}

func (s *Scheduler) RunDrain(ctx context.Context) int {
	n, err := s.notifier.DrainPending(ctx, drainBatchSize)
	if err != nil {
		s.log.Errorw("Notification drain failed", "error", err)
	}
	return n
}

// RunPurge deletes terminal jobs whose status last changed more than
// retentionDays ago.
func (s *Scheduler) RunPurge(ctx context.Context) (int64, error) {
	if s.retentionDays <= 0 {
		return 0, nil
	}

	cutoff := s.now().AddDate(0, 0, -s.retentionDays)
	n, err := s.store.PurgeTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.log.Infow("Purged terminal jobs", "deleted", n, "cutoff", cutoff)
	return n, nil
}

type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
