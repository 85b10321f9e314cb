package app

import (
	"context"
	"database/sql"

	"github.com/cdrtools/cdrbatch/client"
	setup "github.com/cdrtools/cdrbatch/config"
	"github.com/cdrtools/cdrbatch/internal/dispatch"
	"github.com/cdrtools/cdrbatch/internal/lock"
	"github.com/cdrtools/cdrbatch/internal/logger"
	"github.com/cdrtools/cdrbatch/internal/notify"
	"github.com/cdrtools/cdrbatch/internal/record"
	"github.com/cdrtools/cdrbatch/internal/scheduler"
	"github.com/cdrtools/cdrbatch/internal/status"
	"github.com/cdrtools/cdrbatch/internal/store"
	"github.com/cdrtools/cdrbatch/types/config"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Container holds every long-lived dependency of a cdrbatch process. Build it
// once with NewContainer and Close it on shutdown.
type Container struct {
	Config *config.BatchConfig
	Log    *zap.SugaredLogger

	DB          *sql.DB
	Store       store.BatchJobStore
	LockManager lock.DistributedLockManager

	Transport  notify.Transport
	Notifier   *notify.Notifier
	Records    *record.Records
	Dispatcher *dispatch.Dispatcher
	Status     *status.Service
	Scheduler  *scheduler.Scheduler
	BatchJobs  *client.BatchJobs

	ownsStore bool
}

// NewContainer opens storage, applies migrations and wires the services.
// WithDB, WithStore and WithTransport replace the parts built from cfg.
func NewContainer(ctx context.Context, cfg *config.BatchConfig, opts ...ContainerOption) (*Container, error) {
	opt := &containerConfig{}
	for _, o := range opts {
		o(opt)
	}

	log := opt.log
	if log == nil {
		var err error
		if log, err = logger.New(cfg.Log.JSON, cfg.Log.Level); err != nil {
			return nil, err
		}
	}
	log = log.With("instance", cfg.Instance)

	c := &Container{Config: cfg, Log: log}

	lockMgr, err := setup.CreateDistributedLockManager(cfg.StorageDriver)
	if err != nil {
		return nil, err
	}
	c.LockManager = lockMgr

	if opt.store != nil {
		c.Store = opt.store
	} else {
		db := opt.db
		if db == nil {
			if db, err = setup.OpenDatabase(ctx, *cfg); err != nil {
				return nil, errors.Wrap(err, "init storage")
			}
		}
		c.DB = db
		if c.Store, err = setup.CreateBatchJobStore(cfg.StorageDriver, db, lockMgr, log.Named("store")); err != nil {
			return nil, err
		}
		c.ownsStore = opt.db == nil
	}

	if !opt.skipMigrate {
		if err := c.Store.Migrate(ctx); err != nil {
			c.Close()
			return nil, errors.Wrap(err, "migrate")
		}
	}

	c.Transport = opt.transport
	if c.Transport == nil {
		if c.Transport, err = newTransport(cfg, log); err != nil {
			c.Close()
			return nil, err
		}
	}

	c.Notifier = notify.NewNotifier(c.Store, c.Transport, log.Named("notify"), notifierOptions(cfg)...)
	c.Records = record.NewRecords(c.Store, c.Notifier, log.Named("record"))
	c.Dispatcher = dispatch.NewDispatcher(c.Records, log.Named("dispatch"))
	c.Status = status.NewService(c.Store, cfg.SearchLimit, log.Named("status"))
	c.BatchJobs = client.NewBatchJobs(c.Dispatcher, c.Records, c.Status, c.Store, log.Named("client"))

	if c.Scheduler, err = scheduler.NewScheduler(*cfg, c.Store, c.Notifier, log.Named("scheduler")); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

// Close releases the database when the container opened it.
func (c *Container) Close() error {
	if c.ownsStore && c.Store != nil {
		return c.Store.Close()
	}
	return nil
}
