package config

import (
	"database/sql"

	"github.com/cdrtools/cdrbatch/internal/lock"
	"github.com/cdrtools/cdrbatch/internal/store"
	"github.com/cdrtools/cdrbatch/internal/store/postgres"
	"github.com/cdrtools/cdrbatch/internal/store/sqlite"
	"github.com/cdrtools/cdrbatch/types/config"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

func CreateDistributedLockManager(driver config.StorageDriver) (lock.DistributedLockManager, error) {
	switch driver {
	case config.Postgres:
		return lock.NewPostgresDistributedLockManager(), nil
	case config.SQLite:
		return lock.NewSQLiteLockManager(), nil
	default:
		return nil, errors.Newf("unsupported storage driver %s", driver)
	}
}

func CreateBatchJobStore(driver config.StorageDriver, db *sql.DB, lockMgr lock.DistributedLockManager, log *zap.SugaredLogger) (store.BatchJobStore, error) {
	switch driver {
	case config.Postgres:
		return postgres.NewPostgresBatchJobStore(db, lockMgr, log), nil
	case config.SQLite:
		return sqlite.NewSQLiteBatchJobStore(db, lockMgr, log), nil
	default:
		return nil, errors.Newf("unsupported storage driver %s", driver)
	}
}
