package config

import (
	"context"
	"database/sql"
	"time"

	"github.com/cdrtools/cdrbatch/internal/store/sqlite"
	"github.com/cdrtools/cdrbatch/types/config"
	"github.com/cockroachdb/errors"
	_ "github.com/lib/pq"
)

const pingTimeout = 5 * time.Second

// OpenDatabase opens and pings the database selected by cfg.StorageDriver.
func OpenDatabase(ctx context.Context, cfg config.BatchConfig) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.StorageDriver {
	case config.Postgres:
		db, err = setupPostgres(cfg.PostgresConfig.ConnectionUrl)
	case config.SQLite:
		db, err = sqlite.Open(cfg.SQLiteConfig.Path)
	default:
		return nil, errors.Newf("unsupported storage driver %s", cfg.StorageDriver)
	}
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "connect to %s", cfg.StorageDriver)
	}
	return db, nil
}

func setupPostgres(connection string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}
