package app

import (
	"database/sql"

	"github.com/cdrtools/cdrbatch/internal/notify"
	"github.com/cdrtools/cdrbatch/internal/store"
	"go.uber.org/zap"
)

// ContainerOption configures Container creation. Used for testing and customization.
type ContainerOption func(*containerConfig)

type containerConfig struct {
	db          *sql.DB
	store       store.BatchJobStore
	transport   notify.Transport
	log         *zap.SugaredLogger
	skipMigrate bool
}

// WithDB injects an open database; the container will not close it.
func WithDB(db *sql.DB) ContainerOption {
	return func(c *containerConfig) {
		c.db = db
	}
}

// WithStore injects a ready store, bypassing database setup.
func WithStore(s store.BatchJobStore) ContainerOption {
	return func(c *containerConfig) {
		c.store = s
	}
}

func WithTransport(t notify.Transport) ContainerOption {
	return func(c *containerConfig) {
		c.transport = t
	}
}

func WithLogger(log *zap.SugaredLogger) ContainerOption {
	return func(c *containerConfig) {
		c.log = log
	}
}

// WithoutMigrations skips schema migration, for commands that must not change the database.
func WithoutMigrations() ContainerOption {
	return func(c *containerConfig) {
		c.skipMigrate = true
	}
}
