package db

import (
	"context"
	"database/sql"
	"io/fs"
	"sort"
	"strings"

	"github.com/cdrtools/cdrbatch/internal/constants"
	"github.com/cdrtools/cdrbatch/internal/lock"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Dialect describes how one driver records applied migrations.
type Dialect struct {
	// Bootstrap creates the schema and the migrations table. It must be idempotent.
	Bootstrap string
	// Applied checks one version; Record inserts one. Both take the version as their only argument.
	Applied string
	Record  string
	// Files holds NNN_name.sql scripts at its root.
	Files fs.FS
}

// Migrate applies every pending script in version order, one transaction per
// script. Only one process migrates at a time; the others wait on the migration lock.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect, lockMgr lock.DistributedLockManager, log *zap.SugaredLogger) error {
	scripts, err := readSQLScripts(dialect.Files)
	if err != nil {
		return err
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return errors.Wrap(err, "get migration connection")
	}
	defer conn.Close()

	if err = lockMgr.Acquire(ctx, conn, constants.MigrationLock); err != nil {
		return err
	}
	defer func() {
		if err := lockMgr.Release(context.WithoutCancel(ctx), conn, constants.MigrationLock); err != nil {
			log.Warnw("Failed to release migration lock", "error", err)
		}
	}()

	if _, err = conn.ExecContext(ctx, dialect.Bootstrap); err != nil {
		return errors.Wrap(err, "bootstrap schema")
	}

	applied := 0
	for _, name := range scripts {
		version := strings.SplitN(name, "_", 2)[0]

		var exists bool
		if err := conn.QueryRowContext(ctx, dialect.Applied, version).Scan(&exists); err != nil {
			return errors.Wrapf(err, "check %s", name)
		}
		if exists {
			log.Debugw("Skipping migration (already applied)", "migration", name, "version", version)
			continue
		}

		body, err := fs.ReadFile(dialect.Files, name)
		if err != nil {
			return errors.Wrapf(err, "read %s", name)
		}

		log.Infow("Applying migration", "migration", name, "version", version)

		if err := applyScript(ctx, conn, string(body), dialect.Record, version); err != nil {
			return errors.Wrapf(err, "apply %s", name)
		}
		applied++
	}

	log.Infow("Migrations complete", "total_migrations", len(scripts), "applied", applied)
	return nil
}

func applyScript(ctx context.Context, conn *sql.Conn, body, record, version string) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, record, version); err != nil {
		return err
	}
	return tx.Commit()
}

func readSQLScripts(files fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}

	var scripts []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		scripts = append(scripts, entry.Name())
	}
	sort.Strings(scripts)
	return scripts, nil
}
