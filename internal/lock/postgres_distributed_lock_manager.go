package lock

import (
	"context"
	"time"

	"github.com/cdrtools/cdrbatch/internal/constants"
	"github.com/cockroachdb/errors"
)

const acquireTimeout = 5 * time.Second

type PostgresDistributedLockManager struct{}

func NewPostgresDistributedLockManager() *PostgresDistributedLockManager {
	return &PostgresDistributedLockManager{}
}

func (l *PostgresDistributedLockManager) Acquire(ctx context.Context, conn Execer, lockID int) error {
	ctx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()

	_, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", lockID)
	if err != nil {
		return errors.Wrap(err, "failed to acquire lock")
	}

	return nil
}

func (l *PostgresDistributedLockManager) Release(ctx context.Context, conn Execer, lockID int) error {
	ctx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()

	_, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", lockID)
	if err != nil {
		return errors.Wrap(err, "failed to release lock")
	}

	return nil
}

// LockName hashes the name into the second key. Hash collisions only make two
// unrelated names wait for each other.
func (l *PostgresDistributedLockManager) LockName(ctx context.Context, tx Execer, name string) error {
	_, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1, hashtext($2))", constants.JobNameLockSpace, name)
	if err != nil {
		return errors.Wrapf(err, "failed to lock job name %q", name)
	}
	return nil
}
