package lock

import (
	"context"
	"database/sql"
)

// Execer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type DistributedLockManager interface {
	// Acquire takes a session lock. conn must be a single connection and the
	// same one handed to Release.
	Acquire(ctx context.Context, conn Execer, lockID int) error
	Release(ctx context.Context, conn Execer, lockID int) error

	// LockName serializes transactions working on one job name. The lock is
	// held until tx commits or rolls back.
	LockName(ctx context.Context, tx Execer, name string) error
}
