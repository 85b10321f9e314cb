package lock

import "context"

// SQLiteLockManager relies on the database file lock. Every write transaction
// is opened with BEGIN IMMEDIATE, which already excludes all other writers.
type SQLiteLockManager struct{}

func NewSQLiteLockManager() *SQLiteLockManager {
	return &SQLiteLockManager{}
}

func (SQLiteLockManager) Acquire(context.Context, Execer, int) error { return nil }

func (SQLiteLockManager) Release(context.Context, Execer, int) error { return nil }

func (SQLiteLockManager) LockName(context.Context, Execer, string) error { return nil }
