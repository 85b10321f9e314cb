// Package storetest opens throwaway SQLite job stores for tests.
package storetest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cdrtools/cdrbatch/internal/lock"
	"github.com/cdrtools/cdrbatch/internal/store/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// NewSQLiteStore returns a migrated store in t.TempDir, closed on cleanup.
func NewSQLiteStore(t testing.TB, opts ...sqlite.Option) *sqlite.SQLiteBatchJobStore {
	t.Helper()
	conn, err := sqlite.Open(filepath.Join(t.TempDir(), "batch.db"))
	require.NoError(t, err)

	s := sqlite.NewSQLiteBatchJobStore(conn, lock.NewSQLiteLockManager(), zap.NewNop().Sugar(), opts...)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

// Clock is a settable time source for sqlite.WithClock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
