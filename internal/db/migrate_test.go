package db

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cdrtools/cdrbatch/internal/lock"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockLockManager struct {
	lock.SQLiteLockManager
	acquireErr error
	acquired   int
	released   int
}

func (m *mockLockManager) Acquire(context.Context, lock.Execer, int) error {
	m.acquired++
	return m.acquireErr
}

func (m *mockLockManager) Release(context.Context, lock.Execer, int) error {
	m.released++
	return nil
}

func testDialect() Dialect {
	return Dialect{
		Bootstrap: "CREATE TABLE IF NOT EXISTS schema_migrations",
		Applied:   "SELECT EXISTS",
		Record:    "INSERT INTO schema_migrations",
		Files: fstest.MapFS{
			"002_index.sql":  {Data: []byte("CREATE INDEX idx ON batch_job(name)")},
			"001_create.sql": {Data: []byte("CREATE TABLE batch_job (job_id INTEGER)")},
			"README.md":      {Data: []byte("ignored")},
		},
	}
}

func TestReadSQLScripts(t *testing.T) {
	scripts, err := readSQLScripts(testDialect().Files)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_create.sql", "002_index.sql"}, scripts)
}

func TestMigrate_AppliesPendingInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery("SELECT EXISTS").WithArgs("001").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	mock.ExpectQuery("SELECT EXISTS").WithArgs("002").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE INDEX idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("002").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	lockMgr := &mockLockManager{}
	err = Migrate(context.Background(), db, testDialect(), lockMgr, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Equal(t, 1, lockMgr.acquired)
	assert.Equal(t, 1, lockMgr.released)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_ScriptFailureRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("001").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE batch_job").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	err = Migrate(context.Background(), db, testDialect(), &mockLockManager{}, zap.NewNop().Sugar())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001_create.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_LockAcquireFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	err = Migrate(context.Background(), db, testDialect(), &mockLockManager{acquireErr: errors.New("lock busy")}, zap.NewNop().Sugar())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
