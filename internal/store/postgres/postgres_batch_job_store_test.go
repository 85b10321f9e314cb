package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cdrtools/cdrbatch/custom_errors"
	"github.com/cdrtools/cdrbatch/internal/constants"
	"github.com/cdrtools/cdrbatch/internal/lock"
	"github.com/cdrtools/cdrbatch/internal/state"
	"github.com/cdrtools/cdrbatch/types"
	"github.com/cockroachdb/errors"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var jobRowColumns = []string{
	"job_id", "name", "command", "args", "email_list", "status",
	"started_at", "status_changed_at", "progress", "submitter",
}

func newTestStore(t *testing.T) (*PostgresBatchJobStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresBatchJobStore(db, lock.NewPostgresDistributedLockManager(), zap.NewNop().Sugar()), mock
}

func TestPostgresBatchJobStore_Insert(t *testing.T) {
	jobStore, mock := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(constants.JobNameLockSpace, "Global Change").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT job_id FROM cdr_batch.batch_job WHERE name").
		WithArgs("Global Change").
		WillReturnRows(sqlmock.NewRows([]string{"job_id"}))
	mock.ExpectQuery("INSERT INTO cdr_batch.batch_job").
		WithArgs("Global Change", "ModifyDocs", sqlmock.AnyArg(), sqlmock.AnyArg(), "queued", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"job_id", "started_at", "status_changed_at"}).AddRow(42, now, now))
	mock.ExpectCommit()

	created, err := jobStore.Insert(ctx, &types.BatchJob{
		Name:      "Global Change",
		Command:   "ModifyDocs",
		Args:      []types.Arg{{Key: "DocType", Value: "Summary"}},
		EmailList: []string{"ed@example.org"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), created.ID)
	assert.Equal(t, state.StatusQueued, created.Status)
	assert.Equal(t, now, created.StartedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBatchJobStore_Insert_ConcurrentJob(t *testing.T) {
	jobStore, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT job_id FROM cdr_batch.batch_job WHERE name").
		WithArgs("Global Change").
		WillReturnRows(sqlmock.NewRows([]string{"job_id"}).AddRow(17))
	mock.ExpectRollback()

	_, err := jobStore.Insert(context.Background(), &types.BatchJob{Name: "Global Change", Command: "ModifyDocs"})
	require.Error(t, err)

	var concurrent *custom_errors.ConcurrentJobError
	require.True(t, errors.As(err, &concurrent))
	assert.Equal(t, int64(17), concurrent.ExistingJobID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBatchJobStore_Insert_UniqueViolationReportsWinner(t *testing.T) {
	jobStore, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT job_id FROM cdr_batch.batch_job WHERE name").
		WillReturnRows(sqlmock.NewRows([]string{"job_id"}))
	mock.ExpectQuery("INSERT INTO cdr_batch.batch_job").
		WillReturnError(&pq.Error{Code: uniqueViolation})
	mock.ExpectRollback()
	mock.ExpectQuery("SELECT job_id FROM cdr_batch.batch_job WHERE name").
		WithArgs("Publish").
		WillReturnRows(sqlmock.NewRows([]string{"job_id"}).AddRow(21))

	_, err := jobStore.Insert(context.Background(), &types.BatchJob{Name: "Publish", Command: "Publish"})

	var concurrent *custom_errors.ConcurrentJobError
	require.True(t, errors.As(err, &concurrent))
	assert.Equal(t, int64(21), concurrent.ExistingJobID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBatchJobStore_Insert_StoreUnavailable(t *testing.T) {
	jobStore, mock := newTestStore(t)

	mock.ExpectBegin().WillReturnError(sql.ErrConnDone)

	_, err := jobStore.Insert(context.Background(), &types.BatchJob{Name: "Publish", Command: "Publish"})
	assert.True(t, errors.Is(err, custom_errors.ErrStoreUnavailable))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBatchJobStore_FindByID(t *testing.T) {
	jobStore, mock := newTestStore(t)
	started := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	changed := started.Add(time.Hour)

	mock.ExpectQuery("SELECT (.+) FROM cdr_batch.batch_job WHERE job_id").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(jobRowColumns).AddRow(
			7, "Glossary Phrases", "GlossaryTermPhrases",
			[]byte(`[{"key":"Type","value":"Concept"},{"key":"Type","value":"Name"}]`),
			"{ed@example.org,pat@example.org}", "in_process",
			started, changed, "Processed 40 of 90 terms", "rmk",
		))

	job, err := jobStore.FindByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "Glossary Phrases", job.Name)
	assert.Equal(t, []string{"Concept", "Name"}, job.ArgValues("Type"))
	assert.Equal(t, []string{"ed@example.org", "pat@example.org"}, job.EmailList)
	assert.Equal(t, state.StatusInProcess, job.Status)
	assert.Equal(t, changed, job.StatusChangedAt)
	require.NotNil(t, job.Submitter)
	assert.Equal(t, "rmk", *job.Submitter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBatchJobStore_FindByID_NotFound(t *testing.T) {
	jobStore, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM cdr_batch.batch_job WHERE job_id").
		WithArgs(int64(999)).
		WillReturnRows(sqlmock.NewRows(jobRowColumns))

	_, err := jobStore.FindByID(context.Background(), 999)
	assert.True(t, errors.Is(err, custom_errors.ErrNoSuchJob))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBatchJobStore_CompareAndSetStatus(t *testing.T) {
	jobStore, mock := newTestStore(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE cdr_batch.batch_job").
		WithArgs(int64(5), "in_process", "completed", true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE cdr_batch.batch_job").
		WithArgs(int64(5), "queued", "initiating", false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := jobStore.CompareAndSetStatus(ctx, 5, state.StatusInProcess, state.StatusCompleted, true)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = jobStore.CompareAndSetStatus(ctx, 5, state.StatusQueued, state.StatusInitiating, false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBatchJobStore_SetProgress(t *testing.T) {
	jobStore, mock := newTestStore(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE cdr_batch.batch_job SET progress").
		WithArgs(int64(3), "halfway").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE cdr_batch.batch_job SET progress").
		WithArgs(int64(4), "halfway").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, jobStore.SetProgress(ctx, 3, "halfway"))
	err := jobStore.SetProgress(ctx, 4, "halfway")
	assert.True(t, errors.Is(err, custom_errors.ErrNoSuchJob))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBatchJobStore_CountActive(t *testing.T) {
	jobStore, mock := newTestStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM cdr_batch.batch_job WHERE status NOT IN (.+) AND name = \$1`).
		WithArgs("Global Change").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM cdr_batch.batch_job WHERE status NOT IN (.+) AND name LIKE \$1`).
		WithArgs(`Glossary\_%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := jobStore.CountActive(ctx, types.ExactName("Global Change"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = jobStore.CountActive(ctx, types.NamePrefix("Glossary_"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBatchJobStore_Search(t *testing.T) {
	jobStore, mock := newTestStore(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM cdr_batch.batch_job WHERE name ILIKE \$1 (.+) AND status_changed_at >= (.+) AND status = ANY\(\$3\) ORDER BY status_changed_at DESC, job_id DESC LIMIT \$4`).
		WithArgs(`%100\%%`, 7, sqlmock.AnyArg(), 2000).
		WillReturnRows(sqlmock.NewRows(jobRowColumns).
			AddRow(9, "100% check", "Check", []byte(`[]`), "{}", "completed", now, now, "done", nil).
			AddRow(8, "100% check", "Check", []byte(`[]`), "{}", "aborted", now, now.Add(-time.Hour), "", nil))

	jobs, err := jobStore.Search(context.Background(), types.SearchFilter{
		Name:    "100%",
		AgeDays: 7,
		Status:  state.StatusCompleted,
	}, 2000)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, int64(9), jobs[0].ID)
	assert.Nil(t, jobs[0].Submitter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBatchJobStore_Search_ByID(t *testing.T) {
	jobStore, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM cdr_batch.batch_job WHERE job_id = \$1 ORDER BY (.+) LIMIT \$2`).
		WithArgs(int64(12), 50).
		WillReturnRows(sqlmock.NewRows(jobRowColumns))

	jobs, err := jobStore.Search(context.Background(), types.SearchFilter{JobID: 12}, 50)
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBatchJobStore_ClaimNotification(t *testing.T) {
	jobStore, mock := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectQuery("UPDATE cdr_batch.batch_job SET notify_pending = FALSE").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(jobRowColumns).
			AddRow(5, "Publish", "Publish", []byte(`[]`), "{ed@example.org}", "completed", now, now, "done", nil))
	mock.ExpectQuery("UPDATE cdr_batch.batch_job SET notify_pending = FALSE").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(jobRowColumns))

	job, ok, err := jobStore.ClaimNotification(ctx, 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, state.StatusCompleted, job.Status)

	_, ok, err = jobStore.ClaimNotification(ctx, 5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBatchJobStore_PendingNotifications(t *testing.T) {
	jobStore, mock := newTestStore(t)

	mock.ExpectQuery("SELECT job_id FROM cdr_batch.batch_job WHERE notify_pending").
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"job_id"}).AddRow(3).AddRow(8))

	ids, err := jobStore.PendingNotifications(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 8}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBatchJobStore_PurgeTerminalBefore(t *testing.T) {
	jobStore, mock := newTestStore(t)
	cutoff := time.Now().AddDate(0, 0, -90)

	mock.ExpectExec("SELECT pg_advisory_lock").
		WithArgs(constants.PurgeLock).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM cdr_batch.batch_job WHERE status IN").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec("SELECT pg_advisory_unlock").
		WithArgs(constants.PurgeLock).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := jobStore.PurgeTerminalBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
