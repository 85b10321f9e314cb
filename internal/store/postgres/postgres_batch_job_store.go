package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/cdrtools/cdrbatch/custom_errors"
	"github.com/cdrtools/cdrbatch/internal/constants"
	"github.com/cdrtools/cdrbatch/internal/db"
	"github.com/cdrtools/cdrbatch/internal/lock"
	"github.com/cdrtools/cdrbatch/internal/logger"
	"github.com/cdrtools/cdrbatch/internal/state"
	"github.com/cdrtools/cdrbatch/internal/store"
	"github.com/cdrtools/cdrbatch/types"
	"github.com/cockroachdb/errors"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	schema = "cdr_batch"
	table  = schema + ".batch_job"

	uniqueViolation = "23505"

	jobColumns = `job_id, name, command, args, email_list, status, started_at, status_changed_at, progress, submitter`
)

//go:embed migrations/*.sql
var migrations embed.FS

var activeClause = fmt.Sprintf("status NOT IN (%s)", store.TerminalStatusList)

type PostgresBatchJobStore struct {
	db   *sql.DB
	lock lock.DistributedLockManager
	log  *zap.SugaredLogger
}

func NewPostgresBatchJobStore(db *sql.DB, lockMgr lock.DistributedLockManager, log *zap.SugaredLogger) *PostgresBatchJobStore {
	return &PostgresBatchJobStore{db: db, lock: lockMgr, log: logger.OrNop(log)}
}

func (r *PostgresBatchJobStore) Insert(ctx context.Context, job *types.BatchJob) (*types.BatchJob, error) {
	argsJSON, err := store.EncodeArgs(job.Args)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, custom_errors.Unavailable(err, "begin insert")
	}
	defer tx.Rollback()

	if err := r.lock.LockName(ctx, tx, job.Name); err != nil {
		return nil, custom_errors.Unavailable(err, "insert job")
	}

	existingID, err := activeJobID(ctx, tx, job.Name)
	if err != nil {
		return nil, err
	}
	if existingID != 0 {
		return nil, &custom_errors.ConcurrentJobError{Name: job.Name, ExistingJobID: existingID}
	}

	query := `
		INSERT INTO ` + table + ` (name, command, args, email_list, status, started_at, status_changed_at, progress, submitter)
		VALUES ($1, $2, $3, $4, $5, now(), now(), '', $6)
		RETURNING job_id, started_at, status_changed_at`

	created := *job
	created.Status = state.StatusQueued
	created.Progress = ""
	created.EmailList = store.NonNilEmails(job.EmailList)

	err = tx.QueryRowContext(ctx, query,
		job.Name, job.Command, argsJSON, pq.Array(created.EmailList), state.StatusQueued.String(), job.Submitter,
	).Scan(&created.ID, &created.StartedAt, &created.StatusChangedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a race the name lock should have prevented; report the winner.
			tx.Rollback()
			if existingID, lookupErr := activeJobID(ctx, r.db, job.Name); lookupErr == nil && existingID != 0 {
				return nil, &custom_errors.ConcurrentJobError{Name: job.Name, ExistingJobID: existingID}
			}
		}
		return nil, custom_errors.Unavailable(err, "insert job")
	}

	if err := tx.Commit(); err != nil {
		return nil, custom_errors.Unavailable(err, "commit insert")
	}
	return &created, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func activeJobID(ctx context.Context, q queryRower, name string) (int64, error) {
	query := `SELECT job_id FROM ` + table + ` WHERE name = $1 AND ` + activeClause + ` ORDER BY job_id LIMIT 1`
	var id int64
	err := q.QueryRowContext(ctx, query, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, custom_errors.Unavailable(err, "find active job")
	}
	return id, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func (r *PostgresBatchJobStore) FindByID(ctx context.Context, jobID int64) (*types.BatchJob, error) {
	query := `SELECT ` + jobColumns + ` FROM ` + table + ` WHERE job_id = $1`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, custom_errors.NoSuchJob(jobID)
	}
	if err != nil {
		return nil, custom_errors.Unavailable(err, "find job")
	}
	return job, nil
}

func (r *PostgresBatchJobStore) CompareAndSetStatus(ctx context.Context, jobID int64, from, to state.JobStatus, notify bool) (bool, error) {
	query := `
		UPDATE ` + table + `
		SET status = $3,
		    status_changed_at = GREATEST(now(), status_changed_at),
		    notify_pending = $4
		WHERE job_id = $1 AND status = $2`

	res, err := r.db.ExecContext(ctx, query, jobID, from.String(), to.String(), notify)
	if err != nil {
		return false, custom_errors.Unavailable(err, "update job status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, custom_errors.Unavailable(err, "update job status")
	}
	return n == 1, nil
}

func (r *PostgresBatchJobStore) SetProgress(ctx context.Context, jobID int64, message string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE `+table+` SET progress = $2 WHERE job_id = $1`, jobID, message)
	if err != nil {
		return custom_errors.Unavailable(err, "set progress")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return custom_errors.Unavailable(err, "set progress")
	}
	if n == 0 {
		return custom_errors.NoSuchJob(jobID)
	}
	return nil
}

func (r *PostgresBatchJobStore) CountActive(ctx context.Context, pattern types.NamePattern) (int, error) {
	query := `SELECT COUNT(*) FROM ` + table + ` WHERE ` + activeClause
	arg := pattern.Value
	if pattern.Prefix {
		query += ` AND name LIKE $1 ESCAPE '\'`
		arg = store.EscapeLike(pattern.Value) + "%"
	} else {
		query += ` AND name = $1`
	}

	var count int
	if err := r.db.QueryRowContext(ctx, query, arg).Scan(&count); err != nil {
		return 0, custom_errors.Unavailable(err, "count active jobs")
	}
	return count, nil
}

func (r *PostgresBatchJobStore) Search(ctx context.Context, filter types.SearchFilter, limit int) ([]types.BatchJob, error) {
	var conditions []string
	var args []interface{}
	argIndex := 1

	if filter.JobID != 0 {
		conditions = append(conditions, fmt.Sprintf("job_id = $%d", argIndex))
		args = append(args, filter.JobID)
		argIndex++
	}
	if filter.Name != "" {
		conditions = append(conditions, fmt.Sprintf(`name ILIKE $%d ESCAPE '\'`, argIndex))
		args = append(args, "%"+store.EscapeLike(filter.Name)+"%")
		argIndex++
	}
	if filter.AgeDays > 0 {
		conditions = append(conditions, fmt.Sprintf("status_changed_at >= now() - ($%d::int * interval '1 day')", argIndex))
		args = append(args, filter.AgeDays)
		argIndex++
	}
	if statuses := store.FilterStatuses(filter); len(statuses) > 0 {
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", argIndex))
		args = append(args, pq.Array(statuses))
		argIndex++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	order := "status_changed_at DESC, job_id DESC"
	if filter.Oldest {
		order = "job_id ASC"
	}

	query := fmt.Sprintf(`SELECT %s FROM %s %s ORDER BY %s LIMIT $%d`, jobColumns, table, where, order, argIndex)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, custom_errors.Unavailable(err, "search jobs")
	}
	defer rows.Close()

	var jobs []types.BatchJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, custom_errors.Unavailable(err, "scan job")
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, custom_errors.Unavailable(err, "search jobs")
	}
	return jobs, nil
}

func (r *PostgresBatchJobStore) ClaimNotification(ctx context.Context, jobID int64) (*types.BatchJob, bool, error) {
	query := `
		UPDATE ` + table + `
		SET notify_pending = FALSE, notified_at = now()
		WHERE job_id = $1 AND notify_pending
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRowContext(ctx, query, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, custom_errors.Unavailable(err, "claim notification")
	}
	return job, true, nil
}

func (r *PostgresBatchJobStore) PendingNotifications(ctx context.Context, limit int) ([]int64, error) {
	query := `SELECT job_id FROM ` + table + ` WHERE notify_pending ORDER BY status_changed_at LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, custom_errors.Unavailable(err, "list pending notifications")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, custom_errors.Unavailable(err, "scan job id")
		}
		ids = append(ids, id)
	}
	return ids, custom_errors.Unavailable(rows.Err(), "list pending notifications")
}

// PurgeTerminalBefore runs under the purge lock so concurrent instances do
// not delete the same rows twice.
func (r *PostgresBatchJobStore) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM ` + table + ` WHERE status IN (` + store.TerminalStatusList + `) AND status_changed_at < $1 AND NOT notify_pending`

	conn, err := r.db.Conn(ctx)
	if err != nil {
		return 0, custom_errors.Unavailable(err, "get purge connection")
	}
	defer conn.Close()

	if err := r.lock.Acquire(ctx, conn, constants.PurgeLock); err != nil {
		return 0, custom_errors.Unavailable(err, "purge jobs")
	}
	defer func() {
		if err := r.lock.Release(context.WithoutCancel(ctx), conn, constants.PurgeLock); err != nil {
			r.log.Warnw("Failed to release purge lock", "error", err)
		}
	}()

	res, err := conn.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, custom_errors.Unavailable(err, "purge jobs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, custom_errors.Unavailable(err, "purge jobs")
	}
	return n, nil
}

func (r *PostgresBatchJobStore) Migrate(ctx context.Context) error {
	files, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	return db.Migrate(ctx, r.db, db.Dialect{
		Bootstrap: `
			CREATE SCHEMA IF NOT EXISTS ` + schema + `;
			CREATE TABLE IF NOT EXISTS ` + schema + `.schema_migrations (
				version    TEXT PRIMARY KEY,
				applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
		Applied: `SELECT EXISTS(SELECT 1 FROM ` + schema + `.schema_migrations WHERE version = $1)`,
		Record:  `INSERT INTO ` + schema + `.schema_migrations (version) VALUES ($1)`,
		Files:   files,
	}, r.lock, r.log)
}

func (r *PostgresBatchJobStore) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*types.BatchJob, error) {
	var (
		job       types.BatchJob
		argsJSON  []byte
		status    string
		submitter sql.NullString
	)
	err := row.Scan(
		&job.ID, &job.Name, &job.Command, &argsJSON, pq.Array(&job.EmailList), &status,
		&job.StartedAt, &job.StatusChangedAt, &job.Progress, &submitter,
	)
	if err != nil {
		return nil, err
	}

	if job.Args, err = store.DecodeArgs(argsJSON); err != nil {
		return nil, err
	}
	if job.Status, err = state.Parse(status); err != nil {
		return nil, errors.Wrapf(err, "job %d", job.ID)
	}
	if submitter.Valid {
		job.Submitter = &submitter.String
	}
	return &job, nil
}
