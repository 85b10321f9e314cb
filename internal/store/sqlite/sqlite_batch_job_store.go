package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/cdrtools/cdrbatch/custom_errors"
	"github.com/cdrtools/cdrbatch/internal/db"
	"github.com/cdrtools/cdrbatch/internal/lock"
	"github.com/cdrtools/cdrbatch/internal/logger"
	"github.com/cdrtools/cdrbatch/internal/state"
	"github.com/cdrtools/cdrbatch/internal/store"
	"github.com/cdrtools/cdrbatch/types"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	sqlitedriver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const jobColumns = `job_id, name, command, args, email_list, status, started_at, status_changed_at, progress, submitter`

//go:embed migrations/*.sql
var migrations embed.FS

var activeClause = fmt.Sprintf("status NOT IN (%s)", store.TerminalStatusList)

// Open opens the database file. Write transactions start with BEGIN IMMEDIATE
// and a single connection is shared, so writers in this process never interleave.
func Open(path string) (*sql.DB, error) {
	dsn := path + "?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite db")
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}

type Option func(*SQLiteBatchJobStore)

// WithClock replaces time.Now for timestamps written by the store.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteBatchJobStore) {
		s.now = now
	}
}

type SQLiteBatchJobStore struct {
	db   *sql.DB
	lock lock.DistributedLockManager
	log  *zap.SugaredLogger
	now  func() time.Time
}

func NewSQLiteBatchJobStore(db *sql.DB, lockMgr lock.DistributedLockManager, log *zap.SugaredLogger, opts ...Option) *SQLiteBatchJobStore {
	s := &SQLiteBatchJobStore{db: db, lock: lockMgr, log: logger.OrNop(log), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SQLiteBatchJobStore) Insert(ctx context.Context, job *types.BatchJob) (*types.BatchJob, error) {
	argsJSON, err := store.EncodeArgs(job.Args)
	if err != nil {
		return nil, err
	}
	emails := store.NonNilEmails(job.EmailList)
	emailJSON, err := json.Marshal(emails)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal email list")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, custom_errors.Unavailable(err, "begin insert")
	}
	defer tx.Rollback()

	if err := s.lock.LockName(ctx, tx, job.Name); err != nil {
		return nil, custom_errors.Unavailable(err, "insert job")
	}

	existingID, err := activeJobID(ctx, tx, job.Name)
	if err != nil {
		return nil, err
	}
	if existingID != 0 {
		return nil, &custom_errors.ConcurrentJobError{Name: job.Name, ExistingJobID: existingID}
	}

	now := s.now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO batch_job (name, command, args, email_list, status, started_at, status_changed_at, progress, submitter)
		VALUES (?, ?, ?, ?, ?, ?, ?, '', ?)`,
		job.Name, job.Command, string(argsJSON), string(emailJSON), state.StatusQueued.String(),
		now.UnixMicro(), now.UnixMicro(), job.Submitter,
	)
	if err != nil {
		if isUniqueViolation(err) {
			if existingID, lookupErr := activeJobID(ctx, tx, job.Name); lookupErr == nil && existingID != 0 {
				return nil, &custom_errors.ConcurrentJobError{Name: job.Name, ExistingJobID: existingID}
			}
		}
		return nil, custom_errors.Unavailable(err, "insert job")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, custom_errors.Unavailable(err, "insert job")
	}
	if err := tx.Commit(); err != nil {
		return nil, custom_errors.Unavailable(err, "commit insert")
	}

	created := *job
	created.ID = id
	created.EmailList = emails
	created.Status = state.StatusQueued
	created.Progress = ""
	created.StartedAt = time.UnixMicro(now.UnixMicro())
	created.StatusChangedAt = created.StartedAt
	return &created, nil
}

func activeJobID(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT job_id FROM batch_job WHERE name = ? AND `+activeClause+` ORDER BY job_id LIMIT 1`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, custom_errors.Unavailable(err, "find active job")
	}
	return id, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlitedriver.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func (s *SQLiteBatchJobStore) FindByID(ctx context.Context, jobID int64) (*types.BatchJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM batch_job WHERE job_id = ?`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, custom_errors.NoSuchJob(jobID)
	}
	if err != nil {
		return nil, custom_errors.Unavailable(err, "find job")
	}
	return job, nil
}

func (s *SQLiteBatchJobStore) CompareAndSetStatus(ctx context.Context, jobID int64, from, to state.JobStatus, notify bool) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE batch_job
		SET status = ?,
		    status_changed_at = MAX(?, status_changed_at),
		    notify_pending = ?
		WHERE job_id = ? AND status = ?`,
		to.String(), s.now().UnixMicro(), notify, jobID, from.String(),
	)
	if err != nil {
		return false, custom_errors.Unavailable(err, "update job status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, custom_errors.Unavailable(err, "update job status")
	}
	return n == 1, nil
}

func (s *SQLiteBatchJobStore) SetProgress(ctx context.Context, jobID int64, message string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE batch_job SET progress = ? WHERE job_id = ?`, message, jobID)
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

func (s *SQLiteBatchJobStore) CountActive(ctx context.Context, pattern types.NamePattern) (int, error) {
	query := `SELECT COUNT(*) FROM batch_job WHERE ` + activeClause
	arg := pattern.Value
	if pattern.Prefix {
		// SQLite LIKE ignores ASCII case; the substr check keeps prefixes case-sensitive.
		query += ` AND name LIKE ? ESCAPE '\' AND substr(name, 1, length(?)) = ?`
		var count int
		err := s.db.QueryRowContext(ctx, query, store.EscapeLike(arg)+"%", arg, arg).Scan(&count)
		if err != nil {
			return 0, custom_errors.Unavailable(err, "count active jobs")
		}
		return count, nil
	}

	query += ` AND name = ?`
	var count int
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&count); err != nil {
		return 0, custom_errors.Unavailable(err, "count active jobs")
	}
	return count, nil
}

func (s *SQLiteBatchJobStore) Search(ctx context.Context, filter types.SearchFilter, limit int) ([]types.BatchJob, error) {
	var conditions []string
	var args []interface{}

	if filter.JobID != 0 {
		conditions = append(conditions, "job_id = ?")
		args = append(args, filter.JobID)
	}
	if filter.Name != "" {
		conditions = append(conditions, `name LIKE ? ESCAPE '\'`)
		args = append(args, "%"+store.EscapeLike(filter.Name)+"%")
	}
	if filter.AgeDays > 0 {
		cutoff := s.now().Add(-time.Duration(filter.AgeDays) * 24 * time.Hour)
		conditions = append(conditions, "status_changed_at >= ?")
		args = append(args, cutoff.UnixMicro())
	}
	if statuses := store.FilterStatuses(filter); len(statuses) > 0 {
		conditions = append(conditions, "status IN (?"+strings.Repeat(", ?", len(statuses)-1)+")")
		for _, st := range statuses {
			args = append(args, st)
		}
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	order := "status_changed_at DESC, job_id DESC"
	if filter.Oldest {
		order = "job_id ASC"
	}

	query := fmt.Sprintf(`SELECT %s FROM batch_job %s ORDER BY %s LIMIT ?`, jobColumns, where, order)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *SQLiteBatchJobStore) ClaimNotification(ctx context.Context, jobID int64) (*types.BatchJob, bool, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `
		UPDATE batch_job
		SET notify_pending = 0, notified_at = ?
		WHERE job_id = ? AND notify_pending = 1
		RETURNING `+jobColumns,
		s.now().UnixMicro(), jobID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, custom_errors.Unavailable(err, "claim notification")
	}
	return job, true, nil
}

func (s *SQLiteBatchJobStore) PendingNotifications(ctx context.Context, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT job_id FROM batch_job WHERE notify_pending = 1 ORDER BY status_changed_at LIMIT ?`, limit)
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

func (s *SQLiteBatchJobStore) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM batch_job WHERE status IN (`+store.TerminalStatusList+`) AND status_changed_at < ? AND notify_pending = 0`,
		cutoff.UnixMicro(),
	)
	if err != nil {
		return 0, custom_errors.Unavailable(err, "purge jobs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, custom_errors.Unavailable(err, "purge jobs")
	}
	return n, nil
}

func (s *SQLiteBatchJobStore) Migrate(ctx context.Context) error {
	files, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	return db.Migrate(ctx, s.db, db.Dialect{
		Bootstrap: `CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL DEFAULT (unixepoch())
		)`,
		Applied: `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)`,
		Record:  `INSERT INTO schema_migrations (version) VALUES (?)`,
		Files:   files,
	}, s.lock, s.log)
}

func (s *SQLiteBatchJobStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*types.BatchJob, error) {
	var (
		job              types.BatchJob
		argsJSON, emails string
		status           string
		started, changed int64
		submitter        sql.NullString
	)
	err := row.Scan(
		&job.ID, &job.Name, &job.Command, &argsJSON, &emails, &status,
		&started, &changed, &job.Progress, &submitter,
	)
	if err != nil {
		return nil, err
	}

	if job.Args, err = store.DecodeArgs([]byte(argsJSON)); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(emails), &job.EmailList); err != nil {
		return nil, errors.Wrapf(err, "job %d email list", job.ID)
	}
	if job.Status, err = state.Parse(status); err != nil {
		return nil, errors.Wrapf(err, "job %d", job.ID)
	}
	job.StartedAt = time.UnixMicro(started)
	job.StatusChangedAt = time.UnixMicro(changed)
	if submitter.Valid {
		job.Submitter = &submitter.String
	}
	return &job, nil
}
