package client

import (
	"context"
	"time"

	"github.com/cdrtools/cdrbatch/custom_errors"
	"github.com/cdrtools/cdrbatch/internal/dispatch"
	"github.com/cdrtools/cdrbatch/internal/logger"
	"github.com/cdrtools/cdrbatch/internal/record"
	"github.com/cdrtools/cdrbatch/internal/state"
	"github.com/cdrtools/cdrbatch/internal/status"
	"github.com/cdrtools/cdrbatch/internal/store"
	"github.com/cdrtools/cdrbatch/types"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// BatchJobs is the public face of the batch-job subsystem used by the web
// handlers, the CLI and embedding programs.
type BatchJobs struct {
	dispatcher *dispatch.Dispatcher
	records    *record.Records
	status     *status.Service
	store      store.BatchJobStore
	now        func() time.Time
	log        *zap.SugaredLogger
}

func NewBatchJobs(dispatcher *dispatch.Dispatcher, records *record.Records, statusService *status.Service, jobStore store.BatchJobStore, log *zap.SugaredLogger) *BatchJobs {
	return &BatchJobs{
		dispatcher: dispatcher,
		records:    records,
		status:     statusService,
		store:      jobStore,
		now:        time.Now,
		log:        logger.OrNop(log),
	}
}

func (b *BatchJobs) Submit(ctx context.Context, sub types.Submission) (types.SubmitResult, error) {
	return b.dispatcher.Submit(ctx, sub)
}

func (b *BatchJobs) Status(ctx context.Context, jobID int64) (*types.BatchJob, error) {
	return b.status.GetStatus(ctx, jobID)
}

func (b *BatchJobs) ActiveCount(ctx context.Context, pattern types.NamePattern) (int, error) {
	return b.status.ActiveCount(ctx, pattern)
}

func (b *BatchJobs) Search(ctx context.Context, filter types.SearchFilter) (*types.SearchResult, error) {
	return b.status.Search(ctx, filter)
}

func (b *BatchJobs) Queued(ctx context.Context, limit int) ([]types.BatchJob, error) {
	return b.status.Queued(ctx, limit)
}

func (b *BatchJobs) Stalled(ctx context.Context) ([]types.BatchJob, error) {
	return b.status.Stalled(ctx)
}

// Transition is how a worker reports its job's progress through the life cycle.
func (b *BatchJobs) Transition(ctx context.Context, jobID int64, to state.JobStatus) (*types.BatchJob, error) {
	return b.records.TransitionTo(ctx, jobID, to)
}

func (b *BatchJobs) SetProgress(ctx context.Context, jobID int64, message string) error {
	return b.records.SetProgress(ctx, jobID, message)
}

// AbortStalled moves each listed job to aborted on behalf of an operator.
// Jobs that fail to move are reported together; the others are still aborted.
func (b *BatchJobs) AbortStalled(ctx context.Context, user *types.User, jobIDs []int64) ([]int64, error) {
	if !user.Can(types.PermManageBatchJobs) {
		return nil, custom_errors.PermissionDenied(userName(user), types.PermManageBatchJobs)
	}

	var (
		aborted []int64
		failed  []error
	)
	for _, id := range jobIDs {
		if _, err := b.records.TransitionTo(ctx, id, state.StatusAborted); err != nil {
			b.log.Warnw("Failed to abort job", "job_id", id, "user", user.Name, "error", err)
			failed = append(failed, errors.Wrapf(err, "job %d", id))
			continue
		}
		b.log.Infof("%s marked batch job %d as aborted", user.Name, id)
		aborted = append(aborted, id)
	}
	return aborted, errors.Join(failed...)
}

// Purge deletes terminal jobs whose status last changed more than
// olderThanDays days ago.
func (b *BatchJobs) Purge(ctx context.Context, user *types.User, olderThanDays int) (int64, error) {
	if !user.Can(types.PermPurgeBatchJobs) {
		return 0, custom_errors.PermissionDenied(userName(user), types.PermPurgeBatchJobs)
	}
	if olderThanDays <= 0 {
		return 0, custom_errors.InvalidArgument("age must be at least one day, got %d", olderThanDays)
	}

	n, err := b.store.PurgeTerminalBefore(ctx, b.now().AddDate(0, 0, -olderThanDays))
	if err != nil {
		return 0, err
	}
	b.log.Infow("Purged batch jobs", "user", user.Name, "older_than_days", olderThanDays, "deleted", n)
	return n, nil
}

func userName(user *types.User) string {
	if user == nil {
		return "anonymous"
	}
	return user.Name
}
