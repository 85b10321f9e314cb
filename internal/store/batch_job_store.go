package store

import (
	"context"
	"time"

	"github.com/cdrtools/cdrbatch/internal/state"
	"github.com/cdrtools/cdrbatch/types"
)

// BatchJobStore is the durable record of every batch job. It is the only
// source of truth for job state; nothing above it caches statuses.
type BatchJobStore interface {
	// Insert stores job as queued and returns it with id and timestamps filled in.
	// When another job with the same name is not terminal, nothing is written and
	// a *custom_errors.ConcurrentJobError naming that job is returned.
	Insert(ctx context.Context, job *types.BatchJob) (*types.BatchJob, error)

	FindByID(ctx context.Context, jobID int64) (*types.BatchJob, error)

	// CompareAndSetStatus moves the job from one status to another only if its
	// status is still from. notify marks the job for completion mail in the same write.
	CompareAndSetStatus(ctx context.Context, jobID int64, from, to state.JobStatus, notify bool) (bool, error)

	SetProgress(ctx context.Context, jobID int64, message string) error

	CountActive(ctx context.Context, pattern types.NamePattern) (int, error)

	// Search returns at most limit jobs matching filter, newest status change
	// first unless filter.Oldest is set.
	Search(ctx context.Context, filter types.SearchFilter, limit int) ([]types.BatchJob, error)

	// ClaimNotification clears the pending-notification mark. Exactly one caller
	// gets ok=true for each terminal arrival.
	ClaimNotification(ctx context.Context, jobID int64) (job *types.BatchJob, ok bool, err error)

	PendingNotifications(ctx context.Context, limit int) ([]int64, error)

	// PurgeTerminalBefore deletes terminal jobs whose status changed before cutoff
	// and whose mail has gone out.
	PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Migrate(ctx context.Context) error

	// Close closes the database
	Close() error
}
