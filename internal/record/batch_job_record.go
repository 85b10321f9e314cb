package record

import (
	"context"
	"strings"

	"github.com/cdrtools/cdrbatch/custom_errors"
	"github.com/cdrtools/cdrbatch/internal/constants"
	"github.com/cdrtools/cdrbatch/internal/logger"
	"github.com/cdrtools/cdrbatch/internal/state"
	"github.com/cdrtools/cdrbatch/internal/store"
	"github.com/cdrtools/cdrbatch/types"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// TerminalListener is told about each job that has just entered a terminal
// status with a non-empty email list. The transition is already committed.
type TerminalListener interface {
	JobTerminated(ctx context.Context, jobID int64)
}

// Records owns the life cycle of batch jobs: creation, queueing and every
// status change after that.
type Records struct {
	store    store.BatchJobStore
	listener TerminalListener
	log      *zap.SugaredLogger
}

func NewRecords(jobStore store.BatchJobStore, listener TerminalListener, log *zap.SugaredLogger) *Records {
	return &Records{store: jobStore, listener: listener, log: logger.OrNop(log)}
}

// Create validates a submission and returns an unsaved job in status queued.
func (r *Records) Create(sub types.Submission) (*types.BatchJob, error) {
	validation := &custom_errors.ValidationError{}

	// Names and commands are stored as given; surrounding spaces are significant.
	if strings.TrimSpace(sub.Name) == "" {
		validation.Addf("job name is required")
	}
	if strings.TrimSpace(sub.Command) == "" {
		validation.Addf("command is required")
	}
	for i, arg := range sub.Args {
		if arg.Key == "" {
			validation.Addf("argument %d has an empty key", i+1)
		}
	}
	emails, err := ParseEmailList(sub.EmailList...)
	if err != nil {
		var parsed *custom_errors.ValidationError
		if errors.As(err, &parsed) {
			validation.Errors = append(validation.Errors, parsed.Errors...)
		} else {
			validation.Add(err)
		}
	}

	if validation.HasError() {
		return nil, validation
	}

	args := make([]types.Arg, len(sub.Args))
	copy(args, sub.Args)

	return &types.BatchJob{
		Name:      sub.Name,
		Command:   sub.Command,
		Args:      args,
		EmailList: emails,
		Status:    state.StatusQueued,
		Submitter: sub.Submitter,
	}, nil
}

// Enqueue persists job and fills in its id and timestamps. A same-name job
// that is still active yields a *custom_errors.ConcurrentJobError.
func (r *Records) Enqueue(ctx context.Context, job *types.BatchJob) (int64, error) {
	created, err := r.store.Insert(ctx, job)
	if err != nil {
		return 0, err
	}
	*job = *created
	return created.ID, nil
}

// TransitionTo moves a job to status to. Repeating the current terminal
// status is accepted and changes nothing.
func (r *Records) TransitionTo(ctx context.Context, jobID int64, to state.JobStatus) (*types.BatchJob, error) {
	if !to.IsValid() {
		return nil, custom_errors.InvalidArgument("unknown job status %q", to)
	}

	for attempt := 0; attempt < constants.MaxTransitionAttempts; attempt++ {
		job, err := r.store.FindByID(ctx, jobID)
		if err != nil {
			return nil, err
		}

		if job.Status.IsTerminal() {
			if job.Status == to {
				return job, nil
			}
			return nil, errors.Mark(
				errors.Newf("job %d is already %s", jobID, job.Status),
				custom_errors.ErrAlreadyTerminal,
			)
		}
		if !state.IsValidTransition(job.Status, to) {
			return nil, errors.Mark(
				errors.Newf("job %d cannot move from %s to %s", jobID, job.Status, to),
				custom_errors.ErrIllegalTransition,
			)
		}

		notify := to.IsTerminal() && len(job.EmailList) > 0
		ok, err := r.store.CompareAndSetStatus(ctx, jobID, job.Status, to, notify)
		if err != nil {
			return nil, err
		}
		if !ok {
			r.log.Debugw("Job status changed concurrently, retrying", "job_id", jobID, "expected", job.Status, "attempt", attempt+1)
			continue
		}

		r.log.Infow("Job status changed", "job_id", jobID, "name", job.Name, "from", job.Status, "to", to)

		if notify && r.listener != nil {
			r.listener.JobTerminated(ctx, jobID)
		}
		return r.store.FindByID(ctx, jobID)
	}

	return nil, errors.Newf("job %d kept changing status; gave up after %d attempts", jobID, constants.MaxTransitionAttempts)
}

// SetProgress replaces the job's progress text. It is accepted in any status.
func (r *Records) SetProgress(ctx context.Context, jobID int64, message string) error {
	return r.store.SetProgress(ctx, jobID, message)
}

func (r *Records) Get(ctx context.Context, jobID int64) (*types.BatchJob, error) {
	return r.store.FindByID(ctx, jobID)
}
