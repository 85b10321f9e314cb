package dispatch

import (
	"context"

	"github.com/cdrtools/cdrbatch/custom_errors"
	"github.com/cdrtools/cdrbatch/internal/logger"
	"github.com/cdrtools/cdrbatch/internal/record"
	"github.com/cdrtools/cdrbatch/types"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Dispatcher is the single entry point for queueing a job on behalf of a caller.
type Dispatcher struct {
	records *record.Records
	log     *zap.SugaredLogger
}

func NewDispatcher(records *record.Records, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{records: records, log: logger.OrNop(log)}
}

// Submit creates and enqueues a job. A same-name job that is still active is
// reported through SubmitResult.AlreadyRunning, not as an error. Store
// failures are returned as they are; Submit never retries.
func (d *Dispatcher) Submit(ctx context.Context, sub types.Submission) (types.SubmitResult, error) {
	job, err := d.records.Create(sub)
	if err != nil {
		d.log.Infow("Job submission rejected", "name", sub.Name, "error", err)
		return types.SubmitResult{}, err
	}

	jobID, err := d.records.Enqueue(ctx, job)
	if err != nil {
		var concurrent *custom_errors.ConcurrentJobError
		if errors.As(err, &concurrent) {
			d.log.Infow("Job already running", "name", job.Name, "job_id", concurrent.ExistingJobID)
			return types.SubmitResult{JobID: concurrent.ExistingJobID, AlreadyRunning: true}, nil
		}
		d.log.Errorw("Failed to queue job", "name", job.Name, "error", err)
		return types.SubmitResult{}, err
	}

	d.log.Infow("Job queued",
		"job_id", jobID,
		"name", job.Name,
		"command", job.Command,
		"subscribers", len(job.EmailList),
	)
	return types.SubmitResult{JobID: jobID}, nil
}
