package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cdrtools/cdrbatch/custom_errors"
	"github.com/cdrtools/cdrbatch/internal/logger"
	"github.com/cdrtools/cdrbatch/internal/store"
	"github.com/cdrtools/cdrbatch/types"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Notifier mails every subscriber of a job once, after the job reaches a
// terminal status. Which caller sends is decided by ClaimNotification, so a
// terminal arrival produces one round of mail no matter how many processes
// observe it.
type Notifier struct {
	store     store.BatchJobStore
	transport Transport
	limiter   *rate.Limiter
	baseURL   string
	workers   int64
	log       *zap.SugaredLogger
}

type Option func(*Notifier)

// WithRateLimit caps outbound messages across all jobs.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(n *Notifier) {
		n.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithWorkers bounds how many jobs the drain loop mails concurrently.
func WithWorkers(workers int) Option {
	return func(n *Notifier) {
		if workers > 0 {
			n.workers = int64(workers)
		}
	}
}

// WithStatusPageURL sets the prefix of the status link placed in each message.
func WithStatusPageURL(baseURL string) Option {
	return func(n *Notifier) {
		n.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func NewNotifier(jobStore store.BatchJobStore, transport Transport, log *zap.SugaredLogger, opts ...Option) *Notifier {
	n := &Notifier{
		store:     jobStore,
		transport: transport,
		limiter:   rate.NewLimiter(rate.Inf, 1),
		workers:   1,
		log:       logger.OrNop(log),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// JobTerminated claims the job's pending notification and, if this call won
// the claim, mails each subscriber. Delivery problems are logged only; the
// job's status is never touched here.
func (n *Notifier) JobTerminated(ctx context.Context, jobID int64) {
	job, ok, err := n.store.ClaimNotification(ctx, jobID)
	if err != nil {
		n.log.Errorw("Failed to claim notification; will retry on next drain", "job_id", jobID, "error", err)
		return
	}
	if !ok {
		return
	}
	n.deliver(ctx, job)
}

// deliver sends one message per address so one bad address cannot block the rest.
func (n *Notifier) deliver(ctx context.Context, job *types.BatchJob) int {
	sent := 0
	for _, addr := range job.EmailList {
		msg := n.BuildMessage(job, addr)
		if err := n.limiter.Wait(ctx); err != nil {
			n.logFailure(job, addr, err)
			continue
		}
		if err := n.transport.Send(ctx, msg); err != nil {
			n.logFailure(job, addr, err)
			continue
		}
		sent++
	}
	n.log.Infow("Completion notification sent",
		"job_id", job.ID,
		"status", job.Status,
		"recipients", sent,
		"failed", len(job.EmailList)-sent,
	)
	return sent
}

func (n *Notifier) logFailure(job *types.BatchJob, addr string, err error) {
	n.log.Warnw("Notification failed",
		"job_id", job.ID,
		"address", addr,
		"error", errors.Mark(err, custom_errors.ErrNotificationFailed),
	)
}

// DrainPending mails jobs whose notification was marked but never claimed,
// for example because the process died between the status change and the send.
func (n *Notifier) DrainPending(ctx context.Context, batchSize int) (int, error) {
	ids, err := n.store.PendingNotifications(ctx, batchSize)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	sem := semaphore.NewWeighted(n.workers)
	var wg sync.WaitGroup
	for _, id := range ids {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(jobID int64) {
			defer wg.Done()
			defer sem.Release(1)
			n.JobTerminated(ctx, jobID)
		}(id)
	}
	wg.Wait()

	n.log.Infow("Drained pending notifications", "jobs", len(ids))
	return len(ids), ctx.Err()
}

func (n *Notifier) StatusPageURL(jobID int64) string {
	return fmt.Sprintf("%s/status?jobId=%d", n.baseURL, jobID)
}

func (n *Notifier) BuildMessage(job *types.BatchJob, addr string) Message {
	var body strings.Builder
	fmt.Fprintf(&body, "Batch job %d (%s) finished with status %s.\n\n", job.ID, job.Name, job.Status.Label())
	if job.Progress != "" {
		fmt.Fprintf(&body, "Last progress message:\n%s\n\n", job.Progress)
	}
	fmt.Fprintf(&body, "Status page: %s\n", n.StatusPageURL(job.ID))

	return Message{
		To:      addr,
		Subject: fmt.Sprintf("CDR batch job %d (%s): %s", job.ID, job.Name, job.Status.Label()),
		Body:    body.String(),
	}
}
