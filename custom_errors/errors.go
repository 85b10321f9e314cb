package custom_errors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Error kinds surfaced by the batch-job core. Concrete errors are marked with
// one of these so callers can branch with errors.Is.
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNoSuchJob           = errors.New("no such job")
	ErrIllegalTransition   = errors.New("illegal transition")
	ErrAlreadyTerminal     = errors.New("job already terminal")
	ErrStoreUnavailable    = errors.New("job store unavailable")
	ErrNotificationFailed  = errors.New("notification failed")
	ErrConcurrentJobExists = errors.New("concurrent job exists")
	ErrPermissionDenied    = errors.New("permission denied")
)

// ConcurrentJobError reports that a job with the same name is still active.
type ConcurrentJobError struct {
	Name          string
	ExistingJobID int64
}

func (e *ConcurrentJobError) Error() string {
	return fmt.Sprintf("job %q is already active as job %d", e.Name, e.ExistingJobID)
}

func (e *ConcurrentJobError) Is(target error) bool {
	return target == ErrConcurrentJobExists
}

// Unavailable wraps a driver failure and marks it ErrStoreUnavailable.
func Unavailable(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, msg), ErrStoreUnavailable)
}

func NoSuchJob(jobID int64) error {
	return errors.Mark(errors.Newf("job %d not found", jobID), ErrNoSuchJob)
}

func InvalidArgument(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidArgument)
}

func PermissionDenied(user, permission string) error {
	return errors.Mark(errors.Newf("%s lacks permission %s", user, permission), ErrPermissionDenied)
}
