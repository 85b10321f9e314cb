package record

import (
	"context"
	"sync"
	"testing"

	"github.com/cdrtools/cdrbatch/custom_errors"
	"github.com/cdrtools/cdrbatch/internal/state"
	"github.com/cdrtools/cdrbatch/internal/store/mocks"
	"github.com/cdrtools/cdrbatch/internal/store/storetest"
	"github.com/cdrtools/cdrbatch/types"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	mu  sync.Mutex
	ids []int64
}

func (l *recordingListener) JobTerminated(_ context.Context, jobID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids = append(l.ids, jobID)
}

func (l *recordingListener) calls() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int64(nil), l.ids...)
}

func newTestRecords(t *testing.T) (*Records, *recordingListener) {
	t.Helper()
	listener := &recordingListener{}
	return NewRecords(storetest.NewSQLiteStore(t), listener, nil), listener
}

func enqueue(t *testing.T, r *Records, name string, emails ...string) *types.BatchJob {
	t.Helper()
	job, err := r.Create(types.Submission{Name: name, Command: "Run", EmailList: emails})
	require.NoError(t, err)
	_, err = r.Enqueue(context.Background(), job)
	require.NoError(t, err)
	return job
}

func walk(t *testing.T, r *Records, jobID int64, path ...state.JobStatus) {
	t.Helper()
	for _, to := range path {
		_, err := r.TransitionTo(context.Background(), jobID, to)
		require.NoError(t, err, "transition to %s", to)
	}
}

func TestRecords_Create(t *testing.T) {
	r, _ := newTestRecords(t)
	submitter := "rmk"

	job, err := r.Create(types.Submission{
		Name:      "  Global Change ",
		Command:   " ModifyDocs",
		Args:      []types.Arg{{Key: "DocType", Value: "Summary"}, {Key: "DocType", Value: "Term"}},
		EmailList: []string{"ed@example.org, pat@example.org", "ed@example.org"},
		Submitter: &submitter,
	})
	require.NoError(t, err)

	assert.Zero(t, job.ID)
	assert.Equal(t, "  Global Change ", job.Name)
	assert.Equal(t, " ModifyDocs", job.Command)
	assert.Equal(t, state.StatusQueued, job.Status)
	assert.Equal(t, []string{"ed@example.org", "pat@example.org"}, job.EmailList)
	assert.Len(t, job.Args, 2)
	assert.Equal(t, "rmk", *job.Submitter)

	_, err = r.Get(context.Background(), 1)
	assert.True(t, errors.Is(err, custom_errors.ErrNoSuchJob), "Create must not touch the store")
}

func TestRecords_Create_Invalid(t *testing.T) {
	r, _ := newTestRecords(t)

	_, err := r.Create(types.Submission{
		Name:      " ",
		Command:   "",
		Args:      []types.Arg{{Key: "", Value: "x"}},
		EmailList: []string{"bogus"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, custom_errors.ErrInvalidArgument))

	var validation *custom_errors.ValidationError
	require.True(t, errors.As(err, &validation))
	assert.Len(t, validation.Errors, 4)
}

func TestRecords_Enqueue(t *testing.T) {
	r, _ := newTestRecords(t)
	ctx := context.Background()

	first := enqueue(t, r, "Global Change")
	assert.NotZero(t, first.ID)
	assert.False(t, first.StartedAt.IsZero())

	dup, err := r.Create(types.Submission{Name: "Global Change", Command: "Run"})
	require.NoError(t, err)
	_, err = r.Enqueue(ctx, dup)

	var concurrent *custom_errors.ConcurrentJobError
	require.True(t, errors.As(err, &concurrent))
	assert.Equal(t, first.ID, concurrent.ExistingJobID)
}

func TestRecords_NamesDifferingByWhitespaceAreDistinct(t *testing.T) {
	r, _ := newTestRecords(t)
	ctx := context.Background()

	first := enqueue(t, r, "Glossary Term Search")
	second := enqueue(t, r, "Glossary Term Search ")
	assert.NotEqual(t, first.ID, second.ID)

	got, err := r.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "Glossary Term Search ", got.Name)
	assert.Equal(t, state.StatusQueued, got.Status)

	got, err = r.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusQueued, got.Status)
}

func TestRecords_TransitionTo_FullLifecycle(t *testing.T) {
	r, listener := newTestRecords(t)
	ctx := context.Background()
	job := enqueue(t, r, "Publish", "ed@example.org")

	walk(t, r, job.ID,
		state.StatusInitiating,
		state.StatusInProcess,
		state.StatusSuspendRequested,
		state.StatusSuspended,
		state.StatusResumeRequested,
		state.StatusInProcess,
	)
	assert.Empty(t, listener.calls())

	done, err := r.TransitionTo(ctx, job.ID, state.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, state.StatusCompleted, done.Status)
	assert.False(t, done.StatusChangedAt.Before(job.StatusChangedAt))
	assert.Equal(t, []int64{job.ID}, listener.calls())
}

func TestRecords_TransitionTo_StopFlow(t *testing.T) {
	r, listener := newTestRecords(t)
	job := enqueue(t, r, "Publish")

	walk(t, r, job.ID, state.StatusInitiating, state.StatusInProcess, state.StatusStopRequested, state.StatusStopped)

	got, err := r.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusStopped, got.Status)
	assert.Empty(t, listener.calls(), "no mail without subscribers")
}

func TestRecords_TransitionTo_Illegal(t *testing.T) {
	r, _ := newTestRecords(t)
	ctx := context.Background()
	job := enqueue(t, r, "Publish")

	_, err := r.TransitionTo(ctx, job.ID, state.StatusCompleted)
	assert.True(t, errors.Is(err, custom_errors.ErrIllegalTransition))

	got, err := r.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusQueued, got.Status)
}

func TestRecords_TransitionTo_AlreadyTerminal(t *testing.T) {
	r, listener := newTestRecords(t)
	ctx := context.Background()
	job := enqueue(t, r, "Publish", "ed@example.org")

	walk(t, r, job.ID, state.StatusAborted)
	require.Len(t, listener.calls(), 1)

	_, err := r.TransitionTo(ctx, job.ID, state.StatusCompleted)
	assert.True(t, errors.Is(err, custom_errors.ErrAlreadyTerminal))

	again, err := r.TransitionTo(ctx, job.ID, state.StatusAborted)
	require.NoError(t, err)
	assert.Equal(t, state.StatusAborted, again.Status)
	assert.Len(t, listener.calls(), 1, "repeating a terminal status must not notify again")
}

func TestRecords_TransitionTo_Errors(t *testing.T) {
	r, _ := newTestRecords(t)
	ctx := context.Background()
	job := enqueue(t, r, "Publish")

	_, err := r.TransitionTo(ctx, job.ID, state.JobStatus("finished"))
	assert.True(t, errors.Is(err, custom_errors.ErrInvalidArgument))

	_, err = r.TransitionTo(ctx, job.ID+1000, state.StatusAborted)
	assert.True(t, errors.Is(err, custom_errors.ErrNoSuchJob))
}

func TestRecords_SetProgressAfterTerminal(t *testing.T) {
	r, _ := newTestRecords(t)
	ctx := context.Background()
	job := enqueue(t, r, "Publish")

	require.NoError(t, r.SetProgress(ctx, job.ID, "starting"))
	walk(t, r, job.ID, state.StatusAborted)
	require.NoError(t, r.SetProgress(ctx, job.ID, "aborted by operator"))

	got, err := r.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusAborted, got.Status)
	assert.Equal(t, "aborted by operator", got.Progress)

	err = r.SetProgress(ctx, job.ID+1000, "x")
	assert.True(t, errors.Is(err, custom_errors.ErrNoSuchJob))
}

func TestRecords_TransitionTo_RetriesLostRace(t *testing.T) {
	current := state.StatusInitiating
	casCalls := 0
	mockStore := &mocks.MockBatchJobStore{
		FindByIDFunc: func(ctx context.Context, jobID int64) (*types.BatchJob, error) {
			return &types.BatchJob{ID: jobID, Name: "Publish", Status: current}, nil
		},
		CompareAndSetStatusFunc: func(ctx context.Context, jobID int64, from, to state.JobStatus, notify bool) (bool, error) {
			casCalls++
			if casCalls == 1 {
				// Another writer moved the job first.
				current = state.StatusInProcess
				return false, nil
			}
			assert.Equal(t, state.StatusInProcess, from)
			current = to
			return true, nil
		},
	}
	r := NewRecords(mockStore, nil, nil)

	job, err := r.TransitionTo(context.Background(), 9, state.StatusAborted)
	require.NoError(t, err)
	assert.Equal(t, state.StatusAborted, job.Status)
	assert.Equal(t, 2, casCalls)
}

func TestRecords_TransitionTo_LostRaceRevalidates(t *testing.T) {
	current := state.StatusInProcess
	mockStore := &mocks.MockBatchJobStore{
		FindByIDFunc: func(ctx context.Context, jobID int64) (*types.BatchJob, error) {
			return &types.BatchJob{ID: jobID, Status: current}, nil
		},
		CompareAndSetStatusFunc: func(ctx context.Context, jobID int64, from, to state.JobStatus, notify bool) (bool, error) {
			current = state.StatusStopped
			return false, nil
		},
	}
	r := NewRecords(mockStore, nil, nil)

	_, err := r.TransitionTo(context.Background(), 9, state.StatusCompleted)
	assert.True(t, errors.Is(err, custom_errors.ErrAlreadyTerminal))
}

func TestRecords_TransitionTo_GivesUp(t *testing.T) {
	mockStore := &mocks.MockBatchJobStore{
		FindByIDFunc: func(ctx context.Context, jobID int64) (*types.BatchJob, error) {
			return &types.BatchJob{ID: jobID, Status: state.StatusQueued}, nil
		},
		CompareAndSetStatusFunc: func(ctx context.Context, jobID int64, from, to state.JobStatus, notify bool) (bool, error) {
			return false, nil
		},
	}
	r := NewRecords(mockStore, nil, nil)

	_, err := r.TransitionTo(context.Background(), 9, state.StatusInitiating)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gave up")
	assert.False(t, errors.Is(err, custom_errors.ErrIllegalTransition), "contention is not a state-machine violation")
	assert.False(t, errors.Is(err, custom_errors.ErrAlreadyTerminal))
}

func TestRecords_StoreUnavailable(t *testing.T) {
	down := custom_errors.Unavailable(errors.New("connection refused"), "find job")
	mockStore := &mocks.MockBatchJobStore{
		FindByIDFunc: func(ctx context.Context, jobID int64) (*types.BatchJob, error) {
			return nil, down
		},
	}
	r := NewRecords(mockStore, nil, nil)

	_, err := r.TransitionTo(context.Background(), 1, state.StatusAborted)
	assert.True(t, errors.Is(err, custom_errors.ErrStoreUnavailable))
}
