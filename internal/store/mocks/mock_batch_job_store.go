package mocks

import (
	"context"
	"time"

	"github.com/cdrtools/cdrbatch/internal/state"
	"github.com/cdrtools/cdrbatch/types"
)

// MockBatchJobStore is a mock implementation of store.BatchJobStore for testing.
type MockBatchJobStore struct {
	InsertFunc               func(ctx context.Context, job *types.BatchJob) (*types.BatchJob, error)
	FindByIDFunc             func(ctx context.Context, jobID int64) (*types.BatchJob, error)
	CompareAndSetStatusFunc  func(ctx context.Context, jobID int64, from, to state.JobStatus, notify bool) (bool, error)
	SetProgressFunc          func(ctx context.Context, jobID int64, message string) error
	CountActiveFunc          func(ctx context.Context, pattern types.NamePattern) (int, error)
	SearchFunc               func(ctx context.Context, filter types.SearchFilter, limit int) ([]types.BatchJob, error)
	ClaimNotificationFunc    func(ctx context.Context, jobID int64) (*types.BatchJob, bool, error)
	PendingNotificationsFunc func(ctx context.Context, limit int) ([]int64, error)
	PurgeTerminalBeforeFunc  func(ctx context.Context, cutoff time.Time) (int64, error)
	MigrateFunc              func(ctx context.Context) error
	CloseFunc                func() error
}

func (m *MockBatchJobStore) Insert(ctx context.Context, job *types.BatchJob) (*types.BatchJob, error) {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, job)
	}
	created := *job
	created.ID = 1
	created.Status = state.StatusQueued
	return &created, nil
}

func (m *MockBatchJobStore) FindByID(ctx context.Context, jobID int64) (*types.BatchJob, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, jobID)
	}
	return nil, nil
}

func (m *MockBatchJobStore) CompareAndSetStatus(ctx context.Context, jobID int64, from, to state.JobStatus, notify bool) (bool, error) {
	if m.CompareAndSetStatusFunc != nil {
		return m.CompareAndSetStatusFunc(ctx, jobID, from, to, notify)
	}
	return true, nil
}

func (m *MockBatchJobStore) SetProgress(ctx context.Context, jobID int64, message string) error {
	if m.SetProgressFunc != nil {
		return m.SetProgressFunc(ctx, jobID, message)
	}
	return nil
}

func (m *MockBatchJobStore) CountActive(ctx context.Context, pattern types.NamePattern) (int, error) {
	if m.CountActiveFunc != nil {
		return m.CountActiveFunc(ctx, pattern)
	}
	return 0, nil
}

func (m *MockBatchJobStore) Search(ctx context.Context, filter types.SearchFilter, limit int) ([]types.BatchJob, error) {
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, filter, limit)
	}
	return nil, nil
}

func (m *MockBatchJobStore) ClaimNotification(ctx context.Context, jobID int64) (*types.BatchJob, bool, error) {
	if m.ClaimNotificationFunc != nil {
		return m.ClaimNotificationFunc(ctx, jobID)
	}
	return nil, false, nil
}

func (m *MockBatchJobStore) PendingNotifications(ctx context.Context, limit int) ([]int64, error) {
	if m.PendingNotificationsFunc != nil {
		return m.PendingNotificationsFunc(ctx, limit)
	}
	return nil, nil
}

func (m *MockBatchJobStore) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.PurgeTerminalBeforeFunc != nil {
		return m.PurgeTerminalBeforeFunc(ctx, cutoff)
	}
	return 0, nil
}

func (m *MockBatchJobStore) Migrate(ctx context.Context) error {
	if m.MigrateFunc != nil {
		return m.MigrateFunc(ctx)
	}
	return nil
}

func (m *MockBatchJobStore) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}
