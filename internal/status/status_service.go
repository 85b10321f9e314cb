package status

import (
	"context"

	"github.com/cdrtools/cdrbatch/custom_errors"
	"github.com/cdrtools/cdrbatch/internal/logger"
	"github.com/cdrtools/cdrbatch/internal/state"
	"github.com/cdrtools/cdrbatch/internal/store"
	"github.com/cdrtools/cdrbatch/types"
	"go.uber.org/zap"
)

// Service answers read-only questions about batch jobs.
type Service struct {
	store       store.BatchJobStore
	searchLimit int
	log         *zap.SugaredLogger
}

func NewService(jobStore store.BatchJobStore, searchLimit int, log *zap.SugaredLogger) *Service {
	return &Service{store: jobStore, searchLimit: searchLimit, log: logger.OrNop(log)}
}

// ActiveCount counts non-terminal jobs whose name matches pattern.
func (s *Service) ActiveCount(ctx context.Context, pattern types.NamePattern) (int, error) {
	return s.store.CountActive(ctx, pattern)
}

func (s *Service) GetStatus(ctx context.Context, jobID int64) (*types.BatchJob, error) {
	if jobID <= 0 {
		return nil, custom_errors.InvalidArgument("job id must be positive, got %d", jobID)
	}
	return s.store.FindByID(ctx, jobID)
}

// Search applies filter and returns at most the configured number of rows,
// most recently changed first. Truncated reports that more rows matched.
func (s *Service) Search(ctx context.Context, filter types.SearchFilter) (*types.SearchResult, error) {
	validation := &custom_errors.ValidationError{}
	if filter.JobID < 0 {
		validation.Addf("job id must not be negative")
	}
	if filter.AgeDays < 0 {
		validation.Addf("age must not be negative")
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		validation.Addf("unknown job status %q", filter.Status)
	}
	for _, st := range filter.Statuses {
		if !st.IsValid() {
			validation.Addf("unknown job status %q", st)
		}
	}
	if validation.HasError() {
		return nil, validation
	}

	jobs, err := s.store.Search(ctx, filter, s.searchLimit+1)
	if err != nil {
		return nil, err
	}

	result := &types.SearchResult{Items: jobs, Limit: s.searchLimit}
	if len(jobs) > s.searchLimit {
		result.Items = jobs[:s.searchLimit]
		result.Truncated = true
		s.log.Debugw("Search truncated", "limit", s.searchLimit, "name", filter.Name)
	}
	return result, nil
}

// Queued lists the oldest queued jobs for a worker to pick up.
func (s *Service) Queued(ctx context.Context, limit int) ([]types.BatchJob, error) {
	if limit <= 0 || limit > s.searchLimit {
		limit = s.searchLimit
	}
	return s.store.Search(ctx, types.SearchFilter{Status: state.StatusQueued, Oldest: true}, limit)
}

// Stalled lists every job that has not reached a terminal status, for
// operators deciding which ones to abort by hand.
func (s *Service) Stalled(ctx context.Context) ([]types.BatchJob, error) {
	return s.store.Search(ctx, types.SearchFilter{Statuses: state.NonTerminalStatuses}, s.searchLimit)
}
