package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rpattn/pensionbatch/internal/domain"

	"github.com/google/uuid"
)

type memoryJobExecutionRepository struct {
	mu         sync.Mutex
	executions map[uuid.UUID]domain.JobExecution
	now        func() time.Time
}

// NewMemoryJobExecutionRepository returns a process-local repository, used
// when no database is configured.
func NewMemoryJobExecutionRepository() JobExecutionRepository {
	return &memoryJobExecutionRepository{
		executions: map[uuid.UUID]domain.JobExecution{},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *memoryJobExecutionRepository) Create(_ context.Context, execution domain.JobExecution) (domain.JobExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if execution.ID == uuid.Nil {
		execution.ID = uuid.New()
	}
	if execution.Status == "" {
		execution.Status = domain.JobExecutionStatusStarted
	}
	if execution.StartedAt.IsZero() {
		execution.StartedAt = r.now()
	}
	r.executions[execution.ID] = execution
	return execution, nil
}

func (r *memoryJobExecutionRepository) UpdateProgress(_ context.Context, id uuid.UUID, progress domain.JobProgress) error {
	return r.update(id, func(execution *domain.JobExecution) {
		execution.Progress = progress
	})
}

func (r *memoryJobExecutionRepository) MarkCompleted(_ context.Context, id uuid.UUID, progress domain.JobProgress) error {
	return r.update(id, func(execution *domain.JobExecution) {
		ended := r.now()
		execution.Status = domain.JobExecutionStatusCompleted
		execution.Progress = progress
		execution.EndedAt = &ended
	})
}

func (r *memoryJobExecutionRepository) MarkFailed(_ context.Context, id uuid.UUID, progress domain.JobProgress, failureKind string, errorMessage string) error {
	return r.update(id, func(execution *domain.JobExecution) {
		ended := r.now()
		execution.Status = domain.JobExecutionStatusFailed
		execution.Progress = progress
		execution.FailureKind = &failureKind
		execution.ErrorMessage = &errorMessage
		execution.EndedAt = &ended
	})
}

func (r *memoryJobExecutionRepository) update(id uuid.UUID, apply func(*domain.JobExecution)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, ok := r.executions[id]
	if !ok {
		return ErrExecutionNotFound
	}
	if execution.Status != domain.JobExecutionStatusStarted {
		return ErrExecutionFinished
	}
	apply(&execution)
	r.executions[id] = execution
	return nil
}

func (r *memoryJobExecutionRepository) GetByID(_ context.Context, id uuid.UUID) (domain.JobExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, ok := r.executions[id]
	if !ok {
		return domain.JobExecution{}, ErrExecutionNotFound
	}
	return execution, nil
}

func (r *memoryJobExecutionRepository) List(_ context.Context, limit int, offset int) ([]domain.JobExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	all := r.sorted()
	if offset >= len(all) {
		return []domain.JobExecution{}, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *memoryJobExecutionRepository) LatestFailed(_ context.Context, jobName string, sourcePath string) (domain.JobExecution, error) {
	for _, execution := range r.sorted() {
		if execution.JobName == jobName &&
			execution.SourcePath == sourcePath &&
			execution.Status == domain.JobExecutionStatusFailed {
			return execution, nil
		}
	}
	return domain.JobExecution{}, ErrExecutionNotFound
}

// sorted returns every execution, newest first.
func (r *memoryJobExecutionRepository) sorted() []domain.JobExecution {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]domain.JobExecution, 0, len(r.executions))
	for _, execution := range r.executions {
		all = append(all, execution)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].StartedAt.After(all[j].StartedAt)
	})
	return all
}
