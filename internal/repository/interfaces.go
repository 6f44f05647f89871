package repository

import (
	"context"
	"errors"

	"github.com/rpattn/pensionbatch/internal/domain"

	"github.com/google/uuid"
)

// ErrExecutionNotFound is returned when no execution matches a lookup.
var ErrExecutionNotFound = errors.New("job execution not found")

// ErrExecutionFinished is returned when a terminal execution is updated again.
var ErrExecutionFinished = errors.New("job execution already finished")

// JobExecutionRepository persists job runs and their chunk checkpoints.
type JobExecutionRepository interface {
	Create(ctx context.Context, execution domain.JobExecution) (domain.JobExecution, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, progress domain.JobProgress) error
	MarkCompleted(ctx context.Context, id uuid.UUID, progress domain.JobProgress) error
	MarkFailed(ctx context.Context, id uuid.UUID, progress domain.JobProgress, failureKind string, errorMessage string) error
	GetByID(ctx context.Context, id uuid.UUID) (domain.JobExecution, error)
	List(ctx context.Context, limit int, offset int) ([]domain.JobExecution, error)
	// LatestFailed returns the most recent failed run of jobName over sourcePath.
	LatestFailed(ctx context.Context, jobName string, sourcePath string) (domain.JobExecution, error)
}
