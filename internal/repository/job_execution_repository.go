package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/pensionbatch/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobExecutionColumns = `id, job_name, source_path, destination_path, skip_limit, start_offset, status,
	read_count, write_count, skip_count, committed_chunks, failure_kind, error_message, started_at, ended_at`

type jobExecutionRepository struct {
	pool *pgxpool.Pool
}

// NewJobExecutionRepository wires a repository backed by pgxpool.
func NewJobExecutionRepository(pool *pgxpool.Pool) JobExecutionRepository {
	return &jobExecutionRepository{pool: pool}
}

func (r *jobExecutionRepository) Create(ctx context.Context, execution domain.JobExecution) (domain.JobExecution, error) {
	if r.pool == nil {
		return domain.JobExecution{}, fmt.Errorf("job execution repository not initialized")
	}
	if execution.ID == uuid.Nil {
		execution.ID = uuid.New()
	}
	if execution.Status == "" {
		execution.Status = domain.JobExecutionStatusStarted
	}
	if execution.StartedAt.IsZero() {
		execution.StartedAt = time.Now().UTC()
	}

	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO job_executions (id, job_name, source_path, destination_path, skip_limit, start_offset, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+jobExecutionColumns,
		execution.ID,
		execution.JobName,
		execution.SourcePath,
		execution.DestinationPath,
		execution.SkipLimit,
		execution.StartOffset,
		string(execution.Status),
		execution.StartedAt,
	)
	created, err := scanJobExecution(row)
	if err != nil {
		return domain.JobExecution{}, fmt.Errorf("failed to create job execution: %w", err)
	}
	return created, nil
}

func (r *jobExecutionRepository) UpdateProgress(ctx context.Context, id uuid.UUID, progress domain.JobProgress) error {
	if r.pool == nil {
		return fmt.Errorf("job execution repository not initialized")
	}
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE job_executions
		 SET read_count = $2, write_count = $3, skip_count = $4, committed_chunks = $5, updated_at = NOW()
		 WHERE id = $1 AND status = $6`,
		id,
		progress.ReadCount,
		progress.WriteCount,
		progress.SkipCount,
		progress.CommittedChunks,
		string(domain.JobExecutionStatusStarted),
	)
	if err != nil {
		return fmt.Errorf("failed to update job execution progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrFinished(ctx, id)
	}
	return nil
}

func (r *jobExecutionRepository) MarkCompleted(ctx context.Context, id uuid.UUID, progress domain.JobProgress) error {
	return r.finish(ctx, id, domain.JobExecutionStatusCompleted, progress, nil, nil)
}

func (r *jobExecutionRepository) MarkFailed(ctx context.Context, id uuid.UUID, progress domain.JobProgress, failureKind string, errorMessage string) error {
	return r.finish(ctx, id, domain.JobExecutionStatusFailed, progress, &failureKind, &errorMessage)
}

func (r *jobExecutionRepository) finish(ctx context.Context, id uuid.UUID, status domain.JobExecutionStatus, progress domain.JobProgress, failureKind, errorMessage *string) error {
	if r.pool == nil {
		return fmt.Errorf("job execution repository not initialized")
	}
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE job_executions
		 SET status = $2, read_count = $3, write_count = $4, skip_count = $5, committed_chunks = $6,
		     failure_kind = $7, error_message = $8, ended_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = $9`,
		id,
		string(status),
		progress.ReadCount,
		progress.WriteCount,
		progress.SkipCount,
		progress.CommittedChunks,
		failureKind,
		errorMessage,
		string(domain.JobExecutionStatusStarted),
	)
	if err != nil {
		return fmt.Errorf("failed to mark job execution %s: %w", status, err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrFinished(ctx, id)
	}
	return nil
}

func (r *jobExecutionRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.JobExecution, error) {
	if r.pool == nil {
		return domain.JobExecution{}, fmt.Errorf("job execution repository not initialized")
	}
	row := r.pool.QueryRow(ctx, `SELECT `+jobExecutionColumns+` FROM job_executions WHERE id = $1`, id)
	execution, err := scanJobExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.JobExecution{}, ErrExecutionNotFound
		}
		return domain.JobExecution{}, fmt.Errorf("failed to get job execution: %w", err)
	}
	return execution, nil
}

func (r *jobExecutionRepository) List(ctx context.Context, limit int, offset int) ([]domain.JobExecution, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("job execution repository not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT `+jobExecutionColumns+`
		 FROM job_executions
		 ORDER BY started_at DESC
		 LIMIT $1 OFFSET $2`,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list job executions: %w", err)
	}
	defer rows.Close()

	executions := []domain.JobExecution{}
	for rows.Next() {
		execution, scanErr := scanJobExecution(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan job execution: %w", scanErr)
		}
		executions = append(executions, execution)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate job executions: %w", rowsErr)
	}
	return executions, nil
}

func (r *jobExecutionRepository) LatestFailed(ctx context.Context, jobName string, sourcePath string) (domain.JobExecution, error) {
	if r.pool == nil {
		return domain.JobExecution{}, fmt.Errorf("job execution repository not initialized")
	}
	row := r.pool.QueryRow(
		ctx,
		`SELECT `+jobExecutionColumns+`
		 FROM job_executions
		 WHERE job_name = $1 AND source_path = $2 AND status = $3
		 ORDER BY started_at DESC
		 LIMIT 1`,
		jobName,
		sourcePath,
		string(domain.JobExecutionStatusFailed),
	)
	execution, err := scanJobExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.JobExecution{}, ErrExecutionNotFound
		}
		return domain.JobExecution{}, fmt.Errorf("failed to find failed job execution: %w", err)
	}
	return execution, nil
}

func (r *jobExecutionRepository) missingOrFinished(ctx context.Context, id uuid.UUID) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrExecutionFinished
}

func scanJobExecution(row pgx.Row) (domain.JobExecution, error) {
	var (
		execution    domain.JobExecution
		status       string
		failureKind  pgtype.Text
		errorMessage pgtype.Text
		startedAt    pgtype.Timestamptz
		endedAt      pgtype.Timestamptz
	)
	if err := row.Scan(
		&execution.ID,
		&execution.JobName,
		&execution.SourcePath,
		&execution.DestinationPath,
		&execution.SkipLimit,
		&execution.StartOffset,
		&status,
		&execution.Progress.ReadCount,
		&execution.Progress.WriteCount,
		&execution.Progress.SkipCount,
		&execution.Progress.CommittedChunks,
		&failureKind,
		&errorMessage,
		&startedAt,
		&endedAt,
	); err != nil {
		return domain.JobExecution{}, err
	}

	execution.Status = domain.JobExecutionStatus(status)
	if failureKind.Valid {
		value := failureKind.String
		execution.FailureKind = &value
	}
	if errorMessage.Valid {
		value := errorMessage.String
		execution.ErrorMessage = &value
	}
	if startedAt.Valid {
		execution.StartedAt = startedAt.Time
	}
	if endedAt.Valid {
		value := endedAt.Time
		execution.EndedAt = &value
	}
	return execution, nil
}
