package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/rpattn/pensionbatch/internal/domain"
	"github.com/rpattn/pensionbatch/pkg/validator"

	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize is the number of records read, validated and written as
// one unit.
const DefaultChunkSize = 1000

// ChunkReader yields raw records in chunks. ReadChunk returns io.EOF, possibly
// together with a final non-empty chunk, once the source is exhausted.
type ChunkReader interface {
	ReadChunk(ctx context.Context, size int) ([]domain.RawRecord, error)
}

// RecordValidator converts raw records into typed records.
type RecordValidator interface {
	Validate(raw domain.RawRecord) (domain.ContributionRecord, *validator.Rejection)
}

// ItemWriter is the destination of valid records. Close must be safe to call
// whether or not Open succeeded.
type ItemWriter interface {
	Open() error
	Write(ctx context.Context, records []domain.ContributionRecord) error
	Close() error
}

// ChunkListener is notified after every committed chunk with the cumulative
// counters. A listener error aborts the run.
type ChunkListener func(ctx context.Context, progress domain.JobProgress) error

// Status is the terminal state of a run.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Result reports the outcome of a run. On failure the counters hold what was
// accumulated up to the abort. The Committed counters exclude the aborted
// chunk, so they describe a consistent restart point.
type Result struct {
	Status           Status
	Read             int
	CommittedRead    int
	Written          int
	Skipped          int
	CommittedSkipped int
	Chunks           int
	Duration         time.Duration
	Err              error
}

// Progress returns the committed counters as a domain value.
func (r Result) Progress() domain.JobProgress {
	return domain.JobProgress{
		ReadCount:       r.CommittedRead,
		WriteCount:      r.Written,
		SkipCount:       r.CommittedSkipped,
		CommittedChunks: r.Chunks,
	}
}

// Job drives the read, validate, write loop.
type Job struct {
	reader    ChunkReader
	validator RecordValidator
	writer    ItemWriter
	policy    SkipPolicy
	listener  ChunkListener
	logger    *slog.Logger

	chunkSize         int
	validationWorkers int
}

// JobOption customizes a Job.
type JobOption func(*Job)

// WithChunkSize sets the number of records per chunk.
func WithChunkSize(size int) JobOption {
	return func(j *Job) {
		if size > 0 {
			j.chunkSize = size
		}
	}
}

// WithSkipLimit sets the maximum number of tolerated validation rejections.
func WithSkipLimit(limit int) JobOption {
	return func(j *Job) {
		j.policy = NewSkipPolicy(limit)
	}
}

// WithValidationWorkers validates records of a chunk concurrently. Skip
// decisions and writes still happen in source order.
func WithValidationWorkers(workers int) JobOption {
	return func(j *Job) {
		if workers > 0 {
			j.validationWorkers = workers
		}
	}
}

// WithChunkListener registers a callback run after each committed chunk.
func WithChunkListener(listener ChunkListener) JobOption {
	return func(j *Job) {
		j.listener = listener
	}
}

// WithLogger sets the job logger.
func WithLogger(logger *slog.Logger) JobOption {
	return func(j *Job) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// NewJob wires a job from its collaborators.
func NewJob(reader ChunkReader, recordValidator RecordValidator, writer ItemWriter, opts ...JobOption) *Job {
	job := &Job{
		reader:            reader,
		validator:         recordValidator,
		writer:            writer,
		policy:            NewSkipPolicy(0),
		logger:            slog.Default(),
		chunkSize:         DefaultChunkSize,
		validationWorkers: 1,
	}
	for _, opt := range opts {
		opt(job)
	}
	return job
}

// Run processes the whole source. The writer is closed exactly once on every
// exit path; the returned error, if any, is also set on the result.
func (j *Job) Run(ctx context.Context) (result Result, err error) {
	start := time.Now()
	skips := SkipState{Limit: j.policy.Limit()}

	defer func() {
		if closeErr := j.writer.Close(); closeErr != nil {
			if KindOf(closeErr) != KindFinalization {
				closeErr = NewError(KindFinalization, closeErr)
			}
			if err == nil {
				err = closeErr
			} else {
				err = errors.Join(err, closeErr)
			}
		}
		result.Skipped = skips.Count
		result.Duration = time.Since(start)
		result.Err = err
		result.Status = StatusCompleted
		if err != nil {
			result.Status = StatusFailed
			j.logger.Error("job failed",
				"kind", KindOf(err).String(),
				"read", result.Read,
				"written", result.Written,
				"skipped", result.Skipped,
				"error", err,
			)
			return
		}
		j.logger.Info("job completed",
			"read", result.Read,
			"written", result.Written,
			"skipped", result.Skipped,
			"chunks", result.Chunks,
			"duration", result.Duration,
		)
	}()

	if err := j.writer.Open(); err != nil {
		if KindOf(err) != KindResource {
			err = NewError(KindResource, err)
		}
		return result, err
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, NewError(KindCancelled, ctxErr)
		}

		raws, readErr := j.reader.ReadChunk(ctx, j.chunkSize)
		exhausted := errors.Is(readErr, io.EOF)
		if readErr != nil && !exhausted {
			return result, tagResource(readErr)
		}
		result.Read += len(raws)

		valid, chunkErr := j.processChunk(ctx, raws, &skips)
		if chunkErr != nil {
			return result, chunkErr
		}

		if len(raws) > 0 {
			if err := j.writer.Write(ctx, valid); err != nil {
				return result, tagResource(err)
			}
			result.CommittedRead += len(raws)
			result.Written += len(valid)
			result.Chunks++
			result.Skipped = skips.Count
			result.CommittedSkipped = skips.Count
			j.logger.Debug("chunk committed",
				"chunk", result.Chunks,
				"records", len(raws),
				"written", len(valid),
				"skipped_total", skips.Count,
			)
			if j.listener != nil {
				if err := j.listener(ctx, result.Progress()); err != nil {
					return result, tagResource(fmt.Errorf("chunk listener: %w", err))
				}
			}
		}

		if exhausted {
			return result, nil
		}
	}
}

type validationOutcome struct {
	record    domain.ContributionRecord
	rejection *validator.Rejection
}

// processChunk validates a chunk and applies the skip policy in source order.
func (j *Job) processChunk(ctx context.Context, raws []domain.RawRecord, skips *SkipState) ([]domain.ContributionRecord, error) {
	outcomes, err := j.validateChunk(ctx, raws)
	if err != nil {
		return nil, err
	}

	valid := make([]domain.ContributionRecord, 0, len(raws))
	for i, outcome := range outcomes {
		if outcome.rejection == nil {
			valid = append(valid, outcome.record)
			continue
		}
		if !j.policy.ShouldSkip(KindValidation, skips.Count) {
			return nil, &Error{
				Kind: KindSkipLimitExceeded,
				Line: raws[i].Line,
				Err:  fmt.Errorf("skip limit %d reached: %w", skips.Limit, outcome.rejection),
			}
		}
		skips.Count++
		j.logger.Warn("record skipped",
			"line", raws[i].Line,
			"reason", outcome.rejection.Error(),
			"skip_count", skips.Count,
			"skip_limit", skips.Limit,
		)
	}
	return valid, nil
}

func (j *Job) validateChunk(ctx context.Context, raws []domain.RawRecord) ([]validationOutcome, error) {
	outcomes := make([]validationOutcome, len(raws))
	if j.validationWorkers <= 1 || len(raws) < 2 {
		for i, raw := range raws {
			if err := ctx.Err(); err != nil {
				return nil, NewError(KindCancelled, err)
			}
			outcomes[i].record, outcomes[i].rejection = j.validator.Validate(raw)
		}
		return outcomes, nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(j.validationWorkers)
	for i := range raws {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			outcomes[i].record, outcomes[i].rejection = j.validator.Validate(raws[i])
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, NewError(KindCancelled, err)
	}
	return outcomes, nil
}

func tagResource(err error) error {
	var tagged *Error
	if errors.As(err, &tagged) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindCancelled, err)
	}
	return NewError(KindResource, err)
}
