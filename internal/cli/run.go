package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rpattn/pensionbatch/internal/batch"
	"github.com/rpattn/pensionbatch/internal/config"
	"github.com/rpattn/pensionbatch/internal/domain"
	"github.com/rpattn/pensionbatch/internal/export"
	"github.com/rpattn/pensionbatch/internal/ingestion"
	"github.com/rpattn/pensionbatch/internal/repository"
	"github.com/rpattn/pensionbatch/pkg/validator"
	"github.com/spf13/cobra"
)

var (
	errResumeNeedsDatabase = errors.New("--resume needs database.enabled: without it no earlier run is recorded")
	errResumeOverwrite     = errors.New("resume would overwrite the failed run's workbook")
)

type runFlags struct {
	input     string
	output    string
	skipLimit int
	chunkSize int
	resume    bool
}

func newRunCmd(a *app) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the contribution export",
		Long: `Run reads the input file, validates every record and writes the valid ones
to the output workbook. It prints the written and skipped counts and exits
with an error when the run fails.

Examples:
  pensionbatch run
  pensionbatch run --input contributions.csv --output contributions.xlsx
  pensionbatch run --resume --output contributions-resumed.xlsx`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.teardown()
			applyRunFlags(cmd, flags, &a.cfg)
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			return a.runJob(cmd, flags.resume)
		},
	}

	cmd.Flags().StringVar(&flags.input, "input", "", "input file (overrides input.file)")
	cmd.Flags().StringVar(&flags.output, "output", "", "output workbook (overrides output.file)")
	cmd.Flags().IntVar(&flags.skipLimit, "skip-limit", 0, "maximum tolerated invalid records (overrides job.skip_limit)")
	cmd.Flags().IntVar(&flags.chunkSize, "chunk-size", 0, "records per chunk (overrides job.chunk_size)")
	cmd.Flags().BoolVar(&flags.resume, "resume", false, "continue after the last committed chunk of the latest failed run (needs a database and a new --output)")
	return cmd
}

func applyRunFlags(cmd *cobra.Command, flags *runFlags, cfg *config.JobConfig) {
	if cmd.Flags().Changed("input") {
		cfg.InputFile = flags.input
	}
	if cmd.Flags().Changed("output") {
		cfg.OutputFile = flags.output
	}
	if cmd.Flags().Changed("skip-limit") {
		cfg.SkipLimit = flags.skipLimit
	}
	if cmd.Flags().Changed("chunk-size") {
		cfg.ChunkSize = flags.chunkSize
	}
}

func (a *app) runJob(cmd *cobra.Command, resume bool) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := a.cfg

	startOffset := 0
	if resume {
		if !a.durable {
			return errResumeNeedsDatabase
		}
		previous, err := a.repo.LatestFailed(ctx, JobName, cfg.InputFile)
		switch {
		case errors.Is(err, repository.ErrExecutionNotFound):
			a.logger.Info("no failed run to resume, starting from the beginning", "input", cfg.InputFile)
		case err != nil:
			return fmt.Errorf("find run to resume: %w", err)
		default:
			if samePath(previous.DestinationPath, cfg.OutputFile) {
				return fmt.Errorf("%w: %s holds the rows of execution %s, choose another --output",
					errResumeOverwrite, previous.DestinationPath, previous.ID)
			}
			startOffset = previous.ResumeOffset()
			a.logger.Info("resuming failed run",
				"previous_execution", previous.ID,
				"start_offset", startOffset,
			)
		}
	}

	execution, err := a.repo.Create(ctx, domain.JobExecution{
		JobName:         JobName,
		SourcePath:      cfg.InputFile,
		DestinationPath: cfg.OutputFile,
		SkipLimit:       cfg.SkipLimit,
		StartOffset:     startOffset,
	})
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	logger := a.logger.With("execution", execution.ID)

	reader, source, err := ingestion.OpenFile(cfg.InputFile,
		ingestion.WithDelimiter(cfg.Delimiter),
		ingestion.WithStartOffset(startOffset),
	)
	if err != nil {
		return a.finish(cmd, execution, batch.Result{Status: batch.StatusFailed, Err: err})
	}
	defer source.Close()

	writer := export.NewSheetWriter(cfg.OutputFile,
		export.WithRowLimit(cfg.SheetRowLimit),
		export.WithWriterLogger(logger),
	)
	job := batch.NewJob(reader, validator.NewRecordValidator(), writer,
		batch.WithChunkSize(cfg.ChunkSize),
		batch.WithSkipLimit(cfg.SkipLimit),
		batch.WithValidationWorkers(cfg.ValidationWorkers),
		batch.WithLogger(logger),
		batch.WithChunkListener(func(ctx context.Context, progress domain.JobProgress) error {
			return a.repo.UpdateProgress(ctx, execution.ID, progress)
		}),
	)

	result, _ := job.Run(ctx)
	stats := writer.Stats()
	logger.Info("workbook summary", "path", cfg.OutputFile, "sheets", stats.Sheets, "rows", stats.Rows)
	return a.finish(cmd, execution, result)
}

// finish records the outcome, prints the summary line and turns a failed
// result into the command error.
func (a *app) finish(cmd *cobra.Command, execution domain.JobExecution, result batch.Result) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a.recordOutcome(ctx, execution, result)

	fmt.Fprintf(cmd.OutOrStdout(), "written=%d skipped=%d status=%s\n", result.Written, result.Skipped, result.Status)
	if result.Err != nil {
		return fmt.Errorf("job failed (%s): %w", batch.KindOf(result.Err), result.Err)
	}
	return nil
}

// recordOutcome stores the terminal state. It runs detached from ctx so a
// cancelled run is still recorded.
func (a *app) recordOutcome(ctx context.Context, execution domain.JobExecution, result batch.Result) {
	ctx = context.WithoutCancel(ctx)
	var err error
	if result.Err != nil {
		err = a.repo.MarkFailed(ctx, execution.ID, result.Progress(), batch.KindOf(result.Err).String(), result.Err.Error())
	} else {
		err = a.repo.MarkCompleted(ctx, execution.ID, result.Progress())
	}
	if err != nil {
		a.logger.Error("failed to record execution outcome", "execution", execution.ID, "error", err)
	}
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
