// Package cli provides the command-line interface for pensionbatch.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/rpattn/pensionbatch/internal/config"
	"github.com/rpattn/pensionbatch/internal/db"
	"github.com/rpattn/pensionbatch/internal/repository"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

// JobName identifies this job in the execution repository.
const JobName = "pension-contribution-export"

// app carries what every command shares once the root pre-run has loaded it.
type app struct {
	configDir string
	verbose   bool

	cfg     config.JobConfig
	logger  *slog.Logger
	repo    repository.JobExecutionRepository
	// durable is set when repo outlives the process, which resuming needs.
	durable bool
	cleanup []func()

	// fixedRepo, when set, replaces the configured repository.
	fixedRepo repository.JobExecutionRepository
	// logOutput, when set, replaces the stderr and file log sinks.
	logOutput io.Writer
}

type appOption func(*app)

func withRepository(repo repository.JobExecutionRepository) appOption {
	return func(a *app) { a.fixedRepo = repo }
}

func withLogOutput(w io.Writer) appOption {
	return func(a *app) { a.logOutput = w }
}

func newRootCmd(opts ...appOption) *cobra.Command {
	a := &app{}
	for _, opt := range opts {
		opt(a)
	}

	rootCmd := &cobra.Command{
		Use:   "pensionbatch",
		Short: "Export pension contribution records to a multi-sheet workbook",
		Long: `pensionbatch reads pension contribution records from a delimited file,
validates every record, skips a bounded number of invalid ones and writes the
rest into an xlsx document split across sheets of at most 100,000 rows.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd.Context()); err != nil {
				a.teardown()
				return err
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configDir, "config", ".", "directory holding config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(newRunCmd(a))
	rootCmd.AddCommand(newExecutionsCmd(a))
	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	ctx, stop := signalContext()
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

func (a *app) setup(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.LoadJobConfig(a.configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.verbose {
		cfg.LogLevel = slog.LevelDebug
	}
	a.cfg = cfg

	if a.logOutput != nil {
		a.logger = config.SetupLoggerWithWriters(a.logOutput, io.Discard, cfg.LogLevel)
	} else {
		logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
		a.logger = logger
		a.cleanup = append(a.cleanup, func() {
			if err := closeLog(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		})
	}

	switch {
	case a.fixedRepo != nil:
		a.repo = a.fixedRepo
		a.durable = true
	case cfg.DatabaseEnabled:
		conn, err := db.NewConnection(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		a.cleanup = append(a.cleanup, conn.Close)
		if err := db.RunMigrations(conn.Pool, a.logger); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		a.repo = repository.NewJobExecutionRepository(conn.Pool)
		a.durable = true
	default:
		a.logger.Debug("database disabled, execution history kept in memory")
		a.repo = repository.NewMemoryJobExecutionRepository()
		a.durable = false
	}
	return nil
}

// teardown releases what setup acquired. Commands defer it because cobra
// skips post-run hooks when RunE fails.
func (a *app) teardown() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}
