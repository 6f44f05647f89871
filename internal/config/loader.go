package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/rpattn/pensionbatch/internal/db"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PENSIONBATCH_JOB_SKIP_LIMIT.
const EnvPrefix = "PENSIONBATCH"

// JobConfig holds everything a run needs.
type JobConfig struct {
	InputFile         string
	Delimiter         rune
	OutputFile        string
	ChunkSize         int
	SkipLimit         int
	SheetRowLimit     int
	ValidationWorkers int

	DatabaseEnabled bool
	Database        db.Config

	LogFile  string
	LogLevel slog.Level
}

// DefaultJobConfig returns the configuration used when nothing is overridden.
func DefaultJobConfig() JobConfig {
	return JobConfig{
		InputFile:         "./big_input.csv",
		Delimiter:         ',',
		OutputFile:        "./output.xlsx",
		ChunkSize:         1000,
		SkipLimit:         500,
		SheetRowLimit:     100_000,
		ValidationWorkers: 1,
		Database:          db.DefaultConfig(),
		LogFile:           "./pensionbatch.log",
		LogLevel:          slog.LevelInfo,
	}
}

// LoadJobConfig reads config.yaml from configPath when present and applies
// environment overrides on top of the defaults.
func LoadJobConfig(configPath string) (JobConfig, error) {
	cfg := DefaultJobConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("input.file", cfg.InputFile)
	v.SetDefault("input.delimiter", string(cfg.Delimiter))
	v.SetDefault("output.file", cfg.OutputFile)
	v.SetDefault("job.chunk_size", cfg.ChunkSize)
	v.SetDefault("job.skip_limit", cfg.SkipLimit)
	v.SetDefault("job.sheet_row_limit", cfg.SheetRowLimit)
	v.SetDefault("job.validation_workers", cfg.ValidationWorkers)
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", cfg.Database.Host)
	v.SetDefault("database.port", cfg.Database.Port)
	v.SetDefault("database.user", cfg.Database.User)
	v.SetDefault("database.password", cfg.Database.Password)
	v.SetDefault("database.dbname", cfg.Database.DBName)
	v.SetDefault("database.sslmode", cfg.Database.SSLMode)
	v.SetDefault("log.file", cfg.LogFile)
	v.SetDefault("log.level", "info")

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return cfg, fmt.Errorf("failed to read config: %w", err)
			}
			// No config.yaml: defaults and env only.
		}
	}

	delimiter := v.GetString("input.delimiter")
	if utf8.RuneCountInString(delimiter) != 1 {
		return cfg, fmt.Errorf("input.delimiter must be a single character, got %q", delimiter)
	}
	cfg.Delimiter, _ = utf8.DecodeRuneInString(delimiter)

	cfg.InputFile = v.GetString("input.file")
	cfg.OutputFile = v.GetString("output.file")
	cfg.ChunkSize = v.GetInt("job.chunk_size")
	cfg.SkipLimit = v.GetInt("job.skip_limit")
	cfg.SheetRowLimit = v.GetInt("job.sheet_row_limit")
	cfg.ValidationWorkers = v.GetInt("job.validation_workers")

	cfg.DatabaseEnabled = v.GetBool("database.enabled")
	cfg.Database = db.Config{
		Host:     v.GetString("database.host"),
		Port:     v.GetInt("database.port"),
		User:     v.GetString("database.user"),
		Password: v.GetString("database.password"),
		DBName:   v.GetString("database.dbname"),
		SSLMode:  v.GetString("database.sslmode"),
	}

	cfg.LogFile = v.GetString("log.file")
	cfg.LogLevel = ParseLogLevel(v.GetString("log.level"))

	return cfg, cfg.Validate()
}

// Validate reports the first setting that would make a run meaningless.
func (c JobConfig) Validate() error {
	switch {
	case strings.TrimSpace(c.InputFile) == "":
		return errors.New("input.file must not be empty")
	case strings.TrimSpace(c.OutputFile) == "":
		return errors.New("output.file must not be empty")
	case c.Delimiter == '"' || c.Delimiter == '\r' || c.Delimiter == '\n' || c.Delimiter == utf8.RuneError:
		return fmt.Errorf("input.delimiter %q is not usable", c.Delimiter)
	case c.ChunkSize <= 0:
		return fmt.Errorf("job.chunk_size must be positive, got %d", c.ChunkSize)
	case c.SkipLimit < 0:
		return fmt.Errorf("job.skip_limit must not be negative, got %d", c.SkipLimit)
	case c.SheetRowLimit <= 0:
		return fmt.Errorf("job.sheet_row_limit must be positive, got %d", c.SheetRowLimit)
	case c.ValidationWorkers <= 0:
		return fmt.Errorf("job.validation_workers must be positive, got %d", c.ValidationWorkers)
	case c.DatabaseEnabled && c.Database.Host == "":
		return errors.New("database.host is required when database.enabled is set")
	}
	return nil
}
