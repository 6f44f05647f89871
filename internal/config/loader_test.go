package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadJobConfigDefaults(t *testing.T) {
	cfg, err := LoadJobConfig(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.InputFile != "./big_input.csv" || cfg.OutputFile != "./output.xlsx" {
		t.Fatalf("unexpected paths %q %q", cfg.InputFile, cfg.OutputFile)
	}
	if cfg.ChunkSize != 1000 || cfg.SkipLimit != 500 || cfg.SheetRowLimit != 100_000 {
		t.Fatalf("unexpected job settings %+v", cfg)
	}
	if cfg.Delimiter != ',' || cfg.DatabaseEnabled {
		t.Fatalf("unexpected delimiter or database flag %+v", cfg)
	}
}

func TestLoadJobConfigFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := strings.Join([]string{
		"input:",
		"  file: contributions.csv",
		"  delimiter: \";\"",
		"job:",
		"  chunk_size: 250",
		"  skip_limit: 50",
		"database:",
		"  enabled: true",
		"  host: db.internal",
		"  port: 6543",
		"log:",
		"  level: debug",
	}, "\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PENSIONBATCH_JOB_SKIP_LIMIT", "7")
	t.Setenv("PENSIONBATCH_OUTPUT_FILE", "/tmp/out.xlsx")

	cfg, err := LoadJobConfig(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.InputFile != "contributions.csv" || cfg.Delimiter != ';' || cfg.ChunkSize != 250 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.SkipLimit != 7 || cfg.OutputFile != "/tmp/out.xlsx" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if !cfg.DatabaseEnabled || cfg.Database.Host != "db.internal" || cfg.Database.Port != 6543 {
		t.Fatalf("database values not applied: %+v", cfg.Database)
	}
	if cfg.Database.User != "postgres" {
		t.Fatalf("expected default database user, got %q", cfg.Database.User)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v", cfg.LogLevel)
	}
}

func TestLoadJobConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PENSIONBATCH_JOB_CHUNK_SIZE":      "0",
		"PENSIONBATCH_JOB_SKIP_LIMIT":      "-1",
		"PENSIONBATCH_JOB_SHEET_ROW_LIMIT": "0",
		"PENSIONBATCH_INPUT_DELIMITER":     ";;",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := LoadJobConfig(t.TempDir()); err == nil {
				t.Fatalf("expected %s=%s to be rejected", key, value)
			}
		})
	}
}

func TestValidateRejectsQuoteDelimiter(t *testing.T) {
	cfg := DefaultJobConfig()
	cfg.Delimiter = '"'
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected quote delimiter to be rejected")
	}
}

func TestSetupLoggerWithWritersFansOut(t *testing.T) {
	var text, jsonOut bytes.Buffer
	logger := SetupLoggerWithWriters(&text, &jsonOut, slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("chunk committed", "written", 3)

	if !strings.Contains(text.String(), "msg=\"chunk committed\"") || strings.Contains(text.String(), "hidden") {
		t.Fatalf("unexpected text output %q", text.String())
	}
	if !strings.Contains(jsonOut.String(), `"written":3`) {
		t.Fatalf("unexpected json output %q", jsonOut.String())
	}
}

func TestSetupLoggerWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	logger, cleanup := SetupLogger(path, slog.LevelInfo)
	logger.Info("job completed", "skipped", 1)
	if err := cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"job completed"`) {
		t.Fatalf("unexpected log file %q", data)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLogLevel(in); got != want {
			t.Fatalf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
