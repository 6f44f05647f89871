package batch_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/pensionbatch/internal/batch"
	"github.com/rpattn/pensionbatch/internal/export"
	"github.com/rpattn/pensionbatch/internal/ingestion"
	"github.com/rpattn/pensionbatch/pkg/validator"
)

const csvHeader = "numeroSecuriteSociale,nom,prenom,dateNaissance,adresse,codePostal,ville,pays,nomConjoint,nombreEnfants,montantCotisation\n"

func runPipeline(t *testing.T, csvBody string, opts ...batch.JobOption) (string, batch.Result, error) {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "input.csv")
	output := filepath.Join(dir, "output.xlsx")
	if err := os.WriteFile(input, []byte(csvHeader+csvBody), 0o600); err != nil {
		t.Fatalf("write input: %v", err)
	}

	reader, closer, err := ingestion.OpenFile(input)
	if err != nil {
		t.Fatalf("open input: %v", err)
	}
	defer closer.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := validator.WithClock(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) })
	writer := export.NewSheetWriter(output, export.WithRowLimit(2), export.WithWriterLogger(logger))

	job := batch.NewJob(reader, validator.NewRecordValidator(clock), writer,
		append([]batch.JobOption{batch.WithLogger(logger)}, opts...)...)
	result, err := job.Run(context.Background())
	return output, result, err
}

func readSheets(t *testing.T, path string) map[string][][]string {
	t.Helper()
	file, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer file.Close()
	sheets := map[string][][]string{}
	for _, name := range file.GetSheetList() {
		rows, err := file.GetRows(name)
		if err != nil {
			t.Fatalf("read sheet %s: %v", name, err)
		}
		sheets[name] = rows
	}
	return sheets
}

func TestPipelineSkipsInvalidRecordAndRollsOver(t *testing.T) {
	body := strings.Join([]string{
		"1800575123456,Durand,Alice,1980-05-17,1 rue Haute,75001,Paris,France,,2,1250.50",
		"2790134567890,Martin,Paul,1979-01-02,,,,,,,-10",
		"1650212345678,Bernard,Lea,1965-02-12,,,,,Bernard Marc,,300",
		"1720398765432,Petit,Jean,1972-03-30,,,,,,1,0",
	}, "\n") + "\n"

	output, result, err := runPipeline(t, body, batch.WithSkipLimit(500), batch.WithChunkSize(2))
	if err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}
	if result.Status != batch.StatusCompleted || result.Written != 3 || result.Skipped != 1 {
		t.Fatalf("unexpected result %+v", result)
	}

	sheets := readSheets(t, output)
	if len(sheets) != 2 {
		t.Fatalf("expected two sheets, got %d", len(sheets))
	}
	first, second := sheets["Data_1"], sheets["Data_2"]
	if len(first) != 3 || len(second) != 2 {
		t.Fatalf("expected 2 and 1 data rows, got %d and %d rows", len(first), len(second))
	}
	if first[0][0] != "NSS" || first[0][10] != "Cotisation" || second[0][3] != "Date Naissance" {
		t.Fatalf("unexpected headers %v / %v", first[0], second[0])
	}
	if first[1][0] != "1800575123456" || first[2][0] != "1650212345678" || second[1][0] != "1720398765432" {
		t.Fatalf("records out of order: %v %v %v", first[1], first[2], second[1])
	}
	if first[1][3] != "1980-05-17" {
		t.Fatalf("expected formatted birth date, got %q", first[1][3])
	}
	if first[1][10] != "1250.50" {
		t.Fatalf("expected two decimal amount, got %q", first[1][10])
	}
}

func TestPipelineZeroSkipLimitLeavesHeaderOnlyDocument(t *testing.T) {
	body := "1800575123456,Durand,Alice,1980-05-17,,,,,,,-1\n" +
		"1650212345678,Bernard,Lea,1965-02-12,,,,,,,300\n"

	output, result, err := runPipeline(t, body, batch.WithSkipLimit(0))
	if batch.KindOf(err) != batch.KindSkipLimitExceeded {
		t.Fatalf("expected skip limit exceeded, got %v", err)
	}
	if result.Status != batch.StatusFailed || result.Written != 0 || result.Skipped != 0 {
		t.Fatalf("unexpected result %+v", result)
	}

	sheets := readSheets(t, output)
	rows, ok := sheets["Data_1"]
	if !ok || len(sheets) != 1 {
		t.Fatalf("expected only Data_1, got %v", sheets)
	}
	if len(rows) != 1 {
		t.Fatalf("expected header only, got %d rows", len(rows))
	}
}

func TestPipelineMalformedRowIsResourceFault(t *testing.T) {
	body := "1800575123456,Durand,Alice,1980-05-17,,,,,,,10\n" +
		"too,few,fields\n"

	_, result, err := runPipeline(t, body, batch.WithSkipLimit(500))
	var jobErr *batch.Error
	if batch.KindOf(err) != batch.KindResource {
		t.Fatalf("expected resource fault, got %v", err)
	}
	if !errors.As(err, &jobErr) || jobErr.Line != 3 {
		t.Fatalf("expected fault on line 3, got %v", err)
	}
	if result.Skipped != 0 {
		t.Fatalf("structural faults must not be skipped, got %d", result.Skipped)
	}
}

func ExampleJob_Run() {
	csvData := csvHeader + "1800575123456,Durand,Alice,1980-05-17,,,,,,,10\n"
	reader, _ := ingestion.NewReader(strings.NewReader(csvData))
	dir, _ := os.MkdirTemp("", "pensionbatch")
	defer os.RemoveAll(dir)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	writer := export.NewSheetWriter(filepath.Join(dir, "out.xlsx"), export.WithWriterLogger(logger))
	result, _ := batch.NewJob(reader, validator.NewRecordValidator(), writer, batch.WithLogger(logger)).Run(context.Background())
	fmt.Printf("written=%d skipped=%d status=%s\n", result.Written, result.Skipped, result.Status)
	// Output: written=1 skipped=0 status=COMPLETED
}
