package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rpattn/pensionbatch/internal/batch"
	"github.com/rpattn/pensionbatch/internal/domain"
)

// DefaultRowLimit caps the data rows of one sheet, header excluded.
const DefaultRowLimit = 100_000

// SheetNamePrefix is followed by the 1-based sheet index.
const SheetNamePrefix = "Data_"

var (
	// ErrWriterNotOpen is returned by Write outside the Open/Close window.
	ErrWriterNotOpen = errors.New("sheet writer is not open")
	// ErrWriterAlreadyOpened is returned when Open is called twice.
	ErrWriterAlreadyOpened = errors.New("sheet writer was already opened")
)

type writerState int

const (
	stateUnopened writerState = iota
	stateOpen
	stateClosed
)

// sheetCursor tracks the active sheet.
type sheetCursor struct {
	name     string
	dataRows int
	index    int
}

// WriterStats summarizes what a writer produced.
type WriterStats struct {
	Sheets     []string
	RowsByName map[string]int
	Rows       int
}

// SheetWriter writes contribution records into one document, starting a new
// sheet whenever the active one holds rowLimit data rows. It is a single
// writer: calls must not overlap.
type SheetWriter struct {
	path        string
	rowLimit    int
	logger      *slog.Logger
	newWorkbook func() (Workbook, error)
	createFile  func(path string) (io.WriteCloser, error)

	state    writerState
	workbook Workbook
	out      io.WriteCloser
	cursor   sheetCursor
	stats    WriterStats
}

// WriterOption customizes a SheetWriter.
type WriterOption func(*SheetWriter)

// WithRowLimit overrides the per-sheet data row limit.
func WithRowLimit(limit int) WriterOption {
	return func(w *SheetWriter) {
		if limit > 0 {
			w.rowLimit = limit
		}
	}
}

// WithWorkbookFactory replaces the xlsx workbook, mainly for tests.
func WithWorkbookFactory(factory func() (Workbook, error)) WriterOption {
	return func(w *SheetWriter) {
		if factory != nil {
			w.newWorkbook = factory
		}
	}
}

// WithDestinationFactory replaces how the destination file is created.
func WithDestinationFactory(factory func(path string) (io.WriteCloser, error)) WriterOption {
	return func(w *SheetWriter) {
		if factory != nil {
			w.createFile = factory
		}
	}
}

// WithWriterLogger sets the writer logger.
func WithWriterLogger(logger *slog.Logger) WriterOption {
	return func(w *SheetWriter) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewSheetWriter creates a writer targeting path. Nothing is allocated
// until Open.
func NewSheetWriter(path string, opts ...WriterOption) *SheetWriter {
	writer := &SheetWriter{
		path:     filepath.Clean(path),
		rowLimit: DefaultRowLimit,
		logger:   slog.Default(),
		newWorkbook: func() (Workbook, error) {
			return NewXLSXWorkbook()
		},
		createFile: func(path string) (io.WriteCloser, error) {
			return os.Create(path)
		},
	}
	for _, opt := range opts {
		opt(writer)
	}
	return writer
}

// Open creates the destination and the first sheet with its header.
func (w *SheetWriter) Open() error {
	if w.state != stateUnopened {
		return ErrWriterAlreadyOpened
	}
	w.logger.Info("opening sheet writer", "path", w.path, "row_limit", w.rowLimit)

	out, err := w.createFile(w.path)
	if err != nil {
		w.state = stateClosed
		return batch.ResourceError("create destination %s: %w", w.path, err)
	}
	workbook, err := w.newWorkbook()
	if err != nil {
		w.state = stateClosed
		_ = out.Close()
		return batch.ResourceError("create workbook: %w", err)
	}
	w.out = out
	w.workbook = workbook
	w.stats = WriterStats{RowsByName: map[string]int{}}
	w.state = stateOpen

	if err := w.startSheet(); err != nil {
		w.release()
		w.state = stateClosed
		return batch.ResourceError("create first sheet: %w", err)
	}
	return nil
}

// Write appends records in order, rolling to a new sheet at the row limit.
// Records are expected to be valid; nothing is re-checked.
func (w *SheetWriter) Write(ctx context.Context, records []domain.ContributionRecord) error {
	if w.state != stateOpen {
		return ErrWriterNotOpen
	}
	w.logger.Debug("writing records",
		"count", len(records),
		"sheet", w.cursor.name,
		"data_rows", w.cursor.dataRows,
	)
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return batch.NewError(batch.KindCancelled, err)
		}
		if w.cursor.dataRows >= w.rowLimit {
			w.logger.Info("sheet row limit reached, rolling over",
				"sheet", w.cursor.name,
				"row_limit", w.rowLimit,
			)
			if err := w.startSheet(); err != nil {
				return batch.ResourceError("roll over sheet: %w", err)
			}
		}
		if err := w.workbook.AppendRow(recordCells(record)); err != nil {
			return batch.ResourceError("append row to %s: %w", w.cursor.name, err)
		}
		w.cursor.dataRows++
		w.stats.Rows++
		w.stats.RowsByName[w.cursor.name] = w.cursor.dataRows
	}
	return nil
}

// Close saves the document once and releases every resource, even when
// saving fails. Calling it again, or before Open, is a no-op.
func (w *SheetWriter) Close() error {
	if w.state != stateOpen {
		w.state = stateClosed
		return nil
	}
	w.state = stateClosed
	w.logger.Info("closing sheet writer", "path", w.path, "sheets", len(w.stats.Sheets), "rows", w.stats.Rows)

	var saveErr error
	if err := w.workbook.Save(w.out); err != nil {
		saveErr = batch.NewError(batch.KindFinalization, fmt.Errorf("save %s: %w", w.path, err))
		w.logger.Error("failed to save workbook", "path", w.path, "error", err)
	}
	if err := w.release(); err != nil && saveErr == nil {
		saveErr = batch.NewError(batch.KindFinalization, err)
	}
	if saveErr == nil {
		w.logger.Info("workbook written", "path", w.path)
	}
	return saveErr
}

// Stats returns the sheets and rows written so far.
func (w *SheetWriter) Stats() WriterStats {
	stats := WriterStats{
		Sheets:     append([]string(nil), w.stats.Sheets...),
		RowsByName: make(map[string]int, len(w.stats.RowsByName)),
		Rows:       w.stats.Rows,
	}
	for name, rows := range w.stats.RowsByName {
		stats.RowsByName[name] = rows
	}
	return stats
}

func (w *SheetWriter) startSheet() error {
	name := fmt.Sprintf("%s%d", SheetNamePrefix, w.cursor.index+1)
	if err := w.workbook.NewSheet(name); err != nil {
		return err
	}
	if err := w.workbook.AppendRow(headerCells()); err != nil {
		return fmt.Errorf("write header of %s: %w", name, err)
	}
	w.cursor = sheetCursor{name: name, index: w.cursor.index + 1}
	w.stats.Sheets = append(w.stats.Sheets, name)
	w.stats.RowsByName[name] = 0
	w.logger.Debug("sheet created", "sheet", name)
	return nil
}

// release closes the workbook and the destination and resets the cursor.
func (w *SheetWriter) release() error {
	var errs []error
	if w.workbook != nil {
		if err := w.workbook.Close(); err != nil {
			errs = append(errs, fmt.Errorf("release workbook: %w", err))
		}
	}
	if w.out != nil {
		if err := w.out.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close destination: %w", err))
		}
	}
	w.workbook = nil
	w.out = nil
	w.cursor = sheetCursor{}
	return errors.Join(errs...)
}

func headerCells() []Cell {
	cells := make([]Cell, domain.ColumnCount)
	for i, label := range domain.SheetHeaders {
		cells[i] = Cell{Value: label, Style: StyleText}
	}
	return cells
}

// recordCells lays a record out on the fixed column positions. Every cell is
// populated; missing optional values become "" or 0.
func recordCells(record domain.ContributionRecord) []Cell {
	return []Cell{
		{Value: record.SocialSecurityNumber, Style: StyleText},
		{Value: record.LastName, Style: StyleText},
		{Value: record.FirstName, Style: StyleText},
		{Value: record.BirthDate, Style: StyleDate},
		{Value: record.Address, Style: StyleText},
		{Value: record.PostalCode, Style: StyleText},
		{Value: record.City, Style: StyleText},
		{Value: record.Country, Style: StyleText},
		{Value: record.SpouseName, Style: StyleText},
		{Value: record.DependentsOrZero(), Style: StyleDecimal},
		{Value: record.ContributionAmount, Style: StyleDecimal},
	}
}
