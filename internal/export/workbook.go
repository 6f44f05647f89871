package export

import (
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// CellStyle selects the number format of a cell.
type CellStyle int

const (
	StyleText CellStyle = iota
	StyleDate
	StyleDecimal
)

const (
	dateNumberFormat = "yyyy-mm-dd"
	// Built-in excelize number format 2 is "0.00".
	decimalNumberFormat = 2
)

// Cell is one value in a row.
type Cell struct {
	Value any
	Style CellStyle
}

// Workbook is the destination document. Rows are appended to the most
// recently created sheet; Save encodes every sheet to w.
type Workbook interface {
	NewSheet(name string) error
	AppendRow(cells []Cell) error
	Save(w io.Writer) error
	Close() error
}

var errNoActiveSheet = errors.New("workbook has no active sheet")

// XLSXWorkbook streams rows into an xlsx document. Only the active sheet is
// held open; earlier sheets are flushed when a new one starts.
type XLSXWorkbook struct {
	file    *excelize.File
	stream  *excelize.StreamWriter
	sheets  int
	nextRow int
	styles  map[CellStyle]int
}

// NewXLSXWorkbook creates an empty workbook with the date and decimal styles
// registered.
func NewXLSXWorkbook() (*XLSXWorkbook, error) {
	file := excelize.NewFile()
	dateFormat := dateNumberFormat
	dateStyle, err := file.NewStyle(&excelize.Style{CustomNumFmt: &dateFormat})
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("create date style: %w", err)
	}
	decimalStyle, err := file.NewStyle(&excelize.Style{NumFmt: decimalNumberFormat})
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("create decimal style: %w", err)
	}
	return &XLSXWorkbook{
		file: file,
		styles: map[CellStyle]int{
			StyleDate:    dateStyle,
			StyleDecimal: decimalStyle,
		},
	}, nil
}

// NewSheet finishes the active sheet and starts a new one.
func (w *XLSXWorkbook) NewSheet(name string) error {
	if err := w.flushActive(); err != nil {
		return err
	}
	if w.sheets == 0 {
		// Reuse the default sheet so the document holds no empty extra tab.
		if err := w.file.SetSheetName(w.file.GetSheetName(0), name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	stream, err := w.file.NewStreamWriter(name)
	if err != nil {
		return fmt.Errorf("open stream for sheet %s: %w", name, err)
	}
	w.stream = stream
	w.sheets++
	w.nextRow = 1
	return nil
}

// AppendRow writes cells to the next row of the active sheet.
func (w *XLSXWorkbook) AppendRow(cells []Cell) error {
	if w.stream == nil {
		return errNoActiveSheet
	}
	values := make([]interface{}, len(cells))
	for i, cell := range cells {
		styleID, styled := w.styles[cell.Style]
		if !styled {
			values[i] = cell.Value
			continue
		}
		values[i] = excelize.Cell{StyleID: styleID, Value: cell.Value}
	}
	axis, err := excelize.CoordinatesToCellName(1, w.nextRow)
	if err != nil {
		return err
	}
	if err := w.stream.SetRow(axis, values); err != nil {
		return fmt.Errorf("write row %d: %w", w.nextRow, err)
	}
	w.nextRow++
	return nil
}

// Save flushes the active sheet and encodes the whole document to out.
func (w *XLSXWorkbook) Save(out io.Writer) error {
	if err := w.flushActive(); err != nil {
		return err
	}
	if err := w.file.Write(out); err != nil {
		return fmt.Errorf("encode workbook: %w", err)
	}
	return nil
}

// Close releases the temporary files backing the stream writers.
func (w *XLSXWorkbook) Close() error {
	w.stream = nil
	return w.file.Close()
}

func (w *XLSXWorkbook) flushActive() error {
	if w.stream == nil {
		return nil
	}
	stream := w.stream
	w.stream = nil
	if err := stream.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	return nil
}
