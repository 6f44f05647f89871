package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/rpattn/pensionbatch/internal/batch"
	"github.com/rpattn/pensionbatch/internal/domain"
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// ErrInvalidDelimiter is returned when the configured delimiter is not a
// single usable rune.
var ErrInvalidDelimiter = errors.New("delimiter must be a single character")

// Reader streams contribution records from a delimited source. It skips the
// header record and maps every following record positionally onto the
// source columns. It is not safe for concurrent use.
type Reader struct {
	csv         *csv.Reader
	started     bool
	done        bool
	startOffset int
	delimiter   rune
}

// ReaderOption customizes a Reader.
type ReaderOption func(*Reader)

// WithDelimiter sets the field delimiter. The default is a comma.
func WithDelimiter(delimiter rune) ReaderOption {
	return func(r *Reader) {
		r.delimiter = delimiter
	}
}

// WithStartOffset skips the first n data records, used to resume a run at a
// chunk boundary.
func WithStartOffset(n int) ReaderOption {
	return func(r *Reader) {
		if n > 0 {
			r.startOffset = n
		}
	}
}

// NewReader wraps src. A leading UTF-8 byte order mark is discarded.
func NewReader(src io.Reader, opts ...ReaderOption) (*Reader, error) {
	reader := &Reader{delimiter: ','}
	for _, opt := range opts {
		opt(reader)
	}
	if !validDelimiter(reader.delimiter) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDelimiter, reader.delimiter)
	}

	buffered := bufio.NewReaderSize(src, 1<<16)
	if prefix, err := buffered.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = buffered.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(buffered)
	csvReader.Comma = reader.delimiter
	csvReader.FieldsPerRecord = -1
	csvReader.ReuseRecord = true
	reader.csv = csvReader
	return reader, nil
}

// OpenFile opens path and returns a Reader over it together with the file,
// which the caller must close.
func OpenFile(path string, opts ...ReaderOption) (*Reader, io.Closer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, batch.ResourceError("open source %s: %w", path, err)
	}
	reader, err := NewReader(file, opts...)
	if err != nil {
		_ = file.Close()
		return nil, nil, err
	}
	return reader, file, nil
}

// Next returns the next raw record, or io.EOF once the source is exhausted.
// Any other error is a structural fault of the source.
func (r *Reader) Next() (domain.RawRecord, error) {
	if r.done {
		return domain.RawRecord{}, io.EOF
	}
	if !r.started {
		r.started = true
		if err := r.skipRow(); err != nil {
			return domain.RawRecord{}, r.finish(err)
		}
		for skipped := 0; skipped < r.startOffset; skipped++ {
			if err := r.skipRow(); err != nil {
				return domain.RawRecord{}, r.finish(err)
			}
		}
	}

	raw, err := r.readRow()
	if err != nil {
		return domain.RawRecord{}, r.finish(err)
	}
	return raw, nil
}

// ReadChunk returns up to size records. At the end of the source it returns
// io.EOF together with whatever records remained.
func (r *Reader) ReadChunk(ctx context.Context, size int) ([]domain.RawRecord, error) {
	if size <= 0 {
		size = batch.DefaultChunkSize
	}
	chunk := make([]domain.RawRecord, 0, size)
	for len(chunk) < size {
		if err := ctx.Err(); err != nil {
			return nil, batch.NewError(batch.KindCancelled, err)
		}
		raw, err := r.Next()
		if errors.Is(err, io.EOF) {
			return chunk, io.EOF
		}
		if err != nil {
			return nil, err
		}
		chunk = append(chunk, raw)
	}
	return chunk, nil
}

// skipRow consumes one record without checking its shape.
func (r *Reader) skipRow() error {
	if _, err := r.csv.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return batch.ResourceError("read source: %w", err)
	}
	return nil
}

func (r *Reader) readRow() (domain.RawRecord, error) {
	row, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return domain.RawRecord{}, io.EOF
		}
		return domain.RawRecord{}, batch.ResourceError("read source: %w", err)
	}
	line, _ := r.csv.FieldPos(0)

	if len(row) != domain.ColumnCount {
		return domain.RawRecord{}, &batch.Error{
			Kind: batch.KindResource,
			Line: line,
			Err:  fmt.Errorf("expected %d fields, found %d", domain.ColumnCount, len(row)),
		}
	}

	fields := make(map[string]string, domain.ColumnCount)
	for idx, column := range domain.SourceColumns {
		fields[column] = row[idx]
	}
	return domain.RawRecord{Line: line, Fields: fields}, nil
}

func (r *Reader) finish(err error) error {
	if errors.Is(err, io.EOF) {
		r.done = true
	}
	return err
}

func validDelimiter(delimiter rune) bool {
	return delimiter != 0 &&
		delimiter != '"' &&
		delimiter != '\r' &&
		delimiter != '\n' &&
		delimiter != utf8.RuneError &&
		utf8.ValidRune(delimiter)
}
