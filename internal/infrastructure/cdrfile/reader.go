// Package cdrfile parses usage record files exported by switches and
// SMS/data gateways. Files are CSV with a header row; the reader handles
// UTF-8 BOM stripping, encoding validation, and header-addressed field
// access so column order never matters.
package cdrfile

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Columns every usage record file must carry. Optional columns
// (origination, destination, metadata) are read when present.
const (
	ColTransactionID = "transaction_id"
	ColClientID      = "client_id"
	ColUsageType     = "usage_type"
	ColServiceType   = "service_type"
	ColQuantity      = "quantity"
	ColStartTime     = "start_time"
	ColEndTime       = "end_time"
	ColOrigination   = "origination"
	ColDestination   = "destination"
)

// RequiredColumns returns the columns a record file cannot omit
func RequiredColumns() []string {
	return []string{
		ColTransactionID,
		ColClientID,
		ColUsageType,
		ColServiceType,
		ColQuantity,
		ColStartTime,
		ColEndTime,
	}
}

// Reader reads usage records from a CSV stream
type Reader struct {
	delimiter  rune
	lazyQuotes bool
	columnIdx  map[string]int
	columns    []string
	line       int
	records    int
	csv        *csv.Reader
}

// ReaderOption is a functional option for Reader configuration
type ReaderOption func(*Reader)

// WithDelimiter sets the field delimiter (default is comma). Some
// gateways export semicolon-delimited files.
func WithDelimiter(d rune) ReaderOption {
	return func(r *Reader) {
		r.delimiter = d
	}
}

// WithLazyQuotes enables lazy quote handling
func WithLazyQuotes(lazy bool) ReaderOption {
	return func(r *Reader) {
		r.lazyQuotes = lazy
	}
}

// NewReader creates a reader over a usage record stream
func NewReader(src io.Reader, opts ...ReaderOption) (*Reader, error) {
	r := &Reader{
		delimiter:  ',',
		lazyQuotes: true,
		columnIdx:  make(map[string]int),
	}

	for _, opt := range opts {
		opt(r)
	}

	buf := bufio.NewReader(src)

	head, err := buf.Peek(3)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	// UTF-8 BOM: 0xEF, 0xBB, 0xBF
	if len(head) >= 3 && head[0] == 0xEF && head[1] == 0xBB && head[2] == 0xBF {
		_, _ = buf.Discard(3)
	}

	if err := checkUTF8(buf); err != nil {
		return nil, err
	}

	r.csv = csv.NewReader(buf)
	r.csv.Comma = r.delimiter
	r.csv.LazyQuotes = r.lazyQuotes
	r.csv.TrimLeadingSpace = true
	r.csv.FieldsPerRecord = -1

	return r, nil
}

// NewReaderFromBytes creates a reader over an in-memory file
func NewReaderFromBytes(data []byte, opts ...ReaderOption) (*Reader, error) {
	return NewReader(bytes.NewReader(data), opts...)
}

func checkUTF8(r *bufio.Reader) error {
	const checkSize = 4096
	content, err := r.Peek(checkSize)
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to read file for encoding validation: %w", err)
	}

	if len(content) == 0 {
		return ErrEmptyFile
	}

	if !utf8.Valid(content) {
		return ErrInvalidEncoding
	}

	return nil
}

// ReadHeader reads the column header row. Column names are matched
// case-insensitively; exporters disagree on casing.
func (r *Reader) ReadHeader() error {
	rec, err := r.csv.Read()
	if err == io.EOF {
		return ErrMissingHeader
	}
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}

	r.columns = make([]string, len(rec))
	for i, c := range rec {
		name := strings.ToLower(strings.TrimSpace(c))
		r.columns[i] = name
		r.columnIdx[name] = i
	}

	if len(r.columns) == 0 {
		return ErrMissingHeader
	}

	r.line = 1

	return nil
}

// Columns returns the parsed column names
func (r *Reader) Columns() []string {
	return r.columns
}

// HasColumn reports whether the file carries a column
func (r *Reader) HasColumn(name string) bool {
	_, ok := r.columnIdx[name]
	return ok
}

// MissingColumns returns the required columns the file does not carry
func (r *Reader) MissingColumns() []string {
	var missing []string
	for _, c := range RequiredColumns() {
		if !r.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	return missing
}

// Record is one usage record with its source line number
type Record struct {
	Line   int
	fields map[string]string
}

// Field returns the value of a column, empty when absent
func (rec *Record) Field(name string) string {
	return rec.fields[name]
}

// IsEmpty reports whether every field is blank
func (rec *Record) IsEmpty() bool {
	for _, v := range rec.fields {
		if v != "" {
			return false
		}
	}
	return true
}

// Read returns the next record. io.EOF signals the end of the file;
// malformed lines return an error carrying the line number so the
// caller can report and continue.
func (r *Reader) Read() (*Record, error) {
	rec, err := r.csv.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		r.line++
		return nil, fmt.Errorf("malformed record at line %d: %w", r.line, err)
	}

	r.line++
	r.records++

	row := &Record{
		Line:   r.line,
		fields: make(map[string]string, len(r.columns)),
	}

	for i, name := range r.columns {
		if i < len(rec) {
			row.fields[name] = strings.TrimSpace(rec[i])
		} else {
			row.fields[name] = ""
		}
	}

	return row, nil
}

// ReadAll returns every remaining non-empty record
func (r *Reader) ReadAll() ([]*Record, error) {
	var records []*Record

	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return records, err
		}

		if rec.IsEmpty() {
			continue
		}

		records = append(records, rec)
	}

	return records, nil
}

// Line returns the current line number (the header is line 1)
func (r *Reader) Line() int {
	return r.line
}

// Count returns the number of data records read so far
func (r *Reader) Count() int {
	return r.records
}
