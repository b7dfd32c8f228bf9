package cdrfile

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes reported per record or per file
const (
	ErrCodeInvalidFile     = "ERR_CDR_INVALID_FILE"
	ErrCodeEmptyFile       = "ERR_CDR_EMPTY_FILE"
	ErrCodeInvalidEncoding = "ERR_CDR_INVALID_ENCODING"
	ErrCodeMissingColumn   = "ERR_CDR_MISSING_COLUMN"
	ErrCodeMalformedRecord = "ERR_CDR_MALFORMED_RECORD"
	ErrCodeRequiredField   = "ERR_CDR_REQUIRED_FIELD"
	ErrCodeInvalidField    = "ERR_CDR_INVALID_FIELD"
)

var (
	// ErrEmptyFile is returned when the file has no content
	ErrEmptyFile = errors.New("usage record file is empty")

	// ErrInvalidEncoding is returned when the file is not valid UTF-8
	ErrInvalidEncoding = errors.New("usage record file is not valid UTF-8")

	// ErrMissingHeader is returned when the file has no header row
	ErrMissingHeader = errors.New("usage record file missing header row")

	// ErrNoRecords is returned when the file has a header but no records
	ErrNoRecords = errors.New("usage record file contains no records")
)

// RecordError describes a problem with one record in the file
type RecordError struct {
	Line    int    `json:"line"`
	Column  string `json:"column,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

// Error implements the error interface
func (e RecordError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("line %d, column '%s': %s", e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// NewRecordError creates a record error without a field value
func NewRecordError(line int, column, code, message string) RecordError {
	return RecordError{Line: line, Column: column, Code: code, Message: message}
}

// NewFieldError creates a record error carrying the offending value
func NewFieldError(line int, column, message, value string) RecordError {
	return RecordError{
		Line:    line,
		Column:  column,
		Code:    ErrCodeInvalidField,
		Message: message,
		Value:   value,
	}
}

// ErrorList collects record errors up to a cap. Files from
// misconfigured exporters can fail on every line; the cap keeps
// responses bounded while TotalCount still reports the real damage.
type ErrorList struct {
	errors     []RecordError
	maxErrors  int
	totalCount int
}

// NewErrorList creates an error list keeping at most maxErrors entries
func NewErrorList(maxErrors int) *ErrorList {
	if maxErrors <= 0 {
		maxErrors = 100
	}
	return &ErrorList{
		errors:    make([]RecordError, 0, maxErrors),
		maxErrors: maxErrors,
	}
}

// Add records an error
func (l *ErrorList) Add(err RecordError) {
	l.totalCount++
	if len(l.errors) < l.maxErrors {
		l.errors = append(l.errors, err)
	}
}

// AddRequired records a missing required field
func (l *ErrorList) AddRequired(line int, column string) {
	l.Add(NewRecordError(line, column, ErrCodeRequiredField,
		fmt.Sprintf("field '%s' is required", column)))
}

// AddMalformed records an unparseable line
func (l *ErrorList) AddMalformed(line int, message string) {
	l.Add(NewRecordError(line, "", ErrCodeMalformedRecord, message))
}

// Errors returns the kept errors
func (l *ErrorList) Errors() []RecordError {
	return l.errors
}

// Count returns the number of kept errors
func (l *ErrorList) Count() int {
	return len(l.errors)
}

// TotalCount returns every error seen, kept or not
func (l *ErrorList) TotalCount() int {
	return l.totalCount
}

// HasErrors reports whether anything failed
func (l *ErrorList) HasErrors() bool {
	return l.totalCount > 0
}

// Truncated reports whether errors were dropped by the cap
func (l *ErrorList) Truncated() bool {
	return l.totalCount > l.maxErrors
}

// String renders the list for logs
func (l *ErrorList) String() string {
	if !l.HasErrors() {
		return "no errors"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d error(s) found", l.totalCount))
	if l.Truncated() {
		sb.WriteString(fmt.Sprintf(" (showing first %d)", l.maxErrors))
	}
	sb.WriteString(":\n")

	for _, err := range l.errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}

	return sb.String()
}
