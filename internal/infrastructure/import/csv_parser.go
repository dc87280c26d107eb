package csvimport

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

const encodingCheckSize = 4096

// HeaderReport describes how a file's header matched the expected columns.
// None of these conditions is fatal: present columns are still read.
type HeaderReport struct {
	Missing   []string `json:"missing,omitempty"`
	Unknown   []string `json:"unknown,omitempty"`
	Duplicate []string `json:"duplicate,omitempty"`
}

// HasIssues returns true if the header deviates from the expected columns
func (h HeaderReport) HasIssues() bool {
	return len(h.Missing) > 0 || len(h.Unknown) > 0 || len(h.Duplicate) > 0
}

// Record is one data row of the file
type Record struct {
	// RowNumber is the 1-based position among data records, header excluded
	RowNumber  int
	LineNumber int
	Fields     map[string]string
	Attributes map[string][]string
	// ParseErr is set when the row is malformed; Fields may then be partial
	ParseErr error
}

// Get returns the value of a scalar column
func (r *Record) Get(column string) string {
	return r.Fields[column]
}

// Has reports whether the scalar column was present in the file
func (r *Record) Has(column string) bool {
	_, ok := r.Fields[column]
	return ok
}

// IsEmpty returns true if the row has no non-empty values
func (r *Record) IsEmpty() bool {
	for _, v := range r.Fields {
		if v != "" {
			return false
		}
	}
	return len(r.Attributes) == 0
}

// RowReader streams the records of a product CSV file
type RowReader struct {
	delimiter      rune
	valueDelimiter string
	trimSpace      bool

	columns     *ColumnSet
	reader      *csv.Reader
	bufReader   *bufio.Reader
	header      HeaderReport
	positions   []Column // column matched by each header position; zero Name when ignored
	headerWidth int
	rowNumber   int
}

// ReaderOption is a functional option for RowReader configuration
type ReaderOption func(*RowReader)

// WithDelimiter sets the field delimiter (default is comma)
func WithDelimiter(d rune) ReaderOption {
	return func(r *RowReader) {
		if d != 0 {
			r.delimiter = d
		}
	}
}

// WithValueDelimiter sets the separator of multi-valued attribute cells (default is comma)
func WithValueDelimiter(d string) ReaderOption {
	return func(r *RowReader) {
		if d != "" {
			r.valueDelimiter = d
		}
	}
}

// WithTrimSpace enables trimming of leading/trailing spaces from fields
func WithTrimSpace(trim bool) ReaderOption {
	return func(r *RowReader) {
		r.trimSpace = trim
	}
}

// NewRowReader validates the encoding, reads the header and positions the
// reader on the first data record.
func NewRowReader(src io.Reader, columns *ColumnSet, opts ...ReaderOption) (*RowReader, error) {
	rr := &RowReader{
		delimiter:      ',',
		valueDelimiter: ",",
		trimSpace:      true,
		columns:        columns,
	}
	for _, opt := range opts {
		opt(rr)
	}

	rr.bufReader = bufio.NewReaderSize(src, encodingCheckSize)

	content, err := rr.bufReader.Peek(3)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	// UTF-8 BOM: 0xEF, 0xBB, 0xBF
	if len(content) >= 3 && content[0] == 0xEF && content[1] == 0xBB && content[2] == 0xBF {
		_, _ = rr.bufReader.Discard(3)
	}

	if err := validateUTF8(rr.bufReader); err != nil {
		return nil, err
	}

	rr.reader = csv.NewReader(rr.bufReader)
	rr.reader.Comma = rr.delimiter
	rr.reader.LazyQuotes = false
	rr.reader.TrimLeadingSpace = rr.trimSpace
	rr.reader.FieldsPerRecord = -1 // field count is checked per record against the header

	if err := rr.parseHeader(); err != nil {
		return nil, err
	}
	return rr, nil
}

// validateUTF8 checks that the start of the content is valid UTF-8
func validateUTF8(r *bufio.Reader) error {
	content, err := r.Peek(encodingCheckSize)
	if err != nil && err != io.EOF && !errors.Is(err, bufio.ErrBufferFull) {
		return fmt.Errorf("failed to read file for encoding validation: %w", err)
	}

	if len(content) == 0 {
		return ErrEmptyFile
	}

	// The peek window may end inside a multi-byte rune.
	if len(content) == encodingCheckSize {
		for i := 0; i < utf8.UTFMax-1 && len(content) > 0; i++ {
			if utf8.Valid(content) {
				break
			}
			content = content[:len(content)-1]
		}
	}
	if !utf8.Valid(content) {
		return ErrInvalidEncoding
	}

	return nil
}

func (rr *RowReader) parseHeader() error {
	record, err := rr.reader.Read()
	if err == io.EOF {
		return ErrMissingHeader
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}

	nonEmpty := false
	seen := make(map[string]bool, len(record))
	rr.positions = make([]Column, len(record))
	for i, raw := range record {
		if !utf8.ValidString(raw) {
			return ErrInvalidEncoding
		}
		h := trimSpaces(raw)
		if h == "" {
			continue
		}
		nonEmpty = true

		col, ok := rr.columns.Lookup(h)
		if !ok {
			rr.header.Unknown = append(rr.header.Unknown, h)
			continue
		}
		if seen[col.Name] {
			rr.header.Duplicate = append(rr.header.Duplicate, col.Name)
			continue
		}
		seen[col.Name] = true
		rr.positions[i] = col
	}
	if !nonEmpty {
		return ErrMissingHeader
	}

	for _, c := range rr.columns.Columns() {
		if !seen[c.Name] {
			rr.header.Missing = append(rr.header.Missing, c.Name)
		}
	}
	rr.headerWidth = len(record)
	return nil
}

// Header returns the header report
func (rr *RowReader) Header() HeaderReport {
	return rr.header
}

// Next returns the next data record, or io.EOF when the file is exhausted.
// A malformed row is returned as a Record with ParseErr set; only failures to
// read the source are returned as errors.
func (rr *RowReader) Next() (*Record, error) {
	fields, err := rr.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}

	var parseErr *csv.ParseError
	if err != nil && !errors.As(err, &parseErr) {
		return nil, fmt.Errorf("error reading row %d: %w", rr.rowNumber+1, err)
	}

	rr.rowNumber++
	rec := &Record{
		RowNumber:  rr.rowNumber,
		Fields:     make(map[string]string, len(rr.positions)),
		Attributes: make(map[string][]string),
	}

	if parseErr != nil {
		rec.LineNumber = parseErr.StartLine
		rec.ParseErr = &RowParseError{Line: parseErr.StartLine, Reason: parseErr.Err.Error()}
		return rec, nil
	}

	rec.LineNumber, _ = rr.reader.FieldPos(0)
	if len(fields) != rr.headerWidth {
		rec.ParseErr = &RowParseError{
			Line:   rec.LineNumber,
			Reason: fmt.Sprintf("expected %d fields, got %d", rr.headerWidth, len(fields)),
		}
	}

	for i, col := range rr.positions {
		if col.Name == "" {
			continue
		}
		value := ""
		if i < len(fields) {
			value = fields[i]
		}
		if !utf8.ValidString(value) {
			rec.ParseErr = &RowParseError{Line: rec.LineNumber, Reason: "invalid UTF-8 in column " + col.Name}
			continue
		}

		switch col.Kind {
		case KindScalar:
			if rr.trimSpace {
				value = trimSpaces(value)
			}
			rec.Fields[col.Name] = value
		case KindAttribute:
			if tokens := rr.splitValues(value); len(tokens) > 0 {
				rec.Attributes[col.Name] = tokens
			}
		}
	}

	return rec, nil
}

// splitValues splits a multi-valued cell, dropping empty tokens
func (rr *RowReader) splitValues(cell string) []string {
	var tokens []string
	for _, part := range strings.Split(cell, rr.valueDelimiter) {
		if t := trimSpaces(part); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// Skip reads past n data records without yielding them. It is used to resume
// after a checkpoint and fails with ErrSourceTruncated if the file ends first.
func (rr *RowReader) Skip(n int) error {
	for i := 0; i < n; i++ {
		if _, err := rr.Next(); err != nil {
			if err == io.EOF {
				return fmt.Errorf("%w: wanted %d, found %d", ErrSourceTruncated, n, i)
			}
			return err
		}
	}
	return nil
}

// CountRecords reads the remaining data records and returns how many there were
func (rr *RowReader) CountRecords() (int, error) {
	count := 0
	for {
		_, err := rr.Next()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, err
		}
		count++
	}
}

// RowNumber returns the number of the last record read
func (rr *RowReader) RowNumber() int {
	return rr.rowNumber
}

// trimSpaces trims whitespace from a string
func trimSpaces(s string) string {
	return strings.TrimFunc(s, isWhitespace)
}

// isWhitespace checks if a rune is whitespace
func isWhitespace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}
