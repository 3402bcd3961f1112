// Package results appends extraction rows to a cumulative CSV table.
//
// The first row written to a file also writes the header. Later rows are
// appended in their own column order; the header is never rewritten. When
// the region set of a run differs from the existing header the row would no
// longer line up with it, so the writer compares the two first: in
// HeaderAppend mode a mismatch is logged and the row is appended anyway (the
// behaviour existing tables were produced with), in HeaderStrict mode the
// append is refused with ErrHeaderMismatch.
package results

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// ErrHeaderMismatch is returned in strict mode when the existing header
// differs from the row being appended
var ErrHeaderMismatch = errors.New("output header does not match row columns")

// HeaderMode selects how an existing, different header is handled
type HeaderMode string

const (
	HeaderAppend HeaderMode = "append"
	HeaderStrict HeaderMode = "strict"
)

// ParseHeaderMode converts a configuration string into a HeaderMode
func ParseHeaderMode(s string) (HeaderMode, error) {
	switch HeaderMode(strings.ToLower(strings.TrimSpace(s))) {
	case HeaderAppend, "":
		return HeaderAppend, nil
	case HeaderStrict:
		return HeaderStrict, nil
	}
	return "", fmt.Errorf("unknown header mode %q (must be append or strict)", s)
}

// Columns is an ordered set of named values
type Columns interface {
	Names() []string
	Values() []float64
}

// Row is one subject/session line of the table
type Row struct {
	Subject int
	Session int
	Columns Columns
}

// Header returns the column names of the row
func (r Row) Header() []string {
	return append([]string{"subject", "session"}, r.Columns.Names()...)
}

// Record returns the formatted cells of the row
func (r Row) Record() []string {
	values := r.Columns.Values()
	record := make([]string, 0, len(values)+2)
	record = append(record, strconv.Itoa(r.Subject), strconv.Itoa(r.Session))
	for _, v := range values {
		record = append(record, FormatValue(v))
	}
	return record
}

// FormatValue renders a float the way existing tables store them: shortest
// round-trip digits, a trailing ".0" for integral values, exponent notation
// outside [1e-4, 1e16), and nan/inf for non-finite values.
func FormatValue(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}

	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}

// Writer appends rows to one CSV file
type Writer struct {
	path string
	mode HeaderMode
	log  zerolog.Logger
}

// NewWriter creates a writer for path
func NewWriter(path string, mode HeaderMode, log zerolog.Logger) *Writer {
	return &Writer{path: path, mode: mode, log: log}
}

// Append writes the header if the file is new or empty, then the row. The
// whole check-then-append sequence runs under an exclusive lock on the file
// so concurrent runs targeting the same table cannot both write a header or
// interleave rows.
func (w *Writer) Append(row Row) error {
	f, err := os.OpenFile(w.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open output table: %w", err)
	}
	defer f.Close()

	unlock, err := lockFile(f)
	if err != nil {
		return fmt.Errorf("failed to lock output table: %w", err)
	}
	defer unlock()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat output table: %w", err)
	}

	header := row.Header()
	needHeader := info.Size() == 0
	if !needHeader {
		existing, err := readHeader(f)
		if err != nil {
			return err
		}
		if !slices.Equal(existing, header) {
			if w.mode == HeaderStrict {
				return fmt.Errorf("%w: %s has %d columns, row has %d", ErrHeaderMismatch, w.path, len(existing), len(header))
			}
			w.log.Warn().
				Str("path", w.path).
				Int("header_columns", len(existing)).
				Int("row_columns", len(header)).
				Msg("row columns differ from existing header, appending anyway")
		}
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	cw.UseCRLF = true
	if needHeader {
		cw.Write(header)
	}
	cw.Write(row.Record())
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to format row: %w", err)
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to append row: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync output table: %w", err)
	}

	w.log.Info().
		Str("path", w.path).
		Bool("header_written", needHeader).
		Int("columns", len(header)).
		Msg("appended row")
	return nil
}

// ReadHeader returns the first record of a CSV file
func ReadHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open output table: %w", err)
	}
	defer f.Close()
	return readHeader(f)
}

func readHeader(f io.ReadSeeker) ([]string, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind output table: %w", err)
	}
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read output header: %w", err)
	}
	return header, nil
}
