// Package csv provides CSV reading and writing for tabular data.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/hed1ad/goguardlof/pkg/dataset"
	goguardio "github.com/hed1ad/goguardlof/pkg/io"
)

var _ goguardio.Reader = (*Reader)(nil)

// Reader reads data from CSV files.
type Reader struct {
	closer    io.Closer
	reader    *csv.Reader
	hasHeader bool
	headers   []string
	target    string
	columns   []string
	skipped   int
}

// Option configures a CSV reader.
type Option func(*Reader)

// WithHeader indicates the CSV has a header row.
func WithHeader(has bool) Option {
	return func(r *Reader) {
		r.hasHeader = has
	}
}

// WithTargetColumn marks a ground-truth column. It is read into the row
// target and excluded from the features.
func WithTargetColumn(name string) Option {
	return func(r *Reader) {
		r.target = name
	}
}

// WithColumns restricts the features to the named columns, in that order.
func WithColumns(names ...string) Option {
	return func(r *Reader) {
		r.columns = names
	}
}

// WithComma sets the field delimiter.
func WithComma(c rune) Option {
	return func(r *Reader) {
		r.reader.Comma = c
	}
}

// NewReader creates a new CSV reader.
func NewReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	r, err := newReader(file, opts...)
	if err != nil {
		file.Close()
		return nil, err
	}
	r.closer = file
	return r, nil
}

// NewReaderFrom creates a CSV reader over src. Close does not close src.
func NewReaderFrom(src io.Reader, opts ...Option) (*Reader, error) {
	return newReader(src, opts...)
}

func newReader(src io.Reader, opts ...Option) (*Reader, error) {
	r := &Reader{
		reader:    csv.NewReader(src),
		hasHeader: true,
	}
	r.reader.TrimLeadingSpace = true

	for _, opt := range opts {
		opt(r)
	}

	// Read header if present
	if r.hasHeader {
		headers, err := r.reader.Read()
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		for i, h := range headers {
			headers[i] = strings.TrimSpace(h)
		}
		r.headers = headers
	}

	return r, nil
}

// Headers returns the column headers.
func (r *Reader) Headers() []string {
	return r.headers
}

// Skipped returns the number of malformed rows dropped by the last Read.
func (r *Reader) Skipped() int {
	return r.skipped
}

// Read returns all rows as a table. Rows with a wrong field count or a
// non-numeric or non-finite selected value are skipped.
func (r *Reader) Read(ctx context.Context) (*dataset.Table, error) {
	r.skipped = 0

	var (
		tbl *dataset.Table
		l   *layout
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, err := r.reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, csv.ErrFieldCount) {
				r.skipped++
				continue
			}
			return nil, err
		}

		if l == nil {
			if r.headers == nil {
				r.headers = defaultHeaders(len(record))
			}
			if l, err = r.plan(); err != nil {
				return nil, err
			}
			tbl = dataset.NewTable(l.names...)
		}

		features, target, err := l.parse(record)
		if err != nil {
			r.skipped++ // Skip malformed rows
			continue
		}
		if l.target >= 0 {
			err = tbl.AppendLabeled(features, target)
		} else {
			err = tbl.Append(features)
		}
		if err != nil {
			return nil, err
		}
	}

	if tbl == nil {
		if r.headers == nil {
			return nil, goguardio.ErrNoFeatures
		}
		l, err := r.plan()
		if err != nil {
			return nil, err
		}
		tbl = dataset.NewTable(l.names...)
	}
	return tbl, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// layout maps record positions to features and target.
type layout struct {
	names  []string
	index  []int
	target int
}

func (r *Reader) plan() (*layout, error) {
	pos := make(map[string]int, len(r.headers))
	for i, h := range r.headers {
		pos[h] = i
	}

	l := &layout{target: -1}
	if r.target != "" {
		i, ok := pos[r.target]
		if !ok {
			return nil, fmt.Errorf("target %w: %q", dataset.ErrUnknownColumn, r.target)
		}
		l.target = i
	}

	if len(r.columns) > 0 {
		for _, name := range r.columns {
			i, ok := pos[name]
			if !ok {
				return nil, fmt.Errorf("%w: %q", dataset.ErrUnknownColumn, name)
			}
			l.names = append(l.names, name)
			l.index = append(l.index, i)
		}
	} else {
		for i, h := range r.headers {
			if i == l.target {
				continue
			}
			l.names = append(l.names, h)
			l.index = append(l.index, i)
		}
	}

	if len(l.index) == 0 {
		return nil, goguardio.ErrNoFeatures
	}
	return l, nil
}

// parse converts the selected fields of record to floats.
func (l *layout) parse(record []string) ([]float64, float64, error) {
	row := make([]float64, len(l.index))
	for j, i := range l.index {
		if i >= len(record) {
			return nil, 0, fmt.Errorf("missing column %d", i)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
		if err != nil {
			return nil, 0, err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, 0, fmt.Errorf("column %d: %w", i, dataset.ErrNonFinite)
		}
		row[j] = f
	}

	var target float64
	if l.target >= 0 {
		f, err := strconv.ParseFloat(strings.TrimSpace(record[l.target]), 64)
		if err != nil {
			return nil, 0, err
		}
		target = f
	}
	return row, target, nil
}

func defaultHeaders(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = "c" + strconv.Itoa(i+1)
	}
	return names
}
