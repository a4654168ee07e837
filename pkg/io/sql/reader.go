// Package sql reads tabular batches from a database query.
package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hed1ad/goguardlof/pkg/dataset"
	goguardio "github.com/hed1ad/goguardlof/pkg/io"
)

var _ goguardio.Reader = (*Reader)(nil)

// ErrNotNumeric is returned when a selected column holds a non-numeric value.
var ErrNotNumeric = errors.New("value is not numeric")

// Reader runs a query and turns the result set into a table.
type Reader struct {
	db      *sql.DB
	ownsDB  bool
	query   string
	args    []any
	target  string
	columns []string
	skipped int
}

// Option configures a Reader.
type Option func(*Reader)

// WithArgs binds query placeholders.
func WithArgs(args ...any) Option {
	return func(r *Reader) {
		r.args = args
	}
}

// WithTargetColumn reads the named column into the row target instead of the features.
func WithTargetColumn(name string) Option {
	return func(r *Reader) {
		r.target = name
	}
}

// WithColumns restricts the features to the named result columns, in that order.
func WithColumns(names ...string) Option {
	return func(r *Reader) {
		r.columns = names
	}
}

// NewReader creates a reader over an existing connection pool. Close does
// not close db.
func NewReader(db *sql.DB, query string, opts ...Option) *Reader {
	r := &Reader{db: db, query: query}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open connects with the registered driver and returns a reader that owns
// the connection pool.
func Open(ctx context.Context, driver, dsn, query string, opts ...Option) (*Reader, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	r := NewReader(db, query, opts...)
	r.ownsDB = true
	return r, nil
}

// Skipped returns the number of rows with NULL or non-finite features dropped by the last Read.
func (r *Reader) Skipped() int {
	return r.skipped
}

// Read executes the query and returns one row per result record.
func (r *Reader) Read(ctx context.Context) (*dataset.Table, error) {
	r.skipped = 0

	rows, err := r.db.QueryContext(ctx, r.query, r.args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	names, index, target, err := r.plan(cols)
	if err != nil {
		return nil, err
	}

	tbl := dataset.NewTable(names...)
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row %d: %w", tbl.Len(), err)
		}

		features := make([]float64, len(index))
		skip := false
		for j, i := range index {
			v, ok, err := toFloat(values[i])
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", tbl.Len(), cols[i], err)
			}
			skip = skip || !ok || math.IsNaN(v) || math.IsInf(v, 0)
			features[j] = v
		}

		if target < 0 {
			if skip {
				r.skipped++
				continue
			}
			if err := tbl.Append(features); err != nil {
				return nil, err
			}
			continue
		}

		t, ok, err := toFloat(values[target])
		if err != nil {
			return nil, fmt.Errorf("row %d column %q: %w", tbl.Len(), cols[target], err)
		}
		switch {
		case skip:
			r.skipped++
		case ok:
			err = tbl.AppendLabeled(features, t)
		default:
			err = tbl.Append(features)
		}
		if err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return tbl, nil
}

// Close releases the connection pool if the reader opened it.
func (r *Reader) Close() error {
	if r.ownsDB {
		return r.db.Close()
	}
	return nil
}

func (r *Reader) plan(cols []string) (names []string, index []int, target int, err error) {
	pos := make(map[string]int, len(cols))
	for i, c := range cols {
		pos[c] = i
	}

	target = -1
	if r.target != "" {
		i, ok := pos[r.target]
		if !ok {
			return nil, nil, 0, fmt.Errorf("target %w: %q", dataset.ErrUnknownColumn, r.target)
		}
		target = i
	}

	if len(r.columns) > 0 {
		for _, name := range r.columns {
			i, ok := pos[name]
			if !ok {
				return nil, nil, 0, fmt.Errorf("%w: %q", dataset.ErrUnknownColumn, name)
			}
			names = append(names, name)
			index = append(index, i)
		}
	} else {
		for i, c := range cols {
			if i == target {
				continue
			}
			names = append(names, c)
			index = append(index, i)
		}
	}

	if len(index) == 0 {
		return nil, nil, 0, goguardio.ErrNoFeatures
	}
	return names, index, target, nil
}

// toFloat converts a driver value. ok is false for NULL.
func toFloat(v any) (f float64, ok bool, err error) {
	switch x := v.(type) {
	case nil:
		return 0, false, nil
	case float64:
		return x, true, nil
	case float32:
		return float64(x), true, nil
	case int64:
		return float64(x), true, nil
	case int32:
		return float64(x), true, nil
	case int:
		return float64(x), true, nil
	case bool:
		if x {
			return 1, true, nil
		}
		return 0, true, nil
	case []byte:
		return parseFloat(string(x))
	case string:
		return parseFloat(x)
	default:
		return 0, false, fmt.Errorf("%w: %T", ErrNotNumeric, v)
	}
}

func parseFloat(s string) (float64, bool, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %q", ErrNotNumeric, s)
	}
	return f, true, nil
}
