// Package dataset provides the tabular point containers scored by detectors.
package dataset

import (
	"errors"
	"fmt"
	"math"
)

// Prediction labels written by detectors.
const (
	LabelNormal  = "0"
	LabelAnomaly = "1"
)

var (
	// ErrSchemaMismatch is returned when a row does not match the frame's feature schema.
	ErrSchemaMismatch = errors.New("row does not match frame schema")
	// ErrUnknownColumn is returned for a cell lookup on a column the frame does not have.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrNonFinite is returned for a feature value that is NaN or infinite.
	ErrNonFinite = errors.New("non-finite feature value")
)

// Row is a single point: named numeric features plus an optional target
// and a mutable prediction slot.
type Row struct {
	// Index is the row's position in its frame, or -1 for a free-standing query point.
	Index int
	// Features holds values in the order of the frame's FeatureNames.
	Features []float64
	// Target is the optional ground-truth value.
	Target    float64
	HasTarget bool
	// Prediction is "0", "1" or empty before labeling.
	Prediction string
}

// NewPoint returns a free-standing row that does not belong to any frame.
func NewPoint(features ...float64) *Row {
	return &Row{Index: -1, Features: features}
}

func (r *Row) clone() *Row {
	c := *r
	c.Features = make([]float64, len(r.Features))
	copy(c.Features, r.Features)
	return &c
}

// Frame is a finite, ordered point source with indexed cell access,
// a label write operation and a deep copy.
type Frame interface {
	// Len returns the number of rows.
	Len() int
	// Row returns the i-th row. The same pointer is returned for the life
	// of the frame. Callers must not modify Features.
	Row(i int) *Row
	// FeatureNames returns the numeric feature columns in row order.
	FeatureNames() []string
	// Cell reads a named feature of the i-th row.
	Cell(i int, name string) (float64, error)
	// SetPrediction writes the categorical prediction of the i-th row.
	SetPrediction(i int, label string)
	// Clone returns an independent deep copy.
	Clone() Frame
}

// Table is the in-memory Frame implementation.
type Table struct {
	names   []string
	columns map[string]int
	rows    []*Row
}

// NewTable creates an empty table with the given feature columns.
func NewTable(features ...string) *Table {
	t := &Table{
		names:   append([]string(nil), features...),
		columns: make(map[string]int, len(features)),
	}
	for i, name := range features {
		t.columns[name] = i
	}
	return t
}

// Append adds an unlabeled row.
func (t *Table) Append(features []float64) error {
	return t.add(&Row{Features: features})
}

// AppendLabeled adds a row carrying a ground-truth target.
func (t *Table) AppendLabeled(features []float64, target float64) error {
	return t.add(&Row{Features: features, Target: target, HasTarget: true})
}

func (t *Table) add(r *Row) error {
	if err := CheckRow(r, len(t.names)); err != nil {
		return err
	}
	r.Index = len(t.rows)
	r.Features = append([]float64(nil), r.Features...)
	t.rows = append(t.rows, r)
	return nil
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Row returns the i-th row.
func (t *Table) Row(i int) *Row {
	return t.rows[i]
}

// FeatureNames returns the feature columns.
func (t *Table) FeatureNames() []string {
	return t.names
}

// Cell reads a named feature of the i-th row.
func (t *Table) Cell(i int, name string) (float64, error) {
	col, ok := t.columns[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
	}
	return t.rows[i].Features[col], nil
}

// SetPrediction writes the prediction slot of the i-th row.
func (t *Table) SetPrediction(i int, label string) {
	t.rows[i].Prediction = label
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() Frame {
	c := NewTable(t.names...)
	c.rows = make([]*Row, len(t.rows))
	for i, r := range t.rows {
		c.rows[i] = r.clone()
	}
	return c
}

// Predictions returns the prediction slot of every row in order.
func Predictions(f Frame) []string {
	out := make([]string, f.Len())
	for i := range out {
		out[i] = f.Row(i).Prediction
	}
	return out
}

// CountAnomalies returns the number of rows labeled anomalous.
func CountAnomalies(f Frame) int {
	n := 0
	for i := 0; i < f.Len(); i++ {
		if f.Row(i).Prediction == LabelAnomaly {
			n++
		}
	}
	return n
}

// CheckRow reports whether r has width features, all of them finite.
func CheckRow(r *Row, width int) error {
	if len(r.Features) != width {
		return fmt.Errorf("%w: got %d values, want %d", ErrSchemaMismatch, len(r.Features), width)
	}
	for j, v := range r.Features {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: feature %d is %v", ErrNonFinite, j, v)
		}
	}
	return nil
}

// CheckFrame runs CheckRow over every row of f.
func CheckFrame(f Frame) error {
	width := len(f.FeatureNames())
	for i := 0; i < f.Len(); i++ {
		if err := CheckRow(f.Row(i), width); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	return nil
}
