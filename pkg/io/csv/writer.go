package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/hed1ad/goguardlof/pkg/dataset"
	goguardio "github.com/hed1ad/goguardlof/pkg/io"
)

var _ goguardio.Writer = (*Writer)(nil)

// Writer writes labeled frames as CSV.
type Writer struct {
	closer     io.Closer
	writer     *csv.Writer
	targetName string
	predName   string
	scoreName  string
}

// WriterOption configures a CSV writer.
type WriterOption func(*Writer)

// WithPredictionColumn sets the name of the prediction column.
func WithPredictionColumn(name string) WriterOption {
	return func(w *Writer) {
		w.predName = name
	}
}

// WithTargetName sets the name of the ground-truth column.
func WithTargetName(name string) WriterOption {
	return func(w *Writer) {
		w.targetName = name
	}
}

// NewWriter creates (or truncates) filename and writes CSV to it.
func NewWriter(filename string, opts ...WriterOption) (*Writer, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}

	w := NewWriterTo(file, opts...)
	w.closer = file
	return w, nil
}

// NewWriterTo creates a CSV writer over dst. Close flushes but does not close dst.
func NewWriterTo(dst io.Writer, opts ...WriterOption) *Writer {
	w := &Writer{
		writer:     csv.NewWriter(dst),
		targetName: "target",
		predName:   "prediction",
		scoreName:  "score",
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write emits a header followed by one record per row: the features, the
// target when any row carries one, the score when scores is not nil, and
// the prediction.
func (w *Writer) Write(frame dataset.Frame, scores []float64) error {
	if scores != nil && len(scores) != frame.Len() {
		return fmt.Errorf("%w: %d scores for %d rows", dataset.ErrSchemaMismatch, len(scores), frame.Len())
	}

	withTarget := false
	for i := 0; i < frame.Len(); i++ {
		if frame.Row(i).HasTarget {
			withTarget = true
			break
		}
	}

	header := append([]string(nil), frame.FeatureNames()...)
	if withTarget {
		header = append(header, w.targetName)
	}
	if scores != nil {
		header = append(header, w.scoreName)
	}
	header = append(header, w.predName)
	if err := w.writer.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	record := make([]string, 0, len(header))
	for i := 0; i < frame.Len(); i++ {
		row := frame.Row(i)
		record = record[:0]
		for _, v := range row.Features {
			record = append(record, formatFloat(v))
		}
		if withTarget {
			target := ""
			if row.HasTarget {
				target = formatFloat(row.Target)
			}
			record = append(record, target)
		}
		if scores != nil {
			record = append(record, formatFloat(scores[i]))
		}
		record = append(record, row.Prediction)

		if err := w.writer.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}

	w.writer.Flush()
	return w.writer.Error()
}

// Close flushes buffered output and releases resources.
func (w *Writer) Close() error {
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		return err
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
