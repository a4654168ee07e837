// Package io provides input/output utilities for data ingestion.
package io

import (
	"context"
	"errors"

	"github.com/hed1ad/goguardlof/pkg/dataset"
)

// ErrNoFeatures is returned when a source yields no numeric feature column.
var ErrNoFeatures = errors.New("source has no numeric feature columns")

// Reader is the interface for reading tabular batches from various sources.
type Reader interface {
	// Read returns the complete dataset.
	Read(ctx context.Context) (*dataset.Table, error)

	// Close releases resources.
	Close() error
}

// FeatureExtractor extracts numerical features from raw data.
type FeatureExtractor interface {
	// Extract converts raw input to feature vector.
	Extract(data any) ([]float64, error)

	// FeatureNames returns the names of extracted features.
	FeatureNames() []string
}

// Writer is the interface for writing labeled frames.
type Writer interface {
	// Write outputs every row of frame with its prediction. scores, when
	// not nil, holds one normalized score per row.
	Write(frame dataset.Frame, scores []float64) error

	// Close flushes and releases resources.
	Close() error
}
