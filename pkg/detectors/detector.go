// Package detectors provides unsupervised anomaly detection algorithms.
package detectors

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hed1ad/goguardlof/pkg/dataset"
)

var (
	// ErrTooFewPoints is returned when a batch is too small to search for neighbors.
	ErrTooFewPoints = errors.New("batch must contain at least 2 points")
	// ErrInvalidConfig is returned when a configuration fails validation.
	ErrInvalidConfig = errors.New("invalid detector configuration")
	// ErrNotFitted is returned when a model is used before FitTransform.
	ErrNotFitted = errors.New("model not fitted")
)

// Detector is the common Fit/Transform contract shared by all density-based
// algorithms. Implementations differ only in how a raw score is computed.
type Detector interface {
	// FitTransform snapshots batch, scores every row, calibrates the
	// threshold and returns the labeled snapshot. batch is never mutated.
	FitTransform(ctx context.Context, batch dataset.Frame) (*Result, error)

	// Evaluate returns the normalized score of row against the fitted model, in [0, 1].
	Evaluate(ctx context.Context, row *dataset.Row) (float64, error)

	// Threshold returns the current classification threshold.
	Threshold() float64
}

// Observer receives a record of every completed fit.
type Observer interface {
	ObserveFit(algorithm string, res *Result, elapsed time.Duration)
}

// Result is the outcome of one FitTransform call.
type Result struct {
	// RunID identifies the fit invocation in logs and metrics.
	RunID string
	// Frame is the labeled model snapshot.
	Frame dataset.Frame
	// Scores holds the normalized score each row was labeled with.
	Scores []float64
	// Threshold is the threshold the labels were derived from.
	Threshold float64
	// MinScore and MaxScore are the finite raw score bounds of the batch.
	MinScore float64
	MaxScore float64
	// Partial is non-nil when some scoring tasks failed and were dropped
	// from aggregation. It wraps one or more *scheduler.PartialError.
	Partial error
	// Failed counts the rows whose fit-time score was dropped.
	Failed int
}

// Complete reports whether every scoring task succeeded.
func (r *Result) Complete() bool {
	return r.Partial == nil
}

// Anomalies returns the number of rows labeled anomalous.
func (r *Result) Anomalies() int {
	return dataset.CountAnomalies(r.Frame)
}

// Config holds the configuration surface shared by detectors.
type Config struct {
	// Threshold is the normalized score above which a row is anomalous.
	// Overridden when AutoThreshold is set.
	Threshold float64 `koanf:"threshold" validate:"gte=0,lte=1"`
	// MinPtsLB and MinPtsUB bound the inclusive neighborhood-size search range.
	MinPtsLB int `koanf:"min_pts_lb" validate:"gte=1"`
	MinPtsUB int `koanf:"min_pts_ub" validate:"gtefield=MinPtsLB"`
	// Parallel enables the concurrent scoring paths.
	Parallel bool `koanf:"parallel"`
	// AutoThreshold recomputes Threshold from the fitted scores.
	AutoThreshold bool `koanf:"auto_threshold"`
	// ThresholdRatio is the target fraction of rows labeled anomalous.
	ThresholdRatio float64 `koanf:"threshold_ratio" validate:"gt=0,lte=1"`
	// RandomSeed for algorithms that sample.
	RandomSeed int64 `koanf:"random_seed"`
}

// DefaultConfig returns sensible defaults for detector configuration.
func DefaultConfig() Config {
	return Config{
		Threshold:      0.5,
		MinPtsLB:       3,
		MinPtsUB:       10,
		Parallel:       true,
		AutoThreshold:  true,
		ThresholdRatio: 0.05,
		RandomSeed:     42,
	}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validate checks the configuration ranges.
func (c Config) Validate() error {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
