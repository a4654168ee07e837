// Package lof implements the Local Outlier Factor algorithm for anomaly detection.
package lof

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/hed1ad/goguardlof/pkg/dataset"
	"github.com/hed1ad/goguardlof/pkg/detectors"
	"github.com/hed1ad/goguardlof/pkg/distance"
	"github.com/hed1ad/goguardlof/pkg/scheduler"
)

// Algorithm is the name reported to observers.
const Algorithm = "lof"

const (
	// rowWidth bounds the row-level fan-out.
	rowWidth = 10
	// maxKWidth bounds the neighborhood-size fan-out.
	maxKWidth = 8
)

// ErrNeighborhoodTooLarge is returned when the search range reaches the batch size.
var ErrNeighborhoodTooLarge = errors.New("neighborhood size must be smaller than the batch")

// LOF scores rows by comparing their local reachability density to that of
// their neighbors, maximised over a range of neighborhood sizes.
type LOF struct {
	mu sync.RWMutex

	// Configuration
	cfg      detectors.Config
	measure  distance.Measure
	logger   zerolog.Logger
	observer detectors.Observer

	pool     *scheduler.Pool
	ownsPool bool
	poolOnce sync.Once

	// Fitted model
	model   dataset.Frame
	scorer  *Scorer
	tracker detectors.Tracker
	fitted  bool
}

var _ detectors.Detector = (*LOF)(nil)

// Option configures a LOF.
type Option func(*LOF)

// WithConfig replaces the whole configuration.
func WithConfig(cfg detectors.Config) Option {
	return func(l *LOF) {
		l.cfg = cfg
	}
}

// WithThreshold sets the classification threshold used when automatic
// thresholding is off.
func WithThreshold(t float64) Option {
	return func(l *LOF) {
		l.cfg.Threshold = t
	}
}

// WithSearchRange sets the inclusive neighborhood-size range.
func WithSearchRange(lb, ub int) Option {
	return func(l *LOF) {
		l.cfg.MinPtsLB = lb
		l.cfg.MinPtsUB = ub
	}
}

// WithParallel toggles concurrent scoring.
func WithParallel(enabled bool) Option {
	return func(l *LOF) {
		l.cfg.Parallel = enabled
	}
}

// WithAutoThreshold toggles threshold calibration and sets its target ratio.
func WithAutoThreshold(enabled bool, ratio float64) Option {
	return func(l *LOF) {
		l.cfg.AutoThreshold = enabled
		l.cfg.ThresholdRatio = ratio
	}
}

// WithMeasure sets the distance measure. Defaults to Euclidean.
func WithMeasure(m distance.Measure) Option {
	return func(l *LOF) {
		l.measure = m
	}
}

// WithPool shares an existing worker pool. The LOF does not close it.
func WithPool(p *scheduler.Pool) Option {
	return func(l *LOF) {
		l.pool = p
	}
}

// WithLogger sets the logger used for dropped tasks and fit summaries.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *LOF) {
		l.logger = logger
	}
}

// WithObserver registers a fit observer.
func WithObserver(o detectors.Observer) Option {
	return func(l *LOF) {
		l.observer = o
	}
}

// New creates a LOF with the given options.
func New(opts ...Option) *LOF {
	l := &LOF{
		cfg:     detectors.DefaultConfig(),
		measure: distance.Euclidean,
		logger:  log.Logger,
		tracker: detectors.NewTracker(),
	}

	for _, opt := range opts {
		opt(l)
	}

	l.logger = l.logger.With().Str("detector", Algorithm).Logger()
	return l
}

// Close releases the worker pool if the LOF created it.
func (l *LOF) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	// Prevent a pool from being started after Close.
	l.poolOnce.Do(func() {})
	if l.ownsPool && l.pool != nil {
		l.pool.Close()
	}
}

func (l *LOF) runner(parallel bool) scheduler.Runner {
	if !parallel {
		return scheduler.Sequential{}
	}
	l.poolOnce.Do(func() {
		if l.pool == nil {
			l.pool = scheduler.New(rowWidth)
			l.ownsPool = true
		}
	})
	if l.pool == nil {
		return scheduler.Sequential{}
	}
	return l.pool
}

// FitTransform snapshots batch, scores every row and returns the snapshot
// with each row's prediction set to "1" (anomalous) or "0". Only
// structurally invalid input is returned as an error; failed scoring tasks
// are dropped and reported through Result.Partial.
func (l *LOF) FitTransform(ctx context.Context, batch dataset.Frame) (*detectors.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	cfg := l.cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := batch.Len()
	if m < 2 {
		return nil, fmt.Errorf("%w: got %d", detectors.ErrTooFewPoints, m)
	}
	if cfg.MinPtsUB >= m {
		return nil, fmt.Errorf("%w: min_pts_ub=%d, batch size=%d", ErrNeighborhoodTooLarge, cfg.MinPtsUB, m)
	}
	if err := dataset.CheckFrame(batch); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := l.logger.With().Str("run_id", runID).Logger()

	// Unfit -> Fitting: discard the previous snapshot and trackers.
	l.model = batch.Clone()
	l.scorer = NewScorer(distance.New(l.model, l.measure, distance.WithNeighborLimit(cfg.MinPtsUB)))
	l.tracker = detectors.NewTracker()
	l.fitted = false

	outcomes, rep := scheduler.Map(ctx, l.runner(cfg.Parallel), m, rowWidth,
		func(_ context.Context, i int) (float64, error) {
			return l.scorer.ScoreForPoint(l.model.Row(i), cfg.MinPtsLB, cfg.MinPtsUB), nil
		})
	for i, o := range outcomes {
		if o.Err != nil {
			logger.Warn().Err(o.Err).Int("row", i).Msg("dropping row score")
			continue
		}
		l.tracker.Observe(o.Value)
	}
	l.fitted = true

	var partial error
	if err := rep.Err(); err != nil {
		partial = multierr.Append(partial, fmt.Errorf("row scoring: %w", err))
	}

	if cfg.AutoThreshold {
		th, err := l.adjustThreshold(ctx, cfg, cfg.ThresholdRatio)
		if err != nil {
			partial = multierr.Append(partial, fmt.Errorf("threshold calibration: %w", err))
		}
		l.cfg.Threshold = th
	}
	threshold := l.cfg.Threshold

	// Fitting -> Fit: label every row from its re-evaluated normalized score.
	scores := make([]float64, m)
	for i := 0; i < m; i++ {
		score, err := l.evaluate(ctx, cfg, l.model.Row(i))
		if err != nil {
			partial = multierr.Append(partial, fmt.Errorf("labeling row %d: %w", i, err))
		}
		scores[i] = score

		label := dataset.LabelNormal
		if score > threshold {
			label = dataset.LabelAnomaly
		}
		l.model.SetPrediction(i, label)
	}

	res := &detectors.Result{
		RunID:     runID,
		Frame:     l.model,
		Scores:    scores,
		Threshold: threshold,
		MinScore:  l.tracker.Min,
		MaxScore:  l.tracker.Max,
		Partial:   partial,
		Failed:    rep.Failed,
	}

	elapsed := time.Since(start)
	logger.Debug().
		Int("rows", m).
		Int("anomalies", res.Anomalies()).
		Int("failed", rep.Failed).
		Float64("threshold", threshold).
		Dur("elapsed", elapsed).
		Msg("fit complete")
	if l.observer != nil {
		l.observer.ObserveFit(Algorithm, res, elapsed)
	}

	return res, nil
}

// adjustThreshold evaluates every row of the model and returns the score
// that leaves roughly the top ratio fraction above it.
func (l *LOF) adjustThreshold(ctx context.Context, cfg detectors.Config, ratio float64) (float64, error) {
	m := l.model.Len()
	scores := make([]float64, m)

	var errs error
	for i := 0; i < m; i++ {
		score, err := l.evaluate(ctx, cfg, l.model.Row(i))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("row %d: %w", i, err))
		}
		scores[i] = score
	}

	return detectors.SelectThreshold(scores, ratio), errs
}

// AdjustThreshold recomputes the threshold from the fitted model so that
// about ratio of its rows score above it.
func (l *LOF) AdjustThreshold(ctx context.Context, ratio float64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.fitted {
		return 0, detectors.ErrNotFitted
	}
	th, err := l.adjustThreshold(ctx, l.cfg, ratio)
	l.cfg.Threshold = th
	return th, err
}

// Evaluate recomputes the raw score of row against the fitted model and
// normalizes it into [0, 1]. Failed neighborhood sizes are logged and
// skipped. A row that does not match the model's schema, or carries a
// non-finite feature, is rejected.
func (l *LOF) Evaluate(ctx context.Context, row *dataset.Row) (float64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.evaluateChecked(ctx, row)
}

// IsAnomaly reports whether row's normalized score exceeds the threshold.
// The score and the threshold come from the same model.
func (l *LOF) IsAnomaly(ctx context.Context, row *dataset.Row) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	score, err := l.evaluateChecked(ctx, row)
	if err != nil {
		return false, err
	}
	return score > l.cfg.Threshold, nil
}

// evaluateChecked backs Evaluate and IsAnomaly. l.mu must be held.
func (l *LOF) evaluateChecked(ctx context.Context, row *dataset.Row) (float64, error) {
	if !l.fitted {
		return 0, detectors.ErrNotFitted
	}
	if err := dataset.CheckRow(row, len(l.model.FeatureNames())); err != nil {
		return 0, err
	}

	score, err := l.evaluate(ctx, l.cfg, row)
	if err != nil {
		l.logger.Warn().Err(err).Int("row", row.Index).Msg("partial evaluation")
	}
	return score, nil
}

// evaluate returns the normalized score of row and the partial failure of
// its neighborhood-size fan-out, if any.
func (l *LOF) evaluate(ctx context.Context, cfg detectors.Config, row *dataset.Row) (float64, error) {
	raw, err := l.scoreRange(ctx, cfg, row)
	return l.tracker.Normalize(raw), err
}

// scoreRange computes ScoreForPoint with one task per neighborhood size,
// fanned out when parallel scoring is enabled.
func (l *LOF) scoreRange(ctx context.Context, cfg detectors.Config, row *dataset.Row) (float64, error) {
	n := cfg.MinPtsUB - cfg.MinPtsLB + 1
	outcomes, rep := scheduler.Map(ctx, l.runner(cfg.Parallel), n, min(maxKWidth, n),
		func(_ context.Context, i int) (float64, error) {
			return l.scorer.LocalOutlierFactor(row, cfg.MinPtsLB+i), nil
		})

	score := math.Inf(-1)
	for _, o := range outcomes {
		if o.Err != nil {
			continue
		}
		score = maxLOF(score, o.Value)
	}
	return score, rep.Err()
}

// Threshold returns the current anomaly threshold.
func (l *LOF) Threshold() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg.Threshold
}

// SetThreshold updates the anomaly threshold.
func (l *LOF) SetThreshold(t float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg.Threshold = t
}

// Config returns a copy of the current configuration.
func (l *LOF) Config() detectors.Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// ScoreBounds returns the raw score bounds of the fitted batch.
func (l *LOF) ScoreBounds() (minScore, maxScore float64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tracker.Min, l.tracker.Max
}
