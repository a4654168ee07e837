// Package iforest implements the Isolation Forest algorithm for anomaly detection.
package iforest

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/hed1ad/goguardlof/pkg/dataset"
	"github.com/hed1ad/goguardlof/pkg/detectors"
	"github.com/hed1ad/goguardlof/pkg/scheduler"
)

// Algorithm is the name reported to observers.
const Algorithm = "iforest"

// width bounds the tree-building and row-scoring fan-out.
const width = 10

// IsolationForest implements unsupervised anomaly detection using isolation trees.
type IsolationForest struct {
	mu sync.RWMutex

	// Configuration
	cfg        detectors.Config
	nTrees     int
	sampleSize int
	logger     zerolog.Logger
	observer   detectors.Observer
	runner     scheduler.Runner

	// Trained model
	model     dataset.Frame
	trees     []*iTree
	nFeatures int
	tracker   detectors.Tracker
	trained   bool

	// Statistics from training
	avgPathLength float64
}

var _ detectors.Detector = (*IsolationForest)(nil)

// iTree represents a single isolation tree.
type iTree struct {
	root *node
}

// node is a node in the isolation tree.
type node struct {
	// Split parameters (for internal nodes)
	splitFeature int
	splitValue   float64

	// Children
	left  *node
	right *node

	// Leaf information
	size int // number of samples that reached this leaf
}

// Option configures an IsolationForest.
type Option func(*IsolationForest)

// WithConfig replaces the shared detector configuration.
func WithConfig(cfg detectors.Config) Option {
	return func(f *IsolationForest) {
		f.cfg = cfg
	}
}

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(f *IsolationForest) {
		f.nTrees = n
	}
}

// WithSampleSize sets the subsample size for each tree.
func WithSampleSize(n int) Option {
	return func(f *IsolationForest) {
		f.sampleSize = n
	}
}

// WithContamination enables threshold calibration for the expected
// proportion of anomalies.
func WithContamination(c float64) Option {
	return func(f *IsolationForest) {
		f.cfg.AutoThreshold = true
		f.cfg.ThresholdRatio = c
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(f *IsolationForest) {
		f.cfg.RandomSeed = seed
	}
}

// WithRunner sets the scheduler used for tree building and scoring.
func WithRunner(r scheduler.Runner) Option {
	return func(f *IsolationForest) {
		f.runner = r
	}
}

// WithLogger sets the logger used for dropped tasks and fit summaries.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *IsolationForest) {
		f.logger = logger
	}
}

// WithObserver registers a fit observer.
func WithObserver(o detectors.Observer) Option {
	return func(f *IsolationForest) {
		f.observer = o
	}
}

// New creates a new IsolationForest with the given options.
func New(opts ...Option) *IsolationForest {
	f := &IsolationForest{
		cfg:        detectors.DefaultConfig(),
		nTrees:     100,
		sampleSize: 256,
		logger:     log.Logger,
		runner:     scheduler.Sequential{},
		tracker:    detectors.NewTracker(),
	}

	for _, opt := range opts {
		opt(f)
	}

	f.logger = f.logger.With().Str("detector", Algorithm).Logger()
	return f
}

// FitTransform trains the forest on a snapshot of batch and returns the
// snapshot labeled by normalized anomaly score.
func (f *IsolationForest) FitTransform(ctx context.Context, batch dataset.Frame) (*detectors.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	start := time.Now()
	cfg := f.cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if f.nTrees < 1 || f.sampleSize < 2 {
		return nil, fmt.Errorf("%w: trees=%d, sample size=%d", detectors.ErrInvalidConfig, f.nTrees, f.sampleSize)
	}

	m := batch.Len()
	if m < 2 {
		return nil, fmt.Errorf("%w: got %d", detectors.ErrTooFewPoints, m)
	}
	if err := dataset.CheckFrame(batch); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := f.logger.With().Str("run_id", runID).Logger()

	f.model = batch.Clone()
	f.tracker = detectors.NewTracker()
	f.trained = false

	sampleSize := min(f.sampleSize, m)
	nFeatures := len(f.model.Row(0).Features)
	f.nFeatures = nFeatures

	// Seeds are drawn up front so trees are reproducible under any runner.
	rng := rand.New(rand.NewSource(cfg.RandomSeed))
	seeds := make([]int64, f.nTrees)
	for i := range seeds {
		seeds[i] = rng.Int63()
	}

	trees, rep := scheduler.Map(ctx, f.runner, f.nTrees, width,
		func(_ context.Context, i int) (*iTree, error) {
			treeRNG := rand.New(rand.NewSource(seeds[i]))
			indices := treeRNG.Perm(m)[:sampleSize]
			sample := make([][]float64, sampleSize)
			for j, idx := range indices {
				sample[j] = f.model.Row(idx).Features
			}
			return buildTree(treeRNG, sample, nFeatures, maxDepth(sampleSize)), nil
		})

	f.trees = make([]*iTree, 0, len(trees))
	for _, t := range trees {
		if t.Err == nil {
			f.trees = append(f.trees, t.Value)
		}
	}
	var partial error
	if err := rep.Err(); err != nil {
		partial = multierr.Append(partial, fmt.Errorf("tree building: %w", err))
	}
	if len(f.trees) == 0 {
		// Nothing to score with; every row falls back to the normal label.
		logger.Warn().Err(partial).Msg("no isolation trees built")
	}

	f.avgPathLength = averagePathLength(float64(sampleSize))

	raw, scoreRep := scheduler.Map(ctx, f.runner, m, width,
		func(_ context.Context, i int) (float64, error) {
			return f.rawScore(f.model.Row(i).Features), nil
		})
	for i, o := range raw {
		if o.Err != nil {
			logger.Warn().Err(o.Err).Int("row", i).Msg("dropping row score")
			continue
		}
		f.tracker.Observe(o.Value)
	}
	if err := scoreRep.Err(); err != nil {
		partial = multierr.Append(partial, fmt.Errorf("row scoring: %w", err))
	}
	f.trained = true

	scores := make([]float64, m)
	for i, o := range raw {
		if o.Err != nil {
			scores[i] = f.tracker.Normalize(math.Inf(-1))
			continue
		}
		scores[i] = f.tracker.Normalize(o.Value)
	}

	if cfg.AutoThreshold {
		f.cfg.Threshold = detectors.SelectThreshold(scores, cfg.ThresholdRatio)
	}
	threshold := f.cfg.Threshold

	for i, s := range scores {
		label := dataset.LabelNormal
		if s > threshold {
			label = dataset.LabelAnomaly
		}
		f.model.SetPrediction(i, label)
	}

	res := &detectors.Result{
		RunID:     runID,
		Frame:     f.model,
		Scores:    scores,
		Threshold: threshold,
		MinScore:  f.tracker.Min,
		MaxScore:  f.tracker.Max,
		Partial:   partial,
		Failed:    scoreRep.Failed,
	}

	elapsed := time.Since(start)
	logger.Debug().
		Int("rows", m).
		Int("trees", len(f.trees)).
		Int("anomalies", res.Anomalies()).
		Float64("threshold", threshold).
		Dur("elapsed", elapsed).
		Msg("fit complete")
	if f.observer != nil {
		f.observer.ObserveFit(Algorithm, res, elapsed)
	}

	return res, nil
}

// Evaluate returns the normalized anomaly score of row against the trained forest.
func (f *IsolationForest) Evaluate(_ context.Context, row *dataset.Row) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return 0, detectors.ErrNotFitted
	}
	if err := dataset.CheckRow(row, f.nFeatures); err != nil {
		return 0, err
	}
	return f.tracker.Normalize(f.rawScore(row.Features)), nil
}

// rawScore is 2^(-E[h(x)] / c(n)); higher means more anomalous.
func (f *IsolationForest) rawScore(features []float64) float64 {
	if len(f.trees) == 0 {
		return math.NaN()
	}

	var totalPath float64
	for _, tree := range f.trees {
		totalPath += pathLength(features, tree.root, 0)
	}
	avgPath := totalPath / float64(len(f.trees))

	if f.avgPathLength == 0 {
		return 0.5
	}
	return math.Pow(2, -avgPath/f.avgPathLength)
}

func maxDepth(sampleSize int) int {
	return int(math.Ceil(math.Log2(float64(sampleSize))))
}

// buildTree recursively builds an isolation tree.
func buildTree(rng *rand.Rand, data [][]float64, nFeatures, limit int) *iTree {
	return &iTree{
		root: buildNode(rng, data, nFeatures, 0, limit),
	}
}

func buildNode(rng *rand.Rand, data [][]float64, nFeatures, depth, limit int) *node {
	n := len(data)

	// Terminal conditions
	if depth >= limit || n <= 1 || nFeatures == 0 {
		return &node{size: n}
	}

	// Random feature and split value
	feature := rng.Intn(nFeatures)

	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		minVal = math.Min(minVal, row[feature])
		maxVal = math.Max(maxVal, row[feature])
	}

	// If all values are the same, return leaf
	if minVal == maxVal {
		return &node{size: n}
	}

	splitValue := minVal + rng.Float64()*(maxVal-minVal)

	var leftData, rightData [][]float64
	for _, row := range data {
		if row[feature] < splitValue {
			leftData = append(leftData, row)
		} else {
			rightData = append(rightData, row)
		}
	}

	return &node{
		splitFeature: feature,
		splitValue:   splitValue,
		left:         buildNode(rng, leftData, nFeatures, depth+1, limit),
		right:        buildNode(rng, rightData, nFeatures, depth+1, limit),
	}
}

// pathLength calculates the path length for a sample in a tree.
func pathLength(sample []float64, n *node, currentDepth int) float64 {
	if n.left == nil && n.right == nil {
		// Leaf node: add expected path length for remaining isolation
		return float64(currentDepth) + averagePathLength(float64(n.size))
	}

	if sample[n.splitFeature] < n.splitValue {
		return pathLength(sample, n.left, currentDepth+1)
	}
	return pathLength(sample, n.right, currentDepth+1)
}

// averagePathLength returns the average path length of unsuccessful search in BST.
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	// c(n) = 2*H(n-1) - 2*(n-1)/n, with H(i) ~ ln(i) + Euler-Mascheroni
	return 2*(math.Log(n-1)+0.5772156649) - 2*(n-1)/n
}

// Threshold returns the current anomaly threshold.
func (f *IsolationForest) Threshold() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg.Threshold
}

// SetThreshold updates the anomaly threshold.
func (f *IsolationForest) SetThreshold(t float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg.Threshold = t
}
