package detectors

import (
	"cmp"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// Tracker keeps the batch-wide bounds of finite raw scores.
type Tracker struct {
	Min float64
	Max float64
}

// NewTracker returns a tracker with inverted sentinels so the first
// observation overwrites both bounds.
func NewTracker() Tracker {
	return Tracker{Min: math.Inf(1), Max: math.Inf(-1)}
}

// Observe folds v into the bounds. NaN and infinite values are ignored.
func (t *Tracker) Observe(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	t.Min = math.Min(t.Min, v)
	t.Max = math.Max(t.Max, v)
	return true
}

// Normalize rescales raw to [0, 1] using the tracked bounds.
func (t Tracker) Normalize(raw float64) float64 {
	if math.IsNaN(raw) {
		return 0
	}

	score := raw - t.Min
	if score < 0 || math.IsNaN(score) {
		score = 0
	}

	span := t.Max - t.Min
	if !(span > 0) || math.IsInf(span, 0) {
		// No spread to scale by: anything above the floor saturates.
		if score > 0 {
			return 1
		}
		return 0
	}

	score /= span
	if score > 1 {
		score = 1
	}
	return score
}

// ThresholdRank returns the 0-based descending rank whose score becomes the
// threshold for a target top fraction ratio of m rows.
func ThresholdRank(m int, ratio float64) int {
	// Absorb float noise such as 0.07*100 = 7.000000000000001.
	rank := max(1, int(math.Ceil(ratio*float64(m)-1e-9)))
	if rank >= m {
		rank = m - 1
	}
	return max(rank, 0)
}

// SelectThreshold ranks scores descending (ties keep input order) and
// returns the score at ThresholdRank. Rows scoring strictly above it are
// the top ratio fraction of the batch.
func SelectThreshold(scores []float64, ratio float64) float64 {
	if len(scores) == 0 {
		return 0
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(scores[b], scores[a])
	})

	return scores[order[ThresholdRank(len(scores), ratio)]]
}

// Summary describes the distribution of a set of scores.
type Summary struct {
	Count  int
	Mean   float64
	StdDev float64
	Median float64
	Max    float64
}

// Summarize computes descriptive statistics over the finite scores.
func Summarize(scores []float64) Summary {
	finite := make([]float64, 0, len(scores))
	for _, s := range scores {
		if !math.IsNaN(s) && !math.IsInf(s, 0) {
			finite = append(finite, s)
		}
	}

	sum := Summary{Count: len(finite)}
	if len(finite) == 0 {
		return sum
	}

	slices.Sort(finite)
	sum.Mean = stat.Mean(finite, nil)
	if len(finite) > 1 {
		sum.StdDev = stat.StdDev(finite, nil)
	}
	sum.Median = stat.Quantile(0.5, stat.Empirical, finite, nil)
	sum.Max = finite[len(finite)-1]
	return sum
}
