package dataset

import (
	"fmt"
	"math/rand"
)

// Generator produces the value of a column for the index-th sampled row.
type Generator func(rng *rand.Rand, index int) float64

// Gaussian draws from N(mean, std²).
func Gaussian(mean, std float64) Generator {
	return func(rng *rand.Rand, _ int) float64 {
		return rng.NormFloat64()*std + mean
	}
}

// AlternatingGaussian cycles through means by sample index, so consecutive
// rows land in different clusters.
func AlternatingGaussian(std float64, means ...float64) Generator {
	return func(rng *rand.Rand, index int) float64 {
		return rng.NormFloat64()*std + means[index%len(means)]
	}
}

// Uniform draws from [lo, hi).
func Uniform(lo, hi float64) Generator {
	return func(rng *rand.Rand, _ int) float64 {
		return lo + rng.Float64()*(hi-lo)
	}
}

// Sampler appends synthetic rows to a table. The random source is injected
// so runs are reproducible.
type Sampler struct {
	rng        *rand.Rand
	generators map[string]Generator
}

// NewSampler creates a sampler drawing from rng.
func NewSampler(rng *rand.Rand) *Sampler {
	return &Sampler{rng: rng, generators: make(map[string]Generator)}
}

// ForColumn registers the generator for a feature column.
func (s *Sampler) ForColumn(name string, g Generator) *Sampler {
	s.generators[name] = g
	return s
}

// Sample appends n rows labeled with target.
func (s *Sampler) Sample(t *Table, n int, target float64) error {
	for _, name := range t.FeatureNames() {
		if _, ok := s.generators[name]; !ok {
			return fmt.Errorf("no generator for column %q", name)
		}
	}

	for i := 0; i < n; i++ {
		features := make([]float64, len(t.FeatureNames()))
		for j, name := range t.FeatureNames() {
			features[j] = s.generators[name](s.rng, i)
		}
		if err := t.AppendLabeled(features, target); err != nil {
			return err
		}
	}
	return nil
}

// TwoClustersWithNoise builds the reference benchmark batch: n/2 points split
// across Gaussian clusters at (-2,-2) and (2,2) with std 0.3, labeled 0, and
// noise points drawn uniformly from [-4,4]², labeled 1.
func TwoClustersWithNoise(rng *rand.Rand, clustered, noise int) (*Table, error) {
	t := NewTable("c1", "c2")

	inliers := NewSampler(rng).
		ForColumn("c1", AlternatingGaussian(0.3, -2, 2)).
		ForColumn("c2", AlternatingGaussian(0.3, -2, 2))
	if err := inliers.Sample(t, clustered, 0); err != nil {
		return nil, err
	}

	outliers := NewSampler(rng).
		ForColumn("c1", Uniform(-4, 4)).
		ForColumn("c2", Uniform(-4, 4))
	if err := outliers.Sample(t, noise, 1); err != nil {
		return nil, err
	}

	return t, nil
}
