// Package distance provides pairwise distance measures and nearest-neighbor
// queries over a dataset frame.
package distance

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/hed1ad/goguardlof/pkg/dataset"
)

// Measure maps two points to a non-negative distance. Implementations must be
// pure: they are invoked concurrently from many scoring tasks.
type Measure func(a, b *dataset.Row) float64

// Euclidean is the L2 distance over the shared numeric features.
func Euclidean(a, b *dataset.Row) float64 {
	return floats.Distance(a.Features, b.Features, 2)
}

// Manhattan is the L1 distance.
func Manhattan(a, b *dataset.Row) float64 {
	return floats.Distance(a.Features, b.Features, 1)
}

// Chebyshev is the L∞ distance.
func Chebyshev(a, b *dataset.Row) float64 {
	return floats.Distance(a.Features, b.Features, math.Inf(1))
}

// ByName resolves a measure from its configuration name.
func ByName(name string) (Measure, bool) {
	switch name {
	case "", "euclidean":
		return Euclidean, true
	case "manhattan":
		return Manhattan, true
	case "chebyshev":
		return Chebyshev, true
	}
	return nil, false
}
