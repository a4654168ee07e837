package lof

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/goguardlof/pkg/dataset"
	"github.com/hed1ad/goguardlof/pkg/distance"
)

func lineTable(t testing.TB, values ...float64) *dataset.Table {
	t.Helper()
	tbl := dataset.NewTable("x")
	for _, v := range values {
		require.NoError(t, tbl.Append([]float64{v}))
	}
	return tbl
}

func TestKDistance(t *testing.T) {
	tbl := lineTable(t, 0, 1, 2, 10, 11)
	s := NewScorer(distance.New(tbl, nil))

	assert.Equal(t, 2.0, s.KDistance(tbl.Row(0), 2))
	assert.Equal(t, 1.0, s.KDistance(tbl.Row(1), 2))
	assert.Equal(t, 9.0, s.KDistance(tbl.Row(4), 2))
}

func TestReachabilityDistanceIsAsymmetric(t *testing.T) {
	tbl := lineTable(t, 0, 1, 2, 10, 11)
	s := NewScorer(distance.New(tbl, nil))
	p, o := tbl.Row(1), tbl.Row(3)

	// k-distance(10) at k=2 is 8 (to point 2), d(1,10) is 9.
	assert.Equal(t, 9.0, s.ReachabilityDistance(p, o, 2))
	// k-distance(1) at k=2 is 1, d(10,1) is 9.
	assert.Equal(t, 9.0, s.ReachabilityDistance(o, p, 2))

	// Close neighbors are pushed out to the k-distance of o.
	assert.Equal(t, 2.0, s.ReachabilityDistance(tbl.Row(1), tbl.Row(0), 2))
	assert.Equal(t, 1.0, s.ReachabilityDistance(tbl.Row(0), tbl.Row(1), 2))
}

func TestLocalReachabilityDensity(t *testing.T) {
	tbl := lineTable(t, 0, 1, 2, 10, 11)
	s := NewScorer(distance.New(tbl, nil))

	// Neighbors of 0 at k=2 are 1 and 2; reach distances are
	// max(1, 1) = 1 and max(2, 2) = 2, mean 1.5.
	assert.InDelta(t, 1/1.5, s.LocalReachabilityDensity(tbl.Row(0), 2), 1e-12)
}

func TestLocalOutlierFactor(t *testing.T) {
	tbl := dataset.NewTable("x", "y")
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			require.NoError(t, tbl.Append([]float64{float64(x), float64(y)}))
		}
	}
	require.NoError(t, tbl.Append([]float64{20, 20}))
	s := NewScorer(distance.New(tbl, nil))

	interior := tbl.Row(5) // (1, 1)
	far := tbl.Row(16)

	assert.InDelta(t, 1.0, s.LocalOutlierFactor(interior, 4), 0.3)
	assert.Greater(t, s.LocalOutlierFactor(far, 4), 5.0)
	assert.Greater(t, s.ScoreForPoint(far, 3, 6), s.ScoreForPoint(interior, 3, 6))
}

func TestDuplicateClusterIsFinite(t *testing.T) {
	tbl := lineTable(t, 0, 0, 0, 0, 5, 9)
	s := NewScorer(distance.New(tbl, nil))

	for i := 0; i < 4; i++ {
		assert.True(t, math.IsInf(s.LocalReachabilityDensity(tbl.Row(i), 3), 1))
		assert.Equal(t, 1.0/3, s.LocalOutlierFactor(tbl.Row(i), 3))
	}
	assert.Equal(t, 1.0/3, s.ScoreForPoint(tbl.Row(0), 3, 3))
}

func TestScoreForPointTakesMaximum(t *testing.T) {
	tbl := lineTable(t, 0, 1, 2, 3, 7, 8, 20)
	s := NewScorer(distance.New(tbl, nil))
	p := tbl.Row(6)

	want := math.Inf(-1)
	for k := 2; k <= 4; k++ {
		want = math.Max(want, s.LocalOutlierFactor(p, k))
	}
	assert.Equal(t, want, s.ScoreForPoint(p, 2, 4))
}

func TestScoreForPointAllNaN(t *testing.T) {
	tbl := lineTable(t, 0, 1, 2)
	nan := func(a, b *dataset.Row) float64 { return math.NaN() }
	s := NewScorer(distance.New(tbl, nan))

	assert.True(t, math.IsInf(s.ScoreForPoint(tbl.Row(0), 1, 2), -1))
}
