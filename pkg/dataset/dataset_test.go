package dataset

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableAppend(t *testing.T) {
	tests := []struct {
		name    string
		values  []float64
		wantErr error
	}{
		{name: "matching width", values: []float64{1, 2}},
		{name: "too few values", values: []float64{1}, wantErr: ErrSchemaMismatch},
		{name: "too many values", values: []float64{1, 2, 3}, wantErr: ErrSchemaMismatch},
		{name: "not a number", values: []float64{math.NaN(), 2}, wantErr: ErrNonFinite},
		{name: "positive infinity", values: []float64{1, math.Inf(1)}, wantErr: ErrNonFinite},
		{name: "negative infinity", values: []float64{math.Inf(-1), 2}, wantErr: ErrNonFinite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := NewTable("x", "y")
			err := tbl.Append(tt.values)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 0, tbl.Len())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1, tbl.Len())
			assert.Equal(t, 0, tbl.Row(0).Index)
		})
	}
}

func TestCheckFrame(t *testing.T) {
	tbl := NewTable("x", "y")
	require.NoError(t, tbl.Append([]float64{1, 2}))
	require.NoError(t, tbl.Append([]float64{3, 4}))
	require.NoError(t, CheckFrame(tbl))

	tbl.Row(1).Features[0] = math.NaN()
	err := CheckFrame(tbl)
	assert.ErrorIs(t, err, ErrNonFinite)
	assert.Contains(t, err.Error(), "row 1")

	tbl.Row(1).Features = []float64{3}
	assert.ErrorIs(t, CheckFrame(tbl), ErrSchemaMismatch)
}

func TestTableCell(t *testing.T) {
	tbl := NewTable("x", "y")
	require.NoError(t, tbl.Append([]float64{1, 2}))
	require.NoError(t, tbl.AppendLabeled([]float64{3, 4}, 1))

	v, err := tbl.Cell(1, "y")
	require.NoError(t, err)
	assert.Equal(t, 4.0, v)
	assert.True(t, tbl.Row(1).HasTarget)

	_, err = tbl.Cell(0, "z")
	assert.ErrorIs(t, err, ErrUnknownColumn)
}

func TestTableCloneIsIndependent(t *testing.T) {
	tbl := NewTable("x")
	require.NoError(t, tbl.Append([]float64{1}))
	require.NoError(t, tbl.Append([]float64{2}))

	snapshot := tbl.Clone()
	snapshot.SetPrediction(0, LabelAnomaly)
	snapshot.Row(1).Features[0] = 99

	assert.Empty(t, tbl.Row(0).Prediction)
	assert.Equal(t, 2.0, tbl.Row(1).Features[0])
	assert.Equal(t, []string{LabelAnomaly, ""}, Predictions(snapshot))
	assert.Equal(t, 1, CountAnomalies(snapshot))
}

func TestAppendCopiesInput(t *testing.T) {
	tbl := NewTable("x")
	values := []float64{5}
	require.NoError(t, tbl.Append(values))
	values[0] = 6
	assert.Equal(t, 5.0, tbl.Row(0).Features[0])
}

func TestSamplerMissingGenerator(t *testing.T) {
	tbl := NewTable("a", "b")
	s := NewSampler(rand.New(rand.NewSource(1))).ForColumn("a", Uniform(0, 1))
	assert.Error(t, s.Sample(tbl, 3, 0))
}

func TestTwoClustersWithNoise(t *testing.T) {
	tbl, err := TwoClustersWithNoise(rand.New(rand.NewSource(7)), 10, 10)
	require.NoError(t, err)
	require.Equal(t, 20, tbl.Len())

	for i := 0; i < 10; i++ {
		r := tbl.Row(i)
		assert.Equal(t, 0.0, r.Target)
		want := -2.0
		if i%2 == 1 {
			want = 2.0
		}
		assert.InDelta(t, want, r.Features[0], 1.5)
	}
	for i := 10; i < 20; i++ {
		r := tbl.Row(i)
		assert.Equal(t, 1.0, r.Target)
		for _, v := range r.Features {
			assert.GreaterOrEqual(t, v, -4.0)
			assert.Less(t, v, 4.0)
		}
	}
}

func TestSamplerReproducible(t *testing.T) {
	a, err := TwoClustersWithNoise(rand.New(rand.NewSource(3)), 6, 4)
	require.NoError(t, err)
	b, err := TwoClustersWithNoise(rand.New(rand.NewSource(3)), 6, 4)
	require.NoError(t, err)

	for i := 0; i < a.Len(); i++ {
		assert.Equal(t, a.Row(i).Features, b.Row(i).Features)
	}
}
