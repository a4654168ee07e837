package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/goguardlof/pkg/dataset"
	"github.com/hed1ad/goguardlof/pkg/detectors"
)

func labeledResult(t *testing.T, labels ...string) *detectors.Result {
	t.Helper()
	tbl := dataset.NewTable("x")
	for i, l := range labels {
		require.NoError(t, tbl.Append([]float64{float64(i)}))
		tbl.SetPrediction(i, l)
	}
	return &detectors.Result{RunID: "run", Frame: tbl, Threshold: 0.7}
}

func TestObserveFit(t *testing.T) {
	r := New()

	complete := labeledResult(t, "0", "1", "0", "1")
	r.ObserveFit("lof", complete, 20*time.Millisecond)

	partial := labeledResult(t, "0", "0", "1")
	partial.Partial = errors.New("row scoring: partial")
	partial.Failed = 2
	partial.Threshold = 0.4
	r.ObserveFit("lof", partial, 5*time.Millisecond)

	r.ObserveFit("iforest", labeledResult(t, "1", "0"), time.Millisecond)

	assert.Equal(t, 7.0, testutil.ToFloat64(r.rowsScored.WithLabelValues("lof")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.rowsFailed.WithLabelValues("lof")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.anomalies.WithLabelValues("lof")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.partialFits.WithLabelValues("lof")))
	assert.Equal(t, 0.4, testutil.ToFloat64(r.lastThreshold.WithLabelValues("lof")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.anomalies.WithLabelValues("iforest")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.fitDuration))
}

func TestRegistryLint(t *testing.T) {
	r := New()
	r.ObserveFit("lof", labeledResult(t, "0", "1"), time.Millisecond)

	problems, err := testutil.GatherAndLint(r.Registry())
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.ObserveFit("lof", labeledResult(t, "0", "1", "1"), time.Millisecond)

	path := filepath.Join(t.TempDir(), "goguard.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `goguard_anomalies_total{algorithm="lof"} 2`)
	assert.Contains(t, string(data), "goguard_fit_duration_seconds_bucket")
}
