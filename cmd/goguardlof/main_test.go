package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	chdir(t, t.TempDir())

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)

	err = cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

// writeGrid writes a 4x4 unit grid plus one far point at (50,50).
func writeGrid(t *testing.T) string {
	t.Helper()

	var b strings.Builder
	b.WriteString("x,y\n")
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			fmt.Fprintf(&b, "%d,%d\n", i, j)
		}
	}
	b.WriteString("50,50\n")

	path := filepath.Join(t.TempDir(), "grid.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "goguardlof dev\n", out)
}

func TestRunMainExitCode(t *testing.T) {
	chdir(t, t.TempDir())

	assert.Equal(t, 0, runMain([]string{"version"}))
	assert.Equal(t, 1, runMain([]string{"score", "--log-level", "disabled"}))
	assert.Equal(t, 1, runMain([]string{"no-such-command"}))
}

func TestScoreCSV(t *testing.T) {
	input := writeGrid(t)
	metricsPath := filepath.Join(t.TempDir(), "goguard.prom")

	out, _, err := execute(t, "score",
		"--input", input,
		"--auto-threshold=false",
		"--threshold", "0.5",
		"--min-pts-lb", "3",
		"--min-pts-ub", "6",
		"--scores",
		"--metrics-textfile", metricsPath,
		"--log-level", "disabled",
	)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 18)
	assert.Equal(t, "x,y,score,prediction", lines[0])
	assert.Equal(t, "50,50,1,1", lines[17])
	for _, line := range lines[1:17] {
		assert.True(t, strings.HasSuffix(line, ",0"), line)
	}

	prom, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `goguard_anomalies_total{algorithm="lof"} 1`)
}

func TestScoreIsolationForest(t *testing.T) {
	input := writeGrid(t)
	output := filepath.Join(t.TempDir(), "labeled.csv")

	_, _, err := execute(t, "score",
		"--algorithm", "iforest",
		"--input", input,
		"--output", output,
		"--trees", "20",
		"--sample-size", "16",
		"--log-level", "disabled",
	)
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 18)
	assert.Equal(t, "x,y,prediction", lines[0])
}

func TestScoreErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing input", []string{"score"}},
		{"missing file", []string{"score", "--input", "does-not-exist.csv"}},
		{"unknown algorithm", []string{"score", "--input", "x.csv", "--algorithm", "kmeans"}},
		{"sql without dsn", []string{"score", "--format", "sql", "--query", "SELECT 1"}},
		{"inverted range", []string{"score", "--input", "x.csv", "--min-pts-lb", "8", "--min-pts-ub", "2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, append(tt.args, "--log-level", "disabled")...)
			assert.Error(t, err)
		})
	}
}

func TestDemo(t *testing.T) {
	out, stderr, err := execute(t, "demo",
		"--clustered", "40",
		"--noise", "4",
		"--log-format", "json",
	)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 45)
	assert.Equal(t, "c1,c2,target,score,prediction", lines[0])
	assert.Contains(t, stderr, `"message":"demo complete"`)
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir for Go < 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
