package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hed1ad/goguardlof/internal/config"
	"github.com/hed1ad/goguardlof/pkg/dataset"
	goguardio "github.com/hed1ad/goguardlof/pkg/io"
	"github.com/hed1ad/goguardlof/pkg/io/csv"
	"github.com/hed1ad/goguardlof/pkg/io/pcap"
	"github.com/hed1ad/goguardlof/pkg/io/sql"
)

func newScoreCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Label every row of a batch as anomalous (1) or normal (0)",
		Long: `Reads a batch from a CSV file, a packet capture or a SQL query, fits the
detector on it and writes the batch back as CSV with a prediction column.`,
		Example: `  goguardlof score --input flows.csv --target label --scores
  goguardlof score --format pcap --input capture.pcap --output labeled.csv
  goguardlof score --format sql --dsn postgres://localhost/metrics --query 'SELECT a, b FROM points'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			batch, err := readBatch(cmd.Context(), a.cfg.Input)
			if err != nil {
				return err
			}
			a.logger.Debug().
				Str("format", a.cfg.Input.Format).
				Int("rows", batch.Len()).
				Strs("features", batch.FeatureNames()).
				Msg("batch loaded")

			_, err = run(cmd.Context(), a.cfg, a.logger, batch, cmd.OutOrStdout())
			return err
		},
	}

	f := cmd.Flags()
	f.String("format", "csv", "input format: csv, pcap or sql")
	f.String("input", "", "input file for csv and pcap")
	f.Bool("header", true, "csv input has a header row")
	f.String("target", "", "ground-truth column excluded from features")
	f.StringSlice("columns", nil, "feature columns to use (default: all but the target)")
	f.Int("limit", 0, "maximum packets to read from a capture")
	f.String("driver", "postgres", "database/sql driver for sql input")
	f.String("dsn", "", "data source name for sql input")
	f.String("query", "", "query for sql input")
	f.String("output", "", "output csv file (default: stdout)")
	f.String("prediction-column", "prediction", "name of the prediction column")
	f.Bool("scores", false, "include normalized scores in the output")
	f.String("metrics-textfile", "", "write Prometheus metrics to this file after the run")
	addDetectorFlags(cmd)

	return cmd
}

func addDetectorFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("algorithm", "lof", "detector: lof or iforest")
	f.String("measure", "euclidean", "distance measure: euclidean, manhattan or chebyshev")
	f.Int("workers", 0, "worker pool size (default: GOMAXPROCS)")
	f.Float64("threshold", 0.5, "fixed threshold when auto-threshold is off")
	f.Int("min-pts-lb", 3, "smallest neighborhood size")
	f.Int("min-pts-ub", 10, "largest neighborhood size")
	f.Bool("parallel", true, "score rows concurrently")
	f.Bool("auto-threshold", true, "calibrate the threshold from the batch")
	f.Float64("ratio", 0.05, "target fraction of anomalous rows for calibration")
	f.Int64("seed", 42, "random seed")
	f.Int("trees", 100, "isolation forest trees")
	f.Int("sample-size", 256, "isolation forest subsample size")
}

// readBatch loads the configured input source into a table.
func readBatch(ctx context.Context, in config.InputConfig) (*dataset.Table, error) {
	var (
		r   goguardio.Reader
		err error
	)

	switch in.Format {
	case "csv":
		if in.Path == "" {
			return nil, errors.New("csv input requires --input")
		}
		opts := []csv.Option{csv.WithHeader(in.Header)}
		if in.TargetColumn != "" {
			opts = append(opts, csv.WithTargetColumn(in.TargetColumn))
		}
		if len(in.Columns) > 0 {
			opts = append(opts, csv.WithColumns(in.Columns...))
		}
		r, err = csv.NewReader(in.Path, opts...)

	case "pcap":
		if in.Path == "" {
			return nil, errors.New("pcap input requires --input")
		}
		r, err = pcap.NewFileReader(in.Path, pcap.WithLimit(in.Limit))

	case "sql":
		opts := []sql.Option{}
		if in.TargetColumn != "" {
			opts = append(opts, sql.WithTargetColumn(in.TargetColumn))
		}
		if len(in.Columns) > 0 {
			opts = append(opts, sql.WithColumns(in.Columns...))
		}
		r, err = sql.Open(ctx, in.Driver, in.DSN, in.Query, opts...)

	default:
		return nil, fmt.Errorf("%w: unknown input format %q", config.ErrInvalid, in.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s input: %w", in.Format, err)
	}
	defer r.Close()

	tbl, err := r.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read %s input: %w", in.Format, err)
	}
	return tbl, nil
}
