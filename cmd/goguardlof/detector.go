package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/hed1ad/goguardlof/internal/config"
	"github.com/hed1ad/goguardlof/internal/metrics"
	"github.com/hed1ad/goguardlof/pkg/dataset"
	"github.com/hed1ad/goguardlof/pkg/detectors"
	"github.com/hed1ad/goguardlof/pkg/detectors/iforest"
	"github.com/hed1ad/goguardlof/pkg/detectors/lof"
	"github.com/hed1ad/goguardlof/pkg/distance"
	"github.com/hed1ad/goguardlof/pkg/io/csv"
	"github.com/hed1ad/goguardlof/pkg/scheduler"
)

// run fits the configured detector on batch, writes the labeled rows to
// out and exports metrics when configured.
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger, batch dataset.Frame, out io.Writer) (*detectors.Result, error) {
	pool := scheduler.New(cfg.Workers)
	defer pool.Close()

	recorder := metrics.New()

	det, err := newDetector(cfg, logger, pool, recorder)
	if err != nil {
		return nil, err
	}

	res, err := det.FitTransform(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("fit: %w", err)
	}
	if !res.Complete() {
		logger.Warn().
			Err(res.Partial).
			Str("run_id", res.RunID).
			Int("failed", res.Failed).
			Msg("fit completed with dropped tasks")
	}

	sum := detectors.Summarize(res.Scores)
	logger.Info().
		Str("algorithm", cfg.Algorithm).
		Str("run_id", res.RunID).
		Int("rows", res.Frame.Len()).
		Int("anomalies", res.Anomalies()).
		Float64("threshold", res.Threshold).
		Float64("score_mean", sum.Mean).
		Float64("score_stddev", sum.StdDev).
		Float64("score_median", sum.Median).
		Msg("batch labeled")

	var scores []float64
	if cfg.Output.Scores {
		scores = res.Scores
	}
	if err := writeFrame(cfg, res.Frame, scores, out); err != nil {
		return nil, err
	}

	if cfg.Metrics.Textfile != "" {
		if err := recorder.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			return nil, fmt.Errorf("write metrics: %w", err)
		}
	}
	return res, nil
}

func newDetector(cfg *config.Config, logger zerolog.Logger, pool *scheduler.Pool, obs detectors.Observer) (detectors.Detector, error) {
	switch cfg.Algorithm {
	case iforest.Algorithm:
		var runner scheduler.Runner = scheduler.Sequential{}
		if cfg.Detector.Parallel {
			runner = pool
		}
		return iforest.New(
			iforest.WithConfig(cfg.Detector),
			iforest.WithTrees(cfg.Forest.Trees),
			iforest.WithSampleSize(cfg.Forest.SampleSize),
			iforest.WithRunner(runner),
			iforest.WithLogger(logger),
			iforest.WithObserver(obs),
		), nil

	default:
		measure, ok := distance.ByName(cfg.Measure)
		if !ok {
			return nil, fmt.Errorf("%w: unknown measure %q", config.ErrInvalid, cfg.Measure)
		}
		return lof.New(
			lof.WithConfig(cfg.Detector),
			lof.WithMeasure(measure),
			lof.WithPool(pool),
			lof.WithLogger(logger),
			lof.WithObserver(obs),
		), nil
	}
}

// writeFrame writes to the configured output file, or to out when none is set.
func writeFrame(cfg *config.Config, frame dataset.Frame, scores []float64, out io.Writer) error {
	opts := []csv.WriterOption{csv.WithPredictionColumn(cfg.Output.PredictionColumn)}

	var w *csv.Writer
	if cfg.Output.Path != "" {
		fw, err := csv.NewWriter(cfg.Output.Path, opts...)
		if err != nil {
			return fmt.Errorf("open output: %w", err)
		}
		w = fw
	} else {
		w = csv.NewWriterTo(out, opts...)
	}

	if err := w.Write(frame, scores); err != nil {
		w.Close()
		return fmt.Errorf("write output: %w", err)
	}
	return w.Close()
}
