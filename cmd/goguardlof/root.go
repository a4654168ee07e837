package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hed1ad/goguardlof/internal/config"
	"github.com/hed1ad/goguardlof/internal/logging"
)

// app carries state shared by subcommands after the root pre-run.
type app struct {
	configPath string
	cfg        *config.Config
	logger     zerolog.Logger
}

// flagKeys maps command-line flags to configuration keys. A flag overrides
// the file and environment only when it is set explicitly.
var flagKeys = map[string]string{
	"log-level":         "logging.level",
	"log-format":        "logging.format",
	"algorithm":         "algorithm",
	"measure":           "measure",
	"workers":           "workers",
	"threshold":         "detector.threshold",
	"min-pts-lb":        "detector.min_pts_lb",
	"min-pts-ub":        "detector.min_pts_ub",
	"parallel":          "detector.parallel",
	"auto-threshold":    "detector.auto_threshold",
	"ratio":             "detector.threshold_ratio",
	"seed":              "detector.random_seed",
	"trees":             "forest.trees",
	"sample-size":       "forest.sample_size",
	"format":            "input.format",
	"input":             "input.path",
	"header":            "input.header",
	"target":            "input.target_column",
	"columns":           "input.columns",
	"limit":             "input.limit",
	"driver":            "input.driver",
	"dsn":               "input.dsn",
	"query":             "input.query",
	"output":            "output.path",
	"prediction-column": "output.prediction_column",
	"scores":            "output.scores",
	"metrics-textfile":  "metrics.textfile",
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "goguardlof",
		Short:        "Density-based anomaly detection for tabular batches",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().String("log-level", "info", "log level: trace, debug, info, warn, error, disabled")
	root.PersistentFlags().String("log-format", "console", "log format: console or json")

	root.AddCommand(
		newScoreCmd(a),
		newDemoCmd(a),
		newVersionCmd(),
	)
	return root
}

// init loads the layered configuration with explicitly set flags on top
// and installs the logger.
func (a *app) init(cmd *cobra.Command) error {
	overrides := make(map[string]any)
	cmd.Flags().Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}
		overrides[key] = flagValue(cmd.Flags(), f)
	})

	cfg, err := config.Load(a.configPath, overrides)
	if err != nil {
		return err
	}
	cfg.Logging.Output = cmd.ErrOrStderr()

	a.cfg = cfg
	a.logger = logging.Init(cfg.Logging)
	return nil
}

// flagValue returns the typed value of f so koanf receives numbers and
// booleans rather than their string forms.
func flagValue(fs *pflag.FlagSet, f *pflag.Flag) any {
	switch f.Value.Type() {
	case "int":
		v, _ := fs.GetInt(f.Name)
		return v
	case "int64":
		v, _ := fs.GetInt64(f.Name)
		return v
	case "float64":
		v, _ := fs.GetFloat64(f.Name)
		return v
	case "bool":
		v, _ := fs.GetBool(f.Name)
		return v
	case "stringSlice":
		v, _ := fs.GetStringSlice(f.Name)
		return v
	default:
		return f.Value.String()
	}
}
